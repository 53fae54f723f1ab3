package main

import (
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/gocarina/gocsv"

	"github.com/noah-isme/univ-scheduler-api/internal/scheduler"
)

// entryRecord is one committed session as a CSV line.
type entryRecord struct {
	ID              string `csv:"id"`
	Date            string `csv:"date"`
	SlotID          string `csv:"slot_id"`
	ClassroomID     string `csv:"classroom_id"`
	TeacherID       string `csv:"teacher_id"`
	RequirementID   string `csv:"requirement_id"`
	SubjectID       string `csv:"subject_id"`
	ParticipantKind string `csv:"participant_kind"`
	ParticipantID   string `csv:"participant_id"`
	Kind            string `csv:"kind"`
}

func toRecord(e scheduler.Entry) entryRecord {
	return entryRecord{
		ID:              e.ID,
		Date:            e.Date.Format(dateLayout),
		SlotID:          e.SlotID,
		ClassroomID:     e.ClassroomID,
		TeacherID:       e.TeacherID,
		RequirementID:   e.RequirementID,
		SubjectID:       e.SubjectID,
		ParticipantKind: string(e.Participant.Kind),
		ParticipantID:   e.Participant.ID,
		Kind:            string(e.Kind),
	}
}

func (r entryRecord) entry() (scheduler.Entry, error) {
	date, err := time.Parse(dateLayout, r.Date)
	if err != nil {
		return scheduler.Entry{}, fmt.Errorf("entry %q: invalid date %q", r.ID, r.Date)
	}
	return scheduler.Entry{
		ID:            r.ID,
		Date:          date,
		SlotID:        r.SlotID,
		ClassroomID:   r.ClassroomID,
		TeacherID:     r.TeacherID,
		RequirementID: r.RequirementID,
		SubjectID:     r.SubjectID,
		Participant:   scheduler.Participant{Kind: scheduler.ParticipantKind(r.ParticipantKind), ID: r.ParticipantID},
		Kind:          scheduler.SessionKind(r.Kind),
	}, nil
}

func readEntries(path string) ([]scheduler.Entry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var records []entryRecord
	if err := gocsv.UnmarshalFile(f, &records); err != nil {
		return nil, fmt.Errorf("read entries csv: %w", err)
	}
	entries := make([]scheduler.Entry, 0, len(records))
	for _, r := range records {
		e, err := r.entry()
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, nil
}

func writeEntries(path string, entries []scheduler.Entry) error {
	records := make([]entryRecord, 0, len(entries))
	for _, e := range entries {
		records = append(records, toRecord(e))
	}
	sort.SliceStable(records, func(i, j int) bool {
		if records[i].Date != records[j].Date {
			return records[i].Date < records[j].Date
		}
		if records[i].SlotID != records[j].SlotID {
			return records[i].SlotID < records[j].SlotID
		}
		return records[i].ClassroomID < records[j].ClassroomID
	})

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := gocsv.MarshalFile(&records, f); err != nil {
		_ = f.Close()
		return fmt.Errorf("write entries csv: %w", err)
	}
	return f.Close()
}
