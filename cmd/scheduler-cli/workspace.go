package main

import (
	"encoding/json"
	"fmt"
	"io"
	"reflect"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"

	"github.com/noah-isme/univ-scheduler-api/internal/scheduler"
)

const dateLayout = "2006-01-02"

// workspace is the file format read by the CLI. Dates use YYYY-MM-DD,
// weekdays use their English names and preferences their lower-case names.
type workspace struct {
	Target       scheduler.Target        `json:"target"`
	Frame        scheduler.TimeFrame     `json:"frame"`
	Calendar     scheduler.CalendarData  `json:"calendar"`
	TimeSlots    []scheduler.TimeSlot    `json:"timeSlots"`
	Classrooms   []scheduler.Classroom   `json:"classrooms"`
	Teachers     []scheduler.Teacher     `json:"teachers"`
	Groups       []scheduler.Group       `json:"groups"`
	Subgroups    []scheduler.Subgroup    `json:"subgroups"`
	Streams      []scheduler.Stream      `json:"streams"`
	Requirements []scheduler.Requirement `json:"requirements"`
	Options      scheduler.Options       `json:"options"`
}

var (
	weekdayType    = reflect.TypeOf(time.Weekday(0))
	preferenceType = reflect.TypeOf(scheduler.Preference(0))
)

var weekdays = map[string]time.Weekday{
	"sun": time.Sunday, "mon": time.Monday, "tue": time.Tuesday, "wed": time.Wednesday,
	"thu": time.Thursday, "fri": time.Friday, "sat": time.Saturday,
}

var preferences = map[string]scheduler.Preference{
	"allowed":     scheduler.PreferenceAllowed,
	"desirable":   scheduler.PreferenceDesirable,
	"undesirable": scheduler.PreferenceUndesirable,
	"forbidden":   scheduler.PreferenceForbidden,
}

func namedValueHook(f reflect.Type, t reflect.Type, data interface{}) (interface{}, error) {
	if f.Kind() != reflect.String {
		return data, nil
	}
	raw := strings.ToLower(strings.TrimSpace(data.(string)))
	switch t {
	case weekdayType:
		key := raw
		if len(key) > 3 {
			key = key[:3]
		}
		day, ok := weekdays[key]
		if !ok {
			return nil, fmt.Errorf("unknown weekday %q", data)
		}
		return day, nil
	case preferenceType:
		pref, ok := preferences[raw]
		if !ok {
			return nil, fmt.Errorf("unknown preference %q", data)
		}
		return pref, nil
	}
	return data, nil
}

func decodeWorkspace(r io.Reader) (*workspace, error) {
	dec := json.NewDecoder(r)
	dec.UseNumber()
	var raw map[string]interface{}
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("parse workspace json: %w", err)
	}

	var ws workspace
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:     "json",
		Result:      &ws,
		ErrorUnused: true,
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeHookFunc(dateLayout),
			namedValueHook,
		),
	})
	if err != nil {
		return nil, err
	}
	if err := decoder.Decode(raw); err != nil {
		return nil, fmt.Errorf("decode workspace: %w", err)
	}
	if ws.Frame.Start.IsZero() || ws.Frame.End.IsZero() {
		return nil, fmt.Errorf("workspace frame needs start and end dates")
	}
	if ws.Frame.End.Before(ws.Frame.Start) {
		return nil, fmt.Errorf("workspace frame ends before it starts")
	}
	if ws.Target.Type == "" {
		ws.Target.Type = scheduler.TargetNone
	}
	return &ws, nil
}

func (ws *workspace) request() scheduler.Request {
	return scheduler.Request{
		Requirements: ws.Requirements,
		Target:       ws.Target,
		Frame:        ws.Frame,
		Calendar:     ws.Calendar,
		TimeSlots:    ws.TimeSlots,
		Classrooms:   ws.Classrooms,
		Teachers:     ws.Teachers,
		Groups:       ws.Groups,
		Subgroups:    ws.Subgroups,
		Streams:      ws.Streams,
		Options:      ws.Options,
	}
}
