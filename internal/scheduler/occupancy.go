package scheduler

import (
	"fmt"
	"maps"
	"math/bits"
)

type cell int

func makeCell(day, position int) cell {
	return cell(day*maxSlotsPerDay + position)
}

func (c cell) day() int      { return int(c) / maxSlotsPerDay }
func (c cell) position() int { return int(c) % maxSlotsPerDay }

type resourceCell struct {
	id string
	at cell
}

type resourceDay struct {
	id  string
	day int
}

type requirementWeek struct {
	requirement string
	week        int
}

type placed struct {
	entry  Entry
	groups []string
	at     cell
}

// occupancy indexes placed entries by teacher, classroom and group per (date, slot).
// Days are day numbers so entries outside the working calendar still collide correctly.
type occupancy struct {
	entries []placed

	teachers map[resourceCell]int
	rooms    map[resourceCell]int
	groups   map[resourceCell]int

	teacherDays map[resourceDay]uint64
	roomDays    map[resourceDay]uint64
	groupDays   map[resourceDay]uint64

	weekly map[requirementWeek]int
	first  map[string]cell
}

func newOccupancy() *occupancy {
	return &occupancy{
		teachers:    make(map[resourceCell]int),
		rooms:       make(map[resourceCell]int),
		groups:      make(map[resourceCell]int),
		teacherDays: make(map[resourceDay]uint64),
		roomDays:    make(map[resourceDay]uint64),
		groupDays:   make(map[resourceDay]uint64),
		weekly:      make(map[requirementWeek]int),
		first:       make(map[string]cell),
	}
}

func (o *occupancy) clone() *occupancy {
	entries := make([]placed, len(o.entries))
	copy(entries, o.entries)
	return &occupancy{
		entries:     entries,
		teachers:    maps.Clone(o.teachers),
		rooms:       maps.Clone(o.rooms),
		groups:      maps.Clone(o.groups),
		teacherDays: maps.Clone(o.teacherDays),
		roomDays:    maps.Clone(o.roomDays),
		groupDays:   maps.Clone(o.groupDays),
		weekly:      maps.Clone(o.weekly),
		first:       maps.Clone(o.first),
	}
}

// --- Queries ---

func (o *occupancy) teacherFree(id string, at cell) bool {
	_, busy := o.teachers[resourceCell{id, at}]
	return !busy
}

func (o *occupancy) roomFree(id string, at cell) bool {
	_, busy := o.rooms[resourceCell{id, at}]
	return !busy
}

func (o *occupancy) groupsFree(ids []string, at cell) bool {
	for _, id := range ids {
		if _, busy := o.groups[resourceCell{id, at}]; busy {
			return false
		}
	}
	return true
}

func (o *occupancy) roomHolder(id string, at cell) (int, bool) {
	idx, ok := o.rooms[resourceCell{id, at}]
	return idx, ok
}

func (o *occupancy) weeklyCount(requirementID string, week int) int {
	return o.weekly[requirementWeek{requirementID, week}]
}

func (o *occupancy) firstPlacement(requirementID string) (cell, bool) {
	c, ok := o.first[requirementID]
	return c, ok
}

// --- Mutations ---

func (o *occupancy) add(entry Entry, groups []string, at cell, week int) error {
	if !o.teacherFree(entry.TeacherID, at) {
		return fmt.Errorf("teacher %s double-booked on %s slot %s", entry.TeacherID, entry.Date.Format(dateLayout), entry.SlotID)
	}
	if !o.roomFree(entry.ClassroomID, at) {
		return fmt.Errorf("classroom %s double-booked on %s slot %s", entry.ClassroomID, entry.Date.Format(dateLayout), entry.SlotID)
	}
	for _, g := range groups {
		if _, busy := o.groups[resourceCell{g, at}]; busy {
			return fmt.Errorf("group %s double-booked on %s slot %s", g, entry.Date.Format(dateLayout), entry.SlotID)
		}
	}

	idx := len(o.entries)
	o.entries = append(o.entries, placed{entry: entry, groups: groups, at: at})

	bit := uint64(1) << uint(at.position())
	o.teachers[resourceCell{entry.TeacherID, at}] = idx
	o.teacherDays[resourceDay{entry.TeacherID, at.day()}] |= bit
	o.rooms[resourceCell{entry.ClassroomID, at}] = idx
	o.roomDays[resourceDay{entry.ClassroomID, at.day()}] |= bit
	for _, g := range groups {
		o.groups[resourceCell{g, at}] = idx
		o.groupDays[resourceDay{g, at.day()}] |= bit
	}

	if entry.RequirementID != "" {
		o.weekly[requirementWeek{entry.RequirementID, week}]++
		if prev, ok := o.first[entry.RequirementID]; !ok || at < prev {
			o.first[entry.RequirementID] = at
		}
	}
	return nil
}

// moveRoom re-seats an entry into another classroom at the same cell.
func (o *occupancy) moveRoom(idx int, roomID string) {
	p := &o.entries[idx]
	if p.entry.ClassroomID == roomID {
		return
	}
	bit := uint64(1) << uint(p.at.position())
	oldKey := resourceDay{p.entry.ClassroomID, p.at.day()}
	delete(o.rooms, resourceCell{p.entry.ClassroomID, p.at})
	o.roomDays[oldKey] &^= bit
	if o.roomDays[oldKey] == 0 {
		delete(o.roomDays, oldKey)
	}
	p.entry.ClassroomID = roomID
	o.rooms[resourceCell{roomID, p.at}] = idx
	o.roomDays[resourceDay{roomID, p.at.day()}] |= bit
}

// --- Windows ---

// gaps counts idle slots between the first and last busy slot of a day mask.
func gaps(mask uint64) int {
	if mask == 0 {
		return 0
	}
	low := bits.TrailingZeros64(mask)
	high := 63 - bits.LeadingZeros64(mask)
	return high - low + 1 - bits.OnesCount64(mask)
}

// gapGrowth is how many idle slots appear if position is occupied on that day.
func gapGrowth(mask uint64, position int) int {
	return gaps(mask|uint64(1)<<uint(position)) - gaps(mask)
}
