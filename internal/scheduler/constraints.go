package scheduler

import (
	"math"
	"math/bits"
	"time"

	"github.com/samber/lo"
)

// Penalty weights. Slot and window weights are multiplied by the strictness scale.
const (
	endOfDayWeight     = 20.0
	undesirableWeight  = 20.0
	desirableWeight    = -10.0
	teacherDailyLimit  = 3
	teacherDailyWeight = 150.0
	groupDailyLimit    = 4
	groupDailyWeight   = 100.0
	windowWeight       = 50.0
	distributionWeight = 10.0
	orderingWeight     = 10000.0
	pinnedMatchWeight  = -100.0
	pinnedMissWeight   = 50.0
)

// PenaltyBreakdown splits a candidate's soft cost by source.
type PenaltyBreakdown struct {
	Slot         float64 `json:"slot"`
	Windows      float64 `json:"windows"`
	Distribution float64 `json:"distribution"`
	Ordering     float64 `json:"ordering"`
	Rooms        float64 `json:"rooms"`
}

// Total sums the components.
func (b PenaltyBreakdown) Total() float64 {
	return b.Slot + b.Windows + b.Distribution + b.Ordering + b.Rooms
}

// constraints evaluates hard feasibility and soft penalties against an occupancy.
type constraints struct {
	ws *workspace
}

// --- Hard feasibility ---

// slotFeasible checks everything about a pair that does not depend on teacher or room.
func (c constraints) slotFeasible(occ *occupancy, info *requirementInfo, day CalendarDay, ref SlotRef, at cell) bool {
	if _, ok := info.dayPos[ref.Day]; !ok {
		return false
	}
	if occ.weeklyCount(info.ID, day.Week) >= info.WeeklyCount {
		return false
	}
	if !occ.groupsFree(info.groups, at) {
		return false
	}
	for _, gid := range info.groups {
		group := c.ws.groups[gid]
		if blackedOut(group.Blackouts, day.Date) || group.Availability.At(day.Date.Weekday(), ref.Slot.ID) == PreferenceForbidden {
			return false
		}
	}
	return true
}

func (c constraints) teacherFeasible(occ *occupancy, teacherID string, day CalendarDay, ref SlotRef, at cell) bool {
	if !occ.teacherFree(teacherID, at) {
		return false
	}
	teacher := c.ws.teachers[teacherID]
	if blackedOut(teacher.Blackouts, day.Date) {
		return false
	}
	return teacher.Availability.At(day.Date.Weekday(), ref.Slot.ID) != PreferenceForbidden
}

func (c constraints) roomFeasible(occ *occupancy, room Classroom, day CalendarDay, at cell) bool {
	return occ.roomFree(room.ID, at) && !blackedOut(room.Blackouts, day.Date)
}

// orderingViolated reports whether a placement would put a dependent session
// ahead of the first placement of a lecture it follows.
func (c constraints) orderingViolated(occ *occupancy, info *requirementInfo, at cell) bool {
	if !c.ws.opts.EnforceLectureOrder {
		return false
	}
	for _, lectureID := range info.prereqs {
		if first, ok := occ.firstPlacement(lectureID); ok && at < first {
			return true
		}
	}
	if _, placedBefore := occ.firstPlacement(info.ID); placedBefore {
		return false
	}
	for _, followerID := range info.follower {
		if first, ok := occ.firstPlacement(followerID); ok && first < at {
			return true
		}
	}
	return false
}

// --- Soft penalty ---

// slotPenalty covers the parts of the cost shared by every teacher and room on a pair.
func (c constraints) slotPenalty(occ *occupancy, info *requirementInfo, occurrence int, day CalendarDay, ref SlotRef) PenaltyBreakdown {
	var b PenaltyBreakdown
	weekday := day.Date.Weekday()

	slots := c.ws.cal.SlotsOn(ref.Day)
	if slots > 1 {
		b.Slot += endOfDayWeight * float64(ref.Position) / float64(slots-1)
	}
	for _, gid := range info.groups {
		b.Slot += preferenceCost(c.ws.groups[gid].Availability, weekday, ref.Slot.ID)
		mask := occ.groupDays[resourceDay{gid, day.Number}]
		if load := bits.OnesCount64(mask) + 1; load > groupDailyLimit {
			b.Slot += groupDailyWeight * float64(load-groupDailyLimit)
		}
		if !c.ws.opts.AllowWindows {
			b.Windows += windowWeight * float64(gapGrowth(mask, ref.Position))
		}
	}
	b.Slot *= c.ws.scale
	b.Windows *= c.ws.scale

	if c.ws.opts.DistributeEvenly {
		b.Distribution = distributionWeight * c.distributionDeviation(info, occurrence, ref.Day)
	}
	return b
}

func (c constraints) teacherPenalty(occ *occupancy, teacherID string, day CalendarDay, ref SlotRef) PenaltyBreakdown {
	var b PenaltyBreakdown
	b.Slot = preferenceCost(c.ws.teachers[teacherID].Availability, day.Date.Weekday(), ref.Slot.ID)
	mask := occ.teacherDays[resourceDay{teacherID, day.Number}]
	if load := bits.OnesCount64(mask) + 1; load > teacherDailyLimit {
		b.Slot += teacherDailyWeight * float64(load-teacherDailyLimit)
	}
	if !c.ws.opts.AllowWindows {
		b.Windows = windowWeight * float64(gapGrowth(mask, ref.Position))
	}
	b.Slot *= c.ws.scale
	b.Windows *= c.ws.scale
	return b
}

func (c constraints) roomPenalty(occ *occupancy, info *requirementInfo, teacherID, roomID string, day CalendarDay, ref SlotRef) PenaltyBreakdown {
	b := PenaltyBreakdown{Rooms: c.pinPenalty(info, teacherID, roomID)}
	if !c.ws.opts.AllowWindows {
		mask := occ.roomDays[resourceDay{roomID, day.Number}]
		b.Windows = c.ws.scale * windowWeight * float64(gapGrowth(mask, ref.Position))
	}
	return b
}

// pinPenalty rewards a classroom pinned by the requirement, its groups or the
// teacher, and charges any other classroom once a pin exists.
func (c constraints) pinPenalty(info *requirementInfo, teacherID, roomID string) float64 {
	teacherPin := c.ws.teachers[teacherID].PinnedClassroomID
	if len(info.pins) == 0 && teacherPin == "" {
		return 0
	}
	if roomID == teacherPin || lo.Contains(info.pins, roomID) {
		return pinnedMatchWeight
	}
	return pinnedMissWeight
}

// orderingPenalty prices an ordering violation. Candidates carrying it are
// excluded while lecture order is enforced.
func (c constraints) orderingPenalty(occ *occupancy, info *requirementInfo, at cell) PenaltyBreakdown {
	if c.orderingViolated(occ, info, at) {
		return PenaltyBreakdown{Ordering: orderingWeight}
	}
	return PenaltyBreakdown{}
}

// distributionDeviation is the distance in eligible days between a day and the
// evenly spaced ideal position of the occurrence.
func (c constraints) distributionDeviation(info *requirementInfo, occurrence, day int) float64 {
	total := info.required
	if total == 0 || len(info.days) == 0 {
		return 0
	}
	index := info.required - info.pending + occurrence
	ideal := (float64(index)+0.5)*float64(len(info.days))/float64(total) - 0.5
	return math.Abs(float64(info.dayPos[day]) - ideal)
}

func preferenceCost(a Availability, day time.Weekday, slotID string) float64 {
	switch a.At(day, slotID) {
	case PreferenceUndesirable:
		return undesirableWeight
	case PreferenceDesirable:
		return desirableWeight
	default:
		return 0
	}
}

func blackedOut(ranges []DateRange, date time.Time) bool {
	for _, r := range ranges {
		if r.Contains(date) {
			return true
		}
	}
	return false
}

func (b PenaltyBreakdown) add(o PenaltyBreakdown) PenaltyBreakdown {
	return PenaltyBreakdown{
		Slot:         b.Slot + o.Slot,
		Windows:      b.Windows + o.Windows,
		Distribution: b.Distribution + o.Distribution,
		Ordering:     b.Ordering + o.Ordering,
		Rooms:        b.Rooms + o.Rooms,
	}
}
