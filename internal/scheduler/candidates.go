package scheduler

import (
	"sort"

	"github.com/onsi/gomega/matchers/support/goraph/bipartitegraph"
	"github.com/samber/lo"
)

// Candidate is a hard-feasible placement for one occurrence.
type Candidate struct {
	Day          int
	Slot         SlotRef
	Room         int
	TeacherID    string
	TeacherOrder int
	Fit          int
	Penalty      PenaltyBreakdown
}

// less orders candidates by penalty, date, tightest fit, slot, classroom and teacher.
func (c Candidate) less(o Candidate, rooms []Classroom) bool {
	if p, q := c.Penalty.Total(), o.Penalty.Total(); p != q {
		return p < q
	}
	if c.Day != o.Day {
		return c.Day < o.Day
	}
	if c.Fit != o.Fit {
		return c.Fit < o.Fit
	}
	if c.Slot.Position != o.Slot.Position {
		return c.Slot.Position < o.Slot.Position
	}
	if rooms[c.Room].ID != rooms[o.Room].ID {
		return rooms[c.Room].ID < rooms[o.Room].ID
	}
	return c.TeacherOrder < o.TeacherOrder
}

// diagnosis counts why pairs were rejected for one occurrence.
type diagnosis struct {
	slotOK          int
	teacherBlocked  int
	orderingBlocked int
	roomBlocked     []SlotRef
}

func (d diagnosis) reason(info *requirementInfo) ReasonCode {
	switch {
	case len(info.rooms) == 0:
		return ReasonNoEligibleRoom
	case d.slotOK == 0:
		return ReasonNoEligibleSlot
	case d.orderingBlocked > 0:
		return ReasonOrderingUnsatisfiable
	case d.teacherBlocked > 0 && d.teacherBlocked >= len(d.roomBlocked):
		return ReasonTeacherConflict
	case len(d.roomBlocked) > 0:
		return ReasonNoEligibleRoom
	default:
		return ReasonNoEligibleSlot
	}
}

// generator enumerates candidates for requirement occurrences.
type generator struct {
	ws *workspace
	cm constraints
}

func newGenerator(ws *workspace) *generator {
	return &generator{ws: ws, cm: constraints{ws: ws}}
}

// enumerate calls emit for every hard-feasible candidate of an occurrence.
func (g *generator) enumerate(occ *occupancy, info *requirementInfo, occurrence int, emit func(Candidate)) diagnosis {
	var diag diagnosis
	if len(info.rooms) == 0 {
		return diag
	}
	for _, ref := range g.ws.cal.Pairs {
		day := g.ws.cal.Days[ref.Day]
		at := makeCell(day.Number, ref.Position)
		if !g.cm.slotFeasible(occ, info, day, ref, at) {
			continue
		}
		diag.slotOK++

		teachers := lo.Filter(info.teachers, func(id string, _ int) bool {
			return g.cm.teacherFeasible(occ, id, day, ref, at)
		})
		if len(teachers) == 0 {
			diag.teacherBlocked++
			continue
		}
		if g.cm.orderingViolated(occ, info, at) {
			diag.orderingBlocked++
			continue
		}
		rooms := lo.Filter(info.rooms, func(idx int, _ int) bool {
			return g.cm.roomFeasible(occ, g.ws.rooms[idx], day, at)
		})
		if len(rooms) == 0 {
			diag.roomBlocked = append(diag.roomBlocked, ref)
			continue
		}

		base := g.cm.slotPenalty(occ, info, occurrence, day, ref).add(g.cm.orderingPenalty(occ, info, at))
		for _, teacherID := range teachers {
			withTeacher := base.add(g.cm.teacherPenalty(occ, teacherID, day, ref))
			order := lo.IndexOf(info.teachers, teacherID)
			for _, roomIdx := range rooms {
				room := g.ws.rooms[roomIdx]
				emit(Candidate{
					Day:          ref.Day,
					Slot:         ref,
					Room:         roomIdx,
					TeacherID:    teacherID,
					TeacherOrder: order,
					Fit:          room.Capacity - info.size,
					Penalty:      withTeacher.add(g.cm.roomPenalty(occ, info, teacherID, room.ID, day, ref)),
				})
			}
		}
	}
	return diag
}

// candidates returns every hard-feasible candidate in ranking order.
func (g *generator) candidates(occ *occupancy, info *requirementInfo, occurrence int) ([]Candidate, diagnosis) {
	var list []Candidate
	diag := g.enumerate(occ, info, occurrence, func(c Candidate) {
		list = append(list, c)
	})
	sort.SliceStable(list, func(i, j int) bool {
		return list[i].less(list[j], g.ws.rooms)
	})
	return list, diag
}

// best returns the first candidate in ranking order without sorting the list.
func (g *generator) best(occ *occupancy, info *requirementInfo, occurrence int) (Candidate, bool, diagnosis) {
	var (
		top   Candidate
		found bool
	)
	diag := g.enumerate(occ, info, occurrence, func(c Candidate) {
		if !found || c.less(top, g.ws.rooms) {
			top, found = c, true
		}
	})
	return top, found, diag
}

// --- Room repair ---

// roomMove re-seats an entry placed earlier in the same pass.
type roomMove struct {
	entry int
	room  string
}

// repair looks for a pair where only classrooms block the occurrence and
// re-seats the pass's own entries there through a maximum bipartite matching.
func (g *generator) repair(occ *occupancy, info *requirementInfo, occurrence int, frozen int, blocked []SlotRef) (Candidate, []roomMove, bool) {
	for _, ref := range blocked {
		day := g.ws.cal.Days[ref.Day]
		at := makeCell(day.Number, ref.Position)

		movable := make([]int, 0)
		usable := make([]int, 0, len(g.ws.rooms))
		for idx, room := range g.ws.rooms {
			if blackedOut(room.Blackouts, day.Date) {
				continue
			}
			holder, held := occ.roomHolder(room.ID, at)
			switch {
			case !held:
				usable = append(usable, idx)
			case holder >= frozen && g.ws.byID[occ.entries[holder].entry.RequirementID] != nil:
				movable = append(movable, holder)
				usable = append(usable, idx)
			}
		}
		if len(movable) == 0 {
			continue
		}

		// Node 0 is the new occurrence, the rest are movable entries.
		left := make([]any, 0, len(movable)+1)
		left = append(left, info)
		for _, holder := range movable {
			left = append(left, g.ws.byID[occ.entries[holder].entry.RequirementID])
		}
		right := lo.Map(usable, func(idx int, _ int) any { return idx })
		neighbours := func(l any, r any) (bool, error) {
			return lo.Contains(l.(*requirementInfo).rooms, r.(int)), nil
		}

		graph, err := bipartitegraph.NewBipartiteGraph(left, right, neighbours)
		if err != nil {
			continue
		}
		matching := graph.LargestMatching()
		if len(matching) < len(left) {
			continue
		}

		assigned := make(map[int]int, len(left))
		for _, edge := range matching {
			assigned[edge.Node1] = usable[edge.Node2-len(left)]
		}
		moves := make([]roomMove, 0, len(movable))
		for i, holder := range movable {
			moves = append(moves, roomMove{entry: holder, room: g.ws.rooms[assigned[i+1]].ID})
		}

		trial := occ.clone()
		applyMoves(trial, moves)
		roomIdx := assigned[0]
		if !g.cm.roomFeasible(trial, g.ws.rooms[roomIdx], day, at) {
			continue
		}
		teacherID, ok := lo.Find(info.teachers, func(id string) bool {
			return g.cm.teacherFeasible(trial, id, day, ref, at)
		})
		if !ok {
			continue
		}
		penalty := g.cm.slotPenalty(trial, info, occurrence, day, ref).
			add(g.cm.teacherPenalty(trial, teacherID, day, ref)).
			add(g.cm.roomPenalty(trial, info, teacherID, g.ws.rooms[roomIdx].ID, day, ref))
		return Candidate{
			Day:          ref.Day,
			Slot:         ref,
			Room:         roomIdx,
			TeacherID:    teacherID,
			TeacherOrder: lo.IndexOf(info.teachers, teacherID),
			Fit:          g.ws.rooms[roomIdx].Capacity - info.size,
			Penalty:      penalty,
		}, moves, true
	}
	return Candidate{}, nil, false
}

func applyMoves(occ *occupancy, moves []roomMove) {
	// Two passes so swaps never collide mid-way.
	parked := make([]roomMove, 0, len(moves))
	for _, m := range moves {
		if occ.entries[m.entry].entry.ClassroomID != m.room {
			occ.moveRoom(m.entry, "\x00"+m.room)
			parked = append(parked, m)
		}
	}
	for _, m := range parked {
		occ.moveRoom(m.entry, m.room)
	}
}
