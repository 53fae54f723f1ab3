package scheduler

import (
	"math/rand"
	"slices"
	"sort"

	"github.com/mroth/weightedrand/v2"
)

// passResult is the outcome of one independent pass.
type passResult struct {
	iteration int
	seed      int64
	done      bool
	occ       *occupancy
	frozen    int
	unplaced  []Unscheduled
	penalty   float64
	err       error
}

// better reports whether p beats o: fewer unplaced, then lower penalty, then earlier iteration.
func (p passResult) better(o passResult) bool {
	if len(p.unplaced) != len(o.unplaced) {
		return len(p.unplaced) < len(o.unplaced)
	}
	if p.penalty != o.penalty {
		return p.penalty < o.penalty
	}
	return p.iteration < o.iteration
}

// added returns the entries the pass placed on top of the baseline.
func (p passResult) added() []placed {
	return p.occ.entries[p.frozen:]
}

// iterationSeed derives a well-mixed seed for an iteration from the run seed.
func iterationSeed(base int64, iteration int) int64 {
	z := uint64(base) + uint64(iteration+1)*0x9E3779B97F4A7C15
	z = (z ^ (z >> 30)) * 0xBF58476D1CE4E5B9
	z = (z ^ (z >> 27)) * 0x94D049BB133111EB
	return int64(z ^ (z >> 31))
}

// passOrder draws requirements without replacement, weighted by priority.
// Dependent sessions move behind lectures when lecture order is enforced.
func passOrder(requirements []*requirementInfo, seed int64, enforceOrder bool) []*requirementInfo {
	rng := rand.New(rand.NewSource(seed))
	remaining := slices.Clone(requirements)
	order := make([]*requirementInfo, 0, len(requirements))
	for len(remaining) > 0 {
		choices := make([]weightedrand.Choice[int, int], len(remaining))
		for i, info := range remaining {
			choices[i] = weightedrand.NewChoice(i, info.weight)
		}
		chooser, err := weightedrand.NewChooser(choices...)
		if err != nil {
			order = append(order, remaining...)
			break
		}
		picked := chooser.PickSource(rng)
		order = append(order, remaining[picked])
		remaining = slices.Delete(remaining, picked, picked+1)
	}
	if enforceOrder {
		sort.SliceStable(order, func(i, j int) bool {
			return order[i].depth < order[j].depth
		})
	}
	return order
}

// runPass places every pending occurrence greedily on a private copy of the baseline.
func runPass(ws *workspace, gen *generator, iteration int, seed int64, rep *reporter) passResult {
	res := passResult{
		iteration: iteration,
		seed:      seed,
		occ:       ws.baseline.clone(),
		frozen:    len(ws.baseline.entries),
	}
	type miss struct {
		index  int
		reason ReasonCode
	}
	var misses []miss

	for _, info := range passOrder(ws.requirements, seed, ws.opts.EnforceLectureOrder) {
		for k := 0; k < info.pending; k++ {
			cand, ok, diag := gen.best(res.occ, info, k)
			var moves []roomMove
			if !ok && len(diag.roomBlocked) > 0 {
				cand, moves, ok = gen.repair(res.occ, info, k, res.frozen, diag.roomBlocked)
			}
			if !ok {
				misses = append(misses, miss{index: info.index, reason: diag.reason(info)})
				rep.advance(1)
				continue
			}

			applyMoves(res.occ, moves)
			day := ws.cal.Days[cand.Day]
			entry := Entry{
				Date:          day.Date,
				SlotID:        cand.Slot.Slot.ID,
				ClassroomID:   ws.rooms[cand.Room].ID,
				TeacherID:     cand.TeacherID,
				RequirementID: info.ID,
				SubjectID:     info.SubjectID,
				Participant:   info.Participant,
				Kind:          info.Kind,
			}
			if err := res.occ.add(entry, info.groups, makeCell(day.Number, cand.Slot.Position), day.Week); err != nil {
				res.err = err
				return res
			}
			res.penalty += cand.Penalty.Total()
			rep.advance(1)
		}
	}

	sort.SliceStable(misses, func(i, j int) bool { return misses[i].index < misses[j].index })
	res.unplaced = make([]Unscheduled, len(misses))
	for i, m := range misses {
		res.unplaced[i] = Unscheduled{RequirementID: ws.requirements[m.index].ID, Reason: m.reason}
	}
	res.done = true
	return res
}
