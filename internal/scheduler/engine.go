package scheduler

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sort"
	"sync"

	"github.com/samber/lo"
	"go.uber.org/zap"

	appErrors "github.com/noah-isme/univ-scheduler-api/pkg/errors"
)

// Engine runs scheduling requests against a store.
type Engine struct {
	logger      *zap.Logger
	parallelism int
}

// NewEngine constructs an engine. Parallelism of zero uses one worker per CPU.
func NewEngine(logger *zap.Logger, parallelism int) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	if parallelism <= 0 {
		parallelism = runtime.NumCPU()
	}
	return &Engine{logger: logger.Named("scheduler"), parallelism: parallelism}
}

// Run executes one scheduling run. The returned result is never nil and carries
// the outcome. The error is nil for Completed, wraps ErrRunCancelled for
// Cancelled and describes the failure for Failed. The store is written at most
// once, only on Completed.
func (e *Engine) Run(ctx context.Context, req Request, store Store) (*Result, error) {
	sm := newStateMachine(req.OnState)
	result := &Result{Seed: req.Options.Seed, FailedEntries: []Unscheduled{}}
	_ = sm.to(StatePreparing)

	fail := func(err error) (*Result, error) {
		_ = sm.to(StateFailed)
		result.Outcome = OutcomeFailed
		e.logger.Sugar().Warnw("scheduling run failed", "error", err)
		return result, err
	}
	cancel := func() (*Result, error) {
		_ = sm.to(StateCancelled)
		result.Outcome = OutcomeCancelled
		e.logger.Sugar().Infow("scheduling run cancelled", "seed", result.Seed)
		return result, appErrors.Wrap(ctx.Err(), appErrors.ErrRunCancelled.Code, appErrors.ErrRunCancelled.Status, appErrors.ErrRunCancelled.Message)
	}

	// --- Preparing ---
	cal, err := prepareCalendar(req)
	if err != nil {
		return fail(err)
	}
	ws, err := newWorkspace(req, cal)
	if err != nil {
		return fail(err)
	}
	if ctx.Err() != nil {
		return cancel()
	}
	existing, err := store.Snapshot(ctx, req.Frame)
	if err != nil {
		if ctx.Err() != nil {
			return cancel()
		}
		return fail(appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load committed schedule"))
	}
	if err := ws.loadBaseline(existing); err != nil {
		return fail(err)
	}

	pending := lo.SumBy(ws.requirements, func(info *requirementInfo) int { return info.pending })
	rep := newReporter(req.OnProgress, pending*req.Options.Iterations)

	// --- Scheduling ---
	_ = sm.to(StateScheduling)
	rep.start()
	tally := e.runPasses(ctx, ws, rep)
	if tally.err != nil {
		return fail(appErrors.Wrap(tally.err, appErrors.ErrInternalInconsistency.Code, appErrors.ErrInternalInconsistency.Status, appErrors.ErrInternalInconsistency.Message))
	}
	if !tally.found {
		return cancel()
	}
	best := tally.best
	result.Iterations = tally.completed
	result.Truncated = result.Iterations < req.Options.Iterations

	// --- Finalizing ---
	_ = sm.to(StateFinalizing)
	added := lo.Map(best.added(), func(p placed, _ int) Entry { return p.entry })
	sortEntries(added, ws.slotPos)
	if err := verify(ws, best.added()); err != nil {
		return fail(appErrors.Wrap(err, appErrors.ErrInternalInconsistency.Code, appErrors.ErrInternalInconsistency.Status, appErrors.ErrInternalInconsistency.Message))
	}
	changeset := Changeset{Removed: ws.removed, Added: added}
	if err := store.Apply(context.WithoutCancel(ctx), changeset); err != nil {
		if appErrors.Is(err, appErrors.ErrInternalInconsistency) {
			return fail(err)
		}
		return fail(appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to commit schedule"))
	}
	rep.finish()

	result.Outcome = OutcomeCompleted
	result.Added = added
	result.Removed = ws.removed
	result.Scheduled = len(added)
	result.Unscheduled = len(best.unplaced)
	result.FailedEntries = append(result.FailedEntries, best.unplaced...)
	result.Penalty = best.penalty
	result.BestIteration = best.iteration
	_ = sm.to(StateCompleted)

	e.logger.Sugar().Infow("scheduling run completed",
		"scheduled", result.Scheduled,
		"unscheduled", result.Unscheduled,
		"penalty", result.Penalty,
		"best_iteration", result.BestIteration,
		"iterations", result.Iterations,
		"removed", len(result.Removed),
	)
	return result, nil
}

// passTally folds finished passes into the best one seen so far.
type passTally struct {
	best      passResult
	found     bool
	completed int
	err       error
	errAt     int
}

func (t *passTally) add(p passResult) {
	if p.err != nil {
		if t.err == nil || p.iteration < t.errAt {
			t.err, t.errAt = p.err, p.iteration
		}
		return
	}
	if !p.done {
		return
	}
	t.completed++
	if !t.found || p.better(t.best) {
		t.best, t.found = p, true
	}
}

func (t *passTally) merge(o passTally) {
	if o.err != nil && (t.err == nil || o.errAt < t.errAt) {
		t.err, t.errAt = o.err, o.errAt
	}
	t.completed += o.completed
	if o.found && (!t.found || o.best.better(t.best)) {
		t.best, t.found = o.best, true
	}
}

// runPasses fans iterations out to a worker pool. Each worker keeps only its
// best pass, and ties break on iteration, so the winner does not depend on
// scheduling order. A pass that finishes after cancellation is discarded.
func (e *Engine) runPasses(ctx context.Context, ws *workspace, rep *reporter) passTally {
	iterations := ws.opts.Iterations
	workers := e.parallelism
	if ws.opts.Parallelism > 0 {
		workers = ws.opts.Parallelism
	}
	workers = min(workers, iterations)

	gen := newGenerator(ws)
	tallies := make([]passTally, workers)
	indices := make(chan int)

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(tally *passTally) {
			defer wg.Done()
			for i := range indices {
				if ctx.Err() != nil {
					continue
				}
				res := runPass(ws, gen, i, iterationSeed(ws.opts.Seed, i), rep)
				if ctx.Err() != nil && res.err == nil {
					continue
				}
				e.logger.Debug("scheduling pass finished",
					zap.Int("iteration", i),
					zap.Int("unplaced", len(res.unplaced)),
					zap.Float64("penalty", res.penalty),
				)
				tally.add(res)
			}
		}(&tallies[w])
	}

dispatch:
	for i := 0; i < iterations; i++ {
		select {
		case indices <- i:
		case <-ctx.Done():
			break dispatch
		}
	}
	close(indices)
	wg.Wait()

	var out passTally
	for _, t := range tallies {
		out.merge(t)
	}
	return out
}

// verify rebuilds the final occupancy from scratch and checks every invariant
// of the entries a pass added.
func verify(ws *workspace, added []placed) error {
	final := newOccupancy()
	for _, p := range ws.baseline.entries {
		year, week := p.entry.Date.ISOWeek()
		if err := final.add(p.entry, p.groups, p.at, year*100+week); err != nil {
			return err
		}
	}
	rooms := lo.KeyBy(ws.rooms, func(room Classroom) string { return room.ID })
	for _, p := range added {
		day, ok := ws.cal.DayIndex(p.entry.Date)
		if !ok {
			return fmt.Errorf("entry for %s placed on non-working day %s", p.entry.RequirementID, p.entry.Date.Format(dateLayout))
		}
		if p.at.position() >= ws.cal.SlotsOn(day) {
			return fmt.Errorf("entry for %s placed in a dropped slot on %s", p.entry.RequirementID, p.entry.Date.Format(dateLayout))
		}
		info := ws.byID[p.entry.RequirementID]
		room, ok := rooms[p.entry.ClassroomID]
		if info == nil || !ok {
			return errors.New("entry references unknown requirement or classroom")
		}
		if !ws.opts.AllowOverbooking {
			if room.Capacity < info.size {
				return fmt.Errorf("classroom %s too small for %s", room.ID, info.ID)
			}
			if info.RoomTypeID != "" && room.TypeID != info.RoomTypeID {
				return fmt.Errorf("classroom %s has wrong type for %s", room.ID, info.ID)
			}
		}
		if err := final.add(p.entry, p.groups, p.at, ws.cal.Days[day].Week); err != nil {
			return err
		}
	}
	if !ws.opts.EnforceLectureOrder {
		return nil
	}
	before := orderingViolations(ws, ws.baseline)
	for pair := range orderingViolations(ws, final) {
		if _, known := before[pair]; !known {
			return fmt.Errorf("requirement %s placed before lecture %s", pair[0], pair[1])
		}
	}
	return nil
}

// orderingViolations lists (dependent, lecture) pairs whose first placements are out of order.
func orderingViolations(ws *workspace, occ *occupancy) map[[2]string]struct{} {
	out := make(map[[2]string]struct{})
	for id, info := range ws.byID {
		dependentFirst, ok := occ.firstPlacement(id)
		if !ok {
			continue
		}
		for _, lectureID := range info.prereqs {
			if lectureFirst, ok := occ.firstPlacement(lectureID); ok && dependentFirst < lectureFirst {
				out[[2]string{id, lectureID}] = struct{}{}
			}
		}
	}
	return out
}

func sortEntries(entries []Entry, slotPos map[string]int) {
	sort.SliceStable(entries, func(i, j int) bool {
		a, b := entries[i], entries[j]
		if da, db := dayNumber(a.Date), dayNumber(b.Date); da != db {
			return da < db
		}
		if slotPos[a.SlotID] != slotPos[b.SlotID] {
			return slotPos[a.SlotID] < slotPos[b.SlotID]
		}
		return a.ClassroomID < b.ClassroomID
	})
}
