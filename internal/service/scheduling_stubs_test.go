package service

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/noah-isme/univ-scheduler-api/internal/models"
	"github.com/noah-isme/univ-scheduler-api/internal/repository"
	"github.com/noah-isme/univ-scheduler-api/pkg/jobs"
)

type stubRunStore struct {
	mu          sync.Mutex
	runs        map[string]*models.SchedulingRun
	updates     []repository.UpdateRunParams
	interrupted int
	seq         int
}

func newStubRunStore(runs ...models.SchedulingRun) *stubRunStore {
	s := &stubRunStore{runs: map[string]*models.SchedulingRun{}}
	for i := range runs {
		r := runs[i]
		s.runs[r.ID] = &r
	}
	return s
}

func (s *stubRunStore) Create(ctx context.Context, run *models.SchedulingRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if run.ID == "" {
		s.seq++
		run.ID = fmt.Sprintf("run-%d", s.seq)
	}
	clone := *run
	s.runs[run.ID] = &clone
	return nil
}

func (s *stubRunStore) GetByID(ctx context.Context, id string) (*models.SchedulingRun, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	clone := *run
	return &clone, nil
}

func (s *stubRunStore) Update(ctx context.Context, id string, p repository.UpdateRunParams) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[id]
	if !ok || run.Status.Terminal() {
		return false, nil
	}
	s.updates = append(s.updates, p)
	if p.Status != nil {
		run.Status = *p.Status
	}
	if p.Phase != nil {
		run.Phase = *p.Phase
	}
	if p.ProgressCurrent != nil {
		run.ProgressCurrent = *p.ProgressCurrent
	}
	if p.ProgressTotal != nil {
		run.ProgressTotal = *p.ProgressTotal
	}
	if p.Scheduled != nil {
		run.Scheduled = *p.Scheduled
	}
	if p.Unscheduled != nil {
		run.Unscheduled = *p.Unscheduled
	}
	if p.Removed != nil {
		run.Removed = *p.Removed
	}
	if p.Penalty != nil {
		run.Penalty = *p.Penalty
	}
	if p.Truncated != nil {
		run.Truncated = *p.Truncated
	}
	if p.ErrorCode != nil {
		run.ErrorCode = p.ErrorCode
	}
	if p.ErrorMessage != nil {
		run.ErrorMessage = p.ErrorMessage
	}
	if p.StartedAt != nil {
		run.StartedAt = p.StartedAt
	}
	if p.FinishedAt != nil {
		run.FinishedAt = p.FinishedAt
	}
	return true, nil
}

func (s *stubRunStore) ListByStatus(ctx context.Context, status models.RunStatus, limit int) ([]models.SchedulingRun, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.SchedulingRun
	for _, r := range s.runs {
		if r.Status == status {
			out = append(out, *r)
		}
	}
	return out, nil
}

func (s *stubRunStore) FailInterrupted(ctx context.Context, code, message string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, r := range s.runs {
		if r.Status == models.RunStatusRunning {
			r.Status = models.RunStatusFailed
			c, m := code, message
			r.ErrorCode, r.ErrorMessage = &c, &m
			n++
		}
	}
	s.interrupted = n
	return n, nil
}

func (s *stubRunStore) status(id string) models.RunStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.runs[id].Status
}

type stubFailureStore struct {
	mu       sync.Mutex
	failures map[string][]models.RunFailure
}

func newStubFailureStore() *stubFailureStore {
	return &stubFailureStore{failures: map[string][]models.RunFailure{}}
}

func (s *stubFailureStore) ReplaceForRun(ctx context.Context, runID string, failures []models.RunFailure) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[runID] = failures
	return nil
}

func (s *stubFailureStore) ListByRun(ctx context.Context, runID string) ([]models.RunFailure, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.failures[runID], nil
}

type stubRunQueue struct {
	mu         sync.Mutex
	enqueued   []jobs.Job
	running    map[string]bool
	cancelled  []string
	enqueueErr error
}

func (q *stubRunQueue) Enqueue(job jobs.Job) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.enqueueErr != nil {
		return q.enqueueErr
	}
	q.enqueued = append(q.enqueued, job)
	return nil
}

func (q *stubRunQueue) Cancel(jobID string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.cancelled = append(q.cancelled, jobID)
	return q.running[jobID]
}

type published struct {
	topic   string
	msgType string
	payload interface{}
	final   bool
}

type stubPublisher struct {
	mu       sync.Mutex
	messages []published
}

func (p *stubPublisher) Publish(topic, msgType string, payload interface{}) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.messages = append(p.messages, published{topic: topic, msgType: msgType, payload: payload})
	return nil
}

func (p *stubPublisher) PublishFinal(topic, msgType string, payload interface{}) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.messages = append(p.messages, published{topic: topic, msgType: msgType, payload: payload, final: true})
	return nil
}

func (p *stubPublisher) finals() []published {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []published
	for _, m := range p.messages {
		if m.final {
			out = append(out, m)
		}
	}
	return out
}

type stubEntryRepo struct {
	mu       sync.Mutex
	entries  []models.ScheduleEntry
	applyErr error
	seq      int
}

func (r *stubEntryRepo) ListInRange(ctx context.Context, from, to time.Time) ([]models.ScheduleEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.ScheduleEntry
	for _, e := range r.entries {
		if !e.SessionDate.Before(from) && !e.SessionDate.After(to) {
			out = append(out, e)
		}
	}
	return out, nil
}

func (r *stubEntryRepo) ApplyChangeset(ctx context.Context, removedIDs []string, added []models.ScheduleEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.applyErr != nil {
		return r.applyErr
	}
	drop := map[string]bool{}
	for _, id := range removedIDs {
		drop[id] = true
	}
	kept := r.entries[:0]
	for _, e := range r.entries {
		if !drop[e.ID] {
			kept = append(kept, e)
		}
	}
	for _, e := range added {
		r.seq++
		e.ID = fmt.Sprintf("entry-%d", r.seq)
		kept = append(kept, e)
	}
	r.entries = kept
	return nil
}
