package scheduler

import (
	"context"
	"sync"
)

// MemoryStore keeps the committed schedule in process memory.
type MemoryStore struct {
	mu      sync.RWMutex
	entries []Entry
}

// NewMemoryStore seeds a store with committed entries.
func NewMemoryStore(entries ...Entry) *MemoryStore {
	return &MemoryStore{entries: append([]Entry(nil), entries...)}
}

type entryKey struct {
	day       int
	slot      string
	classroom string
}

func keyOf(e Entry) entryKey {
	return entryKey{day: dayNumber(e.Date), slot: e.SlotID, classroom: e.ClassroomID}
}

// Snapshot returns committed entries dated inside the frame.
func (s *MemoryStore) Snapshot(ctx context.Context, frame TimeFrame) ([]Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	start, end := dayNumber(frame.Start), dayNumber(frame.End)
	out := make([]Entry, 0, len(s.entries))
	for _, e := range s.entries {
		if d := dayNumber(e.Date); d >= start && d <= end {
			out = append(out, e)
		}
	}
	return out, nil
}

// Apply swaps in the changeset under one lock.
func (s *MemoryStore) Apply(_ context.Context, cs Changeset) error {
	removed := make(map[entryKey]struct{}, len(cs.Removed))
	for _, e := range cs.Removed {
		removed[keyOf(e)] = struct{}{}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	next := make([]Entry, 0, len(s.entries)+len(cs.Added))
	for _, e := range s.entries {
		if _, drop := removed[keyOf(e)]; !drop {
			next = append(next, e)
		}
	}
	next = append(next, cs.Added...)
	s.entries = next
	return nil
}

// Entries returns a copy of every committed entry.
func (s *MemoryStore) Entries() []Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Entry(nil), s.entries...)
}
