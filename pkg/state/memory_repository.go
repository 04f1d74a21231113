package state

import (
	"context"
	"sync"
)

// MemoryRepository keeps the snapshot in process memory. It survives a
// relay suspend but not a process restart.
type MemoryRepository struct {
	mu   sync.Mutex
	snap Snapshot
}

// NewMemoryRepository creates an empty MemoryRepository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{}
}

func (r *MemoryRepository) Load(ctx context.Context) (Snapshot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return cloneSnapshot(r.snap), nil
}

func (r *MemoryRepository) Save(ctx context.Context, snap Snapshot) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.snap = cloneSnapshot(snap)
	return nil
}

func (r *MemoryRepository) Clear(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.snap = Snapshot{}
	return nil
}

func cloneSnapshot(s Snapshot) Snapshot {
	out := Snapshot{SavedAt: s.SavedAt}
	if len(s.InFlight) > 0 {
		out.InFlight = append([]InFlight(nil), s.InFlight...)
	}
	if len(s.Queued) > 0 {
		out.Queued = append([]InFlight(nil), s.Queued...)
	}
	return out
}
