package storage

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/JonMunkholm/mailmerge/internal/core"
)

// MemoryRunStore keeps run history in memory, newest first. It is used when
// no database is configured.
type MemoryRunStore struct {
	mu   sync.RWMutex
	runs []core.RunSummary
	max  int
}

// NewMemoryRunStore returns a store holding at most max runs (0 is
// unbounded).
func NewMemoryRunStore(max int) *MemoryRunStore {
	return &MemoryRunStore{max: max}
}

func (m *MemoryRunStore) SaveRun(_ context.Context, run core.RunSummary) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.runs = slices.DeleteFunc(m.runs, func(r core.RunSummary) bool { return r.ID == run.ID })
	m.runs = append(m.runs, run)
	slices.SortStableFunc(m.runs, func(a, b core.RunSummary) int {
		return b.StartedAt.Compare(a.StartedAt)
	})
	if m.max > 0 && len(m.runs) > m.max {
		m.runs = m.runs[:m.max]
	}
	return nil
}

func (m *MemoryRunStore) ListRuns(_ context.Context, limit int) ([]core.RunSummary, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	n := len(m.runs)
	if limit > 0 && limit < n {
		n = limit
	}
	return slices.Clone(m.runs[:n]), nil
}

func (m *MemoryRunStore) PurgeBefore(_ context.Context, cutoff time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	before := len(m.runs)
	m.runs = slices.DeleteFunc(m.runs, func(r core.RunSummary) bool {
		return r.FinishedAt.Before(cutoff)
	})
	return int64(before - len(m.runs)), nil
}
