package ledger

import (
	"context"
	"sync"
)

// Mem is an in-memory Store. It is the reference implementation for
// the append-if-absent contract, and what tests use.
type Mem struct {
	mu       sync.Mutex
	byTag    map[string]Record
	byCommit map[string]Record
	order    []Record
}

var _ Store = &Mem{}

func NewMem() *Mem {
	return &Mem{
		byTag:    map[string]Record{},
		byCommit: map[string]Record{},
	}
}

func (m *Mem) AppendIfAbsent(ctx context.Context, rec Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.byTag[rec.Tag]; ok {
		return ErrAlreadyExists
	}
	if _, ok := m.byCommit[rec.CommitID]; ok {
		return ErrAlreadyExists
	}
	m.byTag[rec.Tag] = rec
	m.byCommit[rec.CommitID] = rec
	m.order = append(m.order, rec)
	return nil
}

func (m *Mem) Latest(ctx context.Context, branch string) (Record, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := len(m.order) - 1; i >= 0; i-- {
		if m.order[i].Branch == branch {
			return m.order[i], true, nil
		}
	}
	return Record{}, false, nil
}

func (m *Mem) ByTag(ctx context.Context, tag string) (Record, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.byTag[tag]
	return rec, ok, nil
}

func (m *Mem) ByCommit(ctx context.Context, commitID string) (Record, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.byCommit[commitID]
	return rec, ok, nil
}

func (m *Mem) List(ctx context.Context, branch string) ([]Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Record
	for _, rec := range m.order {
		if branch == "" || rec.Branch == branch {
			out = append(out, rec)
		}
	}
	return out, nil
}
