package cache

import (
	"sync"
)

// Mem is an in-process cache Client, used when no memcached or redis
// is configured. Entries live as long as the daemon does, which is
// enough to keep a single instance from rebuilding artifacts, but
// won't survive a restart.
type Mem struct {
	mu      sync.RWMutex
	entries map[string][]byte
}

func NewMem() *Mem {
	return &Mem{entries: map[string][]byte{}}
}

func (m *Mem) GetKey(k Keyer) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.entries[k.Key()]
	if !ok {
		return nil, ErrNotCached
	}
	out := make([]byte, len(v))
	copy(out, v)
	return out, nil
}

func (m *Mem) SetKey(k Keyer, v []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored := make([]byte, len(v))
	copy(stored, v)
	m.entries[k.Key()] = stored
	return nil
}
