package storage

import (
	"context"
	"sync"
)

// Memory is an in-process medium. A positive Limit caps the total bytes held
// across all regions, the way browser storage enforces a quota.
type Memory struct {
	Limit int

	mu     sync.RWMutex
	data   map[string][]byte
	closed bool
}

func NewMemory(limit int) *Memory {
	return &Memory{Limit: limit, data: map[string][]byte{}}
}

func (m *Memory) Get(_ context.Context, key string) ([]byte, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, false, ErrClosed
	}
	v, ok := m.data[key]
	if !ok {
		return nil, false, nil
	}
	return append([]byte(nil), v...), true, nil
}

func (m *Memory) Put(_ context.Context, key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	if m.data == nil {
		m.data = map[string][]byte{}
	}
	if m.Limit > 0 {
		total := len(key) + len(value)
		for k, v := range m.data {
			if k != key {
				total += len(k) + len(v)
			}
		}
		if total > m.Limit {
			return ErrQuotaExceeded
		}
	}
	m.data[key] = append([]byte(nil), value...)
	return nil
}

func (m *Memory) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	return nil
}
