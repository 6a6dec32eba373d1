package store

import (
	"context"
	"sync"

	"sensornode/errcode"
)

// Memory is a process-local Backend. Its contents outlive every handle and
// every CounterStore built on it, which is what tests use to stand in for a
// reboot. The Fail* switches inject medium faults.
type Memory struct {
	mu   sync.Mutex
	data map[string]map[string]string

	FailOpen   bool
	FailRead   bool
	FailCommit bool
}

func NewMemory() *Memory {
	return &Memory{data: map[string]map[string]string{}}
}

func (m *Memory) Open(ctx context.Context, ns string) (Handle, error) {
	m.mu.Lock()
	fail := m.FailOpen
	m.mu.Unlock()
	if fail {
		return nil, errcode.StoreOpen
	}
	return newHandle(ctx, m, ns), nil
}

// SetFaults switches fault injection under the backend lock.
func (m *Memory) SetFaults(open, read, commit bool) {
	m.mu.Lock()
	m.FailOpen, m.FailRead, m.FailCommit = open, read, commit
	m.mu.Unlock()
}

func (m *Memory) load(_ context.Context, ns, key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailRead {
		return "", false, errcode.StoreRead
	}
	v, ok := m.data[ns][key]
	return v, ok, nil
}

func (m *Memory) apply(_ context.Context, ns string, puts map[string]string, dels []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailCommit {
		return errcode.StoreCommit
	}
	t := m.data[ns]
	if t == nil {
		t = map[string]string{}
		m.data[ns] = t
	}
	for k, v := range puts {
		t[k] = v
	}
	for _, k := range dels {
		delete(t, k)
	}
	return nil
}

// Raw returns the committed string value of ns/key.
func (m *Memory) Raw(ns, key string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[ns][key]
	return v, ok
}
