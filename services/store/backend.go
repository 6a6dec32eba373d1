// Package store provides the node's durable key/value storage: the alert
// episode counter, the device configuration and the persisted wake cause.
//
// Every operation opens a handle, mutates, commits and closes it. No handle
// is held across calls, so an unexpected power loss can at most lose the one
// uncommitted operation in flight.
package store

import (
	"context"
	"errors"
	"strconv"
	"sync"

	"sensornode/errcode"
)

// ErrNotFound is returned by Handle getters for absent keys.
var ErrNotFound = errors.New("not_found")

// Backend opens namespaced handles onto a durable medium.
type Backend interface {
	Open(ctx context.Context, namespace string) (Handle, error)
}

// Handle is a short-lived view of one namespace. Writes are staged until
// Commit; Close without Commit discards them.
type Handle interface {
	GetInt32(key string) (int32, error)
	SetInt32(key string, v int32) error
	GetUint8(key string) (uint8, error)
	SetUint8(key string, v uint8) error
	GetString(key string) (string, error)
	SetString(key string, v string) error
	Erase(key string) error
	Commit() error
	Close() error
}

// kv is the minimal surface a medium implements; handle does the rest.
type kv interface {
	load(ctx context.Context, ns, key string) (val string, ok bool, err error)
	apply(ctx context.Context, ns string, puts map[string]string, dels []string) error
}

type handle struct {
	ctx context.Context
	kv  kv
	ns  string

	mu     sync.Mutex
	puts   map[string]string
	dels   map[string]struct{}
	closed bool
}

func newHandle(ctx context.Context, m kv, ns string) *handle {
	return &handle{ctx: ctx, kv: m, ns: ns, puts: map[string]string{}, dels: map[string]struct{}{}}
}

func (h *handle) get(key string) (string, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return "", errcode.StoreRead
	}
	if v, ok := h.puts[key]; ok {
		return v, nil
	}
	if _, ok := h.dels[key]; ok {
		return "", ErrNotFound
	}
	v, ok, err := h.kv.load(h.ctx, h.ns, key)
	if err != nil {
		return "", errcode.Wrap(errcode.StoreRead, h.ns+"/"+key, err)
	}
	if !ok {
		return "", ErrNotFound
	}
	return v, nil
}

func (h *handle) set(key, v string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return errcode.StoreWrite
	}
	delete(h.dels, key)
	h.puts[key] = v
	return nil
}

func (h *handle) GetInt32(key string) (int32, error) {
	s, err := h.get(key)
	if err != nil {
		return 0, err
	}
	n, err := strconv.ParseInt(s, 10, 32)
	if err != nil {
		return 0, errcode.Wrap(errcode.StoreRead, h.ns+"/"+key, err)
	}
	return int32(n), nil
}

func (h *handle) SetInt32(key string, v int32) error {
	return h.set(key, strconv.FormatInt(int64(v), 10))
}

func (h *handle) GetUint8(key string) (uint8, error) {
	s, err := h.get(key)
	if err != nil {
		return 0, err
	}
	n, err := strconv.ParseUint(s, 10, 8)
	if err != nil {
		return 0, errcode.Wrap(errcode.StoreRead, h.ns+"/"+key, err)
	}
	return uint8(n), nil
}

func (h *handle) SetUint8(key string, v uint8) error {
	return h.set(key, strconv.FormatUint(uint64(v), 10))
}

func (h *handle) GetString(key string) (string, error) { return h.get(key) }

func (h *handle) SetString(key, v string) error { return h.set(key, v) }

func (h *handle) Erase(key string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return errcode.StoreWrite
	}
	delete(h.puts, key)
	h.dels[key] = struct{}{}
	return nil
}

func (h *handle) Commit() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return errcode.StoreCommit
	}
	if len(h.puts) == 0 && len(h.dels) == 0 {
		return nil
	}
	dels := make([]string, 0, len(h.dels))
	for k := range h.dels {
		dels = append(dels, k)
	}
	if err := h.kv.apply(h.ctx, h.ns, h.puts, dels); err != nil {
		return errcode.Wrap(errcode.StoreCommit, h.ns, err)
	}
	h.puts = map[string]string{}
	h.dels = map[string]struct{}{}
	return nil
}

func (h *handle) Close() error {
	h.mu.Lock()
	h.closed = true
	h.puts = nil
	h.dels = nil
	h.mu.Unlock()
	return nil
}
