package store

import (
	"context"
	"errors"
	"math"
	"sync"

	"sensornode/errcode"
	"sensornode/types"

	"go.uber.org/zap"
)

const (
	nsPowerOutage = "power_outage"
	keyAlertCount = "alert_count"
	keyMaxReached = "max_reached"
)

// CounterStore persists the alert episode: how many retry alerts have been
// sent and whether the cap was hit. Reads that fail report 0/false; writes
// that fail leave the previous durable value in place.
type CounterStore struct {
	be  Backend
	log *zap.Logger

	mu sync.Mutex
}

func NewCounterStore(be Backend, log *zap.Logger) *CounterStore {
	if log == nil {
		log = zap.NewNop()
	}
	return &CounterStore{be: be, log: log.Named("store")}
}

// AlertCount returns the persisted count, or 0 if absent or unreadable.
func (s *CounterStore) AlertCount(ctx context.Context) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, err := s.readCount(ctx)
	if err != nil {
		s.log.Warn("read alert count", zap.Error(err))
		return 0
	}
	return n
}

// IncrementAlertCount adds one to the persisted count and returns the new
// value. A failed read aborts without writing so an unreadable medium can
// never reset the counter to 1.
func (s *CounterStore) IncrementAlertCount(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	h, err := s.be.Open(ctx, nsPowerOutage)
	if err != nil {
		s.log.Error("open for increment", zap.Error(err))
		return 0, errcode.Wrap(errcode.StoreOpen, "increment", err)
	}
	defer h.Close()

	cur, err := h.GetInt32(keyAlertCount)
	switch {
	case errors.Is(err, ErrNotFound):
		cur = 0
	case err != nil:
		s.log.Error("read for increment", zap.Error(err))
		return 0, err
	}
	next := cur
	if next < math.MaxInt32 {
		next++
	}
	if err := h.SetInt32(keyAlertCount, next); err != nil {
		return 0, err
	}
	if err := h.Commit(); err != nil {
		s.log.Error("commit increment", zap.Error(err), zap.Int32("count", next))
		return int(cur), err
	}
	s.log.Debug("alert count", zap.Int32("count", next))
	return int(next), nil
}

// ResetAlertCount durably sets the count to 0.
func (s *CounterStore) ResetAlertCount(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.write(ctx, "reset count", func(h Handle) error {
		return h.SetInt32(keyAlertCount, 0)
	})
}

// CapReached returns the persisted cap flag, or false if absent or unreadable.
func (s *CounterStore) CapReached(ctx context.Context) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, err := s.readCap(ctx)
	if err != nil {
		s.log.Warn("read cap flag", zap.Error(err))
		return false
	}
	return v
}

// SetCapReached durably stores the cap flag.
func (s *CounterStore) SetCapReached(ctx context.Context, v bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.write(ctx, "set cap", func(h Handle) error {
		var b uint8
		if v {
			b = 1
		}
		return h.SetUint8(keyMaxReached, b)
	})
}

// ResetEpisode sets the count to 0 and clears the cap flag. The two writes
// commit independently; repeating the call after a partial failure
// converges on {0,false}.
func (s *CounterStore) ResetEpisode(ctx context.Context) error {
	errCount := s.ResetAlertCount(ctx)
	errCap := s.SetCapReached(ctx, false)
	return errors.Join(errCount, errCap)
}

// Episode reads both fields with the read-error defaults applied.
func (s *CounterStore) Episode(ctx context.Context) types.EpisodeState {
	return types.EpisodeState{
		AlertCount: s.AlertCount(ctx),
		CapReached: s.CapReached(ctx),
	}
}

func (s *CounterStore) readCount(ctx context.Context) (int, error) {
	h, err := s.be.Open(ctx, nsPowerOutage)
	if err != nil {
		return 0, err
	}
	defer h.Close()
	n, err := h.GetInt32(keyAlertCount)
	if errors.Is(err, ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	if n < 0 {
		n = 0
	}
	return int(n), nil
}

func (s *CounterStore) readCap(ctx context.Context) (bool, error) {
	h, err := s.be.Open(ctx, nsPowerOutage)
	if err != nil {
		return false, err
	}
	defer h.Close()
	b, err := h.GetUint8(keyMaxReached)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return b != 0, nil
}

func (s *CounterStore) write(ctx context.Context, op string, fn func(Handle) error) error {
	h, err := s.be.Open(ctx, nsPowerOutage)
	if err != nil {
		s.log.Error(op, zap.Error(err))
		return errcode.Wrap(errcode.StoreOpen, op, err)
	}
	defer h.Close()
	if err := fn(h); err != nil {
		s.log.Error(op, zap.Error(err))
		return err
	}
	if err := h.Commit(); err != nil {
		s.log.Error(op, zap.Error(err))
		return err
	}
	return nil
}
