// Package sched runs periodic callbacks on a single dispatch goroutine.
// Callbacks never overlap; each should be short and may cancel any
// schedule, including its own.
package sched

import (
	"container/heap"
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

type Func func(ctx context.Context)

type item struct {
	s     *Schedule
	due   int64
	index int
}

type itemHeap []*item

func (h itemHeap) Len() int           { return len(h) }
func (h itemHeap) Less(i, j int) bool { return h[i].due < h[j].due }
func (h itemHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i]; h[i].index = i; h[j].index = j }
func (h *itemHeap) Push(x any)        { it := x.(*item); it.index = len(*h); *h = append(*h, it) }
func (h *itemHeap) Pop() any {
	old := *h
	n := len(old)
	it := old[n-1]
	it.index = -1
	*h = old[:n-1]
	return it
}
func (h itemHeap) Top() *item {
	if len(h) == 0 {
		return nil
	}
	return h[0]
}

// Schedule is a handle on one periodic callback.
type Schedule struct {
	d      *Dispatcher
	name   string
	period time.Duration
	fn     Func
	it     *item // nil once cancelled
	fired  int
}

func (s *Schedule) Name() string { return s.name }

// Cancel stops future firings. Safe to call more than once and from any
// goroutine, including the schedule's own callback.
func (s *Schedule) Cancel() { s.d.cancel(s) }

// Active reports whether the schedule will fire again.
func (s *Schedule) Active() bool {
	s.d.mu.Lock()
	defer s.d.mu.Unlock()
	return s.it != nil
}

// Fired returns how many times the callback has started.
func (s *Schedule) Fired() int {
	s.d.mu.Lock()
	defer s.d.mu.Unlock()
	return s.fired
}

type Dispatcher struct {
	mu   sync.Mutex
	wake chan struct{}
	h    itemHeap
	log  *zap.Logger
}

func New(log *zap.Logger) *Dispatcher {
	if log == nil {
		log = zap.NewNop()
	}
	return &Dispatcher{
		wake: make(chan struct{}, 1),
		log:  log.Named("sched"),
	}
}

// Every registers fn to run each period, first after one period.
// A non-positive period yields an inactive schedule.
func (d *Dispatcher) Every(name string, period time.Duration, fn Func) *Schedule {
	s := &Schedule{d: d, name: name, period: period, fn: fn}
	if period <= 0 || fn == nil {
		return s
	}
	d.mu.Lock()
	s.it = &item{s: s, due: time.Now().Add(period).UnixNano(), index: -1}
	heap.Push(&d.h, s.it)
	d.mu.Unlock()
	d.wakeup()
	d.log.Debug("schedule started", zap.String("name", name), zap.Duration("period", period))
	return s
}

// Len returns the number of active schedules.
func (d *Dispatcher) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.h.Len()
}

func (d *Dispatcher) cancel(s *Schedule) {
	d.mu.Lock()
	it := s.it
	if it != nil {
		if it.index >= 0 {
			heap.Remove(&d.h, it.index)
		}
		s.it = nil
	}
	d.mu.Unlock()
	if it != nil {
		d.wakeup()
		d.log.Debug("schedule cancelled", zap.String("name", s.name))
	}
}

// Run dispatches due callbacks until ctx ends.
func (d *Dispatcher) Run(ctx context.Context) {
	timer := time.NewTimer(time.Hour)
	defer timer.Stop()

	for {
		if ctx.Err() != nil {
			return
		}
		wait := d.nextWait()
		if wait < 0 {
			select {
			case <-ctx.Done():
				return
			case <-d.wake:
				continue
			}
		}
		if wait == 0 {
			var fire *Schedule

			d.mu.Lock()
			now := time.Now().UnixNano()
			top := d.h.Top()
			if top != nil && top.due <= now {
				// Re-arm before the callback so it can cancel itself.
				top.due = now + int64(top.s.period)
				heap.Fix(&d.h, top.index)
				fire = top.s
				fire.fired++
			}
			d.mu.Unlock()

			if fire != nil {
				fire.fn(ctx)
			}
			continue
		}

		timer.Reset(time.Duration(wait))
		select {
		case <-ctx.Done():
			return
		case <-d.wake:
			if !timer.Stop() {
				<-timer.C
			}
		case <-timer.C:
		}
	}
}

func (d *Dispatcher) nextWait() int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	top := d.h.Top()
	if top == nil {
		return -1
	}
	now := time.Now().UnixNano()
	if top.due <= now {
		return 0
	}
	return top.due - now
}

func (d *Dispatcher) wakeup() {
	select {
	case d.wake <- struct{}{}:
	default:
	}
}
