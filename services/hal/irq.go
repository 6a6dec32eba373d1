package hal

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// EdgeEvent is delivered by the Watcher after debounce.
type EdgeEvent struct {
	ID    string
	Level int // 0/1 after inversion
	Edge  Edge
	TS    time.Time
}

// Watcher turns pin interrupts into debounced EdgeEvents. The interrupt
// handler only samples the pin and queues without blocking; edge
// detection runs on the watcher goroutine.
type Watcher struct {
	isrQ chan isrEvent
	outQ chan EdgeEvent

	mu     sync.RWMutex
	inputs map[string]*watch

	drops atomic.Uint32
}

type isrEvent struct {
	id    string
	level bool
}

type watch struct {
	edge      Edge
	debounce  time.Duration
	invert    bool
	lastLevel bool
	lastEvent time.Time
	cancelIRQ func()
}

func NewWatcher(isrBuf, outBuf int) *Watcher {
	if isrBuf <= 0 {
		isrBuf = 16
	}
	if outBuf <= 0 {
		outBuf = 16
	}
	return &Watcher{
		isrQ:   make(chan isrEvent, isrBuf),
		outQ:   make(chan EdgeEvent, outBuf),
		inputs: map[string]*watch{},
	}
}

func (w *Watcher) Start(ctx context.Context) {
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case ev := <-w.isrQ:
				w.handleISR(ev)
			}
		}
	}()
}

func (w *Watcher) Events() <-chan EdgeEvent { return w.outQ }

// Register arms edge on pin under id. Edges refer to the logical level,
// after inversion. The returned func disarms it.
func (w *Watcher) Register(id string, pin IRQPin, edge Edge, debounce time.Duration, invert bool) (func(), error) {
	if edge == EdgeNone {
		return func() {}, nil
	}
	init := pin.Get()
	if invert {
		init = !init
	}
	wh := &watch{edge: edge, debounce: debounce, invert: invert, lastLevel: init}

	// Physical and logical edges swap under inversion.
	phys := edge
	if invert {
		switch edge {
		case EdgeRising:
			phys = EdgeFalling
		case EdgeFalling:
			phys = EdgeRising
		}
	}
	handler := func() {
		select {
		case w.isrQ <- isrEvent{id: id, level: pin.Get()}:
		default:
			w.drops.Add(1)
		}
	}
	if err := pin.SetIRQ(phys, handler); err != nil {
		return nil, err
	}
	wh.cancelIRQ = func() { _ = pin.ClearIRQ() }

	w.mu.Lock()
	w.inputs[id] = wh
	w.mu.Unlock()

	return func() {
		w.mu.Lock()
		if cur, ok := w.inputs[id]; ok {
			cur.cancelIRQ()
			delete(w.inputs, id)
		}
		w.mu.Unlock()
	}, nil
}

func (w *Watcher) handleISR(ev isrEvent) {
	w.mu.RLock()
	wh := w.inputs[ev.id]
	w.mu.RUnlock()
	if wh == nil {
		return
	}
	lvl := ev.level
	if wh.invert {
		lvl = !lvl
	}
	now := time.Now()

	if !wh.lastEvent.IsZero() && now.Sub(wh.lastEvent) < wh.debounce {
		wh.lastLevel = lvl
		return
	}

	var e Edge
	if wh.edge == EdgeBoth {
		switch {
		case !wh.lastLevel && lvl:
			e = EdgeRising
		case wh.lastLevel && !lvl:
			e = EdgeFalling
		}
	} else {
		// Only the configured edge raises the interrupt.
		e = wh.edge
	}

	if e != EdgeNone {
		select {
		case w.outQ <- EdgeEvent{ID: ev.id, Level: boolToInt(lvl), Edge: e, TS: now}:
		default:
		}
	}
	wh.lastLevel = lvl
	wh.lastEvent = now
}

// Drops counts interrupts lost to a full queue.
func (w *Watcher) Drops() uint32 { return w.drops.Load() }
