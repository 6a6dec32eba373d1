package node

import (
	"context"
	"os"
	"sync"
	"syscall"
	"time"

	"sensornode/errcode"
	"sensornode/services/hal"
	"sensornode/services/store"
	"sensornode/types"

	"go.uber.org/zap"
)

const wakeID = "wake"

// Machine is the node's view of the processor: wake sources, deep sleep
// and reset.
type Machine interface {
	WakeCauses() types.WakeCause
	ConfigureExternalWake(pin int, edge hal.Edge) error
	// DeepSleep returns only if ctx ends first. d <= 0 sleeps until the
	// external wake fires.
	DeepSleep(ctx context.Context, d time.Duration) error
	Restart(reason string)
}

// HostMachine emulates deep sleep and reset on a host. Restart re-executes
// the binary, so all in-memory state is lost; deep sleep records the wake
// cause in the store before restarting.
type HostMachine struct {
	be      store.Backend
	pins    hal.PinFactory
	watcher *hal.Watcher
	log     *zap.Logger
	wake    types.WakeCause

	// RestartFunc replaces the process re-exec, e.g. for an in-process
	// reboot loop.
	RestartFunc func(reason string)

	mu       sync.Mutex
	armedPin hal.IRQPin
	armed    hal.Edge
	disarm   func()
}

// NewHostMachine consumes the wake cause recorded by the previous deep
// sleep. The edge watcher runs until ctx ends.
func NewHostMachine(ctx context.Context, be store.Backend, pins hal.PinFactory, log *zap.Logger) *HostMachine {
	if log == nil {
		log = zap.NewNop()
	}
	m := &HostMachine{
		be:      be,
		pins:    pins,
		watcher: hal.NewWatcher(4, 4),
		log:     log.Named("machine"),
	}
	w, err := store.TakeWakeCause(ctx, be)
	if err != nil {
		m.log.Warn("read wake cause", zap.Error(err))
	}
	m.wake = w
	m.watcher.Start(ctx)
	return m
}

func (m *HostMachine) WakeCauses() types.WakeCause { return m.wake }

// ConfigureExternalWake arms edge on pin, replacing any earlier source.
func (m *HostMachine) ConfigureExternalWake(pin int, edge hal.Edge) error {
	p, err := hal.LookupIRQPin(m.pins, pin)
	if err != nil {
		return errcode.Wrap(errcode.UnknownPin, "machine.wake", err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.disarm != nil {
		m.disarm()
		m.disarm = nil
	}
	cancel, err := m.watcher.Register(wakeID, p, edge, 0, false)
	if err != nil {
		return errcode.Wrap(errcode.Error, "machine.wake", err)
	}
	m.armedPin, m.armed, m.disarm = p, edge, cancel
	m.log.Info("external wake armed", zap.Int("pin", pin), zap.Stringer("edge", edge))
	return nil
}

// levelWake reports whether the armed line already sits at the level its
// edge leads to. The wake source is level sensitive, so such a line wakes
// the node at once.
func (m *HostMachine) levelWake() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.armedPin == nil {
		return false
	}
	switch m.armed {
	case hal.EdgeRising:
		return m.armedPin.Get()
	case hal.EdgeFalling:
		return !m.armedPin.Get()
	}
	return false
}

func (m *HostMachine) DeepSleep(ctx context.Context, d time.Duration) error {
	m.log.Info("entering deep sleep", zap.Duration("period", d))

	var timer <-chan time.Time
	if d > 0 {
		t := time.NewTimer(d)
		defer t.Stop()
		timer = t.C
	}

	cause := types.WakeExternalSignal
	if !m.levelWake() {
	wait:
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-timer:
				cause = types.WakeTimer
				break wait
			case ev := <-m.watcher.Events():
				if ev.ID == wakeID {
					break wait
				}
			}
		}
	}

	if err := store.SaveWakeCause(ctx, m.be, cause); err != nil {
		m.log.Error("persist wake cause", zap.Error(err))
	}
	m.Restart("wake from deep sleep: " + cause.String())
	return nil
}

// Restart disarms the wake source and resets the node. With no
// RestartFunc the process image is replaced and Restart does not return.
func (m *HostMachine) Restart(reason string) {
	m.log.Warn("restarting", zap.String("reason", reason))
	m.mu.Lock()
	if m.disarm != nil {
		m.disarm()
		m.disarm = nil
	}
	m.armedPin, m.armed = nil, hal.EdgeNone
	m.mu.Unlock()

	if m.RestartFunc != nil {
		m.RestartFunc(reason)
		return
	}
	if err := Reexec(); err != nil {
		m.log.Error("re-exec failed", zap.Error(err))
		_ = m.log.Sync()
		os.Exit(1)
	}
}

// Reexec replaces the running process with a fresh copy of itself.
func Reexec() error {
	exe, err := os.Executable()
	if err != nil {
		return err
	}
	return syscall.Exec(exe, os.Args, os.Environ())
}
