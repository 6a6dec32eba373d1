package node

import (
	"context"
	"sync"
	"testing"
	"time"

	"sensornode/services/hal"
	"sensornode/services/store"
	"sensornode/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type restarts struct {
	mu      sync.Mutex
	reasons []string
}

func (r *restarts) fn(reason string) {
	r.mu.Lock()
	r.reasons = append(r.reasons, reason)
	r.mu.Unlock()
}

func (r *restarts) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.reasons)
}

func newMachine(t *testing.T, mem *store.Memory, pins *hal.HostPinFactory) (*HostMachine, *restarts) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	m := NewHostMachine(ctx, mem, pins, nil)
	r := &restarts{}
	m.RestartFunc = r.fn
	return m, r
}

func TestHostMachine_ColdBootByDefault(t *testing.T) {
	m, _ := newMachine(t, store.NewMemory(), hal.NewHostPinFactory())
	assert.Equal(t, types.WakeColdBoot, m.WakeCauses())
}

func TestHostMachine_TimerWakeSurvivesRestart(t *testing.T) {
	mem := store.NewMemory()
	pins := hal.NewHostPinFactory()
	m, r := newMachine(t, mem, pins)

	require.NoError(t, m.DeepSleep(context.Background(), 5*time.Millisecond))
	assert.Equal(t, 1, r.count())

	next, _ := newMachine(t, mem, pins)
	assert.Equal(t, types.WakeTimer, next.WakeCauses())

	// Consumed by the previous boot.
	again, _ := newMachine(t, mem, pins)
	assert.Equal(t, types.WakeColdBoot, again.WakeCauses())
}

func TestHostMachine_ExternalWakeOnEdge(t *testing.T) {
	mem := store.NewMemory()
	pins := hal.NewHostPinFactory()
	pins.Pin(4).Set(false) // mains present
	m, r := newMachine(t, mem, pins)

	require.NoError(t, m.ConfigureExternalWake(4, hal.EdgeRising))
	assert.Equal(t, hal.EdgeRising, pins.Pin(4).Armed())

	done := make(chan error, 1)
	go func() { done <- m.DeepSleep(context.Background(), 0) }()

	time.Sleep(10 * time.Millisecond)
	pins.Pin(4).Set(true) // mains lost

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("edge did not wake the node")
	}
	assert.Equal(t, 1, r.count())
	assert.Equal(t, hal.EdgeNone, pins.Pin(4).Armed(), "restart disarms the wake source")

	next, _ := newMachine(t, mem, pins)
	assert.Equal(t, types.WakeExternalSignal, next.WakeCauses())
}

func TestHostMachine_LevelAlreadyAtWakeLevel(t *testing.T) {
	mem := store.NewMemory()
	pins := hal.NewHostPinFactory() // pins start high: mains already lost
	m, _ := newMachine(t, mem, pins)
	require.NoError(t, m.ConfigureExternalWake(4, hal.EdgeRising))

	require.NoError(t, m.DeepSleep(context.Background(), time.Hour))
	w, err := store.TakeWakeCause(context.Background(), mem)
	require.NoError(t, err)
	assert.Equal(t, types.WakeExternalSignal, w)
}

func TestHostMachine_SleepInterrupted(t *testing.T) {
	m, r := newMachine(t, store.NewMemory(), hal.NewHostPinFactory())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, m.DeepSleep(ctx, time.Hour), context.Canceled)
	assert.Equal(t, 0, r.count())
}
