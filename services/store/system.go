package store

import (
	"context"
	"errors"

	"sensornode/types"
)

const (
	nsSystem     = "system"
	keyWakeCause = "wake_cause"
)

// SaveWakeCause records why the next boot happens. Used by the host deep
// sleep emulation, which survives the sleep by restarting the process.
func SaveWakeCause(ctx context.Context, be Backend, w types.WakeCause) error {
	h, err := be.Open(ctx, nsSystem)
	if err != nil {
		return err
	}
	defer h.Close()
	if err := h.SetUint8(keyWakeCause, uint8(w)); err != nil {
		return err
	}
	return h.Commit()
}

// TakeWakeCause returns and erases the recorded wake cause. With nothing
// recorded the boot is a cold boot.
func TakeWakeCause(ctx context.Context, be Backend) (types.WakeCause, error) {
	h, err := be.Open(ctx, nsSystem)
	if err != nil {
		return types.WakeColdBoot, err
	}
	defer h.Close()
	v, err := h.GetUint8(keyWakeCause)
	if errors.Is(err, ErrNotFound) {
		return types.WakeColdBoot, nil
	}
	if err != nil {
		return types.WakeColdBoot, err
	}
	if err := h.Erase(keyWakeCause); err != nil {
		return types.WakeCause(v), err
	}
	if err := h.Commit(); err != nil {
		return types.WakeCause(v), err
	}
	if v == 0 {
		return types.WakeColdBoot, nil
	}
	return types.WakeCause(v), nil
}
