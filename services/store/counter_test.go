package store

import (
	"context"
	"math"
	"testing"

	"sensornode/errcode"
	"sensornode/types"
)

func TestCounter_DefaultsWhenEmpty(t *testing.T) {
	s := NewCounterStore(NewMemory(), nil)
	ctx := context.Background()
	if n := s.AlertCount(ctx); n != 0 {
		t.Fatalf("count=%d want 0", n)
	}
	if s.CapReached(ctx) {
		t.Fatal("cap reached on empty store")
	}
}

func TestCounter_IncrementSurvivesRestart(t *testing.T) {
	mem := NewMemory()
	ctx := context.Background()

	s := NewCounterStore(mem, nil)
	for i := 1; i <= 3; i++ {
		n, err := s.IncrementAlertCount(ctx)
		if err != nil {
			t.Fatalf("increment %d: %v", i, err)
		}
		if n != i {
			t.Fatalf("increment returned %d want %d", n, i)
		}
	}
	if err := s.SetCapReached(ctx, true); err != nil {
		t.Fatalf("set cap: %v", err)
	}

	// A fresh store over the same medium is what the next boot sees.
	s2 := NewCounterStore(mem, nil)
	got := s2.Episode(ctx)
	if got != (types.EpisodeState{AlertCount: 3, CapReached: true}) {
		t.Fatalf("episode after restart = %+v", got)
	}
	if v, _ := mem.Raw(nsPowerOutage, keyMaxReached); v != "1" {
		t.Fatalf("max_reached raw=%q want 1", v)
	}
}

func TestCounter_ResetEpisodeIsIdempotent(t *testing.T) {
	mem := NewMemory()
	ctx := context.Background()
	s := NewCounterStore(mem, nil)
	_, _ = s.IncrementAlertCount(ctx)
	_ = s.SetCapReached(ctx, true)

	for i := 0; i < 2; i++ {
		if err := s.ResetEpisode(ctx); err != nil {
			t.Fatalf("reset %d: %v", i, err)
		}
		if got := s.Episode(ctx); got != (types.EpisodeState{}) {
			t.Fatalf("after reset %d: %+v", i, got)
		}
	}
}

func TestCounter_ReadErrorsDefault(t *testing.T) {
	mem := NewMemory()
	ctx := context.Background()
	s := NewCounterStore(mem, nil)
	_, _ = s.IncrementAlertCount(ctx)
	_ = s.SetCapReached(ctx, true)

	mem.SetFaults(false, true, false)
	if n := s.AlertCount(ctx); n != 0 {
		t.Fatalf("count on read error=%d want 0", n)
	}
	if s.CapReached(ctx) {
		t.Fatal("cap on read error should be false")
	}
	mem.SetFaults(true, false, false)
	if n := s.AlertCount(ctx); n != 0 {
		t.Fatalf("count on open error=%d want 0", n)
	}
}

func TestCounter_IncrementAbortsOnReadError(t *testing.T) {
	mem := NewMemory()
	ctx := context.Background()
	s := NewCounterStore(mem, nil)
	_, _ = s.IncrementAlertCount(ctx)
	_, _ = s.IncrementAlertCount(ctx)

	mem.SetFaults(false, true, false)
	if _, err := s.IncrementAlertCount(ctx); errcode.Of(err) != errcode.StoreRead {
		t.Fatalf("err=%v want store_read", err)
	}
	mem.SetFaults(false, false, false)
	if n := s.AlertCount(ctx); n != 2 {
		t.Fatalf("count=%d want 2 (no write after failed read)", n)
	}
}

func TestCounter_CommitFailureKeepsPriorValue(t *testing.T) {
	mem := NewMemory()
	ctx := context.Background()
	s := NewCounterStore(mem, nil)
	_, _ = s.IncrementAlertCount(ctx)

	mem.SetFaults(false, false, true)
	n, err := s.IncrementAlertCount(ctx)
	if errcode.Of(err) != errcode.StoreCommit {
		t.Fatalf("err=%v want store_commit", err)
	}
	if n != 1 {
		t.Fatalf("returned %d want prior value 1", n)
	}
	if err := s.ResetEpisode(ctx); err == nil {
		t.Fatal("reset should report commit failure")
	}

	mem.SetFaults(false, false, false)
	if got := s.AlertCount(ctx); got != 1 {
		t.Fatalf("count=%d want 1", got)
	}
	if err := s.ResetEpisode(ctx); err != nil {
		t.Fatalf("retry reset: %v", err)
	}
	if got := s.Episode(ctx); got != (types.EpisodeState{}) {
		t.Fatalf("episode=%+v", got)
	}
}

func TestHandle_CloseWithoutCommitDiscards(t *testing.T) {
	mem := NewMemory()
	ctx := context.Background()
	h, err := mem.Open(ctx, "x")
	if err != nil {
		t.Fatal(err)
	}
	_ = h.SetString("k", "v")
	if v, err := h.GetString("k"); err != nil || v != "v" {
		t.Fatalf("staged read = %q, %v", v, err)
	}
	_ = h.Close()
	if _, ok := mem.Raw("x", "k"); ok {
		t.Fatal("uncommitted write became durable")
	}
	if err := h.Commit(); err == nil {
		t.Fatal("commit after close should fail")
	}
}

func TestCounter_IncrementSaturates(t *testing.T) {
	mem := NewMemory()
	ctx := context.Background()
	h, err := mem.Open(ctx, nsPowerOutage)
	if err != nil {
		t.Fatal(err)
	}
	if err := h.SetInt32(keyAlertCount, math.MaxInt32); err != nil {
		t.Fatal(err)
	}
	if err := h.Commit(); err != nil {
		t.Fatal(err)
	}
	h.Close()

	s := NewCounterStore(mem, nil)
	n, err := s.IncrementAlertCount(ctx)
	if err != nil {
		t.Fatalf("increment: %v", err)
	}
	if n != math.MaxInt32 || s.AlertCount(ctx) != math.MaxInt32 {
		t.Fatalf("count=%d stored=%d want saturated at max", n, s.AlertCount(ctx))
	}
}
