package power

import (
	"context"
	"testing"
	"time"

	"sensornode/x/timex"
)

func TestDebounce_Examples(t *testing.T) {
	cases := []struct {
		in   []int
		want Verdict
	}{
		{[]int{0, 0, 1, 1, 1}, Restored},
		{[]int{1, 1, 1, 1, 0}, Outage},
		{[]int{1, 0, 1, 0, 1}, Outage},
		{[]int{1, 1, 1, 1, 1}, Restored},
		{[]int{0, 0, 0, 0, 0}, Outage},
		{[]int{1, 1, 0, 1, 1}, Outage},
	}
	for _, c := range cases {
		if got := Debounce(c.in); got != c.want {
			t.Fatalf("Debounce(%v)=%v want %v", c.in, got, c.want)
		}
	}
}

// Every 5-sample sequence is restored exactly when its last three reads are 1.
func TestDebounce_TrailingRunExhaustive(t *testing.T) {
	for bits := 0; bits < 1<<Samples; bits++ {
		seq := make([]int, Samples)
		for i := range seq {
			seq[i] = (bits >> (Samples - 1 - i)) & 1
		}
		tail := seq[2] == 1 && seq[3] == 1 && seq[4] == 1
		if got := Debounce(seq) == Restored; got != tail {
			t.Fatalf("Debounce(%v) restored=%v want %v", seq, got, tail)
		}
	}
}

type seqReader struct {
	levels []int
	i      int
}

func (r *seqReader) PowerLevel() int {
	v := r.levels[r.i%len(r.levels)]
	r.i++
	return v
}

func TestSampler_CheckSpacing(t *testing.T) {
	r := &seqReader{levels: []int{0, 0, 1, 1, 1}}
	var waits []time.Duration
	sleep := func(ctx context.Context, d time.Duration) error {
		waits = append(waits, d)
		return nil
	}
	s := NewSampler(r, sleep, nil)
	v, err := s.Check(context.Background())
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if v != Restored {
		t.Fatalf("verdict=%v", v)
	}
	if r.i != Samples {
		t.Fatalf("reads=%d want %d", r.i, Samples)
	}
	if len(waits) != Samples-1 {
		t.Fatalf("waits=%d want %d", len(waits), Samples-1)
	}
	for _, d := range waits {
		if d != SampleInterval {
			t.Fatalf("wait %v want %v", d, SampleInterval)
		}
	}
}

func TestSampler_CheckCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	s := NewSampler(&seqReader{levels: []int{1}}, timex.NoSleep, nil)
	if _, err := s.Check(ctx); err == nil {
		t.Fatal("expected context error")
	}
}
