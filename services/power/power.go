// Package power decides whether mains power is present on the supervised
// line, using a fixed trailing-stability debounce over raw pin reads.
package power

import (
	"context"
	"time"

	"sensornode/types"
	"sensornode/x/timex"

	"go.uber.org/zap"
)

const (
	Samples        = 5
	SampleInterval = 200 * time.Millisecond
	StableRun      = 3
)

// Verdict is the outcome of one sampling round.
type Verdict uint8

const (
	Outage Verdict = iota
	Restored
)

func (v Verdict) String() string {
	if v == Restored {
		return "restored"
	}
	return "outage"
}

// Debounce applies the streak rule to a sequence of levels: the running
// value starts at 0 with a count of 0; an equal read extends the streak and
// a different read starts a new one. The line is restored only when the
// final streak is of 1s and at least StableRun long.
func Debounce(levels []int) Verdict {
	last, count := 0, 0
	for _, v := range levels {
		if v == last {
			count++
		} else {
			last = v
			count = 1
		}
	}
	if last == types.PowerPresent && count >= StableRun {
		return Restored
	}
	return Outage
}

// LevelReader returns the logical power level, 0 or 1.
type LevelReader interface {
	PowerLevel() int
}

// Sampler takes Samples reads SampleInterval apart and debounces them.
type Sampler struct {
	src   LevelReader
	sleep timex.SleepFunc
	log   *zap.Logger
}

func NewSampler(src LevelReader, sleep timex.SleepFunc, log *zap.Logger) *Sampler {
	if sleep == nil {
		sleep = timex.Sleep
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Sampler{src: src, sleep: sleep, log: log.Named("power")}
}

// Sample reads the line once.
func (s *Sampler) Sample() types.PowerSample {
	return types.PowerSample{Level: s.src.PowerLevel(), At: time.Now()}
}

// Check blocks for one sampling round. It returns early with ctx.Err() if
// the context ends between reads.
func (s *Sampler) Check(ctx context.Context) (Verdict, error) {
	levels := make([]int, 0, Samples)
	for i := 0; i < Samples; i++ {
		if i > 0 {
			if err := s.sleep(ctx, SampleInterval); err != nil {
				return Outage, err
			}
		}
		levels = append(levels, s.Sample().Level)
	}
	v := Debounce(levels)
	s.log.Debug("power check", zap.Ints("levels", levels), zap.Stringer("verdict", v))
	return v, nil
}
