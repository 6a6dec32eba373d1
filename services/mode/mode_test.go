package mode

import (
	"context"
	"errors"
	"testing"

	"sensornode/types"
)

type fakeCaps struct {
	calls []bool
	err   error
}

func (f *fakeCaps) SetCapReached(_ context.Context, v bool) error {
	f.calls = append(f.calls, v)
	return f.err
}

func level(v int) types.PowerSample { return types.PowerSample{Level: v} }

func TestSelect_TruthTable(t *testing.T) {
	cases := []struct {
		name  string
		in    Inputs
		want  types.Mode
		clear bool
	}{
		{"button wins over everything", Inputs{true, types.WakeExternalSignal, true, level(0)}, types.ModeConfiguration, false},
		{"cap reached", Inputs{false, types.WakeExternalSignal, true, level(0)}, types.ModeNormal, true},
		{"external wake", Inputs{false, types.WakeExternalSignal, false, level(1)}, types.ModeAlert, false},
		{"timer wake without power", Inputs{false, types.WakeTimer, false, level(0)}, types.ModeAlert, false},
		{"timer wake with power", Inputs{false, types.WakeTimer, false, level(1)}, types.ModeNormal, false},
		{"cold boot with power", Inputs{false, types.WakeColdBoot, false, level(1)}, types.ModeNormal, false},
		{"cold boot without power", Inputs{false, types.WakeColdBoot, false, level(0)}, types.ModeAlert, false},
		{"external and timer", Inputs{false, types.WakeExternalSignal | types.WakeTimer, false, level(1)}, types.ModeAlert, false},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			caps := &fakeCaps{}
			got := NewSelector(caps, nil).Select(context.Background(), c.in)
			if got != c.want {
				t.Fatalf("mode=%v want %v", got, c.want)
			}
			cleared := len(caps.calls) == 1 && !caps.calls[0]
			if cleared != c.clear {
				t.Fatalf("cap clear calls=%v want cleared=%v", caps.calls, c.clear)
			}
		})
	}
}

func TestSelect_ClearFailureStillNormal(t *testing.T) {
	caps := &fakeCaps{err: errors.New("commit failed")}
	got := NewSelector(caps, nil).Select(context.Background(), Inputs{CapReached: true})
	if got != types.ModeNormal {
		t.Fatalf("mode=%v", got)
	}
}
