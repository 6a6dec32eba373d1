// Package mode picks the operating mode for this boot.
package mode

import (
	"context"

	"sensornode/types"

	"go.uber.org/zap"
)

// Inputs are the facts gathered at boot before selection.
type Inputs struct {
	ButtonPressed bool
	Wake          types.WakeCause
	CapReached    bool
	Sample        types.PowerSample
}

// CapClearer clears the persisted cap flag.
type CapClearer interface {
	SetCapReached(ctx context.Context, v bool) error
}

// Rule identifies which selection rule matched.
type Rule uint8

const (
	RuleButton Rule = iota + 1
	RuleCapReached
	RuleExternalWake
	RulePowerAbsent
	RuleDefault
)

func (r Rule) String() string {
	switch r {
	case RuleButton:
		return "button"
	case RuleCapReached:
		return "cap_reached"
	case RuleExternalWake:
		return "external_wake"
	case RulePowerAbsent:
		return "power_absent"
	default:
		return "default"
	}
}

// Decide is the pure selection; first match wins.
func Decide(in Inputs) (types.Mode, Rule) {
	switch {
	case in.ButtonPressed:
		return types.ModeConfiguration, RuleButton
	case in.CapReached:
		return types.ModeNormal, RuleCapReached
	case in.Wake.Has(types.WakeExternalSignal):
		return types.ModeAlert, RuleExternalWake
	case in.Sample.Level == types.PowerAbsent:
		return types.ModeAlert, RulePowerAbsent
	default:
		return types.ModeNormal, RuleDefault
	}
}

type Selector struct {
	caps CapClearer
	log  *zap.Logger
}

func NewSelector(caps CapClearer, log *zap.Logger) *Selector {
	if log == nil {
		log = zap.NewNop()
	}
	return &Selector{caps: caps, log: log.Named("mode")}
}

// Select decides the mode. When the cap rule matches, the persisted cap
// flag is cleared so the next outage starts a fresh episode; the count is
// left as it is. A failed clear is logged and does not change the result.
func (s *Selector) Select(ctx context.Context, in Inputs) types.Mode {
	m, rule := Decide(in)
	if rule == RuleCapReached {
		if err := s.caps.SetCapReached(ctx, false); err != nil {
			s.log.Error("clear cap flag", zap.Error(err))
		}
	}
	s.log.Info("mode selected",
		zap.Stringer("mode", m),
		zap.Stringer("rule", rule),
		zap.Stringer("wake", in.Wake),
		zap.Bool("button", in.ButtonPressed),
		zap.Bool("cap_reached", in.CapReached),
		zap.Int("power_level", in.Sample.Level),
	)
	return m
}
