package types

// ---- Operating mode ----

// Mode is chosen once per boot. Changing it requires a restart.
type Mode uint8

const (
	ModeNormal Mode = iota
	ModeConfiguration
	ModeAlert
)

func (m Mode) String() string {
	switch m {
	case ModeConfiguration:
		return "configuration"
	case ModeAlert:
		return "alert"
	default:
		return "normal"
	}
}

// ---- Wake causes ----

// WakeCause is a bitset read once at boot.
type WakeCause uint8

const (
	WakeColdBoot WakeCause = 1 << iota
	WakeExternalSignal
	WakeTimer
)

func (w WakeCause) Has(c WakeCause) bool { return w&c != 0 }

func (w WakeCause) String() string {
	if w == 0 {
		return "none"
	}
	s := ""
	add := func(name string) {
		if s != "" {
			s += "|"
		}
		s += name
	}
	if w.Has(WakeColdBoot) {
		add("cold_boot")
	}
	if w.Has(WakeExternalSignal) {
		add("external_signal")
	}
	if w.Has(WakeTimer) {
		add("timer")
	}
	return s
}

// ---- Node state (retained on the local bus at node/state) ----

type NodeState struct {
	Mode       string `json:"mode"`
	Wake       string `json:"wake"`
	AlertCount int    `json:"alert_count"`
	CapReached bool   `json:"cap_reached"`
	TSms       int64  `json:"ts_ms"`
}
