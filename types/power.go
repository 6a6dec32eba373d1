package types

import "time"

// Power line levels after inversion of the physical pin.
const (
	PowerAbsent  = 0
	PowerPresent = 1
)

// PowerSample is produced by the sampler and consumed immediately.
type PowerSample struct {
	Level int       // 0 or 1
	At    time.Time // carries the monotonic reading
}

// EpisodeState is the persisted alert episode.
// Reset to the zero value only when power restoration is confirmed.
type EpisodeState struct {
	AlertCount int
	CapReached bool
}
