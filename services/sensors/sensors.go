// Package sensors reads the climate probe and the mains-sense line.
package sensors

import (
	"context"
	"math"
	"sync"
	"time"

	"sensornode/errcode"

	"go.uber.org/zap"
)

// Source is what the alert and telemetry paths read. Temperature and
// Humidity return NaN when the probe cannot be read.
type Source interface {
	Temperature() float64
	Humidity() float64
	PowerLevel() int
}

// Probe is one temperature/humidity chip.
type Probe interface {
	Name() string
	// Init checks the chip answers and leaves it ready to measure.
	Init() error
	// Measure returns °C and %RH.
	Measure() (tempC, rh float64, err error)
}

// LevelReader reads the logical mains level.
type LevelReader interface {
	PowerLevel() int
}

// maxAge bounds how long one measurement serves both Temperature and
// Humidity, so a telemetry snapshot costs a single bus read.
const maxAge = time.Second

// ProbeSource combines a probe with the power line.
type ProbeSource struct {
	probe Probe
	power LevelReader
	log   *zap.Logger

	mu   sync.Mutex
	at   time.Time
	temp float64
	rh   float64
}

func NewProbeSource(p Probe, power LevelReader, log *zap.Logger) *ProbeSource {
	if log == nil {
		log = zap.NewNop()
	}
	return &ProbeSource{probe: p, power: power, log: log.Named("sensors"), temp: math.NaN(), rh: math.NaN()}
}

// Init brings the probe up. A failure here is fatal to the caller's mode.
func (s *ProbeSource) Init(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := s.probe.Init(); err != nil {
		return errcode.Wrap(errcode.SensorInit, s.probe.Name(), err)
	}
	s.log.Info("probe ready", zap.String("chip", s.probe.Name()))
	return nil
}

func (s *ProbeSource) Temperature() float64 {
	t, _ := s.read()
	return t
}

func (s *ProbeSource) Humidity() float64 {
	_, h := s.read()
	return h
}

func (s *ProbeSource) PowerLevel() int { return s.power.PowerLevel() }

func (s *ProbeSource) read() (float64, float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.at.IsZero() && time.Since(s.at) < maxAge {
		return s.temp, s.rh
	}
	t, h, err := s.probe.Measure()
	if err != nil {
		s.log.Warn("measure failed", zap.String("chip", s.probe.Name()), zap.Error(err))
		t, h = math.NaN(), math.NaN()
	}
	s.temp, s.rh, s.at = t, h, time.Now()
	return t, h
}
