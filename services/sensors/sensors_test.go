package sensors

import (
	"context"
	"errors"
	"math"
	"testing"

	"sensornode/errcode"
	"sensornode/services/hal"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixedLevel int

func (f fixedLevel) PowerLevel() int { return int(f) }

func simBus(chip string, c *hal.Climate) *hal.SimI2C {
	b := hal.NewSimI2C()
	switch chip {
	case ChipAHT20:
		b.Attach(0x38, hal.NewSimAHT20(c))
	case ChipSHTC3:
		b.Attach(0x70, hal.NewSimSHTC3(c))
	}
	return b
}

func TestProbeSource_SimulatedChips(t *testing.T) {
	for _, chip := range []string{ChipAHT20, ChipSHTC3} {
		t.Run(chip, func(t *testing.T) {
			climate := hal.NewClimate(21.5, 43.0)
			p, err := NewProbe(chip, simBus(chip, climate))
			require.NoError(t, err)

			s := NewProbeSource(p, fixedLevel(1), nil)
			require.NoError(t, s.Init(context.Background()))

			assert.InDelta(t, 21.5, s.Temperature(), 0.2)
			assert.InDelta(t, 43.0, s.Humidity(), 0.2)
			assert.Equal(t, 1, s.PowerLevel())
		})
	}
}

func TestProbeSource_BusFaultYieldsNaN(t *testing.T) {
	bus := simBus(ChipAHT20, hal.NewClimate(20, 50))
	p, err := NewProbe(ChipAHT20, bus)
	require.NoError(t, err)
	s := NewProbeSource(p, fixedLevel(0), nil)

	bus.SetFault(errors.New("nack"))
	assert.True(t, math.IsNaN(s.Temperature()))
	assert.True(t, math.IsNaN(s.Humidity()))
	assert.Equal(t, 0, s.PowerLevel())
}

func TestProbeSource_InitFailure(t *testing.T) {
	p, err := NewProbe(ChipSHTC3, hal.NewSimI2C())
	require.NoError(t, err)
	s := NewProbeSource(p, fixedLevel(1), nil)

	err = s.Init(context.Background())
	require.Error(t, err)
	assert.Equal(t, errcode.SensorInit, errcode.Of(err))
}

type countingProbe struct{ n int }

func (c *countingProbe) Name() string { return "count" }
func (c *countingProbe) Init() error  { return nil }
func (c *countingProbe) Measure() (float64, float64, error) {
	c.n++
	return 10, 20, nil
}

func TestProbeSource_OneReadPerSnapshot(t *testing.T) {
	p := &countingProbe{}
	s := NewProbeSource(p, fixedLevel(1), nil)
	_ = s.Temperature()
	_ = s.Humidity()
	assert.Equal(t, 1, p.n)
}

func TestNewProbe_Unknown(t *testing.T) {
	_, err := NewProbe("bme280", hal.NewSimI2C())
	assert.Equal(t, errcode.Unsupported, errcode.Of(err))
}
