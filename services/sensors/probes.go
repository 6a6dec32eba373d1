package sensors

import (
	"sensornode/errcode"

	"tinygo.org/x/drivers"
	"tinygo.org/x/drivers/aht20"
	"tinygo.org/x/drivers/shtc3"
)

// Chip names accepted by NewProbe.
const (
	ChipAHT20 = "aht20"
	ChipSHTC3 = "shtc3"
)

// NewProbe builds the named chip driver on bus.
func NewProbe(chip string, bus drivers.I2C) (Probe, error) {
	switch chip {
	case ChipAHT20:
		return &AHT20{dev: aht20.New(bus)}, nil
	case ChipSHTC3:
		return &SHTC3{dev: shtc3.New(bus)}, nil
	default:
		return nil, errcode.Unsupported
	}
}

type AHT20 struct {
	dev aht20.Device
}

func (p *AHT20) Name() string { return ChipAHT20 }

func (p *AHT20) Init() error {
	p.dev.Configure()
	return p.dev.Read()
}

func (p *AHT20) Measure() (float64, float64, error) {
	if err := p.dev.Read(); err != nil {
		return 0, 0, errcode.Wrap(errcode.SensorRead, ChipAHT20, err)
	}
	return float64(p.dev.DeciCelsius()) / 10, float64(p.dev.DeciRelHumidity()) / 10, nil
}

// SHTC3 is woken for each measurement and put back to sleep after.
type SHTC3 struct {
	dev shtc3.Device
}

func (p *SHTC3) Name() string { return ChipSHTC3 }

func (p *SHTC3) Init() error {
	_, _, err := p.Measure()
	return err
}

func (p *SHTC3) Measure() (float64, float64, error) {
	if err := p.dev.WakeUp(); err != nil {
		return 0, 0, errcode.Wrap(errcode.SensorRead, ChipSHTC3, err)
	}
	defer func() { _ = p.dev.Sleep() }()

	mc, rhx100, err := p.dev.ReadTemperatureHumidity()
	if err != nil {
		return 0, 0, errcode.Wrap(errcode.SensorRead, ChipSHTC3, err)
	}
	// milli-°C and hundredths of %RH.
	return float64(mc) / 1000, float64(rhx100) / 100, nil
}
