package hal

import (
	"context"
	"time"

	"sensornode/errcode"
	"sensornode/x/timex"
)

// ButtonSettle is the wait between configuring the boot button and
// sampling it.
const ButtonSettle = 100 * time.Millisecond

// ReadBootButton configures pin as a pulled-up input, lets it settle and
// reports whether it is held low.
func ReadBootButton(ctx context.Context, pin GPIOPin, sleep timex.SleepFunc) (bool, error) {
	if err := pin.ConfigureInput(PullUp); err != nil {
		return false, errcode.Wrap(errcode.Error, "button.configure", err)
	}
	if sleep == nil {
		sleep = timex.Sleep
	}
	if err := sleep(ctx, ButtonSettle); err != nil {
		return false, err
	}
	return !pin.Get(), nil
}

// PowerLine reads the mains-sense input. The line is pulled up and driven
// low while mains is present, so the logical level is the inverse of the
// pin.
type PowerLine struct {
	pin GPIOPin
}

func NewPowerLine(pin GPIOPin) (*PowerLine, error) {
	if err := pin.ConfigureInput(PullUp); err != nil {
		return nil, errcode.Wrap(errcode.Error, "power.configure", err)
	}
	return &PowerLine{pin: pin}, nil
}

// PowerLevel returns 1 with mains present, 0 without.
func (p *PowerLine) PowerLevel() int { return boolToInt(!p.pin.Get()) }

func (p *PowerLine) Pin() GPIOPin { return p.pin }

// LookupPin resolves a pin number through f.
func LookupPin(f PinFactory, n int) (GPIOPin, error) {
	p, ok := f.ByNumber(n)
	if !ok {
		return nil, errcode.UnknownPin
	}
	return p, nil
}

// LookupIRQPin resolves a pin that supports interrupts.
func LookupIRQPin(f PinFactory, n int) (IRQPin, error) {
	p, err := LookupPin(f, n)
	if err != nil {
		return nil, err
	}
	irq, ok := p.(IRQPin)
	if !ok {
		return nil, errcode.Unsupported
	}
	return irq, nil
}
