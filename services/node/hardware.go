package node

import (
	"context"
	"encoding/json"
	"fmt"

	"sensornode/bus"
	"sensornode/errcode"
	"sensornode/services/config"
	"sensornode/services/hal"
	"sensornode/services/netpub"
	"sensornode/services/store"
	"sensornode/types"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// Sensor addresses on the I²C bus.
const (
	AddrAHT20 = 0x38
	AddrSHTC3 = 0x70
)

// Hardware is what the node reads at boot and in its modes.
type Hardware struct {
	Pins hal.PinFactory
	I2C  hal.I2CBusFactory
}

// Sim is the host stand-in for the board: fake pins and a simulated
// sensor on its own bus.
type Sim struct {
	Pins    *hal.HostPinFactory
	Bus     *hal.SimI2C
	Climate *hal.Climate

	powerPin  int
	buttonPin int
}

// NewSim builds the simulated board from the settings' sim section.
func NewSim(s *config.Settings) *Sim {
	sim := &Sim{
		Pins:      hal.NewHostPinFactory(),
		Bus:       hal.NewSimI2C(),
		Climate:   hal.NewClimate(s.Sim.Temperature, s.Sim.Humidity),
		powerPin:  s.Pins.Power,
		buttonPin: s.Pins.Button,
	}
	switch s.Sensor.Chip {
	case "shtc3":
		sim.Bus.Attach(AddrSHTC3, hal.NewSimSHTC3(sim.Climate))
	default:
		sim.Bus.Attach(AddrAHT20, hal.NewSimAHT20(sim.Climate))
	}
	sim.SetPower(s.Sim.PowerPresent)
	sim.SetButton(s.Sim.ButtonHeld)
	return sim
}

// SetPower drives the mains-sense line: low while mains is present.
func (s *Sim) SetPower(present bool) { s.Pins.Pin(s.powerPin).Set(!present) }

func (s *Sim) PowerPresent() bool { return !s.Pins.Pin(s.powerPin).Get() }

// SetButton holds the boot button, which pulls its line low.
func (s *Sim) SetButton(held bool) { s.Pins.Pin(s.buttonPin).Set(!held) }

// Drive applies sim/power, sim/button and sim/climate messages from the
// bus until ctx ends. Payloads are booleans, or {"temperature","humidity"}
// for the climate, either as values or JSON bytes.
func (s *Sim) Drive(ctx context.Context, conn *bus.Connection, log *zap.Logger) {
	if log == nil {
		log = zap.NewNop()
	}
	log = log.Named("sim")
	sub := conn.Subscribe(bus.T("sim", "+"))
	defer conn.Unsubscribe(sub)
	for {
		select {
		case <-ctx.Done():
			return
		case m, ok := <-sub.Channel():
			if !ok {
				return
			}
			if err := s.apply(m); err != nil {
				log.Warn("ignored sim input", zap.String("topic", m.Topic.String()), zap.Error(err))
			}
		}
	}
}

func (s *Sim) apply(m *bus.Message) error {
	v := m.Payload
	if b, ok := v.([]byte); ok {
		if err := json.Unmarshal(b, &v); err != nil {
			return err
		}
	}
	switch m.Topic[1] {
	case "power", "button":
		on, ok := v.(bool)
		if !ok {
			return fmt.Errorf("want bool, got %T", v)
		}
		if m.Topic[1] == "power" {
			s.SetPower(on)
		} else {
			s.SetButton(on)
		}
	case "climate":
		c, ok := v.(map[string]any)
		if !ok {
			return fmt.Errorf("want object, got %T", v)
		}
		t, _ := c["temperature"].(float64)
		h, _ := c["humidity"].(float64)
		s.Climate.Set(t, h)
	default:
		return fmt.Errorf("unknown input %q", m.Topic[1])
	}
	return nil
}

func (s *Sim) Hardware(busID string) Hardware {
	return Hardware{
		Pins: s.Pins,
		I2C:  hal.NewSimI2CFactory(map[string]*hal.SimI2C{busID: s.Bus}),
	}
}

// OpenBackend opens the configured durable store. The returned func
// releases it.
func OpenBackend(ctx context.Context, s *config.Settings) (store.Backend, func() error, error) {
	switch s.Store.Backend {
	case "sqlite":
		db, err := store.OpenSQLite(s.Store.Path)
		if err != nil {
			return nil, nil, err
		}
		return db, db.Close, nil
	case "redis":
		rc := redis.NewClient(&redis.Options{
			Addr:     s.Store.Redis.Addr,
			Password: s.Store.Redis.Password,
			DB:       s.Store.Redis.DB,
		})
		if err := rc.Ping(ctx).Err(); err != nil {
			_ = rc.Close()
			return nil, nil, errcode.Wrap(errcode.StoreOpen, "redis.ping", err)
		}
		return store.NewRedis(rc, s.Store.Redis.Prefix), rc.Close, nil
	case "memory":
		return store.NewMemory(), func() error { return nil }, nil
	}
	return nil, nil, fmt.Errorf("unknown store backend %q", s.Store.Backend)
}

// PublisherFactory builds the outbound transport for a device config.
// The returned func disconnects it.
type PublisherFactory func(cfg types.DeviceConfig) (netpub.Publisher, func())

// NewPublisherFactory picks MQTT or the local bus per the settings.
func NewPublisherFactory(s *config.Settings, b *bus.Bus, log *zap.Logger) PublisherFactory {
	if s.Publisher.Kind == "mqtt" {
		return func(cfg types.DeviceConfig) (netpub.Publisher, func()) {
			m := netpub.NewMQTT(cfg, log)
			m.Connect()
			return m, m.Disconnect
		}
	}
	return func(types.DeviceConfig) (netpub.Publisher, func()) {
		return netpub.NewLocal(b), func() {}
	}
}
