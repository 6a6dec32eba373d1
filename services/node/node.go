// Package node boots the sensor node: it reads the wake cause, the boot
// button and the mains line, selects the operating mode and runs it until
// the node restarts or sleeps.
package node

import (
	"context"
	"time"

	"sensornode/bus"
	"sensornode/errcode"
	"sensornode/services/alert"
	"sensornode/services/config"
	"sensornode/services/hal"
	"sensornode/services/heartbeat"
	"sensornode/services/mode"
	"sensornode/services/netpub"
	"sensornode/services/portal"
	"sensornode/services/power"
	"sensornode/services/sched"
	"sensornode/services/sensors"
	"sensornode/services/store"
	"sensornode/services/telemetry"
	"sensornode/types"
	"sensornode/x/timex"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

var topicNodeState = bus.T("node", "state")

// Node holds everything one boot needs. A Node is used for a single boot;
// the next boot builds a new one.
type Node struct {
	s       *config.Settings
	be      store.Backend
	hw      Hardware
	machine Machine
	bus     *bus.Bus
	newPub  PublisherFactory
	log     *zap.Logger

	counter *store.CounterStore
	cfgs    *store.ConfigStore
	sleep   timex.SleepFunc
	bootID  string

	// set by Run for the mode that follows
	mode types.Mode
}

func New(s *config.Settings, be store.Backend, hw Hardware, m Machine, b *bus.Bus, newPub PublisherFactory, log *zap.Logger) *Node {
	if log == nil {
		log = zap.NewNop()
	}
	id := uuid.NewString()
	log = log.With(zap.String("boot_id", id))
	return &Node{
		s:       s,
		be:      be,
		hw:      hw,
		machine: m,
		bus:     b,
		newPub:  newPub,
		log:     log,
		counter: store.NewCounterStore(be, log),
		cfgs:    store.NewConfigStore(be),
		sleep:   timex.Sleep,
		bootID:  id,
	}
}

func (n *Node) BootID() string { return n.bootID }

// Mode is the mode chosen by the last Run.
func (n *Node) Mode() types.Mode { return n.mode }

// Run performs one boot. It returns after the node has restarted or gone
// to sleep, or when ctx ends.
func (n *Node) Run(ctx context.Context) error {
	wake := n.machine.WakeCauses()
	n.log.Info("boot", zap.Stringer("wake", wake), zap.String("board", n.s.Board))

	conn := n.bus.NewConnection("node")
	defer conn.Disconnect()

	pressed := false
	if pin, err := hal.LookupPin(n.hw.Pins, n.s.Pins.Button); err != nil {
		n.log.Error("boot button", zap.Int("pin", n.s.Pins.Button), zap.Error(err))
	} else if pressed, err = hal.ReadBootButton(ctx, pin, n.sleep); err != nil {
		return err
	}

	line, err := n.powerLine()
	if err != nil {
		return n.fatal(ctx, "power line", err)
	}
	sampler := power.NewSampler(line, n.sleep, n.log)

	sel := mode.NewSelector(n.counter, n.log)
	n.mode = sel.Select(ctx, mode.Inputs{
		ButtonPressed: pressed,
		Wake:          wake,
		CapReached:    n.counter.CapReached(ctx),
		Sample:        sampler.Sample(),
	})
	n.publishState(conn, wake)

	hb := heartbeat.New(n.log)
	hb.Start(ctx, conn, n.mode)

	switch n.mode {
	case types.ModeConfiguration:
		return n.runConfiguration(ctx)
	case types.ModeAlert:
		return n.runAlert(ctx, line, sampler)
	default:
		return n.runNormal(ctx, line)
	}
}

func (n *Node) powerLine() (*hal.PowerLine, error) {
	pin, err := hal.LookupPin(n.hw.Pins, n.s.Pins.Power)
	if err != nil {
		return nil, err
	}
	return hal.NewPowerLine(pin)
}

func (n *Node) publishState(conn *bus.Connection, wake types.WakeCause) {
	ep := n.counter.Episode(context.Background())
	conn.Publish(conn.NewMessage(topicNodeState, types.NodeState{
		Mode:       n.mode.String(),
		Wake:       wake.String(),
		AlertCount: ep.AlertCount,
		CapReached: ep.CapReached,
		TSms:       timex.NowMs(),
	}, true))
}

// fatal logs err, waits the configured delay and restarts.
func (n *Node) fatal(ctx context.Context, what string, err error) error {
	n.log.Error("fatal: restarting", zap.String("stage", what), zap.Error(err),
		zap.Duration("delay", n.s.FatalRestartDelay))
	if serr := n.sleep(ctx, n.s.FatalRestartDelay); serr != nil {
		return serr
	}
	n.machine.Restart(what + " failed")
	return err
}

// deviceConfig loads the stored config, seeding it from the settings on
// first boot.
func (n *Node) deviceConfig(ctx context.Context) types.DeviceConfig {
	cfg, ok, err := n.cfgs.LoadDeviceConfig(ctx)
	if err != nil {
		n.log.Error("load device config", zap.Error(err))
	}
	if ok {
		return cfg
	}
	if n.s.Device.MQTTClientID != "" {
		if err := n.cfgs.SaveDeviceConfig(ctx, n.s.Device); err != nil {
			n.log.Error("seed device config", zap.Error(err))
		}
		return n.s.Device
	}
	n.log.Warn("no device config stored; hold the boot button to configure")
	return cfg
}

func (n *Node) sensorSource(ctx context.Context, line *hal.PowerLine) (*sensors.ProbeSource, error) {
	b, ok := n.hw.I2C.ByID(n.s.Sensor.Bus)
	if !ok {
		return nil, &errcode.E{C: errcode.UnknownBus, Op: "sensor.bus", Msg: n.s.Sensor.Bus}
	}
	probe, err := sensors.NewProbe(n.s.Sensor.Chip, b)
	if err != nil {
		return nil, err
	}
	src := sensors.NewProbeSource(probe, line, n.log)
	if err := src.Init(ctx); err != nil {
		return nil, err
	}
	return src, nil
}

func (n *Node) waitReady(ctx context.Context, pub netpub.Publisher) bool {
	to := orDefault(n.s.Publisher.ReadyTimeout, defaultReadyTimeout)
	rctx, cancel := context.WithTimeout(ctx, to)
	defer cancel()
	if err := netpub.WaitReady(rctx, pub); err != nil {
		n.log.Warn("network not ready", zap.Duration("waited", to), zap.Error(err))
		return false
	}
	return true
}

// runNormal publishes one telemetry snapshot, arms the mains-loss wake
// and sleeps for the telemetry period.
func (n *Node) runNormal(ctx context.Context, line *hal.PowerLine) error {
	src, err := n.sensorSource(ctx, line)
	if err != nil {
		return n.fatal(ctx, "sensor init", err)
	}
	cfg := n.deviceConfig(ctx)
	pub, closePub := n.newPub(cfg)
	defer closePub()

	if n.waitReady(ctx, pub) {
		tel := telemetry.New(src, pub, cfg.MQTTClientID, n.log)
		pctx, cancel := context.WithTimeout(ctx, orDefault(n.s.Publisher.DeliveryTimeout, defaultDeliveryTimeout))
		_, _ = tel.PublishOnce(pctx)
		cancel()
	}

	if err := n.machine.ConfigureExternalWake(n.s.Pins.Power, hal.EdgeRising); err != nil {
		n.log.Error("arm external wake", zap.Error(err))
	}
	return n.machine.DeepSleep(ctx, n.s.Normal.SleepPeriod)
}

func (n *Node) runAlert(ctx context.Context, line *hal.PowerLine, sampler *power.Sampler) error {
	src, err := n.sensorSource(ctx, line)
	if err != nil {
		return n.fatal(ctx, "sensor init", err)
	}
	cfg := n.deviceConfig(ctx)
	pub, closePub := n.newPub(cfg)
	defer closePub()
	n.waitReady(ctx, pub)

	d := sched.New(n.log)
	ctl := alert.New(alert.Config{
		ClientID:        cfg.MQTTClientID,
		Cap:             n.s.Alert.Cap,
		RetryPeriod:     n.s.Alert.RetryPeriod,
		TelemetryPeriod: n.s.Alert.TelemetryPeriod,
		PollPeriod:      n.s.Alert.PollPeriod,
		WakePin:         n.s.Pins.Power,
		WakeEdge:        hal.EdgeRising,
	}, alert.Deps{
		Publisher:  pub,
		Counter:    n.counter,
		Power:      line,
		Checker:    sampler,
		Telemetry:  telemetry.New(src, pub, cfg.MQTTClientID, n.log),
		Dispatcher: d,
		Machine:    n.machine,
		Sleep:      n.sleep,
	}, n.log)
	return ctl.Run(ctx)
}

func (n *Node) runConfiguration(ctx context.Context) error {
	p := portal.New(n.cfgs, n.machine, n.log)
	return p.Run(ctx, n.s.Portal.Addr)
}

// Timeouts used when the settings leave them unset.
const (
	defaultReadyTimeout    = 30 * time.Second
	defaultDeliveryTimeout = 10 * time.Second
)

func orDefault(d, def time.Duration) time.Duration {
	if d <= 0 {
		return def
	}
	return d
}
