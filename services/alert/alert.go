// Package alert runs the mains-outage escalation: an immediate alert,
// capped retries, periodic telemetry and a supervisory poll that ends the
// episode once mains is confirmed back.
package alert

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"sensornode/services/hal"
	"sensornode/services/netpub"
	"sensornode/services/power"
	"sensornode/services/sched"
	"sensornode/types"
	"sensornode/x/timex"

	"go.uber.org/zap"
)

const (
	Cap             = 3
	RetryPeriod     = 30 * time.Second
	TelemetryPeriod = 300 * time.Second
	PollPeriod      = 5 * time.Second
	// TickTimeout bounds a retry publish so a stalled link cannot hold the
	// dispatcher past the next period.
	TickTimeout = 5 * time.Second
)

// Counter is the persisted episode as seen by the controller.
type Counter interface {
	AlertCount(ctx context.Context) int
	IncrementAlertCount(ctx context.Context) (int, error)
	SetCapReached(ctx context.Context, v bool) error
	ResetEpisode(ctx context.Context) error
}

type Checker interface {
	Check(ctx context.Context) (power.Verdict, error)
}

type LevelReader interface {
	PowerLevel() int
}

// Telemetry registers the periodic snapshot publish on the dispatcher.
type Telemetry interface {
	Start(d *sched.Dispatcher, period time.Duration) *sched.Schedule
}

// Machine arms the wake source and restarts the node.
type Machine interface {
	ConfigureExternalWake(pin int, edge hal.Edge) error
	Restart(reason string)
}

type Config struct {
	ClientID        string
	Cap             int
	RetryPeriod     time.Duration
	TelemetryPeriod time.Duration
	PollPeriod      time.Duration
	TickTimeout     time.Duration
	WakePin         int
	WakeEdge        hal.Edge
}

func (c *Config) defaults() {
	if c.Cap <= 0 {
		c.Cap = Cap
	}
	if c.RetryPeriod <= 0 {
		c.RetryPeriod = RetryPeriod
	}
	if c.TelemetryPeriod <= 0 {
		c.TelemetryPeriod = TelemetryPeriod
	}
	if c.PollPeriod <= 0 {
		c.PollPeriod = PollPeriod
	}
	if c.TickTimeout <= 0 || c.TickTimeout >= c.RetryPeriod {
		c.TickTimeout = TickTimeout
		if c.TickTimeout >= c.RetryPeriod {
			c.TickTimeout = c.RetryPeriod / 2
		}
	}
	if c.WakeEdge == hal.EdgeNone {
		c.WakeEdge = hal.EdgeRising
	}
}

type Deps struct {
	Publisher  netpub.Publisher
	Counter    Counter
	Power      LevelReader
	Checker    Checker
	Telemetry  Telemetry
	Dispatcher *sched.Dispatcher
	Machine    Machine
	Sleep      timex.SleepFunc
	Now        func() time.Time
}

type Controller struct {
	cfg   Config
	d     Deps
	topic string
	log   *zap.Logger

	retry *sched.Schedule
	telem *sched.Schedule

	// mu serialises retry ticks against EndEpisode; once ended is set no
	// tick touches the persisted episode again.
	mu      sync.Mutex
	ended   bool
	endOnce sync.Once
}

func New(cfg Config, d Deps, log *zap.Logger) *Controller {
	cfg.defaults()
	if d.Sleep == nil {
		d.Sleep = timex.Sleep
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	if d.Dispatcher == nil {
		d.Dispatcher = sched.New(log)
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Controller{cfg: cfg, d: d, topic: types.AlertTopic(cfg.ClientID), log: log.Named("alert")}
}

// Run sends the entry alert, starts both schedules and blocks in the
// supervisory loop until mains is restored or ctx ends.
func (c *Controller) Run(ctx context.Context) error {
	c.log.Info("alert mode entered",
		zap.Int("cap", c.cfg.Cap),
		zap.Duration("retry_period", c.cfg.RetryPeriod),
		zap.Duration("telemetry_period", c.cfg.TelemetryPeriod),
	)
	// The entry alert is unconditional and not counted against the cap.
	_ = c.sendAlert(ctx)
	c.start()

	dctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go c.d.Dispatcher.Run(dctx)

	return c.supervise(ctx)
}

func (c *Controller) start() {
	c.retry = c.d.Dispatcher.Every("alert_retry", c.cfg.RetryPeriod, c.alertTick)
	if c.d.Telemetry != nil {
		c.telem = c.d.Telemetry.Start(c.d.Dispatcher, c.cfg.TelemetryPeriod)
	}
}

// alertTick runs on the dispatcher. Below the cap it publishes and then
// counts; a failed publish is not counted. At the cap it sets the flag and
// stops retrying, leaving telemetry running. Ticks after EndEpisode are
// no-ops.
func (c *Controller) alertTick(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ended {
		return
	}
	n := c.d.Counter.AlertCount(ctx)
	if n < c.cfg.Cap {
		pctx, cancel := context.WithTimeout(ctx, c.cfg.TickTimeout)
		err := c.sendAlert(pctx)
		cancel()
		if err != nil {
			return
		}
		if next, err := c.d.Counter.IncrementAlertCount(ctx); err != nil {
			c.log.Error("alert count not persisted", zap.Error(err))
		} else {
			c.log.Info("retry alert sent", zap.Int("count", next), zap.Int("cap", c.cfg.Cap))
		}
		return
	}
	if err := c.d.Counter.SetCapReached(ctx, true); err != nil {
		c.log.Error("cap flag not persisted", zap.Error(err))
	}
	c.retry.Cancel()
	c.log.Warn("alert cap reached, retries stopped", zap.Int("count", n))
}

func (c *Controller) sendAlert(ctx context.Context) error {
	level := c.d.Power.PowerLevel()
	b, err := json.Marshal(types.NewAlert(level, c.d.Now()))
	if err != nil {
		return err
	}
	id, err := c.d.Publisher.Publish(ctx, c.topic, b, netpub.QoS1, false)
	if err != nil {
		c.log.Warn("alert publish failed", zap.String("topic", c.topic), zap.Error(err))
		return err
	}
	c.log.Info("alert sent", zap.Uint16("msg_id", uint16(id)), zap.Int("power_status", level))
	return nil
}

func (c *Controller) supervise(ctx context.Context) error {
	for {
		if err := c.d.Sleep(ctx, c.cfg.PollPeriod); err != nil {
			return err
		}
		v, err := c.d.Checker.Check(ctx)
		if err != nil {
			return err
		}
		if v != power.Restored {
			continue
		}
		c.log.Info("mains restored")
		c.EndEpisode(ctx)
		c.d.Machine.Restart("power restored")
		return nil
	}
}

// EndEpisode cancels both schedules, resets the persisted episode and
// re-arms the wake source for the next outage. It waits for an in-flight
// retry tick so the reset is the last write of the episode. Later calls do
// nothing.
func (c *Controller) EndEpisode(ctx context.Context) {
	c.endOnce.Do(func() {
		if c.retry != nil {
			c.retry.Cancel()
		}
		if c.telem != nil {
			c.telem.Cancel()
		}
		c.mu.Lock()
		c.ended = true
		err := c.d.Counter.ResetEpisode(ctx)
		c.mu.Unlock()
		if err != nil {
			c.log.Error("episode reset incomplete", zap.Error(err))
		}
		if err := c.d.Machine.ConfigureExternalWake(c.cfg.WakePin, c.cfg.WakeEdge); err != nil {
			c.log.Error("arm external wake", zap.Error(err))
		}
		c.log.Info("episode ended")
	})
}
