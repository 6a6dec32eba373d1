// Package telemetry publishes periodic climate and mains snapshots.
package telemetry

import (
	"context"
	"encoding/json"
	"time"

	"sensornode/services/netpub"
	"sensornode/services/sched"
	"sensornode/services/sensors"
	"sensornode/types"

	"go.uber.org/zap"
)

// Period is the telemetry cadence in every mode.
const Period = 300 * time.Second

// TickTimeout bounds a scheduled publish so it cannot hold the dispatcher.
const TickTimeout = 5 * time.Second

type Publisher struct {
	src   sensors.Source
	pub   netpub.Publisher
	topic string
	now   func() time.Time
	log   *zap.Logger

	// Timeout bounds each scheduled publish; zero means TickTimeout.
	Timeout time.Duration
}

func New(src sensors.Source, pub netpub.Publisher, clientID string, log *zap.Logger) *Publisher {
	if log == nil {
		log = zap.NewNop()
	}
	return &Publisher{
		src:   src,
		pub:   pub,
		topic: types.TelemetryTopic(clientID),
		now:   time.Now,
		log:   log.Named("telemetry"),
	}
}

// Snapshot reads the sources once.
func (p *Publisher) Snapshot() types.TelemetryPayload {
	return types.NewTelemetry(p.src.Temperature(), p.src.Humidity(), p.src.PowerLevel(), p.now())
}

// PublishOnce sends one snapshot at QoS 1, not retained.
func (p *Publisher) PublishOnce(ctx context.Context) (netpub.MessageID, error) {
	snap := p.Snapshot()
	b, err := json.Marshal(snap)
	if err != nil {
		return 0, err
	}
	id, err := p.pub.Publish(ctx, p.topic, b, netpub.QoS1, false)
	if err != nil {
		p.log.Warn("telemetry publish failed", zap.String("topic", p.topic), zap.Error(err))
		return 0, err
	}
	p.log.Info("telemetry sent",
		zap.Uint16("msg_id", uint16(id)),
		zap.Float64("temperature", float64(snap.Data.Temperature)),
		zap.Float64("humidity", float64(snap.Data.Humidity)),
		zap.Int("power_status", snap.Data.PowerStatus),
	)
	return id, nil
}

// Tick is the schedule callback; failures wait for the next period.
func (p *Publisher) Tick(ctx context.Context) {
	timeout := p.Timeout
	if timeout <= 0 {
		timeout = TickTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	_, _ = p.PublishOnce(ctx)
}

// Start registers the periodic publish on d.
func (p *Publisher) Start(d *sched.Dispatcher, period time.Duration) *sched.Schedule {
	if period <= 0 {
		period = Period
	}
	return d.Every("telemetry", period, p.Tick)
}
