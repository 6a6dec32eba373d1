// Package heartbeat publishes a liveness beat on the local bus while a
// long-running mode (alert, configuration) is active.
package heartbeat

import (
	"context"
	"time"

	"sensornode/bus"
	"sensornode/types"

	"go.uber.org/zap"
)

var (
	topicConfigHeartbeat = bus.T("config", "heartbeat")
	topicHeartbeat       = bus.T("node", "heartbeat")
)

const DefaultInterval = 60 * time.Second

type Beat struct {
	Mode     string `json:"mode"`
	UptimeMs int64  `json:"uptime_ms"`
	Seq      uint64 `json:"seq"`
}

type Service struct {
	log     *zap.Logger
	started time.Time
	seq     uint64
}

func New(log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{log: log.Named("heartbeat")}
}

func (s *Service) serviceLoop(ctx context.Context, conn *bus.Connection, m types.Mode, interval time.Duration) {
	cfgSub := conn.Subscribe(topicConfigHeartbeat)
	defer conn.Unsubscribe(cfgSub)

	tick := time.NewTicker(interval)
	defer tick.Stop()

	for {
		select {
		case <-ctx.Done():
			s.log.Debug("heartbeat stopping")
			return
		case now := <-tick.C:
			s.beat(conn, m, now)
		case msg, ok := <-cfgSub.Channel():
			if !ok {
				return
			}
			if d, ok := intervalFrom(msg.Payload); ok {
				tick.Reset(d)
				s.log.Info("heartbeat interval set", zap.Duration("interval", d))
			}
		}
	}
}

func (s *Service) beat(conn *bus.Connection, m types.Mode, now time.Time) {
	s.seq++
	b := Beat{Mode: m.String(), UptimeMs: now.Sub(s.started).Milliseconds(), Seq: s.seq}
	conn.Publish(conn.NewMessage(topicHeartbeat, b, false))
	s.log.Debug("beat", zap.Uint64("seq", b.Seq), zap.Int64("uptime_ms", b.UptimeMs))
}

// intervalFrom accepts {"interval": seconds} or a duration string.
func intervalFrom(p any) (time.Duration, bool) {
	switch v := p.(type) {
	case map[string]any:
		if f, ok := v["interval"].(float64); ok && f > 0 {
			return time.Duration(f * float64(time.Second)), true
		}
	case string:
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			return d, true
		}
	case time.Duration:
		if v > 0 {
			return v, true
		}
	}
	return 0, false
}

// Start runs the heartbeat until ctx ends. Normal mode sleeps straight
// away, so it gets no heartbeat.
func (s *Service) Start(ctx context.Context, conn *bus.Connection, m types.Mode) {
	if m == types.ModeNormal {
		return
	}
	s.started = time.Now()
	go s.serviceLoop(ctx, conn, m, DefaultInterval)
}
