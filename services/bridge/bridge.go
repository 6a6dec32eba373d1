// Package bridge mirrors local bus topics over a stream link and publishes
// messages received from the peer onto the local bus. It is how an
// external harness watches a simulated node and drives its inputs.
package bridge

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"sensornode/bus"

	"go.uber.org/zap"
)

var (
	topicConfig = bus.T("config", "bridge")
	topicState  = bus.T("bridge", "state")
)

// Start runs the bridge until ctx is cancelled. It waits for its config
// on config/bridge and (re)configures the link on every update.
func Start(ctx context.Context, conn *bus.Connection, log *zap.Logger) {
	if log == nil {
		log = zap.NewNop()
	}
	s := &Service{conn: conn, log: log.Named("bridge")}
	s.run(ctx)
}

// -----------------------------------------------------------------------------
// Configuration
// -----------------------------------------------------------------------------

type Config struct {
	Transport TransportConfig `json:"transport" mapstructure:"transport"`
	// Forward lists topic patterns mirrored to the peer ("sensors/#").
	Forward []string `json:"forward" mapstructure:"forward"`
}

type TransportConfig struct {
	// "tcp" or a name registered via RegisterTransport. Empty disables
	// the link.
	Type string `json:"type" mapstructure:"type"`
	Addr string `json:"addr" mapstructure:"addr"`
}

// -----------------------------------------------------------------------------
// Service
// -----------------------------------------------------------------------------

type Service struct {
	conn *bus.Connection
	log  *zap.Logger

	mu     sync.Mutex
	curRun context.CancelFunc
	curCfg atomic.Value // Config
}

func (s *Service) run(ctx context.Context) {
	cfgSub := s.conn.Subscribe(topicConfig)
	defer s.conn.Unsubscribe(cfgSub)

	s.publishState("idle", "awaiting_config", nil)

	for {
		select {
		case <-ctx.Done():
			s.stopCurrent()
			return
		case msg, ok := <-cfgSub.Channel():
			if !ok {
				s.publishState("error", "config_subscription_closed", nil)
				return
			}
			cfg, err := decodeConfig(msg.Payload)
			if err != nil {
				s.publishState("error", "config_decode_failed", err)
				continue
			}
			if cfg.Transport.Type == "" {
				s.stopCurrent()
				s.publishState("idle", "disabled", nil)
				continue
			}
			s.reconfigure(ctx, cfg)
		}
	}
}

func (s *Service) stopCurrent() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.curRun != nil {
		s.curRun()
		s.curRun = nil
	}
}

func (s *Service) reconfigure(parent context.Context, cfg Config) {
	s.mu.Lock()
	if s.curRun != nil {
		s.curRun()
		s.curRun = nil
	}
	ctx, cancel := context.WithCancel(parent)
	s.curRun = cancel
	s.mu.Unlock()

	s.curCfg.Store(cfg)
	go s.runLink(ctx, cfg)
}

// -----------------------------------------------------------------------------
// Link supervision and I/O
// -----------------------------------------------------------------------------

func (s *Service) runLink(ctx context.Context, cfg Config) {
	tr, err := newTransport(cfg.Transport)
	if err != nil {
		s.publishState("error", "transport_init_failed", err)
		return
	}

	backoff := backoffSeq(250*time.Millisecond, 5*time.Second)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		rwc, err := tr.Open(ctx)
		if err != nil {
			delay := backoff()
			s.publishState("degraded", "dial_failed_retrying", fmt.Errorf("%v (retry in %s)", err, delay))
			if !sleep(ctx, delay) {
				return
			}
			continue
		}

		s.publishState("up", "link_established", nil)
		s.log.Info("link up", zap.String("transport", tr.String()))
		if err := s.handleLink(ctx, rwc, cfg.Forward); err != nil {
			_ = rwc.Close()
			delay := backoff()
			s.publishState("degraded", "link_lost_retrying", fmt.Errorf("%v (retry in %s)", err, delay))
			if !sleep(ctx, delay) {
				return
			}
			continue
		}
		_ = rwc.Close()
		return
	}
}

// handleLink forwards matching bus messages to the peer and publishes the
// peer's pub frames locally until either side closes.
func (s *Service) handleLink(ctx context.Context, rwc io.ReadWriteCloser, forward []string) error {
	rd := newFrameReader(rwc)
	wr := newFrameWriter(rwc)

	errCh := make(chan error, 1)
	go func() {
		defer close(errCh)
		for {
			f, err := rd.ReadFrame()
			if err != nil {
				errCh <- err
				return
			}
			switch f.Type {
			case framePub:
				if len(f.Topic) == 0 {
					continue
				}
				s.conn.Publish(s.conn.NewMessage(bus.Parse(f.Topic), []byte(f.Payload), f.Retained))
			case framePing:
				_ = wr.WriteFrame(Frame{Type: framePong})
			}
		}
	}()

	fwd := make(chan *bus.Message, 32)
	subs := make([]*bus.Subscription, 0, len(forward))
	for _, pat := range forward {
		sub := s.conn.Subscribe(bus.Parse(pat))
		subs = append(subs, sub)
		go func(sub *bus.Subscription) {
			for m := range sub.Channel() {
				select {
				case fwd <- m:
				case <-ctx.Done():
					return
				}
			}
		}(sub)
	}
	defer func() {
		for _, sub := range subs {
			s.conn.Unsubscribe(sub)
		}
	}()

	tick := time.NewTicker(5 * time.Second)
	defer tick.Stop()

	for {
		select {
		case <-ctx.Done():
			_ = wr.WriteFrame(Frame{Type: frameClose})
			return nil
		case err := <-errCh:
			if err == nil || errors.Is(err, io.EOF) {
				return io.ErrUnexpectedEOF
			}
			return err
		case m := <-fwd:
			f, err := pubFrame(m)
			if err != nil {
				s.log.Warn("drop unencodable message", zap.String("topic", m.Topic.String()), zap.Error(err))
				continue
			}
			if err := wr.WriteFrame(f); err != nil {
				return err
			}
		case <-tick.C:
			if err := wr.WriteFrame(Frame{Type: framePing}); err != nil {
				return err
			}
		}
	}
}

// -----------------------------------------------------------------------------
// Transport registry
// -----------------------------------------------------------------------------

// Transport is a pluggable link dialler.
type Transport interface {
	Open(ctx context.Context) (io.ReadWriteCloser, error)
	String() string
}

type transportFactory func(TransportConfig) (Transport, error)

var (
	regMu    sync.RWMutex
	registry = map[string]transportFactory{}
)

// RegisterTransport adds a transport under name.
func RegisterTransport(name string, f transportFactory) {
	regMu.Lock()
	defer regMu.Unlock()
	registry[name] = f
}

func newTransport(cfg TransportConfig) (Transport, error) {
	regMu.RLock()
	f, ok := registry[cfg.Type]
	regMu.RUnlock()
	if ok {
		return f(cfg)
	}
	switch cfg.Type {
	case "tcp":
		if cfg.Addr == "" {
			return nil, errors.New("tcp transport requires addr")
		}
		return tcpTransport{addr: cfg.Addr}, nil
	default:
		return nil, fmt.Errorf("unknown transport type: %q", cfg.Type)
	}
}

type tcpTransport struct{ addr string }

func (t tcpTransport) Open(ctx context.Context) (io.ReadWriteCloser, error) {
	var d net.Dialer
	return d.DialContext(ctx, "tcp", t.addr)
}

func (t tcpTransport) String() string { return "tcp " + t.addr }

// -----------------------------------------------------------------------------
// Framing: one JSON object per line
// -----------------------------------------------------------------------------

const (
	framePing  = "ping"
	framePong  = "pong"
	framePub   = "pub"
	frameClose = "close"
)

type Frame struct {
	Type     string          `json:"type"`
	Topic    string          `json:"topic,omitempty"`
	Payload  json.RawMessage `json:"payload,omitempty"`
	Retained bool            `json:"retained,omitempty"`
}

const maxFrame = 64 * 1024

type frameReader struct{ sc *bufio.Scanner }
type frameWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func newFrameReader(r io.Reader) *frameReader {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 1024), maxFrame)
	return &frameReader{sc: sc}
}

func newFrameWriter(w io.Writer) *frameWriter { return &frameWriter{w: w} }

func (fr *frameReader) ReadFrame() (Frame, error) {
	for fr.sc.Scan() {
		line := fr.sc.Bytes()
		if len(line) == 0 {
			continue
		}
		var f Frame
		if err := json.Unmarshal(line, &f); err != nil {
			return Frame{}, fmt.Errorf("bad frame: %w", err)
		}
		return f, nil
	}
	if err := fr.sc.Err(); err != nil {
		return Frame{}, err
	}
	return Frame{}, io.EOF
}

func (fw *frameWriter) WriteFrame(f Frame) error {
	b, err := json.Marshal(f)
	if err != nil {
		return err
	}
	if len(b) >= maxFrame {
		return fmt.Errorf("frame too large: %d", len(b))
	}
	fw.mu.Lock()
	defer fw.mu.Unlock()
	_, err = fw.w.Write(append(b, '\n'))
	return err
}

// pubFrame encodes a bus message. Raw byte payloads that are valid JSON
// pass through unchanged; anything else is marshalled.
func pubFrame(m *bus.Message) (Frame, error) {
	var raw json.RawMessage
	switch p := m.Payload.(type) {
	case []byte:
		if json.Valid(p) {
			raw = p
			break
		}
		b, err := json.Marshal(string(p))
		if err != nil {
			return Frame{}, err
		}
		raw = b
	default:
		b, err := json.Marshal(p)
		if err != nil {
			return Frame{}, err
		}
		raw = b
	}
	return Frame{Type: framePub, Topic: m.Topic.String(), Payload: raw, Retained: m.Retained}, nil
}

// -----------------------------------------------------------------------------
// Utilities
// -----------------------------------------------------------------------------

func decodeConfig(p any) (Config, error) {
	var cfg Config
	switch v := p.(type) {
	case Config:
		return v, nil
	case []byte:
		if err := json.Unmarshal(v, &cfg); err != nil {
			return cfg, err
		}
	case string:
		if err := json.Unmarshal([]byte(v), &cfg); err != nil {
			return cfg, err
		}
	case map[string]any:
		b, err := json.Marshal(v)
		if err != nil {
			return cfg, err
		}
		if err := json.Unmarshal(b, &cfg); err != nil {
			return cfg, err
		}
	default:
		return cfg, fmt.Errorf("unsupported config payload type: %T", p)
	}
	return cfg, nil
}

func (s *Service) publishState(level, status string, err error) {
	payload := map[string]any{
		"level":  level,
		"status": status,
		"ts_ms":  time.Now().UnixMilli(),
	}
	if err != nil {
		payload["error"] = err.Error()
		s.log.Warn("bridge state", zap.String("level", level), zap.String("status", status), zap.Error(err))
	}
	s.conn.Publish(s.conn.NewMessage(topicState, payload, true))
}

func backoffSeq(min, max time.Duration) func() time.Duration {
	if min <= 0 {
		min = 100 * time.Millisecond
	}
	if max < min {
		max = min
	}
	cur := min
	return func() time.Duration {
		d := cur
		cur *= 2
		if cur > max {
			cur = max
		}
		return d
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
