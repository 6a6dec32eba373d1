package netpub

import (
	"context"
	"sync"
	"time"

	"sensornode/errcode"
	"sensornode/types"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"
)

const (
	publishTimeout    = 10 * time.Second
	disconnectQuiesce = 250 // ms
)

// MQTT publishes through a paho client with auto-reconnect.
type MQTT struct {
	client mqtt.Client
	log    *zap.Logger

	readyOnce sync.Once
	ready     chan struct{}
}

// NewMQTT builds the client from the stored device config. Nothing is
// dialled until Connect.
func NewMQTT(cfg types.DeviceConfig, log *zap.Logger) *MQTT {
	if log == nil {
		log = zap.NewNop()
	}
	m := &MQTT{log: log.Named("mqtt"), ready: make(chan struct{})}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.BrokerURI())
	opts.SetClientID(cfg.MQTTClientID)
	if cfg.MQTTUser != "" {
		opts.SetUsername(cfg.MQTTUser)
	}
	if cfg.MQTTPass != "" {
		opts.SetPassword(cfg.MQTTPass)
	}
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetCleanSession(true)
	opts.SetOnConnectHandler(func(mqtt.Client) {
		m.log.Info("connected", zap.String("broker", cfg.BrokerURI()))
		m.markReady()
	})
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		m.log.Warn("connection lost", zap.Error(err))
	})

	m.client = mqtt.NewClient(opts)
	return m
}

// newMQTTWithClient wraps an existing client, treating it as ready if it
// is already connected.
func newMQTTWithClient(c mqtt.Client, log *zap.Logger) *MQTT {
	if log == nil {
		log = zap.NewNop()
	}
	m := &MQTT{client: c, log: log.Named("mqtt"), ready: make(chan struct{})}
	if c.IsConnected() {
		m.markReady()
	}
	return m
}

func (m *MQTT) markReady() { m.readyOnce.Do(func() { close(m.ready) }) }

func (m *MQTT) Ready() <-chan struct{} { return m.ready }

// Connect starts the connection in the background. Retries are left to
// the client; Ready closes on the first successful connect.
func (m *MQTT) Connect() {
	m.client.Connect()
}

func (m *MQTT) Disconnect() {
	m.client.Disconnect(disconnectQuiesce)
}

func (m *MQTT) Publish(ctx context.Context, topic string, payload []byte, qos byte, retain bool) (MessageID, error) {
	if !m.client.IsConnectionOpen() {
		return 0, &errcode.E{C: errcode.NotConnected, Op: "mqtt.publish"}
	}
	tok := m.client.Publish(topic, qos, retain, payload)

	wait, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()
	select {
	case <-tok.Done():
	case <-wait.Done():
		if ctx.Err() != nil {
			return 0, ctx.Err()
		}
		return 0, errcode.Wrap(errcode.Timeout, "mqtt.publish", wait.Err())
	}
	if err := tok.Error(); err != nil {
		return 0, errcode.Wrap(errcode.PublishFailed, "mqtt.publish", err)
	}

	var id MessageID
	if pt, ok := tok.(interface{ MessageID() uint16 }); ok {
		id = MessageID(pt.MessageID())
	}
	m.log.Debug("published", zap.String("topic", topic), zap.Uint16("msg_id", uint16(id)))
	return id, nil
}
