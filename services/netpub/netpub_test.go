package netpub

import (
	"context"
	"errors"
	"testing"
	"time"

	"sensornode/bus"
	"sensornode/errcode"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeToken completes immediately with err.
type fakeToken struct {
	err error
	id  uint16
}

func (t *fakeToken) Wait() bool                     { return true }
func (t *fakeToken) WaitTimeout(time.Duration) bool { return true }
func (t *fakeToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}
func (t *fakeToken) Error() error      { return t.err }
func (t *fakeToken) MessageID() uint16 { return t.id }

// fakeClient records publishes; unused methods panic via the nil embed.
type fakeClient struct {
	mqtt.Client
	open bool
	err  error
	sent []string
}

func (c *fakeClient) IsConnected() bool      { return c.open }
func (c *fakeClient) IsConnectionOpen() bool { return c.open }
func (c *fakeClient) Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token {
	c.sent = append(c.sent, topic)
	return &fakeToken{err: c.err, id: 7}
}

func TestMQTT_PublishReturnsMessageID(t *testing.T) {
	c := &fakeClient{open: true}
	m := newMQTTWithClient(c, nil)

	select {
	case <-m.Ready():
	default:
		t.Fatal("connected client should be ready")
	}
	id, err := m.Publish(context.Background(), "sensors/n/power_outage", []byte("{}"), QoS1, false)
	require.NoError(t, err)
	assert.Equal(t, MessageID(7), id)
	assert.Equal(t, []string{"sensors/n/power_outage"}, c.sent)
}

func TestMQTT_PublishNotConnected(t *testing.T) {
	c := &fakeClient{open: false}
	m := newMQTTWithClient(c, nil)

	select {
	case <-m.Ready():
		t.Fatal("disconnected client should not be ready")
	default:
	}
	_, err := m.Publish(context.Background(), "t", nil, QoS1, false)
	assert.Equal(t, errcode.NotConnected, errcode.Of(err))
	assert.Empty(t, c.sent)
}

func TestMQTT_PublishFailure(t *testing.T) {
	c := &fakeClient{open: true, err: errors.New("broker said no")}
	m := newMQTTWithClient(c, nil)
	_, err := m.Publish(context.Background(), "t", nil, QoS1, false)
	assert.Equal(t, errcode.PublishFailed, errcode.Of(err))
}

func TestLocal_PublishOntoBus(t *testing.T) {
	b := bus.NewBus(4)
	sub := b.NewConnection("mon").Subscribe(bus.T("sensors", "+", "telemetry"))

	l := NewLocal(b)
	require.NoError(t, WaitReady(context.Background(), l))

	payload := []byte(`{"data":{}}`)
	id, err := l.Publish(context.Background(), "sensors/node-1/telemetry", payload, QoS1, false)
	require.NoError(t, err)
	assert.NotZero(t, id)
	payload[0] = 'x'

	select {
	case m := <-sub.Channel():
		assert.Equal(t, "sensors/node-1/telemetry", m.Topic.String())
		assert.Equal(t, `{"data":{}}`, string(m.Payload.([]byte)))
	case <-time.After(time.Second):
		t.Fatal("no message on bus")
	}
}

func TestWaitReady_Cancelled(t *testing.T) {
	m := newMQTTWithClient(&fakeClient{}, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, WaitReady(ctx, m), context.DeadlineExceeded)
}
