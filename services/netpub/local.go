package netpub

import (
	"context"
	"sync/atomic"

	"sensornode/bus"
)

// Local publishes onto the in-process bus. MQTT topics become bus topics
// by splitting on "/"; the payload is delivered as the raw byte slice.
type Local struct {
	conn  *bus.Connection
	ready chan struct{}
	seq   atomic.Uint32
}

func NewLocal(b *bus.Bus) *Local {
	l := &Local{conn: b.NewConnection("netpub"), ready: make(chan struct{})}
	close(l.ready)
	return l
}

func (l *Local) Ready() <-chan struct{} { return l.ready }

func (l *Local) Publish(ctx context.Context, topic string, payload []byte, qos byte, retain bool) (MessageID, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	buf := append([]byte(nil), payload...)
	l.conn.Publish(l.conn.NewMessage(bus.Parse(topic), buf, retain))
	if qos == QoS0 {
		return 0, nil
	}
	id := MessageID(l.seq.Add(1))
	if id == 0 {
		id = MessageID(l.seq.Add(1))
	}
	return id, nil
}
