// Package netpub carries node messages to the outside world.
package netpub

import "context"

// MessageID identifies an accepted publish. Zero for QoS 0 and for
// transports without ids.
type MessageID uint16

const (
	QoS0 byte = 0
	QoS1 byte = 1
)

// Publisher sends one message. A non-nil error means the message was not
// accepted; callers log it and wait for their next scheduled attempt.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload []byte, qos byte, retain bool) (MessageID, error)
	// Ready is closed once the transport is first usable.
	Ready() <-chan struct{}
}

// WaitReady blocks until p is ready or ctx ends.
func WaitReady(ctx context.Context, p Publisher) error {
	select {
	case <-p.Ready():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
