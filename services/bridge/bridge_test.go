package bridge

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"net"
	"testing"
	"time"

	"sensornode/bus"
)

// pipeTransport hands out one end of a net.Pipe per Open and keeps the
// other for the test.
func pipeTransport(t *testing.T, name string) <-chan net.Conn {
	t.Helper()
	remotes := make(chan net.Conn, 4)
	RegisterTransport(name, func(TransportConfig) (Transport, error) {
		return pipeTr{remotes: remotes}, nil
	})
	return remotes
}

type pipeTr struct{ remotes chan net.Conn }

func (p pipeTr) Open(context.Context) (io.ReadWriteCloser, error) {
	lc, rc := net.Pipe()
	p.remotes <- rc
	return lc, nil
}

func (p pipeTr) String() string { return "pipe" }

func TestBridge_ForwardsMatchingTopics(t *testing.T) {
	b := bus.NewBus(16)
	conn := b.NewConnection("bridge_test")
	remotes := pipeTransport(t, "pipe-fwd")

	// Retained so it is delivered when the link subscribes.
	conn.Publish(conn.NewMessage(bus.T("sensors", "n1", "telemetry"), []byte(`{"data":{"power_status":1}}`), true))
	conn.Publish(conn.NewMessage(bus.T("other", "x"), []byte(`{}`), true))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go Start(ctx, conn, nil)

	conn.Publish(conn.NewMessage(topicConfig, Config{
		Transport: TransportConfig{Type: "pipe-fwd"},
		Forward:   []string{"sensors/#"},
	}, false))

	var rc net.Conn
	select {
	case rc = <-remotes:
	case <-time.After(time.Second):
		t.Fatal("link not opened")
	}
	defer rc.Close()

	_ = rc.SetReadDeadline(time.Now().Add(time.Second))
	line, err := bufio.NewReader(rc).ReadBytes('\n')
	if err != nil {
		t.Fatalf("read frame: %v", err)
	}
	var f Frame
	if err := json.Unmarshal(line, &f); err != nil {
		t.Fatalf("decode frame %q: %v", line, err)
	}
	if f.Type != framePub || f.Topic != "sensors/n1/telemetry" || !f.Retained {
		t.Fatalf("unexpected frame: %+v", f)
	}
	if string(f.Payload) != `{"data":{"power_status":1}}` {
		t.Fatalf("payload = %s", f.Payload)
	}
}

func TestBridge_PublishesInboundFrames(t *testing.T) {
	b := bus.NewBus(16)
	conn := b.NewConnection("bridge_test_in")
	remotes := pipeTransport(t, "pipe-in")

	sub := conn.Subscribe(bus.T("sim", "power"))
	defer conn.Unsubscribe(sub)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go Start(ctx, conn, nil)
	conn.Publish(conn.NewMessage(topicConfig, `{"transport":{"type":"pipe-in"}}`, false))

	var rc net.Conn
	select {
	case rc = <-remotes:
	case <-time.After(time.Second):
		t.Fatal("link not opened")
	}
	defer rc.Close()

	if _, err := rc.Write([]byte(`{"type":"pub","topic":"sim/power","payload":false}` + "\n")); err != nil {
		t.Fatalf("write: %v", err)
	}

	select {
	case m := <-sub.Channel():
		p, ok := m.Payload.([]byte)
		if !ok || string(p) != "false" {
			t.Fatalf("payload = %#v", m.Payload)
		}
	case <-time.After(time.Second):
		t.Fatal("inbound frame not published")
	}
}

func TestBridge_LinkLossIsReported(t *testing.T) {
	b := bus.NewBus(16)
	conn := b.NewConnection("bridge_test_loss")
	remotes := pipeTransport(t, "pipe-loss")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go Start(ctx, conn, nil)

	stateSub := conn.Subscribe(topicState)
	defer conn.Unsubscribe(stateSub)
	assertLevelStatus(t, nextStatePayload(t, stateSub, 500*time.Millisecond), "idle", "awaiting_config")

	conn.Publish(conn.NewMessage(topicConfig, map[string]any{"transport": map[string]any{"type": "pipe-loss"}}, false))
	assertLevelStatus(t, nextStatePayload(t, stateSub, time.Second), "up", "link_established")

	(<-remotes).Close()
	assertLevelStatus(t, nextStatePayload(t, stateSub, time.Second), "degraded", "link_lost_retrying")
}

func TestBridge_UnknownTransportYieldsErrorState(t *testing.T) {
	b := bus.NewBus(8)
	conn := b.NewConnection("bridge_test_bad")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go Start(ctx, conn, nil)

	stateSub := conn.Subscribe(topicState)
	defer conn.Unsubscribe(stateSub)
	_ = nextStatePayload(t, stateSub, 500*time.Millisecond)

	conn.Publish(conn.NewMessage(topicConfig, `{"transport":{"type":"bogus"}}`, false))
	assertLevelStatus(t, nextStatePayload(t, stateSub, time.Second), "error", "transport_init_failed")
}

func TestBridge_EmptyTransportDisables(t *testing.T) {
	b := bus.NewBus(8)
	conn := b.NewConnection("bridge_test_off")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go Start(ctx, conn, nil)

	stateSub := conn.Subscribe(topicState)
	defer conn.Unsubscribe(stateSub)
	_ = nextStatePayload(t, stateSub, 500*time.Millisecond)

	conn.Publish(conn.NewMessage(topicConfig, Config{}, false))
	assertLevelStatus(t, nextStatePayload(t, stateSub, time.Second), "idle", "disabled")
}

func TestPubFrame_WrapsNonJSONBytes(t *testing.T) {
	f, err := pubFrame(&bus.Message{Topic: bus.T("a"), Payload: []byte("plain")})
	if err != nil {
		t.Fatal(err)
	}
	if string(f.Payload) != `"plain"` {
		t.Fatalf("payload = %s", f.Payload)
	}
}

// -----------------------------------------------------------------------------
// Helpers
// -----------------------------------------------------------------------------

func nextStatePayload(t *testing.T, sub *bus.Subscription, d time.Duration) map[string]any {
	t.Helper()
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case m := <-sub.Channel():
		p, ok := m.Payload.(map[string]any)
		if !ok {
			t.Fatalf("state payload type: got %T, want map[string]any", m.Payload)
		}
		return p
	case <-timer.C:
		t.Fatalf("timeout waiting for bridge/state")
		return nil
	}
}

func assertLevelStatus(t *testing.T, payload map[string]any, wantLevel, wantStatus string) {
	t.Helper()
	gotLevel, _ := payload["level"].(string)
	gotStatus, _ := payload["status"].(string)
	if gotLevel != wantLevel || gotStatus != wantStatus {
		t.Fatalf("unexpected state: level=%q status=%q, want level=%q status=%q (payload=%v)",
			gotLevel, gotStatus, wantLevel, wantStatus, payload)
	}
}
