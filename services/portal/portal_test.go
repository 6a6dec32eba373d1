package portal

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"sensornode/services/store"
	"sensornode/types"
	"sensornode/x/timex"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeMachine struct {
	mu      sync.Mutex
	reasons []string
}

func (m *fakeMachine) Restart(reason string) {
	m.mu.Lock()
	m.reasons = append(m.reasons, reason)
	m.mu.Unlock()
}

func (m *fakeMachine) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.reasons)
}

func postForm(h http.Handler, v url.Values) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/save", strings.NewReader(v.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	h.ServeHTTP(w, req)
	return w
}

func TestSave_StoresConfig(t *testing.T) {
	cs := store.NewConfigStore(store.NewMemory())
	p := New(cs, &fakeMachine{}, nil)
	h := p.Handler()

	w := postForm(h, url.Values{
		"device_name":    {"shed 1"},
		"ssid":           {"farm"},
		"pass":           {"wifi-secret"},
		"mqtt_server":    {"10.0.0.2"},
		"mqtt_port":      {"1884"},
		"mqtt_client_id": {"node-7"},
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	got, ok, err := cs.LoadDeviceConfig(context.Background())
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "shed 1", got.DeviceName)
	assert.Equal(t, "wifi-secret", got.Password)
	assert.Equal(t, uint16(1884), got.MQTTPort)
	assert.Equal(t, "node-7", got.MQTTClientID)

	select {
	case <-p.Saved():
	default:
		t.Fatal("save not signalled")
	}
}

func TestSave_RejectsMissingClientID(t *testing.T) {
	mem := store.NewMemory()
	p := New(store.NewConfigStore(mem), &fakeMachine{}, nil)

	w := postForm(p.Handler(), url.Values{"ssid": {"farm"}})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	_, ok, _ := store.NewConfigStore(mem).LoadDeviceConfig(context.Background())
	assert.False(t, ok)
}

func TestSave_RejectsOversizedField(t *testing.T) {
	p := New(store.NewConfigStore(store.NewMemory()), &fakeMachine{}, nil)
	w := postForm(p.Handler(), url.Values{
		"mqtt_client_id": {"n"},
		"mqtt_server":    {strings.Repeat("h", types.MaxMQTTServer+1)},
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestSave_RejectsUnsafeClientID(t *testing.T) {
	mem := store.NewMemory()
	p := New(store.NewConfigStore(mem), &fakeMachine{}, nil)

	w := postForm(p.Handler(), url.Values{"mqtt_client_id": {"node/7"}})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	_, ok, _ := store.NewConfigStore(mem).LoadDeviceConfig(context.Background())
	assert.False(t, ok)
}

func TestSave_LimitsBytesNotRunes(t *testing.T) {
	p := New(store.NewConfigStore(store.NewMemory()), &fakeMachine{}, nil)
	w := postForm(p.Handler(), url.Values{
		"mqtt_client_id": {"n"},
		"ssid":           {strings.Repeat("ü", 16)},
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestForm_HidesSecrets(t *testing.T) {
	cs := store.NewConfigStore(store.NewMemory())
	require.NoError(t, cs.SaveDeviceConfig(context.Background(), types.DeviceConfig{
		SSID: "farm", Password: "wifi-secret", MQTTPass: "mqtt-secret", MQTTClientID: "node-7",
	}))
	p := New(cs, &fakeMachine{}, nil)

	w := httptest.NewRecorder()
	p.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, http.StatusOK, w.Code)
	body := w.Body.String()
	assert.Contains(t, body, `value="node-7"`)
	assert.Contains(t, body, `action="/save"`)
	assert.NotContains(t, body, "wifi-secret")
	assert.NotContains(t, body, "mqtt-secret")
}

func TestRun_RestartsAfterSave(t *testing.T) {
	m := &fakeMachine{}
	p := New(store.NewConfigStore(store.NewMemory()), m, nil)
	p.sleep = timex.NoSleep

	done := make(chan error, 1)
	go func() { done <- p.Run(context.Background(), "127.0.0.1:0") }()

	p.saved <- struct{}{}
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after save")
	}
	assert.Equal(t, 1, m.count())
}

func TestRun_ContextCancel(t *testing.T) {
	m := &fakeMachine{}
	p := New(store.NewConfigStore(store.NewMemory()), m, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := p.Run(ctx, "127.0.0.1:0")
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, m.count())
}
