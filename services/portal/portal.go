// Package portal serves the configuration-mode web form that writes the
// device config and restarts the node.
package portal

import (
	"context"
	"errors"
	"html/template"
	"net/http"
	"sync"
	"time"

	"sensornode/types"
	"sensornode/x/timex"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
)

const (
	DefaultAddr  = ":8080"
	RestartDelay = 3 * time.Second

	readHeaderTimeout = 10 * time.Second
	writeTimeout      = 10 * time.Second
	shutdownTimeout   = 5 * time.Second
)

// ConfigStore is the persisted device config.
type ConfigStore interface {
	LoadDeviceConfig(ctx context.Context) (types.DeviceConfig, bool, error)
	SaveDeviceConfig(ctx context.Context, cfg types.DeviceConfig) error
}

type Restarter interface {
	Restart(reason string)
}

type Portal struct {
	store   ConfigStore
	machine Restarter
	log     *zap.Logger
	sleep   timex.SleepFunc

	saved chan struct{}
}

func New(store ConfigStore, machine Restarter, log *zap.Logger) *Portal {
	if log == nil {
		log = zap.NewNop()
	}
	return &Portal{
		store:   store,
		machine: machine,
		log:     log.Named("portal"),
		sleep:   timex.Sleep,
		saved:   make(chan struct{}, 1),
	}
}

var registerOnce sync.Once

// registerValidations teaches gin's form binder the config tags.
func (p *Portal) registerValidations() {
	registerOnce.Do(func() {
		v, ok := binding.Validator.Engine().(*validator.Validate)
		if !ok {
			p.log.Warn("form validator is not go-playground; config tags unchecked")
			return
		}
		if err := types.RegisterValidations(v); err != nil {
			p.log.Error("register config validations", zap.Error(err))
		}
	})
}

// Handler builds the router.
func (p *Portal) Handler() *gin.Engine {
	p.registerValidations()
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.GET("/", p.form)
	r.POST("/save", p.save)
	r.GET("/health", p.health)
	return r
}

// Run serves on addr until ctx ends or a config is saved. After a save it
// waits RestartDelay so the reply reaches the browser, then restarts.
func (p *Portal) Run(ctx context.Context, addr string) error {
	if addr == "" {
		addr = DefaultAddr
	}
	srv := &http.Server{
		Addr:              addr,
		Handler:           p.Handler(),
		ReadHeaderTimeout: readHeaderTimeout,
		WriteTimeout:      writeTimeout,
	}
	errCh := make(chan error, 1)
	go func() {
		p.log.Info("configuration portal listening", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	var runErr error
	restart := false
	select {
	case <-ctx.Done():
		runErr = ctx.Err()
	case err := <-errCh:
		runErr = err
	case <-p.saved:
		restart = true
		_ = p.sleep(ctx, RestartDelay)
	}

	sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	_ = srv.Shutdown(sctx)

	if restart {
		p.machine.Restart("configuration saved")
		return nil
	}
	return runErr
}

func (p *Portal) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "mode": types.ModeConfiguration.String()})
}

func (p *Portal) form(c *gin.Context) {
	cfg, _, err := p.store.LoadDeviceConfig(c.Request.Context())
	if err != nil {
		p.log.Warn("load config for form", zap.Error(err))
	}
	// Secrets are never echoed back.
	cfg.Password, cfg.MQTTPass = "", ""
	if cfg.MQTTPort == 0 {
		cfg.MQTTPort = types.DefaultMQTTPort
	}
	c.Header("Content-Type", "text/html; charset=utf-8")
	c.Status(http.StatusOK)
	if err := formTmpl.Execute(c.Writer, cfg); err != nil {
		p.log.Error("render form", zap.Error(err))
	}
}

func (p *Portal) save(c *gin.Context) {
	var cfg types.DeviceConfig
	err := c.ShouldBind(&cfg)
	if err == nil {
		err = cfg.Validate()
	}
	if err != nil {
		p.log.Warn("rejected config", zap.Error(err))
		c.Data(http.StatusBadRequest, "text/html; charset=utf-8",
			[]byte("<h2>Invalid configuration</h2><p>"+template.HTMLEscapeString(err.Error())+"</p>"))
		return
	}
	if err := p.store.SaveDeviceConfig(c.Request.Context(), cfg); err != nil {
		p.log.Error("save config", zap.Error(err))
		c.Data(http.StatusInternalServerError, "text/html; charset=utf-8",
			[]byte("<h2>Could not save configuration</h2>"))
		return
	}
	p.log.Info("configuration saved",
		zap.String("device_name", cfg.DeviceName),
		zap.String("mqtt_server", cfg.MQTTServer),
		zap.Uint16("mqtt_port", cfg.Port()),
		zap.String("mqtt_client_id", cfg.MQTTClientID),
	)
	c.Data(http.StatusOK, "text/html; charset=utf-8",
		[]byte("<h2>Configuration saved</h2><p>The device will restart.</p>"))

	select {
	case p.saved <- struct{}{}:
	default:
	}
}

// Saved is signalled after each successful save.
func (p *Portal) Saved() <-chan struct{} { return p.saved }

var formTmpl = template.Must(template.New("form").Parse(`<!DOCTYPE html>
<html><head><title>Sensor node configuration</title>
<meta charset="UTF-8"><meta name="viewport" content="width=device-width, initial-scale=1"></head>
<body><h2>Sensor node configuration</h2>
<form action="/save" method="POST">
<label for="device_name">Device name</label><input type="text" id="device_name" name="device_name" maxlength="31" value="{{.DeviceName}}">
<h3>WiFi</h3>
<label for="ssid">SSID</label><input type="text" id="ssid" name="ssid" maxlength="31" value="{{.SSID}}">
<label for="pass">Password</label><input type="password" id="pass" name="pass" maxlength="63">
<h3>MQTT broker</h3>
<label for="mqtt_server">Server</label><input type="text" id="mqtt_server" name="mqtt_server" maxlength="39" value="{{.MQTTServer}}">
<label for="mqtt_port">Port</label><input type="text" id="mqtt_port" name="mqtt_port" value="{{.MQTTPort}}">
<label for="mqtt_user">User</label><input type="text" id="mqtt_user" name="mqtt_user" maxlength="31" value="{{.MQTTUser}}">
<label for="mqtt_pass">Password</label><input type="password" id="mqtt_pass" name="mqtt_pass" maxlength="31">
<label for="mqtt_client_id">Client ID (required)</label><input type="text" id="mqtt_client_id" name="mqtt_client_id" maxlength="63" value="{{.MQTTClientID}}" required>
<input type="submit" value="Save and restart">
</form></body></html>`))
