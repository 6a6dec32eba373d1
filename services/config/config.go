// Package config loads the node's operational settings with viper and
// publishes them retained on the local bus for diagnostics.
package config

import (
	"fmt"
	"strings"
	"time"

	"sensornode/bus"
	"sensornode/errcode"
	"sensornode/services/bridge"
	"sensornode/types"

	"github.com/spf13/viper"
)

const (
	configPrefix = "config"
	envPrefix    = "SENSORNODE"
	DefaultBoard = "sim"
)

// EmbeddedConfigLookup resolves a board's default documents.
var EmbeddedConfigLookup = func(board string) ([]string, bool) {
	docs, ok := embeddedConfigs[board]
	return docs, ok
}

type Settings struct {
	Board string `mapstructure:"-"`

	Log struct {
		Level  string `mapstructure:"level"`
		Format string `mapstructure:"format"`
	} `mapstructure:"log"`

	Store struct {
		Backend string `mapstructure:"backend"`
		Path    string `mapstructure:"path"`
		Redis   struct {
			Addr     string `mapstructure:"addr"`
			Password string `mapstructure:"password"`
			DB       int    `mapstructure:"db"`
			Prefix   string `mapstructure:"prefix"`
		} `mapstructure:"redis"`
	} `mapstructure:"store"`

	Publisher struct {
		Kind            string        `mapstructure:"kind"`
		ReadyTimeout    time.Duration `mapstructure:"ready_timeout"`
		DeliveryTimeout time.Duration `mapstructure:"delivery_timeout"`
	} `mapstructure:"publisher"`

	Pins struct {
		Button int `mapstructure:"button"`
		Power  int `mapstructure:"power"`
	} `mapstructure:"pins"`

	Sensor struct {
		Chip string `mapstructure:"chip"`
		Bus  string `mapstructure:"bus"`
	} `mapstructure:"sensor"`

	Sim struct {
		PowerPresent bool    `mapstructure:"power_present"`
		ButtonHeld   bool    `mapstructure:"button_held"`
		Temperature  float64 `mapstructure:"temperature"`
		Humidity     float64 `mapstructure:"humidity"`
	} `mapstructure:"sim"`

	Alert struct {
		Cap             int           `mapstructure:"cap"`
		RetryPeriod     time.Duration `mapstructure:"retry_period"`
		TelemetryPeriod time.Duration `mapstructure:"telemetry_period"`
		PollPeriod      time.Duration `mapstructure:"poll_period"`
	} `mapstructure:"alert"`

	Normal struct {
		SleepPeriod time.Duration `mapstructure:"sleep_period"`
	} `mapstructure:"normal"`

	Portal struct {
		Addr string `mapstructure:"addr"`
	} `mapstructure:"portal"`

	Bridge bridge.Config `mapstructure:"bridge"`

	FatalRestartDelay time.Duration `mapstructure:"fatal_restart_delay"`

	// Device seeds the stored device config when none exists yet.
	Device types.DeviceConfig `mapstructure:"device"`
}

// Load merges the board defaults, the optional settings file at path and
// the environment.
func Load(board, path string) (*Settings, error) {
	if board == "" {
		board = DefaultBoard
	}
	docs, ok := EmbeddedConfigLookup(board)
	if !ok || len(docs) == 0 {
		return nil, &errcode.E{C: errcode.InvalidConfig, Op: "config.load", Msg: "no embedded config for board " + board}
	}

	v := viper.New()
	v.SetConfigType("yaml")
	for i, doc := range docs {
		if err := v.MergeConfig(strings.NewReader(doc)); err != nil {
			return nil, fmt.Errorf("board %s document %d: %w", board, i, err)
		}
	}
	if path != "" {
		v.SetConfigFile(path)
		if err := v.MergeInConfig(); err != nil {
			return nil, fmt.Errorf("read %s: %w", path, err)
		}
	}
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	s := &Settings{}
	if err := v.Unmarshal(s); err != nil {
		return nil, errcode.Wrap(errcode.InvalidConfig, "config.unmarshal", err)
	}
	s.Board = board
	return s, s.validate()
}

func (s *Settings) validate() error {
	bad := func(msg string) error {
		return &errcode.E{C: errcode.InvalidConfig, Op: "config.validate", Msg: msg}
	}
	switch s.Store.Backend {
	case "sqlite", "redis", "memory":
	default:
		return bad("store.backend must be sqlite, redis or memory")
	}
	switch s.Publisher.Kind {
	case "mqtt", "local":
	default:
		return bad("publisher.kind must be mqtt or local")
	}
	if s.Store.Backend == "sqlite" && s.Store.Path == "" {
		return bad("store.path is required for sqlite")
	}
	return nil
}

// Publish puts each top-level section on the bus, retained, under
// config/<section>.
func (s *Settings) Publish(conn *bus.Connection) {
	sections := map[string]any{
		"log":       s.Log,
		"store":     map[string]string{"backend": s.Store.Backend, "path": s.Store.Path},
		"publisher": s.Publisher,
		"pins":      s.Pins,
		"sensor":    s.Sensor,
		"alert":     s.Alert,
		"normal":    s.Normal,
		"bridge":    s.Bridge,
		"board":     s.Board,
	}
	for k, v := range sections {
		conn.Publish(conn.NewMessage(bus.T(configPrefix, k), v, true))
	}
}
