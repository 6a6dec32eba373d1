package store

import (
	"context"
	"errors"

	"sensornode/errcode"
	"sensornode/types"
)

const (
	nsDeviceConfig = "esp_config"

	keyDeviceName = "device_name"
	keySSID       = "ssid"
	keyPassword   = "password"
	keyMQTTServer = "mqtt_server"
	keyMQTTPort   = "mqtt_port"
	keyMQTTUser   = "mqtt_user"
	keyMQTTPass   = "mqtt_pass"
	keyMQTTClient = "mqtt_client"
)

// ConfigStore reads and writes the DeviceConfig namespace.
type ConfigStore struct {
	be Backend
}

func NewConfigStore(be Backend) *ConfigStore { return &ConfigStore{be: be} }

// LoadDeviceConfig reads the stored config. Absent fields keep their zero
// value; an absent port reports the MQTT default. ok is false when no
// client id has ever been stored.
func (s *ConfigStore) LoadDeviceConfig(ctx context.Context) (cfg types.DeviceConfig, ok bool, err error) {
	h, err := s.be.Open(ctx, nsDeviceConfig)
	if err != nil {
		return cfg, false, errcode.Wrap(errcode.StoreOpen, "load config", err)
	}
	defer h.Close()

	strs := []struct {
		key string
		dst *string
	}{
		{keyDeviceName, &cfg.DeviceName},
		{keySSID, &cfg.SSID},
		{keyPassword, &cfg.Password},
		{keyMQTTServer, &cfg.MQTTServer},
		{keyMQTTUser, &cfg.MQTTUser},
		{keyMQTTPass, &cfg.MQTTPass},
		{keyMQTTClient, &cfg.MQTTClientID},
	}
	for _, f := range strs {
		v, err := h.GetString(f.key)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return types.DeviceConfig{}, false, err
		}
		*f.dst = v
	}

	cfg.MQTTPort = types.DefaultMQTTPort
	if p, err := h.GetInt32(keyMQTTPort); err == nil {
		if p > 0 && p <= 65535 {
			cfg.MQTTPort = uint16(p)
		}
	} else if !errors.Is(err, ErrNotFound) {
		return types.DeviceConfig{}, false, err
	}
	return cfg, cfg.MQTTClientID != "", nil
}

// SaveDeviceConfig validates and stores cfg in one commit.
func (s *ConfigStore) SaveDeviceConfig(ctx context.Context, cfg types.DeviceConfig) error {
	if err := cfg.Validate(); err != nil {
		return errcode.Wrap(errcode.InvalidConfig, "save config", err)
	}
	h, err := s.be.Open(ctx, nsDeviceConfig)
	if err != nil {
		return errcode.Wrap(errcode.StoreOpen, "save config", err)
	}
	defer h.Close()

	for k, v := range map[string]string{
		keyDeviceName: cfg.DeviceName,
		keySSID:       cfg.SSID,
		keyPassword:   cfg.Password,
		keyMQTTServer: cfg.MQTTServer,
		keyMQTTUser:   cfg.MQTTUser,
		keyMQTTPass:   cfg.MQTTPass,
		keyMQTTClient: cfg.MQTTClientID,
	} {
		if err := h.SetString(k, v); err != nil {
			return err
		}
	}
	if err := h.SetInt32(keyMQTTPort, int32(cfg.Port())); err != nil {
		return err
	}
	return h.Commit()
}
