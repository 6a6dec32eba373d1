package types

import (
	"strconv"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
)

// Maximum field lengths in bytes, matching the fixed buffers of the
// deployed firmware so that a stored config is portable between builds.
const (
	MaxDeviceName   = 31
	MaxSSID         = 31
	MaxPassword     = 63
	MaxMQTTServer   = 39
	MaxMQTTUser     = 31
	MaxMQTTPass     = 31
	MaxMQTTClientID = 63

	DefaultMQTTPort = 1883
)

// DeviceConfig holds connection and identity parameters. It is written
// only by configuration mode and read once at boot.
//
// The "binding" tags are shared by the portal form binder and Validate;
// both need RegisterValidations. The client id is a topic level, so it may
// not contain MQTT separators or wildcards.
type DeviceConfig struct {
	DeviceName   string `json:"device_name" mapstructure:"device_name" form:"device_name" binding:"maxbytes=31"`
	SSID         string `json:"ssid" mapstructure:"ssid" form:"ssid" binding:"maxbytes=31"`
	Password     string `json:"password" mapstructure:"password" form:"pass" binding:"maxbytes=63"`
	MQTTServer   string `json:"mqtt_server" mapstructure:"mqtt_server" form:"mqtt_server" binding:"maxbytes=39"`
	MQTTPort     uint16 `json:"mqtt_port" mapstructure:"mqtt_port" form:"mqtt_port" binding:"omitempty,min=1"`
	MQTTUser     string `json:"mqtt_user" mapstructure:"mqtt_user" form:"mqtt_user" binding:"maxbytes=31"`
	MQTTPass     string `json:"mqtt_pass" mapstructure:"mqtt_pass" form:"mqtt_pass" binding:"maxbytes=31"`
	MQTTClientID string `json:"mqtt_client_id" mapstructure:"mqtt_client_id" form:"mqtt_client_id" binding:"required,maxbytes=63,topicsafe"`
}

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

func configValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New()
		validate.SetTagName("binding")
		if err := RegisterValidations(validate); err != nil {
			panic(err)
		}
	})
	return validate
}

// RegisterValidations adds the maxbytes and topicsafe tags to v.
func RegisterValidations(v *validator.Validate) error {
	if err := v.RegisterValidation("maxbytes", maxBytes); err != nil {
		return err
	}
	return v.RegisterValidation("topicsafe", topicSafe)
}

// maxBytes bounds the encoded length, not the rune count.
func maxBytes(fl validator.FieldLevel) bool {
	n, err := strconv.Atoi(fl.Param())
	if err != nil {
		return false
	}
	return len(fl.Field().String()) <= n
}

func topicSafe(fl validator.FieldLevel) bool {
	return !strings.ContainsAny(fl.Field().String(), "+#/")
}

// Validate checks the documented field bounds.
func (c DeviceConfig) Validate() error {
	return configValidator().Struct(c)
}

// Port returns the configured port or the MQTT default.
func (c DeviceConfig) Port() uint16 {
	if c.MQTTPort == 0 {
		return DefaultMQTTPort
	}
	return c.MQTTPort
}

// BrokerURI renders the paho broker address.
func (c DeviceConfig) BrokerURI() string {
	return "tcp://" + c.MQTTServer + ":" + strconv.Itoa(int(c.Port()))
}

// ---- Topics ----

func AlertTopic(clientID string) string     { return "sensors/" + clientID + "/power_outage" }
func TelemetryTopic(clientID string) string { return "sensors/" + clientID + "/telemetry" }
