package config

// Embedded per-board defaults. A board's document is read first; the
// settings file and SENSORNODE_* environment variables override it.

const cfgSim = `
log:
  level: info
  format: console
store:
  backend: sqlite
  path: sensornode.db
  redis:
    addr: 127.0.0.1:6379
    password: ""
    db: 0
    prefix: "sensornode:"
publisher:
  kind: local
  ready_timeout: 30s
  delivery_timeout: 10s
pins:
  button: 0
  power: 4
sensor:
  chip: aht20
  bus: i2c0
sim:
  power_present: true
  button_held: false
  temperature: 21.5
  humidity: 45
alert:
  cap: 3
  retry_period: 30s
  telemetry_period: 300s
  poll_period: 5s
normal:
  sleep_period: 300s
portal:
  addr: ":8080"
bridge:
  transport:
    type: ""
    addr: ""
  forward:
    - sensors/#
    - node/#
fatal_restart_delay: 2s
device:
  device_name: ""
  ssid: ""
  password: ""
  mqtt_server: ""
  mqtt_port: 0
  mqtt_user: ""
  mqtt_pass: ""
  mqtt_client_id: ""
`

const cfgSimMQTT = `
publisher:
  kind: mqtt
sensor:
  chip: shtc3
`

// Boards layer over "sim": each entry lists documents merged in order.
var embeddedConfigs = map[string][]string{
	"sim":      {cfgSim},
	"sim-mqtt": {cfgSim, cfgSimMQTT},
}
