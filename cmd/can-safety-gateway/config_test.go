package main

import (
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func baseConfig() *appConfig {
	return &appConfig{
		buses:        [numBuses]string{"socketcan:can0", "", "serial:/dev/ttyUSB0"},
		baud:         115200,
		serialReadTO: 50 * time.Millisecond,
		logFormat:    "text",
		logLevel:     "info",
		hubBuffer:    16,
		hubPolicy:    "drop",
		streamBuses:  "0,2",
		handshakeTO:  time.Second,
		clientReadTO: time.Second,
		tickInterval: time.Second,
		gatewayQueue: 8,
	}
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name string
		mut  func(*appConfig)
		ok   bool
	}{
		{"valid", func(*appConfig) {}, true},
		{"bad_log_format", func(c *appConfig) { c.logFormat = "xml" }, false},
		{"bad_log_level", func(c *appConfig) { c.logLevel = "trace" }, false},
		{"no_bus", func(c *appConfig) { c.buses = [numBuses]string{} }, false},
		{"bad_bus_kind", func(c *appConfig) { c.buses[1] = "usb:x" }, false},
		{"bus_without_target", func(c *appConfig) { c.buses[1] = "socketcan:" }, false},
		{"shared_device", func(c *appConfig) { c.buses[1] = "socketcan:can0" }, false},
		{"bad_policy", func(c *appConfig) { c.hubPolicy = "block" }, false},
		{"bad_stream_bus", func(c *appConfig) { c.streamBuses = "0,9" }, false},
		{"zero_hub_buffer", func(c *appConfig) { c.hubBuffer = 0 }, false},
		{"zero_baud", func(c *appConfig) { c.baud = 0 }, false},
		{"zero_serial_timeout", func(c *appConfig) { c.serialReadTO = 0 }, false},
		{"zero_handshake", func(c *appConfig) { c.handshakeTO = 0 }, false},
		{"zero_read_timeout", func(c *appConfig) { c.clientReadTO = 0 }, false},
		{"negative_clients", func(c *appConfig) { c.maxClients = -1 }, false},
		{"param_range", func(c *appConfig) { c.safetyParam = 0x10000 }, false},
		{"zero_tick", func(c *appConfig) { c.tickInterval = 0 }, false},
		{"zero_queue", func(c *appConfig) { c.gatewayQueue = 0 }, false},
		{"negative_metrics_interval", func(c *appConfig) { c.logMetricsEvery = -time.Second }, false},
		{"log_file_without_size", func(c *appConfig) { c.logFile = "gw.log" }, false},
		{"log_file", func(c *appConfig) { c.logFile = "gw.log"; c.logMaxSizeMB = 10 }, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c := baseConfig()
			tc.mut(c)
			err := c.validate()
			if tc.ok {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
	var nilCfg *appConfig
	assert.Error(t, nilCfg.validate())
}

func TestParseBusSpec(t *testing.T) {
	s, err := parseBusSpec(" serial:/dev/ttyACM0 ")
	require.NoError(t, err)
	assert.Equal(t, busSpec{kind: "serial", target: "/dev/ttyACM0"}, s)

	_, err = parseBusSpec("can0")
	assert.Error(t, err)
}

func TestParseBusMask(t *testing.T) {
	m, err := parseBusMask("")
	require.NoError(t, err)
	assert.Equal(t, uint8(0), m)

	m, err = parseBusMask("0, 2")
	require.NoError(t, err)
	assert.Equal(t, uint8(0b101), m)

	_, err = parseBusMask("x")
	assert.Error(t, err)
}

func TestParseConfigDefaults(t *testing.T) {
	cfg, showVersion, err := parseConfig(nil, io.Discard)
	require.NoError(t, err)
	assert.False(t, showVersion)
	assert.Equal(t, "socketcan:can0", cfg.buses[0])
	assert.Equal(t, ":20100", cfg.listenAddr)
	assert.Equal(t, time.Second, cfg.tickInterval)
}

func TestParseConfigVersion(t *testing.T) {
	_, showVersion, err := parseConfig([]string{"-version"}, io.Discard)
	require.NoError(t, err)
	assert.True(t, showVersion)
}

func TestParseConfigRejectsInvalid(t *testing.T) {
	_, _, err := parseConfig([]string{"-hub-policy", "block"}, io.Discard)
	assert.ErrorContains(t, err, "hub-policy")

	_, _, err = parseConfig([]string{"-no-such-flag"}, io.Discard)
	assert.Error(t, err)
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "gateway.yaml")
	require.NoError(t, os.WriteFile(p, []byte(body), 0o600))
	return p
}

func TestConfigFile(t *testing.T) {
	p := writeConfig(t, `
bus0: serial:/dev/ttyUSB0
bus1: ""
bus2: socketcan:vcan2
baud: 500000
hub-policy: kick
mdns-enable: true
safety-param: 1
tick-interval: 250ms
`)
	cfg, _, err := parseConfig([]string{"-config", p}, io.Discard)
	require.NoError(t, err)
	assert.Equal(t, "serial:/dev/ttyUSB0", cfg.buses[0])
	assert.Equal(t, "", cfg.buses[1])
	assert.Equal(t, "socketcan:vcan2", cfg.buses[2])
	assert.Equal(t, 500000, cfg.baud)
	assert.Equal(t, "kick", cfg.hubPolicy)
	assert.True(t, cfg.mdnsEnable)
	assert.Equal(t, 1, cfg.safetyParam)
	assert.Equal(t, 250*time.Millisecond, cfg.tickInterval)
}

func TestConfigFileErrors(t *testing.T) {
	_, _, err := parseConfig([]string{"-config", writeConfig(t, "colour: blue\n")}, io.Discard)
	assert.ErrorContains(t, err, "unknown key")

	_, _, err = parseConfig([]string{"-config", writeConfig(t, "baud: fast\n")}, io.Discard)
	assert.ErrorContains(t, err, "baud")

	_, _, err = parseConfig([]string{"-config", filepath.Join(t.TempDir(), "missing.yaml")}, io.Discard)
	assert.Error(t, err)

	cfg, _, err := parseConfig([]string{"-config", writeConfig(t, "")}, io.Discard)
	require.NoError(t, err, "an empty file keeps the defaults")
	assert.Equal(t, 115200, cfg.baud)
}

func TestConfigPrecedence(t *testing.T) {
	p := writeConfig(t, "baud: 250000\nhub-buffer: 64\nlisten: :7000\n")
	t.Setenv("CAN_GATEWAY_HUB_BUFFER", "128")
	t.Setenv("CAN_GATEWAY_LISTEN", ":8000")

	cfg, _, err := parseConfig([]string{"-config", p, "-listen", ":9000"}, io.Discard)
	require.NoError(t, err)
	assert.Equal(t, 250000, cfg.baud, "file over default")
	assert.Equal(t, 128, cfg.hubBuffer, "env over file")
	assert.Equal(t, ":9000", cfg.listenAddr, "flag over env")
}

func TestConfigFileFromEnv(t *testing.T) {
	t.Setenv("CAN_GATEWAY_CONFIG", writeConfig(t, "log-level: debug\n"))
	cfg, _, err := parseConfig(nil, io.Discard)
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.logLevel)
}
