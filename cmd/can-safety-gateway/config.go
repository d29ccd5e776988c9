package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/kstaniek/go-can-safety-gateway/internal/can"
)

const envPrefix = "CAN_GATEWAY_"

// numBuses is the number of vehicle buses the community harness exposes.
const numBuses = 3

type appConfig struct {
	configFile      string
	buses           [numBuses]string
	baud            int
	serialReadTO    time.Duration
	listenAddr      string
	logFormat       string
	logLevel        string
	logFile         string
	logMaxSizeMB    int
	logMaxBackups   int
	logMaxAgeDays   int
	logCompress     bool
	metricsAddr     string
	hubBuffer       int
	hubPolicy       string
	maxClients      int
	streamBuses     string
	handshakeTO     time.Duration
	clientReadTO    time.Duration
	mdnsEnable      bool
	mdnsName        string
	safetyParam     int
	tickInterval    time.Duration
	gatewayQueue    int
	logMetricsEvery time.Duration
}

func newFlagSet(cfg *appConfig) (*flag.FlagSet, *bool) {
	fs := flag.NewFlagSet("can-safety-gateway", flag.ContinueOnError)
	fs.StringVar(&cfg.configFile, "config", "", "YAML config file; keys are flag names")
	fs.StringVar(&cfg.buses[0], "bus0", "socketcan:can0", "Bus 0 (vehicle side): socketcan:<if> | serial:<dev> | empty")
	fs.StringVar(&cfg.buses[1], "bus1", "socketcan:can1", "Bus 1 (MDPS/SCC harness side): socketcan:<if> | serial:<dev> | empty")
	fs.StringVar(&cfg.buses[2], "bus2", "socketcan:can2", "Bus 2 (camera side): socketcan:<if> | serial:<dev> | empty")
	fs.IntVar(&cfg.baud, "baud", 115200, "Serial baud rate")
	fs.DurationVar(&cfg.serialReadTO, "serial-read-timeout", 50*time.Millisecond, "Serial read timeout")
	fs.StringVar(&cfg.listenAddr, "listen", ":20100", "Upstream TCP listen address")
	fs.StringVar(&cfg.logFormat, "log-format", "text", "Log format: text|json")
	fs.StringVar(&cfg.logLevel, "log-level", "info", "Log level: debug|info|warn|error")
	fs.StringVar(&cfg.logFile, "log-file", "", "Also write logs to this rotating file")
	fs.IntVar(&cfg.logMaxSizeMB, "log-max-size", 50, "Rotate the log file after this many MB")
	fs.IntVar(&cfg.logMaxBackups, "log-max-backups", 5, "Rotated log files to keep")
	fs.IntVar(&cfg.logMaxAgeDays, "log-max-age", 14, "Days to keep rotated log files")
	fs.BoolVar(&cfg.logCompress, "log-compress", true, "Gzip rotated log files")
	fs.StringVar(&cfg.metricsAddr, "metrics-addr", "", "Metrics HTTP listen address (e.g. :9100); empty disables")
	fs.IntVar(&cfg.hubBuffer, "hub-buffer", 512, "Per-client stream buffer (frames)")
	fs.StringVar(&cfg.hubPolicy, "hub-policy", "drop", "Backpressure policy: drop|kick")
	fs.IntVar(&cfg.maxClients, "max-clients", 0, "Maximum simultaneous upstream clients (0 = unlimited)")
	fs.StringVar(&cfg.streamBuses, "stream-buses", "", "Comma-separated buses streamed upstream (empty = all)")
	fs.DurationVar(&cfg.handshakeTO, "handshake-timeout", 3*time.Second, "Client handshake timeout")
	fs.DurationVar(&cfg.clientReadTO, "client-read-timeout", 60*time.Second, "Per-connection read deadline")
	fs.BoolVar(&cfg.mdnsEnable, "mdns-enable", false, "Advertise the upstream service over mDNS")
	fs.StringVar(&cfg.mdnsName, "mdns-name", "", "mDNS instance name (default can-safety-gateway-<hostname>)")
	fs.IntVar(&cfg.safetyParam, "safety-param", 0, "Safety profile parameter bits (bit 0: OBD relay)")
	fs.DurationVar(&cfg.tickInterval, "tick-interval", time.Second, "Staleness monitor period")
	fs.IntVar(&cfg.gatewayQueue, "gateway-queue", 1024, "Gateway receive and transmit queue depth")
	fs.DurationVar(&cfg.logMetricsEvery, "log-metrics-interval", 0, "If >0, periodically log metrics counters")
	showVersion := fs.Bool("version", false, "Print version and exit")
	return fs, showVersion
}

// parseConfig resolves the configuration with precedence flag > env > file > default.
func parseConfig(args []string, stderr io.Writer) (*appConfig, bool, error) {
	cfg := &appConfig{}
	fs, showVersion := newFlagSet(cfg)
	fs.SetOutput(stderr)
	if err := fs.Parse(args); err != nil {
		return nil, false, err
	}
	if *showVersion {
		return cfg, true, nil
	}
	set := map[string]struct{}{}
	fs.Visit(func(f *flag.Flag) { set[f.Name] = struct{}{} })
	if cfg.configFile == "" {
		cfg.configFile = strings.TrimSpace(os.Getenv(envPrefix + "CONFIG"))
	}
	if cfg.configFile != "" {
		if err := applyFileConfig(cfg, cfg.configFile, set); err != nil {
			return nil, false, err
		}
	}
	if err := applyEnvOverrides(cfg, set); err != nil {
		return nil, false, fmt.Errorf("environment override: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, false, fmt.Errorf("configuration: %w", err)
	}
	return cfg, false, nil
}

type setter func(string) error

func setString(p *string) setter { return func(v string) error { *p = v; return nil } }

func setInt(p *int) setter {
	return func(v string) error {
		n, err := strconv.Atoi(v)
		if err != nil {
			return err
		}
		*p = n
		return nil
	}
}

func setDuration(p *time.Duration) setter {
	return func(v string) error {
		d, err := time.ParseDuration(v)
		if err != nil {
			return err
		}
		*p = d
		return nil
	}
}

func setBool(p *bool) setter {
	return func(v string) error {
		switch strings.ToLower(v) {
		case "1", "true", "yes", "on":
			*p = true
		case "0", "false", "no", "off":
			*p = false
		default:
			return fmt.Errorf("not a boolean: %q", v)
		}
		return nil
	}
}

// bindings maps every overridable flag name to its parser.
func bindings(c *appConfig) map[string]setter {
	return map[string]setter{
		"bus0":                 setString(&c.buses[0]),
		"bus1":                 setString(&c.buses[1]),
		"bus2":                 setString(&c.buses[2]),
		"baud":                 setInt(&c.baud),
		"serial-read-timeout":  setDuration(&c.serialReadTO),
		"listen":               setString(&c.listenAddr),
		"log-format":           setString(&c.logFormat),
		"log-level":            setString(&c.logLevel),
		"log-file":             setString(&c.logFile),
		"log-max-size":         setInt(&c.logMaxSizeMB),
		"log-max-backups":      setInt(&c.logMaxBackups),
		"log-max-age":          setInt(&c.logMaxAgeDays),
		"log-compress":         setBool(&c.logCompress),
		"metrics-addr":         setString(&c.metricsAddr),
		"hub-buffer":           setInt(&c.hubBuffer),
		"hub-policy":           setString(&c.hubPolicy),
		"max-clients":          setInt(&c.maxClients),
		"stream-buses":         setString(&c.streamBuses),
		"handshake-timeout":    setDuration(&c.handshakeTO),
		"client-read-timeout":  setDuration(&c.clientReadTO),
		"mdns-enable":          setBool(&c.mdnsEnable),
		"mdns-name":            setString(&c.mdnsName),
		"safety-param":         setInt(&c.safetyParam),
		"tick-interval":        setDuration(&c.tickInterval),
		"gateway-queue":        setInt(&c.gatewayQueue),
		"log-metrics-interval": setDuration(&c.logMetricsEvery),
	}
}

func envName(flagName string) string {
	return envPrefix + strings.ToUpper(strings.ReplaceAll(flagName, "-", "_"))
}

// applyEnvOverrides applies CAN_GATEWAY_* variables for every flag not set
// explicitly. Empty values are ignored except for the bus and metrics
// addresses, where empty disables the feature.
func applyEnvOverrides(c *appConfig, set map[string]struct{}) error {
	b := bindings(c)
	var errs []error
	for _, name := range sortedKeys(b) {
		if _, ok := set[name]; ok {
			continue
		}
		v, ok := os.LookupEnv(envName(name))
		if !ok {
			continue
		}
		v = strings.TrimSpace(v)
		if v == "" && !emptyAllowed(name) {
			continue
		}
		if err := b[name](v); err != nil {
			errs = append(errs, fmt.Errorf("invalid %s: %w", envName(name), err))
		}
	}
	return errors.Join(errs...)
}

func emptyAllowed(name string) bool {
	return strings.HasPrefix(name, "bus") || name == "metrics-addr" || name == "stream-buses"
}

// applyFileConfig loads a flat YAML mapping of flag names to values.
func applyFileConfig(c *appConfig, path string, set map[string]struct{}) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("config file: %w", err)
	}
	defer f.Close()
	var raw map[string]string
	if err := yaml.NewDecoder(f).Decode(&raw); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("config file %s: %w", path, err)
	}
	b := bindings(c)
	for _, key := range sortedKeys(raw) {
		apply, ok := b[key]
		if !ok {
			return fmt.Errorf("config file %s: unknown key %q", path, key)
		}
		if _, ok := set[key]; ok {
			continue
		}
		if err := apply(strings.TrimSpace(raw[key])); err != nil {
			return fmt.Errorf("config file %s: %s: %w", path, key, err)
		}
	}
	return nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

// busSpec is a parsed bus backend selector such as "socketcan:can0".
type busSpec struct {
	kind   string
	target string
}

func parseBusSpec(s string) (busSpec, error) {
	kind, target, ok := strings.Cut(strings.TrimSpace(s), ":")
	if !ok || target == "" {
		return busSpec{}, fmt.Errorf("bus spec %q: want socketcan:<if> or serial:<dev>", s)
	}
	switch kind {
	case "socketcan", "serial":
		return busSpec{kind: kind, target: target}, nil
	default:
		return busSpec{}, fmt.Errorf("bus spec %q: unknown backend %q", s, kind)
	}
}

// parseBusMask turns "0,2" into a bit mask; empty selects every bus.
func parseBusMask(s string) (uint8, error) {
	var mask uint8
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		n, err := strconv.Atoi(part)
		if err != nil || n < 0 || n >= can.MaxBus {
			return 0, fmt.Errorf("stream-buses: bad bus %q", part)
		}
		mask |= 1 << n
	}
	return mask, nil
}

// validate checks values and ranges without touching devices or sockets.
func (c *appConfig) validate() error {
	if c == nil {
		return errors.New("nil config")
	}
	switch c.logFormat {
	case "text", "json":
	default:
		return fmt.Errorf("invalid log-format: %s", c.logFormat)
	}
	switch c.logLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log-level: %s", c.logLevel)
	}
	attached := 0
	seen := map[string]int{}
	for i, s := range c.buses {
		if s == "" {
			continue
		}
		spec, err := parseBusSpec(s)
		if err != nil {
			return fmt.Errorf("bus%d: %w", i, err)
		}
		if prev, dup := seen[spec.target]; dup {
			return fmt.Errorf("bus%d: %s already used by bus%d", i, spec.target, prev)
		}
		seen[spec.target] = i
		attached++
	}
	if attached == 0 {
		return errors.New("no bus configured")
	}
	switch c.hubPolicy {
	case "drop", "kick":
	default:
		return fmt.Errorf("invalid hub-policy: %s", c.hubPolicy)
	}
	if _, err := parseBusMask(c.streamBuses); err != nil {
		return err
	}
	if c.hubBuffer <= 0 {
		return fmt.Errorf("hub-buffer must be > 0 (got %d)", c.hubBuffer)
	}
	if c.baud <= 0 {
		return fmt.Errorf("baud must be > 0 (got %d)", c.baud)
	}
	if c.serialReadTO <= 0 {
		return errors.New("serial-read-timeout must be > 0")
	}
	if c.handshakeTO <= 0 {
		return errors.New("handshake-timeout must be > 0")
	}
	if c.clientReadTO <= 0 {
		return errors.New("client-read-timeout must be > 0")
	}
	if c.maxClients < 0 {
		return errors.New("max-clients must be >= 0")
	}
	if c.safetyParam < 0 || c.safetyParam > 0xFFFF {
		return fmt.Errorf("safety-param out of range: %d", c.safetyParam)
	}
	if c.tickInterval <= 0 {
		return errors.New("tick-interval must be > 0")
	}
	if c.gatewayQueue <= 0 {
		return errors.New("gateway-queue must be > 0")
	}
	if c.logMetricsEvery < 0 {
		return errors.New("log-metrics-interval must be >= 0")
	}
	if c.logFile != "" && (c.logMaxSizeMB <= 0 || c.logMaxBackups < 0 || c.logMaxAgeDays < 0) {
		return errors.New("log rotation settings must be positive")
	}
	return nil
}
