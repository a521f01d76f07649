package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

type appConfig struct {
	backend         string
	serialDev       string
	baud            int
	serialReadTO    time.Duration
	listenAddr      string
	logFormat       string
	logLevel        string
	metricsAddr     string
	hubBuffer       int
	hubPolicy       string
	logMetricsEvery time.Duration
	maxClients      int
	handshakeTO     time.Duration
	clientReadTO    time.Duration
	mdnsEnable      bool
	mdnsName        string
	pumpRate        int
	waterHighPct    int
	waterLowPct     int
}

// fileConfig mirrors appConfig for the optional TOML file. Pointer fields so
// absent keys leave the defaults alone.
type fileConfig struct {
	Backend         *string `toml:"backend"`
	Serial          *string `toml:"serial"`
	Baud            *int    `toml:"baud"`
	SerialReadTO    *string `toml:"serial_read_timeout"`
	Listen          *string `toml:"listen"`
	LogFormat       *string `toml:"log_format"`
	LogLevel        *string `toml:"log_level"`
	MetricsAddr     *string `toml:"metrics_addr"`
	HubBuffer       *int    `toml:"hub_buffer"`
	HubPolicy       *string `toml:"hub_policy"`
	LogMetricsEvery *string `toml:"log_metrics_interval"`
	MaxClients      *int    `toml:"max_clients"`
	HandshakeTO     *string `toml:"handshake_timeout"`
	ClientReadTO    *string `toml:"client_read_timeout"`
	MDNSEnable      *bool   `toml:"mdns_enable"`
	MDNSName        *string `toml:"mdns_name"`
	PumpRate        *int    `toml:"pump_rate"`
	WaterHighPct    *int    `toml:"watermark_high_pct"`
	WaterLowPct     *int    `toml:"watermark_low_pct"`
}

func parseFlags() (*appConfig, bool) {
	cfg := &appConfig{}
	backend := flag.String("backend", "loopback", "Link backend: loopback|serial")
	serialDev := flag.String("serial", "/dev/ttyUSB0", "Serial device path (when --backend=serial)")
	baud := flag.Int("baud", defaultBaud, "Serial baud rate")
	serialReadTO := flag.Duration("serial-read-timeout", 50*time.Millisecond, "Serial read timeout")
	listen := flag.String("listen", ":20000", "TCP listen address")
	logFormat := flag.String("log-format", "text", "Log format: text|json")
	logLevel := flag.String("log-level", "info", "Log level: debug|info|warn|error")
	metricsAddr := flag.String("metrics-addr", "", "Metrics HTTP listen address (e.g., :9100); empty disables")
	hubBuf := flag.Int("hub-buffer", 512, "Per-client hub buffer (chunks)")
	hubPolicy := flag.String("hub-policy", "drop", "Backpressure policy: drop|kick")
	logMetricsEvery := flag.Duration("log-metrics-interval", 0, "If >0, periodically log metrics counters")
	maxClients := flag.Int("max-clients", 0, "Maximum simultaneous TCP clients (0 = unlimited)")
	handshakeTO := flag.Duration("handshake-timeout", 3*time.Second, "Client handshake timeout")
	clientReadTO := flag.Duration("client-read-timeout", 60*time.Second, "Per-connection read deadline")
	mdnsEnable := flag.Bool("mdns-enable", false, "Enable mDNS/Avahi advertisement")
	mdnsName := flag.String("mdns-name", "", "mDNS instance name (default spiuart-bridge-<hostname>)")
	pumpRate := flag.Int("pump-rate", defaultRate, "Pump exchange rate in exchanges/second")
	waterHigh := flag.Int("watermark-high", 0, "High watermark percent of input buffer (0 disables)")
	waterLow := flag.Int("watermark-low", 0, "Low watermark percent of input buffer (0 disables)")
	configFile := flag.String("config", "", "Optional TOML config file (lowest precedence)")
	showVersion := flag.Bool("version", false, "Print version and exit")
	flag.Parse()

	// Track explicitly set flags: flag > env > file > default.
	setFlags := map[string]struct{}{}
	flag.Visit(func(f *flag.Flag) { setFlags[f.Name] = struct{}{} })
	cfg.backend = *backend
	cfg.serialDev = *serialDev
	cfg.baud = *baud
	cfg.serialReadTO = *serialReadTO
	cfg.listenAddr = *listen
	cfg.logFormat = *logFormat
	cfg.logLevel = *logLevel
	cfg.metricsAddr = *metricsAddr
	cfg.hubBuffer = *hubBuf
	cfg.hubPolicy = *hubPolicy
	cfg.logMetricsEvery = *logMetricsEvery
	cfg.maxClients = *maxClients
	cfg.handshakeTO = *handshakeTO
	cfg.clientReadTO = *clientReadTO
	cfg.mdnsEnable = *mdnsEnable
	cfg.mdnsName = *mdnsName
	cfg.pumpRate = *pumpRate
	cfg.waterHighPct = *waterHigh
	cfg.waterLowPct = *waterLow

	if *configFile != "" {
		if err := applyFileConfig(cfg, *configFile, setFlags); err != nil {
			fmt.Printf("config file error: %v\n", err)
			return nil, *showVersion
		}
	}
	if err := applyEnvOverrides(cfg, setFlags); err != nil {
		fmt.Printf("environment override error: %v\n", err)
		return nil, *showVersion
	}
	if err := cfg.validate(); err != nil {
		fmt.Printf("configuration error: %v\n", err)
		return nil, *showVersion
	}
	return cfg, *showVersion
}

// validate performs semantic validation only; it does not touch devices.
func (c *appConfig) validate() error {
	if c == nil {
		return errors.New("nil config")
	}
	switch c.backend {
	case "loopback", "serial":
	default:
		return fmt.Errorf("invalid backend: %s", c.backend)
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
	switch c.hubPolicy {
	case "drop", "kick":
	default:
		return fmt.Errorf("invalid hub-policy: %s", c.hubPolicy)
	}
	if c.hubBuffer <= 0 {
		return fmt.Errorf("hub-buffer must be > 0 (got %d)", c.hubBuffer)
	}
	if c.baud <= 0 {
		return fmt.Errorf("baud must be > 0 (got %d)", c.baud)
	}
	if c.serialReadTO <= 0 {
		return fmt.Errorf("serial-read-timeout must be > 0")
	}
	if c.handshakeTO <= 0 {
		return fmt.Errorf("handshake-timeout must be > 0")
	}
	if c.clientReadTO <= 0 {
		return fmt.Errorf("client-read-timeout must be > 0")
	}
	if c.maxClients < 0 {
		return fmt.Errorf("max-clients must be >= 0")
	}
	if c.pumpRate <= 0 {
		return fmt.Errorf("pump-rate must be > 0 (got %d)", c.pumpRate)
	}
	if c.waterHighPct < 0 || c.waterHighPct > 100 {
		return fmt.Errorf("watermark-high must be in [0,100] (got %d)", c.waterHighPct)
	}
	if c.waterLowPct < 0 || c.waterLowPct > 100 {
		return fmt.Errorf("watermark-low must be in [0,100] (got %d)", c.waterLowPct)
	}
	if c.waterLowPct > c.waterHighPct && c.waterHighPct > 0 {
		return fmt.Errorf("watermark-low (%d) must not exceed watermark-high (%d)", c.waterLowPct, c.waterHighPct)
	}
	return nil
}

// applyFileConfig fills fields not explicitly set by flags from a TOML file.
func applyFileConfig(c *appConfig, path string, set map[string]struct{}) error {
	var fc fileConfig
	if _, err := toml.DecodeFile(path, &fc); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	str := func(flagName string, dst *string, src *string) {
		if src == nil {
			return
		}
		if _, ok := set[flagName]; !ok {
			*dst = *src
		}
	}
	num := func(flagName string, dst *int, src *int) {
		if src == nil {
			return
		}
		if _, ok := set[flagName]; !ok {
			*dst = *src
		}
	}
	dur := func(flagName string, dst *time.Duration, src *string) error {
		if src == nil {
			return nil
		}
		if _, ok := set[flagName]; ok {
			return nil
		}
		d, err := time.ParseDuration(*src)
		if err != nil {
			return fmt.Errorf("invalid %s in %s: %w", flagName, path, err)
		}
		*dst = d
		return nil
	}
	str("backend", &c.backend, fc.Backend)
	str("serial", &c.serialDev, fc.Serial)
	num("baud", &c.baud, fc.Baud)
	if err := dur("serial-read-timeout", &c.serialReadTO, fc.SerialReadTO); err != nil {
		return err
	}
	str("listen", &c.listenAddr, fc.Listen)
	str("log-format", &c.logFormat, fc.LogFormat)
	str("log-level", &c.logLevel, fc.LogLevel)
	str("metrics-addr", &c.metricsAddr, fc.MetricsAddr)
	num("hub-buffer", &c.hubBuffer, fc.HubBuffer)
	str("hub-policy", &c.hubPolicy, fc.HubPolicy)
	if err := dur("log-metrics-interval", &c.logMetricsEvery, fc.LogMetricsEvery); err != nil {
		return err
	}
	num("max-clients", &c.maxClients, fc.MaxClients)
	if err := dur("handshake-timeout", &c.handshakeTO, fc.HandshakeTO); err != nil {
		return err
	}
	if err := dur("client-read-timeout", &c.clientReadTO, fc.ClientReadTO); err != nil {
		return err
	}
	if fc.MDNSEnable != nil {
		if _, ok := set["mdns-enable"]; !ok {
			c.mdnsEnable = *fc.MDNSEnable
		}
	}
	str("mdns-name", &c.mdnsName, fc.MDNSName)
	num("pump-rate", &c.pumpRate, fc.PumpRate)
	num("watermark-high", &c.waterHighPct, fc.WaterHighPct)
	num("watermark-low", &c.waterLowPct, fc.WaterLowPct)
	return nil
}

// applyEnvOverrides maps SPIUART_* environment variables to config fields
// unless a corresponding flag was explicitly set. Empty values are ignored;
// durations use Go time.ParseDuration format.
func applyEnvOverrides(c *appConfig, set map[string]struct{}) error {
	var firstErr error
	get := func(k string) (string, bool) { v, ok := os.LookupEnv(k); return strings.TrimSpace(v), ok }
	str := func(flagName, env string, dst *string) {
		if _, ok := set[flagName]; ok {
			return
		}
		if v, ok := get(env); ok && v != "" {
			*dst = v
		}
	}
	num := func(flagName, env string, dst *int, min int) {
		if _, ok := set[flagName]; ok {
			return
		}
		if v, ok := get(env); ok && v != "" {
			if n, err := strconv.Atoi(v); err == nil && n >= min {
				*dst = n
			} else if err != nil && firstErr == nil {
				firstErr = fmt.Errorf("invalid %s: %w", env, err)
			}
		}
	}
	dur := func(flagName, env string, dst *time.Duration) {
		if _, ok := set[flagName]; ok {
			return
		}
		if v, ok := get(env); ok && v != "" {
			if d, err := time.ParseDuration(v); err == nil && d > 0 {
				*dst = d
			} else if err != nil && firstErr == nil {
				firstErr = fmt.Errorf("invalid %s: %w", env, err)
			}
		}
	}
	str("backend", "SPIUART_BACKEND", &c.backend)
	str("serial", "SPIUART_SERIAL", &c.serialDev)
	num("baud", "SPIUART_BAUD", &c.baud, 1)
	dur("serial-read-timeout", "SPIUART_SERIAL_READ_TIMEOUT", &c.serialReadTO)
	str("listen", "SPIUART_LISTEN", &c.listenAddr)
	str("log-format", "SPIUART_LOG_FORMAT", &c.logFormat)
	str("log-level", "SPIUART_LOG_LEVEL", &c.logLevel)
	if _, ok := set["metrics-addr"]; !ok {
		if v, ok := get("SPIUART_METRICS"); ok {
			c.metricsAddr = v
		}
	}
	num("hub-buffer", "SPIUART_HUB_BUFFER", &c.hubBuffer, 1)
	str("hub-policy", "SPIUART_HUB_POLICY", &c.hubPolicy)
	dur("log-metrics-interval", "SPIUART_LOG_METRICS_INTERVAL", &c.logMetricsEvery)
	num("max-clients", "SPIUART_MAX_CLIENTS", &c.maxClients, 0)
	dur("handshake-timeout", "SPIUART_HANDSHAKE_TIMEOUT", &c.handshakeTO)
	dur("client-read-timeout", "SPIUART_CLIENT_READ_TIMEOUT", &c.clientReadTO)
	if _, ok := set["mdns-enable"]; !ok {
		if v, ok := get("SPIUART_MDNS_ENABLE"); ok && v != "" {
			switch strings.ToLower(v) {
			case "1", "true", "yes", "on":
				c.mdnsEnable = true
			case "0", "false", "no", "off":
				c.mdnsEnable = false
			}
		}
	}
	str("mdns-name", "SPIUART_MDNS_NAME", &c.mdnsName)
	num("pump-rate", "SPIUART_PUMP_RATE", &c.pumpRate, 1)
	num("watermark-high", "SPIUART_WATERMARK_HIGH", &c.waterHighPct, 0)
	num("watermark-low", "SPIUART_WATERMARK_LOW", &c.waterLowPct, 0)
	return firstErr
}
