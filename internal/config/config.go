package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// BridgeConfig describes the connection to the capture agent.
type BridgeConfig struct {
	Endpoint              string `yaml:"endpoint"`
	Origin                string `yaml:"origin"`
	InitialReconnectDelay string `yaml:"initial_reconnect_delay"`
	MaxReconnectDelay     string `yaml:"max_reconnect_delay"`
	HandshakeTimeout      string `yaml:"handshake_timeout"`
	AutoConnect           bool   `yaml:"auto_connect"`
}

// EngineConfig holds the correlation engine and worker pool settings.
type EngineConfig struct {
	StaleAfter        string   `yaml:"stale_after"`
	MaxRuntimeLogs    int      `yaml:"max_runtime_logs"`
	AllowedMethods    []string `yaml:"allowed_methods"`
	NumWorkers        int      `yaml:"num_workers"`
	SizeOfPairChannel int      `yaml:"size_of_pair_channel"`
}

// ClickHouseConfig holds the connection settings of a ClickHouse server.
type ClickHouseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Database string `yaml:"database"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

type GobConfig struct {
	RootPath string `yaml:"root_path"`
}

type PcapConfig struct {
	RootPath string `yaml:"root_path"`
}

// WriterDef defines a single pair sink from the config file.
type WriterDef struct {
	Type             string           `yaml:"type"`
	Enabled          bool             `yaml:"enabled"`
	SnapshotInterval string           `yaml:"snapshot_interval"`
	ClickHouse       ClickHouseConfig `yaml:"clickhouse"`
	Gob              GobConfig        `yaml:"gob"`
	Pcap             PcapConfig       `yaml:"pcap"`
}

// NATSConfig configures the pair record fan-out.
type NATSConfig struct {
	Enabled bool   `yaml:"enabled"`
	URL     string `yaml:"url"`
	Subject string `yaml:"subject"`
}

type APIConfig struct {
	ListenAddr string `yaml:"listen_addr"`
	GRPCAddr   string `yaml:"grpc_addr"`
}

// AlerterConfig configures the agent liveness check.
type AlerterConfig struct {
	Enabled         bool   `yaml:"enabled"`
	CheckInterval   string `yaml:"check_interval"`
	HeartbeatMaxAge string `yaml:"heartbeat_max_age"`
}

// SMTPConfig holds the mail server settings. To is a comma separated list.
type SMTPConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	From     string `yaml:"from"`
	To       string `yaml:"to"`
}

// Config is the top-level configuration struct for the entire application.
type Config struct {
	Bridge  BridgeConfig  `yaml:"bridge"`
	Engine  EngineConfig  `yaml:"engine"`
	Writers []WriterDef   `yaml:"writers"`
	NATS    NATSConfig    `yaml:"nats"`
	API     APIConfig     `yaml:"api"`
	Alerter AlerterConfig `yaml:"alerter"`
	SMTP    SMTPConfig    `yaml:"smtp"`
}

// Default returns a configuration that runs the bridge alone, without sinks.
func Default() *Config {
	return &Config{
		Bridge: BridgeConfig{
			Endpoint:              "ws://127.0.0.1:28257",
			Origin:                "http://localhost",
			InitialReconnectDelay: "2s",
			MaxReconnectDelay:     "30s",
			HandshakeTimeout:      "10s",
			AutoConnect:           true,
		},
		Engine: EngineConfig{
			StaleAfter:        "5m",
			MaxRuntimeLogs:    1000,
			AllowedMethods:    []string{"GET", "POST"},
			NumWorkers:        2,
			SizeOfPairChannel: 1024,
		},
		NATS: NATSConfig{
			URL:     "nats://127.0.0.1:4222",
			Subject: "capturebridge.pairs",
		},
		API: APIConfig{
			ListenAddr: ":8080",
			GRPCAddr:   ":50051",
		},
		Alerter: AlerterConfig{
			CheckInterval:   "1m",
			HeartbeatMaxAge: "30s",
		},
	}
}

// LoadConfig reads the configuration from a YAML file on top of Default.
func LoadConfig(filePath string) (*Config, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config YAML: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", filePath, err)
	}
	return cfg, nil
}

// Validate checks values that would otherwise only fail when a component
// starts.
func (c *Config) Validate() error {
	var errs []error

	if c.Bridge.Endpoint != "" {
		if err := validateEndpoint(c.Bridge.Endpoint); err != nil {
			errs = append(errs, err)
		}
	}
	errs = appendDurationErr(errs, "bridge.initial_reconnect_delay", c.Bridge.InitialReconnectDelay)
	errs = appendDurationErr(errs, "bridge.max_reconnect_delay", c.Bridge.MaxReconnectDelay)
	errs = appendDurationErr(errs, "bridge.handshake_timeout", c.Bridge.HandshakeTimeout)
	errs = appendDurationErr(errs, "engine.stale_after", c.Engine.StaleAfter)

	if c.Engine.NumWorkers <= 0 {
		errs = append(errs, fmt.Errorf("engine.num_workers must be positive, got %d", c.Engine.NumWorkers))
	}
	if c.Engine.SizeOfPairChannel < 0 {
		errs = append(errs, fmt.Errorf("engine.size_of_pair_channel must not be negative"))
	}
	if len(c.Engine.AllowedMethods) == 0 {
		errs = append(errs, errors.New("engine.allowed_methods must not be empty"))
	}

	for i, w := range c.Writers {
		if !w.Enabled {
			continue
		}
		if w.Type == "" {
			errs = append(errs, fmt.Errorf("writers[%d].type is required", i))
		}
		errs = appendDurationErr(errs, fmt.Sprintf("writers[%d].snapshot_interval", i), w.SnapshotInterval)
	}

	if c.NATS.Enabled && (c.NATS.URL == "" || c.NATS.Subject == "") {
		errs = append(errs, errors.New("nats.url and nats.subject are required when nats is enabled"))
	}
	if c.Alerter.Enabled {
		errs = appendDurationErr(errs, "alerter.check_interval", c.Alerter.CheckInterval)
		errs = appendDurationErr(errs, "alerter.heartbeat_max_age", c.Alerter.HeartbeatMaxAge)
	}
	return errors.Join(errs...)
}

// ClickHouse returns the settings of the first enabled ClickHouse writer.
func (c *Config) ClickHouse() (ClickHouseConfig, bool) {
	for _, w := range c.Writers {
		if w.Enabled && w.Type == "clickhouse" {
			return w.ClickHouse, true
		}
	}
	return ClickHouseConfig{}, false
}

func validateEndpoint(endpoint string) error {
	u, err := url.Parse(endpoint)
	if err != nil {
		return fmt.Errorf("bridge.endpoint: %w", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("bridge.endpoint must use ws or wss, got %q", endpoint)
	}
	if u.Host == "" {
		return fmt.Errorf("bridge.endpoint has no host: %q", endpoint)
	}
	return nil
}

func appendDurationErr(errs []error, field, value string) []error {
	d, err := time.ParseDuration(value)
	if err != nil {
		return append(errs, fmt.Errorf("invalid %s: %w", field, err))
	}
	if d <= 0 {
		return append(errs, fmt.Errorf("%s must be a positive duration", field))
	}
	return errs
}
