package core

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the entire harness configuration.
type Config struct {
	Product  ProductConfig         `yaml:"product"`
	Timeouts TimeoutPolicy         `yaml:"timeouts"`
	Bus      BusConfig             `yaml:"bus"`
	Syslog   SyslogConfig          `yaml:"syslog"`
	AWS      AWSConfig             `yaml:"aws"`
	Hosts    map[string]HostConfig `yaml:"hosts"`
	Logging  LoggingConfig         `yaml:"logging"`
}

// ProductConfig describes where the product under test keeps its files.
type ProductConfig struct {
	InstallDir      string `yaml:"install_dir"`
	LogFile         string `yaml:"log_file"`
	ConfigFile      string `yaml:"config_file"`
	InternalOptions string `yaml:"internal_options"`
	ControlScript   string `yaml:"control_script"`
	ServiceUnit     string `yaml:"service_unit"`
	LogtestSocket   string `yaml:"logtest_socket"`
	CVEDatabase     string `yaml:"cve_database"`
}

// TimeoutPolicy centralizes every poll, retry and timeout interval used
// by watches, sources and collaborators.
type TimeoutPolicy struct {
	PollInterval   time.Duration            `yaml:"poll_interval"`
	SourceRetries  int                      `yaml:"source_retries"`
	RetryBackoff   time.Duration            `yaml:"retry_backoff"`
	MaxBackoff     time.Duration            `yaml:"max_backoff"`
	DefaultTimeout time.Duration            `yaml:"default_timeout"`
	Named          map[string]time.Duration `yaml:"named"`
}

// BusConfig holds NATS log bus settings.
type BusConfig struct {
	URL      string `yaml:"url"`
	Embedded bool   `yaml:"embedded"`
	DataDir  string `yaml:"data_dir"`
	Port     int    `yaml:"port"`
	Stream   string `yaml:"stream"`
	Buffer   int    `yaml:"buffer"`
}

// SyslogConfig holds the syslog listener used for remote host streams.
type SyslogConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Protocol string `yaml:"protocol"` // "udp", "tcp", or "both"
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Buffer   int    `yaml:"buffer"`
}

// AWSConfig holds CloudWatch Logs access settings.
type AWSConfig struct {
	Region   string `yaml:"region"`
	Profile  string `yaml:"profile"`
	Endpoint string `yaml:"endpoint"`
}

// HostConfig maps an inventory host to the place its log lines come from.
type HostConfig struct {
	Source    string `yaml:"source"` // "file", "bus", "syslog", "cloudwatch"
	Path      string `yaml:"path"`
	LogGroup  string `yaml:"log_group"`
	LogStream string `yaml:"log_stream"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// DefaultConfig returns a Config with defaults matching a stock manager install.
func DefaultConfig() *Config {
	return &Config{
		Product: ProductConfig{
			InstallDir:      "/var/ossec",
			LogFile:         "/var/ossec/logs/ossec.log",
			ConfigFile:      "/var/ossec/etc/ossec.conf",
			InternalOptions: "/var/ossec/etc/local_internal_options.conf",
			ControlScript:   "/var/ossec/bin/wazuh-control",
			ServiceUnit:     "wazuh-manager.service",
			LogtestSocket:   "/var/ossec/queue/sockets/logtest",
			CVEDatabase:     "/var/ossec/queue/vulnerabilities/cve.db",
		},
		Timeouts: DefaultTimeoutPolicy(),
		Bus: BusConfig{
			URL:      "nats://127.0.0.1:4222",
			Embedded: false,
			DataDir:  "./data/nats",
			Port:     4222,
			Stream:   "QA_LOGS",
			Buffer:   4096,
		},
		Syslog: SyslogConfig{
			Enabled:  false,
			Protocol: "udp",
			Host:     "0.0.0.0",
			Port:     1514,
			Buffer:   4096,
		},
		AWS: AWSConfig{
			Region: "us-east-1",
		},
		Hosts: map[string]HostConfig{},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// DefaultTimeoutPolicy returns the intervals the suite historically hardcoded.
func DefaultTimeoutPolicy() TimeoutPolicy {
	return TimeoutPolicy{
		PollInterval:   100 * time.Millisecond,
		SourceRetries:  5,
		RetryBackoff:   200 * time.Millisecond,
		MaxBackoff:     2 * time.Second,
		DefaultTimeout: 10 * time.Second,
		Named: map[string]time.Duration{
			"fim_scan":        160 * time.Second,
			"fim_event":       30 * time.Second,
			"remoted_startup": 5 * time.Second,
			"logtest_reply":   10 * time.Second,
			"eps_timeframe":   5 * time.Second,
			"aws_ingest":      60 * time.Second,
			"service_control": 30 * time.Second,
			"db_busy":         20 * time.Second,
		},
	}
}

// Timeout returns the named timeout, or DefaultTimeout when the name is unknown.
func (p TimeoutPolicy) Timeout(name string) time.Duration {
	if d, ok := p.Named[name]; ok && d > 0 {
		return d
	}
	return p.DefaultTimeout
}

// Backoff returns the delay before retry attempt n (0-based), doubling
// from RetryBackoff and capped at MaxBackoff.
func (p TimeoutPolicy) Backoff(attempt int) time.Duration {
	d := p.RetryBackoff
	if d <= 0 {
		return 0
	}
	for i := 0; i < attempt; i++ {
		d *= 2
		if p.MaxBackoff > 0 && d >= p.MaxBackoff {
			return p.MaxBackoff
		}
	}
	return d
}

// LoadConfig loads configuration from a YAML file, falling back to defaults.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		if err == nil {
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parsing config file: %w", err)
			}
		}
	}

	if u := os.Getenv("ONESEC_QA_BUS_URL"); u != "" {
		cfg.Bus.URL = u
	}
	if lvl := os.Getenv("ONESEC_QA_LOG_LEVEL"); lvl != "" {
		cfg.Logging.Level = lvl
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// SaveConfig writes the configuration to a YAML file.
func SaveConfig(cfg *Config, path string) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}
	return os.WriteFile(path, data, 0644)
}

// Validate rejects settings that would make a watch hang or spin.
func (c *Config) Validate() error {
	t := c.Timeouts
	if t.PollInterval <= 0 {
		return fmt.Errorf("timeouts.poll_interval must be positive, got %s", t.PollInterval)
	}
	if t.SourceRetries < 1 {
		return fmt.Errorf("timeouts.source_retries must be at least 1, got %d", t.SourceRetries)
	}
	if t.DefaultTimeout <= 0 {
		return fmt.Errorf("timeouts.default_timeout must be positive, got %s", t.DefaultTimeout)
	}
	for name, h := range c.Hosts {
		switch h.Source {
		case "file":
			if h.Path == "" {
				return fmt.Errorf("host %q: file source needs a path", name)
			}
		case "bus", "syslog":
		case "cloudwatch":
			if h.LogGroup == "" || h.LogStream == "" {
				return fmt.Errorf("host %q: cloudwatch source needs log_group and log_stream", name)
			}
		default:
			return fmt.Errorf("host %q: unknown source kind %q", name, h.Source)
		}
	}
	return nil
}

// LogLevel returns the parsed log level string.
func (c *Config) LogLevel() string {
	return strings.ToLower(c.Logging.Level)
}
