package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/sawpanic/wsclient/internal/net/circuit"
	"github.com/sawpanic/wsclient/internal/ws"
)

// File is the on-disk configuration for a wsclient process
type File struct {
	Client   ClientSection   `yaml:"client"`
	Dial     DialSection     `yaml:"dial"`
	Breaker  BreakerSection  `yaml:"breaker"`
	Monitor  MonitorSection  `yaml:"monitor"`
	Redis    RedisSection    `yaml:"redis"`
	Postgres PostgresSection `yaml:"postgres"`
	Logging  LoggingSection  `yaml:"logging"`
}

// ClientSection describes the streaming endpoint
type ClientSection struct {
	Host                  string            `yaml:"host"`
	ProxyHost             string            `yaml:"proxy_host"`
	ProxyPort             int               `yaml:"proxy_port"`
	PingIntervalSeconds   int               `yaml:"ping_interval_seconds"`
	ReceiveTimeoutSeconds int               `yaml:"receive_timeout_seconds"`
	Headers               map[string]string `yaml:"headers,omitempty"`
	InsecureSkipVerify    bool              `yaml:"insecure_skip_verify"`
	LogPath               string            `yaml:"log_path"`
}

// DialSection paces reconnect attempts per endpoint
type DialSection struct {
	RatePerSecond float64 `yaml:"rate_per_second"` // 0 disables pacing
	Burst         int     `yaml:"burst"`
}

// BreakerSection configures the optional dial circuit breaker
type BreakerSection struct {
	Enabled          bool   `yaml:"enabled"`
	FailureThreshold uint32 `yaml:"failure_threshold"`
	SuccessThreshold uint32 `yaml:"success_threshold"`
	TimeoutSeconds   int    `yaml:"timeout_seconds"`
}

// MonitorSection configures the local status/metrics server
type MonitorSection struct {
	Addr string `yaml:"addr"` // empty disables the monitor
}

// RedisSection configures the packet stream sink
type RedisSection struct {
	Addr     string `yaml:"addr"` // empty disables publishing
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Stream   string `yaml:"stream"`
	MaxLen   int64  `yaml:"max_len"`
}

// PostgresSection configures the error report store
type PostgresSection struct {
	DSN string `yaml:"dsn"` // empty disables the store
}

// LoggingSection configures process logging
type LoggingSection struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // auto, console or json
}

// Default returns the configuration used when no file is given
func Default() *File {
	return &File{
		Client: ClientSection{
			PingIntervalSeconds:   int(ws.DefaultPingInterval / time.Second),
			ReceiveTimeoutSeconds: int(ws.DefaultReceiveTimeout / time.Second),
		},
		Dial: DialSection{
			RatePerSecond: 1.0,
			Burst:         3,
		},
		Breaker: BreakerSection{
			FailureThreshold: 5,
			SuccessThreshold: 1,
			TimeoutSeconds:   30,
		},
		Redis: RedisSection{
			Stream: "ws:packets",
			MaxLen: 10000,
		},
		Logging: LoggingSection{
			Level:  "info",
			Format: "auto",
		},
	}
}

// Load reads a YAML file over the defaults
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config YAML: %w", err)
	}
	return cfg, nil
}

// Save writes cfg as YAML
func Save(cfg *File, path string) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// Validate returns every problem found, not just the first
func (f *File) Validate() []string {
	var errors []string

	if err := f.ClientConfig().Validate(); err != nil {
		errors = append(errors, fmt.Sprintf("client: %v", err))
	}
	if f.Client.PingIntervalSeconds < 0 {
		errors = append(errors, fmt.Sprintf("client: ping interval %ds must not be negative", f.Client.PingIntervalSeconds))
	}
	if f.Client.ReceiveTimeoutSeconds < 0 {
		errors = append(errors, fmt.Sprintf("client: receive timeout %ds must not be negative", f.Client.ReceiveTimeoutSeconds))
	}

	if f.Dial.RatePerSecond < 0 {
		errors = append(errors, fmt.Sprintf("dial: rate %.2f must not be negative", f.Dial.RatePerSecond))
	}
	if f.Dial.RatePerSecond > 0 && f.Dial.Burst < 1 {
		errors = append(errors, fmt.Sprintf("dial: burst %d must be at least 1", f.Dial.Burst))
	}

	if f.Breaker.Enabled {
		if f.Breaker.FailureThreshold == 0 {
			errors = append(errors, "breaker: failure threshold must be at least 1")
		}
		if f.Breaker.TimeoutSeconds <= 0 {
			errors = append(errors, fmt.Sprintf("breaker: timeout %ds must be positive", f.Breaker.TimeoutSeconds))
		}
	}

	if f.Redis.Addr != "" && f.Redis.Stream == "" {
		errors = append(errors, "redis: stream name is required when addr is set")
	}

	switch strings.ToLower(f.Logging.Format) {
	case "", "auto", "console", "json":
	default:
		errors = append(errors, fmt.Sprintf("logging: unknown format %q", f.Logging.Format))
	}

	return errors
}

// ClientConfig converts the client section into a ws.Config
func (f *File) ClientConfig() ws.Config {
	return ws.Config{
		Host:               f.Client.Host,
		ProxyHost:          f.Client.ProxyHost,
		ProxyPort:          f.Client.ProxyPort,
		PingInterval:       time.Duration(f.Client.PingIntervalSeconds) * time.Second,
		ReceiveTimeout:     time.Duration(f.Client.ReceiveTimeoutSeconds) * time.Second,
		Headers:            f.Client.Headers,
		InsecureSkipVerify: f.Client.InsecureSkipVerify,
		LogPath:            f.Client.LogPath,
	}
}

// BreakerConfig converts the breaker section for host
func (f *File) BreakerConfig(host string) circuit.Config {
	return circuit.Config{
		Name:             host,
		FailureThreshold: f.Breaker.FailureThreshold,
		SuccessThreshold: f.Breaker.SuccessThreshold,
		Timeout:          time.Duration(f.Breaker.TimeoutSeconds) * time.Second,
	}
}
