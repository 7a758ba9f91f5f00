package ws

import (
	"fmt"
	"net/url"
	"strings"
	"time"
)

const (
	DefaultPingInterval   = 60 * time.Second
	DefaultReceiveTimeout = 60 * time.Second

	// maxLoggedText caps LastSent / LastReceived
	maxLoggedText = 1000
)

// Config describes one streaming endpoint. It is copied by Init and never
// mutated afterwards.
type Config struct {
	Host           string            `json:"host" yaml:"host"`
	ProxyHost      string            `json:"proxy_host,omitempty" yaml:"proxy_host"`
	ProxyPort      int               `json:"proxy_port,omitempty" yaml:"proxy_port"`
	PingInterval   time.Duration     `json:"ping_interval" yaml:"ping_interval"`
	ReceiveTimeout time.Duration     `json:"receive_timeout" yaml:"receive_timeout"`
	Headers        map[string]string `json:"headers,omitempty" yaml:"headers"`

	// InsecureSkipVerify disables peer certificate verification for wss://
	// endpoints. Off unless explicitly enabled.
	InsecureSkipVerify bool `json:"insecure_skip_verify,omitempty" yaml:"insecure_skip_verify"`

	// LogPath, when set, receives a debug log of every frame sent and received.
	LogPath string `json:"log_path,omitempty" yaml:"log_path"`
}

// DefaultConfig returns a Config with the default ping interval and receive timeout
func DefaultConfig(host string) Config {
	return Config{
		Host:           host,
		PingInterval:   DefaultPingInterval,
		ReceiveTimeout: DefaultReceiveTimeout,
	}
}

// withDefaults fills zero durations and clones the header map
func (c Config) withDefaults() Config {
	if c.PingInterval <= 0 {
		c.PingInterval = DefaultPingInterval
	}
	if c.ReceiveTimeout <= 0 {
		c.ReceiveTimeout = DefaultReceiveTimeout
	}
	if len(c.Headers) > 0 {
		headers := make(map[string]string, len(c.Headers))
		for k, v := range c.Headers {
			headers[k] = v
		}
		c.Headers = headers
	}
	return c
}

// Validate checks the endpoint URL and proxy settings
func (c Config) Validate() error {
	if strings.TrimSpace(c.Host) == "" {
		return fmt.Errorf("host is required")
	}

	u, err := url.Parse(c.Host)
	if err != nil {
		return fmt.Errorf("invalid host %q: %w", c.Host, err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("host %q must use ws:// or wss://", c.Host)
	}
	if u.Host == "" {
		return fmt.Errorf("host %q has no authority", c.Host)
	}

	if c.ProxyPort < 0 || c.ProxyPort > 65535 {
		return fmt.Errorf("proxy port %d out of range", c.ProxyPort)
	}
	return nil
}

// proxyURL returns the HTTP proxy to tunnel through, or nil when the proxy
// host and port are not both set.
func (c Config) proxyURL() *url.URL {
	if c.ProxyHost == "" || c.ProxyPort == 0 {
		return nil
	}
	return &url.URL{Scheme: "http", Host: fmt.Sprintf("%s:%d", c.ProxyHost, c.ProxyPort)}
}

// endpoint returns the host:port part of Host, used to key dial pacing
func (c Config) endpoint() string {
	u, err := url.Parse(c.Host)
	if err != nil || u.Host == "" {
		return c.Host
	}
	return u.Host
}
