// Package config defines the TOML configuration for the Willow mail backend.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"
)

// Config is the top-level configuration loaded from the TOML file.
type Config struct {
	// Domain is the local mail domain. Recipient and sender addresses are
	// canonicalized as <username>@<domain>.
	Domain string `toml:"domain"`

	Database DatabaseConfig `toml:"database"`
	Logging  LoggingConfig  `toml:"logging"`
	Servers  ServersConfig  `toml:"servers"`
}

// ServersConfig groups the individual listener configurations.
type ServersConfig struct {
	SMTP    SMTPServerConfig `toml:"smtp"`
	POP3    POP3ServerConfig `toml:"pop3"`
	CredAPI CredAPIConfig    `toml:"credapi"`
	Metrics MetricsConfig    `toml:"metrics"`
}

// SMTPServerConfig configures the submission listener.
type SMTPServerConfig struct {
	Start               bool   `toml:"start"`
	Addr                string `toml:"addr"`
	Hostname            string `toml:"hostname"`               // Hostname announced in the greeting banner
	MaxConnections      int    `toml:"max_connections"`        // Total concurrent connections (0 = unlimited)
	MaxConnectionsPerIP int    `toml:"max_connections_per_ip"` // Concurrent connections per client IP (0 = unlimited)
	MaxMessageBytes     int64  `toml:"max_message_bytes"`      // Maximum accepted DATA size (0 = default 10 MiB)
	IdleTimeout         string `toml:"idle_timeout"`           // Idle read timeout, e.g. "5m"
}

// POP3ServerConfig configures the retrieval listener.
type POP3ServerConfig struct {
	Start               bool   `toml:"start"`
	Addr                string `toml:"addr"`
	MaxConnections      int    `toml:"max_connections"`
	MaxConnectionsPerIP int    `toml:"max_connections_per_ip"`
	IdleTimeout         string `toml:"idle_timeout"`
}

// CredAPIConfig configures the HTTP credential API. The API is the remote
// boundary of the credential store, consumed by willow-admin and any other
// out-of-process caller.
type CredAPIConfig struct {
	Start        bool     `toml:"start"`
	Addr         string   `toml:"addr"`
	APIKey       string   `toml:"api_key"`
	AllowedHosts []string `toml:"allowed_hosts"` // Client IPs/CIDRs allowed to call the API (empty = all)
}

// MetricsConfig configures the Prometheus metrics endpoint.
type MetricsConfig struct {
	Start bool   `toml:"start"`
	Addr  string `toml:"addr"`
	Path  string `toml:"path"`
}

// DatabaseConfig holds the PostgreSQL connection settings.
type DatabaseConfig struct {
	Host            string `toml:"host"`
	Port            string `toml:"port"`
	User            string `toml:"user"`
	Password        string `toml:"password"`
	Name            string `toml:"name"`
	TLSMode         bool   `toml:"tls"`
	LogQueries      bool   `toml:"log_queries"`
	MaxConns        int    `toml:"max_conns"`
	MinConns        int    `toml:"min_conns"`
	MaxConnLifetime string `toml:"max_conn_lifetime"`
	MaxConnIdleTime string `toml:"max_conn_idle_time"`
	QueryTimeout    string `toml:"query_timeout"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Output string `toml:"output"` // "stdout", "stderr" or a file path
	Format string `toml:"format"` // "console" or "json"
	Level  string `toml:"level"`  // "debug", "info", "warn", "error"
}

// GetIdleTimeout parses the SMTP idle timeout, defaulting to 5 minutes.
func (s *SMTPServerConfig) GetIdleTimeout() (time.Duration, error) {
	return parseDurationWithDefault(s.IdleTimeout, 5*time.Minute)
}

// GetMaxMessageBytes returns the maximum DATA size, defaulting to 10 MiB.
func (s *SMTPServerConfig) GetMaxMessageBytes() int64 {
	if s.MaxMessageBytes <= 0 {
		return 10 * 1024 * 1024
	}
	return s.MaxMessageBytes
}

// GetIdleTimeout parses the POP3 idle timeout, defaulting to 5 minutes.
func (p *POP3ServerConfig) GetIdleTimeout() (time.Duration, error) {
	return parseDurationWithDefault(p.IdleTimeout, 5*time.Minute)
}

// GetMaxConnLifetime parses the max connection lifetime, defaulting to 1 hour.
func (d *DatabaseConfig) GetMaxConnLifetime() (time.Duration, error) {
	return parseDurationWithDefault(d.MaxConnLifetime, time.Hour)
}

// GetMaxConnIdleTime parses the max connection idle time, defaulting to 30 minutes.
func (d *DatabaseConfig) GetMaxConnIdleTime() (time.Duration, error) {
	return parseDurationWithDefault(d.MaxConnIdleTime, 30*time.Minute)
}

// GetQueryTimeout parses the query timeout, defaulting to 30 seconds.
func (d *DatabaseConfig) GetQueryTimeout() (time.Duration, error) {
	return parseDurationWithDefault(d.QueryTimeout, 30*time.Second)
}

func parseDurationWithDefault(value string, def time.Duration) (time.Duration, error) {
	if value == "" {
		return def, nil
	}
	dur, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q: %w", value, err)
	}
	if dur < 0 {
		return 0, fmt.Errorf("duration %q must not be negative", value)
	}
	return dur, nil
}

// NewDefaultConfig returns a configuration with sensible defaults. Values
// from the TOML file are decoded on top of it.
func NewDefaultConfig() Config {
	return Config{
		Domain: "example.com",
		Database: DatabaseConfig{
			Host: "localhost",
			Port: "5432",
			User: "willow",
			Name: "willow",
		},
		Logging: LoggingConfig{
			Output: "stderr",
			Format: "console",
			Level:  "info",
		},
		Servers: ServersConfig{
			SMTP: SMTPServerConfig{
				Start: true,
				Addr:  ":2525",
			},
			POP3: POP3ServerConfig{
				Start: true,
				Addr:  ":1100",
			},
			CredAPI: CredAPIConfig{
				Addr: "127.0.0.1:8980",
			},
			Metrics: MetricsConfig{
				Addr: "127.0.0.1:9090",
				Path: "/metrics",
			},
		},
	}
}

// Load decodes the TOML file at path on top of the defaults in cfg.
func Load(path string, cfg *Config) error {
	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("configuration file %q: %w", path, err)
	}
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return fmt.Errorf("failed to parse configuration file %q: %w", path, err)
	}
	return cfg.Validate()
}

// Validate checks cross-field constraints that TOML decoding cannot express.
func (c *Config) Validate() error {
	if c.Domain == "" {
		return fmt.Errorf("domain must not be empty")
	}
	if c.Servers.SMTP.Start && c.Servers.SMTP.Addr == "" {
		return fmt.Errorf("servers.smtp.addr must be set when the SMTP server is started")
	}
	if c.Servers.POP3.Start && c.Servers.POP3.Addr == "" {
		return fmt.Errorf("servers.pop3.addr must be set when the POP3 server is started")
	}
	if c.Servers.CredAPI.Start && c.Servers.CredAPI.APIKey == "" {
		return fmt.Errorf("servers.credapi.api_key is required when the credential API is started")
	}
	if _, err := c.Servers.SMTP.GetIdleTimeout(); err != nil {
		return fmt.Errorf("servers.smtp.idle_timeout: %w", err)
	}
	if _, err := c.Servers.POP3.GetIdleTimeout(); err != nil {
		return fmt.Errorf("servers.pop3.idle_timeout: %w", err)
	}
	if _, err := c.Database.GetQueryTimeout(); err != nil {
		return fmt.Errorf("database.query_timeout: %w", err)
	}
	return nil
}
