package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := writeConfigFile(t, `
domain = "mail.test"

[database]
host = "db.internal"
port = "5433"
user = "willow"
name = "willow_test"

[logging]
level = "debug"

[servers.smtp]
start = true
addr = ":2526"
max_message_bytes = 1048576
idle_timeout = "90s"

[servers.pop3]
start = false

[servers.credapi]
start = true
addr = "127.0.0.1:9980"
api_key = "sekrit"
allowed_hosts = ["127.0.0.1", "10.0.0.0/8"]
`)

	cfg := NewDefaultConfig()
	require.NoError(t, Load(path, &cfg))

	assert.Equal(t, "mail.test", cfg.Domain)
	assert.Equal(t, "db.internal", cfg.Database.Host)
	assert.Equal(t, "5433", cfg.Database.Port)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, ":2526", cfg.Servers.SMTP.Addr)
	assert.False(t, cfg.Servers.POP3.Start)
	assert.True(t, cfg.Servers.CredAPI.Start)
	assert.Equal(t, "sekrit", cfg.Servers.CredAPI.APIKey)
	assert.Equal(t, []string{"127.0.0.1", "10.0.0.0/8"}, cfg.Servers.CredAPI.AllowedHosts)

	timeout, err := cfg.Servers.SMTP.GetIdleTimeout()
	require.NoError(t, err)
	assert.Equal(t, 90*time.Second, timeout)
	assert.Equal(t, int64(1048576), cfg.Servers.SMTP.GetMaxMessageBytes())

	// Untouched fields keep their defaults
	assert.Equal(t, "console", cfg.Logging.Format)
	assert.Equal(t, "/metrics", cfg.Servers.Metrics.Path)
}

func TestLoadMissingFile(t *testing.T) {
	cfg := NewDefaultConfig()
	err := Load(filepath.Join(t.TempDir(), "missing.toml"), &cfg)
	require.Error(t, err)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:    "empty domain",
			mutate:  func(c *Config) { c.Domain = "" },
			wantErr: "domain",
		},
		{
			name: "smtp started without addr",
			mutate: func(c *Config) {
				c.Servers.SMTP.Start = true
				c.Servers.SMTP.Addr = ""
			},
			wantErr: "servers.smtp.addr",
		},
		{
			name: "credapi started without key",
			mutate: func(c *Config) {
				c.Servers.CredAPI.Start = true
				c.Servers.CredAPI.APIKey = ""
			},
			wantErr: "servers.credapi.api_key",
		},
		{
			name: "bad idle timeout",
			mutate: func(c *Config) {
				c.Servers.POP3.IdleTimeout = "soon"
			},
			wantErr: "servers.pop3.idle_timeout",
		},
		{
			name: "bad query timeout",
			mutate: func(c *Config) {
				c.Database.QueryTimeout = "-1s"
			},
			wantErr: "database.query_timeout",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := NewDefaultConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestDurationDefaults(t *testing.T) {
	cfg := NewDefaultConfig()

	timeout, err := cfg.Servers.SMTP.GetIdleTimeout()
	require.NoError(t, err)
	assert.Equal(t, 5*time.Minute, timeout)

	timeout, err = cfg.Servers.POP3.GetIdleTimeout()
	require.NoError(t, err)
	assert.Equal(t, 5*time.Minute, timeout)

	queryTimeout, err := cfg.Database.GetQueryTimeout()
	require.NoError(t, err)
	assert.Equal(t, 30*time.Second, queryTimeout)

	assert.Equal(t, int64(10*1024*1024), cfg.Servers.SMTP.GetMaxMessageBytes())
}

func TestParseDurationWithDefault(t *testing.T) {
	d, err := parseDurationWithDefault("", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, time.Minute, d)

	d, err = parseDurationWithDefault("2h30m", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 2*time.Hour+30*time.Minute, d)

	_, err = parseDurationWithDefault("nonsense", time.Minute)
	assert.Error(t, err)

	_, err = parseDurationWithDefault("-5s", time.Minute)
	assert.Error(t, err)
}
