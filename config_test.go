package main

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Seednode/icebox/storage"
)

func validConfig() *Config {
	return &Config{
		bind:           "127.0.0.1",
		builtin:        true,
		dbDriver:       storage.DriverSQLite,
		pairs:          9,
		port:           8080,
		sessionTimeout: time.Hour,
		submitTimeout:  10 * time.Second,
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{name: "defaults", mutate: func(c *Config) {}},
		{
			name:    "tls cert without key",
			mutate:  func(c *Config) { c.tlsCert = "cert.pem" },
			wantErr: "--tls-key",
		},
		{
			name:   "tls pair",
			mutate: func(c *Config) { c.tlsCert, c.tlsKey = "cert.pem", "key.pem" },
		},
		{
			name:    "port too low",
			mutate:  func(c *Config) { c.port = 0 },
			wantErr: "invalid port",
		},
		{
			name:    "port too high",
			mutate:  func(c *Config) { c.port = 65536 },
			wantErr: "invalid port",
		},
		{
			name:    "no pairs",
			mutate:  func(c *Config) { c.pairs = 0 },
			wantErr: "invalid pair count",
		},
		{
			name:    "more pairs than built-in content",
			mutate:  func(c *Config) { c.pairs = 1000 },
			wantErr: "built-in content has",
		},
		{
			name: "many pairs from the database only",
			mutate: func(c *Config) {
				c.builtin = false
				c.pairs = 1000
				c.dbDSN = "file:icebox.db"
			},
		},
		{
			name: "unknown driver",
			mutate: func(c *Config) {
				c.dbDriver = "mysql"
				c.dbDSN = "user@/icebox"
			},
			wantErr: "invalid database driver",
		},
		{
			name: "postgres",
			mutate: func(c *Config) {
				c.dbDriver = storage.DriverPostgres
				c.dbDSN = "postgres://localhost/icebox"
			},
		},
		{
			name:    "no content at all",
			mutate:  func(c *Config) { c.builtin = false },
			wantErr: "no game content available",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)

			err := cfg.validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestConfigScheme(t *testing.T) {
	cfg := validConfig()
	assert.Equal(t, "http", cfg.scheme())

	cfg.tlsCert, cfg.tlsKey = "cert.pem", "key.pem"
	assert.Equal(t, "https", cfg.scheme())
}

func TestNewCmdReadsEnvironment(t *testing.T) {
	t.Setenv("ICEBOX_PORT", "9090")
	t.Setenv("ICEBOX_DB_DRIVER", storage.DriverPostgres)
	t.Setenv("ICEBOX_SESSION_TIMEOUT", "5m")

	cfg := &Config{}
	cmd := newCmd(cfg)

	assert.Equal(t, 9090, cfg.port)
	assert.Equal(t, storage.DriverPostgres, cfg.dbDriver)
	assert.Equal(t, 5*time.Minute, cfg.sessionTimeout)
	assert.True(t, cfg.builtin)

	seed, _, err := cmd.Find([]string{"seed"})
	require.NoError(t, err)
	assert.Equal(t, "seed", seed.Name())
}

func TestSeedRequiresDatabase(t *testing.T) {
	cfg := &Config{}
	cmd := newCmd(cfg)
	cmd.SetArgs([]string{"seed", "lobby"})
	cmd.SetOut(&strings.Builder{})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--db-dsn")
}

func TestHumanReadableSize(t *testing.T) {
	assert.Equal(t, "512 B", humanReadableSize(512))
	assert.Equal(t, "1.5 kB", humanReadableSize(1500))
}
