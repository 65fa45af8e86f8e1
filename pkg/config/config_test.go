package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := DefaultConfig()
	assert.NoError(t, cfg.Validate())
	assert.Equal(t, 10, cfg.Rooms.DefaultMaxParticipants)
	assert.Equal(t, 100, cfg.Rooms.MaxParticipantsLimit)
	assert.Equal(t, time.Hour, cfg.Rooms.SnapshotTTL)
	assert.Equal(t, 24*time.Hour, cfg.Stats.TTL)
	assert.Equal(t, 5*time.Minute, cfg.Sweeper.Interval)
	assert.Equal(t, 30*time.Minute, cfg.Sweeper.IdleThreshold)
}

func TestValidateRejectsBadValues(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty address", func(c *Config) { c.Server.Address = "" }},
		{"zero lock timeout", func(c *Config) { c.Rooms.LockTimeout = 0 }},
		{"limit below default", func(c *Config) { c.Rooms.MaxParticipantsLimit = 5 }},
		{"pong not past ping", func(c *Config) { c.Signal.PongTimeout = c.Signal.PingInterval }},
		{"zero stats ttl", func(c *Config) { c.Stats.TTL = 0 }},
		{"empty fanout channel", func(c *Config) { c.Fanout.Channel = "" }},
		{"redis enabled without address", func(c *Config) { c.Redis.Enabled = true; c.Redis.Address = "" }},
		{"empty jwt secret", func(c *Config) { c.Auth.JWTSecret = "" }},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tc.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestLoadMissingFileFallsBackToDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.Server.Address)
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := []byte("server:\n  address: \":9999\"\nrooms:\n  default_max_participants: 4\n")
	require.NoError(t, os.WriteFile(path, content, 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":9999", cfg.Server.Address)
	assert.Equal(t, 4, cfg.Rooms.DefaultMaxParticipants)
	assert.Equal(t, 100, cfg.Rooms.MaxParticipantsLimit, "unset fields keep defaults")
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("SIGNALHUB_SERVER_ADDRESS", ":7777")
	t.Setenv("SIGNALHUB_REDIS_ADDRESS", "redis:6379")

	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, ":7777", cfg.Server.Address)
	assert.Equal(t, "redis:6379", cfg.Redis.Address)
	assert.True(t, cfg.Redis.Enabled, "setting a redis address enables redis")
}

func TestICEServersFallback(t *testing.T) {
	cfg := DefaultConfig()
	servers := cfg.ICEServers()
	require.Len(t, servers, 1)
	assert.Contains(t, servers[0].URLs[0], "stun:")
}
