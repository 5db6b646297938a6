package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	s, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":8080", s.HTTPAddr)
	assert.Equal(t, 16, s.PoolCapacity)
	assert.Equal(t, 30*time.Minute, s.IdleTimeout)
	assert.Equal(t, time.Minute, s.SweepInterval)
	assert.Equal(t, 60*time.Second, s.ConstructTimeout)
	assert.Equal(t, "info", s.LogLevel)
	assert.Equal(t, "json", s.LogFormat)
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("AGENTDOCK_HTTP_ADDR", "127.0.0.1:9090")
	t.Setenv("AGENTDOCK_POOL_CAPACITY", "4")
	t.Setenv("AGENTDOCK_IDLE_TIMEOUT", "5m")
	t.Setenv("AGENTDOCK_SWEEP_INTERVAL", "10s")
	t.Setenv("AGENTDOCK_CONSTRUCT_TIMEOUT", "90s")
	t.Setenv("AGENTDOCK_LOG_LEVEL", "debug")

	s, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:9090", s.HTTPAddr)
	assert.Equal(t, 4, s.PoolCapacity)
	assert.Equal(t, 5*time.Minute, s.IdleTimeout)
	assert.Equal(t, 10*time.Second, s.SweepInterval)
	assert.Equal(t, 90*time.Second, s.ConstructTimeout)
	assert.Equal(t, "debug", s.LogLevel)
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name  string
		key   string
		value string
	}{
		{name: "capacity not a number", key: "AGENTDOCK_POOL_CAPACITY", value: "many"},
		{name: "capacity below one", key: "AGENTDOCK_POOL_CAPACITY", value: "0"},
		{name: "bad duration", key: "AGENTDOCK_IDLE_TIMEOUT", value: "soon"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)
			_, err := Load()
			assert.Error(t, err)
		})
	}
}
