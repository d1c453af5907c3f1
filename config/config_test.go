package config

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, 4, cfg.Lanes)
	assert.Equal(t, 8, cfg.WindowSeconds)
	assert.Equal(t, "/bin/sh", cfg.DefaultShell)
	assert.False(t, cfg.UsePTY)
}

func TestConfigRoundTrip(t *testing.T) {
	cfg := &Config{
		Lanes:          2,
		WindowSeconds:  16,
		PollIntervalMS: 25,
		DefaultShell:   "/bin/bash",
		UsePTY:         true,
		DisplayWidth:   120,
	}
	data, err := json.Marshal(cfg)
	require.NoError(t, err)

	var got Config
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Equal(t, *cfg, got)
}
