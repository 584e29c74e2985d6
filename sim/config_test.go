package sim

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		ok     bool
	}{
		{"defaults", func(*Config) {}, true},
		{"zero value", func(c *Config) { *c = Config{} }, true},
		{"negative warmup", func(c *Config) { c.WarmupTime = -1 }, false},
		{"negative interval", func(c *Config) { c.CheckpointInterval = -0.5 }, false},
		{"unknown trace format", func(c *Config) { c.TraceFormat = "hpl" }, false},
		{"slave mode", func(c *Config) { c.SyncMode = SyncModeSlave }, true},
		{"unknown sync mode", func(c *Config) { c.SyncMode = "peer" }, false},
		{"exec trace all", func(c *Config) { c.ExecTrace = "all" }, true},
		{"unknown exec trace", func(c *Config) { c.ExecTrace = "verbose" }, false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tc.mutate(&cfg)
			err := cfg.Validate()
			if tc.ok {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, ErrInvalidConfig)
			}
		})
	}
}

func TestConfig_ApplyNameLimits(t *testing.T) {
	// GIVEN a trace file name one byte over the limit
	cfg := DefaultConfig()
	cfg.TraceFile = strings.Repeat("t", MaxNameLen+1)

	// WHEN limits are applied
	disabled := cfg.ApplyNameLimits()

	// THEN checkpointing is turned off
	assert.True(t, disabled)
	assert.True(t, cfg.CheckpointDisabled)

	// AND names at the limit are accepted
	ok := DefaultConfig()
	ok.CheckpointFile = strings.Repeat("c", MaxNameLen)
	assert.False(t, ok.ApplyNameLimits())
	assert.False(t, ok.CheckpointDisabled)
}
