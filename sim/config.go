package sim

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/evsim/evsim/sim/trace"
)

// MaxNameLen is the longest output, trace or checkpoint file name that can be
// recorded in a checkpoint. Longer names disable checkpointing for the run.
const MaxNameLen = 255

// Trace formats accepted in Config.TraceFormat.
const (
	TraceFormatASCII = "ascii"
)

// Sync modes accepted in Config.SyncMode.
const (
	SyncModeNone   = "none"
	SyncModeMaster = "master"
	SyncModeSlave  = "slave"
)

// Config holds the engine parameters of one run. It is persisted verbatim in
// every checkpoint image.
type Config struct {
	WarmupTime         float64 `yaml:"warmup_time" json:"warmup_time"`                 // simtime at which stats reset; 0 disables
	CheckpointInterval float64 `yaml:"checkpoint_interval" json:"checkpoint_interval"` // periodic checkpoint spacing; 0 disables
	CheckpointFile     string  `yaml:"checkpoint_file" json:"checkpoint_file"`
	CheckpointDisabled bool    `yaml:"checkpoint_disabled" json:"checkpoint_disabled"`
	OutputFile         string  `yaml:"output_file" json:"output_file"` // "stdout" or a path
	TraceFile          string  `yaml:"trace_file" json:"trace_file"`   // "stdin", a path, or empty
	TraceFormat        string  `yaml:"trace_format" json:"trace_format"`
	SyncMode           string  `yaml:"sync_mode" json:"sync_mode"`   // none, master or slave
	ExecTrace          string  `yaml:"exec_trace" json:"exec_trace"` // trace level: none, dispatch, all
}

// DefaultConfig returns the configuration used when no file is given.
func DefaultConfig() Config {
	return Config{
		OutputFile:  "stdout",
		TraceFormat: TraceFormatASCII,
		SyncMode:    SyncModeNone,
		ExecTrace:   string(trace.TraceLevelNone),
	}
}

// Validate checks parameter ranges and enumerations.
func (c Config) Validate() error {
	if c.WarmupTime < 0 {
		return fmt.Errorf("%w: warmup_time must be >= 0, got %f", ErrInvalidConfig, c.WarmupTime)
	}
	if c.CheckpointInterval < 0 {
		return fmt.Errorf("%w: checkpoint_interval must be >= 0, got %f", ErrInvalidConfig, c.CheckpointInterval)
	}
	switch c.TraceFormat {
	case "", TraceFormatASCII:
	default:
		return fmt.Errorf("%w: unknown trace_format %q", ErrInvalidConfig, c.TraceFormat)
	}
	switch c.SyncMode {
	case "", SyncModeNone, SyncModeMaster, SyncModeSlave:
	default:
		return fmt.Errorf("%w: unknown sync_mode %q", ErrInvalidConfig, c.SyncMode)
	}
	if !trace.IsValidTraceLevel(c.ExecTrace) {
		return fmt.Errorf("%w: unknown exec_trace level %q", ErrInvalidConfig, c.ExecTrace)
	}
	return nil
}

// ApplyNameLimits disables checkpointing when any recorded file name exceeds
// MaxNameLen. It reports whether checkpointing was disabled by this call.
func (c *Config) ApplyNameLimits() bool {
	if c.CheckpointDisabled {
		return false
	}
	for _, n := range []struct{ what, name string }{
		{"output file", c.OutputFile},
		{"trace file", c.TraceFile},
		{"checkpoint file", c.CheckpointFile},
	} {
		if len(n.name) > MaxNameLen {
			logrus.Warnf("%s name is %d bytes (max %d); checkpointing disabled", n.what, len(n.name), MaxNameLen)
			c.CheckpointDisabled = true
			return true
		}
	}
	return false
}
