package trace

import (
	"fmt"
	"io"
)

// TraceLevel controls the verbosity of execution tracing.
type TraceLevel string

const (
	// TraceLevelNone disables tracing (zero overhead).
	TraceLevelNone TraceLevel = "none"
	// TraceLevelDispatch captures every dispatched event.
	TraceLevelDispatch TraceLevel = "dispatch"
	// TraceLevelAll captures dispatches and queue insertions.
	TraceLevelAll TraceLevel = "all"
)

// validTraceLevels maps accepted trace level strings.
var validTraceLevels = map[TraceLevel]bool{
	TraceLevelNone:     true,
	TraceLevelDispatch: true,
	TraceLevelAll:      true,
	"":                 true, // empty defaults to none
}

// IsValidTraceLevel returns true if the given level string is a recognized trace level.
func IsValidTraceLevel(level string) bool {
	return validTraceLevels[TraceLevel(level)]
}

// TraceConfig controls trace collection behavior.
type TraceConfig struct {
	Level TraceLevel
	// Retain keeps records in memory; when false records only go to the sink.
	Retain bool
}

// ExecTrace collects execution records during a run and optionally mirrors
// them as text lines to a sink.
type ExecTrace struct {
	Config     TraceConfig
	Dispatches []DispatchRecord
	Inserts    []InsertRecord

	sink io.Writer
}

// NewExecTrace creates an ExecTrace ready for recording.
func NewExecTrace(config TraceConfig) *ExecTrace {
	return &ExecTrace{
		Config:     config,
		Dispatches: make([]DispatchRecord, 0),
		Inserts:    make([]InsertRecord, 0),
	}
}

// SetSink mirrors every recorded line to w. Write errors are ignored.
func (et *ExecTrace) SetSink(w io.Writer) {
	et.sink = w
}

// Enabled reports whether any recording happens at all.
func (et *ExecTrace) Enabled() bool {
	return et != nil && et.Config.Level != TraceLevelNone && et.Config.Level != ""
}

// RecordDispatch appends a dispatch record.
func (et *ExecTrace) RecordDispatch(record DispatchRecord) {
	if !et.Enabled() {
		return
	}
	if et.Config.Retain {
		et.Dispatches = append(et.Dispatches, record)
	}
	if et.sink != nil {
		_, _ = fmt.Fprintf(et.sink, "dispatch %d: simtime %f, type %s, devno %d, blkno %d\n",
			record.Step, record.Clock, record.KindName, record.DevNo, record.BlkNo)
	}
}

// RecordInsert appends an insert record. Only TraceLevelAll records inserts.
func (et *ExecTrace) RecordInsert(record InsertRecord) {
	if !et.Enabled() || et.Config.Level != TraceLevelAll {
		return
	}
	if et.Config.Retain {
		et.Inserts = append(et.Inserts, record)
	}
	if et.sink != nil {
		_, _ = fmt.Fprintf(et.sink, "insert: simtime %f, type %s, time %f\n",
			record.Clock, record.KindName, record.Time)
	}
}
