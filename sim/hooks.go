package sim

import (
	"encoding/json"
	"io"
)

// Handler receives every event whose kind falls in the range it was
// registered for. The handler owns ev: it must re-schedule or release it and
// must not keep the pointer after releasing.
type Handler interface {
	HandleEvent(s *Simulator, ev *Event)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(s *Simulator, ev *Event)

// HandleEvent calls f.
func (f HandlerFunc) HandleEvent(s *Simulator, ev *Event) { f(s, ev) }

// StatsResetter is implemented by handlers whose statistics reset when the
// warm-up period ends.
type StatsResetter interface {
	ResetStats()
}

// StatsPrinter is implemented by handlers that contribute to the end-of-run
// statistics block.
type StatsPrinter interface {
	PrintStats(w io.Writer)
}

// StateSaver is implemented by handlers with private state that must survive
// checkpoint and restore.
type StateSaver interface {
	SaveState() (json.RawMessage, error)
	RestoreState(data json.RawMessage) error
}

// Cleaner is implemented by handlers that release resources at end of run.
type Cleaner interface {
	Cleanup() error
}

// TraceSource supplies externally driven work. Next returns io.EOF when the
// input is exhausted. Returned events come from s.Pool.
type TraceSource interface {
	Next(s *Simulator) (*Event, error)
	Name() string
	Close() error
}

// SeekableSource is a TraceSource whose read position can be checkpointed.
type SeekableSource interface {
	TraceSource
	Seekable() bool
	Position() int64
	Seek(offset int64) error
}

// Synchronizer reconciles every candidate event with a paired run before it
// is inserted into the queue.
type Synchronizer interface {
	Reconcile(ev *Event) error
}

// Observer is notified of engine activity. Implementations must not modify
// the events they are handed.
type Observer interface {
	EventScheduled(ev *Event, queueLen int)
	EventDispatched(ev *Event, queueLen int)
	CheckpointWritten(clock float64)
	CheckpointSkipped(clock float64, reason error)
}
