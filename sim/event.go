package sim

import "fmt"

// Kind tags an event with the subsystem that owns it. Internal control kinds
// occupy the low values; each external subsystem owns a contiguous range.
type Kind int

const (
	// NullEvent marks a queued unit of externally driven (trace) work. When it
	// is popped the engine fetches the next unit before dispatching it.
	NullEvent Kind = iota
	IntrEvent
	TimerExpired
	CheckpointEvent
	StopSim
	ExitSim

	lastInternalKind = ExitSim
)

// External subsystem ranges (inclusive).
const (
	IOMinEvent Kind = 100
	// IOReqArrive is a request arriving at the I/O subsystem.
	IOReqArrive Kind = 100
	// IOAccessComplete is a device finishing service of a request.
	IOAccessComplete Kind = 101
	IOMaxEvent       Kind = 199

	PFMinEvent Kind = 200
	PFMaxEvent Kind = 299

	MEMSMinEvent Kind = 300
	MEMSMaxEvent Kind = 399

	SSDMinEvent Kind = 400
	SSDMaxEvent Kind = 499
)

var kindNames = map[Kind]string{
	NullEvent:        "null",
	IntrEvent:        "intr",
	TimerExpired:     "timer_expired",
	CheckpointEvent:  "checkpoint",
	StopSim:          "stop_sim",
	ExitSim:          "exit_sim",
	IOReqArrive:      "io_request_arrive",
	IOAccessComplete: "io_access_complete",
}

// IsInternal reports whether k is one of the engine's own control kinds.
func (k Kind) IsInternal() bool {
	return k >= NullEvent && k <= lastInternalKind
}

// Group names the range k falls into.
func (k Kind) Group() string {
	switch {
	case k.IsInternal():
		return "internal"
	case k >= IOMinEvent && k <= IOMaxEvent:
		return "io"
	case k >= PFMinEvent && k <= PFMaxEvent:
		return "cache"
	case k >= MEMSMinEvent && k <= MEMSMaxEvent:
		return "mems"
	case k >= SSDMinEvent && k <= SSDMaxEvent:
		return "ssd"
	default:
		return "unknown"
	}
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("%s(%d)", k.Group(), int(k))
}

// Owner records which collection currently holds an event record.
type Owner uint8

const (
	// OwnerNone is a record that was never pooled (constructed directly).
	OwnerNone Owner = iota
	OwnerPool
	OwnerQueue
	// OwnerHeld is a record acquired from the pool or popped from the queue
	// and currently in the hands of the engine or a collaborator.
	OwnerHeld
)

func (o Owner) String() string {
	switch o {
	case OwnerPool:
		return "pool"
	case OwnerQueue:
		return "queue"
	case OwnerHeld:
		return "held"
	default:
		return "none"
	}
}

// Event is the atomic unit of simulation work. Every kind shares the same
// record shape so the pool, the sync pipe and checkpoints can treat all
// events identically.
type Event struct {
	Kind Kind
	Time float64
	// TraceKind holds the real kind of an externally fetched unit while it
	// sits in the queue tagged NullEvent.
	TraceKind Kind

	// Payload.
	DevNo     int
	BlkNo     int64
	ByteCount int
	Flags     uint32
	Cause     int
	Start     float64 // issue time, set by the subsystem that services the event
	Timer     string  // callback name for TimerExpired events
	Arg       int64

	seq   uint64
	index int
	owner Owner
	// pooled marks records allocated by an EventPool.
	pooled bool
}

// Owner returns the collection currently holding ev.
func (e *Event) Owner() Owner {
	return e.owner
}

// Seq returns the insertion sequence number assigned by the queue.
func (e *Event) Seq() uint64 {
	return e.seq
}

// copyPayload copies kind, time and payload from src, leaving membership
// bookkeeping untouched.
func (e *Event) copyPayload(src *Event) {
	e.Kind = src.Kind
	e.Time = src.Time
	e.TraceKind = src.TraceKind
	e.DevNo = src.DevNo
	e.BlkNo = src.BlkNo
	e.ByteCount = src.ByteCount
	e.Flags = src.Flags
	e.Cause = src.Cause
	e.Start = src.Start
	e.Timer = src.Timer
	e.Arg = src.Arg
}

func (e *Event) String() string {
	return fmt.Sprintf("%s@%f", e.Kind, e.Time)
}
