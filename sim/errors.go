package sim

import "errors"

var (
	// ErrUnrecognizedEvent is returned when a dispatched kind has no route.
	ErrUnrecognizedEvent = errors.New("unrecognized event")

	// ErrExitSim is returned by Step when an ExitSim event fires. The caller
	// exits immediately with status 0 and skips cleanup.
	ErrExitSim = errors.New("exit event dispatched")

	// ErrNoTraceSource is returned when a NullEvent is popped and no trace
	// source is attached to refill the queue.
	ErrNoTraceSource = errors.New("null event popped without a trace source")

	// ErrNoInterruptHandler is returned when an IntrEvent fires with no handler registered.
	ErrNoInterruptHandler = errors.New("no interrupt handler registered")

	// ErrCheckpointDisabled is the skip reason when checkpointing was turned off.
	ErrCheckpointDisabled = errors.New("checkpointing is disabled")

	// ErrNonSeekableTrace is the skip reason when the trace comes from stdin.
	ErrNonSeekableTrace = errors.New("iotrace comes from a non-seekable stream")

	// ErrOverlappingRange is returned by RegisterSubsystem for a bad kind range.
	ErrOverlappingRange = errors.New("event range overlaps an existing range")

	// ErrUnknownTimer is returned when a timer event names an unregistered callback.
	ErrUnknownTimer = errors.New("unknown timer callback")

	// ErrInvalidConfig is returned by Config.Validate.
	ErrInvalidConfig = errors.New("invalid simulation config")
)
