// Package sim provides the discrete-event simulation engine.
//
// # Reading Guide
//
// Start with these files to understand the kernel:
//   - event.go: the Event record, kinds and the ownership tag
//   - pool.go: EventPool, the batch allocator and free list
//   - queue.go: EventQueue, time order with FIFO tie-break
//   - simulator.go and dispatch.go: the dispatch loop and routing table
//   - checkpoint.go: Snapshot, Checkpoint and Restore
//
// # Architecture
//
// The engine owns the clock, pool and queue. Everything else plugs in
// through the hooks in hooks.go:
//   - Handler: an external subsystem registered for a contiguous kind range
//   - TraceSource: externally driven work fetched one unit at a time
//   - Synchronizer: master/slave reconciliation on every insert (sim/syncpipe)
//   - Observer: activity notifications (sim/metrics)
//
// Sub-packages:
//   - sim/checkpoint/: the persisted image schema and its stores
//   - sim/syncpipe/: the master/slave pipe protocol
//   - sim/tracefile/: ASCII trace reader
//   - sim/fixedio/: fixed service time I/O subsystem
//   - sim/metrics/: prometheus recorder
//   - sim/trace/: execution trace recording
//
// Every record is owned by exactly one of the pool, the queue or a holder
// (the engine or a collaborator between pop and re-insert). Violating that
// ownership panics.
package sim
