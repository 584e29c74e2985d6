package sim

import "fmt"

// PoolBatchSize is the number of records allocated each time the pool runs dry.
const PoolBatchSize = 32

// EventPool recycles event records. Records are allocated in slabs of
// PoolBatchSize and stay with the pool until it is dropped.
type EventPool struct {
	free  []*Event
	slabs [][]Event
}

// NewEventPool returns an empty pool; the first Acquire allocates a batch.
func NewEventPool() *EventPool {
	return &EventPool{}
}

func (p *EventPool) allocateBatch() {
	slab := make([]Event, PoolBatchSize)
	p.slabs = append(p.slabs, slab)
	// push in reverse so records come out in slab order
	for i := len(slab) - 1; i >= 0; i-- {
		slab[i].owner = OwnerPool
		slab[i].index = -1
		slab[i].pooled = true
		p.free = append(p.free, &slab[i])
	}
}

// Acquire returns a zeroed record, growing the pool by one batch if the
// free list is empty.
func (p *EventPool) Acquire() *Event {
	if len(p.free) == 0 {
		p.allocateBatch()
	}
	n := len(p.free) - 1
	ev := p.free[n]
	p.free[n] = nil
	p.free = p.free[:n]
	*ev = Event{index: -1, owner: OwnerHeld, pooled: true}
	return ev
}

// Release returns ev to the free list. Releasing nil is a no-op. Releasing a
// record that is still queued, already pooled or was never allocated by a
// pool panics, so FreeLen never exceeds Capacity.
func (p *EventPool) Release(ev *Event) {
	if ev == nil {
		return
	}
	if !ev.pooled {
		panic(fmt.Sprintf("EventPool.Release: %s was not allocated by a pool", ev))
	}
	switch ev.owner {
	case OwnerPool:
		panic(fmt.Sprintf("EventPool.Release: %s is already in the pool", ev))
	case OwnerQueue:
		panic(fmt.Sprintf("EventPool.Release: %s is still queued", ev))
	}
	ev.owner = OwnerPool
	ev.index = -1
	p.free = append(p.free, ev)
}

// ReleaseChain releases every record in evs. A record that appears more than
// once is released only on its first occurrence.
func (p *EventPool) ReleaseChain(evs []*Event) {
	seen := make(map[*Event]struct{}, len(evs))
	for _, ev := range evs {
		if ev == nil {
			continue
		}
		if _, dup := seen[ev]; dup {
			continue
		}
		seen[ev] = struct{}{}
		p.Release(ev)
	}
}

// Duplicate acquires a fresh record carrying a copy of ev's kind, time and payload.
func (p *EventPool) Duplicate(ev *Event) *Event {
	dup := p.Acquire()
	dup.copyPayload(ev)
	return dup
}

// Grow allocates batches until the pool owns at least n records.
func (p *EventPool) Grow(n int) {
	for p.Capacity() < n {
		p.allocateBatch()
	}
}

// FreeLen is the number of records on the free list.
func (p *EventPool) FreeLen() int {
	return len(p.free)
}

// Capacity is the total number of records the pool has allocated.
func (p *EventPool) Capacity() int {
	return len(p.slabs) * PoolBatchSize
}

// Batches is the number of allocation batches performed so far.
func (p *EventPool) Batches() int {
	return len(p.slabs)
}
