// Implements the EventQueue, which holds every pending event in time order.

package sim

import (
	"container/heap"
	"fmt"
	"io"
	"math"
	"slices"
)

// EventQueue orders pending events by time. Events with equal time come out
// in insertion order: every insert takes the next sequence number and the
// heap breaks ties on it.
type EventQueue struct {
	events  eventHeap
	nextSeq uint64
}

// NewEventQueue creates an empty queue.
func NewEventQueue() *EventQueue {
	q := &EventQueue{events: make(eventHeap, 0)}
	heap.Init(&q.events)
	return q
}

// Insert adds ev to the queue. Inserting a record owned by the pool or
// already queued panics.
func (q *EventQueue) Insert(ev *Event) {
	q.nextSeq++
	q.insertWithSeq(ev, q.nextSeq)
}

// insertWithSeq inserts with a caller-chosen sequence number. Restore uses it
// to rebuild the exact tie order of a checkpointed queue.
func (q *EventQueue) insertWithSeq(ev *Event, seq uint64) {
	switch ev.owner {
	case OwnerQueue:
		panic(fmt.Sprintf("EventQueue.Insert: %s is already queued", ev))
	case OwnerPool:
		panic(fmt.Sprintf("EventQueue.Insert: %s belongs to the pool", ev))
	}
	if math.IsNaN(ev.Time) {
		panic(fmt.Sprintf("EventQueue.Insert: %s has NaN time", ev.Kind))
	}
	if seq > q.nextSeq {
		q.nextSeq = seq
	}
	ev.seq = seq
	ev.owner = OwnerQueue
	heap.Push(&q.events, ev)
}

// PopMin removes and returns the earliest event, or nil if the queue is empty.
func (q *EventQueue) PopMin() *Event {
	if q.events.Len() == 0 {
		return nil
	}
	ev := heap.Pop(&q.events).(*Event)
	ev.owner = OwnerHeld
	return ev
}

// Peek returns the earliest event without removing it.
func (q *EventQueue) Peek() *Event {
	if q.events.Len() == 0 {
		return nil
	}
	return q.events[0]
}

// Remove de-schedules ev. It returns false if ev is not resident in this
// queue, which callers treat as "already fired".
func (q *EventQueue) Remove(ev *Event) bool {
	if ev == nil || ev.owner != OwnerQueue {
		return false
	}
	if ev.index < 0 || ev.index >= len(q.events) || q.events[ev.index] != ev {
		return false
	}
	heap.Remove(&q.events, ev.index)
	ev.owner = OwnerHeld
	return true
}

// Len returns the number of resident events.
func (q *EventQueue) Len() int {
	return q.events.Len()
}

// NextSeq returns the last sequence number handed out.
func (q *EventQueue) NextSeq() uint64 {
	return q.nextSeq
}

// DrainInto pops every resident event and releases it to pool.
func (q *EventQueue) DrainInto(pool *EventPool) {
	for ev := q.PopMin(); ev != nil; ev = q.PopMin() {
		pool.Release(ev)
	}
}

// Events returns the resident events in dispatch order. The records are
// still owned by the queue and must not be modified.
func (q *EventQueue) Events() []*Event {
	out := make([]*Event, len(q.events))
	copy(out, q.events)
	slices.SortFunc(out, func(a, b *Event) int {
		if eventLess(a, b) {
			return -1
		}
		if eventLess(b, a) {
			return 1
		}
		return 0
	})
	return out
}

// Dump writes one line per resident event in dispatch order.
func (q *EventQueue) Dump(w io.Writer) {
	for _, ev := range q.Events() {
		fmt.Fprintf(w, "time %f, type %d\n", ev.Time, int(ev.Kind))
	}
}

func eventLess(a, b *Event) bool {
	if a.Time != b.Time {
		return a.Time < b.Time
	}
	return a.seq < b.seq
}

// eventHeap implements heap.Interface and keeps each event's index current
// so Remove can find it without a scan.
type eventHeap []*Event

func (h eventHeap) Len() int           { return len(h) }
func (h eventHeap) Less(i, j int) bool { return eventLess(h[i], h[j]) }
func (h eventHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *eventHeap) Push(x any) {
	ev := x.(*Event)
	ev.index = len(*h)
	*h = append(*h, ev)
}

func (h *eventHeap) Pop() any {
	old := *h
	n := len(old)
	ev := old[n-1]
	old[n-1] = nil
	ev.index = -1
	*h = old[0 : n-1]
	return ev
}
