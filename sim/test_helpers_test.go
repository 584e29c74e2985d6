package sim

import (
	"encoding/json"
	"io"
)

type reqSpec struct {
	time  float64
	devno int
}

// sliceSource replays a fixed list of IOReqArrive requests.
type sliceSource struct {
	reqs       []reqSpec
	pos        int
	unseekable bool
	closed     bool
}

func (src *sliceSource) Next(s *Simulator) (*Event, error) {
	if src.pos >= len(src.reqs) {
		return nil, io.EOF
	}
	r := src.reqs[src.pos]
	src.pos++
	ev := s.Pool.Acquire()
	ev.Kind = IOReqArrive
	ev.Time = r.time
	ev.DevNo = r.devno
	ev.BlkNo = int64(src.pos)
	return ev, nil
}

func (src *sliceSource) Name() string    { return "slice" }
func (src *sliceSource) Close() error    { src.closed = true; return nil }
func (src *sliceSource) Seekable() bool  { return !src.unseekable }
func (src *sliceSource) Position() int64 { return int64(src.pos) }
func (src *sliceSource) Seek(offset int64) error {
	src.pos = int(offset)
	return nil
}

// delayIO completes every request a fixed delay after it arrives.
type delayIO struct {
	Delay     float64 `json:"delay"`
	Arrivals  int     `json:"arrivals"`
	Completed int     `json:"completed"`
	resets    int
}

func (d *delayIO) HandleEvent(s *Simulator, ev *Event) {
	switch ev.Kind {
	case IOReqArrive:
		d.Arrivals++
		ev.Kind = IOAccessComplete
		ev.Start = s.Clock
		ev.Time = s.Clock + d.Delay
		s.Schedule(ev)
	case IOAccessComplete:
		d.Completed++
		s.Pool.Release(ev)
	}
}

func (d *delayIO) ResetStats() {
	d.resets++
	d.Arrivals = 0
	d.Completed = 0
}

func (d *delayIO) SaveState() (json.RawMessage, error) {
	return json.Marshal(d)
}

func (d *delayIO) RestoreState(data json.RawMessage) error {
	return json.Unmarshal(data, d)
}

type recordingObserver struct {
	scheduled   int
	dispatched  []Kind
	checkpoints []float64
	skipped     []error
}

func (o *recordingObserver) EventScheduled(*Event, int) { o.scheduled++ }
func (o *recordingObserver) EventDispatched(ev *Event, _ int) {
	o.dispatched = append(o.dispatched, ev.Kind)
}
func (o *recordingObserver) CheckpointWritten(clock float64) {
	o.checkpoints = append(o.checkpoints, clock)
}
func (o *recordingObserver) CheckpointSkipped(_ float64, reason error) {
	o.skipped = append(o.skipped, reason)
}

// scheduleKind queues a bare event of kind k at time t.
func scheduleKind(s *Simulator, k Kind, t float64) *Event {
	ev := s.Pool.Acquire()
	ev.Kind = k
	ev.Time = t
	s.Schedule(ev)
	return ev
}
