package sim

import (
	"fmt"
	"io"
)

// Stats are the engine's own counters. Dispatch counters reset at the end of
// warm-up; checkpoint counters do not.
type Stats struct {
	EventsDispatched   int64
	EventsScheduled    int64
	LateEvents         int64
	TraceUnits         int64
	Checkpoints        int64
	CheckpointsSkipped int64
}

func (st *Stats) resetForWarmup() {
	st.EventsDispatched = 0
	st.EventsScheduled = 0
	st.LateEvents = 0
	st.TraceUnits = 0
}

func (st Stats) toMap() map[string]int64 {
	return map[string]int64{
		"events_dispatched":   st.EventsDispatched,
		"events_scheduled":    st.EventsScheduled,
		"late_events":         st.LateEvents,
		"trace_units":         st.TraceUnits,
		"checkpoints":         st.Checkpoints,
		"checkpoints_skipped": st.CheckpointsSkipped,
	}
}

func statsFromMap(m map[string]int64) Stats {
	return Stats{
		EventsDispatched:   m["events_dispatched"],
		EventsScheduled:    m["events_scheduled"],
		LateEvents:         m["late_events"],
		TraceUnits:         m["trace_units"],
		Checkpoints:        m["checkpoints"],
		CheckpointsSkipped: m["checkpoints_skipped"],
	}
}

func (st Stats) print(w io.Writer) {
	_, _ = fmt.Fprintf(w, "Events dispatched:       %d\n", st.EventsDispatched)
	_, _ = fmt.Fprintf(w, "Events scheduled:        %d\n", st.EventsScheduled)
	_, _ = fmt.Fprintf(w, "Trace requests read:     %d\n", st.TraceUnits)
	_, _ = fmt.Fprintf(w, "Late events:             %d\n", st.LateEvents)
	_, _ = fmt.Fprintf(w, "Checkpoints written:     %d\n", st.Checkpoints)
	_, _ = fmt.Fprintf(w, "Checkpoints skipped:     %d\n\n", st.CheckpointsSkipped)
}
