package trace

// TraceSummary aggregates statistics from an ExecTrace.
type TraceSummary struct {
	TotalDispatches  int
	TotalInserts     int
	FirstClock       float64
	LastClock        float64
	KindDistribution map[string]int // kind name → count of dispatches
}

// Summarize computes aggregate statistics from an ExecTrace.
// Safe for nil or empty traces (returns zero-value fields).
func Summarize(et *ExecTrace) *TraceSummary {
	summary := &TraceSummary{
		KindDistribution: make(map[string]int),
	}
	if et == nil {
		return summary
	}

	summary.TotalDispatches = len(et.Dispatches)
	summary.TotalInserts = len(et.Inserts)
	if len(et.Dispatches) > 0 {
		summary.FirstClock = et.Dispatches[0].Clock
		summary.LastClock = et.Dispatches[len(et.Dispatches)-1].Clock
	}
	for _, d := range et.Dispatches {
		summary.KindDistribution[d.KindName]++
	}
	return summary
}

// FirstDivergence compares the dispatch timelines of two traces and returns
// the index of the first (kind, clock) pair that differs. A length mismatch
// diverges at the end of the shorter trace. ok is false when the timelines
// are identical.
func FirstDivergence(a, b *ExecTrace) (index int, ok bool) {
	var da, db []DispatchRecord
	if a != nil {
		da = a.Dispatches
	}
	if b != nil {
		db = b.Dispatches
	}
	n := min(len(da), len(db))
	for i := 0; i < n; i++ {
		if da[i].Kind != db[i].Kind || da[i].Clock != db[i].Clock {
			return i, true
		}
	}
	if len(da) != len(db) {
		return n, true
	}
	return -1, false
}
