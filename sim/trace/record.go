// Package trace provides execution-trace recording for the dispatch loop.
// It does not import sim/ and stores pure data types only.
package trace

// DispatchRecord captures a single event dispatched by the loop.
type DispatchRecord struct {
	Step     int64
	Clock    float64
	Kind     int
	KindName string
	DevNo    int
	BlkNo    int64
}

// InsertRecord captures a single queue insertion.
type InsertRecord struct {
	Clock    float64 // simulation clock when the insert happened
	Kind     int
	KindName string
	Time     float64 // due time after any master/slave reconciliation
}
