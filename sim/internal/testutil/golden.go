// Package testutil provides shared test infrastructure: the golden run
// dataset and assertion and fixture helpers used across sim/ and cmd/ tests.
package testutil

import (
	"encoding/json"
	"math"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
)

// GoldenDataset represents the structure of testdata/goldendataset.json.
type GoldenDataset struct {
	Tests []GoldenTestCase `json:"tests"`
}

// GoldenTestCase is one trace-driven run against the fixed I/O model.
type GoldenTestCase struct {
	Name          string        `json:"name"`
	Trace         []string      `json:"trace"`
	Devices       int           `json:"devices"`
	ServiceTime   float64       `json:"service_time"`
	TransferPerKB float64       `json:"transfer_per_kb"`
	WarmupTime    float64       `json:"warmup_time"`
	Metrics       GoldenMetrics `json:"metrics"`
}

// GoldenMetrics are the expected end-of-run values.
type GoldenMetrics struct {
	Arrivals     int64   `json:"arrivals"`
	Completed    int64   `json:"completed"`
	EndTime      float64 `json:"end_time"`
	MeanResponse float64 `json:"mean_response"`
	MaxResponse  float64 `json:"max_response"`
}

// LoadGoldenDataset loads the golden dataset from the testdata directory.
// The path is resolved relative to this source file: sim/internal/testutil/ → testdata/.
func LoadGoldenDataset(t *testing.T) *GoldenDataset {
	t.Helper()

	_, thisFile, _, ok := runtime.Caller(0)
	if !ok {
		t.Fatal("Failed to get current file path")
	}
	path := filepath.Join(filepath.Dir(thisFile), "..", "..", "..", "testdata", "goldendataset.json")
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("Failed to read golden dataset: %v", err)
	}

	var dataset GoldenDataset
	if err := json.Unmarshal(data, &dataset); err != nil {
		t.Fatalf("Failed to parse golden dataset: %v", err)
	}

	return &dataset
}

// WriteTrace writes ASCII trace lines to a file in a per-test temp dir and
// returns its path.
func WriteTrace(t *testing.T, lines []string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "trace.txt")
	if err := os.WriteFile(path, []byte(strings.Join(lines, "\n")+"\n"), 0o644); err != nil {
		t.Fatalf("Failed to write trace: %v", err)
	}
	return path
}

// AssertFloat64Equal compares two float64 values with relative tolerance.
func AssertFloat64Equal(t *testing.T, name string, want, got, relTol float64) {
	t.Helper()
	if want == 0 && got == 0 {
		return
	}
	diff := math.Abs(want - got)
	maxVal := math.Max(math.Abs(want), math.Abs(got))
	if diff/maxVal > relTol {
		t.Errorf("%s: got %v, want %v (diff=%v, relDiff=%v)", name, got, want, diff, diff/maxVal)
	}
}
