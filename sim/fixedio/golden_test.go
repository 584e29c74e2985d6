package fixedio

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/evsim/evsim/sim"
	"github.com/evsim/evsim/sim/internal/testutil"
	"github.com/evsim/evsim/sim/tracefile"
)

// TestGoldenDataset replays every trace in testdata/goldendataset.json
// through the fixed I/O model and compares end-of-run metrics.
func TestGoldenDataset(t *testing.T) {
	dataset := testutil.LoadGoldenDataset(t)
	require.NotEmpty(t, dataset.Tests)

	for _, tc := range dataset.Tests {
		t.Run(tc.Name, func(t *testing.T) {
			path := testutil.WriteTrace(t, tc.Trace)
			src, err := tracefile.Open(path)
			require.NoError(t, err)

			cfg := sim.DefaultConfig()
			cfg.WarmupTime = tc.WarmupTime
			cfg.TraceFile = path
			s := sim.NewSimulator(cfg, sim.WithTraceSource(src))

			m, err := New(Config{Devices: tc.Devices, ServiceTime: tc.ServiceTime, TransferPerKB: tc.TransferPerKB})
			require.NoError(t, err)
			require.NoError(t, m.Register(s))

			require.NoError(t, s.Prime())
			require.NoError(t, s.Run(context.Background()))

			want := tc.Metrics
			assert.Equal(t, want.Arrivals, m.Stats.Arrivals, "arrivals")
			assert.Equal(t, want.Completed, m.Stats.Completed, "completed")
			testutil.AssertFloat64Equal(t, "end_time", want.EndTime, s.Clock, 1e-9)
			testutil.AssertFloat64Equal(t, "mean_response", want.MeanResponse, m.Stats.MeanResponse(), 1e-9)
			testutil.AssertFloat64Equal(t, "max_response", want.MaxResponse, m.Stats.MaxResponse, 1e-9)
			require.NoError(t, s.Cleanup())
		})
	}
}
