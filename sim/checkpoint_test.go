package sim

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/evsim/evsim/sim/checkpoint"
	"github.com/evsim/evsim/sim/trace"
)

func TestSimulator_PeriodicCheckpoints(t *testing.T) {
	// GIVEN a checkpoint interval of 10 and a stop at 35
	dir := t.TempDir()
	cfg := DefaultConfig()
	cfg.CheckpointInterval = 10
	cfg.CheckpointFile = filepath.Join(dir, "run.ckpt")
	obs := &recordingObserver{}
	s := NewSimulator(cfg, WithObserver(obs))
	require.NoError(t, s.Prime())
	scheduleKind(s, StopSim, 35)

	// WHEN run
	require.NoError(t, s.Run(context.Background()))

	// THEN checkpoints were taken at 10, 20 and 30, and the file holds the last
	assert.Equal(t, []float64{10, 20, 30}, obs.checkpoints)
	assert.Equal(t, int64(3), s.Stats.Checkpoints)
	img, err := checkpoint.NewFileStore("").Load(context.Background(), cfg.CheckpointFile)
	require.NoError(t, err)
	assert.Equal(t, 30.0, img.Clock)
	require.Len(t, img.Queue, 2)
	assert.Equal(t, int(StopSim), img.Queue[0].Kind)
	assert.Equal(t, int(CheckpointEvent), img.Queue[1].Kind)
	assert.Equal(t, 40.0, img.Queue[1].Time)
}

func TestSimulator_Checkpoint_SoftSkips(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config, *sliceSource)
		wantErr error
		reason  string
	}{
		{
			name:    "disabled",
			mutate:  func(c *Config, _ *sliceSource) { c.CheckpointDisabled = true },
			wantErr: ErrCheckpointDisabled,
			reason:  "checkpointing is disabled",
		},
		{
			name:    "stdin trace",
			mutate:  func(_ *Config, src *sliceSource) { src.unseekable = true },
			wantErr: ErrNonSeekableTrace,
			reason:  "non-seekable",
		},
		{
			name:   "unopenable target",
			mutate: func(c *Config, _ *sliceSource) { c.CheckpointFile = "/nonexistent-dir/run.ckpt" },
			reason: "cannot write /nonexistent-dir/run.ckpt",
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			// GIVEN a run whose checkpoint cannot be taken
			dir := t.TempDir()
			logPath := filepath.Join(dir, "out.log")
			out, err := OpenOutputLog(logPath)
			require.NoError(t, err)
			cfg := DefaultConfig()
			cfg.CheckpointInterval = 2
			cfg.CheckpointFile = filepath.Join(dir, "run.ckpt")
			src := &sliceSource{reqs: []reqSpec{{1, 0}, {3, 0}, {5, 0}}}
			tc.mutate(&cfg, src)
			obs := &recordingObserver{}
			s := NewSimulator(cfg, WithOutputLog(out), WithTraceSource(src), WithObserver(obs))
			require.NoError(t, s.RegisterSubsystem("io", IOMinEvent, IOMaxEvent, &delayIO{Delay: 1}))
			require.NoError(t, s.Prime())

			// WHEN run
			require.NoError(t, s.Run(context.Background()))
			require.NoError(t, out.Close())

			// THEN the run completed, and every attempt was skipped and logged
			assert.Equal(t, 5.0, s.Clock)
			assert.Empty(t, obs.checkpoints)
			assert.Len(t, obs.skipped, 2)
			if tc.wantErr != nil {
				assert.ErrorIs(t, obs.skipped[0], tc.wantErr)
			}
			data, err := os.ReadFile(logPath)
			require.NoError(t, err)
			assert.Contains(t, string(data), "Checkpoint at simtime 2.000000 skipped because ")
			assert.Contains(t, string(data), tc.reason)
			assert.Equal(t, int64(2), s.Stats.CheckpointsSkipped)
		})
	}
}

func TestSimulator_CheckpointRestore_RoundTrip(t *testing.T) {
	// GIVEN a trace-driven run with one checkpoint taken mid-run
	dir := t.TempDir()
	ckpt := filepath.Join(dir, "mid.ckpt")
	logPath := filepath.Join(dir, "out.log")
	reqs := []reqSpec{{1, 0}, {2, 1}, {2, 0}, {3.5, 1}, {4, 0}, {6, 1}, {9, 0}}
	cfg := DefaultConfig()
	cfg.CheckpointFile = ckpt
	cfg.OutputFile = logPath

	out, err := OpenOutputLog(logPath)
	require.NoError(t, err)
	etA := trace.NewExecTrace(trace.TraceConfig{Level: trace.TraceLevelDispatch, Retain: true})
	a, ioA, _ := newIOSim(t, cfg, reqs, WithOutputLog(out), WithExecTrace(etA))
	require.NoError(t, a.Prime())
	a.RegisterCheckpoint(3)
	a.ScheduleTimer(2.5, WarmupTimer, 0)
	scheduleKind(a, StopSim, 20)

	// WHEN the checkpointing run completes
	require.NoError(t, a.Run(context.Background()))
	out.Printf("run A finished\n")
	require.NoError(t, out.Close())

	// AND a second run is restored from the image
	store := checkpoint.NewFileStore("")
	img, err := store.Load(context.Background(), ckpt)
	require.NoError(t, err)
	etB := trace.NewExecTrace(trace.TraceConfig{Level: trace.TraceLevelDispatch, Retain: true})
	ioB := &delayIO{}
	b, err := Restore(context.Background(), store, ckpt, RestoreOptions{
		OpenTrace: func(string) (TraceSource, error) { return &sliceSource{reqs: reqs}, nil },
		Setup: func(s *Simulator) error {
			return s.RegisterSubsystem("io", IOMinEvent, IOMaxEvent, ioB)
		},
		Options: []Option{WithExecTrace(etB)},
	})
	require.NoError(t, err)

	// THEN clock, queue contents and pool free count match the image
	assert.Equal(t, img.Clock, b.Clock)
	assert.Equal(t, 3.0, b.Clock)
	assert.Equal(t, img.PoolFree, b.Pool.FreeLen())
	assert.Equal(t, img.PoolCapacity, b.Pool.Capacity())
	var restored []checkpoint.EventRecord
	for _, ev := range b.Queue.Events() {
		restored = append(restored, recordOf(ev))
	}
	assert.Equal(t, img.Queue, restored)
	assert.Equal(t, a.RunID, b.RunID)
	assert.Equal(t, 2.5, b.WarmupTime)
	assert.Equal(t, 2.0, ioB.Delay, "subsystem state restored")

	// AND the output log was rewound to the checkpoint offset
	data, err := os.ReadFile(logPath)
	require.NoError(t, err)
	assert.False(t, strings.Contains(string(data), "run A finished"))
	assert.Equal(t, img.Output.Offset, int64(len(data)))

	// WHEN the restored run completes
	require.NoError(t, b.Run(context.Background()))
	require.NoError(t, b.Cleanup())

	// THEN it dispatches exactly what the first run did after the checkpoint
	n := -1
	for i, d := range etA.Dispatches {
		if d.Kind == int(CheckpointEvent) {
			n = i + 1
		}
	}
	require.Positive(t, n)
	assert.Equal(t, etA.Dispatches[n:], etB.Dispatches)
	assert.Equal(t, a.Clock, b.Clock)
	assert.Equal(t, ioA.Arrivals, ioB.Arrivals)
	assert.Equal(t, ioA.Completed, ioB.Completed)
}

func TestRestore_HeldRecordsStayOutOfFreeList(t *testing.T) {
	// GIVEN a run where a collaborator holds two records at checkpoint time
	dir := t.TempDir()
	cfg := DefaultConfig()
	cfg.CheckpointFile = filepath.Join(dir, "held.ckpt")
	s := NewSimulator(cfg)
	held := []*Event{s.Pool.Acquire(), s.Pool.Acquire()}
	scheduleKind(s, StopSim, 9)
	require.NoError(t, s.Checkpoint(context.Background(), cfg.CheckpointFile))
	wantFree := s.Pool.FreeLen()
	s.Pool.ReleaseChain(held)

	// WHEN restored
	r, err := Restore(context.Background(), checkpoint.NewFileStore(""), cfg.CheckpointFile, RestoreOptions{})
	require.NoError(t, err)

	// THEN the free count matches the capture, not the capacity
	assert.Equal(t, wantFree, r.Pool.FreeLen())
	assert.Equal(t, 1, r.Queue.Len())
}

func TestRestore_UnregisteredTimer(t *testing.T) {
	dir := t.TempDir()
	cfg := DefaultConfig()
	cfg.CheckpointFile = filepath.Join(dir, "t.ckpt")
	s := NewSimulator(cfg)
	s.RegisterTimer("custom", func(*Simulator, *Event) {})
	s.ScheduleTimer(4, "custom", 0)
	require.NoError(t, s.Checkpoint(context.Background(), cfg.CheckpointFile))

	_, err := Restore(context.Background(), checkpoint.NewFileStore(""), cfg.CheckpointFile, RestoreOptions{})

	assert.ErrorIs(t, err, ErrUnknownTimer)
}

func TestRestore_UnregisteredSubsystemState(t *testing.T) {
	dir := t.TempDir()
	cfg := DefaultConfig()
	cfg.CheckpointFile = filepath.Join(dir, "s.ckpt")
	s := NewSimulator(cfg)
	require.NoError(t, s.RegisterSubsystem("io", IOMinEvent, IOMaxEvent, &delayIO{Delay: 1}))
	require.NoError(t, s.Checkpoint(context.Background(), cfg.CheckpointFile))

	_, err := Restore(context.Background(), checkpoint.NewFileStore(""), cfg.CheckpointFile, RestoreOptions{})

	assert.ErrorContains(t, err, "unregistered subsystem io")
}

func TestRestore_FailureClosesReopenedTrace(t *testing.T) {
	// GIVEN an image taken mid-trace
	dir := t.TempDir()
	cfg := DefaultConfig()
	cfg.CheckpointFile = filepath.Join(dir, "trace.ckpt")
	reqs := []reqSpec{{1, 0}, {2, 0}, {3, 0}}
	s := NewSimulator(cfg, WithTraceSource(&sliceSource{reqs: reqs}))
	require.NoError(t, s.RegisterSubsystem("io", IOMinEvent, IOMaxEvent, &delayIO{Delay: 1}))
	require.NoError(t, s.Prime())
	require.NoError(t, s.Checkpoint(context.Background(), cfg.CheckpointFile))

	tests := []struct {
		name  string
		setup func(*Simulator) error
		want  string
	}{
		{"setup fails", func(*Simulator) error { return assert.AnError }, "restore setup"},
		{"subsystem left unregistered", nil, "unregistered subsystem io"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			// WHEN a restore reopens the trace and then fails
			reopened := &sliceSource{reqs: reqs}
			_, err := Restore(context.Background(), checkpoint.NewFileStore(""), cfg.CheckpointFile, RestoreOptions{
				OpenTrace: func(string) (TraceSource, error) { return reopened, nil },
				Setup:     tc.setup,
			})

			// THEN the error surfaces and the reopened trace was closed
			require.Error(t, err)
			assert.ErrorContains(t, err, tc.want)
			assert.True(t, reopened.closed)
		})
	}
}

func TestRestore_NonSeekableTraceIsClosed(t *testing.T) {
	dir := t.TempDir()
	cfg := DefaultConfig()
	cfg.CheckpointFile = filepath.Join(dir, "ns.ckpt")
	s := NewSimulator(cfg, WithTraceSource(&sliceSource{reqs: []reqSpec{{1, 0}, {2, 0}}}))
	require.NoError(t, s.Prime())
	require.NoError(t, s.Checkpoint(context.Background(), cfg.CheckpointFile))

	reopened := &sliceSource{unseekable: true}
	_, err := Restore(context.Background(), checkpoint.NewFileStore(""), cfg.CheckpointFile, RestoreOptions{
		OpenTrace: func(string) (TraceSource, error) { return reopened, nil },
	})

	assert.ErrorIs(t, err, ErrNonSeekableTrace)
	assert.True(t, reopened.closed)
}

func TestRestore_Missing(t *testing.T) {
	_, err := Restore(context.Background(), checkpoint.NewFileStore(t.TempDir()), "none.ckpt", RestoreOptions{})
	assert.ErrorIs(t, err, checkpoint.ErrNotFound)
}
