package syncpipe

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/evsim/evsim/sim"
)

func TestEncodeDecode_CarriesKindTimeAndPayload(t *testing.T) {
	in := &sim.Event{
		Kind: sim.IOAccessComplete, TraceKind: sim.IOReqArrive, Time: 12.345678901,
		DevNo: -3, BlkNo: 1 << 40, ByteCount: 65536, Flags: 0xdeadbeef, Cause: 7, Start: 1.5, Arg: -9,
	}
	buf := make([]byte, RecordSize)

	EncodeEvent(buf, in)
	var out sim.Event
	DecodeEvent(buf, &out)

	assert.Equal(t, in.Kind, out.Kind)
	assert.Equal(t, in.TraceKind, out.TraceKind)
	assert.Equal(t, in.Time, out.Time)
	assert.Equal(t, in.DevNo, out.DevNo)
	assert.Equal(t, in.BlkNo, out.BlkNo)
	assert.Equal(t, in.ByteCount, out.ByteCount)
	assert.Equal(t, in.Flags, out.Flags)
	assert.Equal(t, in.Cause, out.Cause)
	assert.Equal(t, in.Start, out.Start)
	assert.Equal(t, in.Arg, out.Arg)
}

func TestParseMode(t *testing.T) {
	for in, want := range map[string]Mode{"": ModeNone, "none": ModeNone, "Master": ModeMaster, " slave ": ModeSlave} {
		got, err := ParseMode(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := ParseMode("peer")
	assert.Error(t, err)
	assert.Equal(t, "slave", ModeSlave.String())
}

type kt struct {
	kind sim.Kind
	time float64
}

func sendAll(t *testing.T, m *Master, seq []kt) {
	t.Helper()
	for _, x := range seq {
		require.NoError(t, m.Reconcile(&sim.Event{Kind: x.kind, Time: x.time}))
	}
}

func TestSlave_AdoptsMasterTimes(t *testing.T) {
	// GIVEN a master that inserted [(io,1.0), (timer,2.5), (io,2.5000001)]
	var wire bytes.Buffer
	m := NewMaster(&wire)
	sendAll(t, m, []kt{{sim.IOReqArrive, 1.0}, {sim.TimerExpired, 2.5}, {sim.IOReqArrive, 2.5000001}})
	assert.Equal(t, int64(3), m.Sent())

	// WHEN a slave performs the same inserts with its own times
	s := NewSlave(&wire)
	local := []*sim.Event{
		{Kind: sim.IOReqArrive, Time: 1.0},
		{Kind: sim.TimerExpired, Time: 9.0},
		{Kind: sim.IOReqArrive, Time: 2.5},
	}
	for _, ev := range local {
		require.NoError(t, s.Reconcile(ev))
	}

	// THEN every time is coerced to the master's, and only the large drift counts
	assert.Equal(t, []float64{1.0, 2.5, 2.5000001}, []float64{local[0].Time, local[1].Time, local[2].Time})
	assert.Equal(t, int64(1), s.Drifts)
	assert.Equal(t, int64(3), s.Received())
}

func TestSlave_KindMismatch_ReportsPosition(t *testing.T) {
	// GIVEN a master sequence whose third insert is a checkpoint
	var wire bytes.Buffer
	sendAll(t, NewMaster(&wire), []kt{{sim.IOReqArrive, 1}, {sim.IOReqArrive, 2}, {sim.CheckpointEvent, 3}})

	// WHEN the slave's third insert is a stop event
	s := NewSlave(&wire)
	require.NoError(t, s.Reconcile(&sim.Event{Kind: sim.IOReqArrive}))
	require.NoError(t, s.Reconcile(&sim.Event{Kind: sim.IOReqArrive}))
	err := s.Reconcile(&sim.Event{Kind: sim.StopSim})

	// THEN a divergence at index 2 is reported
	var div *DivergenceError
	require.True(t, errors.As(err, &div))
	assert.Equal(t, int64(2), div.Index)
	assert.Equal(t, sim.StopSim, div.Want)
	assert.Equal(t, sim.CheckpointEvent, div.Got)
	assert.ErrorIs(t, err, ErrDiverged)
}

func TestSlave_ShortRead_ErrPipeClosed(t *testing.T) {
	s := NewSlave(bytes.NewReader(make([]byte, RecordSize/2)))
	err := s.Reconcile(&sim.Event{Kind: sim.NullEvent})
	assert.ErrorIs(t, err, ErrPipeClosed)
}

type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) { return 0, errors.New("broken pipe") }

func TestMaster_WriteFailure_Tolerated(t *testing.T) {
	m := NewMaster(failingWriter{})
	ev := &sim.Event{Kind: sim.StopSim, Time: 4}

	err := m.Reconcile(ev)

	assert.NoError(t, err)
	assert.Equal(t, int64(1), m.Failed())
	assert.Equal(t, 4.0, ev.Time)
}

func TestOpenFDs_None(t *testing.T) {
	ep, err := OpenFDs(ModeNone, DefaultInFD, DefaultOutFD)
	assert.NoError(t, err)
	assert.Nil(t, ep)
}

func TestPipe_TwoSimulatorsInLockstep(t *testing.T) {
	// GIVEN two simulators joined by an in-process pipe, the slave with skewed times
	m, sl, err := Pipe()
	require.NoError(t, err)
	master := sim.NewSimulator(sim.DefaultConfig(), sim.WithSynchronizer(m))
	slave := sim.NewSimulator(sim.DefaultConfig(), sim.WithSynchronizer(sl))

	insert := func(s *sim.Simulator, skew float64) {
		for i, k := range []sim.Kind{sim.TimerExpired, sim.TimerExpired, sim.StopSim} {
			ev := s.Pool.Acquire()
			ev.Kind = k
			ev.Time = float64(i+1) + skew
			ev.Timer = sim.WarmupTimer
			s.Schedule(ev)
		}
	}

	// WHEN both perform the same inserts concurrently
	g, _ := errgroup.WithContext(context.Background())
	g.Go(func() error {
		insert(master, 0)
		return m.Close()
	})
	g.Go(func() error {
		insert(slave, 0.25)
		return slave.Err()
	})
	require.NoError(t, g.Wait())

	// THEN the slave's queue holds the master's times
	var times []float64
	for _, ev := range slave.Queue.Events() {
		times = append(times, ev.Time)
	}
	assert.Equal(t, []float64{1, 2, 3}, times)
	require.NoError(t, sl.Close())
}
