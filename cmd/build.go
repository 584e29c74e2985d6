package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/evsim/evsim/sim"
	"github.com/evsim/evsim/sim/checkpoint"
	"github.com/evsim/evsim/sim/fixedio"
	"github.com/evsim/evsim/sim/trace"
	"github.com/evsim/evsim/sim/tracefile"
)

// interruptAck acknowledges external interrupts. The fixed I/O model never
// raises any, so each one is counted and returned to the pool.
type interruptAck struct {
	count int64
}

func (a *interruptAck) HandleEvent(s *sim.Simulator, ev *sim.Event) {
	a.count++
	logrus.Debugf("interrupt at simtime %f acknowledged", s.Clock)
	s.Pool.Release(ev)
}

// openTrace adapts tracefile.Open to the restore hook, keeping a failed open
// from turning into a non-nil interface holding a nil reader.
func openTrace(name string) (sim.TraceSource, error) {
	r, err := tracefile.Open(name)
	if err != nil {
		return nil, err
	}
	return r, nil
}

// openStore returns the checkpoint store selected by dsn: PostgreSQL when a
// DSN is given, files otherwise.
func openStore(ctx context.Context, driver, dsn string) (checkpoint.Store, func(), error) {
	if dsn == "" {
		return checkpoint.NewFileStore(""), func() {}, nil
	}
	ps, err := checkpoint.OpenPostgresStore(ctx, driver, dsn)
	if err != nil {
		return nil, nil, err
	}
	return ps, func() {
		if err := ps.Close(); err != nil {
			logrus.Warnf("closing checkpoint store: %v", err)
		}
	}, nil
}

// newExecTrace builds the execution trace for level, mirroring lines to the
// output log. With level none it returns nil, or a silent in-memory
// dispatch trace when retain is set.
func newExecTrace(level string, retain bool, out *sim.OutputLog) *trace.ExecTrace {
	if level == "" || trace.TraceLevel(level) == trace.TraceLevelNone {
		if !retain {
			return nil
		}
		return trace.NewExecTrace(trace.TraceConfig{Level: trace.TraceLevelDispatch, Retain: true})
	}
	et := trace.NewExecTrace(trace.TraceConfig{Level: trace.TraceLevel(level), Retain: retain})
	if out != nil {
		et.SetSink(out)
	}
	return et
}

// setupCollaborators registers the I/O model on s.
func setupCollaborators(s *sim.Simulator, ioCfg fixedio.Config) (*fixedio.Model, error) {
	model, err := fixedio.New(ioCfg)
	if err != nil {
		return nil, err
	}
	if err := model.Register(s); err != nil {
		return nil, err
	}
	return model, nil
}

// run is one built simulator and the collaborators the CLI reports on.
type run struct {
	sim  *sim.Simulator
	io   *fixedio.Model
	exec *trace.ExecTrace
}

// buildSimulator opens the output log and trace named in cfg, writes the run
// header and registers the I/O model. retain keeps dispatch records in
// memory for comparison. extra options are applied last.
func buildSimulator(cfg FileConfig, retain bool, extra ...sim.Option) (*run, error) {
	cfg.Sim.ApplyNameLimits()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	out, err := sim.OpenOutputLog(cfg.Sim.OutputFile)
	if err != nil {
		return nil, err
	}
	et := newExecTrace(cfg.Sim.ExecTrace, retain, out)
	opts := []sim.Option{sim.WithOutputLog(out), sim.WithInterruptHandler(&interruptAck{})}
	if et != nil {
		opts = append(opts, sim.WithExecTrace(et))
	}

	traceName := "none"
	if cfg.Sim.TraceFile != "" {
		src, err := tracefile.Open(cfg.Sim.TraceFile)
		if err != nil {
			_ = out.Close()
			return nil, err
		}
		traceName = src.Name()
		opts = append(opts, sim.WithTraceSource(src))
	}

	s := sim.NewSimulator(cfg.Sim, append(opts, extra...)...)
	out.Printf("*** Output file name: %s\n", out.Name())
	out.Printf("*** Input trace format: %s\n", cfg.Sim.TraceFormat)
	out.Printf("*** I/O trace used: %s\n", traceName)
	out.Printf("*** Run ID: %s\n", s.RunID)

	model, err := setupCollaborators(s, cfg.IO)
	if err != nil {
		_ = s.Cleanup()
		return nil, err
	}
	return &run{sim: s, io: model, exec: et}, nil
}

// finishRun prints statistics and releases the run's resources unless the
// run ended through an ExitSim event, which skips both.
func finishRun(s *sim.Simulator, runErr error) error {
	if errors.Is(runErr, sim.ErrExitSim) {
		return runErr
	}
	if runErr != nil {
		if err := s.Cleanup(); err != nil {
			logrus.Warnf("cleanup after failure: %v", err)
		}
		return runErr
	}
	s.PrintStats()
	if err := s.Cleanup(); err != nil {
		return fmt.Errorf("cleanup: %w", err)
	}
	return nil
}

// runSimulation builds, primes and runs one simulator to completion.
func runSimulation(ctx context.Context, cfg FileConfig, retain bool, extra ...sim.Option) (*run, error) {
	r, err := buildSimulator(cfg, retain, extra...)
	if err != nil {
		return nil, err
	}
	if err := r.sim.Prime(); err != nil {
		return r, finishRun(r.sim, err)
	}
	return r, finishRun(r.sim, r.sim.Run(ctx))
}

// restoreSimulation resumes the run stored under name and runs it to
// completion. execLevel enables the execution trace for the resumed part.
func restoreSimulation(ctx context.Context, store checkpoint.Store, name, execLevel string, extra ...sim.Option) (*run, error) {
	r := &run{exec: newExecTrace(execLevel, false, nil)}
	opts := []sim.Option{sim.WithInterruptHandler(&interruptAck{})}
	if r.exec != nil {
		opts = append(opts, sim.WithExecTrace(r.exec))
	}
	s, err := sim.Restore(ctx, store, name, sim.RestoreOptions{
		OpenTrace: openTrace,
		Setup: func(s *sim.Simulator) error {
			m, err := setupCollaborators(s, fixedio.DefaultConfig())
			r.io = m
			return err
		},
		Options: append(opts, extra...),
	})
	if err != nil {
		return nil, err
	}
	r.sim = s
	if r.exec != nil {
		r.exec.SetSink(s.Output())
	}
	if s.Config.SyncMode != sim.SyncModeNone && s.Config.SyncMode != "" {
		logrus.Warnf("sync mode %s is not resumed from a checkpoint", s.Config.SyncMode)
	}
	return r, finishRun(s, s.Run(ctx))
}
