// sim/simulator.go
package sim

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/evsim/evsim/sim/checkpoint"
	"github.com/evsim/evsim/sim/trace"
)

// State is the dispatch loop state.
type State int

const (
	StateRunning State = iota
	StateStopped
)

func (st State) String() string {
	if st == StateStopped {
		return "stopped"
	}
	return "running"
}

type subsystem struct {
	name    string
	lo, hi  Kind
	handler Handler
}

// Simulator is the single context value of a run: clock, pool, queue,
// registered collaborators and statistics. Every component receives it
// explicitly; two simulators can run side by side in one process.
type Simulator struct {
	Clock      float64
	WarmupTime float64
	Config     Config
	RunID      string
	State      State
	Pool       *EventPool
	Queue      *EventQueue
	Stats      Stats

	subsystems []subsystem
	timers     map[string]TimerFunc
	intr       Handler
	source     TraceSource
	sync       Synchronizer
	out        *OutputLog
	observer   Observer
	exec       *trace.ExecTrace
	store      checkpoint.Store

	// orphans are records that were held by collaborators when the restored
	// image was captured. They stay out of the free list.
	orphans []*Event

	err error
}

// Option configures a Simulator.
type Option func(*Simulator)

// WithOutputLog sets the human-readable run log.
func WithOutputLog(out *OutputLog) Option {
	return func(s *Simulator) { s.out = out }
}

// WithTraceSource attaches the source of externally driven work.
func WithTraceSource(src TraceSource) Option {
	return func(s *Simulator) { s.source = src }
}

// WithSynchronizer attaches a master or slave endpoint.
func WithSynchronizer(sync Synchronizer) Option {
	return func(s *Simulator) { s.sync = sync }
}

// WithObserver attaches an activity observer such as a metrics recorder.
func WithObserver(o Observer) Option {
	return func(s *Simulator) { s.observer = o }
}

// WithExecTrace records dispatches (and inserts, at level all).
func WithExecTrace(et *trace.ExecTrace) Option {
	return func(s *Simulator) { s.exec = et }
}

// WithInterruptHandler routes IntrEvent to h.
func WithInterruptHandler(h Handler) Option {
	return func(s *Simulator) { s.intr = h }
}

// WithCheckpointStore sets where checkpoint images go. The default writes files.
func WithCheckpointStore(store checkpoint.Store) Option {
	return func(s *Simulator) { s.store = store }
}

// NewSimulator creates a simulator in the RUNNING state at simtime 0 with an
// empty queue. Call Prime before Run.
func NewSimulator(cfg Config, opts ...Option) *Simulator {
	s := &Simulator{
		Config: cfg,
		RunID:  uuid.NewString(),
		State:  StateRunning,
		Pool:   NewEventPool(),
		Queue:  NewEventQueue(),
		timers: make(map[string]TimerFunc),
		store:  checkpoint.NewFileStore(""),
	}
	s.RegisterTimer(WarmupTimer, warmupExpired)
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// RegisterSubsystem routes every kind in [lo, hi] to h. Ranges may not touch
// the internal kinds or overlap one another.
func (s *Simulator) RegisterSubsystem(name string, lo, hi Kind, h Handler) error {
	if lo > hi {
		return fmt.Errorf("subsystem %s: empty range [%d, %d]", name, lo, hi)
	}
	if lo <= lastInternalKind {
		return fmt.Errorf("%w: subsystem %s range [%d, %d] covers internal kinds", ErrOverlappingRange, name, lo, hi)
	}
	for _, sub := range s.subsystems {
		if sub.name == name {
			return fmt.Errorf("subsystem %s already registered", name)
		}
		if lo <= sub.hi && sub.lo <= hi {
			return fmt.Errorf("%w: subsystem %s range [%d, %d] overlaps %s [%d, %d]",
				ErrOverlappingRange, name, lo, hi, sub.name, sub.lo, sub.hi)
		}
	}
	s.subsystems = append(s.subsystems, subsystem{name: name, lo: lo, hi: hi, handler: h})
	return nil
}

// Subsystem returns the handler registered under name.
func (s *Simulator) Subsystem(name string) (Handler, bool) {
	for _, sub := range s.subsystems {
		if sub.name == name {
			return sub.handler, true
		}
	}
	return nil, false
}

func (s *Simulator) lookup(k Kind) *subsystem {
	for i := range s.subsystems {
		if k >= s.subsystems[i].lo && k <= s.subsystems[i].hi {
			return &s.subsystems[i]
		}
	}
	return nil
}

// Output returns the run log.
func (s *Simulator) Output() *OutputLog {
	return s.out
}

// TraceSource returns the attached trace source, if any.
func (s *Simulator) TraceSource() TraceSource {
	return s.source
}

// Schedule is the single entry point for inserting events. In master/slave
// mode the event is reconciled with the paired run first; a sync failure is
// fatal to the run but the event is still queued.
func (s *Simulator) Schedule(ev *Event) {
	if s.sync != nil {
		if err := s.sync.Reconcile(ev); err != nil {
			s.Fail(fmt.Errorf("synchronizing %s: %w", ev, err))
		}
	}
	s.Queue.Insert(ev)
	s.Stats.EventsScheduled++
	s.exec.RecordInsert(trace.InsertRecord{
		Clock:    s.Clock,
		Kind:     int(ev.Kind),
		KindName: ev.Kind.String(),
		Time:     ev.Time,
	})
	if s.observer != nil {
		s.observer.EventScheduled(ev, s.Queue.Len())
	}
}

// Deschedule removes a pending event. It returns false when ev already fired.
func (s *Simulator) Deschedule(ev *Event) bool {
	return s.Queue.Remove(ev)
}

// Prime seeds the queue: the warm-up timer, the first periodic checkpoint
// and the first unit of trace work.
func (s *Simulator) Prime() error {
	if s.Config.WarmupTime > 0 {
		s.ScheduleTimer(s.Config.WarmupTime, WarmupTimer, 0)
	}
	if s.Config.CheckpointInterval > 0 {
		s.RegisterCheckpoint(s.Config.CheckpointInterval)
	}
	if s.source == nil {
		return nil
	}
	next, err := s.source.Next(s)
	if errors.Is(err, io.EOF) {
		logrus.Warnf("trace %s contains no requests", s.source.Name())
		return nil
	}
	if err != nil {
		return fmt.Errorf("reading first trace unit: %w", err)
	}
	s.scheduleTraceUnit(next)
	return s.err
}

// RegisterCheckpoint schedules a checkpoint at simtime at.
func (s *Simulator) RegisterCheckpoint(at float64) *Event {
	ev := s.Pool.Acquire()
	ev.Kind = CheckpointEvent
	ev.Time = at
	s.Schedule(ev)
	return ev
}

// Stop ends the run after the current step.
func (s *Simulator) Stop() {
	s.State = StateStopped
}

// Fail records err as the run's fatal error and stops the loop. Only the
// first error is kept.
func (s *Simulator) Fail(err error) {
	if err == nil {
		return
	}
	if s.err == nil {
		s.err = err
	}
	s.State = StateStopped
}

// Err returns the fatal error that stopped the run, if any.
func (s *Simulator) Err() error {
	return s.err
}

// Step pops and dispatches one event. It returns ErrExitSim when an ExitSim
// event fires and the fatal error that stopped the run otherwise.
func (s *Simulator) Step(ctx context.Context) error {
	if s.State == StateStopped {
		return s.err
	}
	ev := s.Queue.PopMin()
	if ev == nil {
		logrus.Infof("Returning NULL from getnextevent at simtime %f", s.Clock)
		s.State = StateStopped
		return nil
	}
	if ev.Kind == NullEvent {
		if err := s.refill(ev); err != nil {
			s.Pool.Release(ev)
			s.Fail(err)
			return s.err
		}
	}
	if ev.Time < s.Clock {
		logrus.Warnf("event %s is earlier than simtime %f", ev, s.Clock)
		s.Stats.LateEvents++
	}
	s.Clock = ev.Time
	s.Stats.EventsDispatched++
	s.exec.RecordDispatch(trace.DispatchRecord{
		Step:     s.Stats.EventsDispatched,
		Clock:    s.Clock,
		Kind:     int(ev.Kind),
		KindName: ev.Kind.String(),
		DevNo:    ev.DevNo,
		BlkNo:    ev.BlkNo,
	})
	if s.observer != nil {
		s.observer.EventDispatched(ev, s.Queue.Len())
	}
	if err := s.dispatch(ctx, ev); err != nil {
		if errors.Is(err, ErrExitSim) {
			s.State = StateStopped
			return err
		}
		s.Fail(err)
	}
	return s.err
}

// refill turns a popped trace unit back into its real kind and queues the
// next unit. End of input stops the run after this step.
func (s *Simulator) refill(ev *Event) error {
	if s.source == nil {
		return fmt.Errorf("%w at simtime %f", ErrNoTraceSource, ev.Time)
	}
	ev.Kind = ev.TraceKind
	ev.TraceKind = NullEvent
	next, err := s.source.Next(s)
	if errors.Is(err, io.EOF) {
		logrus.Infof("trace %s exhausted at simtime %f", s.source.Name(), ev.Time)
		s.State = StateStopped
		return nil
	}
	if err != nil {
		return fmt.Errorf("reading trace %s: %w", s.source.Name(), err)
	}
	s.scheduleTraceUnit(next)
	return nil
}

func (s *Simulator) scheduleTraceUnit(ev *Event) {
	ev.TraceKind = ev.Kind
	ev.Kind = NullEvent
	s.Stats.TraceUnits++
	s.Schedule(ev)
}

// Run dispatches events until the loop stops, a fatal error occurs or ctx is
// cancelled. Cancellation is checked between steps only.
func (s *Simulator) Run(ctx context.Context) error {
	logrus.Infof("run %s starting at simtime %f with %d queued events", s.RunID, s.Clock, s.Queue.Len())
	for s.State == StateRunning {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := s.Step(ctx); err != nil {
			return err
		}
	}
	logrus.Infof("run %s stopped at simtime %f after %d events", s.RunID, s.Clock, s.Stats.EventsDispatched)
	return s.err
}

// PrintStats writes the end-of-run statistics block to the output log.
func (s *Simulator) PrintStats() {
	s.out.Printf("\nSIMULATION STATISTICS\n")
	s.out.Printf("---------------------\n\n")
	s.out.Printf("Total time of run:       %f\n\n", s.Clock)
	s.out.Printf("Warm-up time:            %f\n\n", s.WarmupTime)
	s.Stats.print(s.out)
	for _, sub := range s.subsystems {
		if p, ok := sub.handler.(StatsPrinter); ok {
			p.PrintStats(s.out)
		}
	}
}

// Cleanup runs subsystem cleaners, drains the queue and closes the trace
// source and output log.
func (s *Simulator) Cleanup() error {
	var errs []error
	for _, sub := range s.subsystems {
		if c, ok := sub.handler.(Cleaner); ok {
			if err := c.Cleanup(); err != nil {
				errs = append(errs, fmt.Errorf("cleaning up %s: %w", sub.name, err))
			}
		}
	}
	s.Queue.DrainInto(s.Pool)
	s.Pool.ReleaseChain(s.orphans)
	s.orphans = nil
	if s.source != nil {
		if err := s.source.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing trace %s: %w", s.source.Name(), err))
		}
	}
	if err := s.out.Close(); err != nil {
		errs = append(errs, fmt.Errorf("closing output log: %w", err))
	}
	return errors.Join(errs...)
}
