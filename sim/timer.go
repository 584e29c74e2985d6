package sim

import (
	"fmt"

	"github.com/sirupsen/logrus"
)

// WarmupTimer is the built-in timer that ends the warm-up period.
const WarmupTimer = "warmup"

// TimerFunc is a timer callback. It may re-schedule ev; otherwise the loop
// releases ev after the callback returns. It must not release ev itself.
type TimerFunc func(s *Simulator, ev *Event)

// RegisterTimer binds name to fn, replacing any earlier binding. Queued timer
// events refer to callbacks by name so they survive checkpoint and restore.
func (s *Simulator) RegisterTimer(name string, fn TimerFunc) {
	s.timers[name] = fn
}

// ScheduleTimer queues a TimerExpired event for the named callback.
func (s *Simulator) ScheduleTimer(at float64, name string, arg int64) *Event {
	ev := s.Pool.Acquire()
	ev.Kind = TimerExpired
	ev.Time = at
	ev.Timer = name
	ev.Arg = arg
	s.Schedule(ev)
	return ev
}

func (s *Simulator) fireTimer(ev *Event) error {
	fn, ok := s.timers[ev.Timer]
	if !ok {
		s.Pool.Release(ev)
		return fmt.Errorf("%w %q at simtime %f", ErrUnknownTimer, ev.Timer, s.Clock)
	}
	fn(s, ev)
	if ev.owner == OwnerHeld {
		s.Pool.Release(ev)
	}
	return nil
}

func warmupExpired(s *Simulator, _ *Event) {
	s.WarmupTime = s.Clock
	s.Stats.resetForWarmup()
	for _, sub := range s.subsystems {
		if r, ok := sub.handler.(StatsResetter); ok {
			r.ResetStats()
		}
	}
	logrus.Infof("warm-up period ended at simtime %f", s.Clock)
}
