package sim

import (
	"context"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"
)

// dispatch routes ev by kind. Internal kinds are handled here; external kinds
// go to the subsystem registered for their range.
func (s *Simulator) dispatch(ctx context.Context, ev *Event) error {
	switch ev.Kind {
	case IntrEvent:
		if s.intr == nil {
			s.Pool.Release(ev)
			return fmt.Errorf("%w: interrupt at simtime %f", ErrNoInterruptHandler, s.Clock)
		}
		s.intr.HandleEvent(s, ev)
		return nil
	case TimerExpired:
		return s.fireTimer(ev)
	case CheckpointEvent:
		if s.Config.CheckpointInterval > 0 {
			s.RegisterCheckpoint(s.Clock + s.Config.CheckpointInterval)
		}
		s.Pool.Release(ev)
		// failures are soft and already reported
		_ = s.Checkpoint(ctx, s.Config.CheckpointFile)
		return nil
	case StopSim:
		s.Pool.Release(ev)
		s.State = StateStopped
		return nil
	case ExitSim:
		return ErrExitSim
	}
	if sub := s.lookup(ev.Kind); sub != nil {
		sub.handler.HandleEvent(s, ev)
		return nil
	}
	kind := ev.Kind
	s.Pool.Release(ev)
	if logrus.IsLevelEnabled(logrus.DebugLevel) {
		var b strings.Builder
		s.Queue.Dump(&b)
		logrus.Debugf("unrecognized event type %d at simtime %f; %d still queued:\n%s", int(kind), s.Clock, s.Queue.Len(), b.String())
	}
	return fmt.Errorf("%w: type %d at simtime %f", ErrUnrecognizedEvent, int(kind), s.Clock)
}
