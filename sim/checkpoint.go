package sim

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/sirupsen/logrus"

	"github.com/evsim/evsim/sim/checkpoint"
)

var jsonAPI = jsoniter.ConfigCompatibleWithStandardLibrary

var errNoCheckpointFile = errors.New("no checkpoint file is configured")

// Checkpoint saves the full run state under name. When checkpointing is not
// possible the attempt is skipped: the reason is written to the output log
// and returned, and the run continues.
func (s *Simulator) Checkpoint(ctx context.Context, name string) error {
	if err := s.checkpointable(name); err != nil {
		s.skipCheckpoint(err)
		return err
	}
	s.Stats.Checkpoints++
	img, err := s.Snapshot()
	if err == nil {
		err = s.store.Save(ctx, name, img)
	}
	if err != nil {
		s.Stats.Checkpoints--
		err = fmt.Errorf("cannot write %s: %w", name, err)
		s.skipCheckpoint(err)
		return err
	}
	logrus.Infof("checkpoint at simtime %f written to %s (%d queued events)", s.Clock, name, len(img.Queue))
	if s.observer != nil {
		s.observer.CheckpointWritten(s.Clock)
	}
	return nil
}

func (s *Simulator) checkpointable(name string) error {
	if s.Config.CheckpointDisabled {
		return ErrCheckpointDisabled
	}
	if name == "" {
		return errNoCheckpointFile
	}
	if s.source != nil {
		src, ok := s.source.(SeekableSource)
		if !ok || !src.Seekable() {
			return ErrNonSeekableTrace
		}
	}
	return nil
}

func (s *Simulator) skipCheckpoint(reason error) {
	s.Stats.CheckpointsSkipped++
	s.out.Printf("Checkpoint at simtime %f skipped because %v\n", s.Clock, reason)
	logrus.Warnf("checkpoint at simtime %f skipped: %v", s.Clock, reason)
	if s.observer != nil {
		s.observer.CheckpointSkipped(s.Clock, reason)
	}
}

// Snapshot captures the current state as a checkpoint image. The output log
// is synced first so its offset is stable.
func (s *Simulator) Snapshot() (*checkpoint.Image, error) {
	if err := s.out.Sync(); err != nil {
		return nil, fmt.Errorf("syncing output log: %w", err)
	}
	outOff, err := s.out.Offset()
	if err != nil {
		return nil, err
	}
	cfg, err := jsonAPI.Marshal(s.Config)
	if err != nil {
		return nil, fmt.Errorf("encoding config: %w", err)
	}
	img := &checkpoint.Image{
		SchemaVersion: checkpoint.SchemaVersion,
		RunID:         s.RunID,
		CreatedAt:     time.Now().UTC(),
		Clock:         s.Clock,
		WarmupTime:    s.WarmupTime,
		Config:        cfg,
		NextSeq:       s.Queue.NextSeq(),
		PoolCapacity:  s.Pool.Capacity(),
		PoolFree:      s.Pool.FreeLen(),
		Stats:         s.Stats.toMap(),
		Output:        checkpoint.StreamPosition{Name: s.out.Name(), Offset: outOff},
	}
	for _, ev := range s.Queue.Events() {
		img.Queue = append(img.Queue, recordOf(ev))
	}
	if src, ok := s.source.(SeekableSource); ok {
		img.Trace = &checkpoint.StreamPosition{Name: src.Name(), Offset: src.Position()}
	}
	for _, sub := range s.subsystems {
		saver, ok := sub.handler.(StateSaver)
		if !ok {
			continue
		}
		data, err := saver.SaveState()
		if err != nil {
			return nil, fmt.Errorf("saving %s state: %w", sub.name, err)
		}
		if img.Subsystems == nil {
			img.Subsystems = make(map[string]json.RawMessage)
		}
		img.Subsystems[sub.name] = data
	}
	return img, nil
}

func recordOf(ev *Event) checkpoint.EventRecord {
	return checkpoint.EventRecord{
		Kind:      int(ev.Kind),
		TraceKind: int(ev.TraceKind),
		Time:      ev.Time,
		Seq:       ev.seq,
		DevNo:     ev.DevNo,
		BlkNo:     ev.BlkNo,
		ByteCount: ev.ByteCount,
		Flags:     ev.Flags,
		Cause:     ev.Cause,
		Start:     ev.Start,
		Timer:     ev.Timer,
		Arg:       ev.Arg,
	}
}

func (ev *Event) loadRecord(rec checkpoint.EventRecord) {
	ev.Kind = Kind(rec.Kind)
	ev.TraceKind = Kind(rec.TraceKind)
	ev.Time = rec.Time
	ev.DevNo = rec.DevNo
	ev.BlkNo = rec.BlkNo
	ev.ByteCount = rec.ByteCount
	ev.Flags = rec.Flags
	ev.Cause = rec.Cause
	ev.Start = rec.Start
	ev.Timer = rec.Timer
	ev.Arg = rec.Arg
}

// RestoreOptions supplies what an image cannot carry: code and open files.
type RestoreOptions struct {
	// OpenTrace reopens the trace stream recorded in the image.
	OpenTrace func(name string) (TraceSource, error)
	// Setup registers subsystems, timers and the interrupt handler on the
	// fresh simulator before subsystem state is restored.
	Setup func(s *Simulator) error
	// Options are applied to the fresh simulator. An output log given here
	// replaces reopening the recorded one.
	Options []Option
}

// Restore rebuilds a simulator from the image stored under name. The
// returned simulator is RUNNING and resumes exactly where the image was
// taken; do not call Prime on it.
func Restore(ctx context.Context, store checkpoint.Store, name string, ro RestoreOptions) (*Simulator, error) {
	img, err := store.Load(ctx, name)
	if err != nil {
		return nil, err
	}
	cfg := DefaultConfig()
	if len(img.Config) > 0 {
		if err := jsonAPI.Unmarshal(img.Config, &cfg); err != nil {
			return nil, fmt.Errorf("decoding checkpoint config: %w", err)
		}
	}

	s := NewSimulator(cfg, append([]Option{WithCheckpointStore(store)}, ro.Options...)...)
	s.RunID = img.RunID
	s.Clock = img.Clock
	s.WarmupTime = img.WarmupTime
	s.Stats = statsFromMap(img.Stats)

	if s.out == nil {
		out, err := ReopenOutputLog(img.Output.Name, img.Output.Offset)
		if err != nil {
			return nil, err
		}
		s.out = out
	}
	if img.Trace != nil {
		if err := s.reopenTrace(img.Trace, ro.OpenTrace); err != nil {
			s.closeStreams()
			return nil, err
		}
	}

	s.rebuildQueue(img)

	if err := s.restoreCollaborators(img, ro.Setup); err != nil {
		s.closeStreams()
		return nil, err
	}

	logrus.Infof("restored run %s from %s at simtime %f (%d queued events)", s.RunID, name, s.Clock, s.Queue.Len())
	return s, nil
}

// closeStreams releases the trace source and output log of a restore that
// failed part way.
func (s *Simulator) closeStreams() {
	if s.source != nil {
		_ = s.source.Close()
	}
	_ = s.out.Close()
}

// restoreCollaborators runs setup, hands each subsystem its saved state and
// checks that every queued timer has a registered handler.
func (s *Simulator) restoreCollaborators(img *checkpoint.Image, setup func(*Simulator) error) error {
	if setup != nil {
		if err := setup(s); err != nil {
			return fmt.Errorf("restore setup: %w", err)
		}
	}
	for subName, data := range img.Subsystems {
		h, ok := s.Subsystem(subName)
		if !ok {
			return fmt.Errorf("checkpoint has state for unregistered subsystem %s", subName)
		}
		saver, ok := h.(StateSaver)
		if !ok {
			return fmt.Errorf("subsystem %s cannot restore state", subName)
		}
		if err := saver.RestoreState(data); err != nil {
			return fmt.Errorf("restoring %s state: %w", subName, err)
		}
	}
	for _, ev := range s.Queue.Events() {
		if ev.Kind != TimerExpired {
			continue
		}
		if _, ok := s.timers[ev.Timer]; !ok {
			return fmt.Errorf("%w %q queued at simtime %f", ErrUnknownTimer, ev.Timer, ev.Time)
		}
	}
	return nil
}

func (s *Simulator) reopenTrace(pos *checkpoint.StreamPosition, open func(string) (TraceSource, error)) error {
	if s.source == nil {
		if open == nil {
			return fmt.Errorf("checkpoint references trace %s but no opener was given", pos.Name)
		}
		src, err := open(pos.Name)
		if err != nil {
			return fmt.Errorf("reopening trace %s: %w", pos.Name, err)
		}
		s.source = src
	}
	src, ok := s.source.(SeekableSource)
	if !ok || !src.Seekable() {
		return fmt.Errorf("%w: %s", ErrNonSeekableTrace, pos.Name)
	}
	if err := src.Seek(pos.Offset); err != nil {
		return fmt.Errorf("seeking trace %s to %d: %w", pos.Name, pos.Offset, err)
	}
	return nil
}

// rebuildQueue sizes the pool and replays the recorded queue so that pool
// capacity, free count and equal-time order match the image.
func (s *Simulator) rebuildQueue(img *checkpoint.Image) {
	s.Pool.Grow(img.PoolCapacity)
	for _, rec := range img.Queue {
		ev := s.Pool.Acquire()
		ev.loadRecord(rec)
		s.Queue.insertWithSeq(ev, rec.Seq)
	}
	s.Queue.nextSeq = img.NextSeq

	held := s.Pool.FreeLen() - img.PoolFree
	if held < 0 {
		logrus.Warnf("checkpoint records %d free events but only %d are available", img.PoolFree, s.Pool.FreeLen())
		return
	}
	for range held {
		s.orphans = append(s.orphans, s.Pool.Acquire())
	}
}
