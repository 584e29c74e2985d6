// Package syncpipe implements the master/slave protocol that lets a slave run
// replay the exact event times of a master run. Both sides exchange one
// fixed-size record per queue insertion over a byte pipe, in lockstep.
package syncpipe

import (
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/evsim/evsim/sim"
)

// Default inherited descriptors for the sync channel.
const (
	DefaultInFD  = 8
	DefaultOutFD = 9
)

// TimeTolerance is the largest master/slave time difference accepted without
// a warning.
const TimeTolerance = 1e-6

var (
	// ErrPipeClosed is returned when the slave cannot read a full record.
	ErrPipeClosed = errors.New("sync pipe closed")

	// ErrDiverged is wrapped by every DivergenceError.
	ErrDiverged = errors.New("master and slave runs diverged")
)

// Mode selects the role of a run.
type Mode int

const (
	ModeNone Mode = iota
	ModeMaster
	ModeSlave
)

func (m Mode) String() string {
	switch m {
	case ModeMaster:
		return sim.SyncModeMaster
	case ModeSlave:
		return sim.SyncModeSlave
	default:
		return sim.SyncModeNone
	}
}

// ParseMode parses "none", "master" or "slave". Empty means none.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", sim.SyncModeNone:
		return ModeNone, nil
	case sim.SyncModeMaster:
		return ModeMaster, nil
	case sim.SyncModeSlave:
		return ModeSlave, nil
	default:
		return ModeNone, fmt.Errorf("unknown sync mode %q", s)
	}
}

// DivergenceError reports the first insertion whose kind differs between runs.
type DivergenceError struct {
	Index int64    // zero-based insertion number
	Want  sim.Kind // kind the slave was inserting
	Got   sim.Kind // kind the master sent
	Time  float64  // master time of the mismatched record
}

func (e *DivergenceError) Error() string {
	return fmt.Sprintf("insert %d: master sent %s at %f, slave has %s", e.Index, e.Got, e.Time, e.Want)
}

func (e *DivergenceError) Unwrap() error {
	return ErrDiverged
}

// Endpoint is one side of the channel.
type Endpoint interface {
	sim.Synchronizer
	io.Closer
}

// Master copies every inserted event to the paired run. Write failures are
// counted, never returned.
type Master struct {
	w      io.Writer
	buf    [RecordSize]byte
	sent   int64
	failed int64
}

// NewMaster writes records to w.
func NewMaster(w io.Writer) *Master {
	return &Master{w: w}
}

// Reconcile sends ev and leaves it unchanged.
func (m *Master) Reconcile(ev *sim.Event) error {
	EncodeEvent(m.buf[:], ev)
	if _, err := m.w.Write(m.buf[:]); err != nil {
		m.failed++
		logrus.Debugf("sync write of %s failed: %v", ev, err)
		return nil
	}
	m.sent++
	return nil
}

// Sent is the number of records written successfully.
func (m *Master) Sent() int64 { return m.sent }

// Failed is the number of records that could not be written.
func (m *Master) Failed() int64 { return m.failed }

// Close closes the underlying writer if it is closable, which ends the
// slave's input.
func (m *Master) Close() error {
	if c, ok := m.w.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// Slave blocks on every insert until the master's matching record arrives,
// then adopts the master's time.
type Slave struct {
	r     io.Reader
	buf   [RecordSize]byte
	index int64
	// Drifts counts records whose time differed by more than TimeTolerance.
	Drifts int64
}

// NewSlave reads records from r.
func NewSlave(r io.Reader) *Slave {
	return &Slave{r: r}
}

// Reconcile reads one record, checks its kind against ev and overwrites ev's time.
func (s *Slave) Reconcile(ev *sim.Event) error {
	if _, err := io.ReadFull(s.r, s.buf[:]); err != nil {
		return fmt.Errorf("%w after %d records: %v", ErrPipeClosed, s.index, err)
	}
	var got sim.Event
	DecodeEvent(s.buf[:], &got)
	if got.Kind != ev.Kind {
		return &DivergenceError{Index: s.index, Want: ev.Kind, Got: got.Kind, Time: got.Time}
	}
	if diff := math.Abs(got.Time - ev.Time); diff > TimeTolerance {
		s.Drifts++
		logrus.Warnf("sync insert %d: %s time %f replaced by master time %f (diff %g)", s.index, ev.Kind, ev.Time, got.Time, diff)
	}
	ev.Time = got.Time
	s.index++
	return nil
}

// Received is the number of records consumed.
func (s *Slave) Received() int64 { return s.index }

// Close closes the underlying reader if it is closable.
func (s *Slave) Close() error {
	if c, ok := s.r.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// OpenFDs builds the endpoint for mode from inherited file descriptors. The
// master writes to outFD and the slave reads inFD. ModeNone returns nil.
func OpenFDs(mode Mode, inFD, outFD int) (Endpoint, error) {
	switch mode {
	case ModeMaster:
		f := os.NewFile(uintptr(outFD), "sync-out")
		if f == nil {
			return nil, fmt.Errorf("invalid sync output descriptor %d", outFD)
		}
		return NewMaster(f), nil
	case ModeSlave:
		f := os.NewFile(uintptr(inFD), "sync-in")
		if f == nil {
			return nil, fmt.Errorf("invalid sync input descriptor %d", inFD)
		}
		return NewSlave(f), nil
	default:
		return nil, nil
	}
}

// Pipe returns a connected in-process master and slave.
func Pipe() (*Master, *Slave, error) {
	r, w, err := os.Pipe()
	if err != nil {
		return nil, nil, fmt.Errorf("creating sync pipe: %w", err)
	}
	return NewMaster(w), NewSlave(r), nil
}
