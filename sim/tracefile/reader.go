// Package tracefile reads ASCII request traces. Each non-comment line is
//
//	time devno blkno size [flags]
//
// with time in simulation units and size in bytes. Lines starting with '#'
// and blank lines are ignored.
package tracefile

import (
	"bufio"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/evsim/evsim/sim"
)

// StdinName selects standard input, which cannot be checkpointed.
const StdinName = "stdin"

// Reader is a sim.SeekableSource over an ASCII trace.
type Reader struct {
	name   string
	src    io.Reader
	seeker io.Seeker
	closer io.Closer
	br     *bufio.Reader
	offset int64
}

// Open opens the named trace. "stdin" reads standard input.
func Open(name string) (*Reader, error) {
	if name == StdinName || name == "-" {
		return &Reader{name: StdinName, src: os.Stdin, br: bufio.NewReader(os.Stdin)}, nil
	}
	f, err := os.Open(name)
	if err != nil {
		return nil, fmt.Errorf("opening trace %s: %w", name, err)
	}
	return &Reader{name: name, src: f, seeker: f, closer: f, br: bufio.NewReader(f)}, nil
}

// NewReader reads a trace from r. It is seekable only if r is an io.Seeker.
func NewReader(r io.Reader, name string) *Reader {
	rd := &Reader{name: name, src: r, br: bufio.NewReader(r)}
	if s, ok := r.(io.Seeker); ok {
		rd.seeker = s
	}
	if c, ok := r.(io.Closer); ok {
		rd.closer = c
	}
	return rd
}

// Name returns the trace name recorded in checkpoints.
func (r *Reader) Name() string { return r.name }

// Seekable reports whether the read position can be restored.
func (r *Reader) Seekable() bool { return r.seeker != nil }

// Position is the byte offset of the next unread line.
func (r *Reader) Position() int64 { return r.offset }

// Seek repositions the reader at a byte offset previously returned by Position.
func (r *Reader) Seek(offset int64) error {
	if r.seeker == nil {
		return fmt.Errorf("trace %s: %w", r.name, sim.ErrNonSeekableTrace)
	}
	if _, err := r.seeker.Seek(offset, io.SeekStart); err != nil {
		return err
	}
	r.br.Reset(r.src)
	r.offset = offset
	return nil
}

// Close closes the underlying file. Standard input is left open.
func (r *Reader) Close() error {
	if r.closer == nil {
		return nil
	}
	return r.closer.Close()
}

// Next returns the next request as a pool-acquired IOReqArrive event, or
// io.EOF at end of trace. Parse errors name the byte offset of the bad line,
// which stays correct after a Seek.
func (r *Reader) Next(s *sim.Simulator) (*sim.Event, error) {
	for {
		start := r.offset
		text, err := r.br.ReadString('\n')
		r.offset += int64(len(text))
		if err != nil && err != io.EOF {
			return nil, fmt.Errorf("reading trace %s: %w", r.name, err)
		}
		if text == "" && err == io.EOF {
			return nil, io.EOF
		}
		text = strings.TrimSpace(text)
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		req, perr := parseLine(text)
		if perr != nil {
			return nil, fmt.Errorf("%s@%d: %w", r.name, start, perr)
		}
		ev := s.Pool.Acquire()
		ev.Kind = sim.IOReqArrive
		ev.Time = req.time
		ev.DevNo = req.devno
		ev.BlkNo = req.blkno
		ev.ByteCount = req.size
		ev.Flags = req.flags
		return ev, nil
	}
}

type request struct {
	time  float64
	devno int
	blkno int64
	size  int
	flags uint32
}

func parseLine(text string) (request, error) {
	var req request
	fields := strings.Fields(text)
	if len(fields) < 4 || len(fields) > 5 {
		return req, fmt.Errorf("want 4 or 5 fields, got %d", len(fields))
	}
	var err error
	req.time, err = strconv.ParseFloat(fields[0], 64)
	if err != nil || math.IsNaN(req.time) || math.IsInf(req.time, 0) || req.time < 0 {
		return req, fmt.Errorf("bad time %q", fields[0])
	}
	if req.devno, err = strconv.Atoi(fields[1]); err != nil || req.devno < 0 {
		return req, fmt.Errorf("bad devno %q", fields[1])
	}
	if req.blkno, err = strconv.ParseInt(fields[2], 10, 64); err != nil || req.blkno < 0 {
		return req, fmt.Errorf("bad blkno %q", fields[2])
	}
	if req.size, err = strconv.Atoi(fields[3]); err != nil || req.size <= 0 {
		return req, fmt.Errorf("bad size %q", fields[3])
	}
	if len(fields) == 5 {
		flags, err := strconv.ParseUint(fields[4], 0, 32)
		if err != nil {
			return req, fmt.Errorf("bad flags %q", fields[4])
		}
		req.flags = uint32(flags)
	}
	return req, nil
}
