package sim

import (
	"fmt"
	"io"
	"os"
)

// StdoutName is the output file name that selects standard output.
const StdoutName = "stdout"

// OutputLog is the unbuffered human-readable run log. Its byte offset is part
// of every checkpoint. A nil *OutputLog discards everything.
type OutputLog struct {
	f    *os.File
	name string
}

// OpenOutputLog creates (or truncates) the named file for appending. An empty
// name or "stdout" selects standard output.
func OpenOutputLog(name string) (*OutputLog, error) {
	if name == "" || name == StdoutName {
		return &OutputLog{f: os.Stdout, name: StdoutName}, nil
	}
	f, err := os.OpenFile(name, os.O_CREATE|os.O_WRONLY|os.O_TRUNC|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("opening output file %s: %w", name, err)
	}
	return &OutputLog{f: f, name: name}, nil
}

// ReopenOutputLog opens an existing log for read/write and positions it at
// offset, discarding anything written after that point.
func ReopenOutputLog(name string, offset int64) (*OutputLog, error) {
	if name == "" || name == StdoutName {
		return &OutputLog{f: os.Stdout, name: StdoutName}, nil
	}
	f, err := os.OpenFile(name, os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("reopening output file %s: %w", name, err)
	}
	if err := f.Truncate(offset); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("truncating output file %s to %d: %w", name, offset, err)
	}
	if _, err := f.Seek(offset, io.SeekStart); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("seeking output file %s to %d: %w", name, offset, err)
	}
	return &OutputLog{f: f, name: name}, nil
}

// NewOutputLog wraps an already open file. Close closes it.
func NewOutputLog(f *os.File, name string) *OutputLog {
	return &OutputLog{f: f, name: name}
}

// Name returns the file name recorded in checkpoints.
func (o *OutputLog) Name() string {
	if o == nil {
		return ""
	}
	return o.name
}

func (o *OutputLog) Write(p []byte) (int, error) {
	if o == nil {
		return len(p), nil
	}
	return o.f.Write(p)
}

// Printf writes a formatted line. Write errors are dropped.
func (o *OutputLog) Printf(format string, args ...any) {
	if o == nil {
		return
	}
	_, _ = fmt.Fprintf(o.f, format, args...)
}

// Offset returns the current write position. Standard output always reports 0.
func (o *OutputLog) Offset() (int64, error) {
	if o == nil || o.isStdout() {
		return 0, nil
	}
	off, err := o.f.Seek(0, io.SeekCurrent)
	if err != nil {
		return 0, fmt.Errorf("reading output file offset: %w", err)
	}
	return off, nil
}

// Sync flushes the file to stable storage.
func (o *OutputLog) Sync() error {
	if o == nil || o.isStdout() {
		return nil
	}
	return o.f.Sync()
}

// Close closes the file unless it is standard output.
func (o *OutputLog) Close() error {
	if o == nil || o.isStdout() {
		return nil
	}
	return o.f.Close()
}

func (o *OutputLog) isStdout() bool {
	return o.f == os.Stdout
}
