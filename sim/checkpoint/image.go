// Package checkpoint defines the persisted form of a simulation: an explicit,
// versioned schema covering the event queue, pool sizing, clock, counters,
// configuration and external stream positions. It has no dependency on sim/.
package checkpoint

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	jsoniter "github.com/json-iterator/go"
)

// SchemaVersion is bumped whenever Image changes incompatibly.
const SchemaVersion = 1

var (
	// ErrCorruptImage is returned when image data cannot be decoded.
	ErrCorruptImage = errors.New("checkpoint image is corrupt")

	// ErrSchemaVersion is returned when an image was written by an incompatible build.
	ErrSchemaVersion = errors.New("checkpoint image has unsupported schema version")

	// ErrNotFound is returned by stores when no image exists under a name.
	ErrNotFound = errors.New("checkpoint not found")
)

var jsonAPI = jsoniter.ConfigCompatibleWithStandardLibrary

// EventRecord is one queued event. Records appear in dispatch order.
type EventRecord struct {
	Kind      int     `json:"kind"`
	TraceKind int     `json:"trace_kind,omitempty"`
	Time      float64 `json:"time"`
	Seq       uint64  `json:"seq"`
	DevNo     int     `json:"devno,omitempty"`
	BlkNo     int64   `json:"blkno,omitempty"`
	ByteCount int     `json:"bytecount,omitempty"`
	Flags     uint32  `json:"flags,omitempty"`
	Cause     int     `json:"cause,omitempty"`
	Start     float64 `json:"start,omitempty"`
	Timer     string  `json:"timer,omitempty"`
	Arg       int64   `json:"arg,omitempty"`
}

// StreamPosition is a named file and the byte offset to resume it at.
type StreamPosition struct {
	Name   string `json:"name"`
	Offset int64  `json:"offset"`
}

// Image is the complete persisted state of one simulation.
type Image struct {
	SchemaVersion int       `json:"schema_version"`
	RunID         string    `json:"run_id"`
	CreatedAt     time.Time `json:"created_at"`

	Clock      float64         `json:"clock"`
	WarmupTime float64         `json:"warmup_time"`
	Config     json.RawMessage `json:"config"`

	NextSeq      uint64        `json:"next_seq"`
	PoolCapacity int           `json:"pool_capacity"`
	PoolFree     int           `json:"pool_free"`
	Queue        []EventRecord `json:"queue"`

	Stats map[string]int64 `json:"stats,omitempty"`

	Output StreamPosition  `json:"output"`
	Trace  *StreamPosition `json:"trace,omitempty"`

	// Subsystems holds each collaborator's opaque private state by name.
	Subsystems map[string]json.RawMessage `json:"subsystems,omitempty"`
}

// Validate checks structural consistency of an image.
func (img *Image) Validate() error {
	if img.SchemaVersion != SchemaVersion {
		return fmt.Errorf("%w: got %d, want %d", ErrSchemaVersion, img.SchemaVersion, SchemaVersion)
	}
	if img.PoolFree < 0 || img.PoolCapacity < 0 {
		return fmt.Errorf("%w: negative pool sizes (capacity %d, free %d)", ErrCorruptImage, img.PoolCapacity, img.PoolFree)
	}
	for i := 1; i < len(img.Queue); i++ {
		prev, cur := img.Queue[i-1], img.Queue[i]
		if cur.Time < prev.Time || (cur.Time == prev.Time && cur.Seq <= prev.Seq) {
			return fmt.Errorf("%w: queue record %d is out of order", ErrCorruptImage, i)
		}
	}
	for i, rec := range img.Queue {
		if rec.Seq > img.NextSeq {
			return fmt.Errorf("%w: queue record %d has seq %d beyond next_seq %d", ErrCorruptImage, i, rec.Seq, img.NextSeq)
		}
	}
	return nil
}

// Encode serializes an image.
func Encode(img *Image) ([]byte, error) {
	data, err := jsonAPI.Marshal(img)
	if err != nil {
		return nil, fmt.Errorf("encoding checkpoint image: %w", err)
	}
	return data, nil
}

// Decode parses and validates an image.
func Decode(data []byte) (*Image, error) {
	var img Image
	if err := jsonAPI.Unmarshal(data, &img); err != nil {
		return nil, errors.Join(ErrCorruptImage, err)
	}
	if err := img.Validate(); err != nil {
		return nil, err
	}
	return &img, nil
}
