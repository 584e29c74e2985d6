// Package fixedio is a minimal I/O subsystem: each device serves requests
// one at a time, first come first served, with a fixed service time plus a
// per-kilobyte transfer time.
package fixedio

import (
	"encoding/json"
	"fmt"
	"io"

	jsoniter "github.com/json-iterator/go"
	"github.com/sirupsen/logrus"

	"github.com/evsim/evsim/sim"
)

// SubsystemName is the name the model registers under and its checkpoint key.
const SubsystemName = "io"

var jsonAPI = jsoniter.ConfigCompatibleWithStandardLibrary

// Config describes the devices.
type Config struct {
	Devices       int     `yaml:"devices" json:"devices"`
	ServiceTime   float64 `yaml:"service_time" json:"service_time"`       // per request
	TransferPerKB float64 `yaml:"transfer_per_kb" json:"transfer_per_kb"` // per 1024 bytes moved
}

// DefaultConfig is one device with unit service time.
func DefaultConfig() Config {
	return Config{Devices: 1, ServiceTime: 1}
}

// Validate checks the device parameters.
func (c Config) Validate() error {
	if c.Devices <= 0 {
		return fmt.Errorf("io.devices must be > 0, got %d", c.Devices)
	}
	if c.ServiceTime < 0 || c.TransferPerKB < 0 {
		return fmt.Errorf("io.service_time and io.transfer_per_kb must be >= 0")
	}
	return nil
}

// Stats are the per-run I/O counters.
type Stats struct {
	Arrivals      int64   `json:"arrivals"`
	Completed     int64   `json:"completed"`
	Bytes         int64   `json:"bytes"`
	TotalResponse float64 `json:"total_response"`
	MaxResponse   float64 `json:"max_response"`
}

// MeanResponse is the average response time of completed requests.
func (st Stats) MeanResponse() float64 {
	if st.Completed == 0 {
		return 0
	}
	return st.TotalResponse / float64(st.Completed)
}

// Model handles the I/O event range.
type Model struct {
	cfg       Config
	busyUntil []float64
	Stats     Stats
}

type savedState struct {
	Config    Config    `json:"config"`
	BusyUntil []float64 `json:"busy_until"`
	Stats     Stats     `json:"stats"`
}

// New builds a model for cfg.
func New(cfg Config) (*Model, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Model{cfg: cfg, busyUntil: make([]float64, cfg.Devices)}, nil
}

// Register routes the I/O kind range to m.
func (m *Model) Register(s *sim.Simulator) error {
	return s.RegisterSubsystem(SubsystemName, sim.IOMinEvent, sim.IOMaxEvent, m)
}

// HandleEvent serves arrivals and records completions.
func (m *Model) HandleEvent(s *sim.Simulator, ev *sim.Event) {
	switch ev.Kind {
	case sim.IOReqArrive:
		m.arrive(s, ev)
	case sim.IOAccessComplete:
		m.complete(s, ev)
	default:
		kind := ev.Kind
		s.Pool.Release(ev)
		s.Fail(fmt.Errorf("%w: I/O model cannot handle %s", sim.ErrUnrecognizedEvent, kind))
	}
}

func (m *Model) arrive(s *sim.Simulator, ev *sim.Event) {
	if ev.DevNo < 0 || ev.DevNo >= len(m.busyUntil) {
		devno := ev.DevNo
		s.Pool.Release(ev)
		s.Fail(fmt.Errorf("request for device %d but only %d configured", devno, len(m.busyUntil)))
		return
	}
	m.Stats.Arrivals++
	start := max(s.Clock, m.busyUntil[ev.DevNo])
	done := start + m.cfg.ServiceTime + m.cfg.TransferPerKB*float64(ev.ByteCount)/1024
	m.busyUntil[ev.DevNo] = done
	logrus.Debugf("device %d: request at %f blkno %d starts %f done %f", ev.DevNo, s.Clock, ev.BlkNo, start, done)

	ev.Start = s.Clock
	ev.Kind = sim.IOAccessComplete
	ev.Time = done
	s.Schedule(ev)
}

func (m *Model) complete(s *sim.Simulator, ev *sim.Event) {
	resp := s.Clock - ev.Start
	m.Stats.Completed++
	m.Stats.Bytes += int64(ev.ByteCount)
	m.Stats.TotalResponse += resp
	m.Stats.MaxResponse = max(m.Stats.MaxResponse, resp)
	s.Pool.Release(ev)
}

// ResetStats clears counters at the end of warm-up. Device queues keep their state.
func (m *Model) ResetStats() {
	m.Stats = Stats{}
}

// PrintStats writes the I/O section of the statistics block.
func (m *Model) PrintStats(w io.Writer) {
	_, _ = fmt.Fprintf(w, "IOdriver Requests arrived:     %d\n", m.Stats.Arrivals)
	_, _ = fmt.Fprintf(w, "IOdriver Requests completed:   %d\n", m.Stats.Completed)
	_, _ = fmt.Fprintf(w, "IOdriver Bytes transferred:    %d\n", m.Stats.Bytes)
	_, _ = fmt.Fprintf(w, "IOdriver Response time average: %f\n", m.Stats.MeanResponse())
	_, _ = fmt.Fprintf(w, "IOdriver Response time maximum: %f\n\n", m.Stats.MaxResponse)
}

// Config returns the device parameters in effect.
func (m *Model) Config() Config {
	return m.cfg
}

// SaveState captures the device parameters, busy times and counters.
func (m *Model) SaveState() (json.RawMessage, error) {
	return jsonAPI.Marshal(savedState{Config: m.cfg, BusyUntil: m.busyUntil, Stats: m.Stats})
}

// RestoreState loads what SaveState produced, replacing the model's
// configuration with the saved one.
func (m *Model) RestoreState(data json.RawMessage) error {
	var st savedState
	if err := jsonAPI.Unmarshal(data, &st); err != nil {
		return fmt.Errorf("decoding I/O state: %w", err)
	}
	if err := st.Config.Validate(); err != nil {
		return fmt.Errorf("decoding I/O state: %w", err)
	}
	if len(st.BusyUntil) != st.Config.Devices {
		return fmt.Errorf("I/O state has %d busy times for %d devices", len(st.BusyUntil), st.Config.Devices)
	}
	m.cfg = st.Config
	m.busyUntil = st.BusyUntil
	m.Stats = st.Stats
	return nil
}
