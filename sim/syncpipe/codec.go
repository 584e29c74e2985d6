package syncpipe

import (
	"encoding/binary"
	"math"

	"github.com/evsim/evsim/sim"
)

// RecordSize is the fixed size of one event on the wire.
const RecordSize = 64

// Record layout, little-endian:
//
//	0  kind       int32
//	4  trace kind int32
//	8  time       float64
//	16 devno      int32
//	20 flags      uint32
//	24 blkno      int64
//	32 bytecount  int32
//	36 cause      int32
//	40 start      float64
//	48 arg        int64
//	56 reserved
//
// Timer names do not travel; a timer is matched on kind alone.
var le = binary.LittleEndian

// EncodeEvent writes ev into buf, which must be at least RecordSize long.
func EncodeEvent(buf []byte, ev *sim.Event) {
	_ = buf[RecordSize-1]
	le.PutUint32(buf[0:], uint32(int32(ev.Kind)))
	le.PutUint32(buf[4:], uint32(int32(ev.TraceKind)))
	le.PutUint64(buf[8:], math.Float64bits(ev.Time))
	le.PutUint32(buf[16:], uint32(int32(ev.DevNo)))
	le.PutUint32(buf[20:], ev.Flags)
	le.PutUint64(buf[24:], uint64(ev.BlkNo))
	le.PutUint32(buf[32:], uint32(int32(ev.ByteCount)))
	le.PutUint32(buf[36:], uint32(int32(ev.Cause)))
	le.PutUint64(buf[40:], math.Float64bits(ev.Start))
	le.PutUint64(buf[48:], uint64(ev.Arg))
	clear(buf[56:RecordSize])
}

// DecodeEvent fills the kind, time and payload of ev from buf.
func DecodeEvent(buf []byte, ev *sim.Event) {
	_ = buf[RecordSize-1]
	ev.Kind = sim.Kind(int32(le.Uint32(buf[0:])))
	ev.TraceKind = sim.Kind(int32(le.Uint32(buf[4:])))
	ev.Time = math.Float64frombits(le.Uint64(buf[8:]))
	ev.DevNo = int(int32(le.Uint32(buf[16:])))
	ev.Flags = le.Uint32(buf[20:])
	ev.BlkNo = int64(le.Uint64(buf[24:]))
	ev.ByteCount = int(int32(le.Uint32(buf[32:])))
	ev.Cause = int(int32(le.Uint32(buf[36:])))
	ev.Start = math.Float64frombits(le.Uint64(buf[40:]))
	ev.Arg = int64(le.Uint64(buf[48:]))
}
