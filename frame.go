package pms7003

import (
	"encoding/binary"
	"fmt"
)

const (
	// FrameLen is the size of one active-mode frame on the wire.
	FrameLen = 32
	// StartByte1 and StartByte2 open every frame.
	StartByte1 = 0x42
	StartByte2 = 0x4D
	// PayloadLen is the declared length carried in bytes 2-3: 13 data words plus the checksum.
	PayloadLen = 28

	fieldsOffset   = 4
	checksumOffset = 30
)

// Frame is one raw 32-byte sensor frame.
type Frame [FrameLen]byte

// Reading holds the values carried by one frame.
// Concentrations are in µg/m³, counts are particles per 0.1 L of air at or above the given diameter.
type Reading struct {
	PM1_0Standard uint16
	PM2_5Standard uint16
	PM10Standard  uint16
	PM1_0         uint16
	PM2_5         uint16
	PM10          uint16
	Count0_3      uint16
	Count0_5      uint16
	Count1_0      uint16
	Count2_5      uint16
	Count5_0      uint16
	Count10       uint16
}

// fields returns pointers to the reading fields in wire order.
func (r *Reading) fields() [12]*uint16 {
	return [12]*uint16{
		&r.PM1_0Standard, &r.PM2_5Standard, &r.PM10Standard,
		&r.PM1_0, &r.PM2_5, &r.PM10,
		&r.Count0_3, &r.Count0_5, &r.Count1_0, &r.Count2_5, &r.Count5_0, &r.Count10,
	}
}

// Values returns the twelve fields in wire order.
func (r Reading) Values() [12]uint16 {
	var out [12]uint16
	for i, p := range r.fields() {
		out[i] = *p
	}
	return out
}

func (r Reading) String() string {
	return fmt.Sprintf("PM1.0s=%d PM2.5s=%d PM10s=%d PM1.0=%d PM2.5=%d PM10=%d "+
		">0.3um=%d >0.5um=%d >1.0um=%d >2.5um=%d >5.0um=%d >10um=%d",
		r.PM1_0Standard, r.PM2_5Standard, r.PM10Standard, r.PM1_0, r.PM2_5, r.PM10,
		r.Count0_3, r.Count0_5, r.Count1_0, r.Count2_5, r.Count5_0, r.Count10)
}

// Checksum returns the 16-bit wrapping sum of the first 30 bytes of frame.
func Checksum(frame []byte) uint16 {
	var sum uint16
	for _, b := range frame[:checksumOffset] {
		sum += uint16(b)
	}
	return sum
}

// Decode validates a raw frame and extracts its reading.
// Checks run in order: start bytes, declared length, checksum.
func Decode(frame []byte) (Reading, error) {
	if len(frame) != FrameLen {
		return Reading{}, &Error{Kind: FramingError, Op: "decode", Expected: FrameLen, Actual: len(frame)}
	}
	if frame[0] != StartByte1 || frame[1] != StartByte2 {
		return Reading{}, &Error{
			Kind:     FramingError,
			Op:       "decode",
			Expected: StartByte1<<8 | StartByte2,
			Actual:   int(binary.BigEndian.Uint16(frame[0:2])),
		}
	}
	if n := binary.BigEndian.Uint16(frame[2:4]); n != PayloadLen {
		return Reading{}, &Error{Kind: FramingError, Op: "decode", Expected: PayloadLen, Actual: int(n)}
	}
	want := binary.BigEndian.Uint16(frame[checksumOffset:])
	if got := Checksum(frame); got != want {
		return Reading{}, &Error{Kind: ChecksumError, Op: "decode", Expected: int(want), Actual: int(got)}
	}

	var r Reading
	for i, p := range r.fields() {
		off := fieldsOffset + 2*i
		*p = binary.BigEndian.Uint16(frame[off : off+2])
	}
	return r, nil
}

// Encode builds a valid frame carrying r. Reserved bytes are zero.
func Encode(r Reading) Frame {
	var f Frame
	f[0], f[1] = StartByte1, StartByte2
	binary.BigEndian.PutUint16(f[2:4], PayloadLen)
	for i, v := range r.Values() {
		off := fieldsOffset + 2*i
		binary.BigEndian.PutUint16(f[off:off+2], v)
	}
	binary.BigEndian.PutUint16(f[checksumOffset:], Checksum(f[:]))
	return f
}
