// Package cnl implements the upstream wire format: a stream of frames, each
// a 4-byte big-endian CAN identifier, a tag byte and up to eight payload bytes.
// The tag byte carries the payload length in bits 0..3 and the vehicle bus in
// bits 4..6; bit 7 is reserved and must be zero.
package cnl

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/kstaniek/go-can-safety-gateway/internal/can"
	"github.com/kstaniek/go-can-safety-gateway/internal/metrics"
)

const (
	lenMask     = 0x0F
	busShift    = 4
	busMask     = 0x07
	reservedBit = 0x80
	maxWireSize = 4 + 1 + 8
)

var (
	// ErrInvalidLength is returned when a frame length is outside 0..8.
	ErrInvalidLength = errors.New("cnl: invalid length")
	// ErrReservedBit is returned when the reserved tag bit is set.
	ErrReservedBit = errors.New("cnl: reserved tag bit set")
	// ErrTruncatedFrame is returned when the reader ends mid-frame.
	ErrTruncatedFrame = errors.New("cnl: truncated frame")
)

// Codec encodes and decodes bus-tagged frames. Stateless and safe for concurrent use.
type Codec struct{}

func tag(f can.Frame) byte {
	return (f.Bus&busMask)<<busShift | f.Len&lenMask
}

// Encode packs frames into one packet.
func (c *Codec) Encode(frames []can.Frame) []byte {
	if len(frames) == 0 {
		return nil
	}
	var buf bytes.Buffer
	buf.Grow(len(frames) * maxWireSize)
	_, _ = c.EncodeTo(&buf, frames)
	return buf.Bytes()
}

// EncodeTo writes frames to w and returns the bytes written. Lengths above 8
// are clamped.
func (c *Codec) EncodeTo(w io.Writer, frames []can.Frame) (int, error) {
	var total int
	var rec [maxWireSize]byte
	for _, f := range frames {
		if f.Len > 8 {
			f.Len = 8
		}
		binary.BigEndian.PutUint32(rec[:4], f.CANID)
		rec[4] = tag(f)
		n := 5 + copy(rec[5:], f.Data[:f.Len])
		m, err := w.Write(rec[:n])
		total += m
		if err != nil {
			return total, fmt.Errorf("cnl encode 0x%X: %w", f.CANID, err)
		}
	}
	return total, nil
}

// Decode reads exactly one frame from r. It returns io.EOF at a clean frame
// boundary when no more data is available. Any error after the first byte of
// a frame, a read timeout included, is ErrTruncatedFrame: the stream is no
// longer aligned.
func (c *Codec) Decode(r io.Reader) (can.Frame, error) {
	var f can.Frame
	var hdr [5]byte
	n, err := io.ReadFull(r, hdr[:])
	if err != nil {
		if n > 0 {
			metrics.IncMalformed()
			return f, fmt.Errorf("cnl decode header: %w (%v)", ErrTruncatedFrame, err)
		}
		return f, err
	}
	f.CANID = binary.BigEndian.Uint32(hdr[:4])
	if hdr[4]&reservedBit != 0 {
		metrics.IncMalformed()
		return f, fmt.Errorf("cnl decode: %w (0x%02X)", ErrReservedBit, hdr[4])
	}
	ln := int(hdr[4] & lenMask)
	if ln > 8 {
		metrics.IncMalformed()
		return f, fmt.Errorf("cnl decode: %w (%d)", ErrInvalidLength, ln)
	}
	f.Len = uint8(ln)
	f.Bus = (hdr[4] >> busShift) & busMask
	if ln > 0 {
		if _, err := io.ReadFull(r, f.Data[:ln]); err != nil {
			metrics.IncMalformed()
			return f, fmt.Errorf("cnl decode payload: %w (%v)", ErrTruncatedFrame, err)
		}
	}
	return f, nil
}

// DecodeN decodes up to max frames (or until error when max <= 0), calling
// onFrame for each. The terminal error may be io.EOF.
func (c *Codec) DecodeN(r io.Reader, max int, onFrame func(can.Frame)) (int, error) {
	var n int
	for max <= 0 || n < max {
		fr, err := c.Decode(r)
		if err != nil {
			return n, err
		}
		onFrame(fr)
		n++
	}
	return n, nil
}
