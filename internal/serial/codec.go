package serial

import (
	"bytes"
	"encoding/binary"

	"github.com/kstaniek/go-can-safety-gateway/internal/can"
	"github.com/kstaniek/go-can-safety-gateway/internal/metrics"
)

// Adapter wire format. Commands and received frames share one envelope:
//
//	2D D4 | len | body | sum
//
// where len counts the body plus the sum byte and sum = 0x2D + len + Σbody
// (mod 256). A send command body is INS FLAGS ID(4, BE) payload; a received
// frame body is ID(4, BE) payload(0..8).
const (
	preamble0 = 0x2D
	preamble1 = 0xD4

	insSendExt  = 0x02 // send with a 32-bit identifier
	flagClassic = 0x80

	rxMinLen = 4 + 0 + 1
	rxMaxLen = 4 + 8 + 1

	compactMin = 1024
)

var header = []byte{preamble0, preamble1}

// Codec frames CAN traffic for one adapter. Bus is stamped on every decoded
// frame.
type Codec struct {
	Bus uint8
}

// CompactBuffer moves the unread bytes of b to the front of a fresh backing
// array once they fill less than a quarter of it. It reports whether it did.
func CompactBuffer(b *bytes.Buffer) bool {
	unread := b.Bytes()
	if len(unread) < compactMin || len(unread)*4 >= cap(unread) {
		return false
	}
	kept := bytes.Clone(unread)
	b.Reset()
	_, _ = b.Write(kept)
	return true
}

func sum(b []byte) byte {
	s := byte(preamble0)
	for _, c := range b {
		s += c
	}
	return s
}

// envelope wraps body for the wire.
func envelope(body []byte) []byte {
	out := make([]byte, 0, len(body)+4)
	out = append(out, preamble0, preamble1, byte(len(body)+1))
	out = append(out, body...)
	return append(out, sum(out[2:]))
}

// Encode builds the send command for f. Standard IDs go out zero-extended.
func (Codec) Encode(f can.Frame) []byte {
	n := min(f.Len, 8)
	body := make([]byte, 6, 6+n)
	body[0] = insSendExt
	body[1] = flagClassic | n
	binary.BigEndian.PutUint32(body[2:6], f.Addr())
	return envelope(append(body, f.Data[:n]...))
}

// next examines the head of data and returns how many bytes to drop, plus
// the frame when a complete valid one leads data. drop == 0 means more input
// is needed.
func (c Codec) next(data []byte) (fr can.Frame, drop int, ok bool) {
	i := bytes.Index(data, header)
	switch {
	case i < 0:
		// no preamble; a trailing 0x2D may start the next one
		if n := len(data); n > 0 && data[n-1] == preamble0 {
			return fr, n - 1, false
		}
		return fr, len(data), false
	case i > 0:
		return fr, i, false
	case len(data) < 3:
		return fr, 0, false
	}

	ln := int(data[2])
	if ln < rxMinLen || ln > rxMaxLen {
		metrics.IncMalformed()
		return fr, 1, false
	}
	end := 3 + ln
	if len(data) < end {
		return fr, 0, false
	}
	if sum(data[2:end-1]) != data[end-1] {
		metrics.IncMalformed()
		return fr, 1, false
	}
	id := binary.BigEndian.Uint32(data[3:7]) & can.CAN_EFF_MASK
	return can.New(c.Bus, id, data[7:end-1]...), end, true
}

// DecodeStream emits every complete frame buffered in in. A partial frame
// stays buffered for the next call; a bad length or checksum costs one byte
// and decoding resyncs on the next preamble.
func (c Codec) DecodeStream(in *bytes.Buffer, out func(can.Frame)) error {
	for {
		_ = CompactBuffer(in)
		fr, drop, ok := c.next(in.Bytes())
		if drop == 0 {
			return nil
		}
		in.Next(drop)
		if ok {
			metrics.IncBusRx(c.Bus, metrics.BackendSerial)
			out(fr)
		}
	}
}
