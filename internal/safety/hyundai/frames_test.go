package hyundai

import (
	"io"
	"log/slog"
	"testing"

	"github.com/benbjohnson/clock"

	"github.com/kstaniek/go-can-safety-gateway/internal/can"
)

func newTestSafety(t *testing.T) (*Safety, *clock.Mock) {
	t.Helper()
	mock := clock.NewMock()
	s := New(WithClock(mock), WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	return s, mock
}

func lkas11(bus uint8, torque int) can.Frame {
	v := uint16(torque + 1024)
	f := can.New(bus, AddrLKAS11, 0, 0, 0, 0, 0, 0, 0, 0)
	f.Data[2] = byte(v)
	f.Data[3] = byte(v>>8) & 0x07
	return f
}

func scc11(bus uint8, mainOn bool) can.Frame {
	f := can.New(bus, AddrSCC11, 0, 0, 0, 0, 0, 0, 0, 0)
	if mainOn {
		f.Data[0] = 0x01
	}
	return f
}

func ems16(counter uint8, engaged bool) can.Frame {
	f := can.New(0, AddrEMS16, 0x21, 0, 0, 0, 0x10, 0, 0, 0)
	if engaged {
		f.Data[3] |= 0x02
	}
	f.Data[7] = (counter & 0x03) << 4
	Seal(&f)
	return f
}

func mdps12(bus uint8, raw uint16) can.Frame {
	f := can.New(bus, AddrMDPS12, byte(raw), byte(raw>>8)&0x07, 0, 0, 0, 0, 0, 0)
	return f
}

func whlSpd11(fl, rr uint16) can.Frame {
	f := can.New(0, AddrWHLSPD11, byte(fl), byte(fl>>8)&0x3F, 0, 0, 0, 0, byte(rr), byte(rr>>8)&0x3F)
	return f
}

func clu11(bus uint8, button uint8) can.Frame {
	return can.New(bus, AddrCLU11, button&0x07, 0, 0, 0)
}

func scc12(bus uint8, accel int) can.Frame {
	v := uint16(accel + 1023)
	f := can.New(bus, AddrSCC12, 0, 0, 0, 0, 0, 0, 0, 0)
	f.Data[3] = byte(v)
	f.Data[4] = byte(v>>8)&0x07 | byte(v&0x07)<<5
	f.Data[5] = byte(v >> 3)
	return f
}

func frame(bus uint8, addr uint32, n int) can.Frame {
	return can.New(bus, addr, make([]byte, n)...)
}
