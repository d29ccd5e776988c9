package hyundai

import (
	"github.com/kstaniek/go-can-safety-gateway/internal/can"
	"github.com/kstaniek/go-can-safety-gateway/internal/safety"
)

// Integrity field layouts, keyed by address.
var (
	layoutEMS16 = &safety.Layout{
		Checksum:   safety.ChecksumNibbleSum,
		Exclude:    [8]byte{7: 0x0F},
		ChecksumOf: func(f *can.Frame) uint8 { return f.Data[7] & 0x0F },
		CounterOf:  func(f *can.Frame) uint8 { return (f.Data[7] >> 4) & 0x03 },
	}
	layoutWHLSPD11 = &safety.Layout{
		Checksum:   safety.ChecksumBitCount,
		Exclude:    [8]byte{1: 0xC0, 3: 0xC0, 5: 0xC0, 7: 0xC0},
		XOR:        9,
		ChecksumOf: func(f *can.Frame) uint8 { return (f.Data[7]>>6)<<2 | f.Data[5]>>6 },
		CounterOf:  func(f *can.Frame) uint8 { return (f.Data[3]>>6)<<2 | f.Data[1]>>6 },
	}
	layoutTCS13 = &safety.Layout{
		Checksum:   safety.ChecksumNibbleSum,
		Exclude:    [8]byte{6: 0x0F, 7: 0xFF},
		ChecksumOf: func(f *can.Frame) uint8 { return f.Data[6] & 0x0F },
		CounterOf:  func(f *can.Frame) uint8 { return (f.Data[1] >> 5) & 0x07 },
	}
	layoutSCC12 = &safety.Layout{
		Checksum:   safety.ChecksumNibbleSum,
		Exclude:    [8]byte{7: 0xF0},
		ChecksumOf: func(f *can.Frame) uint8 { return f.Data[7] >> 4 },
		CounterOf:  func(f *can.Frame) uint8 { return f.Data[7] & 0x0F },
	}
	layoutCLU11 = &safety.Layout{
		CounterOf: func(f *can.Frame) uint8 { return (f.Data[3] >> 4) & 0x0F },
	}
)

var layouts = map[uint32]*safety.Layout{
	AddrEMS16:    layoutEMS16,
	AddrWHLSPD11: layoutWHLSPD11,
	AddrTCS13:    layoutTCS13,
	AddrSCC12:    layoutSCC12,
	AddrCLU11:    layoutCLU11,
}

// LayoutOf returns the integrity layout of addr, or nil when the address
// carries neither counter nor checksum.
func LayoutOf(addr uint32) *safety.Layout { return layouts[addr] }

// Seal writes a valid checksum for f in place (no-op for addresses without one).
// Used by tests and the replay tool to build authentic frames.
func Seal(f *can.Frame) {
	l := LayoutOf(f.Addr())
	if l == nil || l.Checksum == safety.ChecksumNone {
		return
	}
	sum := l.Compute(f)
	switch f.Addr() {
	case AddrEMS16:
		f.Data[7] = f.Data[7]&0xF0 | sum
	case AddrWHLSPD11:
		f.Data[5] = f.Data[5]&0x3F | (sum&0x03)<<6
		f.Data[7] = f.Data[7]&0x3F | (sum>>2)<<6
	case AddrTCS13:
		f.Data[6] = f.Data[6]&0xF0 | sum
	case AddrSCC12:
		f.Data[7] = f.Data[7]&0x0F | sum<<4
	}
}

// desiredTorque decodes the LKAS11 steering command.
func desiredTorque(f *can.Frame) int {
	return int((f.Bytes04()>>16)&0x7FF) - 1024
}

// driverTorque decodes MDPS12 column torque, rescaled to the LKAS11 range.
func driverTorque(f *can.Frame) int {
	return int(float64(f.Bytes04()&0x7FF)*0.79 - 808)
}

// sccMainOn is the SCC11 main engage bit.
func sccMainOn(f *can.Frame) bool { return f.Bytes04()&0x1 != 0 }

// emsCruiseOn is the EMS16 cruise engage bit (bit 25).
func emsCruiseOn(f *can.Frame) bool { return (f.Bytes04()>>25)&0x1 != 0 }

// wheelSpeed averages the front-left and rear-right wheel speeds of WHL_SPD11.
func wheelSpeed(f *can.Frame) int {
	fl := int(f.Bytes04() & 0x3FFF)
	rr := int((f.Bytes48() >> 16) & 0x3FFF)
	return (fl + rr) / 2
}

// cluButton is the CLU11 cruise switch state.
func cluButton(f *can.Frame) uint8 { return uint8(f.Bytes04() & 0x7) }

// accelRequest decodes the SCC12 aReqRaw and aReqValue fields in 1/100 m/s².
func accelRequest(f *can.Frame) (raw, value int) {
	raw = (int(f.Data[4]&0x7)<<8 | int(f.Data[3])) - 1023
	value = (int(f.Data[5])<<3 | int(f.Data[4]>>5)) - 1023
	return raw, value
}
