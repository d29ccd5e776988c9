package safety

import (
	"math/bits"

	"github.com/kstaniek/go-can-safety-gateway/internal/can"
)

// ChecksumKind enumerates the checksum algorithms a profile can select per address.
type ChecksumKind uint8

const (
	ChecksumNone ChecksumKind = iota
	// ChecksumNibbleSum: (16 - sum of all payload nibbles mod 16) mod 16.
	ChecksumNibbleSum
	// ChecksumBitCount: number of set payload bits, XORed with a constant, low nibble.
	ChecksumBitCount
)

func (k ChecksumKind) String() string {
	switch k {
	case ChecksumNibbleSum:
		return "nibble_sum"
	case ChecksumBitCount:
		return "bit_count"
	default:
		return "none"
	}
}

// Compute returns the checksum of data. Bits set in exclude (the checksum
// field itself, and the counter for bit counts) are left out.
func (k ChecksumKind) Compute(data *[8]byte, exclude *[8]byte, xor uint8) uint8 {
	switch k {
	case ChecksumNibbleSum:
		var sum uint
		for i, b := range data {
			b &^= exclude[i]
			sum += uint(b&0x0F) + uint(b>>4)
		}
		return uint8((16 - sum%16) % 16)
	case ChecksumBitCount:
		var n int
		for i, b := range data {
			n += bits.OnesCount8(b &^ exclude[i])
		}
		return (uint8(n) ^ xor) & 0x0F
	default:
		return 0
	}
}

// Layout describes where an address keeps its integrity fields and which
// algorithm protects it.
type Layout struct {
	Checksum ChecksumKind
	Exclude  [8]byte
	XOR      uint8

	ChecksumOf func(f *can.Frame) uint8 // nil when the address carries no checksum
	CounterOf  func(f *can.Frame) uint8 // nil when the address carries no counter
}

// Integrity holds the counter and checksum embedded in a frame.
type Integrity struct {
	Counter  uint8
	Checksum uint8
}

// Extract reads the embedded fields of f.
func (l *Layout) Extract(f *can.Frame) Integrity {
	var in Integrity
	if l.ChecksumOf != nil {
		in.Checksum = l.ChecksumOf(f)
	}
	if l.CounterOf != nil {
		in.Counter = l.CounterOf(f)
	}
	return in
}

// Compute recomputes the checksum of f.
func (l *Layout) Compute(f *can.Frame) uint8 {
	return l.Checksum.Compute(&f.Data, &l.Exclude, l.XOR)
}
