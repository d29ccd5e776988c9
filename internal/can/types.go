package can

import "encoding/binary"

// SocketCAN flag bits for can_id (same values as <linux/can.h>)
const (
	CAN_EFF_FLAG = 0x80000000
	CAN_RTR_FLAG = 0x40000000
	CAN_ERR_FLAG = 0x20000000
	CAN_SFF_MASK = 0x7FF
	CAN_EFF_MASK = 0x1FFFFFFF
)

// MaxBus is the number of physical buses a gateway can address (0..MaxBus-1).
const MaxBus = 8

// Frame is a classic CAN frame tagged with the gateway bus it was received on
// (or is destined for). CANID keeps the SocketCAN flag bits; Addr strips them.
// Only the first Len bytes of Data are meaningful.
type Frame struct {
	CANID uint32
	Bus   uint8
	Len   uint8
	Data  [8]byte
}

// Addr returns the arbitration ID without EFF/RTR/ERR flags.
func (f *Frame) Addr() uint32 {
	if f.CANID&CAN_EFF_FLAG != 0 {
		return f.CANID & CAN_EFF_MASK
	}
	return f.CANID & CAN_SFF_MASK
}

// Byte returns payload byte i (zero when i is out of range).
func (f *Frame) Byte(i int) uint8 {
	if i < 0 || i >= len(f.Data) {
		return 0
	}
	return f.Data[i]
}

// Bytes04 returns payload bytes 0..3 as a little-endian word.
func (f *Frame) Bytes04() uint32 { return binary.LittleEndian.Uint32(f.Data[0:4]) }

// Bytes48 returns payload bytes 4..7 as a little-endian word.
func (f *Frame) Bytes48() uint32 { return binary.LittleEndian.Uint32(f.Data[4:8]) }

// New builds a standard-ID frame on bus with the given payload (truncated to 8 bytes).
func New(bus uint8, addr uint32, data ...byte) Frame {
	var f Frame
	f.CANID = addr & CAN_SFF_MASK
	if addr > CAN_SFF_MASK {
		f.CANID = (addr & CAN_EFF_MASK) | CAN_EFF_FLAG
	}
	f.Bus = bus
	n := copy(f.Data[:], data)
	f.Len = uint8(n)
	return f
}
