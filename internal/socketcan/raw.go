package socketcan

import (
	"encoding/binary"

	"github.com/kstaniek/go-can-safety-gateway/internal/can"
)

// rawSize is sizeof(struct can_frame).
const rawSize = 16

// decodeRaw fills fr from a struct can_frame in host (little-endian) order:
//
//	can_id u32 [0:4] | len u8 [4] | pad [5:8] | data [8:16]
func decodeRaw(buf []byte, bus uint8, fr *can.Frame) {
	fr.CANID = binary.LittleEndian.Uint32(buf[0:4])
	fr.Len = min(buf[4], 8)
	fr.Bus = bus
	fr.Data = [8]byte{}
	copy(fr.Data[:], buf[8:8+int(fr.Len)])
}

func encodeRaw(buf []byte, fr can.Frame) {
	binary.LittleEndian.PutUint32(buf[0:4], fr.CANID)
	buf[4] = min(fr.Len, 8)
	copy(buf[8:], fr.Data[:buf[4]])
}
