package hyundai

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kstaniek/go-can-safety-gateway/internal/can"
	"github.com/kstaniek/go-can-safety-gateway/internal/safety"
)

func valid(l *safety.Layout, f *can.Frame) bool {
	return l.Compute(f) == l.Extract(f).Checksum
}

func TestChecksumBitFlips(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	for _, addr := range []uint32{AddrEMS16, AddrWHLSPD11, AddrTCS13, AddrSCC12} {
		l := LayoutOf(addr)
		require.NotNil(t, l)
		for trial := 0; trial < 32; trial++ {
			f := can.New(0, addr, make([]byte, 8)...)
			rng.Read(f.Data[:])
			Seal(&f)
			require.True(t, valid(l, &f), "%s sealed payload % x", AddrName(addr), f.Data)

			for i := 0; i < 8; i++ {
				for j := 0; j < 8; j++ {
					g := f
					g.Data[i] ^= 1 << j
					covered := l.Exclude[i]&(1<<j) == 0
					field := l.Extract(&g).Checksum != l.Extract(&f).Checksum
					assert.Equal(t, !covered && !field, valid(l, &g),
						"%s byte %d bit %d", AddrName(addr), i, j)

					// resealing a mutated payload always validates
					Seal(&g)
					assert.True(t, valid(l, &g))
				}
			}
		}
	}
}

func TestSealKnownWheelSpeed(t *testing.T) {
	f := can.New(0, AddrWHLSPD11, 0x01, 0xC0, 0, 0, 0, 0, 0, 0)
	Seal(&f)
	// one covered bit: (1 ^ 9) & 0xF = 8 -> checksum bits 3..2 in b7, 1..0 in b5
	assert.Equal(t, uint8(8), LayoutOf(AddrWHLSPD11).Extract(&f).Checksum)
	assert.Equal(t, uint8(0x80), f.Data[7])
	assert.Equal(t, uint8(0x00), f.Data[5])
	assert.Equal(t, uint8(3), LayoutOf(AddrWHLSPD11).Extract(&f).Counter)
}

func TestDecoders(t *testing.T) {
	l := lkas11(0, -409)
	assert.Equal(t, -409, desiredTorque(&l))
	l = lkas11(0, 409)
	assert.Equal(t, 409, desiredTorque(&l))

	m := mdps12(0, 1023)
	assert.Equal(t, 0, driverTorque(&m))

	w := whlSpd11(100, 300)
	assert.Equal(t, 200, wheelSpeed(&w))

	c := clu11(0, ButtonCancel)
	assert.Equal(t, uint8(ButtonCancel), cluButton(&c))

	a := scc12(0, -350)
	raw, val := accelRequest(&a)
	assert.Equal(t, -350, raw)
	assert.Equal(t, -350, val)

	e := ems16(0, true)
	assert.True(t, emsCruiseOn(&e))
	on := scc11(0, true)
	assert.True(t, sccMainOn(&on))

	assert.Nil(t, LayoutOf(AddrLKAS11))
	assert.Equal(t, "LKAS11", AddrName(AddrLKAS11))
	assert.Equal(t, "4095", AddrName(4095))

	addr, ok := AddrByName("LCAN_DIAG")
	assert.True(t, ok)
	assert.Equal(t, AddrLCANDiagA, addr)
	_, ok = AddrByName("NOPE")
	assert.False(t, ok)
}
