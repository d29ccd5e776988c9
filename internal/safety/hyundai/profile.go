package hyundai

import "github.com/kstaniek/go-can-safety-gateway/internal/safety"

// Limits are the steering bounds of the profile, in LKAS11 torque units.
var Limits = safety.SteeringLimits{
	MaxSteer:              409,
	MaxRTDelta:            112,
	MaxRTInterval:         250000,
	MaxRateUp:             6,
	MaxRateDown:           8,
	DriverTorqueAllowance: 50,
	DriverTorqueFactor:    2,
	Type:                  safety.TorqueDriverLimited,
}

const (
	// StandstillThreshold is the averaged wheel speed (~1 km/h) above which the vehicle moves.
	StandstillThreshold = 30

	// Longitudinal bounds on SCC12 acceleration requests, 1/100 m/s².
	MaxAccel = 200
	MinAccel = -350

	// LCANGrace is the number of LKAS11 camera frames without LCAN diagnostics
	// before the gateway module is considered gone from bus 1.
	LCANGrace = 500
	// LKASBus0Grace is the number of LKAS11 camera frames before the camera
	// relay is re-enabled after LKAS11 showed up on bus 0.
	LKASBus0Grace = 20
	// OwnershipBurst is the number of suppressed vehicle frames covered by
	// one synthesized frame.
	OwnershipBurst = 20

	// ButtonCancel is the CLU11 switch value for cancel.
	ButtonCancel = 4
)

// Init parameter bits.
const (
	// ParamOBDRelay routes the bus-1 relay through the OBD harness.
	ParamOBDRelay uint16 = 1 << 0
)

// TxMsgs is the allow-list of frames the driving computer may send.
var TxMsgs = []safety.TxMsg{
	{Addr: AddrMDPS12, Bus: 2, Len: 8},
	{Addr: AddrEMS11, Bus: 1, Len: 8},
	{Addr: AddrLKAS11, Bus: 0, Len: 8}, {Addr: AddrLKAS11, Bus: 1, Len: 8},
	{Addr: AddrSCC11, Bus: 0, Len: 8},
	{Addr: AddrSCC12, Bus: 0, Len: 8},
	{Addr: AddrSCC13, Bus: 0, Len: 8},
	{Addr: AddrSCC14, Bus: 0, Len: 8},
	{Addr: AddrFCA11, Bus: 0, Len: 8},
	{Addr: AddrFCA12, Bus: 0, Len: 8},
	{Addr: AddrLFAHDAMFC, Bus: 0, Len: 4},
	{Addr: AddrFRTRadar11, Bus: 0, Len: 8},
	{Addr: AddrCLU11, Bus: 0, Len: 4}, {Addr: AddrCLU11, Bus: 1, Len: 4}, {Addr: AddrCLU11, Bus: 2, Len: 4},
}

// newRxChecks builds the validation table. Older vehicles lack counters and
// checksums on most messages, so only EMS16 is fully authenticated.
func newRxChecks() *safety.RxChecks {
	return safety.NewRxChecks(
		[]safety.AddressCheck{
			{Addr: AddrEMS16, Bus: 0, Len: 8, CheckChecksum: true, MaxCounter: 3, ExpectedTimestep: 10000, Layout: layoutEMS16},
			{Addr: AddrEEMS11, Bus: 0, Len: 8, ExpectedTimestep: 10000},
		},
		[]safety.AddressCheck{
			{Addr: AddrWHLSPD11, Bus: 0, Len: 8, ExpectedTimestep: 20000},
		},
	)
}
