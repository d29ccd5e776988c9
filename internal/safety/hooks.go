// Package safety holds the profile-independent parts of the actuation safety
// layer: frame authentication, steering limits, routes and the hook table a
// vehicle profile implements.
//
// Nothing here is safe for concurrent use. A dispatch layer must call the
// hooks from a single goroutine, one frame at a time, in arrival order.
package safety

import "github.com/kstaniek/go-can-safety-gateway/internal/can"

// Hooks is the table a vehicle profile exposes to the dispatch layer.
type Hooks interface {
	// Init resets all state and returns the validation table.
	Init(param uint16) *RxChecks
	// Receive authenticates an inbound frame and updates state from it.
	// It returns false when the frame must not be trusted.
	Receive(f *can.Frame) bool
	// Transmit reports whether the driving computer may put f on the bus.
	Transmit(f *can.Frame, longitudinalAllowed bool) bool
	// Forward decides where an inbound frame from bus is relayed.
	Forward(bus uint8, f *can.Frame) Route
	// Tick runs the periodic staleness monitor.
	Tick()
	// ControlsAllowed reports the current control authorization.
	ControlsAllowed() bool
}

// TxChecker is implemented by profiles that can explain a refused transmit.
type TxChecker interface {
	TransmitErr(f *can.Frame, longitudinalAllowed bool) error
}

// TxMsg is one allow-list entry.
type TxMsg struct {
	Addr uint32
	Bus  uint8
	Len  uint8
}

// MsgAllowed reports whether f exactly matches an allow-list entry.
func MsgAllowed(f *can.Frame, list []TxMsg) bool {
	addr := f.Addr()
	for _, m := range list {
		if m.Addr == addr && m.Bus == f.Bus && m.Len == f.Len {
			return true
		}
	}
	return false
}
