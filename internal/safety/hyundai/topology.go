package hyundai

import (
	"log/slog"

	"github.com/kstaniek/go-can-safety-gateway/internal/safety"
)

// TopologyState is what the gateway has learned about the harness: which
// bus each ECU lives on and which relays are active.
type TopologyState struct {
	LCANBus1 bool // a gateway module (LCAN) bridges bus 1
	FwdBus1  bool // relay bus 1 <-> bus 0/2
	FwdOBD   bool // relay bus 1 through the OBD harness
	FwdBus2  bool // relay camera bus 2 <-> bus 0

	MDPSBus int // -1 until discovered
	SCCBus  int // -1 until discovered

	LKASBus0Grace int
	LCANBus1Grace int
}

// DefaultTopology is the state after init: camera relay on, nothing discovered.
func DefaultTopology() TopologyState {
	return TopologyState{FwdBus2: true, MDPSBus: -1, SCCBus: -1}
}

// Bus1Route is the bus-1 destination, or none while neither bus-1 relay is on.
func (t *TopologyState) Bus1Route() safety.Route {
	if t.FwdBus1 || t.FwdOBD {
		return safety.To(1)
	}
	return safety.RouteNone
}

// Observe feeds one raw (possibly unauthenticated) frame address into the
// detectors and reports whether any flag or home bus changed.
func (t *TopologyState) Observe(bus uint8, addr uint32, log *slog.Logger) bool {
	before := *t
	b := int(bus)

	if bus == 1 && isLCANDiag(addr) {
		t.LCANBus1Grace = LCANGrace
		if t.FwdBus1 || !t.LCANBus1 {
			t.LCANBus1 = true
			t.FwdBus1 = false
			log.Info("lcan_detected", "bus", 1, "bus1_relay", false)
		}
	}

	if addr == AddrLKAS11 {
		if bus == 0 && t.FwdBus2 {
			t.FwdBus2 = false
			t.LKASBus0Grace = LKASBus0Grace
			log.Info("camera_relay_disabled", "reason", "lkas11_on_bus0")
		}
		if bus == 2 {
			t.tickGrace(log)
		}
	}

	if isMDPS(addr) && t.MDPSBus != b {
		if bus != 1 || !t.LCANBus1 || t.FwdOBD {
			t.MDPSBus = b
			log.Info("mdps_bus_discovered", "bus", b, "obd", bus == 1 && t.FwdOBD)
			if bus == 1 && !t.FwdOBD && !t.FwdBus1 && !t.LCANBus1 {
				t.FwdBus1 = true
				log.Info("bus1_relay_enabled", "reason", "mdps_on_bus1")
			}
		}
	}

	if isSCCStatus(addr) && t.SCCBus != b {
		if bus != 1 || !t.LCANBus1 {
			t.SCCBus = b
			log.Info("scc_bus_discovered", "bus", b)
			if bus == 1 && !t.FwdBus1 {
				t.FwdBus1 = true
				log.Info("bus1_relay_enabled", "reason", "scc_on_bus1")
			}
		}
	}

	return *t != before
}

// tickGrace runs on every LKAS11 seen on the camera bus.
func (t *TopologyState) tickGrace(log *slog.Logger) {
	if t.LKASBus0Grace > 0 {
		t.LKASBus0Grace--
	} else if !t.FwdBus2 {
		t.FwdBus2 = true
		log.Info("camera_relay_enabled")
	}

	if t.LCANBus1Grace > 0 {
		t.LCANBus1Grace--
	} else if t.LCANBus1 {
		t.LCANBus1 = false
		log.Info("lcan_gone", "bus", 1)
		if (t.MDPSBus == 1 && !t.FwdOBD) || t.SCCBus == 1 {
			t.FwdBus1 = true
			log.Info("bus1_relay_enabled", "reason", "lcan_gone")
		}
	}
}
