package hyundai

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kstaniek/go-can-safety-gateway/internal/safety"
)

func owned(owners ...Owner) Ownership {
	var w Ownership
	for _, o := range owners {
		w.Arm(o)
	}
	return w
}

func TestDecide(t *testing.T) {
	cam := DefaultTopology()
	camBus1 := DefaultTopology()
	camBus1.FwdBus1 = true
	camMDPS0 := camBus1
	camMDPS0.MDPSBus = 0
	camMDPS1 := camBus1
	camMDPS1.MDPSBus = 1
	pass := DefaultTopology()
	pass.FwdBus2 = false
	passOBD := pass
	passOBD.FwdOBD = true

	tests := []struct {
		name  string
		bus   uint8
		addr  uint32
		topo  TopologyState
		own   Ownership
		route safety.Route
		spent bool
	}{
		{"bus0 default", 0, AddrTCS13, cam, Ownership{}, safety.To(2), false},
		{"bus0 default with bus1", 0, AddrTCS13, camBus1, Ownership{}, safety.To(1, 2), false},
		{"bus0 clu11 owned, mdps elsewhere", 0, AddrCLU11, camMDPS1, owned(OwnerButtons), safety.To(2), true},
		{"bus0 clu11 owned, mdps on 0", 0, AddrCLU11, camMDPS0, owned(OwnerButtons), safety.To(1, 2), false},
		{"bus0 clu11 not owned", 0, AddrCLU11, camMDPS1, Ownership{}, safety.To(1, 2), false},
		{"bus0 mdps12 owned", 0, AddrMDPS12, camBus1, owned(OwnerMDPS), safety.To(1), true},
		{"bus0 mdps12 owned no bus1", 0, AddrMDPS12, cam, owned(OwnerMDPS), safety.RouteNone, true},
		{"bus0 ems11 owned", 0, AddrEMS11, camBus1, owned(OwnerEngine), safety.To(2), true},
		{"bus0 owner of another family", 0, AddrEMS11, camBus1, owned(OwnerMDPS), safety.To(1, 2), false},
		{"bus1 relay off", 1, AddrTCS13, cam, Ownership{}, safety.RouteNone, false},
		{"bus1 default", 1, AddrTCS13, camBus1, Ownership{}, safety.To(0, 2), false},
		{"bus1 mdps12 owned", 1, AddrMDPS12, camBus1, owned(OwnerMDPS), safety.To(0), true},
		{"bus1 scc13 owned", 1, AddrSCC13, camBus1, owned(OwnerCruise), safety.To(2), true},
		{"bus1 scc14 not owned", 1, AddrSCC14, camBus1, Ownership{}, safety.To(0, 2), false},
		{"bus2 default", 2, AddrTCS13, cam, Ownership{}, safety.To(0), false},
		{"bus2 default with bus1", 2, AddrTCS13, camBus1, Ownership{}, safety.To(0, 1), false},
		{"bus2 lkas owned, mdps on 0", 2, AddrLKAS11, camMDPS0, owned(OwnerSteer), safety.To(1), true},
		{"bus2 lfa owned, mdps on 1", 2, AddrLFAHDAMFC, camMDPS1, owned(OwnerSteer), safety.RouteNone, true},
		{"bus2 scc owned", 2, AddrSCC11, camBus1, owned(OwnerCruise), safety.To(1), true},
		{"bus2 scc owned no bus1", 2, AddrSCC12, cam, owned(OwnerCruise), safety.RouteNone, true},
		{"bus2 lkas owned beats scc owner", 2, AddrLKAS11, camMDPS1, owned(OwnerSteer, OwnerCruise), safety.RouteNone, true},
		{"passthrough bus0", 0, AddrMDPS12, pass, owned(OwnerMDPS), safety.RouteNone, false},
		{"passthrough bus0 obd", 0, AddrMDPS12, passOBD, owned(OwnerMDPS), safety.To(1), false},
		{"passthrough bus1 obd", 1, AddrSCC12, passOBD, owned(OwnerCruise), safety.To(0), false},
		{"passthrough bus1 off", 1, AddrSCC12, pass, Ownership{}, safety.RouteNone, false},
		{"passthrough bus2", 2, AddrTCS13, passOBD, Ownership{}, safety.RouteNone, false},
		{"unknown bus", 3, AddrTCS13, camBus1, Ownership{}, safety.RouteNone, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			topo, own := tt.topo, tt.own
			d := decide(tt.bus, tt.addr, &topo, &own)
			assert.Equal(t, tt.route, d.route)
			assert.Equal(t, tt.spent, d.suppressed)

			again := decide(tt.bus, tt.addr, &topo, &own)
			assert.Equal(t, d, again, "decide is deterministic")
			assert.Equal(t, tt.topo, topo)
			assert.Equal(t, tt.own, own)
		})
	}
}

func TestForwardSpendsOwnership(t *testing.T) {
	s, _ := newTestSafety(t)
	mdps := mdps12(1, 1024)
	require.True(t, s.Receive(&mdps))
	topo := s.Snapshot().Topology
	require.Equal(t, safety.To(1), topo.Bus1Route())

	cmd := mdps12(2, 1024)
	require.NoError(t, s.TransmitErr(&cmd, false))
	require.Equal(t, OwnershipBurst, s.Snapshot().Owners[OwnerMDPS])

	stock := mdps12(0, 1024)
	for i := 0; i < OwnershipBurst; i++ {
		require.Equal(t, safety.To(1), s.Forward(0, &stock), "suppressed %d", i)
	}
	assert.Equal(t, 0, s.Snapshot().Owners[OwnerMDPS])
	assert.Equal(t, safety.To(1, 2), s.Forward(0, &stock))
	assert.Equal(t, 0, s.Snapshot().Owners[OwnerMDPS], "never negative")
}

func TestBlockedTransmitDoesNotArm(t *testing.T) {
	s, _ := newTestSafety(t)
	cmd := lkas11(0, 300)
	require.Error(t, s.TransmitErr(&cmd, false))
	owners := s.Snapshot().Owners
	assert.False(t, owners.Active(OwnerSteer))
}

func TestOwnerString(t *testing.T) {
	assert.Equal(t, "steer", OwnerSteer.String())
	assert.Equal(t, "engine", OwnerEngine.String())
	assert.Equal(t, "unknown", numOwners.String())
}
