package hyundai

import "github.com/kstaniek/go-can-safety-gateway/internal/safety"

// rule suppresses the vehicle's copy of a message while the driving computer
// authors it. Rules are evaluated in order; the first match wins.
type rule struct {
	owner Owner
	match func(addr uint32, t *TopologyState) bool
	route func(t *TopologyState) safety.Route
}

// ruleSet is the routing policy of one source bus.
type ruleSet struct {
	enabled  func(t *TopologyState) bool // nil means always
	rules    []rule
	fallback func(t *TopologyState) safety.Route
}

// decision is the outcome of decide; consume is valid when suppressed is set.
type decision struct {
	route      safety.Route
	consume    Owner
	suppressed bool
}

func toBus(buses ...uint8) func(*TopologyState) safety.Route {
	r := safety.To(buses...)
	return func(*TopologyState) safety.Route { return r }
}

func toBus1(t *TopologyState) safety.Route { return t.Bus1Route() }

func withBus1(buses ...uint8) func(*TopologyState) safety.Route {
	r := safety.To(buses...)
	return func(t *TopologyState) safety.Route { return r.Union(t.Bus1Route()) }
}

func addrIs(want uint32) func(uint32, *TopologyState) bool {
	return func(addr uint32, _ *TopologyState) bool { return addr == want }
}

func bus1Enabled(t *TopologyState) bool { return t.Bus1Route() != safety.RouteNone }

// cameraRelay applies while the camera bus is relayed (FwdBus2).
var cameraRelay = [3]ruleSet{
	0: {
		rules: []rule{
			{owner: OwnerButtons, route: toBus(2),
				match: func(addr uint32, t *TopologyState) bool { return addr == AddrCLU11 && t.MDPSBus != 0 }},
			{owner: OwnerMDPS, match: addrIs(AddrMDPS12), route: toBus1},
			{owner: OwnerEngine, match: addrIs(AddrEMS11), route: toBus(2)},
		},
		fallback: withBus1(2),
	},
	1: {
		enabled: bus1Enabled,
		rules: []rule{
			{owner: OwnerMDPS, match: addrIs(AddrMDPS12), route: toBus(0)},
			{owner: OwnerCruise, route: toBus(2),
				match: func(addr uint32, _ *TopologyState) bool { return isSCCFamily(addr) }},
		},
		fallback: toBus(0, 2),
	},
	2: {
		rules: []rule{
			{owner: OwnerSteer,
				match: func(addr uint32, _ *TopologyState) bool { return isLaneFamily(addr) },
				route: func(t *TopologyState) safety.Route {
					if t.MDPSBus == 0 {
						return t.Bus1Route()
					}
					return safety.RouteNone
				}},
			{owner: OwnerCruise, route: toBus1,
				match: func(addr uint32, _ *TopologyState) bool { return isSCCFamily(addr) }},
		},
		fallback: withBus1(0),
	},
}

// passthrough applies while the camera relay is off; nothing is synthesized
// in that topology, so there are no exclusions.
var passthrough = [3]ruleSet{
	0: {fallback: toBus1},
	1: {enabled: bus1Enabled, fallback: toBus(0)},
	2: {enabled: func(*TopologyState) bool { return false }},
}

// decide is the pure routing function. It reads t and w and never mutates them.
func decide(bus uint8, addr uint32, t *TopologyState, w *Ownership) decision {
	if int(bus) >= len(cameraRelay) {
		return decision{}
	}
	set := &passthrough[bus]
	if t.FwdBus2 {
		set = &cameraRelay[bus]
	}
	if set.enabled != nil && !set.enabled(t) {
		return decision{}
	}
	for _, r := range set.rules {
		if w.Active(r.owner) && r.match(addr, t) {
			return decision{route: r.route(t), consume: r.owner, suppressed: true}
		}
	}
	if set.fallback == nil {
		return decision{}
	}
	return decision{route: set.fallback(t)}
}
