package safety

import (
	"strconv"
	"strings"
)

// Route is the set of buses a frame is relayed to. The zero Route forwards nowhere.
type Route uint8

// RouteNone blocks forwarding.
const RouteNone Route = 0

// To builds a Route from bus indexes (0..7).
func To(buses ...uint8) Route {
	var r Route
	for _, b := range buses {
		if b < 8 {
			r |= 1 << b
		}
	}
	return r
}

// Has reports whether bus is a destination.
func (r Route) Has(bus uint8) bool { return bus < 8 && r&(1<<bus) != 0 }

// Union merges two routes.
func (r Route) Union(o Route) Route { return r | o }

// Buses lists destinations in ascending order.
func (r Route) Buses() []uint8 {
	if r == RouteNone {
		return nil
	}
	out := make([]uint8, 0, 2)
	for b := uint8(0); b < 8; b++ {
		if r.Has(b) {
			out = append(out, b)
		}
	}
	return out
}

func (r Route) String() string {
	if r == RouteNone {
		return "none"
	}
	parts := make([]string, 0, 2)
	for _, b := range r.Buses() {
		parts = append(parts, strconv.Itoa(int(b)))
	}
	return strings.Join(parts, ",")
}
