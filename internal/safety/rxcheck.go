package safety

import (
	"github.com/kstaniek/go-can-safety-gateway/internal/can"
)

// Staleness thresholds applied by RxChecks.UpdateLagging.
const (
	MaxMissedMsgs     = 10
	MinStaleTimeoutUs = 1000000
)

// AddressCheck is the expectation for one inbound message.
type AddressCheck struct {
	Addr             uint32
	Bus              uint8
	Len              uint8
	CheckChecksum    bool
	MaxCounter       uint8  // 0 disables the counter check
	ExpectedTimestep uint32 // µs
	Layout           *Layout
}

// CheckGroup is one logical message that may arrive as any of several
// alternatives; the first alternative seen is latched.
type CheckGroup struct {
	Msgs []AddressCheck

	index         int
	seen          bool
	counterSeen   bool
	lastCounter   uint8
	wrongCounters uint32
	stamped       bool
	lastTimestamp uint32
	lagging       bool
}

// Active returns the latched alternative, or false if none was seen yet.
func (g *CheckGroup) Active() (AddressCheck, bool) {
	if !g.seen {
		return AddressCheck{}, false
	}
	return g.Msgs[g.index], true
}

// Lagging reports whether the group missed its staleness deadline.
func (g *CheckGroup) Lagging() bool { return g.lagging }

// WrongCounters is the total number of counter mismatches seen.
func (g *CheckGroup) WrongCounters() uint32 { return g.wrongCounters }

// RxChecks is the validation table of a profile plus the per-address history
// needed to authenticate frames. Not safe for concurrent use.
type RxChecks struct {
	Groups []CheckGroup
}

// NewRxChecks builds a table; each argument is one group's alternatives.
func NewRxChecks(groups ...[]AddressCheck) *RxChecks {
	r := &RxChecks{Groups: make([]CheckGroup, len(groups))}
	for i, msgs := range groups {
		r.Groups[i].Msgs = append([]AddressCheck(nil), msgs...)
	}
	return r
}

// lookup returns the group whose latched alternative f matches, latching
// the first match of a fresh group. badLen reports that some entry names
// f's address and bus with a different length.
func (r *RxChecks) lookup(f *can.Frame) (_ *CheckGroup, badLen bool) {
	addr := f.Addr()
	for i := range r.Groups {
		g := &r.Groups[i]
		for j, m := range g.Msgs {
			if m.Addr != addr || m.Bus != f.Bus {
				continue
			}
			if m.Len != f.Len {
				badLen = true
				continue
			}
			if !g.seen {
				g.index = j
				g.seen = true
			}
			if g.index == j {
				return g, false
			}
		}
	}
	return nil, badLen
}

// Check authenticates f received at now (µs). known reports whether f matched
// the latched entry of a group. A frame whose address and bus name an entry
// but whose length differs fails with ErrLength. Other unmatched frames pass,
// including an alternative of a group that latched a different one. late
// reports an inter-arrival time above twice the expected timestep; it does
// not fail the frame.
func (r *RxChecks) Check(f *can.Frame, now uint32) (known, late bool, err error) {
	g, badLen := r.lookup(f)
	if g == nil {
		if badLen {
			return false, false, ErrLength
		}
		return false, false, nil
	}
	m := g.Msgs[g.index]
	if g.stamped && m.ExpectedTimestep > 0 {
		late = Elapsed(now, g.lastTimestamp) > 2*m.ExpectedTimestep
	}
	g.stamped = true
	g.lastTimestamp = now
	g.lagging = false

	if m.Layout == nil {
		return true, late, nil
	}
	in := m.Layout.Extract(f)
	if m.CheckChecksum && m.Layout.Compute(f) != in.Checksum {
		err = ErrChecksum
	}
	if m.MaxCounter > 0 {
		if g.counterSeen && in.Counter != (g.lastCounter+1)%(m.MaxCounter+1) {
			g.wrongCounters++
			if err == nil {
				err = ErrCounter
			}
		}
		g.counterSeen = true
		g.lastCounter = in.Counter
	}
	return true, late, err
}

// UpdateLagging marks groups whose last frame is older than
// max(MaxMissedMsgs*expected, MinStaleTimeoutUs) and returns how many lag.
// Groups never seen are not counted until their first frame arrives.
func (r *RxChecks) UpdateLagging(now uint32) int {
	n := 0
	for i := range r.Groups {
		g := &r.Groups[i]
		if !g.seen {
			continue
		}
		timeout := max(g.Msgs[g.index].ExpectedTimestep*MaxMissedMsgs, MinStaleTimeoutUs)
		g.lagging = Elapsed(now, g.lastTimestamp) > timeout
		if g.lagging {
			n++
		}
	}
	return n
}
