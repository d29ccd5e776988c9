package hyundai

// Owner names a message family the driving computer can synthesize.
type Owner uint8

const (
	OwnerSteer   Owner = iota // LKAS11, LFAHDA_MFC
	OwnerMDPS                 // MDPS12
	OwnerButtons              // CLU11 sent to the MDPS bus
	OwnerCruise               // SCC11..SCC14
	OwnerEngine               // EMS11
	numOwners
)

func (o Owner) String() string {
	switch o {
	case OwnerSteer:
		return "steer"
	case OwnerMDPS:
		return "mdps"
	case OwnerButtons:
		return "buttons"
	case OwnerCruise:
		return "cruise"
	case OwnerEngine:
		return "engine"
	default:
		return "unknown"
	}
}

// Ownership counts down, per family, how many more vehicle-originated frames
// the router suppresses because the driving computer authors that address.
type Ownership [numOwners]int

// Arm marks o as authored by the driving computer for a full burst.
func (w *Ownership) Arm(o Owner) { w[o] = OwnershipBurst }

// Active reports whether o is currently authored by the driving computer.
func (w *Ownership) Active(o Owner) bool { return w[o] > 0 }

// Consume spends one suppression of o. Counters stop at zero.
func (w *Ownership) Consume(o Owner) {
	if w[o] > 0 {
		w[o]--
	}
}
