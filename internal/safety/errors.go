package safety

import (
	"errors"

	"go.uber.org/multierr"
)

// Receive-side authentication failures.
var (
	ErrChecksum = errors.New("checksum mismatch")
	ErrCounter  = errors.New("counter mismatch")
	ErrLength   = errors.New("unexpected length")
)

// Transmit-side policy violations. A refused frame may carry several of these
// combined with multierr; classify with errors.Is or Reasons.
var (
	ErrNotAllowed         = errors.New("not on tx allow-list")
	ErrRelayMalfunction   = errors.New("relay malfunction")
	ErrTorqueLimit        = errors.New("torque limit")
	ErrTorqueRate         = errors.New("torque rate limit")
	ErrTorqueRTRate       = errors.New("torque real time rate limit")
	ErrControlsNotAllowed = errors.New("controls not allowed")
	ErrButtonNotCancel    = errors.New("button other than cancel")
	ErrAccelLimit         = errors.New("accel limit")
)

// Reason labels, stable for metrics cardinality.
const (
	ReasonChecksum         = "checksum"
	ReasonCounter          = "counter"
	ReasonLength           = "length"
	ReasonNotAllowed       = "not_allowed"
	ReasonRelayMalfunction = "relay_malfunction"
	ReasonTorqueLimit      = "torque_limit"
	ReasonTorqueRate       = "torque_rate"
	ReasonTorqueRTRate     = "torque_rt_rate"
	ReasonControls         = "controls_not_allowed"
	ReasonButton           = "button_not_cancel"
	ReasonAccel            = "accel_limit"
	ReasonOther            = "other"
)

var reasonOf = []struct {
	err   error
	label string
}{
	{ErrChecksum, ReasonChecksum},
	{ErrCounter, ReasonCounter},
	{ErrLength, ReasonLength},
	{ErrNotAllowed, ReasonNotAllowed},
	{ErrRelayMalfunction, ReasonRelayMalfunction},
	{ErrTorqueLimit, ReasonTorqueLimit},
	{ErrTorqueRate, ReasonTorqueRate},
	{ErrTorqueRTRate, ReasonTorqueRTRate},
	{ErrControlsNotAllowed, ReasonControls},
	{ErrButtonNotCancel, ReasonButton},
	{ErrAccelLimit, ReasonAccel},
}

// Reasons maps every violation combined in err to its metric label.
func Reasons(err error) []string {
	if err == nil {
		return nil
	}
	errs := multierr.Errors(err)
	out := make([]string, 0, len(errs))
	for _, e := range errs {
		out = append(out, reason(e))
	}
	return out
}

func reason(err error) string {
	for _, r := range reasonOf {
		if errors.Is(err, r.err) {
			return r.label
		}
	}
	return ReasonOther
}
