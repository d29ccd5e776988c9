package safety

import "go.uber.org/multierr"

// TorqueLimitType selects how the measured torque widens the rate bounds.
type TorqueLimitType uint8

const (
	// TorqueDriverLimited blends in the torque the driver applies to the wheel.
	TorqueDriverLimited TorqueLimitType = iota
	// TorqueMotorLimited keeps the command close to the torque the motor reports.
	TorqueMotorLimited
)

// SteeringLimits bounds outbound steering torque. Torques are in the
// profile's raw units; MaxRTInterval is in microseconds.
type SteeringLimits struct {
	MaxSteer      int
	MaxRateUp     int
	MaxRateDown   int
	MaxRTDelta    int
	MaxRTInterval uint32

	DriverTorqueAllowance int
	DriverTorqueFactor    int
	MaxTorqueError        int // TorqueMotorLimited only

	Type TorqueLimitType
}

// ControlState is the authorization and actuation-history state shared by
// the receive and transmit hooks.
type ControlState struct {
	ControlsAllowed   bool
	CruiseEngagedPrev bool
	VehicleMoving     bool

	DesiredTorqueLast int
	RTTorqueLast      int
	TsLast            uint32

	TorqueDriver Sample
	TorqueMeas   Sample
}

// Disallow revokes control authority and drops the steering baselines so a
// later engagement starts from zero.
func (c *ControlState) Disallow(now uint32) {
	c.ControlsAllowed = false
	c.resetBaselines(now)
}

func (c *ControlState) resetBaselines(now uint32) {
	c.DesiredTorqueLast = 0
	c.RTTorqueLast = 0
	c.TsLast = now
}

// MaxLimitCheck reports a violation when val is outside [lo, hi].
func MaxLimitCheck(val, hi, lo int) bool { return val > hi || val < lo }

// DriverLimitCheck reports a rate violation of val relative to valLast. The
// allowed envelope grows with the driver torque above the allowance, and once
// the envelope is exceeded the command must head back toward zero.
func DriverLimitCheck(val, valLast int, driver *Sample, l SteeringLimits) bool {
	highestRL := max(valLast, 0) + l.MaxRateUp
	lowestRL := min(valLast, 0) - l.MaxRateUp

	driverMax := l.MaxSteer + (l.DriverTorqueAllowance+driver.Max)*l.DriverTorqueFactor
	driverMin := -l.MaxSteer + (-l.DriverTorqueAllowance+driver.Min)*l.DriverTorqueFactor

	highest := min(highestRL, max(valLast-l.MaxRateDown, max(driverMax, 0)))
	lowest := max(lowestRL, min(valLast+l.MaxRateDown, min(driverMin, 0)))
	return val < lowest || val > highest
}

// DistToMeasCheck is the motor-limited counterpart of DriverLimitCheck.
func DistToMeasCheck(val, valLast int, meas *Sample, l SteeringLimits) bool {
	highestRL := max(valLast, 0) + l.MaxRateUp
	lowestRL := min(valLast, 0) - l.MaxRateUp

	highest := min(highestRL, max(valLast-l.MaxRateDown, max(meas.Max, 0)+l.MaxTorqueError))
	lowest := max(lowestRL, min(valLast+l.MaxRateDown, min(meas.Min, 0)-l.MaxTorqueError))
	return val < lowest || val > highest
}

// RTRateLimitCheck reports a violation when val moved further than maxDelta
// away from the real-time window snapshot valLast.
func RTRateLimitCheck(val, valLast, maxDelta int) bool {
	highest := max(valLast, 0) + maxDelta
	lowest := min(valLast, 0) - maxDelta
	return val < lowest || val > highest
}

// CheckSteer runs the absolute, rate and real-time checks on a desired
// torque issued at time now (µs) and advances the baselines in c.
//
// While controls are allowed the last-commanded torque follows every command,
// accepted or not. While they are not, any nonzero torque is refused and the
// baselines are reset on every call.
func (l SteeringLimits) CheckSteer(c *ControlState, desired int, now uint32) error {
	var err error
	if c.ControlsAllowed {
		if MaxLimitCheck(desired, l.MaxSteer, -l.MaxSteer) {
			err = multierr.Append(err, ErrTorqueLimit)
		}
		if l.rateViolation(c, desired) {
			err = multierr.Append(err, ErrTorqueRate)
		}
		c.DesiredTorqueLast = desired

		if RTRateLimitCheck(desired, c.RTTorqueLast, l.MaxRTDelta) {
			err = multierr.Append(err, ErrTorqueRTRate)
		}
		if Elapsed(now, c.TsLast) > l.MaxRTInterval {
			c.RTTorqueLast = desired
			c.TsLast = now
		}
	}
	if !c.ControlsAllowed && desired != 0 {
		err = multierr.Append(err, ErrControlsNotAllowed)
	}
	if !c.ControlsAllowed {
		c.resetBaselines(now)
	}
	return err
}

func (l SteeringLimits) rateViolation(c *ControlState, desired int) bool {
	if l.Type == TorqueMotorLimited {
		return DistToMeasCheck(desired, c.DesiredTorqueLast, &c.TorqueMeas, l)
	}
	return DriverLimitCheck(desired, c.DesiredTorqueLast, &c.TorqueDriver, l)
}
