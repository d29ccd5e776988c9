// Package hyundai implements the safety hooks for Hyundai, Kia and Genesis
// vehicles fitted with the community harness, where the MDPS, SCC and camera
// may sit on any of three buses and the gateway relays between them.
package hyundai

import (
	"log/slog"

	"github.com/benbjohnson/clock"
	"go.uber.org/multierr"

	"github.com/kstaniek/go-can-safety-gateway/internal/can"
	"github.com/kstaniek/go-can-safety-gateway/internal/logging"
	"github.com/kstaniek/go-can-safety-gateway/internal/metrics"
	"github.com/kstaniek/go-can-safety-gateway/internal/safety"
)

// Name identifies the profile in logs and configuration.
const Name = "hyundai_community"

var (
	_ safety.Hooks     = (*Safety)(nil)
	_ safety.TxChecker = (*Safety)(nil)
)

// Safety is the profile state. Every method must be called from the same
// goroutine.
type Safety struct {
	log   *slog.Logger
	timer *safety.Timer

	checks           *safety.RxChecks
	topo             TopologyState
	owners           Ownership
	ctl              safety.ControlState
	relayMalfunction bool
}

// Option configures a Safety.
type Option func(*Safety)

// WithClock sets the time source (defaults to the wall clock).
func WithClock(clk clock.Clock) Option {
	return func(s *Safety) { s.timer = safety.NewTimer(clk) }
}

// WithLogger sets the logger (defaults to logging.L()).
func WithLogger(l *slog.Logger) Option {
	return func(s *Safety) {
		if l != nil {
			s.log = l
		}
	}
}

// New returns an initialized profile with param 0.
func New(opts ...Option) *Safety {
	s := &Safety{log: logging.L()}
	for _, o := range opts {
		o(s)
	}
	if s.timer == nil {
		s.timer = safety.NewTimer(nil)
	}
	s.Init(0)
	return s
}

// Init resets every piece of state and returns the validation table.
func (s *Safety) Init(param uint16) *safety.RxChecks {
	s.checks = newRxChecks()
	s.topo = DefaultTopology()
	s.topo.FwdOBD = param&ParamOBDRelay != 0
	s.owners = Ownership{}
	s.ctl = safety.ControlState{TsLast: s.timer.Micros()}
	s.relayMalfunction = false

	publishTopology(&s.topo)
	metrics.SetControlsAllowed(false)
	metrics.SetLaggingChecks(0)
	s.log.Info("safety_init", "profile", Name, "param", param, "obd_relay", s.topo.FwdOBD)
	return s.checks
}

// ControlsAllowed reports whether the driving computer may actuate.
func (s *Safety) ControlsAllowed() bool { return s.ctl.ControlsAllowed }

// Receive authenticates f, feeds the topology detectors and, when f is
// trusted, updates the control gate and vehicle signals.
func (s *Safety) Receive(f *can.Frame) bool {
	now := s.timer.Micros()
	addr := f.Addr()

	known, late, err := s.checks.Check(f, now)
	valid := err == nil
	if err != nil {
		s.log.Warn("rx_invalid", "addr", AddrName(addr), "bus", f.Bus, "error", err)
		for _, r := range safety.Reasons(err) {
			metrics.IncRxInvalid(r)
		}
		if s.ctl.ControlsAllowed {
			s.log.Info("controls_not_allowed", "reason", "rx_invalid", "addr", AddrName(addr))
		}
		s.disallow(now)
	}
	if known && late {
		s.log.Debug("rx_late", "addr", AddrName(addr), "bus", f.Bus)
		metrics.IncRxLate()
	}
	if f.Bus == 1 && s.topo.LCANBus1 {
		valid = false
	}

	if valid && addr == AddrLKAS11 && f.Bus == 0 && s.topo.FwdBus2 && s.owners.Active(OwnerSteer) && !s.relayMalfunction {
		s.relayMalfunction = true
		s.log.Error("relay_malfunction", "addr", AddrName(addr), "bus", f.Bus)
	}

	if s.topo.Observe(f.Bus, addr, s.log) {
		publishTopology(&s.topo)
	}

	if !valid {
		return false
	}

	switch {
	case addr == AddrMDPS12 && int(f.Bus) == s.topo.MDPSBus:
		s.ctl.TorqueDriver.Update(driverTorque(f))
	case addr == AddrSCC11 && !s.owners.Active(OwnerCruise):
		s.updateControls(sccMainOn(f), "scc11", now)
	case addr == AddrEMS16 && known && s.topo.SCCBus == -1 && !s.owners.Active(OwnerCruise):
		s.updateControls(emsCruiseOn(f), "ems16", now)
	case addr == AddrWHLSPD11:
		s.ctl.VehicleMoving = wheelSpeed(f) > StandstillThreshold
	}
	return true
}

// updateControls applies one validated engage reading: a rising edge allows
// controls, any low reading revokes them.
func (s *Safety) updateControls(engaged bool, source string, now uint32) {
	if engaged && !s.ctl.CruiseEngagedPrev {
		s.ctl.ControlsAllowed = true
		s.log.Info("controls_allowed", "source", source)
		metrics.SetControlsAllowed(true)
	}
	if !engaged {
		if s.ctl.ControlsAllowed {
			s.log.Info("controls_not_allowed", "source", source)
		}
		s.disallow(now)
	}
	s.ctl.CruiseEngagedPrev = engaged
}

func (s *Safety) disallow(now uint32) {
	s.ctl.Disallow(now)
	metrics.SetControlsAllowed(false)
}

// Transmit reports whether f may be sent.
func (s *Safety) Transmit(f *can.Frame, longitudinalAllowed bool) bool {
	return s.TransmitErr(f, longitudinalAllowed) == nil
}

// TransmitErr checks an outbound frame and returns every violation found,
// combined. A permitted frame marks its message family as computer-authored.
func (s *Safety) TransmitErr(f *can.Frame, longitudinalAllowed bool) error {
	now := s.timer.Micros()
	addr := f.Addr()

	var err error
	if !safety.MsgAllowed(f, TxMsgs) {
		err = multierr.Append(err, safety.ErrNotAllowed)
	}
	if s.relayMalfunction {
		err = multierr.Append(err, safety.ErrRelayMalfunction)
	}

	switch addr {
	case AddrLKAS11:
		err = multierr.Append(err, Limits.CheckSteer(&s.ctl, desiredTorque(f), now))
	case AddrCLU11:
		// With the MDPS on bus 1, only cancel may be spammed while disengaged.
		if !s.ctl.ControlsAllowed && int(f.Bus) != s.topo.MDPSBus && s.topo.MDPSBus == 1 && cluButton(f) != ButtonCancel {
			err = multierr.Append(err, safety.ErrButtonNotCancel)
		}
	case AddrSCC12:
		if longitudinalAllowed {
			raw, val := accelRequest(f)
			if safety.MaxLimitCheck(raw, MaxAccel, MinAccel) || safety.MaxLimitCheck(val, MaxAccel, MinAccel) {
				err = multierr.Append(err, safety.ErrAccelLimit)
			}
		}
	}

	if err != nil {
		s.log.Warn("tx_blocked", "addr", AddrName(addr), "bus", f.Bus, "error", err)
		metrics.IncTxBlocked(safety.Reasons(err))
		return err
	}
	s.arm(f)
	metrics.IncTxAllowed()
	return nil
}

// arm marks the authored message family as owned by the driving computer.
// Only accepted frames arm ownership: a refused frame never reaches the bus,
// so suppressing the vehicle's copy for it would drop real traffic.
func (s *Safety) arm(f *can.Frame) {
	switch f.Addr() {
	case AddrLKAS11:
		s.owners.Arm(OwnerSteer)
	case AddrMDPS12:
		s.owners.Arm(OwnerMDPS)
	case AddrCLU11:
		if f.Bus == 1 {
			s.owners.Arm(OwnerButtons)
		}
	case AddrSCC12:
		s.owners.Arm(OwnerCruise)
	case AddrEMS11:
		s.owners.Arm(OwnerEngine)
	}
}

// Forward returns the buses f, received on bus, is relayed to. Suppressing
// a vehicle frame spends one unit of the matching ownership counter.
func (s *Safety) Forward(bus uint8, f *can.Frame) safety.Route {
	d := decide(bus, f.Addr(), &s.topo, &s.owners)
	if d.suppressed {
		s.owners.Consume(d.consume)
	}
	return d.route
}

// Tick runs the staleness monitor; a lagging message revokes controls.
func (s *Safety) Tick() {
	now := s.timer.Micros()
	n := s.checks.UpdateLagging(now)
	metrics.SetLaggingChecks(n)
	if n > 0 && s.ctl.ControlsAllowed {
		s.log.Warn("controls_not_allowed", "reason", "rx_lagging", "lagging", n)
		s.disallow(now)
	}
}

// Snapshot is a copy of the profile state for diagnostics.
type Snapshot struct {
	Topology          TopologyState
	Owners            Ownership
	ControlsAllowed   bool
	VehicleMoving     bool
	RelayMalfunction  bool
	DesiredTorqueLast int
	RTTorqueLast      int
	DriverTorqueMin   int
	DriverTorqueMax   int
}

func (s *Safety) Snapshot() Snapshot {
	return Snapshot{
		Topology:          s.topo,
		Owners:            s.owners,
		ControlsAllowed:   s.ctl.ControlsAllowed,
		VehicleMoving:     s.ctl.VehicleMoving,
		RelayMalfunction:  s.relayMalfunction,
		DesiredTorqueLast: s.ctl.DesiredTorqueLast,
		RTTorqueLast:      s.ctl.RTTorqueLast,
		DriverTorqueMin:   s.ctl.TorqueDriver.Min,
		DriverTorqueMax:   s.ctl.TorqueDriver.Max,
	}
}

func publishTopology(t *TopologyState) {
	metrics.SetHomeBus("mdps", t.MDPSBus)
	metrics.SetHomeBus("scc", t.SCCBus)
	metrics.SetTopologyFlag("lcan_bus1", t.LCANBus1)
	metrics.SetTopologyFlag("fwd_bus1", t.FwdBus1)
	metrics.SetTopologyFlag("fwd_obd", t.FwdOBD)
	metrics.SetTopologyFlag("fwd_bus2", t.FwdBus2)
}
