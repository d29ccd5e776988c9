package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/kstaniek/go-can-safety-gateway/internal/can"
	"github.com/kstaniek/go-can-safety-gateway/internal/safety"
	"github.com/kstaniek/go-can-safety-gateway/internal/safety/hyundai"
)

type replayOptions struct {
	buses   map[string]int
	tx      map[string]int
	tick    time.Duration
	output  string
	verbose bool
}

func newReplayCmd(root *rootOptions) *cobra.Command {
	opts := &replayOptions{}
	cmd := &cobra.Command{
		Use:   "replay [candump.log]",
		Short: "Replay a candump log through the safety profile",
		Long: `Replay reads a candump -l log (stdin when no file or "-" is given) and
feeds every frame to the profile in timestamp order.

Frames on interfaces listed with --bus are vehicle traffic received on that
bus. Frames on interfaces listed with --tx are transmit requests from the
driving computer for the given bus. Without --bus, vehicle interfaces are
numbered in order of first appearance.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			switch opts.output {
			case "text", "yaml":
			default:
				return fmt.Errorf("invalid output %q (use text|yaml)", opts.output)
			}
			in := cmd.InOrStdin()
			if len(args) == 1 && args[0] != "-" {
				f, err := os.Open(args[0])
				if err != nil {
					return err
				}
				defer f.Close()
				in = f
			}
			r, err := newReplayer(opts, uint16(root.param), root.logger(cmd))
			if err != nil {
				return err
			}
			if opts.verbose {
				r.events = cmd.OutOrStdout()
			}
			if err := r.run(in); err != nil {
				return err
			}
			return r.report(cmd.OutOrStdout(), opts.output)
		},
	}
	cmd.Flags().StringToIntVar(&opts.buses, "bus", nil, "Vehicle interface to bus mapping, e.g. can0=0,can1=1")
	cmd.Flags().StringToIntVar(&opts.tx, "tx", nil, "Transmit-request interface to bus mapping, e.g. tx0=0")
	cmd.Flags().DurationVar(&opts.tick, "tick", time.Second, "Staleness monitor period in log time")
	cmd.Flags().StringVarP(&opts.output, "output", "o", "text", "Summary format: text|yaml")
	cmd.Flags().BoolVarP(&opts.verbose, "verbose", "v", false, "Print a line per frame")
	return cmd
}

// summary is the outcome of a replay.
type summary struct {
	Frames     int            `yaml:"frames"`
	Skipped    int            `yaml:"skipped"`
	Received   map[uint8]int  `yaml:"received"`
	Invalid    int            `yaml:"invalid"`
	Routes     map[string]int `yaml:"routes"`
	TxAllowed  int            `yaml:"tx_allowed"`
	TxBlocked  int            `yaml:"tx_blocked"`
	Reasons    map[string]int `yaml:"block_reasons"`
	Engaged    int            `yaml:"engaged"`
	Disengaged int            `yaml:"disengaged"`
	Final      finalState     `yaml:"final"`
}

type finalState struct {
	ControlsAllowed  bool `yaml:"controls_allowed"`
	RelayMalfunction bool `yaml:"relay_malfunction"`
	MDPSBus          int  `yaml:"mdps_bus"`
	SCCBus           int  `yaml:"scc_bus"`
	LCANBus1         bool `yaml:"lcan_bus1"`
	FwdBus1          bool `yaml:"fwd_bus1"`
	FwdBus2          bool `yaml:"fwd_bus2"`
	FwdOBD           bool `yaml:"fwd_obd"`
}

// replayer drives one profile instance from log records. The profile clock
// is a mock advanced to each record's timestamp.
type replayer struct {
	param    uint16
	tick     time.Duration
	log      *slog.Logger
	buses    map[string]uint8
	tx       map[string]uint8
	autoBus  bool
	clk      *clock.Mock
	prof     *hyundai.Safety
	nextTick time.Time
	engaged  bool
	events   io.Writer
	sum      summary
}

func newReplayer(opts *replayOptions, param uint16, log *slog.Logger) (*replayer, error) {
	if opts.tick <= 0 {
		return nil, errors.New("tick must be > 0")
	}
	r := &replayer{
		param:   param,
		tick:    opts.tick,
		log:     log,
		buses:   map[string]uint8{},
		tx:      map[string]uint8{},
		autoBus: len(opts.buses) == 0,
		sum: summary{
			Received: map[uint8]int{},
			Routes:   map[string]int{},
			Reasons:  map[string]int{},
		},
	}
	for name, bus := range opts.buses {
		if bus < 0 || bus >= can.MaxBus {
			return nil, fmt.Errorf("bus %s=%d out of range", name, bus)
		}
		r.buses[name] = uint8(bus)
	}
	for name, bus := range opts.tx {
		if bus < 0 || bus >= can.MaxBus {
			return nil, fmt.Errorf("tx %s=%d out of range", name, bus)
		}
		if _, dup := r.buses[name]; dup {
			return nil, fmt.Errorf("interface %s mapped as both bus and tx", name)
		}
		r.tx[name] = uint8(bus)
	}
	return r, nil
}

func (r *replayer) run(in io.Reader) error {
	sc := bufio.NewScanner(in)
	line := 0
	for sc.Scan() {
		line++
		text := strings.TrimSpace(sc.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		rec, err := parseRecord(text)
		if errors.Is(err, errUnsupported) {
			r.sum.Skipped++
			continue
		}
		if err != nil {
			return fmt.Errorf("line %d: %w", line, err)
		}
		if err := r.step(rec); err != nil {
			return fmt.Errorf("line %d: %w", line, err)
		}
	}
	if err := sc.Err(); err != nil {
		return err
	}
	r.finish()
	return nil
}

func (r *replayer) start(ts time.Time) {
	r.clk = clock.NewMock()
	r.clk.Set(ts)
	r.prof = hyundai.New(hyundai.WithClock(r.clk), hyundai.WithLogger(r.log))
	r.prof.Init(r.param)
	r.nextTick = ts.Add(r.tick)
}

// advance moves the clock to ts, running every tick due on the way. Records
// older than the clock do not move it back.
func (r *replayer) advance(ts time.Time) {
	for !ts.Before(r.nextTick) {
		r.clk.Set(r.nextTick)
		r.prof.Tick()
		r.observeControls()
		r.nextTick = r.nextTick.Add(r.tick)
	}
	if ts.After(r.clk.Now()) {
		r.clk.Set(ts)
	}
}

func (r *replayer) step(rec record) error {
	if r.prof == nil {
		r.start(rec.ts)
	}
	r.advance(rec.ts)

	fr := rec.frame
	if bus, ok := r.tx[rec.iface]; ok {
		fr.Bus = bus
		r.transmit(fr)
		return nil
	}
	bus, ok := r.buses[rec.iface]
	if !ok {
		if !r.autoBus {
			r.sum.Skipped++
			return nil
		}
		if len(r.buses) >= can.MaxBus {
			return fmt.Errorf("too many interfaces (max %d)", can.MaxBus)
		}
		bus = uint8(len(r.buses))
		r.buses[rec.iface] = bus
	}
	fr.Bus = bus
	r.receive(fr)
	return nil
}

func (r *replayer) receive(fr can.Frame) {
	r.sum.Frames++
	r.sum.Received[fr.Bus]++
	valid := r.prof.Receive(&fr)
	if !valid {
		r.sum.Invalid++
	}
	route := r.prof.Forward(fr.Bus, &fr)
	r.sum.Routes[fmt.Sprintf("%d->%s", fr.Bus, route)]++
	r.observeControls()
	if r.events != nil {
		verdict := "ok"
		if !valid {
			verdict = "invalid"
		}
		fmt.Fprintf(r.events, "%s rx bus=%d %-11s %s route=%s\n",
			r.stamp(), fr.Bus, hyundai.AddrName(fr.Addr()), verdict, route)
	}
}

func (r *replayer) transmit(fr can.Frame) {
	r.sum.Frames++
	err := r.prof.TransmitErr(&fr, r.prof.ControlsAllowed())
	if err == nil {
		r.sum.TxAllowed++
	} else {
		r.sum.TxBlocked++
		for _, reason := range safety.Reasons(err) {
			r.sum.Reasons[reason]++
		}
	}
	if r.events != nil {
		verdict := "allowed"
		if err != nil {
			verdict = "blocked: " + strings.Join(safety.Reasons(err), ",")
		}
		fmt.Fprintf(r.events, "%s tx bus=%d %-11s %s\n",
			r.stamp(), fr.Bus, hyundai.AddrName(fr.Addr()), verdict)
	}
}

func (r *replayer) observeControls() {
	on := r.prof.ControlsAllowed()
	switch {
	case on && !r.engaged:
		r.sum.Engaged++
	case !on && r.engaged:
		r.sum.Disengaged++
	}
	r.engaged = on
}

func (r *replayer) stamp() string {
	us := r.clk.Now().UnixMicro()
	return fmt.Sprintf("%d.%06d", us/1e6, us%1e6)
}

func (r *replayer) finish() {
	if r.prof == nil {
		return
	}
	snap := r.prof.Snapshot()
	r.sum.Final = finalState{
		ControlsAllowed:  snap.ControlsAllowed,
		RelayMalfunction: snap.RelayMalfunction,
		MDPSBus:          snap.Topology.MDPSBus,
		SCCBus:           snap.Topology.SCCBus,
		LCANBus1:         snap.Topology.LCANBus1,
		FwdBus1:          snap.Topology.FwdBus1,
		FwdBus2:          snap.Topology.FwdBus2,
		FwdOBD:           snap.Topology.FwdOBD,
	}
}

func (r *replayer) report(w io.Writer, format string) error {
	if format == "yaml" {
		enc := yaml.NewEncoder(w)
		defer enc.Close()
		return enc.Encode(r.sum)
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	s := r.sum
	fmt.Fprintf(tw, "frames\t%d\n", s.Frames)
	fmt.Fprintf(tw, "skipped\t%d\n", s.Skipped)
	fmt.Fprintf(tw, "invalid\t%d\n", s.Invalid)
	for _, bus := range sortedKeys(s.Received) {
		fmt.Fprintf(tw, "received bus %d\t%d\n", bus, s.Received[bus])
	}
	for _, route := range sortedKeys(s.Routes) {
		fmt.Fprintf(tw, "route %s\t%d\n", route, s.Routes[route])
	}
	fmt.Fprintf(tw, "tx allowed\t%d\n", s.TxAllowed)
	fmt.Fprintf(tw, "tx blocked\t%d\n", s.TxBlocked)
	for _, reason := range sortedKeys(s.Reasons) {
		fmt.Fprintf(tw, "  %s\t%d\n", reason, s.Reasons[reason])
	}
	fmt.Fprintf(tw, "engaged\t%d\n", s.Engaged)
	fmt.Fprintf(tw, "disengaged\t%d\n", s.Disengaged)
	fmt.Fprintf(tw, "controls allowed\t%t\n", s.Final.ControlsAllowed)
	fmt.Fprintf(tw, "relay malfunction\t%t\n", s.Final.RelayMalfunction)
	fmt.Fprintf(tw, "mdps bus\t%d\n", s.Final.MDPSBus)
	fmt.Fprintf(tw, "scc bus\t%d\n", s.Final.SCCBus)
	return tw.Flush()
}

func sortedKeys[K string | uint8, V any](m map[K]V) []K {
	keys := make([]K, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
