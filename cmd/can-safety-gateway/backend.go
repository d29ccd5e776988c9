package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.uber.org/multierr"

	"github.com/kstaniek/go-can-safety-gateway/internal/can"
	"github.com/kstaniek/go-can-safety-gateway/internal/gateway"
	"github.com/kstaniek/go-can-safety-gateway/internal/transport"
)

// sleepFn allows tests to intercept backoff sleeps.
var sleepFn = time.Sleep

// ingester receives frames read from a vehicle bus.
type ingester interface {
	Ingest(can.Frame) error
}

// busPort is an opened vehicle bus: the transmit side and its cleanup.
type busPort struct {
	bus   uint8
	spec  busSpec
	sink  transport.FrameSink
	close func()
}

// openBuses opens every configured bus and starts its RX loop. On failure
// the buses opened so far are closed again.
func openBuses(ctx context.Context, cfg *appConfig, in ingester, l *slog.Logger, wg *sync.WaitGroup) ([]busPort, error) {
	var ports []busPort
	for i, raw := range cfg.buses {
		if raw == "" {
			continue
		}
		spec, err := parseBusSpec(raw)
		if err != nil {
			closeBuses(ports)
			return nil, err
		}
		bus := uint8(i)
		var p busPort
		switch spec.kind {
		case "serial":
			p, err = initSerialBus(ctx, bus, spec.target, cfg, in, l, wg)
		case "socketcan":
			p, err = initSocketCANBus(ctx, bus, spec.target, in, l, wg)
		}
		if err != nil {
			closeBuses(ports)
			return nil, fmt.Errorf("bus%d: %w", bus, err)
		}
		p.spec = spec
		ports = append(ports, p)
	}
	return ports, nil
}

func closeBuses(ports []busPort) {
	for _, p := range ports {
		p.close()
	}
}

// attachBuses hands every opened bus to the gateway.
func attachBuses(gw *gateway.Gateway, ports []busPort) error {
	var err error
	for _, p := range ports {
		err = multierr.Append(err, gw.Attach(p.bus, p.sink))
	}
	return err
}

// ingest forwards fr to the gateway, logging drops at debug level.
func ingest(in ingester, fr can.Frame, l *slog.Logger) {
	if err := in.Ingest(fr); err != nil && !errors.Is(err, gateway.ErrQueueFull) {
		l.Debug("ingest_error", "bus", fr.Bus, "error", err)
	}
}

func nextBackoff(d time.Duration) time.Duration {
	d *= 2
	if d > rxBackoffMax {
		d = rxBackoffMax
	}
	return d
}
