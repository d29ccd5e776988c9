package main

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/kstaniek/go-can-safety-gateway/internal/can"
	"github.com/kstaniek/go-can-safety-gateway/internal/metrics"
	"github.com/kstaniek/go-can-safety-gateway/internal/socketcan"
)

// openSocketCANDevice is a hook for tests.
var openSocketCANDevice = func(iface string, bus uint8) (socketcan.Dev, error) {
	d, err := socketcan.Open(iface, bus)
	if err != nil {
		return nil, err
	}
	return d, nil
}

// initSocketCANBus opens iface for bus and starts its RX loop.
func initSocketCANBus(ctx context.Context, bus uint8, iface string, in ingester, l *slog.Logger, wg *sync.WaitGroup) (busPort, error) {
	dev, err := openSocketCANDevice(iface, bus)
	if err != nil {
		return busPort{}, fmt.Errorf("socketcan open %s: %w", iface, err)
	}
	l.Info("socketcan_open", "bus", bus, "if", iface)
	tw := socketcan.NewTXWriter(ctx, bus, dev, txQueueSize)
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer l.Info("socketcan_rx_end", "bus", bus)
		backoff := rxBackoffMin
		for {
			select {
			case <-ctx.Done():
				return
			default:
			}
			var fr can.Frame
			if err := dev.ReadFrame(&fr); err != nil {
				if ctx.Err() != nil {
					return
				}
				metrics.IncError(metrics.ErrSocketCANRead)
				l.Warn("socketcan_read_error", "bus", bus, "error", err, "backoff", backoff)
				sleepFn(backoff)
				backoff = nextBackoff(backoff)
				continue
			}
			fr.Bus = bus
			ingest(in, fr, l)
			backoff = rxBackoffMin
		}
	}()
	return busPort{bus: bus, sink: tw, close: func() { _ = dev.Close(); tw.Close() }}, nil
}
