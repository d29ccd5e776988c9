package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"

	"github.com/kstaniek/go-can-safety-gateway/internal/can"
	"github.com/kstaniek/go-can-safety-gateway/internal/metrics"
	"github.com/kstaniek/go-can-safety-gateway/internal/serial"
)

// openSerialPort is a hook for tests.
var openSerialPort = serial.Open

// initSerialBus opens a UART adapter for bus and starts its RX loop.
func initSerialBus(ctx context.Context, bus uint8, dev string, cfg *appConfig, in ingester, l *slog.Logger, wg *sync.WaitGroup) (busPort, error) {
	sp, err := openSerialPort(dev, cfg.baud, cfg.serialReadTO)
	if err != nil {
		return busPort{}, fmt.Errorf("open serial %s: %w", dev, err)
	}
	l.Info("serial_open", "bus", bus, "device", dev, "baud", cfg.baud)
	codec := serial.Codec{Bus: bus}
	w := serial.NewTXWriter(ctx, bus, sp, codec, txQueueSize)
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer l.Info("serial_rx_end", "bus", bus)
		buf := make([]byte, serialReadBufSize)
		acc := bytes.NewBuffer(nil)
		backoff := rxBackoffMin
		for {
			select {
			case <-ctx.Done():
				return
			default:
			}
			n, err := sp.Read(buf)
			if n > 0 {
				acc.Write(buf[:n])
				_ = codec.DecodeStream(acc, func(fr can.Frame) { ingest(in, fr, l) })
				if acc.Len() == 0 && cap(acc.Bytes()) > largeBufferReclaimThreshold {
					acc = bytes.NewBuffer(nil)
				}
				backoff = rxBackoffMin
			}
			if err == nil {
				continue
			}
			if ctx.Err() != nil {
				return
			}
			var perr *os.PathError
			if errors.As(err, &perr) {
				l.Error("serial_device_lost", "bus", bus, "device", dev, "error", err)
				return
			}
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				continue // read timeout with no data
			}
			metrics.IncError(metrics.ErrSerialRead)
			l.Warn("serial_read_error", "bus", bus, "error", err, "backoff", backoff)
			sleepFn(backoff)
			backoff = nextBackoff(backoff)
		}
	}()
	return busPort{bus: bus, sink: w, close: func() { _ = sp.Close(); w.Close() }}, nil
}
