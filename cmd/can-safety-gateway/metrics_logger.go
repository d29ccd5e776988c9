package main

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/kstaniek/go-can-safety-gateway/internal/gateway"
	"github.com/kstaniek/go-can-safety-gateway/internal/metrics"
)

func startMetricsLogger(ctx context.Context, interval time.Duration, gw *gateway.Gateway, l *slog.Logger, wg *sync.WaitGroup) {
	if interval <= 0 {
		return
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		t := time.NewTicker(interval)
		defer t.Stop()
		for {
			select {
			case <-t.C:
				snap := metrics.Snap()
				st := gw.Stats()
				l.Info("metrics_snapshot",
					"bus_rx", snap.BusRx,
					"bus_tx", snap.BusTx,
					"forwarded", st.Forwarded,
					"rx_invalid", snap.RxInvalid,
					"rx_late", snap.RxLate,
					"tx_permitted", st.TxPermitted,
					"tx_blocked", st.TxBlocked,
					"controls_allowed", snap.ControlsAllowed,
					"lagging_checks", snap.LaggingChecks,
					"tcp_rx", snap.TCPRx,
					"tcp_tx", snap.TCPTx,
					"hub_clients", snap.HubClients,
					"hub_drops", snap.HubDrops,
					"errors", snap.Errors,
					"malformed", snap.Malformed,
				)
			case <-ctx.Done():
				return
			}
		}
	}()
}
