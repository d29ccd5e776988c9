package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/kstaniek/go-can-safety-gateway/internal/cnl"
	"github.com/kstaniek/go-can-safety-gateway/internal/gateway"
	"github.com/kstaniek/go-can-safety-gateway/internal/hub"
	"github.com/kstaniek/go-can-safety-gateway/internal/metrics"
	"github.com/kstaniek/go-can-safety-gateway/internal/safety/hyundai"
	"github.com/kstaniek/go-can-safety-gateway/internal/server"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	cfg, showVersion, err := parseConfig(args, os.Stderr)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		fmt.Fprintln(os.Stderr, err)
		return 2
	}
	if showVersion {
		fmt.Printf("can-safety-gateway %s (commit %s, built %s)\n", version, commit, date)
		return 0
	}
	l, logCloser := setupLogger(cfg)
	defer func() { _ = logCloser.Close() }()
	l.Info("build_info", "version", version, "commit", commit, "date", date)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var wg sync.WaitGroup

	h := initHub(cfg, l)
	gw := newGateway(cfg, h, l)

	ports, err := openBuses(ctx, cfg, gw, l, &wg)
	if err != nil {
		l.Error("backend_init_error", "error", err)
		return 1
	}
	defer func() { closeBuses(ports) }()
	if err := attachBuses(gw, ports); err != nil {
		l.Error("gateway_attach_error", "error", err)
		return 1
	}

	gwDone := make(chan error, 1)
	go func() { gwDone <- gw.Run(ctx) }()
	startMetricsLogger(ctx, cfg.logMetricsEvery, gw, l, &wg)

	mask, _ := parseBusMask(cfg.streamBuses)
	srv := server.NewServer(
		server.WithHub(h),
		server.WithCodec(&cnl.Codec{}),
		server.WithSend(gw.Submit),
		server.WithLogger(l),
		server.WithListenAddr(cfg.listenAddr),
		server.WithBusMask(mask),
		server.WithHandshakeTimeout(cfg.handshakeTO),
		server.WithReadDeadline(cfg.clientReadTO),
	)
	go func() {
		if err := srv.Serve(ctx); err != nil {
			l.Error("tcp_server_error", "error", err)
			cancel()
		}
	}()
	go advertise(ctx, cfg, srv, l)

	metrics.SetReadinessFunc(func() bool {
		select {
		case <-srv.Ready():
		default:
			return false
		}
		return ctx.Err() == nil
	})
	if cfg.metricsAddr != "" {
		metrics.InitBuildInfo(version, commit, date)
		srvHTTP := metrics.StartHTTP(cfg.metricsAddr)
		defer func() { _ = srvHTTP.Shutdown(context.Background()) }()
	}

	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case s := <-sigCh:
		l.Info("shutdown_signal", "signal", s.String())
	case <-ctx.Done():
	}
	shutdownCtx, stop := context.WithTimeout(context.Background(), 2*time.Second)
	defer stop()
	_ = srv.Shutdown(shutdownCtx)
	cancel()
	if err := <-gwDone; err != nil {
		l.Error("gateway_error", "error", err)
	}
	closeBuses(ports)
	ports = nil
	wg.Wait()
	return 0
}

func newGateway(cfg *appConfig, h *hub.Hub, l *slog.Logger) *gateway.Gateway {
	prof := hyundai.New(hyundai.WithLogger(l))
	return gateway.New(prof,
		gateway.WithTap(h),
		gateway.WithParam(uint16(cfg.safetyParam)),
		gateway.WithTickInterval(cfg.tickInterval),
		gateway.WithQueueSize(cfg.gatewayQueue),
		gateway.WithLogger(l),
	)
}

// advertise starts mDNS once the listener is bound.
func advertise(ctx context.Context, cfg *appConfig, srv *server.Server, l *slog.Logger) {
	if !cfg.mdnsEnable {
		return
	}
	select {
	case <-srv.Ready():
	case <-ctx.Done():
		return
	}
	port := listenPort(srv.Addr())
	cleanup, err := startMDNS(ctx, cfg, port)
	if err != nil {
		l.Warn("mdns_start_failed", "error", err)
		return
	}
	l.Info("mdns_started", "service", mdnsServiceType, "name", mdnsInstance(cfg), "port", port)
	<-ctx.Done()
	cleanup()
}

// listenPort extracts the port of a bound host:port address, or 0.
func listenPort(addr string) int {
	_, p, err := net.SplitHostPort(addr)
	if err != nil {
		return 0
	}
	n, err := strconv.Atoi(p)
	if err != nil {
		return 0
	}
	return n
}
