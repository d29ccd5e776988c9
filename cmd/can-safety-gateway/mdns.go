package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/grandcat/zeroconf"

	"github.com/kstaniek/go-can-safety-gateway/internal/safety/hyundai"
)

const mdnsServiceType = "_can-gateway._tcp"

func mdnsInstance(cfg *appConfig) string {
	if cfg.mdnsName != "" {
		return cfg.mdnsName
	}
	host, _ := os.Hostname()
	return fmt.Sprintf("can-safety-gateway-%s", host)
}

// mdnsTXT describes the gateway to discovering clients.
func mdnsTXT(cfg *appConfig) []string {
	var buses []string
	for i, s := range cfg.buses {
		if s != "" {
			buses = append(buses, strconv.Itoa(i))
		}
	}
	return []string{
		"profile=" + hyundai.Name,
		"buses=" + strings.Join(buses, ","),
		"param=" + strconv.Itoa(cfg.safetyParam),
		"version=" + version,
		"commit=" + commit,
	}
}

// startMDNS registers the service and returns a cleanup function. It is a
// no-op when advertisement is disabled.
func startMDNS(ctx context.Context, cfg *appConfig, port int) (func(), error) {
	if !cfg.mdnsEnable {
		return func() {}, nil
	}
	svc, err := zeroconf.Register(mdnsInstance(cfg), mdnsServiceType, "local.", port, mdnsTXT(cfg), nil)
	if err != nil {
		return nil, fmt.Errorf("mdns register: %w", err)
	}
	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
		case <-done:
		}
		svc.Shutdown()
	}()
	return func() { close(done); time.Sleep(50 * time.Millisecond) }, nil
}
