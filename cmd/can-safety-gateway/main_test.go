package main

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kstaniek/go-can-safety-gateway/internal/can"
	"github.com/kstaniek/go-can-safety-gateway/internal/hub"
	"github.com/kstaniek/go-can-safety-gateway/internal/logging"
	"github.com/kstaniek/go-can-safety-gateway/internal/safety"
	"github.com/kstaniek/go-can-safety-gateway/internal/safety/hyundai"
)

// stubProfile relays nothing and refuses every transmit.
type stubProfile struct{}

func (stubProfile) Init(uint16) *safety.RxChecks { return safety.NewRxChecks() }
func (stubProfile) Receive(*can.Frame) bool { return true }
func (stubProfile) Transmit(*can.Frame, bool) bool { return false }
func (stubProfile) Forward(uint8, *can.Frame) safety.Route { return safety.RouteNone }
func (stubProfile) Tick() {}
func (stubProfile) ControlsAllowed() bool { return false }

func TestListenPort(t *testing.T) {
	assert.Equal(t, 20100, listenPort("[::]:20100"))
	assert.Equal(t, 8080, listenPort("127.0.0.1:8080"))
	assert.Equal(t, 0, listenPort("nonsense"))
}

func TestMDNSMetadata(t *testing.T) {
	cfg := baseConfig()
	cfg.mdnsName = "garage"
	assert.Equal(t, "garage", mdnsInstance(cfg))
	txt := mdnsTXT(cfg)
	assert.Contains(t, txt, "profile="+hyundai.Name)
	assert.Contains(t, txt, "buses=0,2")
	assert.Contains(t, txt, "param=0")

	cfg.mdnsName = ""
	assert.Contains(t, mdnsInstance(cfg), "can-safety-gateway-")

	cleanup, err := startMDNS(context.Background(), cfg, 1)
	require.NoError(t, err, "disabled advertisement is a no-op")
	cleanup()
}

func TestInitHub(t *testing.T) {
	cfg := baseConfig()
	cfg.hubPolicy = "kick"
	cfg.maxClients = 3
	h := initHub(cfg, testLogger())
	assert.Equal(t, hub.PolicyKick, h.Policy)
	assert.Equal(t, 3, h.MaxClients)
	assert.Equal(t, cfg.hubBuffer, h.OutBufSize)
}

func TestSetupLoggerWritesFile(t *testing.T) {
	prev := logging.L()
	t.Cleanup(func() { logging.Set(prev) })

	cfg := baseConfig()
	cfg.logFormat = "json"
	cfg.logFile = filepath.Join(t.TempDir(), "gw.log")
	cfg.logMaxSizeMB = 1
	l, closer := setupLogger(cfg)
	l.Info("hello_file")
	require.NoError(t, closer.Close())

	b, err := os.ReadFile(cfg.logFile)
	require.NoError(t, err)
	assert.Contains(t, string(b), `"msg":"hello_file"`)
	assert.Contains(t, string(b), `"app":"can-safety-gateway"`)
}

func TestNewGatewayRefusesWhenDisengaged(t *testing.T) {
	cfg := baseConfig()
	cfg.tickInterval = 10 * time.Millisecond
	h := initHub(cfg, testLogger())
	gw := newGateway(cfg, h, testLogger())
	sink := &fakeIngester{}
	require.NoError(t, gw.Attach(0, sinkOf(sink)))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- gw.Run(ctx) }()

	lkas := can.New(0, hyundai.AddrLKAS11, 0, 0, 100, 0x04, 0, 0, 0, 0)
	err := gw.Submit(context.Background(), lkas)
	assert.ErrorIs(t, err, safety.ErrControlsNotAllowed)
	assert.Empty(t, sink.got())

	cancel()
	require.NoError(t, <-done)
}

func TestMetricsLoggerStops(t *testing.T) {
	cfg := baseConfig()
	gw := newGateway(cfg, initHub(cfg, testLogger()), testLogger())
	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	startMetricsLogger(ctx, time.Millisecond, gw, testLogger(), &wg)
	time.Sleep(5 * time.Millisecond)
	cancel()
	wg.Wait()

	startMetricsLogger(ctx, 0, gw, testLogger(), &wg)
	wg.Wait()
}

type ingestSink struct{ in *fakeIngester }

func (s ingestSink) SendFrame(fr can.Frame) error { return s.in.Ingest(fr) }

func sinkOf(in *fakeIngester) ingestSink { return ingestSink{in: in} }
