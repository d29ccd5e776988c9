package main

import (
	"log/slog"

	"github.com/kstaniek/go-can-safety-gateway/internal/hub"
)

func initHub(cfg *appConfig, l *slog.Logger) *hub.Hub {
	h := hub.New()
	h.OutBufSize = cfg.hubBuffer
	h.MaxClients = cfg.maxClients
	h.Policy = hub.ParsePolicy(cfg.hubPolicy)
	l.Info("hub_config", "policy", h.Policy.String(), "buffer", h.OutBufSize, "max_clients", h.MaxClients)
	return h
}
