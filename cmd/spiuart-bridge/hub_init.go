package main

import (
	"log/slog"

	"github.com/dslink/go-spiuart/internal/hub"
)

// initHub wires the broadcast hub that fans filtered pump input out to the
// connected TCP clients. Slow readers are handled per the configured
// backpressure policy.
func initHub(cfg *appConfig, l *slog.Logger) *hub.Hub {
	h := hub.New()
	h.OutBufSize = cfg.hubBuffer

	policy := cfg.hubPolicy
	switch policy {
	case "kick":
		h.Policy = hub.PolicyKick
	case "drop":
		h.Policy = hub.PolicyDrop
	default:
		l.Warn("unknown_hub_policy", "policy", policy, "used", "drop")
		h.Policy = hub.PolicyDrop
		policy = "drop"
	}

	l.Info("build_info", "version", version, "commit", commit, "date", date)
	l.Info("hub_config", "policy", policy, "client_buffer", h.OutBufSize)
	return h
}
