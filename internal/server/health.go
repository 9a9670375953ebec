package server

import "github.com/NgigiN/qris-gateway/internal/config"

// HealthService reports readiness details for /healthz.
type HealthService interface {
	Report() map[string]any
}

// Sizer reports how many records the store holds.
type Sizer interface {
	Size() int
}

// GatewayHealth reports whether requests can be issued and how many are live.
type GatewayHealth struct {
	Config config.Config
	Store  Sizer
}

// Report implements HealthService.
func (h GatewayHealth) Report() map[string]any {
	report := map[string]any{
		"gatewayConfigured":   h.Config.RequireGateway() == nil,
		"notificationsActive": h.Config.Discord.Enabled(),
	}
	if h.Store != nil {
		report["transactions"] = h.Store.Size()
	}
	return report
}
