package api

import (
	"net/http"
)

// Middleware is one link in a handler chain.
type Middleware func(http.Handler) http.Handler

// RouterConfig collects the handler groups and the route-scoped middleware.
type RouterConfig struct {
	Attendance *AttendanceHandlers
	Anomalies  *AnomalyHandlers
	Devices    *DeviceHandlers
	Audit      *AuditHandlers
	Health     *HealthHandlers
	// Metrics serves GET /metrics (Prometheus exposition); optional.
	Metrics http.Handler

	// Auth authenticates every business route.
	Auth Middleware
	// RequireOversight guards the review and audit surface.
	RequireOversight Middleware
	// SubmitLimiter rate limits the attendance submission endpoints;
	// optional.
	SubmitLimiter Middleware
}

// NewRouter builds the route table. Probes and metrics are unauthenticated;
// everything else requires a valid token, and the anomaly and audit routes
// additionally require the oversight role.
func NewRouter(cfg RouterConfig) *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", cfg.Health.Health)
	mux.HandleFunc("/ready", cfg.Health.Ready)
	if cfg.Metrics != nil {
		mux.Handle("GET /metrics", cfg.Metrics)
	}

	authed := func(h http.HandlerFunc) http.Handler {
		return cfg.Auth(h)
	}
	oversight := func(h http.HandlerFunc) http.Handler {
		return cfg.Auth(cfg.RequireOversight(h))
	}
	submit := func(h http.HandlerFunc) http.Handler {
		if cfg.SubmitLimiter == nil {
			return authed(h)
		}
		return cfg.Auth(cfg.SubmitLimiter(h))
	}

	mux.Handle("POST /attendance/check-in", submit(cfg.Attendance.CheckIn))
	mux.Handle("POST /attendance/check-out", submit(cfg.Attendance.CheckOut))
	mux.Handle("GET /attendance", authed(cfg.Attendance.ListEvents))
	mux.Handle("GET /attendance/{id}", authed(cfg.Attendance.GetEvent))

	mux.Handle("GET /anomalies", oversight(cfg.Anomalies.List))
	mux.Handle("GET /anomalies/{id}", oversight(cfg.Anomalies.Get))
	mux.Handle("POST /anomalies/{id}/resolve", oversight(cfg.Anomalies.Resolve))

	mux.Handle("GET /devices", authed(cfg.Devices.List))
	mux.Handle("POST /devices/{id}/trust", authed(cfg.Devices.Trust))
	mux.Handle("POST /devices/{id}/revoke", authed(cfg.Devices.Revoke))
	mux.Handle("DELETE /devices/{id}", authed(cfg.Devices.Delete))

	mux.Handle("GET /audit", oversight(cfg.Audit.Query))

	return mux
}
