package app

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/greenroute/fleetlink/internal/realtime"
	"github.com/greenroute/fleetlink/internal/version"
)

const (
	debugLimit     = 100
	debugRateLimit = 60 // requests per minute per client IP
)

// Handler serves /health, the Prometheus metrics path and /debug endpoints.
func (a *App) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/health", a.handleHealth)

	path := a.cfg.Metrics.Path
	if path == "" {
		path = "/metrics"
	}
	r.Handle(path, promhttp.Handler())

	r.Route("/debug", func(r chi.Router) {
		r.Use(httprate.LimitByIP(debugRateLimit, time.Minute))
		r.Get("/bins", a.handleDebugBins)
		r.Get("/messages", a.handleDebugUnread)
		r.Get("/messages/{driverID}", a.handleDebugMessages)
	})

	return r
}

func (a *App) handleDebugBins(w http.ResponseWriter, r *http.Request) {
	bins := a.Cache.Bins()
	total := len(bins)
	if len(bins) > debugLimit {
		bins = bins[:debugLimit]
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"count":   total,
		"showing": len(bins),
		"bins":    bins,
	})
}

func (a *App) handleDebugUnread(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"unread": a.Messages.Unread()})
}

func (a *App) handleDebugMessages(w http.ResponseWriter, r *http.Request) {
	driverID := chi.URLParam(r, "driverID")
	writeJSON(w, http.StatusOK, map[string]any{
		"driver":   driverID,
		"messages": a.Messages.Messages(driverID),
	})
}

func (a *App) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	health := struct {
		Status     string         `json:"status"`
		Version    string         `json:"version"`
		Components map[string]any `json:"components"`
	}{
		Status:     "healthy",
		Version:    version.Version,
		Components: make(map[string]any),
	}

	st := a.Manager.Status()
	health.Components["transport"] = st
	if st.Mode == realtime.ModeDisconnected {
		health.Status = "degraded"
	}

	health.Components["api_breaker"] = a.API.BreakerState()
	health.Components["cache"] = a.Cache.Stats()
	health.Components["dispatch"] = a.Dispatcher.Stats()

	if a.pool != nil {
		if err := a.pool.Ping(ctx); err != nil {
			health.Status = "unhealthy"
			health.Components["postgres"] = map[string]string{
				"status": "disconnected",
				"error":  err.Error(),
			}
		} else {
			health.Components["postgres"] = "connected"
		}
	}
	if a.writer != nil {
		health.Components["telemetry_writer"] = a.writer.Stats()
	}

	code := http.StatusOK
	if health.Status == "unhealthy" {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, health)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
