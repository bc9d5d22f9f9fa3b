package server

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Checker probes one dependency for /healthz.
type Checker func(ctx context.Context) error

// healthCheckTimeout bounds the whole probe pass.
const healthCheckTimeout = 5 * time.Second

// OpsMux builds the operational endpoint handler: GET /healthz runs the
// named checkers, GET /metrics serves the prometheus registry.
func OpsMux(checks map[string]Checker) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", promhttp.Handler())
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
		defer cancel()

		status := http.StatusOK
		results := make(map[string]string, len(checks))
		for name, check := range checks {
			if err := check(ctx); err != nil {
				status = http.StatusServiceUnavailable
				results[name] = err.Error()
				continue
			}
			results[name] = "ok"
		}

		body := map[string]any{"checks": results}
		if status == http.StatusOK {
			body["status"] = "ok"
		} else {
			body["status"] = "degraded"
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(body)
	})
	return mux
}
