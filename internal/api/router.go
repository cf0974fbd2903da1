// Package api assembles the HTTP surface: the connect claim service, the
// plain verification link, health checks and metrics.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"os"

	"connectrpc.com/connect"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kkkkikiki/fomo/internal/claimv1"
	"github.com/kkkkikiki/fomo/internal/service"
)

// Pinger reports whether the database is reachable
type Pinger interface {
	PingContext(ctx context.Context) error
}

// Options configures the router
type Options struct {
	CORSOrigins []string
	AdminToken  string
	// ShopURL receives browsers after they open a verification link.
	// Empty answers with JSON instead.
	ShopURL string
}

// NewRouter mounts the claim service and the supporting endpoints
func NewRouter(server *service.ClaimServer, db Pinger, opts Options) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(MetricsMiddleware)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: opts.CORSOrigins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{
			"Accept", "Authorization", "Content-Type",
			"Connect-Protocol-Version", "Connect-Timeout-Ms",
		},
		ExposedHeaders: []string{claimv1.ErrorCodeHeader},
		MaxAge:         300,
	}))

	path, handler := claimv1.NewClaimServiceHandler(server,
		connect.WithInterceptors(service.NewAdminInterceptor(opts.AdminToken)),
	)
	r.Mount(path, handler)

	r.Get("/verify", verifyHandler(server, opts.ShopURL))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		hostname, _ := os.Hostname()
		writeJSON(w, http.StatusOK, map[string]string{
			"status":   "ok",
			"service":  "fomo",
			"hostname": hostname,
		})
	})

	r.Get("/health/db", func(w http.ResponseWriter, r *http.Request) {
		if err := db.PingContext(r.Context()); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{
				"status":  "error",
				"message": "postgres unavailable",
			})
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "postgres": "connected"})
	})

	r.Handle("/metrics", promhttp.Handler())

	return r
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
