package api

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/kkkkikiki/fomo/internal/claimv1"
	"github.com/kkkkikiki/fomo/internal/metrics"
)

// MetricsMiddleware records request counts and latency per route
func MetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		metrics.HTTPRequestsInFlight.Inc()
		defer metrics.HTTPRequestsInFlight.Dec()

		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		defer func() {
			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			path := routeLabel(r, status)

			metrics.HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(status)).Inc()
			metrics.HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(time.Since(start).Seconds())
		}()

		next.ServeHTTP(ww, r)
	})
}

// routeLabel keeps the label set bounded: route patterns, plus the
// procedure path for calls that reached a claim service procedure
func routeLabel(r *http.Request, status int) string {
	pattern := ""
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		pattern = rctx.RoutePattern()
	}
	if strings.HasPrefix(r.URL.Path, "/"+claimv1.ClaimServiceName+"/") && status != http.StatusNotFound {
		return r.URL.Path
	}
	if pattern == "" {
		return "unmatched"
	}
	return pattern
}
