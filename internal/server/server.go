package server

import (
	"bufio"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/bracketpi/bracketd/internal/config"
	"github.com/bracketpi/bracketd/internal/handlers"
	"github.com/bracketpi/bracketd/internal/metrics"
	"github.com/bracketpi/bracketd/internal/websocket"
)

func NewServer(cfg *config.Config, deps *handlers.Dependencies) *http.Server {
	mux := http.NewServeMux()

	// Display WebSocket endpoint
	mux.HandleFunc("/ws/display", websocket.DisplayWebSocketHandler(deps.Core.Hub, cfg.Server.ExposedDomain))

	// OAuth web flow for connecting the provider account
	mux.HandleFunc("/oauth/login", handlers.OAuthLoginHandler(deps))
	mux.HandleFunc("/oauth/callback", handlers.OAuthCallbackHandler(deps))

	// Operator display-event surface
	mux.HandleFunc("/api/admin/events/ticker", handlers.TickerEventHandler(deps))
	mux.HandleFunc("/api/admin/events/qr", handlers.QREventHandler(deps))
	mux.HandleFunc("/api/admin/events/timer", handlers.TimerEventHandler(deps))
	mux.HandleFunc("/api/admin/events/sponsor", handlers.SponsorEventHandler(deps))
	mux.HandleFunc("/api/admin/events/activity", handlers.ActivityEventHandler(deps))

	// Rate-controller surface
	mux.HandleFunc("/api/admin/ratecontrol", handlers.RateControlStatusHandler(deps))
	mux.HandleFunc("/api/admin/ratecontrol/mode", handlers.ForceModeHandler(deps))
	mux.HandleFunc("/api/admin/ratecontrol/devmode", handlers.DevModeHandler(deps))
	mux.HandleFunc("/api/admin/ratecontrol/check", handlers.CheckNowHandler(deps))

	// Cache-management surface
	mux.HandleFunc("/api/admin/cache/stats", handlers.CacheStatsHandler(deps))
	mux.HandleFunc("/api/admin/cache/invalidate", handlers.CacheInvalidateHandler(deps))
	mux.HandleFunc("/api/admin/cache/clear", handlers.CacheClearHandler(deps))
	mux.HandleFunc("/api/admin/cache/tournaments/", handlers.CacheTournamentHandler(deps))

	handler := loggingMiddleware(mux)

	return &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler: handler,
	}
}

// NewMetricsServer creates a new HTTP server for internal metrics and health
// checks. This server should not be exposed to the public internet.
func NewMetricsServer(cfg *config.Config, deps *handlers.Dependencies) *http.Server {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", handlers.HealthHandler)
	mux.HandleFunc("/ready", handlers.ReadyHandler(deps))

	mux.Handle("/metrics", promhttp.Handler())

	return &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.MetricsPort),
		Handler: mux,
	}
}

func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		sw := &statusWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(sw, r)

		duration := time.Since(start)

		metrics.HTTPRequestDuration.WithLabelValues(
			r.Method,
			r.URL.Path,
			strconv.Itoa(sw.statusCode),
		).Observe(duration.Seconds())

		metrics.HTTPRequestsTotal.WithLabelValues(
			r.Method,
			r.URL.Path,
			strconv.Itoa(sw.statusCode),
		).Inc()

		slog.Info("http.request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", sw.statusCode,
			"duration_ms", duration.Milliseconds(),
			"remote_addr", r.RemoteAddr,
			"user_agent", r.UserAgent(),
		)
	})
}

// statusWriter wraps http.ResponseWriter to capture the status code
type statusWriter struct {
	http.ResponseWriter
	statusCode int
}

func (sw *statusWriter) WriteHeader(code int) {
	sw.statusCode = code
	sw.ResponseWriter.WriteHeader(code)
}

// Hijack lets the WebSocket upgrade work through the logging wrapper.
func (sw *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := sw.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, http.ErrNotSupported
	}
	return hj.Hijack()
}
