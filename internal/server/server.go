// Package server wires the plugin stats handlers into an HTTP server and
// manages its lifecycle.
package server

import (
	"context"
	"fmt"
	"log"
	"net"
	"net/http"
	"time"

	"github.com/scrypster/pluginstats/internal/config"
	"github.com/scrypster/pluginstats/internal/engine"
	"github.com/scrypster/pluginstats/web/handlers"
)

// maxHeaderBytes caps request headers; report bodies are limited by the handler.
const maxHeaderBytes = 16 << 10

const healthTimeout = 2 * time.Second

// securityHeadersMiddleware adds security headers to all HTTP responses.
func securityHeadersMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("X-XSS-Protection", "1; mode=block")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		next.ServeHTTP(w, r)
	})
}

// Routes builds the full handler tree for eng. The hub receives a
// plugin_saved event every time the engine persists a plugin.
func Routes(cfg *config.Config, eng *engine.Engine, hub *handlers.WebSocketHub) http.Handler {
	reportHandler := handlers.NewReportHandler(eng)
	pluginHandler := handlers.NewPluginHandler(eng)
	statsHandler := handlers.NewStatsHandler(eng)

	limiter := handlers.NewRateLimiter(cfg.Server.ReportRateLimit, cfg.Server.ReportBurst, cfg.Server.TrustProxy)

	mux := http.NewServeMux()

	// Public ingestion endpoint, limited per client
	mux.Handle("/report/{plugin}", handlers.RateLimitMiddleware(http.HandlerFunc(reportHandler.PostReport), limiter))

	// API routes (require auth in production mode)
	apiMux := http.NewServeMux()
	apiMux.HandleFunc("/api/plugins", pluginHandler.ListPlugins)
	apiMux.HandleFunc("/api/plugins/{id}", pluginHandler.GetPlugin)
	apiMux.HandleFunc("/api/plugins/{id}/save", pluginHandler.SavePlugin)
	apiMux.HandleFunc("/api/stats", statsHandler.GetStats)

	// Health endpoint, no auth required
	mux.HandleFunc("/api/health", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
		defer cancel()

		status, code := "healthy", http.StatusOK
		if eng.Stats().BreakerState == "open" {
			status, code = "degraded", http.StatusServiceUnavailable
		} else if err := eng.Ping(ctx); err != nil {
			log.Printf("WARNING: Health check failed: %v", err)
			status, code = "unhealthy", http.StatusServiceUnavailable
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		_, _ = fmt.Fprintf(w, `{"status":%q}`, status)
	})

	mux.Handle("/api/", handlers.RequireAuth(apiMux, cfg))

	// WebSocket endpoint (no auth required, origin validation handles security)
	mux.Handle("/ws", hub)

	return securityHeadersMiddleware(mux)
}

// Start listens on the configured address and serves until ctx is cancelled.
// It returns the actual address being listened on (useful with port 0) and
// the WebSocketHub that save events are broadcast to.
func Start(ctx context.Context, cfg *config.Config, eng *engine.Engine) (string, *handlers.WebSocketHub, error) {
	addr := net.JoinHostPort(cfg.Server.Host, fmt.Sprintf("%d", cfg.Server.Port))

	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return "", nil, fmt.Errorf("server: listen on %s: %w", addr, err)
	}
	actualAddr := listener.Addr().String()

	hub := handlers.NewWebSocketHub(actualAddr, fmt.Sprintf("localhost:%d", listener.Addr().(*net.TCPAddr).Port))
	go hub.Run()

	eng.SetOnPluginSaved(func(pluginID int) {
		hub.Broadcast(handlers.NewPluginSavedEvent(pluginID))
	})

	srv := &http.Server{
		Handler:        Routes(cfg, eng, hub),
		ReadTimeout:    15 * time.Second,
		WriteTimeout:   30 * time.Second,
		IdleTimeout:    60 * time.Second,
		MaxHeaderBytes: maxHeaderBytes,
	}

	go func() {
		if err := srv.Serve(listener); err != nil && err != http.ErrServerClosed {
			log.Printf("ERROR: Server error: %v", err)
		}
	}()

	// Handle graceful shutdown
	go func() {
		<-ctx.Done()
		eng.SetOnPluginSaved(nil)
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Printf("WARNING: Server shutdown error: %v", err)
		}
		hub.Stop()
	}()

	return actualAddr, hub, nil
}
