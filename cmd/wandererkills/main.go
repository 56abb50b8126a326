// Command wandererkills runs the killmail ingestion, enrichment, and
// fan-out service: it streams from zKillboard's RedisQ, enriches each
// killmail with ESI entity names, caches the result, and pushes it to
// WebSocket and webhook subscribers in real time.
//
// Grounded on cmd/falcon/main.go's startup sequence, router assembly, and
// signal-driven graceful shutdown.
package main

import (
	"context"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	_ "go.uber.org/automaxprocs"

	transporthttp "wandererkills/internal/transport/http"
	"wandererkills/pkg/config"
	"wandererkills/pkg/supervisor"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Printf("no .env file found or error loading it: %v", err)
	}

	logger := slog.Default()

	sup, err := supervisor.New(logger)
	if err != nil {
		logger.Error("failed to wire supervisor", "error", err)
		os.Exit(1)
	}

	ctx := context.Background()
	if err := sup.Start(ctx); err != nil {
		logger.Error("failed to start supervisor", "error", err)
		os.Exit(1)
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(requestLogger(logger))

	api := humachi.New(r, huma.DefaultConfig("WandererKills", "1.0.0"))
	transporthttp.RegisterRoutes(api, "/api/v1", sup.Core)
	r.Handle("/ws", sup.Hub)

	addr := config.GetHost() + ":" + config.GetPort()
	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("starting server", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutdown signal received, shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
	}
	sup.Stop(shutdownCtx)
}

// requestLogger logs every request except health checks, matching
// cmd/falcon/main.go's customLoggerMiddleware.
func requestLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path == "/health" {
				next.ServeHTTP(w, r)
				return
			}
			start := time.Now()
			next.ServeHTTP(w, r)
			logger.Info("request", "method", r.Method, "path", r.URL.Path, "duration", time.Since(start))
		})
	}
}
