package main

import (
	"context"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/brunobiangulo/akg"
)

func main() {
	configPath := flag.String("config", "", "Path to config file (YAML or JSON)")
	addr := flag.String("addr", ":8080", "Listen address")
	logFormat := flag.String("log-format", "", "Log format override: json or text")
	flag.Parse()

	// A missing .env is fine.
	_ = godotenv.Load()

	cfg, err := akg.LoadConfig(*configPath)
	if err != nil {
		slog.Error("loading config", "error", err)
		os.Exit(1)
	}
	if *logFormat != "" {
		cfg.Log.Format = *logFormat
	}
	logger, closer, err := akg.NewLogger(cfg.Log)
	if err != nil {
		slog.Error("configuring logger", "error", err)
		os.Exit(1)
	}
	defer closer.Close()
	slog.SetDefault(logger)

	apiKey := os.Getenv("AKG_API_KEY")
	corsOrigins := os.Getenv("AKG_CORS_ORIGINS")

	engine, err := akg.New(cfg, akg.WithLogger(logger))
	if err != nil {
		slog.Error("creating engine", "error", err)
		os.Exit(1)
	}
	defer engine.Close()

	srv := &http.Server{
		Addr:         *addr,
		Handler:      newServer(engine, apiKey, corsOrigins),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0, // ingest can be long
		IdleTimeout:  120 * time.Second,
	}

	// Graceful shutdown on SIGTERM/SIGINT.
	done := make(chan os.Signal, 1)
	signal.Notify(done, syscall.SIGINT, syscall.SIGTERM)

	errc := make(chan error, 1)
	go func() {
		slog.Info("server starting", "addr", *addr, "backend", cfg.Backend, "db", cfg.DatabasePath())
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errc <- err
		}
	}()

	select {
	case <-done:
	case err := <-errc:
		slog.Error("server error", "error", err)
	}
	slog.Info("shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("server shutdown error", "error", err)
	}

	slog.Info("server stopped")
}

// newServer builds the routes and the middleware chain:
// recovery -> cors -> auth -> logging -> mux.
func newServer(engine akg.Engine, apiKey, corsOrigins string) http.Handler {
	h := newHandler(engine)
	mux := http.NewServeMux()

	mux.HandleFunc("POST /ingest", h.handleIngest)
	mux.HandleFunc("POST /sweep", h.handleSweep)
	mux.HandleFunc("POST /merge", h.handleMerge)
	mux.HandleFunc("GET /types", h.handleTypes)
	mux.HandleFunc("GET /stats", h.handleStats)
	mux.HandleFunc("GET /documents", h.handleListDocuments)
	mux.HandleFunc("GET /health", h.handleHealth)
	mux.Handle("GET /metrics", h.metricsHandler())

	var handler http.Handler = mux
	handler = logMiddleware(handler)
	handler = authMiddleware(apiKey, handler)
	handler = corsMiddleware(corsOrigins, handler)
	handler = recoveryMiddleware(handler)
	return handler
}
