package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/Beaconwise-Labs/tek/pkg/api"
	"github.com/Beaconwise-Labs/tek/pkg/config"
	"github.com/Beaconwise-Labs/tek/pkg/kernel"
	"github.com/Beaconwise-Labs/tek/pkg/observability"
)

// runServe starts the API server and blocks until SIGINT/SIGTERM.
func runServe(stdout, stderr io.Writer) int {
	settings := config.Load()
	log := newLogger(stderr, settings.LogLevel)
	slog.SetDefault(log)

	fmt.Fprintf(stdout, "%s%s %s starting...%s\n", ColorBold+ColorBlue, kernel.ProductName, kernel.KernelVersion, ColorReset)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	obsCfg := observability.DefaultConfig()
	obsCfg.OTLPEndpoint = os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")
	obsCfg.Enabled = obsCfg.OTLPEndpoint != ""
	obsCfg.Insecure = os.Getenv("OTEL_EXPORTER_OTLP_INSECURE") == "1"
	provider, err := observability.New(ctx, obsCfg)
	if err != nil {
		log.Error("observability init failed, continuing without telemetry", "error", err)
		provider, _ = observability.New(ctx, &observability.Config{Enabled: false})
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := provider.Shutdown(shutdownCtx); err != nil {
			log.Warn("observability shutdown", "error", err)
		}
	}()

	if settings.APITokenSecret == "" {
		log.Warn("TEK_API_TOKEN_SECRET not set; mutating endpoints will reject all requests")
	}

	srv := api.NewServer(settings, api.WithServerLogger(log))
	httpSrv := &http.Server{
		Addr:              ":" + settings.Port,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("server listening", "addr", httpSrv.Addr, "mode", string(settings.KernelMode))
		errCh <- httpSrv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		log.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server failed", "error", err)
			return 1
		}
		return 0
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		log.Error("graceful shutdown failed", "error", err)
		return 1
	}
	log.Info("server stopped")
	return 0
}

func newLogger(w io.Writer, level string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToUpper(level) {
	case "DEBUG":
		lvl = slog.LevelDebug
	case "WARN", "WARNING":
		lvl = slog.LevelWarn
	case "ERROR":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: lvl}))
}
