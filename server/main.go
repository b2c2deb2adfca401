// Command voicebridge runs the WebSocket-to-WebSocket audio bridge between a
// browser client and an upstream Ultravox agent call.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/flowvox/voicebridge/pkg/bridge"
	"github.com/flowvox/voicebridge/pkg/metrics"
	"github.com/flowvox/voicebridge/pkg/ultravox"
)

const (
	defaultPort        = "8766"
	defaultHost        = "0.0.0.0"
	statsReportPeriod  = 30 * time.Second
	shutdownGracePeriod = 5 * time.Second
)

// app holds the process-wide dependencies handlers close over.
type app struct {
	registry       *bridge.Registry
	metrics        *metrics.Bridge
	ultravoxConfig ultravox.Config
}

func main() {
	_ = godotenv.Load()

	if err := run(); err != nil {
		slog.Error("voicebridge exited", "error", err)
		os.Exit(1)
	}
}

func run() error {
	apiKey := os.Getenv("API_KEY")
	if apiKey == "" {
		return bridge.Wrap(bridge.KindConfigMissing, errors.New("API_KEY is required"))
	}

	host := envOr("HOST", defaultHost)
	port := envOr("PORT", defaultPort)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownMetrics, err := metrics.InitProvider(ctx, "voicebridge")
	if err != nil {
		return err
	}
	defer shutdownMetrics(context.Background())

	bridgeMetrics, err := metrics.NewBridge()
	if err != nil {
		return err
	}

	a := &app{
		registry: bridge.NewRegistry(),
		metrics:  bridgeMetrics,
		ultravoxConfig: ultravox.Config{
			APIKey: apiKey,
			Model:  envOr("ULTRAVOX_MODEL", ""),
			Voice:  envOr("ULTRAVOX_VOICE", ""),
		},
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", a.handleVoiceSocket)
	mux.HandleFunc("/health", a.handleHealth)

	srv := &http.Server{
		Addr:    host + ":" + port,
		Handler: mux,
	}

	go a.reportStatsLoop(ctx)

	errCh := make(chan error, 1)
	go func() {
		slog.Info("voicebridge listening", "addr", srv.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		slog.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGracePeriod)
	defer cancel()

	a.registry.CloseAll("server shutdown")

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return nil
}

// handleHealth reports liveness and the current active session count.
func (a *app) handleHealth(w http.ResponseWriter, r *http.Request) {
	stats := a.registry.Snapshot()
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok","activeSessions":` + strconv.Itoa(stats.ActiveSessions) + `}`))
}

// reportStatsLoop logs aggregate relay stats on a fixed cadence while any
// session is active, matching the registry's own snapshot semantics.
func (a *app) reportStatsLoop(ctx context.Context) {
	ticker := time.NewTicker(statsReportPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if a.registry.IsEmpty() {
				continue
			}
			stats := a.registry.Snapshot()
			slog.Info("relay stats",
				"uptime", a.registry.Age().Round(time.Second),
				"active_sessions", stats.ActiveSessions,
				"total_created", stats.TotalCreated,
				"bytes_from_client", stats.BytesFromClient,
				"bytes_to_client", stats.BytesToClient,
				"conversions", stats.Conversions,
			)
		}
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
