// streamtest connects to a fleet dashboard server and prints every inbound
// envelope to the console.
// Usage: go run ./cmd/streamtest --config configs/fleetlink.local.yaml
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/greenroute/fleetlink/internal/api"
	"github.com/greenroute/fleetlink/internal/app"
	"github.com/greenroute/fleetlink/internal/config"
	"github.com/greenroute/fleetlink/internal/dispatch"
	"github.com/greenroute/fleetlink/internal/model"
	"github.com/greenroute/fleetlink/internal/realtime"
	"github.com/greenroute/fleetlink/internal/version"
)

func main() {
	configPath := flag.String("config", "configs/fleetlink.example.yaml", "path to config file")
	verbose := flag.Bool("verbose", false, "print full message JSON")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))

	cfg, err := config.LoadWithDefaults(*configPath)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("received shutdown signal")
		cancel()
	}()

	apiClient := api.NewClient(cfg.Server.BaseURL, cfg.Server.AuthToken,
		api.WithLogger(logger),
		api.WithUserAgent(version.UserAgent()),
	)

	mgr, err := realtime.New(app.RealtimeConfig(cfg), realtime.Deps{
		HTTP:   apiClient,
		Logger: logger,
	})
	if err != nil {
		logger.Error("failed to create realtime manager", "error", err)
		os.Exit(1)
	}

	mgr.On(dispatch.Wildcard, func(env model.Envelope) { printEnvelope(env, *verbose) })

	logger.Info("connecting", "server_url", cfg.Server.BaseURL)
	if err := mgr.Start(ctx); err != nil {
		logger.Error("failed to start realtime manager", "error", err)
		os.Exit(1)
	}

	// Stats printer
	go func() {
		ticker := time.NewTicker(10 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				st := mgr.Status()
				ds := mgr.Dispatcher().Stats()
				cs := mgr.Cache().Stats()
				logger.Info("stats",
					"mode", st.Mode,
					"reconnect_attempts", st.ReconnectAttempts,
					"queued", st.QueuedMessages,
					"received", ds.MessagesReceived,
					"routed", ds.MessagesRouted,
					"parse_errors", ds.ParseErrors,
					"unknown", ds.UnknownMessages,
					"bins", cs.Bins,
					"routes", cs.Routes,
					"drivers", cs.Drivers,
				)
			}
		}
	}()

	logger.Info("streaming started - press Ctrl+C to stop")

	<-ctx.Done()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	logger.Info("shutting down...")
	if err := mgr.Stop(shutdownCtx); err != nil {
		logger.Warn("shutdown incomplete", "error", err)
	}

	logger.Info("shutdown complete")
}

func printEnvelope(env model.Envelope, verbose bool) {
	tag := fmt.Sprintf("[%s]", env.Type)
	if verbose {
		fmt.Printf("%s %s\n", tag, env.Data)
		return
	}
	fmt.Printf("%s id=%s bytes=%d\n", tag, env.ID, len(env.Data))
}
