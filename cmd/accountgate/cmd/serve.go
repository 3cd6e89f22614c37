package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/spf13/cobra"

	apihttp "github.com/swiftdrop/accountgate/internal/adapter/inbound/http"
	"github.com/swiftdrop/accountgate/internal/config"
	"github.com/swiftdrop/accountgate/internal/telemetry"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the local HTTP API",
	Long: `Run the accountgate HTTP API for the web surface.

The server restores the persisted session, refreshes it in the background and
answers navigation decisions without blocking on the network.

Examples:
  # Start with config file settings
  accountgate serve

  # Start with a local identity provider and seeded grants
  accountgate --dev serve`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	// stop() restores default signal handling so a second Ctrl+C kills hard.
	ctx, stop := signal.NotifyContext(context.Background(), shutdownSignals()...)
	go func() {
		<-ctx.Done()
		stop()
	}()

	logger := newLogger(cfg)
	if configFile := config.ConfigFileUsed(); configFile != "" {
		logger.Info("loaded config", "file", configFile)
	}

	if pidPath := cfg.Server.PIDFile; pidPath != "" {
		if err := writePIDFile(pidPath); err != nil {
			logger.Warn("failed to write PID file", "path", pidPath, "error", err)
		} else {
			defer os.Remove(pidPath)
		}
	}

	if err := serve(ctx, cfg, logger); err != nil {
		return err
	}
	logger.Info("accountgate stopped")
	return nil
}

// serve wires the components and blocks until ctx is cancelled.
func serve(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	w, closeWriter, err := telemetryWriter(cfg.Telemetry.Output)
	if err != nil {
		return err
	}
	defer closeWriter()
	shutdownTelemetry, err := telemetry.Init(ctx, telemetry.Config{
		Enabled:        cfg.Telemetry.Enabled,
		ServiceName:    cfg.Telemetry.ServiceName,
		ServiceVersion: Version,
		Writer:         w,
		MetricInterval: config.Duration(cfg.Telemetry.MetricInterval, time.Minute),
	}, logger)
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(shutdownCtx); err != nil {
			logger.Warn("telemetry shutdown failed", "error", err)
		}
	}()

	a, err := buildApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	a.refresher.Start(ctx)
	defer a.refresher.Stop()
	// A restored session is stale until the provider confirms it.
	if a.store.Snapshot().HasCredential {
		a.refresher.Trigger()
	}

	opts := []apihttp.Option{
		apihttp.WithAddr(cfg.Server.HTTPAddr),
		apihttp.WithAllowedOrigins(cfg.Server.AllowedOrigins),
		apihttp.WithLogger(logger),
		apihttp.WithMetrics(a.metrics, a.registry),
		apihttp.WithHealthChecker(a.health),
		apihttp.WithSignInLimit(cfg.Server.SignInMaxFailures, config.Duration(cfg.Server.SignInWindow, 5*time.Minute)),
	}
	if cfg.Server.TLSCertFile != "" {
		opts = append(opts, apihttp.WithTLS(cfg.Server.TLSCertFile, cfg.Server.TLSKeyFile))
	}
	server := apihttp.NewServer(a.account, opts...)

	mode := "production"
	if cfg.DevMode {
		mode = "development"
	}
	logger.Info("accountgate listening",
		"addr", cfg.Server.HTTPAddr,
		"mode", mode,
		"identity", cfg.Identity.Mode,
		"grants", cfg.Grants.Backend,
		"cache", cfg.Cache.Backend,
	)
	return server.Start(ctx)
}

// newLogger builds the stderr logger. Dev mode always logs at debug.
func newLogger(cfg *config.Config) *slog.Logger {
	level := parseLogLevel(cfg.Server.LogLevel)
	if cfg.DevMode {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// parseLogLevel converts a string log level to slog.Level.
// Returns slog.LevelInfo for unrecognized values.
func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
