package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/swiftdrop/accountgate/internal/config"
)

// withApp loads the configuration, wires the components with a logger on
// the command's stderr and runs fn. Client commands log at warn unless the
// configured level is stricter or dev mode asks for debug.
func withApp(cmd *cobra.Command, fn func(ctx context.Context, a *app) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	level := parseLogLevel(cfg.Server.LogLevel)
	if level < slog.LevelWarn {
		level = slog.LevelWarn
	}
	if cfg.DevMode {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level}))

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	a, err := buildApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(ctx, a)
}

// printJSON writes v as indented JSON.
func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// cacheNote warns that the memory cache does not outlive the command.
func cacheNote(cmd *cobra.Command, cfg *config.Config) {
	if cfg.Cache.Backend == config.BackendMemory {
		fmt.Fprintln(cmd.ErrOrStderr(), "note: cache.backend is memory, state is not kept after this command")
	}
}
