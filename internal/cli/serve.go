package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/chem-gl/cadma-flow-api/internal/api"
	"github.com/chem-gl/cadma-flow-api/internal/chem"
	"github.com/chem-gl/cadma-flow-api/internal/config"
	"github.com/chem-gl/cadma-flow-api/internal/model"
	"github.com/chem-gl/cadma-flow-api/internal/store"
	"github.com/chem-gl/cadma-flow-api/internal/workflow"
)

// ServeOptions holds flags for the serve command.
type ServeOptions struct {
	*RootOptions
	ConfigDir string
}

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ServeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the workflow HTTP API",
		Long: `Start the HTTP API over a SQLite database.

Settings load from <config-dir>/<CADMAFLOW_ENV>.yaml with environment
variable overrides; a missing file falls back to defaults.

Examples:
  cadmaflow serve --config ./config
  CADMAFLOW_ADDR=:9090 cadmaflow serve --config ./config`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.ConfigDir, "config", "config", "directory holding per-environment YAML settings")

	return cmd
}

func runServe(opts *ServeOptions, cmd *cobra.Command) error {
	cfg, err := config.Load(opts.ConfigDir)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load config", err)
	}
	log := cfg.Logger()

	st, err := store.Open(cfg.Database.Path)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open database", err)
	}
	defer func() {
		if closeErr := st.Close(); closeErr != nil {
			log.Error("error closing database", "error", closeErr)
		}
	}()

	engine := workflow.New(st, chem.DefaultRegistry(), model.UUIDGenerator{}, nil, log)
	server := api.NewServer(engine, log)
	e := server.Echo()

	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, cancel := context.WithCancel(parentCtx)
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	go func() {
		select {
		case sig := <-sigChan:
			log.Info("received signal, shutting down", "signal", sig)
		case <-ctx.Done():
		}
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		if err := e.Shutdown(shutdownCtx); err != nil {
			log.Error("shutdown error", "error", err)
		}
	}()

	log.Info("serving", "addr", cfg.Server.Addr, "db", cfg.Database.Path, "env", cfg.Env)
	fmt.Fprintf(cmd.OutOrStdout(), "Serving on %s. Press Ctrl-C to stop.\n", cfg.Server.Addr)

	if err := e.Start(cfg.Server.Addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return WrapExitError(ExitFailure, "server error", err)
	}
	log.Info("server stopped")
	return nil
}
