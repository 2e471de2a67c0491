// Command server runs the ARCS motivation profiling and group formation
// REST API.
//
// Configuration comes from the environment (and an optional .env file):
// DB_DRIVER selects postgres, sqlite or memory; REDIS_DISABLED=false turns
// on the analysis cache and the cross-node material lock.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/arcs-classroom/motivation-hub/config"
	"github.com/arcs-classroom/motivation-hub/internal/app"
	apihttp "github.com/arcs-classroom/motivation-hub/internal/interface/http"
	"github.com/arcs-classroom/motivation-hub/pkg/logger"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "fatal error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	// ─────────────────────────────────────────────────────────────────────────
	// 1. Configuration and logging
	// ─────────────────────────────────────────────────────────────────────────
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	log := app.NewLogger(cfg.Observability).With(logger.String("service", cfg.App.Name))
	log.Info("starting motivation hub",
		logger.String("env", string(cfg.App.Environment)),
		logger.String("version", cfg.App.Version),
		logger.String("driver", cfg.Database.Driver),
	)

	// ─────────────────────────────────────────────────────────────────────────
	// 2. Backends and handlers
	// ─────────────────────────────────────────────────────────────────────────
	application, err := app.New(ctx, cfg, log)
	if err != nil {
		return fmt.Errorf("failed to initialize application: %w", err)
	}
	defer application.Close()

	// ─────────────────────────────────────────────────────────────────────────
	// 3. HTTP server until SIGINT/SIGTERM, then a bounded drain
	// ─────────────────────────────────────────────────────────────────────────
	server := apihttp.NewServer(cfg.HTTP, application.HTTPDependencies())
	if err := server.Run(ctx, cfg.App.ShutdownTimeout); err != nil {
		log.Error("HTTP server stopped", logger.Err(err))
		return err
	}

	log.Info("shutdown completed")
	return nil
}
