package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"failedjobs/internal/bootstrap"
	"failedjobs/internal/config"
	cronpkg "failedjobs/internal/cron"
	"failedjobs/internal/dispatcher"
	"failedjobs/internal/executor"
	"failedjobs/internal/registry"
	"failedjobs/internal/repository"
	"failedjobs/internal/router"
	"failedjobs/internal/spool"
)

func main() {
	// --- Logger ---
	logger, err := zap.NewProduction()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "process-spool":
			runProcessSpool(logger, os.Args[2:])
			return
		case "migrate":
			runMigrate(logger)
			return
		}
	}

	runServer(logger)
}

// runProcessSpool is the one-shot operational entry point: drain up to
// --limit due actions, optionally for a single --project, then exit. Exit
// code is non-zero only when the spool itself cannot be read; per-action
// failures are recorded on their spool rows.
func runProcessSpool(logger *zap.Logger, args []string) {
	fs := flag.NewFlagSet("process-spool", flag.ExitOnError)
	project := fs.String("project", "", "Process only actions for a specific project key")
	limit := fs.Int("limit", 10, "Maximum number of actions to process in this run")
	if err := fs.Parse(args); err != nil {
		os.Exit(2)
	}

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("Failed to load config", zap.Error(err))
	}

	db, err := config.NewDatabase(&cfg.Database)
	if err != nil {
		logger.Fatal("Failed to connect to database", zap.Error(err))
	}

	reg := registry.New(cfg, logger)
	actions := repository.NewActionRepository(db, cfg.Spool.Table)
	processor := spool.New(actions, executor.NewFactory(reg, logger), logger,
		spool.WithOutput(os.Stdout),
		spool.WithExecTimeout(cfg.Spool.ExecTimeout),
	)

	summary, err := processor.RunBatch(context.Background(), *project, *limit)
	if err != nil {
		logger.Fatal("Spool run failed", zap.Error(err))
	}
	if summary.Selected > 0 {
		fmt.Printf("Processed %d action(s): %d completed, %d failed, %d skipped.\n",
			summary.Selected, summary.Completed, summary.Failed, summary.Skipped)
	}
}

func runMigrate(logger *zap.Logger) {
	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("Failed to load config", zap.Error(err))
	}
	db, err := config.NewDatabase(&cfg.Database)
	if err != nil {
		logger.Fatal("Failed to connect to database", zap.Error(err))
	}
	if err := bootstrap.Migrate(db, cfg.Spool.Table); err != nil {
		logger.Fatal("Migration failed", zap.Error(err))
	}
	logger.Info("Spool schema migration completed")
}

func runServer(logger *zap.Logger) {
	// --- Config ---
	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("Failed to load config", zap.Error(err))
	}

	// --- Database ---
	db, err := config.NewDatabase(&cfg.Database)
	if err != nil {
		logger.Fatal("Failed to connect to database", zap.Error(err))
	}
	if err := bootstrap.Migrate(db, cfg.Spool.Table); err != nil {
		logger.Fatal("Failed to bootstrap spool schema", zap.Error(err))
	}

	// --- Core components ---
	reg := registry.New(cfg, logger)
	actions := repository.NewActionRepository(db, cfg.Spool.Table)
	d := dispatcher.New(reg, actions, logger)
	processor := spool.New(actions, executor.NewFactory(reg, logger), logger,
		spool.WithExecTimeout(cfg.Spool.ExecTimeout),
	)

	// --- Echo ---
	e := echo.New()
	e.HideBanner = true
	router.Setup(e, reg, d, actions, logger, cfg.API.Key)

	// --- Cron Scheduler ---
	scheduler := cronpkg.New(cfg, processor, reg, logger)
	scheduler.Start()

	// --- Start Server ---
	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	go func() {
		logger.Info("Starting failed jobs admin server", zap.String("addr", addr))
		if err := e.Start(addr); err != nil {
			logger.Info("Server stopped", zap.Error(err))
		}
	}()

	// --- Graceful Shutdown ---
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down...")

	// Stop cron, letting a running spool batch finish
	ctx := scheduler.Stop()
	<-ctx.Done()

	// Stop HTTP server
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
	}

	logger.Info("Server exited")
}
