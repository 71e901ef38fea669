package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofrs/flock"
	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"github.com/cuongbtq/dubbing-be/internal/bootstrap"
	"github.com/cuongbtq/dubbing-be/internal/config"
	"github.com/cuongbtq/dubbing-be/internal/watchdog"
	"github.com/cuongbtq/dubbing-be/internal/worker"
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables or flags")
	}

	defaultConfigPath := os.Getenv("WORKER_SERVICE_CONFIG_PATH")
	if defaultConfigPath == "" {
		defaultConfigPath = "configs/worker-service/config.yaml"
	}
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.ValidateWorkerConfig(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	appLogger, err := bootstrap.InitLogger(&cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer appLogger.Close()

	appLogger.Info("Starting worker service",
		slog.String("app", cfg.App.Name),
		slog.String("version", cfg.App.Version),
		slog.String("environment", cfg.App.Environment),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app, err := bootstrap.Build(ctx, cfg, appLogger.Logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := app.Close(); err != nil {
			appLogger.Error("Failed to release resources", slog.Any("error", err))
		}
	}()

	if err := app.Store.Migrate(ctx); err != nil {
		return fmt.Errorf("failed to migrate database: %w", err)
	}

	w := worker.NewWorker(&worker.Config{
		Logger:         appLogger.Logger,
		Source:         app.Rabbit,
		Advancer:       app.Orchestrator,
		WorkerID:       cfg.Worker.ID,
		Concurrency:    cfg.Worker.Concurrency,
		AdvanceTimeout: cfg.Worker.AdvanceTimeout,
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return w.Start(gctx)
	})
	g.Go(func() error {
		select {
		case <-gctx.Done():
			return nil
		case amqpErr, ok := <-app.Rabbit.NotifyClose():
			if !ok {
				return nil
			}
			return fmt.Errorf("rabbitmq connection closed: %w", amqpErr)
		}
	})

	if cfg.Watchdog.Enabled {
		unlock, acquired, err := lockWatchdog(cfg.Watchdog.LockFile)
		if err != nil {
			return err
		}
		if acquired {
			defer unlock()
			wd := watchdog.New(app.Store, watchdog.Config{
				Interval:     cfg.Watchdog.Interval,
				StuckAfter:   cfg.Watchdog.StuckAfter,
				RequeueAfter: cfg.Watchdog.RequeueAfter,
				BatchSize:    cfg.Watchdog.BatchSize,
			}, appLogger.Logger)
			g.Go(func() error {
				return wd.Run(gctx)
			})
		} else {
			appLogger.Info("Watchdog lock held by another process, sweeping disabled here",
				slog.String("lock_file", cfg.Watchdog.LockFile),
			)
		}
	}

	appLogger.Info("Worker service started successfully",
		slog.String("worker_id", w.ID()),
		slog.Int("concurrency", cfg.Worker.Concurrency),
	)

	<-gctx.Done()
	appLogger.Info("Shutting down worker service")

	done := make(chan error, 1)
	go func() { done <- g.Wait() }()

	select {
	case err := <-done:
		if err != nil {
			appLogger.Error("Worker error", slog.Any("error", err))
			return err
		}
		appLogger.Info("Worker stopped gracefully")
	case <-time.After(cfg.Worker.ShutdownTimeout):
		appLogger.Warn("Worker shutdown timeout exceeded, forcing exit")
	}

	appLogger.Info("Worker service shutdown complete")
	return nil
}

// lockWatchdog takes an exclusive file lock so one process per host sweeps.
// An empty path always acquires.
func lockWatchdog(path string) (func(), bool, error) {
	if path == "" {
		return func() {}, true, nil
	}
	lock := flock.New(path)
	ok, err := lock.TryLock()
	if err != nil {
		return nil, false, fmt.Errorf("failed to lock %s: %w", path, err)
	}
	if !ok {
		return nil, false, nil
	}
	return func() { _ = lock.Unlock() }, true, nil
}
