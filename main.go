package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"detect-web/common/config"
	"detect-web/common/log"
	"detect-web/common/store"
	"detect-web/service"
)

const shutdownTimeout = 10 * time.Second

func main() {
	// Load configuration
	cfg, err := config.LoadConfig(config.ConfigFile)
	if err != nil {
		log.Warn(fmt.Sprintf("failed to load config, using defaults: %v", err))
		cfg = config.DefaultConfig()
		cfg.EnvRejected = cfg.ApplyEnv(os.LookupEnv)
	}

	log.Setup(log.Options{Format: cfg.LogFormat, Debug: cfg.DebugMode, File: cfg.LogFile})
	defer log.Close()

	if len(cfg.EnvRejected) > 0 {
		log.Warn(fmt.Sprintf("ignored invalid environment overrides: %s", strings.Join(cfg.EnvRejected, ", ")))
	}
	if cfg.DebugMode {
		log.Info("🐛 DEBUG MODE ENABLED")
	}

	if err := run(cfg); err != nil {
		log.Error(fmt.Sprintf("detect-web stopped with error: %v", err))
		log.Close()
		os.Exit(1)
	}
	log.Info("detect-web stopped")
}

func run(cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sessions := store.NewRegistry(cfg.SessionTTL.Std(), nil)
	client := service.NewDetectionClient(cfg.BackendURL, cfg.BackendTimeout.Std(), cfg.FrameTimeout.Std())
	webServer := service.NewWebServer(cfg, client, sessions)

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.WebPort),
		Handler:           webServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Info(fmt.Sprintf("starting web server on port %d", cfg.WebPort))
		log.Info(fmt.Sprintf("access web interface at: http://localhost:%d", cfg.WebPort))
		log.Info(fmt.Sprintf("detection backend: %s", client.BaseURL()))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return errors.Wrap(err, "web server error")
		}
		return nil
	})

	g.Go(func() error {
		return sessions.RunJanitor(ctx, cfg.SessionSweep.Std())
	})

	g.Go(func() error {
		<-ctx.Done()
		log.Info("received shutdown signal, stopping...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Warn(fmt.Sprintf("web server shutdown: %v", err))
		}
		if err := sessions.Close(); err != nil {
			log.Warn(fmt.Sprintf("failed to clean up sessions: %v", err))
		}
		return nil
	})

	return g.Wait()
}
