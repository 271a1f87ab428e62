package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/mantonx/viewra-artwork/internal/config"
	"github.com/mantonx/viewra-artwork/internal/database"
	"github.com/mantonx/viewra-artwork/internal/logger"
	"github.com/mantonx/viewra-artwork/internal/modules/modulemanager"
	"github.com/mantonx/viewra-artwork/internal/server"

	_ "github.com/mantonx/viewra-artwork/internal/modules/artworkmodule"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "artworkd: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.String("config", os.Getenv("VIEWRA_CONFIG_PATH"), "path to a YAML or JSON config file")
	flag.Parse()

	if *configPath == "" {
		// Try default paths
		for _, candidate := range []string{"/app/viewra-data/viewra-artwork.yaml", "./viewra-artwork.yaml"} {
			if _, err := os.Stat(candidate); err == nil {
				*configPath = candidate
				break
			}
		}
	}

	if err := config.Load(*configPath); err != nil {
		return err
	}
	cfg := config.Get()

	log := logger.New("artworkd", cfg.Logging)
	logger.SetDefault(log)
	modulemanager.Registry.SetLogger(log)
	if *configPath != "" {
		log.Info("configuration loaded", "path", *configPath)
	}

	db, err := database.Open(cfg.Database, log)
	if err != nil {
		return err
	}
	defer database.Close(db)

	if err := modulemanager.LoadAll(db); err != nil {
		return err
	}

	if !log.IsDebug() {
		gin.SetMode(gin.ReleaseMode)
	}
	srv := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      server.SetupRouter(modulemanager.Registry, log),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	serveErr := make(chan error, 1)
	go func() {
		log.Info("starting artwork server", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("failed to start server: %w", err)
		}
	case <-ctx.Done():
		log.Info("shutting down gracefully")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("HTTP server shutdown error", "error", err)
	}
	if err := modulemanager.Shutdown(shutdownCtx); err != nil {
		log.Error("module shutdown error", "error", err)
	}

	log.Info("server shutdown complete")
	return nil
}
