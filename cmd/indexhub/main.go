package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/slipstream/indexhub/internal/api"
	"github.com/slipstream/indexhub/internal/config"
	"github.com/slipstream/indexhub/internal/database"
	"github.com/slipstream/indexhub/internal/indexer"
	"github.com/slipstream/indexhub/internal/logger"
	"github.com/slipstream/indexhub/internal/websocket"
)

func main() {
	configPath := pflag.StringP("config", "c", "", "Path to config file")
	envFiles := pflag.StringSlice("env", nil, "Additional .env files to load")
	showVersion := pflag.BoolP("version", "v", false, "Print the version and exit")
	pflag.Parse()

	if *showVersion {
		fmt.Println(api.Version)
		return
	}

	if err := run(*configPath, *envFiles); err != nil {
		fmt.Fprintln(os.Stderr, "indexhub:", err)
		os.Exit(1)
	}
}

func run(configPath string, envFiles []string) error {
	cfg, err := config.Load(configPath, envFiles...)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	recorder := logger.NewRecorder(1000)
	log := logger.New(cfg.Logging, recorder)
	defer log.Close()

	log.Info().
		Str("version", api.Version).
		Str("logLevel", cfg.Logging.Level).
		Msg("starting IndexHub")

	db, err := database.New(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	applied, err := db.Migrate(context.Background())
	if err != nil {
		return err
	}
	if version, err := db.SchemaVersion(context.Background()); err == nil {
		log.Info().Int("applied", applied).Int64("schemaVersion", version).Msg("database ready")
	}

	if cfg.Links.Secret == "" {
		secretPath := filepath.Join(filepath.Dir(cfg.Database.Path), secretFileName)
		secret, created, err := loadOrCreateSecret(secretPath)
		if err != nil {
			return err
		}
		if created {
			log.Warn().Str("path", secretPath).Msg("No link secret configured, generated one")
		}
		cfg.Links.Secret = secret
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	hub := websocket.NewHub(log.Logger)
	go hub.Run(ctx)

	server, err := api.NewServer(db.Conn(), hub, cfg, recorder, log.Logger)
	if err != nil {
		return err
	}

	if err := server.RestoreHealth(ctx); err != nil {
		log.Warn().Err(err).Msg("Starting with fresh indexer health")
	}

	defs, err := indexer.LoadDefinitions(cfg.Backends.File)
	switch {
	case errors.Is(err, os.ErrNotExist):
		log.Warn().Str("file", cfg.Backends.File).Msg("No indexers file, starting without indexers")
	case err != nil:
		return err
	default:
		secrets := indexer.KeyringResolver{DefaultService: cfg.Backends.KeyringService}
		if err := server.LoadBackends(defs, secrets); err != nil {
			return err
		}
	}

	errCh := make(chan error, 1)
	go func() {
		addr := cfg.Server.Address()
		log.Info().Str("address", addr).Msg("HTTP server listening")
		if err := server.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		log.Info().Msg("received shutdown signal")
	case err := <-errCh:
		log.Error().Err(err).Msg("HTTP server failed")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server shutdown error")
	}

	log.Info().Msg("server stopped")
	return nil
}
