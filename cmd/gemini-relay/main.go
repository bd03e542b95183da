package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"gemini-relay/internal/config"
	"gemini-relay/internal/httpserver"
	"gemini-relay/internal/relay"
)

const shutdownTimeout = 10 * time.Second

type options struct {
	configPath string
	listen     string
	logLevel   string
}

func main() {
	_ = godotenv.Load()

	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &options{}
	cmd := &cobra.Command{
		Use:           "gemini-relay",
		Short:         "Relay browser prompts to the Gemini API with a server-held key",
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, err := newLogger(opts.logLevel)
			if err != nil {
				return err
			}
			if err := runRelay(cmd.Context(), opts, logger); err != nil {
				logger.Error("command failed", "error", err)
				return err
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&opts.configPath, "config", "c", "", "path to yaml config file (defaults to environment)")
	cmd.Flags().StringVar(&opts.listen, "listen", "", "listen address, overrides config")
	cmd.Flags().StringVar(&opts.logLevel, "log-level", os.Getenv("LOG_LEVEL"), "debug, info, warn or error")
	return cmd
}

func newLogger(level string) (*slog.Logger, error) {
	var lvl slog.Level
	if strings.TrimSpace(level) != "" {
		if err := lvl.UnmarshalText([]byte(level)); err != nil {
			return nil, fmt.Errorf("parse log level: %w", err)
		}
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})), nil
}

func loadConfig(opts *options) (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if strings.TrimSpace(opts.configPath) != "" {
		cfg, err = config.Load(opts.configPath)
	} else {
		cfg, err = config.FromEnv()
	}
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	if listen := strings.TrimSpace(opts.listen); listen != "" {
		cfg.Listen = listen
	}
	return cfg, nil
}

func runRelay(ctx context.Context, opts *options, logger *slog.Logger) error {
	cfg, err := loadConfig(opts)
	if err != nil {
		return err
	}
	if !cfg.HasCredential() {
		logger.Warn("upstream credential is not configured; relay requests will fail", "env", config.EnvAPIKey)
	}

	service := relay.NewService(cfg, nil, logger)
	server := httpserver.New(cfg.Listen, logger, service)

	errCh := make(chan error, 1)
	go func() {
		logger.Info("relay starting", "listen", cfg.Listen, "model", cfg.Upstream.Model, "timeout", cfg.Upstream.Timeout.String())
		errCh <- server.ListenAndServe()
	}()

	sigCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	select {
	case <-sigCtx.Done():
		logger.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server exited unexpectedly: %w", err)
		}
		return nil
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}
	logger.Info("relay stopped")
	return nil
}
