// Copyright 2024 AI SA Assistant Project
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package main provides the infrastructure advisor web service: a four-step
// wizard that collects an environment, technologies and a scenario, and a
// chat panel that shows the model's answer and takes follow-up questions.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/your-org/infra-advisor/internal/advisor"
	"github.com/your-org/infra-advisor/internal/audit"
	"github.com/your-org/infra-advisor/internal/config"
	"github.com/your-org/infra-advisor/internal/health"
	"github.com/your-org/infra-advisor/internal/metrics"
	"github.com/your-org/infra-advisor/internal/openai"
	"github.com/your-org/infra-advisor/internal/session"
)

const (
	Version   = "0.1.0"
	BuildTime = "dev"
	appName   = "infra-advisor"

	// ShutdownTimeout bounds the graceful shutdown
	ShutdownTimeout = 30 * time.Second
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var (
		configPath string
		port       int
		logLevel   string
	)

	cmd := &cobra.Command{
		Use:           appName,
		Short:         "Infrastructure consulting assistant",
		Long:          "Serves a guided form that describes an infrastructure environment and a chat with a hosted model that answers the described scenario.",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			overrides := map[string]interface{}{}
			if cmd.Flags().Changed("port") {
				overrides["server.port"] = port
			}
			if cmd.Flags().Changed("log-level") {
				overrides["logging.level"] = logLevel
			}
			return run(cmd.Context(), configPath, overrides)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Config file path (YAML)")
	cmd.Flags().IntVarP(&port, "port", "p", 8080, "HTTP listen port")
	cmd.Flags().StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")

	cmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "%s version %s (build: %s)\n", appName, Version, BuildTime)
		},
	})

	return cmd
}

func run(ctx context.Context, configPath string, overrides map[string]interface{}) error {
	cfg, err := config.LoadWithOptions(config.LoadOptions{
		ConfigPath:       configPath,
		ValidateRequired: true,
		Overrides:        overrides,
	})
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	logger, level, err := newLogger(cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to build logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	masked := cfg.MaskSensitiveValues()
	logger.Info("Configuration loaded",
		zap.String("model", masked.OpenAI.Model),
		zap.String("api_key", masked.OpenAI.APIKey),
		zap.String("session_storage", masked.Session.StorageType),
		zap.Bool("audit_enabled", masked.Audit.Enabled))
	for _, warning := range cfg.Warnings() {
		logger.Warn(warning)
	}

	err = config.WatchConfig(configPath, logger, func(updated *config.Config) {
		if err := level.UnmarshalText([]byte(updated.Logging.Level)); err != nil {
			logger.Warn("Ignoring invalid log level", zap.String("level", updated.Logging.Level))
			return
		}
		logger.Info("Log level updated", zap.String("level", updated.Logging.Level))
	})
	if err != nil && !errors.Is(err, config.ErrNoConfigFile) {
		logger.Warn("Config hot reload disabled", zap.Error(err))
	}

	server, cleanup, err := buildServer(cfg, logger)
	if err != nil {
		return err
	}
	defer cleanup()

	gin.SetMode(gin.ReleaseMode)
	router, err := server.Router()
	if err != nil {
		return fmt.Errorf("failed to build router: %w", err)
	}

	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Starting web server",
			zap.Int("port", cfg.Server.Port),
			zap.String("version", Version))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("Shutting down web server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}
	return nil
}

// buildServer wires the service dependencies. The returned cleanup releases
// storage and audit resources.
func buildServer(cfg *config.Config, logger *zap.Logger) (*WebUIServer, func(), error) {
	client, err := openai.NewClient(openai.Config{
		APIKey:      cfg.OpenAI.APIKey,
		Endpoint:    cfg.OpenAI.Endpoint,
		Model:       cfg.OpenAI.Model,
		MaxTokens:   cfg.OpenAI.MaxTokens,
		Temperature: cfg.OpenAI.Temperature,
	}, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create model client: %w", err)
	}

	sessions, err := session.NewManager(session.Config{
		StorageType:     session.StorageType(cfg.Session.StorageType),
		RedisURL:        cfg.Session.RedisURL,
		KeyPrefix:       "infra-advisor:",
		DefaultTTL:      cfg.Session.DefaultTTL(),
		MaxSessions:     cfg.Session.MaxSessions,
		CleanupInterval: cfg.Session.CleanupInterval(),
	}, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize session manager: %w", err)
	}

	m := metrics.New()
	opts := []advisor.Option{
		advisor.WithMetrics(m),
		advisor.WithPendingTimeout(cfg.Session.PendingTimeout()),
	}

	var auditLog *audit.Logger
	if cfg.Audit.Enabled {
		auditLog, err = audit.NewLogger(audit.Config{
			StorageType: cfg.Audit.StorageType,
			FilePath:    cfg.Audit.FilePath,
			DBPath:      cfg.Audit.DBPath,
		}, logger)
		if err != nil {
			_ = sessions.Close()
			return nil, nil, fmt.Errorf("failed to initialize audit log: %w", err)
		}
		opts = append(opts, advisor.WithAudit(auditLog))
	}

	healthManager := health.NewManager(appName, Version, logger)
	healthManager.AddChecker("session_store", health.WithStats(
		health.StorageChecker(cfg.Session.StorageType, sessions.Ping), sessions.GetStats))
	healthManager.AddChecker("model", health.CredentialChecker(client.Model(), cfg.OpenAI.APIKey))

	server := NewWebUIServer(ServerOptions{
		Advisor:        advisor.NewService(sessions, client, logger, opts...),
		Health:         healthManager,
		Metrics:        m,
		Logger:         logger,
		AllowedOrigins: cfg.Server.AllowedOrigins,
		SessionTTL:     cfg.Session.DefaultTTL(),
	})

	cleanup := func() {
		if err := sessions.Close(); err != nil {
			logger.Error("Failed to close session manager", zap.Error(err))
		}
		if auditLog != nil {
			if err := auditLog.Close(); err != nil {
				logger.Error("Failed to close audit log", zap.Error(err))
			}
		}
	}
	return server, cleanup, nil
}

// newLogger builds the process logger; the returned level can be changed at runtime
func newLogger(cfg config.LoggingConfig) (*zap.Logger, zap.AtomicLevel, error) {
	level, err := zap.ParseAtomicLevel(cfg.Level)
	if err != nil {
		return nil, level, err
	}

	zc := zap.NewProductionConfig()
	if cfg.Format == "text" {
		zc.Encoding = "console"
		zc.EncoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
		zc.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}
	zc.Level = level

	logger, err := zc.Build()
	if err != nil {
		return nil, level, err
	}
	return logger, level, nil
}
