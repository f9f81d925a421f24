// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

package gate

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/cors"

	"axonflow/sqlgate/audit"
	"axonflow/sqlgate/config"
	"axonflow/sqlgate/connectors/base"
	"axonflow/sqlgate/connectors/mysql"
	"axonflow/sqlgate/connectors/postgres"
	"axonflow/sqlgate/llm"
	"axonflow/sqlgate/shared/logger"
)

// Run is the composition root: it loads configuration, wires the policy
// engine, cache, connector, translator, and audit store into a Controller,
// and serves HTTP until interrupted. Every dependency is constructed here
// once and passed by reference; nothing is resolved at call time.
func Run() error {
	log := logger.New("sqlgate")

	cfg, err := config.Load(os.Getenv("SQLGATE_CONFIG"))
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	executor, err := buildExecutor(cfg)
	if err != nil {
		return err
	}
	connectCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	err = executor.Connect(connectCtx)
	cancel()
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer executor.Close()

	cache, err := buildCache(cfg, log)
	if err != nil {
		return err
	}

	recorder, err := buildRecorder(cfg)
	if err != nil {
		return err
	}
	defer recorder.Close()

	translator, err := llm.NewProvider(llm.Config{
		APIKey:  cfg.LLM.APIKey,
		BaseURL: cfg.LLM.Endpoint,
		Model:   cfg.LLM.Model,
	})
	if err != nil {
		return fmt.Errorf("failed to build translator: %w", err)
	}

	policy := NewPolicyEngine(PolicyConfig{
		ReadOnly:          cfg.Policy.ReadOnly,
		RiskThreshold:     cfg.Policy.RiskThreshold,
		SafeLimit:         cfg.Policy.SafeLimit,
		JoinThreshold:     cfg.Policy.JoinThreshold,
		HighCostThreshold: cfg.Policy.HighCostThreshold,
	})

	controller := NewController(policy, cache, executor, translator, recorder, log, ControllerConfig{
		PreviewLimit:   cfg.Policy.PreviewLimit,
		RequestTimeout: time.Duration(cfg.RequestTimeoutSeconds) * time.Second,
	})

	handler := cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type", "Authorization"},
	}).Handler(NewServer(controller, recorder, log).Router())

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("", "sqlgate listening", map[string]interface{}{
			"port":    cfg.Server.Port,
			"driver":  cfg.Database.Driver,
			"cache":   cfg.Cache.Backend,
			"audit":   cfg.Audit.Backend,
			"timeout": cfg.RequestTimeoutSeconds,
		})
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return fmt.Errorf("server failed: %w", err)
	case sig := <-stop:
		log.Info("", "shutting down", map[string]interface{}{"signal": sig.String()})
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func buildExecutor(cfg *config.Config) (base.Executor, error) {
	conn := base.Config{Name: "primary", Driver: cfg.Database.Driver, URL: cfg.Database.URL}
	switch cfg.Database.Driver {
	case "postgres":
		return postgres.New(conn), nil
	case "mysql":
		return mysql.New(conn), nil
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Database.Driver)
	}
}

func buildCache(cfg *config.Config, log *logger.Logger) (PlanCache, error) {
	ttl := time.Duration(cfg.Cache.TTLSeconds) * time.Second
	switch cfg.Cache.Backend {
	case "redis":
		return NewRedisCache(cfg.Redis.URL, ttl, log)
	default:
		cache := NewMemoryCache(ttl)
		cache.StartSweeper(5 * time.Minute)
		return cache, nil
	}
}

func buildRecorder(cfg *config.Config) (audit.Recorder, error) {
	switch cfg.Audit.Backend {
	case "postgres":
		url := cfg.Audit.URL
		if url == "" {
			url = cfg.Database.URL
		}
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return audit.OpenPostgresStore(ctx, url)
	default:
		return audit.NewFileStore(cfg.Audit.Path)
	}
}
