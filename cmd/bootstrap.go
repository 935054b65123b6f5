package main

import (
	"context"
	"fmt"

	"github.com/mstgnz/payflow/infra/config"
	"github.com/mstgnz/payflow/infra/conn"
	"github.com/mstgnz/payflow/infra/logger"
	"github.com/mstgnz/payflow/infra/opensearch"
	"github.com/mstgnz/payflow/infra/storage"
)

// env is what every command needs: configuration, logging and storage
type env struct {
	cfg   *config.AppConfig
	log   *logger.SystemLogger
	store *storage.Store
	// audit is nil unless OpenSearch indexing is enabled
	audit *opensearch.Logger
}

func bootstrap(ctx context.Context) (*env, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	loggerCfg := logger.SystemLoggerConfig{
		EnableConsole: true,
		MinLevel:      logger.ParseLevel(cfg.LogLevel),
		Service:       "payflow",
		Version:       Version,
		Environment:   cfg.Environment,
	}
	console := logger.NewSystemLogger(nil, loggerCfg)

	e := &env{cfg: cfg, log: console}
	if cfg.OpenSearch.Enabled {
		client, err := opensearch.NewClient(opensearch.Config{
			URL:         cfg.OpenSearch.URL,
			Username:    cfg.OpenSearch.User,
			Password:    cfg.OpenSearch.Password,
			Insecure:    cfg.OpenSearch.Insecure,
			IndexPrefix: cfg.OpenSearch.IndexPrefix,
			Enabled:     true,
		}, console)
		if err != nil {
			console.Warn("Continuing without OpenSearch indexing", logger.LogContext{
				Fields: map[string]any{"error": err.Error()},
			})
		} else {
			e.audit = opensearch.NewLogger(client, console)
			loggerCfg.EnableOpenSearch = true
			e.log = logger.NewSystemLogger(e.audit, loggerCfg)
		}
	}
	logger.SetGlobal(e.log)

	e.store, err = storage.Open(ctx, conn.Options{Driver: cfg.DBDriver, DSN: cfg.DBDSN}, e.log)
	if err != nil {
		return nil, fmt.Errorf("failed to open storage: %w", err)
	}
	return e, nil
}

func (e *env) close() {
	if err := e.store.Close(); err != nil {
		e.log.Warn("Failed to close storage", logger.LogContext{Fields: map[string]any{"error": err.Error()}})
	}
	_ = e.log.Sync()
}
