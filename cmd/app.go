package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/afero"

	"github.com/kebairia/mybak/internal/config"
	"github.com/kebairia/mybak/internal/database"
	"github.com/kebairia/mybak/internal/logger"
	"github.com/kebairia/mybak/internal/operations"
	"github.com/kebairia/mybak/internal/shell"
	"github.com/kebairia/mybak/internal/storage"
	"github.com/kebairia/mybak/internal/vault"
)

// loadConfig reads and validates the configuration and builds the logger.
func loadConfig() (config.Config, logger.Logger, error) {
	var cfg config.Config
	if err := cfg.Load(ConfigFile); err != nil {
		return cfg, nil, err
	}
	if LogLevel != "" {
		cfg.Log.Level = LogLevel
	}
	if err := cfg.Validate(); err != nil {
		return cfg, nil, err
	}

	log, err := logger.New(logger.Options{
		Level:      cfg.Log.Level,
		Format:     cfg.Log.Format,
		File:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
	})
	if err != nil {
		return cfg, nil, fmt.Errorf("%w: %v", config.ErrValidateConfig, err)
	}
	return cfg, log, nil
}

// newOrchestrator resolves secrets and wires the production dependencies
// for one run.
func newOrchestrator(ctx context.Context, cfg config.Config, opts operations.RunOptions, log logger.Logger) (*operations.Orchestrator, error) {
	rc, err := operations.NewRunConfig(cfg, opts, time.Now())
	if err != nil {
		return nil, err
	}

	vctx, cancel := context.WithTimeout(ctx, cfg.Timeouts.Network)
	defer cancel()
	vc, err := vault.FromConfig(vctx, cfg.Vault)
	if err != nil {
		return nil, err
	}
	var creds database.CredentialSource
	if vc != nil {
		if err := vc.ApplyStorageSecrets(vctx, &cfg.Storage); err != nil {
			return nil, fmt.Errorf("resolve storage secrets: %w", err)
		}
		if vc.HasMySQLPath() {
			creds = vc
		}
	}

	runner := shell.ExecRunner{}
	mysql, conn, err := database.Initialize(vctx, cfg, creds, runner, log)
	if err != nil {
		return nil, err
	}

	var store storage.Provider
	if rc.UseDump || rc.UseBinlog {
		store, err = storage.New(ctx, cfg.Storage, runner, log)
		if err != nil {
			return nil, err
		}
	}

	return operations.NewOrchestrator(rc, operations.Deps{
		Fs: afero.NewOsFs(),
		OpenCatalog: func(ctx context.Context) (operations.Catalog, error) {
			c, err := database.OpenCatalog(ctx, conn)
			if err != nil {
				return nil, err
			}
			return c, nil
		},
		Dumper:  mysql,
		Fetcher: mysql,
		Storage: store,
		Log:     log,
	})
}

// runOnce executes a single pipeline run.
func runOnce(ctx context.Context, cfg config.Config, opts operations.RunOptions, log logger.Logger) (*operations.Report, error) {
	o, err := newOrchestrator(ctx, cfg, opts, log)
	if err != nil {
		return nil, err
	}
	return o.Run(ctx)
}
