package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/dukerupert/chorechart/internal/backup"
	"github.com/dukerupert/chorechart/internal/docstore"
	"github.com/dukerupert/chorechart/internal/factory"
	"github.com/dukerupert/chorechart/internal/ledger"
	"github.com/dukerupert/chorechart/internal/settlement"
)

// app holds the stores of the configured tenant.
type app struct {
	factory *factory.Factory
	config  docstore.Store
	state   docstore.Store
	ledger  ledger.Repository
	settler *settlement.Settler
	backup  *backup.Manager
}

func openApp(ctx context.Context) (*app, error) {
	f := factory.New(cfg.Storage, logger)

	configStore, stateStore, err := f.CreateStateStore(ctx, cfg.Storage.Tenant)
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("create state store: %w", err)
	}

	var opts []ledger.Option
	if cfg.Ledger.ReconcileOnRead {
		opts = append(opts, ledger.WithReconcileOnRead())
	}
	repo, err := f.CreateAllowanceRepository(ctx, cfg.Storage.Tenant, opts...)
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("create allowance repository: %w", err)
	}

	backupCfg := backup.Config{
		S3: backup.S3Config{
			Endpoint:  cfg.Backup.S3.Endpoint,
			Bucket:    cfg.Backup.S3.Bucket,
			Region:    cfg.Backup.S3.Region,
			AccessKey: cfg.Backup.S3.AccessKey,
			SecretKey: cfg.Backup.S3.SecretKey,
		},
		Passphrase: cfg.Backup.Passphrase,
		Tenant:     cfg.Storage.Tenant,
	}

	return &app{
		factory: f,
		config:  configStore,
		state:   stateStore,
		ledger:  repo,
		settler: settlement.New(configStore, stateStore, repo, cfg.Ledger.Retention, logger),
		backup:  backup.NewManager(backupCfg, configStore, stateStore, repo, logger),
	}, nil
}

func (a *app) Close() {
	if err := a.factory.Close(); err != nil {
		logger.Warn("close storage", "error", err)
	}
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
