// Package factory picks the storage backend for each store type, falling
// back to local files when the configured backend cannot be initialised.
package factory

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/dukerupert/chorechart/internal/config"
	"github.com/dukerupert/chorechart/internal/database"
	"github.com/dukerupert/chorechart/internal/docstore"
	"github.com/dukerupert/chorechart/internal/ledger"
	"github.com/dukerupert/chorechart/internal/storage"
)

// ErrNoBackend is returned when every backend in a chain failed.
var ErrNoBackend = errors.New("no storage backend available")

const (
	ConfigFile = "task_config.json"
	StateFile  = "household_state.json"

	configRecordID = "config"
	stateRecordID  = "state"
)

// AllowanceFile is the file-mode allowance document of tenant.
func AllowanceFile(tenant string) string {
	return "allowance_" + tenant + ".json"
}

// Info reports the backend that was asked for and the one each store type
// actually got. An empty actual backend means the store was not created.
type Info struct {
	Requested string `json:"requested"`
	Tenant    string `json:"tenant"`
	State     string `json:"state"`
	Allowance string `json:"allowance"`
}

type Factory struct {
	cfg    config.Storage
	logger *slog.Logger

	mu      sync.Mutex
	info    Info
	remotes map[string]*remote
}

// remote is a lazily opened partition backend. A failed open is remembered
// so a second store type does not wait out the same timeout again.
type remote struct {
	open   func(ctx context.Context) (partitioner, error)
	once   sync.Once
	p      partitioner
	err    error
	closed bool
}

type partitioner interface {
	Partition(name string) storage.Partition
	io.Closer
}

func New(cfg config.Storage, logger *slog.Logger) *Factory {
	f := &Factory{
		cfg:    cfg,
		logger: logger.With("component", "storage"),
		info:   Info{Requested: cfg.Backend, Tenant: cfg.Tenant},
	}
	f.remotes = map[string]*remote{
		config.BackendSQLite: {open: f.openSQLite},
		config.BackendMongo:  {open: f.openMongo},
	}
	return f
}

// chainFor returns the backends tried for the configured backend, in order.
func chainFor(backend string) []string {
	switch backend {
	case config.BackendMongo:
		return []string{config.BackendMongo, config.BackendFile}
	case config.BackendSQLite:
		return []string{config.BackendSQLite, config.BackendFile}
	default:
		return []string{config.BackendFile}
	}
}

type constructor[T any] struct {
	backend string
	build   func(ctx context.Context) (T, error)
}

// chain runs constructors in order and returns the first success.
func chain[T any](ctx context.Context, logger *slog.Logger, kind string, ctors []constructor[T]) (T, string, error) {
	var zero T
	var errs []error
	for i, c := range ctors {
		v, err := c.build(ctx)
		if err == nil {
			if i > 0 {
				logger.Warn("using fallback storage backend", "store", kind, "backend", c.backend)
			}
			return v, c.backend, nil
		}
		errs = append(errs, fmt.Errorf("%s: %w", c.backend, err))
		if i+1 < len(ctors) {
			logger.Warn("storage backend unavailable, falling back",
				"store", kind, "backend", c.backend, "next", ctors[i+1].backend, "error", err)
		} else {
			logger.Error("storage backend unavailable", "store", kind, "backend", c.backend, "error", err)
		}
	}
	return zero, "", fmt.Errorf("%s store: %w: %w", kind, ErrNoBackend, errors.Join(errs...))
}

type household struct {
	config docstore.Store
	state  docstore.Store
}

// CreateStateStore returns the config and state stores of tenant. Both
// always live on the same backend.
func (f *Factory) CreateStateStore(ctx context.Context, tenant string) (docstore.Store, docstore.Store, error) {
	ctors := make([]constructor[household], 0, 2)
	for _, backend := range chainFor(f.cfg.Backend) {
		ctors = append(ctors, constructor[household]{
			backend: backend,
			build: func(ctx context.Context) (household, error) {
				return f.household(ctx, backend, tenant)
			},
		})
	}

	h, backend, err := chain(ctx, f.logger, "state", ctors)
	if err != nil {
		return nil, nil, err
	}
	f.mu.Lock()
	f.info.State = backend
	f.mu.Unlock()
	f.logger.Info("state store ready", "backend", backend, "tenant", tenant)
	return h.config, h.state, nil
}

func (f *Factory) household(ctx context.Context, backend, tenant string) (household, error) {
	if backend == config.BackendFile {
		if err := f.ensureDir(); err != nil {
			return household{}, err
		}
		cfg := docstore.NewConfigStore(docstore.FileMedium{Path: filepath.Join(f.cfg.Dir, ConfigFile)}, f.logger)
		state := docstore.NewStateStore(docstore.FileMedium{Path: filepath.Join(f.cfg.Dir, StateFile)}, cfg, f.logger)
		return household{config: cfg, state: state}, nil
	}

	p, err := f.partition(ctx, backend, tenant)
	if err != nil {
		return household{}, err
	}
	cfg := docstore.NewConfigStore(docstore.RecordMedium{Partition: p, ID: configRecordID, Type: storage.TypeConfig}, f.logger)
	state := docstore.NewStateStore(docstore.RecordMedium{Partition: p, ID: stateRecordID, Type: storage.TypeState}, cfg, f.logger)
	return household{config: cfg, state: state}, nil
}

// CreateAllowanceRepository returns the allowance ledger of tenant.
func (f *Factory) CreateAllowanceRepository(ctx context.Context, tenant string, opts ...ledger.Option) (ledger.Repository, error) {
	ctors := make([]constructor[ledger.Repository], 0, 2)
	for _, backend := range chainFor(f.cfg.Backend) {
		ctors = append(ctors, constructor[ledger.Repository]{
			backend: backend,
			build: func(ctx context.Context) (ledger.Repository, error) {
				if backend == config.BackendFile {
					if err := f.ensureDir(); err != nil {
						return nil, err
					}
					path := filepath.Join(f.cfg.Dir, AllowanceFile(tenant))
					return ledger.NewFileRepository(path, f.logger, opts...), nil
				}
				p, err := f.partition(ctx, backend, tenant)
				if err != nil {
					return nil, err
				}
				return ledger.NewPartitionRepository(p, f.logger, opts...), nil
			},
		})
	}

	repo, backend, err := chain(ctx, f.logger, "allowance", ctors)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	f.info.Allowance = backend
	f.mu.Unlock()
	f.logger.Info("allowance repository ready", "backend", backend, "tenant", tenant)
	return repo, nil
}

func (f *Factory) Info() Info {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.info
}

// Close releases every backend that was opened.
func (f *Factory) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	var errs []error
	for name, r := range f.remotes {
		if r.err != nil || r.p == nil || r.closed {
			continue
		}
		r.closed = true
		if err := r.p.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", name, err))
		}
	}
	return errors.Join(errs...)
}

func (f *Factory) ensureDir() error {
	if err := os.MkdirAll(f.cfg.Dir, 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}
	return nil
}

func (f *Factory) partition(ctx context.Context, backend, tenant string) (storage.Partition, error) {
	r, ok := f.remotes[backend]
	if !ok {
		return nil, fmt.Errorf("unknown backend %q", backend)
	}
	r.once.Do(func() {
		r.p, r.err = r.open(ctx)
	})
	if r.err != nil {
		return nil, r.err
	}
	return r.p.Partition(tenant), nil
}

func (f *Factory) openSQLite(ctx context.Context) (partitioner, error) {
	if dir := filepath.Dir(f.cfg.SQLitePath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create database dir: %w", err)
		}
	}
	db, err := database.Open(ctx, f.cfg.SQLitePath)
	if err != nil {
		return nil, err
	}
	f.logger.Info("sqlite storage opened", "path", f.cfg.SQLitePath)
	return storage.NewSQLite(db), nil
}

func (f *Factory) openMongo(ctx context.Context) (partitioner, error) {
	m := f.cfg.Mongo
	client, err := storage.ConnectMongo(ctx, storage.MongoConfig{
		URI:            m.URI,
		Username:       m.Username,
		Password:       m.Password,
		Database:       m.Database,
		ConnectTimeout: m.ConnectTimeout,
	}, f.logger)
	if err != nil {
		return nil, err
	}
	return client, nil
}
