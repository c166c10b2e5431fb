package app

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/L1ghtError/LimbWorker/config"
	"github.com/L1ghtError/LimbWorker/errors"
	"github.com/L1ghtError/LimbWorker/metric"
	"github.com/L1ghtError/LimbWorker/natsclient"
	"github.com/L1ghtError/LimbWorker/pkg/retry"
	"github.com/L1ghtError/LimbWorker/storage"
	"github.com/L1ghtError/LimbWorker/storage/objectstore"
	"github.com/L1ghtError/LimbWorker/storage/sqlite"
)

// clientSource is implemented by control planes that can lend their
// connection to the object store backend.
type clientSource interface {
	Client() *natsclient.Client
}

// openStore selects the media backend from cfg.URI and wraps it with retries
// and metrics. A "nats://" URI without a host shares the control connection;
// with a host it opens a dedicated one, owned by the returned store.
func openStore(ctx context.Context, cfg config.StorageConfig, control ControlPlane,
	registry *metric.MetricsRegistry, logger *slog.Logger) (storage.Store, error) {
	loc, err := storage.ParseURI(cfg.URI)
	if err != nil {
		return nil, err
	}

	var inner storage.Store
	switch loc.Backend {
	case storage.BackendMemory:
		inner = storage.NewMemory()

	case storage.BackendSQLite:
		path := sqlitePath(loc.Address, cfg.Database)
		inner, err = sqlite.Open(ctx, path)
		if err != nil {
			return nil, err
		}

	case storage.BackendNATS:
		inner, err = openObjectStore(ctx, loc, cfg.Bucket, control, logger)
		if err != nil {
			return nil, err
		}

	default:
		return nil, errors.WrapInvalid(errors.ErrUnimplemented, "app", "openStore", "backend "+loc.Backend)
	}

	store, err := storage.Instrument(inner, loc.Backend, retry.DefaultConfig(), registry)
	if err != nil {
		_ = inner.Close()
		return nil, err
	}
	logger.Info("Media store ready", "backend", loc.Backend, "bucket", cfg.Bucket)
	return store, nil
}

// sqlitePath resolves a directory location to <dir>/<database>.db.
func sqlitePath(address, database string) string {
	if strings.HasSuffix(address, "/") {
		return filepath.Join(address, database+".db")
	}
	if info, err := os.Stat(address); err == nil && info.IsDir() {
		return filepath.Join(address, database+".db")
	}
	return address
}

func openObjectStore(ctx context.Context, loc storage.Location, bucket string, control ControlPlane,
	logger *slog.Logger) (storage.Store, error) {
	if loc.Address == "" {
		src, ok := control.(clientSource)
		if !ok {
			return nil, errors.WrapInvalid(errors.ErrMissingConfig, "app", "openObjectStore",
				"nats storage uri needs a host when no control connection is available")
		}
		return objectstore.NewStore(ctx, src.Client(), bucket)
	}

	client, err := natsclient.NewClient("nats://"+loc.Address, natsclient.WithLogger(logger))
	if err != nil {
		return nil, err
	}
	if err := client.Connect(ctx); err != nil {
		return nil, fmt.Errorf("connect media store: %w", err)
	}
	store, err := objectstore.NewStore(ctx, client, bucket)
	if err != nil {
		_ = client.Close(context.Background())
		return nil, err
	}
	return &ownedStore{Store: store, client: client}, nil
}

// ownedStore closes the dedicated connection behind an object store.
type ownedStore struct {
	*objectstore.Store
	client *natsclient.Client
}

func (s *ownedStore) Close() error {
	_ = s.Store.Close()
	return s.client.Close(context.Background())
}
