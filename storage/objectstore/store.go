package objectstore

import (
	"context"
	stderrors "errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/L1ghtError/LimbWorker/errors"
	"github.com/L1ghtError/LimbWorker/natsclient"
	"github.com/L1ghtError/LimbWorker/storage"
)

// DefaultBucket is the bucket used when Config.BucketName is empty.
const DefaultBucket = "limb-media"

// Config describes the object store bucket.
type Config struct {
	BucketName  string        `json:"bucket_name"`
	Description string        `json:"description,omitempty"`
	MaxBytes    int64         `json:"max_bytes,omitempty"`
	TTL         time.Duration `json:"ttl,omitempty"`
	Replicas    int           `json:"replicas,omitempty"`
	// Memory selects memory storage instead of file storage.
	Memory bool `json:"memory,omitempty"`
}

func (c Config) objectStoreConfig() jetstream.ObjectStoreConfig {
	cfg := jetstream.ObjectStoreConfig{
		Bucket:      c.BucketName,
		Description: c.Description,
		MaxBytes:    c.MaxBytes,
		TTL:         c.TTL,
		Replicas:    c.Replicas,
		Storage:     jetstream.FileStorage,
	}
	if cfg.Bucket == "" {
		cfg.Bucket = DefaultBucket
	}
	if cfg.Description == "" {
		cfg.Description = "Limb worker media"
	}
	if cfg.MaxBytes == 0 {
		cfg.MaxBytes = -1
	}
	if cfg.Replicas == 0 {
		cfg.Replicas = 1
	}
	if c.Memory {
		cfg.Storage = jetstream.MemoryStorage
	}
	return cfg
}

// Store implements storage.Store on a JetStream object store bucket.
type Store struct {
	bucket string
	obj    jetstream.ObjectStore
}

var _ storage.Store = (*Store)(nil)

// NewStore opens bucket with default settings.
func NewStore(ctx context.Context, client *natsclient.Client, bucket string) (*Store, error) {
	return NewStoreWithConfig(ctx, client, Config{BucketName: bucket})
}

// NewStoreWithConfig opens or creates the bucket described by cfg.
func NewStoreWithConfig(ctx context.Context, client *natsclient.Client, cfg Config) (*Store, error) {
	if client == nil {
		return nil, errors.WrapInvalid(errors.ErrInvalidInput, "objectstore", "NewStore", "nil NATS client")
	}
	osCfg := cfg.objectStoreConfig()
	obj, err := client.CreateObjectStore(ctx, osCfg)
	if err != nil {
		return nil, err
	}
	return &Store{bucket: osCfg.Bucket, obj: obj}, nil
}

// Bucket returns the bucket name.
func (s *Store) Bucket() string { return s.bucket }

// Get returns the latest version of object id.
func (s *Store) Get(ctx context.Context, id string) ([]byte, error) {
	if err := storage.ValidateID(id); err != nil {
		return nil, err
	}
	data, err := s.obj.GetBytes(ctx, id)
	if err != nil {
		if stderrors.Is(err, jetstream.ErrObjectNotFound) {
			return nil, storage.NotFound(id)
		}
		return nil, errors.WrapTransient(err, "objectstore", "Get", fmt.Sprintf("get %s/%s", s.bucket, id))
	}
	return data, nil
}

// Put stores data as the new version of object id.
func (s *Store) Put(ctx context.Context, id string, data []byte) error {
	if err := storage.ValidateID(id); err != nil {
		return err
	}
	if _, err := s.obj.PutBytes(ctx, id, data); err != nil {
		return errors.WrapTransient(err, "objectstore", "Put", fmt.Sprintf("put %s/%s", s.bucket, id))
	}
	return nil
}

// Close releases nothing; the bucket lives as long as the NATS client.
func (s *Store) Close() error { return nil }
