package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/L1ghtError/LimbWorker/capability"
	"github.com/L1ghtError/LimbWorker/config"
	"github.com/L1ghtError/LimbWorker/metric"
	"github.com/L1ghtError/LimbWorker/natsclient"
	"github.com/L1ghtError/LimbWorker/pkg/retry"
)

// ControlPlane is the JetStream management side of the broker: resource
// provisioning and the capabilities KV bucket. Task traffic never uses it.
type ControlPlane interface {
	Provision(ctx context.Context, t natsclient.Topology) error
	PublishCapabilities(ctx context.Context, key string, snapshot capability.Snapshot) error
	// WithdrawCapabilities removes the entry written by PublishCapabilities.
	WithdrawCapabilities(ctx context.Context, key string) error
	Close(ctx context.Context) error
}

// natsControl is the ControlPlane backed by a nats.go connection.
type natsControl struct {
	client *natsclient.Client
	bucket string
	policy retry.Config
	logger *slog.Logger
}

// connectControlPlane dials the control connection. onHealth, if set, is
// told about every disconnect and reconnect.
func connectControlPlane(ctx context.Context, b config.BrokerConfig, registry *metric.MetricsRegistry,
	onHealth func(healthy bool), logger *slog.Logger) (*natsControl, error) {
	opts := []natsclient.ClientOption{
		natsclient.WithLogger(logger),
		natsclient.WithTimeout(b.ConnectTimeout),
		natsclient.WithReconnectWait(b.ReconnectWait),
		natsclient.WithDrainTimeout(b.DrainTimeout),
		natsclient.WithMetrics(registry),
	}
	if b.HeartbeatMax > 0 {
		opts = append(opts, natsclient.WithPingInterval(b.HeartbeatMax))
	}
	if onHealth != nil {
		opts = append(opts, natsclient.WithHealthChangeCallback(onHealth))
	}
	if b.Name != "" {
		opts = append(opts, natsclient.WithName(b.Name+"-control"))
	}
	switch {
	case b.Token != "":
		opts = append(opts, natsclient.WithToken(b.Token))
	case b.User != "":
		opts = append(opts, natsclient.WithCredentials(b.User, b.Password))
	}

	client, err := natsclient.NewClient(b.URL(), opts...)
	if err != nil {
		return nil, fmt.Errorf("create control client: %w", err)
	}
	if err := client.Connect(ctx); err != nil {
		return nil, fmt.Errorf("connect control client: %w", err)
	}
	return &natsControl{
		client: client,
		bucket: b.CapabilitiesBucket,
		policy: retry.DefaultConfig(),
		logger: logger,
	}, nil
}

// Client exposes the connection for the object store backend.
func (c *natsControl) Client() *natsclient.Client { return c.client }

func (c *natsControl) Provision(ctx context.Context, t natsclient.Topology) error {
	return c.client.Provision(ctx, t, c.policy)
}

func (c *natsControl) PublishCapabilities(ctx context.Context, key string, snapshot capability.Snapshot) error {
	if c.bucket == "" {
		return nil
	}
	bucket, err := c.client.CreateKeyValueBucket(ctx, jetstream.KeyValueConfig{
		Bucket:      c.bucket,
		Description: "Processor capabilities per worker instance",
		History:     1,
	})
	if err != nil {
		return fmt.Errorf("capabilities bucket %s: %w", c.bucket, err)
	}
	data, err := snapshot.JSON()
	if err != nil {
		return err
	}
	if _, err := c.client.NewKVStore(bucket).Put(ctx, key, data); err != nil {
		return err
	}
	c.logger.Info("Published capabilities", "bucket", c.bucket, "key", key,
		"processors", len(snapshot.Processors))
	return nil
}

func (c *natsControl) WithdrawCapabilities(ctx context.Context, key string) error {
	if c.bucket == "" {
		return nil
	}
	js, err := c.client.JetStream()
	if err != nil {
		return err
	}
	bucket, err := js.KeyValue(ctx, c.bucket)
	if err != nil {
		return fmt.Errorf("capabilities bucket %s: %w", c.bucket, err)
	}
	err = c.client.NewKVStore(bucket).Delete(ctx, key)
	if err != nil && !natsclient.IsKVNotFoundError(err) {
		return err
	}
	c.logger.Info("Withdrew capabilities", "bucket", c.bucket, "key", key)
	return nil
}

func (c *natsControl) Close(ctx context.Context) error {
	return c.client.Close(ctx)
}
