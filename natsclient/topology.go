package natsclient

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/L1ghtError/LimbWorker/errors"
	"github.com/L1ghtError/LimbWorker/pkg/retry"
)

// Topology names the JetStream resources request queues map onto. Each
// channel gets one durable push consumer filtered to <prefix>.<channel> and
// delivered to a queue group so several workers share the load.
type Topology struct {
	Stream       string
	Prefix       string
	Channels     []string
	DeliverGroup string
	// Prefetch bounds unacknowledged deliveries per consumer.
	Prefetch int
	AckWait  time.Duration
}

// DefaultTopology returns the LIMB stream layout for channels.
func DefaultTopology(channels ...string) Topology {
	return Topology{
		Stream:       "LIMB",
		Prefix:       "limb",
		Channels:     channels,
		DeliverGroup: "limb-workers",
		Prefetch:     20,
		AckWait:      5 * time.Minute,
	}
}

// Validate checks the topology is provisionable.
func (t Topology) Validate() error {
	switch {
	case t.Stream == "":
		return errors.WrapInvalid(errors.ErrMissingConfig, "Topology", "Validate", "stream name")
	case t.Prefix == "" || strings.ContainsAny(t.Prefix, " *>"):
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Topology", "Validate", "subject prefix "+t.Prefix)
	case len(t.Channels) == 0:
		return errors.WrapInvalid(errors.ErrMissingConfig, "Topology", "Validate", "channels")
	case t.Prefetch < 1:
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Topology", "Validate", "prefetch must be positive")
	}
	return nil
}

// Subject is where requests for channel are published.
func (t Topology) Subject(channel string) string {
	return t.Prefix + "." + channel
}

// Channel maps a request subject back to its channel name.
func (t Topology) Channel(subject string) (string, bool) {
	channel, ok := strings.CutPrefix(subject, t.Prefix+".")
	if !ok || channel == "" || strings.Contains(channel, ".") {
		return "", false
	}
	return channel, true
}

// DeliverSubject is where the push consumer for channel delivers.
func (t Topology) DeliverSubject(channel string) string {
	return "_" + t.Prefix + ".deliver." + channel
}

// ConsumerName is the durable name for channel.
func (t Topology) ConsumerName(channel string) string {
	return t.Prefix + "-" + channel
}

// StreamConfig is the work-queue stream holding every channel.
func (t Topology) StreamConfig() jetstream.StreamConfig {
	return jetstream.StreamConfig{
		Name:      t.Stream,
		Subjects:  []string{t.Prefix + ".>"},
		Retention: jetstream.WorkQueuePolicy,
		Storage:   jetstream.FileStorage,
	}
}

// ConsumerConfig is the push consumer for channel.
func (t Topology) ConsumerConfig(channel string) *nats.ConsumerConfig {
	return &nats.ConsumerConfig{
		Durable:        t.ConsumerName(channel),
		DeliverSubject: t.DeliverSubject(channel),
		DeliverGroup:   t.DeliverGroup,
		DeliverPolicy:  nats.DeliverAllPolicy,
		AckPolicy:      nats.AckExplicitPolicy,
		AckWait:        t.AckWait,
		MaxAckPending:  t.Prefetch,
		FilterSubject:  t.Subject(channel),
	}
}

// Provision creates or updates the stream and every consumer. Transient
// failures are retried according to policy.
func (m *Client) Provision(ctx context.Context, t Topology, policy retry.Config) error {
	if err := t.Validate(); err != nil {
		return err
	}
	policy = errors.RetryPolicy(policy.MaxAttempts, policy)

	err := retry.Do(ctx, policy, func() error {
		_, err := m.CreateStream(ctx, t.StreamConfig())
		return err
	})
	if err != nil {
		return fmt.Errorf("provision stream %s: %w", t.Stream, err)
	}

	for _, channel := range t.Channels {
		cfg := t.ConsumerConfig(channel)
		err := retry.Do(ctx, policy, func() error {
			_, err := m.EnsurePushConsumer(ctx, t.Stream, cfg)
			return err
		})
		if err != nil {
			return fmt.Errorf("provision consumer %s: %w", cfg.Durable, err)
		}
		m.logger.Info("Consumer ready", "stream", t.Stream, "consumer", cfg.Durable,
			"deliver_subject", cfg.DeliverSubject, "max_ack_pending", cfg.MaxAckPending)
	}
	return nil
}
