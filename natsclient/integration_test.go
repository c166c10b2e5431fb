//go:build integration

package natsclient

import (
	"context"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/L1ghtError/LimbWorker/metric"
	"github.com/L1ghtError/LimbWorker/pkg/retry"
)

func TestIntegration_ProvisionTopology(t *testing.T) {
	tc := NewTestClient(t, WithJetStream())
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	topo := DefaultTopology("Ping", "GetAppInfo", "ProcessImage")
	topo.Prefetch = 7
	require.NoError(t, tc.Client.Provision(ctx, topo, retry.Quick()))

	// Provisioning twice is idempotent.
	require.NoError(t, tc.Client.Provision(ctx, topo, retry.Quick()))

	js, err := tc.Client.GetConnection().JetStream()
	require.NoError(t, err)
	info, err := js.ConsumerInfo("LIMB", "limb-Ping")
	require.NoError(t, err)
	assert.Equal(t, "_limb.deliver.Ping", info.Config.DeliverSubject)
	assert.Equal(t, "limb-workers", info.Config.DeliverGroup)
	assert.Equal(t, 7, info.Config.MaxAckPending)
	assert.Equal(t, nats.AckExplicitPolicy, info.Config.AckPolicy)
}

func TestIntegration_PushDeliveryCarriesAckSubject(t *testing.T) {
	tc := NewTestClient(t, WithJetStream())
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	topo := DefaultTopology("Ping")
	require.NoError(t, tc.Client.Provision(ctx, topo, retry.Quick()))

	nc := tc.Client.GetConnection()
	msgs := make(chan *nats.Msg, 1)
	sub, err := nc.ChanQueueSubscribe(topo.DeliverSubject("Ping"), topo.DeliverGroup, msgs)
	require.NoError(t, err)
	defer sub.Unsubscribe()

	js, err := tc.Client.JetStream()
	require.NoError(t, err)
	_, err = js.Publish(ctx, topo.Subject("Ping"), []byte(`{"message":"Ping"}`))
	require.NoError(t, err)

	select {
	case msg := <-msgs:
		assert.Equal(t, "limb.Ping", msg.Subject)
		assert.Contains(t, msg.Reply, "$JS.ACK.LIMB.limb-Ping")
		channel, ok := topo.Channel(msg.Subject)
		assert.True(t, ok)
		assert.Equal(t, "Ping", channel)
		require.NoError(t, msg.Ack())
	case <-ctx.Done():
		t.Fatal("no delivery")
	}
}

func TestIntegration_KVAndObjectStore(t *testing.T) {
	tc := NewTestClient(t, WithJetStream())
	ctx := context.Background()

	bucket, err := tc.Client.CreateKeyValueBucket(ctx, jetstream.KeyValueConfig{Bucket: "LIMB_CAPABILITIES"})
	require.NoError(t, err)
	kv := tc.Client.NewKVStore(bucket)

	_, err = kv.PutJSON(ctx, "worker-1", map[string]int{"cpuThds": 4})
	require.NoError(t, err)
	entry, err := kv.Get(ctx, "worker-1")
	require.NoError(t, err)
	assert.JSONEq(t, `{"cpuThds":4}`, string(entry.Value))

	_, err = kv.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrKVKeyNotFound)

	require.NoError(t, kv.Delete(ctx, "worker-1"))
	_, err = kv.Get(ctx, "worker-1")
	assert.ErrorIs(t, err, ErrKVKeyNotFound)

	obj, err := tc.Client.CreateObjectStore(ctx, jetstream.ObjectStoreConfig{Bucket: "limb-media"})
	require.NoError(t, err)
	_, err = obj.PutBytes(ctx, "img", []byte{1, 2, 3})
	require.NoError(t, err)
}

func TestIntegration_HealthCallbackOnConnect(t *testing.T) {
	tc := NewTestClient(t)
	changes := make(chan bool, 4)

	client, err := NewClient(tc.URL, WithHealthChangeCallback(func(healthy bool) { changes <- healthy }))
	require.NoError(t, err)
	ctx := context.Background()
	require.NoError(t, client.Connect(ctx))

	select {
	case healthy := <-changes:
		assert.True(t, healthy)
	case <-time.After(5 * time.Second):
		t.Fatal("no health notification on connect")
	}
	require.NoError(t, client.Close(ctx))
}

func TestIntegration_JetStreamMetrics(t *testing.T) {
	registry := metric.NewMetricsRegistry()
	tc := NewTestClient(t, WithJetStream())

	client, err := NewClient(tc.URL, WithMetrics(registry))
	require.NoError(t, err)
	ctx := context.Background()
	require.NoError(t, client.Connect(ctx))
	defer client.Close(ctx)

	require.NoError(t, client.Provision(ctx, DefaultTopology("Ping"), retry.Quick()))
	client.jsMetrics.updateStats(ctx)

	assert.Equal(t, float64(1), testutil.ToFloat64(client.jsMetrics.streamState.WithLabelValues("LIMB")))
	assert.Equal(t, float64(0), testutil.ToFloat64(client.jsMetrics.consumerAckPending.WithLabelValues("LIMB", "limb-Ping")))
}
