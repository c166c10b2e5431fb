//go:build integration

package objectstore_test

import (
	"bytes"
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/L1ghtError/LimbWorker/errors"
	"github.com/L1ghtError/LimbWorker/natsclient"
	"github.com/L1ghtError/LimbWorker/storage/objectstore"
)

var (
	sharedTestClient *natsclient.TestClient
	sharedNATSClient *natsclient.Client
)

// TestMain starts one NATS container for every test in the package.
func TestMain(m *testing.M) {
	if os.Getenv("INTEGRATION_TESTS") != "" {
		testClient, err := natsclient.NewSharedTestClient(
			natsclient.WithJetStream(),
			natsclient.WithTestTimeout(5*time.Second),
			natsclient.WithStartTimeout(30*time.Second),
		)
		if err != nil {
			panic("Failed to create shared test client: " + err.Error())
		}
		sharedTestClient = testClient
		sharedNATSClient = testClient.Client
	}

	exitCode := m.Run()

	if sharedTestClient != nil {
		sharedTestClient.Terminate()
	}
	os.Exit(exitCode)
}

func getSharedNATSClient(t *testing.T) *natsclient.Client {
	if os.Getenv("INTEGRATION_TESTS") == "" {
		t.Skip("Skipping integration test. Set INTEGRATION_TESTS=1 to run.")
	}
	if sharedNATSClient == nil {
		t.Fatal("Shared NATS client not initialized - TestMain should have created it")
	}
	return sharedNATSClient
}

func TestIntegration_PutAndGet(t *testing.T) {
	client := getSharedNATSClient(t)
	ctx := context.Background()

	store, err := objectstore.NewStore(ctx, client, "TEST_MEDIA")
	require.NoError(t, err)
	defer store.Close()

	data := bytes.Repeat([]byte{0x89, 'P', 'N', 'G'}, 100_000)
	require.NoError(t, store.Put(ctx, "image-1", data))

	got, err := store.Get(ctx, "image-1")
	require.NoError(t, err)
	assert.Equal(t, data, got)
}

func TestIntegration_PutReplaces(t *testing.T) {
	client := getSharedNATSClient(t)
	ctx := context.Background()

	store, err := objectstore.NewStoreWithConfig(ctx, client, objectstore.Config{
		BucketName: "TEST_MEDIA_REPLACE",
		Memory:     true,
	})
	require.NoError(t, err)

	require.NoError(t, store.Put(ctx, "image-2", []byte("original")))
	require.NoError(t, store.Put(ctx, "image-2", []byte("processed")))

	got, err := store.Get(ctx, "image-2")
	require.NoError(t, err)
	assert.Equal(t, []byte("processed"), got)
}

func TestIntegration_NotFound(t *testing.T) {
	client := getSharedNATSClient(t)
	ctx := context.Background()

	store, err := objectstore.NewStore(ctx, client, "TEST_MEDIA_MISSING")
	require.NoError(t, err)

	_, err = store.Get(ctx, "does-not-exist")
	require.Error(t, err)
	assert.True(t, errors.IsKind(err, errors.KindNotFound))
}

func TestIntegration_ReopenBucket(t *testing.T) {
	client := getSharedNATSClient(t)
	ctx := context.Background()

	first, err := objectstore.NewStore(ctx, client, "TEST_MEDIA_REOPEN")
	require.NoError(t, err)
	require.NoError(t, first.Put(ctx, "kept", []byte("still here")))

	second, err := objectstore.NewStore(ctx, client, "TEST_MEDIA_REOPEN")
	require.NoError(t, err)
	got, err := second.Get(ctx, "kept")
	require.NoError(t, err)
	assert.Equal(t, []byte("still here"), got)
}
