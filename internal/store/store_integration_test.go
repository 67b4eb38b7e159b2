//go:build integration

package store_test

import (
	"context"
	"testing"
	"time"

	"github.com/qdrant/go-client/qdrant"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"ingestrunner/internal/store"
)

func startQdrant(t *testing.T) *qdrant.Client {
	t.Helper()
	ctx := context.Background()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "qdrant/qdrant:v1.12.4",
			ExposedPorts: []string{"6334/tcp"},
			WaitingFor:   wait.ForListeningPort("6334/tcp").WithStartupTimeout(time.Minute),
		},
		Started: true,
	})
	if err != nil {
		t.Skipf("Skipping test: could not start qdrant container: %v", err)
	}
	t.Cleanup(func() {
		if err := container.Terminate(context.Background()); err != nil {
			t.Logf("Warning: failed to terminate container: %v", err)
		}
	})

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "6334/tcp")
	require.NoError(t, err)

	client, err := store.NewClient(store.Config{Host: host, Port: port.Int()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestResetter_Qdrant(t *testing.T) {
	ctx := context.Background()
	client := startQdrant(t)

	err := client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: "confluence_docs",
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     4,
			Distance: qdrant.Distance_Cosine,
		}),
	})
	require.NoError(t, err)

	r := store.NewResetter(client.GetCollectionsClient(), "confluence_docs", 10*time.Second)

	require.NoError(t, r.Drop(ctx))
	exists, err := client.CollectionExists(ctx, "confluence_docs")
	require.NoError(t, err)
	assert.False(t, exists)

	assert.NoError(t, r.Drop(ctx), "dropping an absent collection succeeds")
}
