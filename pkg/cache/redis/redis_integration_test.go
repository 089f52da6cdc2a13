//go:build integration

package redis_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	rediscache "github.com/aussiebroadwan/tokend/pkg/cache/redis"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// setupRedisContainer starts a throwaway redis server and returns its address.
func setupRedisContainer(t *testing.T) string {
	t.Helper()
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "redis:7-alpine",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor: wait.ForLog("Ready to accept connections").
			WithStartupTimeout(60 * time.Second),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	require.NoError(t, err)

	t.Cleanup(func() {
		if err := container.Terminate(ctx); err != nil {
			t.Logf("failed to terminate container: %v", err)
		}
	})

	mappedPort, err := container.MappedPort(ctx, "6379")
	require.NoError(t, err)

	host, err := container.Host(ctx)
	require.NoError(t, err)

	return fmt.Sprintf("%s:%s", host, mappedPort.Port())
}

func TestRealRedisTTL(t *testing.T) {
	addr := setupRedisContainer(t)
	ctx := context.Background()

	b, err := rediscache.New(ctx, rediscache.Config{Addr: addr, Namespace: "it:"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Close() })

	require.NoError(t, b.Put(ctx, "short", []byte("v"), 1500*time.Millisecond))
	require.NoError(t, b.Put(ctx, "long", []byte("v"), time.Minute))

	ok, err := b.Exists(ctx, "short")
	require.NoError(t, err)
	require.True(t, ok)

	require.Eventually(t, func() bool {
		ok, err := b.Exists(ctx, "short")
		return err == nil && !ok
	}, 5*time.Second, 100*time.Millisecond)

	require.NoError(t, b.Clear(ctx))
	ok, err = b.Exists(ctx, "long")
	require.NoError(t, err)
	require.False(t, ok)
}
