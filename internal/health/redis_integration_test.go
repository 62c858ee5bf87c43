//go:build integration

package health

import (
	"context"
	"fmt"
	"sync"
	"testing"

	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"aigateway/internal/core"
)

func startRedis(t *testing.T) *goredis.Client {
	t.Helper()
	ctx := context.Background()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForLog("Ready to accept connections"),
		},
		Started: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(context.Background()) })

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "6379/tcp")
	require.NoError(t, err)

	client, err := Connect(ctx, fmt.Sprintf("redis://%s:%s/0", host, port.Port()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestRedisTracker(t *testing.T) {
	client := startRedis(t)
	ctx := context.Background()

	t.Run("streak and reset", func(t *testing.T) {
		tr := NewRedisTracker(client, "test:streak:")
		for want := 1; want <= 3; want++ {
			assert.Equal(t, want, tr.RecordFailure(ctx, core.FreePrimary, core.FeatureChat))
		}
		st := tr.State(ctx, core.FreePrimary, core.FeatureChat)
		assert.Equal(t, 3, st.ConsecutiveFailures)
		require.NotNil(t, st.LastFailureAt)

		tr.RecordSuccess(ctx, core.FreePrimary, core.FeatureChat)
		assert.Equal(t, 0, tr.State(ctx, core.FreePrimary, core.FeatureChat).ConsecutiveFailures)
	})

	t.Run("instances share state", func(t *testing.T) {
		a := NewRedisTracker(client, "test:shared:")
		b := NewRedisTracker(client, "test:shared:")

		a.RecordFailure(ctx, core.PaidDirect, core.FeatureOCR)
		assert.Equal(t, 2, b.RecordFailure(ctx, core.PaidDirect, core.FeatureOCR))

		assert.True(t, a.ClaimAlert(ctx, core.PaidDirect, core.FeatureOCR))
		assert.False(t, b.ClaimAlert(ctx, core.PaidDirect, core.FeatureOCR))

		b.RecordSuccess(ctx, core.PaidDirect, core.FeatureOCR)
		a.RecordFailure(ctx, core.PaidDirect, core.FeatureOCR)
		assert.True(t, b.ClaimAlert(ctx, core.PaidDirect, core.FeatureOCR))

		b.ReleaseAlert(ctx, core.PaidDirect, core.FeatureOCR)
		assert.True(t, a.ClaimAlert(ctx, core.PaidDirect, core.FeatureOCR))
	})

	t.Run("concurrent failures", func(t *testing.T) {
		tr := NewRedisTracker(client, "test:concurrent:")
		var wg sync.WaitGroup
		for range 40 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				tr.RecordFailure(ctx, core.FreeSecondary, core.FeatureChat)
			}()
		}
		wg.Wait()
		assert.Equal(t, 40, tr.State(ctx, core.FreeSecondary, core.FeatureChat).ConsecutiveFailures)

		tr.Reset(ctx)
		assert.Equal(t, 0, tr.State(ctx, core.FreeSecondary, core.FeatureChat).ConsecutiveFailures)
	})
}
