package redis

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go/modules/redis"
)

var testRedisURL string

func TestMain(m *testing.M) {
	ctx := context.Background()
	container, err := redis.Run(ctx, "redis:7-alpine")
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to start redis container: %v\n", err)
		os.Exit(1)
	}

	endpoint, err := container.Endpoint(ctx, "")
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to get redis endpoint: %v\n", err)
		os.Exit(1)
	}
	testRedisURL = "redis://" + endpoint

	code := m.Run()

	_ = container.Terminate(ctx)
	os.Exit(code)
}

func setupTestClient(t *testing.T) *Client {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping integration test")
	}

	client, err := NewClient(testRedisURL)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	require.NoError(t, client.Ping(context.Background()))
	return client
}

func TestReplayGuard_Seen(t *testing.T) {
	client := setupTestClient(t)
	guard := NewReplayGuard(client.Underlying(), 10*time.Minute)
	ctx := context.Background()

	messageID := uuid.NewString()

	seen, err := guard.Seen(ctx, messageID)
	require.NoError(t, err)
	assert.False(t, seen, "first sighting must not count as replay")

	seen, err = guard.Seen(ctx, messageID)
	require.NoError(t, err)
	assert.True(t, seen, "second sighting is a replay")
}

func TestReplayGuard_EntriesExpire(t *testing.T) {
	client := setupTestClient(t)
	guard := NewReplayGuard(client.Underlying(), 100*time.Millisecond)
	ctx := context.Background()

	messageID := uuid.NewString()

	_, err := guard.Seen(ctx, messageID)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		seen, err := guard.Seen(ctx, messageID)
		return err == nil && !seen
	}, 2*time.Second, 50*time.Millisecond, "entry should expire with its TTL")
}

func TestReplayGuard_IndependentMessageIDs(t *testing.T) {
	client := setupTestClient(t)
	guard := NewReplayGuard(client.Underlying(), 10*time.Minute)
	ctx := context.Background()

	_, err := guard.Seen(ctx, uuid.NewString())
	require.NoError(t, err)

	seen, err := guard.Seen(ctx, uuid.NewString())
	require.NoError(t, err)
	assert.False(t, seen)
}
