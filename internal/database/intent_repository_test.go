package database

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/pscheid92/subpulse/internal/eventsub"
)

var testPool *pgxpool.Pool

func TestMain(m *testing.M) {
	ctx := context.Background()

	// Start PostgreSQL container once for all tests
	postgresContainer, err := postgres.Run(ctx,
		"postgres:15-alpine",
		postgres.WithDatabase("testdb"),
		postgres.WithUsername("testuser"),
		postgres.WithPassword("testpass"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second)),
	)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to start postgres container: %v\n", err)
		os.Exit(1)
	}

	defer func() {
		if err := postgresContainer.Terminate(ctx); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to terminate postgres container: %v\n", err)
		}
	}()

	connStr, err := postgresContainer.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to get connection string: %v\n", err)
		os.Exit(1)
	}

	testPool, err = Connect(ctx, connStr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to connect to database: %v\n", err)
		os.Exit(1)
	}
	defer testPool.Close()

	if err := RunMigrations(ctx, testPool); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to run migrations: %v\n", err)
		os.Exit(1)
	}

	os.Exit(m.Run())
}

// setupRepo returns an IntentRepo and registers cleanup to truncate the table.
func setupRepo(t *testing.T) *IntentRepo {
	t.Helper()
	t.Cleanup(func() {
		_, err := testPool.Exec(context.Background(), "TRUNCATE declared_topics")
		require.NoError(t, err)
	})
	return NewIntentRepo(testPool)
}

func testTopic(broadcasterID string) eventsub.Topic {
	return eventsub.Topic{
		Type:      "stream.online",
		Version:   "1",
		Condition: map[string]string{"broadcaster_user_id": broadcasterID},
	}
}

func TestIntentRepo_SaveAndList(t *testing.T) {
	repo := setupRepo(t)
	ctx := context.Background()

	require.NoError(t, repo.Save(ctx, eventsub.DeclaredTopic{Topic: testTopic("1"), AuthUserID: "u1"}))
	require.NoError(t, repo.Save(ctx, eventsub.DeclaredTopic{Topic: testTopic("2"), AuthUserID: "u2"}))

	declared, err := repo.List(ctx)
	require.NoError(t, err)
	require.Len(t, declared, 2)

	assert.Equal(t, "stream.online", declared[0].Topic.Type)
	assert.Equal(t, "1", declared[0].Topic.Condition["broadcaster_user_id"])
	assert.Equal(t, "u1", declared[0].AuthUserID)
	assert.Equal(t, testTopic("1").LogicalID(), declared[0].Topic.LogicalID())
}

func TestIntentRepo_SaveIsIdempotent(t *testing.T) {
	repo := setupRepo(t)
	ctx := context.Background()

	declared := eventsub.DeclaredTopic{Topic: testTopic("1"), AuthUserID: "u1"}
	require.NoError(t, repo.Save(ctx, declared))
	require.NoError(t, repo.Save(ctx, declared))

	list, err := repo.List(ctx)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestIntentRepo_Delete(t *testing.T) {
	repo := setupRepo(t)
	ctx := context.Background()

	topic := testTopic("1")
	require.NoError(t, repo.Save(ctx, eventsub.DeclaredTopic{Topic: topic, AuthUserID: "u1"}))
	require.NoError(t, repo.Delete(ctx, topic.LogicalID()))

	list, err := repo.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, list)

	// Deleting an unknown topic is not an error.
	assert.NoError(t, repo.Delete(ctx, "stream.online.1.broadcaster_user_id=999"))
}
