package database

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pscheid92/subpulse/internal/eventsub"
)

// IntentRepo persists declared topics. It implements eventsub.IntentStore.
type IntentRepo struct {
	pool *pgxpool.Pool
}

func NewIntentRepo(pool *pgxpool.Pool) *IntentRepo {
	return &IntentRepo{pool: pool}
}

// Save upserts a declared topic keyed by its logical ID.
func (r *IntentRepo) Save(ctx context.Context, declared eventsub.DeclaredTopic) error {
	condition, err := json.Marshal(declared.Topic.Condition)
	if err != nil {
		return fmt.Errorf("failed to marshal condition: %w", err)
	}

	_, err = r.pool.Exec(ctx, `
		INSERT INTO declared_topics (logical_id, topic_type, topic_version, condition, auth_user_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, NOW(), NOW())
		ON CONFLICT (logical_id) DO UPDATE SET
			auth_user_id = EXCLUDED.auth_user_id,
			updated_at = NOW()
	`, declared.Topic.LogicalID(), declared.Topic.Type, declared.Topic.Version, condition, declared.AuthUserID)

	if err != nil {
		return fmt.Errorf("failed to save declared topic: %w", err)
	}
	return nil
}

func (r *IntentRepo) Delete(ctx context.Context, logicalID string) error {
	if _, err := r.pool.Exec(ctx, `DELETE FROM declared_topics WHERE logical_id = $1`, logicalID); err != nil {
		return fmt.Errorf("failed to delete declared topic: %w", err)
	}
	return nil
}

func (r *IntentRepo) List(ctx context.Context) ([]eventsub.DeclaredTopic, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT topic_type, topic_version, condition, auth_user_id
		FROM declared_topics
		ORDER BY created_at
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list declared topics: %w", err)
	}
	defer rows.Close()

	var out []eventsub.DeclaredTopic
	for rows.Next() {
		var (
			topicType    string
			topicVersion string
			condition    []byte
			authUserID   string
		)
		if err := rows.Scan(&topicType, &topicVersion, &condition, &authUserID); err != nil {
			return nil, fmt.Errorf("failed to scan declared topic: %w", err)
		}

		conditionMap := make(map[string]string)
		if len(condition) > 0 {
			if err := json.Unmarshal(condition, &conditionMap); err != nil {
				return nil, fmt.Errorf("failed to unmarshal condition: %w", err)
			}
		}

		out = append(out, eventsub.DeclaredTopic{
			Topic: eventsub.Topic{
				Type:      topicType,
				Version:   topicVersion,
				Condition: conditionMap,
			},
			AuthUserID: authUserID,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate declared topics: %w", err)
	}
	return out, nil
}
