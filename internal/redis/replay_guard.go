package redis

import (
	"context"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

// ReplayGuard remembers webhook message IDs in Redis so replays are caught
// across all instances sharing the store. Keys expire after the replay
// window; anything older is rejected by the freshness check anyway.
type ReplayGuard struct {
	rdb *goredis.Client
	ttl time.Duration
}

func NewReplayGuard(rdb *goredis.Client, ttl time.Duration) *ReplayGuard {
	return &ReplayGuard{rdb: rdb, ttl: ttl}
}

// Seen records the message ID and reports whether it was already known.
func (g *ReplayGuard) Seen(ctx context.Context, messageID string) (bool, error) {
	set, err := g.rdb.SetNX(ctx, replayKey(messageID), "1", g.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check replay: %w", err)
	}
	return !set, nil
}

func replayKey(messageID string) string {
	return "replay:" + messageID
}
