package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/gymops/backend/internal/utils"
)

const DefaultQueueKey = "gymops:notifications"

// RedisNotifier pushes events onto a Redis list consumed by the delivery
// workers. An event whose DedupeKey was already pushed within DedupeTTL is
// dropped.
type RedisNotifier struct {
	client    *redis.Client
	queueKey  string
	dedupeTTL time.Duration
}

func NewRedisNotifier(ctx context.Context, url, queueKey string, dedupeTTL time.Duration) (*RedisNotifier, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	if queueKey == "" {
		queueKey = DefaultQueueKey
	}
	return &RedisNotifier{client: client, queueKey: queueKey, dedupeTTL: dedupeTTL}, nil
}

func (n *RedisNotifier) Enqueue(ctx context.Context, ev Event) error {
	if n.dedupeTTL > 0 {
		ok, err := n.client.SetNX(ctx, n.dedupeKey(ev), ev.ID, n.dedupeTTL).Result()
		if err != nil {
			return fmt.Errorf("dedupe %s: %w", ev.Type, err)
		}
		if !ok {
			return nil
		}
	}
	b, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	if err := n.client.LPush(ctx, n.queueKey, b).Err(); err != nil {
		// Release the claim so a retry is not dropped as a duplicate.
		if n.dedupeTTL > 0 {
			_ = n.client.Del(context.WithoutCancel(ctx), n.dedupeKey(ev)).Err()
		}
		return fmt.Errorf("push %s: %w", ev.Type, err)
	}
	return nil
}

func (n *RedisNotifier) dedupeKey(ev Event) string {
	return n.queueKey + ":dedupe:" + utils.Digest(ev.DedupeKey())
}

func (n *RedisNotifier) Close() error {
	return n.client.Close()
}
