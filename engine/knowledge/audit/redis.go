package audit

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
)

const DefaultRedisKey = "pagewise:audit:sink_gaps"

// RedisLog stores entries as JSON in a Redis list so every process sharing
// the instance sees the same gaps.
type RedisLog struct {
	client redis.Cmdable
	key    string
}

func NewRedisLog(client redis.Cmdable, key string) *RedisLog {
	if key == "" {
		key = DefaultRedisKey
	}
	return &RedisLog{client: client, key: key}
}

func (l *RedisLog) Append(ctx context.Context, entry Entry) (Entry, error) {
	entry = stamp(entry)
	payload, err := json.Marshal(entry)
	if err != nil {
		return Entry{}, fmt.Errorf("audit: encode entry: %w", err)
	}
	if err := l.client.RPush(ctx, l.key, payload).Err(); err != nil {
		return Entry{}, fmt.Errorf("audit: append entry: %w", err)
	}
	return entry, nil
}

func (l *RedisLog) List(ctx context.Context, limit int) ([]Entry, error) {
	start := int64(0)
	if limit > 0 {
		start = -int64(limit)
	}
	raw, err := l.client.LRange(ctx, l.key, start, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("audit: list entries: %w", err)
	}
	out := make([]Entry, 0, len(raw))
	for _, item := range raw {
		var entry Entry
		if err := json.Unmarshal([]byte(item), &entry); err != nil {
			return nil, fmt.Errorf("audit: decode entry: %w", err)
		}
		out = append(out, entry)
	}
	return out, nil
}
