package ingest

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/pagewise/pagewise/engine/knowledge"
)

// Claimer grants one caller at a time the right to ingest a file.
type Claimer interface {
	// Claim returns an error matching knowledge.ErrClaimed when another
	// caller already holds the file.
	Claim(ctx context.Context, fileID string) error
	Release(ctx context.Context, fileID string) error
}

const (
	DefaultClaimTTL    = 15 * time.Minute
	defaultClaimPrefix = "pagewise:claim:"
)

// releaseScript deletes the claim only while it still carries our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisClaimer takes claims with SET NX and a TTL, so an abandoned claim
// expires on its own.
type RedisClaimer struct {
	client redisClaimClient
	prefix string
	ttl    time.Duration
	token  string
}

type redisClaimClient interface {
	redis.Scripter
	SetNX(ctx context.Context, key string, value any, expiration time.Duration) *redis.BoolCmd
}

func NewRedisClaimer(client redisClaimClient, prefix string, ttl time.Duration) *RedisClaimer {
	if prefix == "" {
		prefix = defaultClaimPrefix
	}
	if ttl <= 0 {
		ttl = DefaultClaimTTL
	}
	return &RedisClaimer{client: client, prefix: prefix, ttl: ttl, token: uuid.NewString()}
}

func (c *RedisClaimer) key(fileID string) string {
	return c.prefix + fileID
}

func (c *RedisClaimer) Claim(ctx context.Context, fileID string) error {
	acquired, err := c.client.SetNX(ctx, c.key(fileID), c.token, c.ttl).Result()
	if err != nil {
		return fmt.Errorf("ingest: claim %q: %w", fileID, err)
	}
	if !acquired {
		return knowledge.Wrap(knowledge.ErrClaimed, "claim", fmt.Errorf("file %q", fileID))
	}
	return nil
}

func (c *RedisClaimer) Release(ctx context.Context, fileID string) error {
	if err := releaseScript.Run(ctx, c.client, []string{c.key(fileID)}, c.token).Err(); err != nil {
		return fmt.Errorf("ingest: release claim %q: %w", fileID, err)
	}
	return nil
}
