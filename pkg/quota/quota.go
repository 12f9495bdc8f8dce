package quota

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Limiter is a Redis-backed sliding-window counter used for per-tenant
// hourly task admission. Increment-and-check runs as a single Lua script so
// concurrent claimers cannot overrun the limit.
type Limiter struct {
	redis *redis.Client
}

// NewLimiter creates a new sliding-window limiter backed by the given Redis client
func NewLimiter(redisClient *redis.Client) *Limiter {
	return &Limiter{redis: redisClient}
}

// allowScript trims entries older than the window, checks the count against
// the limit and records the new entry only when admitted.
var allowScript = redis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])
local member = ARGV[4]

redis.call('ZREMRANGEBYSCORE', key, 0, now - window)
local count = redis.call('ZCARD', key)
if count >= limit then
	return 0
end
redis.call('ZADD', key, now, member)
redis.call('PEXPIRE', key, window)
return 1
`)

// Allow records one unit against the tenant's window if the limit permits.
// Returns false when the tenant has exhausted its quota for the window.
func (l *Limiter) Allow(ctx context.Context, tenantID uuid.UUID, limit int, window time.Duration) (bool, error) {
	if limit <= 0 {
		return false, nil
	}

	key := fmt.Sprintf("quota:tasks:%s", tenantID)
	now := time.Now().UnixMilli()

	res, err := allowScript.Run(ctx, l.redis, []string{key},
		now, window.Milliseconds(), limit, uuid.New().String()).Int()
	if err != nil {
		return false, fmt.Errorf("failed to check task quota: %w", err)
	}

	return res == 1, nil
}
