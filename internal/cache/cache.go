// Package cache keeps short-lived, process-independent lookups in redis.
// Every read treats a redis failure as a miss; the database stays the source
// of truth.
package cache

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
)

// ErrMiss is returned when a key is absent.
var ErrMiss = errors.New("cache miss")

const balanceTTL = 5 * time.Minute

// Cache wraps a redis client. A nil *Cache is valid and always misses.
type Cache struct {
	rdb *redis.Client
}

// New returns a Cache; rdb may be nil to disable caching.
func New(rdb *redis.Client) *Cache {
	return &Cache{rdb: rdb}
}

func (c *Cache) enabled() bool { return c != nil && c.rdb != nil }

func balanceKey(userID uint64) string { return fmt.Sprintf("balance:%d", userID) }

func idemKey(merchantID uint64, key string) string {
	return fmt.Sprintf("idem:%d:%s", merchantID, key)
}

// StoreBalanceScript writes "version:balance" unless the key already holds a
// newer version, so a slow reader can never replace a committed write.
const StoreBalanceScript = `
local cur = redis.call('GET', KEYS[1])
if cur then
  local v = tonumber(string.match(cur, '^(%d+):'))
  if v and v > tonumber(ARGV[1]) then
    return 0
  end
end
redis.call('SET', KEYS[1], ARGV[1] .. ':' .. ARGV[2], 'PX', ARGV[3])
return 1
`

// StoreBalance caches balance as of wallet version. It reports false when a
// newer version was already cached.
func (c *Cache) StoreBalance(ctx context.Context, userID, version uint64, balance int64) (bool, error) {
	if !c.enabled() {
		return false, nil
	}
	n, err := c.rdb.Eval(ctx, StoreBalanceScript, []string{balanceKey(userID)},
		strconv.FormatUint(version, 10),
		strconv.FormatInt(balance, 10),
		strconv.FormatInt(balanceTTL.Milliseconds(), 10),
	).Int64()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// GetCachedBalance reads Redis.
func (c *Cache) GetCachedBalance(ctx context.Context, userID uint64) (int64, error) {
	if !c.enabled() {
		return 0, ErrMiss
	}
	str, err := c.rdb.Get(ctx, balanceKey(userID)).Result()
	if errors.Is(err, redis.Nil) {
		return 0, ErrMiss
	}
	if err != nil {
		return 0, err
	}
	_, bal, ok := strings.Cut(str, ":")
	if !ok {
		return 0, fmt.Errorf("malformed balance entry %q", str)
	}
	return strconv.ParseInt(bal, 10, 64)
}

// InvalidateBalance drops the cached balance after a committed mutation.
func (c *Cache) InvalidateBalance(ctx context.Context, userIDs ...uint64) error {
	if !c.enabled() || len(userIDs) == 0 {
		return nil
	}
	keys := make([]string, 0, len(userIDs))
	for _, id := range userIDs {
		keys = append(keys, balanceKey(id))
	}
	return c.rdb.Del(ctx, keys...).Err()
}

// RememberIntent maps an idempotency key to the intent it created.
func (c *Cache) RememberIntent(ctx context.Context, merchantID uint64, key, intentID string, ttl time.Duration) error {
	if !c.enabled() {
		return nil
	}
	return c.rdb.Set(ctx, idemKey(merchantID, key), intentID, ttl).Err()
}

// LookupIntent returns the intent id recorded for an idempotency key.
func (c *Cache) LookupIntent(ctx context.Context, merchantID uint64, key string) (string, error) {
	if !c.enabled() {
		return "", ErrMiss
	}
	id, err := c.rdb.Get(ctx, idemKey(merchantID, key)).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrMiss
	}
	return id, err
}
