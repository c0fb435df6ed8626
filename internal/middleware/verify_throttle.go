package middleware

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
)

// VerifyThrottle limits code submissions per transfer reference using Redis.
// Mount it after the ownership check so callers cannot spend the budget of
// transfers they cannot see.
// Without Redis, or when Redis errors, requests pass through; the per-code
// attempt counter still applies.
func VerifyThrottle(cache *redis.Client, maxPerMin int) fiber.Handler {
	if maxPerMin <= 0 {
		maxPerMin = 5
	}
	return func(c *fiber.Ctx) error {
		if cache == nil {
			return c.Next()
		}
		ref := c.Params("reference")
		if ref == "" {
			ref = c.IP()
		}
		key := "rl:verify:" + ref
		var incr *redis.IntCmd
		// NX keeps the window fixed while still arming a key whose earlier
		// expiry was lost.
		_, err := cache.TxPipelined(c.UserContext(), func(pipe redis.Pipeliner) error {
			incr = pipe.Incr(c.UserContext(), key)
			pipe.ExpireNX(c.UserContext(), key, time.Minute)
			return nil
		})
		if err != nil {
			return c.Next()
		}
		cnt := incr.Val()
		if cnt > int64(maxPerMin) {
			if ttl, err := cache.TTL(c.UserContext(), key).Result(); err == nil && ttl > 0 {
				c.Set(fiber.HeaderRetryAfter, strconv.Itoa(int(ttl.Seconds())+1))
			}
			return fiber.NewError(http.StatusTooManyRequests, "too many verification attempts, try again later")
		}
		return c.Next()
	}
}
