package pkg

import (
	"strings"

	"github.com/redis/go-redis/v9"
)

// NewRedisClient accepts either host:port or a redis:// URL.
func NewRedisClient(addr string) *redis.Client {
	if strings.HasPrefix(addr, "redis://") || strings.HasPrefix(addr, "rediss://") {
		opts, err := redis.ParseURL(addr)
		if err != nil {
			panic(err)
		}
		return redis.NewClient(opts)
	}

	return redis.NewClient(&redis.Options{
		Addr: addr,
	})
}
