package lock

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/mstgnz/payflow/infra/logger"
)

// releaseScript deletes the key only if it still carries our token
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Redis is a lease-based lock shared by every replica using the same server
type Redis struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
	poll   time.Duration
	log    *logger.SystemLogger
}

// RedisOptions configures the Redis locker
type RedisOptions struct {
	Prefix string
	// TTL bounds how long a crashed holder blocks the key
	TTL  time.Duration
	Poll time.Duration
}

// NewRedis creates a Redis locker over client
func NewRedis(client *redis.Client, opts RedisOptions, log *logger.SystemLogger) *Redis {
	if opts.Prefix == "" {
		opts.Prefix = "payflow:lock:"
	}
	if opts.TTL == 0 {
		opts.TTL = time.Minute
	}
	if opts.Poll == 0 {
		opts.Poll = 25 * time.Millisecond
	}
	if log == nil {
		log = logger.NewNop()
	}
	return &Redis{client: client, prefix: opts.Prefix, ttl: opts.TTL, poll: opts.Poll, log: log}
}

func (r *Redis) Lock(ctx context.Context, key string) (Unlock, error) {
	redisKey := r.prefix + key
	token := uuid.NewString()

	ticker := time.NewTicker(r.poll)
	defer ticker.Stop()
	for {
		ok, err := r.client.SetNX(ctx, redisKey, token, r.ttl).Result()
		if err != nil {
			return nil, err
		}
		if ok {
			break
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}

	return func() {
		releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		n, err := releaseScript.Run(releaseCtx, r.client, []string{redisKey}, token).Int()
		if err != nil {
			r.log.Error("Failed to release lock", err, logger.LogContext{Fields: map[string]any{"key": key}})
			return
		}
		if n == 0 {
			r.log.Warn("Lock expired before release", logger.LogContext{Fields: map[string]any{
				"key":    key,
				"ttl_ms": r.ttl.Milliseconds(),
				"error":  ErrNotHeld.Error(),
			}})
		}
	}, nil
}
