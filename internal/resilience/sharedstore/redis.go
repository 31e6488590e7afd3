package sharedstore

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// casScript atomically compares the value at KEYS[1] against ARGV[1]
// ("" sentinel means "key must not exist") and, if it matches, sets it to
// ARGV[2] with expiry ARGV[3] milliseconds (0 means no expiry).
const casScript = `
local current = redis.call("GET", KEYS[1])
if ARGV[1] == "" then
	if current then
		return 0
	end
else
	if current == false or current ~= ARGV[1] then
		return 0
	end
end
if tonumber(ARGV[3]) > 0 then
	redis.call("SET", KEYS[1], ARGV[2], "PX", ARGV[3])
else
	redis.call("SET", KEYS[1], ARGV[2])
end
return 1
`

// Redis is a SharedStore backed by a github.com/redis/go-redis/v9 client,
// used when rate limiting or circuit breaking must coordinate across
// multiple harvestor processes rather than a single in-process instance.
type Redis struct {
	client *redis.Client
	script *redis.Script
}

// NewRedis wraps an existing go-redis client.
func NewRedis(client *redis.Client) *Redis {
	return &Redis{client: client, script: redis.NewScript(casScript)}
}

func (r *Redis) Get(ctx context.Context, key string) ([]byte, bool, error) {
	val, err := r.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return val, true, nil
}

func (r *Redis) CompareAndSwap(ctx context.Context, key string, oldVal, newVal []byte, ttl time.Duration) (bool, error) {
	oldArg := string(oldVal)
	ttlMillis := int64(0)
	if ttl > 0 {
		ttlMillis = ttl.Milliseconds()
	}

	res, err := r.script.Run(ctx, r.client, []string{key}, oldArg, string(newVal), ttlMillis).Result()
	if err != nil {
		return false, err
	}
	swapped, ok := res.(int64)
	if !ok {
		return false, nil
	}
	return swapped == 1, nil
}

func (r *Redis) Close() error {
	return r.client.Close()
}
