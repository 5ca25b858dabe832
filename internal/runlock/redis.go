package runlock

import (
	"context"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

// снимаем ключ только если он всё ещё наш
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Redis is a lock shared by every ship-sync replica. The key TTL is the
// staleness threshold: a crashed holder's key simply expires.
type Redis struct {
	c   *redis.Client
	key string
	ttl time.Duration
	now func() time.Time
}

func NewRedis(c *redis.Client, key string, stale time.Duration) *Redis {
	if stale <= 0 {
		stale = time.Hour
	}
	return &Redis{c: c, key: key, ttl: stale, now: time.Now}
}

// value layout: token|unixMillis|owner
func (r *Redis) TryAcquire(ctx context.Context, owner string) (func(), bool, error) {
	token := uuid.NewString()
	value := token + "|" + strconv.FormatInt(r.now().UnixMilli(), 10) + "|" + owner

	ok, err := r.c.SetNX(ctx, r.key, value, r.ttl).Result()
	if err != nil {
		return nil, false, errors.Wrap(err, "redis lock acquire")
	}
	if !ok {
		return nil, false, nil
	}

	var once sync.Once
	release := func() {
		once.Do(func() {
			// run ctx may already be cancelled
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := releaseScript.Run(ctx, r.c, []string{r.key}, value).Err(); err != nil {
				slog.Error("redis lock release", "key", r.key, "err", err)
			}
		})
	}
	return release, true, nil
}

func (r *Redis) Holder(ctx context.Context) (*Holder, error) {
	v, err := r.c.Get(ctx, r.key).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "redis lock holder")
	}

	parts := strings.SplitN(v, "|", 3)
	if len(parts) != 3 {
		return &Holder{Owner: v}, nil
	}
	ms, _ := strconv.ParseInt(parts[1], 10, 64)
	return &Holder{Owner: parts[2], AcquiredAt: time.UnixMilli(ms).UTC()}, nil
}
