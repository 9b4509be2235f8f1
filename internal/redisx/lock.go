package redisx

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ariefcatur/rockband-pos/internal/logging"
	"github.com/ariefcatur/rockband-pos/internal/session"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// the lock is released only by the holder of the token
var unlockScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)

// Locker implements session.Locker with SET NX so two API replicas
// serving the same terminal cannot submit its cart twice.
type Locker struct {
	rdb redis.Cmdable
	log *slog.Logger
}

func NewLocker(rdb redis.Cmdable, log *slog.Logger) *Locker {
	if log == nil {
		log = logging.Discard()
	}
	return &Locker{rdb: rdb, log: log}
}

func (l *Locker) TryLock(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	k := fmt.Sprintf(KeyLock, key)
	token := uuid.NewString()
	ok, err := l.rdb.SetNX(ctx, k, token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("acquire %s: %w", k, err)
	}
	if !ok {
		return nil, session.ErrSubmitInProgress
	}
	return func() {
		// the caller's ctx may already be done when unlocking
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := unlockScript.Run(ctx, l.rdb, []string{k}, token).Err(); err != nil {
			l.log.Warn("release lock failed", "key", k, "err", err)
		}
	}, nil
}
