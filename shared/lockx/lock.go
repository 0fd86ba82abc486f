package lockx

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

var (
	ErrNotInitialized = errors.New("redis client not initialized")
	ErrInvalidTTL     = errors.New("ttl must be > 0")
)

const releaseScript = `
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`

type Lock struct {
	Key   string
	Token string
	TTL   time.Duration
}

func Acquire(ctx context.Context, client *redis.Client, key string, ttl time.Duration) (*Lock, bool, error) {
	if client == nil {
		return nil, false, ErrNotInitialized
	}
	if ttl <= 0 {
		return nil, false, ErrInvalidTTL
	}
	token := uuid.NewString()
	ok, err := client.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return nil, false, err
	}
	if !ok {
		return nil, false, nil
	}
	return &Lock{Key: key, Token: token, TTL: ttl}, true, nil
}

// Release deletes the key only while it still holds this lock's token.
func Release(ctx context.Context, client *redis.Client, lock *Lock) error {
	if client == nil {
		return ErrNotInitialized
	}
	if lock == nil {
		return errors.New("lock is nil")
	}
	return client.Eval(ctx, releaseScript, []string{lock.Key}, lock.Token).Err()
}

// Window is a de-duplication window: the first claim of an id inside ttl
// wins and later claims report a duplicate until the key expires or the
// winner forgets it.
type Window struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

func NewWindow(client *redis.Client, prefix string, ttl time.Duration) *Window {
	return &Window{client: client, prefix: prefix, ttl: ttl}
}

// Claim returns a non-nil Lock when id was not seen inside the window.
func (w *Window) Claim(ctx context.Context, id string) (*Lock, error) {
	if w == nil {
		return nil, ErrNotInitialized
	}
	lock, ok, err := Acquire(ctx, w.client, w.prefix+id, w.ttl)
	if err != nil || !ok {
		return nil, err
	}
	return lock, nil
}

// Forget gives a claim back so a redelivery of the same id is processed.
func (w *Window) Forget(ctx context.Context, lock *Lock) error {
	if w == nil {
		return ErrNotInitialized
	}
	return Release(ctx, w.client, lock)
}
