package coupons

import (
	"context"
	stdErrors "errors"
	"fmt"
	"strings"
	"time"

	"github.com/bsm/redislock"
	"github.com/google/uuid"

	pkgerrors "github.com/angelmondragon/retail-backoffice/pkg/errors"
)


// Locker serialises the evaluate-then-redeem window of one coupon and
// customer across API replicas. The conditional counter updates stay the
// source of truth; the lock only keeps racing requests from both passing
// evaluation.
type Locker interface {
	Obtain(ctx context.Context, key string) (release func(context.Context), err error)
}

// LockKey scopes a lock to a shop, coupon code and customer. Anonymous
// orders share one key per coupon. The Redis namespace is added by the
// locker.
func LockKey(shopID uuid.UUID, code string, customerID *uuid.UUID) string {
	customer := "anonymous"
	if customerID != nil {
		customer = customerID.String()
	}
	return fmt.Sprintf("%s:%s:%s", shopID, strings.ToUpper(strings.TrimSpace(code)), customer)
}

// KeyFunc joins key parts under a Redis namespace, like redis.Client.Key.
type KeyFunc func(parts ...string) string

type redisLocker struct {
	client *redislock.Client
	key    KeyFunc
	ttl    time.Duration
	retry  redislock.RetryStrategy
}

// NewRedisLocker builds a Locker on bsm/redislock. Waiting callers retry
// every 50ms until ctx or the lock TTL runs out.
func NewRedisLocker(client redislock.RedisClient, key KeyFunc, ttl time.Duration) Locker {
	if ttl <= 0 {
		ttl = 5 * time.Second
	}
	return &redisLocker{
		client: redislock.New(client),
		key:    key,
		ttl:    ttl,
		retry:  redislock.LimitRetry(redislock.LinearBackoff(50*time.Millisecond), int(ttl/(50*time.Millisecond))),
	}
}

func (l *redisLocker) name(key string) string {
	return l.key("coupon-lock", key)
}

func (l *redisLocker) Obtain(ctx context.Context, key string) (func(context.Context), error) {
	lock, err := l.client.Obtain(ctx, l.name(key), l.ttl, &redislock.Options{RetryStrategy: l.retry})
	if err != nil {
		if stdErrors.Is(err, redislock.ErrNotObtained) {
			return nil, pkgerrors.Wrap(pkgerrors.CodeConcurrencyConflict, err, "coupon is being redeemed by another request")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "obtain coupon lock")
	}
	return func(releaseCtx context.Context) {
		_ = lock.Release(releaseCtx)
	}, nil
}

type noopLocker struct{}

// NoopLocker is used when Redis is not configured.
func NoopLocker() Locker {
	return noopLocker{}
}

func (noopLocker) Obtain(context.Context, string) (func(context.Context), error) {
	return func(context.Context) {}, nil
}
