package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/supportdesk/internal/config"
)

const (
	keyMessageUser   = "supportdesk:messages:user:%s"
	keyWorkEntryUser = "supportdesk:work_entries:user:%s"
	keyTicketWrite   = "supportdesk:ticket_write:%s:%s"
)

// WriteLimiter throttles message posting and work logging per user and
// rejects overlapping submissions by the same user on the same ticket.
// A nil *WriteLimiter allows everything.
type WriteLimiter struct {
	bucket *TokenBucket
	locker *Locker

	messageRate    float64
	messageBurst   int
	workEntryRate  float64
	workEntryBurst int
	lockTTL        time.Duration
}

func NewWriteLimiter(cfg config.Config) (*WriteLimiter, error) {
	limitCfg := cfg.RateLimit
	if !limitCfg.Enabled {
		return nil, nil
	}

	addr := strings.TrimSpace(limitCfg.RedisAddr)
	if addr == "" {
		return nil, errors.New("rate limit redis addr is required")
	}
	if limitCfg.MessageRate <= 0 || limitCfg.MessageBurst <= 0 {
		return nil, errors.New("message rate limit must be positive")
	}
	if limitCfg.WorkEntryRate <= 0 || limitCfg.WorkEntryBurst <= 0 {
		return nil, errors.New("work entry rate limit must be positive")
	}
	lockTTL := time.Duration(limitCfg.WriteLockTTLSeconds) * time.Second
	if lockTTL <= 0 {
		lockTTL = 5 * time.Second
	}

	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: strings.TrimSpace(limitCfg.RedisPassword),
		DB:       limitCfg.RedisDB,
	})

	return &WriteLimiter{
		bucket:         NewTokenBucket(client),
		locker:         NewLocker(client),
		messageRate:    limitCfg.MessageRate,
		messageBurst:   limitCfg.MessageBurst,
		workEntryRate:  limitCfg.WorkEntryRate,
		workEntryBurst: limitCfg.WorkEntryBurst,
		lockTTL:        lockTTL,
	}, nil
}

func (l *WriteLimiter) Enabled() bool {
	return l != nil && l.bucket != nil
}

func (l *WriteLimiter) AllowMessage(ctx context.Context, userID string) (Result, error) {
	if !l.Enabled() {
		return Result{Allowed: true}, nil
	}
	return l.bucket.Allow(ctx, fmt.Sprintf(keyMessageUser, strings.TrimSpace(userID)), l.messageRate, l.messageBurst)
}

func (l *WriteLimiter) AllowWorkEntry(ctx context.Context, userID string) (Result, error) {
	if !l.Enabled() {
		return Result{Allowed: true}, nil
	}
	return l.bucket.Allow(ctx, fmt.Sprintf(keyWorkEntryUser, strings.TrimSpace(userID)), l.workEntryRate, l.workEntryBurst)
}

// TryLockTicketWrite returns a release func when the lock was acquired.
func (l *WriteLimiter) TryLockTicketWrite(ctx context.Context, userID, ticketID string) (func(context.Context), bool, error) {
	if !l.Enabled() {
		return func(context.Context) {}, true, nil
	}
	key := fmt.Sprintf(keyTicketWrite, strings.TrimSpace(userID), strings.TrimSpace(ticketID))
	token, ok, err := l.locker.TryLock(ctx, key, l.lockTTL)
	if err != nil || !ok {
		return nil, ok, err
	}
	return func(releaseCtx context.Context) {
		_ = l.locker.Release(releaseCtx, key, token)
	}, true, nil
}
