package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/carzone/carzone-backend/internal/security"
)

var ErrTooManyAttempts = errors.New("too many attempts, try again later")

type ThrottleScope string

const (
	ThrottleScopeLogin ThrottleScope = "login"
	ThrottleScopeReset ThrottleScope = "reset"
)

// ThrottlePolicy shapes the escalating cooldown applied to repeated
// credential failures from the same identity and address.
type ThrottlePolicy struct {
	FreeAttempts int
	BaseDelay    time.Duration
	Multiplier   int
	MaxDelay     time.Duration
	ResetWindow  time.Duration
}

func DefaultThrottlePolicy() ThrottlePolicy {
	return ThrottlePolicy{
		FreeAttempts: 3,
		BaseDelay:    2 * time.Second,
		Multiplier:   2,
		MaxDelay:     5 * time.Minute,
		ResetWindow:  30 * time.Minute,
	}
}

// LoginThrottle slows down credential stuffing without locking accounts
// outright. Failures escalate a per-identity and per-address cooldown; a
// success clears it.
type LoginThrottle interface {
	Check(ctx context.Context, scope ThrottleScope, identity, ip string) (time.Duration, error)
	RegisterFailure(ctx context.Context, scope ThrottleScope, identity, ip string) (time.Duration, error)
	Reset(ctx context.Context, scope ThrottleScope, identity, ip string) error
}

type RedisLoginThrottle struct {
	client redis.UniversalClient
	prefix string
	policy ThrottlePolicy
}

func NewRedisLoginThrottle(client redis.UniversalClient, prefix string, policy ThrottlePolicy) *RedisLoginThrottle {
	if prefix == "" {
		prefix = "throttle"
	}
	if policy.BaseDelay <= 0 {
		policy = DefaultThrottlePolicy()
	}
	return &RedisLoginThrottle{client: client, prefix: prefix, policy: policy}
}

func (t *RedisLoginThrottle) Check(ctx context.Context, scope ThrottleScope, identity, ip string) (time.Duration, error) {
	var worst time.Duration
	for _, key := range t.keys(scope, identity, ip) {
		remaining, err := t.remainingCooldown(ctx, key)
		if err != nil {
			return 0, err
		}
		if remaining > worst {
			worst = remaining
		}
	}
	return worst, nil
}

func (t *RedisLoginThrottle) RegisterFailure(ctx context.Context, scope ThrottleScope, identity, ip string) (time.Duration, error) {
	var worst time.Duration
	now := time.Now()
	for _, key := range t.keys(scope, identity, ip) {
		strikes, err := t.client.HIncrBy(ctx, key, "strikes", 1).Result()
		if err != nil {
			return 0, err
		}
		cooldown := t.cooldownFor(int(strikes))
		fields := map[string]any{"last_failure_ms": now.UnixMilli()}
		if cooldown > 0 {
			fields["cooldown_until_ms"] = now.Add(cooldown).UnixMilli()
		}
		pipe := t.client.TxPipeline()
		pipe.HSet(ctx, key, fields)
		pipe.Expire(ctx, key, t.policy.ResetWindow)
		if _, err := pipe.Exec(ctx); err != nil {
			return 0, err
		}
		if cooldown > worst {
			worst = cooldown
		}
	}
	return worst, nil
}

func (t *RedisLoginThrottle) Reset(ctx context.Context, scope ThrottleScope, identity, ip string) error {
	keys := t.keys(scope, identity, ip)
	if len(keys) == 0 {
		return nil
	}
	return t.client.Del(ctx, keys...).Err()
}

func (t *RedisLoginThrottle) remainingCooldown(ctx context.Context, key string) (time.Duration, error) {
	raw, err := t.client.HGet(ctx, key, "cooldown_until_ms").Result()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	until, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse cooldown for %s: %w", key, err)
	}
	remaining := time.Until(time.UnixMilli(until))
	if remaining < 0 {
		return 0, nil
	}
	return remaining, nil
}

// cooldownFor returns zero inside the free-attempt budget, then grows the
// delay geometrically up to the cap.
func (t *RedisLoginThrottle) cooldownFor(strikes int) time.Duration {
	excess := strikes - t.policy.FreeAttempts
	if excess <= 0 {
		return 0
	}
	delay := t.policy.BaseDelay
	for i := 1; i < excess; i++ {
		delay *= time.Duration(t.policy.Multiplier)
		if delay >= t.policy.MaxDelay {
			return t.policy.MaxDelay
		}
	}
	if delay > t.policy.MaxDelay {
		delay = t.policy.MaxDelay
	}
	return delay
}

func (t *RedisLoginThrottle) keys(scope ThrottleScope, identity, ip string) []string {
	var keys []string
	if identity != "" {
		digest := sha256.Sum256([]byte(security.NormalizeEmail(identity)))
		keys = append(keys, fmt.Sprintf("%s:%s:id:%s", t.prefix, scope, hex.EncodeToString(digest[:8])))
	}
	if ip = strings.TrimSpace(ip); ip != "" {
		keys = append(keys, fmt.Sprintf("%s:%s:ip:%s", t.prefix, scope, ip))
	}
	return keys
}

// NoopLoginThrottle disables throttling, for tests and tools.
type NoopLoginThrottle struct{}

func (NoopLoginThrottle) Check(context.Context, ThrottleScope, string, string) (time.Duration, error) {
	return 0, nil
}

func (NoopLoginThrottle) RegisterFailure(context.Context, ThrottleScope, string, string) (time.Duration, error) {
	return 0, nil
}

func (NoopLoginThrottle) Reset(context.Context, ThrottleScope, string, string) error { return nil }
