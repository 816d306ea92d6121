package service

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/carzone/carzone-backend/internal/observability"
)

// RevocationLedger tracks access token ids that must be rejected before
// their natural expiry. Entries carry the token's remaining lifetime so the
// ledger never outgrows the set of tokens that could still verify.
type RevocationLedger interface {
	Revoke(ctx context.Context, tokenID string, remaining time.Duration, reason string) error
	IsRevoked(ctx context.Context, tokenID string) (bool, error)
}

type RedisRevocationLedger struct {
	client redis.UniversalClient
	prefix string
}

func NewRedisRevocationLedger(client redis.UniversalClient, prefix string) *RedisRevocationLedger {
	if prefix == "" {
		prefix = "blacklist"
	}
	return &RedisRevocationLedger{client: client, prefix: prefix}
}

func (l *RedisRevocationLedger) key(tokenID string) string {
	return fmt.Sprintf("%s:%s", l.prefix, tokenID)
}

func (l *RedisRevocationLedger) Revoke(ctx context.Context, tokenID string, remaining time.Duration, reason string) error {
	if tokenID == "" {
		return nil
	}
	if remaining <= 0 {
		// Already past expiry; the verifier rejects it on its own.
		return nil
	}
	if err := l.client.Set(ctx, l.key(tokenID), reason, remaining).Err(); err != nil {
		return err
	}
	observability.RecordRevocation(ctx, reason)
	return nil
}

func (l *RedisRevocationLedger) IsRevoked(ctx context.Context, tokenID string) (bool, error) {
	if tokenID == "" {
		return false, nil
	}
	_, err := l.client.Get(ctx, l.key(tokenID)).Result()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}
