package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/carzone/carzone-backend/internal/domain"
)

var ErrSessionNotFound = errors.New("session not found")

// SessionStore holds refresh sessions keyed by session id. A session lives
// for a fixed absolute window from creation; rotation replaces the record
// under a fresh id rather than sliding the old one.
type SessionStore interface {
	Put(ctx context.Context, session *domain.Session, ttl time.Duration) error
	Get(ctx context.Context, sessionID string) (*domain.Session, error)
	// Claim atomically fetches and removes a session. Exactly one of any
	// set of concurrent callers for the same id succeeds; the rest get
	// ErrSessionNotFound.
	Claim(ctx context.Context, sessionID string) (*domain.Session, error)
	Delete(ctx context.Context, sessionID string) error
	ListForUser(ctx context.Context, userID string) ([]*domain.Session, error)
	DeleteAllForUser(ctx context.Context, userID string) (int64, error)
	CountForUser(ctx context.Context, userID string) (int64, error)
}

type RedisSessionStore struct {
	client redis.UniversalClient
	prefix string
}

func NewRedisSessionStore(client redis.UniversalClient, prefix string) *RedisSessionStore {
	if prefix == "" {
		prefix = "session"
	}
	return &RedisSessionStore{client: client, prefix: prefix}
}

func (s *RedisSessionStore) sessionKey(sessionID string) string {
	return fmt.Sprintf("%s:%s", s.prefix, sessionID)
}

func (s *RedisSessionStore) userIndexKey(userID string) string {
	return fmt.Sprintf("user_sessions:%s", userID)
}

func (s *RedisSessionStore) Put(ctx context.Context, session *domain.Session, ttl time.Duration) error {
	if ttl <= 0 {
		return fmt.Errorf("session ttl must be positive, got %s", ttl)
	}
	key := s.sessionKey(session.SessionID)
	index := s.userIndexKey(session.UserID)
	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, key, map[string]any{
		"session_id":      session.SessionID,
		"user_id":         session.UserID,
		"refresh_token":   session.RefreshToken,
		"access_token_id": session.AccessTokenID,
		"device":          session.Device,
		"ip":              session.IP,
		"last_activity":   session.LastActivity.UTC().Format(time.RFC3339Nano),
	})
	pipe.Expire(ctx, key, ttl)
	pipe.SAdd(ctx, index, session.SessionID)
	// The index outlives its members slightly so logout-all can still find
	// ids whose hashes already expired. Stale members are pruned on read.
	pipe.Expire(ctx, index, ttl+time.Minute)
	_, err := pipe.Exec(ctx)
	return err
}

func (s *RedisSessionStore) Get(ctx context.Context, sessionID string) (*domain.Session, error) {
	fields, err := s.client.HGetAll(ctx, s.sessionKey(sessionID)).Result()
	if err != nil {
		return nil, err
	}
	if len(fields) == 0 {
		return nil, ErrSessionNotFound
	}
	return sessionFromFields(fields)
}

func (s *RedisSessionStore) Claim(ctx context.Context, sessionID string) (*domain.Session, error) {
	key := s.sessionKey(sessionID)
	pipe := s.client.TxPipeline()
	getAll := pipe.HGetAll(ctx, key)
	del := pipe.Del(ctx, key)
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, err
	}
	// Only the caller whose DEL removed the key owns the session. A racing
	// caller can observe the hash but its DEL finds nothing to remove.
	if del.Val() != 1 {
		return nil, ErrSessionNotFound
	}
	fields := getAll.Val()
	if len(fields) == 0 {
		return nil, ErrSessionNotFound
	}
	session, err := sessionFromFields(fields)
	if err != nil {
		return nil, err
	}
	s.client.SRem(ctx, s.userIndexKey(session.UserID), sessionID)
	return session, nil
}

func (s *RedisSessionStore) Delete(ctx context.Context, sessionID string) error {
	session, err := s.Get(ctx, sessionID)
	if errors.Is(err, ErrSessionNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	pipe := s.client.TxPipeline()
	pipe.Del(ctx, s.sessionKey(sessionID))
	pipe.SRem(ctx, s.userIndexKey(session.UserID), sessionID)
	_, err = pipe.Exec(ctx)
	return err
}

func (s *RedisSessionStore) ListForUser(ctx context.Context, userID string) ([]*domain.Session, error) {
	ids, err := s.client.SMembers(ctx, s.userIndexKey(userID)).Result()
	if err != nil && err != redis.Nil {
		return nil, err
	}
	sessions := make([]*domain.Session, 0, len(ids))
	for _, id := range ids {
		session, err := s.Get(ctx, id)
		if errors.Is(err, ErrSessionNotFound) {
			s.client.SRem(ctx, s.userIndexKey(userID), id)
			continue
		}
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, session)
	}
	return sessions, nil
}

func (s *RedisSessionStore) DeleteAllForUser(ctx context.Context, userID string) (int64, error) {
	index := s.userIndexKey(userID)
	ids, err := s.client.SMembers(ctx, index).Result()
	if err != nil && err != redis.Nil {
		return 0, err
	}
	if len(ids) == 0 {
		return 0, nil
	}
	keys := make([]string, 0, len(ids))
	for _, id := range ids {
		keys = append(keys, s.sessionKey(id))
	}
	pipe := s.client.TxPipeline()
	del := pipe.Del(ctx, keys...)
	pipe.Del(ctx, index)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, err
	}
	return del.Val(), nil
}

func (s *RedisSessionStore) CountForUser(ctx context.Context, userID string) (int64, error) {
	ids, err := s.client.SMembers(ctx, s.userIndexKey(userID)).Result()
	if err != nil && err != redis.Nil {
		return 0, err
	}
	var live int64
	for _, id := range ids {
		exists, err := s.client.Exists(ctx, s.sessionKey(id)).Result()
		if err != nil {
			return 0, err
		}
		if exists == 1 {
			live++
		} else {
			s.client.SRem(ctx, s.userIndexKey(userID), id)
		}
	}
	return live, nil
}

func sessionFromFields(fields map[string]string) (*domain.Session, error) {
	session := &domain.Session{
		SessionID:     fields["session_id"],
		UserID:        fields["user_id"],
		RefreshToken:  fields["refresh_token"],
		AccessTokenID: fields["access_token_id"],
		Device:        fields["device"],
		IP:            fields["ip"],
	}
	if session.SessionID == "" || session.UserID == "" {
		return nil, fmt.Errorf("corrupt session record: %q", fields)
	}
	if raw := fields["last_activity"]; raw != "" {
		ts, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			// Older records stored a unix timestamp.
			secs, convErr := strconv.ParseInt(raw, 10, 64)
			if convErr != nil {
				return nil, fmt.Errorf("parse last_activity %q: %w", raw, err)
			}
			ts = time.Unix(secs, 0)
		}
		session.LastActivity = ts
	}
	return session, nil
}
