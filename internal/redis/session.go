package redisclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/dentalops/clinic-scheduler/internal/session"
)

type sessionTracker struct {
	client *redis.Client
	ttl    time.Duration
}

// NewSessionTracker stores conversation context as JSON values with a TTL,
// so every scheduler process sees the same session state and eviction needs
// no janitor.
func NewSessionTracker(client *redis.Client, ttl time.Duration) session.Tracker {
	return &sessionTracker{client: client, ttl: ttl}
}

func sessionKey(id string) string {
	return fmt.Sprintf("session:%s", id)
}

func (t *sessionTracker) Get(ctx context.Context, sessionID string) (*session.Context, error) {
	raw, err := t.client.Get(ctx, sessionKey(sessionID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, session.ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}

	var sc session.Context
	if err := json.Unmarshal(raw, &sc); err != nil {
		return nil, fmt.Errorf("decode session: %w", err)
	}
	return &sc, nil
}

func (t *sessionTracker) Put(ctx context.Context, sc *session.Context) error {
	stored := *sc
	stored.UpdatedAt = time.Now().UTC()

	raw, err := json.Marshal(stored)
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}
	if err := t.client.Set(ctx, sessionKey(sc.SessionID), raw, t.ttl).Err(); err != nil {
		return fmt.Errorf("store session: %w", err)
	}
	return nil
}

func (t *sessionTracker) Delete(ctx context.Context, sessionID string) error {
	if err := t.client.Del(ctx, sessionKey(sessionID)).Err(); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}
