package idempotency

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/retail-backoffice/pkg/redis"
)

// DefaultTTL outlives the Pub/Sub retention window so a redelivered event
// always finds its marker.
const DefaultTTL = 8 * 24 * time.Hour

var (
	errConsumerRequired = errors.New("consumer name is required")
	errEventIDRequired  = errors.New("event id is required")
)

// Manager records which events each consumer has handled. A marker is a
// Redis key set with SETNX whose value is the time it was claimed.
type Manager struct {
	store redis.IdempotencyStore
	ttl   time.Duration
	now   func() time.Time
}

// NewManager builds the guard. A zero ttl falls back to DefaultTTL.
func NewManager(store redis.IdempotencyStore, ttl time.Duration) (*Manager, error) {
	if store == nil {
		return nil, errors.New("idempotency store is required")
	}
	switch {
	case ttl < 0:
		return nil, fmt.Errorf("ttl must be positive, got %s", ttl)
	case ttl == 0:
		ttl = DefaultTTL
	}
	return &Manager{store: store, ttl: ttl, now: time.Now}, nil
}

// CheckAndMarkProcessed claims eventID for consumer. It returns true when
// another delivery already holds the claim.
func (m *Manager) CheckAndMarkProcessed(ctx context.Context, consumer string, eventID uuid.UUID) (bool, error) {
	key, err := m.key(consumer, eventID)
	if err != nil {
		return false, err
	}
	claimed, err := m.store.SetNX(ctx, key, m.now().UTC().Format(time.RFC3339), m.ttl)
	if err != nil {
		return false, fmt.Errorf("claim %s: %w", eventID, err)
	}
	return !claimed, nil
}

// Delete drops the claim so a failed delivery can be retried.
func (m *Manager) Delete(ctx context.Context, consumer string, eventID uuid.UUID) error {
	key, err := m.key(consumer, eventID)
	if err != nil {
		return err
	}
	return m.store.Del(ctx, key)
}

func (m *Manager) key(consumer string, eventID uuid.UUID) (string, error) {
	consumer = strings.TrimSpace(consumer)
	if consumer == "" {
		return "", errConsumerRequired
	}
	if eventID == uuid.Nil {
		return "", errEventIDRequired
	}
	return m.store.IdempotencyKey("evt:"+consumer, eventID.String()), nil
}
