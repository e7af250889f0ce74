// Package idempotency keeps consumers from applying the same domain event
// twice. A mark lives in Redis under
// acct:idempotency:evt:processed:<consumer>:<event_id> until its TTL runs out.
package idempotency

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/accountable/accountable-backend/pkg/redis"
)

var (
	ErrNoConsumer = errors.New("idempotency: consumer name is required")
	ErrNoEventID  = errors.New("idempotency: event id is required")
)

type Manager struct {
	store redis.IdempotencyStore
	ttl   time.Duration
	now   func() time.Time
}

// NewManager returns a guard whose marks expire after ttl. A zero ttl keeps
// marks forever.
func NewManager(store redis.IdempotencyStore, ttl time.Duration) (*Manager, error) {
	switch {
	case store == nil:
		return nil, errors.New("idempotency store is required")
	case ttl < 0:
		return nil, errors.New("ttl must be non-negative")
	}
	return &Manager{store: store, ttl: ttl, now: time.Now}, nil
}

// Process runs fn unless consumer already handled eventID, and reports
// whether fn ran. A failed fn releases the mark so a redelivery can retry.
func (m *Manager) Process(ctx context.Context, consumer string, eventID uuid.UUID, fn func(context.Context) error) (bool, error) {
	key, err := m.key(consumer, eventID)
	if err != nil {
		return false, err
	}
	claimed, err := m.store.SetNX(ctx, key, m.now().UTC().Format(time.RFC3339), m.ttl)
	if err != nil || !claimed {
		return false, err
	}

	if err := fn(ctx); err != nil {
		// the delivery may already be canceled; the mark must still go
		if relErr := m.store.Del(context.WithoutCancel(ctx), key); relErr != nil {
			return false, errors.Join(err, relErr)
		}
		return false, err
	}
	return true, nil
}

func (m *Manager) key(consumer string, eventID uuid.UUID) (string, error) {
	switch {
	case consumer == "":
		return "", ErrNoConsumer
	case eventID == uuid.Nil:
		return "", ErrNoEventID
	}
	return m.store.IdempotencyKey("evt:processed:"+consumer, eventID.String()), nil
}
