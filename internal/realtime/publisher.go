package realtime

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/multierr"

	"github.com/accountable/accountable-backend/pkg/logger"
)

type channelPublisher interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	RealtimeChannel(userID string) string
}

// Publisher fans changes out to the per-user Redis channels.
type Publisher struct {
	client channelPublisher
	logg   *logger.Logger
}

func NewPublisher(client channelPublisher, logg *logger.Logger) (*Publisher, error) {
	if client == nil {
		return nil, fmt.Errorf("redis publisher required")
	}
	if logg == nil {
		logg = logger.Nop()
	}
	return &Publisher{client: client, logg: logg}, nil
}

// Publish delivers change to every distinct recipient. A failure for one
// recipient does not stop delivery to the others.
func (p *Publisher) Publish(ctx context.Context, change Change, recipients ...uuid.UUID) error {
	if p == nil {
		return nil
	}
	payload, err := json.Marshal(change)
	if err != nil {
		return fmt.Errorf("encode change: %w", err)
	}

	var errs error
	seen := make(map[uuid.UUID]struct{}, len(recipients))
	for _, userID := range recipients {
		if userID == uuid.Nil {
			continue
		}
		if _, dup := seen[userID]; dup {
			continue
		}
		seen[userID] = struct{}{}
		channel := p.client.RealtimeChannel(userID.String())
		if err := p.client.Publish(ctx, channel, payload); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("publish to %s: %w", channel, err))
		}
	}
	if errs == nil {
		p.logg.Debug(p.logg.WithFields(ctx, map[string]any{
			"table":      change.Table,
			"record_id":  change.RecordID.String(),
			"recipients": len(seen),
		}), "realtime change published")
	}
	return errs
}
