package realtime

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"

	"github.com/accountable/accountable-backend/pkg/logger"
)

// Source opens a change stream for one user. The returned channel closes when
// ctx ends or the stream breaks; stop releases the subscription.
type Source interface {
	Stream(ctx context.Context, userID uuid.UUID, filter TableFilter) (<-chan Change, func(), error)
}

type redisSubscriber interface {
	Subscribe(ctx context.Context, channels ...string) (*goredis.PubSub, error)
	RealtimeChannel(userID string) string
}

type redisSource struct {
	client redisSubscriber
	buffer int
	logg   *logger.Logger
}

// NewRedisSource streams changes published by Publisher.
func NewRedisSource(client redisSubscriber, logg *logger.Logger) (Source, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client required")
	}
	if logg == nil {
		logg = logger.Nop()
	}
	return &redisSource{client: client, buffer: 32, logg: logg}, nil
}

func (s *redisSource) Stream(ctx context.Context, userID uuid.UUID, filter TableFilter) (<-chan Change, func(), error) {
	if userID == uuid.Nil {
		return nil, nil, fmt.Errorf("user id required")
	}
	sub, err := s.client.Subscribe(ctx, s.client.RealtimeChannel(userID.String()))
	if err != nil {
		return nil, nil, err
	}

	out := make(chan Change, s.buffer)
	ctx, cancel := context.WithCancel(ctx)
	go func() {
		defer close(out)
		defer sub.Close()
		messages := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-messages:
				if !ok {
					return
				}
				change, err := DecodeChange([]byte(msg.Payload))
				if err != nil {
					s.logg.Warn(s.logg.WithUserID(ctx, userID.String()), "skipping malformed realtime payload")
					continue
				}
				if !filter.Allows(change.Table) {
					continue
				}
				select {
				case out <- change:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, cancel, nil
}

func DecodeChange(data []byte) (Change, error) {
	var change Change
	if err := json.Unmarshal(data, &change); err != nil {
		return Change{}, fmt.Errorf("decode change: %w", err)
	}
	if change.Table == "" {
		return Change{}, fmt.Errorf("change table missing")
	}
	return change, nil
}
