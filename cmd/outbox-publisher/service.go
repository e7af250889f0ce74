package main

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	gcppubsub "cloud.google.com/go/pubsub/v2"
	"github.com/google/uuid"
	"go.uber.org/multierr"
	"gorm.io/gorm"

	"github.com/accountable/accountable-backend/pkg/config"
	"github.com/accountable/accountable-backend/pkg/db/models"
	"github.com/accountable/accountable-backend/pkg/enums"
	"github.com/accountable/accountable-backend/pkg/logger"
	"github.com/accountable/accountable-backend/pkg/metrics"
	"github.com/accountable/accountable-backend/pkg/outbox"
	"github.com/accountable/accountable-backend/pkg/outbox/registry"
)

const (
	defaultBatchSize      = 50
	defaultPollMs         = 500
	defaultPublishTimeout = 15 * time.Second
	defaultMaxAttempts    = 10
	maxBackoff            = 10 * time.Second
	jitterWindow          = 250 * time.Millisecond
)

type dbClient interface {
	Ping(context.Context) error
	WithTx(context.Context, func(tx *gorm.DB) error) error
}

type pubSubClient interface {
	Ping(context.Context) error
	Publisher(name string) *gcppubsub.Publisher
}

type outboxRepository interface {
	FetchUnpublishedForPublish(tx *gorm.DB, limit, maxAttempts int) ([]models.OutboxEvent, error)
	MarkPublishedTx(tx *gorm.DB, id uuid.UUID, at time.Time) error
	MarkFailedTx(tx *gorm.DB, id uuid.UUID, err error) error
	MarkTerminalTx(tx *gorm.DB, id uuid.UUID, err error, at time.Time) error
}

type dlqRepository interface {
	InsertTx(tx *gorm.DB, entry models.OutboxDLQ) error
}

type registryResolver interface {
	Resolve(models.OutboxEvent) (*registry.ResolvedEvent, error)
}

type publisherFactory func(topic string) publisher

type publisher interface {
	Publish(context.Context, *gcppubsub.Message) publishResult
}

type publishResult interface {
	Get(context.Context) (string, error)
}

type ServiceParams struct {
	Config           *config.Config
	Logger           *logger.Logger
	DB               dbClient
	PubSub           pubSubClient
	Repository       outboxRepository
	Registry         registryResolver
	PublisherFactory publisherFactory
	DLQRepository    dlqRepository
	Metrics          *metrics.DomainMetrics
}

// Service drains the outbox: each poll claims a batch inside one transaction,
// hands every row to Pub/Sub before waiting on any ack, then records the
// outcome of each row in claim order.
type Service struct {
	logg             *logger.Logger
	db               dbClient
	repo             outboxRepository
	pubsub           pubSubClient
	registry         registryResolver
	dlq              dlqRepository
	publisherFactory publisherFactory
	metrics          *metrics.DomainMetrics
	batchSize        int
	maxAttempts      int
	pollInterval     time.Duration
	now              func() time.Time
}

// delivery tracks one claimed row from resolve through ack.
type delivery struct {
	event    models.OutboxEvent
	resolved *registry.ResolvedEvent
	result   publishResult
	err      error
}

func (d *delivery) topic() string {
	if d.resolved == nil {
		return ""
	}
	return d.resolved.Descriptor.Topic
}

func (d *delivery) envelope() outbox.PayloadEnvelope {
	if d.resolved == nil {
		return outbox.PayloadEnvelope{}
	}
	return d.resolved.Envelope
}

// batchStats is logged once per non-empty batch.
type batchStats struct {
	published    int
	retried      int
	deadLettered int
}

func NewService(params ServiceParams) (*Service, error) {
	var errs error
	if params.Config == nil {
		errs = multierr.Append(errs, errors.New("config is required"))
	}
	if params.Logger == nil {
		errs = multierr.Append(errs, errors.New("logger is required"))
	}
	if params.DB == nil {
		errs = multierr.Append(errs, errors.New("database client is required"))
	}
	if params.PubSub == nil {
		errs = multierr.Append(errs, errors.New("pubsub client is required"))
	}
	if params.Repository == nil {
		errs = multierr.Append(errs, errors.New("outbox repository is required"))
	}
	if params.Registry == nil {
		errs = multierr.Append(errs, errors.New("event registry is required"))
	}
	if params.DLQRepository == nil {
		errs = multierr.Append(errs, errors.New("dlq repository is required"))
	}
	if errs != nil {
		return nil, errs
	}

	factory := params.PublisherFactory
	if factory == nil {
		factory = func(topic string) publisher {
			return newGCPPublisher(params.PubSub.Publisher(topic))
		}
	}

	cfg := params.Config.Outbox
	return &Service{
		logg:             params.Logger,
		db:               params.DB,
		repo:             params.Repository,
		pubsub:           params.PubSub,
		registry:         params.Registry,
		dlq:              params.DLQRepository,
		publisherFactory: factory,
		metrics:          params.Metrics,
		batchSize:        positiveOr(cfg.BatchSize, defaultBatchSize),
		maxAttempts:      positiveOr(cfg.MaxAttempts, defaultMaxAttempts),
		pollInterval:     time.Duration(positiveOr(cfg.PollIntervalMS, defaultPollMs)) * time.Millisecond,
		now:              time.Now,
	}, nil
}

func positiveOr(v, fallback int) int {
	if v <= 0 {
		return fallback
	}
	return v
}

// ensureReadiness pings both dependencies and reports every failure.
func (s *Service) ensureReadiness(ctx context.Context) error {
	var errs error
	if err := s.db.Ping(ctx); err != nil {
		errs = multierr.Append(errs, fmt.Errorf("database ping failed: %w", err))
	}
	if err := s.pubsub.Ping(ctx); err != nil {
		errs = multierr.Append(errs, fmt.Errorf("pubsub ping failed: %w", err))
	}
	if errs != nil {
		s.logg.Error(ctx, "outbox.not_ready", errs)
	}
	return errs
}

// Run polls until ctx ends. An empty poll sleeps one interval; a failing
// batch backs off exponentially up to maxBackoff.
func (s *Service) Run(ctx context.Context) error {
	if err := s.ensureReadiness(ctx); err != nil {
		return err
	}

	backoff := s.pollInterval
	for {
		if err := ctx.Err(); err != nil {
			s.logg.Info(ctx, "outbox.stopping")
			return err
		}

		processed, err := s.processBatch(ctx)
		var wait time.Duration
		switch {
		case err != nil:
			s.logg.Error(ctx, "outbox.batch_failed", err)
			backoff = nextBackoff(backoff, s.pollInterval, maxBackoff)
			wait = withJitter(backoff)
		case processed:
			backoff = s.pollInterval
			continue
		default:
			backoff = s.pollInterval
			wait = withJitter(s.pollInterval)
		}
		if err := sleep(ctx, wait); err != nil {
			return err
		}
	}
}

func (s *Service) processBatch(ctx context.Context) (bool, error) {
	processed := false
	err := s.db.WithTx(ctx, func(tx *gorm.DB) error {
		events, err := s.repo.FetchUnpublishedForPublish(tx, s.batchSize, s.maxAttempts)
		if err != nil {
			return err
		}
		if len(events) == 0 {
			return nil
		}
		processed = true

		deliveries := s.publishAll(ctx, events)
		var stats batchStats
		for i := range deliveries {
			if err := s.settle(ctx, tx, &deliveries[i], &stats); err != nil {
				return err
			}
		}
		s.logg.Debug(s.logg.WithFields(ctx, map[string]any{
			"claimed":       len(events),
			"published":     stats.published,
			"retried":       stats.retried,
			"dead_lettered": stats.deadLettered,
		}), "outbox.batch_done")
		return nil
	})
	return processed, err
}

// publishAll resolves and hands off every event first so the client can
// batch them, then waits for each ack under one shared deadline.
func (s *Service) publishAll(ctx context.Context, events []models.OutboxEvent) []delivery {
	publishCtx, cancel := context.WithTimeout(ctx, defaultPublishTimeout)
	defer cancel()

	deliveries := make([]delivery, len(events))
	for i, event := range events {
		d := &deliveries[i]
		d.event = event

		resolved, err := s.registry.Resolve(event)
		if err != nil {
			d.err = asNonRetryable(err)
			continue
		}
		d.resolved = resolved
		d.result, d.err = s.send(publishCtx, event, resolved)
	}

	for i := range deliveries {
		d := &deliveries[i]
		if d.result == nil {
			continue
		}
		if _, err := d.result.Get(publishCtx); err != nil {
			d.err = err
		}
	}
	return deliveries
}

func (s *Service) send(ctx context.Context, event models.OutboxEvent, resolved *registry.ResolvedEvent) (publishResult, error) {
	topic := resolved.Descriptor.Topic
	pub := s.publisherFactory(topic)
	if pub == nil {
		return nil, registry.NewNonRetryableError(fmt.Errorf("publisher not configured for topic %s", topic))
	}

	result := pub.Publish(ctx, &gcppubsub.Message{
		Data:       event.Payload,
		Attributes: messageAttributes(event, resolved.Envelope),
	})
	if result == nil {
		return nil, registry.NewNonRetryableError(fmt.Errorf("publisher returned nil for topic %s", topic))
	}
	return result, nil
}

// messageAttributes lets subscribers route and dedupe without decoding the body.
func messageAttributes(event models.OutboxEvent, envelope outbox.PayloadEnvelope) map[string]string {
	eventID := envelope.EventID
	if eventID == "" {
		eventID = event.ID.String()
	}
	return map[string]string{
		"event_id":       eventID,
		"event_type":     string(event.EventType),
		"aggregate_type": string(event.AggregateType),
		"aggregate_id":   event.AggregateID.String(),
		"created_at":     event.CreatedAt.UTC().Format(time.RFC3339Nano),
	}
}

// settle records one delivery outcome inside the batch transaction.
func (s *Service) settle(ctx context.Context, tx *gorm.DB, d *delivery, stats *batchStats) error {
	event := d.event
	fields := s.eventFields(event, d.envelope(), d.topic())

	if d.err == nil {
		if err := s.repo.MarkPublishedTx(tx, event.ID, s.now().UTC()); err != nil {
			return fmt.Errorf("mark published %s: %w", event.ID, err)
		}
		stats.published++
		s.metrics.ObservePublished(string(event.EventType), event.CreatedAt)
		s.logg.Info(s.logg.WithFields(ctx, fields), "outbox.published")
		return nil
	}

	var nonRetry registry.NonRetryableError
	if errors.As(d.err, &nonRetry) {
		stats.deadLettered++
		return s.deadLetter(ctx, tx, event, enums.OutboxDLQReasonNonRetryable, d.err, fields)
	}

	attempt := event.AttemptCount + 1
	fields["attempt_count"] = attempt
	if attempt >= s.maxAttempts {
		stats.deadLettered++
		return s.deadLetter(ctx, tx, event, enums.OutboxDLQReasonMaxAttempts,
			fmt.Errorf("max publish attempts reached: %w", d.err), fields)
	}

	fields["error"] = d.err.Error()
	s.logg.Warn(s.logg.WithFields(ctx, fields), "outbox.publish_failed")
	if err := s.repo.MarkFailedTx(tx, event.ID, d.err); err != nil {
		return fmt.Errorf("mark failure %s: %w", event.ID, err)
	}
	stats.retried++
	s.metrics.ObserveFailed(string(event.EventType), false)
	return nil
}

// deadLetter copies the row into the DLQ and stops it from being claimed again.
func (s *Service) deadLetter(ctx context.Context, tx *gorm.DB, event models.OutboxEvent, reason enums.OutboxDLQErrorReason, cause error, fields map[string]any) error {
	fields["error_reason"] = reason
	fields["error"] = cause.Error()
	s.logg.Warn(s.logg.WithFields(ctx, fields), "outbox.dead_lettered")

	now := s.now().UTC()
	entry := models.DeadLetter(event, reason, cause.Error(), now)
	if err := s.dlq.InsertTx(tx, entry); err != nil {
		return fmt.Errorf("insert dlq %s: %w", event.ID, err)
	}
	if err := s.repo.MarkTerminalTx(tx, event.ID, cause, now); err != nil {
		return fmt.Errorf("mark terminal %s: %w", event.ID, err)
	}
	s.metrics.ObserveFailed(string(event.EventType), true)
	return nil
}

func asNonRetryable(err error) error {
	var nonRetry registry.NonRetryableError
	if errors.As(err, &nonRetry) {
		return err
	}
	return registry.NewNonRetryableError(err)
}

func (s *Service) eventFields(event models.OutboxEvent, envelope outbox.PayloadEnvelope, topic string) map[string]any {
	fields := map[string]any{
		"outbox_id":      event.ID.String(),
		"event_type":     event.EventType,
		"aggregate_type": event.AggregateType,
		"aggregate_id":   event.AggregateID.String(),
		"attempt_count":  event.AttemptCount,
	}
	if envelope.EventID != "" {
		fields["event_id"] = envelope.EventID
		fields["occurred_at"] = envelope.OccurredAt.Format(time.RFC3339Nano)
	}
	if topic != "" {
		fields["topic"] = topic
	}
	if event.LastError != nil {
		fields["last_error"] = *event.LastError
	}
	return fields
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func nextBackoff(current, base, limit time.Duration) time.Duration {
	if current <= 0 {
		current = base
	}
	return min(current*2, limit)
}

func withJitter(d time.Duration) time.Duration {
	if d <= 0 {
		return 0
	}
	return d + rand.N(jitterWindow)
}

func newGCPPublisher(p *gcppubsub.Publisher) publisher {
	if p == nil {
		return nil
	}
	return gcpPublisher{p}
}

// gcpPublisher narrows *pubsub.Publisher to the publisher interface.
type gcpPublisher struct {
	pub *gcppubsub.Publisher
}

func (p gcpPublisher) Publish(ctx context.Context, msg *gcppubsub.Message) publishResult {
	return p.pub.Publish(ctx, msg)
}
