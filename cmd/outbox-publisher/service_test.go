package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	gcppubsub "cloud.google.com/go/pubsub/v2"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/accountable/accountable-backend/pkg/config"
	"github.com/accountable/accountable-backend/pkg/db/models"
	"github.com/accountable/accountable-backend/pkg/enums"
	"github.com/accountable/accountable-backend/pkg/logger"
	"github.com/accountable/accountable-backend/pkg/metrics"
	"github.com/accountable/accountable-backend/pkg/outbox"
	"github.com/accountable/accountable-backend/pkg/outbox/payloads"
	"github.com/accountable/accountable-backend/pkg/outbox/registry"
)

func goalEvent(t *testing.T, eventID string) models.OutboxEvent {
	t.Helper()
	return models.OutboxEvent{
		ID:            uuid.New(),
		EventType:     enums.EventGoalCreated,
		AggregateType: enums.AggregateGoal,
		AggregateID:   uuid.New(),
		Payload:       mustEnvelopePayload(t, eventID),
		CreatedAt:     time.Now().Add(-time.Second),
	}
}

func goalResolved() *registry.ResolvedEvent {
	return &registry.ResolvedEvent{
		Descriptor: registry.EventDescriptor{Topic: "domain-topic", AggregateType: enums.AggregateGoal},
		Payload:    &payloads.GoalEvent{},
	}
}

func TestProcessBatchContinuesAfterFailure(t *testing.T) {
	repo := &fakeRepo{events: []models.OutboxEvent{goalEvent(t, "event-one"), goalEvent(t, "event-two")}}
	pub := &fakePublisher{results: []*fakePublishResult{{err: errors.New("transient")}, {}}}
	reg := prometheus.NewRegistry()
	service := newTestService(t, repo, pub, &fakeRegistry{resolved: goalResolved()}, &fakeDLQRepo{}, nil)
	service.metrics = metrics.NewDomainMetrics(reg)

	processed, err := service.processBatch(context.Background())
	require.NoError(t, err)
	assert.True(t, processed)

	require.Equal(t, []uuid.UUID{repo.events[0].ID}, repo.failed)
	require.Equal(t, []uuid.UUID{repo.events[1].ID}, repo.published)
	assert.Empty(t, repo.terminal)

	assert.Equal(t, 1.0, counterValue(t, reg, "accountable_outbox_published_total", map[string]string{"event_type": "goal_created"}))
	assert.Equal(t, 1.0, counterValue(t, reg, "accountable_outbox_failed_total", map[string]string{"event_type": "goal_created", "terminal": "false"}))
}

func counterValue(t *testing.T, reg *prometheus.Registry, name string, labels map[string]string) float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	for _, family := range families {
		if family.GetName() != name {
			continue
		}
		for _, metric := range family.GetMetric() {
			if labelsMatch(metric.GetLabel(), labels) {
				return metric.GetCounter().GetValue()
			}
		}
	}
	return 0
}

func labelsMatch(pairs []*dto.LabelPair, want map[string]string) bool {
	matched := 0
	for _, pair := range pairs {
		if v, ok := want[pair.GetName()]; ok && v == pair.GetValue() {
			matched++
		}
	}
	return matched == len(want)
}

func TestProcessBatchPublishesEverythingBeforeWaiting(t *testing.T) {
	var calls []string
	repo := &fakeRepo{events: []models.OutboxEvent{goalEvent(t, "a"), goalEvent(t, "b"), goalEvent(t, "c")}}
	pub := &fakePublisher{calls: &calls}
	for i := 0; i < 3; i++ {
		pub.results = append(pub.results, &fakePublishResult{calls: &calls, name: fmt.Sprint(i)})
	}
	service := newTestService(t, repo, pub, &fakeRegistry{resolved: goalResolved()}, &fakeDLQRepo{}, &config.OutboxConfig{BatchSize: 3, MaxAttempts: 5})

	_, err := service.processBatch(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []string{"publish", "publish", "publish", "get 0", "get 1", "get 2"}, calls)
	assert.Len(t, repo.published, 3)
}

func TestPublishSetsRoutingAttributes(t *testing.T) {
	event := models.OutboxEvent{
		ID:            uuid.New(),
		EventType:     enums.EventPartnershipAccepted,
		AggregateType: enums.AggregatePartnership,
		AggregateID:   uuid.New(),
		Payload:       mustEnvelopePayload(t, "accepted"),
		CreatedAt:     time.Date(2026, 6, 1, 8, 0, 0, 0, time.UTC),
	}
	repo := &fakeRepo{events: []models.OutboxEvent{event}}
	pub := &fakePublisher{results: []*fakePublishResult{{}}}
	resolved := &registry.ResolvedEvent{
		Descriptor: registry.EventDescriptor{Topic: "domain-topic"},
		Payload:    &payloads.PartnershipTransitionEvent{},
	}
	service := newTestService(t, repo, pub, &fakeRegistry{resolved: resolved}, &fakeDLQRepo{}, nil)
	publishedAt := time.Date(2026, 6, 1, 9, 0, 0, 0, time.UTC)
	service.now = func() time.Time { return publishedAt }

	processed, err := service.processBatch(context.Background())
	require.NoError(t, err)
	require.True(t, processed)
	require.Len(t, pub.messages, 1)

	msg := pub.messages[0]
	assert.Equal(t, map[string]string{
		"event_id":       event.ID.String(),
		"event_type":     "partnership_accepted",
		"aggregate_type": "partnership",
		"aggregate_id":   event.AggregateID.String(),
		"created_at":     "2026-06-01T08:00:00Z",
	}, msg.Attributes)
	assert.Equal(t, []byte(event.Payload), msg.Data)
	assert.Equal(t, []time.Time{publishedAt}, repo.publishedAt)
}

func TestProcessBatchDeadLettersUnresolvableEvents(t *testing.T) {
	tests := []struct {
		name string
		err  error
	}{
		{name: "non-retryable", err: registry.NewNonRetryableError(errors.New("invalid payload"))},
		{name: "plain resolve error", err: errors.New("unknown aggregate")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			event := goalEvent(t, "broken")
			repo := &fakeRepo{events: []models.OutboxEvent{event}}
			dlq := &fakeDLQRepo{}
			pub := &fakePublisher{}
			service := newTestService(t, repo, pub, &fakeRegistry{err: tt.err}, dlq, nil)

			processed, err := service.processBatch(context.Background())
			require.NoError(t, err)
			require.True(t, processed)

			require.Len(t, dlq.entries, 1)
			entry := dlq.entries[0]
			assert.Equal(t, event.ID, entry.EventID)
			assert.Equal(t, []byte(event.Payload), []byte(entry.Payload))
			assert.Equal(t, enums.OutboxDLQReasonNonRetryable, entry.ErrorReason)
			require.NotNil(t, entry.ErrorMessage)
			assert.Contains(t, *entry.ErrorMessage, tt.err.Error())
			assert.Equal(t, []uuid.UUID{event.ID}, repo.terminal)
			assert.Empty(t, pub.messages)
		})
	}
}

func TestProcessBatchDeadLettersOnMaxAttempts(t *testing.T) {
	event := goalEvent(t, "max-attempts")
	event.AttemptCount = 1
	repo := &fakeRepo{events: []models.OutboxEvent{event}}
	pub := &fakePublisher{results: []*fakePublishResult{{err: errors.New("transient")}}}
	dlq := &fakeDLQRepo{}
	service := newTestService(t, repo, pub, &fakeRegistry{resolved: goalResolved()}, dlq, &config.OutboxConfig{
		BatchSize:      1,
		PollIntervalMS: 100,
		MaxAttempts:    2,
	})

	processed, err := service.processBatch(context.Background())
	require.NoError(t, err)
	require.True(t, processed)

	require.Len(t, dlq.entries, 1)
	assert.Equal(t, event.ID, dlq.entries[0].EventID)
	assert.Equal(t, enums.OutboxDLQReasonMaxAttempts, dlq.entries[0].ErrorReason)
	assert.Contains(t, *dlq.entries[0].ErrorMessage, "max publish attempts reached")
	assert.Equal(t, 2, dlq.entries[0].AttemptCount)
	assert.Empty(t, repo.failed)
}

func TestProcessBatchDeadLettersWhenTopicHasNoPublisher(t *testing.T) {
	event := goalEvent(t, "orphan")
	repo := &fakeRepo{events: []models.OutboxEvent{event}}
	dlq := &fakeDLQRepo{}
	service := newTestService(t, repo, nil, &fakeRegistry{resolved: goalResolved()}, dlq, nil)
	service.publisherFactory = func(string) publisher { return nil }

	_, err := service.processBatch(context.Background())
	require.NoError(t, err)
	require.Len(t, dlq.entries, 1)
	assert.Equal(t, enums.OutboxDLQReasonNonRetryable, dlq.entries[0].ErrorReason)
}

func TestProcessBatchRollsBackOnRepositoryError(t *testing.T) {
	repo := &fakeRepo{events: []models.OutboxEvent{goalEvent(t, "x")}, markErr: errors.New("db gone")}
	pub := &fakePublisher{results: []*fakePublishResult{{}}}
	service := newTestService(t, repo, pub, &fakeRegistry{resolved: goalResolved()}, &fakeDLQRepo{}, nil)

	_, err := service.processBatch(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "mark published")
}

func TestProcessBatchEmpty(t *testing.T) {
	service := newTestService(t, &fakeRepo{}, &fakePublisher{}, &fakeRegistry{}, &fakeDLQRepo{}, nil)
	processed, err := service.processBatch(context.Background())
	require.NoError(t, err)
	assert.False(t, processed)
}

func TestNewServiceReportsEveryMissingDependency(t *testing.T) {
	_, err := NewService(ServiceParams{})
	require.Error(t, err)
	for _, want := range []string{"config", "logger", "database", "pubsub", "outbox repository", "event registry", "dlq"} {
		assert.Contains(t, err.Error(), want)
	}
}

func TestNewServiceAppliesDefaults(t *testing.T) {
	service := newTestService(t, &fakeRepo{}, &fakePublisher{}, &fakeRegistry{}, &fakeDLQRepo{}, &config.OutboxConfig{})
	assert.Equal(t, defaultBatchSize, service.batchSize)
	assert.Equal(t, defaultMaxAttempts, service.maxAttempts)
	assert.Equal(t, time.Duration(defaultPollMs)*time.Millisecond, service.pollInterval)
}

func TestRunStopsWhenReadinessFails(t *testing.T) {
	service := newTestService(t, &fakeRepo{}, &fakePublisher{}, &fakeRegistry{}, &fakeDLQRepo{}, nil)
	service.db = &fakeDB{pingErr: errors.New("refused")}
	service.pubsub = &fakePubSubClient{pingErr: errors.New("no topic")}

	err := service.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "database ping failed")
	assert.Contains(t, err.Error(), "pubsub ping failed")
}

func TestRunReturnsOnCancel(t *testing.T) {
	service := newTestService(t, &fakeRepo{}, &fakePublisher{}, &fakeRegistry{}, &fakeDLQRepo{}, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err := service.Run(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestNextBackoffDoublesUpToLimit(t *testing.T) {
	base := 500 * time.Millisecond
	assert.Equal(t, time.Second, nextBackoff(0, base, maxBackoff))
	assert.Equal(t, 4*time.Second, nextBackoff(2*time.Second, base, maxBackoff))
	assert.Equal(t, maxBackoff, nextBackoff(8*time.Second, base, maxBackoff))

	j := withJitter(time.Second)
	assert.GreaterOrEqual(t, j, time.Second)
	assert.Less(t, j, time.Second+jitterWindow)
	assert.Zero(t, withJitter(0))
}

func newTestService(t *testing.T, repo outboxRepository, pub publisher, resolver registryResolver, dlq dlqRepository, outboxCfg *config.OutboxConfig) *Service {
	t.Helper()
	cfg := &config.Config{Outbox: config.OutboxConfig{BatchSize: 2, PollIntervalMS: 10, MaxAttempts: 5}}
	if outboxCfg != nil {
		cfg.Outbox = *outboxCfg
	}
	service, err := NewService(ServiceParams{
		Config:           cfg,
		Logger:           logger.Nop(),
		DB:               &fakeDB{},
		PubSub:           &fakePubSubClient{},
		Repository:       repo,
		Registry:         resolver,
		PublisherFactory: func(string) publisher { return pub },
		DLQRepository:    dlq,
	})
	require.NoError(t, err)
	return service
}

func mustEnvelopePayload(t *testing.T, eventID string) json.RawMessage {
	t.Helper()
	payload, err := json.Marshal(outbox.PayloadEnvelope{
		Version:    1,
		EventID:    eventID,
		OccurredAt: time.Now(),
		Data:       json.RawMessage(`{}`),
	})
	require.NoError(t, err)
	return payload
}

type fakeRepo struct {
	events      []models.OutboxEvent
	markErr     error
	published   []uuid.UUID
	publishedAt []time.Time
	failed      []uuid.UUID
	terminal    []uuid.UUID
}

func (f *fakeRepo) FetchUnpublishedForPublish(*gorm.DB, int, int) ([]models.OutboxEvent, error) {
	return f.events, nil
}

func (f *fakeRepo) MarkPublishedTx(_ *gorm.DB, id uuid.UUID, at time.Time) error {
	if f.markErr != nil {
		return f.markErr
	}
	f.published = append(f.published, id)
	f.publishedAt = append(f.publishedAt, at)
	return nil
}

func (f *fakeRepo) MarkFailedTx(_ *gorm.DB, id uuid.UUID, _ error) error {
	f.failed = append(f.failed, id)
	return nil
}

func (f *fakeRepo) MarkTerminalTx(_ *gorm.DB, id uuid.UUID, _ error, _ time.Time) error {
	f.terminal = append(f.terminal, id)
	return nil
}

type fakeDB struct {
	pingErr error
}

func (f *fakeDB) Ping(context.Context) error { return f.pingErr }

func (f *fakeDB) WithTx(_ context.Context, fn func(*gorm.DB) error) error {
	return fn(nil)
}

type fakePubSubClient struct {
	pingErr error
}

func (f *fakePubSubClient) Ping(context.Context) error { return f.pingErr }

func (f *fakePubSubClient) Publisher(string) *gcppubsub.Publisher { return nil }

// fakePublisher hands out results in order; a missing result is a nil result.
type fakePublisher struct {
	results  []*fakePublishResult
	messages []*gcppubsub.Message
	calls    *[]string
}

func (f *fakePublisher) Publish(_ context.Context, msg *gcppubsub.Message) publishResult {
	f.messages = append(f.messages, msg)
	if f.calls != nil {
		*f.calls = append(*f.calls, "publish")
	}
	if len(f.results) == 0 {
		return nil
	}
	result := f.results[0]
	f.results = f.results[1:]
	return result
}

type fakePublishResult struct {
	err   error
	name  string
	calls *[]string
}

func (f *fakePublishResult) Get(context.Context) (string, error) {
	if f.calls != nil {
		*f.calls = append(*f.calls, "get "+f.name)
	}
	return "server-id", f.err
}

type fakeRegistry struct {
	resolved *registry.ResolvedEvent
	err      error
}

func (f *fakeRegistry) Resolve(event models.OutboxEvent) (*registry.ResolvedEvent, error) {
	if f.resolved == nil {
		if f.err == nil {
			return nil, errors.New("no descriptor")
		}
		return nil, f.err
	}
	resolved := *f.resolved
	resolved.Descriptor.AggregateType = event.AggregateType
	resolved.Envelope.EventID = event.ID.String()
	resolved.Envelope.OccurredAt = time.Now()
	return &resolved, f.err
}

type fakeDLQRepo struct {
	entries []models.OutboxDLQ
}

func (f *fakeDLQRepo) InsertTx(_ *gorm.DB, entry models.OutboxDLQ) error {
	f.entries = append(f.entries, entry)
	return nil
}
