package notifications

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/accountable/accountable-backend/internal/realtime"
	"github.com/accountable/accountable-backend/pkg/config"
	"github.com/accountable/accountable-backend/pkg/db/models"
	"github.com/accountable/accountable-backend/pkg/enums"
	"github.com/accountable/accountable-backend/pkg/logger"
	"github.com/accountable/accountable-backend/pkg/metrics"
	"github.com/accountable/accountable-backend/pkg/outbox"
	"github.com/accountable/accountable-backend/pkg/outbox/payloads"
	"github.com/accountable/accountable-backend/pkg/outbox/registry"
)

type recordingCreator struct {
	batches [][]models.Notification
	err     error
}

func (r *recordingCreator) CreateBatch(_ context.Context, notifications []models.Notification) error {
	if r.err != nil {
		return r.err
	}
	for i := range notifications {
		notifications[i].ID = uuid.New()
	}
	r.batches = append(r.batches, notifications)
	return nil
}

type fakeDedupe struct {
	seen     map[uuid.UUID]bool
	released []uuid.UUID
	err      error
}

func (f *fakeDedupe) Process(ctx context.Context, _ string, eventID uuid.UUID, fn func(context.Context) error) (bool, error) {
	if f.err != nil {
		return false, f.err
	}
	if f.seen == nil {
		f.seen = map[uuid.UUID]bool{}
	}
	if f.seen[eventID] {
		return false, nil
	}
	f.seen[eventID] = true
	if err := fn(ctx); err != nil {
		delete(f.seen, eventID)
		f.released = append(f.released, eventID)
		return false, err
	}
	return true, nil
}

type fakeRealtime struct {
	changes []realtime.Change
	to      []uuid.UUID
	err     error
}

func (f *fakeRealtime) Publish(_ context.Context, change realtime.Change, recipients ...uuid.UUID) error {
	f.changes = append(f.changes, change)
	f.to = append(f.to, recipients...)
	return f.err
}

func testRegistry(t *testing.T) *registry.EventRegistry {
	t.Helper()
	reg, err := registry.NewEventRegistry(config.PubSubConfig{DomainTopic: "domain"})
	require.NoError(t, err)
	return reg
}

func envelopeFor(t *testing.T, eventID uuid.UUID, actor uuid.UUID, data any) []byte {
	t.Helper()
	raw, err := json.Marshal(data)
	require.NoError(t, err)
	out, err := json.Marshal(outbox.PayloadEnvelope{
		Version:    1,
		EventID:    eventID.String(),
		OccurredAt: time.Date(2026, 6, 1, 8, 0, 0, 0, time.UTC),
		Actor:      outbox.Actor(actor),
		Data:       raw,
	})
	require.NoError(t, err)
	return out
}

func resolve(t *testing.T, eventType enums.OutboxEventType, actor uuid.UUID, data any) *registry.ResolvedEvent {
	t.Helper()
	resolved, err := testRegistry(t).DecodeMessage(eventType, envelopeFor(t, uuid.New(), actor, data))
	require.NoError(t, err)
	return resolved
}

func TestBuildPartnershipNotificationsSkipActor(t *testing.T) {
	requester, partner := uuid.New(), uuid.New()
	partnershipID := uuid.New()
	transition := func(to enums.PartnershipStatus) payloads.PartnershipTransitionEvent {
		return payloads.PartnershipTransitionEvent{PartnershipID: partnershipID, RequesterID: requester, PartnerID: partner, ToStatus: to}
	}

	cases := []struct {
		name      string
		eventType enums.OutboxEventType
		actor     uuid.UUID
		payload   payloads.PartnershipTransitionEvent
		kind      enums.NotificationType
		to        []uuid.UUID
	}{
		{"request goes to partner", enums.EventPartnershipRequested, requester, transition(enums.PartnershipStatusPending), enums.NotificationTypePartnershipRequest, []uuid.UUID{partner}},
		{"accept goes to requester", enums.EventPartnershipAccepted, partner, transition(enums.PartnershipStatusTrial), enums.NotificationTypePartnershipAccepted, []uuid.UUID{requester}},
		{"decline goes to requester", enums.EventPartnershipDeclined, partner, transition(enums.PartnershipStatusEnded), enums.NotificationTypePartnershipDeclined, []uuid.UUID{requester}},
		{"finalize by requester goes to partner", enums.EventPartnershipFinalized, requester, transition(enums.PartnershipStatusActive), enums.NotificationTypePartnershipFinalized, []uuid.UUID{partner}},
		{"terminate goes to other side", enums.EventPartnershipTerminated, partner, transition(enums.PartnershipStatusEnded), enums.NotificationTypePartnershipEnded, []uuid.UUID{requester}},
		{"ending soon goes to both", enums.EventPartnershipTrialEndingSoon, uuid.Nil, transition(enums.PartnershipStatusTrial), enums.NotificationTypeTrialEndingSoon, []uuid.UUID{requester, partner}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			out := Build(resolve(t, tc.eventType, tc.actor, tc.payload))
			require.Len(t, out, len(tc.to))
			var got []uuid.UUID
			for _, n := range out {
				assert.Equal(t, tc.kind, n.Type)
				require.NotNil(t, n.PartnershipID)
				assert.Equal(t, partnershipID, *n.PartnershipID)
				require.NotNil(t, n.Link)
				got = append(got, n.UserID)
			}
			assert.ElementsMatch(t, tc.to, got)
		})
	}
}

func TestBuildRequestUsesMessage(t *testing.T) {
	out := Build(resolve(t, enums.EventPartnershipRequested, uuid.New(), payloads.PartnershipTransitionEvent{
		PartnershipID: uuid.New(), RequesterID: uuid.New(), PartnerID: uuid.New(),
		ToStatus: enums.PartnershipStatusPending, Message: "  let's run a marathon  ",
	}))
	require.Len(t, out, 1)
	assert.Equal(t, "let's run a marathon", out[0].Message)
}

func TestBuildChildEvents(t *testing.T) {
	owner, partner := uuid.New(), uuid.New()
	partnershipID := uuid.New()

	goal := Build(resolve(t, enums.EventGoalCreated, owner, payloads.GoalEvent{
		GoalID: uuid.New(), PartnershipID: partnershipID, OwnerID: owner, PartnerID: partner, Title: "Run 5k", Status: enums.GoalStatusActive,
	}))
	require.Len(t, goal, 1)
	assert.Equal(t, partner, goal[0].UserID)
	assert.Contains(t, goal[0].Message, "Run 5k")

	abandoned := Build(resolve(t, enums.EventGoalAbandoned, owner, payloads.GoalEvent{
		GoalID: uuid.New(), PartnershipID: partnershipID, OwnerID: owner, PartnerID: partner, Status: enums.GoalStatusAbandoned,
	}))
	assert.Empty(t, abandoned)

	checkIn := payloads.CheckInEvent{
		CheckInID: uuid.New(), PartnershipID: partnershipID, CreatedBy: owner,
		ParticipantIDs: []uuid.UUID{owner, partner}, ScheduledAt: time.Now().Add(time.Hour), DurationMinutes: 30,
	}
	scheduled := Build(resolve(t, enums.EventCheckInScheduled, owner, checkIn))
	require.Len(t, scheduled, 1)
	assert.Equal(t, partner, scheduled[0].UserID)
	reminder := Build(resolve(t, enums.EventCheckInReminder, uuid.Nil, checkIn))
	assert.Len(t, reminder, 2)

	message := Build(resolve(t, enums.EventMessageSent, owner, payloads.MessageSentEvent{
		MessageID: uuid.New(), PartnershipID: partnershipID, SenderID: owner, SenderName: "Ada", RecipientID: partner, Preview: "hey",
	}))
	require.Len(t, message, 1)
	assert.Equal(t, enums.NotificationTypeNewMessage, message[0].Type)
	assert.Equal(t, "New message from Ada", message[0].Title)

	invitation := Build(resolve(t, enums.EventInvitationSent, owner, payloads.InvitationEvent{InvitationID: uuid.New(), InviterID: owner, Email: "x@example.com"}))
	assert.Empty(t, invitation)
}

func newConsumer(t *testing.T, creator *recordingCreator, idem *fakeDedupe, rt *fakeRealtime) *Consumer {
	t.Helper()
	params := ConsumerParams{
		Repo:        creator,
		Registry:    testRegistry(t),
		Idempotency: idem,
		Metrics:     metrics.NewConsumerMetrics(prometheus.NewRegistry()),
		Logger:      logger.Nop(),
	}
	if rt != nil {
		params.Realtime = rt
	}
	consumer, err := NewConsumer(params)
	require.NoError(t, err)
	return consumer
}

func goalCompletedData(t *testing.T, eventID uuid.UUID) []byte {
	owner := uuid.New()
	return envelopeFor(t, eventID, owner, payloads.GoalEvent{
		GoalID: uuid.New(), PartnershipID: uuid.New(), OwnerID: owner, PartnerID: uuid.New(), Title: "Read", Status: enums.GoalStatusCompleted,
	})
}

func TestConsumerCreatesOncePerEvent(t *testing.T) {
	creator := &recordingCreator{}
	idem := &fakeDedupe{}
	rt := &fakeRealtime{}
	consumer := newConsumer(t, creator, idem, rt)

	eventID := uuid.New()
	data := goalCompletedData(t, eventID)
	require.NoError(t, consumer.Handle(context.Background(), enums.EventGoalCompleted, data))
	require.NoError(t, consumer.Handle(context.Background(), enums.EventGoalCompleted, data))

	require.Len(t, creator.batches, 1)
	require.Len(t, rt.changes, 1)
	assert.Equal(t, realtime.TableNotifications, rt.changes[0].Table)
	assert.Equal(t, creator.batches[0][0].ID, rt.changes[0].RecordID)
	assert.Equal(t, creator.batches[0][0].UserID, rt.to[0])
}

func TestConsumerReleasesMarkOnInsertFailure(t *testing.T) {
	creator := &recordingCreator{err: errors.New("db down")}
	idem := &fakeDedupe{}
	consumer := newConsumer(t, creator, idem, nil)

	eventID := uuid.New()
	err := consumer.Handle(context.Background(), enums.EventGoalCompleted, goalCompletedData(t, eventID))
	require.Error(t, err)
	assert.Equal(t, []uuid.UUID{eventID}, idem.released)
	assert.False(t, idem.seen[eventID])
}

func TestConsumerRealtimeFailureIsNotRetried(t *testing.T) {
	creator := &recordingCreator{}
	rt := &fakeRealtime{err: errors.New("redis down")}
	consumer := newConsumer(t, creator, &fakeDedupe{}, rt)

	require.NoError(t, consumer.Handle(context.Background(), enums.EventGoalCompleted, goalCompletedData(t, uuid.New())))
	assert.Len(t, creator.batches, 1)
}

func TestConsumerDropsUnusableEvents(t *testing.T) {
	creator := &recordingCreator{}
	idem := &fakeDedupe{err: errors.New("should not be called")}
	consumer := newConsumer(t, creator, idem, nil)

	require.NoError(t, consumer.Handle(context.Background(), enums.EventGoalCompleted, []byte("{")))
	require.NoError(t, consumer.Handle(context.Background(), "mystery", goalCompletedData(t, uuid.New())))
	require.NoError(t, consumer.Handle(context.Background(), enums.EventUserRegistered, envelopeFor(t, uuid.New(), uuid.Nil, payloads.UserRegisteredEvent{UserID: uuid.New(), Email: "a@b.co"})))
	assert.Empty(t, creator.batches)
}

func TestConsumerRetriesWhenIdempotencyUnavailable(t *testing.T) {
	creator := &recordingCreator{}
	consumer := newConsumer(t, creator, &fakeDedupe{err: errors.New("redis down")}, nil)

	require.Error(t, consumer.Handle(context.Background(), enums.EventGoalCompleted, goalCompletedData(t, uuid.New())))
	assert.Empty(t, creator.batches)
}
