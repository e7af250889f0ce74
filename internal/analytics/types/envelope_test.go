package types

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/accountable/accountable-backend/pkg/enums"
	"github.com/accountable/accountable-backend/pkg/outbox"
)

func encode(t *testing.T, env outbox.PayloadEnvelope) []byte {
	t.Helper()
	data, err := json.Marshal(env)
	require.NoError(t, err)
	return data
}

func partnershipAttrs() map[string]string {
	return map[string]string{
		"event_type":     "partnership_accepted",
		"aggregate_type": "partnership",
		"aggregate_id":   " p-1 ",
	}
}

func TestDecodeEnvelopePrefersPayloadFields(t *testing.T) {
	actor := uuid.New()
	occurred := time.Date(2026, 3, 1, 12, 0, 0, 0, time.FixedZone("CET", 3600))
	attrs := partnershipAttrs()
	attrs["event_id"] = "attribute-id"
	attrs["created_at"] = "2020-01-01T00:00:00Z"

	env, err := DecodeEnvelope(encode(t, outbox.PayloadEnvelope{
		EventID:    "payload-id",
		OccurredAt: occurred,
		Actor:      outbox.Actor(actor),
		Data:       json.RawMessage(`{"partnership_id":"p-1"}`),
	}), attrs)
	require.NoError(t, err)

	assert.Equal(t, "payload-id", env.EventID)
	assert.Equal(t, enums.EventPartnershipAccepted, env.EventType)
	assert.Equal(t, enums.AggregatePartnership, env.AggregateType)
	assert.Equal(t, "p-1", env.AggregateID)
	assert.Equal(t, actor.String(), env.ActorID)
	assert.True(t, occurred.Equal(env.OccurredAt))
	assert.Equal(t, time.UTC, env.OccurredAt.Location())
	assert.JSONEq(t, `{"partnership_id":"p-1"}`, string(env.Payload))
}

func TestDecodeEnvelopeFallsBackToAttributes(t *testing.T) {
	id := uuid.NewString()
	attrs := partnershipAttrs()
	attrs["event_id"] = id
	attrs["created_at"] = "2026-04-02T08:30:00Z"

	env, err := DecodeEnvelope(encode(t, outbox.PayloadEnvelope{}), attrs)
	require.NoError(t, err)
	assert.Equal(t, id, env.EventID)
	assert.Equal(t, time.Date(2026, 4, 2, 8, 30, 0, 0, time.UTC), env.OccurredAt)
	assert.Empty(t, env.ActorID)

	parsed, err := env.ID()
	require.NoError(t, err)
	assert.Equal(t, id, parsed.String())
}

func TestDecodeEnvelopeRejectsMalformedMessages(t *testing.T) {
	valid := encode(t, outbox.PayloadEnvelope{EventID: uuid.NewString()})
	cases := map[string]struct {
		data  []byte
		attrs func(map[string]string)
	}{
		"bad json":          {data: []byte("{"), attrs: func(map[string]string) {}},
		"unknown event":     {data: valid, attrs: func(a map[string]string) { a["event_type"] = "order_created" }},
		"unknown aggregate": {data: valid, attrs: func(a map[string]string) { a["aggregate_type"] = "store" }},
		"no aggregate id":   {data: valid, attrs: func(a map[string]string) { delete(a, "aggregate_id") }},
		"no event id":       {data: encode(t, outbox.PayloadEnvelope{}), attrs: func(map[string]string) {}},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			attrs := partnershipAttrs()
			tc.attrs(attrs)
			_, err := DecodeEnvelope(tc.data, attrs)
			assert.ErrorIs(t, err, ErrMalformedEnvelope)
		})
	}

	_, err := Envelope{EventID: "nope"}.ID()
	assert.ErrorIs(t, err, ErrMalformedEnvelope)
}
