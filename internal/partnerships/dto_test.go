package partnerships

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/accountable/accountable-backend/pkg/db/models"
	"github.com/accountable/accountable-backend/pkg/enums"
)

func TestCreateResultJSONHidesToken(t *testing.T) {
	msg := "let's do this"
	raw, err := json.Marshal(CreateResult{Invitation: &models.PendingInvitation{
		ID:        uuid.New(),
		Email:     "bob@example.com",
		Token:     "secret-token",
		Message:   &msg,
		Status:    enums.InvitationStatusSent,
		ExpiresAt: time.Date(2026, 6, 8, 0, 0, 0, 0, time.UTC),
	}})
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "secret-token")

	var decoded map[string]map[string]any
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.NotContains(t, decoded, "partnership")
	assert.Equal(t, "bob@example.com", decoded["invitation"]["email"])
	assert.Equal(t, "sent", decoded["invitation"]["status"])
}

func TestCreateResultJSONPartnership(t *testing.T) {
	id := uuid.New()
	raw, err := json.Marshal(CreateResult{Partnership: &PartnershipDTO{ID: id, Status: enums.PartnershipStatusPending}})
	require.NoError(t, err)

	var decoded struct {
		Partnership *PartnershipDTO `json:"partnership"`
		Invitation  any             `json:"invitation"`
	}
	require.NoError(t, json.Unmarshal(raw, &decoded))
	require.NotNil(t, decoded.Partnership)
	assert.Equal(t, id, decoded.Partnership.ID)
	assert.Nil(t, decoded.Invitation)
}
