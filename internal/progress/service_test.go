package progress

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/accountable/accountable-backend/internal/goals"
	"github.com/accountable/accountable-backend/internal/partnerships"
	dbpkg "github.com/accountable/accountable-backend/pkg/db"
	"github.com/accountable/accountable-backend/pkg/db/dbtest"
	"github.com/accountable/accountable-backend/pkg/db/models"
	"github.com/accountable/accountable-backend/pkg/enums"
	pkgerrors "github.com/accountable/accountable-backend/pkg/errors"
	"github.com/accountable/accountable-backend/pkg/logger"
	"github.com/accountable/accountable-backend/pkg/outbox"
	"github.com/accountable/accountable-backend/pkg/pagination"
)

type fixture struct {
	conn *gorm.DB
	svc  Service
	now  time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	conn := dbtest.Open(t)
	f := &fixture{conn: conn, now: time.Date(2026, 6, 1, 8, 0, 0, 0, time.UTC)}
	svc, err := NewService(ServiceParams{
		DB:           dbpkg.FromConn(conn),
		Repo:         NewRepository(conn),
		Goals:        goals.NewRepository(conn),
		Partnerships: partnerships.NewRepository(conn),
		Outbox:       outbox.NewService(outbox.NewRepository(conn), logger.Nop()),
		Now: func() time.Time {
			f.now = f.now.Add(time.Second)
			return f.now
		},
	})
	require.NoError(t, err)
	f.svc = svc
	return f
}

func (f *fixture) goal(t *testing.T, partnershipStatus enums.PartnershipStatus, goalStatus enums.GoalStatus) (*models.Partnership, *models.Goal) {
	t.Helper()
	end := f.now.Add(14 * 24 * time.Hour)
	p := &models.Partnership{
		ID:              uuid.New(),
		User1ID:         uuid.New(),
		User2ID:         uuid.New(),
		Status:          partnershipStatus,
		TrialEndDate:    &end,
		StatusChangedAt: f.now,
	}
	require.NoError(t, f.conn.Create(p).Error)
	g := &models.Goal{
		ID:            uuid.New(),
		PartnershipID: p.ID,
		UserID:        p.User1ID,
		Title:         "Save money",
		Status:        goalStatus,
		StartDate:     f.now,
	}
	require.NoError(t, f.conn.Create(g).Error)
	return p, g
}

func TestCreateRoundsValue(t *testing.T) {
	f := newFixture(t)
	p, g := f.goal(t, enums.PartnershipStatusActive, enums.GoalStatusActive)
	value := decimal.RequireFromString("12.345")

	update, err := f.svc.Create(context.Background(), p.User1ID, CreateInput{GoalID: g.ID, Description: " saved ", Value: &value})
	require.NoError(t, err)
	assert.Equal(t, "saved", update.Description)
	require.True(t, update.Value.Valid)
	assert.True(t, update.Value.Decimal.Equal(decimal.RequireFromString("12.35")))

	var stored models.ProgressUpdate
	require.NoError(t, f.conn.First(&stored, "id = ?", update.ID).Error)
	assert.True(t, stored.Value.Decimal.Equal(decimal.RequireFromString("12.35")))

	var events int64
	require.NoError(t, f.conn.Model(&models.OutboxEvent{}).Where("event_type = ?", enums.EventProgressRecorded).Count(&events).Error)
	assert.Equal(t, int64(1), events)
}

func TestCreateByPartner(t *testing.T) {
	f := newFixture(t)
	p, g := f.goal(t, enums.PartnershipStatusTrial, enums.GoalStatusActive)

	update, err := f.svc.Create(context.Background(), p.User2ID, CreateInput{GoalID: g.ID, Description: "cheering"})
	require.NoError(t, err)
	assert.False(t, update.Value.Valid)
}

func TestCreateRejects(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	p, g := f.goal(t, enums.PartnershipStatusActive, enums.GoalStatusCompleted)
	_, err := f.svc.Create(ctx, p.User1ID, CreateInput{GoalID: g.ID, Description: "late"})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeStateConflict))

	ended, eg := f.goal(t, enums.PartnershipStatusEnded, enums.GoalStatusActive)
	_, err = f.svc.Create(ctx, ended.User1ID, CreateInput{GoalID: eg.ID, Description: "after end"})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeStateConflict))

	_, err = f.svc.Create(ctx, uuid.New(), CreateInput{GoalID: g.ID, Description: "stranger"})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeForbidden))

	_, err = f.svc.Create(ctx, p.User1ID, CreateInput{GoalID: uuid.New(), Description: "missing"})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotFound))

	_, err = f.svc.Create(ctx, p.User1ID, CreateInput{GoalID: g.ID, Description: " "})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))

	huge := decimal.New(1, 11)
	_, err = f.svc.Create(ctx, p.User1ID, CreateInput{GoalID: g.ID, Description: "huge", Value: &huge})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))
}

func TestListByGoal(t *testing.T) {
	f := newFixture(t)
	p, g := f.goal(t, enums.PartnershipStatusActive, enums.GoalStatusActive)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		_, err := f.svc.Create(ctx, p.User1ID, CreateInput{GoalID: g.ID, Description: "step"})
		require.NoError(t, err)
	}

	page, err := f.svc.ListByGoal(ctx, p.User2ID, g.ID, pagination.Params{Limit: 2})
	require.NoError(t, err)
	assert.Len(t, page.Items, 2)
	assert.NotEmpty(t, page.NextCursor)

	rest, err := f.svc.ListByGoal(ctx, p.User2ID, g.ID, pagination.Params{Limit: 2, Cursor: page.NextCursor})
	require.NoError(t, err)
	assert.Len(t, rest.Items, 1)

	_, err = f.svc.ListByGoal(ctx, uuid.New(), g.ID, pagination.Params{})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotFound))
}
