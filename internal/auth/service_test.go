package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	redislib "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/accountable/accountable-backend/internal/invitations"
	"github.com/accountable/accountable-backend/internal/partnerships"
	"github.com/accountable/accountable-backend/internal/users"
	pkgAuth "github.com/accountable/accountable-backend/pkg/auth"
	"github.com/accountable/accountable-backend/pkg/auth/session"
	"github.com/accountable/accountable-backend/pkg/config"
	dbpkg "github.com/accountable/accountable-backend/pkg/db"
	"github.com/accountable/accountable-backend/pkg/db/dbtest"
	"github.com/accountable/accountable-backend/pkg/db/models"
	"github.com/accountable/accountable-backend/pkg/enums"
	pkgerrors "github.com/accountable/accountable-backend/pkg/errors"
	"github.com/accountable/accountable-backend/pkg/logger"
	"github.com/accountable/accountable-backend/pkg/outbox"
	"github.com/accountable/accountable-backend/pkg/outbox/payloads"
	"github.com/accountable/accountable-backend/pkg/security"
	"github.com/accountable/accountable-backend/pkg/types"
)

// memorySessions mimics the redis-backed session manager.
type memorySessions struct {
	mu        sync.Mutex
	sessions  map[string]session.Rotation
	revokeErr error
	revoked   []string
}

func newMemorySessions() *memorySessions {
	return &memorySessions{sessions: map[string]session.Rotation{}}
}

func (m *memorySessions) Generate(_ context.Context, accessID string, userID uuid.UUID) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	token := uuid.NewString()
	m.sessions[accessID] = session.Rotation{UserID: userID, AccessID: accessID, RefreshToken: token}
	return token, nil
}

func (m *memorySessions) Rotate(_ context.Context, oldAccessID, provided string) (session.Rotation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	current, ok := m.sessions[oldAccessID]
	if !ok || current.RefreshToken != provided {
		return session.Rotation{}, session.ErrInvalidRefreshToken
	}
	delete(m.sessions, oldAccessID)
	next := session.Rotation{UserID: current.UserID, AccessID: session.NewAccessID(), RefreshToken: uuid.NewString()}
	m.sessions[next.AccessID] = next
	return next, nil
}

func (m *memorySessions) Revoke(_ context.Context, accessID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.revoked = append(m.revoked, accessID)
	if m.revokeErr != nil {
		return m.revokeErr
	}
	delete(m.sessions, accessID)
	return nil
}

type memoryConfirmations struct {
	values map[string]string
}

func (m *memoryConfirmations) Set(_ context.Context, key string, value any, _ time.Duration) error {
	if m.values == nil {
		m.values = map[string]string{}
	}
	m.values[key] = value.(string)
	return nil
}

func (m *memoryConfirmations) Take(_ context.Context, key string) (string, error) {
	value, ok := m.values[key]
	if !ok {
		return "", redislib.Nil
	}
	delete(m.values, key)
	return value, nil
}

func (m *memoryConfirmations) ConfirmationKey(token string) string {
	return "acct:confirm:" + token
}

func (m *memoryConfirmations) PasswordResetKey(token string) string {
	return "acct:reset:" + token
}

type fixture struct {
	conn          *gorm.DB
	svc           Service
	sessions      *memorySessions
	confirmations *memoryConfirmations
	invitations   invitations.Service
	users         users.Repository
	tokens        *pkgAuth.Signer
	logs          *bytes.Buffer
	now           time.Time
}

func newFixture(t *testing.T, features config.FeatureFlagsConfig) *fixture {
	t.Helper()
	conn := dbtest.Open(t)
	f := &fixture{
		conn:          conn,
		sessions:      newMemorySessions(),
		confirmations: &memoryConfirmations{},
		users:         users.NewRepository(conn),
		logs:          &bytes.Buffer{},
		now:           time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC),
	}
	tokens, err := pkgAuth.NewSigner(config.JWTConfig{Secret: "test-secret", Issuer: "accountable", ExpirationMinutes: 15})
	require.NoError(t, err)
	f.tokens = tokens
	clock := func() time.Time { return f.now }
	emitter := outbox.NewService(outbox.NewRepository(conn), logger.Nop())
	partnershipCfg := config.PartnershipConfig{
		TrialLength:             14 * 24 * time.Hour,
		EndingSoonWindow:        3 * 24 * time.Hour,
		InvitationTTL:           7 * 24 * time.Hour,
		AllowReinviteAfterEnded: true,
	}

	invites, err := invitations.NewService(invitations.ServiceParams{
		DB:           dbpkg.FromConn(conn),
		Repo:         invitations.NewRepository(conn),
		Partnerships: partnerships.NewRepository(conn),
		Users:        f.users,
		Outbox:       emitter,
		Config:       partnershipCfg,
		Now:          clock,
	})
	require.NoError(t, err)
	f.invitations = invites

	svc, err := NewService(ServiceParams{
		DB:            dbpkg.FromConn(conn),
		Repo:          NewRepository(conn),
		Users:         f.users,
		Invitations:   invites,
		Sessions:      f.sessions,
		Confirmations: f.confirmations,
		Outbox:        emitter,
		Tokens:        f.tokens,
		Password:      config.PasswordConfig{ArgonMemoryKB: 8 * 1024, ArgonTime: 1, ArgonParallelism: 1, ArgonSaltLen: 16, ArgonKeyLen: 32, MinLength: 8},
		Features:      features,
		Logger:        logger.New(logger.Options{ServiceName: "api", Output: f.logs, Format: "json"}),
		Now:           clock,
	})
	require.NoError(t, err)
	f.svc = svc
	return f
}

func (f *fixture) events(t *testing.T, eventType enums.OutboxEventType) []models.OutboxEvent {
	t.Helper()
	var rows []models.OutboxEvent
	require.NoError(t, f.conn.Where("event_type = ?", eventType).Find(&rows).Error)
	return rows
}

func (f *fixture) token(t *testing.T, invitationID uuid.UUID) string {
	t.Helper()
	var row models.PendingInvitation
	require.NoError(t, f.conn.First(&row, "id = ?", invitationID).Error)
	return row.Token
}

func signUpRequest(email string) SignUpRequest {
	return SignUpRequest{
		Email:    email,
		Password: "correct horse battery",
		Metadata: types.IdentityMetadata{FirstName: " Ada ", LastName: "Lovelace", TimeZone: "Europe/London"},
	}
}

func TestSignUpIssuesSessionAndProfile(t *testing.T) {
	f := newFixture(t, config.FeatureFlagsConfig{CreateProfileOnSignup: true})
	ctx := context.Background()

	result, err := f.svc.SignUp(ctx, signUpRequest("  Ada@Example.com "))
	require.NoError(t, err)
	assert.False(t, result.EmailConfirmationRequired)
	require.NotNil(t, result.Session)
	assert.Equal(t, "ada@example.com", result.Identity.Email)
	assert.Equal(t, "Ada", result.Identity.Metadata.FirstName)
	assert.Equal(t, "bearer", result.Session.TokenType)

	// the fixture clock is in the past, so expiry is not checked here
	claims, err := f.tokens.Inspect(result.Session.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, result.Identity.ID, claims.UserID)
	assert.Equal(t, "ada@example.com", claims.Email)

	profile, err := f.users.FindByID(ctx, result.Identity.ID)
	require.NoError(t, err)
	assert.Equal(t, "Ada", profile.FirstName)
	assert.Equal(t, "Europe/London", profile.TimeZone)

	assert.Len(t, f.events(t, enums.EventUserRegistered), 1)
	assert.Empty(t, f.events(t, enums.EventEmailConfirmationRequested))
}

func TestSignUpRejectsDuplicateEmailAndWeakPassword(t *testing.T) {
	f := newFixture(t, config.FeatureFlagsConfig{CreateProfileOnSignup: true})
	ctx := context.Background()

	_, err := f.svc.SignUp(ctx, signUpRequest("ada@example.com"))
	require.NoError(t, err)

	_, err = f.svc.SignUp(ctx, signUpRequest("ADA@example.com"))
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeConflict), "got %v", err)

	weak := signUpRequest("bob@example.com")
	weak.Password = "short"
	_, err = f.svc.SignUp(ctx, weak)
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))
}

func TestSignUpWithoutProfileCreation(t *testing.T) {
	f := newFixture(t, config.FeatureFlagsConfig{})
	result, err := f.svc.SignUp(context.Background(), signUpRequest("ada@example.com"))
	require.NoError(t, err)

	_, err = f.users.FindByID(context.Background(), result.Identity.ID)
	require.ErrorIs(t, err, gorm.ErrRecordNotFound)
}

func TestSignUpConvertsInvitation(t *testing.T) {
	f := newFixture(t, config.FeatureFlagsConfig{CreateProfileOnSignup: true})
	ctx := context.Background()

	inviter, err := f.svc.SignUp(ctx, signUpRequest("ada@example.com"))
	require.NoError(t, err)
	message := "let's do this"
	invitation, err := f.invitations.Create(ctx, inviter.Identity.ID, invitations.CreateInput{
		Email:     "bob@example.com",
		Agreement: types.Agreement{CommunicationFrequency: "weekly"},
		Message:   &message,
	})
	require.NoError(t, err)

	f.now = f.now.Add(2 * time.Hour)
	req := signUpRequest("bob@example.com")
	req.InvitationToken = f.token(t, invitation.ID)
	result, err := f.svc.SignUp(ctx, req)
	require.NoError(t, err)
	require.NotNil(t, result.PartnershipID)

	var partnership models.Partnership
	require.NoError(t, f.conn.First(&partnership, "id = ?", *result.PartnershipID).Error)
	assert.Equal(t, enums.PartnershipStatusTrial, partnership.Status)
	assert.Equal(t, inviter.Identity.ID, partnership.User1ID)
	assert.Equal(t, result.Identity.ID, partnership.User2ID)
	require.NotNil(t, partnership.TrialEndDate)
	assert.True(t, partnership.TrialEndDate.Equal(f.now.Add(14*24*time.Hour)))
	assert.Equal(t, "weekly", partnership.Agreement.CommunicationFrequency)
	require.NotNil(t, partnership.Message)
	assert.Equal(t, message, *partnership.Message)
}

func TestSignUpInvitationForDifferentEmailRollsBack(t *testing.T) {
	f := newFixture(t, config.FeatureFlagsConfig{CreateProfileOnSignup: true})
	ctx := context.Background()

	inviter, err := f.svc.SignUp(ctx, signUpRequest("ada@example.com"))
	require.NoError(t, err)
	invitation, err := f.invitations.Create(ctx, inviter.Identity.ID, invitations.CreateInput{Email: "bob@example.com"})
	require.NoError(t, err)

	req := signUpRequest("mallory@example.com")
	req.InvitationToken = f.token(t, invitation.ID)
	_, err = f.svc.SignUp(ctx, req)
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))

	var count int64
	require.NoError(t, f.conn.Model(&models.Identity{}).Where("email = ?", "mallory@example.com").Count(&count).Error)
	assert.Zero(t, count)
}

func TestSignInRequiresConfirmedEmail(t *testing.T) {
	f := newFixture(t, config.FeatureFlagsConfig{RequireEmailConfirmation: true, CreateProfileOnSignup: true, EmailConfirmationTTLHours: 48})
	ctx := context.Background()

	result, err := f.svc.SignUp(ctx, signUpRequest("ada@example.com"))
	require.NoError(t, err)
	assert.True(t, result.EmailConfirmationRequired)
	assert.Nil(t, result.Session)

	_, err = f.svc.SignIn(ctx, SignInRequest{Email: "ada@example.com", Password: "correct horse battery"})
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeUnauthorized))
	assert.Equal(t, EmailNotConfirmedMessage, pkgerrors.As(err).Message())

	rows := f.events(t, enums.EventEmailConfirmationRequested)
	require.Len(t, rows, 1)
	var envelope outbox.PayloadEnvelope
	require.NoError(t, json.Unmarshal(rows[0].Payload, &envelope))
	var data payloads.EmailConfirmationRequestedEvent
	require.NoError(t, json.Unmarshal(envelope.Data, &data))
	assert.Equal(t, f.now.Add(48*time.Hour), data.ExpiresAt.UTC())

	confirmed, err := f.svc.ConfirmEmail(ctx, data.Token)
	require.NoError(t, err)
	require.NotNil(t, confirmed.Identity.EmailConfirmedAt)
	assert.NotEmpty(t, confirmed.Session.AccessToken)

	_, err = f.svc.ConfirmEmail(ctx, data.Token)
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))

	signedIn, err := f.svc.SignIn(ctx, SignInRequest{Email: "ada@example.com", Password: "correct horse battery"})
	require.NoError(t, err)
	require.NotNil(t, signedIn.Identity.LastSignInAt)
}

func TestSignInRejectsBadCredentials(t *testing.T) {
	f := newFixture(t, config.FeatureFlagsConfig{CreateProfileOnSignup: true})
	ctx := context.Background()
	_, err := f.svc.SignUp(ctx, signUpRequest("ada@example.com"))
	require.NoError(t, err)

	_, err = f.svc.SignIn(ctx, SignInRequest{Email: "ada@example.com", Password: "wrong password"})
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeUnauthorized))
	assert.Equal(t, invalidCredentialsMessage, pkgerrors.As(err).Message())

	_, err = f.svc.SignIn(ctx, SignInRequest{Email: "nobody@example.com", Password: "correct horse battery"})
	assert.Equal(t, invalidCredentialsMessage, pkgerrors.As(err).Message())
}

func TestRefreshRotatesAndSignOutRevokes(t *testing.T) {
	f := newFixture(t, config.FeatureFlagsConfig{CreateProfileOnSignup: true})
	ctx := context.Background()
	_, err := f.svc.SignUp(ctx, signUpRequest("ada@example.com"))
	require.NoError(t, err)

	signedIn, err := f.svc.SignIn(ctx, SignInRequest{Email: "ada@example.com", Password: "correct horse battery"})
	require.NoError(t, err)

	// expired access tokens may still be refreshed
	f.now = f.now.Add(time.Hour)
	refreshed, err := f.svc.Refresh(ctx, RefreshRequest{AccessToken: signedIn.Session.AccessToken, RefreshToken: signedIn.Session.RefreshToken})
	require.NoError(t, err)
	assert.NotEqual(t, signedIn.Session.RefreshToken, refreshed.RefreshToken)

	_, err = f.svc.Refresh(ctx, RefreshRequest{AccessToken: signedIn.Session.AccessToken, RefreshToken: signedIn.Session.RefreshToken})
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeUnauthorized))

	claims, err := f.tokens.Inspect(refreshed.AccessToken)
	require.NoError(t, err)
	require.NoError(t, f.svc.SignOut(ctx, claims.SessionID()))
	_, err = f.svc.Refresh(ctx, RefreshRequest{AccessToken: refreshed.AccessToken, RefreshToken: refreshed.RefreshToken})
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeUnauthorized))
}

func TestSessionLoadsIdentity(t *testing.T) {
	f := newFixture(t, config.FeatureFlagsConfig{})
	ctx := context.Background()
	result, err := f.svc.SignUp(ctx, signUpRequest("ada@example.com"))
	require.NoError(t, err)

	current, err := f.svc.Session(ctx, result.Identity.ID, result.Session.ExpiresAt)
	require.NoError(t, err)
	assert.Equal(t, "ada@example.com", current.User.Email)

	_, err = f.svc.Session(ctx, uuid.New(), time.Time{})
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeUnauthorized))
}

func TestSignInUpgradesOutdatedPasswordHash(t *testing.T) {
	f := newFixture(t, config.FeatureFlagsConfig{CreateProfileOnSignup: true})
	ctx := context.Background()
	result, err := f.svc.SignUp(ctx, signUpRequest("ada@example.com"))
	require.NoError(t, err)

	legacy, err := security.NewHasher(config.PasswordConfig{ArgonMemoryKB: 1024, ArgonTime: 1, ArgonParallelism: 1}).Hash("correct horse battery")
	require.NoError(t, err)
	require.NoError(t, f.conn.Model(&models.Identity{}).Where("id = ?", result.Identity.ID).Update("password_hash", legacy).Error)

	_, err = f.svc.SignIn(ctx, SignInRequest{Email: "ada@example.com", Password: "correct horse battery"})
	require.NoError(t, err)

	var stored models.Identity
	require.NoError(t, f.conn.First(&stored, "id = ?", result.Identity.ID).Error)
	assert.NotEqual(t, legacy, stored.PasswordHash)
	assert.Contains(t, stored.PasswordHash, "m=8192,t=1,p=1")

	_, err = f.svc.SignIn(ctx, SignInRequest{Email: "ada@example.com", Password: "correct horse battery"})
	require.NoError(t, err)
}

func TestRefreshUnderAnotherUserRevokesRotatedSession(t *testing.T) {
	f := newFixture(t, config.FeatureFlagsConfig{CreateProfileOnSignup: true})
	ctx := context.Background()
	ada, err := f.svc.SignUp(ctx, signUpRequest("ada@example.com"))
	require.NoError(t, err)

	claims, err := f.tokens.Inspect(ada.Session.AccessToken)
	require.NoError(t, err)
	forged, err := f.tokens.Mint(f.now, pkgAuth.Grant{UserID: uuid.New(), Email: "eve@example.com", SessionID: claims.SessionID()})
	require.NoError(t, err)

	f.sessions.revokeErr = errors.New("redis down")
	_, err = f.svc.Refresh(ctx, RefreshRequest{AccessToken: forged, RefreshToken: ada.Session.RefreshToken})
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeUnauthorized), "got %v", err)

	require.Len(t, f.sessions.revoked, 1)
	assert.NotEqual(t, claims.SessionID(), f.sessions.revoked[0])
	assert.Contains(t, f.logs.String(), "auth.revoke_mismatched_session_failed: redis down")
	assert.Contains(t, f.logs.String(), `"level":"warn"`)
}

func TestPasswordResetReplacesPasswordOnce(t *testing.T) {
	f := newFixture(t, config.FeatureFlagsConfig{CreateProfileOnSignup: true, PasswordResetTTLMinutes: 30})
	ctx := context.Background()

	_, err := f.svc.SignUp(ctx, signUpRequest("ada@example.com"))
	require.NoError(t, err)

	require.NoError(t, f.svc.RequestPasswordReset(ctx, "  ADA@example.com "))
	rows := f.events(t, enums.EventPasswordResetRequested)
	require.Len(t, rows, 1)
	var envelope outbox.PayloadEnvelope
	require.NoError(t, json.Unmarshal(rows[0].Payload, &envelope))
	var data payloads.PasswordResetRequestedEvent
	require.NoError(t, json.Unmarshal(envelope.Data, &data))
	assert.Equal(t, "ada@example.com", data.Email)
	assert.Equal(t, f.now.Add(30*time.Minute), data.ExpiresAt.UTC())
	require.NotEmpty(t, data.Token)

	require.NoError(t, f.svc.ResetPassword(ctx, ResetPasswordRequest{Token: data.Token, Password: "a brand new secret"}))

	_, err = f.svc.SignIn(ctx, SignInRequest{Email: "ada@example.com", Password: "correct horse battery"})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeUnauthorized))
	_, err = f.svc.SignIn(ctx, SignInRequest{Email: "ada@example.com", Password: "a brand new secret"})
	require.NoError(t, err)

	err = f.svc.ResetPassword(ctx, ResetPasswordRequest{Token: data.Token, Password: "yet another secret"})
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))
	assert.Equal(t, "reset link is invalid or has expired", pkgerrors.As(err).Message())
}

func TestPasswordResetForUnknownEmailIsSilent(t *testing.T) {
	f := newFixture(t, config.FeatureFlagsConfig{CreateProfileOnSignup: true})

	require.NoError(t, f.svc.RequestPasswordReset(context.Background(), "nobody@example.com"))
	assert.Empty(t, f.events(t, enums.EventPasswordResetRequested))
	assert.Empty(t, f.confirmations.values)

	err := f.svc.RequestPasswordReset(context.Background(), " ")
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))
}

func TestResetPasswordChecksPolicyBeforeSpendingToken(t *testing.T) {
	f := newFixture(t, config.FeatureFlagsConfig{CreateProfileOnSignup: true})
	ctx := context.Background()

	_, err := f.svc.SignUp(ctx, signUpRequest("ada@example.com"))
	require.NoError(t, err)
	require.NoError(t, f.svc.RequestPasswordReset(ctx, "ada@example.com"))
	require.Len(t, f.confirmations.values, 1)
	var token string
	for key := range f.confirmations.values {
		token = strings.TrimPrefix(key, "acct:reset:")
	}

	err = f.svc.ResetPassword(ctx, ResetPasswordRequest{Token: token, Password: "short"})
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))
	assert.Len(t, f.confirmations.values, 1)

	err = f.svc.ResetPassword(ctx, ResetPasswordRequest{Token: "bogus", Password: "long enough secret"})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))

	require.NoError(t, f.svc.ResetPassword(ctx, ResetPasswordRequest{Token: token, Password: "long enough secret"}))
	assert.Empty(t, f.confirmations.values)
}
