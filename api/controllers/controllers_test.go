package controllers

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/accountable/accountable-backend/api/middleware"
	"github.com/accountable/accountable-backend/internal/auth"
	"github.com/accountable/accountable-backend/internal/goals"
	"github.com/accountable/accountable-backend/internal/notifications"
	"github.com/accountable/accountable-backend/internal/partnerships"
	"github.com/accountable/accountable-backend/internal/realtime"
	"github.com/accountable/accountable-backend/internal/users"
	"github.com/accountable/accountable-backend/pkg/enums"
	pkgerrors "github.com/accountable/accountable-backend/pkg/errors"
	"github.com/accountable/accountable-backend/pkg/logger"
)

type errorBody struct {
	Error struct {
		Code    string         `json:"code"`
		Message string         `json:"message"`
		Details map[string]any `json:"details"`
	} `json:"error"`
}

func decodeError(t *testing.T, resp *httptest.ResponseRecorder) errorBody {
	t.Helper()
	var body errorBody
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &body))
	return body
}

func authed(req *http.Request, userID uuid.UUID) *http.Request {
	return req.WithContext(middleware.WithCaller(req.Context(), middleware.Caller{UserID: userID, SessionID: "jti-1"}))
}

func withParams(req *http.Request, kv ...string) *http.Request {
	routeCtx := chi.NewRouteContext()
	for i := 0; i+1 < len(kv); i += 2 {
		routeCtx.URLParams.Add(kv[i], kv[i+1])
	}
	return req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, routeCtx))
}

type fakePartnerships struct {
	partnerships.Service
	gotAction partnerships.Action
	gotTarget enums.PartnershipStatus
	gotUser   uuid.UUID
}

func (f *fakePartnerships) Transition(_ context.Context, userID, id uuid.UUID, action partnerships.Action) (*partnerships.TransitionResult, error) {
	f.gotUser, f.gotAction = userID, action
	return &partnerships.TransitionResult{Partnership: &partnerships.PartnershipDTO{ID: id}, Applied: true}, nil
}

func (f *fakePartnerships) UpdateStatus(_ context.Context, userID, id uuid.UUID, target enums.PartnershipStatus) (*partnerships.TransitionResult, error) {
	f.gotUser, f.gotTarget = userID, target
	return &partnerships.TransitionResult{Partnership: &partnerships.PartnershipDTO{ID: id}}, nil
}

func TestTransitionPartnershipMapsPathAction(t *testing.T) {
	svc := &fakePartnerships{}
	userID, id := uuid.New(), uuid.New()

	req := httptest.NewRequest(http.MethodPost, "/api/v1/partnerships/"+id.String()+"/end-trial", nil)
	req = withParams(authed(req, userID), "partnershipID", id.String(), "action", "end-trial")
	resp := httptest.NewRecorder()
	TransitionPartnership(svc, logger.Nop())(resp, req)

	require.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, partnerships.ActionEndTrial, svc.gotAction)
	assert.Equal(t, userID, svc.gotUser)
}

func TestTransitionPartnershipUnknownAction(t *testing.T) {
	id := uuid.New()
	req := httptest.NewRequest(http.MethodPost, "/", nil)
	req = withParams(authed(req, uuid.New()), "partnershipID", id.String(), "action", "reopen")
	resp := httptest.NewRecorder()
	TransitionPartnership(&fakePartnerships{}, logger.Nop())(resp, req)
	assert.Equal(t, http.StatusNotFound, resp.Code)
}

func TestTransitionPartnershipRequiresCaller(t *testing.T) {
	req := withParams(httptest.NewRequest(http.MethodPost, "/", nil), "partnershipID", uuid.NewString(), "action", "accept")
	resp := httptest.NewRecorder()
	TransitionPartnership(&fakePartnerships{}, logger.Nop())(resp, req)
	assert.Equal(t, http.StatusUnauthorized, resp.Code)
}

func TestUpdatePartnershipStatus(t *testing.T) {
	svc := &fakePartnerships{}
	id := uuid.New()

	req := httptest.NewRequest(http.MethodPatch, "/", strings.NewReader(`{"status":"active"}`))
	req = withParams(authed(req, uuid.New()), "partnershipID", id.String())
	resp := httptest.NewRecorder()
	UpdatePartnershipStatus(svc, logger.Nop())(resp, req)
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, enums.PartnershipStatusActive, svc.gotTarget)

	req = httptest.NewRequest(http.MethodPatch, "/", strings.NewReader(`{"status":"paused"}`))
	req = withParams(authed(req, uuid.New()), "partnershipID", id.String())
	resp = httptest.NewRecorder()
	UpdatePartnershipStatus(svc, logger.Nop())(resp, req)
	assert.Equal(t, http.StatusBadRequest, resp.Code)
	assert.Equal(t, "VALIDATION_ERROR", decodeError(t, resp).Error.Code)
}

type fakeGoals struct {
	goals.Service
	params goals.ListParams
}

func (f *fakeGoals) List(_ context.Context, _ uuid.UUID, params goals.ListParams) ([]goals.GoalDTO, error) {
	f.params = params
	return []goals.GoalDTO{}, nil
}

func TestListGoalsQueryParsing(t *testing.T) {
	svc := &fakeGoals{}
	partnershipID, ownerID := uuid.New(), uuid.New()

	req := httptest.NewRequest(http.MethodGet, "/api/v1/goals?partnership_id="+partnershipID.String()+"&owner_id="+ownerID.String()+"&status=active", nil)
	resp := httptest.NewRecorder()
	ListGoals(svc, logger.Nop())(resp, authed(req, uuid.New()))

	require.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, partnershipID, svc.params.PartnershipID)
	require.NotNil(t, svc.params.OwnerID)
	assert.Equal(t, ownerID, *svc.params.OwnerID)
	require.NotNil(t, svc.params.Status)
	assert.Equal(t, enums.GoalStatusActive, *svc.params.Status)
}

func TestListGoalsRequiresPartnership(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/api/v1/goals", nil)
	resp := httptest.NewRecorder()
	ListGoals(&fakeGoals{}, logger.Nop())(resp, authed(req, uuid.New()))
	require.Equal(t, http.StatusBadRequest, resp.Code)
	assert.Equal(t, "partnership_id", decodeError(t, resp).Error.Details["field"])
}

type fakeNotifications struct {
	notifications.Service
	markedUser uuid.UUID
	markedID   uuid.UUID
}

func (f *fakeNotifications) MarkRead(_ context.Context, userID, id uuid.UUID) error {
	f.markedUser, f.markedID = userID, id
	return nil
}

func (f *fakeNotifications) MarkAllRead(context.Context, uuid.UUID) (int64, error) {
	return 5, nil
}

func TestMarkNotificationRead(t *testing.T) {
	svc := &fakeNotifications{}
	userID, id := uuid.New(), uuid.New()

	req := httptest.NewRequest(http.MethodPost, "/", nil)
	req = withParams(authed(req, userID), "notificationID", id.String())
	resp := httptest.NewRecorder()
	MarkNotificationRead(svc, logger.Nop())(resp, req)

	require.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, userID, svc.markedUser)
	assert.Equal(t, id, svc.markedID)
	assert.JSONEq(t, `{"data":{"read":true}}`, resp.Body.String())
}

func TestMarkNotificationReadInvalidID(t *testing.T) {
	req := withParams(authed(httptest.NewRequest(http.MethodPost, "/", nil), uuid.New()), "notificationID", "bad")
	resp := httptest.NewRecorder()
	MarkNotificationRead(&fakeNotifications{}, logger.Nop())(resp, req)
	assert.Equal(t, http.StatusBadRequest, resp.Code)
}

func TestMarkAllNotificationsRead(t *testing.T) {
	resp := httptest.NewRecorder()
	MarkAllNotificationsRead(&fakeNotifications{}, logger.Nop())(resp, authed(httptest.NewRequest(http.MethodPost, "/", nil), uuid.New()))
	require.Equal(t, http.StatusOK, resp.Code)
	assert.JSONEq(t, `{"data":{"updated":5}}`, resp.Body.String())
}

type fakeAuth struct {
	auth.Service
	signedOut  string
	resetEmail string
	reset      auth.ResetPasswordRequest
}

func (f *fakeAuth) RequestPasswordReset(_ context.Context, email string) error {
	f.resetEmail = email
	return nil
}

func (f *fakeAuth) ResetPassword(_ context.Context, req auth.ResetPasswordRequest) error {
	f.reset = req
	if req.Token != "good" {
		return pkgerrors.New(pkgerrors.CodeValidation, "reset link is invalid or has expired")
	}
	return nil
}

func (f *fakeAuth) SignOut(_ context.Context, accessID string) error {
	f.signedOut = accessID
	return nil
}

func TestAuthSignOutUsesAccessID(t *testing.T) {
	svc := &fakeAuth{}
	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/signout", nil)
	req = authed(req, uuid.New())
	resp := httptest.NewRecorder()
	AuthSignOut(svc, logger.Nop())(resp, req)
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, "jti-1", svc.signedOut)

	resp = httptest.NewRecorder()
	AuthSignOut(svc, logger.Nop())(resp, httptest.NewRequest(http.MethodPost, "/", nil))
	assert.Equal(t, http.StatusUnauthorized, resp.Code)
}

func TestAuthSignInRejectsUnknownFields(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"email":"a@b.co","password":"x","admin":true}`))
	resp := httptest.NewRecorder()
	AuthSignIn(&fakeAuth{}, logger.Nop())(resp, req)
	assert.Equal(t, http.StatusBadRequest, resp.Code)
}

func TestAuthPasswordResetRequestAccepted(t *testing.T) {
	svc := &fakeAuth{}
	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/password/reset-request", strings.NewReader(`{"email":"ada@example.com"}`))
	resp := httptest.NewRecorder()
	AuthPasswordResetRequest(svc, logger.Nop())(resp, req)

	require.Equal(t, http.StatusAccepted, resp.Code)
	assert.Equal(t, "ada@example.com", svc.resetEmail)

	resp = httptest.NewRecorder()
	AuthPasswordResetRequest(svc, logger.Nop())(resp, httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"email":"not-an-email"}`)))
	assert.Equal(t, http.StatusBadRequest, resp.Code)
}

func TestAuthPasswordResetRedeemsToken(t *testing.T) {
	svc := &fakeAuth{}
	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/password/reset", strings.NewReader(`{"token":"good","password":"a brand new secret"}`))
	resp := httptest.NewRecorder()
	AuthPasswordReset(svc, logger.Nop())(resp, req)

	require.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, "a brand new secret", svc.reset.Password)

	resp = httptest.NewRecorder()
	AuthPasswordReset(svc, logger.Nop())(resp, httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"token":"stale","password":"a brand new secret"}`)))
	require.Equal(t, http.StatusBadRequest, resp.Code)
	assert.Equal(t, "reset link is invalid or has expired", decodeError(t, resp).Error.Message)
}

type fakeUsers struct {
	users.Service
	avatar []byte
	query  string
	caller uuid.UUID
}

func (f *fakeUsers) Search(_ context.Context, callerID uuid.UUID, query string) ([]users.ProfileDTO, error) {
	f.query = query
	f.caller = callerID
	if len(query) < 3 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "search query must be at least 3 characters")
	}
	return []users.ProfileDTO{{ID: uuid.New(), Email: "grace@example.com"}}, nil
}

func (f *fakeUsers) UploadAvatar(_ context.Context, callerID uuid.UUID, body io.Reader) (*users.ProfileDTO, error) {
	data, err := io.ReadAll(body)
	if err != nil {
		return nil, err
	}
	f.avatar = data
	return &users.ProfileDTO{ID: callerID}, nil
}

func TestUploadAvatarReadsMultipartFile(t *testing.T) {
	var buf bytes.Buffer
	form := multipart.NewWriter(&buf)
	part, err := form.CreateFormFile("file", "me.png")
	require.NoError(t, err)
	_, _ = part.Write([]byte("\x89PNG\r\n\x1a\nfake"))
	require.NoError(t, form.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/v1/profiles/me/avatar", &buf)
	req.Header.Set("Content-Type", form.FormDataContentType())
	svc := &fakeUsers{}
	resp := httptest.NewRecorder()
	UploadAvatar(svc, logger.Nop())(resp, authed(req, uuid.New()))

	require.Equal(t, http.StatusOK, resp.Code)
	assert.True(t, bytes.HasPrefix(svc.avatar, []byte("\x89PNG")))
}

func TestUploadAvatarMissingFile(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader("nope"))
	req.Header.Set("Content-Type", "text/plain")
	resp := httptest.NewRecorder()
	UploadAvatar(&fakeUsers{}, logger.Nop())(resp, authed(req, uuid.New()))
	assert.Equal(t, http.StatusBadRequest, resp.Code)
}

func TestSearchProfilesPassesQuery(t *testing.T) {
	svc := &fakeUsers{}
	caller := uuid.New()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/profiles?q=grace", nil)
	resp := httptest.NewRecorder()
	SearchProfiles(svc, logger.Nop())(resp, authed(req, caller))

	require.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, "grace", svc.query)
	assert.Equal(t, caller, svc.caller)
	assert.Contains(t, resp.Body.String(), "grace@example.com")
}

func TestSearchProfilesShortQuery(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/api/v1/profiles?q=ab", nil)
	resp := httptest.NewRecorder()
	SearchProfiles(&fakeUsers{}, logger.Nop())(resp, authed(req, uuid.New()))
	assert.Equal(t, http.StatusBadRequest, resp.Code)

	resp = httptest.NewRecorder()
	SearchProfiles(&fakeUsers{}, logger.Nop())(resp, httptest.NewRequest(http.MethodGet, "/?q=grace", nil))
	assert.Equal(t, http.StatusUnauthorized, resp.Code)
}

type fakeSource struct {
	changes chan realtime.Change
	filter  realtime.TableFilter
	stopped bool
}

func (f *fakeSource) Stream(_ context.Context, _ uuid.UUID, filter realtime.TableFilter) (<-chan realtime.Change, func(), error) {
	f.filter = filter
	return f.changes, func() { f.stopped = true }, nil
}

func TestStreamChangesWritesEvents(t *testing.T) {
	source := &fakeSource{changes: make(chan realtime.Change, 1)}
	recordID := uuid.New()
	source.changes <- realtime.Change{Table: realtime.TableMessages, Action: realtime.ActionInsert, RecordID: recordID, OccurredAt: time.Now().UTC()}
	close(source.changes)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/realtime?tables=messages", nil)
	resp := httptest.NewRecorder()
	StreamChanges(source, logger.Nop())(resp, authed(req, uuid.New()))

	assert.Equal(t, "text/event-stream", resp.Header().Get("Content-Type"))
	assert.True(t, source.filter.Allows(realtime.TableMessages))
	assert.False(t, source.filter.Allows(realtime.TableGoals))
	assert.True(t, source.stopped)

	scanner := bufio.NewScanner(strings.NewReader(resp.Body.String()))
	var lines []string
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	assert.Contains(t, lines, "event: messages")
	assert.Contains(t, lines, "id: "+recordID.String())
}

func TestStreamChangesRejectsUnknownTable(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/api/v1/realtime?tables=orders", nil)
	resp := httptest.NewRecorder()
	StreamChanges(&fakeSource{}, logger.Nop())(resp, authed(req, uuid.New()))
	assert.Equal(t, http.StatusBadRequest, resp.Code)
}
