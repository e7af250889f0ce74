package gateway

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"path/filepath"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"

	"github.com/accountable/accountable-backend/internal/auth"
	"github.com/accountable/accountable-backend/internal/checkins"
	"github.com/accountable/accountable-backend/internal/goals"
	"github.com/accountable/accountable-backend/internal/messages"
	"github.com/accountable/accountable-backend/internal/partnerships"
	"github.com/accountable/accountable-backend/internal/progress"
	"github.com/accountable/accountable-backend/internal/users"
	"github.com/accountable/accountable-backend/pkg/enums"
	"github.com/accountable/accountable-backend/pkg/pagination"
)

// minSearchLength mirrors the server so short queries fail without a round trip.
const minSearchLength = 3

type authClient struct{ c *Client }

func (a authClient) SignUp(ctx context.Context, req auth.SignUpRequest) Result[*auth.SignUpResult] {
	res := call[*auth.SignUpResult](ctx, a.c, request{method: http.MethodPost, path: "/api/v1/auth/signup", body: req, anonymous: true})
	if out, ok := res.Value(); ok && out != nil && out.Session != nil {
		a.c.setSession(sessionFromDTO(*out.Session), enums.AuthEventSignedIn)
	}
	return res
}

func (a authClient) SignIn(ctx context.Context, email, password string) Result[*auth.SignInResult] {
	res := call[*auth.SignInResult](ctx, a.c, request{
		method:    http.MethodPost,
		path:      "/api/v1/auth/signin",
		body:      auth.SignInRequest{Email: email, Password: password},
		anonymous: true,
	})
	if out, ok := res.Value(); ok && out != nil {
		a.c.setSession(sessionFromDTO(out.Session), enums.AuthEventSignedIn)
	}
	return res
}

// SignOut always drops the local session. A rejected token on the server side
// counts as signed out.
func (a authClient) SignOut(ctx context.Context) Result[struct{}] {
	if a.c.Session() == nil {
		return Ok(struct{}{})
	}
	res := call[struct{}](ctx, a.c, request{method: http.MethodPost, path: "/api/v1/auth/signout", noRefresh: true})
	a.c.clearSession()
	if failure := res.Error(); failure != nil && failure.Kind == KindAuth {
		return Ok(struct{}{})
	}
	return res
}

func (a authClient) GetSession(ctx context.Context) Result[*Session] {
	if a.c.Session() == nil {
		return Ok[*Session](nil)
	}
	res := call[*auth.CurrentSession](ctx, a.c, request{method: http.MethodGet, path: "/api/v1/auth/session"})
	current, ok := res.Value()
	if !ok {
		if res.Error().Kind == KindAuth {
			a.c.clearSession()
			return Ok[*Session](nil)
		}
		return Fail[*Session](res.Error())
	}

	session := a.c.Session()
	if session == nil {
		return Ok[*Session](nil)
	}
	if current != nil {
		session.User = current.User
		if !current.ExpiresAt.IsZero() {
			session.ExpiresAt = current.ExpiresAt
		}
		a.c.mu.Lock()
		if a.c.session != nil && a.c.session.AccessToken == session.AccessToken {
			a.c.session.User = session.User
			a.c.session.ExpiresAt = session.ExpiresAt
		}
		a.c.mu.Unlock()
	}
	return Ok(session)
}

func (a authClient) Refresh(ctx context.Context) Result[*Session] {
	session, err := a.c.refresh(ctx, "")
	if err != nil {
		return FromError[*Session](err)
	}
	return Ok(session)
}

func (a authClient) RequestPasswordReset(ctx context.Context, email string) Result[struct{}] {
	if strings.TrimSpace(email) == "" {
		return Err[struct{}](KindValidation, "email is required")
	}
	res := call[map[string]string](ctx, a.c, request{
		method:    http.MethodPost,
		path:      "/api/v1/auth/password/reset-request",
		body:      auth.PasswordResetRequest{Email: email},
		anonymous: true,
	})
	return Then(res, func(map[string]string) Result[struct{}] { return Ok(struct{}{}) })
}

func (a authClient) ResetPassword(ctx context.Context, token, password string) Result[struct{}] {
	if strings.TrimSpace(token) == "" {
		return Err[struct{}](KindValidation, "reset token required")
	}
	res := call[map[string]string](ctx, a.c, request{
		method:    http.MethodPost,
		path:      "/api/v1/auth/password/reset",
		body:      auth.ResetPasswordRequest{Token: token, Password: password},
		anonymous: true,
	})
	return Then(res, func(map[string]string) Result[struct{}] { return Ok(struct{}{}) })
}

func (a authClient) OnAuthStateChange(listener AuthStateListener) func() {
	return a.c.subscribe(listener)
}

type profilesClient struct{ c *Client }

func (p profilesClient) Get(ctx context.Context, id uuid.UUID) Result[*users.ProfileDTO] {
	return call[*users.ProfileDTO](ctx, p.c, request{method: http.MethodGet, path: "/api/v1/profiles/" + id.String()})
}

func (p profilesClient) Create(ctx context.Context, draft users.CreateProfileInput) Result[*users.ProfileDTO] {
	return call[*users.ProfileDTO](ctx, p.c, request{method: http.MethodPost, path: "/api/v1/profiles", body: draft})
}

func (p profilesClient) Update(ctx context.Context, id uuid.UUID, patch users.UpdateProfileInput) Result[*users.ProfileDTO] {
	return call[*users.ProfileDTO](ctx, p.c, request{method: http.MethodPatch, path: "/api/v1/profiles/" + id.String(), body: patch})
}

func (p profilesClient) Search(ctx context.Context, query string) Result[[]users.ProfileDTO] {
	query = strings.TrimSpace(query)
	if utf8.RuneCountInString(query) < minSearchLength {
		return Err[[]users.ProfileDTO](KindValidation, fmt.Sprintf("search query must be at least %d characters", minSearchLength))
	}
	return call[[]users.ProfileDTO](ctx, p.c, request{method: http.MethodGet, path: "/api/v1/profiles", query: url.Values{"q": {query}}})
}

type storageClient struct{ c *Client }

// UploadAvatar sends file as the caller's avatar and returns its public URL.
func (s storageClient) UploadAvatar(ctx context.Context, filename string, file io.Reader) Result[string] {
	if file == nil {
		return Err[string](KindValidation, "avatar file is required")
	}
	data, err := io.ReadAll(file)
	if err != nil {
		return Err[string](KindUnexpected, "read avatar: "+err.Error())
	}
	if len(data) == 0 {
		return Err[string](KindValidation, "avatar file is empty")
	}

	var buf bytes.Buffer
	form := multipart.NewWriter(&buf)
	header := textproto.MIMEHeader{}
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename=%q`, filepath.Base(filename)))
	header.Set("Content-Type", mimetype.Detect(data).String())
	part, err := form.CreatePart(header)
	if err != nil {
		return Err[string](KindUnexpected, "build avatar form: "+err.Error())
	}
	if _, err := part.Write(data); err != nil {
		return Err[string](KindUnexpected, "build avatar form: "+err.Error())
	}
	if err := form.Close(); err != nil {
		return Err[string](KindUnexpected, "build avatar form: "+err.Error())
	}

	res := call[*users.ProfileDTO](ctx, s.c, request{
		method:      http.MethodPost,
		path:        "/api/v1/profiles/me/avatar",
		rawBody:     buf.Bytes(),
		contentType: form.FormDataContentType(),
	})
	return Then(res, func(profile *users.ProfileDTO) Result[string] {
		if profile == nil || profile.AvatarURL == nil {
			return Err[string](KindUnexpected, "avatar url missing from response")
		}
		return Ok(*profile.AvatarURL)
	})
}

type partnershipsClient struct{ c *Client }

func (p partnershipsClient) List(ctx context.Context, status *enums.PartnershipStatus) Result[[]partnerships.PartnershipDTO] {
	query := url.Values{}
	if status != nil {
		query.Set("status", string(*status))
	}
	return call[[]partnerships.PartnershipDTO](ctx, p.c, request{method: http.MethodGet, path: "/api/v1/partnerships", query: query})
}

func (p partnershipsClient) Get(ctx context.Context, id uuid.UUID) Result[*partnerships.PartnershipDTO] {
	return call[*partnerships.PartnershipDTO](ctx, p.c, request{method: http.MethodGet, path: "/api/v1/partnerships/" + id.String()})
}

func (p partnershipsClient) Create(ctx context.Context, input partnerships.CreateInput) Result[*CreateOutcome] {
	if input.InviteeID == nil && strings.TrimSpace(input.InviteeEmail) == "" {
		return Err[*CreateOutcome](KindValidation, "invitee id or email is required")
	}
	return call[*CreateOutcome](ctx, p.c, request{method: http.MethodPost, path: "/api/v1/partnerships", body: input})
}

func (p partnershipsClient) UpdateStatus(ctx context.Context, id uuid.UUID, status enums.PartnershipStatus) Result[*partnerships.TransitionResult] {
	return call[*partnerships.TransitionResult](ctx, p.c, request{
		method: http.MethodPatch,
		path:   "/api/v1/partnerships/" + id.String() + "/status",
		body:   map[string]string{"status": string(status)},
	})
}

func (p partnershipsClient) Transition(ctx context.Context, id uuid.UUID, action partnerships.Action) Result[*partnerships.TransitionResult] {
	if !action.IsValid() {
		return Err[*partnerships.TransitionResult](KindValidation, fmt.Sprintf("unknown partnership action %q", action))
	}
	segment := strings.ReplaceAll(string(action), "_", "-")
	return call[*partnerships.TransitionResult](ctx, p.c, request{method: http.MethodPost, path: "/api/v1/partnerships/" + id.String() + "/" + segment})
}

type goalsClient struct{ c *Client }

func (g goalsClient) List(ctx context.Context, params goals.ListParams) Result[[]goals.GoalDTO] {
	query := url.Values{"partnership_id": {params.PartnershipID.String()}}
	if params.OwnerID != nil {
		query.Set("owner_id", params.OwnerID.String())
	}
	if params.Status != nil {
		query.Set("status", string(*params.Status))
	}
	return call[[]goals.GoalDTO](ctx, g.c, request{method: http.MethodGet, path: "/api/v1/goals", query: query})
}

func (g goalsClient) Get(ctx context.Context, id uuid.UUID) Result[*goals.GoalDTO] {
	return call[*goals.GoalDTO](ctx, g.c, request{method: http.MethodGet, path: "/api/v1/goals/" + id.String()})
}

func (g goalsClient) Create(ctx context.Context, input goals.CreateInput) Result[*goals.GoalDTO] {
	if strings.TrimSpace(input.Title) == "" {
		return Err[*goals.GoalDTO](KindValidation, "goal title is required")
	}
	return call[*goals.GoalDTO](ctx, g.c, request{method: http.MethodPost, path: "/api/v1/goals", body: input})
}

func (g goalsClient) Update(ctx context.Context, id uuid.UUID, patch goals.UpdateInput) Result[*goals.GoalDTO] {
	return call[*goals.GoalDTO](ctx, g.c, request{method: http.MethodPatch, path: "/api/v1/goals/" + id.String(), body: patch})
}

func (g goalsClient) Complete(ctx context.Context, id uuid.UUID) Result[*goals.GoalDTO] {
	return call[*goals.GoalDTO](ctx, g.c, request{method: http.MethodPost, path: "/api/v1/goals/" + id.String() + "/complete"})
}

func (g goalsClient) Abandon(ctx context.Context, id uuid.UUID) Result[*goals.GoalDTO] {
	return call[*goals.GoalDTO](ctx, g.c, request{method: http.MethodPost, path: "/api/v1/goals/" + id.String() + "/abandon"})
}

type checkInsClient struct{ c *Client }

func (ci checkInsClient) List(ctx context.Context, params checkins.ListParams) Result[[]checkins.CheckInDTO] {
	query := url.Values{"partnership_id": {params.PartnershipID.String()}}
	if params.Window != checkins.WindowAll {
		query.Set("window", string(params.Window))
	}
	if params.Status != nil {
		query.Set("status", string(*params.Status))
	}
	return call[[]checkins.CheckInDTO](ctx, ci.c, request{method: http.MethodGet, path: "/api/v1/checkins", query: query})
}

func (ci checkInsClient) Create(ctx context.Context, input checkins.CreateInput) Result[*checkins.CheckInDTO] {
	return call[*checkins.CheckInDTO](ctx, ci.c, request{method: http.MethodPost, path: "/api/v1/checkins", body: input})
}

func (ci checkInsClient) UpdateNotes(ctx context.Context, id uuid.UUID, notes *string) Result[*checkins.CheckInDTO] {
	return call[*checkins.CheckInDTO](ctx, ci.c, request{
		method: http.MethodPatch,
		path:   "/api/v1/checkins/" + id.String() + "/notes",
		body:   map[string]*string{"notes": notes},
	})
}

func (ci checkInsClient) Complete(ctx context.Context, id uuid.UUID) Result[*checkins.CheckInDTO] {
	return call[*checkins.CheckInDTO](ctx, ci.c, request{method: http.MethodPost, path: "/api/v1/checkins/" + id.String() + "/complete"})
}

func (ci checkInsClient) Cancel(ctx context.Context, id uuid.UUID) Result[*checkins.CheckInDTO] {
	return call[*checkins.CheckInDTO](ctx, ci.c, request{method: http.MethodPost, path: "/api/v1/checkins/" + id.String() + "/cancel"})
}

type messagesClient struct{ c *Client }

func (m messagesClient) List(ctx context.Context, partnershipID uuid.UUID, page pagination.Params) Result[*pagination.Page[messages.MessageDTO]] {
	query := pageQuery(page)
	query.Set("partnership_id", partnershipID.String())
	return call[*pagination.Page[messages.MessageDTO]](ctx, m.c, request{method: http.MethodGet, path: "/api/v1/messages", query: query})
}

func (m messagesClient) Send(ctx context.Context, input messages.SendInput) Result[*messages.MessageDTO] {
	if strings.TrimSpace(input.Content) == "" {
		return Err[*messages.MessageDTO](KindValidation, "message content is required")
	}
	return call[*messages.MessageDTO](ctx, m.c, request{method: http.MethodPost, path: "/api/v1/messages", body: input})
}

func (m messagesClient) MarkRead(ctx context.Context, id uuid.UUID) Result[*messages.MessageDTO] {
	return call[*messages.MessageDTO](ctx, m.c, request{method: http.MethodPost, path: "/api/v1/messages/" + id.String() + "/read"})
}

func (m messagesClient) MarkAllRead(ctx context.Context, partnershipID uuid.UUID) Result[int64] {
	res := call[map[string]int64](ctx, m.c, request{
		method: http.MethodPost,
		path:   "/api/v1/messages/read-all",
		body:   map[string]uuid.UUID{"partnership_id": partnershipID},
	})
	return Then(res, func(out map[string]int64) Result[int64] { return Ok(out["updated"]) })
}

func (m messagesClient) Unread(ctx context.Context) Result[*messages.UnreadSummary] {
	return call[*messages.UnreadSummary](ctx, m.c, request{method: http.MethodGet, path: "/api/v1/messages/unread"})
}

type progressClient struct{ c *Client }

func (p progressClient) ListByGoal(ctx context.Context, goalID uuid.UUID, page pagination.Params) Result[*pagination.Page[progress.UpdateDTO]] {
	return call[*pagination.Page[progress.UpdateDTO]](ctx, p.c, request{
		method: http.MethodGet,
		path:   "/api/v1/goals/" + goalID.String() + "/progress",
		query:  pageQuery(page),
	})
}

func (p progressClient) Create(ctx context.Context, input progress.CreateInput) Result[*progress.UpdateDTO] {
	return call[*progress.UpdateDTO](ctx, p.c, request{method: http.MethodPost, path: "/api/v1/progress", body: input})
}

func pageQuery(page pagination.Params) url.Values {
	query := url.Values{}
	if page.Limit > 0 {
		query.Set("limit", strconv.Itoa(page.Limit))
	}
	if page.Cursor != "" {
		query.Set("cursor", page.Cursor)
	}
	return query
}
