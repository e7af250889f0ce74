package gateway

import (
	"context"
	"io"
	"time"

	"github.com/google/uuid"

	"github.com/accountable/accountable-backend/internal/auth"
	"github.com/accountable/accountable-backend/internal/checkins"
	"github.com/accountable/accountable-backend/internal/goals"
	"github.com/accountable/accountable-backend/internal/messages"
	"github.com/accountable/accountable-backend/internal/partnerships"
	"github.com/accountable/accountable-backend/internal/progress"
	"github.com/accountable/accountable-backend/internal/realtime"
	"github.com/accountable/accountable-backend/internal/users"
	"github.com/accountable/accountable-backend/pkg/enums"
	"github.com/accountable/accountable-backend/pkg/pagination"
)

// Session is the client's view of the signed-in identity and its tokens.
type Session struct {
	AccessToken  string           `json:"access_token"`
	RefreshToken string           `json:"refresh_token"`
	ExpiresAt    time.Time        `json:"expires_at"`
	User         auth.IdentityDTO `json:"user"`
}

// Expired reports whether the access token is past its expiry at now.
func (s *Session) Expired(now time.Time) bool {
	return s == nil || (!s.ExpiresAt.IsZero() && !now.Before(s.ExpiresAt))
}

func sessionFromDTO(dto auth.SessionDTO) *Session {
	return &Session{
		AccessToken:  dto.AccessToken,
		RefreshToken: dto.RefreshToken,
		ExpiresAt:    dto.ExpiresAt,
		User:         dto.User,
	}
}

// AuthStateListener receives every session change. session is nil on sign out.
type AuthStateListener func(event enums.AuthEvent, session *Session)

type Auth interface {
	SignUp(ctx context.Context, req auth.SignUpRequest) Result[*auth.SignUpResult]
	SignIn(ctx context.Context, email, password string) Result[*auth.SignInResult]
	SignOut(ctx context.Context) Result[struct{}]
	// GetSession returns nil without a failure when nobody is signed in.
	GetSession(ctx context.Context) Result[*Session]
	Refresh(ctx context.Context) Result[*Session]
	// RequestPasswordReset succeeds for unknown addresses too.
	RequestPasswordReset(ctx context.Context, email string) Result[struct{}]
	ResetPassword(ctx context.Context, token, password string) Result[struct{}]
	OnAuthStateChange(listener AuthStateListener) (unsubscribe func())
}

type Profiles interface {
	Get(ctx context.Context, id uuid.UUID) Result[*users.ProfileDTO]
	Create(ctx context.Context, draft users.CreateProfileInput) Result[*users.ProfileDTO]
	Update(ctx context.Context, id uuid.UUID, patch users.UpdateProfileInput) Result[*users.ProfileDTO]
	// Search matches other members by a fragment of their email.
	Search(ctx context.Context, query string) Result[[]users.ProfileDTO]
}

// Storage uploads files and returns their public URL.
type Storage interface {
	UploadAvatar(ctx context.Context, filename string, file io.Reader) Result[string]
}

// CreateOutcome holds exactly one of a partnership or a pending invitation.
type CreateOutcome struct {
	Partnership *partnerships.PartnershipDTO        `json:"partnership,omitempty"`
	Invitation  *partnerships.PendingInvitationView `json:"invitation,omitempty"`
}

type Partnerships interface {
	List(ctx context.Context, status *enums.PartnershipStatus) Result[[]partnerships.PartnershipDTO]
	Get(ctx context.Context, id uuid.UUID) Result[*partnerships.PartnershipDTO]
	Create(ctx context.Context, input partnerships.CreateInput) Result[*CreateOutcome]
	UpdateStatus(ctx context.Context, id uuid.UUID, status enums.PartnershipStatus) Result[*partnerships.TransitionResult]
	Transition(ctx context.Context, id uuid.UUID, action partnerships.Action) Result[*partnerships.TransitionResult]
}

type Goals interface {
	List(ctx context.Context, params goals.ListParams) Result[[]goals.GoalDTO]
	Get(ctx context.Context, id uuid.UUID) Result[*goals.GoalDTO]
	Create(ctx context.Context, input goals.CreateInput) Result[*goals.GoalDTO]
	Update(ctx context.Context, id uuid.UUID, patch goals.UpdateInput) Result[*goals.GoalDTO]
	Complete(ctx context.Context, id uuid.UUID) Result[*goals.GoalDTO]
	Abandon(ctx context.Context, id uuid.UUID) Result[*goals.GoalDTO]
}

type CheckIns interface {
	List(ctx context.Context, params checkins.ListParams) Result[[]checkins.CheckInDTO]
	Create(ctx context.Context, input checkins.CreateInput) Result[*checkins.CheckInDTO]
	UpdateNotes(ctx context.Context, id uuid.UUID, notes *string) Result[*checkins.CheckInDTO]
	Complete(ctx context.Context, id uuid.UUID) Result[*checkins.CheckInDTO]
	Cancel(ctx context.Context, id uuid.UUID) Result[*checkins.CheckInDTO]
}

type Messages interface {
	List(ctx context.Context, partnershipID uuid.UUID, page pagination.Params) Result[*pagination.Page[messages.MessageDTO]]
	Send(ctx context.Context, input messages.SendInput) Result[*messages.MessageDTO]
	MarkRead(ctx context.Context, id uuid.UUID) Result[*messages.MessageDTO]
	MarkAllRead(ctx context.Context, partnershipID uuid.UUID) Result[int64]
	Unread(ctx context.Context) Result[*messages.UnreadSummary]
}

type Progress interface {
	ListByGoal(ctx context.Context, goalID uuid.UUID, page pagination.Params) Result[*pagination.Page[progress.UpdateDTO]]
	Create(ctx context.Context, input progress.CreateInput) Result[*progress.UpdateDTO]
}

// Changes opens the push feed. The channel closes when ctx ends or the stream
// drops; callers reconnect as they see fit.
type Changes interface {
	Subscribe(ctx context.Context, tables ...string) (<-chan realtime.Change, error)
}

// Gateway groups every remote surface the application talks to.
type Gateway interface {
	Auth() Auth
	Profiles() Profiles
	Storage() Storage
	Partnerships() Partnerships
	Goals() Goals
	CheckIns() CheckIns
	Messages() Messages
	Progress() Progress
	Changes() Changes
}
