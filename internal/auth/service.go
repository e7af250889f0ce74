package auth

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	redislib "github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"github.com/accountable/accountable-backend/internal/repo"
	"github.com/accountable/accountable-backend/internal/users"
	pkgAuth "github.com/accountable/accountable-backend/pkg/auth"
	"github.com/accountable/accountable-backend/pkg/auth/session"
	"github.com/accountable/accountable-backend/pkg/config"
	dbpkg "github.com/accountable/accountable-backend/pkg/db"
	"github.com/accountable/accountable-backend/pkg/db/models"
	"github.com/accountable/accountable-backend/pkg/enums"
	pkgerrors "github.com/accountable/accountable-backend/pkg/errors"
	"github.com/accountable/accountable-backend/pkg/logger"
	"github.com/accountable/accountable-backend/pkg/outbox"
	"github.com/accountable/accountable-backend/pkg/outbox/payloads"
	"github.com/accountable/accountable-backend/pkg/security"
)

const (
	invalidCredentialsMessage = "invalid login credentials"
	// EmailNotConfirmedMessage is returned verbatim so clients can prompt for confirmation.
	EmailNotConfirmedMessage = "email not confirmed"
	confirmationTokenBytes   = 24
	tokenTypeBearer          = "bearer"
)

// Service is the identity surface behind /auth.
type Service interface {
	SignUp(ctx context.Context, req SignUpRequest) (*SignUpResult, error)
	SignIn(ctx context.Context, req SignInRequest) (*SignInResult, error)
	SignOut(ctx context.Context, accessID string) error
	Session(ctx context.Context, userID uuid.UUID, expiresAt time.Time) (*CurrentSession, error)
	Refresh(ctx context.Context, req RefreshRequest) (*SessionDTO, error)
	ConfirmEmail(ctx context.Context, token string) (*SignInResult, error)
	RequestPasswordReset(ctx context.Context, email string) error
	ResetPassword(ctx context.Context, req ResetPasswordRequest) error
}

type sessionManager interface {
	Generate(ctx context.Context, accessID string, userID uuid.UUID) (string, error)
	Rotate(ctx context.Context, oldAccessID, provided string) (session.Rotation, error)
	Revoke(ctx context.Context, accessID string) error
}

type invitationConverter interface {
	Convert(ctx context.Context, tx *gorm.DB, token string, invitee *models.User) (*models.Partnership, error)
}

// confirmationStore holds single-use email confirmation and password reset tokens.
type confirmationStore interface {
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
	Take(ctx context.Context, key string) (string, error)
	ConfirmationKey(token string) string
	PasswordResetKey(token string) string
}

// ServiceParams bundles the dependencies required to build an auth service.
type ServiceParams struct {
	DB            dbpkg.TxRunner
	Repo          Repository
	Users         users.Repository
	Invitations   invitationConverter
	Sessions      sessionManager
	Confirmations confirmationStore
	Outbox        outbox.Emitter
	Tokens        *pkgAuth.Signer
	Password      config.PasswordConfig
	Features      config.FeatureFlagsConfig
	Logger        *logger.Logger
	Now           func() time.Time
}

type service struct {
	db            dbpkg.TxRunner
	repo          Repository
	users         users.Repository
	invitations   invitationConverter
	sessions      sessionManager
	confirmations confirmationStore
	outbox        outbox.Emitter
	tokens        *pkgAuth.Signer
	passwords     *security.Hasher
	features      config.FeatureFlagsConfig
	logg          *logger.Logger
	now           func() time.Time
}

// NewService constructs the auth service with the provided dependencies.
func NewService(params ServiceParams) (Service, error) {
	if params.DB == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "transaction runner required")
	}
	if params.Repo == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "identities repository required")
	}
	if params.Users == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "users repository required")
	}
	if params.Sessions == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "session manager required")
	}
	if params.Tokens == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "token signer required")
	}
	if params.Outbox == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "outbox emitter required")
	}
	if params.Features.RequireEmailConfirmation && params.Confirmations == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "confirmation store required when email confirmation is enabled")
	}
	logg := params.Logger
	if logg == nil {
		logg = logger.Nop()
	}
	now := params.Now
	if now == nil {
		now = time.Now
	}
	return &service{
		db:            params.DB,
		repo:          params.Repo,
		users:         params.Users,
		invitations:   params.Invitations,
		sessions:      params.Sessions,
		confirmations: params.Confirmations,
		outbox:        params.Outbox,
		tokens:        params.Tokens,
		passwords:     security.NewHasher(params.Password),
		features:      params.Features,
		logg:          logg,
		now:           now,
	}, nil
}

func (s *service) SignUp(ctx context.Context, req SignUpRequest) (*SignUpResult, error) {
	email := normalizeEmail(req.Email)
	if email == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "email is required")
	}
	if err := s.passwords.CheckPolicy(req.Password); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "password does not meet policy")
	}
	token := strings.TrimSpace(req.InvitationToken)
	if token != "" && s.invitations == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "invitations are not available")
	}

	hash, err := s.passwords.Hash(req.Password)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "hash password")
	}

	now := s.now().UTC()
	identity := &models.Identity{
		ID:           uuid.New(),
		Email:        email,
		PasswordHash: hash,
		Metadata:     req.Metadata.Trimmed(),
	}
	needsConfirmation := s.features.RequireEmailConfirmation
	if !needsConfirmation {
		identity.EmailConfirmedAt = &now
	}

	var partnershipID *uuid.UUID
	err = s.db.WithTx(ctx, func(tx *gorm.DB) error {
		identities := s.repo.WithTx(tx)
		if _, err := identities.FindByEmail(ctx, email); err == nil {
			return pkgerrors.New(pkgerrors.CodeConflict, "email already registered")
		} else if !repo.IsNotFound(err) {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "check identity email")
		}
		if err := identities.Create(ctx, identity); err != nil {
			if dbpkg.IsUniqueViolation(err, "") {
				return pkgerrors.New(pkgerrors.CodeConflict, "email already registered")
			}
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create identity")
		}

		// conversion needs the invitee's profile row to exist
		if s.features.CreateProfileOnSignup || token != "" {
			profile := users.CreateProfileInput{
				ID:        identity.ID,
				Email:     email,
				FirstName: identity.Metadata.FirstName,
				LastName:  identity.Metadata.LastName,
				TimeZone:  identity.Metadata.TimeZone,
			}.ToModel()
			if err := s.users.WithTx(tx).Create(ctx, profile); err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create profile")
			}
			if token != "" {
				partnership, err := s.invitations.Convert(ctx, tx, token, profile)
				if err != nil {
					return err
				}
				partnershipID = &partnership.ID
			}
		}

		if err := s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventUserRegistered,
			AggregateType: enums.AggregateIdentity,
			AggregateID:   identity.ID,
			Actor:         outbox.Actor(identity.ID),
			Data:          payloads.UserRegisteredEvent{UserID: identity.ID, Email: email},
		}); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "emit registration event")
		}
		if needsConfirmation {
			return s.requestConfirmation(ctx, tx, identity, now)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	logCtx := s.logg.WithUserID(ctx, identity.ID.String())
	s.logg.Info(logCtx, "identity registered")

	result := &SignUpResult{
		Identity:                  identityFromModel(identity),
		EmailConfirmationRequired: needsConfirmation,
		PartnershipID:             partnershipID,
	}
	if needsConfirmation {
		return result, nil
	}
	sess, err := s.issue(ctx, identity, now)
	if err != nil {
		return nil, err
	}
	result.Session = sess
	return result, nil
}

// requestConfirmation stores a single-use token and hands it to the mailer via the outbox.
func (s *service) requestConfirmation(ctx context.Context, tx *gorm.DB, identity *models.Identity, now time.Time) error {
	token, err := security.GenerateToken(confirmationTokenBytes)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "generate confirmation token")
	}
	ttl := s.features.EmailConfirmationTTL()
	if err := s.confirmations.Set(ctx, s.confirmations.ConfirmationKey(token), identity.ID.String(), ttl); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "store confirmation token")
	}
	if err := s.outbox.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     enums.EventEmailConfirmationRequested,
		AggregateType: enums.AggregateIdentity,
		AggregateID:   identity.ID,
		Data: payloads.EmailConfirmationRequestedEvent{
			UserID:    identity.ID,
			Email:     identity.Email,
			Token:     token,
			ExpiresAt: now.Add(ttl),
		},
	}); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "emit confirmation event")
	}
	return nil
}

func (s *service) SignIn(ctx context.Context, req SignInRequest) (*SignInResult, error) {
	email := normalizeEmail(req.Email)
	if email == "" {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, invalidCredentialsMessage)
	}
	identity, err := s.repo.FindByEmail(ctx, email)
	if err != nil {
		if repo.IsNotFound(err) {
			return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, invalidCredentialsMessage)
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "lookup identity")
	}

	valid, rehash, err := s.passwords.Verify(req.Password, identity.PasswordHash)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "verify password")
	}
	if !valid {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, invalidCredentialsMessage)
	}
	if rehash {
		s.upgradeHash(ctx, identity, req.Password)
	}
	if s.features.RequireEmailConfirmation && identity.EmailConfirmedAt == nil {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, EmailNotConfirmedMessage).
			WithDetails(map[string]any{"reason": "email_not_confirmed"})
	}
	return s.signIn(ctx, identity)
}

// upgradeHash re-stores a password hashed with outdated parameters. Failure
// only costs another attempt on the next sign-in.
func (s *service) upgradeHash(ctx context.Context, identity *models.Identity, password string) {
	logCtx := s.logg.WithUserID(ctx, identity.ID.String())
	hash, err := s.passwords.Hash(password)
	if err == nil {
		err = s.repo.UpdatePasswordHash(ctx, identity.ID, hash, s.now().UTC())
	}
	if err != nil {
		s.logg.Warn(logCtx, "auth.rehash_failed: "+err.Error())
		return
	}
	identity.PasswordHash = hash
	s.logg.Info(logCtx, "auth.password_rehashed")
}

func (s *service) signIn(ctx context.Context, identity *models.Identity) (*SignInResult, error) {
	now := s.now().UTC()
	if err := s.repo.RecordSignIn(ctx, identity.ID, now); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "record sign in")
	}
	identity.LastSignInAt = &now

	sess, err := s.issue(ctx, identity, now)
	if err != nil {
		return nil, err
	}
	return &SignInResult{Identity: sess.User, Session: *sess}, nil
}

func (s *service) SignOut(ctx context.Context, accessID string) error {
	if strings.TrimSpace(accessID) == "" {
		return pkgerrors.New(pkgerrors.CodeUnauthorized, "authentication required")
	}
	if err := s.sessions.Revoke(ctx, accessID); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "revoke session")
	}
	return nil
}

func (s *service) Session(ctx context.Context, userID uuid.UUID, expiresAt time.Time) (*CurrentSession, error) {
	if userID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "authentication required")
	}
	identity, err := s.repo.FindByID(ctx, userID)
	if err != nil {
		if repo.IsNotFound(err) {
			return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "session user no longer exists")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load identity")
	}
	return &CurrentSession{User: identityFromModel(identity), ExpiresAt: expiresAt}, nil
}

func (s *service) Refresh(ctx context.Context, req RefreshRequest) (*SessionDTO, error) {
	claims, err := s.tokens.Inspect(req.AccessToken)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeUnauthorized, err, "invalid access token")
	}
	rotation, err := s.sessions.Rotate(ctx, claims.SessionID(), req.RefreshToken)
	if err != nil {
		if errors.Is(err, session.ErrInvalidRefreshToken) {
			return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "invalid refresh token")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "rotate session")
	}
	if rotation.UserID != claims.UserID {
		logCtx := s.logg.WithUserID(ctx, claims.UserID.String())
		if err := s.sessions.Revoke(ctx, rotation.AccessID); err != nil {
			s.logg.Warn(logCtx, "auth.revoke_mismatched_session_failed: "+err.Error())
		} else {
			s.logg.Warn(logCtx, "auth.refresh_user_mismatch")
		}
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "invalid refresh token")
	}

	identity, err := s.repo.FindByID(ctx, rotation.UserID)
	if err != nil {
		if repo.IsNotFound(err) {
			return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "session user no longer exists")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load identity")
	}
	return s.mint(identity, s.now().UTC(), rotation.AccessID, rotation.RefreshToken)
}

func (s *service) ConfirmEmail(ctx context.Context, token string) (*SignInResult, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "confirmation token required")
	}
	if s.confirmations == nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "email confirmation is not enabled")
	}
	raw, err := s.confirmations.Take(ctx, s.confirmations.ConfirmationKey(token))
	if err != nil {
		if errors.Is(err, redislib.Nil) {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "confirmation link is invalid or has expired")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "read confirmation token")
	}
	userID, err := uuid.Parse(raw)
	if err != nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "confirmation link is invalid or has expired")
	}

	now := s.now().UTC()
	if _, err := s.repo.MarkConfirmed(ctx, userID, now); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "confirm email")
	}
	identity, err := s.repo.FindByID(ctx, userID)
	if err != nil {
		if repo.IsNotFound(err) {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "confirmation link is invalid or has expired")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load identity")
	}
	s.logg.Info(s.logg.WithUserID(ctx, userID.String()), "email confirmed")
	return s.signIn(ctx, identity)
}

// RequestPasswordReset mails a single-use reset link when email belongs to an
// identity. Unknown addresses get the same empty answer.
func (s *service) RequestPasswordReset(ctx context.Context, email string) error {
	email = normalizeEmail(email)
	if email == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "email is required")
	}
	if s.confirmations == nil {
		return pkgerrors.New(pkgerrors.CodeDependency, "password reset is not available")
	}
	identity, err := s.repo.FindByEmail(ctx, email)
	if err != nil {
		if repo.IsNotFound(err) {
			return nil
		}
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "lookup identity")
	}

	token, err := security.GenerateToken(confirmationTokenBytes)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "generate reset token")
	}
	ttl := s.features.PasswordResetTTL()
	now := s.now().UTC()
	if err := s.confirmations.Set(ctx, s.confirmations.PasswordResetKey(token), identity.ID.String(), ttl); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "store reset token")
	}
	err = s.db.WithTx(ctx, func(tx *gorm.DB) error {
		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventPasswordResetRequested,
			AggregateType: enums.AggregateIdentity,
			AggregateID:   identity.ID,
			Data: payloads.PasswordResetRequestedEvent{
				UserID:    identity.ID,
				Email:     identity.Email,
				Token:     token,
				ExpiresAt: now.Add(ttl),
			},
		})
	})
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "emit reset event")
	}
	s.logg.Info(s.logg.WithUserID(ctx, identity.ID.String()), "auth.password_reset_requested")
	return nil
}

// ResetPassword redeems a reset token and stores the new password. A password
// failing policy leaves the token redeemable.
func (s *service) ResetPassword(ctx context.Context, req ResetPasswordRequest) error {
	token := strings.TrimSpace(req.Token)
	if token == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "reset token required")
	}
	if err := s.passwords.CheckPolicy(req.Password); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeValidation, err, "password does not meet policy")
	}
	if s.confirmations == nil {
		return pkgerrors.New(pkgerrors.CodeDependency, "password reset is not available")
	}
	raw, err := s.confirmations.Take(ctx, s.confirmations.PasswordResetKey(token))
	if err != nil {
		if errors.Is(err, redislib.Nil) {
			return pkgerrors.New(pkgerrors.CodeValidation, "reset link is invalid or has expired")
		}
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "read reset token")
	}
	userID, err := uuid.Parse(raw)
	if err != nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "reset link is invalid or has expired")
	}

	hash, err := s.passwords.Hash(req.Password)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "hash password")
	}
	if err := s.repo.UpdatePasswordHash(ctx, userID, hash, s.now().UTC()); err != nil {
		if repo.IsNotFound(err) {
			return pkgerrors.New(pkgerrors.CodeValidation, "reset link is invalid or has expired")
		}
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update password")
	}
	s.logg.Info(s.logg.WithUserID(ctx, userID.String()), "auth.password_reset")
	return nil
}

// issue starts a new refresh session and mints its access token.
func (s *service) issue(ctx context.Context, identity *models.Identity, now time.Time) (*SessionDTO, error) {
	accessID := session.NewAccessID()
	refreshToken, err := s.sessions.Generate(ctx, accessID, identity.ID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "store refresh token")
	}
	return s.mint(identity, now, accessID, refreshToken)
}

func (s *service) mint(identity *models.Identity, now time.Time, accessID, refreshToken string) (*SessionDTO, error) {
	accessToken, err := s.tokens.Mint(now, pkgAuth.Grant{
		UserID:    identity.ID,
		Email:     identity.Email,
		SessionID: accessID,
	})
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "mint jwt")
	}
	ttl := s.tokens.TTL()
	return &SessionDTO{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		TokenType:    tokenTypeBearer,
		ExpiresIn:    int64(ttl.Seconds()),
		ExpiresAt:    now.Add(ttl),
		User:         identityFromModel(identity),
	}, nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
