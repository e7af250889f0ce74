package invitations

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/accountable/accountable-backend/internal/partnerships"
	"github.com/accountable/accountable-backend/internal/repo"
	"github.com/accountable/accountable-backend/internal/users"
	"github.com/accountable/accountable-backend/pkg/config"
	dbpkg "github.com/accountable/accountable-backend/pkg/db"
	"github.com/accountable/accountable-backend/pkg/db/models"
	"github.com/accountable/accountable-backend/pkg/enums"
	pkgerrors "github.com/accountable/accountable-backend/pkg/errors"
	"github.com/accountable/accountable-backend/pkg/logger"
	"github.com/accountable/accountable-backend/pkg/metrics"
	"github.com/accountable/accountable-backend/pkg/outbox"
	"github.com/accountable/accountable-backend/pkg/outbox/payloads"
	"github.com/accountable/accountable-backend/pkg/security"
	"github.com/accountable/accountable-backend/pkg/types"
)

const (
	openInvitationIndex = "idx_pending_invitations_open_pair"
	defaultExpireBatch  = 200
)

// Service manages invitations addressed to emails without a profile.
type Service interface {
	partnerships.Inviter
	Create(ctx context.Context, inviterID uuid.UUID, input CreateInput) (*InvitationDTO, error)
	ListSent(ctx context.Context, inviterID uuid.UUID) ([]InvitationDTO, error)
	Lookup(ctx context.Context, token string) (*LookupResult, error)
	Revoke(ctx context.Context, inviterID, id uuid.UUID) (*InvitationDTO, error)
	Convert(ctx context.Context, tx *gorm.DB, token string, invitee *models.User) (*models.Partnership, error)
	ExpireStale(ctx context.Context, limit int) (int, error)
}

// ServiceParams bundles the invitation service dependencies.
type ServiceParams struct {
	DB           dbpkg.TxRunner
	Repo         Repository
	Partnerships partnerships.Repository
	Users        users.Repository
	Outbox       outbox.Emitter
	Metrics      *metrics.DomainMetrics
	Config       config.PartnershipConfig
	Logger       *logger.Logger
	Now          func() time.Time
}

type service struct {
	db           dbpkg.TxRunner
	repo         Repository
	partnerships partnerships.Repository
	users        users.Repository
	outbox       outbox.Emitter
	metrics      *metrics.DomainMetrics
	cfg          config.PartnershipConfig
	logg         *logger.Logger
	now          func() time.Time
}

// NewService wires the invitation service.
func NewService(params ServiceParams) (Service, error) {
	if params.DB == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "transaction runner required")
	}
	if params.Repo == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "invitations repository required")
	}
	if params.Partnerships == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "partnerships repository required")
	}
	if params.Users == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "users repository required")
	}
	if params.Outbox == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "outbox emitter required")
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
		db:           params.DB,
		repo:         params.Repo,
		partnerships: params.Partnerships,
		users:        params.Users,
		outbox:       params.Outbox,
		metrics:      params.Metrics,
		cfg:          params.Config,
		logg:         logg,
		now:          now,
	}, nil
}

func (s *service) Create(ctx context.Context, inviterID uuid.UUID, input CreateInput) (*InvitationDTO, error) {
	if inviterID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "authentication required")
	}
	email := normalizeEmail(input.Email)
	if email == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "email is required")
	}

	var created *models.PendingInvitation
	err := s.db.WithTx(ctx, func(tx *gorm.DB) error {
		usersRepo := s.users.WithTx(tx)
		inviter, err := usersRepo.FindByID(ctx, inviterID)
		if err != nil {
			if repo.IsNotFound(err) {
				return pkgerrors.New(pkgerrors.CodeNotFound, "inviter profile not found")
			}
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load inviter")
		}
		if _, err := usersRepo.FindByEmail(ctx, email); err == nil {
			return pkgerrors.New(pkgerrors.CodeConflict, "this email already has an account; invite the profile directly")
		} else if !repo.IsNotFound(err) {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "lookup invitee")
		}
		created, err = s.Invite(ctx, tx, inviter, email, input.Agreement.Normalize(), input.Message)
		return err
	})
	if err != nil {
		return nil, err
	}
	return FromModel(created), nil
}

// Invite stores a sent invitation inside tx and queues the invitation email.
func (s *service) Invite(ctx context.Context, tx *gorm.DB, inviter *models.User, email string, agreement types.Agreement, message *string) (*models.PendingInvitation, error) {
	if inviter == nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "inviter required")
	}
	email = normalizeEmail(email)
	if email == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "email is required")
	}
	if strings.EqualFold(email, inviter.Email) {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "you cannot invite yourself")
	}

	txRepo := s.repo.WithTx(tx)
	if open, err := txRepo.FindOpen(ctx, inviter.ID, email); err == nil {
		return nil, pkgerrors.New(pkgerrors.CodeConflict, "an invitation to this email is already pending").
			WithDetails(map[string]any{"invitation_id": open.ID, "expires_at": open.ExpiresAt})
	} else if !repo.IsNotFound(err) {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "check pending invitations")
	}

	token, err := security.GenerateToken(0)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "generate invitation token")
	}
	now := s.now().UTC()
	invitation := &models.PendingInvitation{
		ID:        uuid.New(),
		Email:     email,
		InviterID: inviter.ID,
		Token:     token,
		Agreement: agreement,
		Message:   trimmed(message),
		Status:    enums.InvitationStatusSent,
		ExpiresAt: now.Add(s.cfg.InvitationTTL),
	}
	if err := txRepo.Create(ctx, invitation); err != nil {
		if dbpkg.IsUniqueViolation(err, openInvitationIndex) {
			return nil, pkgerrors.New(pkgerrors.CodeConflict, "an invitation to this email is already pending")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create invitation")
	}

	data := s.eventData(invitation, inviter)
	data.Token = token
	if err := s.emit(ctx, tx, enums.EventInvitationSent, invitation.ID, outbox.Actor(inviter.ID), data, false); err != nil {
		return nil, err
	}

	logCtx := s.logg.WithFields(ctx, map[string]any{
		"invitation_id": invitation.ID.String(),
		"token":         security.Fingerprint(token),
	})
	s.logg.Info(logCtx, "partnership invitation sent")
	return invitation, nil
}

func (s *service) ListSent(ctx context.Context, inviterID uuid.UUID) ([]InvitationDTO, error) {
	if inviterID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "authentication required")
	}
	rows, err := s.repo.ListByInviter(ctx, inviterID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list invitations")
	}
	out := make([]InvitationDTO, 0, len(rows))
	for i := range rows {
		out = append(out, *FromModel(&rows[i]))
	}
	return out, nil
}

// Lookup validates a token for the public signup page. An expired invitation is
// marked expired on the spot.
func (s *service) Lookup(ctx context.Context, token string) (*LookupResult, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "invitation token required")
	}
	invitation, err := s.repo.FindByToken(ctx, token, false)
	if err != nil {
		if repo.IsNotFound(err) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "invitation not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load invitation")
	}
	if err := s.checkRedeemable(ctx, invitation); err != nil {
		return nil, err
	}

	inviter, err := s.users.FindByID(ctx, invitation.InviterID)
	if err != nil && !repo.IsNotFound(err) {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load inviter")
	}
	result := &LookupResult{
		Valid:       true,
		Email:       invitation.Email,
		InviterName: users.DisplayName(inviter),
		Agreement:   invitation.Agreement,
		ExpiresAt:   invitation.ExpiresAt,
	}
	if invitation.Message != nil {
		result.Message = *invitation.Message
	}
	return result, nil
}

func (s *service) checkRedeemable(ctx context.Context, invitation *models.PendingInvitation) error {
	if invitation.Status != enums.InvitationStatusSent {
		return pkgerrors.Newf(pkgerrors.CodeValidation, "invitation is %s", invitation.Status).
			WithDetails(map[string]any{"status": invitation.Status})
	}
	if s.now().UTC().After(invitation.ExpiresAt) {
		if err := s.db.WithTx(ctx, func(tx *gorm.DB) error {
			return s.expire(ctx, tx, *invitation)
		}); err != nil {
			s.logg.Warn(s.logg.WithField(ctx, "invitation_id", invitation.ID.String()), "failed to mark invitation expired")
		}
		return pkgerrors.New(pkgerrors.CodeValidation, "invitation has expired").
			WithDetails(map[string]any{"status": enums.InvitationStatusExpired})
	}
	return nil
}

func (s *service) Revoke(ctx context.Context, inviterID, id uuid.UUID) (*InvitationDTO, error) {
	if inviterID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "authentication required")
	}
	invitation, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if repo.IsNotFound(err) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "invitation not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load invitation")
	}
	if invitation.InviterID != inviterID {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "only the inviter can revoke an invitation")
	}
	if invitation.Status == enums.InvitationStatusRevoked {
		return FromModel(invitation), nil
	}
	changed, err := s.repo.SetStatus(ctx, id, enums.InvitationStatusSent, enums.InvitationStatusRevoked, nil)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "revoke invitation")
	}
	if !changed {
		return nil, pkgerrors.Newf(pkgerrors.CodeStateConflict, "invitation is %s", invitation.Status)
	}
	invitation.Status = enums.InvitationStatusRevoked
	return FromModel(invitation), nil
}

// Convert turns the invitation into a trial partnership between the inviter and the
// newly registered invitee, carrying over the proposed agreement and message.
// It must run inside the registration transaction.
func (s *service) Convert(ctx context.Context, tx *gorm.DB, token string, invitee *models.User) (*models.Partnership, error) {
	if tx == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "transaction required")
	}
	if invitee == nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "invitee required")
	}
	txRepo := s.repo.WithTx(tx)
	invitation, err := txRepo.FindByToken(ctx, strings.TrimSpace(token), true)
	if err != nil {
		if repo.IsNotFound(err) {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "invitation not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load invitation")
	}
	if invitation.Status != enums.InvitationStatusSent {
		return nil, pkgerrors.Newf(pkgerrors.CodeValidation, "invitation is %s", invitation.Status)
	}
	now := s.now().UTC()
	if now.After(invitation.ExpiresAt) {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "invitation has expired")
	}
	if !strings.EqualFold(invitation.Email, invitee.Email) {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "invitation was sent to a different email address")
	}
	if invitation.InviterID == invitee.ID {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "you cannot accept your own invitation")
	}

	partnershipRepo := s.partnerships.WithTx(tx)
	existing, err := partnershipRepo.ListBetween(ctx, invitation.InviterID, invitee.ID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "check existing partnerships")
	}
	for _, p := range existing {
		if p.Status != enums.PartnershipStatusEnded || !s.cfg.AllowReinviteAfterEnded {
			return nil, pkgerrors.New(pkgerrors.CodeConflict, "a partnership with this user already exists")
		}
	}

	trialEnd := now.Add(s.cfg.TrialLength)
	invitationID := invitation.ID
	partnership := &models.Partnership{
		ID:              uuid.New(),
		User1ID:         invitation.InviterID,
		User2ID:         invitee.ID,
		Status:          enums.PartnershipStatusTrial,
		TrialEndDate:    &trialEnd,
		Agreement:       invitation.Agreement,
		Message:         invitation.Message,
		InvitationID:    &invitationID,
		StatusChangedAt: now,
	}
	if err := partnershipRepo.Create(ctx, partnership); err != nil {
		if dbpkg.IsUniqueViolation(err, "idx_partnerships_open_pair") {
			return nil, pkgerrors.New(pkgerrors.CodeConflict, "a partnership with this user already exists")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create partnership from invitation")
	}

	changed, err := txRepo.SetStatus(ctx, invitation.ID, enums.InvitationStatusSent, enums.InvitationStatusAccepted, map[string]any{
		"accepted_at":    now,
		"partnership_id": partnership.ID,
	})
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "mark invitation accepted")
	}
	if !changed {
		return nil, pkgerrors.New(pkgerrors.CodeConflict, "invitation was already used")
	}

	inviteeID := invitee.ID
	data := s.eventData(invitation, nil)
	data.PartnershipID = &partnership.ID
	data.AcceptedBy = &inviteeID
	if err := s.emit(ctx, tx, enums.EventInvitationConverted, invitation.ID, outbox.Actor(invitee.ID), data, false); err != nil {
		return nil, err
	}
	transition := payloads.PartnershipTransitionEvent{
		PartnershipID: partnership.ID,
		RequesterID:   partnership.User1ID,
		PartnerID:     partnership.User2ID,
		ActorID:       &inviteeID,
		FromStatus:    enums.PartnershipStatusPending,
		ToStatus:      enums.PartnershipStatusTrial,
		TrialEndDate:  &trialEnd,
	}
	if partnership.Message != nil {
		transition.Message = *partnership.Message
	}
	if err := s.outbox.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     enums.EventPartnershipAccepted,
		AggregateType: enums.AggregatePartnership,
		AggregateID:   partnership.ID,
		Actor:         outbox.Actor(invitee.ID),
		Data:          transition,
	}); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "emit partnership event")
	}

	s.metrics.ObserveTransition(string(enums.PartnershipStatusPending), string(enums.PartnershipStatusTrial), true)
	logCtx := s.logg.WithFields(ctx, map[string]any{
		"invitation_id":  invitation.ID.String(),
		"partnership_id": partnership.ID.String(),
	})
	s.logg.Info(logCtx, "invitation converted into trial partnership")
	return partnership, nil
}

// ExpireStale marks overdue invitations expired. It returns how many it changed.
func (s *service) ExpireStale(ctx context.Context, limit int) (int, error) {
	if limit <= 0 {
		limit = defaultExpireBatch
	}
	expired := 0
	err := s.db.WithTx(ctx, func(tx *gorm.DB) error {
		rows, err := s.repo.WithTx(tx).ListExpired(ctx, s.now().UTC(), limit)
		if err != nil {
			return err
		}
		for _, row := range rows {
			if err := s.expire(ctx, tx, row); err != nil {
				return err
			}
			expired++
		}
		return nil
	})
	if err != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "expire invitations")
	}
	return expired, nil
}

func (s *service) expire(ctx context.Context, tx *gorm.DB, invitation models.PendingInvitation) error {
	changed, err := s.repo.WithTx(tx).SetStatus(ctx, invitation.ID, enums.InvitationStatusSent, enums.InvitationStatusExpired, nil)
	if err != nil || !changed {
		return err
	}
	return s.emit(ctx, tx, enums.EventInvitationExpired, invitation.ID, nil, s.eventData(&invitation, nil), true)
}

func (s *service) eventData(invitation *models.PendingInvitation, inviter *models.User) payloads.InvitationEvent {
	data := payloads.InvitationEvent{
		InvitationID: invitation.ID,
		InviterID:    invitation.InviterID,
		InviterName:  users.DisplayName(inviter),
		Email:        invitation.Email,
		ExpiresAt:    invitation.ExpiresAt,
	}
	if invitation.Message != nil {
		data.Message = *invitation.Message
	}
	return data
}

func (s *service) emit(ctx context.Context, tx *gorm.DB, eventType enums.OutboxEventType, id uuid.UUID, actor *outbox.ActorRef, data payloads.InvitationEvent, once bool) error {
	event := outbox.DomainEvent{
		EventType:     eventType,
		AggregateType: enums.AggregateInvitation,
		AggregateID:   id,
		Actor:         actor,
		Data:          data,
	}
	var err error
	if once {
		err = s.outbox.EmitIfNotExists(ctx, tx, event)
	} else {
		err = s.outbox.Emit(ctx, tx, event)
	}
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "emit invitation event")
	}
	return nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func trimmed(message *string) *string {
	if message == nil {
		return nil
	}
	value := strings.TrimSpace(*message)
	if value == "" {
		return nil
	}
	return &value
}
