package partnerships

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

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
	"github.com/accountable/accountable-backend/pkg/types"
)

const openPairIndex = "idx_partnerships_open_pair"

// Service is the partnership lifecycle controller.
type Service interface {
	Create(ctx context.Context, inviterID uuid.UUID, input CreateInput) (*CreateResult, error)
	List(ctx context.Context, userID uuid.UUID, params ListParams) ([]PartnershipDTO, error)
	Get(ctx context.Context, userID, id uuid.UUID) (*PartnershipDTO, error)
	Accept(ctx context.Context, userID, id uuid.UUID) (*TransitionResult, error)
	Decline(ctx context.Context, userID, id uuid.UUID) (*TransitionResult, error)
	Finalize(ctx context.Context, userID, id uuid.UUID) (*TransitionResult, error)
	EndTrial(ctx context.Context, userID, id uuid.UUID) (*TransitionResult, error)
	Terminate(ctx context.Context, userID, id uuid.UUID) (*TransitionResult, error)
	UpdateStatus(ctx context.Context, userID, id uuid.UUID, target enums.PartnershipStatus) (*TransitionResult, error)
	Transition(ctx context.Context, userID, id uuid.UUID, action Action) (*TransitionResult, error)
	NotifyTrialsEndingSoon(ctx context.Context, limit int) (int, error)
}

// Inviter records a pending external invitation when the invitee has no profile.
type Inviter interface {
	Invite(ctx context.Context, tx *gorm.DB, inviter *models.User, email string, agreement types.Agreement, message *string) (*models.PendingInvitation, error)
}

// ServiceParams bundles the lifecycle controller dependencies.
type ServiceParams struct {
	DB      dbpkg.TxRunner
	Repo    Repository
	Users   users.Repository
	Inviter Inviter
	Outbox  outbox.Emitter
	Metrics *metrics.DomainMetrics
	Config  config.PartnershipConfig
	Logger  *logger.Logger
	Now     func() time.Time
}

type service struct {
	db      dbpkg.TxRunner
	repo    Repository
	users   users.Repository
	inviter Inviter
	outbox  outbox.Emitter
	metrics *metrics.DomainMetrics
	cfg     config.PartnershipConfig
	logg    *logger.Logger
	now     func() time.Time
}

// NewService wires the lifecycle controller.
func NewService(params ServiceParams) (Service, error) {
	if params.DB == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "transaction runner required")
	}
	if params.Repo == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "partnerships repository required")
	}
	if params.Users == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "users repository required")
	}
	if params.Inviter == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "inviter required")
	}
	if params.Outbox == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "outbox emitter required")
	}
	if params.Config.TrialLength <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "trial length must be positive")
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
		db:      params.DB,
		repo:    params.Repo,
		users:   params.Users,
		inviter: params.Inviter,
		outbox:  params.Outbox,
		metrics: params.Metrics,
		cfg:     params.Config,
		logg:    logg,
		now:     now,
	}, nil
}

func (s *service) view() view {
	return view{now: s.now().UTC(), trialLength: s.cfg.TrialLength, window: s.cfg.EndingSoonWindow}
}

func (s *service) Create(ctx context.Context, inviterID uuid.UUID, input CreateInput) (*CreateResult, error) {
	if inviterID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "authentication required")
	}
	email := strings.ToLower(strings.TrimSpace(input.InviteeEmail))
	hasID := input.InviteeID != nil && *input.InviteeID != uuid.Nil
	if hasID == (email != "") {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "provide exactly one of invitee_id or invitee_email")
	}
	agreement := input.Agreement.Normalize()
	message := trimmedMessage(input.Message)

	var result *CreateResult
	err := s.db.WithTx(ctx, func(tx *gorm.DB) error {
		usersRepo := s.users.WithTx(tx)
		inviter, err := usersRepo.FindByID(ctx, inviterID)
		if err != nil {
			if repo.IsNotFound(err) {
				return pkgerrors.New(pkgerrors.CodeNotFound, "inviter profile not found")
			}
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load inviter")
		}

		var invitee *models.User
		if hasID {
			invitee, err = usersRepo.FindByID(ctx, *input.InviteeID)
			if err != nil {
				if repo.IsNotFound(err) {
					return pkgerrors.New(pkgerrors.CodeNotFound, "invitee profile not found")
				}
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load invitee")
			}
		} else {
			if strings.EqualFold(email, inviter.Email) {
				return pkgerrors.New(pkgerrors.CodeValidation, "you cannot invite yourself")
			}
			invitee, err = usersRepo.FindByEmail(ctx, email)
			if err != nil && !repo.IsNotFound(err) {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "lookup invitee")
			}
			if invitee == nil {
				invitation, err := s.inviter.Invite(ctx, tx, inviter, email, agreement, message)
				if err != nil {
					return err
				}
				result = &CreateResult{Invitation: invitation}
				return nil
			}
		}

		if invitee.ID == inviter.ID {
			return pkgerrors.New(pkgerrors.CodeValidation, "you cannot invite yourself")
		}
		if err := s.ensureNoDuplicate(ctx, tx, inviter.ID, invitee.ID); err != nil {
			return err
		}

		now := s.now().UTC()
		partnership := &models.Partnership{
			ID:              uuid.New(),
			User1ID:         inviter.ID,
			User2ID:         invitee.ID,
			Status:          enums.PartnershipStatusPending,
			Agreement:       agreement,
			Message:         message,
			StatusChangedAt: now,
		}
		if err := s.repo.WithTx(tx).Create(ctx, partnership); err != nil {
			if dbpkg.IsUniqueViolation(err, openPairIndex) {
				return duplicateError()
			}
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create partnership")
		}

		if err := s.emitTransition(ctx, tx, *partnership, "", inviter.ID, enums.EventPartnershipRequested); err != nil {
			return err
		}
		result = &CreateResult{Partnership: s.view().build(*partnership, inviter.ID, invitee)}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if result.Partnership != nil {
		logCtx := s.logg.WithPartnershipID(ctx, result.Partnership.ID.String())
		s.logg.Info(logCtx, "partnership requested")
	}
	return result, nil
}

// ensureNoDuplicate rejects a second open partnership between the pair, and any
// partnership at all when re-inviting after an ended one is disabled.
func (s *service) ensureNoDuplicate(ctx context.Context, tx *gorm.DB, a, b uuid.UUID) error {
	existing, err := s.repo.WithTx(tx).ListBetween(ctx, a, b)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "check existing partnerships")
	}
	for _, p := range existing {
		if p.Status != enums.PartnershipStatusEnded {
			return duplicateError().WithDetails(map[string]any{"partnership_id": p.ID, "status": p.Status})
		}
	}
	if len(existing) > 0 && !s.cfg.AllowReinviteAfterEnded {
		return pkgerrors.New(pkgerrors.CodeConflict, "a previous partnership with this user has ended and cannot be renewed")
	}
	return nil
}

func duplicateError() *pkgerrors.Error {
	return pkgerrors.New(pkgerrors.CodeConflict, "a partnership with this user already exists")
}

func (s *service) List(ctx context.Context, userID uuid.UUID, params ListParams) ([]PartnershipDTO, error) {
	if userID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "authentication required")
	}
	if params.Status != nil && !params.Status.IsValid() {
		return nil, pkgerrors.Newf(pkgerrors.CodeValidation, "invalid status %q", *params.Status)
	}
	rows, err := s.repo.ListByUser(ctx, userID, params.Status)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list partnerships")
	}

	partnerIDs := make([]uuid.UUID, 0, len(rows))
	for _, p := range rows {
		partnerIDs = append(partnerIDs, p.Counterpart(userID))
	}
	partners, err := s.users.FindByIDs(ctx, partnerIDs)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load partners")
	}

	v := s.view()
	out := make([]PartnershipDTO, 0, len(rows))
	for _, p := range rows {
		out = append(out, *v.build(p, userID, partners[p.Counterpart(userID)]))
	}
	return out, nil
}

func (s *service) Get(ctx context.Context, userID, id uuid.UUID) (*PartnershipDTO, error) {
	p, err := LoadForMember(ctx, s.repo, id, userID)
	if err != nil {
		return nil, err
	}
	return s.viewFor(ctx, *p, userID), nil
}

func (s *service) viewFor(ctx context.Context, p models.Partnership, userID uuid.UUID) *PartnershipDTO {
	partner, err := s.users.FindByID(ctx, p.Counterpart(userID))
	if err != nil {
		s.logg.Warn(s.logg.WithPartnershipID(ctx, p.ID.String()), "partner profile unavailable")
		partner = nil
	}
	return s.view().build(p, userID, partner)
}

func (s *service) Accept(ctx context.Context, userID, id uuid.UUID) (*TransitionResult, error) {
	return s.Transition(ctx, userID, id, ActionAccept)
}

func (s *service) Decline(ctx context.Context, userID, id uuid.UUID) (*TransitionResult, error) {
	return s.Transition(ctx, userID, id, ActionDecline)
}

func (s *service) Finalize(ctx context.Context, userID, id uuid.UUID) (*TransitionResult, error) {
	return s.Transition(ctx, userID, id, ActionFinalize)
}

func (s *service) EndTrial(ctx context.Context, userID, id uuid.UUID) (*TransitionResult, error) {
	return s.Transition(ctx, userID, id, ActionEndTrial)
}

func (s *service) Terminate(ctx context.Context, userID, id uuid.UUID) (*TransitionResult, error) {
	return s.Transition(ctx, userID, id, ActionTerminate)
}

// UpdateStatus maps a requested target status onto the matching action.
func (s *service) UpdateStatus(ctx context.Context, userID, id uuid.UUID, target enums.PartnershipStatus) (*TransitionResult, error) {
	p, err := LoadForMember(ctx, s.repo, id, userID)
	if err != nil {
		return nil, err
	}
	if p.Status == target {
		return &TransitionResult{Partnership: s.viewFor(ctx, *p, userID), Applied: false}, nil
	}
	action, err := ActionFor(*p, userID, target)
	if err != nil {
		return nil, err
	}
	return s.Transition(ctx, userID, id, action)
}

// Transition applies action with a conditional update keyed on the status read in
// the same transaction. A repeat whose target already holds is a no-op.
func (s *service) Transition(ctx context.Context, userID, id uuid.UUID, action Action) (*TransitionResult, error) {
	if userID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "authentication required")
	}
	r, ok := rules[action]
	if !ok {
		return nil, pkgerrors.Newf(pkgerrors.CodeValidation, "unknown action %q", action)
	}

	var (
		current  *models.Partnership
		from     enums.PartnershipStatus
		applied  bool
		cascaded *CascadeSummary
	)
	err := s.db.WithTx(ctx, func(tx *gorm.DB) error {
		txRepo := s.repo.WithTx(tx)
		p, err := LoadForMember(ctx, txRepo, id, userID)
		if err != nil {
			return err
		}
		current = p
		from = p.Status

		if r.recipientOnly && p.User2ID != userID {
			return pkgerrors.Newf(pkgerrors.CodeForbidden, "only the invited partner can %s", action)
		}
		if p.Status == r.to {
			return nil
		}
		if !r.allowsFrom(p.Status) {
			return transitionConflict(action, p.Status)
		}

		now := s.now().UTC()
		updates := map[string]any{
			"status":            r.to,
			"status_changed_at": now,
		}
		next := *p
		next.Status = r.to
		next.StatusChangedAt = now
		if action == ActionAccept {
			trialEnd := now.Add(s.cfg.TrialLength)
			updates["trial_end_date"] = trialEnd
			next.TrialEndDate = &trialEnd
		}
		if r.to == enums.PartnershipStatusEnded {
			actor := userID
			updates["ended_by"] = actor
			next.EndedBy = &actor
		}

		changed, err := txRepo.UpdateStatus(ctx, p.ID, p.Status, updates)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update partnership status")
		}
		if !changed {
			latest, err := txRepo.FindByID(ctx, p.ID)
			if err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "reload partnership")
			}
			current = latest
			if latest.Status == r.to {
				return nil
			}
			return transitionConflict(action, latest.Status)
		}

		if r.to == enums.PartnershipStatusEnded && s.cfg.CascadeOnEnd {
			res, err := txRepo.CascadeEnd(ctx, p.ID, now)
			if err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "close partnership children")
			}
			cascaded = &CascadeSummary{GoalsAbandoned: res.GoalsAbandoned, CheckInsCancelled: res.CheckInsCancelled}
		}

		if err := s.emitTransition(ctx, tx, next, from, userID, r.event); err != nil {
			return err
		}
		current = &next
		applied = true
		return nil
	})
	if err != nil {
		if current != nil {
			s.metrics.ObserveTransition(string(current.Status), string(r.to), false)
		}
		return nil, err
	}

	s.metrics.ObserveTransition(string(from), string(r.to), applied)
	logCtx := s.logg.WithFields(ctx, map[string]any{
		"partnership_id": id.String(),
		"action":         string(action),
		"from":           string(from),
		"to":             string(current.Status),
		"applied":        applied,
	})
	if applied {
		s.logg.Info(logCtx, "partnership transitioned")
	} else {
		s.logg.Info(logCtx, "partnership transition already applied")
	}

	return &TransitionResult{
		Partnership: s.viewFor(ctx, *current, userID),
		Applied:     applied,
		Cascade:     cascaded,
	}, nil
}

func transitionConflict(action Action, status enums.PartnershipStatus) *pkgerrors.Error {
	return pkgerrors.Newf(pkgerrors.CodeStateConflict, "cannot %s a partnership that is %s", action, status).
		WithDetails(map[string]any{"action": action, "status": status})
}

func (s *service) emitTransition(ctx context.Context, tx *gorm.DB, p models.Partnership, from enums.PartnershipStatus, actorID uuid.UUID, eventType enums.OutboxEventType) error {
	actor := actorID
	data := payloads.PartnershipTransitionEvent{
		PartnershipID: p.ID,
		RequesterID:   p.User1ID,
		PartnerID:     p.User2ID,
		ActorID:       &actor,
		FromStatus:    from,
		ToStatus:      p.Status,
		TrialEndDate:  p.TrialEndDate,
	}
	if p.Message != nil {
		data.Message = *p.Message
	}
	err := s.outbox.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     eventType,
		AggregateType: enums.AggregatePartnership,
		AggregateID:   p.ID,
		Actor:         outbox.Actor(actorID),
		Data:          data,
	})
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "emit partnership event")
	}
	return nil
}
