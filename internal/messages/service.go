package messages

import (
	"context"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/accountable/accountable-backend/internal/partnerships"
	"github.com/accountable/accountable-backend/internal/repo"
	"github.com/accountable/accountable-backend/internal/users"
	dbpkg "github.com/accountable/accountable-backend/pkg/db"
	"github.com/accountable/accountable-backend/pkg/db/models"
	"github.com/accountable/accountable-backend/pkg/enums"
	pkgerrors "github.com/accountable/accountable-backend/pkg/errors"
	"github.com/accountable/accountable-backend/pkg/logger"
	"github.com/accountable/accountable-backend/pkg/outbox"
	"github.com/accountable/accountable-backend/pkg/outbox/payloads"
	"github.com/accountable/accountable-backend/pkg/pagination"
)

const defaultMaxLength = 4000

type Service interface {
	Send(ctx context.Context, senderID uuid.UUID, input SendInput) (*MessageDTO, error)
	List(ctx context.Context, userID, partnershipID uuid.UUID, params pagination.Params) (*pagination.Page[MessageDTO], error)
	MarkRead(ctx context.Context, userID, id uuid.UUID) (*MessageDTO, error)
	MarkAllRead(ctx context.Context, userID, partnershipID uuid.UUID) (int64, error)
	UnreadCount(ctx context.Context, userID uuid.UUID) (*UnreadSummary, error)
}

type ServiceParams struct {
	DB           dbpkg.TxRunner
	Repo         Repository
	Partnerships partnerships.Repository
	Users        users.Repository
	Outbox       outbox.Emitter
	Limiter      *SendLimiter
	MaxLength    int
	Logger       *logger.Logger
	Now          func() time.Time
}

type service struct {
	db           dbpkg.TxRunner
	repo         Repository
	partnerships partnerships.Repository
	users        users.Repository
	outbox       outbox.Emitter
	limiter      *SendLimiter
	maxLength    int
	logg         *logger.Logger
	now          func() time.Time
}

func NewService(params ServiceParams) (Service, error) {
	if params.DB == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "transaction runner required")
	}
	if params.Repo == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "messages repository required")
	}
	if params.Partnerships == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "partnerships repository required")
	}
	if params.Outbox == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "outbox emitter required")
	}
	maxLength := params.MaxLength
	if maxLength <= 0 {
		maxLength = defaultMaxLength
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
		limiter:      params.Limiter,
		maxLength:    maxLength,
		logg:         logg,
		now:          now,
	}, nil
}

// Send appends a message. Only trial and active partnerships accept new messages.
func (s *service) Send(ctx context.Context, senderID uuid.UUID, input SendInput) (*MessageDTO, error) {
	if senderID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "authentication required")
	}
	content := strings.TrimSpace(input.Content)
	if content == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "message content is required")
	}
	if utf8.RuneCountInString(content) > s.maxLength {
		return nil, pkgerrors.Newf(pkgerrors.CodeValidation, "message must be at most %d characters", s.maxLength)
	}
	if !s.limiter.Allow(senderID) {
		return nil, pkgerrors.New(pkgerrors.CodeRateLimit, "you are sending messages too quickly")
	}

	var message *models.Message
	err := s.db.WithTx(ctx, func(tx *gorm.DB) error {
		p, err := partnerships.LoadCollaborative(ctx, s.partnerships.WithTx(tx), input.PartnershipID, senderID)
		if err != nil {
			return err
		}
		message = &models.Message{
			ID:            uuid.New(),
			PartnershipID: p.ID,
			SenderID:      senderID,
			Content:       content,
			CreatedAt:     s.now().UTC(),
		}
		if err := s.repo.WithTx(tx).Create(ctx, message); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create message")
		}

		data := payloads.MessageSentEvent{
			MessageID:     message.ID,
			PartnershipID: p.ID,
			SenderID:      senderID,
			RecipientID:   p.Counterpart(senderID),
			Preview:       Preview(content),
		}
		if s.users != nil {
			if sender, err := s.users.WithTx(tx).FindByID(ctx, senderID); err == nil {
				data.SenderName = users.DisplayName(sender)
			}
		}
		if err := s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventMessageSent,
			AggregateType: enums.AggregateMessage,
			AggregateID:   message.ID,
			Actor:         outbox.Actor(senderID),
			Data:          data,
		}); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "emit message event")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.logg.Debug(s.logg.WithPartnershipID(ctx, message.PartnershipID.String()), "message sent")
	dto := FromModel(*message, senderID)
	return &dto, nil
}

// List pages through a partnership's history, newest first. Ended partnerships stay readable.
func (s *service) List(ctx context.Context, userID, partnershipID uuid.UUID, params pagination.Params) (*pagination.Page[MessageDTO], error) {
	if _, err := partnerships.LoadForMember(ctx, s.partnerships, partnershipID, userID); err != nil {
		return nil, err
	}
	cursor, err := pagination.ParseCursor(params.Cursor)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor")
	}
	rows, err := s.repo.List(ctx, partnershipID, cursor, pagination.LimitWithBuffer(params.Limit))
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list messages")
	}
	dtos := make([]MessageDTO, 0, len(rows))
	for _, row := range rows {
		dtos = append(dtos, FromModel(row, userID))
	}
	page := pagination.Paginate(dtos, params.Limit, func(m MessageDTO) pagination.Cursor {
		return pagination.Cursor{CreatedAt: m.CreatedAt, ID: m.ID}
	})
	return &page, nil
}

// MarkRead stamps read_at on an incoming message. Marking twice keeps the first timestamp.
func (s *service) MarkRead(ctx context.Context, userID, id uuid.UUID) (*MessageDTO, error) {
	if userID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "authentication required")
	}
	var result *models.Message
	err := s.db.WithTx(ctx, func(tx *gorm.DB) error {
		txRepo := s.repo.WithTx(tx)
		message, err := txRepo.FindByID(ctx, id)
		if err != nil {
			if repo.IsNotFound(err) {
				return pkgerrors.New(pkgerrors.CodeNotFound, "message not found")
			}
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load message")
		}
		if _, err := partnerships.LoadForMember(ctx, s.partnerships.WithTx(tx), message.PartnershipID, userID); err != nil {
			if pkgerrors.IsCode(err, pkgerrors.CodeForbidden) {
				return pkgerrors.New(pkgerrors.CodeNotFound, "message not found")
			}
			return err
		}
		if message.SenderID == userID {
			return pkgerrors.New(pkgerrors.CodeForbidden, "only the recipient can mark a message read")
		}
		result = message
		if message.ReadAt != nil {
			return nil
		}
		now := s.now().UTC()
		changed, err := txRepo.MarkRead(ctx, message.ID, now)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "mark message read")
		}
		if changed {
			message.ReadAt = &now
			return nil
		}
		result, err = txRepo.FindByID(ctx, message.ID)
		return err
	})
	if err != nil {
		return nil, err
	}
	dto := FromModel(*result, userID)
	return &dto, nil
}

func (s *service) MarkAllRead(ctx context.Context, userID, partnershipID uuid.UUID) (int64, error) {
	if _, err := partnerships.LoadForMember(ctx, s.partnerships, partnershipID, userID); err != nil {
		return 0, err
	}
	n, err := s.repo.MarkAllRead(ctx, partnershipID, userID, s.now().UTC())
	if err != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "mark messages read")
	}
	return n, nil
}

func (s *service) UnreadCount(ctx context.Context, userID uuid.UUID) (*UnreadSummary, error) {
	if userID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "authentication required")
	}
	counts, err := s.repo.UnreadCounts(ctx, userID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "count unread messages")
	}
	summary := &UnreadSummary{ByPartnership: counts}
	for _, n := range counts {
		summary.Total += n
	}
	return summary, nil
}
