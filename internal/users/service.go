package users

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"
	"unicode/utf8"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"

	"github.com/accountable/accountable-backend/internal/repo"
	dbpkg "github.com/accountable/accountable-backend/pkg/db"
	pkgerrors "github.com/accountable/accountable-backend/pkg/errors"
	"github.com/accountable/accountable-backend/pkg/logger"
	"github.com/accountable/accountable-backend/pkg/storage/gcs"
)

const (
	minSearchLength = 3
	maxSearchLength = 254
	searchLimit     = 20
)

var allowedAvatarTypes = map[string]string{
	"image/png":  ".png",
	"image/jpeg": ".jpg",
	"image/webp": ".webp",
	"image/gif":  ".gif",
}

// Service defines the profile operations exposed to controllers.
type Service interface {
	Get(ctx context.Context, id uuid.UUID) (*ProfileDTO, error)
	Create(ctx context.Context, callerID uuid.UUID, input CreateProfileInput) (*ProfileDTO, error)
	Update(ctx context.Context, callerID, id uuid.UUID, input UpdateProfileInput) (*ProfileDTO, error)
	UploadAvatar(ctx context.Context, callerID uuid.UUID, body io.Reader) (*ProfileDTO, error)
	Search(ctx context.Context, callerID uuid.UUID, query string) ([]ProfileDTO, error)
}

type service struct {
	repo      Repository
	store     gcs.ObjectStore
	logg      *logger.Logger
	maxAvatar int64
}

// ServiceParams bundles the profile service dependencies.
type ServiceParams struct {
	Repo           Repository
	Store          gcs.ObjectStore
	Logger         *logger.Logger
	MaxAvatarBytes int64
}

// NewService wires profile dependencies. Store may be nil, which disables avatar uploads.
func NewService(params ServiceParams) (Service, error) {
	if params.Repo == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "users repository required")
	}
	logg := params.Logger
	if logg == nil {
		logg = logger.Nop()
	}
	maxAvatar := params.MaxAvatarBytes
	if maxAvatar <= 0 {
		maxAvatar = 5 << 20
	}
	return &service{
		repo:      params.Repo,
		store:     params.Store,
		logg:      logg,
		maxAvatar: maxAvatar,
	}, nil
}

func (s *service) Get(ctx context.Context, id uuid.UUID) (*ProfileDTO, error) {
	if id == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "profile id required")
	}
	user, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if repo.IsNotFound(err) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "profile not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load profile")
	}
	return FromModel(user), nil
}

// Create inserts the caller's own profile. It exists for clients that find no
// profile after signup; an existing row is a conflict.
func (s *service) Create(ctx context.Context, callerID uuid.UUID, input CreateProfileInput) (*ProfileDTO, error) {
	if callerID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "authentication required")
	}
	if input.ID == uuid.Nil {
		input.ID = callerID
	}
	if input.ID != callerID {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "profiles can only be created for the caller")
	}
	if strings.TrimSpace(input.Email) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "email is required")
	}

	user := input.ToModel()
	if err := s.repo.Create(ctx, user); err != nil {
		if dbpkg.IsUniqueViolation(err, "") {
			return nil, pkgerrors.New(pkgerrors.CodeConflict, "profile already exists")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create profile")
	}
	return FromModel(user), nil
}

func (s *service) Update(ctx context.Context, callerID, id uuid.UUID, input UpdateProfileInput) (*ProfileDTO, error) {
	if callerID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "authentication required")
	}
	if id != callerID {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "profiles can only be updated by their owner")
	}
	if input.IsEmpty() {
		return s.Get(ctx, id)
	}
	user, err := s.repo.Update(ctx, id, input.columns())
	if err != nil {
		if repo.IsNotFound(err) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "profile not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update profile")
	}
	return FromModel(user), nil
}

// Search finds other members by a partial email so the caller can request a
// partnership with them by id.
func (s *service) Search(ctx context.Context, callerID uuid.UUID, query string) ([]ProfileDTO, error) {
	if callerID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "authentication required")
	}
	query = strings.TrimSpace(query)
	switch n := utf8.RuneCountInString(query); {
	case n < minSearchLength:
		return nil, pkgerrors.Newf(pkgerrors.CodeValidation, "search query must be at least %d characters", minSearchLength)
	case n > maxSearchLength:
		return nil, pkgerrors.Newf(pkgerrors.CodeValidation, "search query must be at most %d characters", maxSearchLength)
	}

	rows, err := s.repo.SearchByEmail(ctx, query, callerID, searchLimit)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "search profiles")
	}
	out := make([]ProfileDTO, 0, len(rows))
	for i := range rows {
		out = append(out, *FromModel(&rows[i]))
	}
	return out, nil
}

// UploadAvatar sniffs the image type, stores it and points the profile at its public URL.
func (s *service) UploadAvatar(ctx context.Context, callerID uuid.UUID, body io.Reader) (*ProfileDTO, error) {
	if callerID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "authentication required")
	}
	if s.store == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "avatar storage not configured")
	}
	if body == nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "avatar file required")
	}

	data, err := io.ReadAll(io.LimitReader(body, s.maxAvatar+1))
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "read avatar")
	}
	if len(data) == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "avatar file is empty")
	}
	if int64(len(data)) > s.maxAvatar {
		return nil, pkgerrors.Newf(pkgerrors.CodeValidation, "avatar exceeds %d bytes", s.maxAvatar)
	}

	detected := mimetype.Detect(data)
	contentType := strings.ToLower(detected.String())
	if semi := strings.IndexByte(contentType, ';'); semi >= 0 {
		contentType = contentType[:semi]
	}
	ext, ok := allowedAvatarTypes[contentType]
	if !ok {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "avatar must be a png, jpeg, webp or gif image").
			WithDetails(map[string]string{"detected": contentType})
	}

	if _, err := s.repo.FindByID(ctx, callerID); err != nil {
		if repo.IsNotFound(err) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "profile not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load profile")
	}

	objectName := fmt.Sprintf("avatars/%s/%s%s", callerID, uuid.NewString(), ext)
	obj, err := s.store.Upload(ctx, objectName, contentType, bytes.NewReader(data))
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "upload avatar")
	}

	user, err := s.repo.Update(ctx, callerID, map[string]any{"avatar_url": obj.PublicURL})
	if err != nil {
		if delErr := s.store.DeleteObject(ctx, obj.Bucket, obj.Name); delErr != nil {
			s.logg.Warn(s.logg.WithField(ctx, "object", obj.Name), "failed to remove orphaned avatar")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "save avatar url")
	}
	return FromModel(user), nil
}
