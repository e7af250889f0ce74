package partnerships

import (
	"context"

	"github.com/google/uuid"

	"github.com/accountable/accountable-backend/internal/repo"
	"github.com/accountable/accountable-backend/pkg/db/models"
	pkgerrors "github.com/accountable/accountable-backend/pkg/errors"
)

// Reader is the lookup surface other domains use for eligibility checks.
type Reader interface {
	FindByID(ctx context.Context, id uuid.UUID) (*models.Partnership, error)
}

// LoadForMember loads the partnership and rejects callers outside it.
func LoadForMember(ctx context.Context, r Reader, id, userID uuid.UUID) (*models.Partnership, error) {
	if id == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "partnership id required")
	}
	p, err := r.FindByID(ctx, id)
	if err != nil {
		if repo.IsNotFound(err) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "partnership not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load partnership")
	}
	if !p.HasMember(userID) {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "not a member of this partnership")
	}
	return p, nil
}

// RequireCollaborative rejects partnerships that are not in trial or active.
func RequireCollaborative(p *models.Partnership) error {
	if p == nil {
		return pkgerrors.New(pkgerrors.CodeNotFound, "partnership not found")
	}
	if !p.Status.AllowsCollaboration() {
		return pkgerrors.Newf(pkgerrors.CodeStateConflict, "partnership is %s; only trial or active partnerships allow this", p.Status).
			WithDetails(map[string]any{"status": p.Status})
	}
	return nil
}

// LoadCollaborative combines LoadForMember and RequireCollaborative.
func LoadCollaborative(ctx context.Context, r Reader, id, userID uuid.UUID) (*models.Partnership, error) {
	p, err := LoadForMember(ctx, r, id, userID)
	if err != nil {
		return nil, err
	}
	if err := RequireCollaborative(p); err != nil {
		return nil, err
	}
	return p, nil
}
