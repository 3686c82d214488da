package staff

import (
	"context"

	"github.com/google/uuid"
)

type ProfileRepository interface {
	Create(ctx context.Context, p *Profile) error
	GetByID(ctx context.Context, id uuid.UUID) (*Profile, error)
	GetByEmail(ctx context.Context, email string) (*Profile, error)
	List(ctx context.Context) ([]*Profile, error)
	// Names resolves display names for a set of user ids. Unknown ids are
	// absent from the result.
	Names(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]string, error)
	UpdateRole(ctx context.Context, id uuid.UUID, role string) error
	SetActive(ctx context.Context, id uuid.UUID, active bool) error
	UpdatePassword(ctx context.Context, id uuid.UUID, hash string) error
	UpdateName(ctx context.Context, id uuid.UUID, name string) error
}
