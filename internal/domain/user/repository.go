package user

import (
	"context"

	"github.com/google/uuid"
)

// Repository is the logical store for users. Email uniqueness is enforced by
// the implementation.
type Repository interface {
	Create(ctx context.Context, u *User) error
	GetByID(ctx context.Context, id uuid.UUID) (*User, error)
	GetByEmail(ctx context.Context, email string) (*User, error)
	List(ctx context.Context) ([]*User, error)
}
