package user

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/allabud/auction-backend/internal/domain/errors"
)

// User is a registered account able to create auctions and place bids.
type User struct {
	ID        uuid.UUID `json:"id"`
	Email     string    `json:"email"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// New validates inputs and builds a user.
func New(email, name string, now time.Time) (*User, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	name = strings.TrimSpace(name)
	if email == "" || !strings.Contains(email, "@") {
		return nil, errors.NewValidationError("INVALID_EMAIL", "a valid email address is required")
	}
	if name == "" {
		return nil, errors.NewValidationError("NAME_REQUIRED", "name must not be empty")
	}
	return &User{
		ID:        uuid.New(),
		Email:     email,
		Name:      name,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}
