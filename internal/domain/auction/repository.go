package auction

import (
	"context"

	"github.com/google/uuid"
)

// ListFilter narrows auction listings. Zero values mean "no filter".
type ListFilter struct {
	Status    *Status
	CreatedBy *uuid.UUID
}

// Repository is the logical store for auctions. Implementations guarantee
// single-entity atomicity; cross-entity atomicity is the caller's job via
// the per-auction keyed lock.
type Repository interface {
	Create(ctx context.Context, a *Auction) error
	GetByID(ctx context.Context, id uuid.UUID) (*Auction, error)
	Update(ctx context.Context, a *Auction) error
	Delete(ctx context.Context, id uuid.UUID) error
	GetByStatus(ctx context.Context, status Status) ([]*Auction, error)
	// List returns auctions matching the filter, newest start time first.
	List(ctx context.Context, filter ListFilter) ([]*Auction, error)
}
