package bid

import (
	"context"

	"github.com/google/uuid"
)

// Repository is the logical store for bids. The per-auction list is kept
// sorted by (amount DESC, timestamp ASC).
type Repository interface {
	Add(ctx context.Context, b *Bid) error
	Update(ctx context.Context, b *Bid) error
	GetByID(ctx context.Context, id uuid.UUID) (*Bid, error)
	ListByAuction(ctx context.Context, auctionID uuid.UUID, includeRetracted bool) ([]*Bid, error)
	ListByUser(ctx context.Context, userID uuid.UUID) ([]*Bid, error)
	// DeleteByAuction removes all bids for an auction (auction cancellation
	// only; the list is necessarily empty at that point).
	DeleteByAuction(ctx context.Context, auctionID uuid.UUID) error
}
