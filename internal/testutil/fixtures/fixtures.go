// Package fixtures provides entity builders for tests.
package fixtures

import (
	"time"

	"github.com/google/uuid"

	"github.com/allabud/auction-backend/internal/domain/auction"
	"github.com/allabud/auction-backend/internal/domain/bid"
	"github.com/allabud/auction-backend/internal/domain/user"
	"github.com/allabud/auction-backend/internal/domain/values"
)

// AuctionBuilder builds auctions with sane defaults: active, no reserve,
// no buy-now, one-hour runtime.
type AuctionBuilder struct {
	a auction.Auction
}

func NewAuction() *AuctionBuilder {
	now := time.Now().UTC()
	return &AuctionBuilder{a: auction.Auction{
		ID:                  uuid.New(),
		Title:               "Vintage road bike",
		Description:         "Well kept, some patina.",
		StartingPrice:       values.Cents(10_000),
		CurrentPrice:        values.Cents(10_000),
		MinimumBidIncrement: values.Cents(1),
		StartTime:           now.Add(-time.Minute),
		EndTime:             now.Add(time.Hour),
		HasTimeLimit:        true,
		Status:              auction.StatusActive,
		CreatedBy:           uuid.New(),
		ReserveMet:          true,
		CreatedAt:           now,
		UpdatedAt:           now,
	}}
}

func (b *AuctionBuilder) WithID(id uuid.UUID) *AuctionBuilder {
	b.a.ID = id
	return b
}

func (b *AuctionBuilder) WithStartingPrice(cents int64) *AuctionBuilder {
	b.a.StartingPrice = values.Cents(cents)
	b.a.CurrentPrice = values.Cents(cents)
	return b
}

func (b *AuctionBuilder) WithReserve(cents int64) *AuctionBuilder {
	m := values.Cents(cents)
	b.a.ReservePrice = &m
	b.a.RecomputeReserveMet()
	return b
}

func (b *AuctionBuilder) WithBuyNow(cents int64) *AuctionBuilder {
	m := values.Cents(cents)
	b.a.BuyNowPrice = &m
	return b
}

func (b *AuctionBuilder) WithStatus(s auction.Status) *AuctionBuilder {
	b.a.Status = s
	return b
}

func (b *AuctionBuilder) WithCreatedBy(id uuid.UUID) *AuctionBuilder {
	b.a.CreatedBy = id
	return b
}

func (b *AuctionBuilder) WithTimes(start, end time.Time) *AuctionBuilder {
	b.a.StartTime = start
	b.a.EndTime = end
	return b
}

func (b *AuctionBuilder) WithNoTimeLimit() *AuctionBuilder {
	b.a.HasTimeLimit = false
	b.a.EndTime = b.a.StartTime.Add(auction.NoTimeLimitDuration)
	return b
}

func (b *AuctionBuilder) Build() *auction.Auction {
	a := b.a
	return &a
}

// BidBuilder builds bids; defaults to a fresh losing direct bid.
type BidBuilder struct {
	b bid.Bid
}

func NewBid(auctionID uuid.UUID) *BidBuilder {
	return &BidBuilder{b: bid.Bid{
		ID:        uuid.New(),
		AuctionID: auctionID,
		UserID:    uuid.New(),
		Amount:    values.Cents(11_000),
		Timestamp: time.Now().UTC(),
	}}
}

func (b *BidBuilder) WithUser(id uuid.UUID) *BidBuilder {
	b.b.UserID = id
	return b
}

func (b *BidBuilder) WithAmount(cents int64) *BidBuilder {
	b.b.Amount = values.Cents(cents)
	return b
}

func (b *BidBuilder) WithMax(cents int64) *BidBuilder {
	m := values.Cents(cents)
	b.b.MaxBid = &m
	b.b.IsProxyBid = true
	return b
}

func (b *BidBuilder) Winning() *BidBuilder {
	b.b.IsWinning = true
	return b
}

func (b *BidBuilder) At(t time.Time) *BidBuilder {
	b.b.Timestamp = t
	return b
}

func (b *BidBuilder) Build() *bid.Bid {
	c := b.b
	return &c
}

// NewUser builds a user with a unique email.
func NewUser() *user.User {
	id := uuid.New()
	now := time.Now().UTC()
	return &user.User{
		ID:        id,
		Email:     id.String() + "@example.com",
		Name:      "Test Bidder",
		CreatedAt: now,
		UpdatedAt: now,
	}
}
