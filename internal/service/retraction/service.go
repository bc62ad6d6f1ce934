// Package retraction implements the Tradera retraction rule: only the
// current winning bid may be withdrawn, within one hour of placement, for
// an enumerated reason. Retracting re-derives the winner and price from the
// remaining bids.
package retraction

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/allabud/auction-backend/internal/domain/auction"
	"github.com/allabud/auction-backend/internal/domain/bid"
	"github.com/allabud/auction-backend/internal/domain/errors"
	"github.com/allabud/auction-backend/internal/infrastructure/events"
	"github.com/allabud/auction-backend/internal/metrics"
)

// Locker serializes all mutating work on one auction.
type Locker interface {
	WithLock(ctx context.Context, key string, fn func() error) error
}

// Result is the post-retraction state.
type Result struct {
	Bid       *bid.Bid
	Auction   *auction.Auction
	NewLeader *bid.Bid
}

// Eligibility is the answer to a can-retract probe.
type Eligibility struct {
	CanRetract bool   `json:"can_retract"`
	Reason     string `json:"reason,omitempty"`
}

type Service struct {
	auctions auction.Repository
	bids     bid.Repository
	locker   Locker
	bus      events.Publisher
	logger   *slog.Logger
	now      func() time.Time
}

func NewService(auctions auction.Repository, bids bid.Repository, locker Locker, bus events.Publisher, logger *slog.Logger) *Service {
	return &Service{
		auctions: auctions,
		bids:     bids,
		locker:   locker,
		bus:      bus,
		logger:   logger,
		now:      time.Now,
	}
}

// WithClock overrides the time source. Tests only.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// Retract withdraws a winning bid and restores a consistent winner from the
// remaining non-retracted bids.
func (s *Service) Retract(ctx context.Context, bidID, userID uuid.UUID, reason bid.RetractionReason) (*Result, error) {
	b, err := s.bids.GetByID(ctx, bidID)
	if err != nil {
		return nil, err
	}

	var result *Result
	err = s.locker.WithLock(ctx, b.AuctionID.String(), func() error {
		var err error
		result, err = s.retractLocked(ctx, bidID, userID, reason)
		return err
	})
	if err != nil {
		return nil, err
	}
	metrics.BidsRetracted.Inc()
	s.logger.InfoContext(ctx, "bid retracted",
		"bid_id", bidID,
		"auction_id", result.Auction.ID,
		"reason", string(reason),
		"new_price", result.Auction.CurrentPrice)
	return result, nil
}

func (s *Service) retractLocked(ctx context.Context, bidID, userID uuid.UUID, reason bid.RetractionReason) (*Result, error) {
	now := s.now()

	// Re-read under the lock; the pre-lock read only located the auction.
	b, err := s.bids.GetByID(ctx, bidID)
	if err != nil {
		return nil, err
	}
	a, err := s.auctions.GetByID(ctx, b.AuctionID)
	if err != nil {
		return nil, err
	}
	if err := checkEligibility(a, b, userID, now); err != nil {
		return nil, err
	}

	b.Retract(now, reason)
	if err := s.bids.Update(ctx, b); err != nil {
		return nil, err
	}

	remaining, err := s.bids.ListByAuction(ctx, a.ID, false)
	if err != nil {
		return nil, err
	}
	var leader *bid.Bid
	for _, c := range remaining {
		if leader == nil || bid.Less(c, leader) {
			leader = c
		}
	}

	if leader != nil {
		if !leader.IsWinning {
			leader.IsWinning = true
			if err := s.bids.Update(ctx, leader); err != nil {
				return nil, err
			}
		}
		a.CurrentPrice = leader.Amount
	} else {
		a.CurrentPrice = a.StartingPrice
	}
	a.BidCount = len(remaining)
	a.RecomputeReserveMet()
	a.UpdatedAt = now
	if err := s.auctions.Update(ctx, a); err != nil {
		return nil, err
	}

	payload := map[string]any{
		"bid":     b,
		"auction": a,
	}
	if leader != nil {
		payload["previous_winner"] = leader
	}
	s.bus.Publish(events.Event{
		Type:      events.TypeBidRetracted,
		AuctionID: a.ID,
		Payload:   payload,
	})

	return &Result{Bid: b, Auction: a, NewLeader: leader}, nil
}

// CanRetract probes eligibility without mutating anything. It reports the
// blocking rule instead of failing.
func (s *Service) CanRetract(ctx context.Context, bidID, userID uuid.UUID) (*Eligibility, error) {
	b, err := s.bids.GetByID(ctx, bidID)
	if err != nil {
		return nil, err
	}
	a, err := s.auctions.GetByID(ctx, b.AuctionID)
	if err != nil {
		return nil, err
	}
	if err := checkEligibility(a, b, userID, s.now()); err != nil {
		return &Eligibility{CanRetract: false, Reason: errors.GetCode(err)}, nil
	}
	return &Eligibility{CanRetract: true}, nil
}

func checkEligibility(a *auction.Auction, b *bid.Bid, userID uuid.UUID, now time.Time) error {
	if b.UserID != userID {
		return errors.ErrNotBidOwner
	}
	if b.IsRetracted {
		return errors.ErrAlreadyRetracted
	}
	if a.Status.IsTerminal() {
		return errors.ErrAuctionEnded
	}
	if !b.IsWinning {
		return errors.ErrNotWinningBid
	}
	if !b.WithinRetractionWindow(now) {
		return errors.ErrRetractionExpired
	}
	return nil
}
