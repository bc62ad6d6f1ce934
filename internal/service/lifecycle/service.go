// Package lifecycle owns auction state transitions: creation, manual and
// scheduled start/end, winner selection, edits and cancellation.
package lifecycle

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/allabud/auction-backend/internal/domain/auction"
	"github.com/allabud/auction-backend/internal/domain/bid"
	"github.com/allabud/auction-backend/internal/domain/errors"
	"github.com/allabud/auction-backend/internal/domain/values"
	"github.com/allabud/auction-backend/internal/infrastructure/events"
	"github.com/allabud/auction-backend/internal/metrics"
)

// Locker serializes all mutating work on one auction.
type Locker interface {
	WithLock(ctx context.Context, key string, fn func() error) error
}

// Service implements the auction state machine. Every transition on an
// existing auction runs under the auction's lock.
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

// Create validates and persists a new auction.
func (s *Service) Create(ctx context.Context, p auction.Params) (*auction.Auction, error) {
	a, err := auction.New(p, s.now())
	if err != nil {
		return nil, err
	}
	if err := s.auctions.Create(ctx, a); err != nil {
		return nil, err
	}
	metrics.AuctionsByTransition.WithLabelValues("created").Inc()
	s.logger.InfoContext(ctx, "auction created",
		"auction_id", a.ID,
		"status", a.Status.String(),
		"end_time", a.EndTime)
	s.bus.Publish(events.Event{
		Type:      events.TypeAuctionCreated,
		AuctionID: a.ID,
		Payload:   map[string]any{"auction": a},
	})
	return a, nil
}

// Get returns one auction.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (*auction.Auction, error) {
	return s.auctions.GetByID(ctx, id)
}

// List returns auctions matching the filter, newest start time first.
func (s *Service) List(ctx context.Context, filter auction.ListFilter) ([]*auction.Auction, error) {
	return s.auctions.List(ctx, filter)
}

// GetBids returns the auction's non-retracted bids, newest first.
func (s *Service) GetBids(ctx context.Context, auctionID uuid.UUID) ([]*bid.Bid, error) {
	if _, err := s.auctions.GetByID(ctx, auctionID); err != nil {
		return nil, err
	}
	list, err := s.bids.ListByAuction(ctx, auctionID, false)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(list, func(i, j int) bool {
		return list[i].Timestamp.After(list[j].Timestamp)
	})
	return list, nil
}

// GetWinningBid returns the current winning bid, or nil without error when
// no bid is winning.
func (s *Service) GetWinningBid(ctx context.Context, auctionID uuid.UUID) (*bid.Bid, error) {
	if _, err := s.auctions.GetByID(ctx, auctionID); err != nil {
		return nil, err
	}
	list, err := s.bids.ListByAuction(ctx, auctionID, false)
	if err != nil {
		return nil, err
	}
	for _, b := range list {
		if b.IsWinning {
			return b, nil
		}
	}
	return nil, nil
}

// Start moves a pending auction whose start time has passed to active.
func (s *Service) Start(ctx context.Context, id uuid.UUID) (*auction.Auction, error) {
	var out *auction.Auction
	err := s.locker.WithLock(ctx, id.String(), func() error {
		a, err := s.auctions.GetByID(ctx, id)
		if err != nil {
			return err
		}
		if a.Status != auction.StatusPending {
			return errors.NewStateError("AUCTION_NOT_PENDING", "Only pending auctions can be started")
		}
		now := s.now()
		if now.Before(a.StartTime) {
			return errors.NewStateError("START_TIME_NOT_REACHED", "Auction start time has not been reached")
		}
		a.Status = auction.StatusActive
		a.UpdatedAt = now
		if err := s.auctions.Update(ctx, a); err != nil {
			return err
		}
		out = a
		return nil
	})
	if err != nil {
		return nil, err
	}
	metrics.AuctionsByTransition.WithLabelValues("started").Inc()
	s.logger.InfoContext(ctx, "auction started", "auction_id", id)
	s.bus.Publish(events.Event{
		Type:      events.TypeAuctionStarted,
		AuctionID: id,
		Payload:   map[string]any{"auction": out},
	})
	return out, nil
}

// End closes an active auction: ENDED with a winner when the reserve is met
// and a non-retracted bid exists, UNSOLD otherwise. Calling End on an
// already-terminal auction is a no-op.
func (s *Service) End(ctx context.Context, id uuid.UUID) (*auction.Auction, error) {
	var out *auction.Auction
	var ended bool
	err := s.locker.WithLock(ctx, id.String(), func() error {
		a, err := s.auctions.GetByID(ctx, id)
		if err != nil {
			return err
		}
		if a.Status.IsTerminal() {
			out = a
			return nil
		}
		if a.Status != auction.StatusActive {
			return errors.ErrAuctionNotActive
		}
		winner := s.findLeader(ctx, id)
		if winner != nil && a.ReserveMet {
			a.Status = auction.StatusEnded
			w := winner.UserID
			a.WinnerID = &w
		} else {
			a.Status = auction.StatusUnsold
			a.WinnerID = nil
		}
		a.UpdatedAt = s.now()
		if err := s.auctions.Update(ctx, a); err != nil {
			return err
		}
		out = a
		ended = true
		return nil
	})
	if err != nil {
		return nil, err
	}
	if ended {
		s.publishEnded(ctx, out)
	}
	return out, nil
}

// SelectWinner manually resolves an auction in favor of a user holding a
// non-retracted bid. The final price never drops below that bid's amount.
func (s *Service) SelectWinner(ctx context.Context, id, userID uuid.UUID) (*auction.Auction, error) {
	var out *auction.Auction
	err := s.locker.WithLock(ctx, id.String(), func() error {
		a, err := s.auctions.GetByID(ctx, id)
		if err != nil {
			return err
		}
		if a.Status.IsTerminal() {
			return errors.ErrAuctionEnded
		}
		list, err := s.bids.ListByAuction(ctx, id, false)
		if err != nil {
			return err
		}
		var best *bid.Bid
		for _, b := range list {
			if b.UserID != userID {
				continue
			}
			if best == nil || b.Amount.GreaterThan(best.Amount) {
				best = b
			}
		}
		if best == nil {
			return errors.NewValidationError("NO_BID_FROM_USER", "selected winner has no standing bid on this auction")
		}
		a.Status = auction.StatusEnded
		w := userID
		a.WinnerID = &w
		a.CurrentPrice = values.Max(a.CurrentPrice, best.Amount)
		a.RecomputeReserveMet()
		a.UpdatedAt = s.now()
		if err := s.auctions.Update(ctx, a); err != nil {
			return err
		}
		out = a
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.publishEnded(ctx, out)
	return out, nil
}

// UpdateParams carries the editable fields; nil means "leave unchanged".
type UpdateParams struct {
	Title               *string
	Description         *string
	StartingPrice       *values.Money
	MinimumBidIncrement *values.Money
	ReservePrice        *values.Money
	BuyNowPrice         *values.Money
	StartTime           *time.Time
	EndTime             *time.Time
}

// Update edits an auction. Only pending auctions and active auctions without
// bids may change; a starting price change resets the current price.
func (s *Service) Update(ctx context.Context, id uuid.UUID, p UpdateParams) (*auction.Auction, error) {
	var out *auction.Auction
	err := s.locker.WithLock(ctx, id.String(), func() error {
		a, err := s.auctions.GetByID(ctx, id)
		if err != nil {
			return err
		}
		editable := a.Status == auction.StatusPending ||
			(a.Status == auction.StatusActive && a.BidCount == 0)
		if !editable {
			return errors.ErrAuctionHasBids
		}
		if p.Title != nil {
			a.Title = *p.Title
		}
		if p.Description != nil {
			a.Description = *p.Description
		}
		if p.StartingPrice != nil && !p.StartingPrice.Equal(a.StartingPrice) {
			a.StartingPrice = *p.StartingPrice
			a.CurrentPrice = *p.StartingPrice
		}
		if p.MinimumBidIncrement != nil {
			a.MinimumBidIncrement = *p.MinimumBidIncrement
		}
		if p.ReservePrice != nil {
			a.ReservePrice = p.ReservePrice
		}
		if p.BuyNowPrice != nil {
			a.BuyNowPrice = p.BuyNowPrice
		}
		if p.StartTime != nil {
			a.StartTime = *p.StartTime
		}
		if p.EndTime != nil {
			a.EndTime = *p.EndTime
		}
		now := s.now()
		if err := a.Validate(now); err != nil {
			return err
		}
		a.RecomputeReserveMet()
		a.UpdatedAt = now
		if err := s.auctions.Update(ctx, a); err != nil {
			return err
		}
		out = a
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.logger.InfoContext(ctx, "auction updated", "auction_id", id)
	s.bus.Publish(events.Event{
		Type:      events.TypeAuctionUpdated,
		AuctionID: id,
		Payload:   map[string]any{"auction": out},
	})
	return out, nil
}

// Cancel deletes an auction that never received a bid.
func (s *Service) Cancel(ctx context.Context, id uuid.UUID) error {
	err := s.locker.WithLock(ctx, id.String(), func() error {
		a, err := s.auctions.GetByID(ctx, id)
		if err != nil {
			return err
		}
		if a.Status == auction.StatusEnded {
			return errors.ErrAuctionEnded
		}
		if a.BidCount != 0 {
			return errors.ErrAuctionHasBids
		}
		if err := s.bids.DeleteByAuction(ctx, id); err != nil {
			return err
		}
		return s.auctions.Delete(ctx, id)
	})
	if err != nil {
		return err
	}
	metrics.AuctionsByTransition.WithLabelValues("cancelled").Inc()
	s.logger.InfoContext(ctx, "auction cancelled", "auction_id", id)
	return nil
}

func (s *Service) findLeader(ctx context.Context, auctionID uuid.UUID) *bid.Bid {
	list, err := s.bids.ListByAuction(ctx, auctionID, false)
	if err != nil {
		return nil
	}
	for _, b := range list {
		if b.IsWinning {
			return b
		}
	}
	return nil
}

func (s *Service) publishEnded(ctx context.Context, a *auction.Auction) {
	transition := "unsold"
	payload := map[string]any{"auction": a}
	if a.Status == auction.StatusEnded {
		transition = "ended"
		payload["winner_id"] = a.WinnerID
		payload["final_price"] = a.CurrentPrice
	}
	metrics.AuctionsByTransition.WithLabelValues(transition).Inc()
	s.logger.InfoContext(ctx, "auction closed",
		"auction_id", a.ID,
		"status", a.Status.String(),
		"final_price", a.CurrentPrice)
	s.bus.Publish(events.Event{
		Type:      events.TypeAuctionEnded,
		AuctionID: a.ID,
		Payload:   payload,
	})
}
