package bidding

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/allabud/auction-backend/internal/domain/auction"
	"github.com/allabud/auction-backend/internal/domain/bid"
	"github.com/allabud/auction-backend/internal/domain/errors"
	"github.com/allabud/auction-backend/internal/domain/user"
	"github.com/allabud/auction-backend/internal/domain/values"
	"github.com/allabud/auction-backend/internal/infrastructure/events"
	"github.com/allabud/auction-backend/internal/metrics"
)

// Locker serializes all mutating work on one auction.
type Locker interface {
	WithLock(ctx context.Context, key string, fn func() error) error
}

// RateLimiter gates bid frequency per user. Advisory: errors fail open.
type RateLimiter interface {
	Allow(ctx context.Context, key string) (bool, error)
}

// PlaceBidInput is the request for one user-initiated bid. When MaxBid is
// set the bid is a proxy bid defending up to that ceiling; otherwise Amount
// is bid directly (and still contends against hidden leader ceilings).
type PlaceBidInput struct {
	AuctionID   uuid.UUID
	UserID      uuid.UUID
	Amount      values.Money
	MaxBid      *values.Money
	AutoBidStep *values.Money
}

// PlaceBidResult mirrors the persisted outcome.
type PlaceBidResult struct {
	Bid       *bid.Bid
	Auction   *auction.Auction
	IsWinning bool
}

// Service orchestrates bids: lock, validate, engine decision, persistence,
// event emission. It is the only writer of bid records.
type Service struct {
	auctions auction.Repository
	bids     bid.Repository
	users    user.Repository
	engine   *ProxyEngine
	locker   Locker
	bus      events.Publisher
	limiter  RateLimiter
	logger   *slog.Logger
	tracer   trace.Tracer
	now      func() time.Time
}

func NewService(
	auctions auction.Repository,
	bids bid.Repository,
	users user.Repository,
	engine *ProxyEngine,
	locker Locker,
	bus events.Publisher,
	limiter RateLimiter,
	logger *slog.Logger,
) *Service {
	return &Service{
		auctions: auctions,
		bids:     bids,
		users:    users,
		engine:   engine,
		locker:   locker,
		bus:      bus,
		limiter:  limiter,
		logger:   logger,
		tracer:   otel.Tracer("service.bidding"),
		now:      time.Now,
	}
}

// WithClock overrides the time source. Tests only.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// PlaceBid executes one bid under the auction's lock.
func (s *Service) PlaceBid(ctx context.Context, in PlaceBidInput) (*PlaceBidResult, error) {
	ctx, span := s.tracer.Start(ctx, "PlaceBid", trace.WithAttributes(
		attribute.String("auction.id", in.AuctionID.String()),
		attribute.String("user.id", in.UserID.String()),
	))
	defer span.End()
	start := time.Now()
	defer func() { metrics.BidLatency.Observe(time.Since(start).Seconds()) }()

	if err := s.checkRate(ctx, in.UserID); err != nil {
		metrics.BidsRejected.WithLabelValues(errors.GetCode(err)).Inc()
		return nil, err
	}

	var result *PlaceBidResult
	err := s.locker.WithLock(ctx, in.AuctionID.String(), func() error {
		var err error
		result, err = s.placeBidLocked(ctx, in)
		return err
	})
	if err != nil {
		metrics.BidsRejected.WithLabelValues(errors.GetCode(err)).Inc()
		s.logger.WarnContext(ctx, "bid rejected",
			"auction_id", in.AuctionID,
			"user_id", in.UserID,
			"code", errors.GetCode(err))
		return nil, err
	}
	outcome := "outbid"
	if result.IsWinning {
		outcome = "winning"
	}
	metrics.BidsPlaced.WithLabelValues(outcome).Inc()
	s.logger.InfoContext(ctx, "bid placed",
		"auction_id", in.AuctionID,
		"user_id", in.UserID,
		"amount", result.Bid.Amount,
		"is_winning", result.IsWinning)
	return result, nil
}

func (s *Service) placeBidLocked(ctx context.Context, in PlaceBidInput) (*PlaceBidResult, error) {
	now := s.now()

	a, err := s.auctions.GetByID(ctx, in.AuctionID)
	if err != nil {
		return nil, err
	}
	if !a.CanAcceptBids(now) {
		if a.Status.IsTerminal() || !now.Before(a.EndTime) {
			return nil, errors.ErrAuctionEnded
		}
		return nil, errors.ErrAuctionNotActive
	}
	if _, err := s.users.GetByID(ctx, in.UserID); err != nil {
		return nil, err
	}
	if in.UserID == a.CreatedBy {
		return nil, errors.ErrSelfBid
	}

	userMax := in.Amount
	if in.MaxBid != nil {
		if in.Amount.IsPositive() && in.MaxBid.LessThan(in.Amount) {
			return nil, errors.NewValidationError("MAX_BELOW_AMOUNT", "max bid must not be below the bid amount")
		}
		userMax = *in.MaxBid
	}
	if !userMax.IsPositive() {
		return nil, errors.NewValidationError("AMOUNT_NOT_POSITIVE", "bid amount must be positive")
	}
	if err := userMax.Validate(); err != nil {
		return nil, errors.NewValidationError("AMOUNT_OUT_OF_RANGE", err.Error())
	}
	if in.AutoBidStep != nil && !in.AutoBidStep.IsPositive() {
		return nil, errors.NewValidationError("STEP_NOT_POSITIVE", "auto bid step must be positive")
	}

	standing, err := s.bids.ListByAuction(ctx, in.AuctionID, false)
	if err != nil {
		return nil, err
	}

	leader := currentLeader(standing)
	selfRaise := leader != nil && leader.UserID == in.UserID
	if selfRaise && !userMax.GreaterThan(leader.EffectiveMax()) {
		return nil, errors.NewValidationError("MAX_NOT_RAISED", "new max bid must exceed your current max bid")
	}

	d := s.engine.Decide(a, standing, in.UserID, userMax, in.AutoBidStep)

	// Floor check. The leader lifting their own ceiling may legitimately land
	// at the unchanged current price.
	minNext := s.engine.MinNextBid(a, in.AutoBidStep)
	if !(selfRaise && d.WouldWin) && d.UserBidAmount.LessThan(minNext) {
		return nil, errors.ErrBidTooLow.WithDetails(map[string]interface{}{
			"minimum_bid": minNext.Cents(),
		})
	}

	// Apply the engine's in-place updates to standing records first.
	var displaced *bid.Bid
	for _, ab := range d.CompetitorAutoBids {
		prev := findBid(standing, ab.BidID)
		if prev == nil {
			return nil, errors.NewInternalError("engine referenced unknown bid")
		}
		if !prev.Amount.Equal(ab.NewAmount) {
			prev.Amount = ab.NewAmount
			prev.IsProxyBid = true
		}
		prev.IsWinning = ab.StillWinning
		if ab.IsMaxBidReached {
			prev.IsMaxBidReached = true
		}
		if ab.Message != "" {
			prev.Message = ab.Message
		}
		if err := s.bids.Update(ctx, prev); err != nil {
			return nil, err
		}
		if !ab.StillWinning && ab.UserID != in.UserID {
			displaced = prev
		}
	}

	b := bid.New(in.AuctionID, in.UserID, d.UserBidAmount, in.MaxBid, in.AutoBidStep, now)
	b.IsWinning = d.WouldWin
	b.IsProxyBid = in.MaxBid != nil
	b.IsMaxBidReached = d.IsMaxBidReached
	b.Message = d.Message
	if err := s.bids.Add(ctx, b); err != nil {
		return nil, err
	}

	a.BidCount++
	wasReserveMet := a.ReserveMet
	a.CurrentPrice = d.NewVisiblePrice
	a.RecomputeReserveMet()
	s.applyBuyNowRemoval(a, wasReserveMet)
	a.UpdatedAt = now
	if err := s.auctions.Update(ctx, a); err != nil {
		return nil, err
	}

	s.emitBidPlaced(a, b, d, displaced)

	return &PlaceBidResult{Bid: b, Auction: a, IsWinning: d.WouldWin}, nil
}

// applyBuyNowRemoval clears the buy-now capability once it can no longer be
// honored: on the first bid when there is no reserve, or the moment the
// reserve is met.
func (s *Service) applyBuyNowRemoval(a *auction.Auction, wasReserveMet bool) {
	if a.BuyNowPrice == nil {
		return
	}
	if a.ReservePrice == nil && a.BidCount > 0 {
		a.BuyNowPrice = nil
		return
	}
	if a.ReservePrice != nil && !wasReserveMet && a.ReserveMet {
		a.BuyNowPrice = nil
	}
}

func (s *Service) emitBidPlaced(a *auction.Auction, b *bid.Bid, d Decision, displaced *bid.Bid) {
	for _, ab := range d.CompetitorAutoBids {
		if !ab.StillWinning {
			continue
		}
		s.bus.Publish(events.Event{
			Type:      events.TypeBidPlaced,
			AuctionID: a.ID,
			Payload: map[string]any{
				"auction":    a,
				"bid_id":     ab.BidID,
				"amount":     ab.NewAmount,
				"is_winning": true,
				"is_proxy":   true,
			},
		})
	}
	payload := map[string]any{
		"bid":        b,
		"auction":    a,
		"is_winning": b.IsWinning,
	}
	if displaced != nil {
		payload["previous_winner_id"] = displaced.UserID
	}
	s.bus.Publish(events.Event{
		Type:      events.TypeBidPlaced,
		AuctionID: a.ID,
		Payload:   payload,
	})
	if displaced != nil {
		target := displaced.UserID
		s.bus.Publish(events.Event{
			Type:         events.TypeYouWereOutbid,
			AuctionID:    a.ID,
			TargetUserID: &target,
			Payload: map[string]any{
				"auction_id":     a.ID,
				"your_amount":    displaced.Amount,
				"current_price":  a.CurrentPrice,
				"new_leader_id":  b.UserID,
				"target_user_id": target,
			},
		})
	}
}

// BuyNow resolves the auction immediately at its buy-now price: a bid of
// exactly buyNowPrice followed by an inline close, all under the lock.
func (s *Service) BuyNow(ctx context.Context, auctionID, userID uuid.UUID) (*PlaceBidResult, error) {
	ctx, span := s.tracer.Start(ctx, "BuyNow", trace.WithAttributes(
		attribute.String("auction.id", auctionID.String()),
	))
	defer span.End()

	if err := s.checkRate(ctx, userID); err != nil {
		return nil, err
	}

	var result *PlaceBidResult
	err := s.locker.WithLock(ctx, auctionID.String(), func() error {
		var err error
		result, err = s.buyNowLocked(ctx, auctionID, userID)
		return err
	})
	if err != nil {
		metrics.BidsRejected.WithLabelValues(errors.GetCode(err)).Inc()
		return nil, err
	}
	metrics.BidsPlaced.WithLabelValues("winning").Inc()
	metrics.AuctionsByTransition.WithLabelValues("ended").Inc()
	s.logger.InfoContext(ctx, "auction bought now",
		"auction_id", auctionID,
		"user_id", userID,
		"price", result.Bid.Amount)
	return result, nil
}

func (s *Service) buyNowLocked(ctx context.Context, auctionID, userID uuid.UUID) (*PlaceBidResult, error) {
	now := s.now()

	a, err := s.auctions.GetByID(ctx, auctionID)
	if err != nil {
		return nil, err
	}
	if !a.CanAcceptBids(now) {
		if a.Status.IsTerminal() || !now.Before(a.EndTime) {
			return nil, errors.ErrAuctionEnded
		}
		return nil, errors.ErrAuctionNotActive
	}
	if _, err := s.users.GetByID(ctx, userID); err != nil {
		return nil, err
	}
	if userID == a.CreatedBy {
		return nil, errors.ErrSelfBid
	}
	if a.BuyNowPrice == nil {
		return nil, errors.NewStateError("BUY_NOW_UNAVAILABLE", "Buy now is not available for this auction")
	}
	price := *a.BuyNowPrice

	standing, err := s.bids.ListByAuction(ctx, auctionID, false)
	if err != nil {
		return nil, err
	}
	var displaced *bid.Bid
	if prev := currentLeader(standing); prev != nil {
		prev.IsWinning = false
		if err := s.bids.Update(ctx, prev); err != nil {
			return nil, err
		}
		if prev.UserID != userID {
			displaced = prev
		}
	}

	b := bid.New(auctionID, userID, price, nil, nil, now)
	b.IsWinning = true
	if err := s.bids.Add(ctx, b); err != nil {
		return nil, err
	}

	a.BidCount++
	a.CurrentPrice = price
	a.RecomputeReserveMet()
	a.BuyNowPrice = nil
	a.Status = auction.StatusEnded
	a.WinnerID = &userID
	a.UpdatedAt = now
	if err := s.auctions.Update(ctx, a); err != nil {
		return nil, err
	}

	s.emitBidPlaced(a, b, Decision{WouldWin: true}, displaced)
	s.bus.Publish(events.Event{
		Type:      events.TypeAuctionEnded,
		AuctionID: a.ID,
		Payload: map[string]any{
			"auction":     a,
			"winner_id":   userID,
			"final_price": price,
			"buy_now":     true,
		},
	})

	return &PlaceBidResult{Bid: b, Auction: a, IsWinning: true}, nil
}

// checkRate applies the per-user bid limiter. Limiter failures are logged
// and ignored so an unavailable backend never blocks bidding.
func (s *Service) checkRate(ctx context.Context, userID uuid.UUID) error {
	if s.limiter == nil {
		return nil
	}
	allowed, err := s.limiter.Allow(ctx, "bid:"+userID.String())
	if err != nil {
		s.logger.WarnContext(ctx, "bid rate limiter unavailable, failing open", "error", err)
		return nil
	}
	if !allowed {
		return errors.NewRateLimitError("Too many bids, slow down")
	}
	return nil
}

func findBid(list []*bid.Bid, id uuid.UUID) *bid.Bid {
	for _, b := range list {
		if b.ID == id {
			return b
		}
	}
	return nil
}
