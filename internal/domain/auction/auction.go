package auction

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/allabud/auction-backend/internal/domain/errors"
	"github.com/allabud/auction-backend/internal/domain/values"
)

// Status is the auction lifecycle state. Ended and Unsold are absorbing.
type Status int

const (
	StatusPending Status = iota
	StatusActive
	StatusEnded
	StatusUnsold
)

func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusActive:
		return "active"
	case StatusEnded:
		return "ended"
	case StatusUnsold:
		return "unsold"
	default:
		return "unknown"
	}
}

// ParseStatus converts a wire string into a Status.
func ParseStatus(s string) (Status, error) {
	switch strings.ToLower(s) {
	case "pending":
		return StatusPending, nil
	case "active":
		return StatusActive, nil
	case "ended":
		return StatusEnded, nil
	case "unsold":
		return StatusUnsold, nil
	default:
		return 0, errors.NewValidationError("INVALID_STATUS", "unknown auction status: "+s)
	}
}

// MarshalText puts the status on the wire as its lowercase name, so event
// payloads embedding an Auction carry a readable status.
func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler via ParseStatus.
func (s *Status) UnmarshalText(text []byte) error {
	parsed, err := ParseStatus(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// IsTerminal reports whether the status is absorbing.
func (s Status) IsTerminal() bool {
	return s == StatusEnded || s == StatusUnsold
}

const (
	// MaxTitleLength bounds the auction title.
	MaxTitleLength = 200

	// NoTimeLimitDuration is the far-future sentinel applied when an auction
	// has no time limit.
	NoTimeLimitDuration = 365 * 24 * time.Hour

	// CreateClockSkew is how far in the past a start time may lie at creation.
	CreateClockSkew = 5 * time.Second
)

// Auction is an English auction listing with second-price proxy bidding.
// All monetary fields are integer cents.
type Auction struct {
	ID                  uuid.UUID       `json:"id"`
	Title               string          `json:"title"`
	Description         string          `json:"description"`
	StartingPrice       values.Money    `json:"starting_price"`
	CurrentPrice        values.Money    `json:"current_price"`
	MinimumBidIncrement values.Money    `json:"minimum_bid_increment"`
	ReservePrice        *values.Money   `json:"reserve_price,omitempty"`
	BuyNowPrice         *values.Money   `json:"buy_now_price,omitempty"`
	ReserveMet          bool            `json:"reserve_met"`
	StartTime           time.Time       `json:"start_time"`
	EndTime             time.Time       `json:"end_time"`
	HasTimeLimit        bool            `json:"has_time_limit"`
	Status              Status          `json:"status"`
	CreatedBy           uuid.UUID       `json:"created_by"`
	WinnerID            *uuid.UUID      `json:"winner_id,omitempty"`
	BidCount            int             `json:"bid_count"`
	CreatedAt           time.Time       `json:"created_at"`
	UpdatedAt           time.Time       `json:"updated_at"`
}

// Params carries the caller-supplied fields for creating an auction.
type Params struct {
	Title               string
	Description         string
	StartingPrice       values.Money
	MinimumBidIncrement values.Money
	ReservePrice        *values.Money
	BuyNowPrice         *values.Money
	StartTime           time.Time
	EndTime             time.Time
	HasTimeLimit        bool
	CreatedBy           uuid.UUID
}

// New validates params and builds a new auction. Status is Active when the
// start time has already passed, Pending otherwise.
func New(p Params, now time.Time) (*Auction, error) {
	a := &Auction{
		ID:                  uuid.New(),
		Title:               p.Title,
		Description:         p.Description,
		StartingPrice:       p.StartingPrice,
		CurrentPrice:        p.StartingPrice,
		MinimumBidIncrement: p.MinimumBidIncrement,
		ReservePrice:        p.ReservePrice,
		BuyNowPrice:         p.BuyNowPrice,
		StartTime:           p.StartTime,
		EndTime:             p.EndTime,
		HasTimeLimit:        p.HasTimeLimit,
		CreatedBy:           p.CreatedBy,
		CreatedAt:           now,
		UpdatedAt:           now,
	}
	if !a.HasTimeLimit {
		a.EndTime = a.StartTime.Add(NoTimeLimitDuration)
	}
	if err := a.Validate(now); err != nil {
		return nil, err
	}
	if p.StartTime.Before(now.Add(-CreateClockSkew)) {
		return nil, errors.NewValidationError("START_TIME_PAST", "start time is in the past")
	}
	if a.StartTime.After(now) {
		a.Status = StatusPending
	} else {
		a.Status = StatusActive
	}
	a.RecomputeReserveMet()
	return a, nil
}

// Validate checks the field and ordering invariants. It does not check
// start-time recency, which only applies at creation.
func (a *Auction) Validate(now time.Time) error {
	if strings.TrimSpace(a.Title) == "" {
		return errors.NewValidationError("TITLE_REQUIRED", "title must not be empty")
	}
	if len(a.Title) > MaxTitleLength {
		return errors.NewValidationError("TITLE_TOO_LONG", "title exceeds 200 characters")
	}
	if strings.TrimSpace(a.Description) == "" {
		return errors.NewValidationError("DESCRIPTION_REQUIRED", "description must not be empty")
	}
	if a.StartingPrice.Cents() < 0 {
		return errors.NewValidationError("STARTING_PRICE_NEGATIVE", "starting price must not be negative")
	}
	if err := a.StartingPrice.Validate(); err != nil {
		return errors.NewValidationError("STARTING_PRICE_INVALID", err.Error())
	}
	if !a.MinimumBidIncrement.IsPositive() {
		return errors.NewValidationError("INCREMENT_NOT_POSITIVE", "minimum bid increment must be positive")
	}
	if !a.EndTime.After(a.StartTime) {
		return errors.NewValidationError("END_BEFORE_START", "end time must be after start time")
	}
	// Reserve/Buy-Now ordering: startingPrice <= reservePrice < buyNowPrice.
	if a.ReservePrice != nil {
		if a.ReservePrice.LessThan(a.StartingPrice) {
			return errors.NewValidationError("RESERVE_BELOW_START", "reserve price must not be below starting price")
		}
		if err := a.ReservePrice.Validate(); err != nil {
			return errors.NewValidationError("RESERVE_INVALID", err.Error())
		}
	}
	if a.BuyNowPrice != nil {
		if err := a.BuyNowPrice.Validate(); err != nil {
			return errors.NewValidationError("BUY_NOW_INVALID", err.Error())
		}
		if a.ReservePrice != nil && !a.BuyNowPrice.GreaterThan(*a.ReservePrice) {
			return errors.NewValidationError("BUY_NOW_BELOW_RESERVE", "buy now price must exceed reserve price")
		}
		if a.ReservePrice == nil && !a.BuyNowPrice.GreaterThan(a.StartingPrice) {
			return errors.NewValidationError("BUY_NOW_BELOW_START", "buy now price must exceed starting price")
		}
	}
	return nil
}

// CanAcceptBids reports whether a bid arriving at now is admissible.
// The end time is exclusive: a bid at exactly endTime is rejected.
func (a *Auction) CanAcceptBids(now time.Time) bool {
	return a.Status == StatusActive && !now.Before(a.StartTime) && now.Before(a.EndTime)
}

// RecomputeReserveMet re-derives the reserveMet flag from the current price.
func (a *Auction) RecomputeReserveMet() {
	a.ReserveMet = a.ReservePrice == nil || a.CurrentPrice.GreaterOrEqual(*a.ReservePrice)
}

// EffectiveIncrement returns the increment at the given price: the ladder
// band value, but never below the auction's own configured minimum.
func (a *Auction) EffectiveIncrement(price values.Money, ladder *Ladder) values.Money {
	return values.Max(ladder.Increment(price), a.MinimumBidIncrement)
}

// MinNextBid returns the lowest acceptable next bid.
func (a *Auction) MinNextBid(ladder *Ladder) values.Money {
	return a.CurrentPrice.Add(a.EffectiveIncrement(a.CurrentPrice, ladder))
}

// TimeRemaining returns the remaining duration, floored at zero.
func (a *Auction) TimeRemaining(now time.Time) time.Duration {
	if d := a.EndTime.Sub(now); d > 0 {
		return d
	}
	return 0
}

// IsEndingSoon reports whether the auction closes within threshold.
func (a *Auction) IsEndingSoon(now time.Time, threshold time.Duration) bool {
	if a.Status != StatusActive || !a.HasTimeLimit {
		return false
	}
	d := a.EndTime.Sub(now)
	return d > 0 && d <= threshold
}
