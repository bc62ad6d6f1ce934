package bid

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/allabud/auction-backend/internal/domain/errors"
	"github.com/allabud/auction-backend/internal/domain/values"
)

// RetractionReason is the enumerated justification for retracting a bid.
type RetractionReason string

const (
	ReasonTypo                   RetractionReason = "typo"
	ReasonItemDescriptionChanged RetractionReason = "item_description_changed"
	ReasonCannotContactSeller    RetractionReason = "cannot_contact_seller"
	ReasonOther                  RetractionReason = "other"
)

// ParseRetractionReason validates a wire string into a RetractionReason.
func ParseRetractionReason(s string) (RetractionReason, error) {
	switch RetractionReason(strings.ToLower(s)) {
	case ReasonTypo:
		return ReasonTypo, nil
	case ReasonItemDescriptionChanged:
		return ReasonItemDescriptionChanged, nil
	case ReasonCannotContactSeller:
		return ReasonCannotContactSeller, nil
	case ReasonOther:
		return ReasonOther, nil
	default:
		return "", errors.NewValidationError("INVALID_RETRACTION_REASON", "unknown retraction reason: "+s)
	}
}

// RetractionWindow is how long after placement a winning bid may be retracted.
const RetractionWindow = time.Hour

// Bid is a recorded bid on an auction. Amount is the visible bid; MaxBid is
// the bidder's private ceiling (nil for direct bids). A bid record belongs to
// exactly one user-initiated bidding action; proxy responses by the engine
// update the leader's existing record in place.
type Bid struct {
	ID               uuid.UUID         `json:"id"`
	AuctionID        uuid.UUID         `json:"auction_id"`
	UserID           uuid.UUID         `json:"user_id"`
	Amount           values.Money      `json:"amount"`
	MaxBid           *values.Money     `json:"max_bid,omitempty"`
	AutoBidStep      *values.Money     `json:"auto_bid_step,omitempty"`
	Timestamp        time.Time         `json:"timestamp"`
	IsWinning        bool              `json:"is_winning"`
	IsProxyBid       bool              `json:"is_proxy_bid"`
	IsMaxBidReached  bool              `json:"is_max_bid_reached"`
	Message          string            `json:"message,omitempty"`
	IsRetracted      bool              `json:"is_retracted"`
	RetractedAt      *time.Time        `json:"retracted_at,omitempty"`
	RetractionReason *RetractionReason `json:"retraction_reason,omitempty"`
}

// New builds a bid record for a user-initiated bidding action.
func New(auctionID, userID uuid.UUID, amount values.Money, maxBid, autoBidStep *values.Money, now time.Time) *Bid {
	return &Bid{
		ID:          uuid.New(),
		AuctionID:   auctionID,
		UserID:      userID,
		Amount:      amount,
		MaxBid:      maxBid,
		AutoBidStep: autoBidStep,
		Timestamp:   now,
	}
}

// EffectiveMax is the ceiling the bid defends up to: the private max when
// present, else the visible amount.
func (b *Bid) EffectiveMax() values.Money {
	if b.MaxBid != nil {
		return *b.MaxBid
	}
	return b.Amount
}

// Retract marks the bid retracted. A retracted bid never becomes winning
// again.
func (b *Bid) Retract(now time.Time, reason RetractionReason) {
	b.IsRetracted = true
	b.IsWinning = false
	b.RetractedAt = &now
	b.RetractionReason = &reason
}

// WithinRetractionWindow reports whether now is still inside the bounded
// retraction window measured from placement.
func (b *Bid) WithinRetractionWindow(now time.Time) bool {
	return now.Sub(b.Timestamp) <= RetractionWindow
}

// Less orders bids by (amount DESC, timestamp ASC), the canonical bid-list
// order.
func Less(a, b *Bid) bool {
	if !a.Amount.Equal(b.Amount) {
		return a.Amount.GreaterThan(b.Amount)
	}
	return a.Timestamp.Before(b.Timestamp)
}
