package bidding

import (
	"github.com/google/uuid"

	"github.com/allabud/auction-backend/internal/domain/auction"
	"github.com/allabud/auction-backend/internal/domain/bid"
	"github.com/allabud/auction-backend/internal/domain/values"
)

// CompetitorAutoBid describes the in-place update the engine wants applied to
// the current leader's record in response to an incoming bid. A defending
// leader gets its visible amount raised by its own proxy; a displaced leader
// keeps its amount and is flagged as exhausted. No new bid rows are created
// for auto-bids: one row per user-initiated action.
type CompetitorAutoBid struct {
	BidID           uuid.UUID
	UserID          uuid.UUID
	NewAmount       values.Money
	StillWinning    bool
	IsMaxBidReached bool
	Message         string
}

// Decision is the engine's verdict for one incoming bid. It is pure data;
// the bidding service persists and emits it.
type Decision struct {
	UserBidAmount      values.Money
	WouldWin           bool
	IsMaxBidReached    bool
	Message            string
	NewVisiblePrice    values.Money
	CompetitorAutoBids []CompetitorAutoBid
	ReserveJumpApplied bool
}

// ProxyEngine computes second-price proxy outcomes. It is deterministic and
// side-effect free; all state comes in through Decide's arguments.
type ProxyEngine struct {
	ladder *auction.Ladder
}

func NewProxyEngine(ladder *auction.Ladder) *ProxyEngine {
	return &ProxyEngine{ladder: ladder}
}

// Decide resolves an incoming bid (userID, userMax, optional customStep)
// against the auction's non-retracted bids. userMax is the bidder's ceiling;
// for direct bids the caller passes the visible amount as the ceiling, which
// gives a hidden leader max the chance to defend.
//
// The visible outcome follows second-price semantics: the winner pays the
// runner-up's ceiling plus one ladder increment at that ceiling, capped at
// the winner's own ceiling, then jumped to the reserve when the winner's
// ceiling covers it.
func (e *ProxyEngine) Decide(a *auction.Auction, bids []*bid.Bid, userID uuid.UUID, userMax values.Money, customStep *values.Money) Decision {
	leader := currentLeader(bids)
	rival := highestCompetitor(bids, userID)

	if leader != nil && leader.UserID == userID {
		return e.decideSelfRaise(a, leader, rival, userMax, customStep)
	}
	if rival == nil {
		return e.decideUncontested(a, userMax, customStep)
	}

	rivalMax := rival.EffectiveMax()
	switch {
	case userMax.GreaterThan(rivalMax):
		return e.decideTakeover(a, rival, userMax, customStep)
	case userMax.Equal(rivalMax):
		// Tie: the earlier ceiling keeps leadership, price does not move.
		return Decision{
			UserBidAmount:   userMax,
			WouldWin:        false,
			IsMaxBidReached: true,
			Message:         "max reached",
			NewVisiblePrice: a.CurrentPrice,
		}
	default:
		return e.decideDefended(a, rival, userMax, customStep)
	}
}

// decideUncontested is the no-competitor case: the first bid, or a bidder
// whose only opposition is their own earlier records.
func (e *ProxyEngine) decideUncontested(a *auction.Auction, userMax values.Money, customStep *values.Money) Decision {
	minNext := a.CurrentPrice.Add(e.step(a, a.CurrentPrice, customStep))
	amount := values.Min(userMax, minNext)
	wins := amount.GreaterOrEqual(minNext)
	d := Decision{
		UserBidAmount:   amount,
		WouldWin:        wins,
		IsMaxBidReached: !wins,
		NewVisiblePrice: a.CurrentPrice,
	}
	if wins {
		d.NewVisiblePrice = amount
	} else {
		d.Message = "max reached"
	}
	return d
}

// decideTakeover is the case where the incoming ceiling beats the standing
// one: the newcomer wins at the rival's ceiling plus one increment, capped
// at their own ceiling, with the reserve jump applied on top.
func (e *ProxyEngine) decideTakeover(a *auction.Auction, rival *bid.Bid, userMax values.Money, customStep *values.Money) Decision {
	rivalMax := rival.EffectiveMax()
	price := values.Min(rivalMax.Add(e.step(a, rivalMax, customStep)), userMax)

	jumped := false
	if a.ReservePrice != nil && userMax.GreaterOrEqual(*a.ReservePrice) && price.LessThan(*a.ReservePrice) {
		price = *a.ReservePrice
		jumped = true
	}

	d := Decision{
		UserBidAmount:      price,
		WouldWin:           true,
		NewVisiblePrice:    price,
		ReserveJumpApplied: jumped,
	}
	if rival.IsWinning {
		d.CompetitorAutoBids = []CompetitorAutoBid{{
			BidID:           rival.ID,
			UserID:          rival.UserID,
			NewAmount:       rival.Amount,
			StillWinning:    false,
			IsMaxBidReached: true,
			Message:         "max reached",
		}}
	}
	return d
}

// decideDefended is the case where the standing ceiling beats the incoming
// one: the newcomer's bid is recorded at their ceiling and loses, and the
// leader's proxy raises the visible price just enough to stay ahead.
func (e *ProxyEngine) decideDefended(a *auction.Auction, rival *bid.Bid, userMax values.Money, customStep *values.Money) Decision {
	rivalMax := rival.EffectiveMax()
	raised := values.Min(userMax.Add(e.step(a, userMax, customStep)), rivalMax)
	raised = values.Max(raised, a.CurrentPrice)

	d := Decision{
		UserBidAmount:   userMax,
		WouldWin:        false,
		IsMaxBidReached: true,
		Message:         "max reached",
		NewVisiblePrice: raised,
	}
	if rival.IsWinning {
		d.CompetitorAutoBids = []CompetitorAutoBid{{
			BidID:           rival.ID,
			UserID:          rival.UserID,
			NewAmount:       raised,
			StillWinning:    true,
			IsMaxBidReached: raised.Equal(rivalMax),
		}}
	}
	return d
}

// decideSelfRaise handles the current leader lifting their own ceiling. The
// price only moves if the old ceiling had capped it below what the runner-up
// ceiling now commands; in the common case it stays put.
func (e *ProxyEngine) decideSelfRaise(a *auction.Auction, leader, rival *bid.Bid, userMax values.Money, customStep *values.Money) Decision {
	price := a.CurrentPrice
	jumped := false
	if rival != nil {
		rivalMax := rival.EffectiveMax()
		formula := values.Min(rivalMax.Add(e.step(a, rivalMax, customStep)), userMax)
		if a.ReservePrice != nil && userMax.GreaterOrEqual(*a.ReservePrice) && formula.LessThan(*a.ReservePrice) {
			formula = *a.ReservePrice
			jumped = formula.GreaterThan(a.CurrentPrice)
		}
		price = values.Max(formula, a.CurrentPrice)
	}
	return Decision{
		UserBidAmount:      price,
		WouldWin:           true,
		NewVisiblePrice:    price,
		ReserveJumpApplied: jumped,
		CompetitorAutoBids: []CompetitorAutoBid{{
			BidID:        leader.ID,
			UserID:       leader.UserID,
			NewAmount:    leader.Amount,
			StillWinning: false,
		}},
	}
}

// MinNextBid is the floor an incoming visible amount must meet, honoring a
// custom step when the bidder supplies one.
func (e *ProxyEngine) MinNextBid(a *auction.Auction, customStep *values.Money) values.Money {
	return a.CurrentPrice.Add(e.step(a, a.CurrentPrice, customStep))
}

// step is the increment at the given price: the caller's custom step when
// present, else the ladder band floored by the auction's own minimum.
func (e *ProxyEngine) step(a *auction.Auction, price values.Money, customStep *values.Money) values.Money {
	if customStep != nil && customStep.IsPositive() {
		return *customStep
	}
	return a.EffectiveIncrement(price, e.ladder)
}

// currentLeader returns the winning non-retracted bid, or nil.
func currentLeader(bids []*bid.Bid) *bid.Bid {
	for _, b := range bids {
		if b.IsWinning && !b.IsRetracted {
			return b
		}
	}
	return nil
}

// highestCompetitor returns the competing bid with the greatest effective
// ceiling, earliest timestamp winning ties. The bidder's own records and
// retracted bids are excluded. When a leader exists and belongs to another
// user this is always the leader.
func highestCompetitor(bids []*bid.Bid, userID uuid.UUID) *bid.Bid {
	var best *bid.Bid
	for _, b := range bids {
		if b.IsRetracted || b.UserID == userID {
			continue
		}
		if best == nil {
			best = b
			continue
		}
		bm, cm := best.EffectiveMax(), b.EffectiveMax()
		if cm.GreaterThan(bm) || (cm.Equal(bm) && b.Timestamp.Before(best.Timestamp)) {
			best = b
		}
	}
	return best
}
