package rest

import (
	"time"

	"github.com/allabud/auction-backend/internal/domain/auction"
	"github.com/allabud/auction-backend/internal/domain/bid"
)

// AuctionResponse is an auction plus the derived view fields clients render
// from.
type AuctionResponse struct {
	*auction.Auction
	TimeRemainingMs int64 `json:"time_remaining_ms"`
	MinimumBid      int64 `json:"minimum_bid"`
	IsEndingSoon    bool  `json:"is_ending_soon"`
}

func (h *Handler) toAuctionResponse(a *auction.Auction, now time.Time) AuctionResponse {
	return AuctionResponse{
		Auction:         a,
		TimeRemainingMs: a.TimeRemaining(now).Milliseconds(),
		MinimumBid:      a.MinNextBid(h.ladder).Cents(),
		IsEndingSoon:    a.IsEndingSoon(now, h.endingSoon),
	}
}

func (h *Handler) toAuctionResponses(list []*auction.Auction, now time.Time) []AuctionResponse {
	out := make([]AuctionResponse, len(list))
	for i, a := range list {
		out[i] = h.toAuctionResponse(a, now)
	}
	return out
}

// PlaceBidResponse mirrors the bidding service result.
type PlaceBidResponse struct {
	Bid       *bid.Bid        `json:"bid"`
	Auction   AuctionResponse `json:"auction"`
	IsWinning bool            `json:"is_winning"`
}
