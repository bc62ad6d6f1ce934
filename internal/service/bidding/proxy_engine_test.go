package bidding

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/allabud/auction-backend/internal/domain/auction"
	"github.com/allabud/auction-backend/internal/domain/bid"
	"github.com/allabud/auction-backend/internal/domain/values"
	"github.com/allabud/auction-backend/internal/testutil/fixtures"
)

// Engine tests run on the default ladder: at a 10,000-cent price the
// increment is 1,000 cents.

func newEngine() *ProxyEngine {
	return NewProxyEngine(auction.DefaultLadder())
}

func cents(v int64) values.Money { return values.Cents(v) }

func centsPtr(v int64) *values.Money {
	m := values.Cents(v)
	return &m
}

func TestDecideUncontested(t *testing.T) {
	e := newEngine()

	tests := []struct {
		name           string
		userMax        int64
		wantAmount     int64
		wantWin        bool
		wantPrice      int64
		wantMaxReached bool
	}{
		{
			name:       "high ceiling lands one increment above current",
			userMax:    20_000,
			wantAmount: 11_000,
			wantWin:    true,
			wantPrice:  11_000,
		},
		{
			name:       "exactly minimum next bid",
			userMax:    11_000,
			wantAmount: 11_000,
			wantWin:    true,
			wantPrice:  11_000,
		},
		{
			name:           "below minimum next bid loses immediately",
			userMax:        10_500,
			wantAmount:     10_500,
			wantWin:        false,
			wantPrice:      10_000,
			wantMaxReached: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := fixtures.NewAuction().Build()
			d := e.Decide(a, nil, uuid.New(), cents(tt.userMax), nil)

			assert.Equal(t, tt.wantAmount, d.UserBidAmount.Cents())
			assert.Equal(t, tt.wantWin, d.WouldWin)
			assert.Equal(t, tt.wantPrice, d.NewVisiblePrice.Cents())
			assert.Equal(t, tt.wantMaxReached, d.IsMaxBidReached)
			assert.Empty(t, d.CompetitorAutoBids)
			assert.False(t, d.ReserveJumpApplied)
		})
	}
}

func TestDecideDefended(t *testing.T) {
	e := newEngine()
	a := fixtures.NewAuction().Build()
	a.CurrentPrice = cents(11_000)

	leaderID := uuid.New()
	leader := fixtures.NewBid(a.ID).WithUser(leaderID).WithAmount(11_000).WithMax(20_000).Winning().Build()

	d := e.Decide(a, []*bid.Bid{leader}, uuid.New(), cents(12_000), nil)

	// The challenger is recorded at their ceiling and loses.
	assert.Equal(t, int64(12_000), d.UserBidAmount.Cents())
	assert.False(t, d.WouldWin)
	assert.True(t, d.IsMaxBidReached)

	// The leader's proxy raises its record just enough to stay ahead.
	require.Len(t, d.CompetitorAutoBids, 1)
	ab := d.CompetitorAutoBids[0]
	assert.Equal(t, leader.ID, ab.BidID)
	assert.Equal(t, int64(13_000), ab.NewAmount.Cents())
	assert.True(t, ab.StillWinning)
	assert.False(t, ab.IsMaxBidReached)
	assert.Equal(t, int64(13_000), d.NewVisiblePrice.Cents())
}

func TestDecideDefendedCappedAtRivalMax(t *testing.T) {
	e := newEngine()
	a := fixtures.NewAuction().Build()
	a.CurrentPrice = cents(11_000)

	leader := fixtures.NewBid(a.ID).WithAmount(11_000).WithMax(20_000).Winning().Build()

	// 19,000 + 1,000 meets the leader's ceiling exactly.
	d := e.Decide(a, []*bid.Bid{leader}, uuid.New(), cents(19_000), nil)

	require.Len(t, d.CompetitorAutoBids, 1)
	assert.Equal(t, int64(20_000), d.CompetitorAutoBids[0].NewAmount.Cents())
	assert.True(t, d.CompetitorAutoBids[0].StillWinning)
	assert.True(t, d.CompetitorAutoBids[0].IsMaxBidReached, "defense exhausted the ceiling")
	assert.Equal(t, int64(20_000), d.NewVisiblePrice.Cents())
}

func TestDecideTie(t *testing.T) {
	e := newEngine()
	a := fixtures.NewAuction().Build()
	a.CurrentPrice = cents(11_000)

	leader := fixtures.NewBid(a.ID).WithAmount(11_000).WithMax(20_000).Winning().Build()

	d := e.Decide(a, []*bid.Bid{leader}, uuid.New(), cents(20_000), nil)

	assert.Equal(t, int64(20_000), d.UserBidAmount.Cents())
	assert.False(t, d.WouldWin, "earlier ceiling keeps leadership on ties")
	assert.True(t, d.IsMaxBidReached)
	assert.Equal(t, int64(11_000), d.NewVisiblePrice.Cents(), "price does not move on a tie")
	assert.Empty(t, d.CompetitorAutoBids)
}

func TestDecideTakeover(t *testing.T) {
	e := newEngine()
	a := fixtures.NewAuction().Build()
	a.CurrentPrice = cents(13_000)

	leader := fixtures.NewBid(a.ID).WithAmount(13_000).WithMax(20_000).Winning().Build()

	d := e.Decide(a, []*bid.Bid{leader}, uuid.New(), cents(25_000), nil)

	// Second-price: old ceiling plus the increment at that ceiling.
	assert.Equal(t, int64(21_000), d.UserBidAmount.Cents())
	assert.True(t, d.WouldWin)
	assert.Equal(t, int64(21_000), d.NewVisiblePrice.Cents())

	// The displaced leader keeps its amount and is flagged exhausted.
	require.Len(t, d.CompetitorAutoBids, 1)
	ab := d.CompetitorAutoBids[0]
	assert.Equal(t, leader.ID, ab.BidID)
	assert.Equal(t, int64(13_000), ab.NewAmount.Cents())
	assert.False(t, ab.StillWinning)
	assert.True(t, ab.IsMaxBidReached)
}

func TestDecideTakeoverCappedAtOwnMax(t *testing.T) {
	e := newEngine()
	a := fixtures.NewAuction().Build()
	a.CurrentPrice = cents(13_000)

	leader := fixtures.NewBid(a.ID).WithAmount(13_000).WithMax(20_000).Winning().Build()

	d := e.Decide(a, []*bid.Bid{leader}, uuid.New(), cents(20_500), nil)

	assert.True(t, d.WouldWin)
	assert.Equal(t, int64(20_500), d.NewVisiblePrice.Cents())
}

func TestDecideTakeoverUsesIncrementAtRivalCeiling(t *testing.T) {
	e := newEngine()
	a := fixtures.NewAuction().Build()
	a.CurrentPrice = cents(12_000)

	// The rival ceiling sits in a higher ladder band than the current price:
	// the step comes from the ceiling's band.
	leader := fixtures.NewBid(a.ID).WithAmount(12_000).WithMax(30_000).Winning().Build()

	d := e.Decide(a, []*bid.Bid{leader}, uuid.New(), cents(40_000), nil)

	assert.Equal(t, int64(32_500), d.NewVisiblePrice.Cents())
}

func TestDecideReserveJump(t *testing.T) {
	e := newEngine()

	t.Run("takeover jumps to covered reserve", func(t *testing.T) {
		a := fixtures.NewAuction().WithReserve(30_000).Build()
		a.CurrentPrice = cents(11_000)
		leader := fixtures.NewBid(a.ID).WithAmount(11_000).WithMax(12_000).Winning().Build()

		d := e.Decide(a, []*bid.Bid{leader}, uuid.New(), cents(35_000), nil)

		assert.True(t, d.WouldWin)
		assert.True(t, d.ReserveJumpApplied)
		assert.Equal(t, int64(30_000), d.NewVisiblePrice.Cents())
	})

	t.Run("no jump when ceiling does not cover reserve", func(t *testing.T) {
		a := fixtures.NewAuction().WithReserve(30_000).Build()
		a.CurrentPrice = cents(11_000)
		leader := fixtures.NewBid(a.ID).WithAmount(11_000).WithMax(12_000).Winning().Build()

		d := e.Decide(a, []*bid.Bid{leader}, uuid.New(), cents(25_000), nil)

		assert.True(t, d.WouldWin)
		assert.False(t, d.ReserveJumpApplied)
		assert.Equal(t, int64(13_000), d.NewVisiblePrice.Cents())
	})

	t.Run("no jump when formula already reaches reserve", func(t *testing.T) {
		a := fixtures.NewAuction().WithReserve(21_000).Build()
		a.CurrentPrice = cents(13_000)
		leader := fixtures.NewBid(a.ID).WithAmount(13_000).WithMax(20_000).Winning().Build()

		d := e.Decide(a, []*bid.Bid{leader}, uuid.New(), cents(25_000), nil)

		assert.True(t, d.WouldWin)
		assert.False(t, d.ReserveJumpApplied)
		assert.Equal(t, int64(21_000), d.NewVisiblePrice.Cents())
	})

	t.Run("first bid never jumps", func(t *testing.T) {
		a := fixtures.NewAuction().WithReserve(30_000).Build()

		d := e.Decide(a, nil, uuid.New(), cents(35_000), nil)

		assert.True(t, d.WouldWin)
		assert.False(t, d.ReserveJumpApplied)
		assert.Equal(t, int64(11_000), d.NewVisiblePrice.Cents())
	})
}

func TestDecideSelfRaise(t *testing.T) {
	e := newEngine()
	userID := uuid.New()

	t.Run("price stays put when rival ceiling is already beaten", func(t *testing.T) {
		a := fixtures.NewAuction().Build()
		a.CurrentPrice = cents(13_000)
		leader := fixtures.NewBid(a.ID).WithUser(userID).WithAmount(13_000).WithMax(20_000).Winning().Build()
		rival := fixtures.NewBid(a.ID).WithAmount(12_000).WithMax(12_000).At(leader.Timestamp.Add(time.Second)).Build()
		rival.IsMaxBidReached = true

		d := e.Decide(a, []*bid.Bid{leader, rival}, userID, cents(30_000), nil)

		assert.True(t, d.WouldWin)
		assert.Equal(t, int64(13_000), d.NewVisiblePrice.Cents())

		// The old record is cleared so the new ceiling owns leadership.
		require.Len(t, d.CompetitorAutoBids, 1)
		ab := d.CompetitorAutoBids[0]
		assert.Equal(t, leader.ID, ab.BidID)
		assert.Equal(t, int64(13_000), ab.NewAmount.Cents())
		assert.False(t, ab.StillWinning)
	})

	t.Run("price rises when old ceiling had capped it", func(t *testing.T) {
		a := fixtures.NewAuction().Build()
		a.CurrentPrice = cents(20_500)
		// The leader took over at their own cap, below rivalMax+increment.
		rival := fixtures.NewBid(a.ID).WithAmount(11_000).WithMax(20_000).Build()
		rival.IsMaxBidReached = true
		leader := fixtures.NewBid(a.ID).WithUser(userID).WithAmount(20_500).WithMax(20_500).
			At(rival.Timestamp.Add(time.Second)).Winning().Build()

		d := e.Decide(a, []*bid.Bid{leader, rival}, userID, cents(30_000), nil)

		assert.True(t, d.WouldWin)
		assert.Equal(t, int64(21_000), d.NewVisiblePrice.Cents())
	})

	t.Run("uncontested leader raising changes nothing visible", func(t *testing.T) {
		a := fixtures.NewAuction().Build()
		a.CurrentPrice = cents(11_000)
		leader := fixtures.NewBid(a.ID).WithUser(userID).WithAmount(11_000).WithMax(20_000).Winning().Build()

		d := e.Decide(a, []*bid.Bid{leader}, userID, cents(50_000), nil)

		assert.True(t, d.WouldWin)
		assert.Equal(t, int64(11_000), d.NewVisiblePrice.Cents())
	})
}

func TestDecideIgnoresRetractedAndOwnBids(t *testing.T) {
	e := newEngine()
	a := fixtures.NewAuction().Build()
	a.CurrentPrice = cents(10_000)
	userID := uuid.New()

	retracted := fixtures.NewBid(a.ID).WithAmount(15_000).WithMax(25_000).Build()
	retracted.IsRetracted = true
	own := fixtures.NewBid(a.ID).WithUser(userID).WithAmount(10_500).Build()

	d := e.Decide(a, []*bid.Bid{retracted, own}, userID, cents(20_000), nil)

	// With only retracted and own records standing, this is uncontested.
	assert.True(t, d.WouldWin)
	assert.Equal(t, int64(11_000), d.NewVisiblePrice.Cents())
}

func TestDecideEarlierTimestampWinsCompetitorTies(t *testing.T) {
	e := newEngine()
	a := fixtures.NewAuction().Build()
	a.CurrentPrice = cents(11_000)
	t0 := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	first := fixtures.NewBid(a.ID).WithAmount(11_000).WithMax(15_000).At(t0).Winning().Build()
	second := fixtures.NewBid(a.ID).WithAmount(15_000).WithMax(15_000).At(t0.Add(time.Second)).Build()
	second.IsMaxBidReached = true

	d := e.Decide(a, []*bid.Bid{first, second}, uuid.New(), cents(25_000), nil)

	// The earlier of the tied ceilings is the one the auto-bid displaces.
	require.Len(t, d.CompetitorAutoBids, 1)
	assert.Equal(t, first.ID, d.CompetitorAutoBids[0].BidID)
	assert.Equal(t, int64(16_000), d.NewVisiblePrice.Cents())
}

func TestDecideCustomStep(t *testing.T) {
	e := newEngine()
	a := fixtures.NewAuction().Build()

	d := e.Decide(a, nil, uuid.New(), cents(20_000), centsPtr(500))

	assert.True(t, d.WouldWin)
	assert.Equal(t, int64(10_500), d.NewVisiblePrice.Cents(), "custom step overrides the ladder")
}

func TestMinNextBidHonorsCustomStep(t *testing.T) {
	e := newEngine()
	a := fixtures.NewAuction().Build()

	assert.Equal(t, int64(11_000), e.MinNextBid(a, nil).Cents())
	assert.Equal(t, int64(10_250), e.MinNextBid(a, centsPtr(250)).Cents())
}
