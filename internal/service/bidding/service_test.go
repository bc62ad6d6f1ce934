package bidding

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/allabud/auction-backend/internal/domain/auction"
	"github.com/allabud/auction-backend/internal/domain/bid"
	"github.com/allabud/auction-backend/internal/domain/errors"
	"github.com/allabud/auction-backend/internal/domain/user"
	"github.com/allabud/auction-backend/internal/domain/values"
	"github.com/allabud/auction-backend/internal/infrastructure/events"
	"github.com/allabud/auction-backend/internal/infrastructure/locks"
	"github.com/allabud/auction-backend/internal/infrastructure/memory"
	"github.com/allabud/auction-backend/internal/testutil/fixtures"
)

// captureBus records published events for assertion.
type captureBus struct {
	mu     sync.Mutex
	events []events.Event
}

func (c *captureBus) Publish(ev events.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, ev)
}

func (c *captureBus) ofType(t events.Type) []events.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []events.Event
	for _, ev := range c.events {
		if ev.Type == t {
			out = append(out, ev)
		}
	}
	return out
}

type testEnv struct {
	svc   *Service
	store *memory.Store
	bus   *captureBus
	now   *time.Time
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	store := memory.NewStore()
	bus := &captureBus{}
	locker := locks.New(locks.Config{
		Timeout:    time.Second,
		MaxRetries: 10,
		RetryDelay: time.Millisecond,
	}, zap.NewNop())
	t.Cleanup(locker.Close)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc := NewService(store.Auctions(), store.Bids(), store.Users(), NewProxyEngine(auction.DefaultLadder()),
		locker, bus, nil, logger)

	now := time.Now().UTC()
	env := &testEnv{svc: svc, store: store, bus: bus, now: &now}
	svc.WithClock(func() time.Time { return *env.now })
	return env
}

func (e *testEnv) seedAuction(t *testing.T, a *auction.Auction) *auction.Auction {
	t.Helper()
	require.NoError(t, e.store.Auctions().Create(context.Background(), a))
	return a
}

func (e *testEnv) seedUser(t *testing.T) *user.User {
	t.Helper()
	u := fixtures.NewUser()
	require.NoError(t, e.store.Users().Create(context.Background(), u))
	return u
}

func (e *testEnv) proxyBid(t *testing.T, auctionID, userID uuid.UUID, maxCents int64) (*PlaceBidResult, error) {
	t.Helper()
	return e.svc.PlaceBid(context.Background(), PlaceBidInput{
		AuctionID: auctionID,
		UserID:    userID,
		MaxBid:    centsPtr(maxCents),
	})
}

func (e *testEnv) getBid(t *testing.T, id uuid.UUID) *bid.Bid {
	t.Helper()
	b, err := e.store.Bids().GetByID(context.Background(), id)
	require.NoError(t, err)
	return b
}

func TestPlaceBidProxyBattle(t *testing.T) {
	env := newTestEnv(t)
	a := env.seedAuction(t, fixtures.NewAuction().Build())
	alice := env.seedUser(t)
	bob := env.seedUser(t)
	carol := env.seedUser(t)

	// Alice opens with a 200.00 ceiling; visible price is one increment
	// above the starting price.
	resA, err := env.proxyBid(t, a.ID, alice.ID, 20_000)
	require.NoError(t, err)
	assert.True(t, resA.IsWinning)
	assert.Equal(t, int64(11_000), resA.Bid.Amount.Cents())
	assert.Equal(t, int64(11_000), resA.Auction.CurrentPrice.Cents())
	assert.Equal(t, 1, resA.Auction.BidCount)

	// Bob's 120.00 ceiling loses; Alice's proxy defends to 130.00 in place.
	resB, err := env.proxyBid(t, a.ID, bob.ID, 12_000)
	require.NoError(t, err)
	assert.False(t, resB.IsWinning)
	assert.Equal(t, int64(12_000), resB.Bid.Amount.Cents())
	assert.True(t, resB.Bid.IsMaxBidReached)
	assert.Equal(t, int64(13_000), resB.Auction.CurrentPrice.Cents())
	assert.Equal(t, 2, resB.Auction.BidCount)

	aliceBid := env.getBid(t, resA.Bid.ID)
	assert.Equal(t, int64(13_000), aliceBid.Amount.Cents())
	assert.True(t, aliceBid.IsWinning)
	assert.True(t, aliceBid.IsProxyBid)

	// Carol's 250.00 ceiling takes over at Alice's ceiling plus one step.
	resC, err := env.proxyBid(t, a.ID, carol.ID, 25_000)
	require.NoError(t, err)
	assert.True(t, resC.IsWinning)
	assert.Equal(t, int64(21_000), resC.Bid.Amount.Cents())
	assert.Equal(t, int64(21_000), resC.Auction.CurrentPrice.Cents())
	assert.Equal(t, 3, resC.Auction.BidCount)

	// Alice keeps her last defended amount, flagged exhausted.
	aliceBid = env.getBid(t, resA.Bid.ID)
	assert.Equal(t, int64(13_000), aliceBid.Amount.Cents())
	assert.False(t, aliceBid.IsWinning)
	assert.True(t, aliceBid.IsMaxBidReached)

	// One row per user action, sorted amount-descending.
	history, err := env.store.Bids().ListByAuction(context.Background(), a.ID, false)
	require.NoError(t, err)
	require.Len(t, history, 3)
	assert.Equal(t, carol.ID, history[0].UserID)
	assert.Equal(t, alice.ID, history[1].UserID)
	assert.Equal(t, bob.ID, history[2].UserID)

	// Alice is notified she lost the lead; the notification is targeted.
	outbid := env.bus.ofType(events.TypeYouWereOutbid)
	require.Len(t, outbid, 1)
	require.NotNil(t, outbid[0].TargetUserID)
	assert.Equal(t, alice.ID, *outbid[0].TargetUserID)
	assert.Equal(t, a.ID, outbid[0].AuctionID)

	placed := env.bus.ofType(events.TypeBidPlaced)
	assert.Len(t, placed, 4, "three user bids plus one proxy defense")
}

func TestPlaceBidDirectBidAgainstHiddenCeiling(t *testing.T) {
	env := newTestEnv(t)
	a := env.seedAuction(t, fixtures.NewAuction().Build())
	alice := env.seedUser(t)
	bob := env.seedUser(t)

	_, err := env.proxyBid(t, a.ID, alice.ID, 20_000)
	require.NoError(t, err)

	// A direct bid still contends against the hidden ceiling.
	res, err := env.svc.PlaceBid(context.Background(), PlaceBidInput{
		AuctionID: a.ID,
		UserID:    bob.ID,
		Amount:    values.Cents(12_000),
	})
	require.NoError(t, err)
	assert.False(t, res.IsWinning)
	assert.Nil(t, res.Bid.MaxBid)
	assert.False(t, res.Bid.IsProxyBid)
	assert.Equal(t, int64(13_000), res.Auction.CurrentPrice.Cents())
}

func TestPlaceBidValidation(t *testing.T) {
	env := newTestEnv(t)
	a := env.seedAuction(t, fixtures.NewAuction().Build())
	alice := env.seedUser(t)
	ctx := context.Background()

	tests := []struct {
		name     string
		in       PlaceBidInput
		wantCode string
	}{
		{
			name:     "below minimum next bid",
			in:       PlaceBidInput{AuctionID: a.ID, UserID: alice.ID, Amount: values.Cents(10_500)},
			wantCode: "BID_TOO_LOW",
		},
		{
			name: "max below amount",
			in: PlaceBidInput{AuctionID: a.ID, UserID: alice.ID,
				Amount: values.Cents(12_000), MaxBid: centsPtr(11_000)},
			wantCode: "MAX_BELOW_AMOUNT",
		},
		{
			name:     "zero amount",
			in:       PlaceBidInput{AuctionID: a.ID, UserID: alice.ID},
			wantCode: "AMOUNT_NOT_POSITIVE",
		},
		{
			name: "amount over ceiling",
			in: PlaceBidInput{AuctionID: a.ID, UserID: alice.ID,
				Amount: values.Cents(values.MaxAmountCents + 1)},
			wantCode: "AMOUNT_OUT_OF_RANGE",
		},
		{
			name: "non-positive custom step",
			in: PlaceBidInput{AuctionID: a.ID, UserID: alice.ID,
				Amount: values.Cents(11_000), AutoBidStep: centsPtr(0)},
			wantCode: "STEP_NOT_POSITIVE",
		},
		{
			name:     "unknown auction",
			in:       PlaceBidInput{AuctionID: uuid.New(), UserID: alice.ID, Amount: values.Cents(11_000)},
			wantCode: "RESOURCE_NOT_FOUND",
		},
		{
			name:     "unknown user",
			in:       PlaceBidInput{AuctionID: a.ID, UserID: uuid.New(), Amount: values.Cents(11_000)},
			wantCode: "RESOURCE_NOT_FOUND",
		},
		{
			name:     "seller bidding on own auction",
			in:       PlaceBidInput{AuctionID: a.ID, UserID: a.CreatedBy, Amount: values.Cents(11_000)},
			wantCode: "FORBIDDEN",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.name == "seller bidding on own auction" {
				require.NoError(t, env.store.Users().Create(ctx, &user.User{
					ID: a.CreatedBy, Email: "seller@example.com", Name: "Seller",
				}))
			}
			_, err := env.svc.PlaceBid(ctx, tt.in)
			require.Error(t, err)
			assert.Equal(t, tt.wantCode, errors.GetCode(err))
		})
	}

	// A rejected bid leaves no trace.
	fresh, err := env.store.Auctions().GetByID(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, fresh.BidCount)
	assert.Equal(t, int64(10_000), fresh.CurrentPrice.Cents())
}

func TestPlaceBidTooLowReportsMinimum(t *testing.T) {
	env := newTestEnv(t)
	a := env.seedAuction(t, fixtures.NewAuction().Build())
	alice := env.seedUser(t)

	_, err := env.svc.PlaceBid(context.Background(), PlaceBidInput{
		AuctionID: a.ID, UserID: alice.ID, Amount: values.Cents(10_100),
	})
	require.Error(t, err)
	appErr, ok := errors.AsAppError(err)
	require.True(t, ok)
	assert.Equal(t, "BID_TOO_LOW", appErr.Code)
	assert.Equal(t, int64(11_000), appErr.Details["minimum_bid"])
}

func TestPlaceBidHardClose(t *testing.T) {
	env := newTestEnv(t)
	start := env.now.Add(-time.Hour)
	end := env.now.Add(time.Hour)
	a := env.seedAuction(t, fixtures.NewAuction().WithTimes(start, end).Build())
	alice := env.seedUser(t)

	// One nanosecond before the close the bid is accepted.
	*env.now = end.Add(-time.Nanosecond)
	_, err := env.proxyBid(t, a.ID, alice.ID, 20_000)
	require.NoError(t, err)

	// At exactly the end time the auction is closed to bids.
	*env.now = end
	bob := env.seedUser(t)
	_, err = env.proxyBid(t, a.ID, bob.ID, 30_000)
	require.Error(t, err)
	assert.Equal(t, "AUCTION_ENDED", errors.GetCode(err))
}

func TestPlaceBidOnPendingAuction(t *testing.T) {
	env := newTestEnv(t)
	a := env.seedAuction(t, fixtures.NewAuction().WithStatus(auction.StatusPending).Build())
	alice := env.seedUser(t)

	_, err := env.proxyBid(t, a.ID, alice.ID, 20_000)
	require.Error(t, err)
	assert.Equal(t, "AUCTION_NOT_ACTIVE", errors.GetCode(err))
}

func TestSelfRaise(t *testing.T) {
	env := newTestEnv(t)
	a := env.seedAuction(t, fixtures.NewAuction().Build())
	alice := env.seedUser(t)

	resA, err := env.proxyBid(t, a.ID, alice.ID, 20_000)
	require.NoError(t, err)

	// Raising below or at the standing ceiling is rejected.
	_, err = env.proxyBid(t, a.ID, alice.ID, 20_000)
	require.Error(t, err)
	assert.Equal(t, "MAX_NOT_RAISED", errors.GetCode(err))

	// A genuine raise succeeds without moving the visible price.
	res, err := env.proxyBid(t, a.ID, alice.ID, 30_000)
	require.NoError(t, err)
	assert.True(t, res.IsWinning)
	assert.Equal(t, int64(11_000), res.Auction.CurrentPrice.Cents())
	assert.Equal(t, 2, res.Auction.BidCount)

	// Leadership moved to the new record; the old one is cleared.
	old := env.getBid(t, resA.Bid.ID)
	assert.False(t, old.IsWinning)
	assert.True(t, res.Bid.IsWinning)

	assert.Empty(t, env.bus.ofType(events.TypeYouWereOutbid),
		"raising your own ceiling is not an outbid")
}

func TestReserveJumpClearsBuyNow(t *testing.T) {
	env := newTestEnv(t)
	a := env.seedAuction(t, fixtures.NewAuction().WithReserve(30_000).WithBuyNow(50_000).Build())
	alice := env.seedUser(t)
	bob := env.seedUser(t)

	// Below the reserve: buy-now stays available.
	res, err := env.proxyBid(t, a.ID, alice.ID, 12_000)
	require.NoError(t, err)
	assert.Equal(t, int64(11_000), res.Auction.CurrentPrice.Cents())
	assert.False(t, res.Auction.ReserveMet)
	assert.NotNil(t, res.Auction.BuyNowPrice)

	// A ceiling covering the reserve jumps the price straight to it and
	// removes buy-now.
	res, err = env.proxyBid(t, a.ID, bob.ID, 35_000)
	require.NoError(t, err)
	assert.True(t, res.IsWinning)
	assert.Equal(t, int64(30_000), res.Auction.CurrentPrice.Cents())
	assert.True(t, res.Auction.ReserveMet)
	assert.Nil(t, res.Auction.BuyNowPrice)
}

func TestBuyNowClearedByFirstBidWithoutReserve(t *testing.T) {
	env := newTestEnv(t)
	a := env.seedAuction(t, fixtures.NewAuction().WithBuyNow(50_000).Build())
	alice := env.seedUser(t)

	res, err := env.proxyBid(t, a.ID, alice.ID, 12_000)
	require.NoError(t, err)
	assert.Nil(t, res.Auction.BuyNowPrice)
}

func TestBuyNow(t *testing.T) {
	env := newTestEnv(t)
	a := env.seedAuction(t, fixtures.NewAuction().WithReserve(30_000).WithBuyNow(50_000).Build())
	alice := env.seedUser(t)
	bob := env.seedUser(t)
	ctx := context.Background()

	_, err := env.proxyBid(t, a.ID, alice.ID, 12_000)
	require.NoError(t, err)

	res, err := env.svc.BuyNow(ctx, a.ID, bob.ID)
	require.NoError(t, err)
	assert.True(t, res.IsWinning)
	assert.Equal(t, int64(50_000), res.Bid.Amount.Cents())
	assert.Equal(t, auction.StatusEnded, res.Auction.Status)
	require.NotNil(t, res.Auction.WinnerID)
	assert.Equal(t, bob.ID, *res.Auction.WinnerID)
	assert.Equal(t, int64(50_000), res.Auction.CurrentPrice.Cents())
	assert.Nil(t, res.Auction.BuyNowPrice)

	ended := env.bus.ofType(events.TypeAuctionEnded)
	require.Len(t, ended, 1)
	assert.Equal(t, true, ended[0].Payload["buy_now"])

	outbid := env.bus.ofType(events.TypeYouWereOutbid)
	require.Len(t, outbid, 1)
	assert.Equal(t, alice.ID, *outbid[0].TargetUserID)

	// The auction is closed now.
	carol := env.seedUser(t)
	_, err = env.proxyBid(t, a.ID, carol.ID, 60_000)
	require.Error(t, err)
	assert.Equal(t, "AUCTION_ENDED", errors.GetCode(err))
}

func TestBuyNowUnavailable(t *testing.T) {
	env := newTestEnv(t)
	a := env.seedAuction(t, fixtures.NewAuction().Build())
	alice := env.seedUser(t)

	_, err := env.svc.BuyNow(context.Background(), a.ID, alice.ID)
	require.Error(t, err)
	assert.Equal(t, "BUY_NOW_UNAVAILABLE", errors.GetCode(err))
}

type stubLimiter struct {
	allow bool
	err   error
}

func (s *stubLimiter) Allow(context.Context, string) (bool, error) { return s.allow, s.err }

func TestPlaceBidRateLimited(t *testing.T) {
	env := newTestEnv(t)
	a := env.seedAuction(t, fixtures.NewAuction().Build())
	alice := env.seedUser(t)

	env.svc.limiter = &stubLimiter{allow: false}
	_, err := env.proxyBid(t, a.ID, alice.ID, 20_000)
	require.Error(t, err)
	assert.Equal(t, "RATE_LIMIT_EXCEEDED", errors.GetCode(err))

	// An unavailable limiter never blocks bidding.
	env.svc.limiter = &stubLimiter{err: fmt.Errorf("redis down")}
	_, err = env.proxyBid(t, a.ID, alice.ID, 20_000)
	require.NoError(t, err)
}

func TestPlaceBidConcurrent(t *testing.T) {
	env := newTestEnv(t)
	a := env.seedAuction(t, fixtures.NewAuction().Build())
	ctx := context.Background()

	const bidders = 16
	users := make([]*user.User, bidders)
	for i := range users {
		users[i] = env.seedUser(t)
	}

	var wg sync.WaitGroup
	for i, u := range users {
		wg.Add(1)
		go func(i int, id uuid.UUID) {
			defer wg.Done()
			// Distinct ceilings so no two bids tie.
			_, _ = env.proxyBid(t, a.ID, id, 20_000+int64(i)*1_000)
		}(i, u.ID)
	}
	wg.Wait()

	final, err := env.store.Auctions().GetByID(ctx, a.ID)
	require.NoError(t, err)
	history, err := env.store.Bids().ListByAuction(ctx, a.ID, false)
	require.NoError(t, err)

	assert.Equal(t, len(history), final.BidCount)
	require.NotEmpty(t, history)

	winners := 0
	for _, b := range history {
		if b.IsWinning {
			winners++
		}
	}
	assert.Equal(t, 1, winners, "exactly one winning bid")

	// The winner is the highest recorded amount and sets the visible price.
	assert.True(t, history[0].IsWinning)
	assert.Equal(t, history[0].Amount, final.CurrentPrice)
	assert.True(t, final.CurrentPrice.GreaterOrEqual(values.Cents(11_000)))
}
