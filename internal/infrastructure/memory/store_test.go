package memory

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/allabud/auction-backend/internal/domain/auction"
	"github.com/allabud/auction-backend/internal/domain/errors"
	"github.com/allabud/auction-backend/internal/domain/user"
	"github.com/allabud/auction-backend/internal/domain/values"
	"github.com/allabud/auction-backend/internal/testutil/fixtures"
)

func TestAuctionCRUD(t *testing.T) {
	store := NewStore()
	repo := store.Auctions()
	ctx := context.Background()

	a := fixtures.NewAuction().Build()
	require.NoError(t, repo.Create(ctx, a))
	assert.Equal(t, errors.ErrDuplicateEntity, repo.Create(ctx, a))

	got, err := repo.GetByID(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, a.Title, got.Title)

	got.Title = "Renamed"
	require.NoError(t, repo.Update(ctx, got))
	got2, err := repo.GetByID(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, "Renamed", got2.Title)

	require.NoError(t, repo.Delete(ctx, a.ID))
	_, err = repo.GetByID(ctx, a.ID)
	assert.Equal(t, errors.ErrAuctionNotFound, err)
	assert.Equal(t, errors.ErrAuctionNotFound, repo.Delete(ctx, a.ID))
	assert.Equal(t, errors.ErrAuctionNotFound, repo.Update(ctx, a))
}

func TestAuctionCloneIsolation(t *testing.T) {
	store := NewStore()
	repo := store.Auctions()
	ctx := context.Background()

	a := fixtures.NewAuction().WithReserve(30_000).Build()
	require.NoError(t, repo.Create(ctx, a))

	// Mutating the caller's copy or a read copy never leaks into the store.
	a.Title = "mutated after create"
	*a.ReservePrice = values.Cents(1)

	got, err := repo.GetByID(ctx, a.ID)
	require.NoError(t, err)
	assert.NotEqual(t, "mutated after create", got.Title)
	assert.Equal(t, int64(30_000), got.ReservePrice.Cents())

	got.Title = "mutated after read"
	got2, err := repo.GetByID(ctx, a.ID)
	require.NoError(t, err)
	assert.NotEqual(t, "mutated after read", got2.Title)
}

func TestAuctionListAndStatusFilters(t *testing.T) {
	store := NewStore()
	repo := store.Auctions()
	ctx := context.Background()
	now := time.Now().UTC()
	creator := uuid.New()

	older := fixtures.NewAuction().WithTimes(now.Add(-2*time.Hour), now.Add(time.Hour)).Build()
	newer := fixtures.NewAuction().WithCreatedBy(creator).
		WithTimes(now.Add(-time.Hour), now.Add(time.Hour)).Build()
	pending := fixtures.NewAuction().WithStatus(auction.StatusPending).
		WithTimes(now.Add(time.Hour), now.Add(2*time.Hour)).Build()
	for _, a := range []*auction.Auction{older, newer, pending} {
		require.NoError(t, repo.Create(ctx, a))
	}

	active, err := repo.GetByStatus(ctx, auction.StatusActive)
	require.NoError(t, err)
	require.Len(t, active, 2)
	assert.Equal(t, newer.ID, active[0].ID, "newest start time first")
	assert.Equal(t, older.ID, active[1].ID)

	all, err := repo.List(ctx, auction.ListFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 3)

	byCreator, err := repo.List(ctx, auction.ListFilter{CreatedBy: &creator})
	require.NoError(t, err)
	require.Len(t, byCreator, 1)
	assert.Equal(t, newer.ID, byCreator[0].ID)

	st := auction.StatusPending
	byStatus, err := repo.List(ctx, auction.ListFilter{Status: &st})
	require.NoError(t, err)
	require.Len(t, byStatus, 1)
	assert.Equal(t, pending.ID, byStatus[0].ID)
}

func TestBidListKeepsCanonicalOrder(t *testing.T) {
	store := NewStore()
	ctx := context.Background()
	a := fixtures.NewAuction().Build()
	require.NoError(t, store.Auctions().Create(ctx, a))

	t0 := time.Now().UTC()
	mid := fixtures.NewBid(a.ID).WithAmount(12_000).At(t0).Build()
	top := fixtures.NewBid(a.ID).WithAmount(13_000).At(t0.Add(time.Second)).Build()
	tieLate := fixtures.NewBid(a.ID).WithAmount(12_000).At(t0.Add(2 * time.Second)).Build()
	require.NoError(t, store.Bids().Add(ctx, mid))
	require.NoError(t, store.Bids().Add(ctx, top))
	require.NoError(t, store.Bids().Add(ctx, tieLate))

	list, err := store.Bids().ListByAuction(ctx, a.ID, false)
	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.Equal(t, top.ID, list[0].ID, "amount descending")
	assert.Equal(t, mid.ID, list[1].ID, "earlier timestamp wins ties")
	assert.Equal(t, tieLate.ID, list[2].ID)

	// An in-place amount update re-sorts the list.
	mid.Amount = values.Cents(14_000)
	require.NoError(t, store.Bids().Update(ctx, mid))
	list, err = store.Bids().ListByAuction(ctx, a.ID, false)
	require.NoError(t, err)
	assert.Equal(t, mid.ID, list[0].ID)
}

func TestBidRetractedFilter(t *testing.T) {
	store := NewStore()
	ctx := context.Background()
	a := fixtures.NewAuction().Build()
	require.NoError(t, store.Auctions().Create(ctx, a))

	keep := fixtures.NewBid(a.ID).WithAmount(12_000).Build()
	gone := fixtures.NewBid(a.ID).WithAmount(13_000).Build()
	gone.IsRetracted = true
	require.NoError(t, store.Bids().Add(ctx, keep))
	require.NoError(t, store.Bids().Add(ctx, gone))

	standing, err := store.Bids().ListByAuction(ctx, a.ID, false)
	require.NoError(t, err)
	require.Len(t, standing, 1)
	assert.Equal(t, keep.ID, standing[0].ID)

	all, err := store.Bids().ListByAuction(ctx, a.ID, true)
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestBidRequiresAuction(t *testing.T) {
	store := NewStore()
	ctx := context.Background()

	err := store.Bids().Add(ctx, fixtures.NewBid(uuid.New()).Build())
	assert.Equal(t, errors.ErrAuctionNotFound, err)

	_, err = store.Bids().GetByID(ctx, uuid.New())
	assert.Equal(t, errors.ErrBidNotFound, err)
}

func TestDeleteAuctionCascadesBids(t *testing.T) {
	store := NewStore()
	ctx := context.Background()
	a := fixtures.NewAuction().Build()
	require.NoError(t, store.Auctions().Create(ctx, a))
	b := fixtures.NewBid(a.ID).Build()
	require.NoError(t, store.Bids().Add(ctx, b))

	require.NoError(t, store.Auctions().Delete(ctx, a.ID))
	_, err := store.Bids().GetByID(ctx, b.ID)
	assert.Equal(t, errors.ErrBidNotFound, err)
}

func TestListByUserNewestFirst(t *testing.T) {
	store := NewStore()
	ctx := context.Background()
	a := fixtures.NewAuction().Build()
	require.NoError(t, store.Auctions().Create(ctx, a))

	userID := uuid.New()
	t0 := time.Now().UTC()
	first := fixtures.NewBid(a.ID).WithUser(userID).WithAmount(11_000).At(t0).Build()
	second := fixtures.NewBid(a.ID).WithUser(userID).WithAmount(12_000).At(t0.Add(time.Second)).Build()
	other := fixtures.NewBid(a.ID).WithAmount(13_000).At(t0).Build()
	require.NoError(t, store.Bids().Add(ctx, first))
	require.NoError(t, store.Bids().Add(ctx, second))
	require.NoError(t, store.Bids().Add(ctx, other))

	list, err := store.Bids().ListByUser(ctx, userID)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, second.ID, list[0].ID)
	assert.Equal(t, first.ID, list[1].ID)
}

func TestUserRepo(t *testing.T) {
	store := NewStore()
	repo := store.Users()
	ctx := context.Background()

	u := &user.User{ID: uuid.New(), Email: "alice@example.com", Name: "Alice"}
	require.NoError(t, repo.Create(ctx, u))

	got, err := repo.GetByID(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, "Alice", got.Name)

	byEmail, err := repo.GetByEmail(ctx, "ALICE@example.com")
	require.NoError(t, err)
	assert.Equal(t, u.ID, byEmail.ID)

	// Email uniqueness is case-insensitive.
	dup := &user.User{ID: uuid.New(), Email: "Alice@Example.com", Name: "Imposter"}
	assert.Equal(t, errors.ErrDuplicateEmail, repo.Create(ctx, dup))

	later := &user.User{ID: uuid.New(), Email: "bob@example.com", Name: "Bob",
		CreatedAt: time.Now().UTC()}
	require.NoError(t, repo.Create(ctx, later))

	list, err := repo.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, later.ID, list[0].ID, "newest first")
	assert.Equal(t, u.ID, list[1].ID)

	_, err = repo.GetByID(ctx, uuid.New())
	assert.Equal(t, errors.ErrUserNotFound, err)
	_, err = repo.GetByEmail(ctx, "nobody@example.com")
	assert.Equal(t, errors.ErrUserNotFound, err)
}
