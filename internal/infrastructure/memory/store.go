// Package memory is the process-local store. It is the default backing for
// the engine and the fixture for service tests; the database package offers
// the same repository interfaces on Postgres.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/allabud/auction-backend/internal/domain/auction"
	"github.com/allabud/auction-backend/internal/domain/bid"
	"github.com/allabud/auction-backend/internal/domain/errors"
	"github.com/allabud/auction-backend/internal/domain/user"
)

// Store keeps all entities in maps guarded by one RWMutex, exposed through
// the three domain repository interfaces. Entities are copied on the way in
// and out so callers never alias store-owned state across lock boundaries.
type Store struct {
	mu           sync.RWMutex
	auctions     map[uuid.UUID]*auction.Auction
	bids         map[uuid.UUID]*bid.Bid
	auctionBids  map[uuid.UUID][]uuid.UUID // sorted by (amount DESC, timestamp ASC)
	users        map[uuid.UUID]*user.User
	usersByEmail map[string]uuid.UUID
}

func NewStore() *Store {
	return &Store{
		auctions:     make(map[uuid.UUID]*auction.Auction),
		bids:         make(map[uuid.UUID]*bid.Bid),
		auctionBids:  make(map[uuid.UUID][]uuid.UUID),
		users:        make(map[uuid.UUID]*user.User),
		usersByEmail: make(map[string]uuid.UUID),
	}
}

// Auctions returns the auction repository view.
func (s *Store) Auctions() auction.Repository { return &auctionRepo{s} }

// Bids returns the bid repository view.
func (s *Store) Bids() bid.Repository { return &bidRepo{s} }

// Users returns the user repository view.
func (s *Store) Users() user.Repository { return &userRepo{s} }

// --- auctions ---

type auctionRepo struct{ s *Store }

var _ auction.Repository = (*auctionRepo)(nil)

func (r *auctionRepo) Create(_ context.Context, a *auction.Auction) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.auctions[a.ID]; ok {
		return errors.ErrDuplicateEntity
	}
	r.s.auctions[a.ID] = cloneAuction(a)
	return nil
}

func (r *auctionRepo) GetByID(_ context.Context, id uuid.UUID) (*auction.Auction, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	a, ok := r.s.auctions[id]
	if !ok {
		return nil, errors.ErrAuctionNotFound
	}
	return cloneAuction(a), nil
}

func (r *auctionRepo) Update(_ context.Context, a *auction.Auction) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.auctions[a.ID]; !ok {
		return errors.ErrAuctionNotFound
	}
	r.s.auctions[a.ID] = cloneAuction(a)
	return nil
}

func (r *auctionRepo) Delete(_ context.Context, id uuid.UUID) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.auctions[id]; !ok {
		return errors.ErrAuctionNotFound
	}
	delete(r.s.auctions, id)
	for _, bidID := range r.s.auctionBids[id] {
		delete(r.s.bids, bidID)
	}
	delete(r.s.auctionBids, id)
	return nil
}

func (r *auctionRepo) GetByStatus(_ context.Context, status auction.Status) ([]*auction.Auction, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	var out []*auction.Auction
	for _, a := range r.s.auctions {
		if a.Status == status {
			out = append(out, cloneAuction(a))
		}
	}
	sortAuctions(out)
	return out, nil
}

func (r *auctionRepo) List(_ context.Context, filter auction.ListFilter) ([]*auction.Auction, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	var out []*auction.Auction
	for _, a := range r.s.auctions {
		if filter.Status != nil && a.Status != *filter.Status {
			continue
		}
		if filter.CreatedBy != nil && a.CreatedBy != *filter.CreatedBy {
			continue
		}
		out = append(out, cloneAuction(a))
	}
	sortAuctions(out)
	return out, nil
}

// --- bids ---

type bidRepo struct{ s *Store }

var _ bid.Repository = (*bidRepo)(nil)

func (r *bidRepo) Add(_ context.Context, b *bid.Bid) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.bids[b.ID]; ok {
		return errors.ErrDuplicateEntity
	}
	if _, ok := r.s.auctions[b.AuctionID]; !ok {
		return errors.ErrAuctionNotFound
	}
	r.s.bids[b.ID] = cloneBid(b)
	r.s.auctionBids[b.AuctionID] = append(r.s.auctionBids[b.AuctionID], b.ID)
	r.s.resortLocked(b.AuctionID)
	return nil
}

func (r *bidRepo) Update(_ context.Context, b *bid.Bid) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.bids[b.ID]; !ok {
		return errors.ErrBidNotFound
	}
	r.s.bids[b.ID] = cloneBid(b)
	r.s.resortLocked(b.AuctionID)
	return nil
}

func (r *bidRepo) GetByID(_ context.Context, id uuid.UUID) (*bid.Bid, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	b, ok := r.s.bids[id]
	if !ok {
		return nil, errors.ErrBidNotFound
	}
	return cloneBid(b), nil
}

func (r *bidRepo) ListByAuction(_ context.Context, auctionID uuid.UUID, includeRetracted bool) ([]*bid.Bid, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	ids := r.s.auctionBids[auctionID]
	out := make([]*bid.Bid, 0, len(ids))
	for _, id := range ids {
		b := r.s.bids[id]
		if !includeRetracted && b.IsRetracted {
			continue
		}
		out = append(out, cloneBid(b))
	}
	return out, nil
}

func (r *bidRepo) ListByUser(_ context.Context, userID uuid.UUID) ([]*bid.Bid, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	var out []*bid.Bid
	for _, b := range r.s.bids {
		if b.UserID == userID {
			out = append(out, cloneBid(b))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.After(out[j].Timestamp) })
	return out, nil
}

func (r *bidRepo) DeleteByAuction(_ context.Context, auctionID uuid.UUID) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, id := range r.s.auctionBids[auctionID] {
		delete(r.s.bids, id)
	}
	delete(r.s.auctionBids, auctionID)
	return nil
}

// --- users ---

type userRepo struct{ s *Store }

var _ user.Repository = (*userRepo)(nil)

func (r *userRepo) Create(_ context.Context, u *user.User) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.users[u.ID]; ok {
		return errors.ErrDuplicateEntity
	}
	email := strings.ToLower(u.Email)
	if _, ok := r.s.usersByEmail[email]; ok {
		return errors.ErrDuplicateEmail
	}
	r.s.users[u.ID] = cloneUser(u)
	r.s.usersByEmail[email] = u.ID
	return nil
}

func (r *userRepo) GetByID(_ context.Context, id uuid.UUID) (*user.User, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	u, ok := r.s.users[id]
	if !ok {
		return nil, errors.ErrUserNotFound
	}
	return cloneUser(u), nil
}

func (r *userRepo) GetByEmail(_ context.Context, email string) (*user.User, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	id, ok := r.s.usersByEmail[strings.ToLower(email)]
	if !ok {
		return nil, errors.ErrUserNotFound
	}
	return cloneUser(r.s.users[id]), nil
}

func (r *userRepo) List(_ context.Context) ([]*user.User, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	out := make([]*user.User, 0, len(r.s.users))
	for _, u := range r.s.users {
		out = append(out, cloneUser(u))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

// --- internals ---

func (s *Store) resortLocked(auctionID uuid.UUID) {
	ids := s.auctionBids[auctionID]
	sort.SliceStable(ids, func(i, j int) bool {
		return bid.Less(s.bids[ids[i]], s.bids[ids[j]])
	})
}

func sortAuctions(list []*auction.Auction) {
	sort.Slice(list, func(i, j int) bool {
		return list[i].StartTime.After(list[j].StartTime)
	})
}

func cloneAuction(a *auction.Auction) *auction.Auction {
	c := *a
	if a.ReservePrice != nil {
		v := *a.ReservePrice
		c.ReservePrice = &v
	}
	if a.BuyNowPrice != nil {
		v := *a.BuyNowPrice
		c.BuyNowPrice = &v
	}
	if a.WinnerID != nil {
		v := *a.WinnerID
		c.WinnerID = &v
	}
	return &c
}

func cloneBid(b *bid.Bid) *bid.Bid {
	c := *b
	if b.MaxBid != nil {
		v := *b.MaxBid
		c.MaxBid = &v
	}
	if b.AutoBidStep != nil {
		v := *b.AutoBidStep
		c.AutoBidStep = &v
	}
	if b.RetractedAt != nil {
		v := *b.RetractedAt
		c.RetractedAt = &v
	}
	if b.RetractionReason != nil {
		v := *b.RetractionReason
		c.RetractionReason = &v
	}
	return &c
}

func cloneUser(u *user.User) *user.User {
	c := *u
	return &c
}
