package database

import (
	"context"
	stderrors "errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/allabud/auction-backend/internal/domain/auction"
	"github.com/allabud/auction-backend/internal/domain/bid"
	"github.com/allabud/auction-backend/internal/domain/errors"
	"github.com/allabud/auction-backend/internal/domain/user"
	"github.com/allabud/auction-backend/internal/domain/values"
)

// Store bundles the Postgres repositories over one pool.
type Store struct {
	pool *pgxpool.Pool
}

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

func (s *Store) Auctions() auction.Repository { return &auctionRepo{s.pool} }
func (s *Store) Bids() bid.Repository         { return &bidRepo{s.pool} }
func (s *Store) Users() user.Repository       { return &userRepo{s.pool} }

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return stderrors.As(err, &pgErr) && pgErr.Code == "23505"
}

// --- auctions ---

type auctionRepo struct{ pool *pgxpool.Pool }

var _ auction.Repository = (*auctionRepo)(nil)

const auctionColumns = `id, title, description, starting_price, current_price,
	minimum_bid_increment, reserve_price, buy_now_price, reserve_met,
	start_time, end_time, has_time_limit, status, created_by, winner_id,
	bid_count, created_at, updated_at`

func (r *auctionRepo) Create(ctx context.Context, a *auction.Auction) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO auctions (`+auctionColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18)`,
		a.ID, a.Title, a.Description, a.StartingPrice.Cents(), a.CurrentPrice.Cents(),
		a.MinimumBidIncrement.Cents(), moneyPtr(a.ReservePrice), moneyPtr(a.BuyNowPrice), a.ReserveMet,
		a.StartTime, a.EndTime, a.HasTimeLimit, a.Status.String(), a.CreatedBy, a.WinnerID,
		a.BidCount, a.CreatedAt, a.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return errors.ErrDuplicateEntity
		}
		return fmt.Errorf("inserting auction: %w", err)
	}
	return nil
}

func (r *auctionRepo) GetByID(ctx context.Context, id uuid.UUID) (*auction.Auction, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+auctionColumns+` FROM auctions WHERE id = $1`, id)
	a, err := scanAuction(row)
	if err != nil {
		if stderrors.Is(err, pgx.ErrNoRows) {
			return nil, errors.ErrAuctionNotFound
		}
		return nil, fmt.Errorf("selecting auction: %w", err)
	}
	return a, nil
}

func (r *auctionRepo) Update(ctx context.Context, a *auction.Auction) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE auctions SET
			title = $2, description = $3, starting_price = $4, current_price = $5,
			minimum_bid_increment = $6, reserve_price = $7, buy_now_price = $8,
			reserve_met = $9, start_time = $10, end_time = $11, has_time_limit = $12,
			status = $13, winner_id = $14, bid_count = $15, updated_at = $16
		WHERE id = $1`,
		a.ID, a.Title, a.Description, a.StartingPrice.Cents(), a.CurrentPrice.Cents(),
		a.MinimumBidIncrement.Cents(), moneyPtr(a.ReservePrice), moneyPtr(a.BuyNowPrice),
		a.ReserveMet, a.StartTime, a.EndTime, a.HasTimeLimit,
		a.Status.String(), a.WinnerID, a.BidCount, a.UpdatedAt)
	if err != nil {
		return fmt.Errorf("updating auction: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return errors.ErrAuctionNotFound
	}
	return nil
}

func (r *auctionRepo) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM auctions WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("deleting auction: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return errors.ErrAuctionNotFound
	}
	return nil
}

func (r *auctionRepo) GetByStatus(ctx context.Context, status auction.Status) ([]*auction.Auction, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+auctionColumns+` FROM auctions
		WHERE status = $1 ORDER BY start_time DESC`, status.String())
	if err != nil {
		return nil, fmt.Errorf("selecting auctions by status: %w", err)
	}
	defer rows.Close()
	return collectAuctions(rows)
}

func (r *auctionRepo) List(ctx context.Context, filter auction.ListFilter) ([]*auction.Auction, error) {
	var (
		conds []string
		args  []any
	)
	if filter.Status != nil {
		args = append(args, filter.Status.String())
		conds = append(conds, fmt.Sprintf("status = $%d", len(args)))
	}
	if filter.CreatedBy != nil {
		args = append(args, *filter.CreatedBy)
		conds = append(conds, fmt.Sprintf("created_by = $%d", len(args)))
	}
	query := `SELECT ` + auctionColumns + ` FROM auctions`
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY start_time DESC"

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing auctions: %w", err)
	}
	defer rows.Close()
	return collectAuctions(rows)
}

func collectAuctions(rows pgx.Rows) ([]*auction.Auction, error) {
	var out []*auction.Auction
	for rows.Next() {
		a, err := scanAuction(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning auction: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func scanAuction(row pgx.Row) (*auction.Auction, error) {
	var (
		a                          auction.Auction
		starting, current, minInc  int64
		reserve, buyNow            *int64
		status                     string
	)
	err := row.Scan(&a.ID, &a.Title, &a.Description, &starting, &current,
		&minInc, &reserve, &buyNow, &a.ReserveMet,
		&a.StartTime, &a.EndTime, &a.HasTimeLimit, &status, &a.CreatedBy, &a.WinnerID,
		&a.BidCount, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return nil, err
	}
	a.StartingPrice = values.Cents(starting)
	a.CurrentPrice = values.Cents(current)
	a.MinimumBidIncrement = values.Cents(minInc)
	a.ReservePrice = centsPtr(reserve)
	a.BuyNowPrice = centsPtr(buyNow)
	a.Status, err = auction.ParseStatus(status)
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// --- bids ---

type bidRepo struct{ pool *pgxpool.Pool }

var _ bid.Repository = (*bidRepo)(nil)

const bidColumns = `id, auction_id, user_id, amount, max_bid, auto_bid_step,
	placed_at, is_winning, is_proxy_bid, is_max_bid_reached, message,
	is_retracted, retracted_at, retraction_reason`

func (r *bidRepo) Add(ctx context.Context, b *bid.Bid) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO bids (`+bidColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)`,
		b.ID, b.AuctionID, b.UserID, b.Amount.Cents(), moneyPtr(b.MaxBid), moneyPtr(b.AutoBidStep),
		b.Timestamp, b.IsWinning, b.IsProxyBid, b.IsMaxBidReached, b.Message,
		b.IsRetracted, b.RetractedAt, reasonPtr(b.RetractionReason))
	if err != nil {
		if isUniqueViolation(err) {
			return errors.ErrDuplicateEntity
		}
		return fmt.Errorf("inserting bid: %w", err)
	}
	return nil
}

func (r *bidRepo) Update(ctx context.Context, b *bid.Bid) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE bids SET
			amount = $2, max_bid = $3, auto_bid_step = $4, is_winning = $5,
			is_proxy_bid = $6, is_max_bid_reached = $7, message = $8,
			is_retracted = $9, retracted_at = $10, retraction_reason = $11
		WHERE id = $1`,
		b.ID, b.Amount.Cents(), moneyPtr(b.MaxBid), moneyPtr(b.AutoBidStep), b.IsWinning,
		b.IsProxyBid, b.IsMaxBidReached, b.Message,
		b.IsRetracted, b.RetractedAt, reasonPtr(b.RetractionReason))
	if err != nil {
		return fmt.Errorf("updating bid: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return errors.ErrBidNotFound
	}
	return nil
}

func (r *bidRepo) GetByID(ctx context.Context, id uuid.UUID) (*bid.Bid, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+bidColumns+` FROM bids WHERE id = $1`, id)
	b, err := scanBid(row)
	if err != nil {
		if stderrors.Is(err, pgx.ErrNoRows) {
			return nil, errors.ErrBidNotFound
		}
		return nil, fmt.Errorf("selecting bid: %w", err)
	}
	return b, nil
}

func (r *bidRepo) ListByAuction(ctx context.Context, auctionID uuid.UUID, includeRetracted bool) ([]*bid.Bid, error) {
	query := `SELECT ` + bidColumns + ` FROM bids WHERE auction_id = $1`
	if !includeRetracted {
		query += ` AND NOT is_retracted`
	}
	query += ` ORDER BY amount DESC, placed_at ASC`
	rows, err := r.pool.Query(ctx, query, auctionID)
	if err != nil {
		return nil, fmt.Errorf("listing auction bids: %w", err)
	}
	defer rows.Close()
	return collectBids(rows)
}

func (r *bidRepo) ListByUser(ctx context.Context, userID uuid.UUID) ([]*bid.Bid, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+bidColumns+` FROM bids
		WHERE user_id = $1 ORDER BY placed_at DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("listing user bids: %w", err)
	}
	defer rows.Close()
	return collectBids(rows)
}

func (r *bidRepo) DeleteByAuction(ctx context.Context, auctionID uuid.UUID) error {
	if _, err := r.pool.Exec(ctx, `DELETE FROM bids WHERE auction_id = $1`, auctionID); err != nil {
		return fmt.Errorf("deleting auction bids: %w", err)
	}
	return nil
}

func collectBids(rows pgx.Rows) ([]*bid.Bid, error) {
	var out []*bid.Bid
	for rows.Next() {
		b, err := scanBid(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning bid: %w", err)
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

func scanBid(row pgx.Row) (*bid.Bid, error) {
	var (
		b               bid.Bid
		amount          int64
		maxBid, step    *int64
		reason          *string
	)
	err := row.Scan(&b.ID, &b.AuctionID, &b.UserID, &amount, &maxBid, &step,
		&b.Timestamp, &b.IsWinning, &b.IsProxyBid, &b.IsMaxBidReached, &b.Message,
		&b.IsRetracted, &b.RetractedAt, &reason)
	if err != nil {
		return nil, err
	}
	b.Amount = values.Cents(amount)
	b.MaxBid = centsPtr(maxBid)
	b.AutoBidStep = centsPtr(step)
	if reason != nil {
		parsed, err := bid.ParseRetractionReason(*reason)
		if err != nil {
			return nil, err
		}
		b.RetractionReason = &parsed
	}
	return &b, nil
}

// --- users ---

type userRepo struct{ pool *pgxpool.Pool }

var _ user.Repository = (*userRepo)(nil)

func (r *userRepo) Create(ctx context.Context, u *user.User) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO users (id, email, name, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5)`,
		u.ID, u.Email, u.Name, u.CreatedAt, u.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return errors.ErrDuplicateEmail
		}
		return fmt.Errorf("inserting user: %w", err)
	}
	return nil
}

func (r *userRepo) GetByID(ctx context.Context, id uuid.UUID) (*user.User, error) {
	return r.scanUser(r.pool.QueryRow(ctx, `
		SELECT id, email, name, created_at, updated_at FROM users WHERE id = $1`, id))
}

func (r *userRepo) GetByEmail(ctx context.Context, email string) (*user.User, error) {
	return r.scanUser(r.pool.QueryRow(ctx, `
		SELECT id, email, name, created_at, updated_at FROM users WHERE email = $1`,
		strings.ToLower(email)))
}

func (r *userRepo) List(ctx context.Context) ([]*user.User, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, email, name, created_at, updated_at FROM users
		ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("listing users: %w", err)
	}
	defer rows.Close()
	var out []*user.User
	for rows.Next() {
		var u user.User
		if err := rows.Scan(&u.ID, &u.Email, &u.Name, &u.CreatedAt, &u.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scanning user: %w", err)
		}
		out = append(out, &u)
	}
	return out, rows.Err()
}

func (r *userRepo) scanUser(row pgx.Row) (*user.User, error) {
	var u user.User
	if err := row.Scan(&u.ID, &u.Email, &u.Name, &u.CreatedAt, &u.UpdatedAt); err != nil {
		if stderrors.Is(err, pgx.ErrNoRows) {
			return nil, errors.ErrUserNotFound
		}
		return nil, fmt.Errorf("selecting user: %w", err)
	}
	return &u, nil
}

// --- helpers ---

func moneyPtr(m *values.Money) *int64 {
	if m == nil {
		return nil
	}
	v := m.Cents()
	return &v
}

func centsPtr(v *int64) *values.Money {
	if v == nil {
		return nil
	}
	m := values.Cents(*v)
	return &m
}

func reasonPtr(r *bid.RetractionReason) *string {
	if r == nil {
		return nil
	}
	s := string(*r)
	return &s
}

