package rest

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/allabud/auction-backend/internal/domain/auction"
	"github.com/allabud/auction-backend/internal/domain/bid"
	"github.com/allabud/auction-backend/internal/domain/errors"
	"github.com/allabud/auction-backend/internal/domain/user"
	"github.com/allabud/auction-backend/internal/domain/values"
	"github.com/allabud/auction-backend/internal/infrastructure/locks"
	"github.com/allabud/auction-backend/internal/service/bidding"
	"github.com/allabud/auction-backend/internal/service/lifecycle"
	"github.com/allabud/auction-backend/internal/service/retraction"
	"github.com/allabud/auction-backend/internal/service/scheduler"
)

// Handler carries the service dependencies for the REST surface.
type Handler struct {
	lifecycle  *lifecycle.Service
	bidding    *bidding.Service
	retraction *retraction.Service
	sched      *scheduler.Scheduler
	locks      *locks.KeyedLock
	users      user.Repository
	bids       bid.Repository
	ladder     *auction.Ladder

	endingSoon  time.Duration
	minDuration time.Duration

	validate *validator.Validate
	logger   *slog.Logger
	now      func() time.Time
}

type HandlerConfig struct {
	EndingSoonThreshold time.Duration
	MinAuctionDuration  time.Duration
}

func NewHandler(
	lc *lifecycle.Service,
	bs *bidding.Service,
	rs *retraction.Service,
	sched *scheduler.Scheduler,
	kl *locks.KeyedLock,
	users user.Repository,
	bids bid.Repository,
	ladder *auction.Ladder,
	cfg HandlerConfig,
	logger *slog.Logger,
) *Handler {
	if cfg.EndingSoonThreshold <= 0 {
		cfg.EndingSoonThreshold = time.Minute
	}
	return &Handler{
		lifecycle:   lc,
		bidding:     bs,
		retraction:  rs,
		sched:       sched,
		locks:       kl,
		users:       users,
		bids:        bids,
		ladder:      ladder,
		endingSoon:  cfg.EndingSoonThreshold,
		minDuration: cfg.MinAuctionDuration,
		validate:    validator.New(),
		logger:      logger,
		now:         time.Now,
	}
}

// Routes registers all endpoints on mux using method patterns.
func (h *Handler) Routes(mux *http.ServeMux) {
	mux.HandleFunc("POST /auctions", h.createAuction)
	mux.HandleFunc("GET /auctions", h.listAuctions)
	mux.HandleFunc("GET /auctions/{id}", h.getAuction)
	mux.HandleFunc("PUT /auctions/{id}", h.updateAuction)
	mux.HandleFunc("DELETE /auctions/{id}", h.cancelAuction)
	mux.HandleFunc("POST /auctions/{id}/start", h.startAuction)
	mux.HandleFunc("POST /auctions/{id}/end", h.endAuction)
	mux.HandleFunc("POST /auctions/{id}/select-winner", h.selectWinner)
	mux.HandleFunc("POST /auctions/{id}/buy-now", h.buyNow)
	mux.HandleFunc("GET /auctions/{id}/bids", h.listAuctionBids)
	mux.HandleFunc("GET /auctions/{id}/winning-bid", h.getWinningBid)

	mux.HandleFunc("POST /bids", h.placeBid)
	mux.HandleFunc("POST /bids/{id}/retract", h.retractBid)
	mux.HandleFunc("GET /bids/{id}/can-retract", h.canRetract)

	mux.HandleFunc("POST /users", h.createUser)
	mux.HandleFunc("GET /users", h.listUsers)
	mux.HandleFunc("GET /users/{id}", h.getUser)
	mux.HandleFunc("GET /users/{id}/bids", h.listUserBids)

	mux.HandleFunc("GET /healthz", h.healthz)
	mux.HandleFunc("GET /scheduler/stats", h.schedulerStats)
}

// --- auctions ---

func (h *Handler) createAuction(w http.ResponseWriter, r *http.Request) {
	var req CreateAuctionRequest
	if err := decode(r, h.validate, &req); err != nil {
		respondError(w, h.logger, err)
		return
	}
	if req.HasTimeLimit && h.minDuration > 0 && req.EndTime.Sub(req.StartTime) < h.minDuration {
		respondError(w, h.logger, errors.NewValidationError("DURATION_TOO_SHORT",
			"auction duration is below the configured minimum"))
		return
	}
	a, err := h.lifecycle.Create(r.Context(), auction.Params{
		Title:               req.Title,
		Description:         req.Description,
		StartingPrice:       values.Cents(req.StartingPrice),
		MinimumBidIncrement: values.Cents(req.MinimumBidIncrement),
		ReservePrice:        centsOpt(req.ReservePrice),
		BuyNowPrice:         centsOpt(req.BuyNowPrice),
		StartTime:           req.StartTime,
		EndTime:             req.EndTime,
		HasTimeLimit:        req.HasTimeLimit,
		CreatedBy:           req.CreatedBy,
	})
	if err != nil {
		respondError(w, h.logger, err)
		return
	}
	respondData(w, http.StatusCreated, h.toAuctionResponse(a, h.now()))
}

func (h *Handler) listAuctions(w http.ResponseWriter, r *http.Request) {
	var filter auction.ListFilter
	if s := r.URL.Query().Get("status"); s != "" {
		status, err := auction.ParseStatus(s)
		if err != nil {
			respondError(w, h.logger, err)
			return
		}
		filter.Status = &status
	}
	if c := r.URL.Query().Get("createdBy"); c != "" {
		id, err := uuid.Parse(c)
		if err != nil {
			respondError(w, h.logger, errors.NewValidationError("INVALID_ID", "invalid createdBy filter"))
			return
		}
		filter.CreatedBy = &id
	}
	list, err := h.lifecycle.List(r.Context(), filter)
	if err != nil {
		respondError(w, h.logger, err)
		return
	}
	respondData(w, http.StatusOK, h.toAuctionResponses(list, h.now()))
}

func (h *Handler) getAuction(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r, "id")
	if err != nil {
		respondError(w, h.logger, err)
		return
	}
	a, err := h.lifecycle.Get(r.Context(), id)
	if err != nil {
		respondError(w, h.logger, err)
		return
	}
	respondData(w, http.StatusOK, h.toAuctionResponse(a, h.now()))
}

func (h *Handler) updateAuction(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r, "id")
	if err != nil {
		respondError(w, h.logger, err)
		return
	}
	var req UpdateAuctionRequest
	if err := decode(r, h.validate, &req); err != nil {
		respondError(w, h.logger, err)
		return
	}
	a, err := h.lifecycle.Update(r.Context(), id, lifecycle.UpdateParams{
		Title:               req.Title,
		Description:         req.Description,
		StartingPrice:       centsOpt(req.StartingPrice),
		MinimumBidIncrement: centsOpt(req.MinimumBidIncrement),
		ReservePrice:        centsOpt(req.ReservePrice),
		BuyNowPrice:         centsOpt(req.BuyNowPrice),
		StartTime:           req.StartTime,
		EndTime:             req.EndTime,
	})
	if err != nil {
		respondError(w, h.logger, err)
		return
	}
	respondData(w, http.StatusOK, h.toAuctionResponse(a, h.now()))
}

func (h *Handler) cancelAuction(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r, "id")
	if err != nil {
		respondError(w, h.logger, err)
		return
	}
	if err := h.lifecycle.Cancel(r.Context(), id); err != nil {
		respondError(w, h.logger, err)
		return
	}
	respondData(w, http.StatusOK, map[string]any{"cancelled": true})
}

func (h *Handler) startAuction(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r, "id")
	if err != nil {
		respondError(w, h.logger, err)
		return
	}
	a, err := h.lifecycle.Start(r.Context(), id)
	if err != nil {
		respondError(w, h.logger, err)
		return
	}
	respondData(w, http.StatusOK, h.toAuctionResponse(a, h.now()))
}

func (h *Handler) endAuction(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r, "id")
	if err != nil {
		respondError(w, h.logger, err)
		return
	}
	a, err := h.lifecycle.End(r.Context(), id)
	if err != nil {
		respondError(w, h.logger, err)
		return
	}
	respondData(w, http.StatusOK, h.toAuctionResponse(a, h.now()))
}

func (h *Handler) selectWinner(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r, "id")
	if err != nil {
		respondError(w, h.logger, err)
		return
	}
	var req SelectWinnerRequest
	if err := decode(r, h.validate, &req); err != nil {
		respondError(w, h.logger, err)
		return
	}
	a, err := h.lifecycle.SelectWinner(r.Context(), id, req.WinnerID)
	if err != nil {
		respondError(w, h.logger, err)
		return
	}
	respondData(w, http.StatusOK, h.toAuctionResponse(a, h.now()))
}

func (h *Handler) buyNow(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r, "id")
	if err != nil {
		respondError(w, h.logger, err)
		return
	}
	var req BuyNowRequest
	if err := decode(r, h.validate, &req); err != nil {
		respondError(w, h.logger, err)
		return
	}
	res, err := h.bidding.BuyNow(r.Context(), id, req.UserID)
	if err != nil {
		respondError(w, h.logger, err)
		return
	}
	respondData(w, http.StatusOK, PlaceBidResponse{
		Bid:       res.Bid,
		Auction:   h.toAuctionResponse(res.Auction, h.now()),
		IsWinning: res.IsWinning,
	})
}

func (h *Handler) listAuctionBids(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r, "id")
	if err != nil {
		respondError(w, h.logger, err)
		return
	}
	list, err := h.lifecycle.GetBids(r.Context(), id)
	if err != nil {
		respondError(w, h.logger, err)
		return
	}
	respondData(w, http.StatusOK, list)
}

func (h *Handler) getWinningBid(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r, "id")
	if err != nil {
		respondError(w, h.logger, err)
		return
	}
	b, err := h.lifecycle.GetWinningBid(r.Context(), id)
	if err != nil {
		respondError(w, h.logger, err)
		return
	}
	respondData(w, http.StatusOK, b)
}

// --- bids ---

func (h *Handler) placeBid(w http.ResponseWriter, r *http.Request) {
	var req PlaceBidRequest
	if err := decode(r, h.validate, &req); err != nil {
		respondError(w, h.logger, err)
		return
	}
	res, err := h.bidding.PlaceBid(r.Context(), bidding.PlaceBidInput{
		AuctionID:   req.AuctionID,
		UserID:      req.UserID,
		Amount:      values.Cents(req.Amount),
		MaxBid:      centsOpt(req.MaxBid),
		AutoBidStep: centsOpt(req.AutoBidStep),
	})
	if err != nil {
		respondError(w, h.logger, err)
		return
	}
	respondData(w, http.StatusCreated, PlaceBidResponse{
		Bid:       res.Bid,
		Auction:   h.toAuctionResponse(res.Auction, h.now()),
		IsWinning: res.IsWinning,
	})
}

func (h *Handler) retractBid(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r, "id")
	if err != nil {
		respondError(w, h.logger, err)
		return
	}
	var req RetractBidRequest
	if err := decode(r, h.validate, &req); err != nil {
		respondError(w, h.logger, err)
		return
	}
	reason, err := bid.ParseRetractionReason(req.Reason)
	if err != nil {
		respondError(w, h.logger, err)
		return
	}
	res, err := h.retraction.Retract(r.Context(), id, req.UserID, reason)
	if err != nil {
		respondError(w, h.logger, err)
		return
	}
	respondData(w, http.StatusOK, map[string]any{
		"bid":        res.Bid,
		"auction":    h.toAuctionResponse(res.Auction, h.now()),
		"new_leader": res.NewLeader,
	})
}

func (h *Handler) canRetract(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r, "id")
	if err != nil {
		respondError(w, h.logger, err)
		return
	}
	userID, err := uuid.Parse(r.URL.Query().Get("userId"))
	if err != nil {
		respondError(w, h.logger, errors.NewValidationError("INVALID_ID", "userId query parameter is required"))
		return
	}
	elig, err := h.retraction.CanRetract(r.Context(), id, userID)
	if err != nil {
		respondError(w, h.logger, err)
		return
	}
	respondData(w, http.StatusOK, elig)
}

// --- users ---

func (h *Handler) createUser(w http.ResponseWriter, r *http.Request) {
	var req CreateUserRequest
	if err := decode(r, h.validate, &req); err != nil {
		respondError(w, h.logger, err)
		return
	}
	u, err := user.New(req.Email, req.Name, h.now())
	if err != nil {
		respondError(w, h.logger, err)
		return
	}
	if err := h.users.Create(r.Context(), u); err != nil {
		respondError(w, h.logger, err)
		return
	}
	respondData(w, http.StatusCreated, u)
}

func (h *Handler) listUsers(w http.ResponseWriter, r *http.Request) {
	list, err := h.users.List(r.Context())
	if err != nil {
		respondError(w, h.logger, err)
		return
	}
	respondData(w, http.StatusOK, list)
}

func (h *Handler) getUser(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r, "id")
	if err != nil {
		respondError(w, h.logger, err)
		return
	}
	u, err := h.users.GetByID(r.Context(), id)
	if err != nil {
		respondError(w, h.logger, err)
		return
	}
	respondData(w, http.StatusOK, u)
}

func (h *Handler) listUserBids(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r, "id")
	if err != nil {
		respondError(w, h.logger, err)
		return
	}
	if _, err := h.users.GetByID(r.Context(), id); err != nil {
		respondError(w, h.logger, err)
		return
	}
	list, err := h.bids.ListByUser(r.Context(), id)
	if err != nil {
		respondError(w, h.logger, err)
		return
	}
	respondData(w, http.StatusOK, list)
}

// --- operational ---

func (h *Handler) healthz(w http.ResponseWriter, _ *http.Request) {
	respondData(w, http.StatusOK, map[string]any{"status": "ok"})
}

func (h *Handler) schedulerStats(w http.ResponseWriter, _ *http.Request) {
	payload := map[string]any{
		"scheduler": h.sched.Stats(),
	}
	if h.locks != nil {
		payload["locks"] = h.locks.Stats()
	}
	respondData(w, http.StatusOK, payload)
}
