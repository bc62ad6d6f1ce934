package rest

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/allabud/auction-backend/internal/domain/errors"
	"github.com/allabud/auction-backend/internal/domain/values"
)

// All monetary request fields are integer cents.

type CreateAuctionRequest struct {
	Title               string    `json:"title" validate:"required,max=200"`
	Description         string    `json:"description" validate:"required"`
	StartingPrice       int64     `json:"starting_price" validate:"min=0"`
	MinimumBidIncrement int64     `json:"minimum_bid_increment" validate:"gt=0"`
	ReservePrice        *int64    `json:"reserve_price,omitempty"`
	BuyNowPrice         *int64    `json:"buy_now_price,omitempty"`
	StartTime           time.Time `json:"start_time" validate:"required"`
	EndTime             time.Time `json:"end_time"`
	HasTimeLimit        bool      `json:"has_time_limit"`
	CreatedBy           uuid.UUID `json:"created_by" validate:"required"`
}

type UpdateAuctionRequest struct {
	Title               *string    `json:"title,omitempty" validate:"omitempty,max=200"`
	Description         *string    `json:"description,omitempty"`
	StartingPrice       *int64     `json:"starting_price,omitempty" validate:"omitempty,min=0"`
	MinimumBidIncrement *int64     `json:"minimum_bid_increment,omitempty" validate:"omitempty,gt=0"`
	ReservePrice        *int64     `json:"reserve_price,omitempty"`
	BuyNowPrice         *int64     `json:"buy_now_price,omitempty"`
	StartTime           *time.Time `json:"start_time,omitempty"`
	EndTime             *time.Time `json:"end_time,omitempty"`
}

type PlaceBidRequest struct {
	AuctionID   uuid.UUID `json:"auction_id" validate:"required"`
	UserID      uuid.UUID `json:"user_id" validate:"required"`
	Amount      int64     `json:"amount" validate:"min=0"`
	MaxBid      *int64    `json:"max_bid,omitempty" validate:"omitempty,gt=0"`
	AutoBidStep *int64    `json:"auto_bid_step,omitempty" validate:"omitempty,gt=0"`
}

type RetractBidRequest struct {
	UserID uuid.UUID `json:"user_id" validate:"required"`
	Reason string    `json:"reason" validate:"required"`
}

type SelectWinnerRequest struct {
	WinnerID uuid.UUID `json:"winner_id" validate:"required"`
}

type BuyNowRequest struct {
	UserID uuid.UUID `json:"user_id" validate:"required"`
}

type CreateUserRequest struct {
	Email string `json:"email" validate:"required,email"`
	Name  string `json:"name" validate:"required"`
}

// decode parses and validates a JSON request body into dst.
func decode(r *http.Request, v *validator.Validate, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return errors.NewValidationError("MALFORMED_BODY", "request body is not valid JSON: "+err.Error())
	}
	if err := v.Struct(dst); err != nil {
		if verrs, ok := err.(validator.ValidationErrors); ok {
			details := make(map[string]any, len(verrs))
			for _, fe := range verrs {
				details[fe.Field()] = fmt.Sprintf("failed %q validation", fe.Tag())
			}
			return errors.NewValidationError("INVALID_REQUEST", "request validation failed").
				WithDetails(details)
		}
		return errors.NewValidationError("INVALID_REQUEST", err.Error())
	}
	return nil
}

// pathUUID extracts a UUID path parameter.
func pathUUID(r *http.Request, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(r.PathValue(name))
	if err != nil {
		return uuid.Nil, errors.NewValidationError("INVALID_ID", "invalid "+name+" in path")
	}
	return id, nil
}

func centsOpt(v *int64) *values.Money {
	if v == nil {
		return nil
	}
	m := values.Cents(*v)
	return &m
}
