package models

import "time"

type CreateBookingRequest struct {
	CustomerID      string     `json:"customer_id"`
	ModelID         string     `json:"model_id"`
	ModelServiceID  string     `json:"model_service_id"`
	Price           int64      `json:"price"`
	DayAmount       int        `json:"day_amount"`
	Location        Location   `json:"location"`
	PreferredAttire string     `json:"preferred_attire"`
	StartDate       time.Time  `json:"start_date"`
	EndDate         *time.Time `json:"end_date,omitempty"`
}

type TransitionRequest struct {
	Action Action `json:"action"`
}

type CheckInRequest struct {
	Latitude  float64    `json:"latitude"`
	Longitude float64    `json:"longitude"`
	At        *time.Time `json:"at,omitempty"`
}

type OpenWalletRequest struct {
	OwnerID   string    `json:"owner_id"`
	OwnerType OwnerType `json:"owner_type"`
}

type TopUpRequest struct {
	Amount   int64  `json:"amount"`
	ProofURL string `json:"proof_url"`
}

type DeductRequest struct {
	Amount int64  `json:"amount"`
	Reason string `json:"reason"`
}

// ErrorResponse is the structured failure result returned at the API boundary.
type ErrorResponse struct {
	Success bool   `json:"success"`
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// BookingSnapshot is the audit payload recorded for booking operations.
type BookingSnapshot struct {
	ID         string        `json:"id"`
	Status     BookingStatus `json:"status"`
	FromStatus BookingStatus `json:"from_status,omitempty"`
	Price      int64         `json:"price"`
	CustomerID string        `json:"customer_id"`
	ModelID    string        `json:"model_id"`
	Error      string        `json:"error,omitempty"`
}

// WalletSnapshot is the audit payload recorded for wallet operations.
type WalletSnapshot struct {
	WalletID    string `json:"wallet_id"`
	EntryID     string `json:"entry_id,omitempty"`
	Amount      int64  `json:"amount,omitempty"`
	Balance     int64  `json:"balance"`
	HeldBalance int64  `json:"held_balance"`
	Error       string `json:"error,omitempty"`
}
