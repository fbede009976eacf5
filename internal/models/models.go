package models

import (
	"encoding/json"
	"time"
)

type BookingStatus string

const (
	BookingStatusPending              BookingStatus = "pending"
	BookingStatusConfirmed            BookingStatus = "confirmed"
	BookingStatusInProgress           BookingStatus = "in_progress"
	BookingStatusAwaitingConfirmation BookingStatus = "awaiting_confirmation"
	BookingStatusCompleted            BookingStatus = "completed"
	BookingStatusCancelled            BookingStatus = "cancelled"
	BookingStatusRejected             BookingStatus = "rejected"
	BookingStatusDisputed             BookingStatus = "disputed"
)

func (s BookingStatus) Valid() bool {
	switch s {
	case BookingStatusPending, BookingStatusConfirmed, BookingStatusInProgress,
		BookingStatusAwaitingConfirmation, BookingStatusCompleted, BookingStatusCancelled,
		BookingStatusRejected, BookingStatusDisputed:
		return true
	}
	return false
}

// Terminal reports whether no further transition is defined from s.
func (s BookingStatus) Terminal() bool {
	switch s {
	case BookingStatusCompleted, BookingStatusCancelled, BookingStatusRejected, BookingStatusDisputed:
		return true
	}
	return false
}

// Settled reports whether the booking's hold has been released or refunded.
func (s BookingStatus) Settled() bool {
	return s == BookingStatusCompleted || s == BookingStatusCancelled || s == BookingStatusRejected
}

type Action string

const (
	ActionAccept            Action = "accept"
	ActionReject            Action = "reject"
	ActionCancel            Action = "cancel"
	ActionStart             Action = "start"
	ActionFinish            Action = "finish"
	ActionConfirmCompletion Action = "confirm_completion"
	ActionAutoComplete      Action = "auto_complete"
	ActionDispute           Action = "dispute"
	ActionExpireCheckIn     Action = "expire_check_in"
)

type Role string

const (
	RoleCustomer Role = "customer"
	RoleModel    Role = "model"
	RoleAdmin    Role = "admin"
	RoleSystem   Role = "system"
)

// Actor is the caller identity as supplied by the identity service.
type Actor struct {
	ID   string `json:"id"`
	Role Role   `json:"role"`
}

const SystemActorID = "system"

// SystemActor is used by background scans.
func SystemActor() Actor {
	return Actor{ID: SystemActorID, Role: RoleSystem}
}

type Location struct {
	Address   string  `json:"address"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

type Coordinates struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

type CheckIn struct {
	Latitude  float64   `json:"latitude"`
	Longitude float64   `json:"longitude"`
	At        time.Time `json:"at"`
}

type Booking struct {
	ID                   string        `json:"id"`
	CustomerID           string        `json:"customer_id"`
	ModelID              string        `json:"model_id"`
	ModelServiceID       string        `json:"model_service_id"`
	Price                int64         `json:"price"`
	DayAmount            int           `json:"day_amount"`
	Location             Location      `json:"location"`
	PreferredAttire      string        `json:"preferred_attire,omitempty"`
	StartDate            time.Time     `json:"start_date"`
	EndDate              time.Time     `json:"end_date"`
	Status               BookingStatus `json:"status"`
	CustomerCheckIn      *CheckIn      `json:"customer_check_in,omitempty"`
	ModelCheckIn         *CheckIn      `json:"model_check_in,omitempty"`
	ConfirmationDeadline *time.Time    `json:"confirmation_deadline,omitempty"`
	CheckInDeadline      time.Time     `json:"check_in_deadline"`
	CreatedAt            time.Time     `json:"created_at"`
	UpdatedAt            time.Time     `json:"updated_at"`
}

// Clone returns a deep copy so callers never share pointer fields.
func (b *Booking) Clone() *Booking {
	if b == nil {
		return nil
	}
	c := *b
	if b.CustomerCheckIn != nil {
		ci := *b.CustomerCheckIn
		c.CustomerCheckIn = &ci
	}
	if b.ModelCheckIn != nil {
		ci := *b.ModelCheckIn
		c.ModelCheckIn = &ci
	}
	if b.ConfirmationDeadline != nil {
		d := *b.ConfirmationDeadline
		c.ConfirmationDeadline = &d
	}
	return &c
}

type OwnerType string

const (
	OwnerTypeCustomer OwnerType = "customer"
	OwnerTypeModel    OwnerType = "model"
	OwnerTypePlatform OwnerType = "platform"
)

func (t OwnerType) Valid() bool {
	return t == OwnerTypeCustomer || t == OwnerTypeModel || t == OwnerTypePlatform
}

type WalletAccount struct {
	ID          string    `json:"id"`
	OwnerID     string    `json:"owner_id"`
	OwnerType   OwnerType `json:"owner_type"`
	Balance     int64     `json:"balance"`
	HeldBalance int64     `json:"held_balance"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

type LedgerEntryType string

const (
	LedgerEntryHold       LedgerEntryType = "hold"
	LedgerEntryRelease    LedgerEntryType = "release"
	LedgerEntryRefund     LedgerEntryType = "refund"
	LedgerEntryDeposit    LedgerEntryType = "deposit"
	LedgerEntryWithdrawal LedgerEntryType = "withdrawal"
)

type LedgerEntryStatus string

const (
	LedgerEntryPending  LedgerEntryStatus = "pending"
	LedgerEntryApproved LedgerEntryStatus = "approved"
	LedgerEntryRejected LedgerEntryStatus = "rejected"
)

type LedgerEntry struct {
	ID          string            `json:"id"`
	WalletID    string            `json:"wallet_id"`
	Type        LedgerEntryType   `json:"type"`
	Amount      int64             `json:"amount"`
	PlatformFee int64             `json:"platform_fee,omitempty"`
	BookingID   *string           `json:"booking_id,omitempty"`
	ProofRef    *string           `json:"proof_ref,omitempty"`
	Reason      string            `json:"reason,omitempty"`
	Status      LedgerEntryStatus `json:"status"`
	CreatedAt   time.Time         `json:"created_at"`
	ReviewedAt  *time.Time        `json:"reviewed_at,omitempty"`
}

type AuditStatus string

const (
	AuditStatusSuccess AuditStatus = "success"
	AuditStatusFailed  AuditStatus = "failed"
)

type AuditLog struct {
	ID          string          `json:"id"`
	Action      string          `json:"action"`
	ActorID     string          `json:"actor_id"`
	ActorRole   Role            `json:"actor_role"`
	EntityType  string          `json:"entity_type"`
	EntityID    string          `json:"entity_id"`
	Description string          `json:"description"`
	Status      AuditStatus     `json:"status"`
	Payload     json.RawMessage `json:"payload,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
}

const (
	AuditActionCreateBooking  = "create_booking"
	AuditActionCheckIn        = "check_in"
	AuditActionOpenWallet     = "open_wallet"
	AuditActionTopUp          = "wallet_top_up"
	AuditActionApproveDeposit = "approve_deposit"
	AuditActionRejectDeposit  = "reject_deposit"
	AuditActionDeduct         = "wallet_deduct"
)

// TransitionAuditAction names the audit action for a booking transition.
func TransitionAuditAction(a Action) string {
	return "transition:" + string(a)
}

const (
	EntityTypeBooking     = "BOOKING"
	EntityTypeWallet      = "WALLET"
	EntityTypeLedgerEntry = "LEDGER_ENTRY"
)
