package repository

import (
	"context"
	"database/sql"
	stderrors "errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/riteshkumar/booking-escrow/internal/errors"
	"github.com/riteshkumar/booking-escrow/internal/models"
)

// Tx is the unit of work handed to Store.WithinTx callbacks. Every *ForUpdate
// method takes a row lock that is held until the transaction ends.
type Tx interface {
	GetBookingForUpdate(ctx context.Context, id string) (*models.Booking, error)
	CreateBooking(ctx context.Context, booking *models.Booking) error
	UpdateBooking(ctx context.Context, booking *models.Booking) error

	GetWalletForUpdate(ctx context.Context, id string) (*models.WalletAccount, error)
	GetWalletByOwnerForUpdate(ctx context.Context, ownerID string, ownerType models.OwnerType) (*models.WalletAccount, error)
	UpdateWalletBalances(ctx context.Context, id string, balance, heldBalance int64) error

	CreateLedgerEntry(ctx context.Context, entry *models.LedgerEntry) error
	GetLedgerEntryForUpdate(ctx context.Context, id string) (*models.LedgerEntry, error)
	UpdateLedgerEntryStatus(ctx context.Context, id string, status models.LedgerEntryStatus, reviewedAt time.Time) error
}

type BookingRepository interface {
	GetBookingByID(ctx context.Context, id string) (*models.Booking, error)
	ListBookingsByActor(ctx context.Context, actorID string) ([]*models.Booking, error)
	// ListAwaitingPastDeadline returns ids of awaiting_confirmation bookings whose
	// confirmation deadline is at or before now.
	ListAwaitingPastDeadline(ctx context.Context, now time.Time, limit int) ([]string, error)
	// ListCheckInExpired returns ids of confirmed bookings whose check-in
	// deadline is at or before now.
	ListCheckInExpired(ctx context.Context, now time.Time, limit int) ([]string, error)
}

type WalletRepository interface {
	CreateWallet(ctx context.Context, wallet *models.WalletAccount) error
	GetWalletByID(ctx context.Context, id string) (*models.WalletAccount, error)
	GetWalletByOwner(ctx context.Context, ownerID string, ownerType models.OwnerType) (*models.WalletAccount, error)
}

type LedgerRepository interface {
	ListLedgerEntriesByWallet(ctx context.Context, walletID string) ([]*models.LedgerEntry, error)
	ListLedgerEntriesByBooking(ctx context.Context, bookingID string) ([]*models.LedgerEntry, error)
}

// Store is the persistence handle injected into the services.
type Store interface {
	BookingRepository
	WalletRepository
	LedgerRepository
	// WithinTx runs fn in one database transaction. fn's error rolls it back.
	WithinTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}

// queryer is satisfied by both *sql.DB and *sql.Tx.
type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type PostgresStore struct {
	db          *sql.DB
	lockTimeout time.Duration
}

func NewPostgresStore(db *sql.DB, lockTimeout time.Duration) *PostgresStore {
	return &PostgresStore{db: db, lockTimeout: lockTimeout}
}

type postgresTx struct {
	tx *sql.Tx
}

// WithinTx begins a READ COMMITTED transaction with a short lock timeout so
// contended row locks surface as ErrStaleState instead of blocking.
func (s *PostgresStore) WithinTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	// Ensure rollback on error
	defer func() {
		if tx != nil {
			tx.Rollback()
		}
	}()

	if s.lockTimeout > 0 {
		stmt := fmt.Sprintf("SET LOCAL lock_timeout = '%dms'", s.lockTimeout.Milliseconds())
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to set lock timeout: %w", err)
		}
	}

	if err := fn(ctx, &postgresTx{tx: tx}); err != nil {
		return mapPQError(err)
	}

	if err := tx.Commit(); err != nil {
		return mapPQError(fmt.Errorf("failed to commit transaction: %w", err))
	}

	// Nullify tx to avoid rollback in defer
	tx = nil
	return nil
}

// pq error codes the store translates into domain errors
const (
	pqUniqueViolation      = "23505"
	pqCheckViolation       = "23514"
	pqSerializationFailure = "40001"
	pqDeadlockDetected     = "40P01"
	pqLockNotAvailable     = "55P03"
)

// balanceConstraints are the CHECK constraints a debit past zero trips.
var balanceConstraints = map[string]bool{
	"wallet_accounts_balance_check":      true,
	"wallet_accounts_held_balance_check": true,
}

func mapPQError(err error) error {
	var pqErr *pq.Error
	if !stderrors.As(err, &pqErr) {
		return err
	}
	switch pqErr.Code {
	case pqSerializationFailure, pqDeadlockDetected, pqLockNotAvailable:
		return fmt.Errorf("%w: %s", errors.ErrStaleState, pqErr.Message)
	case pqCheckViolation:
		if balanceConstraints[pqErr.Constraint] {
			return fmt.Errorf("%w: %s", errors.ErrInsufficientBalance, pqErr.Constraint)
		}
	}
	return err
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return stderrors.As(err, &pqErr) && pqErr.Code == pqUniqueViolation
}
