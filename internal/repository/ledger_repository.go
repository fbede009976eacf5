package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/riteshkumar/booking-escrow/internal/errors"
	"github.com/riteshkumar/booking-escrow/internal/models"
)

const ledgerColumns = `id, wallet_id, type, amount, platform_fee, booking_id, proof_ref, reason, status, created_at, reviewed_at`

func scanLedgerEntry(row rowScanner) (*models.LedgerEntry, error) {
	e := &models.LedgerEntry{}
	var (
		bookingID, proofRef sql.NullString
		reviewedAt          sql.NullTime
	)
	err := row.Scan(&e.ID, &e.WalletID, &e.Type, &e.Amount, &e.PlatformFee, &bookingID, &proofRef,
		&e.Reason, &e.Status, &e.CreatedAt, &reviewedAt)
	if err != nil {
		return nil, err
	}
	if bookingID.Valid {
		e.BookingID = &bookingID.String
	}
	if proofRef.Valid {
		e.ProofRef = &proofRef.String
	}
	if reviewedAt.Valid {
		e.ReviewedAt = &reviewedAt.Time
	}
	return e, nil
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

// CreateLedgerEntry inserts an entry within the transaction. A second entry of
// the same type for one booking violates ledger_entries_booking_type_key and is
// reported as ErrLedgerInvariant.
func (t *postgresTx) CreateLedgerEntry(ctx context.Context, entry *models.LedgerEntry) error {
	// Generate UUID if not set
	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}

	query := `INSERT INTO ledger_entries (id, wallet_id, type, amount, platform_fee, booking_id, proof_ref, reason, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING created_at`

	err := t.tx.QueryRowContext(ctx, query,
		entry.ID,
		entry.WalletID,
		entry.Type,
		entry.Amount,
		entry.PlatformFee,
		nullString(entry.BookingID),
		nullString(entry.ProofRef),
		entry.Reason,
		entry.Status,
	).Scan(&entry.CreatedAt)

	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: %s for booking", errors.ErrLedgerInvariant, entry.Type)
		}
		return fmt.Errorf("failed to create ledger entry: %w", err)
	}
	return nil
}

func (t *postgresTx) GetLedgerEntryForUpdate(ctx context.Context, id string) (*models.LedgerEntry, error) {
	query := `SELECT ` + ledgerColumns + ` FROM ledger_entries WHERE id = $1 FOR UPDATE`

	entry, err := scanLedgerEntry(t.tx.QueryRowContext(ctx, query, id))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, errors.ErrLedgerEntryNotFound
		}
		return nil, fmt.Errorf("failed to get ledger entry by ID: %w", err)
	}
	return entry, nil
}

func (t *postgresTx) UpdateLedgerEntryStatus(ctx context.Context, id string, status models.LedgerEntryStatus, reviewedAt time.Time) error {
	query := `UPDATE ledger_entries SET status = $1, reviewed_at = $2 WHERE id = $3`

	result, err := t.tx.ExecContext(ctx, query, status, reviewedAt, id)
	if err != nil {
		return fmt.Errorf("failed to update ledger entry status: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected after updating ledger entry: %w", err)
	}
	if rowsAffected == 0 {
		return errors.ErrLedgerEntryNotFound
	}
	return nil
}

func (s *PostgresStore) ListLedgerEntriesByWallet(ctx context.Context, walletID string) ([]*models.LedgerEntry, error) {
	query := `SELECT ` + ledgerColumns + ` FROM ledger_entries
		WHERE wallet_id = $1
		ORDER BY created_at DESC`
	return s.listLedgerEntries(ctx, query, walletID)
}

func (s *PostgresStore) ListLedgerEntriesByBooking(ctx context.Context, bookingID string) ([]*models.LedgerEntry, error) {
	query := `SELECT ` + ledgerColumns + ` FROM ledger_entries
		WHERE booking_id = $1
		ORDER BY created_at ASC`
	return s.listLedgerEntries(ctx, query, bookingID)
}

func (s *PostgresStore) listLedgerEntries(ctx context.Context, query, arg string) ([]*models.LedgerEntry, error) {
	rows, err := s.db.QueryContext(ctx, query, arg)
	if err != nil {
		return nil, fmt.Errorf("failed to list ledger entries: %w", err)
	}
	defer rows.Close()

	var entries []*models.LedgerEntry
	for rows.Next() {
		entry, err := scanLedgerEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan ledger entry: %w", err)
		}
		entries = append(entries, entry)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating over ledger entries: %w", err)
	}
	return entries, nil
}
