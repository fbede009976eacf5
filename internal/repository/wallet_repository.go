package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"github.com/riteshkumar/booking-escrow/internal/errors"
	"github.com/riteshkumar/booking-escrow/internal/models"
)

const walletColumns = `id, owner_id, owner_type, balance, held_balance, created_at, updated_at`

func scanWallet(row rowScanner) (*models.WalletAccount, error) {
	w := &models.WalletAccount{}
	err := row.Scan(&w.ID, &w.OwnerID, &w.OwnerType, &w.Balance, &w.HeldBalance, &w.CreatedAt, &w.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return w, nil
}

func getWallet(ctx context.Context, q queryer, query string, args ...any) (*models.WalletAccount, error) {
	wallet, err := scanWallet(q.QueryRowContext(ctx, query, args...))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, errors.ErrWalletNotFound
		}
		return nil, fmt.Errorf("failed to get wallet: %w", err)
	}
	return wallet, nil
}

func (s *PostgresStore) CreateWallet(ctx context.Context, wallet *models.WalletAccount) error {
	if wallet.ID == "" {
		wallet.ID = uuid.New().String()
	}

	query := `INSERT INTO wallet_accounts (id, owner_id, owner_type, balance, held_balance, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, CURRENT_TIMESTAMP, CURRENT_TIMESTAMP)
		RETURNING created_at, updated_at`

	err := s.db.QueryRowContext(ctx, query, wallet.ID, wallet.OwnerID, wallet.OwnerType, wallet.Balance, wallet.HeldBalance).
		Scan(&wallet.CreatedAt, &wallet.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return errors.ErrWalletAlreadyExists
		}
		return fmt.Errorf("failed to create wallet: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetWalletByID(ctx context.Context, id string) (*models.WalletAccount, error) {
	return getWallet(ctx, s.db, `SELECT `+walletColumns+` FROM wallet_accounts WHERE id = $1`, id)
}

func (s *PostgresStore) GetWalletByOwner(ctx context.Context, ownerID string, ownerType models.OwnerType) (*models.WalletAccount, error) {
	return getWallet(ctx, s.db, `SELECT `+walletColumns+` FROM wallet_accounts WHERE owner_id = $1 AND owner_type = $2`, ownerID, ownerType)
}

func (t *postgresTx) GetWalletForUpdate(ctx context.Context, id string) (*models.WalletAccount, error) {
	return getWallet(ctx, t.tx, `SELECT `+walletColumns+` FROM wallet_accounts WHERE id = $1 FOR UPDATE`, id)
}

func (t *postgresTx) GetWalletByOwnerForUpdate(ctx context.Context, ownerID string, ownerType models.OwnerType) (*models.WalletAccount, error) {
	return getWallet(ctx, t.tx, `SELECT `+walletColumns+` FROM wallet_accounts WHERE owner_id = $1 AND owner_type = $2 FOR UPDATE`, ownerID, ownerType)
}

func (t *postgresTx) UpdateWalletBalances(ctx context.Context, id string, balance, heldBalance int64) error {
	query := `UPDATE wallet_accounts SET balance = $1, held_balance = $2, updated_at = CURRENT_TIMESTAMP WHERE id = $3`

	result, err := t.tx.ExecContext(ctx, query, balance, heldBalance, id)
	if err != nil {
		return fmt.Errorf("failed to update wallet balances: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected after updating wallet balances: %w", err)
	}

	if rowsAffected == 0 {
		return errors.ErrWalletNotFound
	}

	return nil
}
