package service

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/riteshkumar/booking-escrow/internal/errors"
	"github.com/riteshkumar/booking-escrow/internal/models"
	"github.com/riteshkumar/booking-escrow/internal/repository"
	"github.com/riteshkumar/booking-escrow/internal/repository/memory"
)

func TestSplitCommission(t *testing.T) {
	tests := []struct {
		rate   string
		amount int64
		fee    int64
		payout int64
	}{
		{"0.20", 100000, 20000, 80000},
		{"0.20", 5, 1, 4},
		{"0.20", 7777, 1555, 6222},
		{"0.5", 3, 2, 1},
		{"0.15", 333, 50, 283},
		{"0", 1000, 0, 1000},
		{"1", 1000, 1000, 0},
	}

	for _, tt := range tests {
		s := NewWalletService(memory.NewStore(), nil, decimal.RequireFromString(tt.rate), platformID, discardLogger())
		fee, payout := s.SplitCommission(tt.amount)
		assert.Equal(t, tt.fee, fee, "fee for %d at %s", tt.amount, tt.rate)
		assert.Equal(t, tt.payout, payout, "payout for %d at %s", tt.amount, tt.rate)
		assert.Equal(t, tt.amount, fee+payout)
	}
}

func TestHoldAndRefund(t *testing.T) {
	f := newFixture(t)
	f.fund(f.customerWallet.ID, 500)

	err := f.store.WithinTx(f.ctx, func(ctx context.Context, tx repository.Tx) error {
		_, err := f.wallets.Hold(ctx, tx, "b-x", f.customerWallet.ID, 600)
		return err
	})
	assert.True(t, errors.IsInsufficientBalance(err))

	err = f.store.WithinTx(f.ctx, func(ctx context.Context, tx repository.Tx) error {
		_, err := f.wallets.Hold(ctx, tx, "b-x", f.customerWallet.ID, 0)
		return err
	})
	assert.ErrorIs(t, err, errors.ErrInvalidAmount)

	// refund without a hold would drive held balance negative
	err = f.store.WithinTx(f.ctx, func(ctx context.Context, tx repository.Tx) error {
		_, err := f.wallets.Refund(ctx, tx, "b-x", f.customerWallet.ID, 100)
		return err
	})
	assert.ErrorIs(t, err, errors.ErrLedgerInvariant)

	w := f.wallet(f.customerWallet.ID)
	assert.Equal(t, int64(500), w.Balance)
	assert.Equal(t, int64(0), w.HeldBalance)
}

func TestOpenWallet(t *testing.T) {
	f := newFixture(t)

	w, err := f.wallets.OpenWallet(f.ctx, models.Actor{ID: "cust-2", Role: models.RoleCustomer},
		&models.OpenWalletRequest{OwnerID: "cust-2", OwnerType: models.OwnerTypeCustomer})
	require.NoError(t, err)
	assert.Equal(t, int64(0), w.Balance)

	tests := []struct {
		name  string
		actor models.Actor
		req   models.OpenWalletRequest
		kind  errors.Kind
	}{
		{"duplicate", admin, models.OpenWalletRequest{OwnerID: "cust-2", OwnerType: models.OwnerTypeCustomer}, errors.KindConflict},
		{"for someone else", customer, models.OpenWalletRequest{OwnerID: "cust-3", OwnerType: models.OwnerTypeCustomer}, errors.KindUnauthorizedActor},
		{"wrong owner type", customer, models.OpenWalletRequest{OwnerID: customerID, OwnerType: models.OwnerTypeModel}, errors.KindUnauthorizedActor},
		{"platform by a customer", customer, models.OpenWalletRequest{OwnerID: customerID, OwnerType: models.OwnerTypePlatform}, errors.KindUnauthorizedActor},
		{"unknown owner type", admin, models.OpenWalletRequest{OwnerID: "x", OwnerType: "bank"}, errors.KindValidation},
		{"empty owner", admin, models.OpenWalletRequest{OwnerType: models.OwnerTypeModel}, errors.KindValidation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := tt.req
			_, err := f.wallets.OpenWallet(f.ctx, tt.actor, &req)
			assert.Equal(t, tt.kind, errors.KindOf(err), "got %v", err)
		})
	}
}

func TestEnsurePlatformWalletIsStable(t *testing.T) {
	f := newFixture(t)
	again, err := f.wallets.EnsurePlatformWallet(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, f.platformWallet.ID, again.ID)
}

func TestDepositReview(t *testing.T) {
	f := newFixture(t)

	entry, err := f.wallets.TopUp(f.ctx, customer, f.customerWallet.ID, 2500, "https://proofs.example/qr-1.png")
	require.NoError(t, err)
	assert.Equal(t, models.LedgerEntryPending, entry.Status)
	assert.Equal(t, models.LedgerEntryDeposit, entry.Type)
	require.NotNil(t, entry.ProofRef)
	assert.Equal(t, int64(0), f.wallet(f.customerWallet.ID).Balance)

	_, err = f.wallets.ApproveDeposit(f.ctx, customer, entry.ID)
	assert.True(t, errors.IsUnauthorized(err))

	approved, err := f.wallets.ApproveDeposit(f.ctx, admin, entry.ID)
	require.NoError(t, err)
	assert.Equal(t, models.LedgerEntryApproved, approved.Status)
	require.NotNil(t, approved.ReviewedAt)
	assert.Equal(t, defaultTime, *approved.ReviewedAt)
	assert.Equal(t, int64(2500), f.wallet(f.customerWallet.ID).Balance)

	_, err = f.wallets.ApproveDeposit(f.ctx, admin, entry.ID)
	assert.True(t, errors.IsTransitionError(err))
	_, err = f.wallets.RejectDeposit(f.ctx, admin, entry.ID)
	assert.True(t, errors.IsTransitionError(err))
	assert.Equal(t, int64(2500), f.wallet(f.customerWallet.ID).Balance)

	second, err := f.wallets.TopUp(f.ctx, customer, f.customerWallet.ID, 900, "https://proofs.example/qr-2.png")
	require.NoError(t, err)
	rejected, err := f.wallets.RejectDeposit(f.ctx, admin, second.ID)
	require.NoError(t, err)
	assert.Equal(t, models.LedgerEntryRejected, rejected.Status)
	assert.Equal(t, int64(2500), f.wallet(f.customerWallet.ID).Balance)

	_, err = f.wallets.ApproveDeposit(f.ctx, admin, "no-such-entry")
	assert.True(t, errors.IsNotFound(err))

	logs, err := f.auditRepo.ListByEntity(f.ctx, models.EntityTypeLedgerEntry, entry.ID)
	require.NoError(t, err)
	require.Len(t, logs, 4)
	assert.Equal(t, models.AuditActionApproveDeposit, logs[1].Action)
	assert.Equal(t, models.AuditStatusSuccess, logs[1].Status)
	assert.Equal(t, models.AuditStatusFailed, logs[3].Status)
}

func TestTopUpValidation(t *testing.T) {
	f := newFixture(t)

	_, err := f.wallets.TopUp(f.ctx, customer, f.customerWallet.ID, 0, "https://proofs.example/x.png")
	assert.ErrorIs(t, err, errors.ErrInvalidAmount)

	_, err = f.wallets.TopUp(f.ctx, customer, f.customerWallet.ID, 100, "  ")
	assert.True(t, errors.IsValidationError(err))

	_, err = f.wallets.TopUp(f.ctx, model, f.customerWallet.ID, 100, "https://proofs.example/x.png")
	assert.True(t, errors.IsUnauthorized(err))

	_, err = f.wallets.TopUp(f.ctx, customer, "missing", 100, "https://proofs.example/x.png")
	assert.True(t, errors.IsNotFound(err))
}

func TestDeduct(t *testing.T) {
	f := newFixture(t)
	f.fund(f.customerWallet.ID, 1000)

	_, err := f.wallets.Deduct(f.ctx, customer, f.customerWallet.ID, 1001, "featured listing")
	assert.True(t, errors.IsInsufficientBalance(err))

	_, err = f.wallets.Deduct(f.ctx, customer, f.customerWallet.ID, 10, "")
	assert.True(t, errors.IsValidationError(err))

	entry, err := f.wallets.Deduct(f.ctx, customer, f.customerWallet.ID, 400, "featured listing")
	require.NoError(t, err)
	assert.Equal(t, models.LedgerEntryWithdrawal, entry.Type)
	assert.Equal(t, models.LedgerEntryApproved, entry.Status)
	assert.Equal(t, "featured listing", entry.Reason)
	assert.Equal(t, int64(600), f.wallet(f.customerWallet.ID).Balance)

	ledger, err := f.wallets.GetLedger(f.ctx, customer, f.customerWallet.ID)
	require.NoError(t, err)
	require.Len(t, ledger, 2)
	assert.Equal(t, models.LedgerEntryWithdrawal, ledger[0].Type)
	assert.Equal(t, models.LedgerEntryDeposit, ledger[1].Type)
}

func TestWalletReads(t *testing.T) {
	f := newFixture(t)

	w, err := f.wallets.GetWallet(f.ctx, customer, f.customerWallet.ID)
	require.NoError(t, err)
	assert.Equal(t, customerID, w.OwnerID)

	_, err = f.wallets.GetWallet(f.ctx, model, f.customerWallet.ID)
	assert.True(t, errors.IsUnauthorized(err))

	_, err = f.wallets.GetLedger(f.ctx, model, f.customerWallet.ID)
	assert.True(t, errors.IsUnauthorized(err))

	_, err = f.wallets.GetWallet(f.ctx, admin, "missing")
	assert.True(t, errors.IsNotFound(err))

	_, err = f.wallets.GetWallet(f.ctx, models.Actor{}, f.customerWallet.ID)
	assert.ErrorIs(t, err, errors.ErrMissingActorIdentity)
}
