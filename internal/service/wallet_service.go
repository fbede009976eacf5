package service

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/riteshkumar/booking-escrow/internal/errors"
	"github.com/riteshkumar/booking-escrow/internal/models"
	"github.com/riteshkumar/booking-escrow/internal/monitoring"
	"github.com/riteshkumar/booking-escrow/internal/repository"
)

// WalletService is the wallet/escrow ledger. Hold, Release and Refund run
// inside the caller's transaction and leave metrics to the caller, which only
// knows the outcome once the transaction ends. The remaining operations open
// their own.
type WalletService struct {
	store           repository.Store
	audit           *AuditLogger
	commissionRate  decimal.Decimal
	platformOwnerID string
	logger          *slog.Logger
	now             func() time.Time
}

func NewWalletService(store repository.Store, audit *AuditLogger, commissionRate decimal.Decimal, platformOwnerID string, logger *slog.Logger, opts ...ServiceOption) *WalletService {
	o := applyOptions(opts)
	return &WalletService{
		store:           store,
		audit:           audit,
		commissionRate:  commissionRate,
		platformOwnerID: platformOwnerID,
		logger:          logger,
		now:             o.now,
	}
}

// SplitCommission returns the platform's cut, rounded half up, and the payee's
// remainder. The two always sum to amount.
func (s *WalletService) SplitCommission(amount int64) (fee, payout int64) {
	fee = decimal.NewFromInt(amount).Mul(s.commissionRate).Round(0).IntPart()
	return fee, amount - fee
}

// Hold moves amount from the payer's balance to its held balance.
func (s *WalletService) Hold(ctx context.Context, tx repository.Tx, bookingID, payerWalletID string, amount int64) (*models.LedgerEntry, error) {
	if amount <= 0 {
		return nil, errors.ErrInvalidAmount
	}

	payer, err := tx.GetWalletForUpdate(ctx, payerWalletID)
	if err != nil {
		return nil, err
	}

	if payer.Balance < amount {
		s.logger.Warn("insufficient balance for hold",
			"wallet_id", payer.ID,
			"booking_id", bookingID,
			"available_balance", payer.Balance,
			"requested_amount", amount,
		)
		return nil, errors.ErrInsufficientBalance
	}

	entry := &models.LedgerEntry{
		WalletID:  payer.ID,
		Type:      models.LedgerEntryHold,
		Amount:    amount,
		BookingID: &bookingID,
		Status:    models.LedgerEntryApproved,
	}
	if err := s.createEntry(ctx, tx, entry); err != nil {
		return nil, err
	}

	if err := tx.UpdateWalletBalances(ctx, payer.ID, payer.Balance-amount, payer.HeldBalance+amount); err != nil {
		return nil, err
	}
	return entry, nil
}

// Release settles a booking's hold: the payee gets amount minus the platform's
// cut and the platform wallet gets the cut.
func (s *WalletService) Release(ctx context.Context, tx repository.Tx, bookingID, payerWalletID, payeeWalletID string, amount int64) (*models.LedgerEntry, error) {
	if amount <= 0 {
		return nil, errors.ErrInvalidAmount
	}

	// Lock order: payer, payee, platform
	payer, err := tx.GetWalletForUpdate(ctx, payerWalletID)
	if err != nil {
		return nil, err
	}
	payee, err := tx.GetWalletForUpdate(ctx, payeeWalletID)
	if err != nil {
		return nil, err
	}
	platform, err := tx.GetWalletByOwnerForUpdate(ctx, s.platformOwnerID, models.OwnerTypePlatform)
	if err != nil {
		return nil, fmt.Errorf("platform wallet: %w", err)
	}

	if payer.HeldBalance < amount {
		return nil, s.invariantViolation(bookingID, fmt.Errorf("%w: held balance %d below release amount %d",
			errors.ErrLedgerInvariant, payer.HeldBalance, amount))
	}

	fee, payout := s.SplitCommission(amount)

	entry := &models.LedgerEntry{
		WalletID:    payee.ID,
		Type:        models.LedgerEntryRelease,
		Amount:      amount,
		PlatformFee: fee,
		BookingID:   &bookingID,
		Status:      models.LedgerEntryApproved,
	}
	if err := s.createEntry(ctx, tx, entry); err != nil {
		return nil, err
	}

	if err := tx.UpdateWalletBalances(ctx, payer.ID, payer.Balance, payer.HeldBalance-amount); err != nil {
		return nil, err
	}
	if err := tx.UpdateWalletBalances(ctx, payee.ID, payee.Balance+payout, payee.HeldBalance); err != nil {
		return nil, err
	}
	if err := tx.UpdateWalletBalances(ctx, platform.ID, platform.Balance+fee, platform.HeldBalance); err != nil {
		return nil, err
	}

	s.logger.Info("hold released",
		"booking_id", bookingID,
		"payee_wallet_id", payee.ID,
		"amount", amount,
		"platform_fee", fee,
		"payout", payout,
	)
	return entry, nil
}

// Refund returns a booking's hold to the payer's balance.
func (s *WalletService) Refund(ctx context.Context, tx repository.Tx, bookingID, payerWalletID string, amount int64) (*models.LedgerEntry, error) {
	if amount <= 0 {
		return nil, errors.ErrInvalidAmount
	}

	payer, err := tx.GetWalletForUpdate(ctx, payerWalletID)
	if err != nil {
		return nil, err
	}
	if payer.HeldBalance < amount {
		return nil, s.invariantViolation(bookingID, fmt.Errorf("%w: held balance %d below refund amount %d",
			errors.ErrLedgerInvariant, payer.HeldBalance, amount))
	}

	entry := &models.LedgerEntry{
		WalletID:  payer.ID,
		Type:      models.LedgerEntryRefund,
		Amount:    amount,
		BookingID: &bookingID,
		Status:    models.LedgerEntryApproved,
	}
	if err := s.createEntry(ctx, tx, entry); err != nil {
		return nil, err
	}

	if err := tx.UpdateWalletBalances(ctx, payer.ID, payer.Balance+amount, payer.HeldBalance-amount); err != nil {
		return nil, err
	}
	return entry, nil
}

func (s *WalletService) createEntry(ctx context.Context, tx repository.Tx, entry *models.LedgerEntry) error {
	if err := tx.CreateLedgerEntry(ctx, entry); err != nil {
		if stderrors.Is(err, errors.ErrLedgerInvariant) {
			bookingID := ""
			if entry.BookingID != nil {
				bookingID = *entry.BookingID
			}
			return s.invariantViolation(bookingID, err)
		}
		return err
	}
	return nil
}

func (s *WalletService) invariantViolation(bookingID string, err error) error {
	s.logger.Error("ledger invariant violated",
		"booking_id", bookingID,
		"error", err.Error(),
	)
	return err
}

// EnsurePlatformWallet opens the platform wallet that collects commissions.
func (s *WalletService) EnsurePlatformWallet(ctx context.Context) (*models.WalletAccount, error) {
	wallet, err := s.store.GetWalletByOwner(ctx, s.platformOwnerID, models.OwnerTypePlatform)
	if err == nil {
		return wallet, nil
	}
	if !errors.IsNotFound(err) {
		return nil, err
	}

	wallet = &models.WalletAccount{OwnerID: s.platformOwnerID, OwnerType: models.OwnerTypePlatform}
	if err := s.store.CreateWallet(ctx, wallet); err != nil {
		if errors.IsAlreadyExists(err) {
			return s.store.GetWalletByOwner(ctx, s.platformOwnerID, models.OwnerTypePlatform)
		}
		return nil, err
	}
	s.logger.Info("platform wallet created", "wallet_id", wallet.ID, "owner_id", wallet.OwnerID)
	return wallet, nil
}

// OpenWallet creates an actor's wallet at onboarding.
func (s *WalletService) OpenWallet(ctx context.Context, actor models.Actor, req *models.OpenWalletRequest) (*models.WalletAccount, error) {
	wallet, err := s.openWallet(ctx, actor, req)

	entityID := ""
	payload := models.WalletSnapshot{}
	if wallet != nil {
		entityID = wallet.ID
		payload.WalletID = wallet.ID
	}
	if err != nil {
		payload.Error = err.Error()
	}
	s.audit.Record(ctx, newAuditEntry(models.AuditActionOpenWallet, actor, models.EntityTypeWallet, entityID,
		fmt.Sprintf("open %s wallet for %s", req.OwnerType, req.OwnerID), payload, err))
	return wallet, err
}

func (s *WalletService) openWallet(ctx context.Context, actor models.Actor, req *models.OpenWalletRequest) (*models.WalletAccount, error) {
	if err := requireActor(actor); err != nil {
		return nil, err
	}
	if strings.TrimSpace(req.OwnerID) == "" {
		return nil, errors.NewValidationError("owner_id", "must be non-empty")
	}
	if !req.OwnerType.Valid() {
		return nil, errors.NewValidationError("owner_type", "must be customer, model or platform")
	}
	if actor.Role != models.RoleAdmin {
		if req.OwnerType == models.OwnerTypePlatform || actor.ID != req.OwnerID || string(actor.Role) != string(req.OwnerType) {
			return nil, errors.NewUnauthorizedActorError(actor.ID, req.OwnerID)
		}
	}

	wallet := &models.WalletAccount{OwnerID: req.OwnerID, OwnerType: req.OwnerType}
	if err := s.store.CreateWallet(ctx, wallet); err != nil {
		if errors.IsAlreadyExists(err) {
			s.logger.Warn("wallet already exists",
				"owner_id", req.OwnerID,
				"owner_type", req.OwnerType,
			)
			return nil, err
		}
		return nil, s.processingError("open wallet", err, "owner_id", req.OwnerID)
	}

	s.logger.Info("wallet opened successfully",
		"wallet_id", wallet.ID,
		"owner_id", wallet.OwnerID,
		"owner_type", wallet.OwnerType,
	)
	return wallet, nil
}

// TopUp records a deposit awaiting manual review of proofURL. The balance is
// not credited until ApproveDeposit.
func (s *WalletService) TopUp(ctx context.Context, actor models.Actor, walletID string, amount int64, proofURL string) (*models.LedgerEntry, error) {
	entry, wallet, err := s.topUp(ctx, actor, walletID, amount, proofURL)
	monitoring.TrackLedgerOperation(string(models.LedgerEntryDeposit), string(errors.KindOf(err)), 0)
	s.audit.Record(ctx, newAuditEntry(models.AuditActionTopUp, actor, models.EntityTypeWallet, walletID,
		fmt.Sprintf("deposit of %d pending review", amount), walletSnapshot(walletID, entry, wallet, amount, err), err))
	return entry, err
}

func (s *WalletService) topUp(ctx context.Context, actor models.Actor, walletID string, amount int64, proofURL string) (*models.LedgerEntry, *models.WalletAccount, error) {
	if err := requireActor(actor); err != nil {
		return nil, nil, err
	}
	if amount <= 0 {
		return nil, nil, errors.ErrInvalidAmount
	}
	if strings.TrimSpace(proofURL) == "" {
		return nil, nil, errors.NewValidationError("proof_url", "must be non-empty")
	}

	var (
		entry  *models.LedgerEntry
		wallet *models.WalletAccount
	)
	err := s.store.WithinTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		w, err := tx.GetWalletForUpdate(ctx, walletID)
		if err != nil {
			return err
		}
		if err := authorizeWallet(actor, w); err != nil {
			return err
		}
		proof := proofURL
		e := &models.LedgerEntry{
			WalletID: w.ID,
			Type:     models.LedgerEntryDeposit,
			Amount:   amount,
			ProofRef: &proof,
			Status:   models.LedgerEntryPending,
		}
		if err := tx.CreateLedgerEntry(ctx, e); err != nil {
			return err
		}
		entry, wallet = e, w
		return nil
	})
	if err != nil {
		return nil, nil, s.classify("top up wallet", err, "wallet_id", walletID)
	}

	s.logger.Info("deposit recorded, pending review",
		"wallet_id", walletID,
		"entry_id", entry.ID,
		"amount", amount,
	)
	return entry, wallet, nil
}

// ApproveDeposit credits a pending deposit to its wallet.
func (s *WalletService) ApproveDeposit(ctx context.Context, actor models.Actor, entryID string) (*models.LedgerEntry, error) {
	return s.reviewDeposit(ctx, actor, entryID, models.LedgerEntryApproved)
}

// RejectDeposit closes a pending deposit without crediting anything.
func (s *WalletService) RejectDeposit(ctx context.Context, actor models.Actor, entryID string) (*models.LedgerEntry, error) {
	return s.reviewDeposit(ctx, actor, entryID, models.LedgerEntryRejected)
}

func (s *WalletService) reviewDeposit(ctx context.Context, actor models.Actor, entryID string, decision models.LedgerEntryStatus) (*models.LedgerEntry, error) {
	action := models.AuditActionApproveDeposit
	if decision == models.LedgerEntryRejected {
		action = models.AuditActionRejectDeposit
	}

	entry, wallet, err := s.doReviewDeposit(ctx, actor, entryID, action, decision)

	var amount int64
	walletID := ""
	if entry != nil {
		amount = entry.Amount
		walletID = entry.WalletID
	}
	s.audit.Record(ctx, newAuditEntry(action, actor, models.EntityTypeLedgerEntry, entryID,
		fmt.Sprintf("deposit %s", decision), walletSnapshot(walletID, entry, wallet, amount, err), err))
	return entry, err
}

func (s *WalletService) doReviewDeposit(ctx context.Context, actor models.Actor, entryID, action string, decision models.LedgerEntryStatus) (*models.LedgerEntry, *models.WalletAccount, error) {
	if err := requireActor(actor); err != nil {
		return nil, nil, err
	}
	if actor.Role != models.RoleAdmin {
		return nil, nil, errors.NewUnauthorizedActorError(actor.ID, entryID)
	}
	if entryID == "" {
		return nil, nil, errors.NewValidationError("entry_id", "must be non-empty")
	}

	var (
		entry  *models.LedgerEntry
		wallet *models.WalletAccount
	)
	err := s.store.WithinTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		e, err := tx.GetLedgerEntryForUpdate(ctx, entryID)
		if err != nil {
			return err
		}
		if e.Type != models.LedgerEntryDeposit || e.Status != models.LedgerEntryPending {
			return errors.NewTransitionError(string(e.Status), action, "only pending deposits can be reviewed")
		}

		w, err := tx.GetWalletForUpdate(ctx, e.WalletID)
		if err != nil {
			return err
		}
		if decision == models.LedgerEntryApproved {
			if err := tx.UpdateWalletBalances(ctx, w.ID, w.Balance+e.Amount, w.HeldBalance); err != nil {
				return err
			}
			w.Balance += e.Amount
		}

		reviewedAt := s.now()
		if err := tx.UpdateLedgerEntryStatus(ctx, e.ID, decision, reviewedAt); err != nil {
			return err
		}
		e.Status = decision
		e.ReviewedAt = &reviewedAt
		entry, wallet = e, w
		return nil
	})
	if err != nil {
		return nil, nil, s.classify("review deposit", err, "entry_id", entryID)
	}

	var credited int64
	if decision == models.LedgerEntryApproved {
		credited = entry.Amount
	}
	monitoring.TrackLedgerOperation(string(models.LedgerEntryDeposit)+"_"+string(decision), "", credited)
	s.logger.Info("deposit reviewed",
		"entry_id", entry.ID,
		"wallet_id", entry.WalletID,
		"decision", decision,
	)
	return entry, wallet, nil
}

// Deduct debits the wallet directly for a non-booking purchase.
func (s *WalletService) Deduct(ctx context.Context, actor models.Actor, walletID string, amount int64, reason string) (*models.LedgerEntry, error) {
	entry, wallet, err := s.deduct(ctx, actor, walletID, amount, reason)
	monitoring.TrackLedgerOperation(string(models.LedgerEntryWithdrawal), string(errors.KindOf(err)), amount)
	s.audit.Record(ctx, newAuditEntry(models.AuditActionDeduct, actor, models.EntityTypeWallet, walletID,
		fmt.Sprintf("deduct %d: %s", amount, reason), walletSnapshot(walletID, entry, wallet, amount, err), err))
	return entry, err
}

func (s *WalletService) deduct(ctx context.Context, actor models.Actor, walletID string, amount int64, reason string) (*models.LedgerEntry, *models.WalletAccount, error) {
	if err := requireActor(actor); err != nil {
		return nil, nil, err
	}
	if amount <= 0 {
		return nil, nil, errors.ErrInvalidAmount
	}
	if strings.TrimSpace(reason) == "" {
		return nil, nil, errors.NewValidationError("reason", "must be non-empty")
	}

	var (
		entry  *models.LedgerEntry
		wallet *models.WalletAccount
	)
	err := s.store.WithinTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		w, err := tx.GetWalletForUpdate(ctx, walletID)
		if err != nil {
			return err
		}
		if err := authorizeWallet(actor, w); err != nil {
			return err
		}
		if w.Balance < amount {
			s.logger.Warn("insufficient balance for deduction",
				"wallet_id", w.ID,
				"available_balance", w.Balance,
				"requested_amount", amount,
			)
			return errors.ErrInsufficientBalance
		}

		e := &models.LedgerEntry{
			WalletID: w.ID,
			Type:     models.LedgerEntryWithdrawal,
			Amount:   amount,
			Reason:   reason,
			Status:   models.LedgerEntryApproved,
		}
		if err := tx.CreateLedgerEntry(ctx, e); err != nil {
			return err
		}
		if err := tx.UpdateWalletBalances(ctx, w.ID, w.Balance-amount, w.HeldBalance); err != nil {
			return err
		}
		w.Balance -= amount
		entry, wallet = e, w
		return nil
	})
	if err != nil {
		return nil, nil, s.classify("deduct wallet", err, "wallet_id", walletID)
	}
	return entry, wallet, nil
}

func (s *WalletService) GetWallet(ctx context.Context, actor models.Actor, walletID string) (*models.WalletAccount, error) {
	if err := requireActor(actor); err != nil {
		return nil, err
	}
	wallet, err := s.store.GetWalletByID(ctx, walletID)
	if err != nil {
		return nil, s.classify("get wallet", err, "wallet_id", walletID)
	}
	if err := authorizeWallet(actor, wallet); err != nil {
		return nil, err
	}
	return wallet, nil
}

func (s *WalletService) GetLedger(ctx context.Context, actor models.Actor, walletID string) ([]*models.LedgerEntry, error) {
	if _, err := s.GetWallet(ctx, actor, walletID); err != nil {
		return nil, err
	}
	entries, err := s.store.ListLedgerEntriesByWallet(ctx, walletID)
	if err != nil {
		return nil, s.classify("get ledger", err, "wallet_id", walletID)
	}
	return entries, nil
}

// classify passes expected errors through and wraps everything else.
func (s *WalletService) classify(operation string, err error, args ...any) error {
	if errors.IsExpected(err) || errors.IsProcessing(err) {
		return err
	}
	return s.processingError(operation, err, args...)
}

func (s *WalletService) processingError(operation string, err error, args ...any) error {
	s.logger.Error("failed to "+operation, append(args, "error", err.Error())...)
	return errors.NewProcessingError(operation, err)
}

func walletSnapshot(walletID string, entry *models.LedgerEntry, wallet *models.WalletAccount, amount int64, err error) models.WalletSnapshot {
	snap := models.WalletSnapshot{WalletID: walletID, Amount: amount}
	if entry != nil {
		snap.EntryID = entry.ID
	}
	if wallet != nil {
		snap.Balance = wallet.Balance
		snap.HeldBalance = wallet.HeldBalance
	}
	if err != nil {
		snap.Error = err.Error()
	}
	return snap
}

func requireActor(actor models.Actor) error {
	if strings.TrimSpace(actor.ID) == "" || actor.Role == "" {
		return errors.ErrMissingActorIdentity
	}
	return nil
}

// authorizeWallet allows the wallet's owner and admins.
func authorizeWallet(actor models.Actor, wallet *models.WalletAccount) error {
	if actor.Role == models.RoleAdmin || actor.Role == models.RoleSystem {
		return nil
	}
	if actor.ID == wallet.OwnerID && string(actor.Role) == string(wallet.OwnerType) {
		return nil
	}
	return errors.NewUnauthorizedActorError(actor.ID, wallet.ID)
}
