package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/riteshkumar/booking-escrow/internal/models"
	u "github.com/riteshkumar/booking-escrow/internal/utils"
)

type WalletService interface {
	OpenWallet(ctx context.Context, actor models.Actor, req *models.OpenWalletRequest) (*models.WalletAccount, error)
	GetWallet(ctx context.Context, actor models.Actor, walletID string) (*models.WalletAccount, error)
	GetLedger(ctx context.Context, actor models.Actor, walletID string) ([]*models.LedgerEntry, error)
	TopUp(ctx context.Context, actor models.Actor, walletID string, amount int64, proofURL string) (*models.LedgerEntry, error)
	Deduct(ctx context.Context, actor models.Actor, walletID string, amount int64, reason string) (*models.LedgerEntry, error)
	ApproveDeposit(ctx context.Context, actor models.Actor, entryID string) (*models.LedgerEntry, error)
	RejectDeposit(ctx context.Context, actor models.Actor, entryID string) (*models.LedgerEntry, error)
}

type WalletHandler struct {
	walletService WalletService
	logger        *slog.Logger
}

func NewWalletHandler(walletService WalletService, logger *slog.Logger) *WalletHandler {
	return &WalletHandler{
		walletService: walletService,
		logger:        logger,
	}
}

func (h *WalletHandler) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/wallets", h.OpenWallet).Methods(http.MethodPost)
	router.HandleFunc("/wallets/{id}", h.GetWallet).Methods(http.MethodGet)
	router.HandleFunc("/wallets/{id}/ledger", h.GetLedger).Methods(http.MethodGet)
	router.HandleFunc("/wallets/{id}/top-ups", h.TopUp).Methods(http.MethodPost)
	router.HandleFunc("/wallets/{id}/deductions", h.Deduct).Methods(http.MethodPost)
	router.HandleFunc("/ledger-entries/{id}/approve", h.ApproveDeposit).Methods(http.MethodPost)
	router.HandleFunc("/ledger-entries/{id}/reject", h.RejectDeposit).Methods(http.MethodPost)
}

func (h *WalletHandler) OpenWallet(w http.ResponseWriter, r *http.Request) {
	var req models.OpenWalletRequest
	if err := u.DecodeJSON(r, &req); err != nil {
		writeBadPayload(h.logger, w, err, "open wallet")
		return
	}

	wallet, err := h.walletService.OpenWallet(r.Context(), actorFromContext(r.Context()), &req)
	if err != nil {
		handleServiceError(h.logger, w, err, "open wallet")
		return
	}

	u.WriteJSON(w, http.StatusCreated, wallet)
}

func (h *WalletHandler) GetWallet(w http.ResponseWriter, r *http.Request) {
	wallet, err := h.walletService.GetWallet(r.Context(), actorFromContext(r.Context()), mux.Vars(r)["id"])
	if err != nil {
		handleServiceError(h.logger, w, err, "get wallet")
		return
	}

	u.WriteJSON(w, http.StatusOK, wallet)
}

func (h *WalletHandler) GetLedger(w http.ResponseWriter, r *http.Request) {
	entries, err := h.walletService.GetLedger(r.Context(), actorFromContext(r.Context()), mux.Vars(r)["id"])
	if err != nil {
		handleServiceError(h.logger, w, err, "get ledger")
		return
	}
	if entries == nil {
		entries = []*models.LedgerEntry{}
	}

	u.WriteJSON(w, http.StatusOK, entries)
}

func (h *WalletHandler) TopUp(w http.ResponseWriter, r *http.Request) {
	var req models.TopUpRequest
	if err := u.DecodeJSON(r, &req); err != nil {
		writeBadPayload(h.logger, w, err, "top up")
		return
	}

	entry, err := h.walletService.TopUp(r.Context(), actorFromContext(r.Context()), mux.Vars(r)["id"], req.Amount, req.ProofURL)
	if err != nil {
		handleServiceError(h.logger, w, err, "top up wallet")
		return
	}

	u.WriteJSON(w, http.StatusAccepted, entry)
}

func (h *WalletHandler) Deduct(w http.ResponseWriter, r *http.Request) {
	var req models.DeductRequest
	if err := u.DecodeJSON(r, &req); err != nil {
		writeBadPayload(h.logger, w, err, "deduct")
		return
	}

	entry, err := h.walletService.Deduct(r.Context(), actorFromContext(r.Context()), mux.Vars(r)["id"], req.Amount, req.Reason)
	if err != nil {
		handleServiceError(h.logger, w, err, "deduct wallet")
		return
	}

	u.WriteJSON(w, http.StatusCreated, entry)
}

func (h *WalletHandler) ApproveDeposit(w http.ResponseWriter, r *http.Request) {
	entry, err := h.walletService.ApproveDeposit(r.Context(), actorFromContext(r.Context()), mux.Vars(r)["id"])
	if err != nil {
		handleServiceError(h.logger, w, err, "approve deposit")
		return
	}

	u.WriteJSON(w, http.StatusOK, entry)
}

func (h *WalletHandler) RejectDeposit(w http.ResponseWriter, r *http.Request) {
	entry, err := h.walletService.RejectDeposit(r.Context(), actorFromContext(r.Context()), mux.Vars(r)["id"])
	if err != nil {
		handleServiceError(h.logger, w, err, "reject deposit")
		return
	}

	u.WriteJSON(w, http.StatusOK, entry)
}
