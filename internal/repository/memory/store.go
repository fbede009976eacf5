// Package memory is an in-process implementation of the repository interfaces,
// used for local runs (STORAGE_DRIVER=memory) and tests.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/riteshkumar/booking-escrow/internal/errors"
	"github.com/riteshkumar/booking-escrow/internal/models"
	"github.com/riteshkumar/booking-escrow/internal/repository"
)

type state struct {
	bookings     map[string]*models.Booking
	bookingOrder []string
	wallets      map[string]*models.WalletAccount
	entries      map[string]*models.LedgerEntry
	entryOrder   []string
}

func newState() *state {
	return &state{
		bookings: make(map[string]*models.Booking),
		wallets:  make(map[string]*models.WalletAccount),
		entries:  make(map[string]*models.LedgerEntry),
	}
}

func (s *state) clone() *state {
	c := &state{
		bookings:     make(map[string]*models.Booking, len(s.bookings)),
		bookingOrder: append([]string(nil), s.bookingOrder...),
		wallets:      make(map[string]*models.WalletAccount, len(s.wallets)),
		entries:      make(map[string]*models.LedgerEntry, len(s.entries)),
		entryOrder:   append([]string(nil), s.entryOrder...),
	}
	for id, b := range s.bookings {
		c.bookings[id] = b.Clone()
	}
	for id, w := range s.wallets {
		wc := *w
		c.wallets[id] = &wc
	}
	for id, e := range s.entries {
		c.entries[id] = cloneEntry(e)
	}
	return c
}

func cloneEntry(e *models.LedgerEntry) *models.LedgerEntry {
	c := *e
	if e.BookingID != nil {
		v := *e.BookingID
		c.BookingID = &v
	}
	if e.ProofRef != nil {
		v := *e.ProofRef
		c.ProofRef = &v
	}
	if e.ReviewedAt != nil {
		v := *e.ReviewedAt
		c.ReviewedAt = &v
	}
	return &c
}

// Store keeps all rows in memory. Transactions are serialized and run against
// a copy of the state that replaces the live state on commit.
type Store struct {
	txMu  sync.Mutex
	mu    sync.RWMutex
	state *state
	now   func() time.Time
}

func NewStore() *Store {
	return &Store{state: newState(), now: func() time.Time { return time.Now().UTC() }}
}

var _ repository.Store = (*Store)(nil)

func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context, tx repository.Tx) error) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()

	if err := ctx.Err(); err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	s.mu.RLock()
	working := s.state.clone()
	s.mu.RUnlock()

	if err := fn(ctx, &tx{state: working, now: s.now}); err != nil {
		return err
	}

	s.mu.Lock()
	s.state = working
	s.mu.Unlock()
	return nil
}

func (s *Store) GetBookingByID(ctx context.Context, id string) (*models.Booking, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.state.bookings[id]
	if !ok {
		return nil, errors.ErrBookingNotFound
	}
	return b.Clone(), nil
}

func (s *Store) ListBookingsByActor(ctx context.Context, actorID string) ([]*models.Booking, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.Booking
	for i := len(s.state.bookingOrder) - 1; i >= 0; i-- {
		b := s.state.bookings[s.state.bookingOrder[i]]
		if b.CustomerID == actorID || b.ModelID == actorID {
			out = append(out, b.Clone())
		}
	}
	return out, nil
}

func (s *Store) ListAwaitingPastDeadline(ctx context.Context, now time.Time, limit int) ([]string, error) {
	return s.listDue(models.BookingStatusAwaitingConfirmation, limit, func(b *models.Booking) (time.Time, bool) {
		if b.ConfirmationDeadline == nil {
			return time.Time{}, false
		}
		return *b.ConfirmationDeadline, !b.ConfirmationDeadline.After(now)
	})
}

func (s *Store) ListCheckInExpired(ctx context.Context, now time.Time, limit int) ([]string, error) {
	return s.listDue(models.BookingStatusConfirmed, limit, func(b *models.Booking) (time.Time, bool) {
		return b.CheckInDeadline, !b.CheckInDeadline.After(now)
	})
}

func (s *Store) listDue(status models.BookingStatus, limit int, due func(*models.Booking) (time.Time, bool)) ([]string, error) {
	s.mu.RLock()
	type candidate struct {
		id       string
		deadline time.Time
	}
	var found []candidate
	for _, id := range s.state.bookingOrder {
		b := s.state.bookings[id]
		if b.Status != status {
			continue
		}
		if deadline, ok := due(b); ok {
			found = append(found, candidate{id: id, deadline: deadline})
		}
	}
	s.mu.RUnlock()

	sort.SliceStable(found, func(i, j int) bool { return found[i].deadline.Before(found[j].deadline) })
	if limit > 0 && len(found) > limit {
		found = found[:limit]
	}
	ids := make([]string, 0, len(found))
	for _, c := range found {
		ids = append(ids, c.id)
	}
	return ids, nil
}

func (s *Store) CreateWallet(ctx context.Context, wallet *models.WalletAccount) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, w := range s.state.wallets {
		if w.OwnerID == wallet.OwnerID && w.OwnerType == wallet.OwnerType {
			return errors.ErrWalletAlreadyExists
		}
	}
	if wallet.ID == "" {
		wallet.ID = uuid.New().String()
	}
	now := s.now()
	wallet.CreatedAt, wallet.UpdatedAt = now, now
	stored := *wallet
	s.state.wallets[wallet.ID] = &stored
	return nil
}

func (s *Store) GetWalletByID(ctx context.Context, id string) (*models.WalletAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	w, ok := s.state.wallets[id]
	if !ok {
		return nil, errors.ErrWalletNotFound
	}
	out := *w
	return &out, nil
}

func (s *Store) GetWalletByOwner(ctx context.Context, ownerID string, ownerType models.OwnerType) (*models.WalletAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	w := s.state.walletByOwner(ownerID, ownerType)
	if w == nil {
		return nil, errors.ErrWalletNotFound
	}
	out := *w
	return &out, nil
}

func (s *state) walletByOwner(ownerID string, ownerType models.OwnerType) *models.WalletAccount {
	for _, w := range s.wallets {
		if w.OwnerID == ownerID && w.OwnerType == ownerType {
			return w
		}
	}
	return nil
}

func (s *Store) ListLedgerEntriesByWallet(ctx context.Context, walletID string) ([]*models.LedgerEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.LedgerEntry
	for i := len(s.state.entryOrder) - 1; i >= 0; i-- {
		e := s.state.entries[s.state.entryOrder[i]]
		if e.WalletID == walletID {
			out = append(out, cloneEntry(e))
		}
	}
	return out, nil
}

func (s *Store) ListLedgerEntriesByBooking(ctx context.Context, bookingID string) ([]*models.LedgerEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.LedgerEntry
	for _, id := range s.state.entryOrder {
		e := s.state.entries[id]
		if e.BookingID != nil && *e.BookingID == bookingID {
			out = append(out, cloneEntry(e))
		}
	}
	return out, nil
}

type tx struct {
	state *state
	now   func() time.Time
}

func (t *tx) GetBookingForUpdate(ctx context.Context, id string) (*models.Booking, error) {
	b, ok := t.state.bookings[id]
	if !ok {
		return nil, errors.ErrBookingNotFound
	}
	return b.Clone(), nil
}

func (t *tx) CreateBooking(ctx context.Context, booking *models.Booking) error {
	if _, ok := t.state.bookings[booking.ID]; ok {
		return fmt.Errorf("failed to create booking: duplicate id %s", booking.ID)
	}
	now := t.now()
	booking.CreatedAt, booking.UpdatedAt = now, now
	t.state.bookings[booking.ID] = booking.Clone()
	t.state.bookingOrder = append(t.state.bookingOrder, booking.ID)
	return nil
}

func (t *tx) UpdateBooking(ctx context.Context, booking *models.Booking) error {
	existing, ok := t.state.bookings[booking.ID]
	if !ok {
		return errors.ErrBookingNotFound
	}
	booking.UpdatedAt = t.now()
	changed := booking.Clone()
	updated := existing.Clone()
	updated.Status = changed.Status
	updated.CustomerCheckIn = changed.CustomerCheckIn
	updated.ModelCheckIn = changed.ModelCheckIn
	updated.ConfirmationDeadline = changed.ConfirmationDeadline
	updated.UpdatedAt = changed.UpdatedAt
	t.state.bookings[booking.ID] = updated
	return nil
}

func (t *tx) GetWalletForUpdate(ctx context.Context, id string) (*models.WalletAccount, error) {
	w, ok := t.state.wallets[id]
	if !ok {
		return nil, errors.ErrWalletNotFound
	}
	out := *w
	return &out, nil
}

func (t *tx) GetWalletByOwnerForUpdate(ctx context.Context, ownerID string, ownerType models.OwnerType) (*models.WalletAccount, error) {
	w := t.state.walletByOwner(ownerID, ownerType)
	if w == nil {
		return nil, errors.ErrWalletNotFound
	}
	out := *w
	return &out, nil
}

// UpdateWalletBalances mirrors the CHECK constraints of the SQL schema.
func (t *tx) UpdateWalletBalances(ctx context.Context, id string, balance, heldBalance int64) error {
	w, ok := t.state.wallets[id]
	if !ok {
		return errors.ErrWalletNotFound
	}
	if balance < 0 || heldBalance < 0 {
		return fmt.Errorf("%w: wallet %s", errors.ErrInsufficientBalance, id)
	}
	w.Balance = balance
	w.HeldBalance = heldBalance
	w.UpdatedAt = t.now()
	return nil
}

func (t *tx) CreateLedgerEntry(ctx context.Context, entry *models.LedgerEntry) error {
	if entry.BookingID != nil {
		for _, e := range t.state.entries {
			if e.BookingID != nil && *e.BookingID == *entry.BookingID && e.Type == entry.Type {
				return fmt.Errorf("%w: %s for booking", errors.ErrLedgerInvariant, entry.Type)
			}
		}
	}
	if _, ok := t.state.wallets[entry.WalletID]; !ok {
		return errors.ErrWalletNotFound
	}
	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}
	entry.CreatedAt = t.now()
	t.state.entries[entry.ID] = cloneEntry(entry)
	t.state.entryOrder = append(t.state.entryOrder, entry.ID)
	return nil
}

func (t *tx) GetLedgerEntryForUpdate(ctx context.Context, id string) (*models.LedgerEntry, error) {
	e, ok := t.state.entries[id]
	if !ok {
		return nil, errors.ErrLedgerEntryNotFound
	}
	return cloneEntry(e), nil
}

func (t *tx) UpdateLedgerEntryStatus(ctx context.Context, id string, status models.LedgerEntryStatus, reviewedAt time.Time) error {
	e, ok := t.state.entries[id]
	if !ok {
		return errors.ErrLedgerEntryNotFound
	}
	e.Status = status
	e.ReviewedAt = &reviewedAt
	return nil
}
