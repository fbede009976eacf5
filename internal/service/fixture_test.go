package service

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/riteshkumar/booking-escrow/internal/events"
	"github.com/riteshkumar/booking-escrow/internal/models"
	"github.com/riteshkumar/booking-escrow/internal/repository"
	"github.com/riteshkumar/booking-escrow/internal/repository/memory"
)

const (
	customerID = "cust-1"
	modelID    = "model-1"
	platformID = "platform"
)

var (
	admin       = models.Actor{ID: "admin-1", Role: models.RoleAdmin}
	customer    = models.Actor{ID: customerID, Role: models.RoleCustomer}
	model       = models.Actor{ID: modelID, Role: models.RoleModel}
	venue       = models.Location{Address: "Sukhumvit 11, Bangkok", Latitude: 13.7443, Longitude: 100.5554}
	atVenue     = models.Coordinates{Latitude: venue.Latitude, Longitude: venue.Longitude}
	defaultTime = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []events.BookingEvent
}

func (p *recordingPublisher) Publish(_ context.Context, event events.BookingEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return nil
}

func (p *recordingPublisher) Events() []events.BookingEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]events.BookingEvent(nil), p.events...)
}

type fixture struct {
	t         *testing.T
	ctx       context.Context
	store     repository.Store
	auditRepo *memory.AuditRepository
	clock     *fakeClock
	publisher *recordingPublisher
	wallets   *WalletService
	bookings  *BookingService
	checkIns  *CheckInService

	customerWallet *models.WalletAccount
	modelWallet    *models.WalletAccount
	platformWallet *models.WalletAccount
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	return newFixtureWith(t, memory.NewStore(), memory.NewAuditRepository())
}

// newFixtureWith builds the services over store and opens the three wallets
// every booking needs.
func newFixtureWith(t *testing.T, store repository.Store, auditRepo repository.AuditRepository) *fixture {
	t.Helper()

	clock := &fakeClock{now: defaultTime}
	logger := discardLogger()
	publisher := &recordingPublisher{}
	audit := NewAuditLogger(auditRepo, logger)

	wallets := NewWalletService(store, audit, decimal.RequireFromString("0.20"), platformID, logger, WithClock(clock.Now))
	bookings := NewBookingService(store, wallets, audit, publisher, BookingRules{
		ConfirmationWindow: 48 * time.Hour,
		CheckInTimeout:     2 * time.Hour,
	}, logger, WithClock(clock.Now))
	checkIns := NewCheckInService(store, bookings, audit, CheckInRules{
		RadiusMeters: 200,
		LeadTime:     time.Hour,
		ClockSkew:    2 * time.Minute,
	}, logger, WithClock(clock.Now))

	f := &fixture{
		t:         t,
		ctx:       context.Background(),
		store:     store,
		clock:     clock,
		publisher: publisher,
		wallets:   wallets,
		bookings:  bookings,
		checkIns:  checkIns,
	}
	if repo, ok := auditRepo.(*memory.AuditRepository); ok {
		f.auditRepo = repo
	}

	var err error
	f.platformWallet, err = wallets.EnsurePlatformWallet(f.ctx)
	require.NoError(t, err)
	f.customerWallet = f.openWallet(customerID, models.OwnerTypeCustomer)
	f.modelWallet = f.openWallet(modelID, models.OwnerTypeModel)
	return f
}

func (f *fixture) openWallet(ownerID string, ownerType models.OwnerType) *models.WalletAccount {
	f.t.Helper()
	w, err := f.wallets.OpenWallet(f.ctx, admin, &models.OpenWalletRequest{OwnerID: ownerID, OwnerType: ownerType})
	require.NoError(f.t, err)
	return w
}

// fund tops up a wallet and approves the deposit.
func (f *fixture) fund(walletID string, amount int64) {
	f.t.Helper()
	entry, err := f.wallets.TopUp(f.ctx, admin, walletID, amount, "https://proofs.example/slip.png")
	require.NoError(f.t, err)
	_, err = f.wallets.ApproveDeposit(f.ctx, admin, entry.ID)
	require.NoError(f.t, err)
}

func (f *fixture) wallet(id string) *models.WalletAccount {
	f.t.Helper()
	w, err := f.store.GetWalletByID(f.ctx, id)
	require.NoError(f.t, err)
	return w
}

func (f *fixture) bookingRequest(price int64) *models.CreateBookingRequest {
	return &models.CreateBookingRequest{
		CustomerID:     customerID,
		ModelID:        modelID,
		ModelServiceID: "svc-dinner",
		Price:          price,
		DayAmount:      1,
		Location:       venue,
		StartDate:      f.clock.Now().Add(24 * time.Hour),
	}
}

func (f *fixture) createBooking(price int64) *models.Booking {
	f.t.Helper()
	b, err := f.bookings.CreateBooking(f.ctx, customer, f.bookingRequest(price))
	require.NoError(f.t, err)
	return b
}

func (f *fixture) transition(bookingID string, actor models.Actor, action models.Action) *models.Booking {
	f.t.Helper()
	b, err := f.bookings.Transition(f.ctx, bookingID, actor, action)
	require.NoError(f.t, err)
	return b
}

// inProgress drives a new booking to in_progress through check-ins at the venue.
func (f *fixture) inProgress(price int64) *models.Booking {
	f.t.Helper()
	b := f.createBooking(price)
	f.transition(b.ID, model, models.ActionAccept)
	f.clock.Set(b.StartDate)
	_, err := f.checkIns.CheckIn(f.ctx, b.ID, customer, atVenue, time.Time{})
	require.NoError(f.t, err)
	started, err := f.checkIns.CheckIn(f.ctx, b.ID, model, atVenue, time.Time{})
	require.NoError(f.t, err)
	require.Equal(f.t, models.BookingStatusInProgress, started.Status)
	return started
}

func (f *fixture) ledgerTypes(bookingID string) []models.LedgerEntryType {
	f.t.Helper()
	entries, err := f.store.ListLedgerEntriesByBooking(f.ctx, bookingID)
	require.NoError(f.t, err)
	types := make([]models.LedgerEntryType, 0, len(entries))
	for _, e := range entries {
		types = append(types, e.Type)
	}
	return types
}

func (f *fixture) bookingAudit(bookingID string) []*models.AuditLog {
	f.t.Helper()
	logs, err := f.auditRepo.ListByEntity(f.ctx, models.EntityTypeBooking, bookingID)
	require.NoError(f.t, err)
	return logs
}

// counterValue reads a counter series from the default registry. A series
// that was never touched reads as zero.
func counterValue(t *testing.T, name string, labels map[string]string) float64 {
	t.Helper()
	families, err := prometheus.DefaultGatherer.Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
	series:
		for _, m := range mf.GetMetric() {
			for _, lp := range m.GetLabel() {
				if labels[lp.GetName()] != lp.GetValue() {
					continue series
				}
			}
			return m.GetCounter().GetValue()
		}
	}
	return 0
}

func ledgerOps(t *testing.T, entryType models.LedgerEntryType, outcome string) float64 {
	t.Helper()
	return counterValue(t, "escrow_ledger_operations_total", map[string]string{"type": string(entryType), "outcome": outcome})
}

func ledgerAmount(t *testing.T, entryType models.LedgerEntryType) float64 {
	t.Helper()
	return counterValue(t, "escrow_ledger_amount_minor_units_total", map[string]string{"type": string(entryType)})
}
