package service

import (
	"context"
	stderrors "errors"
	"fmt"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/riteshkumar/booking-escrow/internal/errors"
	"github.com/riteshkumar/booking-escrow/internal/events"
	"github.com/riteshkumar/booking-escrow/internal/models"
	"github.com/riteshkumar/booking-escrow/internal/repository"
	"github.com/riteshkumar/booking-escrow/internal/repository/memory"
)

func TestRejectRefundsHold(t *testing.T) {
	f := newFixture(t)
	f.fund(f.customerWallet.ID, 150000)

	b := f.createBooking(100000)
	assert.Equal(t, models.BookingStatusPending, b.Status)

	w := f.wallet(f.customerWallet.ID)
	assert.Equal(t, int64(50000), w.Balance)
	assert.Equal(t, int64(100000), w.HeldBalance)

	rejected := f.transition(b.ID, model, models.ActionReject)
	assert.Equal(t, models.BookingStatusRejected, rejected.Status)

	w = f.wallet(f.customerWallet.ID)
	assert.Equal(t, int64(150000), w.Balance)
	assert.Equal(t, int64(0), w.HeldBalance)

	assert.Len(t, f.bookingAudit(b.ID), 2)
	assert.Equal(t, []models.LedgerEntryType{models.LedgerEntryHold, models.LedgerEntryRefund}, f.ledgerTypes(b.ID))
}

func TestAutoCompleteReleasesAfterConfirmationWindow(t *testing.T) {
	f := newFixture(t)
	f.fund(f.customerWallet.ID, 100000)

	b := f.inProgress(100000)
	finished := f.transition(b.ID, model, models.ActionFinish)
	require.Equal(t, models.BookingStatusAwaitingConfirmation, finished.Status)
	require.NotNil(t, finished.ConfirmationDeadline)
	assert.Equal(t, f.clock.Now().Add(48*time.Hour), *finished.ConfirmationDeadline)

	// still inside the window
	f.clock.Advance(47 * time.Hour)
	_, err := f.bookings.Transition(f.ctx, b.ID, models.SystemActor(), models.ActionAutoComplete)
	assert.True(t, errors.IsTransitionError(err))

	f.clock.Advance(time.Hour + time.Second)
	completed := f.transition(b.ID, models.SystemActor(), models.ActionAutoComplete)
	assert.Equal(t, models.BookingStatusCompleted, completed.Status)
	assert.Nil(t, completed.ConfirmationDeadline)

	entries, err := f.store.ListLedgerEntriesByBooking(f.ctx, b.ID)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	release := entries[1]
	assert.Equal(t, models.LedgerEntryRelease, release.Type)
	assert.Equal(t, f.modelWallet.ID, release.WalletID)
	assert.Equal(t, int64(20000), release.PlatformFee)

	modelWallet := f.wallet(f.modelWallet.ID)
	platformWallet := f.wallet(f.platformWallet.ID)
	customerWallet := f.wallet(f.customerWallet.ID)
	assert.Equal(t, int64(80000), modelWallet.Balance)
	assert.Equal(t, int64(20000), platformWallet.Balance)
	assert.Equal(t, b.Price, modelWallet.Balance+platformWallet.Balance)
	assert.Equal(t, int64(0), customerWallet.HeldBalance)
	assert.Equal(t, int64(0), customerWallet.Balance)
}

func TestConcurrentAcceptAndReject(t *testing.T) {
	f := newFixture(t)
	f.fund(f.customerWallet.ID, 10*50000)

	for i := 0; i < 10; i++ {
		b := f.createBooking(50000)

		var (
			wg    sync.WaitGroup
			start = make(chan struct{})
			errs  = make([]error, 2)
		)
		for j, action := range []models.Action{models.ActionAccept, models.ActionReject} {
			wg.Add(1)
			go func(j int, action models.Action) {
				defer wg.Done()
				<-start
				_, errs[j] = f.bookings.Transition(f.ctx, b.ID, model, action)
			}(j, action)
		}
		close(start)
		wg.Wait()

		succeeded := 0
		for _, err := range errs {
			if err == nil {
				succeeded++
				continue
			}
			assert.True(t, errors.IsTransitionError(err) || errors.IsStaleState(err), "unexpected error: %v", err)
		}
		assert.Equal(t, 1, succeeded)

		final, err := f.store.GetBookingByID(f.ctx, b.ID)
		require.NoError(t, err)
		types := f.ledgerTypes(b.ID)
		switch final.Status {
		case models.BookingStatusConfirmed:
			assert.Equal(t, []models.LedgerEntryType{models.LedgerEntryHold}, types)
		case models.BookingStatusRejected:
			assert.Equal(t, []models.LedgerEntryType{models.LedgerEntryHold, models.LedgerEntryRefund}, types)
		default:
			t.Fatalf("unexpected status %s", final.Status)
		}
		assert.Len(t, f.bookingAudit(b.ID), 3)
	}
}

func TestAcceptIsIdempotent(t *testing.T) {
	f := newFixture(t)
	f.fund(f.customerWallet.ID, 100000)
	b := f.createBooking(100000)

	confirmed := f.transition(b.ID, model, models.ActionAccept)
	assert.Equal(t, models.BookingStatusConfirmed, confirmed.Status)

	_, err := f.bookings.Transition(f.ctx, b.ID, model, models.ActionAccept)
	require.Error(t, err)
	assert.True(t, errors.IsTransitionError(err))
	assert.Equal(t, errors.KindTransition, errors.KindOf(err))

	assert.Equal(t, []models.LedgerEntryType{models.LedgerEntryHold}, f.ledgerTypes(b.ID))
	w := f.wallet(f.customerWallet.ID)
	assert.Equal(t, int64(100000), w.HeldBalance)

	logs := f.bookingAudit(b.ID)
	require.Len(t, logs, 3)
	assert.Equal(t, models.AuditStatusSuccess, logs[1].Status)
	assert.Equal(t, models.AuditStatusFailed, logs[2].Status)
	assert.Equal(t, models.TransitionAuditAction(models.ActionAccept), logs[2].Action)
}

func TestTransitionAuthorization(t *testing.T) {
	f := newFixture(t)
	f.fund(f.customerWallet.ID, 100000)
	b := f.createBooking(100000)

	tests := []struct {
		name   string
		actor  models.Actor
		action models.Action
		check  func(error) bool
	}{
		{"stranger customer", models.Actor{ID: "cust-2", Role: models.RoleCustomer}, models.ActionCancel, errors.IsUnauthorized},
		{"customer id with model role", models.Actor{ID: customerID, Role: models.RoleModel}, models.ActionAccept, errors.IsUnauthorized},
		{"admin is not a party", admin, models.ActionCancel, errors.IsUnauthorized},
		{"customer cannot accept", customer, models.ActionAccept, errors.IsTransitionError},
		{"model cannot cancel", model, models.ActionCancel, errors.IsTransitionError},
		{"system cannot finish", models.SystemActor(), models.ActionFinish, errors.IsTransitionError},
		{"dispute from pending", customer, models.ActionDispute, errors.IsTransitionError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.bookings.Transition(f.ctx, b.ID, tt.actor, tt.action)
			require.Error(t, err)
			assert.True(t, tt.check(err), "got %v", err)
		})
	}

	stored, err := f.store.GetBookingByID(f.ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, models.BookingStatusPending, stored.Status)
	assert.Len(t, f.bookingAudit(b.ID), 1+len(tests))
}

func TestTransitionFromTerminalStatus(t *testing.T) {
	f := newFixture(t)
	f.fund(f.customerWallet.ID, 1000)
	b := f.createBooking(1000)
	f.transition(b.ID, model, models.ActionReject)

	_, err := f.bookings.Transition(f.ctx, b.ID, model, models.ActionAccept)
	var tErr *errors.TransitionError
	require.True(t, stderrors.As(err, &tErr), "got %v", err)
	assert.Equal(t, "booking is already rejected", tErr.Reason)

	// a live status with no matching edge carries no reason
	_, err = lookupEdge(models.BookingStatusPending, models.ActionFinish, models.RoleModel)
	require.True(t, stderrors.As(err, &tErr), "got %v", err)
	assert.Empty(t, tErr.Reason)
}

func TestEffectNames(t *testing.T) {
	for eff, want := range map[effect]string{
		effectNone:        "none",
		effectRefund:      "refund",
		effectRelease:     "release",
		effectSetDeadline: "set_deadline",
		effectFreeze:      "freeze",
	} {
		assert.Equal(t, want, eff.String())
	}
}

func TestTransitionInputErrors(t *testing.T) {
	f := newFixture(t)

	_, err := f.bookings.Transition(f.ctx, "missing", model, models.ActionAccept)
	assert.Equal(t, errors.KindNotFound, errors.KindOf(err))

	_, err = f.bookings.Transition(f.ctx, "missing", model, models.Action("teleport"))
	assert.Equal(t, errors.KindValidation, errors.KindOf(err))

	_, err = f.bookings.Transition(f.ctx, "", model, models.ActionAccept)
	assert.Equal(t, errors.KindValidation, errors.KindOf(err))

	_, err = f.bookings.Transition(f.ctx, "missing", models.Actor{}, models.ActionAccept)
	assert.ErrorIs(t, err, errors.ErrMissingActorIdentity)
}

func TestCreateBooking(t *testing.T) {
	t.Run("insufficient balance leaves nothing behind", func(t *testing.T) {
		f := newFixture(t)
		f.fund(f.customerWallet.ID, 999)

		_, err := f.bookings.CreateBooking(f.ctx, customer, f.bookingRequest(1000))
		require.Error(t, err)
		assert.True(t, errors.IsInsufficientBalance(err))

		bookings, err := f.store.ListBookingsByActor(f.ctx, customerID)
		require.NoError(t, err)
		assert.Empty(t, bookings)

		w := f.wallet(f.customerWallet.ID)
		assert.Equal(t, int64(999), w.Balance)
		assert.Equal(t, int64(0), w.HeldBalance)

		all := f.auditRepo.All()
		last := all[len(all)-1]
		assert.Equal(t, models.AuditActionCreateBooking, last.Action)
		assert.Equal(t, models.AuditStatusFailed, last.Status)
	})

	t.Run("missing model wallet", func(t *testing.T) {
		f := newFixture(t)
		f.fund(f.customerWallet.ID, 1000)
		req := f.bookingRequest(1000)
		req.ModelID = "model-without-wallet"

		_, err := f.bookings.CreateBooking(f.ctx, customer, req)
		assert.True(t, errors.IsNotFound(err))
	})

	t.Run("only the named customer may book", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.bookings.CreateBooking(f.ctx, model, f.bookingRequest(1000))
		assert.True(t, errors.IsUnauthorized(err))
	})

	t.Run("end date and check-in deadline", func(t *testing.T) {
		f := newFixture(t)
		f.fund(f.customerWallet.ID, 1000)
		req := f.bookingRequest(1000)
		end := req.StartDate.Add(90 * time.Minute)
		req.EndDate = &end

		b, err := f.bookings.CreateBooking(f.ctx, customer, req)
		require.NoError(t, err)
		assert.Equal(t, end, b.EndDate)
		assert.Equal(t, end, b.CheckInDeadline)

		f.fund(f.customerWallet.ID, 1000)
		b2 := f.createBooking(1000)
		assert.Equal(t, b2.StartDate.AddDate(0, 0, 1), b2.EndDate)
		assert.Equal(t, b2.StartDate.Add(2*time.Hour), b2.CheckInDeadline)
	})

	t.Run("publishes created event", func(t *testing.T) {
		f := newFixture(t)
		f.fund(f.customerWallet.ID, 1000)
		b := f.createBooking(1000)

		evts := f.publisher.Events()
		require.Len(t, evts, 1)
		assert.Equal(t, events.TypeBookingCreated, evts[0].Type)
		assert.Equal(t, b.ID, evts[0].BookingID)
	})
}

func TestCreateBookingValidation(t *testing.T) {
	f := newFixture(t)
	f.fund(f.customerWallet.ID, 100000)

	tests := []struct {
		name   string
		mutate func(r *models.CreateBookingRequest)
		field  string
	}{
		{"zero price", func(r *models.CreateBookingRequest) { r.Price = 0 }, "price"},
		{"negative price", func(r *models.CreateBookingRequest) { r.Price = -5 }, "price"},
		{"no days", func(r *models.CreateBookingRequest) { r.DayAmount = 0 }, "day_amount"},
		{"no model", func(r *models.CreateBookingRequest) { r.ModelID = "" }, "model_id"},
		{"self booking", func(r *models.CreateBookingRequest) { r.ModelID = customerID }, "model_id"},
		{"no service", func(r *models.CreateBookingRequest) { r.ModelServiceID = " " }, "model_service_id"},
		{"no start", func(r *models.CreateBookingRequest) { r.StartDate = time.Time{} }, "start_date"},
		{"end before start", func(r *models.CreateBookingRequest) {
			end := r.StartDate.Add(-time.Hour)
			r.EndDate = &end
		}, "end_date"},
		{"latitude", func(r *models.CreateBookingRequest) { r.Location.Latitude = 91 }, "location.latitude"},
		{"longitude", func(r *models.CreateBookingRequest) { r.Location.Longitude = -181 }, "location.longitude"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := f.bookingRequest(1000)
			tt.mutate(req)

			_, err := f.bookings.CreateBooking(f.ctx, customer, req)
			var vErr *errors.ValidationError
			require.True(t, stderrors.As(err, &vErr), "got %v", err)
			assert.Equal(t, tt.field, vErr.Field)
		})
	}

	w := f.wallet(f.customerWallet.ID)
	assert.Equal(t, int64(100000), w.Balance)
}

func TestCreateBookingWithoutRequest(t *testing.T) {
	f := newFixture(t)
	f.fund(f.customerWallet.ID, 1000)

	require.NotPanics(t, func() {
		_, err := f.bookings.CreateBooking(f.ctx, customer, nil)
		var vErr *errors.ValidationError
		require.True(t, stderrors.As(err, &vErr), "got %v", err)
		assert.Equal(t, "request", vErr.Field)
	})

	w := f.wallet(f.customerWallet.ID)
	assert.Equal(t, int64(1000), w.Balance)
	assert.Equal(t, int64(0), w.HeldBalance)
}

func TestDispute(t *testing.T) {
	t.Run("customer inside the confirmation window freezes the hold", func(t *testing.T) {
		f := newFixture(t)
		f.fund(f.customerWallet.ID, 1000)
		b := f.inProgress(1000)
		f.transition(b.ID, model, models.ActionFinish)

		f.clock.Advance(47 * time.Hour)
		disputed := f.transition(b.ID, customer, models.ActionDispute)
		assert.Equal(t, models.BookingStatusDisputed, disputed.Status)
		assert.Nil(t, disputed.ConfirmationDeadline)

		w := f.wallet(f.customerWallet.ID)
		assert.Equal(t, int64(1000), w.HeldBalance)
		assert.Equal(t, []models.LedgerEntryType{models.LedgerEntryHold}, f.ledgerTypes(b.ID))

		_, err := f.bookings.Transition(f.ctx, b.ID, models.SystemActor(), models.ActionAutoComplete)
		assert.True(t, errors.IsTransitionError(err))
	})

	t.Run("customer after the window", func(t *testing.T) {
		f := newFixture(t)
		f.fund(f.customerWallet.ID, 1000)
		b := f.inProgress(1000)
		f.transition(b.ID, model, models.ActionFinish)

		f.clock.Advance(48 * time.Hour)
		_, err := f.bookings.Transition(f.ctx, b.ID, customer, models.ActionDispute)
		assert.ErrorIs(t, err, errors.ErrWindowExpired)
		assert.Equal(t, errors.KindWindowExpired, errors.KindOf(err))
	})

	t.Run("model cannot dispute awaiting confirmation", func(t *testing.T) {
		f := newFixture(t)
		f.fund(f.customerWallet.ID, 1000)
		b := f.inProgress(1000)
		f.transition(b.ID, model, models.ActionFinish)

		_, err := f.bookings.Transition(f.ctx, b.ID, model, models.ActionDispute)
		assert.True(t, errors.IsTransitionError(err))
	})

	t.Run("model disputes a confirmed booking", func(t *testing.T) {
		f := newFixture(t)
		f.fund(f.customerWallet.ID, 1000)
		b := f.createBooking(1000)
		f.transition(b.ID, model, models.ActionAccept)

		disputed := f.transition(b.ID, model, models.ActionDispute)
		assert.Equal(t, models.BookingStatusDisputed, disputed.Status)
		assert.Equal(t, int64(1000), f.wallet(f.customerWallet.ID).HeldBalance)
	})
}

func TestSettlementHappensOnce(t *testing.T) {
	f := newFixture(t)
	f.fund(f.customerWallet.ID, 1000)
	b := f.inProgress(1000)
	f.transition(b.ID, model, models.ActionFinish)
	f.transition(b.ID, customer, models.ActionConfirmCompletion)

	_, err := f.bookings.Transition(f.ctx, b.ID, customer, models.ActionConfirmCompletion)
	assert.True(t, errors.IsTransitionError(err))
	f.clock.Advance(72 * time.Hour)
	_, err = f.bookings.Transition(f.ctx, b.ID, models.SystemActor(), models.ActionAutoComplete)
	assert.True(t, errors.IsTransitionError(err))

	// a second release straight through the ledger is refused by the store
	err = f.store.WithinTx(f.ctx, func(ctx context.Context, tx repository.Tx) error {
		_, err := f.wallets.Release(ctx, tx, b.ID, f.customerWallet.ID, f.modelWallet.ID, 1000)
		return err
	})
	require.Error(t, err)

	assert.Equal(t, []models.LedgerEntryType{models.LedgerEntryHold, models.LedgerEntryRelease}, f.ledgerTypes(b.ID))
	assert.Equal(t, int64(800), f.wallet(f.modelWallet.ID).Balance)
	assert.Equal(t, int64(200), f.wallet(f.platformWallet.ID).Balance)
}

// TestTransitionGraphClosure drives bookings with random actions, actors and
// clock jumps and checks the booking and wallet invariants after every step.
func TestTransitionGraphClosure(t *testing.T) {
	actions := []models.Action{
		models.ActionAccept, models.ActionReject, models.ActionCancel, models.ActionStart,
		models.ActionFinish, models.ActionConfirmCompletion, models.ActionAutoComplete,
		models.ActionDispute, models.ActionExpireCheckIn,
	}
	actors := []models.Actor{customer, model, models.SystemActor()}

	for seed := int64(1); seed <= 25; seed++ {
		t.Run(fmt.Sprintf("seed %d", seed), func(t *testing.T) {
			rng := rand.New(rand.NewSource(seed))
			f := newFixture(t)
			const price = int64(7777)
			f.fund(f.customerWallet.ID, price)
			b := f.createBooking(price)

			for step := 0; step < 40; step++ {
				before, err := f.store.GetBookingByID(f.ctx, b.ID)
				require.NoError(t, err)

				actor := actors[rng.Intn(len(actors))]
				switch rng.Intn(5) {
				case 0:
					f.clock.Advance(time.Duration(rng.Intn(72)) * time.Hour)
				case 1:
					if actor.Role != models.RoleSystem {
						_, _ = f.checkIns.CheckIn(f.ctx, b.ID, actor, atVenue, time.Time{})
					}
				default:
					action := actions[rng.Intn(len(actions))]
					after, err := f.bookings.Transition(f.ctx, b.ID, actor, action)
					if err == nil {
						_, lookupErr := lookupEdge(before.Status, action, actor.Role)
						assert.NoError(t, lookupErr, "%s by %s from %s succeeded without an edge", action, actor.Role, before.Status)
						assert.True(t, after.Status.Valid())
					} else {
						assert.True(t, errors.IsExpected(err), "unexpected error: %v", err)
					}
				}

				assertBookingInvariants(t, f, b.ID, price)
			}
		})
	}
}

func assertBookingInvariants(t *testing.T, f *fixture, bookingID string, price int64) {
	t.Helper()

	b, err := f.store.GetBookingByID(f.ctx, bookingID)
	require.NoError(t, err)
	require.True(t, b.Status.Valid())
	assert.Equal(t, b.Status == models.BookingStatusAwaitingConfirmation, b.ConfirmationDeadline != nil)

	cw := f.wallet(f.customerWallet.ID)
	mw := f.wallet(f.modelWallet.ID)
	pw := f.wallet(f.platformWallet.ID)
	for _, w := range []*models.WalletAccount{cw, mw, pw} {
		assert.GreaterOrEqual(t, w.Balance, int64(0))
		assert.GreaterOrEqual(t, w.HeldBalance, int64(0))
	}
	if b.Status.Settled() {
		assert.Equal(t, int64(0), cw.HeldBalance)
	} else {
		assert.Equal(t, price, cw.HeldBalance)
	}
	assert.Equal(t, price, cw.Balance+cw.HeldBalance+mw.Balance+pw.Balance)

	counts := map[models.LedgerEntryType]int{}
	for _, typ := range f.ledgerTypes(bookingID) {
		counts[typ]++
	}
	assert.Equal(t, 1, counts[models.LedgerEntryHold])
	assert.LessOrEqual(t, counts[models.LedgerEntryRelease]+counts[models.LedgerEntryRefund], 1)
}

type failingAuditRepo struct{}

func (failingAuditRepo) Append(context.Context, *models.AuditLog) error {
	return stderrors.New("audit store unavailable")
}

func (failingAuditRepo) ListByEntity(context.Context, string, string) ([]*models.AuditLog, error) {
	return nil, stderrors.New("audit store unavailable")
}

func TestAuditFailureDoesNotFailTransition(t *testing.T) {
	f := newFixtureWith(t, memory.NewStore(), failingAuditRepo{})
	f.fund(f.customerWallet.ID, 1000)
	b := f.createBooking(1000)

	confirmed, err := f.bookings.Transition(f.ctx, b.ID, model, models.ActionAccept)
	require.NoError(t, err)
	assert.Equal(t, models.BookingStatusConfirmed, confirmed.Status)

	_, err = f.bookings.ListAudit(f.ctx, admin, b.ID)
	assert.True(t, errors.IsProcessing(err))
}

// brokenTxStore fails every transaction as an unreachable database would.
type brokenTxStore struct {
	*memory.Store
	broken bool
}

func (s *brokenTxStore) WithinTx(ctx context.Context, fn func(ctx context.Context, tx repository.Tx) error) error {
	if s.broken {
		return stderrors.New("dial tcp 10.0.0.5:5432: connection refused")
	}
	return s.Store.WithinTx(ctx, fn)
}

func TestInfrastructureFailureBecomesProcessingError(t *testing.T) {
	store := &brokenTxStore{Store: memory.NewStore()}
	f := newFixtureWith(t, store, memory.NewAuditRepository())
	f.fund(f.customerWallet.ID, 1000)
	b := f.createBooking(1000)

	store.broken = true
	_, err := f.bookings.Transition(f.ctx, b.ID, model, models.ActionAccept)
	require.Error(t, err)
	assert.True(t, errors.IsProcessing(err))
	assert.NotContains(t, err.Error(), "10.0.0.5")

	logs := f.bookingAudit(b.ID)
	require.Len(t, logs, 2)
	assert.Equal(t, models.AuditStatusFailed, logs[1].Status)
	assert.NotContains(t, logs[1].Description, "10.0.0.5")
}

// failingUpdateStore rolls back every transaction that writes a booking row
// while failing is set.
type failingUpdateStore struct {
	*memory.Store
	failing bool
}

func (s *failingUpdateStore) WithinTx(ctx context.Context, fn func(ctx context.Context, tx repository.Tx) error) error {
	return s.Store.WithinTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		if s.failing {
			tx = failingUpdateTx{Tx: tx}
		}
		return fn(ctx, tx)
	})
}

type failingUpdateTx struct {
	repository.Tx
}

func (failingUpdateTx) UpdateBooking(context.Context, *models.Booking) error {
	return stderrors.New("write booking row: could not extend file")
}

func TestSettlementMetricsCountOnlyCommittedMoney(t *testing.T) {
	t.Run("refund", func(t *testing.T) {
		store := &failingUpdateStore{Store: memory.NewStore()}
		f := newFixtureWith(t, store, memory.NewAuditRepository())
		f.fund(f.customerWallet.ID, 1000)
		b := f.createBooking(1000)

		succeeded := ledgerOps(t, models.LedgerEntryRefund, "success")
		failed := ledgerOps(t, models.LedgerEntryRefund, string(errors.KindProcessing))
		amount := ledgerAmount(t, models.LedgerEntryRefund)

		store.failing = true
		_, err := f.bookings.Transition(f.ctx, b.ID, model, models.ActionReject)
		require.True(t, errors.IsProcessing(err), "got %v", err)
		assert.Equal(t, succeeded, ledgerOps(t, models.LedgerEntryRefund, "success"))
		assert.Equal(t, failed+1, ledgerOps(t, models.LedgerEntryRefund, string(errors.KindProcessing)))
		assert.Equal(t, amount, ledgerAmount(t, models.LedgerEntryRefund))
		assert.Equal(t, int64(1000), f.wallet(f.customerWallet.ID).HeldBalance)
		assert.Equal(t, []models.LedgerEntryType{models.LedgerEntryHold}, f.ledgerTypes(b.ID))

		store.failing = false
		f.transition(b.ID, model, models.ActionReject)
		assert.Equal(t, succeeded+1, ledgerOps(t, models.LedgerEntryRefund, "success"))
		assert.Equal(t, amount+1000, ledgerAmount(t, models.LedgerEntryRefund))
	})

	t.Run("release", func(t *testing.T) {
		store := &failingUpdateStore{Store: memory.NewStore()}
		f := newFixtureWith(t, store, memory.NewAuditRepository())
		f.fund(f.customerWallet.ID, 1000)
		b := f.inProgress(1000)
		f.transition(b.ID, model, models.ActionFinish)

		succeeded := ledgerOps(t, models.LedgerEntryRelease, "success")
		amount := ledgerAmount(t, models.LedgerEntryRelease)

		store.failing = true
		_, err := f.bookings.Transition(f.ctx, b.ID, customer, models.ActionConfirmCompletion)
		require.True(t, errors.IsProcessing(err), "got %v", err)
		assert.Equal(t, succeeded, ledgerOps(t, models.LedgerEntryRelease, "success"))
		assert.Equal(t, amount, ledgerAmount(t, models.LedgerEntryRelease))
		assert.Equal(t, int64(0), f.wallet(f.modelWallet.ID).Balance)

		store.failing = false
		f.transition(b.ID, customer, models.ActionConfirmCompletion)
		assert.Equal(t, succeeded+1, ledgerOps(t, models.LedgerEntryRelease, "success"))
		assert.Equal(t, amount+1000, ledgerAmount(t, models.LedgerEntryRelease))
	})

	t.Run("hold", func(t *testing.T) {
		f := newFixture(t)
		f.fund(f.customerWallet.ID, 1000)

		succeeded := ledgerOps(t, models.LedgerEntryHold, "success")
		short := ledgerOps(t, models.LedgerEntryHold, string(errors.KindInsufficientBalance))
		amount := ledgerAmount(t, models.LedgerEntryHold)

		_, err := f.bookings.CreateBooking(f.ctx, customer, f.bookingRequest(5000))
		require.True(t, errors.IsInsufficientBalance(err), "got %v", err)
		assert.Equal(t, short+1, ledgerOps(t, models.LedgerEntryHold, string(errors.KindInsufficientBalance)))
		assert.Equal(t, amount, ledgerAmount(t, models.LedgerEntryHold))

		f.createBooking(1000)
		assert.Equal(t, succeeded+1, ledgerOps(t, models.LedgerEntryHold, "success"))
		assert.Equal(t, amount+1000, ledgerAmount(t, models.LedgerEntryHold))
	})
}

func TestReadOperations(t *testing.T) {
	f := newFixture(t)
	f.fund(f.customerWallet.ID, 3000)
	first := f.createBooking(1000)
	second := f.createBooking(2000)

	history, err := f.bookings.GetBookingHistory(f.ctx, model, modelID)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, second.ID, history[0].ID)
	assert.Equal(t, first.ID, history[1].ID)

	_, err = f.bookings.GetBookingHistory(f.ctx, customer, modelID)
	assert.True(t, errors.IsUnauthorized(err))

	got, err := f.bookings.GetBooking(f.ctx, customer, first.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1000), got.Price)

	_, err = f.bookings.GetBooking(f.ctx, models.Actor{ID: "cust-9", Role: models.RoleCustomer}, first.ID)
	assert.True(t, errors.IsUnauthorized(err))

	_, err = f.bookings.GetBooking(f.ctx, admin, first.ID)
	assert.NoError(t, err)

	logs, err := f.bookings.ListAudit(f.ctx, admin, first.ID)
	require.NoError(t, err)
	assert.Len(t, logs, 1)

	_, err = f.bookings.ListAudit(f.ctx, customer, first.ID)
	assert.True(t, errors.IsUnauthorized(err))
}

func TestTransitionPublishesStatusChange(t *testing.T) {
	f := newFixture(t)
	f.fund(f.customerWallet.ID, 1000)
	b := f.createBooking(1000)
	f.transition(b.ID, customer, models.ActionCancel)

	evts := f.publisher.Events()
	require.Len(t, evts, 2)
	last := evts[1]
	assert.Equal(t, events.TypeBookingStatusChanged, last.Type)
	assert.Equal(t, string(models.ActionCancel), last.Action)
	assert.Equal(t, models.BookingStatusPending, last.FromStatus)
	assert.Equal(t, models.BookingStatusCancelled, last.Status)
	assert.Equal(t, customerID, last.ActorID)
}
