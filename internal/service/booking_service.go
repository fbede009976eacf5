package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/riteshkumar/booking-escrow/internal/errors"
	"github.com/riteshkumar/booking-escrow/internal/events"
	"github.com/riteshkumar/booking-escrow/internal/models"
	"github.com/riteshkumar/booking-escrow/internal/monitoring"
	"github.com/riteshkumar/booking-escrow/internal/repository"
)

// BookingRules holds the time windows the state machine enforces.
type BookingRules struct {
	ConfirmationWindow time.Duration
	CheckInTimeout     time.Duration
}

// BookingService owns the booking lifecycle. Every status change goes through
// Transition (or the check-in path that shares applyEdge).
type BookingService struct {
	store     repository.Store
	wallets   *WalletService
	audit     *AuditLogger
	publisher events.Publisher
	rules     BookingRules
	logger    *slog.Logger
	now       func() time.Time
}

func NewBookingService(store repository.Store, wallets *WalletService, audit *AuditLogger, publisher events.Publisher, rules BookingRules, logger *slog.Logger, opts ...ServiceOption) *BookingService {
	o := applyOptions(opts)
	return &BookingService{
		store:     store,
		wallets:   wallets,
		audit:     audit,
		publisher: publisher,
		rules:     rules,
		logger:    logger,
		now:       o.now,
	}
}

// CreateBooking inserts a pending booking and holds its price on the
// customer's wallet in the same transaction.
func (s *BookingService) CreateBooking(ctx context.Context, actor models.Actor, req *models.CreateBookingRequest) (*models.Booking, error) {
	if req == nil {
		err := errors.NewValidationError("request", "must be provided")
		snap := models.BookingSnapshot{Status: models.BookingStatusPending, Error: err.Error()}
		s.audit.Record(ctx, newAuditEntry(models.AuditActionCreateBooking, actor, models.EntityTypeBooking, "",
			"booking requested without a body", snap, err))
		return nil, err
	}

	booking, err := s.createBooking(ctx, actor, req)

	entityID := ""
	snap := models.BookingSnapshot{Status: models.BookingStatusPending, Price: req.Price, CustomerID: req.CustomerID, ModelID: req.ModelID}
	if booking != nil {
		entityID = booking.ID
		snap.ID = booking.ID
	}
	if err != nil {
		snap.Error = err.Error()
	}
	s.audit.Record(ctx, newAuditEntry(models.AuditActionCreateBooking, actor, models.EntityTypeBooking, entityID,
		fmt.Sprintf("booking requested by %s for model %s", req.CustomerID, req.ModelID), snap, err))

	if err != nil {
		return nil, err
	}
	s.publish(ctx, events.TypeBookingCreated, "create", booking, "", actor)
	return booking, nil
}

func (s *BookingService) createBooking(ctx context.Context, actor models.Actor, req *models.CreateBookingRequest) (*models.Booking, error) {
	if err := requireActor(actor); err != nil {
		return nil, err
	}
	if actor.Role != models.RoleCustomer || actor.ID != req.CustomerID {
		return nil, errors.NewUnauthorizedActorError(actor.ID, req.CustomerID)
	}
	if err := validateBookingRequest(req); err != nil {
		s.logger.Warn("invalid booking request", "customer_id", req.CustomerID, "error", err.Error())
		return nil, err
	}

	endDate := req.StartDate.AddDate(0, 0, req.DayAmount)
	if req.EndDate != nil {
		endDate = *req.EndDate
	}
	checkInDeadline := req.StartDate.Add(s.rules.CheckInTimeout)
	if endDate.Before(checkInDeadline) {
		checkInDeadline = endDate
	}

	booking := &models.Booking{
		ID:              uuid.New().String(),
		CustomerID:      req.CustomerID,
		ModelID:         req.ModelID,
		ModelServiceID:  req.ModelServiceID,
		Price:           req.Price,
		DayAmount:       req.DayAmount,
		Location:        req.Location,
		PreferredAttire: req.PreferredAttire,
		StartDate:       req.StartDate.UTC(),
		EndDate:         endDate.UTC(),
		Status:          models.BookingStatusPending,
		CheckInDeadline: checkInDeadline.UTC(),
	}

	held := false
	err := s.store.WithinTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		customerWallet, err := tx.GetWalletByOwnerForUpdate(ctx, booking.CustomerID, models.OwnerTypeCustomer)
		if err != nil {
			return fmt.Errorf("customer wallet: %w", err)
		}
		if _, err := tx.GetWalletByOwnerForUpdate(ctx, booking.ModelID, models.OwnerTypeModel); err != nil {
			return fmt.Errorf("model wallet: %w", err)
		}
		if err := tx.CreateBooking(ctx, booking); err != nil {
			return err
		}
		held = true
		_, err = s.wallets.Hold(ctx, tx, booking.ID, customerWallet.ID, booking.Price)
		return err
	})
	if err != nil {
		err = s.classify("create booking", err, "customer_id", req.CustomerID, "model_id", req.ModelID)
	}
	if held {
		monitoring.TrackLedgerOperation(string(models.LedgerEntryHold), string(errors.KindOf(err)), booking.Price)
	}
	if err != nil {
		return nil, err
	}

	s.logger.Info("booking created",
		"booking_id", booking.ID,
		"customer_id", booking.CustomerID,
		"model_id", booking.ModelID,
		"price", booking.Price,
	)
	return booking, nil
}

func validateBookingRequest(req *models.CreateBookingRequest) error {
	switch {
	case strings.TrimSpace(req.CustomerID) == "":
		return errors.NewValidationError("customer_id", "must be non-empty")
	case strings.TrimSpace(req.ModelID) == "":
		return errors.NewValidationError("model_id", "must be non-empty")
	case req.ModelID == req.CustomerID:
		return errors.NewValidationError("model_id", "must differ from customer_id")
	case strings.TrimSpace(req.ModelServiceID) == "":
		return errors.NewValidationError("model_service_id", "must be non-empty")
	case req.Price <= 0:
		return errors.NewValidationError("price", "must be greater than zero")
	case req.DayAmount < 1:
		return errors.NewValidationError("day_amount", "must be at least 1")
	case req.StartDate.IsZero():
		return errors.NewValidationError("start_date", "is required")
	case req.EndDate != nil && !req.EndDate.After(req.StartDate):
		return errors.NewValidationError("end_date", "must be after start_date")
	}
	return validateCoordinates("location", req.Location.Latitude, req.Location.Longitude)
}

func validateCoordinates(field string, lat, lng float64) error {
	if lat < -90 || lat > 90 {
		return errors.NewValidationError(field+".latitude", "must be between -90 and 90")
	}
	if lng < -180 || lng > 180 {
		return errors.NewValidationError(field+".longitude", "must be between -180 and 180")
	}
	return nil
}

// Transition applies action to the booking on behalf of actor. Every call,
// successful or not, is recorded by exactly one audit entry.
func (s *BookingService) Transition(ctx context.Context, bookingID string, actor models.Actor, action models.Action) (*models.Booking, error) {
	booking, from, err := s.transition(ctx, bookingID, actor, action)

	monitoring.TrackTransition(string(action), string(errors.KindOf(err)))
	s.audit.Record(ctx, s.transitionAuditEntry(bookingID, actor, action, from, booking, err))

	if err != nil {
		return nil, err
	}
	s.publish(ctx, events.TypeBookingStatusChanged, string(action), booking, from, actor)
	return booking, nil
}

func (s *BookingService) transition(ctx context.Context, bookingID string, actor models.Actor, action models.Action) (*models.Booking, models.BookingStatus, error) {
	if err := requireActor(actor); err != nil {
		return nil, "", err
	}
	if strings.TrimSpace(bookingID) == "" {
		return nil, "", errors.NewValidationError("booking_id", "must be non-empty")
	}
	if !validAction(action) {
		return nil, "", errors.NewValidationError("action", fmt.Sprintf("unknown action '%s'", action))
	}

	snapshot, err := s.store.GetBookingByID(ctx, bookingID)
	if err != nil {
		return nil, "", s.classify("load booking", err, "booking_id", bookingID)
	}
	from := snapshot.Status

	if err := authorizeParty(actor, snapshot); err != nil {
		s.logger.Warn("transition by non-party rejected",
			"booking_id", bookingID,
			"actor_id", actor.ID,
			"action", action,
		)
		return nil, from, err
	}

	e, err := lookupEdge(from, action, actor.Role)
	if err != nil {
		return nil, from, err
	}

	var (
		booking *models.Booking
		applied effect
	)
	err = s.store.WithinTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		locked, err := tx.GetBookingForUpdate(ctx, bookingID)
		if err != nil {
			return err
		}
		applied, err = s.applyEdge(ctx, tx, locked, from, e)
		if err != nil {
			return err
		}
		booking = locked
		return nil
	})
	if err != nil {
		if errors.IsStaleState(err) {
			s.logger.Warn("transition lost a concurrent race",
				"booking_id", bookingID,
				"action", action,
				"expected_status", from,
			)
		}
		err = s.classify("transition booking", err, "booking_id", bookingID, "action", action)
		trackSettlement(applied, snapshot.Price, err)
		return nil, from, err
	}
	trackSettlement(applied, booking.Price, nil)

	s.logger.Info("booking transitioned",
		"booking_id", bookingID,
		"action", action,
		"from", from,
		"to", booking.Status,
		"effect", applied.String(),
		"actor_id", actor.ID,
	)
	return booking, from, nil
}

// applyEdge runs e against a booking locked in tx. expected is the status the
// edge was chosen for; a different locked status means another transition won.
// The returned effect is the one the edge resolved to, also on failure, so the
// caller can account for it once the transaction has ended.
func (s *BookingService) applyEdge(ctx context.Context, tx repository.Tx, b *models.Booking, expected models.BookingStatus, e *edge) (effect, error) {
	if b.Status != expected {
		return effectNone, fmt.Errorf("%w: status is now '%s'", errors.ErrStaleState, b.Status)
	}

	now := s.now()
	if e.guard != nil {
		if err := e.guard(b, now); err != nil {
			return effectNone, err
		}
	}

	to, eff := e.target(b)
	switch eff {
	case effectRefund:
		payer, err := tx.GetWalletByOwnerForUpdate(ctx, b.CustomerID, models.OwnerTypeCustomer)
		if err != nil {
			return eff, fmt.Errorf("customer wallet: %w", err)
		}
		if _, err := s.wallets.Refund(ctx, tx, b.ID, payer.ID, b.Price); err != nil {
			return eff, err
		}
	case effectRelease:
		payer, err := tx.GetWalletByOwnerForUpdate(ctx, b.CustomerID, models.OwnerTypeCustomer)
		if err != nil {
			return eff, fmt.Errorf("customer wallet: %w", err)
		}
		payee, err := tx.GetWalletByOwnerForUpdate(ctx, b.ModelID, models.OwnerTypeModel)
		if err != nil {
			return eff, fmt.Errorf("model wallet: %w", err)
		}
		if _, err := s.wallets.Release(ctx, tx, b.ID, payer.ID, payee.ID, b.Price); err != nil {
			return eff, err
		}
	case effectSetDeadline:
		deadline := now.Add(s.rules.ConfirmationWindow)
		b.ConfirmationDeadline = &deadline
	case effectFreeze:
		// hold stays in place until resolved outside this service
	}

	if to != models.BookingStatusAwaitingConfirmation {
		b.ConfirmationDeadline = nil
	}
	b.Status = to
	return eff, tx.UpdateBooking(ctx, b)
}

// trackSettlement counts a refund or release once its transaction has
// committed or rolled back. Other effects move no money.
func trackSettlement(eff effect, amount int64, err error) {
	var entryType models.LedgerEntryType
	switch eff {
	case effectRefund:
		entryType = models.LedgerEntryRefund
	case effectRelease:
		entryType = models.LedgerEntryRelease
	default:
		return
	}
	monitoring.TrackLedgerOperation(string(entryType), string(errors.KindOf(err)), amount)
}

func (s *BookingService) transitionAuditEntry(bookingID string, actor models.Actor, action models.Action, from models.BookingStatus, booking *models.Booking, err error) *models.AuditLog {
	snap := models.BookingSnapshot{ID: bookingID, Status: from, FromStatus: from}
	description := fmt.Sprintf("%s: %s", action, from)
	if booking != nil {
		snap.Status = booking.Status
		snap.Price = booking.Price
		snap.CustomerID = booking.CustomerID
		snap.ModelID = booking.ModelID
		description = fmt.Sprintf("%s: %s -> %s", action, from, booking.Status)
	}
	if err != nil {
		snap.Error = err.Error()
	}
	return newAuditEntry(models.TransitionAuditAction(action), actor, models.EntityTypeBooking, bookingID, description, snap, err)
}

func (s *BookingService) GetBooking(ctx context.Context, actor models.Actor, bookingID string) (*models.Booking, error) {
	if err := requireActor(actor); err != nil {
		return nil, err
	}
	booking, err := s.store.GetBookingByID(ctx, bookingID)
	if err != nil {
		return nil, s.classify("get booking", err, "booking_id", bookingID)
	}
	if actor.Role != models.RoleAdmin {
		if err := authorizeParty(actor, booking); err != nil {
			return nil, err
		}
	}
	return booking, nil
}

// GetBookingHistory lists bookings where actorID is the customer or the model,
// newest first.
func (s *BookingService) GetBookingHistory(ctx context.Context, actor models.Actor, actorID string) ([]*models.Booking, error) {
	if err := requireActor(actor); err != nil {
		return nil, err
	}
	if actor.Role != models.RoleAdmin && actor.ID != actorID {
		return nil, errors.NewUnauthorizedActorError(actor.ID, actorID)
	}
	bookings, err := s.store.ListBookingsByActor(ctx, actorID)
	if err != nil {
		return nil, s.classify("list bookings", err, "actor_id", actorID)
	}
	return bookings, nil
}

// ListAudit returns the audit trail of a booking. Admin only.
func (s *BookingService) ListAudit(ctx context.Context, actor models.Actor, bookingID string) ([]*models.AuditLog, error) {
	if err := requireActor(actor); err != nil {
		return nil, err
	}
	if actor.Role != models.RoleAdmin {
		return nil, errors.NewUnauthorizedActorError(actor.ID, bookingID)
	}
	return s.audit.ListByEntity(ctx, models.EntityTypeBooking, bookingID)
}

// publish is best effort: the change is already committed.
func (s *BookingService) publish(ctx context.Context, eventType, action string, b *models.Booking, from models.BookingStatus, actor models.Actor) {
	event := events.BookingEvent{
		Type:       eventType,
		BookingID:  b.ID,
		CustomerID: b.CustomerID,
		ModelID:    b.ModelID,
		Action:     action,
		FromStatus: from,
		Status:     b.Status,
		ActorID:    actor.ID,
		OccurredAt: s.now(),
	}
	if err := s.publisher.Publish(ctx, event); err != nil {
		s.logger.Warn("failed to publish booking event",
			"booking_id", b.ID,
			"event_type", eventType,
			"error", err.Error(),
		)
	}
}

func (s *BookingService) classify(operation string, err error, args ...any) error {
	if errors.IsExpected(err) || errors.IsProcessing(err) {
		return err
	}
	s.logger.Error("failed to "+operation, append(args, "error", err.Error())...)
	return errors.NewProcessingError(operation, err)
}

// authorizeParty lets the system actor through and otherwise requires the
// actor to be the booking's party for its role.
func authorizeParty(actor models.Actor, b *models.Booking) error {
	switch actor.Role {
	case models.RoleSystem:
		return nil
	case models.RoleCustomer:
		if actor.ID == b.CustomerID {
			return nil
		}
	case models.RoleModel:
		if actor.ID == b.ModelID {
			return nil
		}
	}
	return errors.NewUnauthorizedActorError(actor.ID, b.ID)
}
