package service

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/riteshkumar/booking-escrow/internal/errors"
	"github.com/riteshkumar/booking-escrow/internal/events"
	"github.com/riteshkumar/booking-escrow/internal/models"
	"github.com/riteshkumar/booking-escrow/internal/monitoring"
	"github.com/riteshkumar/booking-escrow/internal/repository"
)

const earthRadiusMeters = 6371000.0

// CheckInRules bounds where and when a party may check in. ClockSkew is how
// far a client-reported check-in time may drift from the server clock.
type CheckInRules struct {
	RadiusMeters float64
	LeadTime     time.Duration
	ClockSkew    time.Duration
}

// CheckInService records on-site arrivals and starts the engagement once both
// parties are present.
type CheckInService struct {
	store    repository.Store
	bookings *BookingService
	audit    *AuditLogger
	rules    CheckInRules
	logger   *slog.Logger
	now      func() time.Time
}

func NewCheckInService(store repository.Store, bookings *BookingService, audit *AuditLogger, rules CheckInRules, logger *slog.Logger, opts ...ServiceOption) *CheckInService {
	o := applyOptions(opts)
	return &CheckInService{
		store:    store,
		bookings: bookings,
		audit:    audit,
		rules:    rules,
		logger:   logger,
		now:      o.now,
	}
}

// CheckIn records the actor's position. at is the client-reported time and is
// stored on the check-in; a zero at means now. The window itself is always
// checked against the server clock.
func (s *CheckInService) CheckIn(ctx context.Context, bookingID string, actor models.Actor, coords models.Coordinates, at time.Time) (*models.Booking, error) {
	booking, started, err := s.checkIn(ctx, bookingID, actor, coords, at)

	snap := models.BookingSnapshot{ID: bookingID}
	if booking != nil {
		snap.Status = booking.Status
		snap.Price = booking.Price
		snap.CustomerID = booking.CustomerID
		snap.ModelID = booking.ModelID
	}
	if err != nil {
		snap.Error = err.Error()
	}
	monitoring.TrackTransition(models.AuditActionCheckIn, string(errors.KindOf(err)))
	s.audit.Record(ctx, newAuditEntry(models.AuditActionCheckIn, actor, models.EntityTypeBooking, bookingID,
		fmt.Sprintf("%s checked in at (%.6f, %.6f)", actor.Role, coords.Latitude, coords.Longitude), snap, err))

	if err != nil {
		return nil, err
	}

	s.bookings.publish(ctx, events.TypeBookingCheckedIn, models.AuditActionCheckIn, booking, models.BookingStatusConfirmed, actor)
	if started {
		system := models.SystemActor()
		monitoring.TrackTransition(string(models.ActionStart), "")
		s.audit.Record(ctx, s.bookings.transitionAuditEntry(bookingID, system, models.ActionStart,
			models.BookingStatusConfirmed, booking, nil))
		s.bookings.publish(ctx, events.TypeBookingStatusChanged, string(models.ActionStart), booking, models.BookingStatusConfirmed, system)
	}
	return booking, nil
}

func (s *CheckInService) checkIn(ctx context.Context, bookingID string, actor models.Actor, coords models.Coordinates, at time.Time) (*models.Booking, bool, error) {
	if err := requireActor(actor); err != nil {
		return nil, false, err
	}
	if err := validateCoordinates("coordinates", coords.Latitude, coords.Longitude); err != nil {
		return nil, false, err
	}

	snapshot, err := s.store.GetBookingByID(ctx, bookingID)
	if err != nil {
		return nil, false, s.bookings.classify("load booking", err, "booking_id", bookingID)
	}
	if actor.Role != models.RoleCustomer && actor.Role != models.RoleModel {
		return nil, false, errors.NewUnauthorizedActorError(actor.ID, bookingID)
	}
	if err := authorizeParty(actor, snapshot); err != nil {
		return nil, false, err
	}
	if err := checkInAllowed(snapshot, actor.Role); err != nil {
		return nil, false, err
	}

	now := s.now()
	if at.IsZero() {
		at = now
	} else if drift := at.Sub(now).Abs(); drift > s.rules.ClockSkew {
		s.logger.Warn("check-in time too far from server clock",
			"booking_id", bookingID,
			"actor_id", actor.ID,
			"at", at,
			"now", now,
		)
		return nil, false, fmt.Errorf("%w: reported check-in time is %s away from server time", errors.ErrWindowExpired,
			drift.Round(time.Second))
	}

	earliest := snapshot.StartDate.Add(-s.rules.LeadTime)
	if now.Before(earliest) || now.After(snapshot.CheckInDeadline) {
		s.logger.Warn("check-in outside window",
			"booking_id", bookingID,
			"actor_id", actor.ID,
			"now", now,
			"window_start", earliest,
			"window_end", snapshot.CheckInDeadline,
		)
		return nil, false, fmt.Errorf("%w: check-in is open from %s to %s", errors.ErrWindowExpired,
			earliest.Format(time.RFC3339), snapshot.CheckInDeadline.Format(time.RFC3339))
	}

	distance := Haversine(coords.Latitude, coords.Longitude, snapshot.Location.Latitude, snapshot.Location.Longitude)
	if distance > s.rules.RadiusMeters {
		s.logger.Warn("check-in out of range",
			"booking_id", bookingID,
			"actor_id", actor.ID,
			"distance_meters", distance,
			"radius_meters", s.rules.RadiusMeters,
		)
		return nil, false, fmt.Errorf("%w: %.0fm from the booking location, limit %.0fm", errors.ErrOutOfRange,
			distance, s.rules.RadiusMeters)
	}

	var (
		booking *models.Booking
		started bool
	)
	err = s.store.WithinTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		locked, err := tx.GetBookingForUpdate(ctx, bookingID)
		if err != nil {
			return err
		}
		if locked.Status != snapshot.Status {
			return fmt.Errorf("%w: status is now '%s'", errors.ErrStaleState, locked.Status)
		}
		if err := checkInAllowed(locked, actor.Role); err != nil {
			return err
		}

		ci := &models.CheckIn{Latitude: coords.Latitude, Longitude: coords.Longitude, At: at.UTC()}
		if actor.Role == models.RoleCustomer {
			locked.CustomerCheckIn = ci
		} else {
			locked.ModelCheckIn = ci
		}

		if locked.CustomerCheckIn != nil && locked.ModelCheckIn != nil {
			start, err := lookupEdge(models.BookingStatusConfirmed, models.ActionStart, models.RoleSystem)
			if err != nil {
				return err
			}
			if _, err := s.bookings.applyEdge(ctx, tx, locked, models.BookingStatusConfirmed, start); err != nil {
				return err
			}
			started = true
		} else if err := tx.UpdateBooking(ctx, locked); err != nil {
			return err
		}
		booking = locked
		return nil
	})
	if err != nil {
		return nil, false, s.bookings.classify("check in", err, "booking_id", bookingID)
	}

	s.logger.Info("party checked in",
		"booking_id", bookingID,
		"actor_id", actor.ID,
		"role", actor.Role,
		"distance_meters", distance,
		"started", started,
	)
	return booking, started, nil
}

// checkInAllowed requires a confirmed booking the role has not checked in to.
func checkInAllowed(b *models.Booking, role models.Role) error {
	if b.Status != models.BookingStatusConfirmed {
		return errors.NewTransitionError(string(b.Status), models.AuditActionCheckIn, "booking must be confirmed")
	}
	if (role == models.RoleCustomer && b.CustomerCheckIn != nil) || (role == models.RoleModel && b.ModelCheckIn != nil) {
		return errors.NewTransitionError(string(b.Status), models.AuditActionCheckIn, "already checked in")
	}
	return nil
}

// Haversine returns the great-circle distance in meters between two points
// given in decimal degrees.
func Haversine(lat1, lng1, lat2, lng2 float64) float64 {
	toRad := func(deg float64) float64 { return deg * math.Pi / 180 }
	dLat := toRad(lat2 - lat1)
	dLng := toRad(lng2 - lng1)
	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(toRad(lat1))*math.Cos(toRad(lat2))*math.Sin(dLng/2)*math.Sin(dLng/2)
	return 2 * earthRadiusMeters * math.Asin(math.Min(1, math.Sqrt(a)))
}
