package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/riteshkumar/booking-escrow/internal/errors"
	"github.com/riteshkumar/booking-escrow/internal/models"
)

const bookingColumns = `id, customer_id, model_id, model_service_id, price, day_amount,
	location_address, location_lat, location_lng, preferred_attire, start_date, end_date, status,
	customer_check_in_lat, customer_check_in_lng, customer_check_in_at,
	model_check_in_lat, model_check_in_lng, model_check_in_at,
	confirmation_deadline, check_in_deadline, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanBooking(row rowScanner) (*models.Booking, error) {
	b := &models.Booking{}
	var (
		customerLat, customerLng, modelLat, modelLng sql.NullFloat64
		customerAt, modelAt, confirmationDeadline    sql.NullTime
	)
	err := row.Scan(
		&b.ID, &b.CustomerID, &b.ModelID, &b.ModelServiceID, &b.Price, &b.DayAmount,
		&b.Location.Address, &b.Location.Latitude, &b.Location.Longitude, &b.PreferredAttire,
		&b.StartDate, &b.EndDate, &b.Status,
		&customerLat, &customerLng, &customerAt,
		&modelLat, &modelLng, &modelAt,
		&confirmationDeadline, &b.CheckInDeadline, &b.CreatedAt, &b.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if customerAt.Valid {
		b.CustomerCheckIn = &models.CheckIn{Latitude: customerLat.Float64, Longitude: customerLng.Float64, At: customerAt.Time}
	}
	if modelAt.Valid {
		b.ModelCheckIn = &models.CheckIn{Latitude: modelLat.Float64, Longitude: modelLng.Float64, At: modelAt.Time}
	}
	if confirmationDeadline.Valid {
		t := confirmationDeadline.Time
		b.ConfirmationDeadline = &t
	}
	return b, nil
}

func checkInArgs(ci *models.CheckIn) (lat, lng sql.NullFloat64, at sql.NullTime) {
	if ci == nil {
		return
	}
	return sql.NullFloat64{Float64: ci.Latitude, Valid: true},
		sql.NullFloat64{Float64: ci.Longitude, Valid: true},
		sql.NullTime{Time: ci.At, Valid: true}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func getBooking(ctx context.Context, q queryer, query, id string) (*models.Booking, error) {
	booking, err := scanBooking(q.QueryRowContext(ctx, query, id))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, errors.ErrBookingNotFound
		}
		return nil, fmt.Errorf("failed to get booking by ID: %w", err)
	}
	return booking, nil
}

func (s *PostgresStore) GetBookingByID(ctx context.Context, id string) (*models.Booking, error) {
	return getBooking(ctx, s.db, `SELECT `+bookingColumns+` FROM bookings WHERE id = $1`, id)
}

func (t *postgresTx) GetBookingForUpdate(ctx context.Context, id string) (*models.Booking, error) {
	return getBooking(ctx, t.tx, `SELECT `+bookingColumns+` FROM bookings WHERE id = $1 FOR UPDATE`, id)
}

func (t *postgresTx) CreateBooking(ctx context.Context, b *models.Booking) error {
	query := `INSERT INTO bookings (` + bookingColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21,
			CURRENT_TIMESTAMP, CURRENT_TIMESTAMP)
		RETURNING created_at, updated_at`

	cLat, cLng, cAt := checkInArgs(b.CustomerCheckIn)
	mLat, mLng, mAt := checkInArgs(b.ModelCheckIn)
	err := t.tx.QueryRowContext(ctx, query,
		b.ID, b.CustomerID, b.ModelID, b.ModelServiceID, b.Price, b.DayAmount,
		b.Location.Address, b.Location.Latitude, b.Location.Longitude, b.PreferredAttire,
		b.StartDate, b.EndDate, b.Status,
		cLat, cLng, cAt, mLat, mLng, mAt,
		nullTime(b.ConfirmationDeadline), b.CheckInDeadline,
	).Scan(&b.CreatedAt, &b.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create booking: %w", err)
	}
	return nil
}

// UpdateBooking writes the mutable lifecycle fields of a locked booking.
func (t *postgresTx) UpdateBooking(ctx context.Context, b *models.Booking) error {
	query := `UPDATE bookings SET status = $1,
			customer_check_in_lat = $2, customer_check_in_lng = $3, customer_check_in_at = $4,
			model_check_in_lat = $5, model_check_in_lng = $6, model_check_in_at = $7,
			confirmation_deadline = $8, updated_at = CURRENT_TIMESTAMP
		WHERE id = $9
		RETURNING updated_at`

	cLat, cLng, cAt := checkInArgs(b.CustomerCheckIn)
	mLat, mLng, mAt := checkInArgs(b.ModelCheckIn)
	err := t.tx.QueryRowContext(ctx, query,
		b.Status, cLat, cLng, cAt, mLat, mLng, mAt, nullTime(b.ConfirmationDeadline), b.ID,
	).Scan(&b.UpdatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return errors.ErrBookingNotFound
		}
		return fmt.Errorf("failed to update booking: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListBookingsByActor(ctx context.Context, actorID string) ([]*models.Booking, error) {
	query := `SELECT ` + bookingColumns + ` FROM bookings
		WHERE customer_id = $1 OR model_id = $1
		ORDER BY created_at DESC`

	rows, err := s.db.QueryContext(ctx, query, actorID)
	if err != nil {
		return nil, fmt.Errorf("failed to list bookings by actor: %w", err)
	}
	defer rows.Close()

	var bookings []*models.Booking
	for rows.Next() {
		booking, err := scanBooking(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan booking: %w", err)
		}
		bookings = append(bookings, booking)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating over bookings: %w", err)
	}
	return bookings, nil
}

func (s *PostgresStore) ListAwaitingPastDeadline(ctx context.Context, now time.Time, limit int) ([]string, error) {
	query := `SELECT id FROM bookings
		WHERE status = $1 AND confirmation_deadline <= $2
		ORDER BY confirmation_deadline ASC
		LIMIT $3`
	return s.listIDs(ctx, query, models.BookingStatusAwaitingConfirmation, now, limit)
}

func (s *PostgresStore) ListCheckInExpired(ctx context.Context, now time.Time, limit int) ([]string, error) {
	query := `SELECT id FROM bookings
		WHERE status = $1 AND check_in_deadline <= $2
		ORDER BY check_in_deadline ASC
		LIMIT $3`
	return s.listIDs(ctx, query, models.BookingStatusConfirmed, now, limit)
}

func (s *PostgresStore) listIDs(ctx context.Context, query string, status models.BookingStatus, now time.Time, limit int) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, query, status, now, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list due bookings: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan booking id: %w", err)
		}
		ids = append(ids, id)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating over due bookings: %w", err)
	}
	return ids, nil
}
