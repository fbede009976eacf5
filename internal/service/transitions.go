package service

import (
	"fmt"
	"slices"
	"time"

	"github.com/riteshkumar/booking-escrow/internal/errors"
	"github.com/riteshkumar/booking-escrow/internal/models"
)

// effect is the wallet side effect that commits together with an edge.
type effect int

const (
	effectNone effect = iota
	effectRefund
	effectRelease
	effectSetDeadline
	effectFreeze
)

func (e effect) String() string {
	switch e {
	case effectRefund:
		return "refund"
	case effectRelease:
		return "release"
	case effectSetDeadline:
		return "set_deadline"
	case effectFreeze:
		return "freeze"
	}
	return "none"
}

// edge is one row of the booking transition table. guard runs against the
// locked row; resolve, when set, picks the target and effect from that row.
type edge struct {
	from    models.BookingStatus
	action  models.Action
	roles   []models.Role
	to      models.BookingStatus
	effect  effect
	guard   func(b *models.Booking, now time.Time) error
	resolve func(b *models.Booking) (models.BookingStatus, effect)
}

var transitionTable = []edge{
	{
		from: models.BookingStatusPending, action: models.ActionAccept,
		roles: []models.Role{models.RoleModel},
		to:    models.BookingStatusConfirmed, effect: effectNone,
	},
	{
		from: models.BookingStatusPending, action: models.ActionReject,
		roles: []models.Role{models.RoleModel},
		to:    models.BookingStatusRejected, effect: effectRefund,
	},
	{
		from: models.BookingStatusPending, action: models.ActionCancel,
		roles: []models.Role{models.RoleCustomer},
		to:    models.BookingStatusCancelled, effect: effectRefund,
	},
	{
		from: models.BookingStatusConfirmed, action: models.ActionStart,
		roles: []models.Role{models.RoleSystem},
		to:    models.BookingStatusInProgress, effect: effectNone,
		guard: requireBothCheckIns,
	},
	{
		from: models.BookingStatusInProgress, action: models.ActionFinish,
		roles: []models.Role{models.RoleModel},
		to:    models.BookingStatusAwaitingConfirmation, effect: effectSetDeadline,
	},
	{
		from: models.BookingStatusAwaitingConfirmation, action: models.ActionConfirmCompletion,
		roles: []models.Role{models.RoleCustomer},
		to:    models.BookingStatusCompleted, effect: effectRelease,
	},
	{
		from: models.BookingStatusAwaitingConfirmation, action: models.ActionAutoComplete,
		roles: []models.Role{models.RoleSystem},
		to:    models.BookingStatusCompleted, effect: effectRelease,
		guard: requireConfirmationDeadlinePassed,
	},
	{
		from: models.BookingStatusAwaitingConfirmation, action: models.ActionDispute,
		roles: []models.Role{models.RoleCustomer},
		to:    models.BookingStatusDisputed, effect: effectFreeze,
		guard: requireWithinConfirmationWindow,
	},
	{
		from: models.BookingStatusConfirmed, action: models.ActionDispute,
		roles: []models.Role{models.RoleCustomer, models.RoleModel},
		to:    models.BookingStatusDisputed, effect: effectFreeze,
	},
	{
		from: models.BookingStatusInProgress, action: models.ActionDispute,
		roles: []models.Role{models.RoleCustomer, models.RoleModel},
		to:    models.BookingStatusDisputed, effect: effectFreeze,
	},
	{
		from: models.BookingStatusConfirmed, action: models.ActionExpireCheckIn,
		roles:   []models.Role{models.RoleSystem},
		guard:   requireCheckInDeadlinePassed,
		resolve: resolveExpiredCheckIn,
	},
}

// lookupEdge returns the edge for (from, action, role) or a TransitionError.
// A re-issued transition lands here because the status no longer matches.
func lookupEdge(from models.BookingStatus, action models.Action, role models.Role) (*edge, error) {
	matched := false
	for i := range transitionTable {
		e := &transitionTable[i]
		if e.from != from || e.action != action {
			continue
		}
		matched = true
		if slices.Contains(e.roles, role) {
			return e, nil
		}
	}
	if matched {
		return nil, errors.NewTransitionError(string(from), string(action),
			fmt.Sprintf("not allowed for role '%s'", role))
	}
	if from.Terminal() {
		return nil, errors.NewTransitionError(string(from), string(action),
			fmt.Sprintf("booking is already %s", from))
	}
	return nil, errors.NewTransitionError(string(from), string(action), "")
}

// target returns the status and effect this edge applies to b.
func (e *edge) target(b *models.Booking) (models.BookingStatus, effect) {
	if e.resolve != nil {
		return e.resolve(b)
	}
	return e.to, e.effect
}

func validAction(a models.Action) bool {
	for i := range transitionTable {
		if transitionTable[i].action == a {
			return true
		}
	}
	return false
}

func requireBothCheckIns(b *models.Booking, _ time.Time) error {
	if b.CustomerCheckIn == nil || b.ModelCheckIn == nil {
		return errors.NewTransitionError(string(b.Status), string(models.ActionStart), "both parties must check in first")
	}
	return nil
}

func requireConfirmationDeadlinePassed(b *models.Booking, now time.Time) error {
	if b.ConfirmationDeadline == nil || now.Before(*b.ConfirmationDeadline) {
		return errors.NewTransitionError(string(b.Status), string(models.ActionAutoComplete), "confirmation window is still open")
	}
	return nil
}

func requireWithinConfirmationWindow(b *models.Booking, now time.Time) error {
	if b.ConfirmationDeadline == nil || !now.Before(*b.ConfirmationDeadline) {
		return fmt.Errorf("%w: confirmation window has closed", errors.ErrWindowExpired)
	}
	return nil
}

func requireCheckInDeadlinePassed(b *models.Booking, now time.Time) error {
	if now.Before(b.CheckInDeadline) {
		return errors.NewTransitionError(string(b.Status), string(models.ActionExpireCheckIn), "check-in window is still open")
	}
	return nil
}

// resolveExpiredCheckIn escalates a one-sided check-in and refunds a booking
// neither party showed up for.
func resolveExpiredCheckIn(b *models.Booking) (models.BookingStatus, effect) {
	if b.CustomerCheckIn != nil || b.ModelCheckIn != nil {
		return models.BookingStatusDisputed, effectFreeze
	}
	return models.BookingStatusCancelled, effectRefund
}
