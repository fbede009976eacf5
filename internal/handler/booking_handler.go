package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/riteshkumar/booking-escrow/internal/models"
	u "github.com/riteshkumar/booking-escrow/internal/utils"
)

type BookingService interface {
	CreateBooking(ctx context.Context, actor models.Actor, req *models.CreateBookingRequest) (*models.Booking, error)
	Transition(ctx context.Context, bookingID string, actor models.Actor, action models.Action) (*models.Booking, error)
	GetBooking(ctx context.Context, actor models.Actor, bookingID string) (*models.Booking, error)
	GetBookingHistory(ctx context.Context, actor models.Actor, actorID string) ([]*models.Booking, error)
	ListAudit(ctx context.Context, actor models.Actor, bookingID string) ([]*models.AuditLog, error)
}

type CheckInService interface {
	CheckIn(ctx context.Context, bookingID string, actor models.Actor, coords models.Coordinates, at time.Time) (*models.Booking, error)
}

type BookingHandler struct {
	bookingService BookingService
	checkInService CheckInService
	logger         *slog.Logger
}

func NewBookingHandler(bookingService BookingService, checkInService CheckInService, logger *slog.Logger) *BookingHandler {
	return &BookingHandler{
		bookingService: bookingService,
		checkInService: checkInService,
		logger:         logger,
	}
}

func (h *BookingHandler) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/bookings", h.CreateBooking).Methods(http.MethodPost)
	router.HandleFunc("/bookings/{id}", h.GetBooking).Methods(http.MethodGet)
	router.HandleFunc("/bookings/{id}/transitions", h.Transition).Methods(http.MethodPost)
	router.HandleFunc("/bookings/{id}/check-ins", h.CheckIn).Methods(http.MethodPost)
	router.HandleFunc("/bookings/{id}/audit", h.ListAudit).Methods(http.MethodGet)
	router.HandleFunc("/actors/{id}/bookings", h.GetBookingHistory).Methods(http.MethodGet)
}

func (h *BookingHandler) CreateBooking(w http.ResponseWriter, r *http.Request) {
	var req models.CreateBookingRequest
	if err := u.DecodeJSON(r, &req); err != nil {
		writeBadPayload(h.logger, w, err, "create booking")
		return
	}

	booking, err := h.bookingService.CreateBooking(r.Context(), actorFromContext(r.Context()), &req)
	if err != nil {
		handleServiceError(h.logger, w, err, "create booking")
		return
	}

	u.WriteJSON(w, http.StatusCreated, booking)
}

func (h *BookingHandler) GetBooking(w http.ResponseWriter, r *http.Request) {
	booking, err := h.bookingService.GetBooking(r.Context(), actorFromContext(r.Context()), mux.Vars(r)["id"])
	if err != nil {
		handleServiceError(h.logger, w, err, "get booking")
		return
	}

	u.WriteJSON(w, http.StatusOK, booking)
}

func (h *BookingHandler) Transition(w http.ResponseWriter, r *http.Request) {
	var req models.TransitionRequest
	if err := u.DecodeJSON(r, &req); err != nil {
		writeBadPayload(h.logger, w, err, "transition")
		return
	}

	booking, err := h.bookingService.Transition(r.Context(), mux.Vars(r)["id"], actorFromContext(r.Context()), req.Action)
	if err != nil {
		handleServiceError(h.logger, w, err, "transition booking")
		return
	}

	u.WriteJSON(w, http.StatusOK, booking)
}

func (h *BookingHandler) CheckIn(w http.ResponseWriter, r *http.Request) {
	var req models.CheckInRequest
	if err := u.DecodeJSON(r, &req); err != nil {
		writeBadPayload(h.logger, w, err, "check in")
		return
	}

	var at time.Time
	if req.At != nil {
		at = *req.At
	}
	coords := models.Coordinates{Latitude: req.Latitude, Longitude: req.Longitude}

	booking, err := h.checkInService.CheckIn(r.Context(), mux.Vars(r)["id"], actorFromContext(r.Context()), coords, at)
	if err != nil {
		handleServiceError(h.logger, w, err, "check in")
		return
	}

	u.WriteJSON(w, http.StatusOK, booking)
}

func (h *BookingHandler) ListAudit(w http.ResponseWriter, r *http.Request) {
	logs, err := h.bookingService.ListAudit(r.Context(), actorFromContext(r.Context()), mux.Vars(r)["id"])
	if err != nil {
		handleServiceError(h.logger, w, err, "list audit")
		return
	}
	if logs == nil {
		logs = []*models.AuditLog{}
	}

	u.WriteJSON(w, http.StatusOK, logs)
}

func (h *BookingHandler) GetBookingHistory(w http.ResponseWriter, r *http.Request) {
	bookings, err := h.bookingService.GetBookingHistory(r.Context(), actorFromContext(r.Context()), mux.Vars(r)["id"])
	if err != nil {
		handleServiceError(h.logger, w, err, "get booking history")
		return
	}
	if bookings == nil {
		bookings = []*models.Booking{}
	}

	u.WriteJSON(w, http.StatusOK, bookings)
}
