package handler

import (
	"log/slog"
	"net/http"

	"github.com/riteshkumar/booking-escrow/internal/errors"
	u "github.com/riteshkumar/booking-escrow/internal/utils"
)

var statusByKind = map[errors.Kind]int{
	errors.KindValidation:          http.StatusBadRequest,
	errors.KindTransition:          http.StatusConflict,
	errors.KindUnauthorizedActor:   http.StatusForbidden,
	errors.KindInsufficientBalance: http.StatusUnprocessableEntity,
	errors.KindStaleState:          http.StatusConflict,
	errors.KindOutOfRange:          http.StatusUnprocessableEntity,
	errors.KindWindowExpired:       http.StatusUnprocessableEntity,
	errors.KindNotFound:            http.StatusNotFound,
	errors.KindConflict:            http.StatusConflict,
}

// handleServiceError maps an error kind to a status code. Processing errors are
// logged and answered with a generic message.
func handleServiceError(logger *slog.Logger, w http.ResponseWriter, err error, operation string) {
	kind := errors.KindOf(err)
	if status, ok := statusByKind[kind]; ok {
		u.WriteError(w, status, string(kind), err.Error())
		return
	}
	logger.Error("internal server error during "+operation, "error", err.Error())
	u.WriteError(w, http.StatusInternalServerError, string(errors.KindProcessing), "internal server error")
}

func writeBadPayload(logger *slog.Logger, w http.ResponseWriter, err error, operation string) {
	logger.Warn("invalid "+operation+" request", "error", err.Error())
	u.WriteError(w, http.StatusBadRequest, string(errors.KindValidation), "invalid request payload: "+err.Error())
}
