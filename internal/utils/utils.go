package utils

import (
	"encoding/json"
	"net/http"

	"github.com/riteshkumar/booking-escrow/internal/models"
)

func WriteJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

// WriteError writes the structured failure result {success:false, kind, message}.
func WriteError(w http.ResponseWriter, status int, kind, message string) {
	response := models.ErrorResponse{
		Success: false,
		Kind:    kind,
		Message: message,
	}
	WriteJSON(w, status, response)
}

// DecodeJSON decodes the request body into dst, rejecting unknown fields.
func DecodeJSON(r *http.Request, dst interface{}) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}
