// Package api is the HTTP surface of the IronLayer control plane.
// Every error response is a `{"detail": "..."}` JSON body with the
// appropriate status code; internal error text is logged, never sent.
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/ironlayer/ironlayer/pkg/auth"
	"github.com/ironlayer/ironlayer/pkg/plans"
	"github.com/ironlayer/ironlayer/pkg/repository"
)

// detailBody is the single error envelope the API emits.
type detailBody struct {
	Detail string `json:"detail"`
}

// WriteDetail writes the error envelope with the given status.
func WriteDetail(w http.ResponseWriter, status int, detail string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(detailBody{Detail: detail})
}

// WriteJSON writes a success payload.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// WriteBadRequest writes a 400 response.
func WriteBadRequest(w http.ResponseWriter, detail string) {
	WriteDetail(w, http.StatusBadRequest, detail)
}

// WriteUnauthorized writes a 401 response.
func WriteUnauthorized(w http.ResponseWriter, detail string) {
	if detail == "" {
		detail = "Authentication required"
	}
	WriteDetail(w, http.StatusUnauthorized, detail)
}

// WriteForbidden writes a 403 response.
func WriteForbidden(w http.ResponseWriter, detail string) {
	if detail == "" {
		detail = "Insufficient permissions"
	}
	WriteDetail(w, http.StatusForbidden, detail)
}

// WritePaymentRequired writes a 402 response, used when a tier lacks a
// feature or a budget quota is exhausted.
func WritePaymentRequired(w http.ResponseWriter, detail string) {
	WriteDetail(w, http.StatusPaymentRequired, detail)
}

// WriteNotFound writes a 404 response.
func WriteNotFound(w http.ResponseWriter, detail string) {
	WriteDetail(w, http.StatusNotFound, detail)
}

// WriteConflict writes a 409 response.
func WriteConflict(w http.ResponseWriter, detail string) {
	WriteDetail(w, http.StatusConflict, detail)
}

// WriteUnprocessable writes a 422 response.
func WriteUnprocessable(w http.ResponseWriter, detail string) {
	WriteDetail(w, http.StatusUnprocessableEntity, detail)
}

// WriteTooManyRequests writes a 429 response with a Retry-After header.
func WriteTooManyRequests(w http.ResponseWriter, retryAfter, detail string) {
	if retryAfter != "" {
		w.Header().Set("Retry-After", retryAfter)
	}
	if detail == "" {
		detail = "Rate limit exceeded"
	}
	WriteDetail(w, http.StatusTooManyRequests, detail)
}

// WriteInternal writes a 500 response. The error is logged and never
// exposed to the client.
func WriteInternal(w http.ResponseWriter, err error) {
	slog.Error("internal server error", "error", err)
	WriteDetail(w, http.StatusInternalServerError, "An unexpected error occurred")
}

// writeServiceError maps sentinel errors from the service and
// repository layers onto status codes. Anything unrecognized is a 500.
func writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, repository.ErrNotFound) || errors.Is(err, plans.ErrNotFound):
		WriteNotFound(w, "Resource not found")
	case errors.Is(err, repository.ErrConflict):
		WriteConflict(w, "Resource already exists")
	case errors.Is(err, plans.ErrForbidden):
		WriteForbidden(w, err.Error())
	case errors.Is(err, plans.ErrAlreadyApproved):
		WriteConflict(w, err.Error())
	case errors.Is(err, plans.ErrNotApproved):
		WriteConflict(w, err.Error())
	case errors.Is(err, plans.ErrContractBlocked):
		WriteUnprocessable(w, err.Error())
	case errors.Is(err, plans.ErrQuotaExceeded):
		WriteTooManyRequests(w, "", err.Error())
	case errors.Is(err, plans.ErrLicense):
		WritePaymentRequired(w, err.Error())
	case errors.Is(err, auth.ErrExpiredToken) || errors.Is(err, auth.ErrRevokedToken):
		WriteForbidden(w, "Token expired or revoked")
	case errors.Is(err, auth.ErrInvalidToken):
		WriteUnauthorized(w, "Invalid token")
	default:
		WriteInternal(w, err)
	}
}
