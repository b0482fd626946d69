package api

import (
	"errors"
	"net/http"

	"github.com/ara-foundation/ledger"
)

// errorResponse is the body of every failed request.
type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// badRequest reports a malformed request parameter.
func badRequest(field, message string) error {
	return ledger.ValidationError{Field: field, Message: message}
}

// statusFor maps engine errors to an HTTP status and a stable error code.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, ledger.ErrInsufficientBalance):
		return http.StatusPaymentRequired, "insufficient_balance"
	case errors.Is(err, ledger.ErrIssueNotFound):
		return http.StatusNotFound, "issue_not_found"
	case errors.Is(err, ledger.ErrUnknownImplementation):
		return http.StatusNotFound, "unknown_implementation"
	case errors.Is(err, ledger.ErrProjectNotRegistered):
		return http.StatusNotFound, "project_not_registered"
	case errors.Is(err, ledger.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, ledger.ErrNotInProductionPhase):
		return http.StatusConflict, "not_in_production"
	case errors.Is(err, ledger.ErrConcurrentModification):
		return http.StatusConflict, "conflict"
	case errors.Is(err, ledger.ErrAlreadyExists):
		return http.StatusConflict, "already_exists"
	case errors.Is(err, ledger.ErrNoIncentiveProvided):
		return http.StatusBadRequest, "no_incentive"
	case errors.Is(err, ledger.ErrInvalidAmount):
		return http.StatusBadRequest, "invalid_amount"
	case errors.Is(err, ledger.ErrInvalidInput):
		return http.StatusBadRequest, "invalid_input"
	}
	return http.StatusInternalServerError, "internal"
}

// writeError writes err as a JSON error response.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := statusFor(err)
	if status == http.StatusInternalServerError {
		s.logger.Error("request failed",
			"method", r.Method,
			"path", r.URL.Path,
			"error", err,
		)
	}
	writeJSON(w, status, errorResponse{Error: code, Message: err.Error()})
}
