package httpx

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/vereinskasse/vereinskasse/internal/shared"
)

// StatusLocked is returned for mutations against locked transactions.
const StatusLocked = http.StatusLocked

// RespondError maps domain errors to HTTP responses using RFC7807. Storage
// failures are logged and answered with a generic retry-later message.
func RespondError(w http.ResponseWriter, logger *slog.Logger, err error) {
	var fieldErr *shared.FieldError
	var countErr *shared.CountMismatchError
	if logger != nil && shared.IsBusiness(err) {
		logger.Warn("request rejected", slog.Any("error", err))
	}
	switch {
	case errors.As(err, &countErr):
		JSON(w, http.StatusConflict, ProblemDetail{
			Type:      "count-mismatch",
			Title:     "Unchecked Transactions Remain",
			Status:    http.StatusConflict,
			Detail:    countErr.Error(),
			Remaining: countErr.Remaining,
		})
	case errors.As(err, &fieldErr):
		JSON(w, http.StatusUnprocessableEntity, ProblemDetail{
			Type:   "validation",
			Title:  "Validation Failed",
			Status: http.StatusUnprocessableEntity,
			Detail: err.Error(),
			Field:  fieldErr.Field,
		})
	case errors.Is(err, shared.ErrValidation):
		Problem(w, http.StatusUnprocessableEntity, "Validation Failed", err.Error())
	case errors.Is(err, shared.ErrNotFound):
		Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, shared.ErrDuplicateKey):
		Problem(w, http.StatusConflict, "Duplicate", err.Error())
	case errors.Is(err, shared.ErrInvalidState):
		Problem(w, http.StatusConflict, "Invalid State", err.Error())
	case errors.Is(err, shared.ErrLocked):
		Problem(w, StatusLocked, "Locked", err.Error())
	case errors.Is(err, shared.ErrForbidden):
		Problem(w, http.StatusForbidden, "Forbidden", err.Error())
	case errors.Is(err, shared.ErrStorage):
		if logger != nil {
			logger.Error("storage failure", slog.Any("error", err))
		}
		Problem(w, http.StatusServiceUnavailable, "Storage Unavailable", "The request could not be saved. Please try again later.")
	default:
		if logger != nil {
			logger.Error("unhandled error", slog.Any("error", err))
		}
		Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}
