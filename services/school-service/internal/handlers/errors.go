package handlers

import (
	"errors"
	"net/http"

	"github.com/md-rashed-zaman/schoolportal/services/school-service/internal/accounts"
	"github.com/md-rashed-zaman/schoolportal/services/school-service/internal/plans"
)

// statusFor maps domain errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, plans.ErrInvalidPlan),
		errors.Is(err, accounts.ErrInvalidProfile),
		errors.Is(err, accounts.ErrInvalidSeat):
		return http.StatusBadRequest
	case errors.Is(err, accounts.ErrUpgradeNotAllowed),
		errors.Is(err, accounts.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, accounts.ErrDuplicateSeatName):
		return http.StatusUnprocessableEntity
	case errors.Is(err, accounts.ErrQuotaExceeded),
		errors.Is(err, accounts.ErrProfileIncomplete),
		errors.Is(err, accounts.ErrSubscriptionInactive),
		errors.Is(err, accounts.ErrSubscriptionExpired):
		return http.StatusForbidden
	case errors.Is(err, accounts.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, accounts.ErrStoreUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	code := statusFor(err)
	switch code {
	case http.StatusInternalServerError:
		h.logger.Error("request failed", "path", r.URL.Path, "err", err)
		http.Error(w, "internal error", code)
		return
	case http.StatusServiceUnavailable:
		w.Header().Set("Retry-After", "1")
		http.Error(w, "storage temporarily unavailable, retry", code)
		return
	}
	http.Error(w, err.Error(), code)
}
