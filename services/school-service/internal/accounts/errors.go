package accounts

import "errors"

var (
	ErrNotFound             = errors.New("account not found")
	ErrStoreUnavailable     = errors.New("store unavailable")
	ErrConflict             = errors.New("account was modified concurrently")
	ErrUpgradeNotAllowed    = errors.New("plan change is not an upgrade")
	ErrDuplicateSeatName    = errors.New("duplicate seat name")
	ErrQuotaExceeded        = errors.New("seat quota exceeded")
	ErrProfileIncomplete    = errors.New("school profile is incomplete")
	ErrSubscriptionInactive = errors.New("subscription is not active")
	ErrSubscriptionExpired  = errors.New("subscription has expired")
	ErrInvalidProfile       = errors.New("invalid school profile")
	ErrInvalidSeat          = errors.New("invalid seat")
)
