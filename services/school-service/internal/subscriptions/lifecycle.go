package subscriptions

import (
	"fmt"
	"time"

	"github.com/md-rashed-zaman/schoolportal/services/school-service/internal/accounts"
	"github.com/md-rashed-zaman/schoolportal/services/school-service/internal/plans"
)

type State string

const (
	StateInactive State = "inactive"
	StateActive   State = "active"
	StateExpired  State = "expired"
)

// Snapshot is the read-time view of a subscription. Expiry is never stored.
type Snapshot struct {
	State     State
	EndsAt    *time.Time
	Remaining string
}

// EndDate adds one calendar month or year to activatedAt. When the target
// month is shorter the day is clamped to its last day, so Jan 31 + 1 month
// is the last day of February and Feb 29 + 1 year is Feb 28. The calendar
// is always UTC, whatever location activatedAt carries.
func EndDate(activatedAt time.Time, d plans.Duration) (time.Time, error) {
	activatedAt = activatedAt.UTC()
	switch d {
	case plans.Monthly:
		return addMonthsClamped(activatedAt, 1), nil
	case plans.Yearly:
		return addMonthsClamped(activatedAt, 12), nil
	default:
		return time.Time{}, fmt.Errorf("%w: unknown duration %q", plans.ErrInvalidPlan, d)
	}
}

func addMonthsClamped(t time.Time, months int) time.Time {
	year, month, day := t.Date()
	hour, min, sec := t.Clock()
	target := time.Date(year, month+time.Month(months), 1, 0, 0, 0, 0, t.Location())
	if last := daysIn(target.Year(), target.Month(), t.Location()); day > last {
		day = last
	}
	return time.Date(target.Year(), target.Month(), day, hour, min, sec, t.Nanosecond(), t.Location())
}

func daysIn(year int, month time.Month, loc *time.Location) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, loc).Day()
}

// CanActivate reports whether current may move to (target, d). An inactive
// subscription may take any plan. An active one may move to a strictly
// higher rank, or switch duration on the same plan. Expiry is not
// considered: a lapsed account can always re-subscribe.
func CanActivate(current accounts.Subscription, target plans.Name, d plans.Duration) error {
	tier, err := plans.Lookup(target)
	if err != nil {
		return err
	}
	if !d.Valid() {
		return fmt.Errorf("%w: unknown duration %q", plans.ErrInvalidPlan, d)
	}
	if !current.Active {
		return nil
	}
	currentRank, err := plans.RankOf(current.Plan)
	if err != nil {
		return fmt.Errorf("current subscription: %w", err)
	}
	if tier.Rank > currentRank {
		return nil
	}
	if target == current.Plan && d != current.Duration {
		return nil
	}
	return fmt.Errorf("%w: %s/%s to %s/%s", accounts.ErrUpgradeNotAllowed, current.Plan, current.Duration, target, d)
}

func Activate(current accounts.Subscription, target plans.Name, d plans.Duration, now time.Time) (accounts.Subscription, error) {
	if err := CanActivate(current, target, d); err != nil {
		return accounts.Subscription{}, err
	}
	amount, err := plans.PriceOf(target, d)
	if err != nil {
		return accounts.Subscription{}, err
	}
	at := now.UTC()
	return accounts.Subscription{
		Active:      true,
		Plan:        target,
		Amount:      amount,
		ActivatedAt: &at,
		Duration:    d,
	}, nil
}

// Remaining renders the time left as "{days}d {hours}h left", or "Expired"
// once now has reached the end date.
func Remaining(activatedAt time.Time, d plans.Duration, now time.Time) string {
	end, err := EndDate(activatedAt, d)
	if err != nil || !now.Before(end) {
		return "Expired"
	}
	left := end.Sub(now)
	days := int(left / (24 * time.Hour))
	hours := int((left % (24 * time.Hour)) / time.Hour)
	return fmt.Sprintf("%dd %dh left", days, hours)
}

// Status derives the subscription state at now. The subscription counts as
// expired only once now is past the end date; at the end instant itself it
// is still active though Remaining already reads "Expired".
func Status(sub accounts.Subscription, now time.Time) Snapshot {
	if !sub.Active || sub.ActivatedAt == nil {
		return Snapshot{State: StateInactive}
	}
	end, err := EndDate(*sub.ActivatedAt, sub.Duration)
	if err != nil {
		return Snapshot{State: StateExpired, Remaining: "Expired"}
	}
	snap := Snapshot{
		State:     StateActive,
		EndsAt:    &end,
		Remaining: Remaining(*sub.ActivatedAt, sub.Duration, now),
	}
	if now.After(end) {
		snap.State = StateExpired
	}
	return snap
}
