package seats

import (
	"crypto/rand"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/md-rashed-zaman/schoolportal/services/school-service/internal/accounts"
	"github.com/md-rashed-zaman/schoolportal/services/school-service/internal/plans"
	"github.com/md-rashed-zaman/schoolportal/services/school-service/internal/subscriptions"
	"golang.org/x/crypto/bcrypt"
)

const SecretLength = 6

// Look-alike characters (0/O, 1/l/I) are left out.
const secretAlphabet = "abcdefghijkmnpqrstuvwxyzABCDEFGHJKLMNPQRSTUVWXYZ23456789"

// CheckEligible reports whether the account may provision seats at all:
// its profile is complete and its subscription is active and unexpired.
func CheckEligible(a *accounts.Account, now time.Time) error {
	if !a.ProfileComplete() {
		return accounts.ErrProfileIncomplete
	}
	if !a.Subscription.Active {
		return accounts.ErrSubscriptionInactive
	}
	if subscriptions.Status(a.Subscription, now).State == subscriptions.StateExpired {
		return accounts.ErrSubscriptionExpired
	}
	return nil
}

// CanAddSeat reports why a seat cannot be added, or nil if it can.
func CanAddSeat(a *accounts.Account, now time.Time) error {
	if err := CheckEligible(a, now); err != nil {
		return err
	}
	limit, err := plans.SeatLimitOf(a.Subscription.Plan)
	if err != nil {
		return err
	}
	if len(a.Seats) >= limit {
		return fmt.Errorf("%w: %s allows %d seats", accounts.ErrQuotaExceeded, a.Subscription.Plan, limit)
	}
	return nil
}

// AddSeat appends a seat named admin{N+1} with a fresh id and secret. It
// does nothing and returns false when CanAddSeat fails. The seat is only
// staged on a; persisting it is the caller's job.
func AddSeat(a *accounts.Account, now time.Time) (accounts.Seat, bool) {
	if CanAddSeat(a, now) != nil {
		return accounts.Seat{}, false
	}
	seat := accounts.Seat{
		ID:     uuid.NewString(),
		Name:   nextName(a.Seats),
		Secret: NewSecret(),
	}
	a.Seats = append(a.Seats, seat)
	return seat, true
}

func nextName(existing []accounts.Seat) string {
	taken := make(map[string]struct{}, len(existing))
	for _, s := range existing {
		taken[s.Name] = struct{}{}
	}
	for n := len(existing) + 1; ; n++ {
		name := "admin" + strconv.Itoa(n)
		if _, ok := taken[name]; !ok {
			return name
		}
	}
}

// NewSecret returns a random SecretLength character credential.
func NewSecret() string {
	s, err := newSecret(rand.Reader)
	if err != nil {
		panic(fmt.Sprintf("seat secret: %v", err))
	}
	return s
}

// newSecret draws characters by rejection sampling so every character of
// secretAlphabet is equally likely.
func newSecret(r io.Reader) (string, error) {
	limit := 256 - 256%len(secretAlphabet)
	out := make([]byte, 0, SecretLength)
	buf := make([]byte, SecretLength)
	for len(out) < SecretLength {
		if _, err := io.ReadFull(r, buf); err != nil {
			return "", err
		}
		for _, v := range buf {
			if int(v) >= limit {
				continue
			}
			out = append(out, secretAlphabet[int(v)%len(secretAlphabet)])
			if len(out) == SecretLength {
				break
			}
		}
	}
	return string(out), nil
}

func RenameSeat(a *accounts.Account, index int, name string) error {
	if index < 0 || index >= len(a.Seats) {
		return fmt.Errorf("%w: no seat at position %d", accounts.ErrInvalidSeat, index)
	}
	a.Seats[index].Name = name
	return nil
}

// SetSeatSecret stages a new cleartext secret; it is hashed on save.
func SetSeatSecret(a *accounts.Account, index int, secret string) error {
	if index < 0 || index >= len(a.Seats) {
		return fmt.Errorf("%w: no seat at position %d", accounts.ErrInvalidSeat, index)
	}
	a.Seats[index].Secret = secret
	return nil
}

// ValidateForSave checks the staged seat list: names are non-blank and
// pairwise distinct, every seat has a credential, and the count fits the plan.
func ValidateForSave(a *accounts.Account) error {
	seen := make(map[string]struct{}, len(a.Seats))
	for i, s := range a.Seats {
		name := strings.TrimSpace(s.Name)
		if name == "" {
			return fmt.Errorf("%w: seat %d has no name", accounts.ErrInvalidSeat, i+1)
		}
		if _, dup := seen[name]; dup {
			return fmt.Errorf("%w: %q", accounts.ErrDuplicateSeatName, name)
		}
		seen[name] = struct{}{}
		if s.Secret == "" && s.SecretHash == "" {
			return fmt.Errorf("%w: seat %q has no secret", accounts.ErrInvalidSeat, name)
		}
	}
	if len(a.Seats) == 0 {
		return nil
	}
	if !a.Subscription.Active {
		return accounts.ErrSubscriptionInactive
	}
	limit, err := plans.SeatLimitOf(a.Subscription.Plan)
	if err != nil {
		return err
	}
	if len(a.Seats) > limit {
		return fmt.Errorf("%w: %d seats, %s allows %d", accounts.ErrQuotaExceeded, len(a.Seats), a.Subscription.Plan, limit)
	}
	return nil
}

// PrepareForSave trims names and replaces pending cleartext secrets with
// bcrypt hashes.
func PrepareForSave(a *accounts.Account, cost int) error {
	for i := range a.Seats {
		a.Seats[i].Name = strings.TrimSpace(a.Seats[i].Name)
		if a.Seats[i].Secret == "" {
			continue
		}
		hash, err := bcrypt.GenerateFromPassword([]byte(a.Seats[i].Secret), cost)
		if err != nil {
			return fmt.Errorf("hash seat secret: %w", err)
		}
		a.Seats[i].SecretHash = string(hash)
		a.Seats[i].Secret = ""
	}
	return nil
}

func VerifySecret(s accounts.Seat, candidate string) bool {
	if s.SecretHash == "" || candidate == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(s.SecretHash), []byte(candidate)) == nil
}

// DeleteSeat removes the seat with id and reports whether one was removed.
func DeleteSeat(a *accounts.Account, id string) bool {
	for i, s := range a.Seats {
		if s.ID == id {
			a.Seats = append(a.Seats[:i:i], a.Seats[i+1:]...)
			return true
		}
	}
	return false
}
