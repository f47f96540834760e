package storage

import (
	"context"
	"time"

	"github.com/md-rashed-zaman/schoolportal/services/school-service/internal/accounts"
	"github.com/md-rashed-zaman/schoolportal/services/school-service/internal/outbox"
)

const DefaultTimeout = 5 * time.Second

// Patch is a typed partial update of an account. Nil fields are left as is.
type Patch struct {
	Profile      *accounts.SchoolProfile
	Subscription *accounts.Subscription
	Seats        *[]accounts.Seat
}

func (p Patch) Empty() bool {
	return p.Profile == nil && p.Subscription == nil && p.Seats == nil
}

// Apply merges p into a and bumps its version.
func (p Patch) Apply(a *accounts.Account, now time.Time) {
	if p.Profile != nil {
		profile := *p.Profile
		a.Profile = &profile
	}
	if p.Subscription != nil {
		a.Subscription = *p.Subscription
	}
	if p.Seats != nil {
		seats := make([]accounts.Seat, len(*p.Seats))
		for i, s := range *p.Seats {
			s.Secret = ""
			seats[i] = s
		}
		a.Seats = seats
	}
	a.Version++
	a.UpdatedAt = now
}

// Tx is the write side of WithAccount. All writes commit together when the
// callback returns nil and are discarded otherwise.
type Tx interface {
	MergeWrite(ctx context.Context, patch Patch) error
	AppendInvoice(ctx context.Context, inv accounts.Invoice) error
	Enqueue(ctx context.Context, evts ...outbox.Event) error
	// ClaimIdempotencyKey records key for the account and reports whether
	// it was new.
	ClaimIdempotencyKey(ctx context.Context, key string) (bool, error)
}

// Store persists accounts and their invoice ledgers. Failures to reach the
// backend within the configured timeout surface as accounts.ErrStoreUnavailable.
type Store interface {
	EnsureAccount(ctx context.Context, id string) (*accounts.Account, error)
	ReadAccount(ctx context.Context, id string) (*accounts.Account, error)
	// MergeWrite is last-writer-wins; use WithAccount for read-modify-write.
	MergeWrite(ctx context.Context, id string, patch Patch) error
	AppendInvoice(ctx context.Context, id string, inv accounts.Invoice) error
	// WithAccount locks the account for the duration of fn. fn receives a
	// private copy of the account.
	WithAccount(ctx context.Context, id string, fn func(ctx context.Context, a *accounts.Account, tx Tx) error) error
	ListInvoices(ctx context.Context, id string) ([]accounts.Invoice, error)
	ListSchools(ctx context.Context) ([]accounts.SchoolSummary, error)
}
