package accounts

import (
	"time"

	"github.com/md-rashed-zaman/schoolportal/services/school-service/internal/plans"
)

// Caller is the authenticated account a request acts on behalf of.
type Caller struct {
	AccountID string
}

type Account struct {
	ID           string
	Profile      *SchoolProfile
	Subscription Subscription
	Seats        []Seat
	Version      int64
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

func (a *Account) ProfileComplete() bool {
	return a.Profile != nil
}

// Clone returns a copy whose slices and pointers are not shared with a.
func (a *Account) Clone() *Account {
	out := *a
	if a.Profile != nil {
		p := *a.Profile
		out.Profile = &p
	}
	if a.Subscription.ActivatedAt != nil {
		at := *a.Subscription.ActivatedAt
		out.Subscription.ActivatedAt = &at
	}
	out.Seats = append([]Seat(nil), a.Seats...)
	return &out
}

// Subscription is inactive exactly when Plan is empty.
type Subscription struct {
	Active      bool
	Plan        plans.Name
	Amount      int
	ActivatedAt *time.Time
	Duration    plans.Duration
}

// Seat is a delegated admin credential. Secret holds a cleartext value only
// between generation or reset and the next save; SecretHash is what persists.
type Seat struct {
	ID         string
	Name       string
	Secret     string
	SecretHash string
}

type InvoiceStatus string

const (
	InvoicePaid    InvoiceStatus = "paid"
	InvoicePending InvoiceStatus = "pending"
)

type Invoice struct {
	ID             string
	AccountID      string
	Plan           plans.Name
	Amount         int
	Duration       plans.Duration
	IssuedAt       time.Time
	Status         InvoiceStatus
	SchoolName     string
	Mobile         string
	IdempotencyKey string
}

// SchoolSummary is the public directory entry for an account.
type SchoolSummary struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}
