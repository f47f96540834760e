package invoices

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/md-rashed-zaman/schoolportal/services/school-service/internal/accounts"
	"github.com/md-rashed-zaman/schoolportal/services/school-service/internal/outbox"
	"github.com/md-rashed-zaman/schoolportal/services/school-service/internal/storage"
)

// NewInvoice records the payment for an activated subscription, with the
// buyer details as they were at issue time.
func NewInvoice(sub accounts.Subscription, profile *accounts.SchoolProfile, now time.Time, idempotencyKey string) (accounts.Invoice, error) {
	if !sub.Active {
		return accounts.Invoice{}, accounts.ErrSubscriptionInactive
	}
	inv := accounts.Invoice{
		ID:             uuid.NewString(),
		Plan:           sub.Plan,
		Amount:         sub.Amount,
		Duration:       sub.Duration,
		IssuedAt:       now.UTC(),
		Status:         accounts.InvoicePaid,
		IdempotencyKey: idempotencyKey,
	}
	if profile != nil {
		inv.SchoolName = profile.Name
		inv.Mobile = profile.Mobile
	}
	return inv, nil
}

type issuedPayload struct {
	InvoiceID string    `json:"invoice_id"`
	AccountID string    `json:"account_id"`
	Plan      string    `json:"plan"`
	Amount    int       `json:"amount"`
	Duration  string    `json:"duration"`
	Status    string    `json:"status"`
	IssuedAt  time.Time `json:"issued_at"`
}

// Append adds inv to the account's ledger within tx and queues an
// invoice-issued event. Invoices are never updated or removed.
func Append(ctx context.Context, tx storage.Tx, accountID string, inv accounts.Invoice) error {
	inv.AccountID = accountID
	if err := tx.AppendInvoice(ctx, inv); err != nil {
		return fmt.Errorf("append invoice: %w", err)
	}
	evt, err := outbox.NewAccountEvent(accountID, outbox.InvoiceIssued, issuedPayload{
		InvoiceID: inv.ID,
		AccountID: accountID,
		Plan:      string(inv.Plan),
		Amount:    inv.Amount,
		Duration:  string(inv.Duration),
		Status:    string(inv.Status),
		IssuedAt:  inv.IssuedAt,
	})
	if err != nil {
		return err
	}
	return tx.Enqueue(ctx, evt)
}

// Ledger reads an account's invoices in insertion order.
type Ledger struct {
	store storage.Store
}

func NewLedger(store storage.Store) *Ledger {
	return &Ledger{store: store}
}

func (l *Ledger) List(ctx context.Context, accountID string) ([]accounts.Invoice, error) {
	return l.store.ListInvoices(ctx, accountID)
}
