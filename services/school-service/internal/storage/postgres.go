package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/md-rashed-zaman/schoolportal/libs/db"
	"github.com/md-rashed-zaman/schoolportal/services/school-service/internal/accounts"
	"github.com/md-rashed-zaman/schoolportal/services/school-service/internal/outbox"
	"github.com/md-rashed-zaman/schoolportal/services/school-service/internal/plans"
)

type Postgres struct {
	pool    *db.Pool
	outbox  *outbox.Repository
	timeout time.Duration
}

func NewPostgres(pool *db.Pool, outboxRepo *outbox.Repository, timeout time.Duration) *Postgres {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Postgres{pool: pool, outbox: outboxRepo, timeout: timeout}
}

// seatRecord is the persisted shape of a seat. Cleartext secrets never
// reach the database.
type seatRecord struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	SecretHash string `json:"secretHash"`
}

const accountColumns = `
	id, profile, sub_active, COALESCE(sub_plan, ''), sub_amount, sub_activated_at,
	COALESCE(sub_duration, ''), seats, version, created_at, updated_at`

func (s *Postgres) EnsureAccount(ctx context.Context, id string) (*accounts.Account, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	_, err := s.pool.Exec(ctx, `
		INSERT INTO accounts (id) VALUES ($1)
		ON CONFLICT (id) DO NOTHING
	`, id)
	if err != nil {
		return nil, translate("ensure account", err)
	}
	a, err := scanAccount(s.pool.QueryRow(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id = $1`, id))
	if err != nil {
		return nil, translate("ensure account", err)
	}
	return a, nil
}

func (s *Postgres) ReadAccount(ctx context.Context, id string) (*accounts.Account, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	a, err := scanAccount(s.pool.QueryRow(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id = $1`, id))
	if err != nil {
		return nil, translate("read account", err)
	}
	return a, nil
}

func (s *Postgres) MergeWrite(ctx context.Context, id string, patch Patch) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	n, err := mergeWrite(ctx, s.pool, id, patch)
	if err != nil {
		return translate("merge write", err)
	}
	if n == 0 {
		return accounts.ErrNotFound
	}
	return nil
}

func (s *Postgres) AppendInvoice(ctx context.Context, id string, inv accounts.Invoice) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	inv.AccountID = id
	if err := insertInvoice(ctx, s.pool, inv); err != nil {
		return translate("append invoice", err)
	}
	return nil
}

func (s *Postgres) WithAccount(ctx context.Context, id string, fn func(ctx context.Context, a *accounts.Account, tx Tx) error) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return translate("begin", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	a, err := scanAccount(tx.QueryRow(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		return translate("lock account", err)
	}
	if err := fn(ctx, a, &pgTx{tx: tx, accountID: id, outbox: s.outbox}); err != nil {
		return txError(err)
	}
	if err := tx.Commit(ctx); err != nil {
		return translate("commit", err)
	}
	return nil
}

func (s *Postgres) ListInvoices(ctx context.Context, id string) ([]accounts.Invoice, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	var exists bool
	if err := s.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM accounts WHERE id = $1)`, id).Scan(&exists); err != nil {
		return nil, translate("list invoices", err)
	}
	if !exists {
		return nil, accounts.ErrNotFound
	}

	rows, err := s.pool.Query(ctx, `
		SELECT id::text, account_id, plan, amount, duration, status, school_name, mobile,
		       COALESCE(idempotency_key, ''), issued_at
		FROM invoices
		WHERE account_id = $1
		ORDER BY seq
	`, id)
	if err != nil {
		return nil, translate("list invoices", err)
	}
	defer rows.Close()

	var out []accounts.Invoice
	for rows.Next() {
		var inv accounts.Invoice
		var plan, duration, status string
		if err := rows.Scan(&inv.ID, &inv.AccountID, &plan, &inv.Amount, &duration, &status, &inv.SchoolName, &inv.Mobile, &inv.IdempotencyKey, &inv.IssuedAt); err != nil {
			return nil, translate("list invoices", err)
		}
		inv.Plan = plans.Name(plan)
		inv.Duration = plans.Duration(duration)
		inv.Status = accounts.InvoiceStatus(status)
		out = append(out, inv)
	}
	if err := rows.Err(); err != nil {
		return nil, translate("list invoices", err)
	}
	return out, nil
}

func (s *Postgres) ListSchools(ctx context.Context) ([]accounts.SchoolSummary, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	rows, err := s.pool.Query(ctx, `
		SELECT id, COALESCE(profile->>'name', '')
		FROM accounts
		WHERE profile IS NOT NULL
		ORDER BY profile->>'name', id
	`)
	if err != nil {
		return nil, translate("list schools", err)
	}
	defer rows.Close()

	var out []accounts.SchoolSummary
	for rows.Next() {
		var sc accounts.SchoolSummary
		if err := rows.Scan(&sc.ID, &sc.Name); err != nil {
			return nil, translate("list schools", err)
		}
		out = append(out, sc)
	}
	if err := rows.Err(); err != nil {
		return nil, translate("list schools", err)
	}
	return out, nil
}

type pgTx struct {
	tx        pgx.Tx
	accountID string
	outbox    *outbox.Repository
}

func (t *pgTx) MergeWrite(ctx context.Context, patch Patch) error {
	if patch.Empty() {
		return nil
	}
	if _, err := mergeWrite(ctx, t.tx, t.accountID, patch); err != nil {
		return translate("merge write", err)
	}
	return nil
}

func (t *pgTx) AppendInvoice(ctx context.Context, inv accounts.Invoice) error {
	inv.AccountID = t.accountID
	if err := insertInvoice(ctx, t.tx, inv); err != nil {
		return translate("append invoice", err)
	}
	return nil
}

func (t *pgTx) Enqueue(ctx context.Context, evts ...outbox.Event) error {
	for _, evt := range evts {
		if err := t.outbox.Insert(ctx, t.tx, evt); err != nil {
			return translate("enqueue", err)
		}
	}
	return nil
}

func (t *pgTx) ClaimIdempotencyKey(ctx context.Context, key string) (bool, error) {
	tag, err := t.tx.Exec(ctx, `
		INSERT INTO idempotency_keys (account_id, key)
		VALUES ($1, $2)
		ON CONFLICT (account_id, key) DO NOTHING
	`, t.accountID, key)
	if err != nil {
		return false, translate("claim idempotency key", err)
	}
	return tag.RowsAffected() == 1, nil
}

type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

func mergeWrite(ctx context.Context, q execer, id string, patch Patch) (int64, error) {
	var sets []string
	args := []any{id}
	add := func(column string, value any) {
		args = append(args, value)
		sets = append(sets, column+" = $"+strconv.Itoa(len(args)))
	}

	if patch.Profile != nil {
		raw, err := json.Marshal(patch.Profile)
		if err != nil {
			return 0, err
		}
		add("profile", raw)
	}
	if sub := patch.Subscription; sub != nil {
		add("sub_active", sub.Active)
		add("sub_plan", nullIfEmpty(string(sub.Plan)))
		add("sub_amount", sub.Amount)
		add("sub_activated_at", sub.ActivatedAt)
		add("sub_duration", nullIfEmpty(string(sub.Duration)))
	}
	if patch.Seats != nil {
		records := make([]seatRecord, 0, len(*patch.Seats))
		for _, seat := range *patch.Seats {
			records = append(records, seatRecord{ID: seat.ID, Name: seat.Name, SecretHash: seat.SecretHash})
		}
		raw, err := json.Marshal(records)
		if err != nil {
			return 0, err
		}
		add("seats", raw)
	}
	sets = append(sets, "version = version + 1", "updated_at = now()")

	tag, err := q.Exec(ctx, `UPDATE accounts SET `+strings.Join(sets, ", ")+` WHERE id = $1`, args...)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func insertInvoice(ctx context.Context, q execer, inv accounts.Invoice) error {
	_, err := q.Exec(ctx, `
		INSERT INTO invoices (id, account_id, plan, amount, duration, status, school_name, mobile, idempotency_key, issued_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, inv.ID, inv.AccountID, string(inv.Plan), inv.Amount, string(inv.Duration), string(inv.Status),
		inv.SchoolName, inv.Mobile, nullIfEmpty(inv.IdempotencyKey), inv.IssuedAt)
	return err
}

func scanAccount(row pgx.Row) (*accounts.Account, error) {
	var a accounts.Account
	var profile, seats []byte
	var plan, duration string
	var activatedAt *time.Time
	if err := row.Scan(&a.ID, &profile, &a.Subscription.Active, &plan, &a.Subscription.Amount, &activatedAt,
		&duration, &seats, &a.Version, &a.CreatedAt, &a.UpdatedAt); err != nil {
		return nil, err
	}
	a.Subscription.Plan = plans.Name(plan)
	a.Subscription.Duration = plans.Duration(duration)
	a.Subscription.ActivatedAt = activatedAt

	if len(profile) > 0 {
		var p accounts.SchoolProfile
		if err := json.Unmarshal(profile, &p); err != nil {
			return nil, fmt.Errorf("decode profile: %w", err)
		}
		a.Profile = &p
	}
	var records []seatRecord
	if err := json.Unmarshal(seats, &records); err != nil {
		return nil, fmt.Errorf("decode seats: %w", err)
	}
	for _, r := range records {
		a.Seats = append(a.Seats, accounts.Seat{ID: r.ID, Name: r.Name, SecretHash: r.SecretHash})
	}
	return &a, nil
}

// txError passes domain errors from a transaction body through and turns
// connection loss into ErrStoreUnavailable.
func txError(err error) error {
	if errors.Is(err, accounts.ErrStoreUnavailable) {
		return err
	}
	if db.IsUnavailable(err) || errors.Is(err, pgx.ErrTxClosed) {
		return translate("account transaction", err)
	}
	return err
}

func translate(op string, err error) error {
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		return accounts.ErrNotFound
	case db.IsUnavailable(err) || errors.Is(err, pgx.ErrTxClosed):
		return fmt.Errorf("%s: %w: %w", op, accounts.ErrStoreUnavailable, err)
	default:
		return fmt.Errorf("%s: %w", op, err)
	}
}

func nullIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
