package storage

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/md-rashed-zaman/schoolportal/services/school-service/internal/accounts"
	"github.com/md-rashed-zaman/schoolportal/services/school-service/internal/outbox"
	"github.com/md-rashed-zaman/schoolportal/services/school-service/internal/plans"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// runStoreContract exercises the behaviour every Store implementation must share.
func runStoreContract(t *testing.T, s Store) {
	ctx := context.Background()

	t.Run("read missing account", func(t *testing.T) {
		_, err := s.ReadAccount(ctx, "missing-"+uuid.NewString())
		require.ErrorIs(t, err, accounts.ErrNotFound)
		err = s.WithAccount(ctx, "missing-"+uuid.NewString(), func(context.Context, *accounts.Account, Tx) error { return nil })
		require.ErrorIs(t, err, accounts.ErrNotFound)
	})

	t.Run("ensure is idempotent", func(t *testing.T) {
		id := uuid.NewString()
		a, err := s.EnsureAccount(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, id, a.ID)
		assert.False(t, a.ProfileComplete())
		assert.False(t, a.Subscription.Active)
		assert.Empty(t, a.Seats)

		again, err := s.EnsureAccount(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, a.Version, again.Version)
	})

	t.Run("merge write keeps untouched fields", func(t *testing.T) {
		id := uuid.NewString()
		start, err := s.EnsureAccount(ctx, id)
		require.NoError(t, err)

		profile := accounts.SchoolProfile{
			Name: "Lakeview High", ShortName: "LVH", Mobile: "9000000001",
			Address: accounts.Address{City: "Kochi", District: "Ernakulam", State: "Kerala"},
		}
		require.NoError(t, s.MergeWrite(ctx, id, Patch{Profile: &profile}))

		at := time.Date(2026, 1, 31, 10, 0, 0, 0, time.UTC)
		sub := accounts.Subscription{Active: true, Plan: plans.Pro, Amount: 999, ActivatedAt: &at, Duration: plans.Monthly}
		require.NoError(t, s.MergeWrite(ctx, id, Patch{Subscription: &sub}))

		got, err := s.ReadAccount(ctx, id)
		require.NoError(t, err)
		require.NotNil(t, got.Profile)
		assert.Equal(t, profile, *got.Profile)
		assert.Equal(t, plans.Pro, got.Subscription.Plan)
		assert.Equal(t, 999, got.Subscription.Amount)
		assert.True(t, got.Subscription.ActivatedAt.Equal(at))
		assert.Equal(t, start.Version+2, got.Version)

		require.ErrorIs(t, s.MergeWrite(ctx, "missing-"+uuid.NewString(), Patch{Profile: &profile}), accounts.ErrNotFound)
	})

	t.Run("seat secrets are not persisted in cleartext", func(t *testing.T) {
		id := uuid.NewString()
		_, err := s.EnsureAccount(ctx, id)
		require.NoError(t, err)

		seats := []accounts.Seat{{ID: uuid.NewString(), Name: "admin1", Secret: "abc123", SecretHash: "$2a$04$hash"}}
		require.NoError(t, s.MergeWrite(ctx, id, Patch{Seats: &seats}))

		got, err := s.ReadAccount(ctx, id)
		require.NoError(t, err)
		require.Len(t, got.Seats, 1)
		assert.Equal(t, "admin1", got.Seats[0].Name)
		assert.Empty(t, got.Seats[0].Secret)
		assert.Equal(t, "$2a$04$hash", got.Seats[0].SecretHash)
	})

	t.Run("invoices keep insertion order", func(t *testing.T) {
		id := uuid.NewString()
		_, err := s.EnsureAccount(ctx, id)
		require.NoError(t, err)

		base := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
		var want []string
		for i, p := range []plans.Name{plans.Pro, plans.Basic, plans.Institution} {
			inv := accounts.Invoice{
				ID: uuid.NewString(), Plan: p, Amount: 1 + i, Duration: plans.Monthly,
				Status: accounts.InvoicePaid, IssuedAt: base.Add(-time.Duration(i) * time.Hour),
			}
			want = append(want, inv.ID)
			require.NoError(t, s.AppendInvoice(ctx, id, inv))
		}

		got, err := s.ListInvoices(ctx, id)
		require.NoError(t, err)
		require.Len(t, got, 3)
		for i := range got {
			assert.Equal(t, want[i], got[i].ID)
			assert.Equal(t, id, got[i].AccountID)
		}

		_, err = s.ListInvoices(ctx, "missing-"+uuid.NewString())
		require.ErrorIs(t, err, accounts.ErrNotFound)
	})

	t.Run("failed transaction writes nothing", func(t *testing.T) {
		id := uuid.NewString()
		_, err := s.EnsureAccount(ctx, id)
		require.NoError(t, err)

		boom := errors.New("boom")
		err = s.WithAccount(ctx, id, func(ctx context.Context, a *accounts.Account, tx Tx) error {
			seats := []accounts.Seat{{ID: uuid.NewString(), Name: "admin1", SecretHash: "h"}}
			require.NoError(t, tx.MergeWrite(ctx, Patch{Seats: &seats}))
			require.NoError(t, tx.AppendInvoice(ctx, accounts.Invoice{
				ID: uuid.NewString(), Plan: plans.Basic, Amount: 499, Duration: plans.Monthly,
				Status: accounts.InvoicePaid, IssuedAt: time.Now().UTC(),
			}))
			claimed, err := tx.ClaimIdempotencyKey(ctx, "k-1")
			require.NoError(t, err)
			require.True(t, claimed)
			return boom
		})
		require.ErrorIs(t, err, boom)

		got, err := s.ReadAccount(ctx, id)
		require.NoError(t, err)
		assert.Empty(t, got.Seats)
		invoices, err := s.ListInvoices(ctx, id)
		require.NoError(t, err)
		assert.Empty(t, invoices)

		// The key was rolled back, so it can be claimed again.
		err = s.WithAccount(ctx, id, func(ctx context.Context, _ *accounts.Account, tx Tx) error {
			claimed, err := tx.ClaimIdempotencyKey(ctx, "k-1")
			require.NoError(t, err)
			assert.True(t, claimed)
			return nil
		})
		require.NoError(t, err)

		err = s.WithAccount(ctx, id, func(ctx context.Context, _ *accounts.Account, tx Tx) error {
			claimed, err := tx.ClaimIdempotencyKey(ctx, "k-1")
			require.NoError(t, err)
			assert.False(t, claimed)
			return nil
		})
		require.NoError(t, err)
	})

	t.Run("with account serializes read-modify-write", func(t *testing.T) {
		id := uuid.NewString()
		_, err := s.EnsureAccount(ctx, id)
		require.NoError(t, err)

		const workers = 8
		var wg sync.WaitGroup
		errs := make(chan error, workers)
		for i := 0; i < workers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				errs <- s.WithAccount(ctx, id, func(ctx context.Context, a *accounts.Account, tx Tx) error {
					seats := append(a.Seats, accounts.Seat{ID: uuid.NewString(), Name: uuid.NewString(), SecretHash: "h"})
					return tx.MergeWrite(ctx, Patch{Seats: &seats})
				})
			}()
		}
		wg.Wait()
		close(errs)
		for err := range errs {
			require.NoError(t, err)
		}

		got, err := s.ReadAccount(ctx, id)
		require.NoError(t, err)
		assert.Len(t, got.Seats, workers, "lost update under concurrent writers")
	})

	t.Run("enqueue inside transaction", func(t *testing.T) {
		id := uuid.NewString()
		_, err := s.EnsureAccount(ctx, id)
		require.NoError(t, err)

		evt, err := outbox.NewAccountEvent(id, outbox.ProfileUpdated, map[string]string{"account_id": id})
		require.NoError(t, err)
		require.NoError(t, s.WithAccount(ctx, id, func(ctx context.Context, _ *accounts.Account, tx Tx) error {
			return tx.Enqueue(ctx, evt)
		}))
	})

	t.Run("school directory lists completed profiles", func(t *testing.T) {
		id := uuid.NewString()
		_, err := s.EnsureAccount(ctx, id)
		require.NoError(t, err)
		_, err = s.EnsureAccount(ctx, uuid.NewString())
		require.NoError(t, err)

		profile := accounts.SchoolProfile{Name: "Zenith Academy " + id, ShortName: "ZA", Mobile: "9000000002",
			Address: accounts.Address{City: "Agra", District: "Agra", State: "UP"}}
		require.NoError(t, s.MergeWrite(ctx, id, Patch{Profile: &profile}))

		list, err := s.ListSchools(ctx)
		require.NoError(t, err)
		found := false
		for _, sc := range list {
			assert.NotEmpty(t, sc.Name)
			if sc.ID == id {
				found = true
				assert.Equal(t, profile.Name, sc.Name)
			}
		}
		assert.True(t, found)
	})
}
