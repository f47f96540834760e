//go:build integration

package storage

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/md-rashed-zaman/schoolportal/libs/db"
	"github.com/md-rashed-zaman/schoolportal/services/school-service/internal/accounts"
	"github.com/md-rashed-zaman/schoolportal/services/school-service/internal/outbox"
	"github.com/md-rashed-zaman/schoolportal/services/school-service/internal/plans"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

func setupPostgres(t *testing.T) *db.Pool {
	t.Helper()
	ctx := context.Background()

	container, err := postgres.Run(ctx, "postgres:16-alpine",
		postgres.WithDatabase("school_test"),
		postgres.WithUsername("test"),
		postgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second)),
	)
	require.NoError(t, err, "start postgres container")
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := container.Terminate(ctx); err != nil {
			t.Logf("terminate container: %v", err)
		}
	})

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)
	pool, err := db.Open(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	require.NoError(t, Migrate(ctx, pool))
	// Running twice must be harmless.
	require.NoError(t, Migrate(ctx, pool))
	return pool
}

func TestPostgresStore(t *testing.T) {
	pool := setupPostgres(t)
	outboxRepo := outbox.NewRepository(pool)
	s := NewPostgres(pool, outboxRepo, 5*time.Second)

	runStoreContract(t, s)

	t.Run("invoices are append-only", func(t *testing.T) {
		ctx := context.Background()
		id := uuid.NewString()
		_, err := s.EnsureAccount(ctx, id)
		require.NoError(t, err)
		require.NoError(t, s.AppendInvoice(ctx, id, accounts.Invoice{
			ID: uuid.NewString(), Plan: plans.Basic, Amount: 499, Duration: plans.Monthly,
			Status: accounts.InvoicePaid, IssuedAt: time.Now().UTC(),
		}))

		_, err = pool.Exec(ctx, `UPDATE invoices SET amount = 0 WHERE account_id = $1`, id)
		require.Error(t, err)
		_, err = pool.Exec(ctx, `DELETE FROM invoices WHERE account_id = $1`, id)
		require.Error(t, err)
	})

	t.Run("outbox relay drains committed events", func(t *testing.T) {
		ctx := context.Background()
		var relayed int
		for {
			n, err := outboxRepo.Relay(ctx, 100, func(context.Context, []outbox.Record) error { return nil })
			require.NoError(t, err)
			if n == 0 {
				break
			}
			relayed += n
		}
		require.Positive(t, relayed)
	})

	t.Run("timeout surfaces as unavailable", func(t *testing.T) {
		short := NewPostgres(pool, outboxRepo, time.Millisecond)
		ctx := context.Background()
		id := uuid.NewString()
		_, err := s.EnsureAccount(ctx, id)
		require.NoError(t, err)
		err = short.WithAccount(ctx, id, func(ctx context.Context, _ *accounts.Account, _ Tx) error {
			<-ctx.Done()
			return ctx.Err()
		})
		require.ErrorIs(t, err, accounts.ErrStoreUnavailable)
	})
}
