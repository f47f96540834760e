package storage

import (
	"context"
	_ "embed"

	"github.com/md-rashed-zaman/schoolportal/libs/db"
)

//go:embed schema.sql
var schemaSQL string

// Any constant works; it only has to be the same for every replica.
const migrateLockKey = 7310042

// Migrate applies the schema. Statements are idempotent and serialized
// across replicas with an advisory lock.
func Migrate(ctx context.Context, pool *db.Pool) error {
	tx, err := pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, migrateLockKey); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, schemaSQL); err != nil {
		return err
	}
	return tx.Commit(ctx)
}
