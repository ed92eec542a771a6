// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package txn

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/juju/errors"
)

// Beginner is anything a transaction can be started on.
type Beginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Txn runs fn inside a transaction started on db. The transaction is
// committed if fn returns nil and rolled back otherwise, including when fn
// panics.
// There are no retry semantics for running the function; callers decide
// whether an error is worth retrying with IsErrRetryable.
func Txn(ctx context.Context, db Beginner, fn func(context.Context, pgx.Tx) error) (err error) {
	tx, err := db.Begin(ctx)
	if err != nil {
		return errors.Annotate(err, "beginning transaction")
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback(context.WithoutCancel(ctx))
			panic(p)
		}
		if err != nil {
			// The original error is the interesting one; a failed
			// rollback on a broken connection adds nothing.
			_ = tx.Rollback(context.WithoutCancel(ctx))
		}
	}()

	if err = fn(ctx, tx); err != nil {
		return errors.Trace(err)
	}
	if err = tx.Commit(ctx); err != nil {
		return errors.Annotate(err, "committing transaction")
	}
	return nil
}
