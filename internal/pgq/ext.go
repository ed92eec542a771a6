// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package pgq

import (
	"context"

	"github.com/jackc/pgx/v5/pgtype"
	"github.com/juju/errors"

	"github.com/canonical/pgqueue/internal/database"
)

// GetLastTick reads the last tick a serial consumer applied to the
// destination database. It returns false if nothing was applied yet.
func GetLastTick(ctx context.Context, db database.DBTX, consumer string) (int64, bool, error) {
	var tick pgtype.Int8
	if err := db.QueryRow(ctx, `SELECT pgq_ext.get_last_tick($1)`, consumer).Scan(&tick); err != nil {
		return 0, false, errors.Annotatef(err, "reading last tick of %q", consumer)
	}
	return tick.Int64, tick.Valid, nil
}

// SetLastTick records tickID as applied by consumer. It must run in the
// same destination transaction as the data it covers.
func SetLastTick(ctx context.Context, db database.DBTX, consumer string, tickID int64) error {
	var n pgtype.Int4
	err := db.QueryRow(ctx, `SELECT pgq_ext.set_last_tick($1, $2)`, consumer, tickID).Scan(&n)
	return errors.Annotatef(err, "recording tick %d of %q", tickID, consumer)
}
