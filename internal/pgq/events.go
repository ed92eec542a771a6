// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package pgq

import (
	"context"
	"fmt"
	"io"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/juju/errors"

	"github.com/canonical/pgqueue/core/queue"
	"github.com/canonical/pgqueue/internal/database"
	"github.com/canonical/pgqueue/internal/database/txn"
)

const eventColumns = `ev_id, ev_time, ev_txid, ev_retry, ev_type, ev_data, ev_extra1, ev_extra2, ev_extra3, ev_extra4`

// cursorName is the name of the server side cursor used for lazy fetches.
// Only one batch is open per connection at a time.
const cursorName = "batch_walker"

// BatchEvents loads every event of a batch, in event id order. A non empty
// filter is embedded as a WHERE condition on the event columns.
func BatchEvents(ctx context.Context, db database.DBTX, batchID int64, filter string) ([]*queue.Event, error) {
	query := `SELECT ` + eventColumns + ` FROM pgq.get_batch_events($1)`
	if filter != "" {
		query += ` WHERE (` + filter + `)`
	}
	query += ` ORDER BY ev_id`

	rows, err := db.Query(ctx, query, batchID)
	if err != nil {
		return nil, errors.Annotatef(err, "loading batch %d", batchID)
	}
	events, err := scanEvents(rows, batchID)
	return events, errors.Annotatef(err, "loading batch %d", batchID)
}

// CursorReader streams the events of a batch through a server side cursor,
// a chunk at a time. The cursor lives in its own transaction, which is
// closed with the reader.
type CursorReader struct {
	tx      pgx.Tx
	batchID int64
	chunk   int

	first     []*queue.Event
	exhausted bool
}

// OpenBatchCursor opens a cursor over the events of a batch with
// pgq.get_batch_cursor. The first chunk is returned by the function call
// itself; the rest is fetched on demand.
func OpenBatchCursor(ctx context.Context, db txn.Beginner, batchID int64, chunk int, filter string) (*CursorReader, error) {
	if chunk <= 0 {
		return nil, errors.NotValidf("chunk size %d", chunk)
	}
	tx, err := db.Begin(ctx)
	if err != nil {
		return nil, errors.Annotatef(err, "opening cursor for batch %d", batchID)
	}

	var extraWhere pgtype.Text
	if filter != "" {
		extraWhere = pgtype.Text{String: filter, Valid: true}
	}
	rows, err := tx.Query(ctx,
		`SELECT `+eventColumns+` FROM pgq.get_batch_cursor($1, $2, $3, $4)`,
		batchID, cursorName, chunk, extraWhere,
	)
	if err != nil {
		_ = tx.Rollback(ctx)
		return nil, errors.Annotatef(err, "opening cursor for batch %d", batchID)
	}
	first, err := scanEvents(rows, batchID)
	if err != nil {
		_ = tx.Rollback(ctx)
		return nil, errors.Annotatef(err, "opening cursor for batch %d", batchID)
	}

	return &CursorReader{
		tx:      tx,
		batchID: batchID,
		chunk:   chunk,
		first:   first,
		// A short first chunk means the server did not leave a cursor open.
		exhausted: len(first) < chunk,
	}, nil
}

// Next is part of the queue.EventReader interface.
func (r *CursorReader) Next(ctx context.Context) ([]*queue.Event, error) {
	if r.first != nil {
		first := r.first
		r.first = nil
		return first, nil
	}
	if r.exhausted {
		return nil, io.EOF
	}

	rows, err := r.tx.Query(ctx, fmt.Sprintf("FETCH %d FROM %s", r.chunk, cursorName))
	if err != nil {
		return nil, errors.Annotatef(err, "fetching batch %d", r.batchID)
	}
	events, err := scanEvents(rows, r.batchID)
	if err != nil {
		return nil, errors.Annotatef(err, "fetching batch %d", r.batchID)
	}
	if len(events) < r.chunk {
		r.exhausted = true
	}
	if len(events) == 0 {
		return nil, io.EOF
	}
	return events, nil
}

// Close is part of the queue.EventReader interface. The cursor transaction
// only read, so it is rolled back.
func (r *CursorReader) Close(ctx context.Context) error {
	if r.tx == nil {
		return nil
	}
	tx := r.tx
	r.tx = nil
	if err := tx.Rollback(ctx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
		return errors.Annotatef(err, "closing cursor for batch %d", r.batchID)
	}
	return nil
}

func scanEvents(rows pgx.Rows, batchID int64) ([]*queue.Event, error) {
	defer rows.Close()

	var events []*queue.Event
	for rows.Next() {
		var (
			ev     = &queue.Event{BatchID: batchID}
			evTime pgtype.Timestamptz
			txID   pgtype.Int8
			retry  pgtype.Int4
			evType pgtype.Text
			evData pgtype.Text
		)
		if err := rows.Scan(
			&ev.ID, &evTime, &txID, &retry, &evType, &evData,
			&ev.Extra1, &ev.Extra2, &ev.Extra3, &ev.Extra4,
		); err != nil {
			return nil, errors.Trace(err)
		}
		ev.Time = evTime.Time
		ev.TxID = txID.Int64
		ev.Retry = int(retry.Int32)
		ev.Type = evType.String
		ev.Data = evData.String
		events = append(events, ev)
	}
	return events, errors.Trace(rows.Err())
}
