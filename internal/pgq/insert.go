// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package pgq

import (
	"context"

	"github.com/juju/errors"

	"github.com/canonical/pgqueue/core/queue"
	"github.com/canonical/pgqueue/internal/database"
)

// InsertEventRaw re-inserts an event into queueName keeping its id, time
// and retry count. Cascaded branches use it to copy upstream events.
func InsertEventRaw(ctx context.Context, db database.DBTX, queueName string, ev *queue.Event) error {
	var id int64
	err := db.QueryRow(ctx,
		`SELECT pgq.insert_event_raw($1, $2, $3, NULL, $4, $5, $6, $7, $8, $9, $10)`,
		queueName, ev.ID, ev.Time, ev.Retry, ev.Type, ev.Data,
		ev.Extra1, ev.Extra2, ev.Extra3, ev.Extra4,
	).Scan(&id)
	if err != nil {
		return errors.Annotatef(err, "copying event %d into %q", ev.ID, queueName)
	}
	return nil
}

// InsertEventsBulk inserts events into queueName with a single call,
// preserving their order. The new events get fresh ids.
func InsertEventsBulk(ctx context.Context, db database.DBTX, queueName string, events []*queue.Event) error {
	if len(events) == 0 {
		return nil
	}
	n := len(events)
	var (
		types  = make([]string, n)
		data   = make([]string, n)
		extra1 = make([]*string, n)
		extra2 = make([]*string, n)
		extra3 = make([]*string, n)
		extra4 = make([]*string, n)
	)
	for i, ev := range events {
		types[i] = ev.Type
		data[i] = ev.Data
		extra1[i] = ev.Extra1
		extra2[i] = ev.Extra2
		extra3[i] = ev.Extra3
		extra4[i] = ev.Extra4
	}
	_, err := db.Exec(ctx, `
SELECT pgq.insert_event_bulk($1, array(
    SELECT (t, d, e1, e2, e3, e4)::pgq.bulk_event
    FROM unnest($2::text[], $3::text[], $4::text[], $5::text[], $6::text[], $7::text[])
        WITH ORDINALITY AS x(t, d, e1, e2, e3, e4, n)
    ORDER BY n
))`, queueName, types, data, extra1, extra2, extra3, extra4)
	return errors.Annotatef(err, "inserting %d events into %q", n, queueName)
}
