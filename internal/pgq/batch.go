// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package pgq

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/juju/errors"

	"github.com/canonical/pgqueue/core/queue"
	"github.com/canonical/pgqueue/internal/database"
)

// NextBatch asks the server for the next batch of consumer on queueName.
// It returns false if no batch is ready yet.
func NextBatch(ctx context.Context, db database.DBTX, queueName, consumer string) (queue.BatchInfo, bool, error) {
	var (
		batchID, prevTick, curTick, eventSeq pgtype.Int8
		prevTime, curTime                    pgtype.Timestamptz
	)
	err := db.QueryRow(ctx, `
SELECT batch_id, prev_tick_id, cur_tick_id, prev_tick_time, cur_tick_time, cur_tick_event_seq
FROM pgq.next_batch_info($1, $2)`, queueName, consumer).Scan(
		&batchID, &prevTick, &curTick, &prevTime, &curTime, &eventSeq,
	)
	if err != nil {
		return queue.BatchInfo{}, false, errors.Annotatef(positionError(err), "next batch for %q on %q", consumer, queueName)
	}
	if !batchID.Valid {
		return queue.BatchInfo{}, false, nil
	}
	return queue.BatchInfo{
		BatchID:      batchID.Int64,
		PrevTickID:   prevTick.Int64,
		TickID:       curTick.Int64,
		PrevTickTime: prevTime.Time,
		TickTime:     curTime.Time,
		EventSeq:     eventSeq.Int64,
	}, true, nil
}

// FinishBatch closes a batch. It returns false if the server did not know
// the batch, which happens when the consumer was re-registered after the
// batch was handed out.
func FinishBatch(ctx context.Context, db database.DBTX, batchID int64) (bool, error) {
	var n int32
	if err := db.QueryRow(ctx, `SELECT pgq.finish_batch($1)`, batchID).Scan(&n); err != nil {
		return false, errors.Annotatef(err, "finishing batch %d", batchID)
	}
	return n > 0, nil
}

// EventRetry puts an event of an open batch into the retry queue, to be
// redelivered after delay.
func EventRetry(ctx context.Context, db database.DBTX, batchID, eventID int64, delay time.Duration) error {
	var n int32
	seconds := int32(delay.Round(time.Second) / time.Second)
	if err := db.QueryRow(ctx, `SELECT pgq.event_retry($1, $2, $3::integer)`, batchID, eventID, seconds).Scan(&n); err != nil {
		return errors.Annotatef(err, "retrying event %d of batch %d", eventID, batchID)
	}
	return nil
}

// RegisterConsumer subscribes consumer to queueName. It returns false if the
// consumer was already registered.
func RegisterConsumer(ctx context.Context, db database.DBTX, queueName, consumer string) (bool, error) {
	var n int32
	if err := db.QueryRow(ctx, `SELECT pgq.register_consumer($1, $2)`, queueName, consumer).Scan(&n); err != nil {
		return false, errors.Annotatef(err, "registering %q on %q", consumer, queueName)
	}
	return n > 0, nil
}

// UnregisterConsumer drops the subscription of consumer on queueName.
func UnregisterConsumer(ctx context.Context, db database.DBTX, queueName, consumer string) error {
	var n int32
	if err := db.QueryRow(ctx, `SELECT pgq.unregister_consumer($1, $2)`, queueName, consumer).Scan(&n); err != nil {
		return errors.Annotatef(err, "unregistering %q from %q", consumer, queueName)
	}
	return nil
}

// positionError turns the server's complaint about an unknown subscription
// into queue.ErrPositionConflict.
func positionError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "P0001" && strings.Contains(pgErr.Message, "Not subscriber") {
		return fmt.Errorf("%w: %s", queue.ErrPositionConflict, pgErr.Message)
	}
	return err
}
