// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package pgq

import (
	"context"
	"regexp"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/juju/errors"

	"github.com/canonical/pgqueue/internal/database"
)

// Version returns the version of the pgq schema installed in the database.
func Version(ctx context.Context, db database.DBTX) (string, error) {
	var v pgtype.Text
	if err := db.QueryRow(ctx, `SELECT pgq.version()`).Scan(&v); err != nil {
		return "", errors.Annotate(err, "reading pgq version")
	}
	return v.String, nil
}

// Ticker runs pgq.ticker() for every queue in the database and returns the
// number of queues that got a new tick.
func Ticker(ctx context.Context, db database.DBTX) (int64, error) {
	var n pgtype.Int8
	if err := db.QueryRow(ctx, `SELECT pgq.ticker()`).Scan(&n); err != nil {
		return 0, errors.Annotate(err, "running ticker")
	}
	return n.Int64, nil
}

// TickAt inserts a tick with a given id, time and event sequence. Branch
// nodes use it to reproduce their provider's ticks.
func TickAt(ctx context.Context, db database.DBTX, queueName string, tickID int64, tickTime time.Time, eventSeq int64) error {
	var id pgtype.Int8
	err := db.QueryRow(ctx,
		`SELECT pgq.ticker($1, $2, $3, $4)`,
		queueName, tickID, tickTime, eventSeq,
	).Scan(&id)
	return errors.Annotatef(err, "copying tick %d into %q", tickID, queueName)
}

// MaintOp is a single maintenance step returned by pgq.maint_operations.
type MaintOp struct {
	Func string
	Arg  *string
}

// MaintOperations lists the maintenance steps that are due.
func MaintOperations(ctx context.Context, db database.DBTX) ([]MaintOp, error) {
	rows, err := db.Query(ctx, `SELECT func_name, func_arg FROM pgq.maint_operations()`)
	if err != nil {
		return nil, errors.Annotate(err, "listing maintenance operations")
	}
	defer rows.Close()

	var ops []MaintOp
	for rows.Next() {
		var op MaintOp
		if err := rows.Scan(&op.Func, &op.Arg); err != nil {
			return nil, errors.Trace(err)
		}
		ops = append(ops, op)
	}
	return ops, errors.Trace(rows.Err())
}

// RunMaintOp runs one maintenance step.
func RunMaintOp(ctx context.Context, db database.DBTX, op MaintOp) error {
	ident, err := qualifiedIdent(op.Func)
	if err != nil {
		return errors.Trace(err)
	}
	if op.Arg == nil {
		_, err = db.Exec(ctx, `SELECT `+ident+`()`)
	} else {
		_, err = db.Exec(ctx, `SELECT `+ident+`($1)`, *op.Arg)
	}
	return errors.Annotatef(err, "running %s", op.Func)
}

// TablesToVacuum lists the tables pgq wants vacuumed.
func TablesToVacuum(ctx context.Context, db database.DBTX) ([]string, error) {
	rows, err := db.Query(ctx, `SELECT * FROM pgq.maint_tables_to_vacuum()`)
	if err != nil {
		return nil, errors.Annotate(err, "listing tables to vacuum")
	}
	defer rows.Close()

	var tables []string
	for rows.Next() {
		var t string
		if err := rows.Scan(&t); err != nil {
			return nil, errors.Trace(err)
		}
		tables = append(tables, t)
	}
	return tables, errors.Trace(rows.Err())
}

// Vacuum vacuums a table. It must run on an autocommit connection.
func Vacuum(ctx context.Context, db database.DBTX, table string) error {
	ident, err := qualifiedIdent(table)
	if err != nil {
		return errors.Trace(err)
	}
	_, err = db.Exec(ctx, `VACUUM `+ident)
	return errors.Annotatef(err, "vacuuming %s", table)
}

var identPart = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_$]*$`)

// qualifiedIdent quotes a possibly schema qualified name returned by the
// server, so it can be spliced into a statement.
func qualifiedIdent(name string) (string, error) {
	parts := strings.Split(name, ".")
	if len(parts) > 2 {
		return "", errors.NotValidf("identifier %q", name)
	}
	for _, p := range parts {
		if !identPart.MatchString(p) {
			return "", errors.NotValidf("identifier %q", name)
		}
	}
	return pgx.Identifier(parts).Sanitize(), nil
}

// QueueInfo is the part of pgq.get_queue_info the engine uses.
type QueueInfo struct {
	QueueName  string
	LastTickID int64
	TickerLag  time.Duration
}

// GetQueueInfo returns the state of one queue. A missing queue is
// reported as not found.
func GetQueueInfo(ctx context.Context, db database.DBTX, queueName string) (QueueInfo, error) {
	var (
		lastTick pgtype.Int8
		lag      pgtype.Float8
	)
	err := db.QueryRow(ctx, `
SELECT last_tick_id, extract(epoch FROM ticker_lag)
FROM pgq.get_queue_info($1)`, queueName).Scan(&lastTick, &lag)
	if errors.Is(err, pgx.ErrNoRows) {
		return QueueInfo{}, errors.NotFoundf("queue %q", queueName)
	} else if err != nil {
		return QueueInfo{}, errors.Annotatef(err, "reading info for queue %q", queueName)
	}
	return QueueInfo{
		QueueName:  queueName,
		LastTickID: lastTick.Int64,
		TickerLag:  time.Duration(lag.Float64 * float64(time.Second)),
	}, nil
}

// ConsumerInfo is the part of pgq.get_consumer_info the engine uses.
type ConsumerInfo struct {
	QueueName     string
	ConsumerName  string
	Lag           time.Duration
	LastSeen      time.Duration
	LastTick      int64
	CurrentBatch  *int64
	PendingEvents int64
}

// GetConsumerInfo returns the state of consumer on queueName.
func GetConsumerInfo(ctx context.Context, db database.DBTX, queueName, consumer string) (ConsumerInfo, error) {
	var (
		lag, lastSeen pgtype.Float8
		lastTick      pgtype.Int8
		batch         pgtype.Int8
		pending       pgtype.Int8
	)
	err := db.QueryRow(ctx, `
SELECT extract(epoch FROM lag), extract(epoch FROM last_seen), last_tick, current_batch, pending_events
FROM pgq.get_consumer_info($1, $2)`, queueName, consumer).Scan(&lag, &lastSeen, &lastTick, &batch, &pending)
	if errors.Is(err, pgx.ErrNoRows) {
		return ConsumerInfo{}, errors.NotFoundf("consumer %q on queue %q", consumer, queueName)
	} else if err != nil {
		return ConsumerInfo{}, errors.Annotatef(err, "reading info for consumer %q", consumer)
	}
	info := ConsumerInfo{
		QueueName:     queueName,
		ConsumerName:  consumer,
		Lag:           time.Duration(lag.Float64 * float64(time.Second)),
		LastSeen:      time.Duration(lastSeen.Float64 * float64(time.Second)),
		LastTick:      lastTick.Int64,
		PendingEvents: pending.Int64,
	}
	if batch.Valid {
		id := batch.Int64
		info.CurrentBatch = &id
	}
	return info, nil
}
