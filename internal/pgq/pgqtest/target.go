// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package pgqtest

import (
	"context"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/juju/errors"

	"github.com/canonical/pgqueue/internal/database"
)

// Target is an in-memory destination database. Statements executed in a
// transaction are staged and only become visible on commit, together with
// any tick recorded through its cursors.
type Target struct {
	mu sync.Mutex

	applied []Call
	ticks   map[string]int64

	failCommit []error
	begins     int
	commits    int
	rollbacks  int
}

// NewTarget returns an empty target.
func NewTarget() *Target {
	return &Target{ticks: make(map[string]int64)}
}

// FailCommit makes the next commit fail with err, discarding the staged
// writes.
func (t *Target) FailCommit(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.failCommit = append(t.failCommit, err)
}

// Applied returns the committed statements, in commit order.
func (t *Target) Applied() []Call {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]Call(nil), t.applied...)
}

// Tick returns the committed tick of the named cursor.
func (t *Target) Tick(name string) (int64, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	tick, ok := t.ticks[name]
	return tick, ok
}

// Counts returns the number of begun, committed and rolled back
// transactions.
func (t *Target) Counts() (begins, commits, rollbacks int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.begins, t.commits, t.rollbacks
}

// Begin starts a transaction.
func (t *Target) Begin(context.Context) (pgx.Tx, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.begins++
	return &TargetTx{target: t, ticks: make(map[string]int64)}, nil
}

// Check returns err unchanged.
func (t *Target) Check(_ context.Context, err error) error {
	return err
}

// Cursor returns a cursor storing its tick under name.
func (t *Target) Cursor(name string) *TickCursor {
	return &TickCursor{target: t, name: name}
}

// TargetTx is a transaction on a Target. Exec stages the statement; the
// query methods are not supported.
type TargetTx struct {
	pgx.Tx

	target *Target
	staged []Call
	ticks  map[string]int64
	closed bool
}

// Exec is part of the pgx.Tx interface.
func (tx *TargetTx) Exec(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	if tx.closed {
		return pgconn.CommandTag{}, pgx.ErrTxClosed
	}
	tx.staged = append(tx.staged, Call{SQL: sql, Args: args})
	return pgconn.NewCommandTag("INSERT 0 1"), nil
}

// Query is part of the pgx.Tx interface.
func (tx *TargetTx) Query(context.Context, string, ...any) (pgx.Rows, error) {
	return nil, errors.NotSupportedf("query on test target")
}

// QueryRow is part of the pgx.Tx interface.
func (tx *TargetTx) QueryRow(context.Context, string, ...any) pgx.Row {
	return &row{result: Result{Err: errors.NotSupportedf("query on test target")}}
}

// Commit is part of the pgx.Tx interface.
func (tx *TargetTx) Commit(context.Context) error {
	if tx.closed {
		return pgx.ErrTxClosed
	}
	tx.closed = true

	t := tx.target
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.failCommit) > 0 {
		err := t.failCommit[0]
		t.failCommit = t.failCommit[1:]
		t.rollbacks++
		return err
	}
	t.applied = append(t.applied, tx.staged...)
	for name, tick := range tx.ticks {
		t.ticks[name] = tick
	}
	t.commits++
	return nil
}

// Rollback is part of the pgx.Tx interface.
func (tx *TargetTx) Rollback(context.Context) error {
	if tx.closed {
		return pgx.ErrTxClosed
	}
	tx.closed = true

	t := tx.target
	t.mu.Lock()
	defer t.mu.Unlock()
	t.rollbacks++
	return nil
}

// Staged returns the statements executed in the transaction so far.
func (tx *TargetTx) Staged() []Call {
	return append([]Call(nil), tx.staged...)
}

// TickCursor is a consumer position kept in a Target.
type TickCursor struct {
	target *Target
	name   string
}

// LastTick returns the tick visible to db: the staged one if db is a
// transaction that recorded one, the committed one otherwise.
func (c *TickCursor) LastTick(_ context.Context, db database.DBTX) (int64, bool, error) {
	if tx, ok := db.(*TargetTx); ok {
		if tick, ok := tx.ticks[c.name]; ok {
			return tick, true, nil
		}
	}
	tick, ok := c.target.Tick(c.name)
	return tick, ok, nil
}

// SetLastTick stages tick in the transaction db.
func (c *TickCursor) SetLastTick(_ context.Context, db database.DBTX, tick int64) error {
	tx, ok := db.(*TargetTx)
	if !ok {
		return errors.Errorf("recording tick outside a target transaction")
	}
	if tx.closed {
		return pgx.ErrTxClosed
	}
	tx.ticks[c.name] = tick
	return nil
}
