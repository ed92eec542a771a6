// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package pgqtest

import (
	"context"
	"reflect"
	"strings"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/juju/errors"
)

// Call is a statement received by DB.
type Call struct {
	SQL  string
	Args []any
}

// Result is the scripted answer to a statement. Rows are scanned into the
// caller's destinations by position.
type Result struct {
	Rows [][]any
	Tag  string
	Err  error
}

// Row is shorthand for a single row result.
func Row(values ...any) Result {
	return Result{Rows: [][]any{values}}
}

type script struct {
	match   string
	results []Result
}

// DB is a scripted database.DBTX. Each statement is answered by the first
// script whose match string it contains and that still has results left.
// Statements nothing matches fail.
type DB struct {
	mu      sync.Mutex
	scripts []*script
	calls   []Call
	closed  bool
}

// On queues results for statements containing match.
func (db *DB) On(match string, results ...Result) *DB {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.scripts = append(db.scripts, &script{match: match, results: results})
	return db
}

// Calls returns the statements received so far.
func (db *DB) Calls() []Call {
	db.mu.Lock()
	defer db.mu.Unlock()
	return append([]Call(nil), db.calls...)
}

// Statements returns the SQL of every statement received so far, with
// whitespace collapsed.
func (db *DB) Statements() []string {
	var out []string
	for _, c := range db.Calls() {
		out = append(out, strings.Join(strings.Fields(c.SQL), " "))
	}
	return out
}

// Pending reports the match strings that still have unused results.
func (db *DB) Pending() []string {
	db.mu.Lock()
	defer db.mu.Unlock()
	var out []string
	for _, s := range db.scripts {
		if len(s.results) > 0 {
			out = append(out, s.match)
		}
	}
	return out
}

func (db *DB) next(sql string, args []any) Result {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.calls = append(db.calls, Call{SQL: sql, Args: args})
	for _, s := range db.scripts {
		if len(s.results) == 0 || !strings.Contains(sql, s.match) {
			continue
		}
		r := s.results[0]
		s.results = s.results[1:]
		return r
	}
	return Result{Err: errors.Errorf("unexpected statement: %s", strings.Join(strings.Fields(sql), " "))}
}

// Exec is part of the database.DBTX interface.
func (db *DB) Exec(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	r := db.next(sql, args)
	return pgconn.NewCommandTag(r.Tag), r.Err
}

// Query is part of the database.DBTX interface.
func (db *DB) Query(_ context.Context, sql string, args ...any) (pgx.Rows, error) {
	r := db.next(sql, args)
	if r.Err != nil {
		return nil, r.Err
	}
	return &rows{values: r.Rows, pos: -1}, nil
}

// QueryRow is part of the database.DBTX interface.
func (db *DB) QueryRow(_ context.Context, sql string, args ...any) pgx.Row {
	r := db.next(sql, args)
	return &row{result: r}
}

// Begin returns a transaction whose statements go to db. BEGIN, COMMIT and
// ROLLBACK are recorded as calls.
func (db *DB) Begin(ctx context.Context) (pgx.Tx, error) {
	r := db.next("BEGIN", nil)
	if r.Err != nil {
		return nil, r.Err
	}
	return &Tx{db: db}, nil
}

// Tx is a transaction on a scripted DB. Only the statement methods and the
// transaction end methods are implemented.
type Tx struct {
	pgx.Tx
	db     *DB
	closed bool
}

// Exec is part of the pgx.Tx interface.
func (t *Tx) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	return t.db.Exec(ctx, sql, args...)
}

// Query is part of the pgx.Tx interface.
func (t *Tx) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	return t.db.Query(ctx, sql, args...)
}

// QueryRow is part of the pgx.Tx interface.
func (t *Tx) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	return t.db.QueryRow(ctx, sql, args...)
}

// Commit is part of the pgx.Tx interface.
func (t *Tx) Commit(context.Context) error {
	if t.closed {
		return pgx.ErrTxClosed
	}
	t.closed = true
	return t.db.next("COMMIT", nil).Err
}

// Rollback is part of the pgx.Tx interface.
func (t *Tx) Rollback(context.Context) error {
	if t.closed {
		return pgx.ErrTxClosed
	}
	t.closed = true
	return t.db.next("ROLLBACK", nil).Err
}

type row struct {
	result Result
}

func (r *row) Scan(dest ...any) error {
	if r.result.Err != nil {
		return r.result.Err
	}
	if len(r.result.Rows) == 0 {
		return pgx.ErrNoRows
	}
	return scanRow(r.result.Rows[0], dest)
}

type rows struct {
	values [][]any
	pos    int
	err    error
	closed bool
}

func (r *rows) Close() { r.closed = true }

func (r *rows) Err() error { return r.err }

func (r *rows) CommandTag() pgconn.CommandTag { return pgconn.NewCommandTag("SELECT") }

func (r *rows) FieldDescriptions() []pgconn.FieldDescription { return nil }

func (r *rows) Next() bool {
	if r.closed || r.err != nil {
		return false
	}
	r.pos++
	if r.pos >= len(r.values) {
		r.closed = true
		return false
	}
	return true
}

func (r *rows) Scan(dest ...any) error {
	if r.pos < 0 || r.pos >= len(r.values) {
		return errors.New("scan called without a current row")
	}
	return scanRow(r.values[r.pos], dest)
}

func (r *rows) Values() ([]any, error) {
	if r.pos < 0 || r.pos >= len(r.values) {
		return nil, errors.New("no current row")
	}
	return r.values[r.pos], nil
}

func (r *rows) RawValues() [][]byte { return nil }

func (r *rows) Conn() *pgx.Conn { return nil }

type scanner interface {
	Scan(src any) error
}

func scanRow(values []any, dest []any) error {
	if len(values) != len(dest) {
		return errors.Errorf("row has %d values, scanning into %d", len(values), len(dest))
	}
	for i := range dest {
		if err := assign(dest[i], values[i]); err != nil {
			return errors.Annotatef(err, "column %d", i)
		}
	}
	return nil
}

// assign stores src into dest the way a driver would: sql.Scanner
// destinations get normalised driver values, others are converted by
// reflection. Pointer destinations (nullable columns) get nil for nil.
func assign(dest, src any) error {
	src = normalise(src)
	if s, ok := dest.(scanner); ok {
		return s.Scan(src)
	}
	dv := reflect.ValueOf(dest)
	if dv.Kind() != reflect.Pointer || dv.IsNil() {
		return errors.Errorf("destination %T not a pointer", dest)
	}
	el := dv.Elem()
	if src == nil {
		el.Set(reflect.Zero(el.Type()))
		return nil
	}
	sv := reflect.ValueOf(src)
	target := el.Type()
	if target.Kind() == reflect.Pointer {
		target = target.Elem()
	}
	if !sv.Type().ConvertibleTo(target) {
		return errors.Errorf("cannot assign %T to %T", src, dest)
	}
	v := sv.Convert(target)
	if el.Kind() == reflect.Pointer {
		p := reflect.New(target)
		p.Elem().Set(v)
		el.Set(p)
		return nil
	}
	el.Set(v)
	return nil
}

func normalise(src any) any {
	switch v := src.(type) {
	case int:
		return int64(v)
	case int32:
		return int64(v)
	case float32:
		return float64(v)
	case *string:
		if v == nil {
			return nil
		}
		return *v
	case *int64:
		if v == nil {
			return nil
		}
		return *v
	}
	return src
}

// BeginTx is part of the database.Conn interface.
func (db *DB) BeginTx(ctx context.Context, _ pgx.TxOptions) (pgx.Tx, error) {
	return db.Begin(ctx)
}

// Close is part of the database.Conn interface.
func (db *DB) Close(context.Context) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.closed = true
	return nil
}

// IsClosed is part of the database.Conn interface.
func (db *DB) IsClosed() bool {
	db.mu.Lock()
	defer db.mu.Unlock()
	return db.closed
}
