// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package txn_test

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/juju/errors"
	"github.com/juju/testing"
	jc "github.com/juju/testing/checkers"
	gc "gopkg.in/check.v1"

	"github.com/canonical/pgqueue/internal/database/txn"
)

type transactionSuite struct {
	testing.IsolationSuite
}

var _ = gc.Suite(&transactionSuite{})

// recordingTx implements the parts of pgx.Tx that Txn uses.
type recordingTx struct {
	pgx.Tx

	stub      *testing.Stub
	commitErr error
}

func (t *recordingTx) Commit(ctx context.Context) error {
	t.stub.AddCall("Commit")
	return t.commitErr
}

func (t *recordingTx) Rollback(ctx context.Context) error {
	t.stub.AddCall("Rollback")
	return nil
}

type beginner struct {
	tx  *recordingTx
	err error
}

func (b beginner) Begin(ctx context.Context) (pgx.Tx, error) {
	if b.err != nil {
		return nil, b.err
	}
	b.tx.stub.AddCall("Begin")
	return b.tx, nil
}

func (s *transactionSuite) TestTxnCommits(c *gc.C) {
	stub := &testing.Stub{}
	db := beginner{tx: &recordingTx{stub: stub}}

	err := txn.Txn(context.Background(), db, func(ctx context.Context, tx pgx.Tx) error {
		stub.AddCall("fn")
		return nil
	})
	c.Assert(err, jc.ErrorIsNil)
	stub.CheckCallNames(c, "Begin", "fn", "Commit")
}

func (s *transactionSuite) TestTxnRollsBackOnError(c *gc.C) {
	stub := &testing.Stub{}
	db := beginner{tx: &recordingTx{stub: stub}}

	err := txn.Txn(context.Background(), db, func(ctx context.Context, tx pgx.Tx) error {
		return errors.New("boom")
	})
	c.Assert(err, gc.ErrorMatches, "boom")
	stub.CheckCallNames(c, "Begin", "Rollback")
}

func (s *transactionSuite) TestTxnRollsBackOnCommitError(c *gc.C) {
	stub := &testing.Stub{}
	db := beginner{tx: &recordingTx{stub: stub, commitErr: errors.New("gone")}}

	err := txn.Txn(context.Background(), db, func(ctx context.Context, tx pgx.Tx) error {
		return nil
	})
	c.Assert(err, gc.ErrorMatches, "committing transaction: gone")
	stub.CheckCallNames(c, "Begin", "Commit", "Rollback")
}

func (s *transactionSuite) TestTxnRollsBackOnPanic(c *gc.C) {
	stub := &testing.Stub{}
	db := beginner{tx: &recordingTx{stub: stub}}

	c.Assert(func() {
		_ = txn.Txn(context.Background(), db, func(ctx context.Context, tx pgx.Tx) error {
			panic("oops")
		})
	}, gc.PanicMatches, "oops")
	stub.CheckCallNames(c, "Begin", "Rollback")
}

func (s *transactionSuite) TestTxnBeginError(c *gc.C) {
	db := beginner{err: errors.New("no socket")}

	err := txn.Txn(context.Background(), db, func(ctx context.Context, tx pgx.Tx) error {
		c.Fatal("should not be called")
		return nil
	})
	c.Assert(err, gc.ErrorMatches, "beginning transaction: no socket")
}
