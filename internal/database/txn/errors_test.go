// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package txn_test

import (
	"context"
	"io"
	"net"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/juju/errors"
	"github.com/juju/testing"
	gc "gopkg.in/check.v1"

	"github.com/canonical/pgqueue/internal/database/txn"
)

type isErrRetryableSuite struct {
	testing.IsolationSuite
}

var _ = gc.Suite(&isErrRetryableSuite{})

func (s *isErrRetryableSuite) TestIsErrRetryable(c *gc.C) {
	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{
			name:     "nil error",
			err:      nil,
			expected: false,
		},
		{
			name:     "serialization failure",
			err:      &pgconn.PgError{Code: "40001"},
			expected: true,
		},
		{
			name:     "deadlock",
			err:      errors.Annotate(&pgconn.PgError{Code: "40P01"}, "applying batch"),
			expected: true,
		},
		{
			name:     "unique violation",
			err:      &pgconn.PgError{Code: "23505"},
			expected: false,
		},
		{
			name:     "admin shutdown",
			err:      &pgconn.PgError{Code: "57P01"},
			expected: true,
		},
		{
			name:     "connection exception",
			err:      &pgconn.PgError{Code: "08006"},
			expected: true,
		},
		{
			name:     "unexpected eof",
			err:      errors.Trace(io.ErrUnexpectedEOF),
			expected: true,
		},
		{
			name:     "closed network connection",
			err:      net.ErrClosed,
			expected: true,
		},
		{
			name:     "conn closed",
			err:      errors.New("conn closed"),
			expected: true,
		},
		{
			name:     "cancelled",
			err:      context.Canceled,
			expected: false,
		},
		{
			name:     "plain error",
			err:      errors.New("boom"),
			expected: false,
		},
	}

	for i, test := range tests {
		c.Logf("test %d: %s", i, test.name)
		c.Check(txn.IsErrRetryable(test.err), gc.Equals, test.expected)
	}
}

func (s *isErrRetryableSuite) TestTransportErrorExcludesSerialization(c *gc.C) {
	c.Check(txn.IsTransportError(&pgconn.PgError{Code: "40001"}), gc.Equals, false)
	c.Check(txn.IsTransportError(&pgconn.PgError{Code: "08003"}), gc.Equals, true)
}
