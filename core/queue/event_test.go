// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package queue_test

import (
	"context"
	"io"
	"time"

	"github.com/juju/errors"
	"github.com/juju/testing"
	jc "github.com/juju/testing/checkers"
	gc "gopkg.in/check.v1"

	"github.com/canonical/pgqueue/core/queue"
)

type eventSuite struct {
	testing.IsolationSuite
}

var _ = gc.Suite(&eventSuite{})

func (s *eventSuite) TestTagDoneSticks(c *gc.C) {
	ev := &queue.Event{ID: 1}
	c.Check(ev.Done(), jc.IsFalse)

	ev.TagDone()
	ev.TagDone()
	c.Check(ev.Done(), jc.IsTrue)
}

func (s *eventSuite) TestField(c *gc.C) {
	ev := &queue.Event{
		Type:   "I:id",
		Data:   "id=1",
		Extra1: queue.Str("public.t"),
		Extra3: queue.Str("x"),
	}

	tests := []struct {
		name     string
		expected string
	}{
		{"type", "I:id"},
		{"ev_type", "I:id"},
		{"data", "id=1"},
		{"extra1", "public.t"},
		{"ev_extra1", "public.t"},
		{"extra2", ""},
		{"extra3", "x"},
		{"ev_extra4", ""},
	}
	for i, test := range tests {
		c.Logf("test %d: %s", i, test.name)
		v, err := ev.Field(test.name)
		c.Assert(err, jc.ErrorIsNil)
		c.Check(v, gc.Equals, test.expected)
	}
}

func (s *eventSuite) TestFieldUnknown(c *gc.C) {
	ev := &queue.Event{}
	_, err := ev.Field("extra5")
	c.Check(errors.Is(err, errors.NotFound), jc.IsTrue)
	c.Check(queue.ValidField("extra5"), jc.IsFalse)
	c.Check(queue.ValidField("ev_extra2"), jc.IsTrue)
}

func (s *eventSuite) TestExtra(c *gc.C) {
	ev := &queue.Event{Extra2: queue.Str("")}

	v, ok := ev.Extra(2)
	c.Check(ok, jc.IsTrue)
	c.Check(v, gc.Equals, "")

	_, ok = ev.Extra(1)
	c.Check(ok, jc.IsFalse)

	_, ok = ev.Extra(7)
	c.Check(ok, jc.IsFalse)
}

func (s *eventSuite) TestOutcome(c *gc.C) {
	var zero queue.Outcome
	c.Check(zero.Acknowledged(), jc.IsFalse)
	c.Check(zero.String(), gc.Equals, "unacknowledged")

	c.Check(queue.Done().Acknowledged(), jc.IsTrue)
	_, isRetry := queue.Done().IsRetry()
	c.Check(isRetry, jc.IsFalse)

	r := queue.RetryAfter(time.Minute)
	c.Check(r.Acknowledged(), jc.IsTrue)
	delay, isRetry := r.IsRetry()
	c.Check(isRetry, jc.IsTrue)
	c.Check(delay, gc.Equals, time.Minute)
	c.Check(r.String(), gc.Equals, "retry after 1m0s")
}

type readerSuite struct {
	testing.IsolationSuite
}

var _ = gc.Suite(&readerSuite{})

func (s *readerSuite) TestSliceReaderChunks(c *gc.C) {
	events := []*queue.Event{{ID: 1}, {ID: 2}, {ID: 3}}
	r := queue.NewSliceReader(events, 2)

	chunk, err := r.Next(context.Background())
	c.Assert(err, jc.ErrorIsNil)
	c.Check(chunk, gc.HasLen, 2)

	chunk, err = r.Next(context.Background())
	c.Assert(err, jc.ErrorIsNil)
	c.Check(chunk, gc.HasLen, 1)
	c.Check(chunk[0].ID, gc.Equals, int64(3))

	_, err = r.Next(context.Background())
	c.Check(err, gc.Equals, io.EOF)
}

func (s *readerSuite) TestSliceReaderAllAtOnce(c *gc.C) {
	r := queue.NewSliceReader([]*queue.Event{{ID: 1}, {ID: 2}}, 0)

	chunk, err := r.Next(context.Background())
	c.Assert(err, jc.ErrorIsNil)
	c.Check(chunk, gc.HasLen, 2)

	c.Assert(r.Close(context.Background()), jc.ErrorIsNil)
	_, err = r.Next(context.Background())
	c.Check(err, gc.Equals, io.EOF)
}

func (s *readerSuite) TestEmptyReader(c *gc.C) {
	r := queue.NewSliceReader(nil, 10)
	_, err := r.Next(context.Background())
	c.Check(err, gc.Equals, io.EOF)
}
