// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package cascade_test

import (
	"context"

	"github.com/juju/testing"
	jc "github.com/juju/testing/checkers"
	gc "gopkg.in/check.v1"

	"github.com/canonical/pgqueue/core/queue"
	"github.com/canonical/pgqueue/internal/cascade"
	"github.com/canonical/pgqueue/internal/pgq/pgqtest"
)

type reemitSuite struct {
	testing.IsolationSuite
}

var _ = gc.Suite(&reemitSuite{})

func (s *reemitSuite) TestEmitEventsKeepsIdentity(c *gc.C) {
	db := (&pgqtest.DB{}).On("pgq.insert_event_raw", pgqtest.Row(int64(41)), pgqtest.Row(int64(42)))
	events := []*queue.Event{
		{ID: 41, Time: epoch, Retry: 1, Type: "I:id", Data: "id=41"},
		{ID: 42, Time: epoch, Type: "pgq.location-info", Data: "n2", Extra1: queue.Str("dbname=n2")},
	}

	err := cascade.ReEmit{QueueName: "q"}.EmitEvents(context.Background(), db, events)
	c.Assert(err, jc.ErrorIsNil)

	calls := db.Calls()
	c.Assert(calls, gc.HasLen, 2)
	c.Check(calls[0].Args[:6], jc.DeepEquals, []any{"q", int64(41), epoch, 1, "I:id", "id=41"})
	c.Check(calls[1].Args[1], gc.Equals, int64(42))
	c.Check(calls[1].Args[6], jc.DeepEquals, queue.Str("dbname=n2"))
}

func (s *reemitSuite) TestEmitTickReproducesProviderTick(c *gc.C) {
	db := (&pgqtest.DB{}).On("pgq.ticker", pgqtest.Row(int64(12)))
	info := queue.BatchInfo{BatchID: 3, PrevTickID: 11, TickID: 12, TickTime: epoch, EventSeq: 420}

	err := cascade.ReEmit{QueueName: "q"}.EmitTick(context.Background(), db, info)
	c.Assert(err, jc.ErrorIsNil)

	calls := db.Calls()
	c.Assert(calls, gc.HasLen, 1)
	c.Check(calls[0].Args, jc.DeepEquals, []any{"q", int64(12), epoch, int64(420)})
}

func (s *reemitSuite) TestEmitFailure(c *gc.C) {
	db := (&pgqtest.DB{}).On("pgq.insert_event_raw", pgqtest.Result{Err: errBoom})

	err := cascade.ReEmit{QueueName: "q"}.EmitEvents(context.Background(), db, []*queue.Event{{ID: 7}})
	c.Check(err, gc.ErrorMatches, `copying event 7 into "q": boom`)
}

type nodeCursorSuite struct {
	testing.IsolationSuite
}

var _ = gc.Suite(&nodeCursorSuite{})

func (s *nodeCursorSuite) TestLastTick(c *gc.C) {
	db := (&pgqtest.DB{}).On("pgq_node.get_consumer_state",
		nodeState{role: "leaf", completed: 17, provider: "p1", location: "dbname=p1"}.row(),
		nodeState{role: "leaf", provider: "p1", location: "dbname=p1"}.row(),
	)
	cursor := cascade.NodeCursor{QueueName: "q", WorkerName: "w"}

	tick, ok, err := cursor.LastTick(context.Background(), db)
	c.Assert(err, jc.ErrorIsNil)
	c.Check(ok, jc.IsTrue)
	c.Check(tick, gc.Equals, int64(17))

	_, ok, err = cursor.LastTick(context.Background(), db)
	c.Assert(err, jc.ErrorIsNil)
	c.Check(ok, jc.IsFalse)
}

func (s *nodeCursorSuite) TestSetLastTick(c *gc.C) {
	db := (&pgqtest.DB{}).On("pgq_node.set_consumer_completed", pgqtest.Row(200, "ok"))
	cursor := cascade.NodeCursor{QueueName: "q", WorkerName: "w"}

	c.Assert(cursor.SetLastTick(context.Background(), db, 18), jc.ErrorIsNil)
	c.Check(db.Calls()[0].Args, jc.DeepEquals, []any{"q", "w", int64(18)})
}
