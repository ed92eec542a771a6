// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package forwarder_test

import (
	"context"

	"github.com/juju/testing"
	jc "github.com/juju/testing/checkers"
	gc "gopkg.in/check.v1"

	"github.com/canonical/pgqueue/core/queue"
	"github.com/canonical/pgqueue/internal/consumer"
	"github.com/canonical/pgqueue/internal/forwarder"
	"github.com/canonical/pgqueue/internal/pgq/pgqtest"
)

type splitterSuite struct {
	testing.IsolationSuite

	src    *pgqtest.Queue
	target *pgqtest.Target
}

var _ = gc.Suite(&splitterSuite{})

func (s *splitterSuite) SetUpTest(c *gc.C) {
	s.IsolationSuite.SetUpTest(c)
	s.src = pgqtest.NewQueue(epoch)
	s.target = pgqtest.NewTarget()
}

func (s *splitterSuite) TestRoutesByExtra1(c *gc.C) {
	s.src.AddBatch(5,
		&queue.Event{ID: 1, Type: "I:id", Data: "one", Extra1: queue.Str("Qa")},
		&queue.Event{ID: 2, Type: "I:id", Data: "two", Extra1: queue.Str("Qb")},
		&queue.Event{ID: 3, Type: "I:id", Data: "three", Extra1: queue.Str("Qa")},
	)
	sp, err := forwarder.NewSplitter("")
	c.Assert(err, jc.ErrorIsNil)
	c.Check(sp.Field, gc.Equals, forwarder.DefaultQueueField)
	e := newSerialEngine(c, s.src, s.target, sp)

	processed, err := e.RunOnce(context.Background())
	c.Assert(err, jc.ErrorIsNil)
	c.Check(processed, jc.IsTrue)
	c.Check(bulkInserts(c, s.target), jc.DeepEquals, []bulkInsert{{
		queue: "Qa",
		types: []string{"I:id", "I:id"},
		data:  []string{"one", "three"},
	}, {
		queue: "Qb",
		types: []string{"I:id"},
		data:  []string{"two"},
	}})
	c.Check(s.src.Finished(), jc.DeepEquals, []int64{1})
}

func (s *splitterSuite) TestRoutesByConfiguredField(c *gc.C) {
	s.src.AddBatch(5,
		&queue.Event{ID: 1, Type: "Qx", Data: "one"},
		&queue.Event{ID: 2, Type: "Qy", Data: "two"},
	)
	sp, err := forwarder.NewSplitter("ev_type")
	c.Assert(err, jc.ErrorIsNil)
	e := newSerialEngine(c, s.src, s.target, sp)

	_, err = e.RunOnce(context.Background())
	c.Assert(err, jc.ErrorIsNil)
	inserts := bulkInserts(c, s.target)
	c.Assert(inserts, gc.HasLen, 2)
	c.Check(inserts[0].queue, gc.Equals, "Qx")
	c.Check(inserts[1].queue, gc.Equals, "Qy")
}

func (s *splitterSuite) TestEmptyRoutingFieldFailsBatch(c *gc.C) {
	s.src.AddBatch(5,
		&queue.Event{ID: 1, Type: "I:id", Data: "one", Extra1: queue.Str("Qa")},
		&queue.Event{ID: 2, Type: "I:id", Data: "two"},
	)
	sp, err := forwarder.NewSplitter("extra1")
	c.Assert(err, jc.ErrorIsNil)
	e := newSerialEngine(c, s.src, s.target, sp)

	_, err = e.RunOnce(context.Background())
	c.Check(err, gc.ErrorMatches, `.*event 2 \(batch 1, type "I:id"\) with empty extra1 not valid`)
	c.Check(s.target.Applied(), gc.HasLen, 0)
	c.Check(s.src.Finished(), gc.HasLen, 0)
}

func (s *splitterSuite) TestRetriedBatchStartsClean(c *gc.C) {
	sp, err := forwarder.NewSplitter("extra1")
	c.Assert(err, jc.ErrorIsNil)
	ctx := context.Background()
	ev := &queue.Event{ID: 1, Data: "one", Extra1: queue.Str("Qa")}

	_, err = sp.ProcessEvent(ctx, nil, ev)
	c.Assert(err, jc.ErrorIsNil)
	c.Assert(sp.BeginBatch(ctx, nil, queue.BatchInfo{}), jc.ErrorIsNil)

	tx, err := s.target.Begin(ctx)
	c.Assert(err, jc.ErrorIsNil)
	_, err = sp.ProcessEvent(ctx, tx, ev)
	c.Assert(err, jc.ErrorIsNil)
	c.Assert(sp.EndBatch(ctx, tx, queue.BatchInfo{}), jc.ErrorIsNil)
	c.Check(tx.(*pgqtest.TargetTx).Staged(), gc.HasLen, 1)
	c.Check(tx.(*pgqtest.TargetTx).Staged()[0].Args[2], jc.DeepEquals, []string{"one"})
}

func (s *splitterSuite) TestBadField(c *gc.C) {
	_, err := forwarder.NewSplitter("extra9")
	c.Check(err, gc.ErrorMatches, `queue field "extra9" not valid`)
}

func (s *splitterSuite) TestRegistered(c *gc.C) {
	h, err := consumer.NewHandler("splitter", settings{"queue_field": "extra2"})
	c.Assert(err, jc.ErrorIsNil)
	c.Check(h.(*forwarder.Splitter).Field, gc.Equals, "extra2")
}
