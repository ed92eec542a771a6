// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package pgq_test

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgtype"
	"github.com/juju/errors"
	"github.com/juju/testing"
	jc "github.com/juju/testing/checkers"
	gc "gopkg.in/check.v1"

	"github.com/canonical/pgqueue/core/cascade"
	"github.com/canonical/pgqueue/core/queue"
	"github.com/canonical/pgqueue/internal/pgq"
	"github.com/canonical/pgqueue/internal/pgq/pgqtest"
)

type nodeSuite struct {
	testing.IsolationSuite
}

var _ = gc.Suite(&nodeSuite{})

func (s *nodeSuite) TestGetConsumerState(c *gc.C) {
	db := (&pgqtest.DB{}).On("pgq_node.get_consumer_state", pgqtest.Row(
		200, "ok", "branch", "b1", int64(55),
		"root1", "dbname=root", false, true, nil,
		"b2", "dbname=b2", int64(60), nil,
	))
	state, err := pgq.GetConsumerState(context.Background(), db, "q", "b1_worker")
	c.Assert(err, jc.ErrorIsNil)
	c.Check(state, jc.DeepEquals, cascade.ConsumerState{
		NodeName:                "b1",
		Role:                    cascade.Branch,
		ProviderNode:            "root1",
		ProviderLocation:        "dbname=root",
		Uptodate:                true,
		CompletedTick:           55,
		PendingProvider:         "b2",
		PendingProviderLocation: "dbname=b2",
		WaitTick:                60,
	})
	c.Check(state.SwitchRequested(), jc.IsTrue)
}

func (s *nodeSuite) TestGetNodeInfo(c *gc.C) {
	db := (&pgqtest.DB{}).On("pgq_node.get_node_info", pgqtest.Row(
		100, "ok", "leaf", "l1", int64(40), int64(45), "b1", "dbname=b1", "l1_worker",
	))
	info, err := pgq.GetNodeInfo(context.Background(), db, "q")
	c.Assert(err, jc.ErrorIsNil)
	c.Check(info.Role, gc.Equals, cascade.Leaf)
	c.Check(info.GlobalWatermark, gc.Equals, int64(40))
	c.Check(info.LocalWatermark, gc.Equals, int64(45))
	c.Check(info.WorkerName, gc.Equals, "l1_worker")
}

func (s *nodeSuite) TestResultCodes(c *gc.C) {
	db := (&pgqtest.DB{}).
		On("pgq_node.set_consumer_completed", pgqtest.Row(200, "Consumer updated")).
		On("pgq_node.unregister_subscriber", pgqtest.Row(404, "Node not found")).
		On("pgq_node.change_consumer_provider", pgqtest.Row(301, "Node not initialized"))

	err := pgq.SetConsumerCompleted(context.Background(), db, "q", "w", 10)
	c.Check(err, jc.ErrorIsNil)

	err = pgq.UnregisterSubscriber(context.Background(), db, "q", "n")
	c.Check(errors.Is(err, errors.NotFound), jc.IsTrue)

	err = pgq.ChangeConsumerProvider(context.Background(), db, "q", "w", "p")
	c.Check(err, gc.ErrorMatches, "pgq_node.change_consumer_provider: 301 Node not initialized")
	var resErr *pgq.ResultError
	c.Check(errors.As(err, &resErr), jc.IsTrue)

	c.Check(db.Statements()[0], gc.Equals,
		"SELECT ret_code, ret_note FROM pgq_node.set_consumer_completed($1, $2, $3)")
}

func (s *nodeSuite) TestSetConsumerErrorClears(c *gc.C) {
	db := (&pgqtest.DB{}).On("pgq_node.set_consumer_error", pgqtest.Row(200, "ok"), pgqtest.Row(200, "ok"))
	c.Assert(pgq.SetConsumerError(context.Background(), db, "q", "w", "boom"), jc.ErrorIsNil)
	c.Assert(pgq.SetConsumerError(context.Background(), db, "q", "w", ""), jc.ErrorIsNil)

	calls := db.Calls()
	c.Check(calls[0].Args[2], gc.DeepEquals, pgtypeText("boom"))
	c.Check(calls[1].Args[2], gc.DeepEquals, pgtypeText(""))
}

func (s *nodeSuite) TestSubscribers(c *gc.C) {
	db := (&pgqtest.DB{}).On("pgq_node.get_subscriber_info", pgqtest.Result{Rows: [][]any{
		{"l1", "l1_worker", int64(30)},
		{"l2", "l2_worker", nil},
	}})
	subs, err := pgq.Subscribers(context.Background(), db, "q")
	c.Assert(err, jc.ErrorIsNil)
	c.Check(subs, jc.DeepEquals, []pgq.Subscriber{
		{NodeName: "l1", WorkerName: "l1_worker", Watermark: 30},
		{NodeName: "l2", WorkerName: "l2_worker"},
	})
}

func (s *nodeSuite) TestRegisterSubscriber(c *gc.C) {
	db := (&pgqtest.DB{}).On("pgq_node.register_subscriber", pgqtest.Row(200, "ok", int64(12)))
	wm, err := pgq.RegisterSubscriber(context.Background(), db, "q", "b2", "b2_worker", 60)
	c.Assert(err, jc.ErrorIsNil)
	c.Check(wm, gc.Equals, int64(12))
	c.Check(db.Calls()[0].Args, jc.DeepEquals, []any{"q", "b2", "b2_worker", int64(60)})
}

type insertSuite struct {
	testing.IsolationSuite
}

var _ = gc.Suite(&insertSuite{})

func (s *insertSuite) TestInsertEventRawKeepsIdentity(c *gc.C) {
	db := (&pgqtest.DB{}).On("pgq.insert_event_raw", pgqtest.Row(int64(9)))
	ev := &queue.Event{ID: 9, Time: t0, Retry: 2, Type: "I:id", Data: "id=9", Extra1: queue.Str("public.t")}
	err := pgq.InsertEventRaw(context.Background(), db, "q", ev)
	c.Assert(err, jc.ErrorIsNil)
	args := db.Calls()[0].Args
	c.Check(args[:6], jc.DeepEquals, []any{"q", int64(9), t0, 2, "I:id", "id=9"})
	c.Check(*(args[6].(*string)), gc.Equals, "public.t")
}

func (s *insertSuite) TestInsertEventsBulkPreservesOrder(c *gc.C) {
	db := (&pgqtest.DB{}).On("pgq.insert_event_bulk", pgqtest.Result{Tag: "SELECT 1"})
	events := []*queue.Event{
		{ID: 1, Type: "a", Data: "1"},
		{ID: 2, Type: "b", Data: "2", Extra2: queue.Str("e")},
	}
	err := pgq.InsertEventsBulk(context.Background(), db, "dst", events)
	c.Assert(err, jc.ErrorIsNil)
	args := db.Calls()[0].Args
	c.Check(args[0], gc.Equals, "dst")
	c.Check(args[1], jc.DeepEquals, []string{"a", "b"})
	c.Check(args[2], jc.DeepEquals, []string{"1", "2"})
	c.Check(args[4].([]*string)[0], gc.IsNil)
	c.Check(*args[4].([]*string)[1], gc.Equals, "e")
}

func (s *insertSuite) TestInsertEventsBulkEmpty(c *gc.C) {
	db := &pgqtest.DB{}
	c.Assert(pgq.InsertEventsBulk(context.Background(), db, "dst", nil), jc.ErrorIsNil)
	c.Check(db.Calls(), gc.HasLen, 0)
}

type tickerSuite struct {
	testing.IsolationSuite
}

var _ = gc.Suite(&tickerSuite{})

func (s *tickerSuite) TestMaintenance(c *gc.C) {
	arg := "q"
	db := (&pgqtest.DB{}).
		On("pgq.maint_operations", pgqtest.Result{Rows: [][]any{
			{"pgq.maint_rotate_tables_step1", &arg},
			{"pgq.maint_rotate_tables_step2", nil},
		}}).
		On(`maint_rotate_tables_step1"(`, pgqtest.Result{}).
		On(`maint_rotate_tables_step2"(`, pgqtest.Result{}).
		On("maint_tables_to_vacuum", pgqtest.Result{Rows: [][]any{{"pgq.event_1_0"}}}).
		On("VACUUM", pgqtest.Result{})

	ops, err := pgq.MaintOperations(context.Background(), db)
	c.Assert(err, jc.ErrorIsNil)
	c.Assert(ops, gc.HasLen, 2)
	for _, op := range ops {
		c.Assert(pgq.RunMaintOp(context.Background(), db, op), jc.ErrorIsNil)
	}
	tables, err := pgq.TablesToVacuum(context.Background(), db)
	c.Assert(err, jc.ErrorIsNil)
	for _, t := range tables {
		c.Assert(pgq.Vacuum(context.Background(), db, t), jc.ErrorIsNil)
	}

	stmts := db.Statements()
	c.Check(stmts[1], gc.Equals, `SELECT "pgq"."maint_rotate_tables_step1"($1)`)
	c.Check(stmts[2], gc.Equals, `SELECT "pgq"."maint_rotate_tables_step2"()`)
	c.Check(stmts[4], gc.Equals, `VACUUM "pgq"."event_1_0"`)
}

func (s *tickerSuite) TestRunMaintOpRejectsOddNames(c *gc.C) {
	err := pgq.RunMaintOp(context.Background(), &pgqtest.DB{}, pgq.MaintOp{Func: "pgq.x(); drop table y"})
	c.Check(err, gc.ErrorMatches, `identifier ".*" not valid`)
}

func (s *tickerSuite) TestQueueInfo(c *gc.C) {
	db := (&pgqtest.DB{}).
		On("pgq.get_queue_info", pgqtest.Row(int64(80), 1.5), pgqtest.Result{})
	info, err := pgq.GetQueueInfo(context.Background(), db, "q")
	c.Assert(err, jc.ErrorIsNil)
	c.Check(info.LastTickID, gc.Equals, int64(80))
	c.Check(info.TickerLag, gc.Equals, 1500*time.Millisecond)

	_, err = pgq.GetQueueInfo(context.Background(), db, "missing")
	c.Check(errors.Is(err, errors.NotFound), jc.IsTrue)
}

func (s *tickerSuite) TestVersion(c *gc.C) {
	db := (&pgqtest.DB{}).On("pgq.version()", pgqtest.Row("3.5.1"))
	v, err := pgq.Version(context.Background(), db)
	c.Assert(err, jc.ErrorIsNil)
	c.Check(v, gc.Equals, "3.5.1")

	_, err = pgq.Version(context.Background(), db)
	c.Check(err, gc.ErrorMatches, "reading pgq version: unexpected statement: .*")
}

func (s *tickerSuite) TestLastTick(c *gc.C) {
	db := (&pgqtest.DB{}).
		On("pgq_ext.get_last_tick", pgqtest.Row(nil), pgqtest.Row(int64(5))).
		On("pgq_ext.set_last_tick", pgqtest.Row(1))

	_, ok, err := pgq.GetLastTick(context.Background(), db, "c")
	c.Assert(err, jc.ErrorIsNil)
	c.Check(ok, jc.IsFalse)

	tick, ok, err := pgq.GetLastTick(context.Background(), db, "c")
	c.Assert(err, jc.ErrorIsNil)
	c.Check(ok, jc.IsTrue)
	c.Check(tick, gc.Equals, int64(5))

	c.Assert(pgq.SetLastTick(context.Background(), db, "c", 6), jc.ErrorIsNil)
}

func pgtypeText(s string) pgtype.Text {
	if s == "" {
		return pgtype.Text{}
	}
	return pgtype.Text{String: s, Valid: true}
}
