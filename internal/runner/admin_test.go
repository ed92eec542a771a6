// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package runner_test

import (
	"context"
	"net"
	"strings"
	"time"

	"github.com/juju/errors"
	jc "github.com/juju/testing/checkers"
	gc "gopkg.in/check.v1"

	"github.com/canonical/pgqueue/internal/pgq/pgqtest"
	"github.com/canonical/pgqueue/internal/runner"
)

func (s *runnerSuite) TestStatusOfConsumer(c *gc.C) {
	s.dbs["dbname=src"].
		On("pgq.get_consumer_info", pgqtest.Row(3.5, 1.25, int64(40), int64(7), int64(12)))

	info, err := runner.Status(context.Background(), s.params(c, "mover", moverSettings()))
	c.Assert(err, jc.ErrorIsNil)
	c.Check(info.ConsumerName, gc.Equals, "mover")
	c.Check(info.Lag, gc.Equals, 3500*time.Millisecond)
	c.Check(info.LastSeen, gc.Equals, 1250*time.Millisecond)
	c.Check(info.LastTick, gc.Equals, int64(40))
	c.Assert(info.CurrentBatch, gc.NotNil)
	c.Check(*info.CurrentBatch, gc.Equals, int64(7))
	c.Check(info.PendingEvents, gc.Equals, int64(12))

	calls := s.dbs["dbname=src"].Calls()
	c.Assert(calls, gc.HasLen, 1)
	c.Check(calls[0].Args, jc.DeepEquals, []any{"q", "mover"})
	c.Check(s.dbs["dbname=src"].IsClosed(), jc.IsTrue)
}

func (s *runnerSuite) TestStatusOfUnknownConsumer(c *gc.C) {
	s.dbs["dbname=src"].On("pgq.get_consumer_info", pgqtest.Result{})

	_, err := runner.Status(context.Background(), s.params(c, "mover", moverSettings()))
	c.Check(errors.Is(err, errors.NotFound), jc.IsTrue)
	c.Check(err, gc.ErrorMatches, `reading consumer info: consumer "mover" on queue "q" not found`)
}

func (s *runnerSuite) TestStatusOfCascadeWorker(c *gc.C) {
	s.dbs["dbname=node"].
		On("pgq_node.get_node_info", pgqtest.Row(200, "ok", "leaf", "n2", int64(1), int64(5), "n1", "dbname=src", "n2_worker")).
		On("pgq_node.get_consumer_state", pgqtest.Row(
			200, "ok", "leaf", "n2", int64(40),
			"n1", "dbname=src", false, true, nil,
			nil, nil, int64(0), int64(0),
		))
	s.dbs["dbname=src"].
		On("pgq.get_consumer_info", pgqtest.Row(0.5, 0.5, int64(40), nil, int64(0)))

	info, err := runner.Status(context.Background(), s.params(c, "cascade", nodeSettings()))
	c.Assert(err, jc.ErrorIsNil)
	c.Check(info.ConsumerName, gc.Equals, "n2_worker")
	c.Check(info.CurrentBatch, gc.IsNil)
	c.Check(s.dbs["dbname=src"].Calls()[0].Args, jc.DeepEquals, []any{"q", "n2_worker"})
}

func (s *runnerSuite) TestStatusOfRootRefused(c *gc.C) {
	s.dbs["dbname=node"].
		On("pgq_node.get_node_info", pgqtest.Row(200, "ok", "root", "n1", int64(1), int64(5), nil, nil, nil))

	_, err := runner.Status(context.Background(), s.params(c, "cascade", nodeSettings()))
	c.Check(errors.Is(err, errors.NotValid), jc.IsTrue)
	c.Check(err, gc.ErrorMatches, `reading node info: worker of root node "n1" not valid`)
}

func (s *runnerSuite) TestStatusUnreachable(c *gc.C) {
	s.openErr = &net.OpError{Op: "dial", Net: "tcp", Err: errors.New("connection refused")}

	_, err := runner.Status(context.Background(), s.params(c, "mover", moverSettings()))
	c.Check(errors.Is(err, runner.ErrUnreachable), jc.IsTrue)
	c.Check(s.openCount(), gc.Equals, 1)
}

func (s *runnerSuite) TestSetPaused(c *gc.C) {
	node := s.dbs["dbname=node"]
	node.
		On("pgq_node.get_node_info",
			pgqtest.Row(200, "ok", "branch", "n2", int64(1), int64(5), "n1", "dbname=src", "n2_worker"),
			pgqtest.Row(200, "ok", "branch", "n2", int64(1), int64(5), "n1", "dbname=src", "n2_worker"),
		).
		On("pgq_node.set_consumer_paused", pgqtest.Row(200, "ok"), pgqtest.Row(200, "ok"))

	params := s.params(c, "cascade", nodeSettings())
	name, err := runner.SetPaused(context.Background(), params, true)
	c.Assert(err, jc.ErrorIsNil)
	c.Check(name, gc.Equals, "n2_worker")
	_, err = runner.SetPaused(context.Background(), params, false)
	c.Assert(err, jc.ErrorIsNil)

	var args [][]any
	for _, call := range node.Calls() {
		if strings.Contains(call.SQL, "set_consumer_paused") {
			args = append(args, call.Args)
		}
	}
	c.Check(args, jc.DeepEquals, [][]any{
		{"q", "n2_worker", true},
		{"q", "n2_worker", false},
	})
}

func (s *runnerSuite) TestSetPausedNeedsNodeDB(c *gc.C) {
	_, err := runner.SetPaused(context.Background(), s.params(c, "mover", moverSettings()), true)
	c.Check(err, gc.ErrorMatches, `missing db in \[mover\] not valid`)
	c.Check(s.openCount(), gc.Equals, 0)
}

func (s *runnerSuite) TestSetPausedRefusedByNode(c *gc.C) {
	s.dbs["dbname=node"].
		On("pgq_node.get_node_info", pgqtest.Row(200, "ok", "leaf", "n2", int64(1), int64(5), "n1", "dbname=src", "n2_worker")).
		On("pgq_node.set_consumer_paused", pgqtest.Row(404, "Consumer not found"))

	_, err := runner.SetPaused(context.Background(), s.params(c, "cascade", nodeSettings()), true)
	c.Check(err, gc.ErrorMatches, `pausing worker: .*Consumer not found.*`)
}
