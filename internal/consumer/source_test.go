// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package consumer_test

import (
	"context"
	"io"
	"strings"
	"time"

	"github.com/juju/clock/testclock"
	"github.com/juju/collections/set"
	"github.com/juju/errors"
	"github.com/juju/loggo"
	"github.com/juju/testing"
	jc "github.com/juju/testing/checkers"
	gc "gopkg.in/check.v1"

	"github.com/canonical/pgqueue/core/queue"
	"github.com/canonical/pgqueue/internal/consumer"
	"github.com/canonical/pgqueue/internal/database"
	"github.com/canonical/pgqueue/internal/pgq/pgqtest"
)

type sourceSuite struct {
	testing.IsolationSuite

	db     *pgqtest.DB
	opened int
	reg    *database.Registry
}

var _ = gc.Suite(&sourceSuite{})

func (s *sourceSuite) SetUpTest(c *gc.C) {
	s.IsolationSuite.SetUpTest(c)
	s.db = &pgqtest.DB{}
	s.opened = 0
	reg, err := database.NewRegistry(database.RegistryConfig{
		Resolver: database.StaticResolver(map[string]string{"src_db": "dbname=src"}),
		Open: func(context.Context, string) (database.Conn, error) {
			s.opened++
			return s.db, nil
		},
		Clock:  testclock.NewClock(epoch),
		Logger: loggo.GetLogger("test"),
	})
	c.Assert(err, jc.ErrorIsNil)
	s.reg = reg
}

func (s *sourceSuite) newSource(c *gc.C, lazy int, filter string) *consumer.PgqSource {
	src, err := consumer.NewPgqSource(consumer.PgqSourceConfig{
		Connections:  s.reg,
		DBName:       "src_db",
		QueueName:    "q",
		ConsumerName: "c",
		LazyFetch:    lazy,
		Filter:       filter,
	})
	c.Assert(err, jc.ErrorIsNil)
	return src
}

func (s *sourceSuite) TestValidate(c *gc.C) {
	_, err := consumer.NewPgqSource(consumer.PgqSourceConfig{Connections: s.reg, DBName: "src_db"})
	c.Check(err, gc.ErrorMatches, "empty QueueName not valid")
}

func (s *sourceSuite) TestBatchCycle(c *gc.C) {
	s.db.
		On("pgq.next_batch_info", pgqtest.Row(int64(3), int64(1), int64(2), epoch, epoch, int64(5))).
		On("pgq.get_batch_events", pgqtest.Result{Rows: [][]any{
			{int64(1), epoch, int64(10), nil, "I:id", "id=1", nil, nil, nil, nil},
		}}).
		On("pgq.event_retry", pgqtest.Row(1)).
		On("pgq.finish_batch", pgqtest.Row(1))

	src := s.newSource(c, 0, "")
	info, ok, err := src.NextBatch(context.Background())
	c.Assert(err, jc.ErrorIsNil)
	c.Assert(ok, jc.IsTrue)

	r, err := src.OpenBatch(context.Background(), info)
	c.Assert(err, jc.ErrorIsNil)
	events, err := r.Next(context.Background())
	c.Assert(err, jc.ErrorIsNil)
	c.Check(events, gc.HasLen, 1)
	_, err = r.Next(context.Background())
	c.Check(err, gc.Equals, io.EOF)

	c.Assert(src.RetryEvent(context.Background(), 3, 1, 0), jc.ErrorIsNil)
	done, err := src.FinishBatch(context.Background(), 3)
	c.Assert(err, jc.ErrorIsNil)
	c.Check(done, jc.IsTrue)
	c.Check(s.opened, gc.Equals, 1)
}

func (s *sourceSuite) TestLazyFetchUsesCursor(c *gc.C) {
	s.db.
		On("BEGIN", pgqtest.Result{}).
		On("pgq.get_batch_cursor", pgqtest.Result{}).
		On("ROLLBACK", pgqtest.Result{})

	src := s.newSource(c, 100, "ev_type = 'I'")
	r, err := src.OpenBatch(context.Background(), queue.BatchInfo{BatchID: 3})
	c.Assert(err, jc.ErrorIsNil)
	_, err = r.Next(context.Background())
	c.Check(err, gc.Equals, io.EOF)
	c.Assert(r.Close(context.Background()), jc.ErrorIsNil)
	c.Check(s.db.Pending(), gc.HasLen, 0)
}

// With lazy fetch the batch is read in a transaction on the source
// connection. It is closed before the retries and the finish are sent, so
// neither is rolled back with it.
func (s *sourceSuite) TestLazyFetchRetriesOutliveCursor(c *gc.C) {
	s.db.
		On("pgq.next_batch_info", pgqtest.Row(int64(3), int64(1), int64(2), epoch, epoch, int64(5))).
		On("BEGIN", pgqtest.Result{}).
		On("pgq.get_batch_cursor", pgqtest.Result{Rows: [][]any{
			{int64(1), epoch, int64(10), nil, "I:id", "id=1", nil, nil, nil, nil},
			{int64(2), epoch, int64(10), nil, "I:id", "id=2", nil, nil, nil, nil},
		}}).
		On("ROLLBACK", pgqtest.Result{}).
		On("pgq.event_retry", pgqtest.Row(1)).
		On("pgq.finish_batch", pgqtest.Row(1))

	rec := newRecorder()
	rec.outcomes[2] = queue.RetryAfter(time.Minute)
	e, err := consumer.NewEngine(consumer.EngineConfig{
		Policy:   consumer.FixedProvider{Source: s.newSource(c, 100, "")},
		Ack:      consumer.PerBatch{},
		Emission: consumer.Terminal{},
		Handler:  rec,
		Stats:    consumer.NewStats("test"),
		Clock:    testclock.NewClock(epoch),
		Logger:   loggo.GetLogger("test"),
	})
	c.Assert(err, jc.ErrorIsNil)

	processed, err := e.RunOnce(context.Background())
	c.Assert(err, jc.ErrorIsNil)
	c.Check(processed, jc.IsTrue)
	c.Check(rec.Seen(), jc.DeepEquals, []int64{1, 2})

	var order []string
	for _, stmt := range s.db.Statements() {
		for _, name := range []string{"next_batch_info", "BEGIN", "get_batch_cursor", "ROLLBACK", "COMMIT", "event_retry", "finish_batch"} {
			if strings.Contains(stmt, name) {
				order = append(order, name)
				break
			}
		}
	}
	c.Check(order, jc.DeepEquals, []string{
		"next_batch_info", "BEGIN", "get_batch_cursor", "ROLLBACK", "event_retry", "finish_batch",
	})
	retry := s.db.Calls()[4]
	c.Check(retry.Args, jc.DeepEquals, []any{int64(3), int64(2), int32(60)})
	c.Check(s.db.Pending(), gc.HasLen, 0)
}

func (s *sourceSuite) TestTransportErrorDropsConnection(c *gc.C) {
	s.db.On("pgq.next_batch_info", pgqtest.Result{Err: io.ErrUnexpectedEOF})

	src := s.newSource(c, 0, "")
	_, _, err := src.NextBatch(context.Background())
	c.Check(errors.Is(err, io.ErrUnexpectedEOF), jc.IsTrue)
	c.Check(s.reg.Names(), gc.HasLen, 0)
}

func (s *sourceSuite) TestRegister(c *gc.C) {
	s.db.
		On("pgq.register_consumer", pgqtest.Row(1)).
		On("pgq.unregister_consumer", pgqtest.Row(1))

	src := s.newSource(c, 0, "")
	c.Assert(src.Register(context.Background()), jc.ErrorIsNil)
	c.Assert(src.Unregister(context.Background()), jc.ErrorIsNil)
	c.Check(s.db.Calls()[0].Args, jc.DeepEquals, []any{"q", "c"})
}

func (s *sourceSuite) TestExtCursor(c *gc.C) {
	s.db.
		On("pgq_ext.get_last_tick", pgqtest.Row(int64(7))).
		On("pgq_ext.set_last_tick", pgqtest.Row(1))

	cursor := consumer.ExtCursor{ConsumerName: "c"}
	tick, ok, err := cursor.LastTick(context.Background(), s.db)
	c.Assert(err, jc.ErrorIsNil)
	c.Check(ok, jc.IsTrue)
	c.Check(tick, gc.Equals, int64(7))
	c.Assert(cursor.SetLastTick(context.Background(), s.db, 8), jc.ErrorIsNil)
	c.Check(s.db.Calls()[1].Args, jc.DeepEquals, []any{"c", int64(8)})
}

type handlerSuite struct {
	testing.IsolationSuite
}

var _ = gc.Suite(&handlerSuite{})

type settings map[string]string

func (s settings) String(key string) string    { return s[key] }
func (s settings) Strings(key string) []string { return nil }

func (s *handlerSuite) TestRegistry(c *gc.C) {
	consumer.RegisterHandler("test-noop", func(cfg consumer.Settings) (consumer.Handler, error) {
		if cfg.String("fail") != "" {
			return nil, errors.New("bad settings")
		}
		return consumer.HandlerFunc(func(context.Context, database.DBTX, *queue.Event) (queue.Outcome, error) {
			return queue.Done(), nil
		}), nil
	})
	c.Check(set.NewStrings(consumer.HandlerNames()...).Contains("test-noop"), jc.IsTrue)

	h, err := consumer.NewHandler("test-noop", settings{})
	c.Assert(err, jc.ErrorIsNil)
	outcome, err := h.ProcessEvent(context.Background(), nil, &queue.Event{ID: 1})
	c.Assert(err, jc.ErrorIsNil)
	c.Check(outcome.Acknowledged(), jc.IsTrue)

	_, err = consumer.NewHandler("test-noop", settings{"fail": "yes"})
	c.Check(err, gc.ErrorMatches, `creating handler "test-noop": bad settings`)

	_, err = consumer.NewHandler("missing", settings{})
	c.Check(errors.Is(err, errors.NotFound), jc.IsTrue)

	c.Check(func() {
		consumer.RegisterHandler("test-noop", func(consumer.Settings) (consumer.Handler, error) { return nil, nil })
	}, gc.PanicMatches, "consumer: handler test-noop registered twice")
}
