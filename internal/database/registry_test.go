// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package database

import (
	"context"
	"io"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/juju/clock/testclock"
	"github.com/juju/errors"
	"github.com/juju/loggo"
	"github.com/juju/testing"
	jc "github.com/juju/testing/checkers"
	"go.uber.org/mock/gomock"
	gc "gopkg.in/check.v1"
)

type registrySuite struct {
	testing.IsolationSuite

	clock  *testclock.Clock
	opened []string
	conns  []*MockConn
}

var _ = gc.Suite(&registrySuite{})

func (s *registrySuite) SetUpTest(c *gc.C) {
	s.IsolationSuite.SetUpTest(c)
	s.clock = testclock.NewClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	s.opened = nil
	s.conns = nil
}

func (s *registrySuite) newRegistry(c *gc.C, ctrl *gomock.Controller, dsns map[string]string, lifetime time.Duration) *Registry {
	r, err := NewRegistry(RegistryConfig{
		Resolver: StaticResolver(dsns),
		Open: func(ctx context.Context, dsn string) (Conn, error) {
			s.opened = append(s.opened, dsn)
			conn := NewMockConn(ctrl)
			s.conns = append(s.conns, conn)
			return conn, nil
		},
		Clock:    s.clock,
		Logger:   loggo.GetLogger("test"),
		Lifetime: lifetime,
	})
	c.Assert(err, jc.ErrorIsNil)
	return r
}

func (s *registrySuite) TestValidate(c *gc.C) {
	_, err := NewRegistry(RegistryConfig{})
	c.Check(err, gc.ErrorMatches, "nil Resolver not valid")

	_, err = NewRegistry(RegistryConfig{
		Resolver: StaticResolver(nil),
		Open:     Connect,
		Clock:    s.clock,
		Logger:   loggo.GetLogger("test"),
		Lifetime: -time.Second,
	})
	c.Check(err, gc.ErrorMatches, "negative Lifetime not valid")
}

func (s *registrySuite) TestGetOpensLazilyAndReuses(c *gc.C) {
	ctrl := gomock.NewController(c)
	defer ctrl.Finish()

	r := s.newRegistry(c, ctrl, map[string]string{"db": "dbname=a"}, 0)
	c.Check(s.opened, gc.HasLen, 0)

	h1, err := r.Get(context.Background(), "db")
	c.Assert(err, jc.ErrorIsNil)
	c.Check(h1.Name(), gc.Equals, "db")
	c.Check(h1.Autocommit(), jc.IsFalse)

	s.conns[0].EXPECT().IsClosed().Return(false)

	h2, err := r.Get(context.Background(), "db", Autocommit())
	c.Assert(err, jc.ErrorIsNil)
	c.Check(h2, gc.Equals, h1)
	c.Check(h2.Autocommit(), jc.IsTrue)
	c.Check(s.opened, jc.DeepEquals, []string{"dbname=a"})
	c.Check(r.Names(), jc.DeepEquals, []string{"db"})
}

func (s *registrySuite) TestGetUnknownName(c *gc.C) {
	ctrl := gomock.NewController(c)
	defer ctrl.Finish()

	r := s.newRegistry(c, ctrl, map[string]string{}, 0)
	_, err := r.Get(context.Background(), "src_db")
	c.Check(errors.Is(err, errors.NotFound), jc.IsTrue)
}

func (s *registrySuite) TestGetReopensClosedConnection(c *gc.C) {
	ctrl := gomock.NewController(c)
	defer ctrl.Finish()

	r := s.newRegistry(c, ctrl, map[string]string{"db": "dbname=a"}, 0)
	_, err := r.Get(context.Background(), "db")
	c.Assert(err, jc.ErrorIsNil)

	s.conns[0].EXPECT().IsClosed().Return(true)

	_, err = r.Get(context.Background(), "db")
	c.Assert(err, jc.ErrorIsNil)
	c.Check(s.opened, gc.HasLen, 2)
}

func (s *registrySuite) TestGetHonoursLifetime(c *gc.C) {
	ctrl := gomock.NewController(c)
	defer ctrl.Finish()

	r := s.newRegistry(c, ctrl, map[string]string{"db": "dbname=a"}, time.Minute)
	_, err := r.Get(context.Background(), "db")
	c.Assert(err, jc.ErrorIsNil)

	s.conns[0].EXPECT().IsClosed().Return(false).Times(2)
	_, err = r.Get(context.Background(), "db")
	c.Assert(err, jc.ErrorIsNil)
	c.Check(s.opened, gc.HasLen, 1)

	s.clock.Advance(time.Minute)
	s.conns[0].EXPECT().Close(gomock.Any()).Return(nil)

	_, err = r.Get(context.Background(), "db")
	c.Assert(err, jc.ErrorIsNil)
	c.Check(s.opened, gc.HasLen, 2)
}

func (s *registrySuite) TestReset(c *gc.C) {
	ctrl := gomock.NewController(c)
	defer ctrl.Finish()

	r := s.newRegistry(c, ctrl, map[string]string{"db": "dbname=a"}, 0)
	_, err := r.Get(context.Background(), "db")
	c.Assert(err, jc.ErrorIsNil)

	s.conns[0].EXPECT().Close(gomock.Any()).Return(nil)
	r.Reset(context.Background(), "db")
	c.Check(r.Names(), gc.HasLen, 0)

	// Resetting an unknown name is a no-op.
	r.Reset(context.Background(), "other")
}

func (s *registrySuite) TestReloadClosesChangedOnly(c *gc.C) {
	ctrl := gomock.NewController(c)
	defer ctrl.Finish()

	r := s.newRegistry(c, ctrl, map[string]string{
		"src_db": "dbname=src",
		"dst_db": "dbname=dst",
	}, 0)
	_, err := r.Get(context.Background(), "src_db")
	c.Assert(err, jc.ErrorIsNil)
	_, err = r.Get(context.Background(), "dst_db")
	c.Assert(err, jc.ErrorIsNil)

	// dst_db is the second connection opened.
	s.conns[1].EXPECT().Close(gomock.Any()).Return(nil)

	r.Reload(context.Background(), StaticResolver(map[string]string{
		"src_db": "dbname=src",
		"dst_db": "dbname=dst2",
	}))
	c.Check(r.Names(), jc.DeepEquals, []string{"src_db"})
}

func (s *registrySuite) TestCheckDropsOnTransportError(c *gc.C) {
	ctrl := gomock.NewController(c)
	defer ctrl.Finish()

	r := s.newRegistry(c, ctrl, map[string]string{"db": "dbname=a"}, 0)
	h, err := r.Get(context.Background(), "db")
	c.Assert(err, jc.ErrorIsNil)

	// Non transport errors leave the handle alone.
	boom := errors.New("boom")
	c.Check(h.Check(context.Background(), boom), gc.Equals, boom)
	c.Check(r.Names(), gc.HasLen, 1)

	s.conns[0].EXPECT().Close(gomock.Any()).Return(nil)
	c.Check(h.Check(context.Background(), io.ErrUnexpectedEOF), gc.Equals, io.ErrUnexpectedEOF)
	c.Check(r.Names(), gc.HasLen, 0)
}

func (s *registrySuite) TestBeginUsesIsolation(c *gc.C) {
	ctrl := gomock.NewController(c)
	defer ctrl.Finish()

	r := s.newRegistry(c, ctrl, map[string]string{"db": "dbname=a"}, 0)
	h, err := r.Get(context.Background(), "db", Isolation(pgx.Serializable))
	c.Assert(err, jc.ErrorIsNil)

	s.conns[0].EXPECT().BeginTx(gomock.Any(), pgx.TxOptions{IsoLevel: pgx.Serializable}).Return(nil, nil)
	_, err = h.Begin(context.Background())
	c.Assert(err, jc.ErrorIsNil)
}

func (s *registrySuite) TestClose(c *gc.C) {
	ctrl := gomock.NewController(c)
	defer ctrl.Finish()

	r := s.newRegistry(c, ctrl, map[string]string{"a": "dbname=a", "b": "dbname=b"}, 0)
	_, err := r.Get(context.Background(), "a")
	c.Assert(err, jc.ErrorIsNil)
	_, err = r.Get(context.Background(), "b")
	c.Assert(err, jc.ErrorIsNil)

	s.conns[0].EXPECT().Close(gomock.Any()).Return(nil)
	s.conns[1].EXPECT().Close(gomock.Any()).Return(errors.New("already gone"))

	r.Close(context.Background())
	c.Check(r.Names(), gc.HasLen, 0)
}

func (s *registrySuite) TestPinOverridesResolver(c *gc.C) {
	ctrl := gomock.NewController(c)
	defer ctrl.Finish()

	r := s.newRegistry(c, ctrl, map[string]string{}, 0)
	r.Pin(context.Background(), "provider", "dbname=p1")
	_, err := r.Get(context.Background(), "provider")
	c.Assert(err, jc.ErrorIsNil)

	// Pinning the same location keeps the connection.
	r.Pin(context.Background(), "provider", "dbname=p1")
	c.Check(r.Names(), jc.DeepEquals, []string{"provider"})

	s.conns[0].EXPECT().Close(gomock.Any()).Return(nil)
	r.Pin(context.Background(), "provider", "dbname=p2")
	c.Check(r.Names(), gc.HasLen, 0)

	// Pins survive a reload.
	r.Reload(context.Background(), StaticResolver(nil))
	_, err = r.Get(context.Background(), "provider")
	c.Assert(err, jc.ErrorIsNil)
	c.Check(s.opened, jc.DeepEquals, []string{"dbname=p1", "dbname=p2"})
}
