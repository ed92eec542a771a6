// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package cascade_test

import (
	"github.com/juju/testing"
	jc "github.com/juju/testing/checkers"
	gc "gopkg.in/check.v1"

	"github.com/canonical/pgqueue/internal/cascade"
)

type watermarkSuite struct {
	testing.IsolationSuite
}

var _ = gc.Suite(&watermarkSuite{})

func (s *watermarkSuite) TestLeafFollowsApplied(c *gc.C) {
	wm := cascade.NewWatermark(0)
	v, moved := wm.Advance(10, nil)
	c.Check(v, gc.Equals, int64(10))
	c.Check(moved, jc.IsTrue)

	v, moved = wm.Advance(10, nil)
	c.Check(v, gc.Equals, int64(10))
	c.Check(moved, jc.IsFalse)
}

func (s *watermarkSuite) TestBranchTakesSlowestSubscriber(c *gc.C) {
	wm := cascade.NewWatermark(0)
	v, _ := wm.Advance(30, []int64{25, 28})
	c.Check(v, gc.Equals, int64(25))

	v, _ = wm.Advance(30, []int64{29, 30})
	c.Check(v, gc.Equals, int64(29))
}

func (s *watermarkSuite) TestUnreportedSubscriberHolds(c *gc.C) {
	wm := cascade.NewWatermark(20)
	v, moved := wm.Advance(30, []int64{0, 29})
	c.Check(v, gc.Equals, int64(20))
	c.Check(moved, jc.IsFalse)

	v, moved = wm.Advance(30, []int64{22, 29})
	c.Check(v, gc.Equals, int64(22))
	c.Check(moved, jc.IsTrue)
}

func (s *watermarkSuite) TestNeverDecreases(c *gc.C) {
	wm := cascade.NewWatermark(0)
	wm.Advance(30, []int64{27})

	// A subscriber re-registered further back.
	v, moved := wm.Advance(31, []int64{12})
	c.Check(v, gc.Equals, int64(27))
	c.Check(moved, jc.IsFalse)
	c.Check(wm.Value(), gc.Equals, int64(27))
}

func (s *watermarkSuite) TestSeededFromReportedValue(c *gc.C) {
	wm := cascade.NewWatermark(40)
	v, moved := wm.Advance(35, nil)
	c.Check(v, gc.Equals, int64(40))
	c.Check(moved, jc.IsFalse)

	v, moved = wm.Advance(41, nil)
	c.Check(v, gc.Equals, int64(41))
	c.Check(moved, jc.IsTrue)
}
