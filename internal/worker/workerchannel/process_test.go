// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package workerchannel

import (
	"os"
	"time"

	"github.com/juju/clock"
	"github.com/juju/errors"
	"github.com/juju/testing"
	jc "github.com/juju/testing/checkers"
	gc "gopkg.in/check.v1"

	mbtesting "github.com/juju/mediabroker/internal/testing"
	"github.com/juju/mediabroker/internal/wire"
)

type processSuite struct {
	testing.IsolationSuite
}

var _ = gc.Suite(&processSuite{})

func (s *processSuite) SetUpTest(c *gc.C) {
	s.IsolationSuite.SetUpTest(c)
	s.PatchEnvironment("PATH", testPath)
}

func (s *processSuite) TestValidate(c *gc.C) {
	_, err := StartProcess(ProcessConfig{Clock: clock.WallClock, Logger: mbtesting.NoopLogger{}})
	c.Check(err, jc.ErrorIs, errors.NotValid)
	c.Check(err, gc.ErrorMatches, "empty Command not valid")
}

func (s *processSuite) TestStartFailure(c *gc.C) {
	_, err := StartProcess(ProcessConfig{
		Command: []string{"/nonexistent/mediabroker-worker"},
		Clock:   clock.WallClock,
		Logger:  mbtesting.NewCheckLogger(c),
	})
	c.Check(err, gc.ErrorMatches, `starting worker "/nonexistent/mediabroker-worker": .*`)
}

func (s *processSuite) TestFramesThroughProcess(c *gc.C) {
	p, err := StartProcess(ProcessConfig{
		Command: []string{"cat"},
		Clock:   clock.WallClock,
		Logger:  mbtesting.NewCheckLogger(c),
	})
	c.Assert(err, jc.ErrorIsNil)

	c.Assert(wire.NewEncoder(p).Encode(wire.Ping()), jc.ErrorIsNil)
	body, err := wire.NewDecoder(p).ReadFrame()
	c.Assert(err, jc.ErrorIsNil)
	c.Check(string(body), gc.Equals, `{"type":2}`)

	c.Assert(p.Close(), jc.ErrorIsNil)
	select {
	case <-p.Exited():
	case <-time.After(mbtesting.LongWait):
		c.Fatalf("worker process did not exit")
	}

	_, err = p.Read(make([]byte, 1))
	c.Check(errors.Is(err, os.ErrClosed), jc.IsTrue)
}
