// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package main

import (
	"encoding/json"
	"io"
	"net/http"
	"os"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
	"github.com/juju/clock"
	"github.com/juju/errors"
	"github.com/juju/testing"
	jc "github.com/juju/testing/checkers"
	"github.com/juju/worker/v4/workertest"
	gc "gopkg.in/check.v1"

	"github.com/juju/mediabroker/internal/config"
	mbtesting "github.com/juju/mediabroker/internal/testing"
	"github.com/juju/mediabroker/internal/viewer"
	"github.com/juju/mediabroker/internal/worker/signalwatcher"
)

type agentSuite struct {
	testing.IsolationSuite
}

var _ = gc.Suite(&agentSuite{})

func (s *agentSuite) SetUpTest(c *gc.C) {
	s.IsolationSuite.SetUpTest(c)
	s.PatchEnvironment("PATH", testPath)
}

func (s *agentSuite) agentConfig(command ...string) AgentConfig {
	cfg := config.Default()
	cfg.ListenAddress = "127.0.0.1:0"
	cfg.WorkerCommand = command
	return AgentConfig{Config: cfg, Clock: clock.WallClock}
}

func (s *agentSuite) TestValidate(c *gc.C) {
	agentConfig := s.agentConfig("cat")
	agentConfig.Clock = nil
	c.Check(agentConfig.Validate(), gc.ErrorMatches, "nil Clock not valid")

	_, err := NewAgent(s.agentConfig())
	c.Check(err, jc.ErrorIs, errors.NotValid)
}

func (s *agentSuite) TestWorkerFailsToStart(c *gc.C) {
	_, err := NewAgent(s.agentConfig("/nonexistent/media-worker"))
	c.Check(err, gc.ErrorMatches, `starting worker "/nonexistent/media-worker": .*`)
}

func (s *agentSuite) TestServesViewers(c *gc.C) {
	// cat echoes the commands back; they are not valid events and are
	// skipped, which is enough to keep the channel alive.
	a, err := NewAgent(s.agentConfig("cat"))
	c.Assert(err, jc.ErrorIsNil)
	defer workertest.DirtyKill(c, a)
	base := a.Addr().String()

	status := s.status(c, base)
	c.Check(status["viewers"], gc.Equals, float64(0))
	c.Check(status["channel"].(map[string]any)["alive"], jc.IsTrue)

	conn, _, err := websocket.DefaultDialer.Dial("ws://"+base+"/viewer", nil)
	c.Assert(err, jc.ErrorIsNil)
	defer conn.Close()

	var session viewer.ServerMessage
	c.Assert(conn.ReadJSON(&session), jc.ErrorIsNil)
	c.Assert(session.Type, gc.Equals, viewer.MessageSession)

	err = conn.WriteJSON(viewer.ClientMessage{
		Type: viewer.MessageLoad,
		HTML: `<body><img data-key="a" src="http://x/a.png"></body>`,
	})
	c.Assert(err, jc.ErrorIsNil)
	s.waitForResources(c, base, 1)

	c.Assert(conn.Close(), jc.ErrorIsNil)
	s.waitForResources(c, base, 0)

	body := s.get(c, base, "/metrics")
	c.Check(body, jc.Contains, "mediabroker_broker_resources 0")
	c.Check(body, jc.Contains, `mediabroker_broker_commands_sent_total{command="ENQUEUE"} 1`)
	c.Check(body, jc.Contains, `mediabroker_broker_commands_sent_total{command="DEQUEUE"} 1`)
	c.Check(body, jc.Contains, `mediabroker_viewer_messages_total{type="load"} 1`)

	workertest.CleanKill(c, a)
}

func (s *agentSuite) TestSurvivesWorkerExit(c *gc.C) {
	a, err := NewAgent(s.agentConfig("true"))
	c.Assert(err, jc.ErrorIsNil)
	defer workertest.DirtyKill(c, a)
	base := a.Addr().String()

	deadline := time.After(mbtesting.LongWait)
	for {
		channel := s.status(c, base)["channel"].(map[string]any)
		if channel["alive"] == false && channel["error"] != nil {
			c.Check(channel["error"], gc.Not(gc.Equals), "")
			break
		}
		select {
		case <-deadline:
			c.Fatalf("worker channel still alive")
		case <-time.After(mbtesting.ShortWait):
		}
	}

	workertest.CheckAlive(c, a)
	workertest.CleanKill(c, a)
}

func (s *agentSuite) TestStopsOnSignal(c *gc.C) {
	signals := make(chan os.Signal, 1)
	agentConfig := s.agentConfig("cat")
	agentConfig.Signals = signals
	a, err := NewAgent(agentConfig)
	c.Assert(err, jc.ErrorIsNil)
	defer workertest.DirtyKill(c, a)

	signals <- syscall.SIGTERM
	err = workertest.CheckKilled(c, a)
	c.Check(err, jc.ErrorIs, signalwatcher.ErrTerminated)
}

func (s *agentSuite) get(c *gc.C, base, path string) string {
	resp, err := http.Get("http://" + base + path)
	c.Assert(err, jc.ErrorIsNil)
	defer resp.Body.Close()
	c.Assert(resp.StatusCode, gc.Equals, http.StatusOK)
	body, err := io.ReadAll(resp.Body)
	c.Assert(err, jc.ErrorIsNil)
	return string(body)
}

func (s *agentSuite) status(c *gc.C, base string) map[string]any {
	var status map[string]any
	err := json.Unmarshal([]byte(s.get(c, base, "/status")), &status)
	c.Assert(err, jc.ErrorIsNil)
	return status
}

func (s *agentSuite) waitForResources(c *gc.C, base string, n int) {
	deadline := time.After(mbtesting.LongWait)
	for {
		broker := s.status(c, base)["broker"].(map[string]any)
		if resources, ok := broker["resources"].(map[string]any); ok && len(resources) == n {
			return
		}
		select {
		case <-deadline:
			c.Fatalf("timed out waiting for %d resources", n)
		case <-time.After(mbtesting.ShortWait):
		}
	}
}
