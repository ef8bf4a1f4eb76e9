// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package viewer

import (
	"net/http/httptest"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/juju/clock/testclock"
	"github.com/juju/errors"
	"github.com/juju/pubsub/v2"
	"github.com/juju/testing"
	jc "github.com/juju/testing/checkers"
	gc "gopkg.in/check.v1"

	"github.com/juju/mediabroker/core/lifecycle"
	"github.com/juju/mediabroker/core/resource"
	mbtesting "github.com/juju/mediabroker/internal/testing"
	"github.com/juju/mediabroker/internal/wire"
)

const urlA = "http://x/a.png"

var idA = resource.IDFromAddress(urlA)

type handlerSuite struct {
	testing.IsolationSuite

	broker *fakeBroker
	router *Router
	hub    *pubsub.SimpleHub
	abort  chan struct{}
	server *httptest.Server
	ended  chan resource.ContextHandle
}

var _ = gc.Suite(&handlerSuite{})

func (s *handlerSuite) SetUpTest(c *gc.C) {
	s.IsolationSuite.SetUpTest(c)

	logger := mbtesting.NewCheckLogger(c)
	s.broker = &fakeBroker{calls: make(chan brokerCall, 100)}
	s.router = NewRouter(logger)
	s.hub = lifecycle.NewHub(logger)
	s.abort = make(chan struct{})
	s.ended = make(chan resource.ContextHandle, 10)

	unsubscribe := lifecycle.SubscribeContextEnded(s.hub, func(handle resource.ContextHandle) {
		s.ended <- handle
	})
	s.AddCleanup(func(*gc.C) { unsubscribe() })

	handler, err := NewHandler(s.config(c))
	c.Assert(err, jc.ErrorIsNil)
	s.server = httptest.NewServer(handler)
	s.AddCleanup(func(*gc.C) {
		select {
		case <-s.abort:
		default:
			close(s.abort)
		}
		s.server.Close()
	})
}

func (s *handlerSuite) config(c *gc.C) Config {
	return Config{
		Broker:         s.broker,
		Router:         s.router,
		Hub:            s.hub,
		Clock:          testclock.NewClock(time.Now()),
		Logger:         mbtesting.NewCheckLogger(c),
		RescanInterval: time.Second,
		Abort:          s.abort,
	}
}

func (s *handlerSuite) TestValidate(c *gc.C) {
	config := s.config(c)
	config.Router = nil
	c.Check(config.Validate(), gc.ErrorMatches, "nil Router not valid")

	config = s.config(c)
	config.Abort = nil
	c.Check(config.Validate(), jc.ErrorIs, errors.NotValid)

	_, err := NewHandler(Config{})
	c.Check(err, jc.ErrorIs, errors.NotValid)
}

func (s *handlerSuite) TestSession(c *gc.C) {
	conn := s.dial(c)
	handle := s.readSession(c, conn)
	c.Check(s.router.Len(), gc.Equals, 1)

	s.send(c, conn, ClientMessage{Type: MessageLoad, HTML: `<body><img data-key="a" src="http://x/a.png"></body>`})
	s.expectCalls(c, brokerCall{Context: handle, ID: idA, URL: urlA})

	payload := "data:image/webp;base64,AAAA"
	s.router.Deliver(handle, wire.Result{ID: idA, Payload: &payload})
	c.Check(s.read(c, conn), jc.DeepEquals, ServerMessage{
		Type: MessageApply,
		Key:  "a",
		ID:   idA.String(),
		Src:  payload,
	})
	s.send(c, conn, ClientMessage{Type: MessageLoaded, Key: "a"})

	c.Assert(conn.Close(), jc.ErrorIsNil)
	s.expectEnded(c, handle)
	c.Check(s.router.Len(), gc.Equals, 0)
}

func (s *handlerSuite) TestSessionsAreSeparateContexts(c *gc.C) {
	first := s.dial(c)
	second := s.dial(c)
	h1 := s.readSession(c, first)
	h2 := s.readSession(c, second)
	c.Check(h1, gc.Not(gc.Equals), h2)

	page := ClientMessage{Type: MessageLoad, HTML: `<body><img data-key="a" src="http://x/a.png"></body>`}
	s.send(c, first, page)
	s.expectCalls(c, brokerCall{Context: h1, ID: idA, URL: urlA})
	s.send(c, second, page)
	s.expectCalls(c, brokerCall{Context: h2, ID: idA, URL: urlA})

	c.Assert(first.Close(), jc.ErrorIsNil)
	s.expectEnded(c, h1)
	c.Check(s.router.Len(), gc.Equals, 1)
}

func (s *handlerSuite) TestBadMessagesIgnored(c *gc.C) {
	conn := s.dial(c)
	handle := s.readSession(c, conn)

	c.Assert(conn.WriteMessage(websocket.TextMessage, []byte("not json")), jc.ErrorIsNil)
	s.send(c, conn, ClientMessage{Type: "bogus"})
	s.send(c, conn, ClientMessage{Type: MessageLoad, HTML: `<body><div data-key="root"></div></body>`})
	s.send(c, conn, ClientMessage{Type: MessageBatch, Ops: []ClientMessage{
		{Type: MessageInsert, Parent: "root", HTML: `<img data-key="gone" src="http://x/gone.png">`},
		{Type: MessageRemove, Key: "gone"},
	}})
	s.send(c, conn, ClientMessage{Type: MessageInsert, Parent: "root", HTML: `<img data-key="a" src="http://x/a.png">`})

	s.expectCalls(c, brokerCall{Context: handle, ID: idA, URL: urlA})
	s.expectNoCall(c)
}

func (s *handlerSuite) TestAbortEndsSessions(c *gc.C) {
	conn := s.dial(c)
	handle := s.readSession(c, conn)

	close(s.abort)
	s.expectEnded(c, handle)

	_ = conn.SetReadDeadline(time.Now().Add(mbtesting.LongWait))
	_, _, err := conn.ReadMessage()
	c.Check(websocket.IsCloseError(err, websocket.CloseGoingAway), jc.IsTrue)
}

func (s *handlerSuite) dial(c *gc.C) *websocket.Conn {
	url := "ws" + strings.TrimPrefix(s.server.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	c.Assert(err, jc.ErrorIsNil)
	s.AddCleanup(func(*gc.C) { conn.Close() })
	return conn
}

func (s *handlerSuite) readSession(c *gc.C, conn *websocket.Conn) resource.ContextHandle {
	msg := s.read(c, conn)
	c.Assert(msg.Type, gc.Equals, MessageSession)
	handle := resource.ContextHandle(msg.Context)
	c.Assert(handle.Validate(), jc.ErrorIsNil)
	return handle
}

func (s *handlerSuite) read(c *gc.C, conn *websocket.Conn) ServerMessage {
	var msg ServerMessage
	c.Assert(conn.SetReadDeadline(time.Now().Add(mbtesting.LongWait)), jc.ErrorIsNil)
	c.Assert(conn.ReadJSON(&msg), jc.ErrorIsNil)
	return msg
}

func (s *handlerSuite) send(c *gc.C, conn *websocket.Conn, msg ClientMessage) {
	c.Assert(conn.WriteJSON(msg), jc.ErrorIsNil)
}

func (s *handlerSuite) expectCalls(c *gc.C, expected ...brokerCall) {
	for _, want := range expected {
		select {
		case got := <-s.broker.calls:
			c.Assert(got, jc.DeepEquals, want)
		case <-time.After(mbtesting.LongWait):
			c.Fatalf("timed out waiting for %+v", want)
		}
	}
}

func (s *handlerSuite) expectNoCall(c *gc.C) {
	select {
	case got := <-s.broker.calls:
		c.Fatalf("unexpected broker call %+v", got)
	case <-time.After(mbtesting.ShortWait):
	}
}

func (s *handlerSuite) expectEnded(c *gc.C, handle resource.ContextHandle) {
	select {
	case got := <-s.ended:
		c.Check(got, gc.Equals, handle)
	case <-time.After(mbtesting.LongWait):
		c.Fatalf("timed out waiting for %q to end", handle)
	}
}

type brokerCall struct {
	Withdraw bool
	Context  resource.ContextHandle
	ID       resource.ID
	URL      string
}

type fakeBroker struct {
	calls chan brokerCall
}

func (f *fakeBroker) RegisterInterest(ctx resource.ContextHandle, id resource.ID, url string) {
	f.calls <- brokerCall{Context: ctx, ID: id, URL: url}
}

func (f *fakeBroker) WithdrawInterest(ctx resource.ContextHandle, id resource.ID) {
	f.calls <- brokerCall{Withdraw: true, Context: ctx, ID: id}
}
