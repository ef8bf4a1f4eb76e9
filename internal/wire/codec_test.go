// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package wire

import (
	"bytes"
	"encoding/binary"
	"io"

	"github.com/juju/errors"
	"github.com/juju/testing"
	jc "github.com/juju/testing/checkers"
	gc "gopkg.in/check.v1"
)

type codecSuite struct {
	testing.IsolationSuite
}

var _ = gc.Suite(&codecSuite{})

func (s *codecSuite) TestEncodeCommandsOnTheWire(c *gc.C) {
	var buf bytes.Buffer
	enc := NewEncoder(&buf)

	c.Assert(enc.Encode(Enqueue("abc", "http://x/img.png")), jc.ErrorIsNil)
	c.Assert(enc.Encode(Dequeue("abc")), jc.ErrorIsNil)
	c.Assert(enc.Encode(Ping()), jc.ErrorIsNil)
	c.Assert(enc.Encode(Settings("Mozilla/5.0")), jc.ErrorIsNil)

	dec := NewDecoder(&buf)
	var bodies []string
	for {
		body, err := dec.ReadFrame()
		if err == io.EOF {
			break
		}
		c.Assert(err, jc.ErrorIsNil)
		bodies = append(bodies, string(body))
	}
	c.Check(bodies, jc.DeepEquals, []string{
		`{"type":0,"id":"abc","url":"http://x/img.png"}`,
		`{"type":1,"id":"abc"}`,
		`{"type":2}`,
		`{"type":3,"user_agent":"Mozilla/5.0"}`,
	})
}

func (s *codecSuite) TestFrameHeaderIsNativeLength(c *gc.C) {
	var buf bytes.Buffer
	c.Assert(NewEncoder(&buf).Encode(Ping()), jc.ErrorIsNil)

	raw := buf.Bytes()
	c.Assert(len(raw) > 4, jc.IsTrue)
	c.Check(binary.NativeEndian.Uint32(raw[:4]), gc.Equals, uint32(len(raw)-4))
}

func (s *codecSuite) TestDecodeResult(c *gc.C) {
	dec := s.decoderFor(c, `{"type":"result","id":"abc","data":"data:image/webp;base64,AAAA"}`)

	var ev Event
	c.Assert(dec.Decode(&ev), jc.ErrorIsNil)
	c.Check(ev.Type, gc.Equals, EventResult)
	c.Check(string(ev.ID), gc.Equals, "abc")
	c.Assert(ev.Data, gc.NotNil)
	c.Check(*ev.Data, gc.Equals, "data:image/webp;base64,AAAA")
}

func (s *codecSuite) TestDecodeFailedResult(c *gc.C) {
	dec := s.decoderFor(c, `{"type":"result","id":"abc","data":null}`)

	var ev Event
	c.Assert(dec.Decode(&ev), jc.ErrorIsNil)
	c.Check(ev.Data, gc.IsNil)
	c.Check(Result{ID: ev.ID, Payload: ev.Data}.Failed(), jc.IsTrue)
}

func (s *codecSuite) TestDecodeAggregateStatus(c *gc.C) {
	dec := s.decoderFor(c, `{"type":"status","queue":3,"worker":true}`)

	var ev Event
	c.Assert(dec.Decode(&ev), jc.ErrorIsNil)
	c.Check(ev.Type, gc.Equals, EventStatus)
	c.Check(ev.Status.Alive(), jc.IsTrue)
	c.Check(ev.Status.QueueDepth(), gc.Equals, 3)
}

func (s *codecSuite) TestDecodeStagedStatus(c *gc.C) {
	dec := s.decoderFor(c, `{"type":"status","fetch":{"alive":true,"queue":2},"censor":{"alive":false,"queue":5},"failed":["x"]}`)

	var ev Event
	c.Assert(dec.Decode(&ev), jc.ErrorIsNil)
	c.Check(ev.Status.Alive(), jc.IsFalse)
	c.Check(ev.Status.QueueDepth(), gc.Equals, 7)
	c.Check(ev.Status.Failed, jc.DeepEquals, []any{"x"})
}

func (s *codecSuite) TestDecodeStatusWithStructuredFailures(c *gc.C) {
	dec := s.decoderFor(c, `{"type":"status","queue":1,"worker":true,"failed":[{"id":"abc","reason":"timeout"},3]}`)

	var ev Event
	c.Assert(dec.Decode(&ev), jc.ErrorIsNil)
	c.Check(ev.Status.QueueDepth(), gc.Equals, 1)
	c.Check(ev.Status.Failed, jc.DeepEquals, []any{
		map[string]any{"id": "abc", "reason": "timeout"},
		float64(3),
	})
}

func (s *codecSuite) TestMalformedFrameKeepsStreamInSync(c *gc.C) {
	var buf bytes.Buffer
	s.writeFrame(&buf, `{not json`)
	s.writeFrame(&buf, `{"type":"debug","debug":"hello"}`)
	dec := NewDecoder(&buf)

	var ev Event
	err := dec.Decode(&ev)
	c.Assert(IsMalformed(err), jc.IsTrue)

	ev = Event{}
	c.Assert(dec.Decode(&ev), jc.ErrorIsNil)
	c.Check(ev.Type, gc.Equals, EventDebug)
	c.Check(ev.Debug, gc.Equals, "hello")
}

func (s *codecSuite) TestTruncatedFrame(c *gc.C) {
	var buf bytes.Buffer
	header := make([]byte, 4)
	binary.NativeEndian.PutUint32(header, 10)
	buf.Write(header)
	buf.WriteString("abc")

	_, err := NewDecoder(&buf).ReadFrame()
	c.Assert(err, gc.ErrorMatches, "reading frame body: unexpected EOF")
}

func (s *codecSuite) TestOversizedFrame(c *gc.C) {
	var buf bytes.Buffer
	header := make([]byte, 4)
	binary.NativeEndian.PutUint32(header, MaxFrameSize+1)
	buf.Write(header)

	_, err := NewDecoder(&buf).ReadFrame()
	c.Assert(errors.Is(err, ErrFrameTooLarge), jc.IsTrue)
}

func (s *codecSuite) TestCleanEOF(c *gc.C) {
	_, err := NewDecoder(&bytes.Buffer{}).ReadFrame()
	c.Assert(err, gc.Equals, io.EOF)
}

func (s *codecSuite) decoderFor(c *gc.C, body string) *Decoder {
	var buf bytes.Buffer
	s.writeFrame(&buf, body)
	return NewDecoder(&buf)
}

func (s *codecSuite) writeFrame(buf *bytes.Buffer, body string) {
	header := make([]byte, 4)
	binary.NativeEndian.PutUint32(header, uint32(len(body)))
	buf.Write(header)
	buf.WriteString(body)
}
