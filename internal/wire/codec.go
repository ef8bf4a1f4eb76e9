// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package wire implements the protocol spoken between the broker and the
// external worker: JSON messages, each preceded by its length as a 32 bit
// unsigned integer in native byte order.
package wire

import (
	"encoding/binary"
	"encoding/json"
	"io"
	"sync"

	"github.com/juju/errors"
)

// MaxFrameSize bounds the size of a single message.
const MaxFrameSize = 64 << 20

// ErrFrameTooLarge is returned when a frame exceeds MaxFrameSize.
const ErrFrameTooLarge = errors.ConstError("frame too large")

// Encoder writes framed messages to an io.Writer. It is safe for
// concurrent use; frames are never interleaved.
type Encoder struct {
	mu sync.Mutex
	w  io.Writer
}

// NewEncoder returns an Encoder writing to w.
func NewEncoder(w io.Writer) *Encoder {
	return &Encoder{w: w}
}

// Encode marshals v as JSON and writes it as a single frame.
func (e *Encoder) Encode(v any) error {
	body, err := json.Marshal(v)
	if err != nil {
		return errors.Annotate(err, "marshalling message")
	}
	if len(body) > MaxFrameSize {
		return errors.Annotatef(ErrFrameTooLarge, "%d bytes", len(body))
	}

	frame := make([]byte, 4+len(body))
	binary.NativeEndian.PutUint32(frame, uint32(len(body)))
	copy(frame[4:], body)

	e.mu.Lock()
	defer e.mu.Unlock()
	if _, err := e.w.Write(frame); err != nil {
		return errors.Trace(err)
	}
	return nil
}

// Decoder reads framed messages from an io.Reader.
type Decoder struct {
	r      io.Reader
	header [4]byte
}

// NewDecoder returns a Decoder reading from r.
func NewDecoder(r io.Reader) *Decoder {
	return &Decoder{r: r}
}

// ReadFrame returns the body of the next frame. It returns io.EOF if the
// stream ends cleanly between frames.
func (d *Decoder) ReadFrame() ([]byte, error) {
	if _, err := io.ReadFull(d.r, d.header[:]); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, io.EOF
		}
		return nil, errors.Annotate(err, "reading frame header")
	}
	size := binary.NativeEndian.Uint32(d.header[:])
	if size > MaxFrameSize {
		return nil, errors.Annotatef(ErrFrameTooLarge, "%d bytes", size)
	}
	body := make([]byte, size)
	if _, err := io.ReadFull(d.r, body); err != nil {
		return nil, errors.Annotate(err, "reading frame body")
	}
	return body, nil
}

// Decode reads the next frame and unmarshals it into v. A malformed body is
// reported as a *MalformedError so that callers can skip it and carry on
// with the next frame.
func (d *Decoder) Decode(v any) error {
	body, err := d.ReadFrame()
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, v); err != nil {
		return &MalformedError{Body: body, Err: err}
	}
	return nil
}

// MalformedError reports a frame whose body could not be unmarshalled. The
// stream itself is still in sync.
type MalformedError struct {
	Body []byte
	Err  error
}

// Error implements error.
func (e *MalformedError) Error() string {
	return "malformed message: " + e.Err.Error()
}

// Unwrap returns the underlying unmarshalling error.
func (e *MalformedError) Unwrap() error {
	return e.Err
}

// IsMalformed reports whether err is a *MalformedError.
func IsMalformed(err error) bool {
	var malformed *MalformedError
	return errors.As(err, &malformed)
}
