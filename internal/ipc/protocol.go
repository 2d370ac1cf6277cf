// Package ipc is the local channel between kpfind invocations and the cache
// daemon: a unix socket carrying newline-delimited JSON. A client sends one
// Request per connection and reads Frames until a terminal frame arrives.
package ipc

import (
	"bufio"
	"encoding/json"
	"io"
	"time"

	"github.com/mrz1836/kpfind/internal/metrics"
	"github.com/mrz1836/kpfind/internal/search"
	"github.com/mrz1836/kpfind/internal/session"
	kperr "github.com/mrz1836/kpfind/pkg/errors"
)

// Op names a daemon operation.
type Op string

// Operations.
const (
	OpSearch Op = "search"
	OpStatus Op = "status"
	OpLock   Op = "lock"
	OpPing   Op = "ping"
)

// Credential carries the master password. It is only attached after the
// daemon has answered that no session exists for the database.
type Credential struct {
	Password []byte `json:"password"`
}

// Request is one client call.
type Request struct {
	ID             string      `json:"id"`
	Op             Op          `json:"op"`
	Database       string      `json:"database,omitempty"`
	KeyFile        string      `json:"key_file,omitempty"`
	Credential     *Credential `json:"credential,omitempty"`
	Needle         string      `json:"needle,omitempty"`
	Mode           string      `json:"mode,omitempty"`
	Flags          []string    `json:"flags,omitempty"`
	IncludeHistory bool        `json:"include_history,omitempty"`
	TTLSeconds     int64       `json:"ttl_seconds,omitempty"`
}

// FrameKind tags a response frame.
type FrameKind string

// Frame kinds. A search yields entry frames closed by done; every other
// outcome is a single done, status or error frame.
const (
	KindEntry  FrameKind = "entry"
	KindDone   FrameKind = "done"
	KindStatus FrameKind = "status"
	KindError  FrameKind = "error"
)

// Frame is one response message.
type Frame struct {
	ID     string        `json:"id"`
	Kind   FrameKind     `json:"kind"`
	Entry  *search.Entry `json:"entry,omitempty"`
	Error  *ErrorBody    `json:"error,omitempty"`
	Status *Status       `json:"status,omitempty"`
	Count  int           `json:"count,omitempty"`
}

// terminal reports whether the frame ends the response.
func (f *Frame) terminal() bool {
	return f.Kind != KindEntry
}

// ErrorBody carries an error across the channel by code, so the client can
// rebuild the same kind.
type ErrorBody struct {
	Code       string `json:"code"`
	Message    string `json:"message"`
	Suggestion string `json:"suggestion,omitempty"`
}

// NewErrorBody encodes err.
func NewErrorBody(err error) *ErrorBody {
	body := &ErrorBody{Code: kperr.Code(err), Message: err.Error()}
	var se *kperr.KPError
	if kperr.As(err, &se) {
		body.Suggestion = se.Suggestion
	}
	return body
}

// Err rebuilds the error.
func (b *ErrorBody) Err() error {
	err := kperr.FromCode(b.Code, b.Message)
	if b.Suggestion != "" {
		err = kperr.WithSuggestion(err, b.Suggestion)
	}
	return err
}

// Status describes a running daemon.
type Status struct {
	PID         int              `json:"pid"`
	Socket      string           `json:"socket"`
	StartedAt   time.Time        `json:"started_at"`
	IdleTimeout time.Duration    `json:"idle_timeout"`
	Sessions    []session.Info   `json:"sessions"`
	Metrics     metrics.Snapshot `json:"metrics"`
}

// Conn wraps a stream with line-delimited JSON encoding.
type Conn struct {
	enc *json.Encoder
	dec *json.Decoder
}

// NewConn wraps rw.
func NewConn(rw io.ReadWriter) *Conn {
	return &Conn{
		enc: json.NewEncoder(rw),
		dec: json.NewDecoder(bufio.NewReader(rw)),
	}
}

// ReadRequest decodes the next request.
func (c *Conn) ReadRequest() (*Request, error) {
	var req Request
	if err := c.dec.Decode(&req); err != nil {
		return nil, err
	}
	return &req, nil
}

// WriteRequest encodes req as one line.
func (c *Conn) WriteRequest(req *Request) error {
	return c.enc.Encode(req)
}

// ReadFrame decodes the next frame.
func (c *Conn) ReadFrame() (*Frame, error) {
	var f Frame
	if err := c.dec.Decode(&f); err != nil {
		return nil, err
	}
	return &f, nil
}

// WriteFrame encodes f as one line.
func (c *Conn) WriteFrame(f *Frame) error {
	return c.enc.Encode(f)
}
