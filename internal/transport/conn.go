// Package transport wraps github.com/coder/websocket into the read/write
// primitives shared by every accept-side listener (Signaling, Relay,
// Transcriber, Insight) and every process-internal dial-side link
// (Signaling's fan-out to Relay/Transcriber, Transcriber's link to
// Insight).
package transport

import (
	"context"
	"fmt"
	"sync"

	"github.com/coder/websocket"
)

// Kind distinguishes a text (JSON envelope) frame from a binary (audio/PCM)
// frame.
type Kind int

const (
	KindText Kind = iota
	KindBinary
)

// Conn is a bidirectional message stream. It is safe for concurrent Write
// calls (guarded internally by coder/websocket) but Read must only be
// called from a single goroutine.
type Conn struct {
	ws   *websocket.Conn
	once sync.Once
}

// New wraps an already-established *websocket.Conn (either server-accepted
// or client-dialled).
func New(ws *websocket.Conn) *Conn {
	return &Conn{ws: ws}
}

// Dial opens a client connection to url (e.g. "wss://relay:8002/relay").
// Used for Signaling's fan-out links and Transcriber's link to Insight.
func Dial(ctx context.Context, url string) (*Conn, error) {
	ws, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("transport: dial %s: %w", url, err)
	}
	return New(ws), nil
}

// Read blocks for the next frame and reports whether it was text or binary.
func (c *Conn) Read(ctx context.Context) (Kind, []byte, error) {
	typ, data, err := c.ws.Read(ctx)
	if err != nil {
		return 0, nil, err
	}
	if typ == websocket.MessageBinary {
		return KindBinary, data, nil
	}
	return KindText, data, nil
}

// WriteText sends a JSON text frame.
func (c *Conn) WriteText(ctx context.Context, data []byte) error {
	return c.ws.Write(ctx, websocket.MessageText, data)
}

// WriteBinary sends an opaque binary frame verbatim.
func (c *Conn) WriteBinary(ctx context.Context, data []byte) error {
	return c.ws.Write(ctx, websocket.MessageBinary, data)
}

// Close terminates the connection with a normal closure status. Safe to
// call more than once.
func (c *Conn) Close() error {
	var err error
	c.once.Do(func() {
		err = c.ws.Close(websocket.StatusNormalClosure, "closed")
	})
	return err
}
