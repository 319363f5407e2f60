// Package wsstream carries a byte stream over a WebSocket connection, so
// cablehs connections can cross HTTP infrastructure.
//
// Writes are sent as binary messages. Reads return the payload of consecutive
// binary messages as one stream, message boundaries are not preserved.
package wsstream

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Conn is a WebSocket connection presented as a net.Conn.
type Conn struct {
	c *websocket.Conn

	reader struct {
		sync.Mutex
		r io.Reader // Remainder of current message, nil if none.
	}

	writer sync.Mutex

	closeOnce sync.Once
	closeErr  error
}

var _ net.Conn = (*Conn)(nil)

// New wraps an established WebSocket connection.
func New(c *websocket.Conn) *Conn {
	return &Conn{c: c}
}

// UpgraderOptions exposes a small set of websocket upgrader controls.
type UpgraderOptions struct {
	ReadBufferSize  int                        // Read buffer size for upgrader.
	WriteBufferSize int                        // Write buffer size for upgrader.
	CheckOrigin     func(r *http.Request) bool // Optional origin check.
}

// Upgrade upgrades an HTTP request to a websocket connection.
func Upgrade(w http.ResponseWriter, r *http.Request, opts UpgraderOptions) (*Conn, error) {
	up := websocket.Upgrader{
		ReadBufferSize:  opts.ReadBufferSize,
		WriteBufferSize: opts.WriteBufferSize,
		CheckOrigin:     opts.CheckOrigin,
	}
	c, err := up.Upgrade(w, r, nil)
	if err != nil {
		return nil, err
	}
	return New(c), nil
}

// Handler returns an http.Handler that upgrades requests and calls fn with the
// connection. The connection is closed when fn returns.
func Handler(opts UpgraderOptions, fn func(*Conn)) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Upgrade writes the error response itself.
		conn, err := Upgrade(w, r, opts)
		if err != nil {
			return
		}
		defer conn.Close()
		fn(conn)
	})
}

// DialOptions provides optional headers for websocket dialing.
type DialOptions struct {
	Header http.Header // Optional headers for the handshake request.
	Dialer *websocket.Dialer
}

// Dial opens a websocket connection with deadline-aware handshake.
func Dial(ctx context.Context, urlStr string, opts DialOptions) (*Conn, error) {
	var d websocket.Dialer
	if opts.Dialer != nil {
		d = *opts.Dialer
	}
	if deadline, ok := ctx.Deadline(); ok {
		dl := time.Until(deadline)
		if d.HandshakeTimeout == 0 || d.HandshakeTimeout > dl {
			d.HandshakeTimeout = dl
		}
	}
	c, resp, err := d.DialContext(ctx, urlStr, opts.Header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("websocket handshake: %w (http status %s)", err, resp.Status)
		}
		return nil, err
	}
	return New(c), nil
}

// Read reads from the payload of binary messages, continuing with the next
// message when the current one is exhausted. A close message from remote
// results in io.EOF. Text messages are an error.
func (c *Conn) Read(buf []byte) (int, error) {
	c.reader.Lock()
	defer c.reader.Unlock()

	if len(buf) == 0 {
		return 0, nil
	}
	for {
		if c.reader.r == nil {
			mt, r, err := c.c.NextReader()
			if err != nil {
				if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					return 0, io.EOF
				}
				return 0, err
			}
			if mt != websocket.BinaryMessage {
				return 0, fmt.Errorf("unexpected websocket message type %d, expected binary", mt)
			}
			c.reader.r = r
		}
		n, err := c.reader.r.Read(buf)
		if err == io.EOF {
			c.reader.r = nil
			if n == 0 {
				continue
			}
			err = nil
		}
		return n, err
	}
}

// Write sends buf as a single binary message.
func (c *Conn) Write(buf []byte) (int, error) {
	c.writer.Lock()
	defer c.writer.Unlock()

	if err := c.c.WriteMessage(websocket.BinaryMessage, buf); err != nil {
		return 0, err
	}
	return len(buf), nil
}

// Close sends a close message to remote, if possible, and closes the
// underlying connection. Later calls return the result of the first.
func (c *Conn) Close() error {
	c.closeOnce.Do(func() {
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		// Remote may already be gone, our side is closed regardless.
		_ = c.c.WriteControl(websocket.CloseMessage, msg, time.Now().Add(2*time.Second))
		c.closeErr = c.c.Close()
	})
	return c.closeErr
}

// SetReadLimit forwards the read limit to the underlying websocket.
func (c *Conn) SetReadLimit(n int64) {
	c.c.SetReadLimit(n)
}

// Underlying exposes the raw gorilla/websocket connection.
func (c *Conn) Underlying() *websocket.Conn {
	return c.c
}

// LocalAddr returns the local network address of the websocket connection.
func (c *Conn) LocalAddr() net.Addr {
	return c.c.LocalAddr()
}

// RemoteAddr returns the remote network address of the websocket connection.
func (c *Conn) RemoteAddr() net.Addr {
	return c.c.RemoteAddr()
}

// SetDeadline sets both the read and write deadline.
func (c *Conn) SetDeadline(t time.Time) error {
	if err := c.c.SetReadDeadline(t); err != nil {
		return err
	}
	return c.c.SetWriteDeadline(t)
}

// SetReadDeadline sets the read deadline of the websocket connection.
func (c *Conn) SetReadDeadline(t time.Time) error {
	return c.c.SetReadDeadline(t)
}

// SetWriteDeadline sets the write deadline of the websocket connection.
func (c *Conn) SetWriteDeadline(t time.Time) error {
	return c.c.SetWriteDeadline(t)
}
