package cablehs

import (
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/xerrors"
)

// Conn is a cablehs connection presented as a byte stream. Each Write is sent
// as one message, Read returns message data as it arrives. Use Transport for
// message-oriented access.
type Conn struct {
	conn   net.Conn
	config *Config

	handshake struct {
		sync.Mutex
		h         *Handshake
		transport *Transport // Set after completed and verified handshake.
		err       error
	}

	// Transport after a verified handshake, for Close to read without waiting for a
	// handshake in progress.
	established atomic.Pointer[Transport]

	reader struct {
		sync.Mutex
		buf []byte // Unread data of the last message.
		err error  // Set to ErrClosed after Close.
	}

	writer struct {
		// Held during writes. Close aborts when it cannot take it.
		sync.Mutex
		err error // Set to ErrClosed after Close.
	}
}

// newConn turns an existing connection into a Conn.
func newConn(conn net.Conn, config *Config, role Role, shake bool) (*Conn, error) {
	if config == nil {
		return nil, errNoConfig
	}
	h, err := NewHandshake(NewStream(conn), role, config)
	if err != nil {
		return nil, err
	}
	c := &Conn{
		conn:   conn,
		config: config,
	}
	c.handshake.h = h
	if shake {
		err := c.Handshake()
		if err != nil {
			return nil, xerrors.Errorf("handshake: %w", err)
		}
	}
	return c, nil
}

// LocalAddr returns the local network address of the underlying connection.
func (c *Conn) LocalAddr() net.Addr {
	return c.conn.LocalAddr()
}

// RemoteAddr returns the remote network address of the underlying connection.
func (c *Conn) RemoteAddr() net.Addr {
	return c.conn.RemoteAddr()
}

// SetDeadline calls the SetDeadline on the underlying connection.
func (c *Conn) SetDeadline(t time.Time) error {
	return c.conn.SetDeadline(t)
}

// SetReadDeadline calls the SetReadDeadline on the underlying connection.
func (c *Conn) SetReadDeadline(t time.Time) error {
	return c.conn.SetReadDeadline(t)
}

// SetWriteDeadline calls the SetWriteDeadline on the underlying connection.
func (c *Conn) SetWriteDeadline(t time.Time) error {
	return c.conn.SetWriteDeadline(t)
}

// Handshake performs the handshake and verifies the remote static public key.
// Read, Write, Transport and RemoteStatic on a new connection ensure a
// handshake is done.
//
// Handshake returns an error if a handshake has already completed or failed.
// A completed connection stays usable.
func (c *Conn) Handshake() error {
	c.handshake.Lock()
	defer c.handshake.Unlock()
	if c.handshake.err != nil {
		return c.handshake.err
	}
	if c.handshake.transport != nil {
		_, err := c.handshake.h.Handshake()
		return err
	}
	return c.shakehands()
}

// ensureHandshake performs the handshake if it has not already been completed.
func (c *Conn) ensureHandshake() (*Transport, error) {
	c.handshake.Lock()
	defer c.handshake.Unlock()
	if c.handshake.transport == nil && c.handshake.err == nil {
		if err := c.shakehands(); err != nil {
			return nil, err
		}
	}
	return c.handshake.transport, c.handshake.err
}

// Must be called with lock held.
func (c *Conn) shakehands() error {
	t, err := c.handshake.h.Handshake()
	if err != nil {
		c.handshake.err = err
		return err
	}

	if c.config.CheckPeerStatic != nil {
		address := "*"
		if c.handshake.h.Role() == Initiator {
			address = c.config.Address
			if address == "" {
				address = c.RemoteAddr().String()
			}
		}
		if err := c.config.CheckPeerStatic(address, t.PeerStatic()); err != nil {
			t.Destroy(ErrPeerUntrusted)
			c.handshake.err = &wrapErr{ErrPeerUntrusted, err}
			return c.handshake.err
		}
	}

	c.handshake.transport = t
	c.established.Store(t)
	return nil
}

// Transport returns the message-oriented transport of the connection,
// performing the handshake if needed. Mixing use of the Transport with Read
// and Write on the Conn is not supported.
func (c *Conn) Transport() (*Transport, error) {
	return c.ensureHandshake()
}

// RemoteStatic returns the remote's static public key.
// RemoteStatic ensures a handshake has been completed.
func (c *Conn) RemoteStatic() (PublicKey, error) {
	t, err := c.ensureHandshake()
	if err != nil {
		return nil, xerrors.Errorf("handshake: %w", err)
	}
	return t.PeerStatic(), nil
}

// Read reads data from remote. Read returns io.EOF after an end-of-stream
// message from remote. Early hangups of the underlying connection result in an
// error other than io.EOF.
func (c *Conn) Read(buf []byte) (int, error) {
	t, err := c.ensureHandshake()
	if err != nil {
		return 0, err
	}

	c.reader.Lock()
	defer c.reader.Unlock()

	if c.reader.err != nil {
		return 0, c.reader.err
	}
	if len(buf) == 0 {
		return 0, nil
	}

	// Empty messages carry no data, skip them.
	for len(c.reader.buf) == 0 {
		msg, err := t.Read()
		if err != nil {
			return 0, err
		}
		c.reader.buf = msg
	}

	n := copy(buf, c.reader.buf)
	c.reader.buf = c.reader.buf[n:]
	return n, nil
}

// Write writes data to remote, as a single message.
func (c *Conn) Write(buf []byte) (int, error) {
	t, err := c.ensureHandshake()
	if err != nil {
		return 0, err
	}

	c.writer.Lock()
	defer c.writer.Unlock()

	if c.writer.err != nil {
		return 0, c.writer.err
	}

	// We do not send zero-sized writes to remote, they would only look like data.
	if len(buf) == 0 {
		return 0, nil
	}

	if err := t.Write(buf); err != nil {
		return 0, err
	}
	return len(buf), nil
}

// CloseWrite sends end-of-stream to remote. Data can still be read from remote
// until an io.EOF from remote is read. CloseWrite does not close the
// underlying connection.
func (c *Conn) CloseWrite() error {
	t, err := c.ensureHandshake()
	if err != nil {
		return err
	}

	c.writer.Lock()
	defer c.writer.Unlock()
	if c.writer.err != nil {
		return c.writer.err
	}
	err = t.WriteEos()
	if err != nil {
		return xerrors.Errorf("writing end-of-stream: %w", err)
	}
	return nil
}

// Close closes the connection. If the handshake completed, no end-of-stream
// was sent yet and no write is in progress, Close first sends end-of-stream.
// Close then closes the underlying connection. If a write is in progress,
// Close immediately closes the underlying connection, assuming Close was
// called to abort.
func (c *Conn) Close() error {
	t := c.established.Load()

	var err error
	writerClosed := false
	if t != nil && c.writer.TryLock() {
		defer c.writer.Unlock()
		if c.writer.err == nil {
			err = t.WriteEos()
			if xerrors.Is(err, ErrClosed) {
				err = nil
			}
		}
		c.writer.err = ErrClosed
		writerClosed = true
	}

	// After end-of-stream, closing the stream is not an abort.
	var err2 error
	if t != nil && !(writerClosed && err == nil) {
		err2 = t.Destroy(nil)
	} else {
		err2 = c.handshake.h.Stream().Destroy(nil)
	}
	if err == nil {
		err = err2
	}

	c.reader.Lock()
	c.reader.err = ErrClosed
	c.reader.buf = nil
	c.reader.Unlock()

	if !writerClosed {
		c.writer.Lock()
		c.writer.err = ErrClosed
		c.writer.Unlock()
	}

	c.handshake.Lock()
	if c.handshake.err == nil {
		c.handshake.err = ErrClosed
	}
	c.handshake.Unlock()

	return err
}

var _ net.Conn = (*Conn)(nil)
var _ io.ReadWriteCloser = (*Conn)(nil)
