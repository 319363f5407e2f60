package wsstream

import (
	"context"
	"crypto/rand"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/mjl-/cablehs"
)

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func dial(t *testing.T, srv *httptest.Server) *Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	c, err := Dial(ctx, wsURL(srv), DialOptions{})
	require.NoError(t, err)
	return c
}

func TestEcho(t *testing.T) {
	srv := httptest.NewServer(Handler(UpgraderOptions{}, func(c *Conn) {
		io.Copy(c, c)
	}))
	defer srv.Close()

	c := dial(t, srv)
	defer c.Close()

	// Reads span messages, message boundaries are not kept.
	_, err := c.Write([]byte("hello "))
	require.NoError(t, err)
	_, err = c.Write([]byte("world"))
	require.NoError(t, err)
	buf := make([]byte, len("hello world"))
	_, err = io.ReadFull(c, buf)
	require.NoError(t, err)
	require.Equal(t, "hello world", string(buf))

	// Small reads from one message.
	_, err = c.Write([]byte("abc"))
	require.NoError(t, err)
	one := make([]byte, 1)
	for _, exp := range "abc" {
		_, err := io.ReadFull(c, one)
		require.NoError(t, err)
		require.Equal(t, string(exp), string(one))
	}
}

func TestEOF(t *testing.T) {
	srv := httptest.NewServer(Handler(UpgraderOptions{}, func(c *Conn) {
		c.Write([]byte("bye"))
	}))
	defer srv.Close()

	c := dial(t, srv)
	defer c.Close()

	buf, err := io.ReadAll(c)
	require.NoError(t, err, "close message is end of stream")
	require.Equal(t, "bye", string(buf))
}

func TestTextMessage(t *testing.T) {
	srv := httptest.NewServer(Handler(UpgraderOptions{}, func(c *Conn) {
		c.Underlying().WriteMessage(websocket.TextMessage, []byte("text"))
		c.Read(make([]byte, 1))
	}))
	defer srv.Close()

	c := dial(t, srv)
	defer c.Close()

	_, err := c.Read(make([]byte, 10))
	require.Error(t, err)
}

func TestReadLimit(t *testing.T) {
	errc := make(chan error, 1)
	srv := httptest.NewServer(Handler(UpgraderOptions{}, func(c *Conn) {
		c.SetReadLimit(4)
		buf := make([]byte, 10)
		_, err := io.ReadFull(c, buf[:4])
		if err == nil {
			_, err = c.Read(buf)
		}
		errc <- err
	}))
	defer srv.Close()

	c := dial(t, srv)
	defer c.Close()

	_, err := c.Write([]byte("abcd"))
	require.NoError(t, err)
	_, err = c.Write([]byte("too long"))
	require.NoError(t, err)
	require.ErrorIs(t, <-errc, websocket.ErrReadLimit)
}

func TestDialCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Dial(ctx, "ws://example.invalid", DialOptions{})
	require.Error(t, err)
}

func TestCablehs(t *testing.T) {
	psk := make([]byte, cablehs.PSKSize)
	_, err := rand.Read(psk)
	require.NoError(t, err)
	newConfig := func() *cablehs.Config {
		key, err := cablehs.GenerateKeyPair(nil)
		require.NoError(t, err)
		return &cablehs.Config{KeyPair: &key, PSK: psk}
	}
	sconfig := newConfig()
	cconfig := newConfig()

	serr := make(chan error, 1)
	srv := httptest.NewServer(Handler(UpgraderOptions{}, func(c *Conn) {
		// Each stream write is one message, of at most one segment.
		c.SetReadLimit(cablehs.MaxCiphertextSegment)
		conn, err := cablehs.Server(c, sconfig)
		if err != nil {
			serr <- err
			return
		}
		defer conn.Close()
		_, err = io.Copy(conn, conn)
		serr <- err
	}))
	defer srv.Close()

	conn, err := cablehs.Client(dial(t, srv), cconfig)
	require.NoError(t, err)
	defer conn.Close()

	remote, err := conn.RemoteStatic()
	require.NoError(t, err)
	require.Equal(t, sconfig.LocalStaticPublic(), remote)

	msg := make([]byte, 3*cablehs.MaxPlaintextSegment+1)
	_, err = rand.Read(msg)
	require.NoError(t, err)
	errc := make(chan error, 1)
	go func() {
		_, err := conn.Write(msg)
		if err == nil {
			err = conn.CloseWrite()
		}
		errc <- err
	}()
	echo, err := io.ReadAll(conn)
	require.NoError(t, err)
	require.NoError(t, <-errc)
	require.Equal(t, msg, echo)
	require.NoError(t, <-serr)
}
