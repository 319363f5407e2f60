package cablehs

import (
	"crypto/rand"
	"io"
	"net"
	"testing"

	"golang.org/x/xerrors"
)

func check(t *testing.T, got, expect error, action string) {
	t.Helper()

	if got == expect {
		return
	}
	if expect == nil || expect == io.EOF || !xerrors.Is(got, expect) {
		t.Fatalf("%s: got %v, expected %v", action, got, expect)
	}
}

func newPSK(t *testing.T) []byte {
	t.Helper()
	psk := make([]byte, PSKSize)
	if _, err := rand.Read(psk); err != nil {
		t.Fatalf("generating preshared key: %s", err)
	}
	return psk
}

func newConfig(t *testing.T, psk []byte) *Config {
	t.Helper()
	key, err := GenerateKeyPair(nil)
	if err != nil {
		t.Fatalf("generating key: %s", err)
	}
	return &Config{KeyPair: &key, PSK: psk}
}

// configPair returns configs for initiator and responder sharing a preshared key.
func configPair(t *testing.T) (*Config, *Config) {
	psk := newPSK(t)
	return newConfig(t, psk), newConfig(t, psk)
}

// tcpPair returns both ends of a loopback TCP connection. Unlike net.Pipe, the
// connection is buffered, so both ends can write before reading.
func tcpPair(t *testing.T) (net.Conn, net.Conn) {
	t.Helper()

	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %s", err)
	}
	defer l.Close()

	type result struct {
		conn net.Conn
		err  error
	}
	accepted := make(chan result, 1)
	go func() {
		conn, err := l.Accept()
		accepted <- result{conn, err}
	}()

	c, err := net.Dial("tcp", l.Addr().String())
	if err != nil {
		t.Fatalf("dial: %s", err)
	}
	r := <-accepted
	if r.err != nil {
		c.Close()
		t.Fatalf("accept: %s", r.err)
	}
	t.Cleanup(func() {
		c.Close()
		r.conn.Close()
	})
	return c, r.conn
}

type shakeResult struct {
	t   *Transport
	err error
}

// handshakePair runs a handshake between initiator and responder over a fresh
// connection. Both results are returned, neither is checked.
func handshakePair(t *testing.T, iconfig, rconfig *Config) (*Handshake, shakeResult, *Handshake, shakeResult) {
	t.Helper()

	ic, rc := tcpPair(t)
	ih, err := NewHandshake(NewStream(ic), Initiator, iconfig)
	check(t, err, nil, "new initiator handshake")
	rh, err := NewHandshake(NewStream(rc), Responder, rconfig)
	check(t, err, nil, "new responder handshake")

	rresult := make(chan shakeResult, 1)
	go func() {
		tr, err := rh.Handshake()
		if err != nil {
			// Let the initiator see the failure instead of waiting forever.
			rh.Stream().Destroy(err)
		}
		rresult <- shakeResult{tr, err}
	}()
	tr, err := ih.Handshake()
	if err != nil {
		ih.Stream().Destroy(err)
	}
	return ih, shakeResult{tr, err}, rh, <-rresult
}

// transportPair returns transports after a successful handshake.
func transportPair(t *testing.T, iconfig, rconfig *Config) (*Transport, *Transport) {
	t.Helper()
	_, ir, _, rr := handshakePair(t, iconfig, rconfig)
	check(t, ir.err, nil, "initiator handshake")
	check(t, rr.err, nil, "responder handshake")
	return ir.t, rr.t
}
