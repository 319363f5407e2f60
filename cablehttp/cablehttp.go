// Package cablehttp provides a http.RoundTripper for making HTTP requests over
// cablehs connections, and helpers for serving HTTP over a cablehs.Listener.
package cablehttp

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"golang.org/x/xerrors"

	"github.com/mjl-/cablehs"
)

// Register registers a RoundTripper for an URL scheme (like "http" or "httpc")
// with transport. Config is used as template for each connection, see
// NewRoundTripper.
func Register(scheme string, transport *http.Transport, config *cablehs.Config) {
	transport.RegisterProtocol(scheme, NewRoundTripper(scheme, config))
}

// NewRoundTripper creates a new RoundTripper for scheme. Each request gets a
// copy of config, updated by parsing the address from the URL. If config is
// nil, an empty config is used and keys are read from the nearest .cable
// directory.
//
// The user name in the URL, if present, holds the "+local+psk" suffix of a
// cablehs address, for example:
//
//	httpc://new+fs@localhost:1047/
func NewRoundTripper(scheme string, config *cablehs.Config) *RoundTripper {
	rt := &RoundTripper{scheme: scheme}
	if config != nil {
		rt.config = *config
	}
	return rt
}

// RoundTripper is a http.RoundTripper that makes cablehs connections.
type RoundTripper struct {
	scheme string
	config cablehs.Config
}

// RoundTrip performs a HTTP request over a new cablehs connection.
func (rt *RoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.URL.Scheme != rt.scheme {
		return nil, fmt.Errorf("bad scheme, got %q, expected %q", req.URL.Scheme, rt.scheme)
	}

	config := rt.config
	config.Address = ""
	address := req.URL.Host
	if req.URL.User != nil {
		address += "+" + req.URL.User.Username()
	}
	err := cablehs.ParseAddress(address, &config)
	if err != nil {
		return nil, err
	}

	u := *req.URL
	u.Scheme = "http"
	u.User = nil
	u.Host = config.Address
	req = req.Clone(req.Context())
	req.URL = &u

	dial := func(ctx context.Context, network, _ string) (net.Conn, error) {
		d := net.Dialer{}
		conn, err := d.DialContext(ctx, network, config.Address)
		if err != nil {
			return nil, err
		}
		// The handshake does not take a context, the deadline bounds it instead.
		if deadline, ok := ctx.Deadline(); ok {
			conn.SetDeadline(deadline)
		}
		c, err := cablehs.Client(conn, &config)
		if err != nil {
			conn.Close()
			return nil, xerrors.Errorf("cablehs handshake: %w", err)
		}
		conn.SetDeadline(time.Time{})
		return c, nil
	}

	// Each request has its own keys, connections are not reused.
	tt := &http.Transport{
		DialContext:       dial,
		DisableKeepAlives: true,
	}
	return tt.RoundTrip(req)
}

type connKey struct{}

// ConnContext can be set as http.Server.ConnContext for servers serving on a
// cablehs.Listener. It makes the connection available to handlers through
// RemoteStatic.
func ConnContext(ctx context.Context, c net.Conn) context.Context {
	if conn, ok := c.(*cablehs.Conn); ok {
		return context.WithValue(ctx, connKey{}, conn)
	}
	return ctx
}

// RemoteStatic returns the static public key of the client that made the
// request. The server must have been configured with ConnContext.
func RemoteStatic(r *http.Request) (cablehs.PublicKey, error) {
	conn, ok := r.Context().Value(connKey{}).(*cablehs.Conn)
	if !ok {
		return nil, fmt.Errorf("request not received over cablehs connection")
	}
	return conn.RemoteStatic()
}
