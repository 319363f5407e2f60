package cablehs

import (
	"encoding/base64"
	"errors"
	"io"
	"net"

	"github.com/flynn/noise"
	"github.com/sirupsen/logrus"
	"golang.org/x/xerrors"

	"github.com/mjl-/cablehs/observability"
)

var (
	// ErrStreamEnded is returned when the underlying stream ended before all
	// expected bytes were read.
	ErrStreamEnded = errors.New("stream has ended")

	// ErrStream is returned when the underlying stream failed. The error unwraps to
	// the original cause.
	ErrStream = errors.New("stream has errored")

	// ErrDestroyed is the cause of stream errors after Destroy was called without
	// an explicit error.
	ErrDestroyed = errors.New("stream destroyed")

	// ErrProtocol is returned for protocol-level errors, like malformed frames or a
	// missing end-of-stream marker.
	ErrProtocol = errors.New("protocol error")

	// ErrVersionMismatch is returned when the major protocol versions of local and
	// remote differ.
	ErrVersionMismatch = errors.New("protocol version mismatch")

	// ErrTooLarge is returned when writing a message that does not fit in a frame.
	ErrTooLarge = errors.New("message too large")

	// ErrDecrypt is returned when handshake or transport data could not be
	// authenticated. This happens with mismatching preshared keys, and with
	// tampered data.
	ErrDecrypt = errors.New("could not verify data")

	// ErrInvalidState is returned when a handshake is used in a state that does not
	// allow it, like a second handshake.
	ErrInvalidState = errors.New("invalid state")

	// ErrClosed is returned when writing after end-of-stream was sent, or using a
	// closed connection.
	ErrClosed = errors.New("connection closed")

	// ErrNoPrivateKey indicates no private key was found, either in the config or
	// through the address.
	ErrNoPrivateKey = errors.New("no private key")

	// ErrNoPSK indicates no preshared key was found, either in the config or through
	// the address.
	ErrNoPSK = errors.New("no preshared key")

	// ErrBadKey indicates a key is not valid, either public, private or preshared.
	// Possibly invalid base64-raw-url-encoded data, or not 32 bytes.
	ErrBadKey = errors.New("bad key")

	// ErrBadAddress is returned when an address is malformed.
	ErrBadAddress = errors.New("malformed cablehs address")

	// ErrBadConfig is returned when a config and address cannot be turned into a
	// usable Config.
	ErrBadConfig = errors.New("invalid configuration/address combination")

	// ErrPeerUntrusted is returned when the remote static public key was rejected by
	// Config.CheckPeerStatic.
	ErrPeerUntrusted = errors.New("remote untrusted")

	// ErrNoCableDir indicates no .cable directory was found.
	ErrNoCableDir = errors.New("no .cable directory found")

	// ErrNoKnownPeers indicates no .cable/known_peers file was found.
	ErrNoKnownPeers = errors.New("no .cable/known_peers file was found")

	errNoConfig      = errors.New("nil config passed to function")
	errBadKnownPeers = errors.New("malformed .cable/known_peers file")
)

// PublicKey presents a 32-byte public curve25519 key, for either local or remote.
type PublicKey []byte

// String returns a base64-raw-url-encoded version of the public key.
func (k PublicKey) String() string {
	return base64.RawURLEncoding.EncodeToString(k)
}

// Role is the side of a handshake. The initiator sends the first handshake
// message.
type Role uint8

const (
	Initiator Role = iota
	Responder
)

// String returns "Initiator" or "Responder".
func (r Role) String() string {
	if r == Initiator {
		return "Initiator"
	}
	return "Responder"
}

func (r Role) observed() observability.Role {
	if r == Initiator {
		return observability.RoleInitiator
	}
	return observability.RoleResponder
}

// Config holds the credentials and settings for handshakes. A Config can be
// shared between connections, it is not modified after ParseAddress.
type Config struct {
	// Rand is used as source of cryptographic randomness. If nil, Reader from
	// crypto/rand is used.
	Rand io.Reader

	// Address to dial or listen after parsing the address. Set by ParseAddress,
	// which is also called by Dial and Listen.
	Address string

	// KeyPair is the local static key pair. Can be set by direct assignment, or
	// through an address containing a private key, "fs" or "new".
	KeyPair *noise.DHKey

	// PSK is the 32-byte preshared key, both parties must use the same. Can be set
	// by direct assignment, or through an address containing a preshared key or "fs".
	PSK []byte

	// Version is the local protocol version. If zero, DefaultVersion is used.
	Version Version

	// MaxMessageLen limits the plaintext size of messages read from remote. Zero
	// means no limit.
	MaxMessageLen int

	// CheckPeerStatic is called (if set) after a completed handshake to verify the
	// remote static public key. For connections accepted by a Listener, the address
	// is "*". See CheckKnownPeers and CheckTrustOnFirstUse.
	CheckPeerStatic func(address string, pubKey PublicKey) error

	// Log receives debug logging of handshakes and transports. If nil, the logrus
	// standard logger is used.
	Log logrus.FieldLogger

	// Observer receives handshake and transport events. If nil, events are
	// discarded.
	Observer observability.Observer

	// NewEngine creates the cryptographic handshake engine. If nil, NewNoiseEngine
	// is used.
	NewEngine func(role Role, key noise.DHKey, psk []byte, random io.Reader) (Engine, error)
}

// LocalStaticPublic returns the local public static key.
//
// If no key pair has been configured, LocalStaticPublic calls panic.
func (c *Config) LocalStaticPublic() PublicKey {
	if c.KeyPair == nil {
		panic("KeyPair not yet set")
	}
	return PublicKey(c.KeyPair.Public)
}

func (c *Config) check() error {
	if c == nil {
		return errNoConfig
	}
	if c.KeyPair == nil {
		return ErrNoPrivateKey
	}
	if len(c.PSK) == 0 {
		return ErrNoPSK
	}
	return nil
}

func (c *Config) log() logrus.FieldLogger {
	if c.Log == nil {
		return logrus.StandardLogger()
	}
	return c.Log
}

func (c *Config) observer() observability.Observer {
	if c.Observer == nil {
		return observability.Nop
	}
	return c.Observer
}

func (c *Config) version() Version {
	if c.Version.IsZero() {
		return DefaultVersion
	}
	return c.Version
}

func (c *Config) newEngine(role Role) (Engine, error) {
	if c.NewEngine != nil {
		return c.NewEngine(role, *c.KeyPair, c.PSK, c.Rand)
	}
	return NewNoiseEngine(role, *c.KeyPair, c.PSK, c.Rand)
}

// Dial connects to the remote, performs the handshake and checks if the remote
// is trusted.
//
// Dial calls ParseAddress on address, which can be a cablehs address.
func Dial(network, address string, config *Config) (*Conn, error) {
	if config == nil {
		return nil, errNoConfig
	}

	err := ParseAddress(address, config)
	if err != nil {
		return nil, xerrors.Errorf("parsing address: %w", err)
	}

	conn, err := net.Dial(network, config.Address)
	if err != nil {
		return nil, err
	}
	c, err := newConn(conn, config, Initiator, true)
	if err != nil {
		conn.Close()
		return nil, err
	}
	return c, nil
}

// Client turns an existing connection into a cablehs connection, as initiator.
// On failure, the existing connection is not closed.
func Client(conn net.Conn, config *Config) (*Conn, error) {
	return newConn(conn, config, Initiator, true)
}

// Server turns an existing connection into a cablehs connection, as responder.
// On failure, the existing connection is not closed.
func Server(conn net.Conn, config *Config) (*Conn, error) {
	return newConn(conn, config, Responder, true)
}

// Listener accepts incoming connections and wraps them as responder.
type Listener struct {
	net.Listener
	config *Config
}

// Listen creates a new listener for incoming connections.
// Accept on the returned listener returns a *Conn with the handshake not yet
// completed. The first read or write performs the handshake, as does calling
// Handshake or Transport.
//
// Listen calls ParseAddress on address, which can be a cablehs address.
func Listen(network, address string, config *Config) (*Listener, error) {
	if config == nil {
		return nil, errNoConfig
	}
	err := ParseAddress(address, config)
	if err != nil {
		return nil, xerrors.Errorf("parsing address: %w", err)
	}

	l, err := net.Listen(network, config.Address)
	if err != nil {
		return nil, err
	}
	return NewListener(l, config), nil
}

// NewListener wraps an existing listener.
func NewListener(l net.Listener, config *Config) *Listener {
	return &Listener{
		Listener: l,
		config:   config,
	}
}

// Accept accepts an incoming connection, see AcceptConn.
func (l *Listener) Accept() (net.Conn, error) {
	c, err := l.AcceptConn()
	if err != nil {
		return nil, err
	}
	return c, nil
}

// AcceptConn accepts an incoming connection.
// The returned connection has not completed a handshake. The handshake can be
// triggered explicitly by calling Handshake. The handshake will also be performed
// automatically on first Read or Write.
func (l *Listener) AcceptConn() (*Conn, error) {
	conn, err := l.Listener.Accept()
	if err != nil {
		return nil, err
	}
	c, err := newConn(conn, l.config, Responder, false)
	if err != nil {
		conn.Close()
		return nil, err
	}
	return c, nil
}
