package cablehs

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/xerrors"

	"github.com/mjl-/cablehs/observability"
)

// HandshakeState is the state of a Handshake. A handshake moves from
// HandshakeStart to HandshakeInUse, and ends in HandshakeDone or
// HandshakeFailed.
type HandshakeState uint8

const (
	HandshakeStart HandshakeState = iota
	HandshakeInUse
	HandshakeDone
	HandshakeFailed
)

// String returns the name of the state, like "Start".
func (s HandshakeState) String() string {
	switch s {
	case HandshakeStart:
		return "Start"
	case HandshakeInUse:
		return "InUse"
	case HandshakeDone:
		return "Done"
	case HandshakeFailed:
		return "Failed"
	}
	return "Unknown"
}

// Sizes of the Noise XXpsk0 handshake messages, with 32-byte keys and 16-byte
// authentication tags.
const (
	EphemeralKeyLen          = 48
	EphemeralAndStaticKeyLen = 96
	StaticKeyLen             = 64
)

// handshakeMessages are the handshake messages in wire order. The initiator
// sends the even messages, the responder the odd.
var handshakeMessages = []struct {
	purpose string
	size    int
}{
	{"ephemeral key", EphemeralKeyLen},
	{"ephemeral and static key", EphemeralAndStaticKeyLen},
	{"static key", StaticKeyLen},
}

// Handshake performs a version exchange and a Noise handshake over a Stream,
// resulting in a Transport. A Handshake can be used once.
type Handshake struct {
	role    Role
	stream  *Stream
	engine  Engine
	version Version
	config  *Config
	log     logrus.FieldLogger

	mu    sync.Mutex
	state HandshakeState
}

// NewHandshake returns a handshake for role over stream, with the key pair,
// preshared key and version from config.
func NewHandshake(stream *Stream, role Role, config *Config) (*Handshake, error) {
	if err := config.check(); err != nil {
		return nil, err
	}
	engine, err := config.newEngine(role)
	if err != nil {
		return nil, err
	}
	return &Handshake{
		role:    role,
		stream:  stream,
		engine:  engine,
		version: config.version(),
		config:  config,
		log:     config.log().WithField("role", role.String()),
		state:   HandshakeStart,
	}, nil
}

// Role returns the role of the handshake.
func (h *Handshake) Role() Role {
	return h.role
}

// Stream returns the stream the handshake is performed on.
func (h *Handshake) Stream() *Stream {
	return h.stream
}

// State returns the current state of the handshake.
func (h *Handshake) State() HandshakeState {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

// Handshake exchanges protocol versions, then performs the Noise handshake.
// On success, the returned Transport takes over the stream.
//
// Handshake can only be called once. Later calls return ErrInvalidState. On
// failure, the stream is left as is, callers should destroy it.
//
// Errors from the stream are returned with the failing step added, for example
// "reading version: ...". The stream error and its cause still match with
// errors.Is, compare with that instead of ==.
func (h *Handshake) Handshake() (t *Transport, rerr error) {
	h.mu.Lock()
	if h.state != HandshakeStart {
		state := h.state
		h.mu.Unlock()
		h.config.observer().Handshake(h.role.observed(), observability.HandshakeResultInvalidState, 0)
		return nil, prefixError(ErrInvalidState, "expected %s but got %s", HandshakeStart, state)
	}
	h.state = HandshakeInUse
	h.mu.Unlock()

	start := time.Now()
	defer func() {
		h.mu.Lock()
		if rerr == nil {
			h.state = HandshakeDone
		} else {
			h.state = HandshakeFailed
		}
		h.mu.Unlock()

		h.config.observer().Handshake(h.role.observed(), handshakeResult(rerr), time.Since(start))
		if rerr != nil {
			h.log.WithError(rerr).Debug("handshake failed")
		}
	}()

	lcheck, handle := errorHandler(func(xerr error) {
		rerr = xerr
	})
	defer handle()

	h.log.WithField("version", h.version).Debug("exchanging versions")
	err := h.stream.Write(h.version.Bytes())
	lcheck(err, "writing version")
	buf, err := h.stream.Read(versionSize)
	lcheck(err, "reading version")
	remote := parseVersion(buf)
	if !h.version.Compatible(remote) {
		return nil, prefixError(ErrVersionMismatch, "expected remote major version %d but got %d", h.version.Major, remote.Major)
	}

	for i, msg := range handshakeMessages {
		log := h.log.WithFields(logrus.Fields{"step": msg.purpose, "len": msg.size})
		sender := Initiator
		if i%2 == 1 {
			sender = Responder
		}

		if sender == h.role {
			log.Debug("writing handshake message")
			buf, err := h.engine.Send()
			lcheck(err, "making "+msg.purpose)
			if len(buf) != msg.size {
				return nil, prefixError(ErrProtocol, "handshake message %q is %d bytes, expected %d", msg.purpose, len(buf), msg.size)
			}
			err = h.stream.Write(buf)
			lcheck(err, "writing "+msg.purpose)
		} else {
			log.Debug("reading handshake message")
			buf, err := h.stream.Read(msg.size)
			lcheck(err, "reading "+msg.purpose)
			err = h.engine.Recv(buf)
			lcheck(err, "processing "+msg.purpose)
		}
	}

	tx, rx, err := h.engine.CipherStates()
	lcheck(err, "getting cipher states")

	h.log.WithField("remote_version", remote).Debug("handshake done")
	return newTransport(h.stream, tx, rx, PublicKey(h.engine.PeerStatic()), h.config), nil
}

func handshakeResult(err error) observability.HandshakeResult {
	switch {
	case err == nil:
		return observability.HandshakeResultOK
	case xerrors.Is(err, ErrVersionMismatch):
		return observability.HandshakeResultVersionMismatch
	case xerrors.Is(err, ErrDecrypt):
		return observability.HandshakeResultDecrypt
	case xerrors.Is(err, ErrStream), xerrors.Is(err, ErrStreamEnded):
		return observability.HandshakeResultStream
	case xerrors.Is(err, ErrInvalidState):
		return observability.HandshakeResultInvalidState
	}
	return observability.HandshakeResultOther
}
