package cablehs

import (
	"crypto/rand"
	"io"

	"github.com/flynn/noise"
	"golang.org/x/xerrors"
)

// Prologue is mixed into every handshake, both parties must use the same.
const Prologue = "CABLE"

// PSKSize is the size of a preshared key in bytes.
const PSKSize = 32

var cipherSuite = noise.NewCipherSuite(noise.DH25519, noise.CipherChaChaPoly, noise.HashBLAKE2b)

// CipherState encrypts or decrypts one direction of a transport. Each call
// advances its nonce. *noise.CipherState implements CipherState.
type CipherState interface {
	Encrypt(out, ad, plaintext []byte) ([]byte, error)
	Decrypt(out, ad, ciphertext []byte) ([]byte, error)
}

// Engine builds and consumes handshake messages. Handshake calls Send and Recv
// in the order prescribed by the role, and CipherStates after the last message.
type Engine interface {
	// Send returns the next handshake message to send to remote.
	Send() ([]byte, error)

	// Recv processes the next handshake message from remote.
	Recv(msg []byte) error

	// CipherStates returns the cipher states for sending (tx) and receiving (rx).
	CipherStates() (tx, rx CipherState, err error)

	// PeerStatic returns the static public key of remote, once received.
	PeerStatic() []byte
}

// GenerateKeyPair returns a new Curve25519 key pair. If random is nil, Reader
// from crypto/rand is used.
func GenerateKeyPair(random io.Reader) (noise.DHKey, error) {
	if random == nil {
		random = rand.Reader
	}
	return cipherSuite.GenerateKeypair(random)
}

// noiseEngine is an Engine for Noise_XXpsk0_25519_ChaChaPoly_BLAKE2b.
type noiseEngine struct {
	role  Role
	state *noise.HandshakeState

	// Set by the last handshake message, initiator-to-responder and responder-to-initiator.
	i2r, r2i *noise.CipherState
}

// NewNoiseEngine returns an Engine performing the XX handshake with psk at
// position 0. If random is nil, Reader from crypto/rand is used.
func NewNoiseEngine(role Role, key noise.DHKey, psk []byte, random io.Reader) (Engine, error) {
	if len(psk) != PSKSize {
		return nil, prefixError(ErrBadKey, "preshared key is %d bytes, must be %d", len(psk), PSKSize)
	}
	if random == nil {
		random = rand.Reader
	}
	state, err := noise.NewHandshakeState(noise.Config{
		CipherSuite:           cipherSuite,
		Random:                random,
		Pattern:               noise.HandshakeXX,
		Initiator:             role == Initiator,
		Prologue:              []byte(Prologue),
		PresharedKey:          psk,
		PresharedKeyPlacement: 0,
		StaticKeypair:         key,
	})
	if err != nil {
		return nil, xerrors.Errorf("noise.NewHandshakeState: %w", err)
	}
	return &noiseEngine{role: role, state: state}, nil
}

func (e *noiseEngine) Send() ([]byte, error) {
	buf, cs1, cs2, err := e.state.WriteMessage(nil, nil)
	if err != nil {
		return nil, xerrors.Errorf("making noise handshake message: %w", err)
	}
	e.i2r, e.r2i = cs1, cs2
	return buf, nil
}

func (e *noiseEngine) Recv(msg []byte) error {
	_, cs1, cs2, err := e.state.ReadMessage(nil, msg)
	if err != nil {
		return &wrapErr{ErrDecrypt, err}
	}
	e.i2r, e.r2i = cs1, cs2
	return nil
}

func (e *noiseEngine) CipherStates() (CipherState, CipherState, error) {
	if e.i2r == nil || e.r2i == nil {
		return nil, nil, prefixError(ErrInvalidState, "noise handshake was not completed")
	}
	if e.role == Initiator {
		return e.i2r, e.r2i, nil
	}
	return e.r2i, e.i2r, nil
}

func (e *noiseEngine) PeerStatic() []byte {
	return e.state.PeerStatic()
}
