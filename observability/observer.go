// Package observability defines the hooks through which cablehs reports
// handshakes and transport traffic.
package observability

import (
	"time"
)

// Role is the side of the handshake, used as label value.
type Role string

const (
	RoleInitiator Role = "initiator"
	RoleResponder Role = "responder"
)

// HandshakeResult classifies how a handshake ended.
type HandshakeResult string

const (
	HandshakeResultOK              HandshakeResult = "ok"
	HandshakeResultVersionMismatch HandshakeResult = "version_mismatch"
	HandshakeResultDecrypt         HandshakeResult = "decrypt"
	HandshakeResultStream          HandshakeResult = "stream"
	HandshakeResultInvalidState    HandshakeResult = "invalid_state"
	HandshakeResultOther           HandshakeResult = "other"
)

// Direction tells whether traffic was sent to or received from remote.
type Direction string

const (
	DirectionSend    Direction = "send"
	DirectionReceive Direction = "receive"
)

// Observer receives events from handshakes and transports. Implementations
// must be safe for concurrent use.
type Observer interface {
	// Handshake is called when a handshake completes or fails.
	Handshake(role Role, result HandshakeResult, d time.Duration)
	// Message is called for each application message sent or received, with its plaintext size.
	Message(dir Direction, size int)
	// EOS is called when an end-of-stream marker is sent or received.
	EOS(dir Direction)
	// Destroy is called when a transport is torn down without end-of-stream.
	Destroy()
}

// Nop is an Observer that ignores all events.
var Nop Observer = nop{}

type nop struct{}

func (nop) Handshake(Role, HandshakeResult, time.Duration) {}
func (nop) Message(Direction, int)                         {}
func (nop) EOS(Direction)                                  {}
func (nop) Destroy()                                       {}
