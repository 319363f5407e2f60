/*
Package cablehs implements a secure, message-oriented transport over any
bidirectional byte stream, mutually authenticated with the noise protocol
variant Noise_XXpsk0_25519_ChaChaPoly_BLAKE2b and bound to a preshared key.

Both parties have a Curve25519 static key pair and share a 32-byte preshared
key out of band. A party without the preshared key cannot complete a
handshake. Keys are stored in base64-raw-url encoding.

Protocol

A connection starts with a version exchange: both parties send two bytes,
major and minor version, and read the version of remote. Versions with equal
major numbers are compatible.

The noise handshake follows, three messages with fixed sizes:

	initiator -> responder: ephemeral key, 48 bytes
	responder -> initiator: ephemeral and static key, 96 bytes
	initiator -> responder: static key, 64 bytes

After the handshake, each message is sent as a frame: a 4-byte little-endian
length, followed by that many bytes of encrypted segments. Each segment holds
at most 65519 bytes of data plus a 16-byte authentication tag. A message
always ends with a segment shorter than the maximum, possibly empty. A frame
with length zero is the end-of-stream marker: the sender will send no more
messages. Each side sends its own end-of-stream marker.

Programming interface

Stream turns an io.ReadWriteCloser into a reliable byte channel, Handshake
performs the handshake over a Stream, and Transport exchanges messages
afterwards:

	stream := cablehs.NewStream(conn)
	h, err := cablehs.NewHandshake(stream, cablehs.Initiator, config)
	t, err := h.Handshake()
	err = t.Write([]byte("hello"))
	msg, err := t.Read()
	err = t.WriteEos()
	err = t.ReadEos()

Similar to "net" and "crypto/tls", Dial, Listen, Client and Server return a
Conn, a net.Conn that performs the handshake and presents messages as a byte
stream. Dial and Listen parse extended cablehs addresses that optionally
contain the private and preshared keys, or read them from the nearest ".cable"
directory, see ParseAddress.

Errors returned by cablehs are typically wrapped with additional information.
Use errors.Is() or Unwrap to check for errors.
*/
package cablehs
