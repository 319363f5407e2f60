package cablehs

import (
	"encoding/binary"
	"encoding/hex"
	"io"
	"math"
	"sync"

	"github.com/flynn/noise"
	"github.com/sirupsen/logrus"

	"github.com/mjl-/cablehs/observability"
)

const (
	// MaxCiphertextSegment is the maximum size of an encrypted segment, including
	// its authentication tag.
	MaxCiphertextSegment = noise.MaxMsgLen

	// AuthTagLen authenticator bytes are appended to each segment by ChaCha20-Poly1305.
	AuthTagLen = 16

	// MaxPlaintextSegment is the maximum number of message bytes in one segment.
	MaxPlaintextSegment = MaxCiphertextSegment - AuthTagLen

	frameHeaderLen = 4

	// Upper bound for buffer allocation based on a frame length read from remote.
	maxPrealloc = 1 << 20
)

// FrameLen returns the number of ciphertext bytes following the length prefix
// of a frame for a message of n bytes: full segments, and one final segment
// for the remainder, which is empty if n is a multiple of MaxPlaintextSegment.
func FrameLen(n int) uint64 {
	return uint64(n/MaxPlaintextSegment)*MaxCiphertextSegment + uint64(n%MaxPlaintextSegment) + AuthTagLen
}

// Transport sends and receives encrypted messages after a completed
// handshake. Each message is a frame: a 4-byte little-endian length, followed
// by one or more encrypted segments. A frame with length zero is the
// end-of-stream marker.
//
// Reading and writing can happen concurrently. Each direction has its own
// cipher state.
type Transport struct {
	stream        *Stream
	peerStatic    PublicKey
	maxMessageLen int
	log           logrus.FieldLogger
	observer      observability.Observer

	reader struct {
		sync.Mutex
		rx  CipherState
		err error // Set to io.EOF after end-of-stream from remote, or the error that broke reading.
	}

	writer struct {
		sync.Mutex
		tx      CipherState
		scratch []byte // Holds an encrypted segment.
		err     error  // Set after end-of-stream was written, or the error that broke writing.
	}
}

func newTransport(stream *Stream, tx, rx CipherState, peerStatic PublicKey, config *Config) *Transport {
	t := &Transport{
		stream:        stream,
		peerStatic:    peerStatic,
		maxMessageLen: config.MaxMessageLen,
		log:           config.log(),
		observer:      config.observer(),
	}
	t.reader.rx = rx
	t.writer.tx = tx
	return t
}

// PeerStatic returns the static public key of remote.
func (t *Transport) PeerStatic() PublicKey {
	return t.peerStatic
}

// Stream returns the underlying stream.
func (t *Transport) Stream() *Stream {
	return t.stream
}

// Write encrypts and sends buf as a single message. Large messages are split
// into multiple segments. An empty buf is sent as a message without data,
// which is different from end-of-stream.
//
// If writing fails halfway, the transport can no longer be written to.
func (t *Transport) Write(buf []byte) (rerr error) {
	t.writer.Lock()
	defer t.writer.Unlock()

	if t.writer.err != nil {
		return t.writer.err
	}

	size := FrameLen(len(buf))
	if size > math.MaxUint32 {
		return prefixError(ErrTooLarge, "message of %d bytes needs frame of %d bytes, max is %d", len(buf), size, uint64(math.MaxUint32))
	}

	lcheck, handle := errorHandler(func(xerr error) {
		rerr = xerr
		t.writer.err = xerr
	})
	defer handle()

	var header [frameHeaderLen]byte
	binary.LittleEndian.PutUint32(header[:], uint32(size))
	err := t.stream.Write(header[:])
	lcheck(err, "writing frame length")

	if t.writer.scratch == nil {
		t.writer.scratch = make([]byte, 0, MaxCiphertextSegment)
	}
	n := len(buf)
	for {
		cn := len(buf)
		if cn > MaxPlaintextSegment {
			cn = MaxPlaintextSegment
		}
		out, err := t.writer.tx.Encrypt(t.writer.scratch[:0], nil, buf[:cn])
		lcheck(err, "encrypting segment")
		err = t.stream.Write(out)
		lcheck(err, "writing segment")

		buf = buf[cn:]
		if cn < MaxPlaintextSegment {
			break
		}
	}

	t.observer.Message(observability.DirectionSend, n)
	return nil
}

// Read reads and decrypts the next message. An empty message is returned as
// an empty, non-nil slice. Read returns io.EOF when remote sent end-of-stream,
// and for all reads after that.
//
// If a message could not be read or decrypted, the transport can no longer be
// read from.
func (t *Transport) Read() (rbuf []byte, rerr error) {
	t.reader.Lock()
	defer t.reader.Unlock()

	if t.reader.err != nil {
		return nil, t.reader.err
	}

	lcheck, handle := errorHandler(func(xerr error) {
		rerr = xerr
		t.reader.err = xerr
	})
	defer handle()

	header, err := t.stream.Read(frameHeaderLen)
	lcheck(err, "reading frame length")
	size := uint64(binary.LittleEndian.Uint32(header))
	if size == 0 {
		t.reader.err = io.EOF
		t.observer.EOS(observability.DirectionReceive)
		t.log.Debug("end-of-stream from remote")
		return nil, io.EOF
	}
	if t.maxMessageLen > 0 && size > FrameLen(t.maxMessageLen) {
		lcheck(prefixError(ErrProtocol, "frame of %d bytes exceeds maximum message size %d", size, t.maxMessageLen), "reading frame")
	}

	prealloc := size
	if prealloc > maxPrealloc {
		prealloc = maxPrealloc
	}
	out := make([]byte, 0, prealloc)
	for remaining := size; remaining > 0; {
		n := remaining
		if n > MaxCiphertextSegment {
			n = MaxCiphertextSegment
		}
		if n < AuthTagLen {
			lcheck(prefixError(ErrProtocol, "segment of %d bytes is shorter than authentication tag", n), "reading frame")
		}
		segment, err := t.stream.Read(int(n))
		lcheck(err, "reading segment")
		out, err = t.reader.rx.Decrypt(out, nil, segment)
		if err != nil {
			lcheck(&wrapErr{ErrDecrypt, err}, "decrypting segment")
		}
		remaining -= n
	}

	t.observer.Message(observability.DirectionReceive, len(out))
	return out, nil
}

// WriteEos sends the end-of-stream marker. Remote will read io.EOF after the
// messages written before. Writes after WriteEos fail with ErrClosed. Reading
// is not affected.
func (t *Transport) WriteEos() error {
	t.writer.Lock()
	defer t.writer.Unlock()

	if t.writer.err != nil {
		return t.writer.err
	}

	var header [frameHeaderLen]byte
	err := t.stream.Write(header[:])
	if err != nil {
		t.writer.err = err
		return err
	}
	t.writer.err = prefixError(ErrClosed, "end-of-stream was sent")
	t.observer.EOS(observability.DirectionSend)
	t.log.Debug("end-of-stream sent")
	return nil
}

// ReadEos reads the next message and returns nil if it is the end-of-stream
// marker. Any other message is a protocol error.
func (t *Transport) ReadEos() error {
	buf, err := t.Read()
	if err == io.EOF {
		return nil
	} else if err != nil {
		return err
	}
	preview := buf
	if len(preview) > 16 {
		preview = preview[:16]
	}
	return prefixError(ErrProtocol, "expected end-of-stream marker, got %d-byte message %s", len(buf), hex.EncodeToString(preview))
}

// Destroy tears down the underlying stream without sending end-of-stream.
// Pending and later reads and writes fail. If err is not nil, it is the cause
// reported by those failures.
func (t *Transport) Destroy(err error) error {
	t.observer.Destroy()
	if err != nil {
		t.log.WithError(err).Debug("destroying transport")
	} else {
		t.log.Debug("destroying transport")
	}
	return t.stream.Destroy(err)
}
