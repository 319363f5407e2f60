package cablehs

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

func TestFrameLen(t *testing.T) {
	tests := []struct {
		n   int
		exp uint64
	}{
		{0, 16},
		{1, 17},
		{MaxPlaintextSegment - 1, MaxCiphertextSegment - 1},
		{MaxPlaintextSegment, MaxCiphertextSegment + 16},
		{MaxPlaintextSegment + 1, MaxCiphertextSegment + 17},
		{3 * MaxPlaintextSegment, 3*MaxCiphertextSegment + 16},
		{3*MaxPlaintextSegment + 5, 3*MaxCiphertextSegment + 21},
	}
	for _, tt := range tests {
		require.Equal(t, tt.exp, FrameLen(tt.n), "frame length for %d bytes", tt.n)
	}
}

func TestTransportSizes(t *testing.T) {
	iconfig, rconfig := configPair(t)
	it, rt := transportPair(t, iconfig, rconfig)

	sizes := []int{
		0, 1, AuthTagLen,
		MaxPlaintextSegment - 1, MaxPlaintextSegment, MaxPlaintextSegment + 1,
		2 * MaxPlaintextSegment, 3*MaxPlaintextSegment + 7,
		4 << 20,
	}
	readwrite := func(t *testing.T, src, dst *Transport, size int) {
		buf := make([]byte, size)
		for i := range buf {
			buf[i] = byte(i * 7)
		}

		var g errgroup.Group
		g.Go(func() error {
			return src.Write(buf)
		})
		msg, err := dst.Read()
		check(t, err, nil, "reading message")
		check(t, g.Wait(), nil, "writing message")
		if !bytes.Equal(buf, msg) {
			t.Fatalf("message mismatch for %d bytes, got %d bytes", size, len(msg))
		}
	}
	for _, size := range sizes {
		t.Run(fmt.Sprintf("ir%d", size), func(t *testing.T) { readwrite(t, it, rt, size) })
		t.Run(fmt.Sprintf("ri%d", size), func(t *testing.T) { readwrite(t, rt, it, size) })
	}
}

func TestTransportWire(t *testing.T) {
	iconfig, rconfig := configPair(t)
	ic, rc := tcpPair(t)

	var g errgroup.Group
	g.Go(func() error {
		h, err := NewHandshake(NewStream(rc), Responder, rconfig)
		if err != nil {
			return err
		}
		_, err = h.Handshake()
		return err
	})
	h, err := NewHandshake(NewStream(ic), Initiator, iconfig)
	check(t, err, nil, "new handshake")
	it, err := h.Handshake()
	check(t, err, nil, "initiator handshake")
	check(t, g.Wait(), nil, "responder handshake")

	// The responder transport is not used, we look at the raw bytes on the wire.
	size := MaxPlaintextSegment + 10
	g.Go(func() error {
		return it.Write(make([]byte, size))
	})
	header := make([]byte, frameHeaderLen)
	_, err = io.ReadFull(rc, header)
	check(t, err, nil, "reading frame header")
	require.Equal(t, FrameLen(size), uint64(binary.LittleEndian.Uint32(header)))
	frame := make([]byte, FrameLen(size))
	_, err = io.ReadFull(rc, frame)
	check(t, err, nil, "reading frame")
	check(t, g.Wait(), nil, "writing message")

	err = it.WriteEos()
	check(t, err, nil, "writing end-of-stream")
	_, err = io.ReadFull(rc, header)
	check(t, err, nil, "reading end-of-stream")
	require.Equal(t, []byte{0, 0, 0, 0}, header)
}

func TestTransportEmpty(t *testing.T) {
	iconfig, rconfig := configPair(t)
	it, rt := transportPair(t, iconfig, rconfig)

	err := it.Write(nil)
	check(t, err, nil, "writing empty message")
	msg, err := rt.Read()
	check(t, err, nil, "reading empty message")
	require.NotNil(t, msg, "empty message is not end-of-stream")
	require.Len(t, msg, 0)

	err = it.Write([]byte("hello"))
	check(t, err, nil, "writing message")
	err = rt.ReadEos()
	check(t, err, ErrProtocol, "message instead of end-of-stream")
	require.Contains(t, err.Error(), "expected end-of-stream marker, got 5-byte message 68656c6c6f")

	err = it.WriteEos()
	check(t, err, nil, "writing end-of-stream")
	_, err = rt.Read()
	check(t, err, io.EOF, "reading end-of-stream")
	_, err = rt.Read()
	check(t, err, io.EOF, "reading after end-of-stream")
	err = rt.ReadEos()
	check(t, err, nil, "expecting end-of-stream after end-of-stream")

	err = it.Write([]byte("more"))
	check(t, err, ErrClosed, "write after end-of-stream")
	err = it.WriteEos()
	check(t, err, ErrClosed, "second end-of-stream")

	// The other direction is still open.
	err = rt.Write([]byte("reply"))
	check(t, err, nil, "writing reply")
	msg, err = it.Read()
	check(t, err, nil, "reading reply after sending end-of-stream")
	require.Equal(t, "reply", string(msg))
}

func TestTransportTampered(t *testing.T) {
	iconfig, rconfig := configPair(t)
	it, rt := transportPair(t, iconfig, rconfig)

	frame := make([]byte, frameHeaderLen+20)
	binary.LittleEndian.PutUint32(frame, 20)
	copy(frame[frameHeaderLen:], "not encrypted at all")
	err := it.Stream().Write(frame)
	check(t, err, nil, "writing raw frame")

	_, err = rt.Read()
	check(t, err, ErrDecrypt, "reading tampered frame")

	// Reading is broken for good, nonces are out of sync.
	_, err = rt.Read()
	check(t, err, ErrDecrypt, "reading after tampered frame")
}

func TestTransportShortSegment(t *testing.T) {
	iconfig, rconfig := configPair(t)
	it, rt := transportPair(t, iconfig, rconfig)

	frame := make([]byte, frameHeaderLen+3)
	binary.LittleEndian.PutUint32(frame, 3)
	err := it.Stream().Write(frame)
	check(t, err, nil, "writing raw frame")
	_, err = rt.Read()
	check(t, err, ErrProtocol, "frame shorter than authentication tag")
}

func TestTransportMaxMessageLen(t *testing.T) {
	iconfig, rconfig := configPair(t)
	rconfig.MaxMessageLen = 10
	it, rt := transportPair(t, iconfig, rconfig)

	err := it.Write(make([]byte, 10))
	check(t, err, nil, "writing message at limit")
	_, err = rt.Read()
	check(t, err, nil, "reading message at limit")

	err = it.Write(make([]byte, 11))
	check(t, err, nil, "writing message over limit")
	_, err = rt.Read()
	check(t, err, ErrProtocol, "reading message over limit")
}

func TestTransportDestroy(t *testing.T) {
	iconfig, rconfig := configPair(t)
	it, rt := transportPair(t, iconfig, rconfig)

	errc := make(chan error, 1)
	go func() {
		_, err := rt.Read()
		errc <- err
	}()
	waitQueued(t, rt.Stream(), 1)
	err := rt.Destroy(nil)
	check(t, err, nil, "destroying transport")
	check(t, <-errc, ErrDestroyed, "pending read after destroy")

	err = rt.Write([]byte("x"))
	check(t, err, ErrDestroyed, "write after destroy")

	// Remote sees the connection end without end-of-stream.
	_, err = it.Read()
	check(t, err, ErrStreamEnded, "read from destroyed remote")
}
