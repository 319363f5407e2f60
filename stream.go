package cablehs

import (
	"io"
	"sync"
)

// StreamState is the state of the read side of a Stream. It leaves StreamReady
// at most once.
type StreamState uint8

const (
	// StreamReady indicates reads are still served from the underlying stream.
	StreamReady StreamState = iota
	// StreamDone indicates the underlying stream signaled end of data.
	StreamDone
	// StreamErrored indicates the underlying stream failed, or the Stream was destroyed.
	StreamErrored
)

// String returns the name of the state.
func (s StreamState) String() string {
	switch s {
	case StreamReady:
		return "Ready"
	case StreamDone:
		return "Done"
	case StreamErrored:
		return "Errored"
	}
	return "Unknown"
}

// maxEmptyReads is the number of consecutive zero-byte reads without error
// after which a read is considered stuck.
const maxEmptyReads = 100

// Stream is a reliable byte channel over a raw bidirectional stream, such as a
// TCP connection or a pipe. It reads exact byte counts and writes whole
// buffers.
//
// Reads are completed one at a time, in the order they were issued. Writes
// are serialized among themselves, but are independent of reads.
type Stream struct {
	rw io.ReadWriteCloser

	queue readQueue

	writer sync.Mutex

	status struct {
		sync.Mutex
		state  StreamState
		err    error // Condition that ended the stream, set once state is not StreamReady.
		closed bool  // Whether the underlying stream has been closed by Destroy.
	}
}

// NewStream returns a Stream reading from and writing to rw.
func NewStream(rw io.ReadWriteCloser) *Stream {
	s := &Stream{rw: rw}
	s.queue.init()
	return s
}

// State returns the current state of the stream.
func (s *Stream) State() StreamState {
	s.status.Lock()
	defer s.status.Unlock()
	return s.status.state
}

// settle records the terminal state and its condition. Only the first call
// has effect. The recorded condition is returned.
func (s *Stream) settle(state StreamState, err error) error {
	s.status.Lock()
	defer s.status.Unlock()
	if s.status.state == StreamReady {
		s.status.state = state
		s.status.err = err
	}
	return s.status.err
}

// ended returns the recorded condition, or nil if the stream is still ready.
func (s *Stream) ended() (StreamState, error) {
	s.status.Lock()
	defer s.status.Unlock()
	return s.status.state, s.status.err
}

// Write writes all of buf to the underlying stream. Write blocks until the
// underlying stream has accepted all bytes, not until remote has received
// them.
func (s *Stream) Write(buf []byte) error {
	s.writer.Lock()
	defer s.writer.Unlock()

	if state, err := s.ended(); state == StreamErrored {
		return err
	}

	for len(buf) > 0 {
		n, err := s.rw.Write(buf)
		if n < 0 || n > len(buf) {
			return s.settle(StreamErrored, prefixError(ErrProtocol, "stream reported writing %d bytes of %d", n, len(buf)))
		}
		buf = buf[n:]
		if err != nil {
			return s.settle(StreamErrored, &wrapErr{ErrStream, err})
		}
		if n == 0 {
			return s.settle(StreamErrored, &wrapErr{ErrStream, io.ErrShortWrite})
		}
	}
	return nil
}

// Read reads exactly n bytes from the underlying stream.
//
// If the stream ends before n bytes were read, ErrStreamEnded is returned. If
// the underlying stream fails, the returned error matches ErrStream and unwraps
// to the original error. Once the stream has ended or failed, Read returns the
// same error immediately.
func (s *Stream) Read(n int) ([]byte, error) {
	if n < 0 {
		panic("negative read length")
	}

	s.queue.enter()
	defer s.queue.leave()

	if state, err := s.ended(); state != StreamReady {
		return nil, err
	}

	buf := make([]byte, n)
	have := 0
	empty := 0
	for have < n {
		m, err := s.rw.Read(buf[have:])
		if m < 0 || m > n-have {
			return nil, s.settle(StreamErrored, prefixError(ErrProtocol, "too many bytes given by stream, requested %d, got %d", n-have, m))
		}
		have += m
		if have == n {
			break
		}
		if err == io.EOF {
			return nil, s.settle(StreamDone, prefixError(ErrStreamEnded, "read %d of %d bytes", have, n))
		}
		if err != nil {
			return nil, s.settle(StreamErrored, &wrapErr{ErrStream, err})
		}
		if m > 0 {
			empty = 0
		} else if empty++; empty >= maxEmptyReads {
			return nil, s.settle(StreamErrored, &wrapErr{ErrStream, io.ErrNoProgress})
		}
	}
	return buf, nil
}

// Destroy closes the underlying stream. Pending and future reads fail with a
// stream error wrapping err, or ErrDestroyed if err is nil. Future writes fail
// as well. Calling Destroy again has no effect.
func (s *Stream) Destroy(err error) error {
	if err == nil {
		err = ErrDestroyed
	}
	s.settle(StreamErrored, &wrapErr{ErrStream, err})

	s.status.Lock()
	closed := s.status.closed
	s.status.closed = true
	s.status.Unlock()
	if closed {
		return nil
	}
	return s.rw.Close()
}

// readQueue is a ticket lock: callers of enter are let through one at a time,
// in the order they called enter.
type readQueue struct {
	mu      sync.Mutex
	cond    *sync.Cond
	next    uint64
	serving uint64
}

func (q *readQueue) init() {
	q.cond = sync.NewCond(&q.mu)
}

func (q *readQueue) enter() {
	q.mu.Lock()
	defer q.mu.Unlock()
	ticket := q.next
	q.next++
	for q.serving != ticket {
		q.cond.Wait()
	}
}

func (q *readQueue) leave() {
	q.mu.Lock()
	q.serving++
	q.mu.Unlock()
	q.cond.Broadcast()
}
