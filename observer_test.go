package cablehs

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/mjl-/cablehs/observability"
)

type recorder struct {
	sync.Mutex
	events []string
}

func (r *recorder) add(s string) {
	r.Lock()
	defer r.Unlock()
	r.events = append(r.events, s)
}

func (r *recorder) Handshake(role observability.Role, result observability.HandshakeResult, d time.Duration) {
	r.add("handshake " + string(role) + " " + string(result))
}

func (r *recorder) Message(dir observability.Direction, size int) {
	r.add("message " + string(dir))
}

func (r *recorder) EOS(dir observability.Direction) {
	r.add("eos " + string(dir))
}

func (r *recorder) Destroy() {
	r.add("destroy")
}

func (r *recorder) get() []string {
	r.Lock()
	defer r.Unlock()
	return append([]string{}, r.events...)
}

func TestObserverEvents(t *testing.T) {
	iconfig, rconfig := configPair(t)
	irec := &recorder{}
	rrec := &recorder{}
	iconfig.Observer = irec
	rconfig.Observer = rrec

	ih, ir, _, rr := handshakePair(t, iconfig, rconfig)
	check(t, ir.err, nil, "initiator handshake")
	check(t, rr.err, nil, "responder handshake")

	err := ir.t.Write([]byte("hi"))
	check(t, err, nil, "write")
	_, err = rr.t.Read()
	check(t, err, nil, "read")
	err = ir.t.WriteEos()
	check(t, err, nil, "write end-of-stream")
	err = rr.t.ReadEos()
	check(t, err, nil, "read end-of-stream")
	err = rr.t.Destroy(nil)
	check(t, err, nil, "destroy")

	_, err = ih.Handshake()
	check(t, err, ErrInvalidState, "second handshake")

	require.Equal(t, []string{
		"handshake initiator ok",
		"message send",
		"eos send",
		"handshake initiator invalid_state",
	}, irec.get())
	require.Equal(t, []string{
		"handshake responder ok",
		"message receive",
		"eos receive",
		"destroy",
	}, rrec.get())
}

func TestObserverVersionMismatch(t *testing.T) {
	iconfig, rconfig := configPair(t)
	iconfig.Version = Version{3, 1}
	rec := &recorder{}
	rconfig.Observer = rec

	_, _, _, rr := handshakePair(t, iconfig, rconfig)
	check(t, rr.err, ErrVersionMismatch, "responder handshake")
	require.Equal(t, []string{"handshake responder version_mismatch"}, rec.get())
}
