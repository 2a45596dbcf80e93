package client

import (
	"errors"
	"net"
	"testing"
	"time"

	"github.com/keeldb/keel/wire"
)

// fakeServer accepts connections and speaks just enough of the
// protocol: the version short on accept.
type fakeServer struct {
	listener net.Listener
	conns    chan net.Conn
}

func newFakeServer(t *testing.T) *fakeServer {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	fs := &fakeServer{listener: ln, conns: make(chan net.Conn, 16)}
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			ch := wire.NewChannel(conn)
			if err := ch.WriteShort(wire.CurrentProtocolVersion); err == nil {
				_ = ch.Flush()
			}
			fs.conns <- conn
		}
	}()
	t.Cleanup(func() { _ = ln.Close() })
	return fs
}

func (fs *fakeServer) url() string {
	return fs.listener.Addr().String()
}

func TestDialNegotiatesProtocol(t *testing.T) {
	fs := newFakeServer(t)

	ch, err := Dial(fs.url(), Config{})
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = ch.Close() }()

	if ch.ServerProtocol() != wire.CurrentProtocolVersion {
		t.Errorf("server protocol = %d", ch.ServerProtocol())
	}
	if ch.SessionID() != -1 {
		t.Errorf("fresh session id = %d", ch.SessionID())
	}
	if !ch.IsConnected() {
		t.Error("dialed channel not connected")
	}
}

func TestAcquireReleaseReuse(t *testing.T) {
	fs := newFakeServer(t)
	mgr := NewManager(4, time.Second)
	defer func() { _ = mgr.Close() }()

	ch, err := mgr.Acquire(fs.url(), Config{})
	if err != nil {
		t.Fatal(err)
	}
	if mgr.Created(fs.url()) != 1 || mgr.Available(fs.url()) != 0 {
		t.Errorf("created=%d available=%d", mgr.Created(fs.url()), mgr.Available(fs.url()))
	}

	mgr.Release(ch)
	if mgr.Available(fs.url()) != 1 {
		t.Errorf("available after release = %d", mgr.Available(fs.url()))
	}

	again, err := mgr.Acquire(fs.url(), Config{})
	if err != nil {
		t.Fatal(err)
	}
	if again != ch {
		t.Error("idle channel was not reused")
	}
	if mgr.Created(fs.url()) != 1 {
		t.Errorf("reuse dialed a fresh channel: created=%d", mgr.Created(fs.url()))
	}
	mgr.Release(again)
}

func TestDuplicateReleaseIsNoop(t *testing.T) {
	fs := newFakeServer(t)
	mgr := NewManager(4, time.Second)
	defer func() { _ = mgr.Close() }()

	ch, err := mgr.Acquire(fs.url(), Config{})
	if err != nil {
		t.Fatal(err)
	}
	mgr.Release(ch)
	mgr.Release(ch)
	if mgr.Available(fs.url()) != 1 {
		t.Errorf("duplicate release changed the pool: available=%d", mgr.Available(fs.url()))
	}
}

func TestAcquireTimesOutAtCapacity(t *testing.T) {
	fs := newFakeServer(t)
	mgr := NewManager(1, 50*time.Millisecond)
	defer func() { _ = mgr.Close() }()

	ch, err := mgr.Acquire(fs.url(), Config{})
	if err != nil {
		t.Fatal(err)
	}

	_, err = mgr.Acquire(fs.url(), Config{})
	if !errors.Is(err, ErrAcquireTimeout) {
		t.Fatalf("expected timeout, got %v", err)
	}

	// the failed acquire dropped the pool entry; releasing into the
	// gone pool is a no-op and the channel stays usable
	mgr.Release(ch)
}

func TestMaxChannelsPerURL(t *testing.T) {
	fs := newFakeServer(t)
	const max = 3
	mgr := NewManager(max, 50*time.Millisecond)
	defer func() { _ = mgr.Close() }()

	var borrowed []*Channel
	for i := 0; i < max; i++ {
		ch, err := mgr.Acquire(fs.url(), Config{})
		if err != nil {
			t.Fatal(err)
		}
		borrowed = append(borrowed, ch)
	}
	if mgr.Created(fs.url()) != max {
		t.Errorf("created = %d", mgr.Created(fs.url()))
	}
	if mgr.MaxResources(fs.url()) != max {
		t.Errorf("max = %d", mgr.MaxResources(fs.url()))
	}

	if _, err := mgr.Acquire(fs.url(), Config{}); !errors.Is(err, ErrAcquireTimeout) {
		t.Fatalf("expected timeout past capacity, got %v", err)
	}
	for _, ch := range borrowed {
		_ = ch.Close()
	}
}

func TestEvictionOnChannelClose(t *testing.T) {
	fs := newFakeServer(t)
	mgr := NewManager(4, time.Second)
	defer func() { _ = mgr.Close() }()

	ch, err := mgr.Acquire(fs.url(), Config{})
	if err != nil {
		t.Fatal(err)
	}
	mgr.Release(ch)

	if mgr.Available(fs.url()) != 1 || mgr.Created(fs.url()) != 1 {
		t.Fatalf("available=%d created=%d", mgr.Available(fs.url()), mgr.Created(fs.url()))
	}

	// peer closure surfaces as the channel-close callback
	_ = ch.Close()

	if mgr.Available(fs.url()) != 0 || mgr.Created(fs.url()) != 0 {
		t.Errorf("after close: available=%d created=%d",
			mgr.Available(fs.url()), mgr.Created(fs.url()))
	}

	// a subsequent acquire dials a fresh channel
	fresh, err := mgr.Acquire(fs.url(), Config{})
	if err != nil {
		t.Fatal(err)
	}
	if fresh == ch {
		t.Error("closed channel was handed out again")
	}
	mgr.Release(fresh)
}

func TestReleaseDiscardsDeadChannel(t *testing.T) {
	fs := newFakeServer(t)
	mgr := NewManager(4, time.Second)
	defer func() { _ = mgr.Close() }()

	ch, err := mgr.Acquire(fs.url(), Config{})
	if err != nil {
		t.Fatal(err)
	}
	_ = ch.Close()
	mgr.Release(ch)

	if mgr.Available(fs.url()) != 0 {
		t.Errorf("dead channel pooled: available=%d", mgr.Available(fs.url()))
	}
}

func TestRemoveIsIdempotent(t *testing.T) {
	fs := newFakeServer(t)
	mgr := NewManager(4, time.Second)
	defer func() { _ = mgr.Close() }()

	ch, err := mgr.Acquire(fs.url(), Config{})
	if err != nil {
		t.Fatal(err)
	}
	if err := mgr.Remove(ch); err != nil {
		t.Fatal(err)
	}
	if mgr.Created(fs.url()) != 0 {
		t.Errorf("created after remove = %d", mgr.Created(fs.url()))
	}
	if err := mgr.Remove(ch); err != nil {
		t.Errorf("second remove failed: %v", err)
	}
}

func TestRemoveWithoutPoolFails(t *testing.T) {
	fs := newFakeServer(t)
	mgr := NewManager(4, time.Second)

	ch, err := mgr.Acquire(fs.url(), Config{})
	if err != nil {
		t.Fatal(err)
	}
	_ = mgr.Close()

	if err := mgr.Remove(ch); !errors.Is(err, ErrPoolGone) {
		t.Errorf("remove without pool = %v", err)
	}
}

func TestManagerClose(t *testing.T) {
	fs := newFakeServer(t)
	mgr := NewManager(4, time.Second)

	ch, err := mgr.Acquire(fs.url(), Config{})
	if err != nil {
		t.Fatal(err)
	}
	mgr.Release(ch)

	if err := mgr.Close(); err != nil {
		t.Fatal(err)
	}
	if ch.IsConnected() {
		t.Error("pooled channel survived manager close")
	}
	if len(mgr.URLs()) != 0 {
		t.Errorf("pools survived close: %v", mgr.URLs())
	}
}
