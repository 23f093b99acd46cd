package session_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/omochice/toy-private-chat/internal/chat"
	"github.com/omochice/toy-private-chat/internal/client"
	"github.com/omochice/toy-private-chat/internal/session"
)

// fakeAuth accepts any non-empty credentials unless err is set.
type fakeAuth struct {
	calls atomic.Int32
	err   error
}

func (f *fakeAuth) Authenticate(ctx context.Context, username, password string) (chat.Identity, error) {
	f.calls.Add(1)
	if f.err != nil {
		return "", f.err
	}
	return chat.Identity(strings.TrimSpace(username)), nil
}

// relayConn plays the relay side of one connection.
type relayConn struct {
	inbound   chan []byte
	written   chan map[string]any
	closeOnce sync.Once
	closed    chan struct{}
}

func newRelayConn() *relayConn {
	return &relayConn{
		inbound: make(chan []byte, 16),
		written: make(chan map[string]any, 64),
		closed:  make(chan struct{}),
	}
}

func (c *relayConn) Read(ctx context.Context) ([]byte, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-c.closed:
		return nil, io.EOF
	case data := <-c.inbound:
		return data, nil
	}
}

func (c *relayConn) Write(ctx context.Context, data []byte) error {
	select {
	case <-c.closed:
		return errors.New("closed")
	default:
	}
	var frame map[string]any
	if err := json.Unmarshal(data, &frame); err != nil {
		return err
	}
	c.written <- frame
	return nil
}

func (c *relayConn) Close() error {
	c.closeOnce.Do(func() { close(c.closed) })
	return nil
}

func (c *relayConn) RemoteAddr() string { return "relay.test:8080" }

// push sends a frame to the client.
func (c *relayConn) push(frame string) {
	c.inbound <- []byte(frame)
}

// drop simulates the relay going away.
func (c *relayConn) drop() {
	c.Close()
}

// next returns the next frame written by the client with the given type,
// skipping others.
func (c *relayConn) next(t *testing.T, typ string) map[string]any {
	t.Helper()
	timeout := time.After(2 * time.Second)
	for {
		select {
		case frame := <-c.written:
			if frame["type"] == typ {
				return frame
			}
		case <-timeout:
			t.Fatalf("timed out waiting for %s frame", typ)
			return nil
		}
	}
}

// expectNone fails if a frame of type typ is written within d.
func (c *relayConn) expectNone(t *testing.T, typ string, d time.Duration) {
	t.Helper()
	timeout := time.After(d)
	for {
		select {
		case frame := <-c.written:
			if frame["type"] == typ {
				t.Fatalf("unexpected %s frame: %v", typ, frame)
			}
		case <-timeout:
			return
		}
	}
}

// relay hands out queued connections to successive dials.
type relay struct {
	conns chan *relayConn
	dials atomic.Int32
}

func newRelay(conns ...*relayConn) *relay {
	r := &relay{conns: make(chan *relayConn, len(conns)+1)}
	for _, c := range conns {
		r.conns <- c
	}
	return r
}

func (r *relay) Dial(ctx context.Context) (chat.Conn, error) {
	r.dials.Add(1)
	select {
	case c := <-r.conns:
		return c, nil
	default:
		return nil, errors.New("connection refused")
	}
}

var _ client.Dialer = (*relay)(nil)

// eventually polls the session until cond holds.
func eventually(t *testing.T, s *session.Session, cond func(session.Snapshot) bool) session.Snapshot {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		snap := s.Snapshot()
		if cond(snap) {
			return snap
		}
		if time.Now().After(deadline) {
			t.Fatalf("condition not met, last snapshot: %+v", snap)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func loggedIn(t *testing.T, s *session.Session, user string) {
	t.Helper()
	if err := s.Login(context.Background(), user, "secret"); err != nil {
		t.Fatalf("Login() error = %v", err)
	}
	if snap := s.Snapshot(); snap.State != session.Connected {
		t.Fatalf("State = %v, want CONNECTED", snap.State)
	}
}
