// Package client manages the lifecycle of a single relay connection.
package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/omochice/toy-private-chat/internal/chat"
	"github.com/omochice/toy-private-chat/internal/logging"
	"github.com/omochice/toy-private-chat/pkg/protocol"
)

var log = logging.Logger(logging.Client)

const (
	// DefaultSendQueueSize bounds frames accepted by Send but not yet written.
	DefaultSendQueueSize = 256
	// DefaultWriteTimeout bounds a single transport write.
	DefaultWriteTimeout = 10 * time.Second

	eventBufferSize = 64
)

// Dialer opens a transport connection to the relay.
type Dialer interface {
	Dial(ctx context.Context) (chat.Conn, error)
}

// DialFunc adapts a function to Dialer.
type DialFunc func(ctx context.Context) (chat.Conn, error)

// Dial implements Dialer.
func (f DialFunc) Dial(ctx context.Context) (chat.Conn, error) {
	return f(ctx)
}

// Option configures a Manager.
type Option func(*Manager)

// WithSendQueueSize sets how many frames Send may queue ahead of the writer.
func WithSendQueueSize(n int) Option {
	return func(m *Manager) {
		if n > 0 {
			m.queueSize = n
		}
	}
}

// WithWriteTimeout sets the per-frame write timeout.
func WithWriteTimeout(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.writeTimeout = d
		}
	}
}

type outbound struct {
	frame protocol.Frame
	data  []byte
}

// Manager owns one relay connection: Disconnected, Connecting, Authenticating
// (join in flight), Joined, Closing and back to Disconnected. The relay sends no
// join acknowledgement, so Authenticating lasts as long as the join write.
//
// A Manager is single-use once it has been Joined: after the connection closes,
// Events is closed and Connect fails. A failed Connect may be retried. Reconnecting
// means constructing a new Manager.
type Manager struct {
	dialer       Dialer
	queueSize    int
	writeTimeout time.Duration

	mu       sync.Mutex
	state    State
	identity chat.Identity
	conn     chat.Conn
	cancel   context.CancelFunc
	outgoing chan outbound
	finished bool

	events     chan Event
	done       chan struct{}
	readerDone chan struct{}
	writerDone chan struct{}
	closeOnce  sync.Once
}

// New creates a disconnected Manager.
func New(dialer Dialer, opts ...Option) *Manager {
	m := &Manager{
		dialer:       dialer,
		queueSize:    DefaultSendQueueSize,
		writeTimeout: DefaultWriteTimeout,
		events:       make(chan Event, eventBufferSize),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Events returns the event stream. It is closed after the connection has
// been torn down.
func (m *Manager) Events() <-chan Event {
	return m.events
}

// State returns the current lifecycle state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Identity returns the identity passed to the last Connect.
func (m *Manager) Identity() chat.Identity {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.identity
}

// Connect dials the relay and joins as identity. ctx bounds the dial and the
// join write only; the connection outlives it.
func (m *Manager) Connect(ctx context.Context, identity chat.Identity) error {
	if identity == "" {
		return fmt.Errorf("%w: identity is required", chat.ErrValidation)
	}

	m.mu.Lock()
	if m.finished {
		m.mu.Unlock()
		return fmt.Errorf("%w: connection manager is closed", chat.ErrConnection)
	}
	if m.state != Disconnected {
		state := m.state
		m.mu.Unlock()
		return fmt.Errorf("%w: already %s", chat.ErrConnection, state)
	}
	dialCtx, cancelDial := context.WithCancel(ctx)
	defer cancelDial()
	m.state = Connecting
	m.identity = identity
	m.cancel = cancelDial
	m.mu.Unlock()
	m.notify(StateChanged{State: Connecting})

	conn, err := m.dialer.Dial(dialCtx)
	if err != nil {
		if m.resetIf(Connecting, nil) {
			m.notify(StateChanged{State: Disconnected, Err: err})
		}
		return fmt.Errorf("%w: %w", chat.ErrConnection, err)
	}
	if !m.advance(Connecting, Authenticating, conn) {
		conn.Close()
		return fmt.Errorf("%w: connect aborted", chat.ErrConnection)
	}
	m.notify(StateChanged{State: Authenticating})

	if err := m.join(dialCtx, conn, identity); err != nil {
		conn.Close()
		if m.resetIf(Authenticating, conn) {
			m.notify(StateChanged{State: Disconnected, Err: err})
		}
		return fmt.Errorf("%w: %w", chat.ErrConnection, err)
	}

	runCtx, cancelRun := context.WithCancel(context.Background())
	m.mu.Lock()
	if m.state != Authenticating {
		m.mu.Unlock()
		cancelRun()
		conn.Close()
		return fmt.Errorf("%w: connect aborted", chat.ErrConnection)
	}
	m.state = Joined
	m.cancel = cancelRun
	m.outgoing = make(chan outbound, m.queueSize)
	m.done = make(chan struct{})
	m.readerDone = make(chan struct{})
	m.writerDone = make(chan struct{})
	m.mu.Unlock()

	log.Infof("joined relay %s as %s", conn.RemoteAddr(), identity)
	m.notify(StateChanged{State: Joined})

	go m.readLoop(runCtx, conn)
	go m.writeLoop(runCtx, conn)
	return nil
}

// Send queues a frame for the writer. It fails with chat.ErrNotJoined unless
// the connection is Joined.
func (m *Manager) Send(frame protocol.Frame) error {
	data, err := protocol.Encode(frame)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != Joined {
		return fmt.Errorf("%w: connection is %s", chat.ErrNotJoined, m.state)
	}
	select {
	case m.outgoing <- outbound{frame: frame, data: data}:
		return nil
	default:
		return fmt.Errorf("%w: send queue full", chat.ErrConnection)
	}
}

// Disconnect closes the connection and returns once the Manager is
// Disconnected. Queued frames are discarded. Safe to call in any state and
// any number of times.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	switch m.state {
	case Disconnected:
		m.mu.Unlock()
		return
	case Connecting, Authenticating:
		conn, cancel := m.conn, m.cancel
		m.state = Disconnected
		m.conn = nil
		m.cancel = nil
		m.mu.Unlock()
		if cancel != nil {
			cancel()
		}
		if conn != nil {
			conn.Close()
		}
		m.notify(StateChanged{State: Disconnected})
		return
	}
	m.mu.Unlock()
	m.teardown(nil)
}

func (m *Manager) join(ctx context.Context, conn chat.Conn, identity chat.Identity) error {
	data, err := protocol.Encode(protocol.Join{User: string(identity)})
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, m.writeTimeout)
	defer cancel()
	if err := conn.Write(ctx, data); err != nil {
		return fmt.Errorf("failed to send join: %w", err)
	}
	return nil
}

// advance moves from one pre-join state to the next unless Disconnect
// intervened.
func (m *Manager) advance(from, to State, conn chat.Conn) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != from {
		return false
	}
	m.state = to
	m.conn = conn
	return true
}

// resetIf returns to Disconnected after a failed connect attempt unless
// Disconnect already did.
func (m *Manager) resetIf(from State, conn chat.Conn) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != from || m.conn != conn {
		return false
	}
	m.state = Disconnected
	m.conn = nil
	m.cancel = nil
	return true
}

func (m *Manager) readLoop(ctx context.Context, conn chat.Conn) {
	defer close(m.readerDone)

	for {
		data, err := conn.Read(ctx)
		if err != nil {
			select {
			case <-m.done:
				return
			default:
			}
			if errors.Is(err, io.EOF) {
				log.Infof("relay %s closed the connection", conn.RemoteAddr())
				err = fmt.Errorf("%w: relay closed the connection", chat.ErrConnection)
			} else {
				log.Warnf("read from %s failed: %v", conn.RemoteAddr(), err)
				err = fmt.Errorf("%w: %w", chat.ErrConnection, err)
			}
			go m.teardown(err)
			return
		}

		frame, err := protocol.Decode(data)
		if err != nil {
			log.Warnf("discarding frame from %s: %v", conn.RemoteAddr(), err)
			continue
		}
		if !m.emit(FrameReceived{Frame: frame}) {
			return
		}
	}
}

func (m *Manager) writeLoop(ctx context.Context, conn chat.Conn) {
	defer close(m.writerDone)

	for {
		select {
		case <-m.done:
			return
		case out := <-m.outgoing:
			select {
			case <-m.done:
				return
			default:
			}
			wctx, cancel := context.WithTimeout(ctx, m.writeTimeout)
			err := conn.Write(wctx, out.data)
			cancel()
			if err != nil {
				if ctx.Err() == nil {
					log.Warnf("write %s to %s failed: %v", out.frame.Type(), conn.RemoteAddr(), err)
					go m.teardown(fmt.Errorf("%w: %w", chat.ErrConnection, err))
				}
				return
			}
			if !m.emit(FrameSent{Frame: out.frame}) {
				return
			}
		}
	}
}

// teardown runs once per joined connection. Concurrent callers block until it
// has finished.
func (m *Manager) teardown(cause error) {
	m.closeOnce.Do(func() {
		m.mu.Lock()
		m.state = Closing
		conn, cancel := m.conn, m.cancel
		m.mu.Unlock()
		m.notify(StateChanged{State: Closing, Err: cause})

		close(m.done)
		cancel()
		if err := conn.Close(); err != nil {
			log.Debugf("close %s: %v", conn.RemoteAddr(), err)
		}
		<-m.readerDone
		<-m.writerDone

		dropped := 0
		for {
			select {
			case <-m.outgoing:
				dropped++
				continue
			default:
			}
			break
		}
		if dropped > 0 {
			log.Infof("discarded %d queued frames", dropped)
		}

		m.mu.Lock()
		m.state = Disconnected
		m.conn = nil
		m.cancel = nil
		m.finished = true
		m.mu.Unlock()

		m.notify(StateChanged{State: Disconnected, Err: cause})
		close(m.events)
	})
}

// emit delivers an event from the pumps, giving up once teardown starts.
func (m *Manager) emit(ev Event) bool {
	select {
	case m.events <- ev:
		return true
	case <-m.done:
		return false
	}
}

// notify delivers a state change without blocking.
func (m *Manager) notify(ev StateChanged) {
	select {
	case m.events <- ev:
	default:
		log.Warnf("event buffer full, dropped %s notification", ev.State)
	}
}
