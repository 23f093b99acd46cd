// Package session composes authentication, the relay connection and the chat
// bookkeeping into the state machine a presentation layer drives.
//
// Every intent, transport event and timer is run on one goroutine, in order.
// The components it owns are therefore never touched concurrently and take no
// locks.
package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/omochice/toy-private-chat/internal/auth"
	"github.com/omochice/toy-private-chat/internal/chat"
	"github.com/omochice/toy-private-chat/internal/client"
	"github.com/omochice/toy-private-chat/internal/logging"
	"github.com/omochice/toy-private-chat/pkg/protocol"
)

var log = logging.Logger(logging.Session)

const queueSize = 128

// Option configures a Session.
type Option func(*Session)

// WithClock replaces the wall clock, e.g. with clock.NewMock() in tests.
func WithClock(c clock.Clock) Option {
	return func(s *Session) { s.clock = c }
}

// WithTyping sets the outbound debounce window and the remote signal timeout.
func WithTyping(debounce, timeout time.Duration) Option {
	return func(s *Session) {
		s.debounce = debounce
		s.timeout = timeout
	}
}

// WithReconnectPolicy sets what happens when an established connection drops.
func WithReconnectPolicy(p ReconnectPolicy) Option {
	return func(s *Session) { s.policy = p }
}

// WithManagerOptions passes options to every ConnectionManager the session creates.
func WithManagerOptions(opts ...client.Option) Option {
	return func(s *Session) { s.managerOpts = append(s.managerOpts, opts...) }
}

// Session is the chat client exposed to the UI layer.
type Session struct {
	auth        auth.Authenticator
	dialer      client.Dialer
	clock       clock.Clock
	debounce    time.Duration
	timeout     time.Duration
	policy      ReconnectPolicy
	managerOpts []client.Option

	queue   chan func()
	done    chan struct{}
	stopped chan struct{}
	closed  chan struct{}

	// Owned by the loop goroutine.
	state       State
	identity    chat.Identity
	gen         uint64
	loginCancel context.CancelFunc
	conn        *client.Manager
	pending     *client.Manager
	store       *chat.MessageStore
	presence    *chat.PresenceTracker
	typing      *chat.TypingCoordinator
	receipts    *chat.ReceiptCorrelator
	attempt     int
	retry       *clock.Timer
	retryCancel context.CancelFunc
	subs        map[chan Snapshot]struct{}
}

// New starts a logged-out session. Call Close to stop it.
func New(authenticator auth.Authenticator, dialer client.Dialer, opts ...Option) *Session {
	s := &Session{
		auth:    authenticator,
		dialer:  dialer,
		clock:   clock.New(),
		policy:  NoReconnect{},
		queue:   make(chan func(), queueSize),
		done:    make(chan struct{}),
		stopped: make(chan struct{}),
		closed:  make(chan struct{}),
		subs:    make(map[chan Snapshot]struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	go s.run()
	return s
}

func (s *Session) run() {
	defer close(s.stopped)
	for {
		select {
		case fn := <-s.queue:
			fn()
		case <-s.done:
			return
		}
	}
}

// post enqueues fn for the loop. It reports false once the session is closed.
func (s *Session) post(fn func()) bool {
	select {
	case s.queue <- fn:
		return true
	case <-s.done:
		return false
	}
}

// call runs fn on the loop and waits for its result.
func (s *Session) call(fn func() error) error {
	reply := make(chan error, 1)
	if !s.post(func() { reply <- fn() }) {
		return ErrClosed
	}
	select {
	case err := <-reply:
		return err
	case <-s.stopped:
		return ErrClosed
	}
}

// Login authenticates and connects. It blocks until the session is Connected
// or the attempt has failed; the session is LoggedOut again on failure.
func (s *Session) Login(ctx context.Context, username, password string) error {
	if strings.TrimSpace(username) == "" {
		return fmt.Errorf("%w: username is required", chat.ErrValidation)
	}
	if strings.TrimSpace(password) == "" {
		return fmt.Errorf("%w: password is required", chat.ErrValidation)
	}

	var (
		gen      uint64
		loginCtx context.Context
	)
	err := s.call(func() error {
		if s.state != LoggedOut {
			return fmt.Errorf("%w: session is %s", ErrAlreadyLoggedIn, s.state)
		}
		s.gen++
		gen = s.gen
		loginCtx, s.loginCancel = context.WithCancel(ctx)
		s.state = Authenticating
		s.publish()
		return nil
	})
	if err != nil {
		return err
	}

	identity, err := s.auth.Authenticate(loginCtx, username, password)
	var mgr *client.Manager
	if err == nil {
		mgr = client.New(s.dialer, s.managerOpts...)
		err = mgr.Connect(loginCtx, identity)
	}

	result := s.call(func() error {
		if s.gen != gen || s.state != Authenticating {
			if mgr != nil {
				mgr.Disconnect()
			}
			return ErrLoginCancelled
		}
		s.loginCancel()
		s.loginCancel = nil
		if err != nil {
			s.state = LoggedOut
			s.publish()
			return err
		}
		s.identity = identity
		s.store = chat.NewMessageStore(identity)
		s.attach(mgr)
		s.state = Connected
		log.Infof("logged in as %s", identity)
		s.publish()
		return nil
	})
	if errors.Is(result, ErrClosed) && mgr != nil {
		mgr.Disconnect()
	}
	return result
}

// Logout disconnects and discards the session's state, including queued
// outbound frames. Safe in any state.
func (s *Session) Logout() error {
	return s.call(func() error {
		s.logout()
		return nil
	})
}

// SendMessage queues content for recipient and returns the stored message in
// state Pending. Delivery progress shows up in later snapshots.
func (s *Session) SendMessage(recipient, content string) (chat.Message, error) {
	var sent chat.Message
	err := s.call(func() error {
		if s.state != Connected {
			return fmt.Errorf("%w: session is %s", chat.ErrNotConnected, s.state)
		}
		to, err := chat.ParseIdentity(recipient)
		if err != nil {
			return fmt.Errorf("%w: recipient is required", chat.ErrValidation)
		}
		if strings.TrimSpace(content) == "" {
			return fmt.Errorf("%w: message is empty", chat.ErrValidation)
		}
		if s.conn == nil {
			return fmt.Errorf("%w: reconnecting", chat.ErrNotJoined)
		}

		msg := chat.Message{
			ID:            uuid.NewString(),
			Sender:        s.identity,
			Recipient:     to,
			Content:       content,
			SentAt:        s.clock.Now(),
			DeliveryState: chat.Pending,
		}
		frame := protocol.Message{
			ID:        msg.ID,
			User:      string(msg.Sender),
			Recipient: string(msg.Recipient),
			Message:   msg.Content,
		}
		if err := s.conn.Send(frame); err != nil {
			return err
		}
		s.store.Append(msg)
		s.receipts.Track(msg)
		s.publish()
		sent = msg
		return nil
	})
	return sent, err
}

// StartTyping tells peers the user is typing, at most once per debounce window.
func (s *Session) StartTyping() error {
	return s.call(func() error {
		if s.state != Connected {
			return fmt.Errorf("%w: session is %s", chat.ErrNotConnected, s.state)
		}
		if s.conn == nil {
			return fmt.Errorf("%w: reconnecting", chat.ErrNotJoined)
		}
		if !s.typing.NotifyLocalTyping() {
			return nil
		}
		return s.conn.Send(protocol.Typing{User: string(s.identity)})
	})
}

// Snapshot returns the current state. After Close it returns a LoggedOut
// snapshot.
func (s *Session) Snapshot() Snapshot {
	var snap Snapshot
	if err := s.call(func() error {
		snap = s.snapshot()
		return nil
	}); err != nil {
		return Snapshot{State: LoggedOut}
	}
	return snap
}

// Subscribe returns a channel that receives a snapshot after every change,
// starting with the current one. Only the latest snapshot is buffered.
func (s *Session) Subscribe() <-chan Snapshot {
	ch := make(chan Snapshot, 1)
	if err := s.call(func() error {
		if s.subs == nil {
			return ErrClosed
		}
		s.subs[ch] = struct{}{}
		deliver(ch, s.snapshot())
		return nil
	}); err != nil {
		close(ch)
	}
	return ch
}

// Unsubscribe stops and closes a channel returned by Subscribe.
func (s *Session) Unsubscribe(ch <-chan Snapshot) {
	_ = s.call(func() error {
		for sub := range s.subs {
			if sub == ch {
				delete(s.subs, sub)
				close(sub)
			}
		}
		return nil
	})
}

// Close logs out and stops the session. Subscriptions are closed.
func (s *Session) Close() error {
	select {
	case <-s.closed:
		return nil
	default:
	}
	err := s.call(func() error {
		select {
		case <-s.closed:
			return nil
		default:
		}
		s.logout()
		for sub := range s.subs {
			close(sub)
		}
		s.subs = nil
		close(s.closed)
		close(s.done)
		return nil
	})
	<-s.stopped
	if errors.Is(err, ErrClosed) {
		return nil
	}
	return err
}

// attach makes mgr the live connection and starts forwarding its events.
func (s *Session) attach(mgr *client.Manager) {
	s.conn = mgr
	s.pending = nil
	s.presence = chat.NewPresenceTracker()
	s.typing = chat.NewTypingCoordinator(s.clock, s.debounce, s.timeout)
	s.receipts = chat.NewReceiptCorrelator(s.store)
	go s.forward(s.gen, mgr)
}

func (s *Session) forward(gen uint64, mgr *client.Manager) {
	var cause error
	for ev := range mgr.Events() {
		if sc, ok := ev.(client.StateChanged); ok && sc.State == client.Disconnected {
			cause = sc.Err
		}
		if !s.post(func() { s.handleEvent(gen, ev) }) {
			return
		}
	}
	s.post(func() { s.handleClosed(gen, cause) })
}

func (s *Session) handleEvent(gen uint64, ev client.Event) {
	if gen != s.gen || s.conn == nil {
		return
	}
	switch ev := ev.(type) {
	case client.StateChanged:
		s.publish()
	case client.FrameReceived:
		s.handleFrame(ev.Frame)
	case client.FrameSent:
		if m, ok := ev.Frame.(protocol.Message); ok && s.receipts.MarkSent(m.ID) {
			s.publish()
		}
	}
}

func (s *Session) handleFrame(frame protocol.Frame) {
	switch f := frame.(type) {
	case protocol.Message:
		s.receiveMessage(f)
	case protocol.Typing:
		from := chat.Identity(f.User)
		if from == s.identity {
			return
		}
		s.typing.ApplyRemoteTyping(from)
		s.scheduleTypingExpiry(from)
		s.publish()
	case protocol.OnlineUsers:
		ids := make([]chat.Identity, len(f.Users))
		for i, u := range f.Users {
			ids[i] = chat.Identity(u)
		}
		s.presence.ApplyRosterSnapshot(ids)
		s.publish()
	case protocol.ReadReceipt:
		if chat.Identity(f.Sender) != s.identity {
			log.Debugf("ignoring receipt for messages sent by %s", f.Sender)
			return
		}
		if _, ok := s.receipts.OnReceiptReceived(chat.Identity(f.User), f.ID); ok {
			s.publish()
		}
	default:
		log.Debugf("ignoring inbound %s frame", frame.Type())
	}
}

func (s *Session) receiveMessage(f protocol.Message) {
	if chat.Identity(f.Recipient) != s.identity {
		log.Warnf("discarding message from %s addressed to %s", f.User, f.Recipient)
		return
	}
	msg := chat.Message{
		ID:            f.ID,
		Sender:        chat.Identity(f.User),
		Recipient:     s.identity,
		Content:       f.Message,
		SentAt:        s.clock.Now(),
		DeliveryState: chat.Delivered,
	}
	s.typing.ClearRemote(msg.Sender)
	if !s.store.Append(msg) {
		log.Debugf("duplicate message %s from %s", msg.ID, msg.Sender)
		s.publish()
		return
	}
	if receipt, ok := s.receipts.Acknowledge(msg); ok {
		if err := s.conn.Send(receipt); err != nil {
			log.Warnf("read receipt for %s not sent: %v", msg.ID, err)
		}
	}
	s.publish()
}

// scheduleTypingExpiry clears from's signal once it lapses so subscribers see
// it disappear without polling. Expire ignores signals refreshed in between.
func (s *Session) scheduleTypingExpiry(from chat.Identity) {
	gen := s.gen
	s.clock.AfterFunc(s.typing.Timeout(), func() {
		s.post(func() {
			if gen == s.gen && s.typing != nil && s.typing.Expire(from) {
				s.publish()
			}
		})
	})
}

// handleClosed runs after a connection's event stream ends without Logout.
func (s *Session) handleClosed(gen uint64, cause error) {
	if gen != s.gen || s.state != Connected || s.conn == nil {
		return
	}
	log.Warnf("connection lost: %v", cause)
	s.dropConnection()
	s.retryOrEnd(cause)
}

func (s *Session) retryOrEnd(cause error) {
	delay, ok := s.policy.NextDelay(s.attempt+1, cause)
	if !ok {
		s.endSession()
		return
	}
	s.attempt++
	log.Infof("reconnecting in %s (attempt %d)", delay, s.attempt)
	gen := s.gen
	s.retry = s.clock.AfterFunc(delay, func() {
		s.post(func() { s.reconnect(gen) })
	})
	s.publish()
}

func (s *Session) reconnect(gen uint64) {
	if gen != s.gen || s.state != Connected {
		return
	}
	s.retry = nil
	mgr := client.New(s.dialer, s.managerOpts...)
	ctx, cancel := context.WithCancel(context.Background())
	s.pending = mgr
	s.retryCancel = cancel
	identity := s.identity
	go func() {
		err := mgr.Connect(ctx, identity)
		if !s.post(func() { s.reconnected(gen, mgr, err) }) {
			mgr.Disconnect()
		}
	}()
	s.publish()
}

func (s *Session) reconnected(gen uint64, mgr *client.Manager, err error) {
	if s.retryCancel != nil {
		s.retryCancel()
		s.retryCancel = nil
	}
	if gen != s.gen || s.state != Connected {
		mgr.Disconnect()
		return
	}
	s.pending = nil
	if err != nil {
		log.Warnf("reconnect attempt %d failed: %v", s.attempt, err)
		s.retryOrEnd(err)
		return
	}
	s.attempt = 0
	s.gen++
	s.attach(mgr)
	log.Infof("reconnected as %s", s.identity)
	s.publish()
}

func (s *Session) logout() {
	if s.state == LoggedOut {
		return
	}
	s.gen++
	if s.loginCancel != nil {
		s.loginCancel()
		s.loginCancel = nil
	}
	if s.conn != nil {
		s.conn.Disconnect()
	}
	s.dropConnection()
	s.endSession()
}

// dropConnection discards everything scoped to one connection. The message
// store is kept.
func (s *Session) dropConnection() {
	s.conn = nil
	s.presence = nil
	s.typing = nil
	s.receipts = nil
}

func (s *Session) endSession() {
	if s.retry != nil {
		s.retry.Stop()
		s.retry = nil
	}
	if s.retryCancel != nil {
		s.retryCancel()
		s.retryCancel = nil
	}
	s.pending = nil
	s.attempt = 0
	s.state = LoggedOut
	s.identity = ""
	s.store = nil
	s.publish()
}

func (s *Session) snapshot() Snapshot {
	snap := Snapshot{
		State:            s.state,
		ConnectionState:  client.Disconnected,
		Identity:         s.identity,
		Messages:         map[chat.Identity][]chat.Message{},
		ReconnectAttempt: s.attempt,
	}
	switch {
	case s.conn != nil:
		snap.ConnectionState = s.conn.State()
	case s.pending != nil:
		snap.ConnectionState = s.pending.State()
	}
	if s.store != nil {
		snap.Messages = s.store.All()
	}
	if s.typing != nil {
		snap.TypingPeers = s.typing.TypingPeers()
	}
	if s.presence != nil {
		snap.OnlineUsers = s.presence.Online()
	}
	return snap
}

func (s *Session) publish() {
	if len(s.subs) == 0 {
		return
	}
	snap := s.snapshot()
	for ch := range s.subs {
		deliver(ch, snap)
	}
}

// deliver replaces any unread snapshot in ch with snap.
func deliver(ch chan Snapshot, snap Snapshot) {
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- snap:
	default:
	}
}
