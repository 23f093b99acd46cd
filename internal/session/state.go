package session

import (
	"errors"
	"time"

	"github.com/omochice/toy-private-chat/internal/chat"
	"github.com/omochice/toy-private-chat/internal/client"
)

var (
	// ErrAlreadyLoggedIn is returned by Login outside LoggedOut.
	ErrAlreadyLoggedIn = errors.New("session already logged in")
	// ErrLoginCancelled is returned by a Login interrupted by Logout.
	ErrLoginCancelled = errors.New("login cancelled")
	// ErrClosed is returned by intents issued after Close.
	ErrClosed = errors.New("session closed")
)

// State is the top-level session state.
type State int

const (
	LoggedOut State = iota
	Authenticating
	Connected
)

// String returns the string representation of State
func (s State) String() string {
	switch s {
	case LoggedOut:
		return "LOGGED_OUT"
	case Authenticating:
		return "AUTHENTICATING"
	case Connected:
		return "CONNECTED"
	default:
		return "UNKNOWN"
	}
}

// Snapshot is an immutable view of the session for presentation layers.
type Snapshot struct {
	State           State
	ConnectionState client.State
	Identity        chat.Identity
	Messages        map[chat.Identity][]chat.Message
	TypingPeers     []chat.Identity
	OnlineUsers     []chat.Identity

	// ReconnectAttempt is non-zero while a reconnect is scheduled or dialing.
	ReconnectAttempt int
}

// ConversationWith returns the messages exchanged with peer, oldest first.
func (s Snapshot) ConversationWith(peer chat.Identity) []chat.Message {
	return s.Messages[peer]
}

// IsOnline reports whether id was in the latest roster.
func (s Snapshot) IsOnline(id chat.Identity) bool {
	for _, u := range s.OnlineUsers {
		if u == id {
			return true
		}
	}
	return false
}

// IsTyping reports whether peer has an active typing signal.
func (s Snapshot) IsTyping(peer chat.Identity) bool {
	for _, p := range s.TypingPeers {
		if p == peer {
			return true
		}
	}
	return false
}

// ReconnectPolicy decides whether a session survives a lost connection.
// attempt starts at 1 for the first retry after a drop.
type ReconnectPolicy interface {
	NextDelay(attempt int, cause error) (time.Duration, bool)
}

// NoReconnect ends the session on the first lost connection.
type NoReconnect struct{}

// NextDelay implements ReconnectPolicy.
func (NoReconnect) NextDelay(int, error) (time.Duration, bool) {
	return 0, false
}

// Backoff retries with a delay that doubles from Initial up to Max. A
// MaxAttempts of zero retries forever.
type Backoff struct {
	Initial     time.Duration
	Max         time.Duration
	MaxAttempts int
}

// NextDelay implements ReconnectPolicy.
func (b Backoff) NextDelay(attempt int, _ error) (time.Duration, bool) {
	if b.MaxAttempts > 0 && attempt > b.MaxAttempts {
		return 0, false
	}
	d := b.Initial
	if d <= 0 {
		d = time.Second
	}
	for i := 1; i < attempt; i++ {
		d *= 2
		if b.Max > 0 && d >= b.Max {
			break
		}
	}
	if b.Max > 0 && d > b.Max {
		d = b.Max
	}
	return d, true
}
