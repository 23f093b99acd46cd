package chat

import (
	"sort"
	"time"

	"github.com/benbjohnson/clock"
)

const (
	// DefaultTypingDebounce is the minimum interval between outbound typing frames.
	DefaultTypingDebounce = 2 * time.Second
	// DefaultTypingTimeout is how long a remote typing signal stays visible.
	DefaultTypingTimeout = 3 * time.Second
)

// TypingCoordinator debounces local typing notifications and expires remote
// typing signals. Expiry is lazy: a signal is active only while now < expiresAt,
// whether or not anyone calls Expire.
type TypingCoordinator struct {
	clock    clock.Clock
	debounce time.Duration
	timeout  time.Duration
	lastSent time.Time
	remote   map[Identity]time.Time
}

// NewTypingCoordinator creates a coordinator. Zero durations select the defaults.
func NewTypingCoordinator(clk clock.Clock, debounce, timeout time.Duration) *TypingCoordinator {
	if clk == nil {
		clk = clock.New()
	}
	if debounce <= 0 {
		debounce = DefaultTypingDebounce
	}
	if timeout <= 0 {
		timeout = DefaultTypingTimeout
	}
	return &TypingCoordinator{
		clock:    clk,
		debounce: debounce,
		timeout:  timeout,
		remote:   make(map[Identity]time.Time),
	}
}

// Timeout returns the remote signal lifetime.
func (t *TypingCoordinator) Timeout() time.Duration {
	return t.timeout
}

// NotifyLocalTyping reports whether an outbound typing frame should be sent
// now. It returns true at most once per debounce window.
func (t *TypingCoordinator) NotifyLocalTyping() bool {
	now := t.clock.Now()
	if !t.lastSent.IsZero() && now.Sub(t.lastSent) < t.debounce {
		return false
	}
	t.lastSent = now
	return true
}

// ApplyRemoteTyping records a fresh signal from peer and returns its expiry.
// A newer signal supersedes the previous one.
func (t *TypingCoordinator) ApplyRemoteTyping(from Identity) time.Time {
	expiresAt := t.clock.Now().Add(t.timeout)
	t.remote[from] = expiresAt
	return expiresAt
}

// IsTyping reports whether from has a signal that has not yet expired.
func (t *TypingCoordinator) IsTyping(from Identity) bool {
	expiresAt, ok := t.remote[from]
	return ok && t.clock.Now().Before(expiresAt)
}

// ClearRemote drops any signal from peer, e.g. when a real message arrives.
func (t *TypingCoordinator) ClearRemote(from Identity) {
	delete(t.remote, from)
}

// Expire removes the signal from peer if it has elapsed. It reports whether a
// signal was removed and is safe to call any number of times.
func (t *TypingCoordinator) Expire(from Identity) bool {
	expiresAt, ok := t.remote[from]
	if !ok || t.clock.Now().Before(expiresAt) {
		return false
	}
	delete(t.remote, from)
	return true
}

// TypingPeers returns the peers with active signals, sorted.
func (t *TypingCoordinator) TypingPeers() []Identity {
	now := t.clock.Now()
	peers := make([]Identity, 0, len(t.remote))
	for id, expiresAt := range t.remote {
		if now.Before(expiresAt) {
			peers = append(peers, id)
		}
	}
	sort.Slice(peers, func(i, j int) bool { return peers[i] < peers[j] })
	return peers
}
