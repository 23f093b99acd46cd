package chat

import "sort"

// MessageStore is the ordered, per-peer log of messages exchanged by one owner.
// Order is arrival/send order, never the sender's timestamp.
//
// MessageStore is not safe for concurrent use; the session's event loop is its
// only writer.
type MessageStore struct {
	owner         Identity
	conversations map[Identity][]Message
	index         map[string]position
}

type position struct {
	peer Identity
	at   int
}

// NewMessageStore creates an empty store for owner.
func NewMessageStore(owner Identity) *MessageStore {
	return &MessageStore{
		owner:         owner,
		conversations: make(map[Identity][]Message),
		index:         make(map[string]position),
	}
}

// Owner returns the identity whose conversations are stored.
func (s *MessageStore) Owner() Identity {
	return s.owner
}

// Append adds msg to the conversation with its peer. It reports false and
// leaves the store untouched when a message with the same id already exists.
// Messages without an id are always appended.
func (s *MessageStore) Append(msg Message) bool {
	if msg.ID != "" {
		if _, ok := s.index[msg.ID]; ok {
			return false
		}
	}
	peer := msg.Peer(s.owner)
	s.conversations[peer] = append(s.conversations[peer], msg)
	if msg.ID != "" {
		s.index[msg.ID] = position{peer: peer, at: len(s.conversations[peer]) - 1}
	}
	return true
}

// ConversationWith returns a copy of the conversation with peer, oldest first.
func (s *MessageStore) ConversationWith(peer Identity) []Message {
	conv := s.conversations[peer]
	out := make([]Message, len(conv))
	copy(out, conv)
	return out
}

// Get looks a message up by id.
func (s *MessageStore) Get(id string) (Message, bool) {
	pos, ok := s.index[id]
	if !ok {
		return Message{}, false
	}
	return s.conversations[pos.peer][pos.at], true
}

// UpdateDeliveryState advances the message with id to state. It is a no-op,
// reporting false, for unknown ids and for states that do not move forward.
func (s *MessageStore) UpdateDeliveryState(id string, state DeliveryState) bool {
	pos, ok := s.index[id]
	if !ok {
		return false
	}
	msg := &s.conversations[pos.peer][pos.at]
	if state <= msg.DeliveryState {
		return false
	}
	msg.DeliveryState = state
	return true
}

// Peers returns every identity with at least one message, sorted.
func (s *MessageStore) Peers() []Identity {
	peers := make([]Identity, 0, len(s.conversations))
	for p := range s.conversations {
		peers = append(peers, p)
	}
	sort.Slice(peers, func(i, j int) bool { return peers[i] < peers[j] })
	return peers
}

// All returns a copy of every conversation keyed by peer.
func (s *MessageStore) All() map[Identity][]Message {
	out := make(map[Identity][]Message, len(s.conversations))
	for p := range s.conversations {
		out[p] = s.ConversationWith(p)
	}
	return out
}
