package relay

import (
	"sort"
	"sync"

	"github.com/omochice/toy-private-chat/pkg/protocol"
)

// peer is one joined connection.
type peer struct {
	name string
	send chan []byte
}

// Hub tracks joined peers by name and routes frames between them.
// A later join under the same name replaces the earlier connection.
type Hub struct {
	peers map[string]*peer
	mu    sync.RWMutex
}

// NewHub creates a new Hub.
func NewHub() *Hub {
	return &Hub{
		peers: make(map[string]*peer),
	}
}

// Register adds p and announces the new roster.
func (h *Hub) Register(p *peer) {
	h.mu.Lock()
	if old, ok := h.peers[p.name]; ok {
		log.Infof("%s joined again, closing previous connection", p.name)
		close(old.send)
	}
	h.peers[p.name] = p
	h.mu.Unlock()

	h.broadcastRoster()
}

// Unregister removes p if it is still the current connection for its name.
func (h *Hub) Unregister(p *peer) {
	h.mu.Lock()
	current, ok := h.peers[p.name]
	if !ok || current != p {
		h.mu.Unlock()
		return
	}
	delete(h.peers, p.name)
	close(p.send)
	h.mu.Unlock()

	h.broadcastRoster()
}

// ClientCount returns number of joined peers.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.peers)
}

// Online returns the joined names, sorted.
func (h *Hub) Online() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.online()
}

// Route forwards a frame received from sender.
func (h *Hub) Route(sender *peer, frame protocol.Frame) {
	switch f := frame.(type) {
	case protocol.Message:
		if f.User != sender.name {
			log.Warnf("%s tried to send as %s", sender.name, f.User)
			return
		}
		h.sendTo(f.Recipient, f)
	case protocol.ReadReceipt:
		if f.User != sender.name {
			log.Warnf("%s tried to acknowledge as %s", sender.name, f.User)
			return
		}
		h.sendTo(f.Sender, f)
	case protocol.Typing:
		if f.User != sender.name {
			return
		}
		h.broadcast(f, sender.name)
	default:
		log.Debugf("ignoring %s frame from %s", frame.Type(), sender.name)
	}
}

func (h *Hub) sendTo(name string, frame protocol.Frame) {
	data, err := protocol.Encode(frame)
	if err != nil {
		log.Errorf("encode %s: %v", frame.Type(), err)
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	p, ok := h.peers[name]
	if !ok {
		log.Debugf("dropping %s for offline %s", frame.Type(), name)
		return
	}
	deliver(p, data)
}

func (h *Hub) broadcast(frame protocol.Frame, except string) {
	data, err := protocol.Encode(frame)
	if err != nil {
		log.Errorf("encode %s: %v", frame.Type(), err)
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for name, p := range h.peers {
		if name != except {
			deliver(p, data)
		}
	}
}

func (h *Hub) broadcastRoster() {
	h.mu.RLock()
	users := h.online()
	h.mu.RUnlock()
	h.broadcast(protocol.OnlineUsers{Users: users}, "")
}

func (h *Hub) online() []string {
	names := make([]string, 0, len(h.peers))
	for name := range h.peers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// deliver queues data for p. Callers hold the hub lock, so p.send is open.
func deliver(p *peer, data []byte) {
	select {
	case p.send <- data:
	default:
		log.Warnf("send buffer full for %s, dropping frame", p.name)
	}
}
