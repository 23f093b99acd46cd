package chat

import "sort"

// PresenceTracker holds the relay's latest roster snapshot. Each snapshot
// replaces the previous one wholesale.
type PresenceTracker struct {
	online map[Identity]struct{}
}

// NewPresenceTracker creates a tracker with an empty roster.
func NewPresenceTracker() *PresenceTracker {
	return &PresenceTracker{online: make(map[Identity]struct{})}
}

// ApplyRosterSnapshot replaces the roster with ids.
func (p *PresenceTracker) ApplyRosterSnapshot(ids []Identity) {
	online := make(map[Identity]struct{}, len(ids))
	for _, id := range ids {
		if id != "" {
			online[id] = struct{}{}
		}
	}
	p.online = online
}

// IsOnline reports whether id was in the most recent snapshot.
func (p *PresenceTracker) IsOnline(id Identity) bool {
	_, ok := p.online[id]
	return ok
}

// Online returns the current roster, sorted.
func (p *PresenceTracker) Online() []Identity {
	ids := make([]Identity, 0, len(p.online))
	for id := range p.online {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
