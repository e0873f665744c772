package dormie

import "sync"

// PresenceSet tracks which user ids currently have an active realtime
// connection. Nothing is persisted: the set is rebuilt empty on every
// reconnect and refills as fresh userStatus events arrive.
type PresenceSet struct {
	mu     sync.Mutex
	online map[string]struct{}
}

func NewPresenceSet() *PresenceSet {
	return &PresenceSet{online: make(map[string]struct{})}
}

// HandleUserStatus applies a presence change event.
func (p *PresenceSet) HandleUserStatus(ev UserStatusPayload) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if ev.Status == "online" {
		p.online[ev.UserID] = struct{}{}
	} else {
		delete(p.online, ev.UserID)
	}
}

// Reset empties the set; called when a new transport is established.
func (p *PresenceSet) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.online = make(map[string]struct{})
}

// IsOnline reports whether the user is currently known to be online.
func (p *PresenceSet) IsOnline(userID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.online[userID]
	return ok
}

// Online returns the ids currently known online.
func (p *PresenceSet) Online() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.online))
	for id := range p.online {
		out = append(out, id)
	}
	return out
}
