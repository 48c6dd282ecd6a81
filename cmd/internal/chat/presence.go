package chat

import (
	"sort"
	"sync"
)

// PresenceSet is the live set of identities currently joined to a room.
//
// It is never persisted: active presence is a property of live connections
// only, and is rebuilt from zero on restart. Add and Remove are idempotent.
type PresenceSet struct {
	mu      sync.Mutex
	members map[string]struct{}
}

// NewPresenceSet constructs an empty PresenceSet.
func NewPresenceSet() *PresenceSet {
	return &PresenceSet{members: make(map[string]struct{})}
}

// Add marks identity as present. Adding an identity twice is a no-op.
func (p *PresenceSet) Add(identity string) {
	if identity == "" {
		return
	}
	p.mu.Lock()
	p.members[identity] = struct{}{}
	p.mu.Unlock()
}

// Remove clears identity's presence. Removing an absent identity is a no-op.
func (p *PresenceSet) Remove(identity string) {
	p.mu.Lock()
	delete(p.members, identity)
	p.mu.Unlock()
}

// Members returns a sorted copy of the present identities.
func (p *PresenceSet) Members() []string {
	p.mu.Lock()
	out := make([]string, 0, len(p.members))
	for m := range p.members {
		out = append(out, m)
	}
	p.mu.Unlock()

	sort.Strings(out)
	return out
}

// Count returns the number of present identities.
func (p *PresenceSet) Count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.members)
}
