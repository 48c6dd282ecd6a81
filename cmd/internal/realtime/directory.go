package realtime

import (
	"sync"
	"time"
)

// Session is one live websocket binding: connection id to authenticated
// identity, plus the room the connection currently occupies.
type Session struct {
	ConnID        string
	Identity      string
	RoomID        string
	LastHeartbeat time.Time

	// seq orders bindings for the same identity; wall clocks can collide.
	seq uint64
}

// Directory is the authoritative in-memory map of live sessions.
//
// All methods are safe for concurrent use. Sessions are returned by value so
// callers never share mutable state with the directory.
type Directory struct {
	mu      sync.Mutex
	byConn  map[string]*Session
	lastSeq uint64
}

// NewDirectory returns an empty session directory.
func NewDirectory() *Directory {
	return &Directory{byConn: make(map[string]*Session)}
}

// Bind records a new authenticated connection. Binding an already bound
// connection id overwrites the previous entry.
func (d *Directory) Bind(connID, identity string, now time.Time) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.lastSeq++
	d.byConn[connID] = &Session{
		ConnID:        connID,
		Identity:      identity,
		LastHeartbeat: now,
		seq:           d.lastSeq,
	}
}

// SetRoom moves the connection's room binding. It reports false when the
// connection is not bound.
func (d *Directory) SetRoom(connID, roomID string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	s, ok := d.byConn[connID]
	if !ok {
		return false
	}
	s.RoomID = roomID
	return true
}

// Touch updates the heartbeat timestamp for a bound connection.
func (d *Directory) Touch(connID string, now time.Time) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	s, ok := d.byConn[connID]
	if !ok {
		return false
	}
	s.LastHeartbeat = now
	return true
}

// Lookup returns a copy of the session bound to connID.
func (d *Directory) Lookup(connID string) (Session, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	s, ok := d.byConn[connID]
	if !ok {
		return Session{}, false
	}
	return *s, true
}

// Unbind removes the binding for connID and returns what it was.
//
// A connection whose binding was already stolen by Reconcile reports false,
// so a stale teardown never strips state owned by the newer connection.
func (d *Directory) Unbind(connID string) (Session, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	s, ok := d.byConn[connID]
	if !ok {
		return Session{}, false
	}
	delete(d.byConn, connID)
	return *s, true
}

// FindByIdentity returns the newest session for identity, skipping
// excludeConnID. Newest means highest bind sequence, not heartbeat time.
func (d *Directory) FindByIdentity(identity, excludeConnID string) (Session, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	var best *Session
	for _, s := range d.byConn {
		if s.Identity != identity || s.ConnID == excludeConnID {
			continue
		}
		if best == nil || s.seq > best.seq {
			best = s
		}
	}
	if best == nil {
		return Session{}, false
	}
	return *best, true
}

// Reconcile binds newConnID for identity, taking over the room of the most
// recent previous session for the same identity. The old binding is removed
// here so the old connection's teardown cannot disturb the new session.
//
// It returns the inherited room id (may be empty) and the displaced
// connection id, with ok=false when there was no previous session.
func (d *Directory) Reconcile(newConnID, identity string, now time.Time) (roomID, oldConnID string, ok bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	var prev *Session
	for _, s := range d.byConn {
		if s.Identity != identity || s.ConnID == newConnID {
			continue
		}
		if prev == nil || s.seq > prev.seq {
			prev = s
		}
	}

	d.lastSeq++
	next := &Session{
		ConnID:        newConnID,
		Identity:      identity,
		LastHeartbeat: now,
		seq:           d.lastSeq,
	}
	if prev != nil {
		next.RoomID = prev.RoomID
		delete(d.byConn, prev.ConnID)
		roomID, oldConnID, ok = prev.RoomID, prev.ConnID, true
	}
	d.byConn[newConnID] = next
	return roomID, oldConnID, ok
}

// RoomConnections returns the connection ids currently bound to roomID.
func (d *Directory) RoomConnections(roomID string) []string {
	d.mu.Lock()
	defer d.mu.Unlock()

	var out []string
	for _, s := range d.byConn {
		if s.RoomID == roomID {
			out = append(out, s.ConnID)
		}
	}
	return out
}

// Count reports the number of bound sessions.
func (d *Directory) Count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.byConn)
}
