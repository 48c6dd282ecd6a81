package realtime

import (
	"testing"
	"time"
)

func TestDirectoryBindLookupUnbind(t *testing.T) {
	t.Parallel()

	d := NewDirectory()
	now := time.Now()

	d.Bind("c1", "alice", now)
	s, ok := d.Lookup("c1")
	if !ok || s.Identity != "alice" || s.RoomID != "" {
		t.Fatalf("lookup: ok=%v session=%+v", ok, s)
	}

	if !d.SetRoom("c1", "general") {
		t.Fatal("SetRoom failed for bound conn")
	}
	s, _ = d.Lookup("c1")
	if s.RoomID != "general" {
		t.Fatalf("RoomID=%q, want general", s.RoomID)
	}

	old, ok := d.Unbind("c1")
	if !ok || old.RoomID != "general" {
		t.Fatalf("unbind: ok=%v session=%+v", ok, old)
	}
	if _, ok := d.Lookup("c1"); ok {
		t.Fatal("session survived unbind")
	}
	if _, ok := d.Unbind("c1"); ok {
		t.Fatal("second unbind reported a binding")
	}
}

func TestDirectoryTouch(t *testing.T) {
	t.Parallel()

	d := NewDirectory()
	t0 := time.Now()
	d.Bind("c1", "alice", t0)

	t1 := t0.Add(30 * time.Second)
	if !d.Touch("c1", t1) {
		t.Fatal("touch failed for bound conn")
	}
	s, _ := d.Lookup("c1")
	if !s.LastHeartbeat.Equal(t1) {
		t.Fatalf("LastHeartbeat=%v, want %v", s.LastHeartbeat, t1)
	}

	if d.Touch("ghost", t1) {
		t.Fatal("touch succeeded for unknown conn")
	}
}

func TestDirectoryReconcileInheritsRoom(t *testing.T) {
	t.Parallel()

	d := NewDirectory()
	now := time.Now()

	d.Bind("c1", "alice", now)
	d.SetRoom("c1", "ops")

	roomID, oldConn, ok := d.Reconcile("c2", "alice", now.Add(time.Second))
	if !ok || roomID != "ops" || oldConn != "c1" {
		t.Fatalf("reconcile: ok=%v room=%q old=%q", ok, roomID, oldConn)
	}

	s, ok := d.Lookup("c2")
	if !ok || s.RoomID != "ops" {
		t.Fatalf("new session: ok=%v %+v", ok, s)
	}
	if _, ok := d.Lookup("c1"); ok {
		t.Fatal("displaced binding still present")
	}
}

// The old connection's deferred teardown must not see a binding after the new
// connection has reconciled, otherwise it would strip the winner's presence.
func TestDirectoryStaleTeardownAfterReconcile(t *testing.T) {
	t.Parallel()

	d := NewDirectory()
	now := time.Now()

	d.Bind("c1", "alice", now)
	d.SetRoom("c1", "general")
	d.Reconcile("c2", "alice", now.Add(time.Second))

	if _, ok := d.Unbind("c1"); ok {
		t.Fatal("stale unbind found a binding after reconcile")
	}
	if s, ok := d.Lookup("c2"); !ok || s.RoomID != "general" {
		t.Fatalf("winner session: ok=%v %+v", ok, s)
	}
}

func TestDirectoryReconcileFreshIdentity(t *testing.T) {
	t.Parallel()

	d := NewDirectory()
	roomID, oldConn, ok := d.Reconcile("c1", "alice", time.Now())
	if ok || roomID != "" || oldConn != "" {
		t.Fatalf("reconcile fresh: ok=%v room=%q old=%q", ok, roomID, oldConn)
	}
	if _, ok := d.Lookup("c1"); !ok {
		t.Fatal("fresh reconcile did not bind")
	}
}

func TestDirectoryFindByIdentityPrefersNewest(t *testing.T) {
	t.Parallel()

	d := NewDirectory()
	now := time.Now()

	// Same wall-clock time on purpose: ordering comes from bind order.
	d.Bind("c1", "alice", now)
	d.Bind("c2", "alice", now)
	d.Bind("c3", "bob", now)

	s, ok := d.FindByIdentity("alice", "")
	if !ok || s.ConnID != "c2" {
		t.Fatalf("find: ok=%v conn=%q, want c2", ok, s.ConnID)
	}

	s, ok = d.FindByIdentity("alice", "c2")
	if !ok || s.ConnID != "c1" {
		t.Fatalf("find excluding c2: ok=%v conn=%q, want c1", ok, s.ConnID)
	}

	if _, ok := d.FindByIdentity("carol", ""); ok {
		t.Fatal("found session for unknown identity")
	}
}

func TestDirectoryRoomConnections(t *testing.T) {
	t.Parallel()

	d := NewDirectory()
	now := time.Now()

	d.Bind("c1", "alice", now)
	d.SetRoom("c1", "general")
	d.Bind("c2", "bob", now)
	d.SetRoom("c2", "general")
	d.Bind("c3", "carol", now)
	d.SetRoom("c3", "ops")
	d.Bind("c4", "dave", now) // authenticated, no room yet

	conns := d.RoomConnections("general")
	if len(conns) != 2 {
		t.Fatalf("general conns=%v, want 2", conns)
	}
	seen := map[string]bool{}
	for _, c := range conns {
		seen[c] = true
	}
	if !seen["c1"] || !seen["c2"] {
		t.Fatalf("general conns=%v, want c1 and c2", conns)
	}

	if got := d.RoomConnections("empty"); len(got) != 0 {
		t.Fatalf("empty room conns=%v", got)
	}
	if d.Count() != 4 {
		t.Fatalf("count=%d, want 4", d.Count())
	}
}
