package chat

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func newTestRegistry(t *testing.T) (*Registry, string) {
	t.Helper()
	dir := t.TempDir()
	reg, err := NewRegistry(dir, testLogger())
	if err != nil {
		t.Fatalf("new registry: %v", err)
	}
	return reg, dir
}

func TestRegistryDefaultRoom(t *testing.T) {
	t.Parallel()

	reg, _ := newTestRegistry(t)

	room, ok := reg.Get(DefaultRoomID)
	if !ok {
		t.Fatal("default room missing after startup")
	}
	if room.Name != "大厅" {
		t.Fatalf("default room name=%q, want 大厅", room.Name)
	}
	if got := reg.DefaultRoom(); got != room {
		t.Fatal("DefaultRoom returned a different room")
	}
}

func TestRegistryCreate(t *testing.T) {
	t.Parallel()

	reg, _ := newTestRegistry(t)

	cases := []struct {
		name    string
		roomID  string
		wantErr error
	}{
		{name: "ok", roomID: "dev-talk"},
		{name: "duplicate", roomID: "general", wantErr: ErrRoomExists},
		{name: "empty id", roomID: "", wantErr: ErrInvalidRoomID},
		{name: "path unsafe id", roomID: "../evil", wantErr: ErrInvalidRoomID},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			_, err := reg.Create(tc.roomID, "name")
			if tc.wantErr == nil {
				if err != nil {
					t.Fatalf("create(%q): %v", tc.roomID, err)
				}
				return
			}
			if !errors.Is(err, tc.wantErr) {
				t.Fatalf("create(%q) err=%v, want %v", tc.roomID, err, tc.wantErr)
			}
		})
	}
}

func TestRegistryPersistsMetadata(t *testing.T) {
	t.Parallel()

	reg, dir := newTestRegistry(t)
	if _, err := reg.Create("dev", "Developers"); err != nil {
		t.Fatalf("create: %v", err)
	}

	// A second registry over the same dir sees both rooms.
	reg2, err := NewRegistry(dir, testLogger())
	if err != nil {
		t.Fatalf("reopen registry: %v", err)
	}
	rooms := reg2.List()
	if len(rooms) != 2 {
		t.Fatalf("got %d rooms, want 2", len(rooms))
	}
	if rooms[0].ID != "dev" || rooms[1].ID != "general" {
		t.Fatalf("rooms=%v,%v want dev,general", rooms[0].ID, rooms[1].ID)
	}
	if rooms[0].Name != "Developers" {
		t.Fatalf("room name=%q, want Developers", rooms[0].Name)
	}
}

func TestRegistryDeleteDiscardsLog(t *testing.T) {
	t.Parallel()

	reg, dir := newTestRegistry(t)
	room, err := reg.Create("doomed", "Doomed")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := room.Log().Append("u1", "bye", time.Now()); err != nil {
		t.Fatalf("append: %v", err)
	}

	logPath := filepath.Join(dir, "messages_doomed.log")
	if _, err := os.Stat(logPath); err != nil {
		t.Fatalf("log file missing before delete: %v", err)
	}

	if !reg.Delete("doomed") {
		t.Fatal("delete returned false for existing room")
	}
	if _, ok := reg.Get("doomed"); ok {
		t.Fatal("room still resolvable after delete")
	}
	if _, err := os.Stat(logPath); !os.IsNotExist(err) {
		t.Fatalf("log file still present after delete: %v", err)
	}

	if reg.Delete("doomed") {
		t.Fatal("delete returned true for absent room")
	}
}

func TestRegistryToleratesCorruptMetadata(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, configFileName), []byte("{not json"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	// Corrupt metadata must not lose message logs or fail startup.
	reg, err := NewRegistry(dir, testLogger())
	if err != nil {
		t.Fatalf("new registry: %v", err)
	}
	if _, ok := reg.Get(DefaultRoomID); !ok {
		t.Fatal("default room missing after corrupt metadata recovery")
	}
}

func TestRoomSummary(t *testing.T) {
	t.Parallel()

	reg, _ := newTestRegistry(t)
	room, _ := reg.Get(DefaultRoomID)

	room.Presence().Add("u1")
	if _, err := room.Log().Append("u1", "hi", time.Now()); err != nil {
		t.Fatalf("append: %v", err)
	}

	s := room.Summary()
	if s.RoomID != DefaultRoomID || s.UserCount != 1 || s.MessageCount != 1 {
		t.Fatalf("unexpected summary: %+v", s)
	}
	if len(s.ActiveUsers) != 1 || s.ActiveUsers[0] != "u1" {
		t.Fatalf("active_users=%v, want [u1]", s.ActiveUsers)
	}
}
