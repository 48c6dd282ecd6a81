package chat

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"sync"
)

const (
	// DefaultRoomID is the room guaranteed to exist at startup.
	DefaultRoomID   = "general"
	defaultRoomName = "大厅"

	configFileName = "rooms_config.json"
)

var roomIDRe = regexp.MustCompile(`^[a-zA-Z0-9_-]{1,64}$`)

// Room is a named, independently logged chat channel.
// Rooms are owned exclusively by the Registry.
type Room struct {
	ID   string
	Name string

	log      *Log
	presence *PresenceSet
}

// Log returns the room's durable message log.
func (r *Room) Log() *Log { return r.log }

// Presence returns the room's live presence set.
func (r *Room) Presence() *PresenceSet { return r.presence }

// Summary is the API-facing view of a room.
type Summary struct {
	RoomID       string   `json:"room_id"`
	RoomName     string   `json:"room_name"`
	UserCount    int      `json:"user_count"`
	ActiveUsers  []string `json:"active_users"`
	MessageCount int64    `json:"message_count"`
}

// Summary builds the room's current summary. The message count is best-effort:
// an unreadable log reports zero rather than failing the listing.
func (r *Room) Summary() Summary {
	count, err := r.log.Count()
	if err != nil {
		count = 0
	}
	return Summary{
		RoomID:       r.ID,
		RoomName:     r.Name,
		UserCount:    r.presence.Count(),
		ActiveUsers:  r.presence.Members(),
		MessageCount: count,
	}
}

// Registry creates and looks up rooms, and owns one Log and one PresenceSet
// per room. Room metadata is persisted separately from message content, so a
// lost metadata file never loses message logs.
type Registry struct {
	dataDir string
	log     *slog.Logger

	mu    sync.Mutex
	rooms map[string]*Room
}

type roomConfig struct {
	RoomID   string `json:"room_id"`
	RoomName string `json:"room_name"`
}

type registryConfig struct {
	Rooms []roomConfig `json:"rooms"`
}

// NewRegistry loads persisted room metadata from dataDir and guarantees the
// default room exists. An unreadable metadata file is treated as "no rooms
// yet" so startup never fails on corrupt metadata.
func NewRegistry(dataDir string, logger *slog.Logger) (*Registry, error) {
	reg := &Registry{
		dataDir: dataDir,
		log:     logger,
		rooms:   make(map[string]*Room),
	}

	cfg, err := reg.loadConfig()
	if err != nil {
		logger.Warn("registry.config.unreadable", "path", reg.configPath(), "err", err)
		cfg = registryConfig{}
	}
	for _, rc := range cfg.Rooms {
		if !roomIDRe.MatchString(rc.RoomID) {
			logger.Warn("registry.config.skip_room", "room_id", rc.RoomID)
			continue
		}
		reg.rooms[rc.RoomID] = reg.newRoom(rc.RoomID, rc.RoomName)
	}

	if len(reg.rooms) == 0 {
		if _, err := reg.Create(DefaultRoomID, defaultRoomName); err != nil {
			return nil, fmt.Errorf("create default room: %w", err)
		}
		logger.Info("registry.default_room.created", "room_id", DefaultRoomID)
	}

	return reg, nil
}

func (g *Registry) newRoom(id, name string) *Room {
	return &Room{
		ID:       id,
		Name:     name,
		log:      NewLog(id, g.messagesPath(id), g.log),
		presence: NewPresenceSet(),
	}
}

// Create registers a new room and persists the updated metadata.
func (g *Registry) Create(roomID, roomName string) (*Room, error) {
	if !roomIDRe.MatchString(roomID) {
		return nil, ErrInvalidRoomID
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if _, ok := g.rooms[roomID]; ok {
		return nil, ErrRoomExists
	}

	room := g.newRoom(roomID, roomName)
	g.rooms[roomID] = room

	if err := g.saveConfigLocked(); err != nil {
		delete(g.rooms, roomID)
		return nil, err
	}
	return room, nil
}

// Get returns the room for roomID, or false if it does not exist.
func (g *Registry) Get(roomID string) (*Room, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()

	room, ok := g.rooms[roomID]
	return room, ok
}

// Find returns the room for roomID or ErrRoomNotFound.
func (g *Registry) Find(roomID string) (*Room, error) {
	if room, ok := g.Get(roomID); ok {
		return room, nil
	}
	return nil, ErrRoomNotFound
}

// List returns all rooms ordered by id.
func (g *Registry) List() []*Room {
	g.mu.Lock()
	out := make([]*Room, 0, len(g.rooms))
	for _, r := range g.rooms {
		out = append(out, r)
	}
	g.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Delete removes a room and discards its message log. It reports whether the
// room existed. This is an explicit admin operation.
func (g *Registry) Delete(roomID string) bool {
	g.mu.Lock()
	room, ok := g.rooms[roomID]
	if !ok {
		g.mu.Unlock()
		return false
	}
	delete(g.rooms, roomID)
	if err := g.saveConfigLocked(); err != nil {
		g.log.Error("registry.config.save_failed", "err", err)
	}
	g.mu.Unlock()

	if err := room.log.Remove(); err != nil {
		g.log.Warn("registry.delete.log_remove_failed", "room_id", roomID, "err", err)
	}
	return true
}

// DefaultRoom returns the default room, falling back to the first room by id,
// creating the default room if none exist at all.
func (g *Registry) DefaultRoom() *Room {
	g.mu.Lock()
	if room, ok := g.rooms[DefaultRoomID]; ok {
		g.mu.Unlock()
		return room
	}
	if len(g.rooms) > 0 {
		ids := make([]string, 0, len(g.rooms))
		for id := range g.rooms {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		room := g.rooms[ids[0]]
		g.mu.Unlock()
		return room
	}
	g.mu.Unlock()

	room, err := g.Create(DefaultRoomID, defaultRoomName)
	if err != nil {
		// Lost a creation race; the room exists now.
		if r, ok := g.Get(DefaultRoomID); ok {
			return r
		}
		g.log.Error("registry.default_room.create_failed", "err", err)
	}
	return room
}

// Close releases all room log file handles.
func (g *Registry) Close() error {
	g.mu.Lock()
	defer g.mu.Unlock()

	var firstErr error
	for _, r := range g.rooms {
		if err := r.log.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (g *Registry) configPath() string {
	return filepath.Join(g.dataDir, configFileName)
}

func (g *Registry) messagesPath(roomID string) string {
	return filepath.Join(g.dataDir, "messages_"+roomID+".log")
}

func (g *Registry) loadConfig() (registryConfig, error) {
	raw, err := os.ReadFile(g.configPath())
	if err != nil {
		if os.IsNotExist(err) {
			return registryConfig{}, nil
		}
		return registryConfig{}, err
	}

	var cfg registryConfig
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return registryConfig{}, fmt.Errorf("decode %s: %w", g.configPath(), err)
	}
	return cfg, nil
}

func (g *Registry) saveConfigLocked() error {
	ids := make([]string, 0, len(g.rooms))
	for id := range g.rooms {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	cfg := registryConfig{Rooms: make([]roomConfig, 0, len(ids))}
	for _, id := range ids {
		cfg.Rooms = append(cfg.Rooms, roomConfig{RoomID: id, RoomName: g.rooms[id].Name})
	}

	raw, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}

	if err := os.MkdirAll(g.dataDir, 0o755); err != nil {
		return fmt.Errorf("mkdir %s: %w", g.dataDir, err)
	}
	if err := os.WriteFile(g.configPath(), raw, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", g.configPath(), err)
	}
	return nil
}
