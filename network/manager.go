package network

import (
	"log"
	"net/http"
	"sort"
	"strings"
	"sync"
)

// RoomManager creates rooms on demand, keyed by the ?room= query parameter.
type RoomManager struct {
	Rooms       map[string]*Room
	DefaultRoom string
	Options     RoomOptions
	Mutex       sync.RWMutex
}

func NewRoomManager(defaultRoom string, opts RoomOptions) *RoomManager {
	if defaultRoom == "" {
		defaultRoom = "lobby"
	}
	return &RoomManager{
		Rooms:       make(map[string]*Room),
		DefaultRoom: defaultRoom,
		Options:     opts,
	}
}

// GetOrCreate returns the room with id, starting it if needed.
func (rm *RoomManager) GetOrCreate(id string) *Room {
	rm.Mutex.Lock()
	defer rm.Mutex.Unlock()

	if room, ok := rm.Rooms[id]; ok {
		return room
	}
	room := NewRoom(id, rm.Options)
	rm.Rooms[id] = room
	go room.Run()
	log.Printf("Created Room %s", id)
	return room
}

func (rm *RoomManager) GetRoom(id string) *Room {
	rm.Mutex.RLock()
	defer rm.Mutex.RUnlock()
	return rm.Rooms[id]
}

// ListRooms returns the room ids in order.
func (rm *RoomManager) ListRooms() []string {
	rm.Mutex.RLock()
	defer rm.Mutex.RUnlock()
	keys := make([]string, 0, len(rm.Rooms))
	for k := range rm.Rooms {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Stop stops every room.
func (rm *RoomManager) Stop() {
	rm.Mutex.Lock()
	defer rm.Mutex.Unlock()
	for id, room := range rm.Rooms {
		room.Stop()
		delete(rm.Rooms, id)
	}
}

// ServeHTTP upgrades the request into the room named by ?room=.
func (rm *RoomManager) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(r.URL.Query().Get("room"))
	if id == "" {
		id = rm.DefaultRoom
	}
	ServeWs(rm.GetOrCreate(id), w, r)
}
