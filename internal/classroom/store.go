package classroom

import (
	"sync"
	"time"
)

// RoomStore hands out the negotiation record for a room id. Implementations
// must be safe under concurrent invocation; concurrent GetOrCreate calls for
// the same unseen id must converge on a single record.
//
// The store is an interface so a multi-instance deployment can substitute a
// shared external store. The in-process map below is the default.
type RoomStore interface {
	GetOrCreate(roomID string) *Room
}

// MemoryRoomStore keeps every room in process memory. Rooms are created on
// first touch and, by default, live for the process lifetime. A non-zero TTL
// enables a sweep that drops rooms whose last mutation is older than the TTL;
// a swept room id simply gets a fresh blank record on its next touch.
type MemoryRoomStore struct {
	mu    sync.Mutex
	rooms map[string]*Room

	roomTTL       time.Duration
	sweepInterval time.Duration
	nowFn         func() time.Time
}

// NewMemoryRoomStore returns a store without eviction.
func NewMemoryRoomStore() *MemoryRoomStore {
	return &MemoryRoomStore{
		rooms: make(map[string]*Room),
		nowFn: time.Now,
	}
}

// NewMemoryRoomStoreTTL returns a store that sweeps abandoned rooms. The
// sweep runs every interval and removes rooms untouched for longer than ttl.
func NewMemoryRoomStoreTTL(ttl, interval time.Duration) *MemoryRoomStore {
	s := NewMemoryRoomStore()
	s.roomTTL = ttl
	s.sweepInterval = interval
	if ttl > 0 && interval > 0 {
		go s.sweepLoop()
	}
	return s
}

// GetOrCreate never fails: an unknown id inserts a blank record, and every
// caller for the same id observes the same record thereafter.
func (s *MemoryRoomStore) GetOrCreate(roomID string) *Room {
	s.mu.Lock()
	defer s.mu.Unlock()

	room, ok := s.rooms[roomID]
	if !ok {
		room = newRoom(roomID, s.nowFn())
		s.rooms[roomID] = room
	}
	return room
}

// Len reports how many rooms are currently held.
func (s *MemoryRoomStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.rooms)
}

func (s *MemoryRoomStore) sweepLoop() {
	ticker := time.NewTicker(s.sweepInterval)
	for range ticker.C {
		s.SweepExpired(s.nowFn())
	}
}

// SweepExpired removes rooms whose last mutation is older than the TTL. It
// is a no-op when no TTL is configured.
func (s *MemoryRoomStore) SweepExpired(now time.Time) int {
	if s.roomTTL <= 0 {
		return 0
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for id, room := range s.rooms {
		if now.Sub(room.Touched()) > s.roomTTL {
			delete(s.rooms, id)
			removed++
		}
	}
	return removed
}
