package app

import (
	"sync"
	"time"

	"github.com/tunewave/listenroom/internal/core"
	"github.com/tunewave/listenroom/internal/domain"
)

type RoomManagerImpl struct {
	mu    sync.RWMutex
	now   func() time.Time
	rooms map[domain.RoomID]core.RoomService
}

func NewRoomManager(now func() time.Time) core.RoomFactory {
	return &RoomManagerImpl{now: now, rooms: make(map[domain.RoomID]core.RoomService)}
}

// GetOrCreate implements implicit room creation: the first join brings the
// room into existence.
func (f *RoomManagerImpl) GetOrCreate(id domain.RoomID) core.RoomService {
	f.mu.RLock()
	room, ok := f.rooms[id]
	f.mu.RUnlock()
	if ok {
		return room
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if room, ok = f.rooms[id]; ok {
		return room
	}
	room = core.NewRoomService(id, f.now)
	f.rooms[id] = room
	return room
}

func (f *RoomManagerImpl) Get(id domain.RoomID) (core.RoomService, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	room, ok := f.rooms[id]
	return room, ok
}

func (f *RoomManagerImpl) List() []core.RoomInfo {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make([]core.RoomInfo, 0, len(f.rooms))
	for id, r := range f.rooms {
		out = append(out, core.RoomInfo{ID: id, ParticipantCount: r.ParticipantCount()})
	}
	return out
}

func (f *RoomManagerImpl) StopRoom(id domain.RoomID) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.rooms, id)
}
