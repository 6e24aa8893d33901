package app

import (
	"context"
	"sync"
	"time"

	"github.com/dkeye/Broadcast/internal/core"
	"github.com/dkeye/Broadcast/internal/domain"
	"github.com/rs/zerolog/log"
)

// RoomManagerImpl is the room arena. Rooms are created on first join and
// only disappear through StopRoom or the reaper.
type RoomManagerImpl struct {
	mu    sync.RWMutex
	rooms map[domain.RoomID]core.RoomService
}

func NewRoomManager() *RoomManagerImpl {
	return &RoomManagerImpl{rooms: make(map[domain.RoomID]core.RoomService)}
}

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
	room = core.NewRoomService(domain.NewRoom(id))
	f.rooms[id] = room
	log.Info().Str("module", "app.rooms").Str("room", string(id)).Msg("room created")
	return room
}

func (f *RoomManagerImpl) Get(id domain.RoomID) (core.RoomService, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	room, ok := f.rooms[id]
	return room, ok
}

// Join adds ms under the arena lock so a concurrent reap cannot drop the
// room between lookup and insert.
func (f *RoomManagerImpl) Join(id domain.RoomID, ms core.MemberSession) core.RoomService {
	f.mu.Lock()
	defer f.mu.Unlock()
	room, ok := f.rooms[id]
	if !ok {
		room = core.NewRoomService(domain.NewRoom(id))
		f.rooms[id] = room
		log.Info().Str("module", "app.rooms").Str("room", string(id)).Msg("room created")
	}
	room.AddMember(ms)
	return room
}

func (f *RoomManagerImpl) Leave(id domain.RoomID, sid core.SessionID) bool {
	room, ok := f.Get(id)
	if !ok {
		return false
	}
	return room.RemoveMember(sid)
}

func (f *RoomManagerImpl) Broadcast(id domain.RoomID, data core.Frame, exclude core.SessionID) core.PublishResult {
	room, ok := f.Get(id)
	if !ok {
		return core.PublishResult{}
	}
	return room.Broadcast(exclude, data)
}

func (f *RoomManagerImpl) List() []core.RoomInfo {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make([]core.RoomInfo, 0, len(f.rooms))
	for id, r := range f.rooms {
		out = append(out, core.RoomInfo{ID: id, MemberCount: r.MemberCount()})
	}
	return out
}

func (f *RoomManagerImpl) StopRoom(id domain.RoomID) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.rooms, id)
}

// ReapEmpty drops every room without members and returns how many went.
func (f *RoomManagerImpl) ReapEmpty() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for id, r := range f.rooms {
		if r.MemberCount() == 0 {
			delete(f.rooms, id)
			n++
		}
	}
	return n
}

// RunReaper calls ReapEmpty every interval until ctx is done.
func (f *RoomManagerImpl) RunReaper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := f.ReapEmpty(); n > 0 {
				log.Info().Str("module", "app.rooms").Int("reaped", n).Msg("reaped empty rooms")
			}
		}
	}
}
