package core

import (
	"sync"

	"github.com/dkeye/Broadcast/internal/domain"
	"github.com/rs/zerolog/log"
)

// roomImpl is a threadsafe in-memory room.
// It never closes adapter-owned resources.
type roomImpl struct {
	room  *domain.Room
	mu    sync.RWMutex
	bySID map[SessionID]MemberSession
}

func NewRoomService(room *domain.Room) RoomService {
	return &roomImpl{
		room:  room,
		bySID: make(map[SessionID]MemberSession),
	}
}

func (r *roomImpl) Room() *domain.Room { return r.room }

func (r *roomImpl) MemberCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.bySID)
}

// AddMember reports whether ms was not yet a member.
func (r *roomImpl) AddMember(ms MemberSession) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, existed := r.bySID[ms.ID()]
	r.bySID[ms.ID()] = ms
	if !existed {
		log.Info().Str("module", "core.room").Str("room", string(r.room.ID)).Str("sid", string(ms.ID())).Msg("member added")
	}
	return !existed
}

// RemoveMember reports whether sid was a member.
func (r *roomImpl) RemoveMember(sid SessionID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.bySID[sid]; !ok {
		return false
	}
	delete(r.bySID, sid)
	log.Info().Str("module", "core.room").Str("room", string(r.room.ID)).Str("sid", string(sid)).Msg("member removed")
	return true
}

func (r *roomImpl) Broadcast(exclude SessionID, data Frame) PublishResult {
	r.mu.RLock()
	targets := make([]MemberSession, 0, len(r.bySID))
	for sid, m := range r.bySID {
		if sid == exclude {
			continue
		}
		targets = append(targets, m)
	}
	r.mu.RUnlock()

	res := PublishResult{}
	for _, m := range targets {
		if err := m.Signal().TrySend(data); err != nil {
			res.Dropped = append(res.Dropped, m)
			continue
		}
		res.SendTo++
	}
	log.Debug().Str("module", "core.room").Str("exclude", string(exclude)).Int("sent_to", res.SendTo).Int("dropped", len(res.Dropped)).Msg("broadcast result")
	return res
}

func (r *roomImpl) MembersSnapshot() []MemberDTO {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]MemberDTO, 0, len(r.bySID))
	for sid, ms := range r.bySID {
		dto := MemberDTO{SID: sid, DeviceName: ms.Meta().DeviceName, Slow: ms.Slow()}
		if u := ms.Meta().User; u != nil {
			dto.UserID = u.ID
		}
		if st := ms.Media(); st != nil {
			dto.Producing = st.ProducerPhase() == ProducerActive
			dto.Consuming = st.ConsumerPhase() >= ConsumerActive
		}
		out = append(out, dto)
	}
	return out
}
