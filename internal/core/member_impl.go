package core

import (
	"sync/atomic"

	"github.com/dkeye/Broadcast/internal/domain"
)

// memberSession implements MemberSession by pairing meta + transport.
type memberSession struct {
	id     SessionID
	room   domain.RoomID
	meta   *domain.Member
	signal SignalConnection
	media  *MediaState
	slow   atomic.Bool
}

func NewMemberSession(id SessionID, room domain.RoomID, meta *domain.Member, signal SignalConnection) MemberSession {
	return &memberSession{id: id, room: room, meta: meta, signal: signal, media: NewMediaState()}
}

func (m *memberSession) ID() SessionID            { return m.id }
func (m *memberSession) RoomID() domain.RoomID    { return m.room }
func (m *memberSession) Meta() *domain.Member     { return m.meta }
func (m *memberSession) Signal() SignalConnection { return m.signal }
func (m *memberSession) Media() *MediaState       { return m.media }

// MarkSlow flags the member as unable to keep up; it reports whether the
// flag was newly set.
func (m *memberSession) MarkSlow() bool { return m.slow.CompareAndSwap(false, true) }
func (m *memberSession) Slow() bool     { return m.slow.Load() }
