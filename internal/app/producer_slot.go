package app

import (
	"fmt"
	"sync"

	"github.com/dkeye/Broadcast/internal/core"
	"github.com/dkeye/Broadcast/internal/domain"
	"github.com/dkeye/Broadcast/internal/media"
	"github.com/rs/zerolog/log"
)

type SlotScope string

const (
	ScopeGlobal SlotScope = "global"
	ScopeRoom   SlotScope = "room"
)

func ParseSlotScope(s string) (SlotScope, error) {
	switch SlotScope(s) {
	case "", ScopeGlobal:
		return ScopeGlobal, nil
	case ScopeRoom:
		return ScopeRoom, nil
	}
	return "", fmt.Errorf("%w: unknown producer scope %q", core.ErrConfiguration, s)
}

// ActiveProducer is the producer currently held by a slot.
type ActiveProducer struct {
	ProducerID  string
	TransportID string
	Kind        media.Kind
	Owner       core.SessionID
	Room        domain.RoomID
}

// ProducerSlots holds at most one active producer per scope. With
// ScopeGlobal every room shares one slot. All reads and writes go through
// one mutex, and the callbacks passed in run while it is held.
type ProducerSlots struct {
	mu    sync.Mutex
	scope SlotScope
	slots map[domain.RoomID]ActiveProducer
}

func NewProducerSlots(scope SlotScope) *ProducerSlots {
	if scope == "" {
		scope = ScopeGlobal
	}
	return &ProducerSlots{scope: scope, slots: make(map[domain.RoomID]ActiveProducer)}
}

func (s *ProducerSlots) Scope() SlotScope { return s.scope }

func (s *ProducerSlots) key(room domain.RoomID) domain.RoomID {
	if s.scope == ScopeGlobal {
		return ""
	}
	return room
}

// Active returns the producer visible to room.
func (s *ProducerSlots) Active(room domain.RoomID) (ActiveProducer, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.slots[s.key(room)]
	return p, ok
}

// Install makes p the producer of its slot and runs announce before the
// lock is released. It returns the producer p replaced, if any.
func (s *ProducerSlots) Install(p ActiveProducer, announce func()) (ActiveProducer, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := s.key(p.Room)
	prev, had := s.slots[k]
	s.slots[k] = p
	if announce != nil {
		announce()
	}
	log.Info().Str("module", "app.slots").Str("room", string(p.Room)).Str("producer_id", p.ProducerID).
		Str("sid", string(p.Owner)).Bool("replaced", had).Msg("producer installed")
	return prev, had
}

// View runs fn with the producer visible to room while holding the lock.
func (s *ProducerSlots) View(room domain.RoomID, fn func(p ActiveProducer, ok bool)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.slots[s.key(room)]
	fn(p, ok)
}

// WithActive runs fn under the lock with the producer visible to room, or
// fails with ErrNoActiveProducer when the slot is empty.
func (s *ProducerSlots) WithActive(room domain.RoomID, fn func(p ActiveProducer) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.slots[s.key(room)]
	if !ok {
		return core.ErrNoActiveProducer
	}
	return fn(p)
}

// Release empties the slot of room if it still holds producerID. The
// cleared producer is returned; onCleared runs under the lock.
func (s *ProducerSlots) Release(room domain.RoomID, producerID string, onCleared func(ActiveProducer)) (ActiveProducer, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := s.key(room)
	p, ok := s.slots[k]
	if !ok || producerID == "" || p.ProducerID != producerID {
		return ActiveProducer{}, false
	}
	delete(s.slots, k)
	if onCleared != nil {
		onCleared(p)
	}
	log.Info().Str("module", "app.slots").Str("room", string(p.Room)).Str("producer_id", p.ProducerID).Msg("producer released")
	return p, true
}
