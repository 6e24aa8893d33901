package app

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/dkeye/Broadcast/internal/core"
	"github.com/dkeye/Broadcast/internal/domain"
)

type nopSignal struct{}

func (nopSignal) TrySend(core.Frame) error { return nil }
func (nopSignal) Close()                   {}

func session(sid string, room domain.RoomID) core.MemberSession {
	return core.NewMemberSession(core.SessionID(sid), room, domain.NewMember(domain.Anonymous(), sid), nopSignal{})
}

func TestRegistry_BindUnbindCancel(t *testing.T) {
	r := NewRegistry()
	canceled := false
	r.Bind(session("a", "r1"), func() { canceled = true })
	r.Bind(session("b", "r2"), nil)

	if room, _, ok := r.RoomOf("a"); !ok || room != "r1" {
		t.Fatalf("RoomOf(a)=%q,%v, want r1,true", room, ok)
	}
	if got := len(r.SessionsInRoom("r1")); got != 1 {
		t.Fatalf("SessionsInRoom(r1)=%d, want 1", got)
	}
	if !r.Cancel("a") || !canceled {
		t.Fatalf("Cancel(a) did not run cancel func")
	}
	if !r.Cancel("b") {
		t.Fatalf("Cancel(b) with nil func should still report true")
	}
	if !r.Unbind("a") || r.Unbind("a") {
		t.Fatalf("Unbind must succeed exactly once")
	}
	if r.Count() != 1 {
		t.Fatalf("Count=%d, want 1", r.Count())
	}
	if r.Cancel("a") {
		t.Fatalf("Cancel of unbound sid reported true")
	}
}

func TestRoomManager_JoinLeaveKeepsRecord(t *testing.T) {
	m := NewRoomManager()
	a := session("a", "r1")
	m.Join("r1", a)
	m.Join("r1", a)

	room, ok := m.Get("r1")
	if !ok || room.MemberCount() != 1 {
		t.Fatalf("repeated join must be idempotent")
	}
	if !m.Leave("r1", "a") {
		t.Fatalf("Leave(a)=false, want true")
	}
	if m.Leave("r1", "a") || m.Leave("nope", "a") {
		t.Fatalf("Leave of absent member must be a no-op")
	}
	if _, ok := m.Get("r1"); !ok {
		t.Fatalf("room record dropped on leave")
	}
	if list := m.List(); len(list) != 1 || list[0].MemberCount != 0 {
		t.Fatalf("List=%+v, want one empty room", list)
	}
}

func TestRoomManager_ReapEmpty(t *testing.T) {
	m := NewRoomManager()
	m.Join("busy", session("a", "busy"))
	m.GetOrCreate("idle")

	if n := m.ReapEmpty(); n != 1 {
		t.Fatalf("reaped=%d, want 1", n)
	}
	if _, ok := m.Get("idle"); ok {
		t.Fatalf("idle room survived reap")
	}
	if _, ok := m.Get("busy"); !ok {
		t.Fatalf("busy room reaped")
	}
}

func TestRoomManager_RunReaperStopsOnCancel(t *testing.T) {
	m := NewRoomManager()
	m.GetOrCreate("idle")
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		m.RunReaper(ctx, 5*time.Millisecond)
		close(done)
	}()

	deadline := time.Now().Add(time.Second)
	for {
		if _, ok := m.Get("idle"); !ok {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("reaper never ran")
		}
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("reaper did not stop")
	}
}

func TestProducerSlots_GlobalScope(t *testing.T) {
	s := NewProducerSlots(ScopeGlobal)
	announced := 0
	if _, had := s.Install(ActiveProducer{ProducerID: "p1", Owner: "a", Room: "r1"}, func() { announced++ }); had {
		t.Fatalf("first install reported a replaced producer")
	}
	if p, ok := s.Active("r2"); !ok || p.ProducerID != "p1" {
		t.Fatalf("global slot not visible from r2")
	}
	prev, had := s.Install(ActiveProducer{ProducerID: "p2", Owner: "b", Room: "r2"}, func() { announced++ })
	if !had || prev.ProducerID != "p1" {
		t.Fatalf("prev=%+v had=%v, want p1", prev, had)
	}
	if announced != 2 {
		t.Fatalf("announced=%d, want 2", announced)
	}
	if _, ok := s.Release("r1", "p1", nil); ok {
		t.Fatalf("released a producer no longer in the slot")
	}
	cleared := ""
	if _, ok := s.Release("r1", "p2", func(p ActiveProducer) { cleared = p.ProducerID }); !ok || cleared != "p2" {
		t.Fatalf("Release(p2) ok=%v cleared=%q", ok, cleared)
	}
	if err := s.WithActive("r1", func(ActiveProducer) error { return nil }); !errors.Is(err, core.ErrNoActiveProducer) {
		t.Fatalf("err=%v, want NoActiveProducer", err)
	}
}

func TestProducerSlots_RoomScope(t *testing.T) {
	s := NewProducerSlots(ScopeRoom)
	s.Install(ActiveProducer{ProducerID: "p1", Room: "r1"}, nil)
	if _, ok := s.Active("r2"); ok {
		t.Fatalf("room slot leaked into r2")
	}
	var seen string
	s.View("r1", func(p ActiveProducer, ok bool) { seen = p.ProducerID })
	if seen != "p1" {
		t.Fatalf("View saw %q, want p1", seen)
	}
}

func TestParseConfigEnums(t *testing.T) {
	if sc, err := ParseSlotScope(""); err != nil || sc != ScopeGlobal {
		t.Fatalf("ParseSlotScope(\"\")=%v,%v", sc, err)
	}
	if _, err := ParseSlotScope("planet"); !errors.Is(err, core.ErrConfiguration) {
		t.Fatalf("err=%v, want ConfigurationError", err)
	}
	if a, err := ParseBackpressureAction("kick"); err != nil || a != KickMember {
		t.Fatalf("ParseBackpressureAction(kick)=%v,%v", a, err)
	}
	if a, err := ParseBackpressureAction("mark"); err != nil || a != MarkSlow {
		t.Fatalf("ParseBackpressureAction(mark)=%v,%v", a, err)
	}
	if _, err := ParseBackpressureAction("explode"); !errors.Is(err, core.ErrConfiguration) {
		t.Fatalf("err=%v, want ConfigurationError", err)
	}
}
