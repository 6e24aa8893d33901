package core

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/dkeye/Broadcast/internal/domain"
	"github.com/dkeye/Broadcast/internal/media"
)

type stubSignal struct {
	frames []Frame
	fail   bool
}

func (s *stubSignal) TrySend(f Frame) error {
	if s.fail {
		return errors.New("full")
	}
	s.frames = append(s.frames, f)
	return nil
}

func (s *stubSignal) Close() {}

func newMember(sid string, sig SignalConnection) MemberSession {
	return NewMemberSession(SessionID(sid), "r1", domain.NewMember(domain.Anonymous(), "dev-"+sid), sig)
}

func TestMediaState_ProducerGuards(t *testing.T) {
	s := NewMediaState()

	if _, err := s.ProducerTransportToConnect(); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("connect before create err=%v, want %v", err, ErrInvalidState)
	}
	if _, err := s.ProducerTransportToProduce(); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("produce before create err=%v, want %v", err, ErrInvalidState)
	}

	if _, err := s.SetProducerTransport("pt1"); err != nil {
		t.Fatalf("SetProducerTransport: %v", err)
	}
	if _, err := s.ProducerTransportToProduce(); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("produce before connect err=%v, want %v", err, ErrInvalidState)
	}
	id, err := s.ProducerTransportToConnect()
	if err != nil || id != "pt1" {
		t.Fatalf("ProducerTransportToConnect=%q,%v", id, err)
	}
	if err := s.MarkProducerTransportConnected("pt1"); err != nil {
		t.Fatalf("MarkProducerTransportConnected: %v", err)
	}
	if _, err := s.ProducerTransportToConnect(); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("second connect err=%v, want %v", err, ErrInvalidState)
	}
	if _, err := s.SetProducer("pt1", "p1", media.KindVideo); err != nil {
		t.Fatalf("SetProducer: %v", err)
	}
	if got := s.ProducerPhase(); got != ProducerActive {
		t.Fatalf("phase=%v, want %v", got, ProducerActive)
	}

	rel, err := s.SetProducer("pt1", "p2", media.KindVideo)
	if err != nil || rel.ProducerID != "p1" {
		t.Fatalf("second SetProducer released=%+v err=%v, want p1", rel, err)
	}

	rel, _ = s.SetProducerTransport("pt2")
	if rel.ProducerTransportID != "pt1" || rel.ProducerID != "p2" {
		t.Fatalf("replacing transport released=%+v", rel)
	}
	if s.ProducerID() != "" {
		t.Fatalf("producer survived transport replacement")
	}
}

func TestMediaState_ConsumerGuards(t *testing.T) {
	s := NewMediaState()
	if _, err := s.ConsumerToResume(); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("resume before consume err=%v, want %v", err, ErrInvalidState)
	}
	if _, err := s.ConsumerTransportToConsume(); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("consume without transport err=%v", err)
	}
	_, _ = s.SetConsumerTransport("ct1")
	if _, err := s.ConsumerTransportToConnect(); err != nil {
		t.Fatalf("ConsumerTransportToConnect: %v", err)
	}
	_ = s.MarkConsumerTransportConnected("ct1")
	if _, err := s.SetConsumer("ct1", "c1", "p1", media.KindVideo); err != nil {
		t.Fatalf("SetConsumer: %v", err)
	}
	id, err := s.ConsumerToResume()
	if err != nil || id != "c1" {
		t.Fatalf("ConsumerToResume=%q,%v", id, err)
	}
	if err := s.MarkResumed("c1"); err != nil {
		t.Fatalf("MarkResumed: %v", err)
	}
	if got := s.ConsumerPhase(); got != ConsumerResumed {
		t.Fatalf("phase=%v, want %v", got, ConsumerResumed)
	}
}

func TestMediaState_CloseIsTerminalAndOnce(t *testing.T) {
	s := NewMediaState()
	_, _ = s.SetProducerTransport("pt1")
	_ = s.MarkProducerTransportConnected("pt1")
	_, _ = s.SetProducer("pt1", "p1", media.KindAudio)
	_, _ = s.SetConsumerTransport("ct1")

	rel, first := s.Close()
	if !first {
		t.Fatalf("first Close reported not first")
	}
	want := Released{ProducerTransportID: "pt1", ProducerID: "p1", ConsumerTransportID: "ct1"}
	if rel != want {
		t.Fatalf("released=%+v, want %+v", rel, want)
	}
	if _, again := s.Close(); again {
		t.Fatalf("second Close reported first")
	}

	// Resources created after close are handed straight back.
	rel, err := s.SetConsumerTransport("late")
	if !errors.Is(err, ErrInvalidState) || rel.ConsumerTransportID != "late" {
		t.Fatalf("late transport rel=%+v err=%v", rel, err)
	}
}

func TestRoomService_BroadcastExcludesAndContinuesPastFailures(t *testing.T) {
	room := NewRoomService(domain.NewRoom("r1"))
	a, b, c := &stubSignal{}, &stubSignal{fail: true}, &stubSignal{}
	room.AddMember(newMember("a", a))
	room.AddMember(newMember("b", b))
	room.AddMember(newMember("c", c))

	res := room.Broadcast("a", Frame("hello"))
	if res.SendTo != 1 || len(res.Dropped) != 1 {
		t.Fatalf("result=%+v, want 1 sent 1 dropped", res)
	}
	if len(a.frames) != 0 {
		t.Fatalf("excluded member received %d frames", len(a.frames))
	}
	if len(c.frames) != 1 {
		t.Fatalf("member c received %d frames, want 1", len(c.frames))
	}
	if res.Dropped[0].ID() != "b" {
		t.Fatalf("dropped=%s, want b", res.Dropped[0].ID())
	}
}

func TestRoomService_AddRemoveIdempotent(t *testing.T) {
	room := NewRoomService(domain.NewRoom("r1"))
	m := newMember("a", &stubSignal{})
	if !room.AddMember(m) || room.AddMember(m) {
		t.Fatalf("AddMember should report new only once")
	}
	if room.MemberCount() != 1 {
		t.Fatalf("MemberCount=%d, want 1", room.MemberCount())
	}
	if !room.RemoveMember("a") || room.RemoveMember("a") {
		t.Fatalf("RemoveMember should report removal only once")
	}
	if room.MemberCount() != 0 {
		t.Fatalf("MemberCount=%d, want 0", room.MemberCount())
	}
}

func TestCodeOfAndGatewayError(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{fmt.Errorf("%w: x", ErrInvalidState), CodeInvalidState},
		{ErrNoActiveProducer, CodeNoActiveProducer},
		{GatewayError("create", context.DeadlineExceeded), CodeGatewayTimeout},
		{GatewayError("create", errors.New("boom")), CodeGatewayFailure},
		{GatewayError("create", ErrGatewayProcessLoss), CodeGatewayProcessLoss},
		{errors.New("other"), CodeInternal},
	}
	for _, tt := range tests {
		if got := CodeOf(tt.err); got != tt.want {
			t.Fatalf("CodeOf(%v)=%q, want %q", tt.err, got, tt.want)
		}
	}
	if GatewayError("x", nil) != nil {
		t.Fatalf("GatewayError(nil) != nil")
	}
}

func TestMediaState_DropConsumerOfClosedProducer(t *testing.T) {
	s := NewMediaState()
	_, _ = s.SetConsumerTransport("ct1")
	_ = s.MarkConsumerTransportConnected("ct1")
	_, _ = s.SetConsumer("ct1", "c1", "p1", media.KindVideo)

	if s.DropConsumerOf("p2") {
		t.Fatalf("dropped consumer of another producer")
	}
	if !s.DropConsumerOf("p1") {
		t.Fatalf("consumer of p1 not dropped")
	}
	if _, err := s.ConsumerToResume(); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("resume after drop err=%v, want %v", err, ErrInvalidState)
	}
	if got := s.ConsumerPhase(); got != ConsumerTransportConnected {
		t.Fatalf("phase=%v, want %v", got, ConsumerTransportConnected)
	}
	if _, err := s.ConsumerTransportToConsume(); err != nil {
		t.Fatalf("consume again: %v", err)
	}
}
