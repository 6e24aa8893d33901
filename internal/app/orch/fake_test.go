package orch

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/dkeye/Broadcast/internal/app"
	"github.com/dkeye/Broadcast/internal/core"
	"github.com/dkeye/Broadcast/internal/domain"
	"github.com/dkeye/Broadcast/internal/media"
)

type fakeGateway struct {
	mu sync.Mutex
	n  int

	consumerType media.ConsumerType
	incompatible bool
	block        bool
	onCreate     func(id string)
	bitrateErr   error

	producers        map[string]media.Kind
	layers           map[string]media.ConsumerLayers
	bitrates         map[string]uint32
	resumed          []string
	connected        []string
	closedTransports []string
	closedProducers  []string
	closedConsumers  []string
	died             chan error
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{
		consumerType: media.ConsumerSimple,
		producers:    make(map[string]media.Kind),
		layers:       make(map[string]media.ConsumerLayers),
		bitrates:     make(map[string]uint32),
		died:         make(chan error, 1),
	}
}

func (g *fakeGateway) next(prefix string) string {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n++
	return fmt.Sprintf("%s-%d", prefix, g.n)
}

func (g *fakeGateway) wait(ctx context.Context) error {
	if !g.block {
		return nil
	}
	<-ctx.Done()
	return ctx.Err()
}

func (g *fakeGateway) CreateRouter(ctx context.Context, codecs []media.RtpCodecCapability) (core.RouterInfo, error) {
	caps, err := media.NewCapabilities(codecs)
	if err != nil {
		return core.RouterInfo{}, err
	}
	return core.RouterInfo{ID: g.next("router"), RtpCapabilities: caps.RouterCapabilities()}, nil
}

func (g *fakeGateway) CreateTransport(ctx context.Context, routerID string) (media.TransportParameters, error) {
	if err := g.wait(ctx); err != nil {
		return media.TransportParameters{}, err
	}
	id := g.next("transport")
	if g.onCreate != nil {
		g.onCreate(id)
	}
	return media.TransportParameters{ID: id, IceParameters: media.IceParameters{UsernameFragment: "u", Password: "p"}}, nil
}

func (g *fakeGateway) ConnectTransport(ctx context.Context, transportID string, dtls media.DtlsParameters) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.connected = append(g.connected, transportID)
	return nil
}

func (g *fakeGateway) SetMaxIncomingBitrate(ctx context.Context, transportID string, bps uint32) error {
	if g.bitrateErr != nil {
		return g.bitrateErr
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.bitrates[transportID] = bps
	return nil
}

func (g *fakeGateway) CreateProducer(ctx context.Context, transportID string, kind media.Kind, rtp media.RtpParameters) (core.ProducerInfo, error) {
	id := g.next("producer")
	g.mu.Lock()
	g.producers[id] = kind
	g.mu.Unlock()
	return core.ProducerInfo{ID: id, Kind: kind, RtpParameters: rtp}, nil
}

func (g *fakeGateway) CanConsume(ctx context.Context, routerID, producerID string, caps media.RtpCapabilities) (bool, error) {
	return !g.incompatible, nil
}

func (g *fakeGateway) CreateConsumer(ctx context.Context, transportID, producerID string, caps media.RtpCapabilities, paused bool) (media.ConsumerDescriptor, error) {
	id := g.next("consumer")
	g.mu.Lock()
	kind := g.producers[producerID]
	g.mu.Unlock()
	return media.ConsumerDescriptor{
		ProducerID:     producerID,
		ID:             id,
		Kind:           kind,
		Type:           g.consumerType,
		ProducerPaused: paused,
	}, nil
}

func (g *fakeGateway) SetPreferredLayers(ctx context.Context, consumerID string, layers media.ConsumerLayers) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.layers[consumerID] = layers
	return nil
}

func (g *fakeGateway) ResumeConsumer(ctx context.Context, consumerID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.resumed = append(g.resumed, consumerID)
	return nil
}

func (g *fakeGateway) CloseTransport(ctx context.Context, id string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.closedTransports = append(g.closedTransports, id)
	return nil
}

func (g *fakeGateway) CloseProducer(ctx context.Context, id string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.closedProducers = append(g.closedProducers, id)
	return nil
}

func (g *fakeGateway) CloseConsumer(ctx context.Context, id string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.closedConsumers = append(g.closedConsumers, id)
	return nil
}

func (g *fakeGateway) Died() <-chan error { return g.died }
func (g *fakeGateway) Close() error       { return nil }

type fakeRecords struct {
	mu   sync.Mutex
	recs map[string]domain.MediaRecord
}

func (r *fakeRecords) SaveMediaRecord(ctx context.Context, rec domain.MediaRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.recs == nil {
		r.recs = make(map[string]domain.MediaRecord)
	}
	r.recs[string(rec.RoomID)+"/"+string(rec.HostUserID)] = rec
	return nil
}

func (r *fakeRecords) GetMediaRecord(ctx context.Context, room domain.RoomID, host domain.UserID) (domain.MediaRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.recs[string(room)+"/"+string(host)]
	if !ok {
		return domain.MediaRecord{}, fmt.Errorf("not found")
	}
	return rec, nil
}

type recSignal struct {
	mu     sync.Mutex
	frames []core.Frame
}

func (s *recSignal) TrySend(f core.Frame) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.frames = append(s.frames, f)
	return nil
}

func (s *recSignal) Close() {}

// count reports how many notifications of method for producerID arrived.
func (s *recSignal) count(method, producerID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, f := range s.frames {
		var msg struct {
			Type   string             `json:"type"`
			Method string             `json:"method"`
			Data   core.ProducerEvent `json:"data"`
		}
		if err := json.Unmarshal(f, &msg); err != nil {
			continue
		}
		if msg.Type == core.TypeNotification && msg.Method == method && msg.Data.ProducerID == producerID {
			n++
		}
	}
	return n
}

func (s *recSignal) has(method, producerID string) bool {
	return s.count(method, producerID) > 0
}

type harness struct {
	o       *Orchestrator
	g       *fakeGateway
	records *fakeRecords
}

func newHarness(t *testing.T, scope app.SlotScope) *harness {
	t.Helper()
	g := newFakeGateway()
	rec := &fakeRecords{}
	o := &Orchestrator{
		Gateway:  g,
		Registry: app.NewRegistry(),
		Rooms:    app.NewRoomManager(),
		Slots:    app.NewProducerSlots(scope),
		Policy:   app.SimplePolicy{Action: app.NoAction},
		Records:  rec,
		Opts: Options{
			GatewayTimeout:   time.Second,
			TeardownReplaced: true,
			RecordingsDir:    "rec",
		},
	}
	if err := o.OpenRouter(context.Background(), media.DefaultCodecs()); err != nil {
		t.Fatalf("OpenRouter: %v", err)
	}
	return &harness{o: o, g: g, records: rec}
}

func (h *harness) join(sid string, room domain.RoomID, user string) *recSignal {
	sig := &recSignal{}
	u := domain.Anonymous()
	if user != "" {
		u, _ = domain.NewUser(user)
	}
	sess := core.NewMemberSession(core.SessionID(sid), room, domain.NewMember(u, sid+"-device"), sig)
	h.o.Connect(context.Background(), sess, func() {})
	return sig
}

var testDtls = media.DtlsParameters{
	Role:         "auto",
	Fingerprints: []media.DtlsFingerprint{{Algorithm: "sha-256", Value: "AB:CD"}},
}

func videoParams() media.RtpParameters {
	return media.RtpParameters{
		Codecs:    []media.RtpCodecParameters{{MimeType: "video/VP8", PayloadType: 96, ClockRate: 90000}},
		Encodings: []media.RtpEncodingParameters{{Ssrc: 1}, {Ssrc: 2}, {Ssrc: 3}},
	}
}

func (h *harness) produce(t *testing.T, sid string) string {
	t.Helper()
	ctx := context.Background()
	if _, err := h.o.CreateProducerTransport(ctx, core.SessionID(sid)); err != nil {
		t.Fatalf("CreateProducerTransport(%s): %v", sid, err)
	}
	if err := h.o.ConnectProducerTransport(ctx, core.SessionID(sid), testDtls); err != nil {
		t.Fatalf("ConnectProducerTransport(%s): %v", sid, err)
	}
	res, err := h.o.Produce(ctx, core.SessionID(sid), media.KindVideo, videoParams())
	if err != nil {
		t.Fatalf("Produce(%s): %v", sid, err)
	}
	return res.ProducerID
}

func (h *harness) consumerReady(t *testing.T, sid string) {
	t.Helper()
	ctx := context.Background()
	if _, err := h.o.CreateConsumerTransport(ctx, core.SessionID(sid)); err != nil {
		t.Fatalf("CreateConsumerTransport(%s): %v", sid, err)
	}
	if err := h.o.ConnectConsumerTransport(ctx, core.SessionID(sid), testDtls); err != nil {
		t.Fatalf("ConnectConsumerTransport(%s): %v", sid, err)
	}
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
