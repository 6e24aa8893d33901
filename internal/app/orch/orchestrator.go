package orch

import (
	"context"
	"fmt"
	"time"

	"github.com/dkeye/Broadcast/internal/app"
	"github.com/dkeye/Broadcast/internal/core"
	"github.com/dkeye/Broadcast/internal/domain"
	"github.com/dkeye/Broadcast/internal/media"
	"github.com/rs/zerolog/log"
)

const defaultGatewayTimeout = 15 * time.Second

type Options struct {
	GatewayTimeout   time.Duration
	DefaultRoom      domain.RoomID
	TeardownReplaced bool
	RecordingsDir    string
	RecordingExt     string
	// MaxIncomingBitrate caps what a client may send on a transport, in
	// bits per second. Zero leaves the engine default.
	MaxIncomingBitrate uint32
}

// Orchestrator is the signaling coordinator: one method per client
// request, plus connect and disconnect hooks driven by the transport.
type Orchestrator struct {
	Gateway  core.MediaGateway
	Registry *app.Registry
	Rooms    core.RoomManager
	Slots    *app.ProducerSlots
	Policy   app.Policy
	Records  core.MediaRecordStore
	Presence core.PresenceStore
	Opts     Options

	router *core.RouterInfo
}

// OpenRouter creates the shared router all sessions negotiate against.
func (o *Orchestrator) OpenRouter(ctx context.Context, codecs []media.RtpCodecCapability) error {
	gctx, cancel := o.gatewayCtx(ctx)
	defer cancel()
	r, err := o.Gateway.CreateRouter(gctx, codecs)
	if err != nil {
		return core.GatewayError("createRouter", err)
	}
	o.router = &r
	log.Info().Str("module", "orch").Str("router_id", r.ID).Int("codecs", len(r.RtpCapabilities.Codecs)).Msg("router created")
	return nil
}

func (o *Orchestrator) Router() (core.RouterInfo, bool) {
	if o.router == nil {
		return core.RouterInfo{}, false
	}
	return *o.router, true
}

func (o *Orchestrator) DefaultRoom() domain.RoomID {
	if o.Opts.DefaultRoom == "" {
		return "main"
	}
	return o.Opts.DefaultRoom
}

func (o *Orchestrator) gatewayCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	d := o.Opts.GatewayTimeout
	if d <= 0 {
		d = defaultGatewayTimeout
	}
	return context.WithTimeout(ctx, d)
}

func (o *Orchestrator) session(sid core.SessionID) (core.MemberSession, error) {
	sess, ok := o.Registry.GetSession(sid)
	if !ok || sess.Media().Closed() {
		return nil, fmt.Errorf("%w: session %s is not connected", core.ErrInvalidState, sid)
	}
	return sess, nil
}

// broadcast fans frame out to room and applies the backpressure policy to
// members whose buffers were full.
func (o *Orchestrator) broadcast(room domain.RoomID, frame core.Frame, exclude core.SessionID) {
	res := o.Rooms.Broadcast(room, frame, exclude)
	if o.Policy == nil || len(res.Dropped) == 0 {
		return
	}
	rs, ok := o.Rooms.Get(room)
	if !ok {
		return
	}
	for _, slow := range res.Dropped {
		l := log.With().Str("module", "orch").Str("sid", string(slow.ID())).Str("room", string(room)).Logger()
		switch o.Policy.OnBackPressure(rs, slow) {
		case app.KickMember:
			l.Warn().Msg("kicking slow member")
			o.Registry.Cancel(slow.ID())
		case app.MarkSlow:
			if slow.MarkSlow() {
				l.Warn().Msg("member marked slow")
			}
		case app.NoAction:
			l.Debug().Msg("notification dropped")
		}
	}
}

// release closes engine resources detached from a session. Errors are
// logged only. A released producer still held by a slot is cleared and its
// room is told; release reports whether that happened.
func (o *Orchestrator) release(room domain.RoomID, rel core.Released) bool {
	if rel.Empty() {
		return false
	}
	ctx, cancel := o.gatewayCtx(context.Background())
	defer cancel()
	l := log.With().Str("module", "orch").Str("room", string(room)).Logger()

	if rel.ConsumerID != "" {
		if err := o.Gateway.CloseConsumer(ctx, rel.ConsumerID); err != nil {
			l.Warn().Err(err).Str("consumer_id", rel.ConsumerID).Msg("close consumer")
		}
	}
	active := false
	if rel.ProducerID != "" {
		_, active = o.Slots.Release(room, rel.ProducerID, func(p app.ActiveProducer) {
			o.broadcast(p.Room, producerClosed(p.ProducerID), p.Owner)
		})
		if err := o.Gateway.CloseProducer(ctx, rel.ProducerID); err != nil {
			l.Warn().Err(err).Str("producer_id", rel.ProducerID).Msg("close producer")
		}
		o.dropConsumersOf(rel.ProducerID)
	}
	for _, id := range []string{rel.ConsumerTransportID, rel.ProducerTransportID} {
		if id == "" {
			continue
		}
		if err := o.Gateway.CloseTransport(ctx, id); err != nil {
			l.Warn().Err(err).Str("transport_id", id).Msg("close transport")
		}
	}
	return active
}

// dropConsumersOf forgets, in every session, the consumer the engine closed
// along with producerID.
func (o *Orchestrator) dropConsumersOf(producerID string) {
	for _, snap := range o.Registry.Sessions() {
		if snap.Session.Media().DropConsumerOf(producerID) {
			log.Debug().Str("module", "orch").Str("sid", string(snap.SID)).Str("producer_id", producerID).Msg("consumer dropped with producer")
		}
	}
}

func producerClosed(producerID string) core.Frame {
	return core.NewNotification(core.NotifyProducerClosed, core.ProducerEvent{ProducerID: producerID})
}
