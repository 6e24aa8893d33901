package orch

import (
	"context"
	"fmt"

	"github.com/dkeye/Broadcast/internal/app"
	"github.com/dkeye/Broadcast/internal/core"
	"github.com/dkeye/Broadcast/internal/media"
	"github.com/rs/zerolog/log"
)

type ProduceResult struct {
	ID         string `json:"id"`
	ProducerID string `json:"producerId"`
}

func (o *Orchestrator) GetRouterRtpCapabilities(sid core.SessionID) (media.RtpCapabilities, error) {
	if _, err := o.session(sid); err != nil {
		return media.RtpCapabilities{}, err
	}
	r, ok := o.Router()
	if !ok {
		return media.RtpCapabilities{}, fmt.Errorf("%w: router not created", core.ErrInvalidState)
	}
	return r.RtpCapabilities, nil
}

func (o *Orchestrator) CreateProducerTransport(ctx context.Context, sid core.SessionID) (media.TransportParameters, error) {
	return o.createTransport(ctx, sid, (*core.MediaState).SetProducerTransport, "producer")
}

func (o *Orchestrator) CreateConsumerTransport(ctx context.Context, sid core.SessionID) (media.TransportParameters, error) {
	return o.createTransport(ctx, sid, (*core.MediaState).SetConsumerTransport, "consumer")
}

func (o *Orchestrator) createTransport(
	ctx context.Context,
	sid core.SessionID,
	store func(*core.MediaState, string) (core.Released, error),
	side string,
) (media.TransportParameters, error) {
	sess, err := o.session(sid)
	if err != nil {
		return media.TransportParameters{}, err
	}
	r, ok := o.Router()
	if !ok {
		return media.TransportParameters{}, fmt.Errorf("%w: router not created", core.ErrInvalidState)
	}

	gctx, cancel := o.gatewayCtx(ctx)
	defer cancel()
	params, err := o.Gateway.CreateTransport(gctx, r.ID)
	if err != nil {
		return media.TransportParameters{}, core.GatewayError("createTransport", err)
	}

	rel, err := store(sess.Media(), params.ID)
	o.release(sess.RoomID(), rel)
	if err != nil {
		return media.TransportParameters{}, err
	}
	if bps := o.Opts.MaxIncomingBitrate; bps > 0 {
		if err := o.Gateway.SetMaxIncomingBitrate(gctx, params.ID, bps); err != nil {
			log.Warn().Err(err).Str("module", "orch").Str("transport_id", params.ID).Msg("set max incoming bitrate")
		}
	}
	log.Info().Str("module", "orch").Str("sid", string(sid)).Str("side", side).Str("transport_id", params.ID).Msg("transport created")
	return params, nil
}

func (o *Orchestrator) ConnectProducerTransport(ctx context.Context, sid core.SessionID, dtls media.DtlsParameters) error {
	sess, err := o.session(sid)
	if err != nil {
		return err
	}
	st := sess.Media()
	id, err := st.ProducerTransportToConnect()
	if err != nil {
		return err
	}
	if err := o.connectTransport(ctx, id, dtls); err != nil {
		return err
	}
	return st.MarkProducerTransportConnected(id)
}

func (o *Orchestrator) ConnectConsumerTransport(ctx context.Context, sid core.SessionID, dtls media.DtlsParameters) error {
	sess, err := o.session(sid)
	if err != nil {
		return err
	}
	st := sess.Media()
	id, err := st.ConsumerTransportToConnect()
	if err != nil {
		return err
	}
	if err := o.connectTransport(ctx, id, dtls); err != nil {
		return err
	}
	return st.MarkConsumerTransportConnected(id)
}

func (o *Orchestrator) connectTransport(ctx context.Context, transportID string, dtls media.DtlsParameters) error {
	if err := dtls.Validate(); err != nil {
		return fmt.Errorf("%w: %v", core.ErrBadRequest, err)
	}
	gctx, cancel := o.gatewayCtx(ctx)
	defer cancel()
	if err := o.Gateway.ConnectTransport(gctx, transportID, dtls); err != nil {
		return core.GatewayError("connectTransport", err)
	}
	return nil
}

// Produce creates the session's producer and installs it in the slot. The
// room learns about it through newProducer; a producer it replaces is torn
// down when configured to.
func (o *Orchestrator) Produce(ctx context.Context, sid core.SessionID, kind media.Kind, rtp media.RtpParameters) (ProduceResult, error) {
	sess, err := o.session(sid)
	if err != nil {
		return ProduceResult{}, err
	}
	st := sess.Media()
	transportID, err := st.ProducerTransportToProduce()
	if err != nil {
		return ProduceResult{}, err
	}
	if err := rtp.Validate(); err != nil {
		return ProduceResult{}, fmt.Errorf("%w: %v", core.ErrBadRequest, err)
	}

	gctx, cancel := o.gatewayCtx(ctx)
	defer cancel()
	info, err := o.Gateway.CreateProducer(gctx, transportID, kind, rtp)
	if err != nil {
		return ProduceResult{}, core.GatewayError("createProducer", err)
	}

	room := sess.RoomID()
	rel, err := st.SetProducer(transportID, info.ID, kind)
	if err != nil {
		o.release(room, rel)
		return ProduceResult{}, err
	}

	ap := app.ActiveProducer{ProducerID: info.ID, TransportID: transportID, Kind: kind, Owner: sid, Room: room}
	prev, replaced := o.Slots.Install(ap, func() {
		o.broadcast(room, core.NewNotification(core.NotifyNewProducer, core.ProducerEvent{ProducerID: info.ID}), sid)
	})
	o.release(room, rel)
	if rel.ProducerID != "" {
		o.broadcast(room, producerClosed(rel.ProducerID), sid)
	}
	if replaced && prev.Owner != sid {
		o.teardownReplaced(prev)
	}

	log.Info().Str("module", "orch").Str("sid", string(sid)).Str("room", string(room)).
		Str("kind", string(kind)).Str("producer_id", info.ID).Msg("producing")
	return ProduceResult{ID: info.ID, ProducerID: info.ID}, nil
}

func (o *Orchestrator) teardownReplaced(prev app.ActiveProducer) {
	if !o.Opts.TeardownReplaced {
		return
	}
	if owner, ok := o.Registry.GetSession(prev.Owner); ok {
		owner.Media().ClearProducer(prev.ProducerID)
	}
	ctx, cancel := o.gatewayCtx(context.Background())
	defer cancel()
	if err := o.Gateway.CloseProducer(ctx, prev.ProducerID); err != nil {
		log.Warn().Err(err).Str("module", "orch").Str("producer_id", prev.ProducerID).Msg("close replaced producer")
	}
	o.dropConsumersOf(prev.ProducerID)
	o.broadcast(prev.Room, producerClosed(prev.ProducerID), "")
	log.Info().Str("module", "orch").Str("sid", string(prev.Owner)).Str("producer_id", prev.ProducerID).Msg("replaced producer closed")
}

// Consume binds a consumer on the session's consumer transport to the
// producer visible from its room. Video consumers start paused.
func (o *Orchestrator) Consume(ctx context.Context, sid core.SessionID, caps media.RtpCapabilities) (media.ConsumerDescriptor, error) {
	sess, err := o.session(sid)
	if err != nil {
		return media.ConsumerDescriptor{}, err
	}
	r, ok := o.Router()
	if !ok {
		return media.ConsumerDescriptor{}, fmt.Errorf("%w: router not created", core.ErrInvalidState)
	}
	st := sess.Media()

	gctx, cancel := o.gatewayCtx(ctx)
	defer cancel()

	var (
		producer    app.ActiveProducer
		transportID string
	)
	err = o.Slots.WithActive(sess.RoomID(), func(p app.ActiveProducer) error {
		id, err := st.ConsumerTransportToConsume()
		if err != nil {
			return err
		}
		ok, err := o.Gateway.CanConsume(gctx, r.ID, p.ProducerID, caps)
		if err != nil {
			return core.GatewayError("canConsume", err)
		}
		if !ok {
			return fmt.Errorf("%w: cannot consume producer %s", core.ErrIncompatibleCapabilities, p.ProducerID)
		}
		producer, transportID = p, id
		return nil
	})
	if err != nil {
		return media.ConsumerDescriptor{}, err
	}

	desc, err := o.Gateway.CreateConsumer(gctx, transportID, producer.ProducerID, caps, producer.Kind == media.KindVideo)
	if err != nil {
		return media.ConsumerDescriptor{}, core.GatewayError("createConsumer", err)
	}
	if desc.Type == media.ConsumerSimulcast {
		if err := o.Gateway.SetPreferredLayers(gctx, desc.ID, media.PreferredSimulcastLayers); err != nil {
			o.release(sess.RoomID(), core.Released{ConsumerID: desc.ID})
			return media.ConsumerDescriptor{}, core.GatewayError("setPreferredLayers", err)
		}
	}

	rel, err := st.SetConsumer(transportID, desc.ID, producer.ProducerID, desc.Kind)
	o.release(sess.RoomID(), rel)
	if err != nil {
		return media.ConsumerDescriptor{}, err
	}
	log.Info().Str("module", "orch").Str("sid", string(sid)).Str("producer_id", producer.ProducerID).
		Str("consumer_id", desc.ID).Str("type", string(desc.Type)).Bool("paused", desc.ProducerPaused).Msg("consuming")
	return desc, nil
}

func (o *Orchestrator) Resume(ctx context.Context, sid core.SessionID) error {
	sess, err := o.session(sid)
	if err != nil {
		return err
	}
	st := sess.Media()
	id, err := st.ConsumerToResume()
	if err != nil {
		return err
	}
	gctx, cancel := o.gatewayCtx(ctx)
	defer cancel()
	if err := o.Gateway.ResumeConsumer(gctx, id); err != nil {
		return core.GatewayError("resumeConsumer", err)
	}
	return st.MarkResumed(id)
}
