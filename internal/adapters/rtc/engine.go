package rtc

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/dkeye/Broadcast/internal/core"
	"github.com/dkeye/Broadcast/internal/media"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

var (
	ErrEngineClosed = errors.New("media engine closed")
	ErrNotFound     = errors.New("not found")
)

type router struct {
	id   string
	caps *media.Capabilities
}

type transport struct {
	id        string
	routerID  string
	net       NetTransport
	connected bool
	producers map[string]struct{}
	consumers map[string]struct{}

	initialOutgoingBitrate uint32
	maxIncomingBitrate     uint32
}

type producer struct {
	id          string
	transportID string
	routerID    string
	kind        media.Kind
	rtp         media.RtpParameters
	paused      bool
	consumers   map[string]struct{}
}

type consumer struct {
	id          string
	transportID string
	producerID  string
	kind        media.Kind
	typ         media.ConsumerType
	paused      bool
	layers      *media.ConsumerLayers
}

type result struct {
	val any
	err error
}

type request struct {
	fn    func() (any, error)
	reply chan result
}

// Engine is an in-process media engine. Routers, transports, producers
// and consumers live on one worker goroutine; every public method is a
// request to it. If the worker panics the engine reports itself dead
// through Died.
type Engine struct {
	factory TransportFactory

	reqs chan request
	stop chan struct{}
	done chan struct{}
	died chan error

	stopOnce sync.Once
	exitOnce sync.Once
	exitErr  error

	// owned by the worker
	routers    map[string]*router
	transports map[string]*transport
	producers  map[string]*producer
	consumers  map[string]*consumer
	ssrc       uint32

	initialOutgoingBitrate uint32
}

type Option func(*Engine)

// WithInitialOutgoingBitrate sets the send estimate, in bits per second,
// new transports start from.
func WithInitialOutgoingBitrate(bps uint32) Option {
	return func(e *Engine) { e.initialOutgoingBitrate = bps }
}

func NewEngine(factory TransportFactory, opts ...Option) *Engine {
	e := &Engine{
		factory:    factory,
		reqs:       make(chan request),
		stop:       make(chan struct{}),
		done:       make(chan struct{}),
		died:       make(chan error, 1),
		routers:    make(map[string]*router),
		transports: make(map[string]*transport),
		producers:  make(map[string]*producer),
		consumers:  make(map[string]*consumer),
		ssrc:       100000000,
	}
	for _, opt := range opts {
		opt(e)
	}
	go e.run()
	return e
}

func (e *Engine) run() {
	defer func() {
		if r := recover(); r != nil {
			err := fmt.Errorf("%w: worker panic: %v", core.ErrGatewayProcessLoss, r)
			log.Error().Str("module", "rtc").Err(err).Msg("media worker died")
			e.exit(err, true)
		}
	}()
	for {
		select {
		case <-e.stop:
			e.exit(ErrEngineClosed, false)
			return
		case req := <-e.reqs:
			v, err := req.fn()
			req.reply <- result{val: v, err: err}
		}
	}
}

func (e *Engine) exit(err error, died bool) {
	e.exitOnce.Do(func() {
		e.exitErr = err
		close(e.done)
		if died {
			e.died <- err
		}
	})
}

func (e *Engine) Died() <-chan error { return e.died }

// Close stops the worker and releases every network transport.
func (e *Engine) Close() error {
	var nets []NetTransport
	_, err := e.call(context.Background(), func() (any, error) {
		for id, t := range e.transports {
			nets = append(nets, t.net)
			delete(e.transports, id)
		}
		clear(e.producers)
		clear(e.consumers)
		return nil, nil
	}, nil)
	e.stopOnce.Do(func() { close(e.stop) })
	<-e.done
	closeNets(nets)
	if errors.Is(err, ErrEngineClosed) {
		return nil
	}
	return err
}

func closeNets(nets []NetTransport) {
	for _, n := range nets {
		if n == nil {
			continue
		}
		if err := n.Close(); err != nil {
			log.Warn().Str("module", "rtc").Err(err).Msg("close net transport")
		}
	}
}

// call runs fn on the worker. When ctx ends first, undo receives whatever
// fn produced so nothing created for an abandoned caller leaks.
func (e *Engine) call(ctx context.Context, fn func() (any, error), undo func(any)) (any, error) {
	reply := make(chan result, 1)
	select {
	case e.reqs <- request{fn: fn, reply: reply}:
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-e.done:
		return nil, e.exitErr
	}
	select {
	case r := <-reply:
		return r.val, r.err
	case <-ctx.Done():
		if undo != nil {
			go func() {
				select {
				case r := <-reply:
					if r.err == nil {
						undo(r.val)
					}
				case <-e.done:
				}
			}()
		}
		return nil, ctx.Err()
	case <-e.done:
		return nil, e.exitErr
	}
}

func (e *Engine) nextSSRC() uint32 {
	e.ssrc++
	return e.ssrc
}

func (e *Engine) CreateRouter(ctx context.Context, codecs []media.RtpCodecCapability) (core.RouterInfo, error) {
	caps, err := media.NewCapabilities(codecs)
	if err != nil {
		return core.RouterInfo{}, err
	}
	v, err := e.call(ctx, func() (any, error) {
		r := &router{id: uuid.NewString(), caps: caps}
		e.routers[r.id] = r
		return core.RouterInfo{ID: r.id, RtpCapabilities: caps.RouterCapabilities()}, nil
	}, nil)
	if err != nil {
		return core.RouterInfo{}, err
	}
	info := v.(core.RouterInfo)
	log.Info().Str("module", "rtc").Str("router_id", info.ID).Msg("router created")
	return info, nil
}

// CreateTransport gathers the network side first and then registers it on
// the worker, so slow gathering never stalls other requests.
func (e *Engine) CreateTransport(ctx context.Context, routerID string) (media.TransportParameters, error) {
	if _, err := e.call(ctx, func() (any, error) {
		if _, ok := e.routers[routerID]; !ok {
			return nil, fmt.Errorf("router %s: %w", routerID, ErrNotFound)
		}
		return nil, nil
	}, nil); err != nil {
		return media.TransportParameters{}, err
	}

	nt, err := e.factory.New(ctx)
	if err != nil {
		return media.TransportParameters{}, err
	}
	iceParams, candidates, dtls := nt.Parameters()
	params := media.TransportParameters{
		ID:             uuid.NewString(),
		IceParameters:  iceParams,
		IceCandidates:  candidates,
		DtlsParameters: dtls,
	}

	_, err = e.call(ctx, func() (any, error) {
		if _, ok := e.routers[routerID]; !ok {
			return nil, fmt.Errorf("router %s: %w", routerID, ErrNotFound)
		}
		e.transports[params.ID] = &transport{
			id:        params.ID,
			routerID:  routerID,
			net:       nt,
			producers: make(map[string]struct{}),
			consumers: make(map[string]struct{}),

			initialOutgoingBitrate: e.initialOutgoingBitrate,
		}
		return params.ID, nil
	}, func(any) { _ = e.CloseTransport(context.Background(), params.ID) })
	if err != nil {
		// Registration never happened or was abandoned; undo covers the
		// latter once the worker answers.
		if !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
			closeNets([]NetTransport{nt})
		}
		return media.TransportParameters{}, err
	}
	log.Debug().Str("module", "rtc").Str("transport_id", params.ID).Msg("transport created")
	return params, nil
}

func (e *Engine) ConnectTransport(ctx context.Context, transportID string, dtls media.DtlsParameters) error {
	if err := dtls.Validate(); err != nil {
		return err
	}
	_, err := e.call(ctx, func() (any, error) {
		t, ok := e.transports[transportID]
		if !ok {
			return nil, fmt.Errorf("transport %s: %w", transportID, ErrNotFound)
		}
		if t.connected {
			return nil, fmt.Errorf("transport %s already connected", transportID)
		}
		if err := t.net.Connect(dtls); err != nil {
			return nil, err
		}
		t.connected = true
		return nil, nil
	}, nil)
	return err
}

// SetMaxIncomingBitrate caps the bitrate a client may send on transportID.
func (e *Engine) SetMaxIncomingBitrate(ctx context.Context, transportID string, bps uint32) error {
	_, err := e.call(ctx, func() (any, error) {
		t, ok := e.transports[transportID]
		if !ok {
			return nil, fmt.Errorf("transport %s: %w", transportID, ErrNotFound)
		}
		t.maxIncomingBitrate = bps
		return nil, nil
	}, nil)
	return err
}

func (e *Engine) CreateProducer(ctx context.Context, transportID string, kind media.Kind, rtp media.RtpParameters) (core.ProducerInfo, error) {
	v, err := e.call(ctx, func() (any, error) {
		t, ok := e.transports[transportID]
		if !ok {
			return nil, fmt.Errorf("transport %s: %w", transportID, ErrNotFound)
		}
		r := e.routers[t.routerID]
		if err := r.caps.Supports(rtp); err != nil {
			return nil, err
		}
		if !media.MatchesKind(rtp, kind) {
			return nil, fmt.Errorf("%w: codec does not match kind %s", media.ErrUnsupportedCodec, kind)
		}
		p := &producer{
			id:          uuid.NewString(),
			transportID: transportID,
			routerID:    t.routerID,
			kind:        kind,
			rtp:         rtp,
			consumers:   make(map[string]struct{}),
		}
		e.producers[p.id] = p
		t.producers[p.id] = struct{}{}
		return core.ProducerInfo{ID: p.id, Kind: kind, RtpParameters: rtp}, nil
	}, func(v any) { _ = e.CloseProducer(context.Background(), v.(core.ProducerInfo).ID) })
	if err != nil {
		return core.ProducerInfo{}, err
	}
	info := v.(core.ProducerInfo)
	log.Info().Str("module", "rtc").Str("producer_id", info.ID).Str("kind", string(kind)).Msg("producer created")
	return info, nil
}

func (e *Engine) CanConsume(ctx context.Context, routerID, producerID string, caps media.RtpCapabilities) (bool, error) {
	v, err := e.call(ctx, func() (any, error) {
		p, ok := e.producers[producerID]
		if !ok || p.routerID != routerID {
			return false, nil
		}
		return media.CanConsume(p.rtp, caps), nil
	}, nil)
	if err != nil {
		return false, err
	}
	return v.(bool), nil
}

// CreateConsumer binds a consumer to producerID. The descriptor reports
// producerPaused when either the producer is paused or the consumer was
// created paused.
func (e *Engine) CreateConsumer(ctx context.Context, transportID, producerID string, caps media.RtpCapabilities, paused bool) (media.ConsumerDescriptor, error) {
	v, err := e.call(ctx, func() (any, error) {
		t, ok := e.transports[transportID]
		if !ok {
			return nil, fmt.Errorf("transport %s: %w", transportID, ErrNotFound)
		}
		p, ok := e.producers[producerID]
		if !ok {
			return nil, fmt.Errorf("producer %s: %w", producerID, ErrNotFound)
		}
		if !media.CanConsume(p.rtp, caps) {
			return nil, fmt.Errorf("%w: cannot consume %s", media.ErrUnsupportedCodec, producerID)
		}
		c := &consumer{
			id:          uuid.NewString(),
			transportID: transportID,
			producerID:  producerID,
			kind:        p.kind,
			typ:         media.ConsumerTypeFor(p.rtp),
			paused:      paused,
		}
		e.consumers[c.id] = c
		t.consumers[c.id] = struct{}{}
		p.consumers[c.id] = struct{}{}
		return media.ConsumerDescriptor{
			ProducerID:     producerID,
			ID:             c.id,
			Kind:           c.kind,
			RtpParameters:  media.ConsumerParameters(p.rtp, caps, e.nextSSRC()),
			Type:           c.typ,
			ProducerPaused: p.paused || paused,
		}, nil
	}, func(v any) { _ = e.CloseConsumer(context.Background(), v.(media.ConsumerDescriptor).ID) })
	if err != nil {
		return media.ConsumerDescriptor{}, err
	}
	return v.(media.ConsumerDescriptor), nil
}

func (e *Engine) SetPreferredLayers(ctx context.Context, consumerID string, layers media.ConsumerLayers) error {
	_, err := e.call(ctx, func() (any, error) {
		c, ok := e.consumers[consumerID]
		if !ok {
			return nil, fmt.Errorf("consumer %s: %w", consumerID, ErrNotFound)
		}
		if c.typ == media.ConsumerSimple {
			return nil, nil
		}
		l := layers
		c.layers = &l
		return nil, nil
	}, nil)
	return err
}

func (e *Engine) ResumeConsumer(ctx context.Context, consumerID string) error {
	_, err := e.call(ctx, func() (any, error) {
		c, ok := e.consumers[consumerID]
		if !ok {
			return nil, fmt.Errorf("consumer %s: %w", consumerID, ErrNotFound)
		}
		c.paused = false
		return nil, nil
	}, nil)
	return err
}

// CloseTransport closes the transport with everything produced or
// consumed on it. Unknown ids are not an error.
func (e *Engine) CloseTransport(ctx context.Context, transportID string) error {
	v, err := e.call(ctx, func() (any, error) {
		t, ok := e.transports[transportID]
		if !ok {
			return nil, nil
		}
		for id := range t.producers {
			e.dropProducer(id)
		}
		for id := range t.consumers {
			e.dropConsumer(id)
		}
		delete(e.transports, transportID)
		return t.net, nil
	}, nil)
	if err != nil {
		return err
	}
	if nt, ok := v.(NetTransport); ok {
		closeNets([]NetTransport{nt})
	}
	return nil
}

func (e *Engine) CloseProducer(ctx context.Context, producerID string) error {
	_, err := e.call(ctx, func() (any, error) {
		e.dropProducer(producerID)
		return nil, nil
	}, nil)
	return err
}

func (e *Engine) CloseConsumer(ctx context.Context, consumerID string) error {
	_, err := e.call(ctx, func() (any, error) {
		e.dropConsumer(consumerID)
		return nil, nil
	}, nil)
	return err
}

func (e *Engine) dropProducer(id string) {
	p, ok := e.producers[id]
	if !ok {
		return
	}
	for cid := range p.consumers {
		e.dropConsumer(cid)
	}
	if t, ok := e.transports[p.transportID]; ok {
		delete(t.producers, id)
	}
	delete(e.producers, id)
}

func (e *Engine) dropConsumer(id string) {
	c, ok := e.consumers[id]
	if !ok {
		return
	}
	if t, ok := e.transports[c.transportID]; ok {
		delete(t.consumers, id)
	}
	if p, ok := e.producers[c.producerID]; ok {
		delete(p.consumers, id)
	}
	delete(e.consumers, id)
}

type Stats struct {
	Routers    int `json:"routers"`
	Transports int `json:"transports"`
	Producers  int `json:"producers"`
	Consumers  int `json:"consumers"`
}

func (e *Engine) Stats(ctx context.Context) (Stats, error) {
	v, err := e.call(ctx, func() (any, error) {
		return Stats{
			Routers:    len(e.routers),
			Transports: len(e.transports),
			Producers:  len(e.producers),
			Consumers:  len(e.consumers),
		}, nil
	}, nil)
	if err != nil {
		return Stats{}, err
	}
	return v.(Stats), nil
}
