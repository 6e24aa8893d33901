package signal

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/dkeye/Broadcast/internal/core"
	"github.com/dkeye/Broadcast/internal/media"
)

// Request methods.
const (
	MethodGetRouterRtpCapabilities = "getRouterRtpCapabilities"
	MethodCreateProducerTransport  = "createProducerTransport"
	MethodCreateConsumerTransport  = "createConsumerTransport"
	MethodConnectProducerTransport = "connectProducerTransport"
	MethodConnectConsumerTransport = "connectConsumerTransport"
	MethodProduce                  = "produce"
	MethodConsume                  = "consume"
	MethodResume                   = "resume"
	MethodWhoAmI                   = "whoami"
)

type connectPayload struct {
	DtlsParameters *media.DtlsParameters `json:"dtlsParameters"`
}

type producePayload struct {
	Kind          string               `json:"kind"`
	RtpParameters *media.RtpParameters `json:"rtpParameters"`
}

type consumePayload struct {
	RtpCapabilities *media.RtpCapabilities `json:"rtpCapabilities"`
}

func decode[T any](raw json.RawMessage) (T, error) {
	var v T
	if len(raw) == 0 {
		return v, fmt.Errorf("%w: missing data", core.ErrBadRequest)
	}
	if err := json.Unmarshal(raw, &v); err != nil {
		return v, fmt.Errorf("%w: %v", core.ErrBadRequest, err)
	}
	return v, nil
}

func (ctl *SignalWSController) dispatch(ctx context.Context, sid core.SessionID, req core.Request) (any, error) {
	o := ctl.Orch
	switch req.Method {
	case MethodGetRouterRtpCapabilities:
		return o.GetRouterRtpCapabilities(sid)

	case MethodCreateProducerTransport:
		return o.CreateProducerTransport(ctx, sid)

	case MethodCreateConsumerTransport:
		return o.CreateConsumerTransport(ctx, sid)

	case MethodConnectProducerTransport, MethodConnectConsumerTransport:
		p, err := decode[connectPayload](req.Data)
		if err != nil {
			return nil, err
		}
		if p.DtlsParameters == nil {
			return nil, fmt.Errorf("%w: dtlsParameters required", core.ErrBadRequest)
		}
		if req.Method == MethodConnectProducerTransport {
			return nil, o.ConnectProducerTransport(ctx, sid, *p.DtlsParameters)
		}
		return nil, o.ConnectConsumerTransport(ctx, sid, *p.DtlsParameters)

	case MethodProduce:
		p, err := decode[producePayload](req.Data)
		if err != nil {
			return nil, err
		}
		kind, err := media.ParseKind(p.Kind)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", core.ErrBadRequest, err)
		}
		if p.RtpParameters == nil {
			return nil, fmt.Errorf("%w: rtpParameters required", core.ErrBadRequest)
		}
		return o.Produce(ctx, sid, kind, *p.RtpParameters)

	case MethodConsume:
		p, err := decode[consumePayload](req.Data)
		if err != nil {
			return nil, err
		}
		if p.RtpCapabilities == nil {
			return nil, fmt.Errorf("%w: rtpCapabilities required", core.ErrBadRequest)
		}
		return o.Consume(ctx, sid, *p.RtpCapabilities)

	case MethodResume:
		return nil, o.Resume(ctx, sid)

	case MethodWhoAmI:
		return o.WhoAmI(sid)
	}
	return nil, fmt.Errorf("%w: %q", core.ErrUnknownMethod, req.Method)
}
