package core

import (
	"context"

	"github.com/dkeye/Broadcast/internal/domain"
	"github.com/dkeye/Broadcast/internal/media"
)

type RouterInfo struct {
	ID              string
	RtpCapabilities media.RtpCapabilities
}

type ProducerInfo struct {
	ID            string
	Kind          media.Kind
	RtpParameters media.RtpParameters
}

// MediaGateway is the boundary to the media-routing engine. Every call may
// block on the engine and may fail; implementations honor ctx.
type MediaGateway interface {
	CreateRouter(ctx context.Context, codecs []media.RtpCodecCapability) (RouterInfo, error)
	CreateTransport(ctx context.Context, routerID string) (media.TransportParameters, error)
	ConnectTransport(ctx context.Context, transportID string, dtls media.DtlsParameters) error
	SetMaxIncomingBitrate(ctx context.Context, transportID string, bps uint32) error
	CreateProducer(ctx context.Context, transportID string, kind media.Kind, rtp media.RtpParameters) (ProducerInfo, error)
	CanConsume(ctx context.Context, routerID, producerID string, caps media.RtpCapabilities) (bool, error)
	CreateConsumer(ctx context.Context, transportID, producerID string, caps media.RtpCapabilities, paused bool) (media.ConsumerDescriptor, error)
	SetPreferredLayers(ctx context.Context, consumerID string, layers media.ConsumerLayers) error
	ResumeConsumer(ctx context.Context, consumerID string) error
	CloseTransport(ctx context.Context, transportID string) error
	CloseProducer(ctx context.Context, producerID string) error
	CloseConsumer(ctx context.Context, consumerID string) error

	// Died fires once if the engine stops serving requests for good.
	Died() <-chan error
	Close() error
}

// MediaRecordStore persists where a finished broadcast was recorded.
type MediaRecordStore interface {
	SaveMediaRecord(ctx context.Context, rec domain.MediaRecord) error
	GetMediaRecord(ctx context.Context, room domain.RoomID, host domain.UserID) (domain.MediaRecord, error)
}

// PresenceStore mirrors room membership to an external observer.
type PresenceStore interface {
	MarkJoined(ctx context.Context, room domain.RoomID, sid SessionID) error
	MarkLeft(ctx context.Context, room domain.RoomID, sid SessionID) error
}
