// Package media holds the negotiation payloads exchanged between clients,
// the signaling coordinator and the media engine, plus the codec capability
// registry advertised by the router.
package media

import (
	"errors"
	"fmt"

	"github.com/pion/webrtc/v4"
)

var (
	ErrUnknownKind      = errors.New("unknown media kind")
	ErrNoCodecs         = errors.New("no codecs")
	ErrNoFingerprints   = errors.New("no dtls fingerprints")
	ErrInvalidDtlsRole  = errors.New("invalid dtls role")
	ErrUnsupportedCodec = errors.New("unsupported codec")
)

type Kind string

const (
	KindAudio Kind = "audio"
	KindVideo Kind = "video"
)

// ParseKind accepts the same spelling pion uses for RTP codec types.
func ParseKind(s string) (Kind, error) {
	switch webrtc.NewRTPCodecType(s) {
	case webrtc.RTPCodecTypeAudio:
		return KindAudio, nil
	case webrtc.RTPCodecTypeVideo:
		return KindVideo, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownKind, s)
}

type RtcpFeedback struct {
	Type      string `json:"type"`
	Parameter string `json:"parameter,omitempty"`
}

type RtpCodecCapability struct {
	Kind                 Kind           `json:"kind"`
	MimeType             string         `json:"mimeType"`
	PreferredPayloadType uint8          `json:"preferredPayloadType,omitempty"`
	ClockRate            uint32         `json:"clockRate"`
	Channels             uint16         `json:"channels,omitempty"`
	Parameters           map[string]any `json:"parameters,omitempty"`
	RtcpFeedback         []RtcpFeedback `json:"rtcpFeedback,omitempty"`
}

type RtpHeaderExtension struct {
	Kind        Kind   `json:"kind"`
	URI         string `json:"uri"`
	PreferredID int    `json:"preferredId"`
	Direction   string `json:"direction,omitempty"`
}

type RtpCapabilities struct {
	Codecs           []RtpCodecCapability `json:"codecs"`
	HeaderExtensions []RtpHeaderExtension `json:"headerExtensions,omitempty"`
}

type RtpCodecParameters struct {
	MimeType     string         `json:"mimeType"`
	PayloadType  uint8          `json:"payloadType"`
	ClockRate    uint32         `json:"clockRate"`
	Channels     uint16         `json:"channels,omitempty"`
	Parameters   map[string]any `json:"parameters,omitempty"`
	RtcpFeedback []RtcpFeedback `json:"rtcpFeedback,omitempty"`
}

type RtpHeaderExtensionParameters struct {
	URI     string `json:"uri"`
	ID      int    `json:"id"`
	Encrypt bool   `json:"encrypt,omitempty"`
}

type RtpEncodingParameters struct {
	Ssrc            uint32 `json:"ssrc,omitempty"`
	Rid             string `json:"rid,omitempty"`
	MaxBitrate      uint32 `json:"maxBitrate,omitempty"`
	ScalabilityMode string `json:"scalabilityMode,omitempty"`
	Dtx             bool   `json:"dtx,omitempty"`
}

type RtcpParameters struct {
	Cname       string `json:"cname,omitempty"`
	ReducedSize bool   `json:"reducedSize"`
}

type RtpParameters struct {
	Mid              string                         `json:"mid,omitempty"`
	Codecs           []RtpCodecParameters           `json:"codecs"`
	HeaderExtensions []RtpHeaderExtensionParameters `json:"headerExtensions,omitempty"`
	Encodings        []RtpEncodingParameters        `json:"encodings,omitempty"`
	Rtcp             *RtcpParameters                `json:"rtcp,omitempty"`
}

func (p RtpParameters) Validate() error {
	if len(p.Codecs) == 0 {
		return ErrNoCodecs
	}
	return nil
}

type IceParameters struct {
	UsernameFragment string `json:"usernameFragment"`
	Password         string `json:"password"`
	IceLite          bool   `json:"iceLite"`
}

type IceCandidate struct {
	Foundation string `json:"foundation"`
	Priority   uint32 `json:"priority"`
	IP         string `json:"ip"`
	Address    string `json:"address"`
	Protocol   string `json:"protocol"`
	Port       uint16 `json:"port"`
	Type       string `json:"type"`
	TCPType    string `json:"tcpType,omitempty"`
}

type DtlsFingerprint struct {
	Algorithm string `json:"algorithm"`
	Value     string `json:"value"`
}

type DtlsParameters struct {
	Role         string            `json:"role,omitempty"`
	Fingerprints []DtlsFingerprint `json:"fingerprints"`
}

func (p DtlsParameters) Validate() error {
	switch p.Role {
	case "", "auto", "client", "server":
	default:
		return fmt.Errorf("%w: %q", ErrInvalidDtlsRole, p.Role)
	}
	if len(p.Fingerprints) == 0 {
		return ErrNoFingerprints
	}
	return nil
}

// TransportParameters is handed to the client as-is so it can build its
// side of the transport.
type TransportParameters struct {
	ID             string         `json:"id"`
	IceParameters  IceParameters  `json:"iceParameters"`
	IceCandidates  []IceCandidate `json:"iceCandidates"`
	DtlsParameters DtlsParameters `json:"dtlsParameters"`
}

type ConsumerType string

const (
	ConsumerSimple    ConsumerType = "simple"
	ConsumerSimulcast ConsumerType = "simulcast"
	ConsumerSVC       ConsumerType = "svc"
)

type ConsumerDescriptor struct {
	ProducerID     string        `json:"producerId"`
	ID             string        `json:"id"`
	Kind           Kind          `json:"kind"`
	RtpParameters  RtpParameters `json:"rtpParameters"`
	Type           ConsumerType  `json:"type"`
	ProducerPaused bool          `json:"producerPaused"`
}

type ConsumerLayers struct {
	SpatialLayer  uint8 `json:"spatialLayer"`
	TemporalLayer uint8 `json:"temporalLayer"`
}

// PreferredSimulcastLayers is applied to every simulcast consumer.
var PreferredSimulcastLayers = ConsumerLayers{SpatialLayer: 2, TemporalLayer: 2}
