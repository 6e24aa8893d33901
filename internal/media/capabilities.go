package media

import (
	"fmt"
	"strings"

	"github.com/pion/webrtc/v4"
)

// First dynamic payload type handed out to codecs without one.
const dynamicPayloadTypeBase = 100

// DefaultCodecs is the codec set advertised when config does not list any.
func DefaultCodecs() []RtpCodecCapability {
	return []RtpCodecCapability{
		{
			Kind:      KindAudio,
			MimeType:  webrtc.MimeTypeOpus,
			ClockRate: 48000,
			Channels:  2,
		},
		{
			Kind:      KindVideo,
			MimeType:  webrtc.MimeTypeVP8,
			ClockRate: 90000,
			Parameters: map[string]any{
				"x-google-start-bitrate": 1000,
			},
		},
	}
}

// Capabilities is the process-wide codec registry. Read-only after
// construction, safe for concurrent use.
type Capabilities struct {
	codecs []RtpCodecCapability
}

func NewCapabilities(codecs []RtpCodecCapability) (*Capabilities, error) {
	if len(codecs) == 0 {
		return nil, ErrNoCodecs
	}
	out := make([]RtpCodecCapability, 0, len(codecs))
	next := uint8(dynamicPayloadTypeBase)
	for _, c := range codecs {
		if c.Kind != KindAudio && c.Kind != KindVideo {
			return nil, fmt.Errorf("%w: %q", ErrUnknownKind, c.Kind)
		}
		if !strings.HasPrefix(strings.ToLower(c.MimeType), string(c.Kind)+"/") {
			return nil, fmt.Errorf("%w: mime %q does not match kind %q", ErrUnsupportedCodec, c.MimeType, c.Kind)
		}
		if c.ClockRate == 0 {
			return nil, fmt.Errorf("%w: %s has no clock rate", ErrUnsupportedCodec, c.MimeType)
		}
		if c.PreferredPayloadType == 0 {
			c.PreferredPayloadType = next
			next++
		}
		out = append(out, c)
	}
	return &Capabilities{codecs: out}, nil
}

// RouterCapabilities returns a copy of the advertised capability set.
func (c *Capabilities) RouterCapabilities() RtpCapabilities {
	codecs := make([]RtpCodecCapability, len(c.codecs))
	copy(codecs, c.codecs)
	return RtpCapabilities{Codecs: codecs}
}

// Codecs returns the registered codecs in registration order.
func (c *Capabilities) Codecs() []RtpCodecCapability {
	return c.RouterCapabilities().Codecs
}

// Supports reports whether every media codec in params is advertised.
func (c *Capabilities) Supports(params RtpParameters) error {
	if err := params.Validate(); err != nil {
		return err
	}
	for _, pc := range params.Codecs {
		if isRtx(pc.MimeType) {
			continue
		}
		if _, ok := findCapability(c.codecs, pc); !ok {
			return fmt.Errorf("%w: %s/%d", ErrUnsupportedCodec, pc.MimeType, pc.ClockRate)
		}
	}
	return nil
}

// CanConsume reports whether a receiver with caps can decode the main
// codec of the producer's parameters.
func CanConsume(producer RtpParameters, caps RtpCapabilities) bool {
	main, ok := mainCodec(producer)
	if !ok {
		return false
	}
	_, ok = findCapability(caps.Codecs, main)
	return ok
}

// ConsumerParameters derives the parameters a consumer receives: the
// producer's codecs the receiver supports, renumbered to the receiver's
// payload types, and a single encoding.
func ConsumerParameters(producer RtpParameters, caps RtpCapabilities, ssrc uint32) RtpParameters {
	out := RtpParameters{Rtcp: producer.Rtcp}
	for _, pc := range producer.Codecs {
		if isRtx(pc.MimeType) {
			continue
		}
		capability, ok := findCapability(caps.Codecs, pc)
		if !ok {
			continue
		}
		cp := pc
		if capability.PreferredPayloadType != 0 {
			cp.PayloadType = capability.PreferredPayloadType
		}
		cp.RtcpFeedback = capability.RtcpFeedback
		out.Codecs = append(out.Codecs, cp)
	}
	enc := RtpEncodingParameters{Ssrc: ssrc}
	if len(producer.Encodings) > 0 {
		enc.MaxBitrate = producer.Encodings[0].MaxBitrate
		if len(producer.Encodings) > 1 {
			enc.ScalabilityMode = fmt.Sprintf("L%dT3", len(producer.Encodings))
		} else {
			enc.ScalabilityMode = producer.Encodings[0].ScalabilityMode
		}
	}
	out.Encodings = []RtpEncodingParameters{enc}
	return out
}

// ConsumerTypeFor mirrors how an SFU would forward the producer's encodings.
func ConsumerTypeFor(producer RtpParameters) ConsumerType {
	switch {
	case len(producer.Encodings) > 1:
		return ConsumerSimulcast
	case len(producer.Encodings) == 1 && producer.Encodings[0].ScalabilityMode != "":
		return ConsumerSVC
	default:
		return ConsumerSimple
	}
}

// MatchesKind reports whether the main codec of p carries media of kind.
func MatchesKind(p RtpParameters, kind Kind) bool {
	main, ok := mainCodec(p)
	if !ok {
		return false
	}
	return strings.HasPrefix(strings.ToLower(main.MimeType), string(kind)+"/")
}

func mainCodec(p RtpParameters) (RtpCodecParameters, bool) {
	for _, c := range p.Codecs {
		if !isRtx(c.MimeType) {
			return c, true
		}
	}
	return RtpCodecParameters{}, false
}

func findCapability(caps []RtpCodecCapability, pc RtpCodecParameters) (RtpCodecCapability, bool) {
	for _, c := range caps {
		if !strings.EqualFold(c.MimeType, pc.MimeType) || c.ClockRate != pc.ClockRate {
			continue
		}
		if c.Kind == KindAudio && channels(c.Channels) != channels(pc.Channels) {
			continue
		}
		return c, true
	}
	return RtpCodecCapability{}, false
}

func channels(n uint16) uint16 {
	if n == 0 {
		return 1
	}
	return n
}

func isRtx(mime string) bool {
	return strings.HasSuffix(strings.ToLower(mime), "/rtx")
}
