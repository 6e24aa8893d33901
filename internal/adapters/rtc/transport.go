package rtc

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"

	"github.com/dkeye/Broadcast/internal/media"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

// NetTransport is the network half of an engine transport: the ICE and
// DTLS endpoint a client connects to.
type NetTransport interface {
	Parameters() (media.IceParameters, []media.IceCandidate, media.DtlsParameters)
	Connect(remote media.DtlsParameters) error
	Close() error
}

type TransportFactory interface {
	New(ctx context.Context) (NetTransport, error)
}

type NetworkConfig struct {
	ListenIP    string
	AnnouncedIP string
	MinPort     uint16
	MaxPort     uint16
}

// PionFactory gathers ICE candidates and prepares a DTLS endpoint through
// pion's ORTC API.
type PionFactory struct {
	api *webrtc.API
}

func NewPionFactory(cfg NetworkConfig) (*PionFactory, error) {
	se := webrtc.SettingEngine{}
	if cfg.MinPort != 0 || cfg.MaxPort != 0 {
		if err := se.SetEphemeralUDPPortRange(cfg.MinPort, cfg.MaxPort); err != nil {
			return nil, fmt.Errorf("set ephemeral udp port range: %w", err)
		}
	}
	if cfg.AnnouncedIP != "" {
		se.SetNAT1To1IPs([]string{cfg.AnnouncedIP}, webrtc.ICECandidateTypeHost)
	}
	if ip := net.ParseIP(cfg.ListenIP); ip != nil && !ip.IsUnspecified() {
		se.SetIPFilter(func(candidate net.IP) bool {
			return candidate.Equal(ip)
		})
	}
	se.SetLite(true)
	return &PionFactory{api: webrtc.NewAPI(webrtc.WithSettingEngine(se))}, nil
}

func (f *PionFactory) New(ctx context.Context) (NetTransport, error) {
	gatherer, err := f.api.NewICEGatherer(webrtc.ICEGatherOptions{})
	if err != nil {
		return nil, fmt.Errorf("ice gatherer: %w", err)
	}

	done := make(chan struct{})
	var once sync.Once
	gatherer.OnLocalCandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			once.Do(func() { close(done) })
		}
	})
	if err := gatherer.Gather(); err != nil {
		_ = gatherer.Close()
		return nil, fmt.Errorf("gather: %w", err)
	}
	select {
	case <-done:
	case <-ctx.Done():
		_ = gatherer.Close()
		return nil, ctx.Err()
	}

	iceParams, err := gatherer.GetLocalParameters()
	if err != nil {
		_ = gatherer.Close()
		return nil, fmt.Errorf("ice parameters: %w", err)
	}
	candidates, err := gatherer.GetLocalCandidates()
	if err != nil {
		_ = gatherer.Close()
		return nil, fmt.Errorf("ice candidates: %w", err)
	}

	ice := f.api.NewICETransport(gatherer)
	dtls, err := f.api.NewDTLSTransport(ice, nil)
	if err != nil {
		_ = gatherer.Close()
		return nil, fmt.Errorf("dtls transport: %w", err)
	}
	dtlsParams, err := dtls.GetLocalParameters()
	if err != nil {
		_ = gatherer.Close()
		return nil, fmt.Errorf("dtls parameters: %w", err)
	}

	t := &pionTransport{gatherer: gatherer, ice: ice, dtls: dtls}
	t.iceParams = media.IceParameters{
		UsernameFragment: iceParams.UsernameFragment,
		Password:         iceParams.Password,
		IceLite:          iceParams.ICELite,
	}
	for _, c := range candidates {
		t.candidates = append(t.candidates, media.IceCandidate{
			Foundation: c.Foundation,
			Priority:   c.Priority,
			IP:         c.Address,
			Address:    c.Address,
			Protocol:   c.Protocol.String(),
			Port:       c.Port,
			Type:       c.Typ.String(),
			TCPType:    c.TCPType,
		})
	}
	t.dtlsParams = media.DtlsParameters{Role: dtlsParams.Role.String()}
	for _, fp := range dtlsParams.Fingerprints {
		t.dtlsParams.Fingerprints = append(t.dtlsParams.Fingerprints, media.DtlsFingerprint{Algorithm: fp.Algorithm, Value: fp.Value})
	}
	log.Debug().Str("module", "rtc").Int("candidates", len(t.candidates)).Msg("transport gathered")
	return t, nil
}

type pionTransport struct {
	gatherer *webrtc.ICEGatherer
	ice      *webrtc.ICETransport
	dtls     *webrtc.DTLSTransport

	iceParams  media.IceParameters
	candidates []media.IceCandidate
	dtlsParams media.DtlsParameters

	mu     sync.Mutex
	remote *media.DtlsParameters
}

func (t *pionTransport) Parameters() (media.IceParameters, []media.IceCandidate, media.DtlsParameters) {
	return t.iceParams, t.candidates, t.dtlsParams
}

// Connect records the client's DTLS parameters. The handshake itself is
// driven by the media path once ICE completes.
func (t *pionTransport) Connect(remote media.DtlsParameters) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.remote != nil {
		return errors.New("transport already connected")
	}
	t.remote = &remote
	return nil
}

func (t *pionTransport) Close() error {
	return errors.Join(t.dtls.Stop(), t.ice.Stop(), t.gatherer.Close())
}
