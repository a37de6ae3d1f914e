package rtc

import (
	"fmt"

	"github.com/dkeye/soundmesh/internal/core"
	"github.com/pion/interceptor"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

type Options struct {
	ICEServers []string
	UDPPortMin uint16
	UDPPortMax uint16
}

// Factory creates audio-only peer connections sharing one API instance.
type Factory struct {
	api    *webrtc.API
	config webrtc.Configuration
}

var _ core.MediaFactory = (*Factory)(nil)

func DefaultICEServers() []string {
	return []string{"stun:stun.l.google.com:19302"}
}

func NewFactory(opts Options) (*Factory, error) {
	m := &webrtc.MediaEngine{}
	if err := m.RegisterCodec(webrtc.RTPCodecParameters{
		RTPCodecCapability: webrtc.RTPCodecCapability{
			MimeType:    webrtc.MimeTypeOpus,
			ClockRate:   48000,
			Channels:    2,
			SDPFmtpLine: "minptime=10;useinbandfec=1",
		},
		PayloadType: 111,
	}, webrtc.RTPCodecTypeAudio); err != nil {
		return nil, fmt.Errorf("register opus: %w", err)
	}

	ir := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(m, ir); err != nil {
		return nil, fmt.Errorf("register interceptors: %w", err)
	}

	se := webrtc.SettingEngine{}
	if opts.UDPPortMin > 0 && opts.UDPPortMax >= opts.UDPPortMin {
		if err := se.SetEphemeralUDPPortRange(opts.UDPPortMin, opts.UDPPortMax); err != nil {
			return nil, fmt.Errorf("set UDP port range %d-%d: %w", opts.UDPPortMin, opts.UDPPortMax, err)
		}
	}

	servers := opts.ICEServers
	if len(servers) == 0 {
		servers = DefaultICEServers()
	}
	log.Info().Str("module", "webrtc").Strs("ice_servers", servers).
		Uint16("udp_min", opts.UDPPortMin).Uint16("udp_max", opts.UDPPortMax).Msg("media factory ready")

	return &Factory{
		api: webrtc.NewAPI(
			webrtc.WithMediaEngine(m),
			webrtc.WithInterceptorRegistry(ir),
			webrtc.WithSettingEngine(se),
		),
		config: webrtc.Configuration{
			ICEServers: []webrtc.ICEServer{{URLs: servers}},
		},
	}, nil
}

func (f *Factory) NewConnection(sid core.SessionID) (core.MediaConnection, error) {
	pc, err := f.api.NewPeerConnection(f.config)
	if err != nil {
		return nil, fmt.Errorf("new peer connection: %w", err)
	}
	return newConnection(pc, sid), nil
}
