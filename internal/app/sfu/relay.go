package sfu

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/dkeye/soundmesh/internal/core"
	"github.com/pion/interceptor"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
)

type rtpReader interface {
	ReadRTP() (*rtp.Packet, interceptor.Attributes, error)
}

// Relay is the track handle for one session's inbound audio. It copies RTP
// from the remote track into a local track that receivers' connections bind.
type Relay struct {
	owner core.SessionID
	src   rtpReader
	local *webrtc.TrackLocalStaticRTP

	cancel   context.CancelFunc
	stopOnce sync.Once
	done     chan struct{}
}

var _ core.Track = (*Relay)(nil)

func NewRelay(owner core.SessionID, src *webrtc.TrackRemote) (*Relay, error) {
	local, err := webrtc.NewTrackLocalStaticRTP(
		src.Codec().RTPCodecCapability,
		fmt.Sprintf("%s-%s", owner, src.ID()),
		string(owner),
	)
	if err != nil {
		return nil, fmt.Errorf("create local track: %w", err)
	}
	return newRelay(owner, src, local), nil
}

func newRelay(owner core.SessionID, src rtpReader, local *webrtc.TrackLocalStaticRTP) *Relay {
	return &Relay{
		owner: owner,
		src:   src,
		local: local,
		done:  make(chan struct{}),
	}
}

func (r *Relay) ID() string               { return r.local.ID() }
func (r *Relay) Owner() core.SessionID    { return r.owner }
func (r *Relay) Local() webrtc.TrackLocal { return r.local }
func (r *Relay) Done() <-chan struct{}    { return r.done }

// Stop asks the loop to exit. The loop may stay blocked in ReadRTP until the
// owning peer connection is closed.
func (r *Relay) Stop() {
	r.stopOnce.Do(func() {
		if r.cancel != nil {
			r.cancel()
		}
	})
}

// loop reads RTP packets from the source track and forwards them to the local track.
func (r *Relay) loop(ctx context.Context, logger *zerolog.Logger) {
	defer close(r.done)
	for {
		select {
		case <-ctx.Done():
			logger.Info().Msg("relay ctx done")
			return
		default:
		}
		pkt, _, err := r.src.ReadRTP()
		if err != nil {
			if errors.Is(err, io.EOF) {
				logger.Info().Msg("relay source ended")
			} else {
				logger.Warn().Err(err).Msg("relay read RTP error, stopping")
			}
			return
		}
		r.forward(pkt, logger)
	}
}

func (r *Relay) forward(pkt *rtp.Packet, logger *zerolog.Logger) {
	if err := r.local.WriteRTP(pkt); err != nil && !errors.Is(err, io.ErrClosedPipe) {
		logger.Debug().Err(err).Msg("relay write RTP error")
	}
}
