package rtc

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/dkeye/soundmesh/internal/core"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

var ErrUnboundTrack = errors.New("track has no local media")

// Connection is a core.MediaConnection over a pion PeerConnection.
type Connection struct {
	pc     *webrtc.PeerConnection
	sid    core.SessionID
	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	senders map[core.Track]*webrtc.RTPSender
	order   []core.Track
	onTrack func(ctx context.Context, track *webrtc.TrackRemote)
	onICE   func(webrtc.ICECandidateInit)
	onState func(webrtc.PeerConnectionState)
}

var _ core.MediaConnection = (*Connection)(nil)

func newConnection(pc *webrtc.PeerConnection, sid core.SessionID) *Connection {
	ctx, cancel := context.WithCancel(context.Background())
	c := &Connection{
		pc:      pc,
		sid:     sid,
		ctx:     ctx,
		cancel:  cancel,
		senders: make(map[core.Track]*webrtc.RTPSender),
	}

	pc.OnICEConnectionStateChange(func(s webrtc.ICEConnectionState) {
		log.Info().Str("module", "webrtc").Str("sid", string(sid)).Str("ice_state", s.String()).Msg("ICE state")
	})

	pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		log.Info().Str("module", "webrtc").Str("sid", string(sid)).Str("peer_connection_state", s.String()).Msg("Peer state")
		if s == webrtc.PeerConnectionStateFailed || s == webrtc.PeerConnectionStateClosed {
			cancel()
		}
		c.mu.Lock()
		fn := c.onState
		c.mu.Unlock()
		if fn != nil {
			fn(s)
		}
	})

	pc.OnICECandidate(func(cand *webrtc.ICECandidate) {
		if cand == nil {
			return
		}
		c.mu.Lock()
		fn := c.onICE
		c.mu.Unlock()
		if fn != nil {
			fn(cand.ToJSON())
		}
	})

	pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		log.Info().
			Str("module", "webrtc").
			Str("sid", string(sid)).
			Str("kind", track.Kind().String()).
			Str("track_id", track.ID()).
			Str("stream_id", track.StreamID()).
			Msg("OnTrack received")
		c.mu.Lock()
		fn := c.onTrack
		c.mu.Unlock()
		if fn != nil {
			fn(ctx, track)
		}
	})

	return c
}

func (c *Connection) CreateOffer() (webrtc.SessionDescription, error) {
	return c.pc.CreateOffer(nil)
}

func (c *Connection) CreateAnswer() (webrtc.SessionDescription, error) {
	return c.pc.CreateAnswer(nil)
}

func (c *Connection) SetLocalDescription(d webrtc.SessionDescription) error {
	return c.pc.SetLocalDescription(d)
}

func (c *Connection) SetRemoteDescription(d webrtc.SessionDescription) error {
	return c.pc.SetRemoteDescription(d)
}

func (c *Connection) LocalDescription() *webrtc.SessionDescription {
	return c.pc.LocalDescription()
}

func (c *Connection) AddICECandidate(ci *webrtc.ICECandidateInit) error {
	if ci == nil || ci.Candidate == "" {
		// pion treats an empty candidate as end-of-candidates.
		return c.pc.AddICECandidate(webrtc.ICECandidateInit{})
	}
	return c.pc.AddICECandidate(*ci)
}

// AddTrack binds t into the connection unless it is already forwarded.
func (c *Connection) AddTrack(t core.Track) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.senders[t]; ok {
		return nil
	}
	local := t.Local()
	if local == nil {
		return ErrUnboundTrack
	}
	sender, err := c.pc.AddTrack(local)
	if err != nil {
		return fmt.Errorf("add track %s: %w", t.ID(), err)
	}
	c.senders[t] = sender
	c.order = append(c.order, t)

	go drainRTCP(c.sid, t.ID(), sender)
	return nil
}

// RemoveTrack unbinds t; removing a track that is not forwarded is a no-op.
func (c *Connection) RemoveTrack(t core.Track) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	sender, ok := c.senders[t]
	if !ok {
		return nil
	}
	delete(c.senders, t)
	for i, cur := range c.order {
		if cur == t {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
	if c.pc.ConnectionState() == webrtc.PeerConnectionStateClosed {
		return nil
	}
	if err := c.pc.RemoveTrack(sender); err != nil {
		return fmt.Errorf("remove track %s: %w", t.ID(), err)
	}
	return nil
}

func (c *Connection) Senders() []core.Track {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]core.Track(nil), c.order...)
}

func (c *Connection) Close() error {
	c.cancel()
	err := c.pc.Close()
	if err != nil {
		log.Error().Err(err).Str("module", "webrtc").Str("sid", string(c.sid)).Msg("close error")
	} else {
		log.Info().Str("module", "webrtc").Str("sid", string(c.sid)).Msg("closed")
	}
	c.mu.Lock()
	c.senders = make(map[core.Track]*webrtc.RTPSender)
	c.order = nil
	c.mu.Unlock()
	return err
}

// IsClosed reports whether the connection can no longer carry media.
func (c *Connection) IsClosed() bool {
	switch c.pc.ConnectionState() {
	case webrtc.PeerConnectionStateClosed, webrtc.PeerConnectionStateFailed:
		return true
	}
	return false
}

func (c *Connection) OnTrack(fn func(ctx context.Context, track *webrtc.TrackRemote)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onTrack = fn
}

func (c *Connection) OnICECandidate(fn func(webrtc.ICECandidateInit)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onICE = fn
}

func (c *Connection) OnStateChange(fn func(webrtc.PeerConnectionState)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onState = fn
}
