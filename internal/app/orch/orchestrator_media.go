package orch

import (
	"context"
	"errors"
	"fmt"

	"github.com/dkeye/soundmesh/internal/app/sfu"
	"github.com/dkeye/soundmesh/internal/core"
	"github.com/dkeye/soundmesh/internal/domain"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

const (
	msgConnected  = "WebRTC connection established successfully."
	msgConnFailed = "WebRTC connection failed. You may need to reconnect."
)

// HandleOffer applies a client offer, creating the peer connection on first
// use or when the previous one failed, and replies with an answer. Tracks the
// session should already be hearing are added afterwards and offered back.
func (o *Orchestrator) HandleOffer(sess *core.Session, sdp string) error {
	o.mu.Lock()
	dirty, err := o.handleOfferLocked(sess, sdp)
	o.mu.Unlock()
	o.schedule(dirty)
	return err
}

func (o *Orchestrator) handleOfferLocked(sess *core.Session, sdp string) (sfu.Dirty, error) {
	logger := log.With().Str("module", "orch").Str("sid", string(sess.ID)).Logger()
	if !sess.Authorized() {
		return nil, ErrNotAuthorized
	}
	dirty := sfu.Dirty{}

	mc := sess.Media()
	if mc != nil && mc.IsClosed() {
		logger.Info().Msg("replacing failed peer connection")
		dirty.Merge(o.dropMediaLocked(sess))
		mc = nil
	}
	if mc == nil {
		created, err := o.Media.NewConnection(sess.ID)
		if err != nil {
			return dirty, fmt.Errorf("create peer connection: %w", err)
		}
		o.bindMedia(sess, created)
		sess.UpdateMedia(created)
		mc = created
		logger.Info().Msg("peer connection created")
	}

	if err := mc.SetRemoteDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: sdp}); err != nil {
		return dirty, fmt.Errorf("set remote offer: %w", err)
	}
	answer, err := mc.CreateAnswer()
	if err != nil {
		return dirty, fmt.Errorf("create answer: %w", err)
	}
	if err := mc.SetLocalDescription(answer); err != nil {
		return dirty, fmt.Errorf("set local answer: %w", err)
	}
	if ld := mc.LocalDescription(); ld != nil {
		answer = *ld
	}
	o.send(sess, Description{Type: TypeAnswer, SDP: answer.SDP})
	logger.Info().Msg("answer sent")

	return dirty.Merge(o.Router.MediaReady(sess)), nil
}

// dropMediaLocked detaches and closes the session's peer connection along with
// its inbound track.
func (o *Orchestrator) dropMediaLocked(sess *core.Session) sfu.Dirty {
	dirty := sfu.Dirty{}
	if sess.Inbound != nil {
		dirty.Merge(o.Router.RemoveTrack(sess.Inbound))
		sess.Inbound = nil
	}
	o.Relays.StopRelay(sess.ID)
	if mc := sess.Media(); mc != nil {
		if err := mc.Close(); err != nil {
			log.Warn().Err(err).Str("module", "orch").Str("sid", string(sess.ID)).Msg("close failed peer connection")
		}
	}
	sess.UpdateMedia(nil)
	return dirty
}

// HandleAnswer applies the client's answer to a server offer.
func (o *Orchestrator) HandleAnswer(sess *core.Session, sdp string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if !sess.Authorized() {
		return ErrNotAuthorized
	}
	mc := sess.Media()
	if mc == nil {
		return ErrNoMediaConnection
	}
	if err := mc.SetRemoteDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: sdp}); err != nil {
		return fmt.Errorf("set remote answer: %w", err)
	}
	o.send(sess, ConnectionStatus{Type: TypeConnectionStatus, Status: "connected", Message: msgConnected})
	return nil
}

// HandleCandidate applies a remote ICE candidate; nil marks end-of-candidates.
func (o *Orchestrator) HandleCandidate(sess *core.Session, cand *webrtc.ICECandidateInit) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if !sess.Authorized() {
		return ErrNotAuthorized
	}
	mc := sess.Media()
	if mc == nil {
		return ErrNoMediaConnection
	}
	if err := mc.AddICECandidate(cand); err != nil {
		return fmt.Errorf("add ICE candidate: %w", err)
	}
	return nil
}

func (o *Orchestrator) bindMedia(sess *core.Session, mc core.MediaConnection) {
	mc.OnTrack(func(ctx context.Context, remote *webrtc.TrackRemote) {
		o.onRemoteTrack(ctx, sess, mc, remote)
	})
	mc.OnICECandidate(func(c webrtc.ICECandidateInit) {
		o.mu.Lock()
		sig := sess.Signal()
		o.mu.Unlock()
		Send(sig, Candidate{Type: TypeCandidate, Candidate: c})
	})
	mc.OnStateChange(func(st webrtc.PeerConnectionState) {
		o.onMediaState(sess, mc, st)
	})
}

func (o *Orchestrator) onRemoteTrack(ctx context.Context, sess *core.Session, mc core.MediaConnection, remote *webrtc.TrackRemote) {
	logger := log.With().Str("module", "orch").Str("sid", string(sess.ID)).Str("track_id", remote.ID()).Logger()
	if remote.Kind() != webrtc.RTPCodecTypeAudio {
		logger.Info().Str("kind", remote.Kind().String()).Msg("ignoring non-audio track")
		return
	}
	if ctx == nil {
		ctx = o.ctx
	}
	relay, err := o.Relays.StartRelay(ctx, sess.ID, remote)
	if err != nil {
		logger.Error().Err(err).Msg("start relay")
		return
	}
	if !o.trackArrived(sess, mc, relay) {
		relay.Stop()
	}
}

// trackArrived installs t as the session's inbound track and routes it. It
// reports false when the session or its connection is gone.
func (o *Orchestrator) trackArrived(sess *core.Session, mc core.MediaConnection, t core.Track) bool {
	o.mu.Lock()
	if !sess.Authorized() || sess.Media() != mc {
		o.mu.Unlock()
		return false
	}
	dirty := sfu.Dirty{}
	if old := sess.Inbound; old != nil && old != t {
		dirty.Merge(o.Router.RemoveTrack(old))
	}
	sess.Inbound = t
	dirty.Merge(o.Router.TrackArrived(sess))
	o.mu.Unlock()

	log.Info().Str("module", "orch").Str("sid", string(sess.ID)).Str("track_id", t.ID()).
		Str("channel", string(sess.CurrentChannel)).Int("receivers", len(dirty)).Msg("inbound track active")
	o.schedule(dirty)
	go o.watchTrack(sess, t)
	return true
}

func (o *Orchestrator) watchTrack(sess *core.Session, t core.Track) {
	<-t.Done()
	o.trackEnded(sess, t)
}

// trackEnded removes t from every receiver once it stops.
func (o *Orchestrator) trackEnded(sess *core.Session, t core.Track) {
	o.mu.Lock()
	if sess.Inbound == t {
		sess.Inbound = nil
	}
	dirty := o.Router.RemoveTrack(t)
	o.mu.Unlock()

	log.Info().Str("module", "orch").Str("sid", string(sess.ID)).Str("track_id", t.ID()).Int("receivers", len(dirty)).Msg("inbound track ended")
	o.schedule(dirty)
}

func (o *Orchestrator) onMediaState(sess *core.Session, mc core.MediaConnection, st webrtc.PeerConnectionState) {
	if st != webrtc.PeerConnectionStateFailed && st != webrtc.PeerConnectionStateClosed {
		return
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	if sess.Status == domain.StatusDisconnected || sess.Media() != mc {
		return
	}
	log.Warn().Str("module", "orch").Str("sid", string(sess.ID)).Str("state", st.String()).Msg("peer connection failed or closed")
	o.send(sess, ConnectionStatus{Type: TypeConnectionStatus, Status: "failed", Message: msgConnFailed})
}

// renegotiate pushes a fresh offer built from the receiver's current senders.
func (o *Orchestrator) renegotiate(sid core.SessionID) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	sess, ok := o.Registry.Lookup(sid)
	if !ok {
		return ErrSessionNotFound
	}
	if !sess.Authorized() {
		return ErrNotAuthorized
	}
	mc := sess.Media()
	if mc == nil {
		return ErrNoMediaConnection
	}
	if mc.IsClosed() {
		return errors.New("peer connection closed")
	}
	offer, err := mc.CreateOffer()
	if err != nil {
		return fmt.Errorf("create offer: %w", err)
	}
	if err := mc.SetLocalDescription(offer); err != nil {
		return fmt.Errorf("set local offer: %w", err)
	}
	if ld := mc.LocalDescription(); ld != nil {
		offer = *ld
	}
	o.send(sess, Description{Type: TypeOffer, SDP: offer.SDP})
	log.Info().Str("module", "orch").Str("sid", string(sid)).Int("tracks", len(mc.Senders())).Msg("renegotiation offer sent")
	return nil
}
