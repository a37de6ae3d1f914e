package core

import (
	"context"

	"github.com/pion/webrtc/v4"
)

// Track is an engine-issued handle to one session's inbound audio.
// Handles are compared by identity, so implementations must be pointer types.
type Track interface {
	ID() string
	// Local is what gets bound into receivers' peer connections.
	Local() webrtc.TrackLocal
	// Done is closed exactly once when the track ends.
	Done() <-chan struct{}
}

type MediaConnection interface {
	CreateOffer() (webrtc.SessionDescription, error)
	CreateAnswer() (webrtc.SessionDescription, error)
	SetLocalDescription(webrtc.SessionDescription) error
	SetRemoteDescription(webrtc.SessionDescription) error
	LocalDescription() *webrtc.SessionDescription
	// AddICECandidate applies a remote candidate; nil signals end-of-candidates.
	AddICECandidate(*webrtc.ICECandidateInit) error
	// AddTrack and RemoveTrack are idempotent.
	AddTrack(Track) error
	RemoveTrack(Track) error
	// Senders lists the tracks currently forwarded into this connection.
	Senders() []Track
	Close() error
	IsClosed() bool
	// OnTrack sets a callback that will be invoked when a new remote track arrives.
	OnTrack(func(ctx context.Context, track *webrtc.TrackRemote))
	// OnICECandidate sets a callback for newly gathered local ICE candidates.
	OnICECandidate(func(webrtc.ICECandidateInit))
	OnStateChange(func(webrtc.PeerConnectionState))
}

type MediaFactory interface {
	NewConnection(sid SessionID) (MediaConnection, error)
}

// Forwards reports whether mc currently forwards t.
func Forwards(mc MediaConnection, t Track) bool {
	for _, s := range mc.Senders() {
		if s == t {
			return true
		}
	}
	return false
}
