// Package coretest provides in-memory transports for tests.
package coretest

import (
	"context"
	"errors"
	"sync"

	"github.com/bytedance/sonic"
	"github.com/dkeye/soundmesh/internal/core"
	"github.com/pion/webrtc/v4"
)

var ErrClosed = errors.New("closed")

// Track is a core.Track with no media behind it.
type Track struct {
	id       string
	done     chan struct{}
	stopOnce sync.Once
}

func NewTrack(id string) *Track {
	return &Track{id: id, done: make(chan struct{})}
}

func (t *Track) ID() string               { return t.id }
func (t *Track) Local() webrtc.TrackLocal { return nil }
func (t *Track) Done() <-chan struct{}    { return t.done }

// End closes Done.
func (t *Track) End() { t.stopOnce.Do(func() { close(t.done) }) }

// Media records the calls made on a peer connection.
type Media struct {
	mu      sync.Mutex
	senders []core.Track
	closed  bool
	offers  int
	remote  *webrtc.SessionDescription
	local   *webrtc.SessionDescription
	cands   []*webrtc.ICECandidateInit

	AddErr error

	onTrack func(context.Context, *webrtc.TrackRemote)
	onICE   func(webrtc.ICECandidateInit)
	onState func(webrtc.PeerConnectionState)
}

var _ core.MediaConnection = (*Media)(nil)

func NewMedia() *Media { return &Media{} }

func (m *Media) CreateOffer() (webrtc.SessionDescription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return webrtc.SessionDescription{}, ErrClosed
	}
	m.offers++
	return webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "offer"}, nil
}

func (m *Media) CreateAnswer() (webrtc.SessionDescription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return webrtc.SessionDescription{}, ErrClosed
	}
	return webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "answer"}, nil
}

func (m *Media) SetLocalDescription(d webrtc.SessionDescription) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.local = &d
	return nil
}

func (m *Media) SetRemoteDescription(d webrtc.SessionDescription) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	m.remote = &d
	return nil
}

func (m *Media) LocalDescription() *webrtc.SessionDescription {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.local
}

func (m *Media) RemoteDescription() *webrtc.SessionDescription {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.remote
}

func (m *Media) AddICECandidate(c *webrtc.ICECandidateInit) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cands = append(m.cands, c)
	return nil
}

func (m *Media) Candidates() []*webrtc.ICECandidateInit {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*webrtc.ICECandidateInit(nil), m.cands...)
}

func (m *Media) AddTrack(t core.Track) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.AddErr != nil {
		return m.AddErr
	}
	for _, s := range m.senders {
		if s == t {
			return nil
		}
	}
	m.senders = append(m.senders, t)
	return nil
}

func (m *Media) RemoveTrack(t core.Track) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, s := range m.senders {
		if s == t {
			m.senders = append(m.senders[:i], m.senders[i+1:]...)
			return nil
		}
	}
	return nil
}

func (m *Media) Senders() []core.Track {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]core.Track(nil), m.senders...)
}

func (m *Media) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	m.senders = nil
	return nil
}

func (m *Media) IsClosed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// Offers counts CreateOffer calls.
func (m *Media) Offers() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.offers
}

func (m *Media) OnTrack(fn func(context.Context, *webrtc.TrackRemote)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onTrack = fn
}

func (m *Media) OnICECandidate(fn func(webrtc.ICECandidateInit)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onICE = fn
}

func (m *Media) OnStateChange(fn func(webrtc.PeerConnectionState)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onState = fn
}

// EmitCandidate fires the local candidate callback.
func (m *Media) EmitCandidate(c webrtc.ICECandidateInit) {
	m.mu.Lock()
	fn := m.onICE
	m.mu.Unlock()
	if fn != nil {
		fn(c)
	}
}

// EmitState fires the state change callback.
func (m *Media) EmitState(s webrtc.PeerConnectionState) {
	m.mu.Lock()
	fn := m.onState
	m.mu.Unlock()
	if fn != nil {
		fn(s)
	}
}

// MediaFactory hands out Media values and remembers them by session.
type MediaFactory struct {
	mu    sync.Mutex
	conns map[core.SessionID][]*Media
}

func NewMediaFactory() *MediaFactory {
	return &MediaFactory{conns: make(map[core.SessionID][]*Media)}
}

func (f *MediaFactory) NewConnection(sid core.SessionID) (core.MediaConnection, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	m := NewMedia()
	f.conns[sid] = append(f.conns[sid], m)
	return m, nil
}

// Last returns the most recent connection created for sid.
func (f *MediaFactory) Last(sid core.SessionID) *Media {
	f.mu.Lock()
	defer f.mu.Unlock()
	conns := f.conns[sid]
	if len(conns) == 0 {
		return nil
	}
	return conns[len(conns)-1]
}

func (f *MediaFactory) Count(sid core.SessionID) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.conns[sid])
}

// Signal captures frames sent to a client.
type Signal struct {
	mu        sync.Mutex
	frames    []core.Frame
	closed    bool
	CloseCode int
	Reason    string
}

var _ core.SignalConnection = (*Signal)(nil)

func NewSignal() *Signal { return &Signal{} }

func (s *Signal) TrySend(f core.Frame) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.frames = append(s.frames, append(core.Frame(nil), f...))
	return nil
}

func (s *Signal) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
}

func (s *Signal) CloseWithCode(code int, reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.CloseCode = code
	s.Reason = reason
}

func (s *Signal) IsOpen() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.closed
}

// Messages decodes every captured frame.
func (s *Signal) Messages() []map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]map[string]any, 0, len(s.frames))
	for _, f := range s.frames {
		var m map[string]any
		if err := sonic.Unmarshal(f, &m); err == nil {
			out = append(out, m)
		}
	}
	return out
}

// OfType returns captured messages whose "type" equals typ.
func (s *Signal) OfType(typ string) []map[string]any {
	var out []map[string]any
	for _, m := range s.Messages() {
		if m["type"] == typ {
			out = append(out, m)
		}
	}
	return out
}
