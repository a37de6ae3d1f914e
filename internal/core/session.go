package core

import (
	"slices"

	"github.com/dkeye/soundmesh/internal/domain"
)

type SessionID string

// SessionSource is the read side of the session registry used by routing scans.
type SessionSource interface {
	ForEach(fn func(*Session) bool)
}

// Session is the server-side state of one client connection.
// Fields are mutated in place and guarded by the orchestrator lock, never copied.
type Session struct {
	ID             SessionID
	Name           string
	Status         domain.Status
	Permissions    domain.Permissions
	CurrentChannel domain.ChannelID
	RemoteAddr     string

	// Inbound is the session's own transmitted audio, nil unless media is flowing.
	Inbound Track

	listening map[domain.ChannelID]struct{}
	signal    SignalConnection
	media     MediaConnection
	detached  bool

	awaitingApproval bool
}

func NewSession(sid SessionID, signal SignalConnection) *Session {
	return &Session{
		ID:          sid,
		Status:      domain.StatusPending,
		Permissions: domain.NewPermissions(),
		listening:   make(map[domain.ChannelID]struct{}),
		signal:      signal,
	}
}

func (s *Session) Signal() SignalConnection { return s.signal }
func (s *Session) Media() MediaConnection   { return s.media }

func (s *Session) UpdateSignal(sig SignalConnection) *Session {
	s.signal = sig
	return s
}

func (s *Session) UpdateMedia(mc MediaConnection) *Session {
	s.media = mc
	return s
}

func (s *Session) Authorized() bool { return s.Status == domain.StatusAuthorized }

// Live reports whether the session is authorized and its socket is still open.
func (s *Session) Live() bool {
	return s.Authorized() && s.signal != nil && s.signal.IsOpen()
}

func (s *Session) Listens(ch domain.ChannelID) bool {
	_, ok := s.listening[ch]
	return ok
}

// Listening returns the listen set in stable order.
func (s *Session) Listening() []domain.ChannelID {
	out := make([]domain.ChannelID, 0, len(s.listening))
	for ch := range s.listening {
		out = append(out, ch)
	}
	slices.Sort(out)
	return out
}

// SetListening replaces the listen set and returns the previous one.
func (s *Session) SetListening(ids []domain.ChannelID) []domain.ChannelID {
	old := s.Listening()
	s.listening = make(map[domain.ChannelID]struct{}, len(ids))
	for _, ch := range ids {
		s.listening[ch] = struct{}{}
	}
	return old
}

// Listen adds ch to the listen set; false if it was already there.
func (s *Session) Listen(ch domain.ChannelID) bool {
	if s.Listens(ch) {
		return false
	}
	s.listening[ch] = struct{}{}
	return true
}

// AwaitApproval marks a pending session that passed the handshake and now
// waits for an administrator.
func (s *Session) AwaitApproval() { s.awaitingApproval = true }

// AwaitingApproval reports whether an administrator may authorize or reject
// the session.
func (s *Session) AwaitingApproval() bool {
	return s.Status == domain.StatusPending && s.awaitingApproval
}

// Detach drops every transport reference once the session is torn down.
func (s *Session) Detach() {
	s.signal = nil
	s.media = nil
	s.Inbound = nil
	s.detached = true
}

// Detached reports whether Detach has run.
func (s *Session) Detached() bool { return s.detached }

func (s *Session) Public() domain.ClientPublic {
	return domain.ClientPublic{
		ID:             domain.ClientID(s.ID),
		Name:           s.Name,
		Status:         s.Status,
		CurrentChannel: s.CurrentChannel,
		Permissions:    s.Permissions.Clone(),
	}
}
