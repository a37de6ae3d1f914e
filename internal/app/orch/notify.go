package orch

import (
	"github.com/bytedance/sonic"
	"github.com/dkeye/soundmesh/internal/core"
	"github.com/dkeye/soundmesh/internal/domain"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

// Server to client message types.
const (
	TypeStatusUpdate      = "status_update"
	TypeClientUpdate      = "client_update"
	TypeClientDisconnect  = "client_disconnect"
	TypeClientIDChanged   = "client_id_changed"
	TypeChannelJoined     = "channel_joined"
	TypeChannelListUpdate = "channel_list_update"
	TypePermissionsUpdate = "permissions_update"
	TypeConnectionStatus  = "connection_status"
	TypeOffer             = "offer"
	TypeAnswer            = "answer"
	TypeCandidate         = "candidate"
	TypeError             = "error"
	TypeInfo              = "info"
	TypeEcho              = "echo"
)

type StatusUpdate struct {
	Type           string                `json:"type"`
	Status         domain.Status         `json:"status"`
	Message        string                `json:"message,omitempty"`
	ClientID       core.SessionID        `json:"client_id"`
	CurrentClients []domain.ClientPublic `json:"current_clients"`
}

type ClientUpdate struct {
	Type    string `json:"type"`
	Payload struct {
		Client domain.ClientPublic `json:"client"`
	} `json:"payload"`
}

type ClientDisconnect struct {
	Type    string `json:"type"`
	Payload struct {
		ClientID core.SessionID `json:"client_id"`
	} `json:"payload"`
}

type ClientIDChanged struct {
	Type       string         `json:"type"`
	OriginalID core.SessionID `json:"original_id"`
	NewID      core.SessionID `json:"new_id"`
	Message    string         `json:"message"`
}

type ChannelJoined struct {
	Type      string           `json:"type"`
	ChannelID domain.ChannelID `json:"channel_id"`
}

type ChannelListUpdate struct {
	Type     string           `json:"type"`
	Channels []domain.Channel `json:"channels"`
}

type PermissionsUpdate struct {
	Type        string             `json:"type"`
	Permissions domain.Permissions `json:"permissions"`
}

type ConnectionStatus struct {
	Type    string `json:"type"`
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

type Description struct {
	Type string `json:"type"`
	SDP  string `json:"sdp"`
}

type Candidate struct {
	Type      string                  `json:"type"`
	Candidate webrtc.ICECandidateInit `json:"candidate"`
}

// Notice is an error, info or echo reply.
type Notice struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

func ErrorNotice(msg string) Notice { return Notice{Type: TypeError, Message: msg} }
func InfoNotice(msg string) Notice  { return Notice{Type: TypeInfo, Message: msg} }

func clientUpdate(sess *core.Session) ClientUpdate {
	m := ClientUpdate{Type: TypeClientUpdate}
	m.Payload.Client = sess.Public()
	return m
}

func clientDisconnect(sid core.SessionID) ClientDisconnect {
	m := ClientDisconnect{Type: TypeClientDisconnect}
	m.Payload.ClientID = sid
	return m
}

// Encode marshals a message into a frame.
func Encode(v any) (core.Frame, error) {
	b, err := sonic.Marshal(v)
	if err != nil {
		return nil, err
	}
	return core.Frame(b), nil
}

// Send encodes v and queues it on sig. Delivery failures are logged, never fatal.
func Send(sig core.SignalConnection, v any) {
	if sig == nil {
		return
	}
	f, err := Encode(v)
	if err != nil {
		log.Error().Err(err).Str("module", "orch").Msg("encode frame")
		return
	}
	if err := sig.TrySend(f); err != nil {
		log.Warn().Err(err).Str("module", "orch").Msg("send frame")
	}
}

func (o *Orchestrator) send(sess *core.Session, v any) {
	Send(sess.Signal(), v)
}

func (o *Orchestrator) broadcast(targets []*core.Session, v any) {
	f, err := Encode(v)
	if err != nil {
		log.Error().Err(err).Str("module", "orch").Msg("encode broadcast frame")
		return
	}
	for _, t := range targets {
		sig := t.Signal()
		if sig == nil {
			continue
		}
		if err := sig.TrySend(f); err != nil {
			log.Warn().Err(err).Str("module", "orch").Str("sid", string(t.ID)).Msg("broadcast frame")
		}
	}
}

// authorizedExcept lists the authorized sessions other than sess.
func (o *Orchestrator) authorizedExcept(sess *core.Session) []*core.Session {
	return o.Registry.Snapshot(func(s *core.Session) bool {
		return s != sess && s.Authorized()
	})
}
