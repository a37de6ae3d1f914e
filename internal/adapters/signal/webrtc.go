package signal

import (
	"errors"

	"github.com/bytedance/sonic"
	"github.com/dkeye/soundmesh/internal/app/orch"
	"github.com/dkeye/soundmesh/internal/core"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

type descriptionPayload struct {
	Type string `json:"type"`
	SDP  string `json:"sdp"`
}

func decodeSDP(data []byte) (string, bool) {
	var p descriptionPayload
	if err := sonic.Unmarshal(data, &p); err != nil || p.SDP == "" {
		return "", false
	}
	return p.SDP, true
}

func (ctl *SignalWSController) handleOffer(
	sess *core.Session,
	conn *WsSignalConn,
	data []byte,
) {
	logger := log.With().Str("module", "signal").Str("sid", string(sess.ID)).Logger()
	sdp, ok := decodeSDP(data)
	if !ok {
		logger.Warn().Msg("offer without sdp")
		orch.Send(conn, orch.ErrorNotice("Missing sdp in offer"))
		return
	}
	if err := ctl.Orch.HandleOffer(sess, sdp); err != nil {
		logger.Error().Err(err).Msg("handle offer")
		orch.Send(conn, orch.ErrorNotice("Failed to process your offer: "+err.Error()))
	}
}

func (ctl *SignalWSController) handleAnswer(
	sess *core.Session,
	conn *WsSignalConn,
	data []byte,
) {
	logger := log.With().Str("module", "signal").Str("sid", string(sess.ID)).Logger()
	sdp, ok := decodeSDP(data)
	if !ok {
		logger.Warn().Msg("answer without sdp")
		orch.Send(conn, orch.ErrorNotice("Missing sdp in answer"))
		return
	}
	err := ctl.Orch.HandleAnswer(sess, sdp)
	switch {
	case err == nil:
	case errors.Is(err, orch.ErrNoMediaConnection):
		logger.Warn().Msg("answer without peer connection")
		orch.Send(conn, orch.ErrorNotice("Server cannot process your answer: no active connection found."))
	default:
		logger.Error().Err(err).Msg("handle answer")
		orch.Send(conn, orch.ErrorNotice("Failed to process your answer: "+err.Error()))
	}
}

type candidatePayload struct {
	Type      string `json:"type"`
	Candidate *struct {
		Candidate        string  `json:"candidate"`
		SDPMid           *string `json:"sdpMid"`
		SDPMLineIndex    *uint16 `json:"sdpMLineIndex"`
		UsernameFragment *string `json:"usernameFragment"`
	} `json:"candidate"`
}

// toInit converts the payload; nil means end-of-candidates.
func (p candidatePayload) toInit() (*webrtc.ICECandidateInit, error) {
	if p.Candidate == nil || p.Candidate.Candidate == "" {
		return nil, nil
	}
	if p.Candidate.SDPMid == nil || p.Candidate.SDPMLineIndex == nil {
		return nil, errors.New("candidate requires sdpMid and sdpMLineIndex")
	}
	return &webrtc.ICECandidateInit{
		Candidate:        p.Candidate.Candidate,
		SDPMid:           p.Candidate.SDPMid,
		SDPMLineIndex:    p.Candidate.SDPMLineIndex,
		UsernameFragment: p.Candidate.UsernameFragment,
	}, nil
}

func (ctl *SignalWSController) handleCandidate(
	sess *core.Session,
	conn *WsSignalConn,
	data []byte,
) {
	logger := log.With().Str("module", "signal").Str("sid", string(sess.ID)).Logger()
	var p candidatePayload
	if err := sonic.Unmarshal(data, &p); err != nil {
		logger.Warn().Err(err).Msg("bad candidate payload")
		orch.Send(conn, orch.ErrorNotice("Invalid ICE candidate"))
		return
	}
	cand, err := p.toInit()
	if err != nil {
		logger.Warn().Err(err).Msg("invalid candidate")
		orch.Send(conn, orch.ErrorNotice("Invalid ICE candidate: "+err.Error()))
		return
	}

	err = ctl.Orch.HandleCandidate(sess, cand)
	switch {
	case err == nil:
		if cand == nil {
			logger.Debug().Msg("end of candidates")
		}
	case errors.Is(err, orch.ErrNoMediaConnection):
		logger.Warn().Msg("candidate: no media connection")
	default:
		logger.Error().Err(err).Msg("add ice candidate")
		orch.Send(conn, orch.ErrorNotice("Failed to add ICE candidate: "+err.Error()))
	}
}
