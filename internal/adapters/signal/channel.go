package signal

import (
	"github.com/bytedance/sonic"
	"github.com/dkeye/soundmesh/internal/app/orch"
	"github.com/dkeye/soundmesh/internal/core"
	"github.com/dkeye/soundmesh/internal/domain"
	"github.com/rs/zerolog/log"
)

func (ctl *SignalWSController) handleJoinChannel(
	sess *core.Session,
	conn *WsSignalConn,
	data []byte,
) {
	type joinPayload struct {
		Type      string           `json:"type"`
		ChannelID domain.ChannelID `json:"channel_id"`
	}
	var p joinPayload
	if err := sonic.Unmarshal(data, &p); err != nil || p.ChannelID == "" {
		log.Warn().Str("module", "signal").Str("sid", string(sess.ID)).Msg("join_channel without channel_id")
		orch.Send(conn, orch.ErrorNotice("Missing channel_id"))
		return
	}
	if err := ctl.Orch.JoinChannel(sess, p.ChannelID); err != nil {
		log.Error().Err(err).Str("module", "signal").Str("sid", string(sess.ID)).Msg("join channel")
		orch.Send(conn, orch.ErrorNotice(err.Error()))
	}
}

func (ctl *SignalWSController) handleUpdateListenChannels(
	sess *core.Session,
	conn *WsSignalConn,
	data []byte,
) {
	type listenPayload struct {
		Type       string              `json:"type"`
		ChannelIDs *[]domain.ChannelID `json:"channel_ids"`
	}
	var p listenPayload
	if err := sonic.Unmarshal(data, &p); err != nil || p.ChannelIDs == nil {
		log.Warn().Str("module", "signal").Str("sid", string(sess.ID)).Msg("invalid channel_ids")
		orch.Send(conn, orch.ErrorNotice("Invalid channel_ids format"))
		return
	}
	if _, err := ctl.Orch.UpdateListenChannels(sess, *p.ChannelIDs); err != nil {
		log.Error().Err(err).Str("module", "signal").Str("sid", string(sess.ID)).Msg("update listen channels")
		orch.Send(conn, orch.ErrorNotice(err.Error()))
	}
}
