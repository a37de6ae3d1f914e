package orch

import (
	"github.com/dkeye/soundmesh/internal/core"
	"github.com/dkeye/soundmesh/internal/domain"
	"github.com/rs/zerolog/log"
)

// JoinChannel makes ch the session's transmit channel and adds it to its
// listen set, then moves its audio to the listeners of ch.
func (o *Orchestrator) JoinChannel(sess *core.Session, ch domain.ChannelID) error {
	o.mu.Lock()
	if !sess.Authorized() {
		o.mu.Unlock()
		return ErrNotAuthorized
	}
	logger := log.With().Str("module", "orch").Str("sid", string(sess.ID)).Str("channel", string(ch)).Logger()
	if !o.Channels.Exists(ch) {
		logger.Warn().Msg("joining unknown channel")
	}

	from := sess.CurrentChannel
	sess.CurrentChannel = ch
	if sess.Listen(ch) {
		logger.Debug().Msg("channel added to listen set")
	}
	dirty := o.Router.SwitchChannel(sess)

	o.send(sess, ChannelJoined{Type: TypeChannelJoined, ChannelID: ch})
	o.broadcast(o.authorizedExcept(sess), clientUpdate(sess))
	o.mu.Unlock()

	logger.Info().Str("from", string(from)).Int("dirty", len(dirty)).Msg("joined channel")
	o.schedule(dirty)
	return nil
}

// UpdateListenChannels replaces the listen set with the known ids among ids
// and returns the applied set.
func (o *Orchestrator) UpdateListenChannels(sess *core.Session, ids []domain.ChannelID) ([]domain.ChannelID, error) {
	o.mu.Lock()
	if !sess.Authorized() {
		o.mu.Unlock()
		return nil, ErrNotAuthorized
	}
	logger := log.With().Str("module", "orch").Str("sid", string(sess.ID)).Logger()
	known := o.Channels.Known(ids)
	if len(known) != len(ids) {
		logger.Warn().Int("requested", len(ids)).Int("known", len(known)).Msg("ignoring unknown channel ids")
	}
	old := sess.SetListening(known)
	applied := sess.Listening()
	dirty := o.Router.ListenSetChanged(sess)
	o.mu.Unlock()

	logger.Info().Interface("from", old).Interface("to", applied).Int("dirty", len(dirty)).Msg("listen channels updated")
	o.schedule(dirty)
	return applied, nil
}
