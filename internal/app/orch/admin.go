package orch

import (
	"github.com/dkeye/soundmesh/internal/core"
	"github.com/dkeye/soundmesh/internal/domain"
	"github.com/rs/zerolog/log"
)

// ListClients returns every session that has not disconnected.
func (o *Orchestrator) ListClients() []domain.ClientPublic {
	o.mu.Lock()
	defer o.mu.Unlock()
	return publicSnapshots(o.Registry.Snapshot(func(s *core.Session) bool {
		return s.Status != domain.StatusDisconnected
	}))
}

func (o *Orchestrator) Client(sid core.SessionID) (domain.ClientPublic, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	sess, ok := o.Registry.Lookup(sid)
	if !ok || sess.Status == domain.StatusDisconnected {
		return domain.ClientPublic{}, ErrSessionNotFound
	}
	return sess.Public(), nil
}

// SetPermissions replaces the session's permission matrix and tells the client.
// Routing is re-evaluated for the session as a sender.
func (o *Orchestrator) SetPermissions(sid core.SessionID, perms domain.Permissions) (domain.Permissions, error) {
	o.mu.Lock()
	sess, ok := o.Registry.Lookup(sid)
	if !ok || sess.Status == domain.StatusDisconnected {
		o.mu.Unlock()
		return domain.Permissions{}, ErrSessionNotFound
	}
	sess.Permissions = perms.Clone()
	if sess.Authorized() {
		o.send(sess, PermissionsUpdate{Type: TypePermissionsUpdate, Permissions: sess.Permissions.Clone()})
	}
	dirty := o.Router.SenderChanged(sess)
	out := sess.Permissions.Clone()
	o.mu.Unlock()

	log.Info().Str("module", "orch").Str("sid", string(sid)).Int("channels", len(perms.Channels)).Msg("permissions updated")
	o.schedule(dirty)
	return out, nil
}

func (o *Orchestrator) CreateChannel(ch domain.Channel) (domain.Channel, error) {
	created, err := o.Channels.Create(ch)
	if err != nil {
		return domain.Channel{}, err
	}
	o.broadcastChannels()
	return created, nil
}

func (o *Orchestrator) UpdateChannel(id domain.ChannelID, name, description *string) (domain.Channel, error) {
	updated, err := o.Channels.Update(id, name, description)
	if err != nil {
		return domain.Channel{}, err
	}
	o.broadcastChannels()
	return updated, nil
}

// DeleteChannel removes the channel from the directory. Sessions keep any
// reference to it; it just stops being offered to new listeners.
func (o *Orchestrator) DeleteChannel(id domain.ChannelID) error {
	if err := o.Channels.Delete(id); err != nil {
		return err
	}
	o.broadcastChannels()
	return nil
}

func (o *Orchestrator) broadcastChannels() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.broadcast(o.Registry.Snapshot(func(s *core.Session) bool { return s.Authorized() }), ChannelListUpdate{
		Type:     TypeChannelListUpdate,
		Channels: o.Channels.List(),
	})
}
