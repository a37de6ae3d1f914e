package orch

import (
	"fmt"

	"github.com/dkeye/soundmesh/internal/app/sfu"
	"github.com/dkeye/soundmesh/internal/core"
	"github.com/dkeye/soundmesh/internal/domain"
	"github.com/dkeye/soundmesh/internal/metrics"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// Cleanup reasons.
const (
	ReasonClosed    = "closed"
	ReasonRejected  = "rejected"
	ReasonReconnect = "reconnect"
	ReasonEvicted   = "evicted"
	ReasonError     = "error"
)

const (
	msgIDChanged      = "You've connected from another browser window. You've been assigned a new client ID."
	msgAuthorized     = "Authentication successful. You are connected."
	msgAdminApproved  = "You have been authorized."
	msgAwaitApproval  = "Awaiting server authorization."
	msgWrongSecret    = "Incorrect server password."
	msgAdminRejected  = "Your connection request was rejected by the server admin."
	msgIgnoredPending = "Message ignored. Awaiting server authorization."
)

// PendingNotice is the reply to any message sent before authorization.
func PendingNotice() Notice { return InfoNotice(msgIgnoredPending) }

// Connect registers a new pending session for a freshly opened signaling
// connection. If requested names a live session the new one gets a minted id
// and is told so; a stale session under that id is cleaned up first.
func (o *Orchestrator) Connect(requested string, sig core.SignalConnection, remoteAddr string) (*core.Session, error) {
	if err := domain.ValidateClientID(requested); err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}
	sid := core.SessionID(requested)

	o.mu.Lock()
	dirty := sfu.Dirty{}
	if existing, ok := o.Registry.Lookup(sid); ok {
		if existing.Live() {
			minted := core.SessionID(fmt.Sprintf("%s_%s", requested, uuid.NewString()[:8]))
			log.Warn().Str("module", "orch").Str("sid", string(sid)).Str("new_sid", string(minted)).Msg("duplicate connection, minting new id")
			Send(sig, ClientIDChanged{
				Type:       TypeClientIDChanged,
				OriginalID: sid,
				NewID:      minted,
				Message:    msgIDChanged,
			})
			sid = minted
		} else {
			log.Warn().Str("module", "orch").Str("sid", string(sid)).Msg("reconnect, cleaning up previous session")
			dirty = o.cleanupLocked(existing, ReasonReconnect)
		}
	}

	sess := core.NewSession(sid, sig)
	sess.RemoteAddr = remoteAddr
	err := o.Registry.Register(sess)
	o.observeSessions()
	o.mu.Unlock()

	o.schedule(dirty)
	if err != nil {
		return nil, fmt.Errorf("connect %s: %w", sid, err)
	}
	log.Info().Str("module", "orch").Str("sid", string(sid)).Str("remote", remoteAddr).Msg("session connected")
	return sess, nil
}

// Authenticate runs the handshake outcome for a pending session.
// A wrong secret rejects and cleans up the session and returns ErrWrongSecret.
func (o *Orchestrator) Authenticate(sess *core.Session, secret, name string) error {
	o.mu.Lock()
	dirty, err := o.authenticateLocked(sess, secret, name)
	o.mu.Unlock()
	o.schedule(dirty)
	return err
}

func (o *Orchestrator) authenticateLocked(sess *core.Session, secret, name string) (sfu.Dirty, error) {
	logger := log.With().Str("module", "orch").Str("sid", string(sess.ID)).Logger()
	if sess.Status != domain.StatusPending {
		return nil, ErrNotPending
	}
	if secret != o.cfg.Secret {
		logger.Warn().Msg("incorrect secret, rejecting")
		sess.Status = domain.StatusRejected
		o.send(sess, StatusUpdate{
			Type:           TypeStatusUpdate,
			Status:         domain.StatusRejected,
			Message:        msgWrongSecret,
			ClientID:       sess.ID,
			CurrentClients: []domain.ClientPublic{},
		})
		if sig := sess.Signal(); sig != nil {
			sig.CloseWithCode(ClosePolicyViolation, "Incorrect password")
		}
		return o.cleanupLocked(sess, ReasonRejected), ErrWrongSecret
	}

	display, err := domain.DisplayName(domain.ClientID(sess.ID), name)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidName, err)
	}
	sess.Name = display

	if o.cfg.RequireApproval {
		sess.AwaitApproval()
		logger.Info().Str("name", display).Msg("awaiting admin approval")
		o.send(sess, StatusUpdate{
			Type:           TypeStatusUpdate,
			Status:         domain.StatusPending,
			Message:        msgAwaitApproval,
			ClientID:       sess.ID,
			CurrentClients: []domain.ClientPublic{},
		})
		return nil, nil
	}
	o.authorizeLocked(sess, msgAuthorized)
	return nil, nil
}

func (o *Orchestrator) authorizeLocked(sess *core.Session, msg string) {
	sess.Status = domain.StatusAuthorized
	others := o.authorizedExcept(sess)
	o.send(sess, StatusUpdate{
		Type:           TypeStatusUpdate,
		Status:         domain.StatusAuthorized,
		Message:        msg,
		ClientID:       sess.ID,
		CurrentClients: publicSnapshots(others),
	})
	o.broadcast(others, clientUpdate(sess))
	o.observeSessions()
	log.Info().Str("module", "orch").Str("sid", string(sess.ID)).Str("name", sess.Name).Int("peers", len(others)).Msg("session authorized")
}

// approvalState describes why a session cannot be approved.
func approvalState(sess *core.Session) string {
	if sess.Status == domain.StatusPending {
		return "handshake not completed"
	}
	return string(sess.Status)
}

// Authorize promotes a pending session on behalf of an administrator.
func (o *Orchestrator) Authorize(sid core.SessionID) (domain.ClientPublic, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	sess, ok := o.Registry.Lookup(sid)
	if !ok {
		return domain.ClientPublic{}, ErrSessionNotFound
	}
	if !sess.AwaitingApproval() {
		return domain.ClientPublic{}, fmt.Errorf("%w: %s", ErrNotPending, approvalState(sess))
	}
	o.authorizeLocked(sess, msgAdminApproved)
	return sess.Public(), nil
}

// Reject refuses a pending session on behalf of an administrator and closes it.
func (o *Orchestrator) Reject(sid core.SessionID) error {
	o.mu.Lock()
	sess, ok := o.Registry.Lookup(sid)
	if !ok {
		o.mu.Unlock()
		return ErrSessionNotFound
	}
	if !sess.AwaitingApproval() {
		o.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNotPending, approvalState(sess))
	}
	sess.Status = domain.StatusRejected
	o.send(sess, StatusUpdate{
		Type:           TypeStatusUpdate,
		Status:         domain.StatusRejected,
		Message:        msgAdminRejected,
		ClientID:       sess.ID,
		CurrentClients: []domain.ClientPublic{},
	})
	if sig := sess.Signal(); sig != nil {
		sig.CloseWithCode(ClosePolicyViolation, "Connection rejected by admin")
	}
	dirty := o.cleanupLocked(sess, ReasonRejected)
	o.mu.Unlock()

	o.schedule(dirty)
	return nil
}

// Disconnect forcibly ends a session on behalf of an administrator.
func (o *Orchestrator) Disconnect(sid core.SessionID) error {
	o.mu.Lock()
	sess, ok := o.Registry.Lookup(sid)
	if !ok {
		o.mu.Unlock()
		return ErrSessionNotFound
	}
	if sig := sess.Signal(); sig != nil {
		sig.CloseWithCode(ClosePolicyViolation, "Disconnected by admin")
	}
	dirty := o.cleanupLocked(sess, ReasonEvicted)
	o.mu.Unlock()

	o.schedule(dirty)
	return nil
}

// Cleanup tears sess down. Calling it again for the same session is a no-op.
func (o *Orchestrator) Cleanup(sess *core.Session, reason string) {
	o.mu.Lock()
	dirty := o.cleanupLocked(sess, reason)
	o.mu.Unlock()
	o.schedule(dirty)
}

func (o *Orchestrator) cleanupLocked(sess *core.Session, reason string) sfu.Dirty {
	dirty := sfu.Dirty{}
	if sess.Status == domain.StatusDisconnected || sess.Detached() {
		return dirty
	}
	logger := log.With().Str("module", "orch").Str("sid", string(sess.ID)).Str("reason", reason).Logger()

	others := o.authorizedExcept(sess)

	if sess.Inbound != nil {
		dirty.Merge(o.Router.RemoveTrack(sess.Inbound))
	}
	o.Relays.StopRelay(sess.ID)

	if mc := sess.Media(); mc != nil {
		if err := mc.Close(); err != nil {
			logger.Warn().Err(err).Msg("close media connection")
		}
	}
	if sig := sess.Signal(); sig != nil {
		sig.Close()
	}

	// A rejected session keeps its status so the outcome stays observable.
	if sess.Status != domain.StatusRejected {
		sess.Status = domain.StatusDisconnected
	}
	sess.Detach()
	o.Registry.RemoveSession(sess)

	o.broadcast(others, clientDisconnect(sess.ID))

	metrics.Cleanups.WithLabelValues(reason).Inc()
	o.observeSessions()
	logger.Info().Int("notified", len(others)).Msg("session cleaned up")
	return dirty
}
