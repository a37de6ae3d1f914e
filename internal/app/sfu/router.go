package sfu

import (
	"slices"

	"github.com/dkeye/soundmesh/internal/app"
	"github.com/dkeye/soundmesh/internal/core"
	"github.com/dkeye/soundmesh/internal/metrics"
	"github.com/rs/zerolog/log"
)

// Dirty collects receivers whose forwarded track set changed.
type Dirty map[core.SessionID]struct{}

func (d Dirty) Mark(sid core.SessionID) { d[sid] = struct{}{} }

func (d Dirty) Merge(other Dirty) Dirty {
	for sid := range other {
		d[sid] = struct{}{}
	}
	return d
}

// IDs returns the dirty receivers in stable order.
func (d Dirty) IDs() []core.SessionID {
	out := make([]core.SessionID, 0, len(d))
	for sid := range d {
		out = append(out, sid)
	}
	slices.Sort(out)
	return out
}

// Router keeps every receiver's forwarded tracks equal to what Routable
// allows. Each event reconciles only the edges it can affect, and every add
// or remove is idempotent, so events converge in any order.
//
// Callers must hold the orchestrator lock.
type Router struct {
	sessions core.SessionSource
	policy   app.Policy
}

func NewRouter(sessions core.SessionSource, policy app.Policy) *Router {
	if policy == nil {
		policy = app.OpenPolicy{}
	}
	return &Router{sessions: sessions, policy: policy}
}

// Routable is the routing predicate: sender's track must flow to receiver.
func (r *Router) Routable(sender, receiver *core.Session) bool {
	return sender != receiver &&
		receiver.Authorized() &&
		receiver.Media() != nil &&
		sender.Authorized() &&
		sender.Inbound != nil &&
		sender.CurrentChannel != "" &&
		receiver.Listens(sender.CurrentChannel) &&
		r.policy.CanTalk(sender)
}

// TrackArrived forwards sender's new track to every receiver that should hear it.
func (r *Router) TrackArrived(sender *core.Session) Dirty {
	return r.reconcileSender(sender)
}

// RemoveTrack drops t from every transport that forwards it.
func (r *Router) RemoveTrack(t core.Track) Dirty {
	dirty := Dirty{}
	if t == nil {
		return dirty
	}
	r.sessions.ForEach(func(recv *core.Session) bool {
		if mc := recv.Media(); mc != nil && core.Forwards(mc, t) {
			r.remove(recv, t, dirty)
		}
		return true
	})
	return dirty
}

// SwitchChannel runs after sender.CurrentChannel changed. It moves sender's
// track between listener sets and backfills sender's own transport.
func (r *Router) SwitchChannel(sender *core.Session) Dirty {
	dirty := r.reconcileSender(sender)
	return dirty.Merge(r.reconcileReceiver(sender))
}

// ListenSetChanged runs after receiver's listen set changed.
func (r *Router) ListenSetChanged(receiver *core.Session) Dirty {
	return r.reconcileReceiver(receiver)
}

// MediaReady backfills a transport that was just created.
func (r *Router) MediaReady(receiver *core.Session) Dirty {
	return r.reconcileReceiver(receiver)
}

// SenderChanged re-evaluates every edge out of sender, e.g. after its
// permissions changed.
func (r *Router) SenderChanged(sender *core.Session) Dirty {
	return r.reconcileSender(sender)
}

// Reconcile rescans every receiver. It yields the same state the per-event
// diffs produce and also drops forwarded tracks whose owner is gone.
func (r *Router) Reconcile() Dirty {
	dirty := Dirty{}
	r.sessions.ForEach(func(recv *core.Session) bool {
		dirty.Merge(r.reconcileReceiver(recv))
		return true
	})
	return dirty
}

func (r *Router) reconcileSender(sender *core.Session) Dirty {
	dirty := Dirty{}
	t := sender.Inbound
	if t == nil {
		return dirty
	}
	r.sessions.ForEach(func(recv *core.Session) bool {
		mc := recv.Media()
		if recv == sender || mc == nil {
			return true
		}
		want := r.Routable(sender, recv)
		have := core.Forwards(mc, t)
		switch {
		case want && !have:
			r.add(recv, t, dirty)
		case !want && have:
			r.remove(recv, t, dirty)
		}
		return true
	})
	return dirty
}

func (r *Router) reconcileReceiver(recv *core.Session) Dirty {
	dirty := Dirty{}
	mc := recv.Media()
	if mc == nil {
		return dirty
	}
	want := make(map[core.Track]struct{})
	r.sessions.ForEach(func(sender *core.Session) bool {
		if r.Routable(sender, recv) {
			want[sender.Inbound] = struct{}{}
		}
		return true
	})
	for _, t := range mc.Senders() {
		if _, ok := want[t]; ok {
			delete(want, t)
			continue
		}
		r.remove(recv, t, dirty)
	}
	for t := range want {
		r.add(recv, t, dirty)
	}
	return dirty
}

func (r *Router) add(recv *core.Session, t core.Track, dirty Dirty) {
	logger := log.With().Str("module", "sfu.router").Str("sid", string(recv.ID)).Str("track_id", t.ID()).Logger()
	if err := recv.Media().AddTrack(t); err != nil {
		metrics.RouteOps.WithLabelValues(metrics.OpAdd, metrics.ResultError).Inc()
		logger.Error().Err(err).Msg("add track")
		return
	}
	metrics.RouteOps.WithLabelValues(metrics.OpAdd, metrics.ResultOK).Inc()
	logger.Info().Msg("track added")
	dirty.Mark(recv.ID)
}

func (r *Router) remove(recv *core.Session, t core.Track, dirty Dirty) {
	logger := log.With().Str("module", "sfu.router").Str("sid", string(recv.ID)).Str("track_id", t.ID()).Logger()
	if err := recv.Media().RemoveTrack(t); err != nil {
		metrics.RouteOps.WithLabelValues(metrics.OpRemove, metrics.ResultError).Inc()
		logger.Error().Err(err).Msg("remove track")
		return
	}
	metrics.RouteOps.WithLabelValues(metrics.OpRemove, metrics.ResultOK).Inc()
	logger.Info().Msg("track removed")
	dirty.Mark(recv.ID)
}
