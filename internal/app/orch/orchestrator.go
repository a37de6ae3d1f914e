package orch

import (
	"context"
	"errors"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/dkeye/soundmesh/internal/app"
	"github.com/dkeye/soundmesh/internal/app/sfu"
	"github.com/dkeye/soundmesh/internal/core"
	"github.com/dkeye/soundmesh/internal/domain"
	"github.com/dkeye/soundmesh/internal/metrics"
	"github.com/rs/zerolog/log"
	"github.com/samber/lo"
)

var (
	ErrSessionNotFound   = errors.New("session not found")
	ErrNotAuthorized     = errors.New("session not authorized")
	ErrNotPending        = errors.New("session is not pending")
	ErrNoMediaConnection = errors.New("no media connection")
	ErrWrongSecret       = errors.New("incorrect server password")
	ErrInvalidName       = errors.New("invalid name")
)

// WebSocket close codes used when the server ends a session.
const (
	CloseInvalidFrame    = 1003
	ClosePolicyViolation = 1008
	CloseServerError     = 1011
)

type Config struct {
	Secret             string
	RequireApproval    bool
	RenegotiateWorkers int
	// SweepInterval is the period of the routing consistency sweep; zero disables it.
	SweepInterval time.Duration
}

// Orchestrator owns every cross-session mutation. One mutex guards the
// registry contents, session fields and routing; renegotiations are queued
// only after it is released.
type Orchestrator struct {
	mu sync.Mutex

	Registry *app.Registry
	Channels *app.ChannelDirectory
	Policy   app.Policy
	Router   *sfu.Router
	Relays   *sfu.RelayManager
	Reneg    *sfu.Renegotiator
	Media    core.MediaFactory

	cfg       Config
	ctx       context.Context
	done      chan struct{}
	closeOnce sync.Once
}

func New(ctx context.Context, cfg Config, channels *app.ChannelDirectory, policy app.Policy, media core.MediaFactory) (*Orchestrator, error) {
	if policy == nil {
		policy = app.OpenPolicy{}
	}
	reg := app.NewRegistry()
	o := &Orchestrator{
		Registry: reg,
		Channels: channels,
		Policy:   policy,
		Router:   sfu.NewRouter(reg, policy),
		Relays:   sfu.NewRelayManager(),
		Media:    media,
		cfg:      cfg,
		ctx:      ctx,
		done:     make(chan struct{}),
	}
	reneg, err := sfu.NewRenegotiator(cfg.RenegotiateWorkers, o.renegotiate)
	if err != nil {
		return nil, err
	}
	o.Reneg = reneg
	if cfg.SweepInterval > 0 {
		go o.sweepLoop(cfg.SweepInterval)
	}
	return o, nil
}

// Close tears down every remaining session and stops the renegotiation pool.
func (o *Orchestrator) Close() {
	o.closeOnce.Do(func() { close(o.done) })
	o.mu.Lock()
	for _, sess := range o.Registry.Snapshot(nil) {
		o.cleanupLocked(sess, ReasonClosed)
	}
	o.mu.Unlock()
	o.Reneg.Close()
}

// Sweep recomputes every receiver's forwarded tracks from current state and
// renegotiates the receivers that changed. It returns how many changed.
func (o *Orchestrator) Sweep() int {
	o.mu.Lock()
	dirty := o.Router.Reconcile()
	o.mu.Unlock()

	if len(dirty) > 0 {
		log.Warn().Str("module", "orch").Strs("receivers", lo.Map(dirty.IDs(), func(sid core.SessionID, _ int) string {
			return string(sid)
		})).Msg("sweep repaired routing")
	}
	o.schedule(dirty)
	return len(dirty)
}

func (o *Orchestrator) sweepLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			o.Sweep()
		case <-o.done:
			return
		case <-o.ctx.Done():
			return
		}
	}
}

// schedule hands dirty receivers to the renegotiator. Never call it with o.mu held.
func (o *Orchestrator) schedule(dirty sfu.Dirty) {
	if len(dirty) == 0 {
		return
	}
	o.Reneg.Schedule(dirty.IDs()...)
}

func (o *Orchestrator) Lookup(sid core.SessionID) (*core.Session, bool) {
	return o.Registry.Lookup(sid)
}

// observeSessions refreshes the per-status session gauge.
func (o *Orchestrator) observeSessions() {
	counts := lo.CountValuesBy(o.Registry.Snapshot(nil), func(s *core.Session) domain.Status { return s.Status })
	for _, st := range []domain.Status{domain.StatusPending, domain.StatusAuthorized, domain.StatusRejected} {
		metrics.Sessions.WithLabelValues(string(st)).Set(float64(counts[st]))
	}
}

func publicSnapshots(sessions []*core.Session) []domain.ClientPublic {
	out := lo.Map(sessions, func(s *core.Session, _ int) domain.ClientPublic { return s.Public() })
	slices.SortFunc(out, func(a, b domain.ClientPublic) int { return strings.Compare(string(a.ID), string(b.ID)) })
	return out
}

// Status reads the session status under the routing lock.
func (o *Orchestrator) Status(sess *core.Session) domain.Status {
	o.mu.Lock()
	defer o.mu.Unlock()
	return sess.Status
}
