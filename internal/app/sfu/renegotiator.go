package sfu

import (
	"errors"
	"fmt"
	"sync"

	"github.com/dkeye/soundmesh/internal/core"
	"github.com/dkeye/soundmesh/internal/metrics"
	"github.com/panjf2000/ants/v2"
	"github.com/rs/zerolog/log"
)

var ErrRenegotiatorClosed = errors.New("renegotiator closed")

// OfferFunc builds and pushes a fresh offer to one receiver. It runs on a pool
// worker and must take whatever locks it needs itself.
type OfferFunc func(sid core.SessionID) error

// Renegotiator pushes offers to receivers whose forwarded tracks changed.
// Requests for a receiver that already has an offer queued are coalesced.
// The offer is built when the task runs, so it reflects the state at that
// moment and not at scheduling time.
type Renegotiator struct {
	pool  *ants.Pool
	offer OfferFunc

	mu      sync.Mutex
	pending map[core.SessionID]struct{}
	closed  bool
}

func NewRenegotiator(workers int, offer OfferFunc) (*Renegotiator, error) {
	if workers <= 0 {
		workers = 1
	}
	pool, err := ants.NewPool(workers, ants.WithPanicHandler(func(v any) {
		log.Error().Str("module", "sfu.renegotiator").Interface("panic", v).Msg("renegotiation task panicked")
	}))
	if err != nil {
		return nil, fmt.Errorf("create renegotiation pool: %w", err)
	}
	return &Renegotiator{
		pool:    pool,
		offer:   offer,
		pending: make(map[core.SessionID]struct{}),
	}, nil
}

// Schedule queues one offer per receiver. Call it only after releasing the
// lock the offer function takes.
func (r *Renegotiator) Schedule(sids ...core.SessionID) {
	for _, sid := range sids {
		r.schedule(sid)
	}
}

func (r *Renegotiator) schedule(sid core.SessionID) {
	logger := log.With().Str("module", "sfu.renegotiator").Str("sid", string(sid)).Logger()

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		logger.Debug().Err(ErrRenegotiatorClosed).Msg("drop renegotiation")
		return
	}
	if _, ok := r.pending[sid]; ok {
		r.mu.Unlock()
		logger.Debug().Msg("renegotiation already queued")
		return
	}
	r.pending[sid] = struct{}{}
	r.mu.Unlock()

	err := r.pool.Submit(func() {
		r.mu.Lock()
		delete(r.pending, sid)
		r.mu.Unlock()

		if err := r.offer(sid); err != nil {
			metrics.Renegotiations.WithLabelValues(metrics.ResultError).Inc()
			logger.Warn().Err(err).Msg("renegotiation failed")
			return
		}
		metrics.Renegotiations.WithLabelValues(metrics.ResultOK).Inc()
	})
	if err != nil {
		r.mu.Lock()
		delete(r.pending, sid)
		r.mu.Unlock()
		logger.Error().Err(err).Msg("submit renegotiation")
	}
}

// queued reports whether an offer for sid is queued but not yet started.
func (r *Renegotiator) queued(sid core.SessionID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.pending[sid]
	return ok
}

func (r *Renegotiator) Close() {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()
	r.pool.Release()
}
