package sfu

import (
	"context"
	"sync"

	"github.com/dkeye/soundmesh/internal/core"
	"github.com/dkeye/soundmesh/internal/metrics"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

type RelayManager struct {
	mu     sync.RWMutex
	relays map[core.SessionID]*Relay
}

func NewRelayManager() *RelayManager {
	return &RelayManager{
		relays: make(map[core.SessionID]*Relay),
	}
}

// StartRelay creates a new Relay for the given speaker SID and starts its loop.
// A previous relay for the same SID is stopped.
func (m *RelayManager) StartRelay(ctx context.Context, sid core.SessionID, track *webrtc.TrackRemote) (*Relay, error) {
	relay, err := NewRelay(sid, track)
	if err != nil {
		return nil, err
	}
	m.start(ctx, relay)
	return relay, nil
}

func (m *RelayManager) start(ctx context.Context, relay *Relay) {
	sid := relay.Owner()
	logger := log.With().
		Str("module", "sfu.relay").
		Str("sid", string(sid)).
		Str("track_id", relay.ID()).
		Logger()

	relayCtx, cancel := context.WithCancel(ctx)
	relay.cancel = cancel

	m.mu.Lock()
	if old, ok := m.relays[sid]; ok {
		logger.Info().Msg("replacing existing relay for sid")
		old.Stop()
	}
	m.relays[sid] = relay
	m.mu.Unlock()

	metrics.ActiveRelays.Inc()
	logger.Info().Msg("starting relay loop")
	go func() {
		relay.loop(relayCtx, &logger)
		cancel()
		m.forget(relay)
		metrics.ActiveRelays.Dec()
	}()
}

func (m *RelayManager) forget(relay *Relay) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cur, ok := m.relays[relay.Owner()]; ok && cur == relay {
		delete(m.relays, relay.Owner())
	}
}

// StopRelay stops a relay and removes it from the manager.
func (m *RelayManager) StopRelay(sid core.SessionID) {
	m.mu.Lock()
	relay, ok := m.relays[sid]
	if ok {
		delete(m.relays, sid)
	}
	m.mu.Unlock()
	if !ok {
		return
	}
	relay.Stop()
}

// lookup returns the active relay of sid.
func (m *RelayManager) lookup(sid core.SessionID) (*Relay, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	relay, ok := m.relays[sid]
	return relay, ok
}

func (m *RelayManager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.relays)
}
