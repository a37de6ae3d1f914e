package app

import (
	"errors"
	"slices"
	"strings"
	"sync"

	"github.com/dkeye/soundmesh/internal/domain"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/samber/lo"
)

var (
	ErrChannelNotFound = errors.New("channel not found")
	ErrChannelExists   = errors.New("channel already exists")
)

// ChannelDirectory is the set of known channels. The core only asks it
// whether an id is known; the admin surface edits it.
type ChannelDirectory struct {
	mu       sync.RWMutex
	channels map[domain.ChannelID]domain.Channel
}

func NewChannelDirectory(seed ...domain.Channel) *ChannelDirectory {
	d := &ChannelDirectory{channels: make(map[domain.ChannelID]domain.Channel, len(seed))}
	for _, ch := range seed {
		if _, err := d.Create(ch); err != nil {
			log.Warn().Err(err).Str("module", "app.channels").Str("channel", string(ch.ID)).Msg("skipping seed channel")
		}
	}
	return d
}

func (d *ChannelDirectory) Exists(id domain.ChannelID) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	_, ok := d.channels[id]
	return ok
}

// Known filters ids down to known channels, dropping duplicates.
func (d *ChannelDirectory) Known(ids []domain.ChannelID) []domain.ChannelID {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return lo.Uniq(lo.Filter(ids, func(id domain.ChannelID, _ int) bool {
		_, ok := d.channels[id]
		return ok
	}))
}

func (d *ChannelDirectory) Get(id domain.ChannelID) (domain.Channel, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	ch, ok := d.channels[id]
	return ch, ok
}

func (d *ChannelDirectory) List() []domain.Channel {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := lo.Values(d.channels)
	slices.SortFunc(out, func(a, b domain.Channel) int { return strings.Compare(string(a.ID), string(b.ID)) })
	return out
}

// Create stores ch, minting an id when none is given.
func (d *ChannelDirectory) Create(ch domain.Channel) (domain.Channel, error) {
	if err := ch.Validate(); err != nil {
		return domain.Channel{}, err
	}
	if ch.ID == "" {
		ch.ID = domain.ChannelID(uuid.NewString())
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.channels[ch.ID]; ok {
		return domain.Channel{}, ErrChannelExists
	}
	d.channels[ch.ID] = ch
	log.Info().Str("module", "app.channels").Str("channel", string(ch.ID)).Str("name", ch.Name).Msg("channel created")
	return ch, nil
}

// Update applies the non-nil fields.
func (d *ChannelDirectory) Update(id domain.ChannelID, name, description *string) (domain.Channel, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	ch, ok := d.channels[id]
	if !ok {
		return domain.Channel{}, ErrChannelNotFound
	}
	if name != nil {
		ch.Name = *name
	}
	if description != nil {
		ch.Description = *description
	}
	if err := ch.Validate(); err != nil {
		return domain.Channel{}, err
	}
	d.channels[id] = ch
	log.Info().Str("module", "app.channels").Str("channel", string(id)).Msg("channel updated")
	return ch, nil
}

func (d *ChannelDirectory) Delete(id domain.ChannelID) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.channels[id]; !ok {
		return ErrChannelNotFound
	}
	delete(d.channels, id)
	log.Info().Str("module", "app.channels").Str("channel", string(id)).Msg("channel deleted")
	return nil
}
