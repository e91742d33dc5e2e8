// Package channel keeps the set of running radio accounts.
package channel

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/soyeahso/meshgate/internal/domain"
	"github.com/soyeahso/meshgate/internal/logging"
)

// Registry holds one domain.Channel per account id.
type Registry struct {
	mu       sync.RWMutex
	channels map[string]domain.Channel
	log      *logging.Logger
}

func NewRegistry(log *logging.Logger) *Registry {
	return &Registry{
		channels: make(map[string]domain.Channel),
		log:      log.Sub("channels"),
	}
}

// Register adds ch under its account id. Registering the same account twice
// is an error.
func (r *Registry) Register(ch domain.Channel) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	id := ch.AccountID()
	if _, dup := r.channels[id]; dup {
		return fmt.Errorf("account %q already registered", id)
	}
	r.channels[id] = ch
	r.log.Info().Str("channel", ch.ID()).Str("account", id).Msg("channel registered")
	return nil
}

// Get returns the channel for an account.
func (r *Registry) Get(accountID string) (domain.Channel, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ch, ok := r.channels[accountID]
	return ch, ok
}

// List returns the registered account ids, sorted.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Sorted(maps.Keys(r.channels))
}

// snapshot copies the channels out in account order so callers can block
// on them without holding the lock.
func (r *Registry) snapshot() []domain.Channel {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.Channel, 0, len(r.channels))
	for _, id := range slices.Sorted(maps.Keys(r.channels)) {
		out = append(out, r.channels[id])
	}
	return out
}

// Status returns every account's status, ordered by account id.
func (r *Registry) Status() []domain.ChannelStatus {
	chans := r.snapshot()
	statuses := make([]domain.ChannelStatus, 0, len(chans))
	for _, ch := range chans {
		statuses = append(statuses, ch.Status())
	}
	return statuses
}

// Run starts every channel and blocks until all of them have returned.
// Accounts are independent: one failing does not stop the others. The first
// error, if any, is returned.
func (r *Registry) Run(ctx context.Context) error {
	var g errgroup.Group
	for _, ch := range r.snapshot() {
		r.log.Info().Str("account", ch.AccountID()).Msg("starting channel")
		g.Go(func() error {
			if err := ch.Start(ctx); err != nil {
				r.log.Error().Err(err).Str("account", ch.AccountID()).Msg("channel exited with error")
				return fmt.Errorf("account %s: %w", ch.AccountID(), err)
			}
			return nil
		})
	}
	return g.Wait()
}

// StopAll stops every channel concurrently and waits for them.
func (r *Registry) StopAll(ctx context.Context) {
	var g errgroup.Group
	for _, ch := range r.snapshot() {
		g.Go(func() error {
			r.log.Info().Str("account", ch.AccountID()).Msg("stopping channel")
			if err := ch.Stop(ctx); err != nil {
				r.log.Error().Err(err).Str("account", ch.AccountID()).Msg("failed to stop channel")
			}
			return nil
		})
	}
	_ = g.Wait()
}

func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.channels)
}
