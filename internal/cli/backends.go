package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/soyeahso/meshgate/internal/config"
	"github.com/soyeahso/meshgate/internal/logging"
	"github.com/soyeahso/meshgate/internal/store"
	"github.com/soyeahso/meshgate/internal/store/redisstore"
)

// backends holds the pairing and session stores selected by store.driver.
type backends struct {
	driver   string
	pairing  store.PairingStore
	sessions store.SessionStore
	closers  []func() error
}

// Close releases the stores in reverse open order.
func (b *backends) Close() error {
	var errs []error
	for i := len(b.closers) - 1; i >= 0; i-- {
		errs = append(errs, b.closers[i]())
	}
	return errors.Join(errs...)
}

// openBackends opens the stores for cfg.Store.Driver. Redis holds pairing
// state only; session metadata stays in the local SQLite file.
func openBackends(ctx context.Context, cfg config.Config, p config.Paths, log *logging.Logger) (*backends, error) {
	b := &backends{driver: cfg.Store.Driver}

	openSQLite := func() (*store.DB, error) {
		if err := p.EnsureDirs(); err != nil {
			return nil, fmt.Errorf("creating state dirs: %w", err)
		}
		db, err := store.Open(p.DB, log)
		if err != nil {
			return nil, fmt.Errorf("opening database: %w", err)
		}
		b.closers = append(b.closers, db.Close)
		return db, nil
	}

	switch cfg.Store.Driver {
	case "memory":
		b.pairing = store.NewMemoryPairingStore(store.DefaultPairingTTL)
		b.sessions = store.NewMemorySessionStore()
		log.Info().Msg("using in-memory stores")

	case "redis":
		rs, err := redisstore.Open(ctx, cfg.Store.RedisURL, store.DefaultPairingTTL)
		if err != nil {
			return nil, fmt.Errorf("connecting to redis: %w", err)
		}
		b.closers = append(b.closers, rs.Close)
		b.pairing = rs

		db, err := openSQLite()
		if err != nil {
			_ = b.Close()
			return nil, err
		}
		b.sessions = store.NewSQLiteSessionStore(db)
		log.Info().Str("path", p.DB).Msg("using redis pairing store and SQLite sessions")

	case "sqlite", "":
		db, err := openSQLite()
		if err != nil {
			return nil, err
		}
		b.pairing = store.NewSQLitePairingStore(db, store.DefaultPairingTTL)
		b.sessions = store.NewSQLiteSessionStore(db)
		log.Info().Str("path", p.DB).Msg("using SQLite stores")

	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Store.Driver)
	}
	return b, nil
}
