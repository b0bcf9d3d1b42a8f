// Package building resolves street addresses to the vendor's building query
// key.
package building

import (
	"context"
	"errors"
	"time"

	"github.com/chinmina/waste-bridge/internal/affarsverken"
	"github.com/chinmina/waste-bridge/internal/failure"
	"github.com/chinmina/waste-bridge/internal/store"
	"github.com/rs/zerolog/log"
)

// DefaultLifetime is how long a resolved query key is reused.
const DefaultLifetime = 30 * 24 * time.Hour

// Searcher looks up buildings by free-text address.
type Searcher interface {
	SearchBuildings(ctx context.Context, token, address string) ([]affarsverken.BuildingMatch, error)
}

// Resolver maps an address to its building query key, caching the result in
// the store document.
type Resolver struct {
	store    *store.Store
	searcher Searcher
	lifetime time.Duration
	now      func() time.Time
}

type Option func(*Resolver)

// WithLifetime overrides DefaultLifetime. Non-positive values are ignored.
func WithLifetime(d time.Duration) Option {
	return func(r *Resolver) {
		if d > 0 {
			r.lifetime = d
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(r *Resolver) {
		r.now = now
	}
}

func NewResolver(s *store.Store, searcher Searcher, opts ...Option) *Resolver {
	r := &Resolver{
		store:    s,
		searcher: searcher,
		lifetime: DefaultLifetime,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve returns the query key for address. A cached key younger than the
// lifetime is returned without a network call. Otherwise the first search
// result is used and cached. Search errors and unusable results are returned
// as failure.Resolve errors; there is no retry.
func (r *Resolver) Resolve(ctx context.Context, token, address string) (string, error) {
	logger := log.Ctx(ctx).With().Str("address", address).Logger()

	doc := r.store.Load(ctx)
	if entry, ok := doc.Buildings[address]; ok && entry.Fresh(r.now(), r.lifetime) {
		logger.Debug().Str("query", entry.QueryParam).Msg("hit: using cached building")
		return entry.QueryParam, nil
	}

	logger.Info().Msg("miss: cached building is expired or not available, searching")

	matches, err := r.searcher.SearchBuildings(ctx, token, address)
	if err != nil {
		logger.Error().Err(err).Msg("building search failed")
		return "", failure.New(failure.Resolve, err)
	}

	if len(matches) == 0 {
		logger.Warn().Msg("building search returned no results")
		return "", failure.New(failure.Resolve, errors.New("building search returned no results"))
	}

	query := matches[0].Query
	if query == "" {
		logger.Warn().Msg("first building search result has no query")
		return "", failure.New(failure.Resolve, errors.New("first building search result has no query"))
	}

	r.store.Update(ctx, func(doc *store.Document) {
		doc.SetBuilding(address, query, r.now())
	})

	logger.Info().Str("query", query).Msg("building resolved")

	return query, nil
}
