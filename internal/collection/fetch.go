package collection

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/chinmina/waste-bridge/internal/failure"
	"github.com/rs/zerolog/log"
)

// TokenSource supplies a valid bearer token.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// BuildingResolver maps an address to its building query key.
type BuildingResolver interface {
	Resolve(ctx context.Context, token, address string) (string, error)
}

// DataSource returns the raw waste document for a building.
type DataSource interface {
	GetBuilding(ctx context.Context, token, queryParam string) (json.RawMessage, error)
}

// Fetcher runs the sequence token, building, waste data, parse for an
// address. The stages are strictly sequential.
type Fetcher struct {
	tokens   TokenSource
	resolver BuildingResolver
	source   DataSource
}

func NewFetcher(tokens TokenSource, resolver BuildingResolver, source DataSource) *Fetcher {
	return &Fetcher{
		tokens:   tokens,
		resolver: resolver,
		source:   source,
	}
}

// Fetch returns the parsed waste streams for address. Any failing stage ends
// the fetch with an error carrying the stage's failure kind. A valid document
// that yields no records is a failure.Parse error.
func (f *Fetcher) Fetch(ctx context.Context, address string) (Result, error) {
	logger := log.Ctx(ctx).With().Str("address", address).Logger()

	tok, err := f.tokens.Token(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("authentication token not available: %w", err)
	}

	query, err := f.resolver.Resolve(ctx, tok, address)
	if err != nil {
		return Result{}, fmt.Errorf("could not resolve building: %w", err)
	}

	raw, err := f.source.GetBuilding(ctx, tok, query)
	if err != nil {
		logger.Error().Err(err).Str("query", query).Msg("waste data fetch failed")
		return Result{}, failure.New(failure.Fetch, err)
	}

	records, err := Parse(raw, logger)
	if err != nil {
		logger.Warn().Err(err).Msg("waste data could not be parsed")
		return Result{}, err
	}

	if len(records) == 0 {
		return Result{}, failure.New(failure.Parse, errors.New("no waste collection dates parsed"))
	}

	logger.Debug().Int("streams", len(records)).Msg("waste data fetched")

	return Result{
		Records: records,
		Raw:     raw,
	}, nil
}
