// Package token obtains and caches the vendor bearer token.
package token

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/chinmina/waste-bridge/internal/failure"
	"github.com/chinmina/waste-bridge/internal/store"
	"github.com/golang-jwt/jwt/v4"
	"github.com/rs/zerolog/log"
)

const (
	// ExpiryMargin is subtracted from the token's exp claim so that a token is
	// replaced before the vendor starts rejecting it.
	ExpiryMargin = 5 * time.Minute

	// DefaultValidity applies when the token carries no usable exp claim.
	DefaultValidity = time.Hour
)

// Minter issues a new raw token from the vendor.
type Minter interface {
	Login(ctx context.Context) (string, error)
}

// Manager hands out a valid bearer token, logging in only when the token in
// the cache document is missing or expired.
type Manager struct {
	store  *store.Store
	minter Minter
	now    func() time.Time

	// serialises logins across concurrent refresh cycles
	mu sync.Mutex
}

type Option func(*Manager)

// WithClock sets the time source used for expiry checks.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		m.now = now
	}
}

func NewManager(s *store.Store, minter Minter, opts ...Option) *Manager {
	m := &Manager{
		store:  s,
		minter: minter,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Token returns the cached token while it is valid, otherwise a freshly
// minted one. A failed or empty login is returned as a failure.Auth error.
func (m *Manager) Token(ctx context.Context) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	logger := log.Ctx(ctx)

	doc := m.store.Load(ctx)
	if doc.TokenValid(m.now()) {
		logger.Debug().Time("expiry", doc.TokenExpiry()).Msg("hit: using cached authentication token")
		return doc.Token, nil
	}

	logger.Info().Msg("miss: cached token is expired or not available, requesting a new token")

	tok, err := m.minter.Login(ctx)
	if err != nil {
		logger.Error().Err(err).Msg("authentication failed")
		return "", failure.New(failure.Auth, err)
	}

	if tok == "" {
		logger.Error().Msg("login succeeded but the response contained no token")
		return "", failure.New(failure.Auth, errors.New("login response contained no token"))
	}

	now := m.now()
	expiry, err := Expiry(tok, now)
	if err != nil {
		logger.Warn().Err(err).
			Time("expiry", expiry).
			Msg("token expiry could not be determined, assuming default validity")
	} else {
		logger.Info().Time("expiry", expiry).Msg("new token obtained")
	}

	m.store.Update(ctx, func(doc *store.Document) {
		doc.SetToken(tok, expiry)
	})

	return tok, nil
}

// Expiry computes when tok should be replaced: its exp claim less
// ExpiryMargin. When the claim is missing or the token cannot be decoded, the
// expiry is now plus DefaultValidity and the decoding problem is returned
// alongside it.
//
// The signature is deliberately not verified. The vendor's signing keys are
// not published and may rotate without notice; the claim is only used to
// schedule a refresh, and a wrong value at worst causes an early login or a
// rejected request that is retried on the next cycle.
func Expiry(tok string, now time.Time) (time.Time, error) {
	fallback := now.Add(DefaultValidity)

	claims := &jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(tok, claims); err != nil {
		return fallback, fmt.Errorf("could not decode token: %w", err)
	}

	if claims.ExpiresAt == nil {
		return fallback, errors.New("token has no exp claim")
	}

	return claims.ExpiresAt.Time.UTC().Add(-ExpiryMargin), nil
}
