// Package fakevendor is an in-process stand-in for the vendor's open API. It
// serves the login, building search and building endpoints with configurable
// responses and records every call. It backs the test helpers and the local
// development server in cmd/fakevendor.
package fakevendor

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-jose/go-jose/v4"
	josejwt "github.com/go-jose/go-jose/v4/jwt"
	"github.com/rs/zerolog/log"
)

// Endpoint names the served routes for call counting.
type Endpoint string

const (
	EndpointLogin    Endpoint = "login"
	EndpointSearch   Endpoint = "search"
	EndpointBuilding Endpoint = "building"
)

type failure struct {
	status int
	body   string
}

// Server holds the fake's state. The zero value is not usable; call New.
type Server struct {
	mu sync.Mutex

	key       []byte
	brandName string
	tokenTTL  time.Duration
	// when set, served instead of a minted token
	rawToken *string
	// when false, bearer tokens are not checked
	verifyTokens bool

	buildings map[string]string
	services  map[string]string

	loginFailure  *failure
	searchBody    *string
	searchFailure *failure
	wasteFailures map[string]failure

	calls    map[Endpoint]int
	lastAuth string
}

// New returns a fake that mints HS256 tokens signed with key, valid for two
// hours, for the Affarsverken brand.
func New(key []byte) *Server {
	return &Server{
		key:           key,
		brandName:     "Affarsverken",
		tokenTTL:      2 * time.Hour,
		verifyTokens:  true,
		buildings:     map[string]string{},
		services:      map[string]string{},
		wasteFailures: map[string]failure{},
		calls:         map[Endpoint]int{},
	}
}

// AddBuilding registers address as resolving to query, with the given JSON
// document served for the building.
func (s *Server) AddBuilding(address, query, servicesJSON string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.buildings[address] = query
	s.services[query] = servicesJSON
}

// SetTokenTTL changes the validity of minted tokens. Zero mints tokens with no
// exp claim.
func (s *Server) SetTokenTTL(ttl time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokenTTL = ttl
}

// SetRawToken serves body verbatim from the login endpoint and stops bearer
// verification, as such tokens cannot be checked.
func (s *Server) SetRawToken(body string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rawToken = &body
	s.verifyTokens = false
}

// FailLogin makes the login endpoint respond with status and body.
func (s *Server) FailLogin(status int, body string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.loginFailure = &failure{status, body}
}

// SetSearchResponse serves body verbatim from the search endpoint.
func (s *Server) SetSearchResponse(body string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.searchBody = &body
}

// FailSearch makes the search endpoint respond with status and body.
func (s *Server) FailSearch(status int, body string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.searchFailure = &failure{status, body}
}

// FailBuilding makes the building endpoint for query respond with status and
// body.
func (s *Server) FailBuilding(query string, status int, body string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.wasteFailures[query] = failure{status, body}
}

// RecoverBuilding removes a failure set with FailBuilding.
func (s *Server) RecoverBuilding(query string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.wasteFailures, query)
}

// Calls returns how many requests the endpoint has received.
func (s *Server) Calls(e Endpoint) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[e]
}

// LastAuthorization returns the Authorization header of the last
// authenticated request.
func (s *Server) LastAuthorization() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastAuth
}

// Handler serves the vendor routes below prefix, e.g. "/api/v1/open-api".
func (s *Server) Handler(prefix string) http.Handler {
	prefix = strings.TrimSuffix(prefix, "/")

	mux := http.NewServeMux()
	mux.HandleFunc("POST "+prefix+"/login", s.handleLogin)
	mux.HandleFunc("GET "+prefix+"/waste/buildings/search", s.authenticated(s.handleSearch))
	mux.HandleFunc("GET "+prefix+"/waste/buildings/{query}", s.authenticated(s.handleBuilding))

	return mux
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.calls[EndpointLogin]++

	if s.loginFailure != nil {
		writeBody(w, s.loginFailure.status, s.loginFailure.body)
		return
	}

	if brand := r.URL.Query().Get("BrandName"); brand != s.brandName {
		writeBody(w, http.StatusBadRequest, fmt.Sprintf(`{"message":"unknown brand %q"}`, brand))
		return
	}

	if s.rawToken != nil {
		w.Header().Set("Content-Type", "text/plain")
		_, _ = w.Write([]byte(*s.rawToken))
		return
	}

	var exp time.Time
	if s.tokenTTL > 0 {
		exp = time.Now().Add(s.tokenTTL)
	}

	token, err := MintToken(s.key, exp)
	if err != nil {
		writeBody(w, http.StatusInternalServerError, fmt.Sprintf(`{"message":%q}`, err.Error()))
		return
	}

	w.Header().Set("Content-Type", "text/plain")
	_, _ = w.Write([]byte(token))
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.calls[EndpointSearch]++

	if s.searchFailure != nil {
		writeBody(w, s.searchFailure.status, s.searchFailure.body)
		return
	}

	if s.searchBody != nil {
		writeBody(w, http.StatusOK, *s.searchBody)
		return
	}

	address := r.URL.Query().Get("address")
	query, ok := s.buildings[address]
	if !ok {
		writeBody(w, http.StatusOK, "[]")
		return
	}

	data, _ := json.Marshal([]map[string]string{{"query": query, "address": address}})
	writeBody(w, http.StatusOK, string(data))
}

func (s *Server) handleBuilding(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.calls[EndpointBuilding]++

	query := r.PathValue("query")

	if f, ok := s.wasteFailures[query]; ok {
		writeBody(w, f.status, f.body)
		return
	}

	body, ok := s.services[query]
	if !ok {
		writeBody(w, http.StatusNotFound, `{"message":"building not found"}`)
		return
	}

	writeBody(w, http.StatusOK, body)
}

func (s *Server) authenticated(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		auth := r.Header.Get("Authorization")

		s.mu.Lock()
		s.lastAuth = auth
		verify := s.verifyTokens
		s.mu.Unlock()

		token, ok := strings.CutPrefix(auth, "Bearer ")
		if !ok || token == "" {
			writeBody(w, http.StatusUnauthorized, `{"message":"missing bearer token"}`)
			return
		}

		if verify {
			if err := VerifyToken(s.key, token); err != nil {
				log.Debug().Err(err).Msg("fake vendor rejected token")
				writeBody(w, http.StatusUnauthorized, `{"message":"invalid token"}`)
				return
			}
		}

		next(w, r)
	}
}

// MintToken signs a vendor-style JWT with HS256. A zero exp omits the claim.
func MintToken(key []byte, exp time.Time) (string, error) {
	signer, err := jose.NewSigner(
		jose.SigningKey{Algorithm: jose.HS256, Key: key},
		(&jose.SignerOptions{}).WithType("JWT"),
	)
	if err != nil {
		return "", fmt.Errorf("create signer: %w", err)
	}

	now := time.Now()
	claims := josejwt.Claims{
		Issuer:   "fakevendor",
		Subject:  "Affarsverken",
		IssuedAt: josejwt.NewNumericDate(now),
	}
	if !exp.IsZero() {
		claims.Expiry = josejwt.NewNumericDate(exp)
	}

	return josejwt.Signed(signer).Claims(claims).Serialize()
}

// VerifyToken checks the signature and expiry of a token minted by MintToken.
func VerifyToken(key []byte, token string) error {
	parsed, err := josejwt.ParseSigned(token, []jose.SignatureAlgorithm{jose.HS256})
	if err != nil {
		return fmt.Errorf("parse token: %w", err)
	}

	var claims josejwt.Claims
	if err := parsed.Claims(key, &claims); err != nil {
		return fmt.Errorf("verify token: %w", err)
	}

	if claims.Expiry == nil {
		return nil
	}

	return claims.ValidateWithLeeway(josejwt.Expected{Time: time.Now()}, 0)
}

func writeBody(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(body))
}
