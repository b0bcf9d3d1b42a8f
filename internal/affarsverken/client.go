package affarsverken

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/chinmina/waste-bridge/internal/config"
	"github.com/rs/zerolog/log"
)

// responses larger than this are truncated before decoding
const maxResponseBytes = 1 << 20

// ErrUnexpectedFormat is returned when a response body does not have the
// expected JSON shape.
var ErrUnexpectedFormat = errors.New("unexpected response format")

// Client calls the vendor's open API. It is safe for concurrent use.
type Client struct {
	baseURL    string
	brandName  string
	httpClient *http.Client
	now        func() time.Time
}

// BuildingMatch is one result of a building search. Query is the opaque key
// used to fetch the building's waste services.
type BuildingMatch struct {
	Query string `json:"query"`
}

type Option func(*Client)

// WithHTTPClient replaces the HTTP client used for all calls.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithClock sets the time source for cache-busting parameters.
func WithClock(now func() time.Time) Option {
	return func(c *Client) {
		c.now = now
	}
}

func New(cfg config.VendorConfig, opts ...Option) (Client, error) {
	if cfg.BaseURL == "" {
		return Client{}, errors.New("vendor base URL must be configured")
	}
	if _, err := url.Parse(cfg.BaseURL); err != nil {
		return Client{}, fmt.Errorf("could not parse vendor base URL: %w", err)
	}

	c := Client{
		baseURL:   strings.TrimSuffix(cfg.BaseURL, "/"),
		brandName: cfg.BrandName,
		httpClient: &http.Client{
			// resolved per call so the process-wide instrumented transport is used
			Transport: roundTripperFunc(func(req *http.Request) (*http.Response, error) {
				return http.DefaultTransport.RoundTrip(req)
			}),
			Timeout: cfg.Timeout,
		},
		now: time.Now,
	}

	for _, opt := range opts {
		opt(&c)
	}

	return c, nil
}

// Login mints a bearer token for the configured brand. The vendor treats the
// login endpoint as pre-authenticated, so no credentials are sent. The
// response body is the raw token text.
func (c Client) Login(ctx context.Context) (string, error) {
	endpoint := c.baseURL + "/login?BrandName=" + url.QueryEscape(c.brandName)

	body, err := c.do(ctx, http.MethodPost, endpoint, "")
	if err != nil {
		return "", fmt.Errorf("login failed: %w", err)
	}

	return strings.TrimSpace(string(body)), nil
}

// SearchBuildings looks up the buildings matching a free-text address. The
// response must be a JSON array; an empty array is returned as an empty slice.
func (c Client) SearchBuildings(ctx context.Context, token, address string) ([]BuildingMatch, error) {
	q := url.Values{}
	q.Set("address", address)
	q.Set("_", c.cacheBuster())
	endpoint := c.baseURL + "/waste/buildings/search?" + q.Encode()

	body, err := c.do(ctx, http.MethodGet, endpoint, token)
	if err != nil {
		return nil, fmt.Errorf("building search failed: %w", err)
	}

	var raw []json.RawMessage
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("building search: %w: expected a JSON array: %v", ErrUnexpectedFormat, err)
	}

	matches := make([]BuildingMatch, 0, len(raw))
	for _, r := range raw {
		var m BuildingMatch
		// entries that are not objects keep an empty query
		_ = json.Unmarshal(r, &m)
		matches = append(matches, m)
	}

	return matches, nil
}

// GetBuilding returns the raw waste service document for a building.
func (c Client) GetBuilding(ctx context.Context, token, queryParam string) (json.RawMessage, error) {
	q := url.Values{}
	q.Set("_", c.cacheBuster())
	endpoint := c.baseURL + "/waste/buildings/" + url.PathEscape(queryParam) + "?" + q.Encode()

	body, err := c.do(ctx, http.MethodGet, endpoint, token)
	if err != nil {
		return nil, fmt.Errorf("waste data request failed: %w", err)
	}

	return json.RawMessage(body), nil
}

func (c Client) cacheBuster() string {
	return strconv.FormatInt(c.now().UnixMilli(), 10)
}

func (c Client) do(ctx context.Context, method, endpoint, token string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, method, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("could not create request: %w", err)
	}

	req.Header.Set("Accept", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	log.Ctx(ctx).Debug().Str("method", method).Str("url", req.URL.Redacted()).Msg("vendor request")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() {
		// drain to allow connection reuse
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("could not read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, newAPIError(resp.StatusCode, body)
	}

	return body, nil
}

// APIError is a non-2xx vendor response. Details holds the decoded body when
// the vendor returned a JSON error document.
type APIError struct {
	Status  int
	Body    string
	Details any
}

func newAPIError(status int, body []byte) *APIError {
	e := &APIError{
		Status: status,
		Body:   string(body),
	}

	var details any
	if len(bytes.TrimSpace(body)) > 0 && json.Unmarshal(body, &details) == nil {
		e.Details = details
	}

	return e
}

func (e *APIError) Error() string {
	msg := fmt.Sprintf("vendor responded with status %d", e.Status)

	if e.Details != nil {
		if compact, err := json.Marshal(e.Details); err == nil {
			return msg + ": " + string(compact)
		}
	}

	body := strings.TrimSpace(e.Body)
	if body == "" {
		return msg
	}
	if len(body) > 256 {
		body = body[:256] + "..."
	}
	return msg + ": " + body
}

// StatusCode returns the HTTP status of err when it is, or wraps, an
// APIError.
func StatusCode(err error) (int, bool) {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Status, true
	}
	return 0, false
}

type roundTripperFunc func(req *http.Request) (*http.Response, error)

func (f roundTripperFunc) RoundTrip(req *http.Request) (*http.Response, error) {
	return f(req)
}
