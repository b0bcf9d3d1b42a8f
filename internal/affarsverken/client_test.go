package affarsverken_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/chinmina/waste-bridge/internal/affarsverken"
	"github.com/chinmina/waste-bridge/internal/config"
	"github.com/chinmina/waste-bridge/internal/fakevendor"
	"github.com/chinmina/waste-bridge/internal/testhelpers"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fixedNow = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func newClient(t *testing.T, baseURL string) affarsverken.Client {
	t.Helper()

	c, err := affarsverken.New(config.VendorConfig{
		BaseURL:   baseURL,
		BrandName: "Affarsverken",
		Timeout:   5 * time.Second,
	}, affarsverken.WithClock(func() time.Time { return fixedNow }))
	require.NoError(t, err)

	return c
}

func TestNew_RequiresBaseURL(t *testing.T) {
	_, err := affarsverken.New(config.VendorConfig{})
	assert.ErrorContains(t, err, "vendor base URL must be configured")
}

func TestLogin_ReturnsTrimmedToken(t *testing.T) {
	var method, brand string

	router := http.NewServeMux()
	router.HandleFunc("/api/login", func(w http.ResponseWriter, r *http.Request) {
		method = r.Method
		brand = r.URL.Query().Get("BrandName")
		_, _ = w.Write([]byte("  token-text\n"))
	})
	svr := httptest.NewServer(router)
	defer svr.Close()

	token, err := newClient(t, svr.URL+"/api/").Login(context.Background())

	require.NoError(t, err)
	assert.Equal(t, "token-text", token)
	assert.Equal(t, http.MethodPost, method)
	assert.Equal(t, "Affarsverken", brand)
}

func TestLogin_FailureIncludesVendorErrorBody(t *testing.T) {
	router := http.NewServeMux()
	router.HandleFunc("/login", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"message": "maintenance"}`))
	})
	svr := httptest.NewServer(router)
	defer svr.Close()

	_, err := newClient(t, svr.URL).Login(context.Background())

	require.Error(t, err)
	assert.ErrorContains(t, err, "status 503")
	assert.ErrorContains(t, err, `{"message":"maintenance"}`)

	status, ok := affarsverken.StatusCode(err)
	assert.True(t, ok)
	assert.Equal(t, http.StatusServiceUnavailable, status)
}

func TestLogin_TransportFailure(t *testing.T) {
	svr := httptest.NewServer(http.NotFoundHandler())
	baseURL := svr.URL
	svr.Close()

	_, err := newClient(t, baseURL).Login(context.Background())

	require.Error(t, err)
	_, ok := affarsverken.StatusCode(err)
	assert.False(t, ok)
}

func TestSearchBuildings_SendsEncodedAddressAndBearer(t *testing.T) {
	var query url.Values
	var auth, accept string

	router := http.NewServeMux()
	router.HandleFunc("GET /waste/buildings/search", func(w http.ResponseWriter, r *http.Request) {
		query = r.URL.Query()
		auth = r.Header.Get("Authorization")
		accept = r.Header.Get("Accept")
		_, _ = w.Write([]byte(`[{"query": "B123", "address": "Östra Vägen 1"}, {"query": "B999"}]`))
	})
	svr := httptest.NewServer(router)
	defer svr.Close()

	matches, err := newClient(t, svr.URL).SearchBuildings(context.Background(), "tok", "Östra Vägen 1")

	require.NoError(t, err)
	assert.Equal(t, []affarsverken.BuildingMatch{{Query: "B123"}, {Query: "B999"}}, matches)
	assert.Equal(t, "Östra Vägen 1", query.Get("address"))
	assert.Equal(t, "1740830400000", query.Get("_"))
	assert.Equal(t, "Bearer tok", auth)
	assert.Equal(t, "application/json", accept)
}

func TestSearchBuildings_NonArrayBody(t *testing.T) {
	router := http.NewServeMux()
	router.HandleFunc("GET /waste/buildings/search", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"query": "B123"}`))
	})
	svr := httptest.NewServer(router)
	defer svr.Close()

	_, err := newClient(t, svr.URL).SearchBuildings(context.Background(), "tok", "Main St 1")

	assert.ErrorIs(t, err, affarsverken.ErrUnexpectedFormat)
}

func TestSearchBuildings_NonObjectEntriesHaveNoQuery(t *testing.T) {
	router := http.NewServeMux()
	router.HandleFunc("GET /waste/buildings/search", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`["B123", {"name": "x"}]`))
	})
	svr := httptest.NewServer(router)
	defer svr.Close()

	matches, err := newClient(t, svr.URL).SearchBuildings(context.Background(), "tok", "Main St 1")

	require.NoError(t, err)
	assert.Equal(t, []affarsverken.BuildingMatch{{}, {}}, matches)
}

func TestGetBuilding_ReturnsRawDocument(t *testing.T) {
	var path string

	router := http.NewServeMux()
	router.HandleFunc("GET /waste/buildings/{query}", func(w http.ResponseWriter, r *http.Request) {
		path = r.PathValue("query")
		_, _ = w.Write([]byte(`{"services": []}`))
	})
	svr := httptest.NewServer(router)
	defer svr.Close()

	raw, err := newClient(t, svr.URL).GetBuilding(context.Background(), "tok", "B 123")

	require.NoError(t, err)
	assert.JSONEq(t, `{"services": []}`, string(raw))
	assert.Equal(t, "B 123", path)
}

func TestGetBuilding_ServerError(t *testing.T) {
	router := http.NewServeMux()
	router.HandleFunc("GET /waste/buildings/{query}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte("upstream exploded"))
	})
	svr := httptest.NewServer(router)
	defer svr.Close()

	_, err := newClient(t, svr.URL).GetBuilding(context.Background(), "tok", "B123")

	assert.ErrorContains(t, err, "status 500: upstream exploded")
}

func TestClient_AgainstFakeVendor(t *testing.T) {
	mock := testhelpers.SetupMockVendorServer(t)
	mock.AddBuilding("Main St 1", "B123", `{"services": []}`)

	c, err := affarsverken.New(mock.VendorConfig())
	require.NoError(t, err)

	ctx := context.Background()

	token, err := c.Login(ctx)
	require.NoError(t, err)
	require.NoError(t, fakevendor.VerifyToken(testhelpers.TokenKey, token))

	matches, err := c.SearchBuildings(ctx, token, "Main St 1")
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, "B123", matches[0].Query)

	_, err = c.GetBuilding(ctx, token, "B123")
	require.NoError(t, err)

	_, err = c.GetBuilding(ctx, "not-a-token", "B123")
	status, ok := affarsverken.StatusCode(err)
	assert.True(t, ok)
	assert.Equal(t, http.StatusUnauthorized, status)

	assert.Equal(t, 1, mock.Calls(fakevendor.EndpointLogin))
	assert.Equal(t, 1, mock.Calls(fakevendor.EndpointSearch))
	assert.Equal(t, 2, mock.Calls(fakevendor.EndpointBuilding))
}
