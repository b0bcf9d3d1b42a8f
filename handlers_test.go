package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/chinmina/waste-bridge/internal/address"
	"github.com/chinmina/waste-bridge/internal/cache"
	"github.com/chinmina/waste-bridge/internal/collection"
	"github.com/chinmina/waste-bridge/internal/failure"
	"github.com/chinmina/waste-bridge/internal/refresh"
	"github.com/chinmina/waste-bridge/internal/sensor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var handlerNow = time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)

func clock() time.Time {
	return handlerNow
}

type fetchFunc func(ctx context.Context, addr string) (collection.Result, error)

func (f fetchFunc) Fetch(ctx context.Context, addr string) (collection.Result, error) {
	return f(ctx, addr)
}

// outcomes maps an address to its next fetch outcome.
type outcomes struct {
	mu   sync.Mutex
	errs map[string]error
}

func (o *outcomes) fail(addr string, err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.errs[addr] = err
}

func (o *outcomes) fetcher() fetchFunc {
	return func(ctx context.Context, addr string) (collection.Result, error) {
		o.mu.Lock()
		defer o.mu.Unlock()
		if err := o.errs[addr]; err != nil {
			return collection.Result{}, err
		}
		return collection.Result{
			Records: map[string]collection.Record{
				"Paper":      {Title: "Paper", NextPickup: time.Date(2024, 1, 3, 0, 0, 0, 0, time.UTC)},
				"Food Waste": {Title: "Food Waste", NextPickup: time.Date(2024, 1, 8, 0, 0, 0, 0, time.UTC), BinSize: 140.0, BinSizeUnit: "L"},
			},
		}, nil
	}
}

func testCoordinator(t *testing.T) (*refresh.Coordinator, *outcomes) {
	t.Helper()

	mem, err := cache.NewMemory[refresh.Snapshot](0, 16)
	require.NoError(t, err)

	o := &outcomes{errs: map[string]error{}}
	fetcher := o.fetcher()

	c := refresh.NewCoordinator([]*refresh.Poller{
		refresh.NewPoller(address.Entry{Address: "Main St 1", Name: "Home"}, fetcher, mem, refresh.WithClock(clock)),
		refresh.NewPoller(address.Entry{Address: "Elm St 2"}, fetcher, mem, refresh.WithClock(clock)),
	}, time.Hour)

	return c, o
}

func serve(t *testing.T, h http.Handler, method, target string) *httptest.ResponseRecorder {
	t.Helper()

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(method, target, nil))
	return rr
}

func TestHandleReady(t *testing.T) {
	c, o := testCoordinator(t)
	o.fail("Elm St 2", failure.New(failure.Resolve, errors.New("no buildings found")))
	c.FirstRefresh(context.Background())

	h := configureServerRoutes(c, clock)

	rr := serve(t, h, http.MethodGet, "/ready")
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
	assert.JSONEq(t, `{"ready":false,"not_ready":["elm_st_2"]}`, rr.Body.String())

	o.fail("Elm St 2", nil)
	c.Refresh(context.Background())

	rr = serve(t, h, http.MethodGet, "/ready")
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"ready":true}`, rr.Body.String())
}

func TestHandleListAddresses(t *testing.T) {
	c, o := testCoordinator(t)
	o.fail("Elm St 2", failure.New(failure.Auth, errors.New("login refused")))
	c.FirstRefresh(context.Background())

	rr := serve(t, configureServerRoutes(c, clock), http.MethodGet, "/addresses")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "application/json", rr.Header().Get("Content-Type"))

	var body []map[string]any
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	require.Len(t, body, 2)

	assert.Equal(t, "main_st_1", body[0]["key"])
	assert.Equal(t, "Home", body[0]["name"])
	assert.Equal(t, "ready", body[0]["status"])
	assert.InDelta(t, 2, body[0]["entities"], 0)

	assert.Equal(t, "elm_st_2", body[1]["key"])
	assert.Equal(t, "not_ready", body[1]["status"])
	assert.Contains(t, body[1]["last_error"], "login refused")
	assert.InDelta(t, 0, body[1]["entities"], 0)
}

func TestHandleGetSensors(t *testing.T) {
	c, _ := testCoordinator(t)
	c.FirstRefresh(context.Background())
	h := configureServerRoutes(c, clock)

	rr := serve(t, h, http.MethodGet, "/addresses/main_st_1/sensors")
	require.Equal(t, http.StatusOK, rr.Code)

	var entities []sensor.Entity
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &entities))
	require.Len(t, entities, 2)

	assert.Equal(t, "affarsverken_waste_home_main_st_1_food_waste", entities[0].UniqueID)
	assert.Equal(t, 7, entities[0].Attributes.DaysUntilPickup)
	assert.Equal(t, "affarsverken_waste_home_main_st_1_paper", entities[1].UniqueID)
	assert.Equal(t, "2024-01-03", *entities[1].State)
	assert.Equal(t, 2, entities[1].Attributes.DaysUntilPickup)
	assert.True(t, entities[1].Available)

	rr = serve(t, h, http.MethodGet, "/addresses/oak_st_3/sensors")
	assert.Equal(t, http.StatusNotFound, rr.Code)
	assert.JSONEq(t, `{"error":"unknown address"}`, rr.Body.String())
}

func TestHandleGetCalendar(t *testing.T) {
	c, o := testCoordinator(t)
	o.fail("Elm St 2", failure.New(failure.Parse, errors.New("no waste collection dates parsed")))
	c.FirstRefresh(context.Background())
	h := configureServerRoutes(c, clock)

	rr := serve(t, h, http.MethodGet, "/addresses/main_st_1/calendar.ics?reminder=1@18:00")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "text/calendar; charset=utf-8", rr.Header().Get("Content-Type"))

	body := rr.Body.String()
	assert.True(t, strings.HasPrefix(body, "BEGIN:VCALENDAR\r\n"))
	assert.Contains(t, body, "X-WR-CALNAME:Home Waste\r\n")
	assert.Contains(t, body, "DTSTART;VALUE=DATE:20240103\r\n")
	assert.Contains(t, body, "DTSTART;VALUE=DATE:20240108\r\n")
	assert.Equal(t, 2, strings.Count(body, "BEGIN:VALARM"))

	rr = serve(t, h, http.MethodGet, "/addresses/main_st_1/calendar.ics?reminder=tomorrow")
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = serve(t, h, http.MethodGet, "/addresses/elm_st_2/calendar.ics")
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)

	rr = serve(t, h, http.MethodGet, "/addresses/oak_st_3/calendar.ics")
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestHandlePostRefresh(t *testing.T) {
	c, o := testCoordinator(t)
	h := configureServerRoutes(c, clock)

	rr := serve(t, h, http.MethodPost, "/addresses/main_st_1/refresh")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `"status":"ready"`)

	o.fail("Main St 1", failure.New(failure.Fetch, errors.New("vendor responded with status 503")))

	rr = serve(t, h, http.MethodPost, "/addresses/main_st_1/refresh")
	assert.Equal(t, http.StatusBadGateway, rr.Code)

	var errResp ErrorResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &errResp))
	assert.Equal(t, "fetch", errResp.Kind)
	assert.Contains(t, errResp.Error, "status 503")

	p, _ := c.Poller("main_st_1")
	assert.Equal(t, refresh.Stale, p.Snapshot(context.Background()).Status)

	rr = serve(t, h, http.MethodGet, "/addresses/main_st_1/refresh")
	assert.Equal(t, http.StatusMethodNotAllowed, rr.Code)

	rr = serve(t, h, http.MethodPost, "/addresses/oak_st_3/refresh")
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestHandleHealthCheck_Success(t *testing.T) {
	req, err := http.NewRequest("GET", "/healthcheck", nil)
	require.NoError(t, err)

	rr := httptest.NewRecorder()

	// act
	handler := handleHealthCheck()
	handler.ServeHTTP(rr, req)

	// assert
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "text/plain", rr.Header().Get("Content-Type"))
	assert.Equal(t, "OK", rr.Body.String())
}

func TestErrorStatus(t *testing.T) {
	status, message := errorStatus(failure.New(failure.Resolve, errors.New("no buildings found")))
	assert.Equal(t, http.StatusBadGateway, status)
	assert.Equal(t, "resolve failure: no buildings found", message)

	// internal details are not exposed for unclassified errors
	status, message = errorStatus(errors.New("secret detail"))
	assert.Equal(t, http.StatusInternalServerError, status)
	assert.Equal(t, "Internal Server Error", message)
}

func TestMaxRequestSizeMiddleware(t *testing.T) {
	mw := maxRequestSize(10)

	var readError error
	var readBytes int64

	innerHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		readBytes, readError = io.CopyN(io.Discard, r.Body, 5*1024*1024)

		status := http.StatusOK
		if readError != nil {
			status = http.StatusBadRequest
		}

		w.WriteHeader(status)
	})

	handler := mw(innerHandler)

	body := bytes.NewBufferString("0123456789n123456789")
	req, err := http.NewRequest("POST", "/addresses/main_st_1/refresh", body)
	require.NoError(t, err)

	rr := httptest.NewRecorder()

	// act
	handler.ServeHTTP(rr, req)

	// assert
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.ErrorContains(t, readError, "http: request body too large")
	assert.Equal(t, int64(10), readBytes)
	assert.Equal(t, "", rr.Body.String())
}
