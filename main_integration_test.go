package main

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/chinmina/waste-bridge/internal/address"
	"github.com/chinmina/waste-bridge/internal/config"
	"github.com/chinmina/waste-bridge/internal/fakevendor"
	"github.com/chinmina/waste-bridge/internal/refresh"
	"github.com/chinmina/waste-bridge/internal/sensor"
	"github.com/chinmina/waste-bridge/internal/store"
	"github.com/chinmina/waste-bridge/internal/testhelpers"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func integrationConfig(t *testing.T, mock *testhelpers.MockVendorServer) config.Config {
	t.Helper()

	return config.Config{
		Vendor: mock.VendorConfig(),
		Cache: config.CacheConfig{
			File:             filepath.Join(t.TempDir(), "affarsverken_config.json"),
			BuildingLifetime: 30 * 24 * time.Hour,
		},
		Schedule: config.ScheduleConfig{
			Interval:     12 * time.Hour,
			CycleTimeout: 10 * time.Second,
		},
	}
}

func TestIntegration_FirstRefreshEndToEnd(t *testing.T) {
	testhelpers.SetupLogger(t)

	mock := testhelpers.SetupMockVendorServer(t)
	mock.AddBuilding("Main St 1", "B123", `{"services":[{
		"title":"Hushållsavfall",
		"nextPickup":"2025-03-10",
		"binSize":190,
		"binSizeUnit":"L",
		"pickupFrequencyDescription":"Every 2 weeks"
	}]}`)

	cfg := integrationConfig(t, mock)
	entries := []address.Entry{{Address: "Main St 1"}}

	coordinator, snapshots, err := configureCoordinator(cfg, entries)
	require.NoError(t, err)
	t.Cleanup(func() { _ = snapshots.Close() })

	_, err = os.Stat(cfg.Cache.File)
	require.ErrorIs(t, err, os.ErrNotExist, "no cache file before the first refresh")

	loginAt := time.Now()
	failures := coordinator.FirstRefresh(context.Background())
	require.Empty(t, failures)

	assert.Equal(t, 1, mock.Calls(fakevendor.EndpointLogin))
	assert.Equal(t, 1, mock.Calls(fakevendor.EndpointSearch))
	assert.Equal(t, 1, mock.Calls(fakevendor.EndpointBuilding))

	// the entity surface
	now := func() time.Time { return time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC) }
	rr := serve(t, configureServerRoutes(coordinator, now), http.MethodGet, "/addresses/main_st_1/sensors")
	require.Equal(t, http.StatusOK, rr.Code)

	var entities []sensor.Entity
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &entities))
	require.Len(t, entities, 1)

	entity := entities[0]
	require.NotNil(t, entity.State)
	assert.Equal(t, "2025-03-10", *entity.State)
	assert.True(t, entity.Available)
	assert.Equal(t, 9, entity.Attributes.DaysUntilPickup)
	assert.Equal(t, "Hushållsavfall", entity.Attributes.WasteType)
	assert.InDelta(t, 190, entity.Attributes.BinSize, 0)
	assert.Equal(t, "L", entity.Attributes.BinSizeUnit)
	assert.Equal(t, "Every 2 weeks", entity.Attributes.PickupFrequencyDescription)

	// the persisted cache document
	doc := store.New(cfg.Cache.File).Load(context.Background())
	assert.NotEmpty(t, doc.Token)
	require.NotNil(t, doc.TokenExpirationTime)
	assert.WithinDuration(t, loginAt.Add(2*time.Hour-5*time.Minute), doc.TokenExpirationTime.Time, time.Minute)

	entry, ok := doc.Buildings["Main St 1"]
	require.True(t, ok)
	assert.Equal(t, "B123", entry.QueryParam)
	assert.WithinDuration(t, time.Now(), entry.LastUpdated.Time, time.Minute)

	// a second cycle reuses the token and building
	assert.Empty(t, coordinator.Refresh(context.Background()))
	assert.Equal(t, 1, mock.Calls(fakevendor.EndpointLogin))
	assert.Equal(t, 1, mock.Calls(fakevendor.EndpointSearch))
	assert.Equal(t, 2, mock.Calls(fakevendor.EndpointBuilding))
}

func TestIntegration_FailureIsolation(t *testing.T) {
	testhelpers.SetupLogger(t)

	mock := testhelpers.SetupMockVendorServer(t)
	mock.AddBuilding("Main St 1", "A100", `{"services":[{"title":"Paper","nextPickup":"2025-03-05"}]}`)
	mock.AddBuilding("Elm St 2", "B200", `{"services":[{"title":"Glass","nextPickup":"2025-03-06"}]}`)

	cfg := integrationConfig(t, mock)
	entries := []address.Entry{{Address: "Main St 1"}, {Address: "Elm St 2"}}

	coordinator, _, err := configureCoordinator(cfg, entries)
	require.NoError(t, err)

	require.Empty(t, coordinator.FirstRefresh(context.Background()))

	// address A's waste data call starts failing, B's data changes
	mock.FailBuilding("A100", http.StatusInternalServerError, `{"message":"internal error"}`)
	mock.AddBuilding("Elm St 2", "B200", `{"services":[{"title":"Glass","nextPickup":"2025-03-20"}]}`)

	failures := coordinator.Refresh(context.Background())
	require.Len(t, failures, 1)
	assert.ErrorContains(t, failures["main_st_1"], "status 500")

	a, _ := coordinator.Poller("main_st_1")
	b, _ := coordinator.Poller("elm_st_2")

	snapA := a.Snapshot(context.Background())
	assert.Equal(t, refresh.Stale, snapA.Status)
	assert.Equal(t, "2025-03-05", snapA.Result.Records["Paper"].PickupDate(), "last known good is kept")

	snapB := b.Snapshot(context.Background())
	assert.Equal(t, refresh.Ready, snapB.Status)
	assert.Equal(t, "2025-03-20", snapB.Result.Records["Glass"].PickupDate())

	// A recovers on the next pass
	mock.RecoverBuilding("A100")
	assert.Empty(t, coordinator.Refresh(context.Background()))
	assert.Equal(t, refresh.Ready, a.Snapshot(context.Background()).Status)
}

func TestIntegration_ReusesPersistedCacheAcrossRestarts(t *testing.T) {
	mock := testhelpers.SetupMockVendorServer(t)
	mock.AddBuilding("Main St 1", "B123", `{"services":[{"title":"Paper","nextPickup":"2025-03-05"}]}`)

	cfg := integrationConfig(t, mock)
	entries := []address.Entry{{Address: "Main St 1"}}

	first, _, err := configureCoordinator(cfg, entries)
	require.NoError(t, err)
	require.Empty(t, first.FirstRefresh(context.Background()))

	// a new process over the same cache file
	second, _, err := configureCoordinator(cfg, entries)
	require.NoError(t, err)
	require.Empty(t, second.FirstRefresh(context.Background()))

	assert.Equal(t, 1, mock.Calls(fakevendor.EndpointLogin))
	assert.Equal(t, 1, mock.Calls(fakevendor.EndpointSearch))
	assert.Equal(t, 2, mock.Calls(fakevendor.EndpointBuilding))
}
