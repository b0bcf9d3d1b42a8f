package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"runtime/debug"
	"strings"
	"time"

	"github.com/chinmina/waste-bridge/internal/address"
	"github.com/chinmina/waste-bridge/internal/affarsverken"
	"github.com/chinmina/waste-bridge/internal/building"
	"github.com/chinmina/waste-bridge/internal/cache"
	"github.com/chinmina/waste-bridge/internal/collection"
	"github.com/chinmina/waste-bridge/internal/config"
	"github.com/chinmina/waste-bridge/internal/observe"
	"github.com/chinmina/waste-bridge/internal/refresh"
	"github.com/chinmina/waste-bridge/internal/server"
	"github.com/chinmina/waste-bridge/internal/store"
	"github.com/chinmina/waste-bridge/internal/token"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"
	"github.com/rs/zerolog/log"

	"github.com/justinas/alice"
)

func configureServerRoutes(coordinator *refresh.Coordinator, now func() time.Time) http.Handler {
	// wrap a mux such that HTTP telemetry is configured by default
	muxWithoutTelemetry := http.NewServeMux()
	mux := observe.NewMux(muxWithoutTelemetry)

	// The request body size is fairly limited: no route accepts a body.
	requestLimitBytes := int64(1 << 10) // 1 KB
	requestLimiter := maxRequestSize(requestLimitBytes)

	standardRouteMiddleware := alice.New(requestLimiter)
	loggedRouteMiddleware := alice.New(
		requestLimiter,
		hlog.NewHandler(log.Logger),
		hlog.MethodHandler("method"),
		hlog.URLHandler("url"),
		hlog.RemoteAddrHandler("remote_addr"),
		hlog.AccessHandler(func(r *http.Request, status, size int, duration time.Duration) {
			hlog.FromRequest(r).Info().
				Int("status", status).
				Int("size", size).
				Dur("duration", duration).
				Msg("request")
		}),
	)

	mux.Handle("GET /addresses", loggedRouteMiddleware.Then(handleListAddresses(coordinator, now)))
	mux.Handle("GET /addresses/{key}/sensors", loggedRouteMiddleware.Then(handleGetSensors(coordinator, now)))
	mux.Handle("GET /addresses/{key}/calendar.ics", loggedRouteMiddleware.Then(handleGetCalendar(coordinator, now)))
	mux.Handle("POST /addresses/{key}/refresh", loggedRouteMiddleware.Then(handlePostRefresh(coordinator)))

	// health and readiness checks are not included in telemetry
	muxWithoutTelemetry.Handle("GET /healthcheck", standardRouteMiddleware.Then(handleHealthCheck()))
	muxWithoutTelemetry.Handle("GET /ready", standardRouteMiddleware.Then(handleReady(coordinator)))

	return mux
}

// configureCoordinator builds the refresh pipeline for every configured
// address over a shared cache file and vendor client.
func configureCoordinator(cfg config.Config, entries []address.Entry) (*refresh.Coordinator, cache.Cache[refresh.Snapshot], error) {
	client, err := affarsverken.New(cfg.Vendor)
	if err != nil {
		return nil, nil, fmt.Errorf("vendor client configuration failed: %w", err)
	}

	cacheStore := store.New(cfg.Cache.File)
	tokens := token.NewManager(cacheStore, client)
	resolver := building.NewResolver(cacheStore, client, building.WithLifetime(cfg.Cache.BuildingLifetime))
	fetcher := collection.NewFetcher(tokens, resolver, client)

	memory, err := cache.NewMemory[refresh.Snapshot](0, max(len(entries), 1)*4)
	if err != nil {
		return nil, nil, fmt.Errorf("snapshot cache configuration failed: %w", err)
	}
	snapshots := cache.NewInstrumented[refresh.Snapshot](memory, "memory")

	pollers := make([]*refresh.Poller, 0, len(entries))
	for _, entry := range entries {
		pollers = append(pollers, refresh.NewPoller(entry, fetcher, snapshots,
			refresh.WithCycleTimeout(cfg.Schedule.CycleTimeout),
		))
	}

	return refresh.NewCoordinator(pollers, cfg.Schedule.Interval), snapshots, nil
}

func main() {
	configureLogging()

	logBuildInfo()

	err := launchServer()
	if err != nil {
		log.Fatal().Err(err).Msg("server failed to start")
	}
}

func launchServer() error {
	ctx := context.Background()

	cfg, err := config.Load(ctx)
	if err != nil {
		return fmt.Errorf("configuration load failed: %w", err)
	}

	// configure telemetry, including wrapping default HTTP client
	shutdownTelemetry, err := observe.Configure(ctx, cfg.Observe)
	if err != nil {
		return fmt.Errorf("telemetry bootstrap failed: %w", err)
	}

	http.DefaultTransport = observe.HTTPTransport(
		configureHTTPTransport(cfg.Vendor),
		cfg.Observe,
	)
	http.DefaultClient = &http.Client{
		Transport: http.DefaultTransport,
	}

	entries, err := address.Load(cfg.Addresses)
	if err != nil {
		return fmt.Errorf("address configuration failed: %w", err)
	}

	coordinator, snapshots, err := configureCoordinator(cfg, entries)
	if err != nil {
		return err
	}

	log.Info().
		Int("addresses", len(entries)).
		Str("cache_file", cfg.Cache.File).
		Msg("running first refresh")

	failures := coordinator.FirstRefresh(ctx)
	for key, ferr := range failures {
		log.Warn().Err(ferr).Str("key", key).Msg("address is not ready")
	}
	if cfg.Schedule.RequireFirstSuccess && len(failures) > 0 {
		return fmt.Errorf("first refresh failed for %d of %d addresses", len(failures), len(entries))
	}

	refreshCtx, stopRefresh := context.WithCancel(ctx)
	coordinator.Start(refreshCtx)

	hooks := &server.ShutdownHooks{}
	hooks.Add("refresh", func() error {
		stopRefresh()
		coordinator.Wait()
		return nil
	})
	hooks.AddClose("snapshots", snapshots)
	hooks.AddContext("telemetry", shutdownTelemetry)

	srv := server.New(cfg.Server, configureServerRoutes(coordinator, time.Now))

	err = server.Serve(ctx, cfg.Server, srv, hooks)
	if err != nil {
		return fmt.Errorf("server failed: %w", err)
	}

	return nil
}

func configureLogging() {
	// Set global level to the minimum: allows the Open Telemetry logging to be
	// configured separately. However, it means that any logger that sets its
	// level will log as this effectively disables the global level.
	zerolog.SetGlobalLevel(zerolog.Level(-128))

	// default level is Info
	log.Logger = log.Level(zerolog.InfoLevel)

	if os.Getenv("ENV") == "development" {
		log.Logger = log.
			Output(zerolog.ConsoleWriter{Out: os.Stdout}).
			Level(zerolog.DebugLevel)
	}

	zerolog.DefaultContextLogger = &log.Logger
}

func logBuildInfo() {
	buildInfo, ok := debug.ReadBuildInfo()
	if !ok {
		return
	}
	ev := log.Info()
	for _, v := range buildInfo.Settings {
		if strings.HasPrefix(v.Key, "vcs.") ||
			strings.HasPrefix(v.Key, "GO") ||
			v.Key == "CGO_ENABLED" {
			ev = ev.Str(v.Key, v.Value)
		}
	}

	ev.Msg("build information")
}

func configureHTTPTransport(cfg config.VendorConfig) *http.Transport {
	transport := http.DefaultTransport.(*http.Transport).Clone()

	transport.MaxIdleConns = cfg.MaxIdleConns
	transport.MaxConnsPerHost = cfg.MaxConnsPerHost

	return transport
}
