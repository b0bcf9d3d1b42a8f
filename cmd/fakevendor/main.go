// This command is only used for local testing: it serves a stand-in for the
// vendor API so the bridge can be run without network access. Point the
// bridge at it with VENDOR_BASE_URL=http://localhost:9090/api/v1/open-api.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/chinmina/waste-bridge/internal/config"
	"github.com/chinmina/waste-bridge/internal/fakevendor"
	"github.com/chinmina/waste-bridge/internal/server"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/sethvargo/go-envconfig"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Port       int           `env:"FAKEVENDOR_PORT, default=9090"`
	Prefix     string        `env:"FAKEVENDOR_PREFIX, default=/api/v1/open-api"`
	SigningKey string        `env:"FAKEVENDOR_SIGNING_KEY, default=local-development-signing-key-0001"`
	TokenTTL   time.Duration `env:"FAKEVENDOR_TOKEN_TTL, default=2h"`
	Fixture    string        `env:"FAKEVENDOR_FIXTURE"`
}

// fixture lists the buildings served, with their services verbatim.
type fixture struct {
	Buildings []struct {
		Address  string           `yaml:"address"`
		Query    string           `yaml:"query"`
		Services []map[string]any `yaml:"services"`
	} `yaml:"buildings"`
}

func main() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stdout})
	zerolog.DefaultContextLogger = &log.Logger

	cfg := Config{}
	if err := envconfig.Process(context.Background(), &cfg); err != nil {
		fmt.Fprintf(os.Stderr, "error reading config: %v\n", err)
		os.Exit(1)
	}

	fake := fakevendor.New([]byte(cfg.SigningKey))
	fake.SetTokenTTL(cfg.TokenTTL)

	fx, err := loadFixture(cfg.Fixture, time.Now())
	if err != nil {
		fmt.Fprintf(os.Stderr, "error loading fixture: %v\n", err)
		os.Exit(1)
	}

	for _, b := range fx.Buildings {
		body, err := json.Marshal(map[string]any{"services": b.Services})
		if err != nil {
			fmt.Fprintf(os.Stderr, "error encoding services for %q: %v\n", b.Address, err)
			os.Exit(1)
		}
		fake.AddBuilding(b.Address, b.Query, string(body))
		log.Info().Str("address", b.Address).Str("query", b.Query).Int("services", len(b.Services)).Msg("building registered")
	}

	serverCfg := config.ServerConfig{Port: cfg.Port, ShutdownTimeoutSeconds: 5}
	srv := server.New(serverCfg, fake.Handler(cfg.Prefix))

	if err := server.Serve(context.Background(), serverCfg, srv, nil); err != nil {
		log.Fatal().Err(err).Msg("fake vendor failed")
	}
}

// loadFixture reads the fixture file at path, or builds a default one with
// pickups in the days after today.
func loadFixture(path string, today time.Time) (fixture, error) {
	var fx fixture

	if path == "" {
		day := func(n int) string { return today.AddDate(0, 0, n).Format("2006-01-02") }
		src := fmt.Sprintf(`
buildings:
  - address: Main St 1
    query: B123
    services:
      - {title: Hushållsavfall, nextPickup: "%s", binSize: 190, binSizeUnit: L, pickupFrequencyDescription: Varannan vecka}
      - {title: Matavfall, nextPickup: "%s", binSize: 140, binSizeUnit: L, pickupFrequencyDescription: Varje vecka}
      - {title: Glas och metall, nextPickup: "%s"}
`, day(3), day(1), day(17))
		err := yaml.Unmarshal([]byte(src), &fx)
		return fx, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fx, err
	}

	if err := yaml.Unmarshal(data, &fx); err != nil {
		return fx, fmt.Errorf("fixture %s is not valid YAML: %w", path, err)
	}

	return fx, nil
}
