package refresh

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// Coordinator owns the pollers of all configured addresses. Addresses are
// refreshed independently: a failure for one never affects another.
type Coordinator struct {
	pollers  []*Poller
	byKey    map[string]*Poller
	interval time.Duration

	wg sync.WaitGroup
}

func NewCoordinator(pollers []*Poller, interval time.Duration) *Coordinator {
	byKey := make(map[string]*Poller, len(pollers))
	for _, p := range pollers {
		byKey[p.Key()] = p
	}

	return &Coordinator{
		pollers:  pollers,
		byKey:    byKey,
		interval: interval,
	}
}

// Pollers returns the pollers in configuration order.
func (c *Coordinator) Pollers() []*Poller {
	return c.pollers
}

func (c *Coordinator) Poller(key string) (*Poller, bool) {
	p, ok := c.byKey[key]
	return p, ok
}

// FirstRefresh runs the startup cycle of every address in turn. The result
// holds the error of each address that failed, keyed by address key.
func (c *Coordinator) FirstRefresh(ctx context.Context) map[string]error {
	return c.each(ctx, (*Poller).FirstRefresh)
}

// Refresh runs one cycle of every address in turn. The result holds the
// error of each address that failed, keyed by address key.
func (c *Coordinator) Refresh(ctx context.Context) map[string]error {
	return c.each(ctx, (*Poller).Refresh)
}

func (c *Coordinator) each(ctx context.Context, cycle func(*Poller, context.Context) error) map[string]error {
	failures := map[string]error{}
	for _, p := range c.pollers {
		if err := cycle(p, ctx); err != nil {
			failures[p.Key()] = err
		}
	}
	return failures
}

// Ready reports whether every address holds data.
func (c *Coordinator) Ready(ctx context.Context) bool {
	for _, p := range c.pollers {
		if !p.Snapshot(ctx).HasData() {
			return false
		}
	}
	return true
}

// Start launches one PeriodicRefresh loop per address. The loops stop when
// ctx is cancelled; Wait blocks until they have.
func (c *Coordinator) Start(ctx context.Context) {
	log.Info().
		Int("addresses", len(c.pollers)).
		Dur("interval", c.interval).
		Msg("starting periodic refresh")

	for _, p := range c.pollers {
		c.wg.Go(func() {
			PeriodicRefresh(ctx, p, c.interval)
		})
	}
}

func (c *Coordinator) Wait() {
	c.wg.Wait()
}
