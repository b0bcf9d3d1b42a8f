// Package refresh drives the periodic refresh of each configured address and
// holds the last-known result of every address.
package refresh

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/chinmina/waste-bridge/internal/address"
	"github.com/chinmina/waste-bridge/internal/cache"
	"github.com/chinmina/waste-bridge/internal/collection"
	"github.com/chinmina/waste-bridge/internal/failure"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// ErrNotReady marks a failed first refresh: the address has no data at all.
var ErrNotReady = errors.New("address not ready")

// Fetcher runs one fetch for an address.
type Fetcher interface {
	Fetch(ctx context.Context, address string) (collection.Result, error)
}

// Poller refreshes a single address. Cycles of one Poller never overlap.
type Poller struct {
	entry        address.Entry
	fetcher      Fetcher
	snapshots    cache.Cache[Snapshot]
	cycleTimeout time.Duration
	now          func() time.Time

	mu sync.Mutex
}

type PollerOption func(*Poller)

// WithCycleTimeout bounds the duration of each cycle. Zero leaves cycles
// bounded only by the per-request timeout.
func WithCycleTimeout(d time.Duration) PollerOption {
	return func(p *Poller) {
		p.cycleTimeout = d
	}
}

func WithClock(now func() time.Time) PollerOption {
	return func(p *Poller) {
		p.now = now
	}
}

func NewPoller(entry address.Entry, fetcher Fetcher, snapshots cache.Cache[Snapshot], opts ...PollerOption) *Poller {
	p := &Poller{
		entry:     entry,
		fetcher:   fetcher,
		snapshots: snapshots,
		now:       time.Now,
	}

	for _, opt := range opts {
		opt(p)
	}

	return p
}

func (p *Poller) Key() string {
	return p.entry.Key()
}

func (p *Poller) Entry() address.Entry {
	return p.entry
}

// Snapshot returns the current state of the address. Before any cycle has
// run it is an empty NotReady snapshot.
func (p *Poller) Snapshot(ctx context.Context) Snapshot {
	snap, found, err := p.snapshots.Get(ctx, p.Key())
	if err != nil {
		log.Ctx(ctx).Warn().Err(err).Str("key", p.Key()).Msg("snapshot lookup failed")
	}
	if err != nil || !found {
		return Snapshot{
			Key:     p.Key(),
			Address: p.entry.Address,
			Status:  NotReady,
		}
	}
	return snap
}

// FirstRefresh runs the startup cycle. A failure while no data is held is
// returned wrapping ErrNotReady.
func (p *Poller) FirstRefresh(ctx context.Context) error {
	err := p.Refresh(ctx)
	if err != nil && !p.Snapshot(ctx).HasData() {
		return fmt.Errorf("%w: %w", ErrNotReady, err)
	}
	return err
}

// Refresh runs one cycle: token, building, waste data. On failure the
// previous result is kept, the error is recorded and returned, and the
// address is marked Stale, or NotReady if it has never succeeded.
func (p *Poller) Refresh(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.cycleTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.cycleTimeout)
		defer cancel()
	}

	logger := log.Ctx(ctx).With().Str("address", p.entry.Address).Str("key", p.Key()).Logger()
	ctx = logger.WithContext(ctx)

	snap := p.Snapshot(ctx)
	snap.LastAttempt = p.now()

	result, err := p.fetcher.Fetch(ctx, p.entry.Address)
	if err != nil {
		err = fmt.Errorf("refresh cycle failed for address %q: %w", p.entry.Address, err)

		snap.LastError = err.Error()
		snap.FailureKind = failure.KindOf(err)
		snap.Status = NotReady
		if snap.HasData() {
			snap.Status = Stale
		}
		p.store(ctx, logger, snap)

		logger.Error().
			Err(err).
			Stringer("kind", snap.FailureKind).
			Stringer("status", snap.Status).
			Msg("refresh cycle failed")

		return err
	}

	snap.Result = result
	snap.UpdatedAt = p.now()
	snap.LastError = ""
	snap.FailureKind = failure.Unknown
	snap.Status = Ready
	p.store(ctx, logger, snap)

	logger.Info().Int("streams", len(result.Records)).Msg("refresh cycle succeeded")

	return nil
}

func (p *Poller) store(ctx context.Context, logger zerolog.Logger, snap Snapshot) {
	if err := p.snapshots.Set(ctx, p.Key(), snap); err != nil {
		logger.Warn().Err(err).Msg("snapshot could not be stored")
	}
}
