package refresh

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// PeriodicRefresh refreshes the poller every interval until ctx is
// cancelled. The startup cycle is not run here; it belongs to FirstRefresh.
// Panics in a cycle are recovered and the loop continues.
func PeriodicRefresh(ctx context.Context, p *Poller, interval time.Duration) {
	for {
		select {
		case <-time.After(interval):
			cycle(ctx, p)
		case <-ctx.Done():
			log.Info().Str("key", p.Key()).Msg("refresh goroutine shutting down gracefully")
			return
		}
	}
}

// cycle performs a single traced refresh.
func cycle(ctx context.Context, p *Poller) {
	tracer := otel.Tracer("github.com/chinmina/waste-bridge/internal/refresh")
	ctx, span := tracer.Start(ctx, "refresh_address")
	defer span.End()

	span.SetAttributes(attribute.String("address.key", p.Key()))

	defer func() {
		if r := recover(); r != nil {
			err := fmt.Errorf("panic during address refresh: %v", r)
			span.RecordError(err)
			span.SetStatus(codes.Error, "address refresh panicked")
			log.Warn().Interface("panic", r).Str("key", p.Key()).Msg("address refresh panicked, recovered")
		}
	}()

	if err := p.Refresh(ctx); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "address refresh failed")
		return
	}

	span.SetStatus(codes.Ok, "address refreshed")
}
