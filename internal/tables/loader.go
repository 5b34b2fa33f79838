package tables

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/bbtraining/checkout-api/internal/cache"
	"github.com/bbtraining/checkout-api/internal/obs"
)

// ErrNoSnapshot is returned when no tables have ever been loaded.
var ErrNoSnapshot = errors.New("tables: no snapshot loaded")

// Loader publishes snapshots from a Source. Readers always get a complete
// snapshot; a failed refresh keeps serving the last good one.
type Loader struct {
	source  Source
	cache   *cache.JSON
	logger  zerolog.Logger
	now     func() time.Time
	current atomic.Pointer[Snapshot]
}

// NewLoader constructs a Loader. cache may be nil.
func NewLoader(source Source, c *cache.JSON, logger zerolog.Logger) *Loader {
	return &Loader{source: source, cache: c, logger: logger, now: time.Now}
}

// Current returns the published snapshot. Before the first successful load it
// returns an empty snapshot carrying a warning, so callers price with 0 tax
// and 0 shipping instead of failing.
func (l *Loader) Current() *Snapshot {
	if snap := l.current.Load(); snap != nil {
		return snap
	}
	return &Snapshot{Warnings: []string{"lookup tables unavailable; tax and shipping default to zero"}}
}

// Ready is the health check for the loader.
func (l *Loader) Ready(context.Context) error {
	if l.current.Load() == nil {
		return ErrNoSnapshot
	}
	return nil
}

// Load primes the loader from cache and then from the source. Only a failure
// with nothing to serve is returned.
func (l *Loader) Load(ctx context.Context) error {
	if l.cache != nil && l.current.Load() == nil {
		var cached Snapshot
		ok, err := l.cache.Get(ctx, cache.KeyTables(l.source.Name()), &cached)
		if err != nil {
			l.logger.Warn().Err(err).Msg("tables cache read failed")
		} else if ok {
			l.current.Store(&cached)
			l.logger.Info().Time("fetched_at", cached.FetchedAt).Msg("tables primed from cache")
		}
	}
	err := l.Refresh(ctx)
	if err != nil && l.current.Load() != nil {
		l.logger.Warn().Err(err).Msg("tables refresh failed; serving cached snapshot")
		return nil
	}
	return err
}

// Refresh fetches, normalises and publishes a new snapshot.
func (l *Loader) Refresh(ctx context.Context) error {
	start := l.now()
	snap, err := l.source.Fetch(ctx)
	result := "ok"
	defer func() {
		if obs.TablesRefreshLatency != nil {
			obs.TablesRefreshLatency.WithLabelValues(l.source.Name(), result).Observe(float64(time.Since(start).Milliseconds()))
		}
	}()
	if err != nil {
		result = "error"
		return fmt.Errorf("fetch %s tables: %w", l.source.Name(), err)
	}

	snap, warnings := Normalise(snap)
	snap.Warnings = append(snap.Warnings, warnings...)
	if snap.Source == "" {
		snap.Source = l.source.Name()
	}
	if snap.FetchedAt.IsZero() {
		snap.FetchedAt = l.now()
	}
	for _, w := range snap.Warnings {
		l.logger.Warn().Str("source", snap.Source).Msg(w)
	}
	l.current.Store(&snap)

	if err := l.cache.Set(ctx, cache.KeyTables(l.source.Name()), snap); err != nil {
		l.logger.Warn().Err(err).Msg("tables cache write failed")
	}
	l.logger.Info().
		Str("source", snap.Source).
		Int("countries", len(snap.Countries)).
		Int("tax_rates", len(snap.TaxRates)).
		Int("zones", len(snap.ShippingZones)).
		Msg("tables refreshed")
	return nil
}

// Run refreshes every interval until ctx is done.
func (l *Loader) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := l.Refresh(ctx); err != nil {
				l.logger.Warn().Err(err).Msg("periodic tables refresh failed")
			}
		}
	}
}
