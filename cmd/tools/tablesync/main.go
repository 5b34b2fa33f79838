// Command tablesync snapshots the store's lookup tables (countries, tax rates,
// shipping zones, payment gateways) into a YAML file usable with
// TABLES_SOURCE=yaml.
package main

import (
	"context"
	"flag"
	"os"
	"time"

	"github.com/bbtraining/checkout-api/internal/commerce"
	"github.com/bbtraining/checkout-api/internal/config"
	"github.com/bbtraining/checkout-api/internal/obs"
	"github.com/bbtraining/checkout-api/internal/resilience"
	"github.com/bbtraining/checkout-api/internal/tables"
)

func main() {
	out := flag.String("out", "", "output file (defaults to TABLES_FILE)")
	timeout := flag.Duration("timeout", time.Minute, "overall fetch timeout")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}
	logger := obs.NewLogger("console", cfg.LogLevel).With().Str("component", "tablesync").Logger()

	path := *out
	if path == "" {
		path = cfg.TablesFile
	}
	if path == "" {
		logger.Fatal().Msg("no output file: pass -out or set TABLES_FILE")
	}

	client := commerce.NewClient(cfg.CommerceBaseURL, cfg.CommerceConsumerKey, cfg.CommerceConsumerSecret, &resilience.HTTPClient{
		Client:      commerce.NewHTTPClient(cfg.CommerceTimeout),
		BaseBackoff: cfg.RetryBase,
		MaxAttempts: cfg.RetryMaxAttempts,
		Jitter:      cfg.RetryJitterPercent,
		Timeout:     cfg.CommerceTimeout,
		Target:      "commerce",
		Logger:      &logger,
	})

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	snap, err := commerce.TablesSource{Client: client}.Fetch(ctx)
	if err != nil {
		logger.Fatal().Err(err).Msg("fetch lookup tables")
	}
	snap, warnings := tables.Normalise(snap)
	for _, w := range append(snap.Warnings, warnings...) {
		logger.Warn().Msg(w)
	}

	raw, err := tables.EncodeYAML(snap)
	if err != nil {
		logger.Fatal().Err(err).Msg("encode tables")
	}
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		logger.Fatal().Err(err).Str("path", path).Msg("write tables")
	}
	logger.Info().
		Str("path", path).
		Int("countries", len(snap.Countries)).
		Int("tax_rates", len(snap.TaxRates)).
		Int("zones", len(snap.ShippingZones)).
		Int("payment_methods", len(snap.PaymentMethods)).
		Msg("lookup tables written")
}
