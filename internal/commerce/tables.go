package commerce

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/bbtraining/checkout-api/internal/money"
	"github.com/bbtraining/checkout-api/internal/tables"
)

// Gateway is a WooCommerce payment gateway.
type Gateway struct {
	ID          string          `json:"id"`
	Title       string          `json:"title"`
	Description string          `json:"description"`
	Enabled     bool            `json:"enabled"`
	Order       json.RawMessage `json:"order"`
}

// PaymentGateways lists the configured gateways.
func (c *Client) PaymentGateways(ctx context.Context) ([]Gateway, error) {
	var out []Gateway
	if _, err := c.get(ctx, "/payment_gateways", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

type wcCountry struct {
	Code   string `json:"code"`
	Name   string `json:"name"`
	States []struct {
		Code string `json:"code"`
		Name string `json:"name"`
	} `json:"states"`
}

// Countries lists the store's countries and their states.
func (c *Client) Countries(ctx context.Context) ([]tables.Country, error) {
	var raw []wcCountry
	if _, err := c.get(ctx, "/data/countries", nil, &raw); err != nil {
		return nil, err
	}
	out := make([]tables.Country, 0, len(raw))
	for _, rc := range raw {
		country := tables.Country{Code: rc.Code, Name: rc.Name}
		for _, s := range rc.States {
			country.States = append(country.States, tables.State{Code: s.Code, Name: s.Name})
		}
		out = append(out, country)
	}
	return out, nil
}

type wcTax struct {
	ID       int64  `json:"id"`
	Country  string `json:"country"`
	State    string `json:"state"`
	Rate     string `json:"rate"`
	Name     string `json:"name"`
	Priority int    `json:"priority"`
	Class    string `json:"class"`
}

// TaxRates lists standard-class tax rates.
func (c *Client) TaxRates(ctx context.Context) ([]tables.TaxRate, error) {
	raw, err := getAll[wcTax](ctx, c, "/taxes")
	if err != nil {
		return nil, err
	}
	out := make([]tables.TaxRate, 0, len(raw))
	for _, t := range raw {
		if t.Class != "" && t.Class != "standard" {
			continue
		}
		rate, err := money.Parse(t.Rate)
		if err != nil {
			return nil, fmt.Errorf("tax rate %d: %w", t.ID, err)
		}
		out = append(out, tables.TaxRate{Country: t.Country, State: t.State, Rate: rate, Name: t.Name, Priority: t.Priority})
	}
	return out, nil
}

type wcZone struct {
	ID    int64  `json:"id"`
	Name  string `json:"name"`
	Order int    `json:"order"`
}

type wcLocation struct {
	Code string `json:"code"`
	Type string `json:"type"`
}

type wcSetting struct {
	Value string `json:"value"`
}

type wcMethod struct {
	InstanceID int64                `json:"instance_id"`
	Title      string               `json:"title"`
	Order      int                  `json:"order"`
	Enabled    bool                 `json:"enabled"`
	MethodID   string               `json:"method_id"`
	Settings   map[string]wcSetting `json:"settings"`
}

// ShippingZones lists zones in their configured order with country
// locations and weight bands. Enabled methods with weight_min/weight_max
// settings become bands. A method without weight settings covers the whole
// zone only when the zone has no weight-banded method. Methods that cannot be
// priced as a band (free shipping, pickup, cost formulas) are skipped and
// reported in the returned warnings.
func (c *Client) ShippingZones(ctx context.Context) ([]tables.ShippingZone, []string, error) {
	var zones []wcZone
	if _, err := c.get(ctx, "/shipping/zones", nil, &zones); err != nil {
		return nil, nil, err
	}
	sort.SliceStable(zones, func(i, j int) bool { return zones[i].Order < zones[j].Order })

	out := make([]tables.ShippingZone, len(zones))
	notes := make([][]string, len(zones))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for i, z := range zones {
		g.Go(func() error {
			zone, warn, err := c.zone(gctx, z)
			if err != nil {
				return fmt.Errorf("zone %d: %w", z.ID, err)
			}
			out[i], notes[i] = zone, warn
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}
	var warnings []string
	for _, n := range notes {
		warnings = append(warnings, n...)
	}
	return out, warnings, nil
}

// Methods WooCommerce prices without a cost setting of its own.
var unbandedMethods = map[string]bool{
	"free_shipping":   true,
	"local_pickup":    true,
	"pickup_location": true,
}

func (c *Client) zone(ctx context.Context, z wcZone) (tables.ShippingZone, []string, error) {
	zone := tables.ShippingZone{ID: z.ID, Name: z.Name}
	var locations []wcLocation
	if _, err := c.get(ctx, fmt.Sprintf("/shipping/zones/%d/locations", z.ID), nil, &locations); err != nil {
		return zone, nil, err
	}
	for _, loc := range locations {
		switch loc.Type {
		case "country":
			zone.Countries = append(zone.Countries, loc.Code)
		case "state":
			// "DE:BY" style; the zone covers the country for pricing purposes.
			if country, _, ok := strings.Cut(loc.Code, ":"); ok {
				zone.Countries = append(zone.Countries, country)
			}
		}
	}

	var methods []wcMethod
	if _, err := c.get(ctx, fmt.Sprintf("/shipping/zones/%d/methods", z.ID), nil, &methods); err != nil {
		return zone, nil, err
	}
	sort.SliceStable(methods, func(i, j int) bool { return methods[i].Order < methods[j].Order })

	var warnings []string
	skip := func(m wcMethod, why string) {
		warnings = append(warnings, fmt.Sprintf("shipping zone %q: method %d (%s) skipped: %s", z.Name, m.InstanceID, m.label(), why))
	}
	var flat []tables.WeightBand
	var flatMethods []wcMethod
	for _, m := range methods {
		if !m.Enabled {
			continue
		}
		if unbandedMethods[m.MethodID] {
			skip(m, "not priced by weight")
			continue
		}
		band, err := methodBand(m)
		if err != nil {
			skip(m, err.Error())
			continue
		}
		if !m.weighted() {
			flat, flatMethods = append(flat, band), append(flatMethods, m)
			continue
		}
		zone.Methods = append(zone.Methods, band)
	}
	if len(zone.Methods) == 0 {
		zone.Methods = flat
	} else {
		for _, m := range flatMethods {
			skip(m, "no weight range in a weight-banded zone")
		}
	}
	return zone, warnings, nil
}

func (m wcMethod) weighted() bool {
	return strings.TrimSpace(m.Settings["weight_min"].Value) != "" ||
		strings.TrimSpace(m.Settings["weight_max"].Value) != ""
}

func (m wcMethod) label() string {
	if m.Title != "" {
		return m.Title
	}
	return m.MethodID
}

func methodBand(m wcMethod) (tables.WeightBand, error) {
	var band tables.WeightBand
	for key, dst := range map[string]*decimal.Decimal{"cost": &band.Cost, "weight_min": &band.Min, "weight_max": &band.Max} {
		v, err := money.Parse(m.Settings[key].Value)
		if err != nil {
			return tables.WeightBand{}, fmt.Errorf("%s %q is not a plain amount", key, m.Settings[key].Value)
		}
		*dst = v
	}
	band.Title = m.label()
	return band, nil
}

// TablesSource loads lookup tables from the store.
type TablesSource struct {
	Client *Client
}

// Name implements tables.Source.
func (TablesSource) Name() string { return "commerce" }

// Fetch implements tables.Source. The four lists are fetched concurrently and
// any failure fails the whole snapshot.
func (s TablesSource) Fetch(ctx context.Context) (tables.Snapshot, error) {
	var snap tables.Snapshot
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		countries, err := s.Client.Countries(gctx)
		snap.Countries = countries
		return err
	})
	g.Go(func() error {
		rates, err := s.Client.TaxRates(gctx)
		snap.TaxRates = rates
		return err
	})
	g.Go(func() error {
		zones, warnings, err := s.Client.ShippingZones(gctx)
		snap.ShippingZones, snap.Warnings = zones, warnings
		return err
	})
	g.Go(func() error {
		gateways, err := s.Client.PaymentGateways(gctx)
		if err != nil {
			return err
		}
		for _, gw := range gateways {
			snap.PaymentMethods = append(snap.PaymentMethods, tables.PaymentMethod{
				ID:          gw.ID,
				Title:       gw.Title,
				Description: gw.Description,
				Enabled:     gw.Enabled,
				Order:       gatewayOrder(gw.Order),
			})
		}
		sort.SliceStable(snap.PaymentMethods, func(i, j int) bool {
			return snap.PaymentMethods[i].Order < snap.PaymentMethods[j].Order
		})
		return nil
	})
	if err := g.Wait(); err != nil {
		return tables.Snapshot{}, err
	}
	snap.Source = s.Name()
	return snap, nil
}

// WooCommerce reports gateway order as a number or an empty string.
func gatewayOrder(raw json.RawMessage) int {
	s := strings.Trim(strings.TrimSpace(string(raw)), `"`)
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0
	}
	return n
}
