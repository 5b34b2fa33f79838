package tables

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/bbtraining/checkout-api/internal/money"
)

// FileSource reads tables from a YAML document written by cmd/tools/tablesync.
type FileSource struct {
	Path string
}

// Name implements Source.
func (f FileSource) Name() string { return "yaml" }

// Fetch implements Source.
func (f FileSource) Fetch(_ context.Context) (Snapshot, error) {
	raw, err := os.ReadFile(f.Path)
	if err != nil {
		return Snapshot{}, fmt.Errorf("read tables file: %w", err)
	}
	snap, err := DecodeYAML(raw)
	if err != nil {
		return Snapshot{}, err
	}
	snap.Source = f.Name()
	return snap, nil
}

type yamlDoc struct {
	GeneratedAt    time.Time         `yaml:"generated_at,omitempty"`
	Countries      []yamlCountry     `yaml:"countries"`
	TaxRates       []yamlTaxRate     `yaml:"tax_rates"`
	ShippingZones  []yamlZone        `yaml:"shipping_zones"`
	PaymentMethods []yamlPaymentType `yaml:"payment_methods"`
}

type yamlCountry struct {
	Code   string      `yaml:"code"`
	Name   string      `yaml:"name"`
	States []yamlState `yaml:"states,omitempty"`
}

type yamlState struct {
	Code string `yaml:"code"`
	Name string `yaml:"name"`
}

type yamlTaxRate struct {
	Country  string `yaml:"country"`
	State    string `yaml:"state,omitempty"`
	Rate     string `yaml:"rate"`
	Name     string `yaml:"name,omitempty"`
	Priority int    `yaml:"priority,omitempty"`
}

type yamlZone struct {
	ID        int64      `yaml:"id,omitempty"`
	Name      string     `yaml:"name"`
	Countries []string   `yaml:"countries"`
	Bands     []yamlBand `yaml:"bands"`
}

type yamlBand struct {
	Min   string `yaml:"min"`
	Max   string `yaml:"max,omitempty"`
	Cost  string `yaml:"cost"`
	Title string `yaml:"title"`
}

type yamlPaymentType struct {
	ID      string `yaml:"id"`
	Title   string `yaml:"title"`
	Enabled bool   `yaml:"enabled"`
	Order   int    `yaml:"order,omitempty"`
}

// DecodeYAML parses a tables document.
func DecodeYAML(raw []byte) (Snapshot, error) {
	var doc yamlDoc
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil {
		return Snapshot{}, fmt.Errorf("decode tables yaml: %w", err)
	}

	snap := Snapshot{FetchedAt: doc.GeneratedAt}
	for _, c := range doc.Countries {
		country := Country{Code: c.Code, Name: c.Name}
		for _, st := range c.States {
			country.States = append(country.States, State{Code: st.Code, Name: st.Name})
		}
		snap.Countries = append(snap.Countries, country)
	}
	for _, r := range doc.TaxRates {
		rate, err := money.Parse(r.Rate)
		if err != nil {
			return Snapshot{}, fmt.Errorf("tax rate %s/%s: %w", r.Country, r.State, err)
		}
		snap.TaxRates = append(snap.TaxRates, TaxRate{Country: r.Country, State: r.State, Rate: rate, Name: r.Name, Priority: r.Priority})
	}
	for _, z := range doc.ShippingZones {
		zone := ShippingZone{ID: z.ID, Name: z.Name, Countries: z.Countries}
		for _, b := range z.Bands {
			band, err := parseBand(b)
			if err != nil {
				return Snapshot{}, fmt.Errorf("zone %q: %w", z.Name, err)
			}
			zone.Methods = append(zone.Methods, band)
		}
		snap.ShippingZones = append(snap.ShippingZones, zone)
	}
	for _, pm := range doc.PaymentMethods {
		snap.PaymentMethods = append(snap.PaymentMethods, PaymentMethod{ID: pm.ID, Title: pm.Title, Enabled: pm.Enabled, Order: pm.Order})
	}
	return snap, nil
}

func parseBand(b yamlBand) (WeightBand, error) {
	min, err := money.Parse(b.Min)
	if err != nil {
		return WeightBand{}, fmt.Errorf("band %q min: %w", b.Title, err)
	}
	max, err := money.Parse(b.Max)
	if err != nil {
		return WeightBand{}, fmt.Errorf("band %q max: %w", b.Title, err)
	}
	cost, err := money.Parse(b.Cost)
	if err != nil {
		return WeightBand{}, fmt.Errorf("band %q cost: %w", b.Title, err)
	}
	return WeightBand{Min: min, Max: max, Cost: cost, Title: b.Title}, nil
}

// EncodeYAML renders s in the FileSource format.
func EncodeYAML(s Snapshot) ([]byte, error) {
	doc := yamlDoc{GeneratedAt: s.FetchedAt.UTC()}
	for _, c := range s.Countries {
		yc := yamlCountry{Code: c.Code, Name: c.Name}
		for _, st := range c.States {
			yc.States = append(yc.States, yamlState{Code: st.Code, Name: st.Name})
		}
		doc.Countries = append(doc.Countries, yc)
	}
	for _, r := range s.TaxRates {
		doc.TaxRates = append(doc.TaxRates, yamlTaxRate{Country: r.Country, State: r.State, Rate: r.Rate.String(), Name: r.Name, Priority: r.Priority})
	}
	for _, z := range s.ShippingZones {
		yz := yamlZone{ID: z.ID, Name: z.Name, Countries: z.Countries}
		for _, b := range z.Methods {
			yb := yamlBand{Min: b.Min.String(), Cost: b.Cost.StringFixed(2), Title: b.Title}
			if !b.Unbounded() {
				yb.Max = b.Max.String()
			}
			yz.Bands = append(yz.Bands, yb)
		}
		doc.ShippingZones = append(doc.ShippingZones, yz)
	}
	for _, pm := range s.PaymentMethods {
		doc.PaymentMethods = append(doc.PaymentMethods, yamlPaymentType{ID: pm.ID, Title: pm.Title, Enabled: pm.Enabled, Order: pm.Order})
	}
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(doc); err != nil {
		return nil, err
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
