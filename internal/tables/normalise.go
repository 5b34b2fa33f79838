package tables

import (
	"fmt"
	"sort"
	"strings"
)

// Normalise upper-cases codes and orders each zone's bands by lower bound. It
// returns warnings for overlapping or inverted bands and for countries claimed
// by several zones, where the first zone in declaration order wins.
func Normalise(s Snapshot) (Snapshot, []string) {
	var warnings []string

	for i := range s.Countries {
		c := &s.Countries[i]
		c.Code = code(c.Code)
		c.EU = IsEU(c.Code)
		for j := range c.States {
			c.States[j].Code = code(c.States[j].Code)
		}
	}
	for i := range s.TaxRates {
		s.TaxRates[i].Country = code(s.TaxRates[i].Country)
		s.TaxRates[i].State = code(s.TaxRates[i].State)
	}

	owner := map[string]string{}
	for i := range s.ShippingZones {
		z := &s.ShippingZones[i]
		for j := range z.Countries {
			z.Countries[j] = code(z.Countries[j])
			if first, ok := owner[z.Countries[j]]; ok {
				warnings = append(warnings, fmt.Sprintf("country %s is in zones %q and %q; %q applies", z.Countries[j], first, z.Name, first))
				continue
			}
			owner[z.Countries[j]] = z.Name
		}
		sort.SliceStable(z.Methods, func(a, b int) bool {
			return z.Methods[a].Min.LessThan(z.Methods[b].Min)
		})
		warnings = append(warnings, bandWarnings(*z)...)
	}
	return s, warnings
}

func bandWarnings(z ShippingZone) []string {
	var out []string
	for i, b := range z.Methods {
		if !b.Unbounded() && !b.Max.GreaterThan(b.Min) {
			out = append(out, fmt.Sprintf("zone %q band %q has max %s <= min %s", z.Name, b.Title, b.Max, b.Min))
		}
		if b.Cost.IsNegative() {
			out = append(out, fmt.Sprintf("zone %q band %q has negative cost", z.Name, b.Title))
		}
		if i == 0 {
			continue
		}
		prev := z.Methods[i-1]
		if prev.Unbounded() || prev.Max.GreaterThan(b.Min) {
			out = append(out, fmt.Sprintf("zone %q bands %q and %q overlap", z.Name, prev.Title, b.Title))
		}
	}
	return out
}

func code(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}
