package tables

import "strings"

var euMembers = map[string]struct{}{
	"AT": {}, "BE": {}, "BG": {}, "CY": {}, "CZ": {}, "DE": {}, "DK": {}, "EE": {}, "ES": {},
	"FI": {}, "FR": {}, "GR": {}, "HR": {}, "HU": {}, "IE": {}, "IT": {}, "LT": {}, "LU": {},
	"LV": {}, "MT": {}, "NL": {}, "PL": {}, "PT": {}, "RO": {}, "SE": {}, "SI": {}, "SK": {},
}

// IsEU reports whether country is one of the EU-27. Greece is accepted as GR or EL.
func IsEU(country string) bool {
	code := strings.ToUpper(strings.TrimSpace(country))
	if code == "EL" {
		code = "GR"
	}
	_, ok := euMembers[code]
	return ok
}
