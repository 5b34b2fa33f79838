package vat

import (
	"regexp"
	"strings"
)

// VIES uses EL for Greece; everything else is the ISO code.
func authorityCountry(country string) string {
	c := strings.ToUpper(strings.TrimSpace(country))
	if c == "GR" {
		return "EL"
	}
	return c
}

var formats = map[string]*regexp.Regexp{
	"AT": regexp.MustCompile(`^U\d{8}$`),
	"BE": regexp.MustCompile(`^[01]\d{9}$`),
	"BG": regexp.MustCompile(`^\d{9,10}$`),
	"CY": regexp.MustCompile(`^\d{8}[A-Z]$`),
	"CZ": regexp.MustCompile(`^\d{8,10}$`),
	"DE": regexp.MustCompile(`^\d{9}$`),
	"DK": regexp.MustCompile(`^\d{8}$`),
	"EE": regexp.MustCompile(`^\d{9}$`),
	"EL": regexp.MustCompile(`^\d{9}$`),
	"ES": regexp.MustCompile(`^[A-Z0-9]\d{7}[A-Z0-9]$`),
	"FI": regexp.MustCompile(`^\d{8}$`),
	"FR": regexp.MustCompile(`^[A-HJ-NP-Z0-9]{2}\d{9}$`),
	"HR": regexp.MustCompile(`^\d{11}$`),
	"HU": regexp.MustCompile(`^\d{8}$`),
	"IE": regexp.MustCompile(`^(\d{7}[A-W][A-I]?|\d[A-Z+*]\d{5}[A-W])$`),
	"IT": regexp.MustCompile(`^\d{11}$`),
	"LT": regexp.MustCompile(`^(\d{9}|\d{12})$`),
	"LU": regexp.MustCompile(`^\d{8}$`),
	"LV": regexp.MustCompile(`^\d{11}$`),
	"MT": regexp.MustCompile(`^\d{8}$`),
	"NL": regexp.MustCompile(`^\d{9}B\d{2}$`),
	"PL": regexp.MustCompile(`^\d{10}$`),
	"PT": regexp.MustCompile(`^\d{9}$`),
	"RO": regexp.MustCompile(`^\d{2,10}$`),
	"SE": regexp.MustCompile(`^\d{12}$`),
	"SI": regexp.MustCompile(`^\d{8}$`),
	"SK": regexp.MustCompile(`^\d{10}$`),
}

var separators = strings.NewReplacer(" ", "", ".", "", "-", "", "\t", "")

// Normalise returns the VIES country code and the bare number: separators
// removed, upper-cased, and a leading country prefix stripped. A number that
// already matches the local format is left alone, so a French key of "FR"
// survives.
func Normalise(country, number string) (string, string) {
	code := authorityCountry(country)
	n := strings.ToUpper(separators.Replace(strings.TrimSpace(number)))
	if re, ok := formats[code]; ok && re.MatchString(n) {
		return code, n
	}
	for _, prefix := range []string{code, strings.ToUpper(strings.TrimSpace(country))} {
		if prefix != "" && strings.HasPrefix(n, prefix) {
			n = strings.TrimPrefix(n, prefix)
			break
		}
	}
	return code, n
}

// FormatValid checks the number against the member state's local format.
// Unknown countries never match.
func FormatValid(country, number string) bool {
	code, n := Normalise(country, number)
	re, ok := formats[code]
	return ok && re.MatchString(n)
}
