package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// KeyTables is the snapshot key for lookup tables from source.
func KeyTables(source string) string {
	return "checkout:tables:" + strings.ToLower(strings.TrimSpace(source))
}

// KeyVAT keys an authority VAT result by normalised country and number.
func KeyVAT(country, number string) string {
	return "checkout:vat:" + strings.ToUpper(country) + ":" + strings.ToUpper(number)
}

// KeyEmail keys an email-existence answer. The address is hashed so raw
// emails never land in Redis.
func KeyEmail(email string) string {
	sum := sha256.Sum256([]byte(strings.ToLower(strings.TrimSpace(email))))
	return "checkout:email:" + hex.EncodeToString(sum[:])
}
