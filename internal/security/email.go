package security

import (
	"net/mail"
	"strings"
)

// NormalizeEmail lowercases and trims an address so lookups and the unique
// index agree on a single canonical form.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func ValidEmail(email string) bool {
	addr, err := mail.ParseAddress(strings.TrimSpace(email))
	if err != nil {
		return false
	}
	// ParseAddress accepts display names; only bare addresses are valid
	// input here.
	return addr.Address == strings.TrimSpace(email)
}
