package helpers

import (
	"fmt"
	"strings"
)

// ParseAddress extracts a bare email address from an SMTP path argument,
// stripping optional angle brackets and surrounding whitespace. It rejects
// anything without exactly one "@" with non-empty sides.
func ParseAddress(raw string) (string, error) {
	addr := strings.TrimSpace(raw)
	addr = strings.TrimPrefix(addr, "<")
	addr = strings.TrimSuffix(addr, ">")
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return "", fmt.Errorf("empty address")
	}
	at := strings.Count(addr, "@")
	if at != 1 {
		return "", fmt.Errorf("malformed address %q", addr)
	}
	local, domain := SplitEmailAddress(addr)
	if local == "" || domain == "" {
		return "", fmt.Errorf("malformed address %q", addr)
	}
	if strings.ContainsAny(addr, " \t") {
		return "", fmt.Errorf("malformed address %q", addr)
	}
	return addr, nil
}

// SplitEmailAddress splits an address into its local part and domain.
// The local part keeps its case; usernames are case-sensitive. The domain
// is lowercased since DNS names are not.
func SplitEmailAddress(email string) (string, string) {
	at := strings.LastIndex(email, "@")
	if at < 0 {
		return email, ""
	}
	return email[:at], strings.ToLower(email[at+1:])
}
