package utils

import (
	"strings"

	er "github.com/elektrine/domainstack/internal/errors"
)

// NormalizeDomain lowercases a hostname and strips a trailing dot.
func NormalizeDomain(domain string) string {
	domain = strings.TrimSpace(strings.ToLower(domain))
	return strings.TrimSuffix(domain, ".")
}

// SplitEmailAddress splits local@domain, lowercasing both parts.
func SplitEmailAddress(address string) (localPart, domain string, err error) {
	address = strings.TrimSpace(address)
	at := strings.LastIndex(address, "@")
	if at <= 0 || at == len(address)-1 {
		return "", "", er.ErrInvalidEmailAddress
	}
	return strings.ToLower(address[:at]), NormalizeDomain(address[at+1:]), nil
}
