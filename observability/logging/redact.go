package logging

import (
	"log/slog"
	"strings"
)

// RedactedValue is the canonical placeholder used for sensitive fields in logs.
const RedactedValue = "[REDACTED]"

// Borrower and counterparty addresses identify customers; log lines carry the
// compressed address-book id instead of the raw address unless a key is
// explicitly allowlisted.
var redactionAllowlist = map[string]struct{}{
	"service":     {},
	"env":         {},
	"message":     {},
	"severity":    {},
	"timestamp":   {},
	"error":       {},
	"component":   {},
	"method":      {},
	"subLoanId":   {},
	"operationId": {},
	"programId":   {},
	"kind":        {},
	"status":      {},
	"accountId":   {},
}

// IsAllowlisted reports whether the provided key is exempt from automatic redaction.
func IsAllowlisted(key string) bool {
	_, ok := redactionAllowlist[strings.TrimSpace(key)]
	return ok
}

// MaskValue returns the canonical redacted placeholder for non-empty values.
// Empty values are returned unchanged to avoid introducing noise in logs.
func MaskValue(value string) string {
	if strings.TrimSpace(value) == "" {
		return value
	}
	return RedactedValue
}

// MaskField returns a slog.Attr that redacts the supplied value unless the
// key is allowlisted.
func MaskField(key, value string) slog.Attr {
	if IsAllowlisted(key) {
		return slog.String(key, value)
	}
	return slog.String(key, MaskValue(value))
}
