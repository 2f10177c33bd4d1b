// Package runname builds unique run identifiers for launched training jobs.
// Two launches of the same prefix at least one second apart always get
// distinct names, which keeps their output directories from colliding.
package runname

import (
	"strings"
	"time"
)

// TimeFormat matches the timestamp suffix convention of the original
// launch scripts, second granularity in UTC.
const TimeFormat = "2006-01-02-15-04-05"

const fallbackPrefix = "run"

// Generate returns "<prefix>_<timestamp>" for the given clock reading.
// The prefix is sanitized first so the result is always a valid run name.
func Generate(prefix string, t time.Time) string {
	return Sanitize(prefix) + "_" + t.UTC().Format(TimeFormat)
}

// Sanitize lowercases the prefix and maps anything outside [a-z0-9-] to a
// dash. Run names end up in bucket paths and TPU resource names, both of
// which reject most punctuation.
func Sanitize(prefix string) string {
	prefix = strings.ToLower(strings.TrimSpace(prefix))

	var b strings.Builder
	for _, r := range prefix {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-':
			b.WriteRune(r)
		default:
			b.WriteRune('-')
		}
	}

	cleaned := strings.Trim(b.String(), "-")
	if cleaned == "" {
		return fallbackPrefix
	}
	return cleaned
}
