// Package redact scrubs free text and metadata before it reaches a log or
// the audit store. It reuses the catalog's redactable rules so logs and
// responses agree on what counts as PII or a secret.
package redact

import (
	"strings"

	"github.com/gzhole/eduguard/internal/catalog"
)

// Placeholder replaces values under sensitive keys.
const Placeholder = "[REDACTED]"

// DefaultMaxValueRunes caps every redacted value.
const DefaultMaxValueRunes = 256

// sensitiveKeys are substrings of metadata keys whose values are dropped
// whole, regardless of what they look like.
var sensitiveKeys = []string{
	"AUTHORIZATION",
	"COOKIE",
	"PASSWORD",
	"PASSWD",
	"SECRET",
	"TOKEN",
	"API_KEY",
	"APIKEY",
	"PRIVATE_KEY",
	"SESSION",
	"DATABASE_URL",
	"DSN",
}

// Redactor scrubs strings against a catalog.
type Redactor struct {
	catalog  *catalog.Catalog
	maxRunes int
}

// New creates a Redactor. A maxRunes of zero uses DefaultMaxValueRunes.
func New(c *catalog.Catalog, maxRunes int) *Redactor {
	if maxRunes <= 0 {
		maxRunes = DefaultMaxValueRunes
	}
	return &Redactor{catalog: c, maxRunes: maxRunes}
}

// String replaces PII and secret matches with "[category]" and truncates.
func (r *Redactor) String(s string) string {
	return Truncate(r.catalog.Scrub(s), r.maxRunes)
}

// Map returns a scrubbed copy of m. Values under sensitive keys are
// replaced by Placeholder.
func (r *Redactor) Map(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		if IsSensitiveKey(k) {
			out[k] = Placeholder
			continue
		}
		out[k] = r.String(v)
	}
	return out
}

// IsSensitiveKey reports whether a metadata key names a credential.
func IsSensitiveKey(key string) bool {
	name := strings.ToUpper(strings.ReplaceAll(key, "-", "_"))
	for _, s := range sensitiveKeys {
		if strings.Contains(name, s) {
			return true
		}
	}
	return false
}

// Truncate returns at most maxRunes runes of s. It never splits a
// multi-byte character.
func Truncate(s string, maxRunes int) string {
	if maxRunes <= 0 || len(s) <= maxRunes {
		return s
	}
	n := 0
	for i := range s {
		if n == maxRunes {
			return s[:i]
		}
		n++
	}
	return s
}
