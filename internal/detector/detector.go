// Package detector runs the per-category classifiers. Every detector is a
// pure function of its input text, a per-call Context and the shared
// immutable catalog, so one instance serves any number of goroutines.
package detector

import (
	"github.com/gzhole/eduguard/internal/quota"
	"github.com/gzhole/eduguard/internal/threat"
	"github.com/gzhole/eduguard/internal/unicode"
)

// DefaultMaxScanLength caps scanned text in runes when Context leaves it unset.
const DefaultMaxScanLength = 8000

// Detector classifies text for a single threat category.
type Detector interface {
	// Name returns the detector identifier (e.g., "prompt_injection").
	Name() string

	// Category is the category this detector reports.
	Category() threat.Category

	// Detect never returns an error. Faults surface as a result with
	// DetectorError set once wrapped by Safe.
	Detect(text string, dctx Context) threat.DetectionResult
}

// Context is the per-call information a detector may consult.
type Context struct {
	UserID  string
	Feature string
	Role    string

	// MaxScanLength is in runes; zero means DefaultMaxScanLength.
	MaxScanLength int

	// Quota is the usage snapshot for the quota detector. Nil means no
	// snapshot was taken.
	Quota *quota.Snapshot

	// Unicode lists smuggling indicators removed during canonicalization.
	Unicode []unicode.Threat
}

func (c Context) maxScan() int {
	if c.MaxScanLength <= 0 {
		return DefaultMaxScanLength
	}
	return c.MaxScanLength
}

// Truncate caps text at max runes and reports whether anything was dropped.
func Truncate(text string, max int) (string, bool) {
	if max <= 0 || len(text) <= max {
		return text, false
	}
	n := 0
	for i := range text {
		if n == max {
			return text[:i], true
		}
		n++
	}
	return text, false
}
