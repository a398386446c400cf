package detector

import (
	"fmt"

	"github.com/gzhole/eduguard/internal/threat"
)

// FaultScore is the score reported for a faulted detector.
const FaultScore = 0.5

// FaultHook observes detector faults. It must not panic.
type FaultHook func(detector string, cause error)

// Fault is the cautious result substituted for a faulted detector.
func Fault(name string) threat.DetectionResult {
	return threat.DetectionResult{
		Category:      threat.Other,
		Matched:       true,
		Score:         FaultScore,
		Level:         threat.LevelMedium,
		Labels:        []string{"detector_error:" + name},
		DetectorError: true,
	}
}

type safeDetector struct {
	Detector
	hook FaultHook
}

// Safe wraps d so that a panic or a malformed result degrades to Fault
// instead of reaching the caller.
func Safe(d Detector, hook FaultHook) Detector {
	if s, ok := d.(*safeDetector); ok {
		return &safeDetector{Detector: s.Detector, hook: hook}
	}
	return &safeDetector{Detector: d, hook: hook}
}

func (s *safeDetector) Detect(text string, dctx Context) (res threat.DetectionResult) {
	defer func() {
		if r := recover(); r != nil {
			res = s.fault(fmt.Errorf("panic: %v", r))
		}
	}()
	res = s.Detector.Detect(text, dctx)
	if res.Category != s.Detector.Category() {
		return s.fault(fmt.Errorf("result category %q, want %q", res.Category, s.Detector.Category()))
	}
	if res.Score < 0 || res.Score > 1 {
		return s.fault(fmt.Errorf("score %v outside [0,1]", res.Score))
	}
	return res
}

func (s *safeDetector) fault(cause error) threat.DetectionResult {
	if s.hook != nil {
		s.hook(s.Name(), cause)
	}
	return Fault(s.Name())
}
