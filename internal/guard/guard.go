// Package guard composes the access checker, detectors, aggregator,
// sanitizers and audit logger into the inbound and outbound checks.
package guard

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/gzhole/eduguard/internal/access"
	"github.com/gzhole/eduguard/internal/aggregate"
	"github.com/gzhole/eduguard/internal/audit"
	"github.com/gzhole/eduguard/internal/catalog"
	"github.com/gzhole/eduguard/internal/detector"
	"github.com/gzhole/eduguard/internal/metrics"
	"github.com/gzhole/eduguard/internal/quota"
	"github.com/gzhole/eduguard/internal/sanitize"
	"github.com/gzhole/eduguard/internal/threat"
	"github.com/gzhole/eduguard/internal/unicode"
)

const (
	DefaultStricterDelta = 0.1
	DefaultQuotaTimeout  = 250 * time.Millisecond
)

// Auditor persists security events. *audit.Logger satisfies it.
type Auditor interface {
	Log(ctx context.Context, ev audit.Event) (string, error)
}

// Request carries the caller's role, plan and feature.
type Request struct {
	Role     access.Role       `json:"role"`
	Tier     access.Tier       `json:"tier"`
	Feature  access.Feature    `json:"feature"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// CheckResult is the only value returned across the boundary.
type CheckResult struct {
	IsSafe            bool          `json:"is_safe"`
	ThreatLevel       threat.Level  `json:"threat_level"`
	Action            threat.Action `json:"recommended_action"`
	Message           string        `json:"message"`
	SanitizedContent  string        `json:"sanitized_content,omitempty"`
	WasModified       bool          `json:"was_modified"`
	EventID           string        `json:"event_id"`
	State             State         `json:"state"`
	AuditWritePending bool          `json:"audit_write_pending,omitempty"`

	// Trace lists the states visited, for logs and tests.
	Trace []State `json:"-"`
	// Err joins the fault classes hit during the check.
	Err error `json:"-"`
}

// Config wires a Guard. Catalog, Access and Audit are required.
type Config struct {
	Catalog *catalog.Catalog
	Access  *access.Checker
	Audit   Auditor

	// Quota is optional; without it the quota detector sees no snapshot.
	Quota        quota.Source
	QuotaTimeout time.Duration
	QuotaBurst   int64

	Strategy        aggregate.Strategy
	Weights         map[threat.Category]float64
	EscalationScore float64

	MaxScanLength       int
	StricterDelta       float64
	MaxRedactedFraction float64
	Refusal             string

	Log *zerolog.Logger

	// ExtraDetectors run alongside the built-in set on both paths.
	ExtraDetectors []detector.Detector
}

// Guard is safe for concurrent use. It holds no per-call state.
type Guard struct {
	catalog *catalog.Catalog
	strict  *catalog.Catalog
	access  *access.Checker
	audit   Auditor
	quota   quota.Source

	quotaTimeout time.Duration
	quotaBurst   int64
	maxScan      int

	in     *detector.Set
	out    *detector.Set
	agg    *aggregate.Aggregator
	input  sanitize.Input
	output sanitize.Output
	log    zerolog.Logger
}

// New validates cfg and builds the detector sets. The output set runs over
// a catalog whose thresholds are lowered by StricterDelta.
func New(cfg Config) (*Guard, error) {
	switch {
	case cfg.Catalog == nil:
		return nil, errors.New("guard: catalog is required")
	case cfg.Access == nil:
		return nil, errors.New("guard: access checker is required")
	case cfg.Audit == nil:
		return nil, errors.New("guard: audit logger is required")
	}

	g := &Guard{
		catalog:      cfg.Catalog,
		access:       cfg.Access,
		audit:        cfg.Audit,
		quota:        cfg.Quota,
		quotaTimeout: cfg.QuotaTimeout,
		quotaBurst:   cfg.QuotaBurst,
		maxScan:      cfg.MaxScanLength,
		output:       sanitize.NewOutput(cfg.MaxRedactedFraction, cfg.Refusal),
		log:          zerolog.Nop(),
	}
	if cfg.Log != nil {
		g.log = *cfg.Log
	}
	if g.quotaTimeout <= 0 {
		g.quotaTimeout = DefaultQuotaTimeout
	}
	if g.maxScan <= 0 {
		g.maxScan = detector.DefaultMaxScanLength
	}
	delta := cfg.StricterDelta
	if delta <= 0 {
		delta = DefaultStricterDelta
	}
	g.strict = cfg.Catalog.Stricter(delta)

	g.in = detector.NewSet(g.detectorFault, append(detector.Builtin(g.catalog), cfg.ExtraDetectors...)...)
	g.out = detector.NewSet(g.detectorFault, append(detector.Builtin(g.strict), cfg.ExtraDetectors...)...)

	g.agg = aggregate.New(cfg.Strategy, cfg.Weights)
	if cfg.EscalationScore > 0 {
		g.agg.EscalationScore = cfg.EscalationScore
	}
	return g, nil
}

func (g *Guard) detectorFault(name string, cause error) {
	metrics.DetectorFaults.WithLabelValues(name).Inc()
	g.log.Warn().Str("detector", name).Err(cause).Msg("detector fault")
}

// CheckInput runs before the prompt is dispatched to the model. Access is
// checked first and short-circuits.
func (g *Guard) CheckInput(ctx context.Context, userID, content string, req Request) (res CheckResult) {
	start := time.Now()
	f := newFlow(StateReceived)
	defer func() {
		if r := recover(); r != nil {
			res = g.fail(ctx, f, "input", userID, req, fmt.Errorf("input check panic: %v", r))
		}
		res.Trace = f.trace
		g.observe("input", req.Feature, res.State, start)
	}()

	dec := g.access.Check(req.Role, req.Feature, req.Tier)
	if !dec.Allowed {
		return g.denyAccess(ctx, f, userID, req, dec)
	}
	f.to(StateAccessChecked)

	var faults []error
	canon, uni := g.input.Canonicalize(content)
	if canon.Fault != "" {
		faults = append(faults, fmt.Errorf("%w: canonicalization failed", ErrValidation))
	}

	maxScan := g.maxScan
	if lim := dec.Limits.MaxInputChars; lim > 0 && lim < maxScan {
		maxScan = lim
	}
	text, truncated := detector.Truncate(canon.Text, maxScan)
	if truncated {
		faults = append(faults, fmt.Errorf("%w: input truncated to %d runes", ErrValidation, maxScan))
	}

	snap, err := g.lookupQuota(ctx, userID, req, dec)
	if err != nil {
		faults = append(faults, fmt.Errorf("%w: %w", ErrExternalTimeout, err))
	}

	mr := g.agg.Aggregate(g.in.Run(text, detector.Context{
		UserID:        userID,
		Feature:       string(req.Feature),
		Role:          string(req.Role),
		MaxScanLength: maxScan,
		Quota:         snap,
		Unicode:       uni.Threats,
	}))
	if mr.HasDetectorError() {
		faults = append(faults, ErrDetector)
	}
	f.to(StateInputScanned)
	g.countMatches(mr)

	res = CheckResult{ThreatLevel: mr.OverallLevel, Action: mr.Action}
	extra := unicodeContext(map[string]string{
		"direction": "input",
		"truncated": strconv.FormatBool(truncated),
	}, uni)

	if mr.Action.Blocks() {
		res.State = f.to(StateRejectedInput)
		res.Message = MsgInputRejected
		perr := g.record(ctx, &res, audit.Event{
			Type:        audit.EventInputCheck,
			Severity:    mr.OverallLevel,
			Blocked:     true,
			Threat:      &mr,
			ActionTaken: string(res.State),
		}, userID, req, g.catalog, extra)
		res.Err = errors.Join(append(faults, perr)...)
		g.logDecision("input", res, mr)
		return res
	}

	san := g.input.Sanitize(text, redactionSpans(mr, g.catalog, text))
	if san.Fault != "" {
		panic("input sanitizer: " + san.Fault)
	}
	g.countRedactions("input", san)

	modified := canon.WasModified || truncated || san.WasModified
	if modified {
		f.to(StateSanitized)
	}
	res.State = f.to(StateDispatched)
	res.IsSafe = true
	res.SanitizedContent = san.Text
	res.WasModified = modified
	res.Message = MsgAllowed
	if modified {
		res.Message = MsgSanitized
	}
	extra["redactions"] = strconv.Itoa(len(san.Redactions))
	extra["was_modified"] = strconv.FormatBool(modified)

	perr := g.record(ctx, &res, audit.Event{
		Type:        audit.EventInputCheck,
		Severity:    mr.OverallLevel,
		Threat:      &mr,
		ActionTaken: string(mr.Action),
	}, userID, req, g.catalog, extra)
	res.Err = errors.Join(append(faults, perr)...)
	g.logDecision("input", res, mr)
	return res
}

// CheckOutput runs on the raw model response before delivery. Responses
// are scanned against the stricter catalog. PII and secrets are redacted;
// any other category at high or above rejects the response.
func (g *Guard) CheckOutput(ctx context.Context, userID, content string, req Request) (res CheckResult) {
	start := time.Now()
	f := newFlow(StateDispatched)
	defer func() {
		if r := recover(); r != nil {
			res = g.fail(ctx, f, "output", userID, req, fmt.Errorf("output check panic: %v", r))
		}
		res.Trace = f.trace
		g.observe("output", req.Feature, res.State, start)
	}()

	if !req.Feature.Valid() {
		return g.fail(ctx, f, "output", userID, req, fmt.Errorf("%w: unknown feature %q", ErrPolicy, req.Feature))
	}

	var faults []error
	stripped := unicode.Strip(content)
	text, truncated := detector.Truncate(stripped.Text, g.maxScan)
	if truncated {
		faults = append(faults, fmt.Errorf("%w: output truncated to %d runes", ErrValidation, g.maxScan))
	}

	mr := g.agg.Aggregate(g.out.Run(text, detector.Context{
		UserID:        userID,
		Feature:       string(req.Feature),
		Role:          string(req.Role),
		MaxScanLength: g.maxScan,
		Unicode:       stripped.Threats,
	}))
	if mr.HasDetectorError() {
		faults = append(faults, ErrDetector)
	}
	f.to(StateOutputScanned)
	g.countMatches(mr)

	res = CheckResult{ThreatLevel: mr.OverallLevel, Action: mr.Action}
	extra := unicodeContext(map[string]string{
		"direction": "output",
		"truncated": strconv.FormatBool(truncated),
	}, stripped)

	reject := func(delivered, reason string) CheckResult {
		res.State = f.to(StateRejectedOutput)
		res.Message = MsgOutputRejected
		res.SanitizedContent = delivered
		res.WasModified = delivered != ""
		if !res.Action.Blocks() {
			res.Action = threat.ActionBlockAndLog
		}
		extra["reason"] = reason
		perr := g.record(ctx, &res, audit.Event{
			Type:        audit.EventOutputCheck,
			Severity:    mr.OverallLevel,
			Blocked:     true,
			Threat:      &mr,
			ActionTaken: string(res.State),
		}, userID, req, g.strict, extra)
		res.Err = errors.Join(append(faults, perr)...)
		g.logDecision("output", res, mr)
		return res
	}

	if cat, ok := unredactable(mr); ok {
		return reject("", "category:"+string(cat))
	}

	san := g.output.Sanitize(text, redactionSpans(mr, g.strict, text))
	g.countRedactions("output", san)
	extra["redactions"] = strconv.Itoa(len(san.Redactions))
	if san.Refused {
		if san.Fault != "" {
			faults = append(faults, fmt.Errorf("%w: output sanitizer fault", ErrDetector))
			return reject(san.Text, "sanitizer_fault")
		}
		return reject(san.Text, "redacted_fraction")
	}

	modified := stripped.Modified || truncated || san.WasModified
	if modified {
		f.to(StateSanitized)
	}
	res.State = f.to(StateCompleted)
	res.IsSafe = true
	res.SanitizedContent = san.Text
	res.WasModified = modified
	res.Message = MsgAllowed
	if modified {
		res.Message = MsgOutputRedacted
	}
	if res.Action.Blocks() {
		// Everything that would have blocked was redacted.
		res.Action = threat.ActionAllowWithSanitize
	}
	extra["was_modified"] = strconv.FormatBool(modified)

	perr := g.record(ctx, &res, audit.Event{
		Type:        audit.EventOutputCheck,
		Severity:    mr.OverallLevel,
		Threat:      &mr,
		ActionTaken: string(res.Action),
	}, userID, req, g.strict, extra)
	res.Err = errors.Join(append(faults, perr)...)
	g.logDecision("output", res, mr)
	return res
}

// redactionSpans returns the spans to sanitize. A faulted detector reports
// no spans, so the catalog's redactable rules are applied to text directly.
func redactionSpans(mr threat.MultiResult, c *catalog.Catalog, text string) []threat.RedactionSpan {
	spans := mr.Spans()
	if !mr.HasDetectorError() {
		return spans
	}
	return catalog.MergeSpans(append(spans, c.Redactions(text)...))
}

// AccessSummary reports every feature's decision for UI affordances.
func (g *Guard) AccessSummary(userID string, role access.Role, tier access.Tier) map[access.Feature]access.Decision {
	g.log.Debug().Str("user_id", userID).Str("role", string(role)).Str("tier", string(tier)).Msg("access summary")
	return g.access.Summary(role, tier)
}

// Catalog returns the inbound catalog.
func (g *Guard) Catalog() *catalog.Catalog { return g.catalog }

// unredactable returns the first category at high or above that redaction
// cannot resolve.
func unredactable(mr threat.MultiResult) (threat.Category, bool) {
	for _, c := range threat.AllCategories() {
		r, ok := mr.Results[c]
		if !ok || r.Level < threat.LevelHigh {
			continue
		}
		if (c == threat.PIILeak || c == threat.SecretLeak) && len(r.Spans) > 0 {
			continue
		}
		return c, true
	}
	return "", false
}

func (g *Guard) denyAccess(ctx context.Context, f *flow, userID string, req Request, dec access.Decision) CheckResult {
	res := CheckResult{
		ThreatLevel: threat.LevelNone,
		Action:      threat.ActionBlockAndLog,
		Message:     MsgAccessDenied,
		State:       f.to(StateRejectedAccess),
	}
	var faults []error
	if dec.Reason != access.ReasonNotPermitted {
		faults = append(faults, fmt.Errorf("%w: %s", ErrPolicy, dec.Reason))
	}
	perr := g.record(ctx, &res, audit.Event{
		Type:        audit.EventAccessDenied,
		Severity:    threat.LevelLow,
		Blocked:     true,
		ActionTaken: string(res.State),
	}, userID, req, g.catalog, map[string]string{"direction": "input", "reason": dec.Reason})
	res.Err = errors.Join(append(faults, perr)...)
	g.log.Info().Str("event_id", res.EventID).Str("reason", dec.Reason).Str("feature", string(req.Feature)).Msg("access denied")
	return res
}

// fail moves to rejected_by_error and records the fault at high severity.
func (g *Guard) fail(ctx context.Context, f *flow, direction, userID string, req Request, cause error) (res CheckResult) {
	f.to(StateRejectedError)
	res = CheckResult{
		ThreatLevel: threat.LevelHigh,
		Action:      threat.ActionBlockAndLog,
		Message:     MsgError,
		State:       StateRejectedError,
	}
	g.log.Error().Err(cause).Str("direction", direction).Str("feature", string(req.Feature)).Msg("guard fault")

	defer func() {
		if r := recover(); r != nil {
			g.log.Error().Interface("panic", r).Msg("recording guard fault failed")
			res.Err = errors.Join(cause, fmt.Errorf("%w: audit panic", ErrPersistence))
		}
	}()
	perr := g.record(ctx, &res, audit.Event{
		Type:        audit.EventGuardError,
		Severity:    threat.LevelHigh,
		Blocked:     true,
		ActionTaken: string(StateRejectedError),
	}, userID, req, g.catalog, map[string]string{"direction": direction})
	res.Err = errors.Join(cause, perr)
	return res
}

// record fills in the event, logs it and copies the ID into res. A pending
// write keeps the decision and is reported as ErrPersistence.
func (g *Guard) record(ctx context.Context, res *CheckResult, ev audit.Event, userID string, req Request, c *catalog.Catalog, extra map[string]string) error {
	ev.UserID = userID
	ev.Feature = string(req.Feature)
	ev.Context = eventContext(req, c, extra)

	id, err := g.audit.Log(ctx, ev)
	res.EventID = id
	if err == nil {
		return nil
	}
	if errors.Is(err, audit.ErrWritePending) {
		res.AuditWritePending = true
		metrics.AuditWritesPending.Inc()
	}
	g.log.Error().Err(err).Str("event_id", id).Str("severity", ev.Severity.String()).Bool("blocked", ev.Blocked).Msg("audit write failed")
	return fmt.Errorf("%w: %w", ErrPersistence, err)
}

// unicodeContext adds what canonicalization found to the audit context.
func unicodeContext(extra map[string]string, uni unicode.Result) map[string]string {
	extra["unicode_threats"] = strconv.Itoa(len(uni.Threats))
	if kinds := uni.Kinds(); len(kinds) > 0 {
		extra["unicode_kinds"] = strings.Join(kinds, ",")
		extra["unicode_blocking"] = strconv.FormatBool(uni.Blocking())
	}
	return extra
}

func eventContext(req Request, c *catalog.Catalog, extra map[string]string) map[string]string {
	m := make(map[string]string, len(req.Metadata)+len(extra)+3)
	for k, v := range req.Metadata {
		m[k] = v
	}
	m["role"] = string(req.Role)
	m["tier"] = string(req.Tier)
	m["catalog_version"] = c.Version()
	for k, v := range extra {
		m[k] = v
	}
	return m
}

func (g *Guard) lookupQuota(ctx context.Context, userID string, req Request, dec access.Decision) (*quota.Snapshot, error) {
	if g.quota == nil {
		return nil, nil
	}
	snap, err := quota.Lookup(ctx, g.quota, userID, string(req.Feature), dec.Limits.DailyRequests, g.quotaBurst, g.quotaTimeout)
	if err != nil {
		g.log.Warn().Err(err).Str("feature", string(req.Feature)).Msg("quota lookup failed")
	}
	return &snap, err
}

func (g *Guard) logDecision(direction string, res CheckResult, mr threat.MultiResult) {
	g.log.Info().
		Str("direction", direction).
		Str("event_id", res.EventID).
		Str("state", string(res.State)).
		Str("level", res.ThreatLevel.String()).
		Float64("score", mr.OverallScore).
		Strs("labels", mr.Labels()).
		Bool("modified", res.WasModified).
		Msg("guard decision")
}

func (g *Guard) countMatches(mr threat.MultiResult) {
	for _, c := range mr.MatchedCategories() {
		metrics.CategoryMatches.WithLabelValues(string(c), mr.Results[c].Level.String()).Inc()
	}
}

func (g *Guard) countRedactions(direction string, san sanitize.Result) {
	for _, r := range san.Redactions {
		metrics.Redactions.WithLabelValues(direction, string(r.Category)).Inc()
	}
}

func (g *Guard) observe(direction string, feature access.Feature, state State, start time.Time) {
	label := string(feature)
	if !feature.Valid() {
		label = "unknown"
	}
	metrics.Checks.WithLabelValues(direction, label, string(state)).Inc()
	metrics.CheckDuration.WithLabelValues(direction).Observe(time.Since(start).Seconds())
}
