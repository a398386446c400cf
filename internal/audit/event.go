// Package audit records every security decision as an append-only,
// hash-chained SecurityEvent.
package audit

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"

	"github.com/gzhole/eduguard/internal/threat"
)

// EventType names what produced an event.
type EventType string

const (
	EventInputCheck   EventType = "input_check"
	EventOutputCheck  EventType = "output_check"
	EventAccessDenied EventType = "access_denied"
	EventGuardError   EventType = "guard_error"
)

// Event is one security decision. It is never mutated after Log returns,
// except for the AuditWritePending flag which is excluded from the hash.
type Event struct {
	ID                string              `json:"event_id"`
	Seq               uint64              `json:"seq"`
	Timestamp         time.Time           `json:"timestamp"`
	UserID            string              `json:"user_id,omitempty"`
	Feature           string              `json:"feature"`
	Type              EventType           `json:"event_type"`
	Severity          threat.Level        `json:"severity"`
	Blocked           bool                `json:"blocked"`
	Threat            *threat.MultiResult `json:"threat,omitempty"`
	Context           map[string]string   `json:"context,omitempty"`
	ActionTaken       string              `json:"action_taken"`
	AuditWritePending bool                `json:"audit_write_pending,omitempty"`
	PrevHash          string              `json:"prev_hash"`
	Hash              string              `json:"hash"`
}

// Synchronous reports whether the event must be durable before the caller
// responds.
func (e Event) Synchronous() bool {
	return e.Blocked || e.Severity >= threat.LevelHigh
}

// ComputeHash returns the chain hash of e: sha256 over the previous hash and
// the JSON encoding of e with Hash and AuditWritePending cleared.
func ComputeHash(e Event) (string, error) {
	e.Hash = ""
	e.AuditWritePending = false
	body, err := json.Marshal(e)
	if err != nil {
		return "", err
	}
	h := sha256.New()
	h.Write([]byte(e.PrevHash))
	h.Write(body)
	return hex.EncodeToString(h.Sum(nil)), nil
}
