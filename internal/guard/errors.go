package guard

import "errors"

// Fault classes. They are attached to CheckResult.Err for server-side
// inspection and never shown to users.
var (
	// ErrValidation marks malformed or oversized input that was truncated.
	ErrValidation = errors.New("validation fault")
	// ErrDetector marks a detector that faulted and was scored cautiously.
	ErrDetector = errors.New("detector fault")
	// ErrPersistence marks an audit write that was not confirmed in time.
	ErrPersistence = errors.New("persistence fault")
	// ErrPolicy marks an unknown role, feature, tier or policy gap.
	ErrPolicy = errors.New("policy fault")
	// ErrExternalTimeout marks a usage lookup that failed or timed out.
	ErrExternalTimeout = errors.New("external timeout fault")
)

// User-facing messages, one per outcome. They never carry evidence.
const (
	MsgAllowed        = "Request accepted."
	MsgSanitized      = "Request accepted. Some personal or sensitive details were removed before processing."
	MsgAccessDenied   = "This feature is not available for your account."
	MsgInputRejected  = "This request can't be processed. Please rephrase your question about the course material."
	MsgOutputRejected = "The response could not be delivered. Please try asking in a different way."
	MsgOutputRedacted = "Response delivered. Some sensitive details were removed."
	MsgError          = "Something went wrong while checking this request. Please try again later."
)
