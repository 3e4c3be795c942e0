package protocol

// DecisionKind tags a RoutingDecision variant.
type DecisionKind string

const (
	// DecisionResolved means a resolver produced an answer the user
	// still has to confirm.
	DecisionResolved DecisionKind = "resolved"
	// DecisionSuppressed means the alert-suppression side effect ran.
	DecisionSuppressed DecisionKind = "suppressed"
	// DecisionEscalated means no automated resolver could act; the
	// ticket goes to the human queue and stays open.
	DecisionEscalated DecisionKind = "escalated"
)

// Closure tells the caller how the routing graph wants the ticket
// closed. Deferred closure is scheduled by the caller; the graph only
// exposes the directive.
type Closure string

const (
	// CloseNone leaves the ticket to later workflow (escalation queue).
	CloseNone Closure = "none"
	// CloseImmediate means the work is done; a caller with no
	// confirmation step of its own may close the ticket at once.
	CloseImmediate Closure = "immediate"
	// CloseDeferred asks the caller to schedule closure after a grace
	// period.
	CloseDeferred Closure = "deferred"
)

// Citation points at a source document backing an answer.
type Citation struct {
	Title string `json:"title"`
	URL   string `json:"url,omitempty"`
}

// RoutingDecision is the ephemeral outcome of one routing graph
// invocation. It is never persisted; the caller merges it into the
// ticket immediately.
type RoutingDecision struct {
	Kind      DecisionKind `json:"kind"`
	Answer    string       `json:"answer,omitempty"`
	Citations []Citation   `json:"citations,omitempty"`
	AssignTo  string       `json:"assign_to"`
	Close     Closure      `json:"close"`
	WorkNotes string       `json:"work_notes,omitempty"`
}
