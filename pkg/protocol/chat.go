package protocol

import "time"

// Role tags a conversation turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Turn is a single entry in a session's conversation log.
// The log is append-only; slice order is conversation order.
type Turn struct {
	Role    Role      `json:"role"`
	Content string    `json:"content"`
	At      time.Time `json:"at"`
}

// SessionAction selects how a chat request is applied to its session.
type SessionAction string

const (
	ActionStart    SessionAction = "start"
	ActionContinue SessionAction = "continue"
	ActionReset    SessionAction = "reset"
)

// ChatTurnRequest is one inbound conversation turn.
type ChatTurnRequest struct {
	SessionID string        `json:"session_id"`
	Message   string        `json:"message"`
	Action    SessionAction `json:"action"`
}

// ChatTurnResponse reflects the session back to the caller after a
// turn has been fully processed.
type ChatTurnResponse struct {
	SessionID     string `json:"session_id"`
	Turns         []Turn `json:"turns"`
	TicketCreated bool   `json:"ticket_created"`
	TicketID      string `json:"ticket_id,omitempty"`
	NeedsInput    bool   `json:"needs_input"`
}
