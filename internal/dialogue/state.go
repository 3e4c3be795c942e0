// Package dialogue implements the slot-filling engine: the per-session
// state machine that collects a ticket's required fields across
// conversational turns, validates them, and decides when enough
// information exists to act.
package dialogue

import (
	"time"

	"github.com/opsdesk-io/opsdesk/internal/nlu"
	"github.com/opsdesk-io/opsdesk/pkg/protocol"
)

// Field names tracked in State.MissingFields.
const (
	FieldDescription = "description"
	FieldMoreDetails = "more_details"
	FieldAlertRef    = "alert_ref"
	FieldApplication = "application"
	FieldWindowStart = nlu.WindowStartField
	FieldWindowEnd   = nlu.WindowEndField
)

// State is one session's conversation state. It is owned by the
// session controller and mutated only by the engine (and the
// controller's confirmation handler).
type State struct {
	// Turns is the append-only conversation log, in order.
	Turns []protocol.Turn `json:"turns"`

	// Extracted ticket fields.
	Description string          `json:"description,omitempty"`
	Intent      protocol.Intent `json:"intent,omitempty"`
	AlertRef    string          `json:"alert_ref,omitempty"`
	Application string          `json:"application,omitempty"`
	WindowStart *time.Time      `json:"window_start,omitempty"`
	WindowEnd   *time.Time      `json:"window_end,omitempty"`

	// MissingFields drives what to ask next. It is always recomputed
	// from scratch from the fields above, never patched in place.
	MissingFields []string `json:"missing_fields"`

	// DetailsRequested records that a vagueness clarification has
	// already been asked this ticket attempt. One-shot.
	DetailsRequested bool `json:"details_requested"`

	// AwaitingConfirmation is set while the user is expected to
	// accept or reject an automated answer.
	AwaitingConfirmation bool `json:"awaiting_confirmation"`

	// Workflow flags.
	TicketCreated bool   `json:"ticket_created"`
	TicketID      string `json:"ticket_id,omitempty"`
	NeedsInput    bool   `json:"needs_input"`
}

// AppendUser adds a user turn to the log.
func (s *State) AppendUser(text string) {
	s.Turns = append(s.Turns, protocol.Turn{Role: protocol.RoleUser, Content: text, At: time.Now()})
}

// AppendAssistant adds an assistant turn to the log.
func (s *State) AppendAssistant(text string) {
	s.Turns = append(s.Turns, protocol.Turn{Role: protocol.RoleAssistant, Content: text, At: time.Now()})
}

// LastAssistant returns the content of the most recent assistant turn,
// looking back past the user turns appended since.
func (s *State) LastAssistant() (string, bool) {
	for i := len(s.Turns) - 1; i >= 0; i-- {
		if s.Turns[i].Role == protocol.RoleAssistant {
			return s.Turns[i].Content, true
		}
	}
	return "", false
}

// ResetRequest clears all per-request fields so the next user turn
// begins a fresh ticket attempt. The conversation log survives.
func (s *State) ResetRequest() {
	s.Description = ""
	s.Intent = ""
	s.AlertRef = ""
	s.Application = ""
	s.WindowStart = nil
	s.WindowEnd = nil
	s.MissingFields = nil
	s.DetailsRequested = false
	s.AwaitingConfirmation = false
	s.TicketCreated = false
	s.TicketID = ""
}

// BuildTicket materializes a ticket from a complete state.
func BuildTicket(s *State, source protocol.TicketSource) *protocol.Ticket {
	t := &protocol.Ticket{
		Description: s.Description,
		Intent:      s.Intent,
		AlertRef:    s.AlertRef,
		Application: s.Application,
		WindowStart: s.WindowStart,
		WindowEnd:   s.WindowEnd,
		Status:      protocol.TicketOpen,
		Source:      source,
	}
	if requiresSuppression(s.Intent, s.Description) {
		t.ServiceType = protocol.ServiceSuppressAlerts
	}
	return t
}
