package protocol

import "time"

// Intent is the enumerated category of a support request. It drives
// which fields the dialogue engine requires and which resolver the
// routing graph hands the ticket to.
type Intent string

const (
	IntentInfoRequest   Intent = "info_request"
	IntentProvisioning  Intent = "provisioning_request"
	IntentIncident      Intent = "incident_report"
	IntentAlertSilence  Intent = "alert_silence_request"
)

// ServiceSuppressAlerts is the explicit service sub-type set on
// provisioning tickets that request alert suppression. It takes
// precedence over re-classification in the routing graph.
const ServiceSuppressAlerts = "suppress_alerts"

// TicketStatus represents the lifecycle state of a ticket.
type TicketStatus string

const (
	TicketOpen       TicketStatus = "open"
	TicketInProgress TicketStatus = "in_progress"
	TicketSuppressed TicketStatus = "suppressed"
	TicketClosed     TicketStatus = "closed"
)

// TicketSource records which intake surface created a ticket.
type TicketSource string

const (
	SourceChat TicketSource = "chat"
	SourceForm TicketSource = "form"
)

// Ticket is a support request routed through the resolver chain.
// A ticket is created once, mutated by exactly one resolver per
// lifecycle, and closed either by an automated resolver or by
// explicit user confirmation.
type Ticket struct {
	ID          string       `json:"id"`
	Description string       `json:"description"`
	Intent      Intent       `json:"intent"`
	ServiceType string       `json:"service_type,omitempty"`
	AlertRef    string       `json:"alert_ref,omitempty"`
	Application string       `json:"application,omitempty"`
	WindowStart *time.Time   `json:"window_start,omitempty"`
	WindowEnd   *time.Time   `json:"window_end,omitempty"`
	Status      TicketStatus `json:"status"`
	AssignedTo  string       `json:"assigned_to,omitempty"`
	WorkNotes   string       `json:"work_notes,omitempty"`
	Source      TicketSource `json:"source"`
	CreatedAt   time.Time    `json:"created_at"`
	ClosedAt    *time.Time   `json:"closed_at,omitempty"`
}
