package ticket

import (
	"time"

	"github.com/opsdesk-io/opsdesk/pkg/protocol"
)

// Store is the persistence interface for tickets. Creation is
// append-only; identifiers are opaque and monotonically assigned.
type Store interface {
	// Create persists a new ticket and returns its assigned ID.
	Create(t *protocol.Ticket) (string, error)
	// Get retrieves a ticket by ID.
	Get(id string) (*protocol.Ticket, error)
	// Update applies a partial in-place update.
	Update(id string, p Patch) error
	// List returns tickets matching the filter, newest first.
	List(filter Filter) ([]*protocol.Ticket, error)
}

// Patch is a partial ticket update. Nil fields are left untouched.
type Patch struct {
	Status     *protocol.TicketStatus
	AssignedTo *string
	WorkNotes  *string
	ClosedAt   *time.Time
}

// Filter constrains ticket list queries.
type Filter struct {
	Status   *protocol.TicketStatus
	Intent   *protocol.Intent
	Assignee string
	Query    string // text search on description and work notes
	Limit    int    // 0 = no limit
}
