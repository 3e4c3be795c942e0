package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/opsdesk-io/opsdesk/internal/dialogue"
	"github.com/opsdesk-io/opsdesk/internal/ticket"
	"github.com/opsdesk-io/opsdesk/pkg/protocol"
)

// ErrUnknownAction is returned for a chat request whose action is not
// one of start, continue or reset.
var ErrUnknownAction = errors.New("session: unknown action")

const greeting = "Hello! I'm the OpsDesk assistant. I can help with information requests, provisioning requests, incident reports, and alert silencing. How can I help you today?"

const confirmQuestion = "Did this answer your question?"

// Resolver routes a completed ticket.
type Resolver interface {
	Resolve(ctx context.Context, t *protocol.Ticket) protocol.RoutingDecision
}

// Scheduler schedules the deferred closure of suppression tickets.
type Scheduler interface {
	After(d time.Duration, fn func()) error
}

// Controller drives one conversation turn end to end: engine for the
// slot filling, graph for the routing, ticket store for persistence.
type Controller struct {
	mu          sync.Mutex
	store       Store
	engine      *dialogue.Engine
	graph       Resolver
	tickets     ticket.Store
	sched       Scheduler
	closeDelay  time.Duration
	idleTimeout time.Duration
	logger      *slog.Logger
}

// Options tune controller timing.
type Options struct {
	// CloseDelay is how long a suppression ticket stays visible before
	// its automatic closure. Zero means the default of one minute.
	CloseDelay time.Duration
	// IdleTimeout is how long a session may sit inactive before
	// eviction. Zero means the default of thirty minutes.
	IdleTimeout time.Duration
}

// NewController wires a turn controller.
func NewController(store Store, engine *dialogue.Engine, graph Resolver, tickets ticket.Store, sched Scheduler, opts Options, logger *slog.Logger) *Controller {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.CloseDelay <= 0 {
		opts.CloseDelay = time.Minute
	}
	if opts.IdleTimeout <= 0 {
		opts.IdleTimeout = 30 * time.Minute
	}
	return &Controller{
		store:       store,
		engine:      engine,
		graph:       graph,
		tickets:     tickets,
		sched:       sched,
		closeDelay:  opts.CloseDelay,
		idleTimeout: opts.IdleTimeout,
		logger:      logger,
	}
}

// HandleTurn processes one inbound chat message and returns the
// updated session view. Turns for one session are serialized.
func (c *Controller) HandleTurn(ctx context.Context, req protocol.ChatTurnRequest) (*protocol.ChatTurnResponse, error) {
	switch req.Action {
	case "", protocol.ActionStart, protocol.ActionContinue, protocol.ActionReset:
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownAction, req.Action)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	sessionID := req.SessionID
	if sessionID == "" {
		sessionID = uuid.NewString()
	}
	st, ok := c.store.Get(sessionID)
	if !ok {
		st = &dialogue.State{}
	}

	if req.Action == protocol.ActionReset {
		st.ResetRequest()
		st.Turns = nil
	}
	if req.Action == protocol.ActionStart || req.Action == protocol.ActionReset ||
		(strings.TrimSpace(req.Message) == "" && len(st.Turns) == 0) {
		st.AppendAssistant(greeting)
		st.NeedsInput = true
		c.store.Put(sessionID, st)
		return c.respond(sessionID, st, false, ""), nil
	}

	st.NeedsInput = false
	st.AppendUser(req.Message)

	if st.AwaitingConfirmation {
		handled, created, tid := c.handleConfirmation(req.Message, st)
		if handled {
			c.store.Put(sessionID, st)
			return c.respond(sessionID, st, created, tid), nil
		}
	}

	if st.Description == "" && st.Intent == "" {
		c.engine.ClassifyAndExtract(ctx, st, req.Message)
	} else {
		c.engine.ParseResponse(ctx, st, req.Message)
	}
	c.engine.Recompute(st)

	if len(st.MissingFields) > 0 {
		c.engine.GeneratePrompt(ctx, st)
		c.store.Put(sessionID, st)
		return c.respond(sessionID, st, false, ""), nil
	}

	tk := dialogue.BuildTicket(st, protocol.SourceChat)
	id, err := c.tickets.Create(tk)
	if err != nil {
		return nil, fmt.Errorf("session: create ticket: %w", err)
	}
	tk.ID = id
	st.TicketCreated = true
	st.TicketID = id
	c.logger.Info("ticket created", "session", sessionID, "ticket", id, "intent", tk.Intent)

	decision := c.graph.Resolve(ctx, tk)
	c.applyDecision(st, tk, decision)

	c.store.Put(sessionID, st)
	return c.respond(sessionID, st, true, id), nil
}

// handleConfirmation consumes the user's verdict on an automated
// answer. A message that is neither a yes nor a no closes the previous
// ticket quietly and lets the turn continue as a fresh request.
func (c *Controller) handleConfirmation(message string, st *dialogue.State) (handled, created bool, ticketID string) {
	id := st.TicketID

	switch verdictOf(message) {
	case verdictYes:
		c.updateTicket(id, ticket.Patch{
			Status:    statusPtr(protocol.TicketClosed),
			WorkNotes: strPtr("User confirmed the answer resolved the request."),
			ClosedAt:  timePtr(time.Now()),
		})
		st.AppendAssistant(fmt.Sprintf("Great! I've closed ticket %s. Is there anything else I can help with?", id))
		st.ResetRequest()
		st.NeedsInput = true
		return true, true, id

	case verdictNo:
		c.updateTicket(id, ticket.Patch{
			Status:     statusPtr(protocol.TicketOpen),
			AssignedTo: strPtr("L1 Team"),
			WorkNotes:  strPtr("User reported the automated answer did not resolve the request; escalated."),
		})
		st.AppendAssistant(fmt.Sprintf("I'm sorry that didn't solve it. I've escalated ticket %s to our L1 team; they will follow up with you.", id))
		st.ResetRequest()
		st.NeedsInput = true
		return true, true, id

	default:
		// The user moved on. Close the dangling ticket and let the new
		// request flow through the normal path.
		c.updateTicket(id, ticket.Patch{
			Status:    statusPtr(protocol.TicketClosed),
			WorkNotes: strPtr("Closed without explicit confirmation; user started a new request."),
			ClosedAt:  timePtr(time.Now()),
		})
		st.ResetRequest()
		return false, false, ""
	}
}

type verdict int

const (
	verdictOther verdict = iota
	verdictYes
	verdictNo
)

var affirmatives = []string{"yes", "yep", "yeah", "correct", "that's right", "thanks", "thank you", "great", "perfect", "that solved it", "it did", "it works", "solved"}

var negatives = []string{"no", "nope", "not really", "didn't help", "doesn't help", "not quite", "that's wrong", "still broken", "didn't work", "doesn't work", "unresolved"}

// verdictOf interprets a confirmation reply. Single-word vocabulary is
// matched on whole tokens so "no" does not hide inside "nothing".
func verdictOf(message string) verdict {
	low := strings.ToLower(strings.TrimSpace(message))
	low = strings.Trim(low, ".!, ")

	if matchVocab(low, negatives) {
		return verdictNo
	}
	if matchVocab(low, affirmatives) {
		return verdictYes
	}
	return verdictOther
}

func matchVocab(low string, vocab []string) bool {
	tokens := strings.Fields(low)
	for _, phrase := range vocab {
		if strings.Contains(phrase, " ") {
			if strings.Contains(low, phrase) {
				return true
			}
			continue
		}
		for _, tok := range tokens {
			if strings.Trim(tok, ".!,") == phrase {
				return true
			}
		}
	}
	return false
}

// applyDecision merges a routing decision into the ticket and the
// conversation.
func (c *Controller) applyDecision(st *dialogue.State, tk *protocol.Ticket, d protocol.RoutingDecision) {
	switch d.Kind {
	case protocol.DecisionSuppressed:
		c.updateTicket(tk.ID, ticket.Patch{
			Status:     statusPtr(protocol.TicketSuppressed),
			AssignedTo: strPtr(d.AssignTo),
			WorkNotes:  strPtr(d.WorkNotes),
		})
		if d.Close == protocol.CloseDeferred {
			c.scheduleClose(tk.ID)
		}
		st.AppendAssistant(fmt.Sprintf("Ticket %s created. %s", tk.ID, d.Answer))
		st.ResetRequest()

	case protocol.DecisionResolved:
		// The graph allows immediate closure, but the chat flow holds
		// the ticket open until the user confirms the answer helped.
		c.updateTicket(tk.ID, ticket.Patch{
			Status:     statusPtr(protocol.TicketInProgress),
			AssignedTo: strPtr(d.AssignTo),
			WorkNotes:  strPtr(d.WorkNotes),
		})
		st.AppendAssistant(d.Answer + "\n\n" + confirmQuestion)
		st.AwaitingConfirmation = true
		st.NeedsInput = true

	default:
		c.updateTicket(tk.ID, ticket.Patch{
			Status:     statusPtr(protocol.TicketOpen),
			AssignedTo: strPtr(d.AssignTo),
			WorkNotes:  strPtr(d.WorkNotes),
		})
		st.AppendAssistant(fmt.Sprintf("Ticket %s created. %s", tk.ID, d.Answer))
		st.ResetRequest()
	}
}

// scheduleClose arranges the delayed closure of a suppression ticket.
func (c *Controller) scheduleClose(id string) {
	err := c.sched.After(c.closeDelay, func() {
		c.updateTicket(id, ticket.Patch{
			Status:    statusPtr(protocol.TicketClosed),
			WorkNotes: strPtr("Suppression applied; ticket auto-closed."),
			ClosedAt:  timePtr(time.Now()),
		})
		c.logger.Info("suppression ticket closed", "ticket", id)
	})
	if err != nil {
		c.logger.Error("failed to schedule ticket closure", "ticket", id, "error", err)
	}
}

func (c *Controller) updateTicket(id string, p ticket.Patch) {
	if id == "" {
		return
	}
	if err := c.tickets.Update(id, p); err != nil {
		c.logger.Error("ticket update failed", "ticket", id, "error", err)
	}
}

func (c *Controller) respond(sessionID string, st *dialogue.State, created bool, ticketID string) *protocol.ChatTurnResponse {
	return &protocol.ChatTurnResponse{
		SessionID:     sessionID,
		Turns:         st.Turns,
		TicketCreated: created,
		TicketID:      ticketID,
		NeedsInput:    st.NeedsInput,
	}
}

// FormRequest is the non-conversational intake path: a fully specified
// ticket submitted in one shot.
type FormRequest struct {
	Description string          `json:"description"`
	Intent      protocol.Intent `json:"intent"`
	AlertRef    string          `json:"alert_ref,omitempty"`
	Application string          `json:"application,omitempty"`
	WindowStart *time.Time      `json:"window_start,omitempty"`
	WindowEnd   *time.Time      `json:"window_end,omitempty"`
}

// SubmitForm files and routes a form ticket, returning its final state.
func (c *Controller) SubmitForm(ctx context.Context, req FormRequest) (*protocol.Ticket, error) {
	if strings.TrimSpace(req.Description) == "" {
		return nil, errors.New("session: form ticket needs a description")
	}

	st := &dialogue.State{
		Description: req.Description,
		Intent:      req.Intent,
		AlertRef:    req.AlertRef,
		Application: req.Application,
		WindowStart: req.WindowStart,
		WindowEnd:   req.WindowEnd,
	}
	tk := dialogue.BuildTicket(st, protocol.SourceForm)

	id, err := c.tickets.Create(tk)
	if err != nil {
		return nil, fmt.Errorf("session: create ticket: %w", err)
	}
	tk.ID = id
	c.logger.Info("form ticket created", "ticket", id, "intent", tk.Intent)

	decision := c.graph.Resolve(ctx, tk)
	if decision.Close == protocol.CloseImmediate {
		// The form path has no confirmation dialogue, so an answered
		// ticket closes right away instead of waiting in progress.
		c.updateTicket(id, ticket.Patch{
			Status:     statusPtr(protocol.TicketClosed),
			AssignedTo: strPtr(decision.AssignTo),
			WorkNotes:  strPtr(decision.WorkNotes),
			ClosedAt:   timePtr(time.Now()),
		})
	} else {
		c.applyDecision(st, tk, decision)
	}

	return c.tickets.Get(id)
}

// EvictIdle sweeps sessions idle past the timeout. Wired to the
// scheduler as a recurring job.
func (c *Controller) EvictIdle() {
	if n := c.store.EvictIdle(c.idleTimeout); n > 0 {
		c.logger.Info("idle sessions evicted", "count", n)
	}
}

func statusPtr(s protocol.TicketStatus) *protocol.TicketStatus { return &s }
func strPtr(s string) *string                                  { return &s }
func timePtr(t time.Time) *time.Time                           { return &t }
