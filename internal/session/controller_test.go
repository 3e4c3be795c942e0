package session

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/opsdesk-io/opsdesk/internal/dialogue"
	"github.com/opsdesk-io/opsdesk/internal/nlu"
	"github.com/opsdesk-io/opsdesk/internal/ticket"
	"github.com/opsdesk-io/opsdesk/pkg/protocol"
)

type fakeNLU struct {
	intent  protocol.Intent
	window  nlu.Window
	clarify string
}

func (f *fakeNLU) ClassifyIntent(context.Context, string) (protocol.Intent, error) {
	return f.intent, nil
}

func (f *fakeNLU) ClassifyResolution(context.Context, string) (nlu.Resolution, error) {
	return nlu.ResolutionEscalate, nil
}

func (f *fakeNLU) ExtractWindow(context.Context, string, []string) (nlu.Window, error) {
	return f.window, nil
}

func (f *fakeNLU) Answer(context.Context, string, string) (string, error) { return "", nil }

func (f *fakeNLU) JudgeSufficiency(context.Context, string, string) (string, bool, error) {
	return "", false, nil
}

func (f *fakeNLU) Clarify(context.Context, string) (string, error) { return f.clarify, nil }

type fakeCatalog struct{}

func (fakeCatalog) List() []protocol.Alert {
	return []protocol.Alert{{ID: "A-2", Name: "API Monitoring Alerts", Status: protocol.AlertOK}}
}

// fakeTickets is an in-memory ticket.Store.
type fakeTickets struct {
	seq  int
	byID map[string]*protocol.Ticket
}

func newFakeTickets() *fakeTickets {
	return &fakeTickets{byID: make(map[string]*protocol.Ticket)}
}

func (f *fakeTickets) Create(t *protocol.Ticket) (string, error) {
	f.seq++
	id := fmt.Sprintf("TKT-%d", f.seq)
	cp := *t
	cp.ID = id
	if cp.Status == "" {
		cp.Status = protocol.TicketOpen
	}
	cp.CreatedAt = time.Now()
	f.byID[id] = &cp
	return id, nil
}

func (f *fakeTickets) Get(id string) (*protocol.Ticket, error) {
	t, ok := f.byID[id]
	if !ok {
		return nil, fmt.Errorf("not found: %s", id)
	}
	return t, nil
}

func (f *fakeTickets) Update(id string, p ticket.Patch) error {
	t, ok := f.byID[id]
	if !ok {
		return fmt.Errorf("not found: %s", id)
	}
	if p.Status != nil {
		t.Status = *p.Status
	}
	if p.AssignedTo != nil {
		t.AssignedTo = *p.AssignedTo
	}
	if p.WorkNotes != nil {
		t.WorkNotes = *p.WorkNotes
	}
	if p.ClosedAt != nil {
		t.ClosedAt = p.ClosedAt
	}
	return nil
}

func (f *fakeTickets) List(ticket.Filter) ([]*protocol.Ticket, error) {
	var out []*protocol.Ticket
	for _, t := range f.byID {
		out = append(out, t)
	}
	return out, nil
}

type fakeResolver struct {
	decision protocol.RoutingDecision
	calls    int
	last     *protocol.Ticket
}

func (f *fakeResolver) Resolve(_ context.Context, t *protocol.Ticket) protocol.RoutingDecision {
	f.calls++
	f.last = t
	return f.decision
}

type fakeSched struct {
	delays []time.Duration
	fns    []func()
}

func (f *fakeSched) After(d time.Duration, fn func()) error {
	f.delays = append(f.delays, d)
	f.fns = append(f.fns, fn)
	return nil
}

func newTestController(t *testing.T, f *fakeNLU, r *fakeResolver) (*Controller, *fakeTickets, *fakeSched) {
	t.Helper()
	tickets := newFakeTickets()
	sched := &fakeSched{}
	engine := dialogue.NewEngine(f, fakeCatalog{}, nil)
	c := NewController(NewMemoryStore(), engine, r, tickets, sched, Options{CloseDelay: time.Minute}, nil)
	return c, tickets, sched
}

func lastTurn(t *testing.T, resp *protocol.ChatTurnResponse) protocol.Turn {
	t.Helper()
	if len(resp.Turns) == 0 {
		t.Fatal("no turns in response")
	}
	return resp.Turns[len(resp.Turns)-1]
}

func TestStartActionGreets(t *testing.T) {
	c, _, _ := newTestController(t, &fakeNLU{}, &fakeResolver{})

	resp, err := c.HandleTurn(context.Background(), protocol.ChatTurnRequest{Action: protocol.ActionStart})
	if err != nil {
		t.Fatalf("handle turn: %v", err)
	}
	if resp.SessionID == "" {
		t.Error("a session ID should be assigned")
	}
	if got := lastTurn(t, resp); got.Role != protocol.RoleAssistant || !strings.Contains(got.Content, "How can I help") {
		t.Errorf("expected greeting, got %+v", got)
	}
	if !resp.NeedsInput {
		t.Error("greeting should wait for input")
	}
}

func TestUnknownActionRejected(t *testing.T) {
	c, _, _ := newTestController(t, &fakeNLU{}, &fakeResolver{})

	_, err := c.HandleTurn(context.Background(), protocol.ChatTurnRequest{Action: "restart"})
	if err == nil || !strings.Contains(err.Error(), "unknown action") {
		t.Fatalf("expected unknown action error, got %v", err)
	}
}

func TestIncidentEscalationFlow(t *testing.T) {
	r := &fakeResolver{decision: protocol.RoutingDecision{
		Kind:      protocol.DecisionEscalated,
		Answer:    "I wasn't able to resolve this automatically, so your ticket has been assigned to our L1 team.",
		AssignTo:  "L1 Team",
		Close:     protocol.CloseNone,
		WorkNotes: "Escalated for manual handling.",
	}}
	c, tickets, _ := newTestController(t, &fakeNLU{intent: protocol.IntentIncident}, r)

	resp, err := c.HandleTurn(context.Background(), protocol.ChatTurnRequest{
		SessionID: "s1",
		Message:   "my VPN is not working when I connect from home",
	})
	if err != nil {
		t.Fatalf("handle turn: %v", err)
	}
	if !resp.TicketCreated || resp.TicketID != "TKT-1" {
		t.Fatalf("expected TKT-1 created, got created=%v id=%q", resp.TicketCreated, resp.TicketID)
	}

	tk, _ := tickets.Get("TKT-1")
	if tk.Status != protocol.TicketOpen {
		t.Errorf("escalated ticket should stay open, got %q", tk.Status)
	}
	if tk.AssignedTo != "L1 Team" {
		t.Errorf("assignee = %q", tk.AssignedTo)
	}
	if got := lastTurn(t, resp); !strings.Contains(got.Content, "TKT-1") {
		t.Errorf("reply should name the ticket: %q", got.Content)
	}
}

func TestVagueRequestClarifiedOnce(t *testing.T) {
	r := &fakeResolver{decision: protocol.RoutingDecision{
		Kind:     protocol.DecisionEscalated,
		AssignTo: "L1 Team",
	}}
	f := &fakeNLU{intent: protocol.IntentIncident, clarify: "For which user account should the password be reset?"}
	c, tickets, _ := newTestController(t, f, r)

	resp, err := c.HandleTurn(context.Background(), protocol.ChatTurnRequest{SessionID: "s1", Message: "reset password"})
	if err != nil {
		t.Fatalf("turn 1: %v", err)
	}
	if resp.TicketCreated {
		t.Fatal("vague request must not file a ticket yet")
	}
	if got := lastTurn(t, resp); !strings.Contains(got.Content, "which user account") {
		t.Errorf("expected clarification question, got %q", got.Content)
	}

	resp, err = c.HandleTurn(context.Background(), protocol.ChatTurnRequest{SessionID: "s1", Message: "for user jdoe due to lockout"})
	if err != nil {
		t.Fatalf("turn 2: %v", err)
	}
	if !resp.TicketCreated {
		t.Fatal("details supplied, ticket should be created")
	}

	tk, _ := tickets.Get(resp.TicketID)
	if tk.Description != "reset password. for user jdoe due to lockout" {
		t.Errorf("description = %q", tk.Description)
	}
}

func TestSuppressionFlowEndToEnd(t *testing.T) {
	start := time.Date(2026, 1, 21, 18, 0, 0, 0, time.Local)
	end := start.Add(time.Hour)
	r := &fakeResolver{decision: protocol.RoutingDecision{
		Kind:      protocol.DecisionSuppressed,
		Answer:    "Alert A-2 has been silenced.",
		AssignTo:  "Ops Agent",
		Close:     protocol.CloseDeferred,
		WorkNotes: "Silenced alert A-2.",
	}}
	f := &fakeNLU{intent: protocol.IntentAlertSilence, window: nlu.Window{Start: &start, End: &end}}
	c, tickets, sched := newTestController(t, f, r)

	send := func(msg string) *protocol.ChatTurnResponse {
		t.Helper()
		resp, err := c.HandleTurn(context.Background(), protocol.ChatTurnRequest{SessionID: "s1", Message: msg})
		if err != nil {
			t.Fatalf("turn %q: %v", msg, err)
		}
		return resp
	}

	resp := send("please silence the noisy alert")
	if got := lastTurn(t, resp); !strings.Contains(got.Content, "Which alert") {
		t.Fatalf("expected alert question, got %q", got.Content)
	}

	resp = send("A-2")
	if got := lastTurn(t, resp); !strings.Contains(got.Content, "Which application") {
		t.Fatalf("expected application question, got %q", got.Content)
	}

	resp = send("website1")
	if got := lastTurn(t, resp); !strings.Contains(got.Content, "silence period") {
		t.Fatalf("expected window question, got %q", got.Content)
	}

	resp = send("tomorrow 6 to 7 PM")
	if !resp.TicketCreated {
		t.Fatal("completed suppression request should file a ticket")
	}

	tk, _ := tickets.Get(resp.TicketID)
	if tk.Status != protocol.TicketSuppressed {
		t.Errorf("status = %q", tk.Status)
	}
	if tk.ServiceType != protocol.ServiceSuppressAlerts {
		t.Errorf("service type = %q", tk.ServiceType)
	}
	if r.last.AlertRef != "A-2" || r.last.Application != "website1" {
		t.Errorf("routed ticket fields: %+v", r.last)
	}

	if len(sched.fns) != 1 || sched.delays[0] != time.Minute {
		t.Fatalf("expected one deferred closure at 1m, got %v", sched.delays)
	}
	sched.fns[0]()
	tk, _ = tickets.Get(resp.TicketID)
	if tk.Status != protocol.TicketClosed || tk.ClosedAt == nil {
		t.Errorf("ticket should be closed after the delay, got %q", tk.Status)
	}
}

func resolvedController(t *testing.T) (*Controller, *fakeTickets, *fakeResolver) {
	t.Helper()
	r := &fakeResolver{decision: protocol.RoutingDecision{
		Kind:      protocol.DecisionResolved,
		Answer:    "Passwords need at least 12 characters.",
		AssignTo:  "Wiki Agent",
		Close:     protocol.CloseImmediate,
		WorkNotes: "Answered from the internal wiki.",
	}}
	c, tickets, _ := newTestController(t, &fakeNLU{intent: protocol.IntentInfoRequest}, r)
	return c, tickets, r
}

func TestResolvedAnswerAsksForConfirmation(t *testing.T) {
	c, tickets, _ := resolvedController(t)

	resp, err := c.HandleTurn(context.Background(), protocol.ChatTurnRequest{SessionID: "s1", Message: "what is the password policy"})
	if err != nil {
		t.Fatalf("handle turn: %v", err)
	}
	got := lastTurn(t, resp)
	if !strings.Contains(got.Content, "Passwords need at least 12 characters.") ||
		!strings.Contains(got.Content, confirmQuestion) {
		t.Errorf("reply = %q", got.Content)
	}
	if !resp.NeedsInput {
		t.Error("confirmation question should wait for input")
	}

	tk, _ := tickets.Get(resp.TicketID)
	if tk.Status != protocol.TicketInProgress {
		t.Errorf("status = %q", tk.Status)
	}
}

func TestConfirmationYesClosesTicket(t *testing.T) {
	c, tickets, _ := resolvedController(t)
	ctx := context.Background()

	c.HandleTurn(ctx, protocol.ChatTurnRequest{SessionID: "s1", Message: "what is the password policy"})
	resp, err := c.HandleTurn(ctx, protocol.ChatTurnRequest{SessionID: "s1", Message: "yes, thanks!"})
	if err != nil {
		t.Fatalf("confirmation turn: %v", err)
	}

	tk, _ := tickets.Get("TKT-1")
	if tk.Status != protocol.TicketClosed || tk.ClosedAt == nil {
		t.Errorf("confirmed ticket should close, got %q", tk.Status)
	}
	if got := lastTurn(t, resp); !strings.Contains(got.Content, "closed ticket TKT-1") {
		t.Errorf("reply = %q", got.Content)
	}
}

func TestConfirmationNoEscalates(t *testing.T) {
	c, tickets, _ := resolvedController(t)
	ctx := context.Background()

	c.HandleTurn(ctx, protocol.ChatTurnRequest{SessionID: "s1", Message: "what is the password policy"})
	resp, err := c.HandleTurn(ctx, protocol.ChatTurnRequest{SessionID: "s1", Message: "no, that didn't help"})
	if err != nil {
		t.Fatalf("confirmation turn: %v", err)
	}

	tk, _ := tickets.Get("TKT-1")
	if tk.Status != protocol.TicketOpen || tk.AssignedTo != "L1 Team" {
		t.Errorf("rejected answer should escalate: status=%q assignee=%q", tk.Status, tk.AssignedTo)
	}
	if got := lastTurn(t, resp); !strings.Contains(got.Content, "escalated ticket TKT-1") {
		t.Errorf("reply = %q", got.Content)
	}
}

func TestConfirmationBypassStartsNewRequest(t *testing.T) {
	c, tickets, r := resolvedController(t)
	ctx := context.Background()

	c.HandleTurn(ctx, protocol.ChatTurnRequest{SessionID: "s1", Message: "what is the password policy"})
	resp, err := c.HandleTurn(ctx, protocol.ChatTurnRequest{SessionID: "s1", Message: "how do I request a new laptop"})
	if err != nil {
		t.Fatalf("second request turn: %v", err)
	}

	old, _ := tickets.Get("TKT-1")
	if old.Status != protocol.TicketClosed {
		t.Errorf("dangling ticket should close quietly, got %q", old.Status)
	}
	if !resp.TicketCreated || resp.TicketID != "TKT-2" {
		t.Errorf("new request should file its own ticket, got %q", resp.TicketID)
	}
	if r.calls != 2 {
		t.Errorf("resolver calls = %d", r.calls)
	}
}

func TestSubmitForm(t *testing.T) {
	r := &fakeResolver{decision: protocol.RoutingDecision{
		Kind:      protocol.DecisionEscalated,
		AssignTo:  "L1 Team",
		WorkNotes: "Escalated for manual handling.",
	}}
	c, _, _ := newTestController(t, &fakeNLU{}, r)

	tk, err := c.SubmitForm(context.Background(), FormRequest{
		Description: "laptop battery swells",
		Intent:      protocol.IntentIncident,
	})
	if err != nil {
		t.Fatalf("submit form: %v", err)
	}
	if tk.Source != protocol.SourceForm {
		t.Errorf("source = %q", tk.Source)
	}
	if tk.AssignedTo != "L1 Team" || tk.Status != protocol.TicketOpen {
		t.Errorf("ticket = %+v", tk)
	}

	if _, err := c.SubmitForm(context.Background(), FormRequest{}); err == nil {
		t.Error("blank description must be rejected")
	}
}

func TestSubmitFormResolvedTicketCloses(t *testing.T) {
	r := &fakeResolver{decision: protocol.RoutingDecision{
		Kind:      protocol.DecisionResolved,
		Answer:    "Passwords need at least 12 characters.",
		AssignTo:  "Wiki Agent",
		Close:     protocol.CloseImmediate,
		WorkNotes: "Answered from the internal wiki.",
	}}
	c, tickets, _ := newTestController(t, &fakeNLU{}, r)

	tk, err := c.SubmitForm(context.Background(), FormRequest{
		Description: "what is the password policy",
		Intent:      protocol.IntentInfoRequest,
	})
	if err != nil {
		t.Fatalf("submit form: %v", err)
	}
	// No confirmation dialogue exists on the form path; an answered
	// ticket must not sit in progress forever.
	if tk.Status != protocol.TicketClosed || tk.ClosedAt == nil {
		t.Errorf("resolved form ticket should close, got %q", tk.Status)
	}
	if tk.AssignedTo != "Wiki Agent" {
		t.Errorf("assignee = %q", tk.AssignedTo)
	}

	stored, _ := tickets.Get(tk.ID)
	if stored.Status != protocol.TicketClosed {
		t.Errorf("stored status = %q", stored.Status)
	}
}

func TestUnusableAnswerRepeatsQuestion(t *testing.T) {
	f := &fakeNLU{intent: protocol.IntentAlertSilence}
	c, _, _ := newTestController(t, f, &fakeResolver{})
	ctx := context.Background()

	resp, err := c.HandleTurn(ctx, protocol.ChatTurnRequest{SessionID: "s1", Message: "please silence the noisy alert"})
	if err != nil {
		t.Fatalf("turn 1: %v", err)
	}
	if got := lastTurn(t, resp); !strings.Contains(got.Content, "Which alert") ||
		strings.HasPrefix(got.Content, "I didn't quite catch that.") {
		t.Fatalf("first ask should be plain, got %q", got.Content)
	}

	resp, err = c.HandleTurn(ctx, protocol.ChatTurnRequest{SessionID: "s1", Message: "I am really not sure which one it could be"})
	if err != nil {
		t.Fatalf("turn 2: %v", err)
	}
	if got := lastTurn(t, resp); !strings.HasPrefix(got.Content, "I didn't quite catch that.") {
		t.Errorf("re-ask should acknowledge the miss, got %q", got.Content)
	}
}
