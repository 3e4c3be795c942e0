package routing

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/opsdesk-io/opsdesk/internal/nlu"
	"github.com/opsdesk-io/opsdesk/internal/search"
	"github.com/opsdesk-io/opsdesk/pkg/protocol"
)

type fakeNLU struct {
	resolution    nlu.Resolution
	resolutionErr error

	sufficient     bool
	wikiAnswer     string
	answer         string
	answerErr      error
	judgeCalls     int
	answerCalls    int
	lastDocContext string
}

func (f *fakeNLU) ClassifyIntent(context.Context, string) (protocol.Intent, error) {
	return protocol.IntentInfoRequest, nil
}

func (f *fakeNLU) ClassifyResolution(context.Context, string) (nlu.Resolution, error) {
	return f.resolution, f.resolutionErr
}

func (f *fakeNLU) ExtractWindow(context.Context, string, []string) (nlu.Window, error) {
	return nlu.Window{}, nil
}

func (f *fakeNLU) Answer(_ context.Context, _ string, docContext string) (string, error) {
	f.answerCalls++
	f.lastDocContext = docContext
	return f.answer, f.answerErr
}

func (f *fakeNLU) JudgeSufficiency(context.Context, string, string) (string, bool, error) {
	f.judgeCalls++
	return f.wikiAnswer, f.sufficient, nil
}

func (f *fakeNLU) Clarify(context.Context, string) (string, error) { return "", nil }

type fakeSilencer struct {
	calls  int
	ref    string
	result protocol.SilenceResult
}

func (f *fakeSilencer) Silence(ref string, start, end *time.Time) protocol.SilenceResult {
	f.calls++
	f.ref = ref
	return f.result
}

type fakeSearcher struct {
	results []search.Result
	err     error
	calls   int
}

func (f *fakeSearcher) Search(context.Context, string, int) ([]search.Result, error) {
	f.calls++
	return f.results, f.err
}

type fakeWeb struct {
	results    []search.Result
	err        error
	page       string
	pageErr    error
	calls      int
	fetchCalls int
}

func (f *fakeWeb) Search(context.Context, string, int) ([]search.Result, error) {
	f.calls++
	return f.results, f.err
}

func (f *fakeWeb) FetchReadable(context.Context, string) (string, error) {
	f.fetchCalls++
	return f.page, f.pageErr
}

func infoTicket(desc string) *protocol.Ticket {
	return &protocol.Ticket{ID: "TKT-1", Description: desc, Intent: protocol.IntentInfoRequest}
}

func TestSuppressionBranch(t *testing.T) {
	start := time.Date(2026, 1, 20, 18, 0, 0, 0, time.UTC)
	end := start.Add(time.Hour)
	sil := &fakeSilencer{result: protocol.SilenceResult{Silenced: true, From: &start, Until: &end}}
	g := NewGraph(&fakeNLU{}, sil, nil, nil, nil, nil)

	d := g.Resolve(context.Background(), &protocol.Ticket{
		ID:          "TKT-1",
		Description: "silence the memory alert",
		Intent:      protocol.IntentAlertSilence,
		ServiceType: protocol.ServiceSuppressAlerts,
		AlertRef:    "A-2",
		Application: "website1",
		WindowStart: &start,
		WindowEnd:   &end,
	})

	if d.Kind != protocol.DecisionSuppressed {
		t.Fatalf("kind = %q", d.Kind)
	}
	if sil.calls != 1 || sil.ref != "A-2" {
		t.Errorf("silencer calls=%d ref=%q", sil.calls, sil.ref)
	}
	if d.AssignTo != AssigneeOps {
		t.Errorf("assignee = %q", d.AssignTo)
	}
	if d.Close != protocol.CloseDeferred {
		t.Errorf("close = %q", d.Close)
	}
	if !strings.Contains(d.WorkNotes, "A-2") || !strings.Contains(d.WorkNotes, "website1") {
		t.Errorf("work notes = %q", d.WorkNotes)
	}
}

func TestSuppressionAlertNotFound(t *testing.T) {
	sil := &fakeSilencer{result: protocol.SilenceResult{NotFound: true}}
	g := NewGraph(&fakeNLU{}, sil, nil, nil, nil, nil)

	d := g.Resolve(context.Background(), &protocol.Ticket{
		Intent:   protocol.IntentAlertSilence,
		AlertRef: "A-9",
	})
	if d.Kind != protocol.DecisionSuppressed {
		t.Fatalf("kind = %q", d.Kind)
	}
	if d.Close != protocol.CloseDeferred {
		t.Errorf("not-found still closes on the delay, got %q", d.Close)
	}
	if !strings.Contains(d.WorkNotes, "not found") {
		t.Errorf("work notes should record the miss: %q", d.WorkNotes)
	}
}

func TestWikiTierShortCircuits(t *testing.T) {
	f := &fakeNLU{sufficient: true, wikiAnswer: "Passwords need 12 characters."}
	wiki := &fakeSearcher{results: []search.Result{{Title: "Password Policy", Content: "12 chars", URL: "https://wiki/pw"}}}
	kb := &fakeSearcher{}
	web := &fakeWeb{}
	g := NewGraph(f, nil, wiki, kb, web, nil)

	d := g.Resolve(context.Background(), infoTicket("what is the password policy"))
	if d.Kind != protocol.DecisionResolved {
		t.Fatalf("kind = %q", d.Kind)
	}
	if d.AssignTo != AssigneeWiki {
		t.Errorf("assignee = %q", d.AssignTo)
	}
	if d.Answer != "Passwords need 12 characters." {
		t.Errorf("answer = %q", d.Answer)
	}
	if d.Close != protocol.CloseImmediate {
		t.Errorf("an answered ticket needs no further work, got close=%q", d.Close)
	}
	if kb.calls != 0 || web.calls != 0 {
		t.Errorf("later tiers must not run after a wiki hit: kb=%d web=%d", kb.calls, web.calls)
	}
	if len(d.Citations) != 1 || d.Citations[0].Title != "Password Policy" {
		t.Errorf("citations = %v", d.Citations)
	}
}

func TestKBTierAfterWikiInsufficient(t *testing.T) {
	f := &fakeNLU{sufficient: false, answer: "Approval comes from your manager."}
	wiki := &fakeSearcher{results: []search.Result{{Title: "Unrelated", Content: "nothing"}}}
	kb := &fakeSearcher{results: []search.Result{
		{Title: "vpn.md", Content: "manager approval required", Score: 0.4},
		{Title: "noise.md", Content: "irrelevant", Score: 1.9},
	}}
	web := &fakeWeb{}
	g := NewGraph(f, nil, wiki, kb, web, nil)

	d := g.Resolve(context.Background(), infoTicket("who approves VPN access"))
	if d.Kind != protocol.DecisionResolved {
		t.Fatalf("kind = %q", d.Kind)
	}
	if d.AssignTo != AssigneeKB {
		t.Errorf("assignee = %q", d.AssignTo)
	}
	if web.calls != 0 {
		t.Error("web tier must not run after a kb hit")
	}
	if strings.Contains(f.lastDocContext, "irrelevant") {
		t.Error("chunks over the relevance threshold must not reach the model")
	}
	if len(d.Citations) != 1 || d.Citations[0].Title != "vpn.md" {
		t.Errorf("citations = %v", d.Citations)
	}
}

func TestKBInsufficiencyPhraseFallsThrough(t *testing.T) {
	f := &fakeNLU{answer: "The provided documents do not contain enough information to answer."}
	kb := &fakeSearcher{results: []search.Result{{Title: "doc.md", Content: "something", Score: 0.2}}}
	web := &fakeWeb{err: errors.New("no key")}
	g := NewGraph(f, nil, nil, kb, web, nil)

	d := g.Resolve(context.Background(), infoTicket("question"))
	if d.Kind != protocol.DecisionEscalated {
		t.Fatalf("a refusal-shaped answer must not resolve, got %q", d.Kind)
	}
	if web.calls != 1 {
		t.Error("web tier should have been tried after the kb refusal")
	}
}

func TestWebTierAnswersWithSources(t *testing.T) {
	f := &fakeNLU{answer: "Install the client from the vendor site."}
	web := &fakeWeb{
		results: []search.Result{
			{Title: "Vendor Docs", Content: "snippet", URL: "https://vendor.example/docs"},
		},
		page: "Full install guide text.",
	}
	g := NewGraph(f, nil, nil, nil, web, nil)

	d := g.Resolve(context.Background(), infoTicket("how do I install the VPN client"))
	if d.Kind != protocol.DecisionResolved {
		t.Fatalf("kind = %q", d.Kind)
	}
	if d.AssignTo != AssigneeResearch {
		t.Errorf("assignee = %q", d.AssignTo)
	}
	if web.fetchCalls != 1 {
		t.Errorf("expected page extraction, fetch calls = %d", web.fetchCalls)
	}
	if !strings.Contains(d.Answer, "Sources:") || !strings.Contains(d.Answer, "https://vendor.example/docs") {
		t.Errorf("answer must cite its sources: %q", d.Answer)
	}
	if !strings.Contains(f.lastDocContext, "Full install guide text.") {
		t.Error("extracted page text should feed the model, not the snippet")
	}
}

func TestWebAnswerTruncationKeepsCitations(t *testing.T) {
	long := strings.Repeat("All work and no play makes the helpdesk a dull place. ", 200) // > 4096 bytes
	f := &fakeNLU{answer: long}
	web := &fakeWeb{results: []search.Result{{Title: "Long Read", URL: "https://example.com/long"}}}
	g := NewGraph(f, nil, nil, nil, web, nil)

	d := g.Resolve(context.Background(), infoTicket("question"))
	if d.Kind != protocol.DecisionResolved {
		t.Fatalf("kind = %q", d.Kind)
	}
	if !strings.Contains(d.Answer, "[truncated]") {
		t.Error("oversized prose should be truncated")
	}
	if !strings.Contains(d.Answer, "https://example.com/long") {
		t.Error("citations must survive truncation")
	}
}

func TestEscalationEnumeratesCheckedSources(t *testing.T) {
	f := &fakeNLU{sufficient: false, answer: "insufficient"}
	wiki := &fakeSearcher{results: []search.Result{{Title: "w", Content: "c"}}}
	kb := &fakeSearcher{}
	web := &fakeWeb{err: errors.New("no key configured")}
	g := NewGraph(f, nil, wiki, kb, web, nil)

	d := g.Resolve(context.Background(), infoTicket("unanswerable question"))
	if d.Kind != protocol.DecisionEscalated {
		t.Fatalf("kind = %q", d.Kind)
	}
	if d.AssignTo != AssigneeL1 {
		t.Errorf("assignee = %q", d.AssignTo)
	}
	if d.Close != protocol.CloseNone {
		t.Errorf("escalated tickets stay open, got close=%q", d.Close)
	}
	for _, src := range []string{"internal wiki", "knowledge base", "web search (unavailable)"} {
		if !strings.Contains(d.WorkNotes, src) {
			t.Errorf("work notes missing %q: %q", src, d.WorkNotes)
		}
	}
}

func TestIncidentEscalatesDirectly(t *testing.T) {
	wiki := &fakeSearcher{}
	g := NewGraph(&fakeNLU{}, nil, wiki, nil, nil, nil)

	d := g.Resolve(context.Background(), &protocol.Ticket{
		Description: "my VPN is not working. for user jdoe due to lockout",
		Intent:      protocol.IntentIncident,
	})
	if d.Kind != protocol.DecisionEscalated {
		t.Fatalf("kind = %q", d.Kind)
	}
	if wiki.calls != 0 {
		t.Error("incidents must not consult the information tiers")
	}
	if !strings.Contains(d.WorkNotes, "manual handling") {
		t.Errorf("work notes = %q", d.WorkNotes)
	}
}

func TestAmbiguousTicketKeywordFallback(t *testing.T) {
	f := &fakeNLU{resolutionErr: errors.New("model down")}
	sil := &fakeSilencer{result: protocol.SilenceResult{Silenced: true}}
	g := NewGraph(f, sil, nil, nil, nil, nil)

	d := g.Resolve(context.Background(), &protocol.Ticket{
		Description: "please suppress the noisy alert tonight",
	})
	if d.Kind != protocol.DecisionSuppressed {
		t.Fatalf("keyword fallback should pick suppression, got %q", d.Kind)
	}

	d = g.Resolve(context.Background(), &protocol.Ticket{Description: "something odd happened"})
	if d.Kind != protocol.DecisionEscalated {
		t.Fatalf("keyword fallback should escalate by default, got %q", d.Kind)
	}
}

func TestAmbiguousTicketModelResolution(t *testing.T) {
	f := &fakeNLU{resolution: nlu.ResolutionSilence}
	sil := &fakeSilencer{result: protocol.SilenceResult{Silenced: true}}
	g := NewGraph(f, sil, nil, nil, nil, nil)

	d := g.Resolve(context.Background(), &protocol.Ticket{Description: "quiet things down for the deploy"})
	if d.Kind != protocol.DecisionSuppressed {
		t.Fatalf("kind = %q", d.Kind)
	}
}
