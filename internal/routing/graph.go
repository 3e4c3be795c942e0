// Package routing decides what happens to a completed ticket: run the
// alert-suppression side effect, answer the question from one of three
// information tiers, or hand the ticket to humans. Tiers are tried in
// a fixed order and the first usable answer wins.
package routing

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/opsdesk-io/opsdesk/internal/nlu"
	"github.com/opsdesk-io/opsdesk/internal/search"
	"github.com/opsdesk-io/opsdesk/pkg/protocol"
)

// Resolver assignee names as they appear on tickets.
const (
	AssigneeOps      = "Ops Agent"
	AssigneeWiki     = "Wiki Agent"
	AssigneeKB       = "KB Agent"
	AssigneeResearch = "Research Agent"
	AssigneeL1       = "L1 Team"
)

// answerByteBudget caps the prose portion of an answer. Citations are
// appended after the cap and are never truncated.
const answerByteBudget = 4096

// Silencer applies an alert silence.
type Silencer interface {
	Silence(ref string, start, end *time.Time) protocol.SilenceResult
}

// WebResearcher is the external search tier: result ranking plus page
// content extraction.
type WebResearcher interface {
	Search(ctx context.Context, query string, maxResults int) ([]search.Result, error)
	FetchReadable(ctx context.Context, url string) (string, error)
}

// Graph routes tickets. Any tier may be nil; a nil tier is skipped the
// same way an erroring one is.
type Graph struct {
	nlu      nlu.Understander
	silencer Silencer
	wiki     search.Searcher
	kb       search.Searcher
	web      WebResearcher
	logger   *slog.Logger
}

// NewGraph wires a routing graph.
func NewGraph(u nlu.Understander, silencer Silencer, wiki, kb search.Searcher, web WebResearcher, logger *slog.Logger) *Graph {
	if logger == nil {
		logger = slog.Default()
	}
	return &Graph{nlu: u, silencer: silencer, wiki: wiki, kb: kb, web: web, logger: logger}
}

// Resolve routes one ticket and returns the decision. The ticket is
// not mutated; the caller applies the decision.
func (g *Graph) Resolve(ctx context.Context, t *protocol.Ticket) protocol.RoutingDecision {
	switch g.classify(ctx, t) {
	case branchSuppression:
		return g.suppress(t)
	case branchInformation:
		return g.answer(ctx, t)
	default:
		return g.escalate(t, nil)
	}
}

type branch int

const (
	branchSuppression branch = iota
	branchInformation
	branchEscalation
)

func (g *Graph) classify(ctx context.Context, t *protocol.Ticket) branch {
	switch {
	case t.ServiceType == protocol.ServiceSuppressAlerts || t.Intent == protocol.IntentAlertSilence:
		return branchSuppression
	case t.Intent == protocol.IntentInfoRequest || t.Intent == protocol.IntentProvisioning:
		return branchInformation
	case t.Intent == protocol.IntentIncident:
		return branchEscalation
	}

	// No usable intent on the ticket (form intake with a blank
	// category). Ask the model, fall back to keywords.
	res, err := g.nlu.ClassifyResolution(ctx, t.Description)
	if err != nil {
		g.logger.Warn("resolution classification failed, using keywords", "ticket", t.ID, "error", err)
		low := strings.ToLower(t.Description)
		for _, kw := range []string{"suppress", "silence", "mute"} {
			if strings.Contains(low, kw) {
				return branchSuppression
			}
		}
		return branchEscalation
	}
	if res == nlu.ResolutionSilence {
		return branchSuppression
	}
	return branchEscalation
}

// suppress runs the silence side effect. The ticket closes on a delay
// either way; an unknown alert is recorded in the work notes rather
// than bounced back to the user.
func (g *Graph) suppress(t *protocol.Ticket) protocol.RoutingDecision {
	res := g.silencer.Silence(t.AlertRef, t.WindowStart, t.WindowEnd)

	var notes, answer string
	if res.NotFound {
		notes = fmt.Sprintf("Alert %q not found in the monitoring system; no silence applied.", t.AlertRef)
		answer = fmt.Sprintf("I couldn't find alert %s in the monitoring system. The ticket has been recorded for the operations team to review.", t.AlertRef)
	} else {
		notes = fmt.Sprintf("Silenced alert %s for %s from %s until %s.",
			t.AlertRef, t.Application, formatWindowTime(res.From), formatWindowTime(res.Until))
		answer = fmt.Sprintf("Alert %s has been silenced from %s until %s.",
			t.AlertRef, formatWindowTime(res.From), formatWindowTime(res.Until))
	}

	return protocol.RoutingDecision{
		Kind:      protocol.DecisionSuppressed,
		Answer:    answer,
		AssignTo:  AssigneeOps,
		Close:     protocol.CloseDeferred,
		WorkNotes: notes,
	}
}

func formatWindowTime(t *time.Time) string {
	if t == nil {
		return "(unspecified)"
	}
	return t.Format("2006-01-02 15:04")
}

// answer works through the information tiers in order. Each tier that
// fails to produce a sufficient answer is recorded so the escalation
// notes can enumerate what was tried.
func (g *Graph) answer(ctx context.Context, t *protocol.Ticket) protocol.RoutingDecision {
	question := t.Description
	var checked []string

	if d, ok := g.tryWiki(ctx, question, &checked); ok {
		return d
	}
	if d, ok := g.tryKB(ctx, question, &checked); ok {
		return d
	}
	if d, ok := g.tryWeb(ctx, question, &checked); ok {
		return d
	}
	return g.escalate(t, checked)
}

// tryWiki is the first tier: the internal wiki plus an explicit
// sufficiency judgement on whatever it returned.
func (g *Graph) tryWiki(ctx context.Context, question string, checked *[]string) (protocol.RoutingDecision, bool) {
	if g.wiki == nil {
		return protocol.RoutingDecision{}, false
	}
	results, err := g.wiki.Search(ctx, question, 3)
	if err != nil {
		g.logger.Warn("wiki tier unavailable", "error", err)
		*checked = append(*checked, "internal wiki (unavailable)")
		return protocol.RoutingDecision{}, false
	}
	*checked = append(*checked, "internal wiki")
	if len(results) == 0 {
		return protocol.RoutingDecision{}, false
	}

	answer, ok, err := g.nlu.JudgeSufficiency(ctx, question, joinContents(results))
	if err != nil {
		g.logger.Warn("wiki sufficiency judgement failed", "error", err)
		return protocol.RoutingDecision{}, false
	}
	if !ok {
		return protocol.RoutingDecision{}, false
	}

	return protocol.RoutingDecision{
		Kind:      protocol.DecisionResolved,
		Answer:    truncateAnswer(answer),
		Citations: citationsOf(results),
		AssignTo:  AssigneeWiki,
		Close:     protocol.CloseImmediate,
		WorkNotes: fmt.Sprintf("Answered from the internal wiki (%d articles).", len(results)),
	}, true
}

// tryKB is the second tier: the local document index. Hits must clear
// the relevance threshold, and the generated answer is screened for
// insufficiency phrasing before it counts.
func (g *Graph) tryKB(ctx context.Context, question string, checked *[]string) (protocol.RoutingDecision, bool) {
	if g.kb == nil {
		return protocol.RoutingDecision{}, false
	}
	results, err := g.kb.Search(ctx, question, 3)
	if err != nil {
		g.logger.Warn("kb tier unavailable", "error", err)
		*checked = append(*checked, "knowledge base (unavailable)")
		return protocol.RoutingDecision{}, false
	}
	*checked = append(*checked, "knowledge base")

	relevant := results[:0]
	for _, r := range results {
		if r.Score < search.RelevanceThreshold {
			relevant = append(relevant, r)
		}
	}
	if len(relevant) == 0 {
		return protocol.RoutingDecision{}, false
	}

	answer, err := g.nlu.Answer(ctx, question, joinContents(relevant))
	if err != nil {
		g.logger.Warn("kb answer generation failed", "error", err)
		return protocol.RoutingDecision{}, false
	}
	if insufficientAnswer(answer) {
		return protocol.RoutingDecision{}, false
	}

	return protocol.RoutingDecision{
		Kind:      protocol.DecisionResolved,
		Answer:    truncateAnswer(answer),
		Citations: citationsOf(relevant),
		AssignTo:  AssigneeKB,
		Close:     protocol.CloseImmediate,
		WorkNotes: fmt.Sprintf("Answered from the knowledge base (%d relevant chunks).", len(relevant)),
	}, true
}

// tryWeb is the last tier: external search with page extraction. The
// answer always carries its sources, appended after any truncation so
// they survive the byte budget.
func (g *Graph) tryWeb(ctx context.Context, question string, checked *[]string) (protocol.RoutingDecision, bool) {
	if g.web == nil {
		return protocol.RoutingDecision{}, false
	}
	results, err := g.web.Search(ctx, question, 3)
	if err != nil {
		g.logger.Warn("web tier unavailable", "error", err)
		*checked = append(*checked, "web search (unavailable)")
		return protocol.RoutingDecision{}, false
	}
	*checked = append(*checked, "web search")
	if len(results) == 0 {
		return protocol.RoutingDecision{}, false
	}

	var docs []string
	for i, r := range results {
		content := r.Content
		if i < 2 && r.URL != "" {
			if text, err := g.web.FetchReadable(ctx, r.URL); err == nil && text != "" {
				content = text
			} else if err != nil {
				g.logger.Debug("page fetch failed, using snippet", "url", r.URL, "error", err)
			}
		}
		docs = append(docs, fmt.Sprintf("[%s]\n%s", r.Title, content))
	}

	answer, err := g.nlu.Answer(ctx, question, strings.Join(docs, "\n\n"))
	if err != nil {
		g.logger.Warn("web answer generation failed", "error", err)
		return protocol.RoutingDecision{}, false
	}
	if insufficientAnswer(answer) {
		return protocol.RoutingDecision{}, false
	}

	citations := citationsOf(results)
	return protocol.RoutingDecision{
		Kind:      protocol.DecisionResolved,
		Answer:    truncateAnswer(answer) + formatSources(citations),
		Citations: citations,
		AssignTo:  AssigneeResearch,
		Close:     protocol.CloseImmediate,
		WorkNotes: fmt.Sprintf("Answered from web search (%d sources).", len(results)),
	}, true
}

// escalate hands the ticket to humans. The work notes enumerate every
// source that was consulted so L1 does not repeat the search.
func (g *Graph) escalate(t *protocol.Ticket, checked []string) protocol.RoutingDecision {
	notes := "Escalated for manual handling."
	if len(checked) > 0 {
		notes = fmt.Sprintf("Escalated for manual handling. Sources checked without success: %s.",
			strings.Join(checked, ", "))
	}
	return protocol.RoutingDecision{
		Kind:      protocol.DecisionEscalated,
		Answer:    "I wasn't able to resolve this automatically, so your ticket has been assigned to our L1 team. They will follow up with you.",
		AssignTo:  AssigneeL1,
		Close:     protocol.CloseNone,
		WorkNotes: notes,
	}
}

// insufficiencyIndicators mark a generated answer as a refusal rather
// than an answer.
var insufficiencyIndicators = []string{
	"insufficient_info",
	"don't contain enough",
	"do not contain enough",
	"not enough information",
	"cannot find",
	"unable to answer",
	"insufficient",
	"does not mention",
	"do not mention",
}

func insufficientAnswer(answer string) bool {
	low := strings.ToLower(answer)
	for _, phrase := range insufficiencyIndicators {
		if strings.Contains(low, phrase) {
			return true
		}
	}
	return false
}

func joinContents(results []search.Result) string {
	var parts []string
	for _, r := range results {
		parts = append(parts, fmt.Sprintf("[%s]\n%s", r.Title, r.Content))
	}
	return strings.Join(parts, "\n\n")
}

func citationsOf(results []search.Result) []protocol.Citation {
	out := make([]protocol.Citation, 0, len(results))
	for _, r := range results {
		out = append(out, protocol.Citation{Title: r.Title, URL: r.URL})
	}
	return out
}

// truncateAnswer enforces the prose byte budget, cutting on a rune
// boundary.
func truncateAnswer(answer string) string {
	if len(answer) <= answerByteBudget {
		return answer
	}
	cut := answerByteBudget
	for cut > 0 && !utf8.RuneStart(answer[cut]) {
		cut--
	}
	return answer[:cut] + "\n... [truncated]"
}

func formatSources(citations []protocol.Citation) string {
	if len(citations) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("\n\nSources:")
	for _, c := range citations {
		if c.URL != "" {
			fmt.Fprintf(&b, "\n- %s (%s)", c.Title, c.URL)
		} else {
			fmt.Fprintf(&b, "\n- %s", c.Title)
		}
	}
	return b.String()
}
