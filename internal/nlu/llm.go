package nlu

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/araddon/dateparse"

	"github.com/opsdesk-io/opsdesk/internal/provider"
	"github.com/opsdesk-io/opsdesk/pkg/protocol"
)

const (
	windowTimeLayout = "2006-01-02 15:04"
	maxClarifyLen    = 200
)

// LLM implements Understander on top of an LLM provider.
type LLM struct {
	prov   provider.Provider
	model  string
	logger *slog.Logger
	now    func() time.Time
}

// Option configures an LLM.
type Option func(*LLM)

// WithModel overrides the provider's default model.
func WithModel(model string) Option {
	return func(l *LLM) { l.model = model }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(l *LLM) { l.logger = logger }
}

// WithClock overrides the time source used to anchor relative dates
// ("tomorrow", "now") during window extraction. Used by tests.
func WithClock(now func() time.Time) Option {
	return func(l *LLM) { l.now = now }
}

// New creates an Understander backed by prov.
func New(prov provider.Provider, opts ...Option) *LLM {
	l := &LLM{
		prov:   prov,
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

const classifyIntentPrompt = `You are an intent classifier for an IT operations helpdesk.
Classify the user's message into EXACTLY one of these intents.

Output ONLY ONE WORD: 'info_request', 'provisioning_request', or 'incident_report'

Choose 'info_request' when the user is:
- Asking WHAT IS something (policies, procedures, guidelines, definitions)
- Asking HOW TO do something (steps, instructions, process)
- Requesting INFORMATION or RESEARCH (looking up details, finding documentation)
Examples: 'what is the password policy', 'how to onboard an employee'

Choose 'provisioning_request' when the user wants to:
- SUPPRESS or SILENCE alerts (alert management)
- REQUEST access to systems, applications, or resources
- REQUEST software installation, hardware, accounts, or services
Examples: 'suppress alert', 'need access to Jira', 'request laptop'

Choose 'incident_report' when the user:
- Reports a BROKEN or NOT WORKING system or service
- Has an ERROR or PROBLEM that needs fixing
Examples: 'my laptop is not working', 'application is down'`

func (l *LLM) ClassifyIntent(ctx context.Context, text string) (protocol.Intent, error) {
	resp, err := l.chat(ctx, classifyIntentPrompt, text, 16)
	if err != nil {
		return "", fmt.Errorf("nlu: classify intent: %w", err)
	}

	label := strings.ToLower(stripFormatting(resp))
	switch {
	case strings.Contains(label, "silence"):
		return protocol.IntentAlertSilence, nil
	case strings.Contains(label, "info"):
		return protocol.IntentInfoRequest, nil
	case strings.Contains(label, "provision"):
		return protocol.IntentProvisioning, nil
	case strings.Contains(label, "incident"):
		return protocol.IntentIncident, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnparseable, label)
}

const classifyResolutionPrompt = `You are an intent-classification agent for a ticket automation workflow.
Your task is to output exactly one label based on the ticket description.
Output 'silence_alert' if the user is requesting alert suppression in any form
(silence, mute, suppress, disable, stop, acknowledge, or similar).
Output 'assign_l1' for all other requests.
Rules:
1. Output ONLY one of these two labels: silence_alert or assign_l1.
2. Do NOT include explanations, punctuation, or additional text.
3. Do NOT modify or rephrase the labels.`

func (l *LLM) ClassifyResolution(ctx context.Context, description string) (Resolution, error) {
	resp, err := l.chat(ctx, classifyResolutionPrompt, description, 16)
	if err != nil {
		return "", fmt.Errorf("nlu: classify resolution: %w", err)
	}

	label := strings.ToLower(stripFormatting(resp))
	switch {
	case strings.Contains(label, "silence"):
		return ResolutionSilence, nil
	case strings.Contains(label, "assign") || strings.Contains(label, "l1"):
		return ResolutionEscalate, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnparseable, label)
}

func (l *LLM) ExtractWindow(ctx context.Context, text string, missing []string) (Window, error) {
	wantStart := contains(missing, WindowStartField)
	wantEnd := contains(missing, WindowEndField)
	if !wantStart && !wantEnd {
		return Window{}, nil
	}

	// When only one boundary is needed and the message is a plain
	// timestamp, skip the model round trip entirely.
	if wantStart != wantEnd {
		if t, err := dateparse.ParseLocal(strings.TrimSpace(text)); err == nil {
			w := Window{}
			if wantStart {
				w.Start = &t
			} else {
				w.End = &t
			}
			return w, nil
		}
	}

	resp, err := l.chat(ctx, l.windowPrompt(missing), "Extract datetime from: "+text, 200)
	if err != nil {
		return Window{}, fmt.Errorf("nlu: extract window: %w", err)
	}

	obj, ok := extractJSONObject(stripFormatting(resp))
	if !ok {
		return Window{}, fmt.Errorf("%w: no JSON object in %q", ErrUnparseable, resp)
	}

	var fields map[string]string
	if err := json.Unmarshal([]byte(obj), &fields); err != nil {
		return Window{}, fmt.Errorf("%w: %v", ErrUnparseable, err)
	}

	var w Window
	if wantStart {
		if t, ok := l.parseWindowValue(fields[WindowStartField]); ok {
			w.Start = &t
		}
	}
	if wantEnd {
		if t, ok := l.parseWindowValue(fields[WindowEndField]); ok {
			w.End = &t
		}
	}
	return w, nil
}

func (l *LLM) windowPrompt(missing []string) string {
	now := l.now()
	current := now.Format("2006-01-02")
	currentTime := now.Format("15:04")
	tomorrow := now.AddDate(0, 0, 1).Format("2006-01-02")
	fields := strings.Join(missing, ", ")

	return fmt.Sprintf(`You are a datetime extraction assistant. Current date is %s and current time is %s.

REQUIRED FIELDS TO EXTRACT: %s

Extract datetime information from the user's message and return them in ISO format (YYYY-MM-DD HH:MM).

Rules:
1. If user says "tomorrow", use date %s
2. If user says "today" or "now", use date %s
3. Convert AM/PM to 24-hour format (6 PM = 18:00, 7 PM = 19:00)
4. If a time range is given (e.g., "6 to 7 PM"), extract both times
5. If only a time is mentioned without a date, assume tomorrow for future times

Return ONLY a JSON object with the required fields. Do not include fields not in the required list.

Examples:
- Required: window_start | User: "tomorrow 6 PM EST" -> {"window_start": "%s 18:00"}
- Required: window_end | User: "7 PM" -> {"window_end": "%s 19:00"}
- Required: window_start, window_end | User: "tomorrow 6 to 7 PM EST" -> {"window_start": "%s 18:00", "window_end": "%s 19:00"}`,
		current, currentTime, fields, tomorrow, current, tomorrow, tomorrow, tomorrow, tomorrow)
}

// parseWindowValue parses one extracted timestamp. The strict layout
// is tried first; dateparse covers the looser forms models emit.
func (l *LLM) parseWindowValue(v string) (time.Time, bool) {
	v = strings.TrimSpace(v)
	if v == "" {
		return time.Time{}, false
	}
	if t, err := time.ParseInLocation(windowTimeLayout, v, time.Local); err == nil {
		return t, true
	}
	t, err := dateparse.ParseLocal(v)
	if err != nil {
		l.logger.Warn("unparseable window value", "value", v, "error", err)
		return time.Time{}, false
	}
	return t, true
}

const answerPrompt = `Based on the following company documents, provide a clear and concise answer to the question.
If the documents don't contain enough information to answer, say so.`

func (l *LLM) Answer(ctx context.Context, question, docContext string) (string, error) {
	user := fmt.Sprintf("Question: %s\n\nCompany Documents:\n%s\n\nAnswer:", question, docContext)
	resp, err := l.chat(ctx, answerPrompt, user, 1024)
	if err != nil {
		return "", fmt.Errorf("nlu: answer: %w", err)
	}
	return strings.TrimSpace(resp), nil
}

const sufficiencyPrompt = `You are a company information assistant. Based on the documentation below, provide a clear and accurate answer to the question.

IMPORTANT:
- If the documentation contains relevant information, provide a complete answer
- If the documentation does NOT contain enough information or is not relevant, respond with exactly: "INSUFFICIENT_INFO"
- Be thorough and include specific details from the documentation`

func (l *LLM) JudgeSufficiency(ctx context.Context, question, docContext string) (string, bool, error) {
	user := fmt.Sprintf("Question: %s\n\nDocumentation:\n%s\n\nAnswer:", question, docContext)
	resp, err := l.chat(ctx, sufficiencyPrompt, user, 1024)
	if err != nil {
		return "", false, fmt.Errorf("nlu: judge sufficiency: %w", err)
	}

	answer := strings.TrimSpace(resp)
	upper := strings.ToUpper(answer)
	if strings.Contains(upper, "INSUFFICIENT_INFO") || strings.HasPrefix(upper, "INSUFFICIENT") {
		return "", false, nil
	}
	return answer, true, nil
}

const clarifyPrompt = `You are a helpful assistant. The user provided a vague request: '%s'.
Generate a polite, specific question asking for more details needed to complete this request.
Keep it under 100 characters. Be direct and helpful.`

func (l *LLM) Clarify(ctx context.Context, description string) (string, error) {
	resp, err := l.chat(ctx, fmt.Sprintf(clarifyPrompt, description), "", 100)
	if err != nil {
		return "", fmt.Errorf("nlu: clarify: %w", err)
	}

	q := strings.TrimSpace(stripFormatting(resp))
	if q == "" || len(q) > maxClarifyLen {
		return "", fmt.Errorf("%w: clarification length %d", ErrUnparseable, len(q))
	}
	return q, nil
}

// chat runs one system+user exchange against the provider.
func (l *LLM) chat(ctx context.Context, system, user string, maxTokens int) (string, error) {
	msgs := []protocol.ChatMessage{{Role: "system", Content: system}}
	if user != "" {
		msgs = append(msgs, protocol.ChatMessage{Role: "user", Content: user})
	}
	resp, err := l.prov.Chat(ctx, protocol.ChatRequest{
		Model:     l.model,
		Messages:  msgs,
		MaxTokens: maxTokens,
	})
	if err != nil {
		return "", err
	}
	return resp.Content, nil
}

func contains(ss []string, s string) bool {
	for _, v := range ss {
		if v == s {
			return true
		}
	}
	return false
}
