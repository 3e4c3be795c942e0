package dialogue

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/opsdesk-io/opsdesk/internal/nlu"
	"github.com/opsdesk-io/opsdesk/pkg/protocol"
)

// AlertCatalog lists the alerts a user can name when asking for
// suppression. The prompt for the alert field enumerates them.
type AlertCatalog interface {
	List() []protocol.Alert
}

// Engine runs the slot-filling steps over a session's State. It holds
// no per-session data itself; all state lives in the State the caller
// passes in.
type Engine struct {
	nlu    nlu.Understander
	alerts AlertCatalog
	logger *slog.Logger
}

// NewEngine creates a slot-filling engine.
func NewEngine(u nlu.Understander, alerts AlertCatalog, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{nlu: u, alerts: alerts, logger: logger}
}

// ClassifyAndExtract handles the first substantive message of a ticket
// attempt: classify the intent and seed the description. Category
// labels ("Information Request") pick an intent without becoming the
// description. A classifier failure falls back to incident, the branch
// that ends with a human.
func (e *Engine) ClassifyAndExtract(ctx context.Context, s *State, text string) {
	intent, err := e.nlu.ClassifyIntent(ctx, text)
	if err != nil {
		e.logger.Warn("intent classification failed, assuming incident", "error", err)
		intent = protocol.IntentIncident
	}
	s.Intent = intent

	if s.Description == "" && !isGenericPhrase(text) {
		s.Description = strings.TrimSpace(text)
	}
}

// Recompute rebuilds MissingFields from the current state.
func (e *Engine) Recompute(s *State) {
	s.MissingFields = computeMissingFields(s)
}

// GeneratePrompt writes the question for the first missing field into
// the conversation and marks the session as waiting for input. When
// the most recent assistant turn already asked for the same field, the
// question is prefixed with a short acknowledgement so the user knows
// the earlier answer did not land.
func (e *Engine) GeneratePrompt(ctx context.Context, s *State) string {
	if len(s.MissingFields) == 0 {
		return ""
	}
	field := s.MissingFields[0]

	var prompt string
	switch field {
	case FieldDescription:
		prompt = e.descriptionPrompt(s.Intent)
	case FieldMoreDetails:
		prompt = e.detailsPrompt(ctx, s.Description)
		s.DetailsRequested = true
	case FieldAlertRef:
		prompt = e.alertPrompt()
	case FieldApplication:
		prompt = "Which application is this alert for? (e.g., 'website1' or 'website2')"
	case FieldWindowStart:
		if containsField(s.MissingFields, FieldWindowEnd) {
			prompt = "When should the silence period be? (e.g., 'tomorrow 6 to 7 PM' or '2026-01-20 14:00 to 2026-01-20 15:00')"
		} else {
			prompt = "When should the silence period start?"
		}
	case FieldWindowEnd:
		prompt = "When should the silence period end?"
	default:
		prompt = fmt.Sprintf("Could you provide the %s?", strings.ReplaceAll(field, "_", " "))
	}

	if last, ok := s.LastAssistant(); ok && field != FieldMoreDetails && asksAbout(last, field) {
		prompt = "I didn't quite catch that. " + prompt
	}

	s.AppendAssistant(prompt)
	s.NeedsInput = true
	return prompt
}

func (e *Engine) descriptionPrompt(intent protocol.Intent) string {
	switch intent {
	case protocol.IntentInfoRequest:
		return "What information are you looking for?"
	case protocol.IntentProvisioning, protocol.IntentAlertSilence:
		return "What would you like to request?"
	case protocol.IntentIncident:
		return "Please describe the issue you're experiencing."
	default:
		return "How can I help you today?"
	}
}

func (e *Engine) alertPrompt() string {
	var b strings.Builder
	b.WriteString("Which alert would you like to silence?")
	if e.alerts != nil {
		if alerts := e.alerts.List(); len(alerts) > 0 {
			b.WriteString(" Current alerts:\n")
			for _, a := range alerts {
				fmt.Fprintf(&b, "  %s: %s (%s)\n", a.ID, a.Name, a.Status)
			}
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

// detailsPrompt asks the model for a targeted follow-up question, with
// canned questions for the common vague requests when the model is
// unavailable.
func (e *Engine) detailsPrompt(ctx context.Context, description string) string {
	q, err := e.nlu.Clarify(ctx, description)
	if err == nil && q != "" {
		return q
	}
	if err != nil {
		e.logger.Warn("clarify failed, using canned question", "error", err)
	}

	low := strings.ToLower(description)
	switch {
	case strings.Contains(low, "block ip"):
		return "Which IP address would you like to block? Please provide the IP address and the reason."
	case strings.Contains(low, "reset password"):
		return "For which user account should the password be reset?"
	case strings.Contains(low, "unlock account"):
		return "Which user account needs to be unlocked?"
	case strings.Contains(low, "access"), strings.Contains(low, "permission"):
		return "What resource or system do you need access to? Please provide details."
	default:
		return fmt.Sprintf("Could you provide more details about '%s'? What specifically do you need?", description)
	}
}

// askKeywords are per-field phrases that identify an assistant turn as
// the question for that field. Used for repeat detection. The greeting
// ("How can I help you today?") must not read as a description ask, so
// only the intent-specific phrasings are listed.
var askKeywords = map[string][]string{
	FieldDescription: {"describe the issue", "what information", "what would you like"},
	FieldAlertRef:    {"which alert"},
	FieldApplication: {"which application"},
	FieldWindowStart: {"silence period"},
	FieldWindowEnd:   {"silence period"},
}

func asksAbout(assistantMsg, field string) bool {
	low := strings.ToLower(assistantMsg)
	for _, kw := range askKeywords[field] {
		if strings.Contains(low, kw) {
			return true
		}
	}
	return false
}

var alertRefPattern = regexp.MustCompile(`(?i)\b(a-\d+|alert[-_ ]?\d+|\d+)\b`)

// ParseResponse applies a user answer to the fields that were missing
// when the question was asked. A single answer may fill several
// fields. MissingFields is read for precedence only; the caller
// recomputes it afterwards.
func (e *Engine) ParseResponse(ctx context.Context, s *State, text string) {
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}

	if containsField(s.MissingFields, FieldMoreDetails) {
		s.Description = s.Description + ". " + text
	} else if containsField(s.MissingFields, FieldDescription) && !isGenericPhrase(text) {
		s.Description = text
	}

	// The loose fallbacks (take a short answer verbatim) only apply to
	// the field the user was just asked about; otherwise one answer
	// could bleed into every open slot.
	var asked string
	if len(s.MissingFields) > 0 {
		asked = s.MissingFields[0]
	}

	if containsField(s.MissingFields, FieldAlertRef) {
		if ref := extractAlertRef(text, asked == FieldAlertRef); ref != "" {
			s.AlertRef = ref
		}
	}

	if containsField(s.MissingFields, FieldApplication) {
		if app := extractApplication(text, asked == FieldApplication); app != "" {
			s.Application = app
		}
	}

	wantStart := containsField(s.MissingFields, FieldWindowStart)
	wantEnd := containsField(s.MissingFields, FieldWindowEnd)
	if wantStart || wantEnd {
		var wanted []string
		if wantStart {
			wanted = append(wanted, FieldWindowStart)
		}
		if wantEnd {
			wanted = append(wanted, FieldWindowEnd)
		}
		w, err := e.nlu.ExtractWindow(ctx, text, wanted)
		if err != nil {
			e.logger.Warn("window extraction failed", "error", err)
			return
		}
		if wantStart && w.Start != nil {
			s.WindowStart = w.Start
		}
		if wantEnd && w.End != nil {
			s.WindowEnd = w.End
		}
	}
}

// extractAlertRef pulls an alert identifier out of free text. "A-2",
// "alert 2" and a bare "2" all resolve; when this is the field being
// asked about, a short answer with no other signal is taken verbatim.
func extractAlertRef(text string, asked bool) string {
	m := alertRefPattern.FindString(text)
	if m != "" {
		digits := strings.TrimLeft(strings.ToLower(m), "alert-_ ")
		if digits != "" && isDigits(digits) {
			return "A-" + digits
		}
		return strings.ToUpper(m)
	}
	if words := strings.Fields(text); asked && len(words) <= 3 {
		return strings.TrimSpace(text)
	}
	return ""
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// extractApplication matches the answer against the known application
// names, accepting a bare one-word answer only for a direct ask.
func extractApplication(text string, asked bool) string {
	low := strings.ToLower(text)
	switch {
	case strings.Contains(low, "website1"), strings.Contains(low, "website 1"),
		strings.Contains(low, "website one"):
		return "website1"
	case strings.Contains(low, "website2"), strings.Contains(low, "website 2"),
		strings.Contains(low, "website two"):
		return "website2"
	}
	if words := strings.Fields(text); asked && len(words) == 1 {
		return strings.ToLower(words[0])
	}
	return ""
}
