package dialogue

import (
	"strings"

	"github.com/opsdesk-io/opsdesk/pkg/protocol"
)

// intentRule describes what a ticket of a given intent needs before it
// can be filed.
type intentRule struct {
	// suppression gates the alert fields on a keyword test of the
	// description. Without the keywords only the description is needed.
	suppression bool

	// vagueness enables the one-shot clarification pass on thin
	// descriptions.
	vagueness bool
}

var intentRules = map[protocol.Intent]intentRule{
	protocol.IntentInfoRequest:  {},
	protocol.IntentProvisioning: {suppression: true},
	protocol.IntentAlertSilence: {suppression: true},
	protocol.IntentIncident:     {vagueness: true},
}

// suppressionFields is the ask order for alert-silence requests.
var suppressionFields = []string{FieldAlertRef, FieldApplication, FieldWindowStart, FieldWindowEnd}

var suppressionKeywords = []string{"suppress", "silence", "mute", "stop alert", "disable alert"}

// genericPhrases are category labels users send by clicking a menu
// button. They name an intent but describe nothing, so they never
// become the ticket description.
var genericPhrases = []string{
	"information request",
	"info request",
	"provisioning request",
	"requested item",
	"request for information",
	"incident report",
	"report an incident",
	"alert suppression",
}

// vaguePatterns are requests that name an action but omit the subject.
// A matching description triggers one clarification round.
var vaguePatterns = []string{
	"block ip",
	"reset password",
	"unlock account",
	"create user",
	"delete user",
	"access issue",
	"need access",
	"permission denied",
	"can't access",
	"cannot access",
	"unable to login",
	"help",
	"issue",
	"problem",
	"error",
	"not working",
}

// vagueActionWords flag short descriptions that are all verb, no
// subject.
var vagueActionWords = []string{"block", "reset", "unlock", "create", "delete", "access", "need", "issue", "problem"}

// computeMissingFields derives the full missing-field list from
// scratch. It is a pure function of the intent, the extracted fields,
// and the one-shot detailsRequested flag; calling it twice on the same
// state yields the same answer.
func computeMissingFields(s *State) []string {
	if strings.TrimSpace(s.Description) == "" {
		return []string{FieldDescription}
	}

	rule := intentRules[s.Intent]
	var missing []string

	if rule.suppression && requiresSuppression(s.Intent, s.Description) {
		if s.AlertRef == "" {
			missing = append(missing, FieldAlertRef)
		}
		if s.Application == "" {
			missing = append(missing, FieldApplication)
		}
		if s.WindowStart == nil {
			missing = append(missing, FieldWindowStart)
		}
		if s.WindowEnd == nil {
			missing = append(missing, FieldWindowEnd)
		}
	}

	if rule.vagueness && !s.DetailsRequested && isVague(s.Description) {
		missing = append(missing, FieldMoreDetails)
	}
	return missing
}

// requiresSuppression reports whether a description (under a given
// intent) asks for alert suppression and therefore needs the alert
// field set.
func requiresSuppression(intent protocol.Intent, description string) bool {
	if !intentRules[intent].suppression {
		return false
	}
	low := strings.ToLower(description)
	for _, kw := range suppressionKeywords {
		if strings.Contains(low, kw) {
			return true
		}
	}
	return false
}

// isGenericPhrase reports whether text is a bare category label rather
// than an actual description.
func isGenericPhrase(text string) bool {
	low := strings.ToLower(strings.TrimSpace(text))
	for _, phrase := range genericPhrases {
		if low == phrase {
			return true
		}
	}
	return false
}

// isVague reports whether a description is too thin to act on.
func isVague(description string) bool {
	low := strings.ToLower(strings.TrimSpace(description))
	for _, pat := range vaguePatterns {
		if low == pat || low == pat+"s" || strings.HasPrefix(low, pat+" ") {
			return true
		}
	}

	words := strings.Fields(low)
	if len(words) <= 4 {
		for _, w := range words {
			for _, action := range vagueActionWords {
				if w == action {
					return true
				}
			}
		}
	}
	return false
}

func containsField(fields []string, name string) bool {
	for _, f := range fields {
		if f == name {
			return true
		}
	}
	return false
}
