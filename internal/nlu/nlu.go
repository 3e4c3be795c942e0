// Package nlu is the language-understanding port: every place the
// helpdesk needs semantic interpretation of free text (intent labels,
// suppression windows, answer sufficiency) goes through the
// Understander interface so deterministic fallback paths can be
// tested without a live model.
package nlu

import (
	"context"
	"errors"
	"time"

	"github.com/opsdesk-io/opsdesk/pkg/protocol"
)

// ErrUnparseable is returned when the model's output violates the
// requested output contract and no value could be recovered.
var ErrUnparseable = errors.New("nlu: unparseable model output")

// Resolution is the two-label contract used by the routing graph when
// a ticket's branch is ambiguous.
type Resolution string

const (
	ResolutionSilence  Resolution = "silence_alert"
	ResolutionEscalate Resolution = "assign_l1"
)

// Window is a partially extracted suppression window. Either side may
// be nil when the text did not mention it.
type Window struct {
	Start *time.Time
	End   *time.Time
}

// Understander is the capability interface over the LLM. All methods
// are fallible and non-deterministic; callers own the fallback policy.
type Understander interface {
	// ClassifyIntent assigns one of the known ticket intents to the
	// user's request text.
	ClassifyIntent(ctx context.Context, text string) (protocol.Intent, error)

	// ClassifyResolution decides between the suppression and
	// escalation branches for an ambiguous ticket description.
	ClassifyResolution(ctx context.Context, description string) (Resolution, error)

	// ExtractWindow pulls datetime values out of conversational text.
	// missing names the still-required fields ("window_start",
	// "window_end"); only those are extracted. Partial results are
	// valid.
	ExtractWindow(ctx context.Context, text string, missing []string) (Window, error)

	// Answer generates an answer to question grounded in the supplied
	// document context. The caller screens the result for
	// insufficiency phrasing.
	Answer(ctx context.Context, question, docContext string) (string, error)

	// JudgeSufficiency answers question from docContext under an
	// explicit INSUFFICIENT_INFO contract. ok is false when the model
	// declared the material insufficient.
	JudgeSufficiency(ctx context.Context, question, docContext string) (answer string, ok bool, err error)

	// Clarify produces a short context-aware question asking for more
	// detail about a vague request.
	Clarify(ctx context.Context, description string) (string, error)
}

// Field names understood by ExtractWindow.
const (
	WindowStartField = "window_start"
	WindowEndField   = "window_end"
)
