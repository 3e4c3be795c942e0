package nlu

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/opsdesk-io/opsdesk/pkg/protocol"
)

type fakeProvider struct {
	replies []string
	calls   int
	err     error
}

func (f *fakeProvider) Name() string { return "fake" }

func (f *fakeProvider) Chat(_ context.Context, _ protocol.ChatRequest) (*protocol.ChatResponse, error) {
	if f.err != nil {
		return nil, f.err
	}
	reply := ""
	if f.calls < len(f.replies) {
		reply = f.replies[f.calls]
	}
	f.calls++
	return &protocol.ChatResponse{Content: reply}, nil
}

func newTestLLM(t *testing.T, prov *fakeProvider) *LLM {
	t.Helper()
	clock := func() time.Time {
		return time.Date(2026, 1, 19, 10, 0, 0, 0, time.Local)
	}
	return New(prov, WithClock(clock))
}

func TestClassifyIntent(t *testing.T) {
	tests := []struct {
		reply string
		want  protocol.Intent
	}{
		{"info_request", protocol.IntentInfoRequest},
		{"  provisioning_request\n", protocol.IntentProvisioning},
		{"incident_report", protocol.IntentIncident},
		{"The intent is: incident_report.", protocol.IntentIncident},
		{"```\ninfo_request\n```", protocol.IntentInfoRequest},
		{"silence_alert", protocol.IntentAlertSilence},
	}
	for _, tt := range tests {
		l := newTestLLM(t, &fakeProvider{replies: []string{tt.reply}})
		got, err := l.ClassifyIntent(context.Background(), "whatever")
		if err != nil {
			t.Fatalf("ClassifyIntent(%q): %v", tt.reply, err)
		}
		if got != tt.want {
			t.Errorf("ClassifyIntent(%q) = %q, want %q", tt.reply, got, tt.want)
		}
	}
}

func TestClassifyIntent_Unparseable(t *testing.T) {
	l := newTestLLM(t, &fakeProvider{replies: []string{"I cannot classify this"}})
	_, err := l.ClassifyIntent(context.Background(), "x")
	if !errors.Is(err, ErrUnparseable) {
		t.Fatalf("expected ErrUnparseable, got %v", err)
	}
}

func TestClassifyResolution(t *testing.T) {
	l := newTestLLM(t, &fakeProvider{replies: []string{"silence_alert"}})
	got, err := l.ClassifyResolution(context.Background(), "please silence alert A-1")
	if err != nil {
		t.Fatalf("ClassifyResolution: %v", err)
	}
	if got != ResolutionSilence {
		t.Errorf("expected silence resolution, got %q", got)
	}

	l = newTestLLM(t, &fakeProvider{replies: []string{"assign_l1"}})
	got, err = l.ClassifyResolution(context.Background(), "my VPN is broken")
	if err != nil {
		t.Fatalf("ClassifyResolution: %v", err)
	}
	if got != ResolutionEscalate {
		t.Errorf("expected escalate resolution, got %q", got)
	}
}

func TestExtractWindow_BothFields(t *testing.T) {
	prov := &fakeProvider{replies: []string{
		"```json\n{\"window_start\": \"2026-01-20 18:00\", \"window_end\": \"2026-01-20 19:00\"}\n```",
	}}
	l := newTestLLM(t, prov)

	w, err := l.ExtractWindow(context.Background(), "tomorrow 6 to 7 PM",
		[]string{WindowStartField, WindowEndField})
	if err != nil {
		t.Fatalf("ExtractWindow: %v", err)
	}
	if w.Start == nil || w.End == nil {
		t.Fatalf("expected both boundaries, got %+v", w)
	}
	if w.Start.Hour() != 18 || w.End.Hour() != 19 {
		t.Errorf("expected 18:00-19:00, got %v-%v", w.Start, w.End)
	}
}

func TestExtractWindow_PartialResult(t *testing.T) {
	prov := &fakeProvider{replies: []string{`{"window_start": "2026-01-20 18:00"}`}}
	l := newTestLLM(t, prov)

	w, err := l.ExtractWindow(context.Background(), "from 6 PM",
		[]string{WindowStartField, WindowEndField})
	if err != nil {
		t.Fatalf("ExtractWindow: %v", err)
	}
	if w.Start == nil {
		t.Error("expected start to be extracted")
	}
	if w.End != nil {
		t.Error("expected end to remain missing")
	}
}

func TestExtractWindow_DirectParseSkipsModel(t *testing.T) {
	prov := &fakeProvider{}
	l := newTestLLM(t, prov)

	w, err := l.ExtractWindow(context.Background(), "2026-01-20 15:00", []string{WindowEndField})
	if err != nil {
		t.Fatalf("ExtractWindow: %v", err)
	}
	if w.End == nil {
		t.Fatal("expected end boundary from direct parse")
	}
	if prov.calls != 0 {
		t.Errorf("expected no model calls for a plain timestamp, got %d", prov.calls)
	}
}

func TestExtractWindow_Unparseable(t *testing.T) {
	l := newTestLLM(t, &fakeProvider{replies: []string{"no json here"}})
	_, err := l.ExtractWindow(context.Background(), "tomorrow evening",
		[]string{WindowStartField, WindowEndField})
	if !errors.Is(err, ErrUnparseable) {
		t.Fatalf("expected ErrUnparseable, got %v", err)
	}
}

func TestJudgeSufficiency(t *testing.T) {
	l := newTestLLM(t, &fakeProvider{replies: []string{"The password policy requires 12 characters."}})
	answer, ok, err := l.JudgeSufficiency(context.Background(), "what is the password policy", "docs")
	if err != nil || !ok {
		t.Fatalf("expected sufficient answer, got ok=%v err=%v", ok, err)
	}
	if answer == "" {
		t.Error("expected non-empty answer")
	}

	l = newTestLLM(t, &fakeProvider{replies: []string{"INSUFFICIENT_INFO"}})
	_, ok, err = l.JudgeSufficiency(context.Background(), "q", "docs")
	if err != nil {
		t.Fatalf("JudgeSufficiency: %v", err)
	}
	if ok {
		t.Error("expected insufficient verdict")
	}
}

func TestClarify_RejectsOversized(t *testing.T) {
	long := make([]byte, maxClarifyLen+1)
	for i := range long {
		long[i] = 'x'
	}
	l := newTestLLM(t, &fakeProvider{replies: []string{string(long)}})
	_, err := l.Clarify(context.Background(), "reset password")
	if !errors.Is(err, ErrUnparseable) {
		t.Fatalf("expected ErrUnparseable for oversized clarification, got %v", err)
	}
}

func TestExtractJSONObject(t *testing.T) {
	tests := []struct {
		in   string
		want string
		ok   bool
	}{
		{`prefix {"a": "b"} suffix`, `{"a": "b"}`, true},
		{`{"a": {"b": 1}}`, `{"a": {"b": 1}}`, true},
		{`{"a": "br}ace"}`, `{"a": "br}ace"}`, true},
		{`no object`, ``, false},
	}
	for _, tt := range tests {
		got, ok := extractJSONObject(tt.in)
		if ok != tt.ok || got != tt.want {
			t.Errorf("extractJSONObject(%q) = %q, %v; want %q, %v", tt.in, got, ok, tt.want, tt.ok)
		}
	}
}
