// Package alerts is the alert-suppression collaborator: an in-process
// registry of monitored alert rules with an idempotent silence
// operation. It stands in for the monitoring system's silencing API.
package alerts

import (
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/opsdesk-io/opsdesk/pkg/protocol"
)

// Service holds the monitored alerts and applies silences.
type Service struct {
	mu     sync.Mutex
	alerts map[string]*protocol.Alert // keyed by lowercase ID
	order  []string
	logger *slog.Logger
}

// DefaultAlerts is the seed set used when config provides none.
var DefaultAlerts = []protocol.Alert{
	{ID: "A-1", Name: "Real User Monitoring Alert", Status: protocol.AlertOK},
	{ID: "A-2", Name: "API Monitoring Alerts", Status: protocol.AlertOK},
	{ID: "A-3", Name: "User Flow Monitoring Alerts", Status: protocol.AlertOK},
	{ID: "A-4", Name: "Infrastructure Alerts", Status: protocol.AlertOK},
}

// NewService creates a service seeded with the given alerts.
func NewService(seed []protocol.Alert, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if len(seed) == 0 {
		seed = DefaultAlerts
	}
	s := &Service{
		alerts: make(map[string]*protocol.Alert, len(seed)),
		logger: logger,
	}
	for _, a := range seed {
		copy := a
		if copy.Status == "" {
			copy.Status = protocol.AlertOK
		}
		key := strings.ToLower(copy.ID)
		s.alerts[key] = &copy
		s.order = append(s.order, key)
	}
	return s
}

// List returns all alerts in seed order.
func (s *Service) List() []protocol.Alert {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]protocol.Alert, 0, len(s.order))
	for _, key := range s.order {
		out = append(out, *s.alerts[key])
	}
	return out
}

// Silence marks an alert silenced for the given window. The call is
// idempotent: silencing an already-silenced alert re-applies the
// window, and an unknown reference reports not-found without error.
func (s *Service) Silence(ref string, start, end *time.Time) protocol.SilenceResult {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.lookup(ref)
	if !ok {
		s.logger.Warn("alert not found to silence", "ref", ref)
		return protocol.SilenceResult{NotFound: true}
	}

	a.Status = protocol.AlertSilenced
	a.SilencedFrom = start
	a.SilencedUntil = end
	s.logger.Info("alert silenced", "alert", a.ID, "from", start, "until", end)
	return protocol.SilenceResult{Silenced: true, From: start, Until: end}
}

// lookup matches a user-supplied reference against known alert IDs.
// References arrive in whatever shape the user typed ("a-2", "A-2",
// bare "2"), so matching is case-insensitive with a prefixed retry.
func (s *Service) lookup(ref string) (*protocol.Alert, bool) {
	key := strings.ToLower(strings.TrimSpace(ref))
	if a, ok := s.alerts[key]; ok {
		return a, true
	}
	if a, ok := s.alerts["a-"+key]; ok {
		return a, true
	}
	return nil, false
}
