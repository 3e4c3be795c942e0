package protocol

import "time"

// AlertStatus is the monitoring state of an alert rule.
type AlertStatus string

const (
	AlertOK       AlertStatus = "ok"
	AlertSilenced AlertStatus = "silenced"
)

// Alert is a monitored alert rule known to the suppression service.
type Alert struct {
	ID            string      `json:"id"`
	Name          string      `json:"name"`
	Status        AlertStatus `json:"status"`
	SilencedFrom  *time.Time  `json:"silenced_from,omitempty"`
	SilencedUntil *time.Time  `json:"silenced_until,omitempty"`
}

// SilenceResult reports the outcome of a silence call. Silencing an
// unknown or already-silenced alert never errors; NotFound is the
// only failure signal.
type SilenceResult struct {
	Silenced bool       `json:"silenced"`
	NotFound bool       `json:"not_found"`
	From     *time.Time `json:"from,omitempty"`
	Until    *time.Time `json:"until,omitempty"`
}
