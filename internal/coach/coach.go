// Package coach watches a live meeting against its agenda and time budget
// and raises advisory alerts.
package coach

import "time"

// AlertType names what a coach alert is about.
type AlertType string

const (
	AlertOffTopic         AlertType = "off_topic"
	AlertAgendaCovered    AlertType = "agenda_covered"
	AlertAgendaMissing    AlertType = "agenda_missing"
	AlertSuggestion       AlertType = "suggestion"
	AlertContextReference AlertType = "context_reference"
	AlertTimeWarning      AlertType = "time_warning"
)

// Severity grades how urgently an alert should be surfaced.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Alert is one piece of advice raised during the meeting. IDs are
// lexically sortable, so clients can order alerts without timestamps.
type Alert struct {
	ID         string        `json:"id"`
	Elapsed    time.Duration `json:"elapsed"`
	Type       AlertType     `json:"type"`
	Severity   Severity      `json:"severity"`
	Message    string        `json:"message"`
	AgendaItem string        `json:"agenda_item,omitempty"`
}

// AgendaItem tracks whether a planned topic has come up yet. Coverage is
// one-way: once covered, an item never reverts.
type AgendaItem struct {
	Text           string        `json:"text"`
	Covered        bool          `json:"covered"`
	FirstMentioned time.Duration `json:"first_mentioned,omitempty"`
}

// Time-budget thresholds, as fractions of the expected duration. Each
// fires at most once per session.
var timeThresholds = []struct {
	Ratio    float64
	Severity Severity
	Label    string
}{
	{0.75, SeverityInfo, "75%"},
	{0.90, SeverityWarning, "90%"},
	{1.00, SeverityCritical, "100%"},
}
