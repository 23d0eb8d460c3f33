// Package history persists finished meeting summaries.
package history

import "time"

// DiarizedSegment is one speaker-attributed span of the final transcript.
type DiarizedSegment struct {
	Speaker   string `json:"speaker"`
	Timestamp string `json:"timestamp"`
	Text      string `json:"text"`
}

// SummarySection is one titled portion of the long-form summary.
type SummarySection struct {
	Header      string `json:"header"`
	Content     string `json:"content"`
	Quote       string `json:"quote,omitempty"`
	Attribution string `json:"attribution,omitempty"`
}

// Task is an action item extracted at finalization.
type Task struct {
	Description string `json:"description"`
	Assignee    string `json:"assignee,omitempty"`
	DueDate     string `json:"due_date,omitempty"`
}

// SpeakerInfo summarizes who spoke.
type SpeakerInfo struct {
	Count int      `json:"count"`
	List  []string `json:"list"`
}

// Record is one finished meeting. ErrorSummary is set instead of the
// structured fields when the summary had to be salvaged from raw model
// output.
type Record struct {
	ID                  string            `json:"id"`
	Title               string            `json:"title"`
	ExecutiveSummary    string            `json:"executive_summary,omitempty"`
	SpeakerInfo         SpeakerInfo       `json:"speaker_info"`
	DiarizedTranscript  []DiarizedSegment `json:"diarized_transcript,omitempty"`
	DiarizedText        string            `json:"diarized_text,omitempty"`
	Highlights          []string          `json:"highlights,omitempty"`
	FullSummarySections []SummarySection  `json:"full_summary_sections,omitempty"`
	Tasks               []Task            `json:"tasks,omitempty"`
	Transcript          string            `json:"transcript,omitempty"`
	ErrorSummary        string            `json:"error_summary,omitempty"`
	StartTime           string            `json:"start_time,omitempty"`
	EndTime             string            `json:"end_time,omitempty"`
	Duration            string            `json:"duration,omitempty"`
	Timestamp           time.Time         `json:"timestamp"`
}
