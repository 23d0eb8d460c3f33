package session

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/bbrew/core/internal/audio"
	apperrors "github.com/bbrew/core/internal/errors"
	"github.com/bbrew/core/internal/history"
	"github.com/bbrew/core/internal/llm"
	"github.com/bbrew/core/internal/resilience"
	"github.com/bbrew/core/internal/stt"
	"github.com/bbrew/core/internal/trace"
)

// minFinalBytes guards against summarizing a recording too short to hold
// any speech.
const minFinalBytes = 4096

// finalize turns the finished recording into a meeting record. Audio and
// transcription failures abort; model failures degrade into a record that
// still carries the transcript.
func (m *Manager) finalize(ctx context.Context, sess *active) (*history.Record, error) {
	ctx, span := trace.StartSpan(ctx, "finalize")
	defer span.End()
	log := trace.Logger(ctx)

	defer func() {
		if _, err := os.Stat(sess.partPath); err == nil {
			_ = os.Remove(sess.partPath)
		}
	}()

	// The capture promotes on its own; handle the crash-shaped case where
	// only the provisional file survived.
	if _, err := os.Stat(sess.finalPath); err != nil {
		if _, perr := os.Stat(sess.partPath); perr == nil {
			if err := audio.Promote(sess.partPath, sess.finalPath); err != nil {
				return nil, err
			}
		} else {
			return nil, apperrors.New(apperrors.CodeNoAudioFile, "no recording produced")
		}
	}

	info, err := os.Stat(sess.finalPath)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeNoAudioFile, "recording unreadable")
	}
	if info.Size() < minFinalBytes {
		_ = os.Remove(sess.finalPath)
		return nil, apperrors.New(apperrors.CodeCaptureTooShort, "recording too short to analyze")
	}

	var res *stt.Result
	err = resilience.Retry(ctx, resilience.DefaultRetryConfig(), func() error {
		var terr error
		res, terr = m.stt.Transcribe(ctx, sess.finalPath)
		return terr
	})
	if err != nil {
		return nil, err
	}

	transcript := formatTranscript(res)
	endedAt := time.Now()

	rec := &history.Record{
		ID:         sess.id,
		Transcript: transcript,
		StartTime:  sess.startedAt.Format("3:04 PM"),
		EndTime:    endedAt.Format("3:04 PM"),
		Duration:   formatDuration(endedAt.Sub(sess.startedAt)),
		Timestamp:  endedAt,
	}

	span.SetAttr("transcript_chars", len(transcript))
	result, genErr := m.gen.GenerateJSON(ctx, llm.Request{Prompt: summaryPrompt(transcript)})
	switch {
	case genErr == nil:
		fillRecord(rec, result.Object)
	case apperrors.IsCode(genErr, apperrors.CodeMalformedResponse) && result != nil:
		// Salvage what the model wrote instead of losing the meeting.
		log.Warn("summary response malformed, keeping raw text", "error", genErr)
		rec.ErrorSummary = result.Raw
	default:
		log.Error("summary generation failed", "error", genErr)
		rec.ErrorSummary = apperrors.UserMessage(genErr)
	}

	if rec.Title == "" {
		rec.Title = "Meeting " + sess.startedAt.Format("Jan 2, 2006 3:04 PM")
	}
	return rec, nil
}

// formatTranscript renders per-segment timestamps as "[mm:ss-mm:ss] text"
// lines; the summary model attributes speakers from these.
func formatTranscript(res *stt.Result) string {
	if len(res.Segments) == 0 {
		return strings.TrimSpace(res.Text)
	}
	var b strings.Builder
	for _, seg := range res.Segments {
		text := strings.TrimSpace(seg.Text)
		if text == "" {
			continue
		}
		fmt.Fprintf(&b, "[%s-%s] %s\n", formatClock(seg.Start), formatClock(seg.End), text)
	}
	return strings.TrimSpace(b.String())
}

func formatClock(seconds float64) string {
	total := int(seconds)
	return fmt.Sprintf("%02d:%02d", total/60, total%60)
}

func formatDuration(d time.Duration) string {
	d = d.Round(time.Second)
	m := int(d.Minutes())
	s := int(d.Seconds()) % 60
	return fmt.Sprintf("%dm%ds", m, s)
}

func summaryPrompt(transcript string) string {
	return fmt.Sprintf(`Here is a meeting transcript with [mm:ss-mm:ss] timestamps:

%s

Produce a complete meeting summary as a JSON object with these keys:
- "title": short descriptive meeting title
- "executive_summary": 2-3 sentence overview
- "speaker_info": {"count": number of distinct speakers, "list": ["Speaker 1", ...]} inferred from the conversation
- "diarized_transcript": array of {"speaker","timestamp","text"} attributing each timestamped line to a speaker
- "diarized_text": the whole conversation as plain "Speaker: text" lines
- "highlights": array of the most important quotes or moments
- "full_summary_sections": array of {"header","content","quote","attribution"} covering the meeting in order
- "tasks": array of {"description","assignee","due_date"} for every commitment made`, transcript)
}

// fillRecord copies the model's summary fields into the record, tolerating
// missing or oddly typed values.
func fillRecord(rec *history.Record, obj map[string]any) {
	rec.Title, _ = obj["title"].(string)
	rec.ExecutiveSummary, _ = obj["executive_summary"].(string)

	if si, ok := obj["speaker_info"].(map[string]any); ok {
		if c, ok := si["count"].(float64); ok {
			rec.SpeakerInfo.Count = int(c)
		}
		rec.SpeakerInfo.List = toStrings(si["list"])
	}

	rec.Highlights = toStrings(obj["highlights"])

	for _, raw := range toMaps(obj["diarized_transcript"]) {
		seg := history.DiarizedSegment{}
		seg.Speaker, _ = raw["speaker"].(string)
		seg.Timestamp, _ = raw["timestamp"].(string)
		seg.Text, _ = raw["text"].(string)
		if seg.Text != "" {
			rec.DiarizedTranscript = append(rec.DiarizedTranscript, seg)
		}
	}

	rec.DiarizedText, _ = obj["diarized_text"].(string)
	if rec.DiarizedText == "" && len(rec.DiarizedTranscript) > 0 {
		var b strings.Builder
		for _, seg := range rec.DiarizedTranscript {
			fmt.Fprintf(&b, "%s: %s\n", seg.Speaker, seg.Text)
		}
		rec.DiarizedText = strings.TrimSpace(b.String())
	}

	for _, raw := range toMaps(obj["full_summary_sections"]) {
		sec := history.SummarySection{}
		sec.Header, _ = raw["header"].(string)
		sec.Content, _ = raw["content"].(string)
		sec.Quote, _ = raw["quote"].(string)
		sec.Attribution, _ = raw["attribution"].(string)
		if sec.Header != "" || sec.Content != "" {
			rec.FullSummarySections = append(rec.FullSummarySections, sec)
		}
	}

	for _, raw := range toMaps(obj["tasks"]) {
		task := history.Task{}
		task.Description, _ = raw["description"].(string)
		task.Assignee, _ = raw["assignee"].(string)
		task.DueDate, _ = raw["due_date"].(string)
		if task.Description != "" {
			rec.Tasks = append(rec.Tasks, task)
		}
	}
}

func toStrings(v any) []string {
	items, ok := v.([]any)
	if !ok {
		return nil
	}
	var out []string
	for _, it := range items {
		if s, ok := it.(string); ok && strings.TrimSpace(s) != "" {
			out = append(out, s)
		}
	}
	return out
}

func toMaps(v any) []map[string]any {
	items, ok := v.([]any)
	if !ok {
		return nil
	}
	var out []map[string]any
	for _, it := range items {
		if m, ok := it.(map[string]any); ok {
			out = append(out, m)
		}
	}
	return out
}
