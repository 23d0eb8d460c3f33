// Package insight maintains a cumulative live analysis of an in-progress
// meeting, refined on every pass rather than recomputed.
package insight

import "strings"

// ActionItem is one task surfaced from the conversation.
type ActionItem struct {
	Text     string `json:"text"`
	Assignee string `json:"assignee,omitempty"`
}

// State is the cumulative analysis. List fields only ever grow; scalar
// fields track the latest assessment.
type State struct {
	MeetingType        string       `json:"meeting_type,omitempty"`
	Confidence         float64      `json:"confidence,omitempty"`
	Topic              string       `json:"topic,omitempty"`
	Sentiment          string       `json:"sentiment,omitempty"`
	KeyPoints          []string     `json:"key_points"`
	ActionItems        []ActionItem `json:"action_items"`
	Decisions          []string     `json:"decisions"`
	SuggestedQuestions []string     `json:"suggested_questions"`
}

// Merge folds an update into the previous state. Scalars overwrite when the
// update provides them; lists union, keyed by normalized text, so nothing
// already surfaced is ever lost.
func Merge(prev, update State) State {
	out := prev

	if update.MeetingType != "" {
		out.MeetingType = update.MeetingType
	}
	if update.Confidence > 0 {
		out.Confidence = update.Confidence
	}
	if update.Topic != "" {
		out.Topic = update.Topic
	}
	if update.Sentiment != "" {
		out.Sentiment = update.Sentiment
	}

	out.KeyPoints = unionStrings(prev.KeyPoints, update.KeyPoints)
	out.Decisions = unionStrings(prev.Decisions, update.Decisions)
	out.SuggestedQuestions = unionStrings(prev.SuggestedQuestions, update.SuggestedQuestions)
	out.ActionItems = unionActionItems(prev.ActionItems, update.ActionItems)

	return out
}

func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

func unionStrings(prev, update []string) []string {
	out := append([]string(nil), prev...)
	seen := make(map[string]struct{}, len(prev))
	for _, s := range prev {
		seen[normalize(s)] = struct{}{}
	}
	for _, s := range update {
		key := normalize(s)
		if key == "" {
			continue
		}
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, strings.TrimSpace(s))
	}
	return out
}

func unionActionItems(prev, update []ActionItem) []ActionItem {
	out := append([]ActionItem(nil), prev...)
	seen := make(map[string]struct{}, len(prev))
	for _, it := range prev {
		seen[normalize(it.Text)] = struct{}{}
	}
	for _, it := range update {
		key := normalize(it.Text)
		if key == "" {
			continue
		}
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		it.Text = strings.TrimSpace(it.Text)
		out = append(out, it)
	}
	return out
}

// fromObject pulls a State out of a decoded model response, tolerating
// missing or oddly typed fields.
func fromObject(obj map[string]any) State {
	var s State
	s.MeetingType, _ = obj["meeting_type"].(string)
	s.Topic, _ = obj["topic"].(string)
	s.Sentiment, _ = obj["sentiment"].(string)
	if c, ok := obj["confidence"].(float64); ok {
		s.Confidence = c
	}
	s.KeyPoints = stringList(obj["key_points"])
	s.Decisions = stringList(obj["decisions"])
	s.SuggestedQuestions = stringList(obj["suggested_questions"])

	if items, ok := obj["action_items"].([]any); ok {
		for _, raw := range items {
			switch v := raw.(type) {
			case string:
				s.ActionItems = append(s.ActionItems, ActionItem{Text: v})
			case map[string]any:
				text, _ := v["text"].(string)
				assignee, _ := v["assignee"].(string)
				if text != "" {
					s.ActionItems = append(s.ActionItems, ActionItem{Text: text, Assignee: assignee})
				}
			}
		}
	}
	return s
}

func stringList(v any) []string {
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
