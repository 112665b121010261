package extract

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/lexfield/timeliner/internal/timeline"
)

// rawEvent mirrors the backend's JSON with loose types, so one malformed
// field doesn't sink the whole array.
type rawEvent struct {
	Date            any   `json:"date"`
	Description     any   `json:"description"`
	InvolvedParties []any `json:"involved_parties"`
	Significance    any   `json:"significance"`
}

// ParseEvents turns the backend's raw text output into well-formed events.
// It strips markdown code fences, requires a JSON array at the top level,
// and coerces each entry to the Event contract: date defaults to "unknown",
// the party list defaults to empty, significance defaults to "". Entries
// that are not JSON objects are dropped.
func ParseEvents(raw string) ([]timeline.Event, error) {
	text := stripCodeBlock(raw)

	var items []json.RawMessage
	if err := json.Unmarshal([]byte(text), &items); err != nil {
		return nil, fmt.Errorf("not a json array: %w", err)
	}

	events := make([]timeline.Event, 0, len(items))
	for _, item := range items {
		var re rawEvent
		if err := json.Unmarshal(item, &re); err != nil {
			continue
		}
		events = append(events, coerceEvent(re))
	}
	return events, nil
}

func coerceEvent(re rawEvent) timeline.Event {
	ev := timeline.Event{
		Date:            asString(re.Date),
		Description:     asString(re.Description),
		Significance:    asString(re.Significance),
		InvolvedParties: []string{},
	}
	if ev.Date == "" {
		ev.Date = timeline.DateUnknown
	}
	for _, p := range re.InvolvedParties {
		if s := asString(p); s != "" {
			ev.InvolvedParties = append(ev.InvolvedParties, s)
		}
	}
	return ev
}

func asString(v any) string {
	switch s := v.(type) {
	case string:
		return strings.TrimSpace(s)
	case nil:
		return ""
	default:
		return strings.TrimSpace(fmt.Sprint(v))
	}
}

var codeBlockRe = regexp.MustCompile("(?s)^```(?:json)?\\s*(.*?)\\s*```$")

func stripCodeBlock(s string) string {
	s = strings.TrimSpace(s)
	if m := codeBlockRe.FindStringSubmatch(s); len(m) > 1 {
		return m[1]
	}
	return s
}
