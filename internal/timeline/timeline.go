package timeline

import "sort"

// DateUnknown is the sentinel stored when the backend could not determine a
// date for an event. It sorts after every ISO-8601 date under plain string
// comparison, which is what the merge relies on.
const DateUnknown = "unknown"

// Event is a single dated fact extracted from a document chunk.
// Events are value objects; their only identity is position in a timeline.
type Event struct {
	Date            string   `json:"date"`
	Description     string   `json:"description"`
	InvolvedParties []string `json:"involved_parties"`
	Significance    string   `json:"significance"`
}

// Timeline is the ordered extraction result for one document.
type Timeline struct {
	DocumentID string  `json:"document_id"`
	Events     []Event `json:"events"`
}

// MergeAndSort flattens per-chunk event lists (in chunk order) and sorts the
// result by date using plain string comparison. The sort is stable, so events
// with equal date strings keep their chunk-then-position order. Comparison is
// deliberately lexicographic, not calendar-aware: ISO-8601 dates order
// correctly and the "unknown" sentinel lands at the end.
func MergeAndSort(perChunk [][]Event) []Event {
	merged := make([]Event, 0)
	for _, events := range perChunk {
		merged = append(merged, events...)
	}
	sort.SliceStable(merged, func(i, j int) bool {
		return merged[i].Date < merged[j].Date
	})
	return merged
}
