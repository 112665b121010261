package extract

import (
	"context"

	"github.com/lexfield/timeliner/internal/timeline"
)

// Mock is a deterministic stand-in for the extraction backend, used when no
// API key is configured. It lets the whole pipeline run end-to-end without
// credentials.
type Mock struct{}

func NewMock() *Mock {
	return &Mock{}
}

// ExtractEvents returns one fixed placeholder event per chunk.
func (m *Mock) ExtractEvents(ctx context.Context, chunkText string) ([]timeline.Event, error) {
	return []timeline.Event{
		{
			Date:            "2023-01-15",
			Description:     "Sample event extracted from document (mock).",
			InvolvedParties: []string{"Party A", "Party B"},
			Significance:    "Mock significance for testing.",
		},
	}, nil
}
