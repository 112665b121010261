package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lexfield/timeliner/internal/timeline"
)

// CreateTimeline persists the extraction result for a document. A timeline
// is written exactly once per successful pipeline run; a second insert for
// the same document id fails on the primary key.
func (s *Store) CreateTimeline(ctx context.Context, documentID string, events []timeline.Event) error {
	if events == nil {
		events = []timeline.Event{}
	}
	data, err := json.Marshal(events)
	if err != nil {
		return fmt.Errorf("marshal events: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO timelines (document_id, events, created_at) VALUES (?, ?, ?)`,
		documentID, string(data), time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("create timeline for %s: %w", documentID, err)
	}
	return nil
}

// GetTimeline returns the timeline for a document, or ErrNotFound.
func (s *Store) GetTimeline(ctx context.Context, documentID string) (timeline.Timeline, error) {
	var data string
	err := s.db.QueryRowContext(ctx,
		`SELECT events FROM timelines WHERE document_id = ?`, documentID).Scan(&data)
	if err == sql.ErrNoRows {
		return timeline.Timeline{}, ErrNotFound
	}
	if err != nil {
		return timeline.Timeline{}, fmt.Errorf("get timeline for %s: %w", documentID, err)
	}

	var events []timeline.Event
	if err := json.Unmarshal([]byte(data), &events); err != nil {
		return timeline.Timeline{}, fmt.Errorf("decode timeline for %s: %w", documentID, err)
	}
	return timeline.Timeline{DocumentID: documentID, Events: events}, nil
}

// HasTimeline reports whether a timeline row exists for the document.
func (s *Store) HasTimeline(ctx context.Context, documentID string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx,
		`SELECT 1 FROM timelines WHERE document_id = ?`, documentID).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}
