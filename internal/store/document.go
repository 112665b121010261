package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// Status is the lifecycle state of a document in the pipeline.
type Status string

const (
	StatusPending    Status = "pending"    // Uploaded, not yet picked up by a worker.
	StatusProcessing Status = "processing" // A worker is extracting text / calling the backend.
	StatusCompleted  Status = "completed"  // Timeline saved successfully.
	StatusFailed     Status = "failed"     // Error during processing; error_message is set.
)

// Terminal reports whether no further transitions are expected.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Document is one uploaded item tracked through the pipeline.
// ErrorMessage is non-empty if and only if Status is failed.
type Document struct {
	ID           string    `json:"id"`
	UserID       string    `json:"-"`
	Filename     string    `json:"filename"`
	FilePath     string    `json:"-"`
	Status       Status    `json:"status"`
	ErrorMessage string    `json:"error_message,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// CreateDocument inserts a new document record.
func (s *Store) CreateDocument(ctx context.Context, doc Document) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO documents (id, user_id, filename, file_path, status, error_message, created_at)
		 VALUES (?, ?, ?, ?, ?, NULL, ?)`,
		doc.ID, doc.UserID, doc.Filename, doc.FilePath, string(doc.Status),
		doc.CreatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("create document %s: %w", doc.ID, err)
	}
	return nil
}

// GetDocument returns the document with the given id, or ErrNotFound.
func (s *Store) GetDocument(ctx context.Context, id string) (Document, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, user_id, filename, file_path, status, error_message, created_at
		 FROM documents WHERE id = ?`, id)
	return scanDocument(row)
}

// ListDocuments returns all documents owned by userID, newest first.
func (s *Store) ListDocuments(ctx context.Context, userID string) ([]Document, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, filename, file_path, status, error_message, created_at
		 FROM documents WHERE user_id = ? ORDER BY created_at DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	defer rows.Close()

	var docs []Document
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}

// ClaimPending atomically moves a document from pending to processing.
// It returns false if the document is missing or in any other state, which
// makes duplicate pipeline triggers for the same id a safe no-op.
func (s *Store) ClaimPending(ctx context.Context, id string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE documents SET status = ?, error_message = NULL
		 WHERE id = ? AND status = ?`,
		string(StatusProcessing), id, string(StatusPending))
	if err != nil {
		return false, fmt.Errorf("claim document %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// SetStatus records a document's status. errMsg is persisted only for
// failed status; for every other status error_message is cleared.
func (s *Store) SetStatus(ctx context.Context, id string, status Status, errMsg string) error {
	var msg sql.NullString
	if status == StatusFailed && errMsg != "" {
		msg = sql.NullString{String: errMsg, Valid: true}
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE documents SET status = ?, error_message = ? WHERE id = ?`,
		string(status), msg, id)
	if err != nil {
		return fmt.Errorf("set status %s on %s: %w", status, id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// ResetToPending moves a terminal document back to pending so it can be
// resubmitted, dropping any previous timeline so the next run can write a
// fresh one. Returns false if the document is not in a terminal state.
func (s *Store) ResetToPending(ctx context.Context, id string) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("reset document %s: %w", id, err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`UPDATE documents SET status = ?, error_message = NULL
		 WHERE id = ? AND status IN (?, ?)`,
		string(StatusPending), id, string(StatusCompleted), string(StatusFailed))
	if err != nil {
		return false, fmt.Errorf("reset document %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if n != 1 {
		return false, nil
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM timelines WHERE document_id = ?`, id); err != nil {
		return false, fmt.Errorf("reset document %s: %w", id, err)
	}
	return true, tx.Commit()
}

// DeleteDocument removes a document and, via the foreign key cascade, its
// timeline. Returns ErrNotFound if no such document exists.
func (s *Store) DeleteDocument(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM documents WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete document %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDocument(row rowScanner) (Document, error) {
	var doc Document
	var status, createdAt string
	var errMsg sql.NullString
	err := row.Scan(&doc.ID, &doc.UserID, &doc.Filename, &doc.FilePath, &status, &errMsg, &createdAt)
	if err == sql.ErrNoRows {
		return Document{}, ErrNotFound
	}
	if err != nil {
		return Document{}, fmt.Errorf("scan document: %w", err)
	}
	doc.Status = Status(status)
	doc.ErrorMessage = errMsg.String
	if t, err := time.Parse(time.RFC3339Nano, createdAt); err == nil {
		doc.CreatedAt = t
	}
	return doc, nil
}
