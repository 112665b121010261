package pipeline

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/lexfield/timeliner/internal/chunker"
	"github.com/lexfield/timeliner/internal/store"
	"github.com/lexfield/timeliner/internal/timeline"
)

// MaxErrorMessageLen bounds the error_message stored on a failed document.
const MaxErrorMessageLen = 500

// TextExtractor turns a raw document into a single text payload.
type TextExtractor interface {
	ExtractText(r io.Reader, filename string) (string, error)
}

// EventExtractor returns the structured events found in one chunk of text.
// Implementations must only return well-formed events: date populated
// ("unknown" when undetermined), party list non-nil, significance set.
type EventExtractor interface {
	ExtractEvents(ctx context.Context, chunkText string) ([]timeline.Event, error)
}

// DocumentStore is the record-store contract the pipeline consumes.
type DocumentStore interface {
	GetDocument(ctx context.Context, id string) (store.Document, error)
	ClaimPending(ctx context.Context, id string) (bool, error)
	SetStatus(ctx context.Context, id string, status store.Status, errMsg string) error
	CreateTimeline(ctx context.Context, documentID string, events []timeline.Event) error
}

// Worker runs the full pipeline for one document at a time: load and claim
// the record, extract text, chunk, extract events per chunk, merge, persist
// the timeline, and record the terminal status. All failures are expressed
// through the document's status; nothing propagates to the caller.
type Worker struct {
	docs      DocumentStore
	texts     TextExtractor
	events    EventExtractor
	log       *slog.Logger
	chunkSize int
	retry     retryPolicy

	maxConcurrentExtract int
}

func NewWorker(docs DocumentStore, texts TextExtractor, events EventExtractor, log *slog.Logger, chunkSize, maxExtract int) *Worker {
	if chunkSize <= 0 {
		chunkSize = chunker.DefaultChunkSize
	}
	if maxExtract <= 0 {
		maxExtract = 1
	}
	return &Worker{
		docs:                 docs,
		texts:                texts,
		events:               events,
		log:                  log,
		chunkSize:            chunkSize,
		retry:                defaultRetryPolicy(),
		maxConcurrentExtract: maxExtract,
	}
}

// Process drives one document through the pipeline. Invoking it for a
// document that is not pending is a no-op: that guard makes duplicate
// triggers for the same id safe under at-least-once delivery.
func (w *Worker) Process(ctx context.Context, docID string) {
	log := w.log.With("doc_id", docID)

	defer func() {
		if r := recover(); r != nil {
			log.Error("pipeline panic", "panic", r)
			w.fail(ctx, log, docID, fmt.Sprintf("internal error: %v", r))
		}
	}()

	doc, err := w.docs.GetDocument(ctx, docID)
	if err != nil {
		// Nobody can observe this invocation's outcome; log and move on.
		log.Error("document not found or unreadable", "error", err)
		return
	}
	if doc.Status != store.StatusPending {
		log.Info("document not pending; skipping", "status", doc.Status)
		return
	}

	// Record processing before any extraction work, so a status query
	// during the run reflects reality. The conditional update also turns a
	// concurrent duplicate trigger into a no-op for all but one entrant.
	claimed, err := w.docs.ClaimPending(ctx, docID)
	if err != nil {
		log.Error("claim failed", "error", err)
		return
	}
	if !claimed {
		log.Info("document claimed elsewhere; skipping")
		return
	}

	events, err := w.run(ctx, log, doc)
	if err != nil {
		w.fail(ctx, log, docID, err.Error())
		return
	}

	if err := w.docs.CreateTimeline(ctx, docID, events); err != nil {
		log.Error("timeline write failed", "error", err)
		w.fail(ctx, log, docID, "failed to save timeline")
		return
	}

	if err := w.docs.SetStatus(ctx, docID, store.StatusCompleted, ""); err != nil {
		// Timeline exists but the status write failed. Best effort: try to
		// surface the problem rather than leave the record stuck.
		log.Error("completed status write failed", "error", err)
		w.fail(ctx, log, docID, "failed to record completion")
		return
	}
	log.Info("document completed", "events", len(events))
}

// run executes the extraction phases and returns the merged, sorted events.
func (w *Worker) run(ctx context.Context, log *slog.Logger, doc store.Document) ([]timeline.Event, error) {
	f, err := os.Open(doc.FilePath)
	if err != nil {
		log.Error("open source file", "path", doc.FilePath, "error", err)
		return nil, fmt.Errorf("source file not found")
	}
	text, err := w.texts.ExtractText(f, doc.Filename)
	f.Close()
	if err != nil {
		log.Error("text extraction failed", "error", err)
		return nil, fmt.Errorf("text extraction failed: %v", err)
	}
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("no text extracted")
	}

	chunks := chunker.Split(text, w.chunkSize)
	log.Info("chunked document", "chunks", len(chunks), "chars", len(text))

	// Per-chunk extraction with bounded concurrency. Results are keyed by
	// chunk index, so concurrency cannot reorder the merge input. Any chunk
	// failure aborts the whole run (abort-all policy); transient backend
	// errors are retried first.
	perChunk := make([][]timeline.Event, len(chunks))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(w.maxConcurrentExtract)

	for i, chunk := range chunks {
		i, chunk := i, chunk
		g.Go(func() error {
			events, err := w.extractChunk(gctx, log, i, chunk)
			if err != nil {
				return fmt.Errorf("chunk %d: %w", i+1, err)
			}
			perChunk[i] = events
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		log.Error("extraction failed", "error", err)
		return nil, fmt.Errorf("event extraction failed: %v", err)
	}

	return timeline.MergeAndSort(perChunk), nil
}

// extractChunk calls the backend for one chunk, retrying transient errors.
func (w *Worker) extractChunk(ctx context.Context, log *slog.Logger, idx int, chunk string) ([]timeline.Event, error) {
	var events []timeline.Event
	var lastErr error
	for attempt := 0; attempt < w.retry.maxAttempts; attempt++ {
		events, lastErr = w.events.ExtractEvents(ctx, chunk)
		if lastErr == nil || !retryable(lastErr) {
			break
		}
		log.Warn("retryable extraction error", "chunk", idx, "attempt", attempt, "error", lastErr)
		select {
		case <-time.After(w.retry.delay(attempt)):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if lastErr != nil {
		return nil, lastErr
	}
	log.Debug("chunk extracted", "chunk", idx, "events", len(events))
	return events, nil
}

// fail records the failed status with a sanitized, bounded message. If even
// that write fails the document may remain stuck in processing; there is
// nothing left to write to, so the condition is only logged.
func (w *Worker) fail(ctx context.Context, log *slog.Logger, docID, msg string) {
	msg = sanitizeMessage(msg)
	if err := w.docs.SetStatus(ctx, docID, store.StatusFailed, msg); err != nil {
		log.Error("failed status write failed; document may be stuck in processing", "error", err)
		return
	}
	log.Info("document failed", "reason", msg)
}

// sanitizeMessage collapses the message onto one line and truncates it.
func sanitizeMessage(msg string) string {
	msg = strings.Join(strings.Fields(msg), " ")
	if len(msg) > MaxErrorMessageLen {
		msg = msg[:MaxErrorMessageLen]
	}
	return msg
}
