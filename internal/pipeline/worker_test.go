package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/lexfield/timeliner/internal/config"
	"github.com/lexfield/timeliner/internal/extract"
	"github.com/lexfield/timeliner/internal/store"
	"github.com/lexfield/timeliner/internal/timeline"
)

type stubTexts struct {
	text string
	err  error
}

func (s stubTexts) ExtractText(r io.Reader, filename string) (string, error) {
	io.Copy(io.Discard, r)
	return s.text, s.err
}

type stubEvents struct {
	fn    func(chunk string) ([]timeline.Event, error)
	calls atomic.Int64
}

func (s *stubEvents) ExtractEvents(ctx context.Context, chunk string) ([]timeline.Event, error) {
	s.calls.Add(1)
	return s.fn(chunk)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func openTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(context.Background(), filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// seedDoc writes a source file and a pending document record for it.
func seedDoc(t *testing.T, st *store.Store, id string) store.Document {
	t.Helper()
	path := filepath.Join(t.TempDir(), id+".txt")
	if err := os.WriteFile(path, []byte("raw bytes; the stub ignores them"), 0o644); err != nil {
		t.Fatalf("write source file: %v", err)
	}
	doc := store.Document{
		ID:        id,
		UserID:    "user1",
		Filename:  id + ".txt",
		FilePath:  path,
		Status:    store.StatusPending,
		CreatedAt: time.Now(),
	}
	if err := st.CreateDocument(context.Background(), doc); err != nil {
		t.Fatalf("create document: %v", err)
	}
	return doc
}

// threeChunkText is 26,000 chars that split at size 10,000 into exactly three
// chunks, each made of a single repeated word.
func threeChunkText() string {
	return strings.Repeat("one ", 2500) + strings.Repeat("two ", 2500) + strings.Repeat("three ", 1000)
}

func TestProcess_CompletedWithSortedTimeline(t *testing.T) {
	st := openTestStore(t)
	doc := seedDoc(t, st, "doc1")

	events := &stubEvents{fn: func(chunk string) ([]timeline.Event, error) {
		switch {
		case strings.HasPrefix(chunk, "one"):
			return []timeline.Event{
				{Date: timeline.DateUnknown, Description: "undated mention", InvolvedParties: []string{}},
				{Date: "2024-01-01", Description: "first", InvolvedParties: []string{"A"}},
			}, nil
		case strings.HasPrefix(chunk, "two"):
			return []timeline.Event{{Date: "2024-02-01", Description: "second", InvolvedParties: []string{"B"}}}, nil
		case strings.HasPrefix(chunk, "three"):
			return []timeline.Event{{Date: "2024-03-01", Description: "third", InvolvedParties: []string{"C"}}}, nil
		}
		return nil, fmt.Errorf("unexpected chunk: %.20q", chunk)
	}}

	w := NewWorker(st, stubTexts{text: threeChunkText()}, events, testLogger(), 10_000, 3)
	w.Process(context.Background(), doc.ID)

	got, err := st.GetDocument(context.Background(), doc.ID)
	if err != nil {
		t.Fatalf("get document: %v", err)
	}
	if got.Status != store.StatusCompleted {
		t.Fatalf("expected completed, got %s (%q)", got.Status, got.ErrorMessage)
	}
	if events.calls.Load() != 3 {
		t.Errorf("expected 3 extraction calls, got %d", events.calls.Load())
	}

	tl, err := st.GetTimeline(context.Background(), doc.ID)
	if err != nil {
		t.Fatalf("get timeline: %v", err)
	}
	wantDates := []string{"2024-01-01", "2024-02-01", "2024-03-01", timeline.DateUnknown}
	if len(tl.Events) != len(wantDates) {
		t.Fatalf("expected %d events, got %d", len(wantDates), len(tl.Events))
	}
	for i, want := range wantDates {
		if tl.Events[i].Date != want {
			t.Errorf("event %d: expected date %s, got %s", i, want, tl.Events[i].Date)
		}
	}
}

func TestProcess_EmptyTextFails(t *testing.T) {
	st := openTestStore(t)
	doc := seedDoc(t, st, "doc1")

	events := &stubEvents{fn: func(string) ([]timeline.Event, error) { return nil, nil }}
	w := NewWorker(st, stubTexts{text: "  \n\t "}, events, testLogger(), 10_000, 1)
	w.Process(context.Background(), doc.ID)

	got, _ := st.GetDocument(context.Background(), doc.ID)
	if got.Status != store.StatusFailed {
		t.Fatalf("expected failed, got %s", got.Status)
	}
	if got.ErrorMessage != "no text extracted" {
		t.Errorf("unexpected error message: %q", got.ErrorMessage)
	}
	if events.calls.Load() != 0 {
		t.Errorf("extractor should not run, got %d calls", events.calls.Load())
	}
	if ok, _ := st.HasTimeline(context.Background(), doc.ID); ok {
		t.Error("failed document must not have a timeline")
	}
}

func TestProcess_TextExtractionErrorFails(t *testing.T) {
	st := openTestStore(t)
	doc := seedDoc(t, st, "doc1")

	events := &stubEvents{fn: func(string) ([]timeline.Event, error) { return nil, nil }}
	w := NewWorker(st, stubTexts{err: errors.New("corrupt container")}, events, testLogger(), 10_000, 1)
	w.Process(context.Background(), doc.ID)

	got, _ := st.GetDocument(context.Background(), doc.ID)
	if got.Status != store.StatusFailed {
		t.Fatalf("expected failed, got %s", got.Status)
	}
	if !strings.Contains(got.ErrorMessage, "text extraction failed") {
		t.Errorf("unexpected error message: %q", got.ErrorMessage)
	}
}

func TestProcess_MissingFileFails(t *testing.T) {
	st := openTestStore(t)
	doc := store.Document{
		ID:        "doc1",
		UserID:    "user1",
		Filename:  "gone.txt",
		FilePath:  filepath.Join(t.TempDir(), "gone.txt"),
		Status:    store.StatusPending,
		CreatedAt: time.Now(),
	}
	if err := st.CreateDocument(context.Background(), doc); err != nil {
		t.Fatalf("create document: %v", err)
	}

	events := &stubEvents{fn: func(string) ([]timeline.Event, error) { return nil, nil }}
	w := NewWorker(st, stubTexts{text: "ignored"}, events, testLogger(), 10_000, 1)
	w.Process(context.Background(), doc.ID)

	got, _ := st.GetDocument(context.Background(), doc.ID)
	if got.Status != store.StatusFailed || got.ErrorMessage != "source file not found" {
		t.Errorf("got %s / %q", got.Status, got.ErrorMessage)
	}
}

func TestProcess_NonPendingIsNoOp(t *testing.T) {
	st := openTestStore(t)
	doc := seedDoc(t, st, "doc1")
	if err := st.SetStatus(context.Background(), doc.ID, store.StatusCompleted, ""); err != nil {
		t.Fatalf("set status: %v", err)
	}
	if err := st.CreateTimeline(context.Background(), doc.ID, []timeline.Event{{Date: "2020-01-01"}}); err != nil {
		t.Fatalf("create timeline: %v", err)
	}

	events := &stubEvents{fn: func(string) ([]timeline.Event, error) {
		return []timeline.Event{{Date: "2025-01-01"}}, nil
	}}
	w := NewWorker(st, stubTexts{text: "some text"}, events, testLogger(), 10_000, 1)
	w.Process(context.Background(), doc.ID)

	if events.calls.Load() != 0 {
		t.Errorf("extractor should not run for a completed document, got %d calls", events.calls.Load())
	}
	got, _ := st.GetDocument(context.Background(), doc.ID)
	if got.Status != store.StatusCompleted {
		t.Errorf("status changed to %s", got.Status)
	}
	tl, err := st.GetTimeline(context.Background(), doc.ID)
	if err != nil {
		t.Fatalf("get timeline: %v", err)
	}
	if len(tl.Events) != 1 || tl.Events[0].Date != "2020-01-01" {
		t.Errorf("timeline overwritten: %+v", tl.Events)
	}
}

func TestProcess_MissingDocumentIsNoOp(t *testing.T) {
	st := openTestStore(t)
	events := &stubEvents{fn: func(string) ([]timeline.Event, error) { return nil, nil }}
	w := NewWorker(st, stubTexts{text: "text"}, events, testLogger(), 10_000, 1)

	// Must not panic or create records.
	w.Process(context.Background(), "no-such-doc")
	if events.calls.Load() != 0 {
		t.Errorf("extractor ran for a missing document")
	}
}

func TestProcess_ChunkFailureAbortsDocument(t *testing.T) {
	st := openTestStore(t)
	doc := seedDoc(t, st, "doc1")

	events := &stubEvents{fn: func(chunk string) ([]timeline.Event, error) {
		if strings.HasPrefix(chunk, "two") {
			return nil, errors.New("backend rejected chunk")
		}
		return []timeline.Event{{Date: "2024-01-01", Description: "ok", InvolvedParties: []string{}}}, nil
	}}
	w := NewWorker(st, stubTexts{text: threeChunkText()}, events, testLogger(), 10_000, 3)
	w.Process(context.Background(), doc.ID)

	got, _ := st.GetDocument(context.Background(), doc.ID)
	if got.Status != store.StatusFailed {
		t.Fatalf("expected failed, got %s", got.Status)
	}
	if !strings.Contains(got.ErrorMessage, "event extraction failed") {
		t.Errorf("unexpected error message: %q", got.ErrorMessage)
	}
	if ok, _ := st.HasTimeline(context.Background(), doc.ID); ok {
		t.Error("no timeline may be written when any chunk fails")
	}
}

func TestProcess_RetryableErrorIsRetried(t *testing.T) {
	st := openTestStore(t)
	doc := seedDoc(t, st, "doc1")

	var attempts atomic.Int64
	events := &stubEvents{fn: func(string) ([]timeline.Event, error) {
		if attempts.Add(1) == 1 {
			return nil, &extract.RetryableError{StatusCode: 429, Message: "rate limited"}
		}
		return []timeline.Event{{Date: "2024-05-01", Description: "ok", InvolvedParties: []string{}}}, nil
	}}
	w := NewWorker(st, stubTexts{text: "short document"}, events, testLogger(), 10_000, 1)
	w.retry = retryPolicy{maxAttempts: 3, baseDelay: time.Millisecond, maxDelay: 5 * time.Millisecond}
	w.Process(context.Background(), doc.ID)

	got, _ := st.GetDocument(context.Background(), doc.ID)
	if got.Status != store.StatusCompleted {
		t.Fatalf("expected completed after retry, got %s (%q)", got.Status, got.ErrorMessage)
	}
	if attempts.Load() != 2 {
		t.Errorf("expected 2 attempts, got %d", attempts.Load())
	}
}

func TestProcess_RetriesExhaustedFails(t *testing.T) {
	st := openTestStore(t)
	doc := seedDoc(t, st, "doc1")

	events := &stubEvents{fn: func(string) ([]timeline.Event, error) {
		return nil, &extract.RetryableError{StatusCode: 503, Message: "overloaded"}
	}}
	w := NewWorker(st, stubTexts{text: "short document"}, events, testLogger(), 10_000, 1)
	w.retry = retryPolicy{maxAttempts: 2, baseDelay: time.Millisecond, maxDelay: 5 * time.Millisecond}
	w.Process(context.Background(), doc.ID)

	got, _ := st.GetDocument(context.Background(), doc.ID)
	if got.Status != store.StatusFailed {
		t.Fatalf("expected failed, got %s", got.Status)
	}
	if events.calls.Load() != 2 {
		t.Errorf("expected 2 attempts, got %d", events.calls.Load())
	}
}

func TestProcess_NonRetryableErrorNotRetried(t *testing.T) {
	st := openTestStore(t)
	doc := seedDoc(t, st, "doc1")

	events := &stubEvents{fn: func(string) ([]timeline.Event, error) {
		return nil, errors.New("bad request")
	}}
	w := NewWorker(st, stubTexts{text: "short document"}, events, testLogger(), 10_000, 1)
	w.Process(context.Background(), doc.ID)

	got, _ := st.GetDocument(context.Background(), doc.ID)
	if got.Status != store.StatusFailed {
		t.Fatalf("expected failed, got %s", got.Status)
	}
	if events.calls.Load() != 1 {
		t.Errorf("expected a single attempt, got %d", events.calls.Load())
	}
}

func TestProcess_ErrorMessageSanitizedAndBounded(t *testing.T) {
	st := openTestStore(t)
	doc := seedDoc(t, st, "doc1")

	long := strings.Repeat("stack\nframe\tdetail ", 100)
	events := &stubEvents{fn: func(string) ([]timeline.Event, error) { return nil, nil }}
	w := NewWorker(st, stubTexts{err: errors.New(long)}, events, testLogger(), 10_000, 1)
	w.Process(context.Background(), doc.ID)

	got, _ := st.GetDocument(context.Background(), doc.ID)
	if got.Status != store.StatusFailed {
		t.Fatalf("expected failed, got %s", got.Status)
	}
	if len(got.ErrorMessage) > MaxErrorMessageLen {
		t.Errorf("error message too long: %d", len(got.ErrorMessage))
	}
	if strings.ContainsAny(got.ErrorMessage, "\n\t") {
		t.Errorf("error message not collapsed to one line: %q", got.ErrorMessage)
	}
}

func TestProcess_EmptyEventListCompletes(t *testing.T) {
	st := openTestStore(t)
	doc := seedDoc(t, st, "doc1")

	events := &stubEvents{fn: func(string) ([]timeline.Event, error) {
		return []timeline.Event{}, nil
	}}
	w := NewWorker(st, stubTexts{text: "document with no dated events"}, events, testLogger(), 10_000, 1)
	w.Process(context.Background(), doc.ID)

	got, _ := st.GetDocument(context.Background(), doc.ID)
	if got.Status != store.StatusCompleted {
		t.Fatalf("expected completed, got %s (%q)", got.Status, got.ErrorMessage)
	}
	tl, err := st.GetTimeline(context.Background(), doc.ID)
	if err != nil {
		t.Fatalf("get timeline: %v", err)
	}
	if tl.Events == nil || len(tl.Events) != 0 {
		t.Errorf("expected empty non-nil events, got %#v", tl.Events)
	}
}

func TestSanitizeMessage(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain", "boom", "boom"},
		{"newlines collapsed", "a\nb\n\nc", "a b c"},
		{"tabs and runs of spaces", "a\t b   c", "a b c"},
		{"truncated", strings.Repeat("x", 600), strings.Repeat("x", MaxErrorMessageLen)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := sanitizeMessage(tt.in); got != tt.want {
				t.Errorf("sanitizeMessage(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestOrchestrator_SubmitQueueFull(t *testing.T) {
	cfg := config.Config{WorkerCount: 1, MaxQueueSize: 1, ChunkSize: 10_000, MaxConcurrentExtract: 1}
	events := &stubEvents{fn: func(string) ([]timeline.Event, error) { return nil, nil }}
	o := NewOrchestrator(cfg, openTestStore(t), stubTexts{}, events, testLogger())

	// Workers not started, so the buffered slot is all there is.
	if err := o.Submit("doc1"); err != nil {
		t.Fatalf("first submit: %v", err)
	}
	if err := o.Submit("doc2"); err == nil {
		t.Fatal("expected queue-full error")
	}
	if o.QueueDepth() != 1 {
		t.Errorf("queue depth = %d, want 1", o.QueueDepth())
	}
}

func TestOrchestrator_SubmitAfterStop(t *testing.T) {
	cfg := config.Config{WorkerCount: 1, MaxQueueSize: 4, ChunkSize: 10_000, MaxConcurrentExtract: 1}
	events := &stubEvents{fn: func(string) ([]timeline.Event, error) { return nil, nil }}
	o := NewOrchestrator(cfg, openTestStore(t), stubTexts{}, events, testLogger())
	o.Start(context.Background())
	o.Stop()

	// Must return an error, not panic on the closed queue.
	if err := o.Submit("doc1"); err == nil {
		t.Fatal("expected error submitting after Stop")
	}

	// Stop is idempotent.
	o.Stop()
}

func TestOrchestrator_ProcessesSubmittedDocument(t *testing.T) {
	st := openTestStore(t)
	doc := seedDoc(t, st, "doc1")

	cfg := config.Config{WorkerCount: 2, MaxQueueSize: 10, ChunkSize: 10_000, MaxConcurrentExtract: 2}
	events := &stubEvents{fn: func(string) ([]timeline.Event, error) {
		return []timeline.Event{{Date: "2024-01-01", Description: "ok", InvolvedParties: []string{}}}, nil
	}}
	o := NewOrchestrator(cfg, st, stubTexts{text: "short document"}, events, testLogger())
	o.Start(context.Background())
	defer o.Stop()

	if err := o.Submit(doc.ID); err != nil {
		t.Fatalf("submit: %v", err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		got, err := st.GetDocument(context.Background(), doc.ID)
		if err != nil {
			t.Fatalf("get document: %v", err)
		}
		if got.Status.Terminal() {
			if got.Status != store.StatusCompleted {
				t.Fatalf("expected completed, got %s (%q)", got.Status, got.ErrorMessage)
			}
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("document never reached a terminal status")
}
