package api

import (
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/oklog/ulid/v2"

	"github.com/lexfield/timeliner/internal/parser"
	"github.com/lexfield/timeliner/internal/store"
	"github.com/lexfield/timeliner/internal/timeline"
)

// handleUpload accepts a document, stores the file and a pending record,
// and queues it for background processing. The response returns
// immediately; clients poll GET /api/documents/{id} for progress.
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	userID := UserID(r.Context())

	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadBytes+1024*1024) // extra 1MB for form overhead
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		jsonError(w, "invalid multipart form: "+err.Error(), http.StatusBadRequest)
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("file")
	if err != nil {
		jsonError(w, "file is required: "+err.Error(), http.StatusBadRequest)
		return
	}
	defer file.Close()

	filename := sanitizeFilename(header.Filename)
	if !parser.IsSupportedExtension(filename) {
		jsonError(w, fmt.Sprintf("unsupported file type: %s", filepath.Ext(filename)), http.StatusBadRequest)
		return
	}

	data, err := io.ReadAll(io.LimitReader(file, s.cfg.MaxUploadBytes+1))
	if err != nil {
		jsonError(w, "failed to read file", http.StatusInternalServerError)
		return
	}
	if int64(len(data)) > s.cfg.MaxUploadBytes {
		jsonError(w, fmt.Sprintf("file exceeds max size (%d bytes)", s.cfg.MaxUploadBytes), http.StatusRequestEntityTooLarge)
		return
	}

	docID := ulid.MustNew(ulid.Now(), rand.Reader).String()
	filePath := filepath.Join(s.cfg.UploadDir, docID+"_"+filename)
	if err := os.MkdirAll(s.cfg.UploadDir, 0o755); err != nil {
		jsonError(w, "failed to prepare upload dir", http.StatusInternalServerError)
		return
	}
	if err := os.WriteFile(filePath, data, 0o644); err != nil {
		jsonError(w, "failed to store file", http.StatusInternalServerError)
		return
	}

	doc := store.Document{
		ID:        docID,
		UserID:    userID,
		Filename:  filename,
		FilePath:  filePath,
		Status:    store.StatusPending,
		CreatedAt: time.Now(),
	}
	if err := s.store.CreateDocument(r.Context(), doc); err != nil {
		s.log.Error("create document failed", "error", err)
		os.Remove(filePath)
		jsonError(w, "failed to create document", http.StatusInternalServerError)
		return
	}

	if err := s.orchestrator.Submit(docID); err != nil {
		// The record exists but won't be picked up; mark it failed so the
		// client can see why and reprocess later.
		s.store.SetStatus(r.Context(), docID, store.StatusFailed, "processing queue is full")
		jsonError(w, err.Error(), http.StatusServiceUnavailable)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(map[string]any{
		"id":       docID,
		"filename": filename,
		"status":   doc.Status,
		"message":  "Document uploaded; processing started.",
	})
}

func (s *Server) handleListDocuments(w http.ResponseWriter, r *http.Request) {
	userID := UserID(r.Context())

	docs, err := s.store.ListDocuments(r.Context(), userID)
	if err != nil {
		s.log.Error("list documents failed", "error", err)
		jsonError(w, "failed to list documents", http.StatusInternalServerError)
		return
	}
	if docs == nil {
		docs = []store.Document{}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{"documents": docs})
}

func (s *Server) handleGetDocument(w http.ResponseWriter, r *http.Request) {
	doc, ok := s.ownedDocument(w, r)
	if !ok {
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(doc)
}

// handleGetTimeline returns the extracted events once processing completed.
// The timeline is readable only for a completed document, even if a row
// already exists mid-run; a completed document with no row yields an empty
// event list, so clients can distinguish "no events found" from "not
// processed yet".
func (s *Server) handleGetTimeline(w http.ResponseWriter, r *http.Request) {
	doc, ok := s.ownedDocument(w, r)
	if !ok {
		return
	}
	if doc.Status != store.StatusCompleted {
		jsonError(w, "timeline not ready yet", http.StatusNotFound)
		return
	}

	tl, err := s.store.GetTimeline(r.Context(), doc.ID)
	if errors.Is(err, store.ErrNotFound) {
		tl = timeline.Timeline{DocumentID: doc.ID, Events: []timeline.Event{}}
	} else if err != nil {
		s.log.Error("get timeline failed", "doc_id", doc.ID, "error", err)
		jsonError(w, "failed to load timeline", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(tl)
}

// handleReprocess resets a terminal document back to pending and resubmits
// it. This is the only sanctioned way to re-run the pipeline for a
// document: the pipeline itself refuses anything that is not pending.
func (s *Server) handleReprocess(w http.ResponseWriter, r *http.Request) {
	doc, ok := s.ownedDocument(w, r)
	if !ok {
		return
	}

	reset, err := s.store.ResetToPending(r.Context(), doc.ID)
	if err != nil {
		s.log.Error("reset failed", "doc_id", doc.ID, "error", err)
		jsonError(w, "failed to reset document", http.StatusInternalServerError)
		return
	}
	if !reset {
		jsonError(w, fmt.Sprintf("document is %s; only completed or failed documents can be reprocessed", doc.Status), http.StatusConflict)
		return
	}

	if err := s.orchestrator.Submit(doc.ID); err != nil {
		s.store.SetStatus(r.Context(), doc.ID, store.StatusFailed, "processing queue is full")
		jsonError(w, err.Error(), http.StatusServiceUnavailable)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(map[string]any{
		"id":     doc.ID,
		"status": store.StatusPending,
	})
}

func (s *Server) handleDeleteDocument(w http.ResponseWriter, r *http.Request) {
	doc, ok := s.ownedDocument(w, r)
	if !ok {
		return
	}

	if err := s.store.DeleteDocument(r.Context(), doc.ID); err != nil {
		s.log.Error("delete document failed", "doc_id", doc.ID, "error", err)
		jsonError(w, "failed to delete document", http.StatusInternalServerError)
		return
	}
	if doc.FilePath != "" {
		if err := os.Remove(doc.FilePath); err != nil && !os.IsNotExist(err) {
			s.log.Warn("stored file removal failed", "path", doc.FilePath, "error", err)
		}
	}

	w.WriteHeader(http.StatusNoContent)
}

// ownedDocument loads the document from the URL and enforces ownership.
// Both a missing document and someone else's document read as 404, so ids
// can't be probed.
func (s *Server) ownedDocument(w http.ResponseWriter, r *http.Request) (store.Document, bool) {
	docID := chi.URLParam(r, "docID")
	doc, err := s.store.GetDocument(r.Context(), docID)
	if errors.Is(err, store.ErrNotFound) {
		jsonError(w, "document not found", http.StatusNotFound)
		return store.Document{}, false
	}
	if err != nil {
		s.log.Error("get document failed", "doc_id", docID, "error", err)
		jsonError(w, "failed to load document", http.StatusInternalServerError)
		return store.Document{}, false
	}
	if doc.UserID != UserID(r.Context()) {
		jsonError(w, "document not found", http.StatusNotFound)
		return store.Document{}, false
	}
	return doc, true
}

func jsonError(w http.ResponseWriter, msg string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

func sanitizeFilename(name string) string {
	// Strip path components, keep only the base name.
	name = filepath.Base(name)
	name = strings.ReplaceAll(name, "/", "_")
	name = strings.ReplaceAll(name, "\\", "_")
	name = strings.ReplaceAll(name, "..", "_")
	if name == "" || name == "." {
		name = "unnamed"
	}
	return name
}
