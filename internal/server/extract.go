package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/local/docextract/internal/extract"
	"github.com/local/docextract/internal/metrics"
	"github.com/local/docextract/internal/store"
)

type extractReq struct {
	Pages   []int  `json:"pages"`
	Engine  string `json:"engine"`
	Quality string `json:"quality"`
}

type sseEvent struct {
	Type         string            `json:"type"`
	Percent      float64           `json:"percent,omitempty"`
	Message      string            `json:"message,omitempty"`
	Text         string            `json:"text,omitempty"`
	WordCount    int               `json:"word_count,omitempty"`
	PagesContent map[string]string `json:"pages_content,omitempty"`
	Metadata     map[string]any    `json:"metadata,omitempty"`
	Error        string            `json:"error,omitempty"`
}

// handleExtract runs a page-text extraction session and streams progress as
// server-sent events. Exactly one terminal event (result or error) ends the
// stream. The run aborts when the client drops the connection and checks the
// Redis cancel set between pages.
func (s *Server) handleExtract(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	defer r.Body.Close()

	if !s.deps.Checker.Ready(r.Context()) {
		errorJSON(w, http.StatusServiceUnavailable, "extraction backend unavailable")
		return
	}

	var req extractReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errorJSON(w, http.StatusBadRequest, "invalid json")
		return
	}
	doc, ok, err := s.deps.Documents.Get(r.Context(), id)
	if err != nil {
		errorJSON(w, http.StatusInternalServerError, "registry error")
		return
	}
	if !ok {
		errorJSON(w, http.StatusNotFound, "document not found")
		return
	}

	pages := normalizePages(req.Pages, doc.TotalPages)
	if len(pages) == 0 {
		errorJSON(w, http.StatusBadRequest, "no valid pages selected")
		return
	}
	quality := req.Quality
	if quality == "" {
		quality = s.cfg.Extract.DefaultQuality
	}
	engine := req.Engine
	if engine == "" {
		engine = s.cfg.Extract.DefaultEngine
	}
	if engine == "fast" {
		quality = extract.QualityDraft
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		errorJSON(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	sessionID := uuid.NewString()
	start := time.Now()
	_ = s.deps.Sessions.ClearCancel(r.Context(), sessionID)
	_ = s.deps.Sessions.Set(r.Context(), sessionID, store.SessionStatus{
		Status: "processing", Percent: 0, Message: "starting", Start: &start,
		Metadata: map[string]any{"document_id": id, "total_pages": len(pages)},
	})
	metrics.SessionStarted()
	log.Info().Str("session_id", sessionID).Str("doc_id", id).Ints("pages", pages).Msg("extraction started")

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("X-Session-ID", sessionID)
	w.WriteHeader(http.StatusOK)

	send := func(ev sseEvent) {
		data, _ := json.Marshal(ev)
		fmt.Fprintf(w, "data: %s\n\n", data)
		flusher.Flush()
	}

	ctx := r.Context()
	pagesContent := make(map[string]string, len(pages))
	var agg strings.Builder

	// text documents have no renderable pages; the content is the result
	if !doc.IsPDF {
		raw, err := os.ReadFile(doc.Path)
		if err != nil {
			s.finishSession(sessionID, "error", err.Error(), start)
			send(sseEvent{Type: "error", Error: "cannot read document"})
			metrics.SessionFinished("error", time.Since(start))
			return
		}
		text := strings.TrimSpace(string(raw))
		words := extract.WordCount(text)
		resultPath := s.persistResult(sessionID, text)
		end := time.Now()
		meta := map[string]any{"document_id": id, "total_pages": 1, "word_count": words}
		if resultPath != "" {
			meta["result_local_path"] = resultPath
		}
		_ = s.deps.Sessions.Set(ctx, sessionID, store.SessionStatus{
			Status: "success", Percent: 100, Message: "completed", Start: &start, End: &end, Metadata: meta,
		})
		send(sseEvent{Type: "result", Text: text, WordCount: words, PagesContent: map[string]string{"1": text}, Metadata: meta})
		metrics.SessionFinished("success", time.Since(start))
		return
	}

	for i, page := range pages {
		// client gone or cancel webhook fired: stop between pages, report
		// nothing further, leave the status as cancelled
		if ctx.Err() != nil {
			s.finishSession(sessionID, "cancelled", "cancelled by client", start)
			return
		}
		if cancelled, _ := s.deps.Sessions.IsCancelled(ctx, sessionID); cancelled {
			s.finishSession(sessionID, "cancelled", "cancelled", start)
			return
		}

		percent := float64(i) / float64(len(pages)) * 100
		// the prose names the document page being extracted, not the loop
		// ordinal; consumers parse the page number back out of it
		msg := fmt.Sprintf("Extracting page %d of %d", page, doc.TotalPages)
		send(sseEvent{Type: "progress", Percent: percent, Message: msg})
		_ = s.deps.Sessions.Set(ctx, sessionID, store.SessionStatus{
			Status: "processing", Percent: int(percent), Message: msg, Start: &start,
			Metadata: map[string]any{"document_id": id, "total_pages": len(pages), "current_page": page},
		})

		text, err := s.extractPage(ctx, doc.Path, page, quality)
		if err != nil {
			if ctx.Err() != nil {
				s.finishSession(sessionID, "cancelled", "cancelled by client", start)
				return
			}
			metrics.IncSessionPage("failed")
			s.deps.Gate.MarkFailure(ctx, "extractor")
			s.finishSession(sessionID, "error", err.Error(), start)
			send(sseEvent{Type: "error", Error: fmt.Sprintf("extraction failed on page %d: %v", page, err)})
			metrics.SessionFinished("error", time.Since(start))
			return
		}
		metrics.IncSessionPage("ok")
		s.deps.Gate.ClearFailure(ctx, "extractor")
		pagesContent[strconv.Itoa(page)] = text
		if agg.Len() > 0 {
			agg.WriteString("\n\n")
		}
		agg.WriteString(text)
	}

	full := agg.String()
	words := extract.WordCount(full)
	resultPath := s.persistResult(sessionID, full)

	end := time.Now()
	meta := map[string]any{
		"document_id": id,
		"total_pages": len(pages),
		"word_count":  words,
		"duration_ms": end.Sub(start).Milliseconds(),
	}
	if resultPath != "" {
		meta["result_local_path"] = resultPath
	}
	_ = s.deps.Sessions.Set(ctx, sessionID, store.SessionStatus{
		Status: "success", Percent: 100, Message: "completed", Start: &start, End: &end, Metadata: meta,
	})

	send(sseEvent{Type: "result", Text: full, WordCount: words, PagesContent: pagesContent, Metadata: meta})
	metrics.SessionFinished("success", time.Since(start))
	log.Info().Str("session_id", sessionID).Int("words", words).Dur("took", end.Sub(start)).Msg("extraction completed")
}

// extractPage runs one page extraction under the configured per-page wall
// clock. A zero timeout disables the guard.
func (s *Server) extractPage(ctx context.Context, path string, page int, quality string) (string, error) {
	timeout := s.cfg.Extract.PageTimeout
	if timeout <= 0 {
		return s.deps.Extractor.PageText(path, page, quality)
	}
	type result struct {
		text string
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		t, err := s.deps.Extractor.PageText(path, page, quality)
		ch <- result{t, err}
	}()
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case r := <-ch:
		return r.text, r.err
	case <-ctx.Done():
		return "", ctx.Err()
	case <-timer.C:
		return "", fmt.Errorf("page %d extraction timed out after %s", page, timeout)
	}
}

// finishSession records a terminal status without emitting further events.
func (s *Server) finishSession(sessionID, status, message string, start time.Time) {
	// the request context may already be dead; use a short independent one
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	end := time.Now()
	_ = s.deps.Sessions.Set(ctx, sessionID, store.SessionStatus{
		Status: status, Message: message, Start: &start, End: &end,
	})
	if status == "cancelled" {
		_ = s.deps.Sessions.ClearCancel(ctx, sessionID)
		metrics.SessionFinished("cancelled", time.Since(start))
		log.Info().Str("session_id", sessionID).Msg("extraction cancelled")
	}
}

func (s *Server) persistResult(sessionID, text string) string {
	dir := s.cfg.Server.ResultDir
	if dir == "" {
		dir = "results"
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		log.Warn().Err(err).Msg("cannot create results dir")
		return ""
	}
	path := filepath.Join(dir, fmt.Sprintf("extracted_text_%s.txt", sessionID))
	if err := os.WriteFile(path, []byte(text), 0o644); err != nil {
		log.Warn().Err(err).Str("path", path).Msg("result save failed")
		return ""
	}
	return path
}

// normalizePages dedups, sorts and clamps the requested pages to 1..total.
func normalizePages(pages []int, total int) []int {
	seen := map[int]struct{}{}
	out := make([]int, 0, len(pages))
	for _, p := range pages {
		if p < 1 || p > total {
			continue
		}
		if _, ok := seen[p]; ok {
			continue
		}
		seen[p] = struct{}{}
		out = append(out, p)
	}
	sort.Ints(out)
	return out
}

// handleCancelSession marks a session cancelled. The running extraction
// notices between pages; cancelling an already-finished session is harmless.
func (s *Server) handleCancelSession(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	defer r.Body.Close()
	var req struct {
		SessionID string `json:"session_id"`
		Reason    string `json:"reason,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.SessionID == "" {
		errorJSON(w, http.StatusBadRequest, "missing session_id")
		return
	}
	if err := s.deps.Sessions.Cancel(r.Context(), req.SessionID); err != nil {
		errorJSON(w, http.StatusInternalServerError, "cancel failed")
		return
	}
	st, ok, _ := s.deps.Sessions.Get(r.Context(), req.SessionID)
	if ok && st.Status == "processing" {
		st.Message = "cancellation requested"
		if req.Reason != "" {
			st.Message = "cancellation requested: " + req.Reason
		}
		_ = s.deps.Sessions.Set(r.Context(), req.SessionID, st)
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "session_id": req.SessionID, "status": "cancelled"})
}

func (s *Server) handleSessionStatus(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimPrefix(r.URL.Path, "/api/sessions/")
	if id == "" {
		errorJSON(w, http.StatusNotFound, "missing session id")
		return
	}
	st, ok, err := s.deps.Sessions.Get(r.Context(), id)
	if err != nil {
		errorJSON(w, http.StatusInternalServerError, "registry error")
		return
	}
	if !ok {
		errorJSON(w, http.StatusNotFound, "session not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":    st.Status == "success",
		"session_id": id,
		"status":     st.Status,
		"percent":    st.Percent,
		"message":    st.Message,
		"start_time": st.Start,
		"end_time":   st.End,
		"metadata":   st.Metadata,
	})
}
