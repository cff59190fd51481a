package server

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/local/docextract/internal/config"
	"github.com/local/docextract/internal/document"
	"github.com/local/docextract/internal/metrics"
	"github.com/local/docextract/internal/statuscheck"
	"github.com/local/docextract/internal/store"
)

// DocumentLoader resolves an upload reference into a registered document.
type DocumentLoader interface {
	Load(ctx context.Context, ref string) (*document.Document, error)
}

// DocumentRegistry persists document metadata.
type DocumentRegistry interface {
	Save(ctx context.Context, doc document.Document) error
	Get(ctx context.Context, id string) (document.Document, bool, error)
	Delete(ctx context.Context, id string) error
}

// ThumbCache persists rendered thumbnails.
type ThumbCache interface {
	Save(ctx context.Context, docID string, t store.Thumb) error
	Get(ctx context.Context, docID string, page int) (store.Thumb, bool, error)
	Purge(ctx context.Context, docID string) error
}

// SessionRegistry persists extraction session status and the cancel set.
type SessionRegistry interface {
	Set(ctx context.Context, id string, st store.SessionStatus) error
	Get(ctx context.Context, id string) (store.SessionStatus, bool, error)
	Cancel(ctx context.Context, id string) error
	IsCancelled(ctx context.Context, id string) (bool, error)
	ClearCancel(ctx context.Context, id string) error
}

// Renderer produces page thumbnails.
type Renderer interface {
	PageJPEG(path string, page, dpi int) ([]byte, int, int, error)
}

// Extractor produces page text.
type Extractor interface {
	PageText(path string, page int, quality string) (string, error)
}

// RenderGate caps concurrent renders per document and tracks extractor
// failure cooldowns.
type RenderGate interface {
	Acquire(docID string) (func(), bool)
	Forget(docID string)
	MarkFailure(ctx context.Context, component string)
	ClearFailure(ctx context.Context, component string)
}

// ReadyChecker gates the extract action on backend capability.
type ReadyChecker interface {
	Ready(ctx context.Context) bool
	Summary(ctx context.Context) statuscheck.Summary
}

type Dependencies struct {
	Loader    DocumentLoader
	Documents DocumentRegistry
	Thumbs    ThumbCache
	Sessions  SessionRegistry
	Renderer  Renderer
	Extractor Extractor
	Gate      RenderGate
	Checker   ReadyChecker
}

// Server is the document extraction HTTP API.
type Server struct {
	cfg  config.Config
	deps Dependencies
}

func New(cfg config.Config, deps Dependencies) *Server {
	return &Server{cfg: cfg, deps: deps}
}

func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("/ready", s.handleReady)
	mux.Handle("/metrics", metrics.Handler())
	mux.HandleFunc("/api/documents", s.handleUploadDocument)
	mux.HandleFunc("/api/documents/", s.handleDocumentSubtree)
	mux.HandleFunc("/api/sessions/", s.handleSessionStatus)
	mux.HandleFunc("/webhook/cancel_session", s.handleCancelSession)
	mux.HandleFunc("/download_result/", s.handleDownloadResult)
}

// handleDocumentSubtree routes /api/documents/{id}[/thumbnails|/extract|/preview].
func (s *Server) handleDocumentSubtree(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/documents/")
	id, sub, _ := strings.Cut(rest, "/")
	if id == "" {
		errorJSON(w, http.StatusNotFound, "missing document id")
		return
	}
	switch sub {
	case "":
		if r.Method == http.MethodDelete {
			s.handleDocumentDelete(w, r, id)
			return
		}
		s.handleDocumentGet(w, r, id)
	case "thumbnails":
		s.handleThumbnails(w, r, id)
	case "extract":
		s.handleExtract(w, r, id)
	case "preview":
		s.handlePreview(w, r, id)
	default:
		errorJSON(w, http.StatusNotFound, "not found")
	}
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	sum := s.deps.Checker.Summary(r.Context())
	ok := sum.Redis.OK && sum.Storage.OK && sum.Extractor.OK
	code := http.StatusOK
	if !ok {
		code = http.StatusServiceUnavailable
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]any{"ready": ok, "checks": sum})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func errorJSON(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]any{"success": false, "error": msg})
}
