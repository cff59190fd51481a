package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/local/docextract/internal/document"
	"github.com/local/docextract/internal/extract"
	"github.com/local/docextract/internal/metrics"
)

type uploadResp struct {
	Success      bool   `json:"success"`
	DocumentID   string `json:"document_id,omitempty"`
	TotalPages   int    `json:"total_pages,omitempty"`
	Kind         string `json:"kind,omitempty"`
	IsPDF        bool   `json:"is_pdf,omitempty"`
	NeedsOCR     bool   `json:"needs_ocr,omitempty"`
	SizeBytes    int64  `json:"size_bytes,omitempty"`
	ErrorMessage string `json:"error_message,omitempty"`
}

// handleUploadDocument registers a document from a multipart upload or a JSON
// {file_path} reference (file://, http(s)://, s3://). Size and format checks
// reject bad input before any page counting happens.
func (s *Server) handleUploadDocument(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var ref string
	ct := r.Header.Get("Content-Type")
	if strings.HasPrefix(ct, "multipart/form-data") {
		localPath, err := s.saveUpload(r)
		if err != nil {
			metrics.IncUpload("validation")
			writeJSON(w, http.StatusBadRequest, uploadResp{ErrorMessage: err.Error()})
			return
		}
		ref = "file://" + localPath
	} else {
		defer r.Body.Close()
		var req struct {
			FilePath string `json:"file_path"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.FilePath == "" {
			metrics.IncUpload("validation")
			writeJSON(w, http.StatusBadRequest, uploadResp{ErrorMessage: "missing file_path"})
			return
		}
		ref = req.FilePath
	}

	doc, err := s.deps.Loader.Load(r.Context(), ref)
	if err != nil {
		var verr *document.ValidationError
		switch {
		case errors.As(err, &verr):
			metrics.IncUpload("validation")
			writeJSON(w, http.StatusBadRequest, uploadResp{ErrorMessage: verr.Reason})
		case errors.Is(err, context.DeadlineExceeded):
			metrics.IncUpload("timeout")
			writeJSON(w, http.StatusGatewayTimeout, uploadResp{ErrorMessage: "document metadata timed out"})
		default:
			metrics.IncUpload("error")
			log.Error().Err(err).Str("ref", ref).Msg("document load failed")
			writeJSON(w, http.StatusInternalServerError, uploadResp{ErrorMessage: "failed to load document"})
		}
		return
	}

	if err := s.deps.Documents.Save(r.Context(), *doc); err != nil {
		metrics.IncUpload("error")
		log.Error().Err(err).Str("doc_id", doc.ID).Msg("document save failed")
		writeJSON(w, http.StatusInternalServerError, uploadResp{ErrorMessage: "failed to register document"})
		return
	}

	metrics.IncUpload("ok")
	log.Info().Str("doc_id", doc.ID).Int("pages", doc.TotalPages).Str("kind", doc.Kind).Msg("document registered")
	writeJSON(w, http.StatusCreated, uploadResp{
		Success:    true,
		DocumentID: doc.ID,
		TotalPages: doc.TotalPages,
		Kind:       doc.Kind,
		IsPDF:      doc.IsPDF,
		NeedsOCR:   doc.NeedsOCR,
		SizeBytes:  doc.SizeBytes,
	})
}

// saveUpload persists the multipart file part under the upload dir with a
// fresh id prefix, enforcing the size cap as it streams.
func (s *Server) saveUpload(r *http.Request) (string, error) {
	maxBytes := s.cfg.Server.MaxUploadMB << 20
	if maxBytes <= 0 {
		maxBytes = 512 << 20
	}
	if err := r.ParseMultipartForm(8 << 20); err != nil {
		return "", fmt.Errorf("invalid multipart form")
	}
	file, hdr, err := r.FormFile("file")
	if err != nil {
		return "", fmt.Errorf("missing file")
	}
	defer file.Close()
	if maxBytes > 0 && hdr.Size > maxBytes {
		return "", fmt.Errorf("file exceeds %dMB limit", s.cfg.Server.MaxUploadMB)
	}

	uploadDir := s.cfg.Server.UploadDir
	if uploadDir == "" {
		uploadDir = "uploads"
	}
	if err := os.MkdirAll(uploadDir, 0o755); err != nil {
		return "", fmt.Errorf("cannot create upload dir")
	}
	name := filepath.Base(hdr.Filename)
	if name == "" || name == "." {
		name = "upload.pdf"
	}
	localPath := filepath.Join(uploadDir, fmt.Sprintf("%s_%s", uuid.NewString(), name))
	out, err := os.Create(localPath)
	if err != nil {
		return "", fmt.Errorf("cannot save upload")
	}
	written, err := io.Copy(out, io.LimitReader(file, maxBytes+1))
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(localPath)
		return "", fmt.Errorf("write failed")
	}
	if maxBytes > 0 && written > maxBytes {
		os.Remove(localPath)
		return "", fmt.Errorf("file exceeds %dMB limit", s.cfg.Server.MaxUploadMB)
	}
	if written == 0 {
		os.Remove(localPath)
		return "", fmt.Errorf("file is empty")
	}
	return localPath, nil
}

// handleDocumentDelete releases everything tied to the document: registry
// record, cached thumbnails, render slots, and the uploaded file itself.
// Nothing survives a document change or dialog close.
func (s *Server) handleDocumentDelete(w http.ResponseWriter, r *http.Request, id string) {
	doc, ok, err := s.deps.Documents.Get(r.Context(), id)
	if err != nil {
		errorJSON(w, http.StatusInternalServerError, "registry error")
		return
	}
	if !ok {
		errorJSON(w, http.StatusNotFound, "document not found")
		return
	}

	if err := s.deps.Documents.Delete(r.Context(), id); err != nil {
		errorJSON(w, http.StatusInternalServerError, "delete failed")
		return
	}
	if err := s.deps.Thumbs.Purge(r.Context(), id); err != nil {
		log.Warn().Err(err).Str("doc_id", id).Msg("thumbnail purge failed")
	}
	s.deps.Gate.Forget(id)
	if doc.Path != "" && strings.HasPrefix(doc.Path, s.cfg.Server.UploadDir) {
		_ = os.Remove(doc.Path)
	}
	log.Info().Str("doc_id", id).Msg("document released")
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "document_id": id})
}

func (s *Server) handleDocumentGet(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
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
	writeJSON(w, http.StatusOK, doc)
}

type previewPage struct {
	PageNumber int    `json:"page_number"`
	Preview    string `json:"preview"`
	WordCount  int    `json:"word_count"`
}

const previewPageChars = 3000

// handlePreview serves a paginated plain-text preview for non-PDF documents.
// Text files have no physical pages, so the preview is chunked by size.
func (s *Server) handlePreview(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
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
	if doc.IsPDF {
		errorJSON(w, http.StatusBadRequest, "preview is for text documents; use thumbnails for PDF")
		return
	}

	raw, err := os.ReadFile(doc.Path)
	if err != nil {
		log.Error().Err(err).Str("doc_id", id).Msg("preview read failed")
		errorJSON(w, http.StatusInternalServerError, "cannot read document")
		return
	}
	chunks := chunkText(string(raw), previewPageChars)

	page := 0
	if v := r.URL.Query().Get("page"); v != "" {
		page, _ = strconv.Atoi(v)
	}
	pages := make([]previewPage, 0, len(chunks))
	for i, c := range chunks {
		if page > 0 && i+1 != page {
			continue
		}
		pages = append(pages, previewPage{PageNumber: i + 1, Preview: c, WordCount: extract.WordCount(c)})
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"total_pages": len(chunks),
		"pages":       pages,
		"format_type": doc.Kind,
	})
}

func chunkText(text string, size int) []string {
	if text == "" {
		return []string{""}
	}
	var chunks []string
	for len(text) > size {
		cut := size
		// prefer breaking on a line boundary near the chunk edge
		if i := strings.LastIndexByte(text[:size], '\n'); i > size/2 {
			cut = i + 1
		} else {
			// never split a multi-byte rune across chunks
			for cut > 0 && !utf8.RuneStart(text[cut]) {
				cut--
			}
			if cut == 0 {
				cut = size
			}
		}
		chunks = append(chunks, text[:cut])
		text = text[cut:]
	}
	return append(chunks, text)
}

// handleDownloadResult serves the persisted aggregated text of a finished
// session as a file download.
func (s *Server) handleDownloadResult(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimPrefix(r.URL.Path, "/download_result/")
	st, ok, err := s.deps.Sessions.Get(r.Context(), id)
	if err != nil || !ok {
		errorJSON(w, http.StatusNotFound, "session not found")
		return
	}
	if st.Status != "success" {
		errorJSON(w, http.StatusAccepted, "not ready")
		return
	}
	p, _ := st.Metadata["result_local_path"].(string)
	if p == "" {
		errorJSON(w, http.StatusNotFound, "result not available")
		return
	}
	b, err := os.ReadFile(p)
	if err != nil {
		errorJSON(w, http.StatusInternalServerError, "failed to read result")
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=extracted_text_%s.txt", id))
	_, _ = w.Write(b)
}
