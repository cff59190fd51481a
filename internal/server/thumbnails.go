package server

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/local/docextract/internal/metrics"
	"github.com/local/docextract/internal/render"
	"github.com/local/docextract/internal/store"
)

type thumbEntry struct {
	Page   int    `json:"page"`
	Data   string `json:"data"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
}

// handleThumbnails renders (or serves from cache) JPEG thumbnails for an
// inclusive page range. Pages that fail to render are omitted from the
// response rather than failing the batch.
func (s *Server) handleThumbnails(w http.ResponseWriter, r *http.Request, id string) {
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
	if !doc.IsPDF {
		errorJSON(w, http.StatusBadRequest, "document has no page images")
		return
	}

	start, end, err := parseRange(r.URL.Query().Get("range"))
	if err != nil {
		metrics.IncThumbBatch("validation")
		errorJSON(w, http.StatusBadRequest, err.Error())
		return
	}
	// clamp to the document rather than reject; viewports race page counts
	if start < 1 {
		start = 1
	}
	if end > doc.TotalPages {
		end = doc.TotalPages
	}
	if start > end {
		errorJSON(w, http.StatusBadRequest, "range outside document")
		return
	}

	dpi := 0
	if v := r.URL.Query().Get("dpi"); v != "" {
		dpi, _ = strconv.Atoi(v)
	}

	release, ok := s.deps.Gate.Acquire(id)
	if !ok {
		metrics.IncThumbBatch("rejected")
		errorJSON(w, http.StatusTooManyRequests, "too many concurrent renders for this document")
		return
	}
	defer release()

	entries := make([]thumbEntry, 0, end-start+1)
	for page := start; page <= end; page++ {
		if t, ok, err := s.deps.Thumbs.Get(r.Context(), id, page); err == nil && ok {
			metrics.IncThumbPage("cache_hit")
			entries = append(entries, thumbEntry{Page: page, Data: render.EncodeToBase64(t.JPEG), Width: t.Width, Height: t.Height})
			continue
		}

		began := time.Now()
		jpeg, width, height, err := s.deps.Renderer.PageJPEG(doc.Path, page, dpi)
		if err != nil {
			// soft miss: the page is simply absent from the response
			metrics.IncThumbPage("soft_miss")
			log.Debug().Err(err).Str("doc_id", id).Int("page", page).Msg("thumbnail render skipped")
			continue
		}
		metrics.ObserveRender(time.Since(began))
		metrics.IncThumbPage("rendered")

		if err := s.deps.Thumbs.Save(r.Context(), id, store.Thumb{Page: page, JPEG: jpeg, Width: width, Height: height}); err != nil {
			log.Warn().Err(err).Str("doc_id", id).Int("page", page).Msg("thumbnail cache save failed")
		}
		entries = append(entries, thumbEntry{Page: page, Data: render.EncodeToBase64(jpeg), Width: width, Height: height})
	}

	metrics.IncThumbBatch("ok")
	writeJSON(w, http.StatusOK, map[string]any{
		"success":     true,
		"document_id": id,
		"thumbnails":  entries,
	})
}

// parseRange parses "start-end" (both inclusive, 1-based).
func parseRange(raw string) (int, int, error) {
	a, b, ok := strings.Cut(raw, "-")
	if !ok {
		return 0, 0, errRange
	}
	start, err1 := strconv.Atoi(strings.TrimSpace(a))
	end, err2 := strconv.Atoi(strings.TrimSpace(b))
	if err1 != nil || err2 != nil || start < 1 || end < start {
		return 0, 0, errRange
	}
	return start, end, nil
}

var errRange = errors.New("range must be start-end with 1 <= start <= end")
