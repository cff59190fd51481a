package document

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/rs/zerolog/log"

	"github.com/local/docextract/internal/filetype"
	"github.com/local/docextract/internal/pdfprobe"
)

// Document is the ephemeral record of one uploaded file. It lives from upload
// until dialog close / document change; nothing survives a reload.
type Document struct {
	ID         string    `json:"id"`
	Path       string    `json:"path"`
	TotalPages int       `json:"total_pages"`
	SizeBytes  int64     `json:"size_bytes"`
	Kind       string    `json:"kind"`
	MIMEType   string    `json:"mime_type"`
	IsPDF      bool      `json:"is_pdf"`
	NeedsOCR   bool      `json:"needs_ocr"`
	Uploaded   time.Time `json:"uploaded"`
}

// Loader resolves a document reference to a local file and loads its metadata
// (page count, kind, text-layer probe). The page-count step runs under a hard
// wall-clock timeout independent of the underlying call.
type Loader struct {
	detector *filetype.Detector
	timeout  time.Duration
}

// NewLoader creates a Loader; timeout guards the metadata fetch (30s in prod).
func NewLoader(timeout time.Duration) *Loader {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Loader{detector: filetype.New(), timeout: timeout}
}

// Load fetches ref (local path, file://, http(s)://, s3://) and returns a
// registered Document. Unsupported formats fail before any page work happens.
func (l *Loader) Load(ctx context.Context, ref string) (*Document, error) {
	localPath, tmp, err := EnsureLocal(ctx, ref)
	if err != nil {
		return nil, fmt.Errorf("resolve document ref: %w", err)
	}
	if tmp != "" {
		// remote refs stay in the temp dir for the lifetime of the document;
		// CleanupTemps sweeps them by age
		localPath = tmp
	}

	fi, err := os.Stat(localPath)
	if err != nil {
		return nil, fmt.Errorf("stat document: %w", err)
	}

	info, err := l.detector.Detect(localPath)
	if err != nil {
		return nil, fmt.Errorf("detect document type: %w", err)
	}
	if !info.Supported {
		return nil, &ValidationError{Reason: info.Description}
	}

	doc := &Document{
		ID:        uuid.NewString(),
		Path:      localPath,
		SizeBytes: fi.Size(),
		Kind:      info.Description,
		MIMEType:  info.MIMEType,
		IsPDF:     info.IsPDF,
		Uploaded:  time.Now(),
	}

	if info.IsPDF {
		pages, err := l.countPages(ctx, localPath)
		if err != nil {
			return nil, fmt.Errorf("page count: %w", err)
		}
		doc.TotalPages = pages

		if hasText, diag, err := pdfprobe.HasTextLayer(localPath, 0); err == nil {
			doc.NeedsOCR = !hasText
			log.Debug().Str("doc_id", doc.ID).Bool("has_text", hasText).
				Int("sampled_chars", diag.TotalCharsInSample).Msg("probed text layer")
		} else {
			log.Warn().Err(err).Str("doc_id", doc.ID).Msg("text layer probe failed; assuming OCR needed")
			doc.NeedsOCR = true
		}
	} else {
		// text-like documents get pseudo-pages from the preview splitter
		doc.TotalPages = 1
	}

	log.Info().Str("doc_id", doc.ID).Int("pages", doc.TotalPages).
		Int64("size", doc.SizeBytes).Str("kind", doc.Kind).Msg("document loaded")
	return doc, nil
}

// countPages runs pdfcpu's page count under the loader's wall-clock timeout.
// The guard is independent of whether the underlying call itself times out.
func (l *Loader) countPages(ctx context.Context, path string) (int, error) {
	type result struct {
		n   int
		err error
	}
	ch := make(chan result, 1)
	go func() {
		n, err := api.PageCountFile(path)
		ch <- result{n, err}
	}()

	timer := time.NewTimer(l.timeout)
	defer timer.Stop()
	select {
	case r := <-ch:
		if r.err != nil {
			return 0, fmt.Errorf("pdf page count failed: %w", r.err)
		}
		return r.n, nil
	case <-ctx.Done():
		return 0, ctx.Err()
	case <-timer.C:
		return 0, fmt.Errorf("page count timed out after %s", l.timeout)
	}
}

// ValidationError rejects a document before any network or page work.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error: %s", e.Reason)
}
