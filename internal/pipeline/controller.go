package pipeline

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/local/docextract/internal/client"
	"github.com/local/docextract/internal/document"
	"github.com/local/docextract/internal/selection"
	"github.com/local/docextract/internal/session"
	"github.com/local/docextract/internal/thumbcache"
	"github.com/local/docextract/internal/viewport"
)

// Backend is the slice of the HTTP client the pipeline consumes.
type Backend interface {
	UploadDocument(ctx context.Context, path string) (document.Document, error)
	DeleteDocument(ctx context.Context, docID string) error
	FetchThumbnailRange(ctx context.Context, docID string, start, end, dpi int) (map[int][]byte, error)
	OpenExtraction(ctx context.Context, docID string, pages []int, engine, quality string) (session.EventStream, error)
	CancelSession(ctx context.Context, sessionID string) error
	Ready(ctx context.Context) bool
}

// NewBackend adapts a *client.Client to the Backend interface.
func NewBackend(c *client.Client) Backend { return clientBackend{c} }

type clientBackend struct{ c *client.Client }

func (b clientBackend) UploadDocument(ctx context.Context, path string) (document.Document, error) {
	return b.c.UploadDocument(ctx, path)
}

func (b clientBackend) DeleteDocument(ctx context.Context, docID string) error {
	return b.c.DeleteDocument(ctx, docID)
}

func (b clientBackend) FetchThumbnailRange(ctx context.Context, docID string, start, end, dpi int) (map[int][]byte, error) {
	return b.c.FetchThumbnailRange(ctx, docID, start, end, dpi)
}

func (b clientBackend) OpenExtraction(ctx context.Context, docID string, pages []int, engine, quality string) (session.EventStream, error) {
	return b.c.OpenExtraction(ctx, docID, pages, engine, quality)
}

func (b clientBackend) CancelSession(ctx context.Context, sessionID string) error {
	return b.c.CancelSession(ctx, sessionID)
}

func (b clientBackend) Ready(ctx context.Context) bool {
	return b.c.Ready(ctx)
}

// Options tunes the pipeline.
type Options struct {
	EagerPages int // pages marked visible before any scroll event
	Margin     int // speculative pages around a thumbnail batch
	DPI        int // 0 lets the backend pick
}

// Controller wires the page-extraction pipeline together: viewport events
// feed the thumbnail cache, the selection feeds extraction sessions, and
// everything resets wholesale on document change.
type Controller struct {
	backend Backend
	opts    Options

	mu        sync.Mutex
	doc       *document.Document
	tracker   *viewport.Tracker
	cache     *thumbcache.Cache
	selection *selection.Model
	session   *session.Session
}

// New creates a Controller. onProgress, if non-nil, receives extraction
// progress snapshots; it must not block.
func New(backend Backend, opts Options, onProgress func(session.Progress)) *Controller {
	c := &Controller{backend: backend, opts: opts}
	open := func(ctx context.Context, docID string, pages []int, engine, quality string) (session.EventStream, error) {
		return backend.OpenExtraction(ctx, docID, pages, engine, quality)
	}
	c.session = session.New(open, backend.CancelSession, onProgress)
	return c
}

// LoadDocument uploads the file at path and swaps the pipeline onto the new
// document: previous tracker closed, caches dropped, selection back to all
// pages. The first eager pages start fetching before this returns.
func (c *Controller) LoadDocument(ctx context.Context, path string) (document.Document, error) {
	doc, err := c.backend.UploadDocument(ctx, path)
	if err != nil {
		return document.Document{}, err
	}

	c.mu.Lock()
	if c.tracker != nil {
		c.tracker.Close()
	}
	if c.doc != nil {
		// release the previous document before swapping; best effort
		prev := c.doc.ID
		go func() {
			if err := c.backend.DeleteDocument(context.Background(), prev); err != nil {
				log.Warn().Err(err).Str("doc_id", prev).Msg("release of previous document failed")
			}
		}()
	}
	c.doc = &doc
	c.selection = selection.New(doc.TotalPages)

	docID := doc.ID
	fetcher := fetchFunc(func(ctx context.Context, start, end int) (map[int][]byte, error) {
		return c.backend.FetchThumbnailRange(ctx, docID, start, end, c.opts.DPI)
	})
	c.cache = thumbcache.New(fetcher, doc.TotalPages, c.opts.Margin)
	cache := c.cache

	c.tracker = viewport.New(doc.TotalPages, c.opts.EagerPages)
	c.tracker.Subscribe(func(visible []int) {
		// fetches run off the event path so scrolling never blocks
		go func() {
			if err := cache.RequestVisible(context.Background(), visible); err != nil {
				log.Warn().Err(err).Msg("thumbnail fetch failed")
			}
		}()
	})
	c.mu.Unlock()

	log.Info().Str("doc_id", doc.ID).Int("pages", doc.TotalPages).Msg("document loaded")
	return doc, nil
}

type fetchFunc func(ctx context.Context, start, end int) (map[int][]byte, error)

func (f fetchFunc) FetchRange(ctx context.Context, start, end int) (map[int][]byte, error) {
	return f(ctx, start, end)
}

// PageEntered records that page scrolled into view.
func (c *Controller) PageEntered(page int) {
	c.mu.Lock()
	tracker := c.tracker
	c.mu.Unlock()
	if tracker != nil {
		tracker.PageEntered(page)
	}
}

// Thumbnail returns the cached JPEG for page, if fetched.
func (c *Controller) Thumbnail(page int) ([]byte, bool) {
	c.mu.Lock()
	cache := c.cache
	c.mu.Unlock()
	if cache == nil {
		return nil, false
	}
	return cache.Get(page)
}

// Selection exposes the page selection of the current document; nil before
// the first LoadDocument.
func (c *Controller) Selection() *selection.Model {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.selection
}

// Document returns the loaded document, if any.
func (c *Controller) Document() (document.Document, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.doc == nil {
		return document.Document{}, false
	}
	return *c.doc, true
}

// Ready probes the backend's capability to extract. Callers check it before
// offering the extract action so an unavailable backend degrades the UI up
// front instead of failing at click time.
func (c *Controller) Ready(ctx context.Context) bool {
	return c.backend.Ready(ctx)
}

// StartExtraction runs the current selection through an extraction session.
func (c *Controller) StartExtraction(engine, quality string) error {
	c.mu.Lock()
	doc := c.doc
	sel := c.selection
	c.mu.Unlock()
	if doc == nil {
		return &client.Error{Kind: client.KindValidation, Message: "no document loaded"}
	}
	return c.session.Start(session.Params{
		DocumentID: doc.ID,
		Pages:      sel.Pages(),
		Engine:     engine,
		Quality:    quality,
	})
}

// CancelExtraction aborts a running extraction; a no-op otherwise.
func (c *Controller) CancelExtraction(ctx context.Context) {
	c.session.Cancel(ctx)
}

// Session exposes the extraction session for state inspection.
func (c *Controller) Session() *session.Session {
	return c.session
}

// Close tears the pipeline down: a running extraction is cancelled, the
// viewport disconnects so stale scroll events go nowhere, and the backend
// releases the loaded document.
func (c *Controller) Close() {
	c.session.Cancel(context.Background())
	c.mu.Lock()
	if c.tracker != nil {
		c.tracker.Close()
	}
	var prev string
	if c.doc != nil {
		prev = c.doc.ID
	}
	c.doc = nil
	c.mu.Unlock()
	if prev != "" {
		if err := c.backend.DeleteDocument(context.Background(), prev); err != nil {
			log.Warn().Err(err).Str("doc_id", prev).Msg("document release failed")
		}
	}
}
