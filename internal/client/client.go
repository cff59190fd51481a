package client

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/local/docextract/internal/document"
)

// Client talks to the docextract HTTP API. All operations classify their
// failures through the package error taxonomy before returning.
type Client struct {
	baseURL string
	http    *http.Client
	// streaming requests must not inherit the short default timeout
	streamHTTP *http.Client
}

// New creates a Client against baseURL. timeout bounds non-streaming
// requests; extraction streams run until done or cancelled.
func New(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		http:       &http.Client{Timeout: timeout},
		streamHTTP: &http.Client{},
	}
}

// UploadDocument sends the file at path to the backend and returns the
// document metadata the backend derived from it. Basic validation happens
// here, before any bytes hit the network.
func (c *Client) UploadDocument(ctx context.Context, path string) (document.Document, error) {
	var doc document.Document

	info, err := os.Stat(path)
	if err != nil {
		return doc, &Error{Kind: KindValidation, Message: fmt.Sprintf("cannot read file: %v", err), Err: err}
	}
	if info.IsDir() {
		return doc, &Error{Kind: KindValidation, Message: "path is a directory"}
	}
	if info.Size() == 0 {
		return doc, &Error{Kind: KindValidation, Message: "file is empty"}
	}

	f, err := os.Open(path)
	if err != nil {
		return doc, Classify(err)
	}
	defer f.Close()

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", filepath.Base(path))
	if err != nil {
		return doc, Classify(err)
	}
	if _, err := io.Copy(part, f); err != nil {
		return doc, Classify(err)
	}
	if err := mw.Close(); err != nil {
		return doc, Classify(err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/documents", &body)
	if err != nil {
		return doc, Classify(err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	var resp struct {
		Success      bool   `json:"success"`
		DocumentID   string `json:"document_id"`
		TotalPages   int    `json:"total_pages"`
		Kind         string `json:"kind"`
		IsPDF        bool   `json:"is_pdf"`
		NeedsOCR     bool   `json:"needs_ocr"`
		SizeBytes    int64  `json:"size_bytes"`
		ErrorMessage string `json:"error_message"`
	}
	if err := c.doJSON(req, &resp); err != nil {
		return doc, Classify(err)
	}
	if !resp.Success {
		return doc, &Error{Kind: KindValidation, Message: resp.ErrorMessage}
	}
	doc = document.Document{
		ID:         resp.DocumentID,
		TotalPages: resp.TotalPages,
		Kind:       resp.Kind,
		IsPDF:      resp.IsPDF,
		NeedsOCR:   resp.NeedsOCR,
		SizeBytes:  resp.SizeBytes,
	}
	return doc, nil
}

// Metadata fetches the stored metadata for an already-uploaded document.
func (c *Client) Metadata(ctx context.Context, docID string) (document.Document, error) {
	var doc document.Document
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/documents/"+url.PathEscape(docID), nil)
	if err != nil {
		return doc, Classify(err)
	}
	if err := c.doJSON(req, &doc); err != nil {
		return doc, Classify(err)
	}
	return doc, nil
}

type thumbnailEntry struct {
	Page   int    `json:"page"`
	Data   string `json:"data"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
}

type thumbnailResponse struct {
	DocumentID string           `json:"document_id"`
	Thumbnails []thumbnailEntry `json:"thumbnails"`
}

// FetchThumbnailRange requests JPEG thumbnails for the inclusive page range.
// Pages the backend chose to skip are simply absent from the result; that is
// not an error. dpi <= 0 lets the backend pick its default.
func (c *Client) FetchThumbnailRange(ctx context.Context, docID string, start, end, dpi int) (map[int][]byte, error) {
	if start < 1 || end < start {
		return nil, &Error{Kind: KindValidation, Message: fmt.Sprintf("invalid page range %d-%d", start, end)}
	}

	u := fmt.Sprintf("%s/api/documents/%s/thumbnails?range=%d-%d", c.baseURL, url.PathEscape(docID), start, end)
	if dpi > 0 {
		u += fmt.Sprintf("&dpi=%d", dpi)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, Classify(err)
	}

	var resp thumbnailResponse
	if err := c.doJSON(req, &resp); err != nil {
		return nil, Classify(err)
	}

	out := make(map[int][]byte, len(resp.Thumbnails))
	for _, t := range resp.Thumbnails {
		raw, err := base64.StdEncoding.DecodeString(t.Data)
		if err != nil || len(raw) == 0 {
			// a corrupt entry degrades to a soft miss for that page
			continue
		}
		out[t.Page] = raw
	}
	return out, nil
}

// DeleteDocument releases a document on the backend: registry record, cached
// thumbnails and the uploaded file. Safe to call for unknown ids.
func (c *Client) DeleteDocument(ctx context.Context, docID string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, c.baseURL+"/api/documents/"+url.PathEscape(docID), nil)
	if err != nil {
		return Classify(err)
	}
	if err := c.doJSON(req, nil); err != nil {
		var httpErr *HTTPError
		if errors.As(err, &httpErr) && httpErr.StatusCode == http.StatusNotFound {
			return nil
		}
		return Classify(err)
	}
	return nil
}

// PreviewPage fetches the plain-text preview of one page of a text document.
// Text files have no physical pages; the backend chunks them by size.
func (c *Client) PreviewPage(ctx context.Context, docID string, page int) (string, error) {
	u := fmt.Sprintf("%s/api/documents/%s/preview?page=%d", c.baseURL, url.PathEscape(docID), page)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return "", Classify(err)
	}
	var resp struct {
		TotalPages int `json:"total_pages"`
		Pages      []struct {
			PageNumber int    `json:"page_number"`
			Preview    string `json:"preview"`
			WordCount  int    `json:"word_count"`
		} `json:"pages"`
		FormatType string `json:"format_type"`
	}
	if err := c.doJSON(req, &resp); err != nil {
		return "", Classify(err)
	}
	for _, p := range resp.Pages {
		if p.PageNumber == page {
			return p.Preview, nil
		}
	}
	return "", &Error{Kind: KindValidation, Message: fmt.Sprintf("preview has no page %d (of %d)", page, resp.TotalPages)}
}

type extractRequest struct {
	Pages   []int  `json:"pages"`
	Engine  string `json:"engine,omitempty"`
	Quality string `json:"quality,omitempty"`
}

// OpenExtraction starts an extraction over the given pages and returns the
// live event stream. The stream stays open until a terminal event arrives,
// the context is cancelled, or Close is called.
func (c *Client) OpenExtraction(ctx context.Context, docID string, pages []int, engine, quality string) (*EventStream, error) {
	if len(pages) == 0 {
		return nil, &Error{Kind: KindValidation, Message: "no pages selected"}
	}

	body, err := json.Marshal(extractRequest{Pages: pages, Engine: engine, Quality: quality})
	if err != nil {
		return nil, Classify(err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/documents/"+url.PathEscape(docID)+"/extract", bytes.NewReader(body))
	if err != nil {
		return nil, Classify(err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.streamHTTP.Do(req)
	if err != nil {
		return nil, Classify(err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		return nil, Classify(httpErrorFrom(resp))
	}
	return newEventStream(resp.Body, resp.Header.Get("X-Session-ID")), nil
}

// CancelSession asks the backend to stop an in-progress extraction. Safe to
// call for sessions that already finished.
func (c *Client) CancelSession(ctx context.Context, sessionID string) error {
	body, _ := json.Marshal(map[string]string{"session_id": sessionID})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/webhook/cancel_session", bytes.NewReader(body))
	if err != nil {
		return Classify(err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return Classify(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return Classify(httpErrorFrom(resp))
	}
	return nil
}

// Ready probes the backend readiness endpoint.
func (c *Client) Ready(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/ready", nil)
	if err != nil {
		return false
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	return resp.StatusCode == http.StatusOK
}

func (c *Client) doJSON(req *http.Request, out interface{}) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return httpErrorFrom(resp)
	}
	if out == nil {
		io.Copy(io.Discard, resp.Body)
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func httpErrorFrom(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	msg := strings.TrimSpace(string(raw))
	// backends answer JSON {"error": "..."}; fall back to the raw body
	var j struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(raw, &j); err == nil && j.Error != "" {
		msg = j.Error
	}
	if msg == "" {
		msg = http.StatusText(resp.StatusCode)
	}
	return &HTTPError{StatusCode: resp.StatusCode, Body: msg}
}
