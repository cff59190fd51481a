package client

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestClassify(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want Kind
	}{
		{"nil_context_cancel", context.Canceled, KindCancelled},
		{"deadline", context.DeadlineExceeded, KindTimeout},
		{"timeout_string", errors.New("dial tcp: i/o timeout"), KindTimeout},
		{"conn_refused", errors.New("connect: connection refused"), KindNetwork},
		{"http_400", &HTTPError{StatusCode: 400, Body: "bad range"}, KindValidation},
		{"http_503", &HTTPError{StatusCode: 503, Body: "not ready"}, KindBackendUnavailable},
		{"http_500", &HTTPError{StatusCode: 500, Body: "boom"}, KindNetwork},
		{"unknown", errors.New("something odd"), KindUnknown},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Classify(tc.err); got.Kind != tc.want {
				t.Errorf("Classify(%v).Kind = %v, want %v", tc.err, got.Kind, tc.want)
			}
		})
	}

	t.Run("classified_passthrough", func(t *testing.T) {
		orig := &Error{Kind: KindTimeout, Message: "slow"}
		wrapped := fmt.Errorf("extract: %w", orig)
		if got := Classify(wrapped); got != orig {
			t.Errorf("Classify did not pass through an already-classified error")
		}
	})
}

func TestUploadDocument_ValidatesBeforeNetwork(t *testing.T) {
	// no server running; validation failures must never reach the network
	c := New("http://127.0.0.1:1", time.Second)

	t.Run("missing_file", func(t *testing.T) {
		_, err := c.UploadDocument(context.Background(), "/nonexistent/file.pdf")
		var cerr *Error
		if !errors.As(err, &cerr) || cerr.Kind != KindValidation {
			t.Errorf("err = %v, want validation error", err)
		}
	})

	t.Run("empty_file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "empty.pdf")
		if err := os.WriteFile(path, nil, 0o644); err != nil {
			t.Fatal(err)
		}
		_, err := c.UploadDocument(context.Background(), path)
		var cerr *Error
		if !errors.As(err, &cerr) || cerr.Kind != KindValidation {
			t.Errorf("err = %v, want validation error", err)
		}
	})
}

func TestUploadDocument_RoundTrip(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("parse multipart: %v", err)
		}
		// the kind the server reports is descriptive prose, not a token;
		// is_pdf carries the classification
		json.NewEncoder(w).Encode(map[string]any{
			"success": true, "document_id": "doc9", "total_pages": 4,
			"kind": "PDF document", "is_pdf": true, "size_bytes": 11,
		})
	}))
	defer srv.Close()

	path := filepath.Join(t.TempDir(), "report.pdf")
	if err := os.WriteFile(path, []byte("%PDF-1.4..."), 0o644); err != nil {
		t.Fatal(err)
	}

	c := New(srv.URL, time.Second)
	doc, err := c.UploadDocument(context.Background(), path)
	if err != nil {
		t.Fatalf("UploadDocument: %v", err)
	}
	if doc.ID != "doc9" || doc.TotalPages != 4 {
		t.Errorf("doc = %+v", doc)
	}
	if !doc.IsPDF {
		t.Errorf("IsPDF = false for kind %q with is_pdf set", doc.Kind)
	}
}

func TestFetchThumbnailRange(t *testing.T) {
	jpeg := []byte{0xFF, 0xD8, 0xFF, 0xE0, 0x01}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("range"); got != "3-5" {
			t.Errorf("range = %q, want 3-5", got)
		}
		json.NewEncoder(w).Encode(thumbnailResponse{
			DocumentID: "doc1",
			Thumbnails: []thumbnailEntry{
				{Page: 3, Data: base64.StdEncoding.EncodeToString(jpeg), Width: 120, Height: 160},
				{Page: 5, Data: "!!not-base64!!"},
				// page 4 intentionally absent
			},
		})
	}))
	defer srv.Close()

	c := New(srv.URL, time.Second)
	got, err := c.FetchThumbnailRange(context.Background(), "doc1", 3, 5, 0)
	if err != nil {
		t.Fatalf("FetchThumbnailRange: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("got %d thumbnails, want 1 (missing and corrupt entries skipped)", len(got))
	}
	if string(got[3]) != string(jpeg) {
		t.Errorf("page 3 bytes mismatch")
	}

	t.Run("invalid_range", func(t *testing.T) {
		_, err := c.FetchThumbnailRange(context.Background(), "doc1", 5, 3, 0)
		var cerr *Error
		if !errors.As(err, &cerr) || cerr.Kind != KindValidation {
			t.Errorf("err = %v, want validation error", err)
		}
	})
}

func TestMetadata(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/documents/doc1" {
			t.Errorf("path = %q", r.URL.Path)
		}
		json.NewEncoder(w).Encode(map[string]any{"id": "doc1", "total_pages": 7, "kind": "pdf", "is_pdf": true})
	}))
	defer srv.Close()

	c := New(srv.URL, time.Second)
	doc, err := c.Metadata(context.Background(), "doc1")
	if err != nil {
		t.Fatalf("Metadata: %v", err)
	}
	if doc.ID != "doc1" || doc.TotalPages != 7 || !doc.IsPDF {
		t.Errorf("doc = %+v", doc)
	}
}

func TestPreviewPage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("page"); got != "2" {
			t.Errorf("page = %q, want 2", got)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"total_pages": 3,
			"pages":       []map[string]any{{"page_number": 2, "preview": "second chunk", "word_count": 2}},
			"format_type": "text",
		})
	}))
	defer srv.Close()

	c := New(srv.URL, time.Second)
	text, err := c.PreviewPage(context.Background(), "doc1", 2)
	if err != nil {
		t.Fatalf("PreviewPage: %v", err)
	}
	if text != "second chunk" {
		t.Errorf("text = %q", text)
	}
}

func TestOpenExtraction_StreamRoundTrip(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req extractRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode extract request: %v", err)
		}
		if len(req.Pages) != 2 {
			t.Errorf("pages = %v, want 2 pages", req.Pages)
		}
		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("X-Session-ID", "sess-42")
		fmt.Fprint(w, "data: {\"type\":\"progress\",\"percent\":50,\"message\":\"Extracting page 1 of 2\"}\n\n")
		fmt.Fprint(w, "data: {\"type\":\"result\",\"text\":\"hello world\",\"word_count\":2}\n\n")
	}))
	defer srv.Close()

	c := New(srv.URL, time.Second)
	stream, err := c.OpenExtraction(context.Background(), "doc1", []int{1, 2}, "", "high")
	if err != nil {
		t.Fatalf("OpenExtraction: %v", err)
	}
	defer stream.Close()

	if stream.SessionID() != "sess-42" {
		t.Errorf("SessionID() = %q, want sess-42", stream.SessionID())
	}

	ev, err := stream.Recv()
	if err != nil {
		t.Fatalf("Recv progress: %v", err)
	}
	if ev.Type != "progress" || ev.Percent != 50 {
		t.Errorf("first event = %+v, want progress at 50%%", ev)
	}

	ev, err = stream.Recv()
	if err != nil {
		t.Fatalf("Recv result: %v", err)
	}
	if ev.Type != "result" || ev.Text != "hello world" || ev.WordCount != 2 {
		t.Errorf("result event = %+v", ev)
	}
	if !ev.Terminal() {
		t.Error("result event not terminal")
	}

	if _, err := stream.Recv(); err != io.EOF {
		t.Errorf("Recv after terminal = %v, want io.EOF", err)
	}
}

func TestOpenExtraction_BackendNotReady(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		json.NewEncoder(w).Encode(map[string]string{"error": "extraction backend unavailable"})
	}))
	defer srv.Close()

	c := New(srv.URL, time.Second)
	_, err := c.OpenExtraction(context.Background(), "doc1", []int{1}, "", "")
	var cerr *Error
	if !errors.As(err, &cerr) || cerr.Kind != KindBackendUnavailable {
		t.Errorf("err = %v, want backend unavailable", err)
	}
}

func TestCancelSession(t *testing.T) {
	var gotSession string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		json.NewDecoder(r.Body).Decode(&body)
		gotSession = body["session_id"]
		json.NewEncoder(w).Encode(map[string]string{"status": "cancelled"})
	}))
	defer srv.Close()

	c := New(srv.URL, time.Second)
	if err := c.CancelSession(context.Background(), "sess-7"); err != nil {
		t.Fatalf("CancelSession: %v", err)
	}
	if gotSession != "sess-7" {
		t.Errorf("session_id = %q, want sess-7", gotSession)
	}
}
