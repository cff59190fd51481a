package document

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestEnsureLocal_LocalRefs(t *testing.T) {
	t.Run("plain_path", func(t *testing.T) {
		p, tmp, err := EnsureLocal(context.Background(), "/data/report.pdf")
		if err != nil {
			t.Fatalf("EnsureLocal() error = %v", err)
		}
		if p != "/data/report.pdf" || tmp != "" {
			t.Errorf("got (%q, %q), want local path with no temp", p, tmp)
		}
	})

	t.Run("file_scheme", func(t *testing.T) {
		p, _, err := EnsureLocal(context.Background(), "file:///data/report.pdf")
		if err != nil {
			t.Fatalf("EnsureLocal() error = %v", err)
		}
		if p != "/data/report.pdf" {
			t.Errorf("path = %q, want scheme stripped", p)
		}
	})

	t.Run("page_fragment_stripped", func(t *testing.T) {
		p, _, err := EnsureLocal(context.Background(), "/data/report.pdf#page=7")
		if err != nil {
			t.Fatalf("EnsureLocal() error = %v", err)
		}
		if strings.Contains(p, "#") {
			t.Errorf("path = %q, fragment should be stripped", p)
		}
	})

	t.Run("invalid_s3_url", func(t *testing.T) {
		if _, _, err := EnsureLocal(context.Background(), "s3://bucketonly"); err == nil {
			t.Fatal("expected error for s3 url without key")
		}
	})
}

func TestLoader_TextDocument(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "notes.txt")
	content := "plain text document\nwith two lines\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	doc, err := NewLoader(30*time.Second).Load(context.Background(), path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if doc.ID == "" {
		t.Error("document id not assigned")
	}
	if doc.IsPDF {
		t.Error("IsPDF = true for a text file")
	}
	if doc.TotalPages != 1 {
		t.Errorf("TotalPages = %d, want 1 pseudo-page", doc.TotalPages)
	}
	if doc.SizeBytes != int64(len(content)) {
		t.Errorf("SizeBytes = %d, want %d", doc.SizeBytes, len(content))
	}
}

func TestLoader_RejectsUnsupported(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "blob.bin")
	// PNG magic makes mimetype classify this as an image, which the service
	// cannot extract without the external OCR path
	if err := os.WriteFile(path, []byte("\x89PNG\r\n\x1a\n0000000"), 0o644); err != nil {
		t.Fatal(err)
	}

	_, err := NewLoader(30*time.Second).Load(context.Background(), path)
	if err == nil {
		t.Fatal("expected validation error for unsupported format")
	}
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Errorf("error = %v, want *ValidationError", err)
	}
}
