package render

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image"
	"image/draw"
	"image/jpeg"

	"github.com/gen2brain/go-fitz"
	"github.com/rs/zerolog/log"
)

// Options controls thumbnail rendering.
type Options struct {
	DPI       int
	Quality   int
	Grayscale bool
}

// Renderer renders document pages to JPEG thumbnails via go-fitz.
type Renderer struct {
	opts Options
}

// New creates a Renderer with the given defaults.
func New(opts Options) *Renderer {
	if opts.DPI <= 0 {
		opts.DPI = 96
	}
	if opts.Quality <= 0 {
		opts.Quality = 70
	}
	return &Renderer{opts: opts}
}

// PageJPEG renders one page (1-based) of the document at path as an in-memory
// JPEG. dpi overrides the default when positive. Returns bytes, width, height.
func (r *Renderer) PageJPEG(path string, page, dpi int) ([]byte, int, int, error) {
	if dpi <= 0 {
		dpi = r.opts.DPI
	}

	doc, err := fitz.New(path)
	if err != nil {
		return nil, 0, 0, fmt.Errorf("failed to open document: %w", err)
	}
	defer doc.Close()

	if page < 1 || page > doc.NumPage() {
		return nil, 0, 0, fmt.Errorf("page %d out of range (document has %d pages)", page, doc.NumPage())
	}

	// go-fitz uses 0-based indexing
	img, err := doc.ImageDPI(page-1, float64(dpi))
	if err != nil {
		return nil, 0, 0, fmt.Errorf("failed to render page %d: %w", page, err)
	}

	bounds := img.Bounds()
	width := bounds.Dx()
	height := bounds.Dy()

	var finalImg image.Image = img
	if r.opts.Grayscale {
		grayImg := image.NewGray(bounds)
		draw.Draw(grayImg, bounds, img, image.Point{}, draw.Src)
		finalImg = grayImg
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, finalImg, &jpeg.Options{Quality: r.opts.Quality}); err != nil {
		return nil, 0, 0, fmt.Errorf("failed to encode JPEG: %w", err)
	}

	log.Debug().
		Int("page", page).
		Int("width", width).
		Int("height", height).
		Int("jpeg_size", buf.Len()).
		Int("dpi", dpi).
		Msg("rendered page thumbnail")

	return buf.Bytes(), width, height, nil
}

// EncodeToBase64 converts binary data to a base64 string for the wire.
func EncodeToBase64(data []byte) string {
	return base64.StdEncoding.EncodeToString(data)
}

// DecodeFromBase64 converts a base64 string back to binary data.
func DecodeFromBase64(b64 string) ([]byte, error) {
	return base64.StdEncoding.DecodeString(b64)
}
