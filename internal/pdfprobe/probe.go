package pdfprobe

import (
	"errors"
	"fmt"
	"math/rand"
	"regexp"
	"sort"
	"time"
)

// PageProbe captures the result of probing a single PDF page.
type PageProbe struct {
	PageIndex int    `json:"page_index"`
	CharCount int    `json:"char_count"`
	Err       string `json:"err,omitempty"`
}

// Diagnostics describes a text-layer probe in detail. It feeds the
// needs_ocr flag in document metadata and shows up in debug logs.
type Diagnostics struct {
	FilePath           string      `json:"file_path"`
	TotalPages         int         `json:"total_pages"`
	SampledPages       []int       `json:"sampled_pages"`
	TotalCharsInSample int         `json:"total_chars_in_sample"`
	Threshold          int         `json:"threshold"`
	Probes             []PageProbe `json:"probes"`
	HasTextLayer       bool        `json:"has_text_layer"`
	DurationMs         int64       `json:"duration_ms"`
}

// DefaultThreshold is used when a non-positive threshold is passed in.
const DefaultThreshold = 300

var whitespaceRegex = regexp.MustCompile(`\s+`)

func stripWhitespace(s string) string {
	return whitespaceRegex.ReplaceAllString(s, "")
}

// Doc abstracts a PDF document for probing.
type Doc interface {
	NumPage() int
	PageText(i int) (string, error)
	Close() error
}

// Opener abstracts opening a PDF path into a Doc.
type Opener interface {
	Open(path string) (Doc, error)
}

// defaultOpener is provided in doc_open_fitz.go using go-fitz.
var defaultOpener Opener

// setDefaultOpener allows swapping the default opener, useful for tests.
func setDefaultOpener(o Opener) { defaultOpener = o }

// HasTextLayer samples a few pages of the PDF at pdfPath and reports whether
// enough non-whitespace characters were found to treat it as text-extractable.
// If threshold <= 0, DefaultThreshold is used.
func HasTextLayer(pdfPath string, threshold int) (bool, *Diagnostics, error) {
	return hasTextLayer(defaultOpener, pdfPath, threshold)
}

func hasTextLayer(opener Opener, pdfPath string, threshold int) (bool, *Diagnostics, error) {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	if opener == nil {
		return false, nil, errors.New("no PDF opener configured")
	}

	start := time.Now()
	d, err := opener.Open(pdfPath)
	if err != nil {
		return false, nil, fmt.Errorf("failed to open PDF: %w", err)
	}
	defer d.Close()

	total := d.NumPage()
	if total <= 0 {
		return false, &Diagnostics{
			FilePath:     pdfPath,
			TotalPages:   total,
			SampledPages: []int{},
			Threshold:    threshold,
			DurationMs:   time.Since(start).Milliseconds(),
		}, nil
	}

	sampleIdx := sampleIndices(total)
	probes := make([]PageProbe, 0, len(sampleIdx))
	totalChars := 0

	for _, idx := range sampleIdx {
		probe := PageProbe{PageIndex: idx}
		text, terr := d.PageText(idx)
		if terr != nil {
			probe.Err = terr.Error()
			probes = append(probes, probe)
			continue
		}
		count := len([]rune(stripWhitespace(text)))
		probe.CharCount = count
		totalChars += count
		probes = append(probes, probe)

		if totalChars >= threshold {
			// early exit for speed
			break
		}
	}

	diag := &Diagnostics{
		FilePath:           pdfPath,
		TotalPages:         total,
		SampledPages:       sampleIdx,
		TotalCharsInSample: totalChars,
		Threshold:          threshold,
		Probes:             probes,
		HasTextLayer:       totalChars >= threshold,
		DurationMs:         time.Since(start).Milliseconds(),
	}
	return diag.HasTextLayer, diag, nil
}

// sampleIndices picks up to 5 pages: first, mid, last, plus random distinct
// ones for larger documents. Documents of 5 pages or fewer are sampled fully.
func sampleIndices(total int) []int {
	if total <= 0 {
		return []int{}
	}
	if total <= 5 {
		idx := make([]int, total)
		for i := 0; i < total; i++ {
			idx[i] = i
		}
		return idx
	}

	mid := total / 2
	base := map[int]struct{}{0: {}, mid: {}, total - 1: {}}

	rnd := rand.New(rand.NewSource(time.Now().UnixNano()))
	for len(base) < 5 {
		cand := rnd.Intn(total)
		if _, ok := base[cand]; ok {
			continue
		}
		base[cand] = struct{}{}
	}

	out := make([]int, 0, 5)
	for i := range base {
		out = append(out, i)
	}
	sort.Ints(out)
	return out
}
