package extract

import (
	"fmt"
	"strings"

	fitz "github.com/gen2brain/go-fitz"
	"github.com/rs/zerolog/log"
)

// Quality profiles for page text extraction. "high" runs the cleanup pass
// (headers, footers, broken-line repair); "draft" returns raw go-fitz output.
const (
	QualityHigh  = "high"
	QualityDraft = "draft"
)

// Extractor pulls per-page text out of PDF documents via go-fitz.
type Extractor struct{}

// New creates an Extractor. go-fitz is embedded, so there is nothing to probe.
func New() *Extractor { return &Extractor{} }

// PageCount returns the number of pages in the document at path.
func (e *Extractor) PageCount(path string) (int, error) {
	doc, err := fitz.New(path)
	if err != nil {
		return 0, fmt.Errorf("failed to open document: %w", err)
	}
	defer doc.Close()
	return doc.NumPage(), nil
}

// PageText extracts the text of one page (1-based). The quality profile
// decides whether the cleanup pass runs.
func (e *Extractor) PageText(path string, page int, quality string) (string, error) {
	doc, err := fitz.New(path)
	if err != nil {
		return "", fmt.Errorf("failed to open document: %w", err)
	}
	defer doc.Close()

	idx := page - 1
	if idx < 0 || idx >= doc.NumPage() {
		return "", fmt.Errorf("page %d out of range (document has %d pages)", page, doc.NumPage())
	}

	raw, err := doc.Text(idx)
	if err != nil {
		return "", fmt.Errorf("failed to extract text from page %d: %w", page, err)
	}

	if quality == QualityDraft {
		return strings.TrimSpace(raw), nil
	}

	cleaned := CleanPageText(raw, page)
	log.Debug().
		Int("page", page).
		Int("raw_chars", len(raw)).
		Int("cleaned_chars", len(cleaned)).
		Msg("extracted page text")
	return cleaned, nil
}

// WordCount counts whitespace-separated tokens.
func WordCount(s string) int {
	return len(strings.Fields(s))
}

// CleanPageText strips page-number lines, header/footer boilerplate and noise
// from raw extracted text, then repairs sentences broken across lines.
func CleanPageText(text string, pageNum int) string {
	var kept []string
	for _, line := range strings.Split(text, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}
		if isPageNumberLine(trimmed, pageNum) {
			continue
		}
		if isHeaderFooter(trimmed) {
			continue
		}
		if isNoise(trimmed) {
			continue
		}
		kept = append(kept, line)
	}
	return strings.TrimSpace(fixBrokenLines(strings.Join(kept, "\n")))
}

func isPageNumberLine(line string, pageNum int) bool {
	if line == fmt.Sprintf("%d", pageNum) {
		return true
	}
	for _, pattern := range []string{
		fmt.Sprintf("Page %d", pageNum),
		fmt.Sprintf("- %d -", pageNum),
		fmt.Sprintf("[%d]", pageNum),
	} {
		if strings.EqualFold(line, pattern) {
			return true
		}
	}
	return false
}

func isHeaderFooter(line string) bool {
	if len(line) < 3 {
		return true
	}

	// short all-caps lines of one or two words are almost always headers
	if len(line) < 50 && strings.ToUpper(line) == line {
		if len(strings.Fields(line)) <= 2 {
			return true
		}
	}

	upperLine := strings.ToUpper(line)
	for _, pattern := range []string{"CONFIDENTIAL", "COPYRIGHT", "ALL RIGHTS RESERVED", "PROPRIETARY"} {
		if strings.Contains(upperLine, pattern) && len(line) < 100 {
			return true
		}
	}
	return false
}

func isNoise(line string) bool {
	for _, r := range line {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			return false
		}
	}
	return true
}

// fixBrokenLines joins a line to the next one when the first does not end a
// sentence and the next starts lowercase.
func fixBrokenLines(text string) string {
	lines := strings.Split(text, "\n")
	var fixed []string

	for i := 0; i < len(lines); i++ {
		line := lines[i]

		if i < len(lines)-1 {
			trimmed := strings.TrimSpace(line)
			next := strings.TrimSpace(lines[i+1])

			if trimmed != "" && next != "" {
				last := trimmed[len(trimmed)-1]
				sentenceEnd := last == '.' || last == '!' || last == '?' || last == ':' || last == ';'
				if !sentenceEnd && !strings.HasSuffix(trimmed, "-") {
					first := next[0]
					if first >= 'a' && first <= 'z' {
						fixed = append(fixed, trimmed+" "+next)
						i++
						continue
					}
				}
			}
		}
		fixed = append(fixed, line)
	}
	return strings.Join(fixed, "\n")
}
