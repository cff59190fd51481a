package filetype

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/rs/zerolog/log"
)

// Info contains detected file type information.
type Info struct {
	MIMEType    string
	Extension   string
	IsText      bool
	IsPDF       bool
	Supported   bool
	Description string
}

// Detector classifies uploads using magic bytes rather than trusting filenames.
type Detector struct{}

// New creates a new file type detector.
func New() *Detector {
	return &Detector{}
}

// Detect inspects the file at filePath and returns its classification.
func (d *Detector) Detect(filePath string) (*Info, error) {
	mtype, err := mimetype.DetectFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to detect file type: %w", err)
	}

	mimeType := mtype.String()
	extension := mtype.Extension()

	log.Debug().Str("mime", mimeType).Str("ext", extension).Str("file", filePath).Msg("detected file type")

	// ZIP-based Office formats: the container is ZIP, the extension tells us more.
	if mimeType == "application/zip" || strings.Contains(mimeType, "application/x-zip") {
		switch ext := strings.ToLower(filepath.Ext(filePath)); ext {
		case ".docx":
			mimeType = "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
			extension = ext
		case ".xlsx":
			mimeType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
			extension = ext
		case ".pptx":
			mimeType = "application/vnd.openxmlformats-officedocument.presentationml.presentation"
			extension = ext
		case ".odt":
			mimeType = "application/vnd.oasis.opendocument.text"
			extension = ext
		default:
			log.Warn().Str("ext", ext).Msg("ZIP file with unrecognized extension")
		}
	}

	info := &Info{
		MIMEType:  mimeType,
		Extension: extension,
	}
	d.classify(info)
	return info, nil
}

// classify determines what this service can do with the file.
// PDF pages are rendered and extracted directly; text-like content goes
// through the paginated preview path; everything else is rejected up front.
func (d *Detector) classify(info *Info) {
	mimeType := info.MIMEType

	switch {
	case mimeType == "application/pdf":
		info.IsPDF = true
		info.Supported = true
		info.Description = "PDF document"

	case strings.HasPrefix(mimeType, "text/"):
		info.IsText = true
		info.Supported = true
		info.Description = "Plain text file"

	case mimeType == "application/xml":
		info.IsText = true
		info.Supported = true
		info.Description = "XML document"

	case mimeType == "application/json":
		info.IsText = true
		info.Supported = true
		info.Description = "JSON document"

	case strings.HasPrefix(mimeType, "application/vnd.openxmlformats-officedocument."),
		strings.HasPrefix(mimeType, "application/vnd.oasis.opendocument."),
		mimeType == "application/msword",
		mimeType == "application/rtf":
		// Office formats need the external conversion backend before we can
		// render pages; they are rejected here with a pointed message.
		info.Supported = false
		info.Description = "Office document (requires conversion backend)"

	default:
		info.Supported = false
		info.Description = fmt.Sprintf("Unsupported file type: %s", mimeType)
	}
}

// RequiresConversion reports whether the file would need the external
// document-conversion backend before page rendering is possible.
func (d *Detector) RequiresConversion(filePath string) (bool, error) {
	info, err := d.Detect(filePath)
	if err != nil {
		return false, err
	}
	if info.IsPDF || info.IsText {
		return false, nil
	}
	return true, nil
}
