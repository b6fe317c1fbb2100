package intake

import (
	"bytes"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/pdfcpu/pdfcpu/pkg/api"

	"github.com/mwhitford/cabinet/internal/extract"
)

// Accepted upload types. Anything else is refused before the pipeline
// starts, so the extraction service never sees an invalid file.
var acceptedContentTypes = map[string]bool{
	"application/pdf": true,
	"image/jpeg":      true,
	"image/png":       true,
	"image/webp":      true,
}

var extensionContentTypes = map[string]string{
	".pdf":  "application/pdf",
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".png":  "image/png",
	".webp": "image/webp",
}

// validateFile checks type and size locally and, for PDFs, that the file
// actually parses. Returns a ValidationError on any refusal; no network
// call happens before this passes.
func validateFile(file extract.File, maxBytes int64) error {
	ct := normalizeContentType(file)
	if ct == "" {
		return &extract.ValidationError{
			Reason: fmt.Sprintf("unsupported file type %q; accepted: PDF, JPEG, PNG, WEBP", file.ContentType),
		}
	}

	if file.Size() == 0 {
		return &extract.ValidationError{Reason: "file is empty"}
	}
	if file.Size() > maxBytes {
		return &extract.ValidationError{
			Reason: fmt.Sprintf("file is %d bytes; maximum accepted size is %d bytes", file.Size(), maxBytes),
		}
	}

	if ct == "application/pdf" {
		if _, err := api.PageCount(bytes.NewReader(file.Data), nil); err != nil {
			return &extract.ValidationError{Reason: fmt.Sprintf("PDF could not be read: %v", err)}
		}
	}

	return nil
}

// normalizeContentType resolves the effective content type from the
// declared type, falling back to the file extension. Returns "" when the
// type is not accepted.
func normalizeContentType(file extract.File) string {
	ct := strings.ToLower(strings.TrimSpace(file.ContentType))
	if i := strings.Index(ct, ";"); i >= 0 {
		ct = strings.TrimSpace(ct[:i])
	}
	if acceptedContentTypes[ct] {
		return ct
	}
	if byExt, ok := extensionContentTypes[strings.ToLower(filepath.Ext(file.Name))]; ok && (ct == "" || ct == "application/octet-stream") {
		return byExt
	}
	return ""
}

// isImage reports whether the file takes the fast path.
func isImage(contentType string) bool {
	return strings.HasPrefix(contentType, "image/")
}
