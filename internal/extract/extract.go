package extract

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidDocument marks content that no extractor can parse. It is
// rejected immediately and never retried.
var ErrInvalidDocument = errors.New("invalid document")

// Extractor turns raw file bytes into per-page text. Page splits feed
// the normalizer's page-offset table.
type Extractor interface {
	CanExtract(filename, contentType string) bool
	Extract(data []byte) (pages []string, err error)
}

// Registry dispatches to the first extractor that accepts the upload.
type Registry struct {
	extractors []Extractor
}

func NewRegistry(extractors ...Extractor) *Registry {
	return &Registry{extractors: extractors}
}

// DefaultRegistry handles PDF uploads and HTML patent publications.
func DefaultRegistry() *Registry {
	return NewRegistry(NewPDFExtractor(), NewHTMLExtractor())
}

// Supports reports whether any extractor accepts the upload, letting
// the API reject unsupported types before a job is created.
func (r *Registry) Supports(filename, contentType string) bool {
	for _, ex := range r.extractors {
		if ex.CanExtract(filename, contentType) {
			return true
		}
	}
	return false
}

func (r *Registry) Extract(data []byte, filename, contentType string) ([]string, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty file", ErrInvalidDocument)
	}

	for _, ex := range r.extractors {
		if !ex.CanExtract(filename, contentType) {
			continue
		}
		pages, err := ex.Extract(data)
		if err != nil {
			return nil, err
		}
		if allBlank(pages) {
			return nil, fmt.Errorf("%w: no extractable text", ErrInvalidDocument)
		}
		return pages, nil
	}

	return nil, fmt.Errorf("%w: unsupported content type %q", ErrInvalidDocument, contentType)
}

func allBlank(pages []string) bool {
	for _, p := range pages {
		if strings.TrimSpace(p) != "" {
			return false
		}
	}
	return true
}
