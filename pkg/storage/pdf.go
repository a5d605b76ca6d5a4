package storage

import (
	"bytes"
	"fmt"

	"github.com/pdfcpu/pdfcpu/pkg/api"
)

// PDFInspector checks that uploaded PDFs can actually be parsed.
type PDFInspector struct{}

// NewPDFInspector returns a pdfcpu backed inspector.
func NewPDFInspector() *PDFInspector {
	return &PDFInspector{}
}

// PageCount parses data and returns its page count.
func (PDFInspector) PageCount(data []byte) (int, error) {
	count, err := api.PageCount(bytes.NewReader(data), nil)
	if err != nil {
		return 0, fmt.Errorf("parse pdf: %w", err)
	}
	if count <= 0 {
		return 0, fmt.Errorf("parse pdf: document has no pages")
	}
	return count, nil
}
