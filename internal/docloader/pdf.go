package docloader

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/ledongthuc/pdf"
)

// PDFLoader extracts plain text per page from PDF bytes.
type PDFLoader struct{}

// NewPDFLoader returns a PDF-backed Loader.
func NewPDFLoader() *PDFLoader {
	return &PDFLoader{}
}

// Load parses the PDF and returns one Page per page that yields text.
// Returns an error for malformed or empty input.
func (l *PDFLoader) Load(ctx context.Context, data []byte) ([]Page, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("empty document")
	}

	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("parse pdf: %w", err)
	}

	var pages []Page
	for i := 1; i <= reader.NumPage(); i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			// Skip pages that fail extraction rather than failing the
			// whole document; an all-bad document still errors below.
			continue
		}
		text = strings.TrimSpace(text)
		if text == "" {
			continue
		}
		pages = append(pages, Page{Text: text, Number: i})
	}

	if len(pages) == 0 {
		return nil, fmt.Errorf("no text extracted")
	}
	return pages, nil
}
