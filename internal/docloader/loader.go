// Package docloader extracts ordered page text from uploaded documents.
package docloader

import "context"

// Page is one unit of extracted text. Number is 1-based, matching how
// pages are cited back to the user.
type Page struct {
	Text   string
	Number int
}

// Loader turns raw document bytes into an ordered page sequence.
// Pages with no extractable text are omitted.
type Loader interface {
	Load(ctx context.Context, data []byte) ([]Page, error)
}
