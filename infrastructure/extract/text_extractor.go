// Package extract turns uploaded document bytes into page text.
package extract

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/gabriel-vasile/mimetype"
	"golang.org/x/text/encoding/charmap"

	"github.com/rajfnu/answer-sheet-marker-sub000/internal/domain"
	"github.com/rajfnu/answer-sheet-marker-sub000/internal/ports"
)

// ErrUnsupportedDocument is returned for file types the extractor cannot
// read, such as PDFs and scanned images that need OCR.
var ErrUnsupportedDocument = errors.New("unsupported document type")

// DefaultMaxBytes caps the size of an uploaded document.
const DefaultMaxBytes = 10 << 20

// TextExtractor reads plain text and markdown documents. Pages are separated
// by form feeds, which is how most PDF-to-text tools mark page breaks.
// Output depends only on the input bytes.
type TextExtractor struct {
	MaxBytes int
}

var _ ports.DocumentExtractor = (*TextExtractor)(nil)

// NewTextExtractor creates a TextExtractor with the default size cap.
func NewTextExtractor() *TextExtractor {
	return &TextExtractor{MaxBytes: DefaultMaxBytes}
}

// Extract implements ports.DocumentExtractor.
func (e *TextExtractor) Extract(ctx context.Context, data []byte) (ports.Document, error) {
	if err := ctx.Err(); err != nil {
		return ports.Document{}, err
	}
	if e.MaxBytes > 0 && len(data) > e.MaxBytes {
		return ports.Document{}, fmt.Errorf("document is %d bytes, limit is %d", len(data), e.MaxBytes)
	}

	mime := mimetype.Detect(data)
	switch {
	case mime.Is("text/plain"), mime.Is("text/markdown"), mime.Is("text/csv"):
	case strings.HasPrefix(mime.String(), "image/"):
		return ports.Document{Scanned: true}, fmt.Errorf("%w: %s needs OCR", ErrUnsupportedDocument, mime.String())
	default:
		return ports.Document{}, fmt.Errorf("%w: %s", ErrUnsupportedDocument, mime.String())
	}

	text, err := decode(data)
	if err != nil {
		return ports.Document{}, err
	}

	pages := splitPages(text)
	if len(pages) == 0 {
		return ports.Document{}, domain.ErrEmptyDocument
	}
	return ports.Document{Pages: pages}, nil
}

// decode returns data as UTF-8, stripping a byte order mark. Bytes that are
// not valid UTF-8 are read as Windows-1252, the usual encoding of exported
// office documents.
func decode(data []byte) (string, error) {
	data = bytes.TrimPrefix(data, []byte("\xef\xbb\xbf"))
	if utf8.Valid(data) {
		return string(data), nil
	}
	out, err := charmap.Windows1252.NewDecoder().Bytes(data)
	if err != nil {
		return "", fmt.Errorf("failed to decode document: %w", err)
	}
	return string(out), nil
}

func splitPages(text string) []string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")

	var pages []string
	for _, page := range strings.Split(text, "\f") {
		lines := strings.Split(page, "\n")
		for i, line := range lines {
			lines[i] = strings.TrimRight(line, " \t")
		}
		page = strings.Trim(strings.Join(lines, "\n"), "\n")
		if strings.TrimSpace(page) != "" {
			pages = append(pages, page)
		}
	}
	return pages
}
