// Package extract pulls plain text out of uploaded documents so it can be
// used as chat context.
package extract

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/ledongthuc/pdf"
)

// ErrUnsupportedFormat is returned for file types we cannot extract text
// from.
var ErrUnsupportedFormat = errors.New("unsupported document format")

// maxDocumentBytes bounds how much of an upload is read for extraction.
const maxDocumentBytes = 32 << 20 // 32 MiB

// Extractor converts a document body into plain text.
type Extractor interface {
	// Text extracts plain text from the document. The filename and
	// content type guide format detection.
	Text(r io.Reader, filename, contentType string) (string, error)
}

// New returns the default extractor, which handles PDF and plain-text
// formats.
func New() Extractor {
	return &defaultExtractor{}
}

type defaultExtractor struct{}

func (e *defaultExtractor) Text(r io.Reader, filename, contentType string) (string, error) {
	data, err := io.ReadAll(io.LimitReader(r, maxDocumentBytes+1))
	if err != nil {
		return "", fmt.Errorf("read document: %w", err)
	}
	if int64(len(data)) > maxDocumentBytes {
		return "", fmt.Errorf("document exceeds %d byte extraction limit", maxDocumentBytes)
	}

	switch {
	case isPDF(data, filename, contentType):
		return pdfText(data)
	case isPlainText(filename, contentType):
		if !utf8.Valid(data) {
			return "", fmt.Errorf("%w: not valid UTF-8 text", ErrUnsupportedFormat)
		}
		return string(data), nil
	default:
		return "", fmt.Errorf("%w: %s", ErrUnsupportedFormat, contentType)
	}
}

func isPDF(data []byte, filename, contentType string) bool {
	if strings.EqualFold(contentType, "application/pdf") {
		return true
	}
	if strings.EqualFold(filepath.Ext(filename), ".pdf") {
		return true
	}
	return bytes.HasPrefix(data, []byte("%PDF-"))
}

func isPlainText(filename, contentType string) bool {
	mt := strings.ToLower(contentType)
	if idx := strings.Index(mt, ";"); idx != -1 {
		mt = strings.TrimSpace(mt[:idx])
	}
	switch mt {
	case "text/plain", "text/markdown", "text/csv", "application/json":
		return true
	}
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".txt", ".md", ".markdown", ".csv", ".json", ".log":
		return true
	}
	return false
}

func pdfText(data []byte) (string, error) {
	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("parse pdf: %w", err)
	}

	textReader, err := reader.GetPlainText()
	if err != nil {
		return "", fmt.Errorf("extract pdf text: %w", err)
	}

	var b strings.Builder
	if _, err := io.Copy(&b, textReader); err != nil {
		return "", fmt.Errorf("read pdf text: %w", err)
	}
	return strings.TrimSpace(b.String()), nil
}
