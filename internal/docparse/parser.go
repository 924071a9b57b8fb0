// Package docparse extracts plain UTF-8 text from uploaded document streams.
// Supported formats: PDF, DOCX, DOC, TXT, MD (detected from the filename
// extension, case-insensitive).
package docparse

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"legalrag/internal/fault"
	"legalrag/internal/logging"
	"legalrag/internal/textproc"
)

// Sentinel errors. Callers branch on these to shape 400 responses.
var (
	ErrUnsupportedFormat = errors.New("unsupported document format")
	ErrEmptyDocument     = errors.New("document contains no extractable text")
	ErrTooLarge          = errors.New("document exceeds size limit")
)

// DefaultMaxSize is the upload ceiling (50 MB).
const DefaultMaxSize = 50 << 20

// Parser extracts text from document streams.
type Parser struct {
	maxSize int64
}

// NewParser builds a Parser with the given size limit (bytes).
// limit <= 0 uses DefaultMaxSize.
func NewParser(maxSize int64) *Parser {
	if maxSize <= 0 {
		maxSize = DefaultMaxSize
	}
	return &Parser{maxSize: maxSize}
}

// SupportedExtensions lists the accepted filename suffixes.
func SupportedExtensions() []string {
	return []string{".pdf", ".docx", ".doc", ".txt", ".md"}
}

// Supported reports whether the filename has an accepted extension.
func Supported(filename string) bool {
	ext := strings.ToLower(filepath.Ext(filename))
	for _, s := range SupportedExtensions() {
		if ext == s {
			return true
		}
	}
	return false
}

// Parse reads the stream and returns cleaned plain text.
func (p *Parser) Parse(r io.Reader, filename string, size int64) (string, error) {
	timer := logging.StartTimer(logging.CategoryParser, "Parse")
	defer timer.Stop()

	if size > p.maxSize {
		logging.Parser("Rejecting oversize document %s: %d bytes (limit %d)", filename, size, p.maxSize)
		return "", fault.Wrap(fault.KindTooLarge, ErrTooLarge, "%s is %d bytes, limit %d", filename, size, p.maxSize)
	}

	ext := strings.ToLower(filepath.Ext(filename))

	// Read with a hard cap one byte past the limit so undeclared sizes are
	// still bounded.
	data, err := io.ReadAll(io.LimitReader(r, p.maxSize+1))
	if err != nil {
		return "", fmt.Errorf("failed to read %s: %w", filename, err)
	}
	if int64(len(data)) > p.maxSize {
		return "", fault.Wrap(fault.KindTooLarge, ErrTooLarge, "%s exceeds limit %d", filename, p.maxSize)
	}

	var text string
	switch ext {
	case ".txt", ".md":
		text = string(data)
	case ".pdf":
		text, err = extractPDF(data)
	case ".docx":
		text, err = extractDOCX(bytes.NewReader(data), int64(len(data)))
	case ".doc":
		text = extractDOC(data)
	default:
		logging.Parser("Unsupported extension %q for %s", ext, filename)
		return "", fault.Wrap(fault.KindUnsupportedFormat, ErrUnsupportedFormat, "extension %q", ext)
	}
	if err != nil {
		return "", fault.Wrap(fault.KindParseFailure, err, "failed to extract text from %s", filename)
	}

	text = textproc.Clean(text)
	if text == "" {
		logging.Parser("Document %s parsed to empty text", filename)
		return "", fault.Wrap(fault.KindEmptyInput, ErrEmptyDocument, "%s", filename)
	}

	logging.ParserDebug("Parsed %s: %d bytes -> %d chars", filename, len(data), len(text))
	return text, nil
}
