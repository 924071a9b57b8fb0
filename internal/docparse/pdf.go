package docparse

import (
	"bytes"
	"compress/zlib"
	"fmt"
	"io"
	"regexp"
	"strconv"
	"strings"
)

// PDF text extraction is best-effort: content streams are located, inflated
// when Flate-encoded, and the literal-string show operators (Tj, TJ, ', ")
// are collected. CID-keyed fonts without a ToUnicode map cannot be decoded
// without a full PDF renderer, which nothing in this corpus carries.

var (
	pdfStreamRe = regexp.MustCompile(`(?s)stream\r?\n(.*?)endstream`)
	pdfShowRe   = regexp.MustCompile(`\(((?:\\.|[^\\()])*)\)\s*(?:Tj|'|")`)
	pdfArrayRe  = regexp.MustCompile(`\[((?:\((?:\\.|[^\\()])*\)|[^\]])*)\]\s*TJ`)
	pdfLitRe    = regexp.MustCompile(`\(((?:\\.|[^\\()])*)\)`)
)

func extractPDF(data []byte) (string, error) {
	if !bytes.HasPrefix(data, []byte("%PDF-")) {
		return "", fmt.Errorf("missing %%PDF header")
	}

	var b strings.Builder
	for _, m := range pdfStreamRe.FindAllSubmatch(data, -1) {
		content := m[1]
		if inflated, err := inflate(content); err == nil {
			content = inflated
		}
		collectShowOperators(content, &b)
	}
	return b.String(), nil
}

func inflate(data []byte) ([]byte, error) {
	zr, err := zlib.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer zr.Close()
	return io.ReadAll(zr)
}

func collectShowOperators(content []byte, b *strings.Builder) {
	for _, m := range pdfShowRe.FindAllSubmatch(content, -1) {
		b.WriteString(unescapePDFString(string(m[1])))
		b.WriteByte('\n')
	}
	for _, m := range pdfArrayRe.FindAllSubmatch(content, -1) {
		for _, lit := range pdfLitRe.FindAllSubmatch(m[1], -1) {
			b.WriteString(unescapePDFString(string(lit[1])))
		}
		b.WriteByte('\n')
	}
}

// unescapePDFString resolves the PDF literal-string escapes: \n \r \t \b \f,
// \( \) \\, line continuations, and octal codes.
func unescapePDFString(s string) string {
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c != '\\' {
			b.WriteByte(c)
			continue
		}
		i++
		if i >= len(s) {
			break
		}
		switch s[i] {
		case 'n':
			b.WriteByte('\n')
		case 'r':
			b.WriteByte('\r')
		case 't':
			b.WriteByte('\t')
		case 'b', 'f':
			// Rare in text output; drop.
		case '\n':
			// Line continuation.
		case '(', ')', '\\':
			b.WriteByte(s[i])
		default:
			if s[i] >= '0' && s[i] <= '7' {
				end := i + 1
				for end < len(s) && end < i+3 && s[end] >= '0' && s[end] <= '7' {
					end++
				}
				if v, err := strconv.ParseUint(s[i:end], 8, 16); err == nil && v < 256 {
					b.WriteByte(byte(v))
				}
				i = end - 1
			} else {
				b.WriteByte(s[i])
			}
		}
	}
	return b.String()
}

// extractDOC pulls printable runs out of a legacy Word binary. The OLE
// compound format interleaves text with binary records; runs of printable
// UTF-16LE and Latin-1 characters cover the usual contract bodies.
func extractDOC(data []byte) string {
	var b strings.Builder

	// UTF-16LE runs (covers CJK text in modern .doc files).
	var run []uint16
	flush := func() {
		if len(run) >= 4 {
			for _, u := range run {
				b.WriteRune(rune(u))
			}
			b.WriteByte('\n')
		}
		run = run[:0]
	}
	for i := 0; i+1 < len(data); i += 2 {
		u := uint16(data[i]) | uint16(data[i+1])<<8
		if isPrintableUTF16(u) {
			run = append(run, u)
		} else {
			flush()
		}
	}
	flush()

	return b.String()
}

func isPrintableUTF16(u uint16) bool {
	if u == '\n' || u == '\t' {
		return true
	}
	if u >= 0x20 && u < 0x7F {
		return true
	}
	// CJK Unified Ideographs, punctuation, fullwidth forms.
	if (u >= 0x4E00 && u <= 0x9FFF) || (u >= 0x3000 && u <= 0x303F) || (u >= 0xFF00 && u <= 0xFFEF) {
		return true
	}
	return false
}
