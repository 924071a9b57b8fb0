// Package textproc cleans text, estimates tokens, and splits documents into
// overlapping chunks at sentence and punctuation boundaries for embedding.
package textproc

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
	"unicode"

	"legalrag/internal/logging"
)

// Boundary preference classes, strongest first. Chunk ends prefer to land
// just after one of these runes.
var (
	sentenceTerminals = map[rune]bool{'。': true, '!': true, '！': true, '?': true, '？': true, '；': true, ';': true}
	clauseSeparators  = map[rune]bool{',': true, '，': true, '、': true, ':': true, '：': true}
)

// hashPrefixRe matches a 64-hex-digit content hash glued to a filename.
var hashPrefixRe = regexp.MustCompile(`^[0-9a-fA-F]{64}[_\-.]`)

const genericSourceLabel = "知识库文档"

// Processor splits text into overlapping chunks.
type Processor struct {
	chunkSize    int // window, runes
	chunkOverlap int // overlap, runes
	maxTokens    int // embedding-token ceiling
}

// NewProcessor builds a Processor. Returns a config error when the window
// does not exceed the overlap (the split loop could not make progress).
func NewProcessor(chunkSize, chunkOverlap, maxTokens int) (*Processor, error) {
	if chunkSize <= 0 {
		chunkSize = 1000
	}
	if chunkOverlap < 0 {
		chunkOverlap = 100
	}
	if maxTokens <= 0 {
		maxTokens = 500
	}
	if chunkSize <= chunkOverlap {
		return nil, fmt.Errorf("config error: chunk size %d must exceed overlap %d", chunkSize, chunkOverlap)
	}
	return &Processor{chunkSize: chunkSize, chunkOverlap: chunkOverlap, maxTokens: maxTokens}, nil
}

// EstimateTokens approximates the embedding-token count of text.
// CJK-heavy text runs about one token per three bytes of prose, which the
// rune count divided by three tracks closely; ASCII prose runs about one
// token per four characters.
func EstimateTokens(text string) int {
	runes := []rune(text)
	if len(runes) == 0 {
		return 0
	}
	cjk := 0
	for _, r := range runes {
		if unicode.Is(unicode.Han, r) {
			cjk++
		}
	}
	if float64(cjk)/float64(len(runes)) >= 0.2 {
		return (len(runes) + 2) / 3
	}
	return (len(runes) + 3) / 4
}

// NeedsChunking reports whether text exceeds the embedding-token ceiling.
func (p *Processor) NeedsChunking(text string) bool {
	return EstimateTokens(text) > p.maxTokens
}

// Clean normalizes whitespace without disturbing CJK punctuation.
func Clean(text string) string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, " ", " ")
	var b strings.Builder
	b.Grow(len(text))
	blankRun := 0
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimRight(line, " \t")
		if line == "" {
			blankRun++
			if blankRun > 1 {
				continue
			}
		} else {
			blankRun = 0
		}
		b.WriteString(line)
		b.WriteByte('\n')
	}
	return strings.TrimSpace(b.String())
}

// Split divides text into overlapping chunks. Boundaries prefer, in order:
// sentence-terminal punctuation, clause separators, whitespace, hard cut.
// The next chunk starts at max(start+1, end-overlap) so the loop always
// advances.
func (p *Processor) Split(text string) []string {
	runes := []rune(text)
	if len(runes) == 0 {
		return nil
	}
	if len(runes) <= p.chunkSize {
		return []string{text}
	}

	timer := logging.StartTimer(logging.CategoryRAG, "textproc.Split")
	defer timer.Stop()

	var chunks []string
	start := 0
	for start < len(runes) {
		end := start + p.chunkSize
		if end >= len(runes) {
			chunks = append(chunks, string(runes[start:]))
			break
		}

		end = p.findBoundary(runes, start, end)
		chunks = append(chunks, string(runes[start:end]))

		next := end - p.chunkOverlap
		if next <= start {
			next = start + 1
		}
		start = next
	}

	logging.RAGDebug("Split produced %d chunks (size=%d overlap=%d input_runes=%d)",
		len(chunks), p.chunkSize, p.chunkOverlap, len(runes))
	return chunks
}

// findBoundary moves end backwards to the best split point. The scan floor
// is half a window so a pathological run of unbroken text still yields a
// usefully sized chunk.
func (p *Processor) findBoundary(runes []rune, start, end int) int {
	floor := start + p.chunkSize/2
	if floor < start+1 {
		floor = start + 1
	}

	for i := end - 1; i >= floor; i-- {
		if sentenceTerminals[runes[i]] {
			return i + 1
		}
	}
	for i := end - 1; i >= floor; i-- {
		if clauseSeparators[runes[i]] {
			return i + 1
		}
	}
	for i := end - 1; i >= floor; i-- {
		if unicode.IsSpace(runes[i]) {
			return i + 1
		}
	}
	return end
}

// TruncateAt returns text cut to at most maxRunes runes, preferring the same
// boundary classes as Split. Used before submitting over-long text to the
// embedding model.
func TruncateAt(text string, maxRunes int) string {
	runes := []rune(text)
	if maxRunes <= 0 || len(runes) <= maxRunes {
		return text
	}

	end := maxRunes
	floor := maxRunes / 2
	for i := end - 1; i >= floor; i-- {
		if sentenceTerminals[runes[i]] {
			return string(runes[:i+1])
		}
	}
	for i := end - 1; i >= floor; i-- {
		if clauseSeparators[runes[i]] || unicode.IsSpace(runes[i]) {
			return string(runes[:i+1])
		}
	}
	return string(runes[:end])
}

// CleanSource derives a display name for a retrieved passage from segment
// metadata. Hash prefixes and path components are stripped; the result is
// never empty.
func CleanSource(metadata map[string]interface{}) string {
	name := ""
	for _, key := range []string{"original_filename", "source", "file_name"} {
		if v, ok := metadata[key]; ok {
			if s, ok := v.(string); ok && strings.TrimSpace(s) != "" {
				name = s
				break
			}
		}
	}
	if name == "" {
		return genericSourceLabel
	}

	// Stored paths use either separator depending on origin.
	name = filepath.Base(strings.ReplaceAll(name, "\\", "/"))
	name = hashPrefixRe.ReplaceAllString(name, "")

	if strings.TrimSpace(name) == "" {
		return genericSourceLabel
	}
	return name
}
