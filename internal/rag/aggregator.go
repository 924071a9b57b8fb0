package rag

import (
	"regexp"
	"sort"
	"strings"
	"unicode"

	"legalrag/internal/logging"
)

// Aggregator merges ranked lists from multiple retrievers into one
// deduplicated, re-ranked result list. The whole computation is
// deterministic: the same input lists always yield the same output, and
// score ties resolve in favor of earlier-arriving contents.
type Aggregator struct {
	maxResults  int
	dedupCutoff float64
	rrfK        int
}

// NewAggregator builds an aggregator. Zero values select the defaults:
// maxResults 10, dedup similarity 0.85, RRF constant 60.
func NewAggregator(maxResults int, dedupCutoff float64, rrfK int) *Aggregator {
	if maxResults <= 0 {
		maxResults = 10
	}
	if dedupCutoff <= 0 {
		dedupCutoff = 0.85
	}
	if rrfK <= 0 {
		rrfK = 60
	}
	return &Aggregator{maxResults: maxResults, dedupCutoff: dedupCutoff, rrfK: rrfK}
}

// candidate tracks one surviving content through the scoring stages.
type candidate struct {
	content Content
	words   map[string]struct{}
	score   float64
	rrf     float64
	arrival int
}

// Aggregate merges the ranked lists produced for a query.
func (a *Aggregator) Aggregate(query string, lists [][]Content) []Content {
	timer := logging.StartTimer(logging.CategoryRAG, "Aggregate")
	defer timer.Stop()

	queryTokens := tokenize(strings.ToLower(query))

	var candidates []*candidate
	arrival := 0
	for _, list := range lists {
		for rank, c := range list {
			base := baseScore(c, queryTokens, rank)
			rrf := 1.0 / float64(a.rrfK+rank+1)

			words := wordSet(normalizeText(c.Text))
			merged := false
			for _, existing := range candidates {
				if jaccard(words, existing.words) > a.dedupCutoff {
					// Keep the higher-scored instance; RRF contributions of
					// both occurrences accumulate on the survivor.
					if base > existing.score {
						existing.content = c
						existing.words = words
						existing.score = base
					}
					existing.rrf += rrf
					merged = true
					break
				}
			}
			if !merged {
				candidates = append(candidates, &candidate{
					content: c,
					words:   words,
					score:   base,
					rrf:     rrf,
					arrival: arrival,
				})
				arrival++
			}
		}
	}

	// Fuse base score with accumulated RRF contributions.
	for _, c := range candidates {
		c.score = 0.5*c.score + 0.5*c.rrf
	}

	// Legal-relevance re-rank.
	for _, c := range candidates {
		legal := legalRelevance(c.content.Text, query)
		c.score = 0.6*c.score + 0.4*legal
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].score != candidates[j].score {
			return candidates[i].score > candidates[j].score
		}
		return candidates[i].arrival < candidates[j].arrival
	})

	n := len(candidates)
	if n > a.maxResults {
		n = a.maxResults
	}
	out := make([]Content, n)
	for i := 0; i < n; i++ {
		out[i] = candidates[i].content
		out[i].Score = candidates[i].score
	}

	logging.RAGDebug("Aggregated %d lists into %d contents for %q", len(lists), len(out), query)
	return out
}

// baseScore is the first-stage score: keyword overlap blended with rank
// position, weighted by inferred content type and length.
func baseScore(c Content, queryTokens []string, rank int) float64 {
	lower := strings.ToLower(c.Text)
	matched := 0
	for _, tok := range queryTokens {
		if strings.Contains(lower, tok) {
			matched++
		}
	}
	frac := 0.0
	if len(queryTokens) > 0 {
		frac = float64(matched) / float64(len(queryTokens))
	}

	score := 0.7*frac + 0.3*(1.0/float64(rank+1))
	score *= contentTypeWeight(c)
	score *= lengthAdjustment(c.Text)
	if score > 1.0 {
		score = 1.0
	}
	return score
}

var articleTokenRe = regexp.MustCompile(`第[零一二三四五六七八九十百千0-9]+条`)

// InferContentType classifies a passage when no explicit type is attached.
func InferContentType(text string) string {
	switch {
	case articleTokenRe.MatchString(text) && strings.ContainsAny(text, "法典"):
		return TypeLawProvision
	case strings.Contains(text, "案例") || strings.Contains(text, "判决") || strings.Contains(text, "法院"):
		return TypeCaseReference
	case strings.Contains(text, "合同") && strings.Contains(text, "条款"):
		return TypeContractClause
	case strings.Contains(text, "规定") || strings.Contains(text, "办法") || strings.Contains(text, "条例"):
		return TypeRegulation
	default:
		return TypeGeneral
	}
}

func contentTypeWeight(c Content) float64 {
	t := c.ContentType
	if t == "" {
		t = InferContentType(c.Text)
	}
	switch t {
	case TypeLawProvision:
		return 1.0
	case TypeContractClause:
		return 0.9
	case TypeRegulation:
		return 0.85
	case TypeCaseReference:
		return 0.8
	case TypeWebContent:
		return 0.6
	default:
		return 0.7
	}
}

func lengthAdjustment(text string) float64 {
	n := len([]rune(text))
	switch {
	case n < 50:
		return 0.7
	case n > 2000:
		return 0.8
	default:
		return 1.0
	}
}

// Legal vocabulary for the relevance re-rank.
var (
	legalEntities = []string{"当事人", "甲方", "乙方", "买方", "卖方", "出租人", "承租人", "债权人", "债务人", "用人单位", "劳动者"}

	legalRelations = []string{"合同关系", "债权债务", "违约责任", "侵权责任", "劳动关系", "婚姻关系", "继承关系", "担保关系"}

	legalTermWeights = []struct {
		term   string
		weight float64
	}{
		{"民法典", 1.0},
		{"合同法", 0.9},
		{"违约责任", 0.8},
		{"损害赔偿", 0.8},
		{"诉讼时效", 0.7},
		{"侵权", 0.7},
		{"仲裁", 0.6},
		{"条款", 0.5},
		{"法律责任", 0.5},
		{"争议解决", 0.5},
	}
)

// legalRelevance scores text in [0,1] against the legal vocabularies.
func legalRelevance(text, query string) float64 {
	score := 0.0

	for _, e := range legalEntities {
		if strings.Contains(text, e) && strings.Contains(query, e) {
			score += 0.1
		}
	}
	for _, r := range legalRelations {
		if strings.Contains(text, r) || strings.Contains(query, r) {
			score += 0.05
		}
	}

	// Term density: weighted hits over the dictionary size.
	var hits float64
	for _, tw := range legalTermWeights {
		if strings.Contains(text, tw.term) {
			hits += tw.weight
		}
	}
	score += hits / float64(len(legalTermWeights))

	if score > 1.0 {
		score = 1.0
	}
	return score
}

// tokenize splits a lowercased query into match tokens: ASCII word runs plus
// CJK bigrams (single characters for isolated Han runes).
func tokenize(s string) []string {
	var tokens []string
	runes := []rune(s)
	i := 0
	for i < len(runes) {
		r := runes[i]
		switch {
		case unicode.Is(unicode.Han, r):
			j := i
			for j < len(runes) && unicode.Is(unicode.Han, runes[j]) {
				j++
			}
			run := runes[i:j]
			if len(run) == 1 {
				tokens = append(tokens, string(run))
			} else {
				for k := 0; k+1 < len(run); k++ {
					tokens = append(tokens, string(run[k:k+2]))
				}
			}
			i = j
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			j := i
			for j < len(runes) && (unicode.IsLetter(runes[j]) || unicode.IsDigit(runes[j])) && !unicode.Is(unicode.Han, runes[j]) {
				j++
			}
			tokens = append(tokens, string(runes[i:j]))
			i = j
		default:
			i++
		}
	}
	return tokens
}

var punctStripRe = regexp.MustCompile(`[\p{P}\p{S}]`)

// normalizeText collapses whitespace, strips punctuation, and lowercases for
// the dedup comparison.
func normalizeText(s string) string {
	s = strings.ToLower(s)
	s = punctStripRe.ReplaceAllString(s, "")
	return strings.Join(strings.Fields(s), " ")
}

func wordSet(s string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, tok := range tokenize(s) {
		set[tok] = struct{}{}
	}
	return set
}

func jaccard(a, b map[string]struct{}) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 1.0
	}
	if len(a) == 0 || len(b) == 0 {
		return 0.0
	}
	inter := 0
	for w := range a {
		if _, ok := b[w]; ok {
			inter++
		}
	}
	union := len(a) + len(b) - inter
	return float64(inter) / float64(union)
}
