package rag

import (
	"regexp"
	"strconv"
	"strings"

	"legalrag/internal/logging"
)

// Analyzer extracts a QueryIntent from a raw user query.
type Analyzer struct{}

func NewAnalyzer() *Analyzer { return &Analyzer{} }

var (
	lawNameRe = regexp.MustCompile(`《?([^《》]+?(法|条例|规定|办法|准则|细则))》?`)

	// Article references in descending specificity. 款 (paragraph) suffixes
	// are accepted but the normalized form keeps only the article.
	articleCNRe     = regexp.MustCompile(`第([零一二三四五六七八九十百千]+)条`)
	articleArabicRe = regexp.MustCompile(`第([0-9]+)条`)
	articleBareRe   = regexp.MustCompile(`([0-9]+)条`)

	chapterRe = regexp.MustCompile(`第[零一二三四五六七八九十百千0-9]+章`)
	sectionRe = regexp.MustCompile(`第[零一二三四五六七八九十百千0-9]+节`)

	conjunctionRe = regexp.MustCompile(`(和|及|以及|或者|还有|、)`)
	diTokenRe     = regexp.MustCompile(`第`)
)

// Analyze parses a query into its structured intent. The zero query yields a
// SEMANTIC intent with empty fields.
func (a *Analyzer) Analyze(query string) QueryIntent {
	intent := QueryIntent{OriginalQuery: query, QueryType: Semantic}
	if strings.TrimSpace(query) == "" {
		return intent
	}

	if m := lawNameRe.FindStringSubmatch(query); m != nil {
		name := strings.Trim(m[1], "《》")
		name = strings.TrimPrefix(name, "中华人民共和国")
		intent.LawName = name
	}

	intent.ArticleNumber = extractArticle(query)
	if m := chapterRe.FindString(query); m != "" {
		intent.Chapter = m
	}
	if m := sectionRe.FindString(query); m != "" {
		intent.Section = m
	}

	switch {
	case intent.ArticleNumber != "":
		intent.QueryType = PreciseArticle
	case intent.Chapter != "" || intent.Section != "":
		intent.QueryType = ChapterLevel
	case conjunctionRe.MatchString(query) && diTokenRe.MatchString(query):
		intent.QueryType = Complex
	}

	logging.RAGDebug("Analyzed query %q: type=%s law=%q article=%q", query, intent.QueryType, intent.LawName, intent.ArticleNumber)
	return intent
}

// extractArticle finds the first article reference and normalizes it to
// 第N条 with N as a Chinese numeral.
func extractArticle(query string) string {
	if m := articleCNRe.FindStringSubmatch(query); m != nil {
		return "第" + m[1] + "条"
	}
	if m := articleArabicRe.FindStringSubmatch(query); m != nil {
		if cn, ok := chineseNumeral(m[1]); ok {
			return "第" + cn + "条"
		}
	}
	if m := articleBareRe.FindStringSubmatch(query); m != nil {
		if cn, ok := chineseNumeral(m[1]); ok {
			return "第" + cn + "条"
		}
	}
	return ""
}

var cnDigits = []string{"零", "一", "二", "三", "四", "五", "六", "七", "八", "九"}

// chineseNumeral converts an Arabic numeral string in [1, 9999] to its
// conventional Chinese reading (30 -> 三十, 577 -> 五百七十七, 1005 -> 一千零五).
func chineseNumeral(s string) (string, bool) {
	n, err := strconv.Atoi(s)
	if err != nil || n < 1 || n > 9999 {
		return "", false
	}

	units := []struct {
		value int
		name  string
	}{
		{1000, "千"},
		{100, "百"},
		{10, "十"},
		{1, ""},
	}

	var b strings.Builder
	needZero := false
	started := false
	for _, u := range units {
		d := n / u.value
		n %= u.value
		if d == 0 {
			if started {
				needZero = true
			}
			continue
		}
		if needZero {
			b.WriteString("零")
			needZero = false
		}
		// 10..19 read as 十x, not 一十x.
		if !(d == 1 && u.value == 10 && !started) {
			b.WriteString(cnDigits[d])
		}
		b.WriteString(u.name)
		started = true
	}
	return b.String(), true
}
