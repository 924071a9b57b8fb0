package rag

import (
	"fmt"
	"testing"
)

func TestAnalyzePreciseArticle(t *testing.T) {
	a := NewAnalyzer()

	intent := a.Analyze("环境保护法第三十条规定了什么？")
	if intent.QueryType != PreciseArticle {
		t.Errorf("wrong type: %s", intent.QueryType)
	}
	if intent.LawName != "环境保护法" {
		t.Errorf("wrong law name: %q", intent.LawName)
	}
	if intent.ArticleNumber != "第三十条" {
		t.Errorf("wrong article: %q", intent.ArticleNumber)
	}
}

func TestAnalyzeArabicArticleNormalized(t *testing.T) {
	a := NewAnalyzer()

	tests := []struct {
		query string
		want  string
	}{
		{"民法典第30条", "第三十条"},
		{"民法典第577条", "第五百七十七条"},
		{"刑法第1005条", "第一千零五条"},
		{"合同法第10条", "第十条"},
		{"第1条", "第一条"},
		{"第9999条", "第九千九百九十九条"},
	}
	for _, tt := range tests {
		intent := a.Analyze(tt.query)
		if intent.ArticleNumber != tt.want {
			t.Errorf("%q: got %q, want %q", tt.query, intent.ArticleNumber, tt.want)
		}
		if intent.QueryType != PreciseArticle {
			t.Errorf("%q: type %s, want PRECISE_ARTICLE", tt.query, intent.QueryType)
		}
	}
}

func TestChineseNumeralRange(t *testing.T) {
	// Conversion must be defined and article detection must hold over the
	// whole supported range.
	a := NewAnalyzer()
	for _, n := range []int{1, 10, 11, 20, 100, 101, 110, 1000, 1010, 9999} {
		intent := a.Analyze(fmt.Sprintf("第%d条", n))
		if intent.ArticleNumber == "" {
			t.Errorf("n=%d: no article extracted", n)
		}
		if intent.QueryType != PreciseArticle {
			t.Errorf("n=%d: type %s", n, intent.QueryType)
		}
	}

	if _, ok := chineseNumeral("0"); ok {
		t.Error("0 must be rejected")
	}
	if _, ok := chineseNumeral("10000"); ok {
		t.Error("10000 must be rejected")
	}
}

func TestChineseNumeralReadings(t *testing.T) {
	tests := map[string]string{
		"10":   "十",
		"11":   "十一",
		"20":   "二十",
		"30":   "三十",
		"101":  "一百零一",
		"110":  "一百一十",
		"577":  "五百七十七",
		"1000": "一千",
		"1005": "一千零五",
		"2024": "二千零二十四",
	}
	for in, want := range tests {
		got, ok := chineseNumeral(in)
		if !ok || got != want {
			t.Errorf("chineseNumeral(%s) = %q, want %q", in, got, want)
		}
	}
}

func TestAnalyzeStripsCountryPrefix(t *testing.T) {
	a := NewAnalyzer()
	intent := a.Analyze("《中华人民共和国劳动合同法》有哪些规定")
	if intent.LawName != "劳动合同法" {
		t.Errorf("prefix not stripped: %q", intent.LawName)
	}
}

func TestAnalyzeChapterLevel(t *testing.T) {
	a := NewAnalyzer()
	intent := a.Analyze("民法典第三章讲了什么")
	if intent.QueryType != ChapterLevel {
		t.Errorf("wrong type: %s", intent.QueryType)
	}
	if intent.Chapter != "第三章" {
		t.Errorf("wrong chapter: %q", intent.Chapter)
	}
}

func TestAnalyzeComplex(t *testing.T) {
	a := NewAnalyzer()
	// Conjunction plus a 第 token, but no complete article or chapter
	// reference.
	intent := a.Analyze("违约责任和第三人代为履行的关系")
	if intent.QueryType != Complex {
		t.Errorf("wrong type: %s", intent.QueryType)
	}
}

func TestAnalyzeSemanticFallback(t *testing.T) {
	a := NewAnalyzer()
	intent := a.Analyze("租房合同到期房东不退押金怎么办")
	if intent.QueryType != Semantic {
		t.Errorf("wrong type: %s", intent.QueryType)
	}
	if intent.ArticleNumber != "" {
		t.Errorf("phantom article: %q", intent.ArticleNumber)
	}
}

func TestAnalyzeEmptyQuery(t *testing.T) {
	a := NewAnalyzer()
	intent := a.Analyze("   ")
	if intent.QueryType != Semantic {
		t.Errorf("wrong type: %s", intent.QueryType)
	}
}
