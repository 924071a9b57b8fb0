// Package rag implements the retrieval pipeline: query analysis, routing,
// vector retrieval, aggregation, and prompt construction.
package rag

// QueryType classifies the retrieval strategy for a query.
type QueryType string

const (
	// PreciseArticle targets a single named article, e.g. 环境保护法第三十条.
	PreciseArticle QueryType = "PRECISE_ARTICLE"
	// ChapterLevel targets a chapter or section of a law.
	ChapterLevel QueryType = "CHAPTER_LEVEL"
	// Complex combines multiple provisions in one question.
	Complex QueryType = "COMPLEX"
	// Semantic is the fallback free-form similarity search.
	Semantic QueryType = "SEMANTIC"
)

// QueryIntent is the structured reading of a user query.
type QueryIntent struct {
	OriginalQuery string
	LawName       string
	ArticleNumber string // normalized 第N条 with N in Chinese numerals
	Chapter       string
	Section       string
	QueryType     QueryType
}

// Content is one retrieved passage with its provenance.
type Content struct {
	Text        string
	Source      string
	ContentType string // empty means infer from text
	Score       float64
}

// Content types recognized by the aggregator.
const (
	TypeLawProvision   = "LAW_PROVISION"
	TypeContractClause = "CONTRACT_CLAUSE"
	TypeRegulation     = "REGULATION"
	TypeCaseReference  = "CASE_REFERENCE"
	TypeGeneral        = "GENERAL"
	TypeWebContent     = "WEB_CONTENT"
)
