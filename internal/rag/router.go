package rag

import (
	"strings"

	"legalrag/internal/logging"
)

// Retriever names used by routes.
const (
	RetrieverLegal    = "legal"
	RetrieverContract = "contract"
)

// RoutedQuery binds one transformed query to the retrievers that should
// serve it.
type RoutedQuery struct {
	Query      string
	Retrievers []string
}

// Router turns an intent into a deterministic set of routed queries. The
// original query is always first and always literal, so precise article
// lookups survive transformation.
type Router struct{}

func NewRouter() *Router { return &Router{} }

// synonymTable lists deterministic expansions applied to SEMANTIC and COMPLEX
// queries. Order matters: expansions are emitted in table order.
var synonymTable = []struct {
	trigger   string
	expansion string
}{
	{"违约", "违约责任 赔偿"},
	{"赔偿", "损害赔偿 责任承担"},
	{"离婚", "婚姻关系解除 财产分割"},
	{"继承", "遗产继承 法定继承"},
	{"劳动", "劳动合同 劳动争议"},
	{"租赁", "租赁合同 租金"},
}

// Route maps an intent to routed queries.
func (r *Router) Route(intent QueryIntent) []RoutedQuery {
	routes := []RoutedQuery{
		{Query: intent.OriginalQuery, Retrievers: []string{RetrieverLegal}},
	}

	switch intent.QueryType {
	case PreciseArticle:
		// A focused law+article query narrows retrieval when the original
		// sentence carries extra prose.
		if intent.LawName != "" && intent.ArticleNumber != "" {
			focused := intent.LawName + intent.ArticleNumber
			if focused != intent.OriginalQuery {
				routes = append(routes, RoutedQuery{Query: focused, Retrievers: []string{RetrieverLegal}})
			}
		}
	case ChapterLevel:
		if intent.LawName != "" {
			scope := intent.LawName + intent.Chapter + intent.Section
			if scope != intent.OriginalQuery {
				routes = append(routes, RoutedQuery{Query: scope, Retrievers: []string{RetrieverLegal}})
			}
		}
	case Semantic, Complex:
		for _, syn := range synonymTable {
			if strings.Contains(intent.OriginalQuery, syn.trigger) {
				routes = append(routes, RoutedQuery{
					Query:      intent.OriginalQuery + " " + syn.expansion,
					Retrievers: []string{RetrieverLegal},
				})
				break
			}
		}
		// Contract questions also consult the clause corpus when one is
		// registered. Routes to unregistered retrievers are skipped.
		if intent.QueryType == Complex && strings.Contains(intent.OriginalQuery, "合同") {
			routes = append(routes, RoutedQuery{
				Query:      intent.OriginalQuery,
				Retrievers: []string{RetrieverContract},
			})
		}
	}

	logging.RAGDebug("Routed %q into %d queries", intent.OriginalQuery, len(routes))
	return routes
}
