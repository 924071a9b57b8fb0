package rag

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestRoutePreservesOriginalQuery(t *testing.T) {
	a := NewAnalyzer()
	r := NewRouter()

	for _, query := range []string{
		"环境保护法第三十条规定了什么？",
		"民法典第三章讲了什么",
		"租房押金不退怎么办",
	} {
		routes := r.Route(a.Analyze(query))
		if len(routes) == 0 {
			t.Fatalf("%q: no routes", query)
		}
		if routes[0].Query != query {
			t.Errorf("%q: original query not first: %q", query, routes[0].Query)
		}
		for _, rt := range routes {
			if len(rt.Retrievers) == 0 {
				t.Errorf("%q: route %q has no retrievers", query, rt.Query)
			}
		}
	}
}

func TestRouteAddsFocusedArticleQuery(t *testing.T) {
	a := NewAnalyzer()
	r := NewRouter()

	routes := r.Route(a.Analyze("环境保护法第三十条规定了什么？"))
	if len(routes) != 2 {
		t.Fatalf("expected 2 routes, got %d", len(routes))
	}
	if routes[1].Query != "环境保护法第三十条" {
		t.Errorf("wrong focused query: %q", routes[1].Query)
	}
}

func TestRouteSynonymExpansion(t *testing.T) {
	a := NewAnalyzer()
	r := NewRouter()

	routes := r.Route(a.Analyze("对方违约了我能怎么办"))
	if len(routes) != 2 {
		t.Fatalf("expected expansion route, got %d routes", len(routes))
	}
	if routes[1].Query == routes[0].Query {
		t.Error("expansion produced identical query")
	}
}

func TestRouteContractQueriesConsultClauseCorpus(t *testing.T) {
	a := NewAnalyzer()
	r := NewRouter()

	intent := a.Analyze("合同和协议哪个效力更高，第三方能否主张权利")
	if intent.QueryType != Complex {
		t.Fatalf("expected COMPLEX intent, got %s", intent.QueryType)
	}
	routes := r.Route(intent)

	var hasContract bool
	for _, rt := range routes {
		for _, name := range rt.Retrievers {
			if name == RetrieverContract {
				hasContract = true
			}
		}
	}
	if !hasContract {
		t.Errorf("no route targets %s: %+v", RetrieverContract, routes)
	}
}

func TestRouteDeterministic(t *testing.T) {
	a := NewAnalyzer()
	r := NewRouter()

	intent := a.Analyze("合同违约和侵权责任的区别")
	first := r.Route(intent)
	second := r.Route(intent)
	if diff := cmp.Diff(first, second); diff != "" {
		t.Errorf("routes not deterministic (-first +second):\n%s", diff)
	}
}
