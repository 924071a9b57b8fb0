package rag

import (
	"strings"
	"testing"
)

func TestBuildPromptEmbedsReferences(t *testing.T) {
	in := NewInjector()

	contents := []Content{
		{Text: "第五百七十七条 当事人一方不履行合同义务的,应当承担违约责任。", Source: "民法典"},
		{Text: "违约金过分高于损失的,可以请求适当减少。", Source: "民法典"},
	}
	prompt := in.BuildPrompt("违约责任怎么承担", contents)

	if !strings.Contains(prompt, "法律小助手") {
		t.Error("persona missing")
	}
	if !strings.Contains(prompt, "【参考知识】") {
		t.Error("reference block missing")
	}
	if !strings.Contains(prompt, "来源:民法典") {
		t.Error("source attribution missing")
	}
	if !strings.Contains(prompt, "违约责任怎么承担") {
		t.Error("user question missing")
	}
	if !strings.Contains(prompt, "1. ") || !strings.Contains(prompt, "2. ") {
		t.Error("references not enumerated")
	}
}

func TestBuildPromptCapsReferencesAtFive(t *testing.T) {
	in := NewInjector()

	var contents []Content
	for i := 0; i < 8; i++ {
		contents = append(contents, Content{Text: "参考内容", Source: "s"})
	}
	prompt := in.BuildPrompt("问题", contents)

	if strings.Contains(prompt, "6. 来源") {
		t.Error("more than five references injected")
	}
	if !strings.Contains(prompt, "5. 来源") {
		t.Error("fifth reference missing")
	}
}

func TestBuildPromptTruncatesLongPassages(t *testing.T) {
	in := NewInjector()

	long := strings.Repeat("条", 800)
	prompt := in.BuildPrompt("问题", []Content{{Text: long, Source: "s"}})
	if strings.Contains(prompt, strings.Repeat("条", 600)) {
		t.Error("passage not truncated to 500 runes")
	}
}

func TestBuildPromptFallsBackWithoutSource(t *testing.T) {
	in := NewInjector()
	prompt := in.BuildPrompt("问题", []Content{{Text: "内容", Source: ""}})
	if !strings.Contains(prompt, "知识库文档") {
		t.Error("missing generic source label")
	}
}

func TestNoKnowledgePromptOmitsReferences(t *testing.T) {
	in := NewInjector()

	prompt := in.BuildNoKnowledgePrompt("你好")
	if strings.Contains(prompt, "【参考知识】") {
		t.Error("no-knowledge prompt must not carry a reference block")
	}
	if !strings.Contains(prompt, "法律小助手") {
		t.Error("persona missing")
	}
	if !strings.Contains(prompt, "你好") {
		t.Error("question missing")
	}

	// Empty contents take the same path.
	if got := in.BuildPrompt("你好", nil); !strings.Contains(got, "仅供参考") {
		t.Error("empty contents must produce the no-knowledge prompt")
	}
}
