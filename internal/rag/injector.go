package rag

import (
	"fmt"
	"strings"

	"legalrag/internal/textproc"
)

// Injector renders the final prompt for the model, embedding retrieved
// passages with their source attributions.
type Injector struct{}

func NewInjector() *Injector { return &Injector{} }

// maxReferences caps how many passages enter the prompt.
const maxReferences = 5

// maxReferenceRunes truncates each passage before injection.
const maxReferenceRunes = 500

// BuildPrompt renders the knowledge-grounded prompt. With no contents it
// falls back to the no-knowledge prompt.
func (in *Injector) BuildPrompt(query string, contents []Content) string {
	if len(contents) == 0 {
		return in.BuildNoKnowledgePrompt(query)
	}

	n := len(contents)
	if n > maxReferences {
		n = maxReferences
	}

	var b strings.Builder
	b.WriteString("你是一位专业的法律助手,名叫\"法律小助手\"。你熟悉中国法律法规,擅长用通俗的语言解答法律问题。\n\n")
	b.WriteString("【参考知识】\n")
	for i := 0; i < n; i++ {
		c := contents[i]
		text := textproc.TruncateAt(c.Text, maxReferenceRunes)
		source := c.Source
		if source == "" {
			source = "知识库文档"
		}
		fmt.Fprintf(&b, "%d. 来源:%s\n%s\n\n", i+1, source, text)
	}
	b.WriteString("【回答要求】\n")
	b.WriteString("1. 优先依据上述参考知识回答,与问题相关时注明来源。\n")
	b.WriteString("2. 不要逐字照抄参考内容,用自己的语言组织答案。\n")
	b.WriteString("3. 用通俗易懂的语言,必要时举例说明。\n")
	b.WriteString("4. 参考知识不足以回答时,结合法律常识谨慎作答并说明。\n\n")
	fmt.Fprintf(&b, "【用户问题】\n%s", query)
	return b.String()
}

// BuildNoKnowledgePrompt renders the prompt used when retrieval found
// nothing relevant or was skipped.
func (in *Injector) BuildNoKnowledgePrompt(query string) string {
	var b strings.Builder
	b.WriteString("你是一位专业的法律助手,名叫\"法律小助手\"。你熟悉中国法律法规,可以解答法律咨询、解释法律条文、分析合同风险。\n\n")
	b.WriteString("当前知识库中没有与问题直接相关的资料,请基于法律常识回答,并提醒用户答案仅供参考,具体问题建议咨询专业律师。\n\n")
	fmt.Fprintf(&b, "【用户问题】\n%s", query)
	return b.String()
}
