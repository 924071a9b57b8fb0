package chat

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"legalrag/internal/fault"
	"legalrag/internal/llm"
	"legalrag/internal/logging"
	"legalrag/internal/memory"
	"legalrag/internal/rag"
	"legalrag/internal/store"
	"legalrag/internal/stream"
)

// Mode selects a chat handler.
type Mode string

const (
	ModeBasic       Mode = "BASIC"
	ModeAdvanced    Mode = "ADVANCED"
	ModeAdvancedRAG Mode = "ADVANCED_RAG"
	ModeUnified     Mode = "UNIFIED"
)

// ParseMode validates a requested mode.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case ModeBasic, ModeAdvanced, ModeAdvancedRAG, ModeUnified:
		return Mode(s), nil
	case "":
		return ModeUnified, nil
	}
	return "", fault.New(fault.KindInvalidModelType, "unknown chat mode %q", s)
}

// Request is one chat call.
type Request struct {
	Message          string `json:"message"`
	ModelType        string `json:"modelType"`
	ModelName        string `json:"modelName,omitempty"`
	ConversationID   string `json:"conversationId,omitempty"`
	UseKnowledgeBase bool   `json:"useKnowledgeBase"`
	Owner            string `json:"-"`
}

// turnMetadata is persisted with each assistant message.
type turnMetadata struct {
	ModelType       string `json:"modelType"`
	RequestedModel  string `json:"requestedModel,omitempty"`
	ActualModelUsed string `json:"actualModelUsed"`
	Streaming       bool   `json:"streaming"`
}

// Unified routes chat requests across the handler modes and owns the session
// side effects shared by all of them.
type Unified struct {
	db             *store.LocalStore
	windows        *memory.Windows
	advanced       *AdvancedService
	dispatcher     *llm.Dispatcher
	retriever      *rag.Retriever
	injector       *rag.Injector
	persistTimeout time.Duration
}

// NewUnified wires the dispatcher. retriever serves the BASIC mode's simple
// retrieval; the advanced service carries its own.
func NewUnified(db *store.LocalStore, windows *memory.Windows, advanced *AdvancedService, dispatcher *llm.Dispatcher, retriever *rag.Retriever) *Unified {
	return &Unified{
		db:             db,
		windows:        windows,
		advanced:       advanced,
		dispatcher:     dispatcher,
		retriever:      retriever,
		injector:       rag.NewInjector(),
		persistTimeout: 5 * time.Second,
	}
}

// WithPersistTimeout overrides the deadline applied to session and message
// writes. Non-positive values keep the default.
func (u *Unified) WithPersistTimeout(d time.Duration) *Unified {
	if d > 0 {
		u.persistTimeout = d
	}
	return u
}

// Simple-query markers for the UNIFIED routing classifier.
var simpleQueryTokens = []string{
	"什么是", "如何定义", "解释一下", "含义", "是什么意思",
	"包括哪些", "有哪些", "查询", "查找", "第几条", "哪一条",
}

var questionParticles = []string{"吗", "呢", "么", "?", "？"}

// Complex-analysis markers, grouped by concern.
var complexTokenGroups = [][]string{
	{"案例", "案情", "核心法律问题", "如何认定", "是否构成", "案件", "纠纷"},
	{"分析", "判断", "评估", "应当如何", "如何处理", "怎么办", "建议", "对策"},
	{"起草", "撰写", "生成", "制作", "拟定"},
	{"审查", "审核", "检查", "风险", "隐患", "问题"},
	{"责任", "赔偿", "承担", "后果", "处罚"},
}

var legalDomainTokens = []string{"合同", "违约", "侵权", "赔偿", "诉讼", "仲裁", "协议"}

// IsSimpleQuery reports whether a message reads like a lookup question.
func IsSimpleQuery(message string) bool {
	n := len([]rune(message))
	if n < 80 {
		for _, tok := range simpleQueryTokens {
			if strings.Contains(message, tok) {
				return true
			}
		}
	}
	if n < 20 {
		for _, p := range questionParticles {
			if strings.Contains(message, p) {
				return true
			}
		}
	}
	return false
}

// IsComplexAnalysis reports whether a message calls for multi-step legal
// reasoning.
func IsComplexAnalysis(message string) bool {
	for _, group := range complexTokenGroups {
		for _, tok := range group {
			if strings.Contains(message, tok) {
				return true
			}
		}
	}
	if len([]rune(message)) > 70 {
		return true
	}
	domainHits := 0
	for _, tok := range legalDomainTokens {
		if strings.Contains(message, tok) {
			domainHits++
		}
	}
	return domainHits >= 2
}

// resolveMode maps UNIFIED requests onto a concrete handler.
func resolveMode(mode Mode, message string) Mode {
	if mode != ModeUnified {
		return mode
	}
	if IsSimpleQuery(message) {
		return ModeAdvancedRAG
	}
	// Complex analysis and everything else go to the agent.
	return ModeAdvanced
}

// backendFor maps a handler mode to its model backend.
func backendFor(mode Mode, advanced llm.ModelType) llm.ModelType {
	switch mode {
	case ModeBasic:
		return llm.ModelOllama
	case ModeAdvanced:
		return llm.ModelDeepSeek
	default:
		return advanced
	}
}

// Handle answers a chat request synchronously.
func (u *Unified) Handle(ctx context.Context, req Request) (Result, error) {
	timer := logging.StartTimer(logging.CategoryChat, "UnifiedHandle")
	defer timer.Stop()

	mode, err := ParseMode(req.ModelType)
	if err != nil {
		return Result{}, err
	}
	if strings.TrimSpace(req.Message) == "" {
		return Result{Status: StatusEmptyQuestion, Sources: []string{}}, nil
	}

	chosen := resolveMode(mode, req.Message)
	logging.Chat("Request mode=%s resolved=%s conversation=%s", mode, chosen, req.ConversationID)

	if err := u.beginTurn(ctx, req, chosen); err != nil {
		return Result{}, err
	}

	var result Result
	switch chosen {
	case ModeAdvancedRAG:
		result = u.advanced.Chat(ctx, req.Message, req.ConversationID)
	default:
		result = u.directChat(ctx, req, chosen)
	}

	if result.Status == StatusSuccess {
		u.finishTurn(ctx, req, chosen, result.Answer, false)
	}
	result.SessionID = req.ConversationID
	return result, nil
}

// HandleStream streams a chat answer into sink. The accumulated answer is
// persisted only when the done event was reached.
func (u *Unified) HandleStream(ctx context.Context, req Request, sink *stream.Sink) error {
	mode, err := ParseMode(req.ModelType)
	if err != nil {
		return err
	}
	chosen := resolveMode(mode, req.Message)

	if err := u.beginTurn(ctx, req, chosen); err != nil {
		return err
	}

	var buf strings.Builder
	done := false
	switch chosen {
	case ModeAdvancedRAG:
		done = u.advanced.StreamChat(ctx, req.Message, req.ConversationID, sink, &buf)
	default:
		done = u.directStream(ctx, req, chosen, sink, &buf)
	}

	if done && buf.Len() > 0 {
		u.finishTurn(ctx, req, chosen, buf.String(), true)
	}
	return nil
}

// beginTurn ensures the session and persists the user message.
func (u *Unified) beginTurn(ctx context.Context, req Request, chosen Mode) error {
	if req.ConversationID == "" {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, u.persistTimeout)
	defer cancel()
	if _, err := u.db.EnsureSession(ctx, req.ConversationID, req.Owner, string(chosen), req.Message); err != nil {
		return err
	}
	return u.db.AppendMessage(ctx, store.Message{
		ConversationID: req.ConversationID,
		Role:           store.RoleUser,
		Content:        req.Message,
	})
}

// finishTurn persists the assistant answer with its metadata record.
func (u *Unified) finishTurn(ctx context.Context, req Request, chosen Mode, answer string, streaming bool) {
	if req.ConversationID == "" || answer == "" {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, u.persistTimeout)
	defer cancel()
	meta, _ := json.Marshal(turnMetadata{
		ModelType:       req.ModelType,
		RequestedModel:  req.ModelName,
		ActualModelUsed: string(backendFor(chosen, u.advanced.backend)),
		Streaming:       streaming,
	})
	if err := u.db.AppendMessage(ctx, store.Message{
		ConversationID: req.ConversationID,
		Role:           store.RoleAssistant,
		Content:        answer,
		Metadata:       string(meta),
	}); err != nil {
		logging.Get(logging.CategoryChat).Error("Failed to persist assistant message: %v", err)
	}
}

// directChat serves the BASIC and ADVANCED modes with one blocking model call
// for the final answer. ADVANCED first runs the tool-decision loop.
func (u *Unified) directChat(ctx context.Context, req Request, chosen Mode) Result {
	backend := backendFor(chosen, u.advanced.backend)

	prompt, sources, err := u.buildModePrompt(ctx, req, chosen, backend)
	if err != nil {
		logging.Get(logging.CategoryChat).Error("Prompt build failed: %v", err)
		return Result{Status: StatusProcessingError, Sources: []string{}}
	}

	answer, err := u.dispatcher.Chat(ctx, backend, prompt, llm.Options{Model: req.ModelName})
	if err != nil {
		logging.Get(logging.CategoryChat).Error("Chat failed: %v", err)
		return Result{Status: StatusProcessingError, Sources: []string{}}
	}

	u.rememberWindow(ctx, req, backend, answer)

	return Result{
		Answer:            answer,
		HasKnowledgeMatch: len(sources) > 0,
		SourceCount:       len(sources),
		Sources:           sources,
		Status:            StatusSuccess,
	}
}

// directStream is the streaming variant of directChat, emitting the chat SSE
// contract. Reports whether done was reached.
func (u *Unified) directStream(ctx context.Context, req Request, chosen Mode, sink *stream.Sink, buf *strings.Builder) bool {
	backend := backendFor(chosen, u.advanced.backend)

	prompt, sources, err := u.buildModePrompt(ctx, req, chosen, backend)
	if err != nil {
		sink.Send(ctx, stream.Event{Name: stream.EventError, Data: map[string]interface{}{
			"type": "error", "error": err.Error(),
		}})
		return false
	}

	sink.Send(ctx, stream.Event{Name: stream.EventStart, Data: map[string]interface{}{
		"sourceCount": len(sources),
	}})

	contentChan, errorChan := u.dispatcher.StreamChat(ctx, backend, prompt, llm.Options{Model: req.ModelName})
	for delta := range contentChan {
		buf.WriteString(delta)
		sink.Send(ctx, stream.Event{Name: stream.EventContent, Data: map[string]interface{}{
			"type": "content", "content": delta,
		}})
	}
	if err, ok := <-errorChan; ok && err != nil {
		sink.Send(ctx, stream.Event{Name: stream.EventError, Data: map[string]interface{}{
			"type": "error", "error": err.Error(),
		}})
		return false
	}

	u.rememberWindow(ctx, req, backend, buf.String())

	sink.Send(ctx, stream.Event{Name: stream.EventDone, Data: map[string]interface{}{
		"type": "done", "sourceCount": len(sources), "sessionId": req.ConversationID,
	}})
	return true
}

// buildModePrompt dispatches prompt construction: ADVANCED runs the agent
// tool-decision loop, everything else goes through directPrompt.
func (u *Unified) buildModePrompt(ctx context.Context, req Request, chosen Mode, backend llm.ModelType) (string, []string, error) {
	if chosen == ModeAdvanced {
		return u.agentPrompt(ctx, req, backend)
	}
	return u.directPrompt(ctx, req, chosen, backend)
}

// directPrompt builds the prompt for BASIC: optional simple retrieval from
// the knowledge base, then the conversation window as a history prefix.
func (u *Unified) directPrompt(ctx context.Context, req Request, chosen Mode, backend llm.ModelType) (string, []string, error) {
	sources := []string{}
	var prompt string

	if chosen == ModeBasic && req.UseKnowledgeBase && u.retriever != nil && NeedsRetrieval(req.Message) {
		contents, err := u.retriever.Retrieve(ctx, req.Message)
		if err != nil {
			return "", nil, err
		}
		sources = distinctSources(contents)
		prompt = u.injector.BuildPrompt(req.Message, contents)
	} else {
		prompt = u.injector.BuildNoKnowledgePrompt(req.Message)
	}

	return u.prependHistory(ctx, req, backend, prompt), sources, nil
}

// maxToolCalls bounds the ADVANCED agent's decision turns per request.
const maxToolCalls = 3

// agentAction is the tool call the ADVANCED agent may emit during a decision
// turn.
type agentAction struct {
	Tool  string `json:"tool"`
	Query string `json:"query"`
}

// parseAgentAction extracts a search_law call from a decision reply. A reply
// without a well-formed call means the agent declined further retrieval.
func parseAgentAction(reply string) (agentAction, bool) {
	start := strings.Index(reply, "{")
	end := strings.LastIndex(reply, "}")
	if start < 0 || end <= start {
		return agentAction{}, false
	}
	var act agentAction
	if err := json.Unmarshal([]byte(reply[start:end+1]), &act); err != nil {
		return agentAction{}, false
	}
	act.Query = strings.TrimSpace(act.Query)
	if act.Tool != "search_law" || act.Query == "" {
		return agentAction{}, false
	}
	return act, true
}

// buildToolDecisionPrompt asks the model whether another retrieval is needed,
// showing what has been gathered so far.
func buildToolDecisionPrompt(question string, observations []rag.Content) string {
	var b strings.Builder
	b.WriteString("你是一名法律助手，可以调用检索工具查询法律法规知识库。\n")
	b.WriteString("如需检索，仅输出 JSON：{\"tool\": \"search_law\", \"query\": \"检索关键词\"}\n")
	b.WriteString("如无需进一步检索，仅输出：无需检索\n\n")
	if len(observations) > 0 {
		b.WriteString("【已检索到的资料】\n")
		for i, c := range observations {
			b.WriteString(fmt.Sprintf("%d. %s\n", i+1, c.Text))
		}
		b.WriteString("\n")
	}
	b.WriteString("【用户问题】\n")
	b.WriteString(question)
	return b.String()
}

// agentPrompt runs the ADVANCED agent loop: up to maxToolCalls blocking
// decision turns where the model may call search_law, each observation fed
// back into the next decision. The gathered material becomes the final
// generation prompt. Decision failures degrade to answering with whatever
// was collected.
func (u *Unified) agentPrompt(ctx context.Context, req Request, backend llm.ModelType) (string, []string, error) {
	var observations []rag.Content
	asked := map[string]struct{}{}

	for turn := 0; turn < maxToolCalls; turn++ {
		decision := buildToolDecisionPrompt(req.Message, observations)
		reply, err := u.dispatcher.Chat(ctx, backend, decision, llm.Options{Model: req.ModelName})
		if err != nil {
			logging.Get(logging.CategoryChat).Warn("Agent decision turn %d failed: %v", turn+1, err)
			break
		}
		act, ok := parseAgentAction(reply)
		if !ok {
			logging.ChatDebug("Agent declined retrieval after %d tool call(s)", len(asked))
			break
		}
		if _, dup := asked[act.Query]; dup {
			break
		}
		asked[act.Query] = struct{}{}

		logging.Chat("Agent tool call %d: search_law %q", len(asked), act.Query)
		contents, err := u.advanced.Retrieve(ctx, act.Query)
		if err != nil {
			logging.Get(logging.CategoryChat).Warn("Agent retrieval %q failed: %v", act.Query, err)
			break
		}
		observations = append(observations, contents...)
	}

	var prompt string
	if len(observations) > 0 {
		prompt = u.injector.BuildPrompt(req.Message, observations)
	} else {
		prompt = u.injector.BuildNoKnowledgePrompt(req.Message)
	}
	return u.prependHistory(ctx, req, backend, prompt), distinctSources(observations), nil
}

// distinctSources lists the non-empty sources in first-seen order.
func distinctSources(contents []rag.Content) []string {
	sources := []string{}
	seen := map[string]struct{}{}
	for _, c := range contents {
		if c.Source == "" {
			continue
		}
		if _, ok := seen[c.Source]; ok {
			continue
		}
		seen[c.Source] = struct{}{}
		sources = append(sources, c.Source)
	}
	return sources
}

// prependHistory prefixes the prompt with the conversation window, when one
// exists for this (conversation, model) pair.
func (u *Unified) prependHistory(ctx context.Context, req Request, backend llm.ModelType, prompt string) string {
	if req.ConversationID == "" || u.windows == nil {
		return prompt
	}
	turns, err := u.windows.History(ctx, string(backend), req.ConversationID)
	if err != nil {
		logging.Get(logging.CategoryChat).Warn("Window read failed: %v", err)
		return prompt
	}
	if len(turns) == 0 {
		return prompt
	}
	var b strings.Builder
	b.WriteString("【对话历史】\n")
	for _, t := range turns {
		label := "用户"
		if t.Role == "assistant" {
			label = "助手"
		}
		b.WriteString(label)
		b.WriteString(": ")
		b.WriteString(t.Content)
		b.WriteString("\n")
	}
	b.WriteString("\n")
	b.WriteString(prompt)
	return b.String()
}

// rememberWindow records the turn in the per-(conversation, model) window.
func (u *Unified) rememberWindow(ctx context.Context, req Request, backend llm.ModelType, answer string) {
	if req.ConversationID == "" || u.windows == nil || answer == "" {
		return
	}
	model := string(backend)
	if err := u.windows.Append(ctx, model, req.ConversationID, memory.Turn{Role: "user", Content: req.Message}); err != nil {
		logging.Get(logging.CategoryChat).Warn("Window append failed: %v", err)
		return
	}
	if err := u.windows.Append(ctx, model, req.ConversationID, memory.Turn{Role: "assistant", Content: answer}); err != nil {
		logging.Get(logging.CategoryChat).Warn("Window append failed: %v", err)
	}
}

// ClearMemory clears one model window, or all windows when model is empty.
func (u *Unified) ClearMemory(ctx context.Context, conversationID, model string) error {
	u.advanced.ClearSession(conversationID)
	if u.windows == nil {
		return nil
	}
	if model == "" {
		return u.windows.ClearAll(ctx, conversationID)
	}
	return u.windows.Clear(ctx, model, conversationID)
}
