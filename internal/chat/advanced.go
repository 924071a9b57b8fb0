// Package chat composes the retrieval pipeline and the model dispatcher into
// the chat services exposed over HTTP: the advanced RAG service and the
// unified mode dispatcher.
package chat

import (
	"context"
	"strings"
	"sync"
	"time"

	"legalrag/internal/llm"
	"legalrag/internal/logging"
	"legalrag/internal/rag"
	"legalrag/internal/stream"
)

// Result statuses.
const (
	StatusSuccess         = "SUCCESS"
	StatusEmptyQuestion   = "EMPTY_QUESTION"
	StatusProcessingError = "PROCESSING_ERROR"
	StatusUninitialized   = "UNINITIALIZED"
)

// Result is the synchronous chat outcome.
type Result struct {
	Answer            string   `json:"answer"`
	HasKnowledgeMatch bool     `json:"hasKnowledgeMatch"`
	SourceCount       int      `json:"sourceCount"`
	Sources           []string `json:"sources"`
	SessionID         string   `json:"sessionId"`
	Status            string   `json:"status"`
	DurationMs        int64    `json:"durationMs"`
}

// sessionWindowSize bounds the in-process per-session memory. This window is
// internal to the service and independent of the Redis-backed store.
const sessionWindowSize = 10

type sessionTurn struct {
	role    string
	content string
}

// AdvancedService runs the full retrieval pipeline in front of the model.
type AdvancedService struct {
	analyzer   *rag.Analyzer
	router     *rag.Router
	retrievers map[string]*rag.Retriever
	aggregator *rag.Aggregator
	injector   *rag.Injector
	dispatcher *llm.Dispatcher
	backend    llm.ModelType

	mu       sync.Mutex
	sessions map[string][]sessionTurn
}

// NewAdvancedService wires the pipeline. retrievers is keyed by the router's
// retriever names; backend selects the model type used for generation.
func NewAdvancedService(retrievers map[string]*rag.Retriever, aggregator *rag.Aggregator, dispatcher *llm.Dispatcher, backend llm.ModelType) *AdvancedService {
	return &AdvancedService{
		analyzer:   rag.NewAnalyzer(),
		router:     rag.NewRouter(),
		retrievers: retrievers,
		aggregator: aggregator,
		injector:   rag.NewInjector(),
		dispatcher: dispatcher,
		backend:    backend,
	}
}

// greetings and capability questions skip knowledge retrieval.
var noRetrievalPatterns = []string{
	"你好", "您好", "hi", "hello", "在吗", "谢谢", "再见",
	"你是谁", "你能做什么", "你会什么", "介绍一下自己", "你叫什么",
}

// NeedsRetrieval decides whether a question should hit the knowledge base.
func NeedsRetrieval(question string) bool {
	q := strings.ToLower(strings.TrimSpace(question))
	if q == "" {
		return false
	}
	for _, p := range noRetrievalPatterns {
		if strings.Contains(q, p) {
			return false
		}
	}
	return true
}

// Retrieve runs the retrieval half of the pipeline without generation. The
// contract review engine uses this to gather law context per chunk.
func (s *AdvancedService) Retrieve(ctx context.Context, question string) ([]rag.Content, error) {
	intent := s.analyzer.Analyze(question)
	routes := s.router.Route(intent)

	var lists [][]rag.Content
	for _, route := range routes {
		for _, name := range route.Retrievers {
			r, ok := s.retrievers[name]
			if !ok {
				logging.RAGDebug("No retriever registered for route %q", name)
				continue
			}
			contents, err := r.Retrieve(ctx, route.Query)
			if err != nil {
				return nil, err
			}
			lists = append(lists, contents)
		}
	}
	return s.aggregator.Aggregate(question, lists), nil
}

func (s *AdvancedService) initialized() bool {
	return s.dispatcher != nil && len(s.retrievers) > 0
}

// Chat answers a question synchronously.
func (s *AdvancedService) Chat(ctx context.Context, question, sessionID string) Result {
	timer := logging.StartTimer(logging.CategoryChat, "AdvancedChat")
	defer timer.Stop()
	started := time.Now()

	result := Result{SessionID: sessionID, Sources: []string{}}
	if strings.TrimSpace(question) == "" {
		result.Status = StatusEmptyQuestion
		return result
	}
	if !s.initialized() {
		result.Status = StatusUninitialized
		return result
	}

	prompt, sources, err := s.buildPrompt(ctx, question)
	if err != nil {
		logging.Get(logging.CategoryChat).Error("Retrieval failed: %v", err)
		result.Status = StatusProcessingError
		result.DurationMs = time.Since(started).Milliseconds()
		return result
	}

	answer, err := s.dispatcher.Chat(ctx, s.backend, s.withHistory(sessionID, prompt), llm.Options{})
	if err != nil {
		logging.Get(logging.CategoryChat).Error("Generation failed: %v", err)
		result.Status = StatusProcessingError
		result.DurationMs = time.Since(started).Milliseconds()
		return result
	}

	s.remember(sessionID, "user", question)
	s.remember(sessionID, "assistant", answer)

	result.Answer = answer
	result.Sources = sources
	result.SourceCount = len(sources)
	result.HasKnowledgeMatch = len(sources) > 0
	result.Status = StatusSuccess
	result.DurationMs = time.Since(started).Milliseconds()
	return result
}

// StreamChat streams the answer into sink and accumulates it in buf so the
// caller can persist it after the done event. Event sequence: one start,
// zero or more content, exactly one done or error. Reports whether done was
// emitted; a partial answer left in buf after an error must not persist.
func (s *AdvancedService) StreamChat(ctx context.Context, question, sessionID string, sink *stream.Sink, buf *strings.Builder) bool {
	timer := logging.StartTimer(logging.CategoryChat, "AdvancedStreamChat")
	defer timer.Stop()

	if strings.TrimSpace(question) == "" {
		sink.Send(ctx, stream.Event{Name: stream.EventError, Data: map[string]interface{}{
			"type": "error", "error": "question is empty",
		}})
		return false
	}
	if !s.initialized() {
		sink.Send(ctx, stream.Event{Name: stream.EventError, Data: map[string]interface{}{
			"type": "error", "error": "service not initialized",
		}})
		return false
	}

	prompt, sources, err := s.buildPrompt(ctx, question)
	if err != nil {
		logging.Get(logging.CategoryChat).Error("Retrieval failed: %v", err)
		sink.Send(ctx, stream.Event{Name: stream.EventError, Data: map[string]interface{}{
			"type": "error", "error": err.Error(),
		}})
		return false
	}

	sink.Send(ctx, stream.Event{Name: stream.EventStart, Data: map[string]interface{}{
		"sourceCount": len(sources),
	}})

	contentChan, errorChan := s.dispatcher.StreamChat(ctx, s.backend, s.withHistory(sessionID, prompt), llm.Options{})
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

	s.remember(sessionID, "user", question)
	s.remember(sessionID, "assistant", buf.String())

	sink.Send(ctx, stream.Event{Name: stream.EventDone, Data: map[string]interface{}{
		"type": "done", "sourceCount": len(sources), "sessionId": sessionID,
	}})
	return true
}

// buildPrompt retrieves knowledge when the question calls for it and renders
// the final prompt. Returns the distinct source names in rank order.
func (s *AdvancedService) buildPrompt(ctx context.Context, question string) (string, []string, error) {
	if !NeedsRetrieval(question) {
		return s.injector.BuildNoKnowledgePrompt(question), []string{}, nil
	}

	contents, err := s.Retrieve(ctx, question)
	if err != nil {
		return "", nil, err
	}

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
	return s.injector.BuildPrompt(question, contents), sources, nil
}

// withHistory prefixes the prompt with the in-process session window.
func (s *AdvancedService) withHistory(sessionID, prompt string) string {
	if sessionID == "" {
		return prompt
	}
	s.mu.Lock()
	turns := s.sessions[sessionID]
	s.mu.Unlock()
	if len(turns) == 0 {
		return prompt
	}

	var b strings.Builder
	b.WriteString("【对话历史】\n")
	for _, t := range turns {
		label := "用户"
		if t.role == "assistant" {
			label = "助手"
		}
		b.WriteString(label)
		b.WriteString(": ")
		b.WriteString(t.content)
		b.WriteString("\n")
	}
	b.WriteString("\n")
	b.WriteString(prompt)
	return b.String()
}

func (s *AdvancedService) remember(sessionID, role, content string) {
	if sessionID == "" || content == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sessions == nil {
		s.sessions = make(map[string][]sessionTurn)
	}
	turns := append(s.sessions[sessionID], sessionTurn{role: role, content: content})
	if len(turns) > sessionWindowSize {
		turns = turns[len(turns)-sessionWindowSize:]
	}
	s.sessions[sessionID] = turns
}

// ClearSession drops the in-process window for a session.
func (s *AdvancedService) ClearSession(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, sessionID)
}
