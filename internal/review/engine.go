// Package review runs the contract-review pipeline: parse, chunk, index,
// retrieve law context, LLM analysis, risk scoring. Reviews are claimed
// atomically by a bounded worker pool and stream progress over SSE. Once a
// review is PROCESSING it runs to a terminal state; client disconnects never
// abort the work.
package review

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"golang.org/x/sync/errgroup"

	"legalrag/internal/config"
	"legalrag/internal/docparse"
	"legalrag/internal/embedding"
	"legalrag/internal/fault"
	"legalrag/internal/llm"
	"legalrag/internal/logging"
	"legalrag/internal/rag"
	"legalrag/internal/store"
	"legalrag/internal/stream"
	"legalrag/internal/textproc"
)

// Risk levels, highest first.
const (
	RiskHigh   = "HIGH"
	RiskMedium = "MEDIUM"
	RiskLow    = "LOW"
)

// ContextRetriever gathers law passages relevant to contract text. The
// advanced chat service's retrieval path satisfies this.
type ContextRetriever interface {
	Retrieve(ctx context.Context, question string) ([]rag.Content, error)
}

// Engine owns the review worker pool and the per-review SSE fan-out.
type Engine struct {
	db         *store.LocalStore
	parser     *docparse.Parser
	proc       *textproc.Processor
	embedder   embedding.Engine
	retriever  ContextRetriever
	dispatcher *llm.Dispatcher
	backend    llm.ModelType

	workers       int
	retrievalK    int
	uploadDir     string
	streamTimeout time.Duration

	queue     chan string
	group     *errgroup.Group
	cancel    context.CancelFunc
	stopOnce  sync.Once
	startOnce sync.Once

	mu    sync.Mutex
	sinks map[string][]*stream.Sink
	done  map[string]chan struct{}
}

// NewEngine wires the pipeline. backend selects the analysis model.
func NewEngine(db *store.LocalStore, parser *docparse.Parser, proc *textproc.Processor,
	embedder embedding.Engine, retriever ContextRetriever, dispatcher *llm.Dispatcher,
	backend llm.ModelType, cfg config.ReviewConfig, uploadDir string, streamTimeout time.Duration) *Engine {

	workers := cfg.Workers
	if workers <= 0 {
		workers = 4
	}
	retrievalK := cfg.RetrievalK
	if retrievalK <= 0 {
		retrievalK = 5
	}
	if streamTimeout <= 0 {
		streamTimeout = 20 * time.Minute
	}

	return &Engine{
		db:            db,
		parser:        parser,
		proc:          proc,
		embedder:      embedder,
		retriever:     retriever,
		dispatcher:    dispatcher,
		backend:       backend,
		workers:       workers,
		retrievalK:    retrievalK,
		uploadDir:     uploadDir,
		streamTimeout: streamTimeout,
		queue:         make(chan string, 64),
		sinks:         make(map[string][]*stream.Sink),
		done:          make(map[string]chan struct{}),
	}
}

// Start launches the worker pool. Workers drain the queue until Stop.
func (e *Engine) Start(ctx context.Context) {
	e.startOnce.Do(func() {
		ctx, e.cancel = context.WithCancel(ctx)
		g, gctx := errgroup.WithContext(ctx)
		e.group = g
		for i := 0; i < e.workers; i++ {
			g.Go(func() error {
				for {
					select {
					case id, ok := <-e.queue:
						if !ok {
							return nil
						}
						e.process(gctx, id)
					case <-gctx.Done():
						return nil
					}
				}
			})
		}
		logging.Review("Review engine started with %d workers", e.workers)
	})
}

// Stop drains the queue and waits for in-flight reviews to reach a terminal
// state.
func (e *Engine) Stop() {
	e.stopOnce.Do(func() { close(e.queue) })
	if e.group != nil {
		e.group.Wait()
	}
	if e.cancel != nil {
		e.cancel()
	}
	logging.Review("Review engine stopped")
}

// Submit stores an uploaded contract and registers a PENDING review. The
// upload is hashed while it streams to disk; duplicate (owner, hash) uploads
// are allowed but logged. Analysis does not start until Analyze is called.
func (e *Engine) Submit(ctx context.Context, owner, filename string, r io.Reader, size int64) (store.Review, error) {
	if !docparse.Supported(filename) {
		return store.Review{}, fault.Wrap(fault.KindUnsupportedFormat, docparse.ErrUnsupportedFormat, "%s", filename)
	}

	review, err := e.db.CreateReview(ctx, owner, filename)
	if err != nil {
		return store.Review{}, err
	}

	if err := os.MkdirAll(e.uploadDir, 0755); err != nil {
		return store.Review{}, fmt.Errorf("failed to create upload dir: %w", err)
	}
	path := e.contractPath(review.ID, filename)
	f, err := os.Create(path)
	if err != nil {
		return store.Review{}, fmt.Errorf("failed to store upload: %w", err)
	}
	defer f.Close()

	hasher := sha256.New()
	written, err := io.Copy(f, io.TeeReader(io.LimitReader(r, size+1), hasher))
	if err != nil {
		return store.Review{}, fmt.Errorf("failed to write upload: %w", err)
	}
	hash := hex.EncodeToString(hasher.Sum(nil))

	if prior, err := e.db.ReviewUploadCount(ctx, owner, hash); err == nil && prior > 0 {
		logging.Review("Duplicate contract upload by %s: hash %s already submitted %d time(s)", owner, hash, prior)
	}
	if err := e.db.SetReviewUpload(ctx, review.ID, hash, written, path); err != nil {
		return store.Review{}, err
	}
	review.FileHash = hash
	review.Size = written
	review.StoredPath = path

	logging.Review("Submitted contract %s as review %s (%d bytes)", filename, review.ID, written)
	return review, nil
}

// contractPath keys the stored upload by review ID so duplicate filenames
// never collide.
func (e *Engine) contractPath(reviewID, filename string) string {
	return filepath.Join(e.uploadDir, reviewID+strings.ToLower(filepath.Ext(filename)))
}

// Analyze triggers analysis. Idempotent: a COMPLETED or PROCESSING review
// returns its current state without re-running.
func (e *Engine) Analyze(ctx context.Context, id, owner string) (store.Review, error) {
	review, err := e.db.GetReview(ctx, id, owner)
	if err != nil {
		return store.Review{}, err
	}
	if review.Status != store.ReviewPending {
		return review, nil
	}
	if err := e.enqueue(ctx, id); err != nil {
		return store.Review{}, err
	}
	return review, nil
}

// StreamAnalyze attaches an SSE sink to a review and triggers analysis when
// still PENDING. Emits connected immediately; on stream timeout emits timeout
// and returns while the background pipeline continues.
func (e *Engine) StreamAnalyze(ctx context.Context, id, owner string, sink *stream.Sink) error {
	review, err := e.db.GetReview(ctx, id, owner)
	if err != nil {
		return err
	}

	sink.Send(ctx, stream.Event{Name: stream.EventConnected, Data: map[string]interface{}{
		"reviewId": id, "status": review.Status,
	}})

	// Terminal reviews replay their result without re-running.
	switch review.Status {
	case store.ReviewCompleted:
		e.emitResult(ctx, sink, review)
		sink.Send(ctx, stream.Event{Name: stream.EventComplete, Data: map[string]interface{}{
			"reviewId": id, "status": store.ReviewCompleted,
		}})
		return nil
	case store.ReviewFailed:
		sink.Send(ctx, stream.Event{Name: stream.EventError, Data: map[string]interface{}{
			"reviewId": id, "error": review.ErrorMsg,
		}})
		return nil
	}

	waitCh := e.doneChan(id)
	e.attach(id, sink)
	defer e.detach(id, sink)

	if review.Status == store.ReviewPending {
		if err := e.enqueue(ctx, id); err != nil {
			return err
		}
	}

	select {
	case <-waitCh:
		return nil
	case <-time.After(e.streamTimeout):
		sink.Send(ctx, stream.Event{Name: stream.EventTimeout, Data: map[string]interface{}{
			"message": "审查仍在后台进行,请稍后查询结果", "reviewId": id,
		}})
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Reprocess clears the review's indexed segments, resets it to PENDING, and
// enqueues it again. Prior results are replaced only by a successful rerun.
func (e *Engine) Reprocess(ctx context.Context, id, owner string) error {
	if _, err := e.db.GetReview(ctx, id, owner); err != nil {
		return err
	}

	if doc, err := e.db.DocumentByHash(ctx, reviewHash(id)); err == nil {
		if err := e.db.DeleteDocument(ctx, doc.ID); err != nil {
			return err
		}
	}
	if err := e.db.ResetReview(ctx, id); err != nil {
		return err
	}

	e.resetDone(id)
	logging.Review("Review %s reset for reprocessing", id)
	return e.enqueue(ctx, id)
}

func (e *Engine) enqueue(ctx context.Context, id string) error {
	select {
	case e.queue <- id:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// reviewHash keys the review's segments in the document registry.
func reviewHash(reviewID string) string {
	return "contract_review:" + reviewID
}

// process runs the six pipeline stages for one claimed review.
func (e *Engine) process(ctx context.Context, id string) {
	timer := logging.StartTimer(logging.CategoryReview, "Process")
	defer timer.Stop()

	if err := e.db.ClaimReview(ctx, id); err != nil {
		if fault.KindOf(err) == fault.KindAlreadyClaimed {
			logging.ReviewDebug("Review %s already claimed, skipping", id)
			return
		}
		logging.Get(logging.CategoryReview).Error("Failed to claim review %s: %v", id, err)
		return
	}
	defer e.finish(id)

	review, err := e.db.ReviewByID(ctx, id)
	if err != nil {
		e.fail(ctx, id, fmt.Sprintf("审查记录读取失败: %v", err))
		return
	}

	e.emit(ctx, id, stream.Event{Name: stream.EventInfo, Data: map[string]interface{}{
		"message": "开始分析合同", "reviewId": id, "filename": review.Filename,
	}})

	// Stage 1: parse.
	path := review.StoredPath
	if path == "" {
		path = e.contractPath(id, review.Filename)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		e.fail(ctx, id, fmt.Sprintf("合同文件读取失败: %v", err))
		return
	}
	text, err := e.parser.Parse(bytes.NewReader(data), review.Filename, int64(len(data)))
	if err != nil {
		e.fail(ctx, id, fmt.Sprintf("合同解析失败: %v", err))
		return
	}
	e.progress(ctx, id, 20, "parse", "文本提取完成")

	// Stage 2: chunk and summarize.
	chunks := e.proc.Split(text)
	e.progress(ctx, id, 35, "chunk", fmt.Sprintf("切分为 %d 个条款块,共 %d 字", len(chunks), len([]rune(text))))

	// Stage 3: embed and index. Failures are logged, never fatal.
	e.indexChunks(ctx, id, review.Filename, chunks, int64(len(data)))
	e.progress(ctx, id, 55, "index", "合同内容已加入检索库")

	// Stage 4: retrieve law context.
	lawContext := e.retrieveContext(ctx, text, review.Filename)
	e.progress(ctx, id, 70, "retrieve", fmt.Sprintf("检索到 %d 条相关法律依据", len(lawContext)))

	// Stage 5: LLM analysis with one schema-reminder retry.
	analysis, err := e.analyzeLLM(ctx, text, lawContext)
	if err != nil {
		e.fail(ctx, id, fmt.Sprintf("模型分析失败: %v", err))
		return
	}
	e.progress(ctx, id, 95, "analyze", "模型分析完成")

	// Stage 6: score and persist in one transaction.
	clauses := make([]store.RiskClause, 0, len(analysis.RiskClauses))
	for i, rc := range analysis.RiskClauses {
		start, end := clausePosition(text, rc.ClauseText)
		clauses = append(clauses, store.RiskClause{
			Ord:           i,
			ClauseText:    rc.ClauseText,
			Description:   rc.Description,
			RiskLevel:     normalizeRiskLevel(rc.RiskLevel),
			RiskType:      rc.RiskType,
			Suggestion:    rc.Suggestion,
			LegalBasis:    rc.LegalBasis,
			PositionStart: start,
			PositionEnd:   end,
		})
	}
	riskLevel := overallRisk(clauses)
	completeness := CompletenessScore(len(clauses), riskLevel)

	if err := e.db.CompleteReview(ctx, id, riskLevel, analysis.Summary, completeness, clauses); err != nil {
		e.fail(ctx, id, fmt.Sprintf("结果保存失败: %v", err))
		return
	}

	completed, err := e.db.ReviewByID(ctx, id)
	if err != nil {
		completed = review
		completed.Status = store.ReviewCompleted
	}
	e.emitResultAll(ctx, id, completed)
	e.progress(ctx, id, 100, "persist", "审查完成")
	e.emit(ctx, id, stream.Event{Name: stream.EventComplete, Data: map[string]interface{}{
		"reviewId": id, "status": store.ReviewCompleted,
	}})
	logging.Review("Review %s completed: risk=%s clauses=%d", id, riskLevel, len(clauses))
}

// indexChunks embeds and stores the contract chunks for later retrieval.
func (e *Engine) indexChunks(ctx context.Context, id, filename string, chunks []string, size int64) {
	doc, _, err := e.db.RegisterDocument(ctx, filename, reviewHash(id), "CONTRACT_CLAUSE", size)
	if err != nil {
		logging.Get(logging.CategoryReview).Warn("Review %s: document registration failed: %v", id, err)
		return
	}

	vecs, err := e.embedder.EmbedBatch(ctx, chunks)
	if err != nil {
		logging.Get(logging.CategoryReview).Warn("Review %s: chunk embedding failed: %v", id, err)
		e.db.SetDocumentStatus(ctx, doc.ID, store.DocStatusFailed, 0)
		return
	}

	segs := make([]store.Segment, 0, len(chunks))
	for i, chunk := range chunks {
		segs = append(segs, store.Segment{
			DocumentID:  doc.ID,
			Ord:         i,
			Content:     chunk,
			ContentType: "CONTRACT_CLAUSE",
			Source:      filename,
			Embedding:   vecs[i],
		})
	}
	if err := e.db.InsertSegments(ctx, segs); err != nil {
		logging.Get(logging.CategoryReview).Warn("Review %s: segment insert failed: %v", id, err)
		e.db.SetDocumentStatus(ctx, doc.ID, store.DocStatusFailed, 0)
		return
	}
	e.db.SetDocumentStatus(ctx, doc.ID, store.DocStatusIndexed, len(segs))
}

// retrieveContext gathers up to retrievalK law passages for the contract. The
// query is the leading text of the contract, which carries the title and the
// subject matter.
func (e *Engine) retrieveContext(ctx context.Context, text, filename string) []rag.Content {
	if e.retriever == nil {
		return nil
	}
	query := textproc.TruncateAt(text, 200)
	contents, err := e.retriever.Retrieve(ctx, query)
	if err != nil {
		logging.Get(logging.CategoryReview).Warn("Law context retrieval failed for %s: %v", filename, err)
		return nil
	}
	if len(contents) > e.retrievalK {
		contents = contents[:e.retrievalK]
	}
	return contents
}

// llmAnalysis is the structured object expected from the model. Unknown
// fields in the response are ignored.
type llmAnalysis struct {
	Summary     string   `json:"summary"`
	KeyClauses  []string `json:"keyClauses"`
	RiskClauses []struct {
		ClauseText  string `json:"clauseText"`
		Description string `json:"description"`
		RiskLevel   string `json:"riskLevel"`
		RiskType    string `json:"riskType"`
		Suggestion  string `json:"suggestion"`
		LegalBasis  string `json:"legalBasis"`
	} `json:"riskClauses"`
}

const schemaReminder = "\n\n注意:上一次回答无法解析。请只输出一个 JSON 对象,必须包含 summary(字符串)、keyClauses(字符串数组)、riskClauses(对象数组,字段 clauseText、description、riskLevel、riskType、suggestion、legalBasis),不要输出任何其他文字。"

// clausePosition locates a clause excerpt in the contract text as rune
// offsets. Returns -1, -1 when the excerpt does not appear verbatim.
func clausePosition(text, clause string) (int, int) {
	clause = strings.TrimSpace(clause)
	if clause == "" {
		return -1, -1
	}
	idx := strings.Index(text, clause)
	if idx < 0 {
		return -1, -1
	}
	start := utf8.RuneCountInString(text[:idx])
	return start, start + utf8.RuneCountInString(clause)
}

// analyzeLLM asks the model for the structured analysis, retrying once with a
// schema reminder when the first response cannot be parsed.
func (e *Engine) analyzeLLM(ctx context.Context, text string, lawContext []rag.Content) (llmAnalysis, error) {
	prompt := buildAnalysisPrompt(text, lawContext)

	raw, err := e.dispatcher.Chat(ctx, e.backend, prompt, llm.Options{})
	if err != nil {
		return llmAnalysis{}, err
	}
	analysis, perr := parseAnalysis(raw)
	if perr == nil {
		return analysis, nil
	}
	logging.ReviewDebug("First analysis response unparsable, retrying with reminder: %v", perr)

	raw, err = e.dispatcher.Chat(ctx, e.backend, prompt+schemaReminder, llm.Options{})
	if err != nil {
		return llmAnalysis{}, err
	}
	analysis, perr = parseAnalysis(raw)
	if perr != nil {
		return llmAnalysis{}, fault.Wrap(fault.KindLLMResponseUnparsable, perr, "analysis response unparsable after retry")
	}
	return analysis, nil
}

// maxContractPromptRunes bounds the contract text embedded in the analysis
// prompt.
const maxContractPromptRunes = 6000

func buildAnalysisPrompt(text string, lawContext []rag.Content) string {
	var b strings.Builder
	b.WriteString("你是一位资深合同审查律师。请审查下面的合同,识别风险条款并给出修改建议。\n\n")

	if len(lawContext) > 0 {
		b.WriteString("【相关法律依据】\n")
		for i, c := range lawContext {
			fmt.Fprintf(&b, "%d. %s\n", i+1, textproc.TruncateAt(c.Text, 300))
		}
		b.WriteString("\n")
	}

	b.WriteString("【合同文本】\n")
	b.WriteString(textproc.TruncateAt(text, maxContractPromptRunes))
	b.WriteString("\n\n【输出要求】\n")
	b.WriteString("只输出一个 JSON 对象,包含以下字段。clauseText 必须摘抄合同原文:\n")
	b.WriteString(`{"summary": "合同整体评价", "keyClauses": ["关键条款摘要"], "riskClauses": [{"clauseText": "风险条款原文片段", "description": "风险说明", "riskLevel": "HIGH|MEDIUM|LOW", "riskType": "风险类型", "suggestion": "修改建议", "legalBasis": "法律依据"}]}`)
	return b.String()
}

// parseAnalysis extracts the JSON object from a model response. Models often
// wrap JSON in prose or code fences; everything outside the outermost braces
// is discarded.
func parseAnalysis(raw string) (llmAnalysis, error) {
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start < 0 || end <= start {
		return llmAnalysis{}, fmt.Errorf("no JSON object in response")
	}

	var analysis llmAnalysis
	if err := json.Unmarshal([]byte(raw[start:end+1]), &analysis); err != nil {
		return llmAnalysis{}, fmt.Errorf("failed to decode analysis: %w", err)
	}
	if strings.TrimSpace(analysis.Summary) == "" {
		return llmAnalysis{}, fmt.Errorf("analysis missing summary")
	}
	return analysis, nil
}

func normalizeRiskLevel(level string) string {
	switch strings.ToUpper(strings.TrimSpace(level)) {
	case RiskHigh, "高":
		return RiskHigh
	case RiskLow, "低":
		return RiskLow
	default:
		return RiskMedium
	}
}

// overallRisk is the highest level among the flagged clauses; LOW when none.
func overallRisk(clauses []store.RiskClause) string {
	level := RiskLow
	for _, c := range clauses {
		if c.RiskLevel == RiskHigh {
			return RiskHigh
		}
		if c.RiskLevel == RiskMedium {
			level = RiskMedium
		}
	}
	return level
}

// CompletenessScore maps risk counts to a 20..100 score. Each risk costs 5
// points up to 50; a HIGH overall level costs another 20, MEDIUM another 10.
func CompletenessScore(totalRisks int, riskLevel string) int {
	penalty := totalRisks * 5
	if penalty > 50 {
		penalty = 50
	}
	switch riskLevel {
	case RiskHigh:
		penalty += 20
	case RiskMedium:
		penalty += 10
	}
	score := 100 - penalty
	if score < 20 {
		score = 20
	}
	return score
}

// progress persists and emits one monotonic progress step.
func (e *Engine) progress(ctx context.Context, id string, pct int, stage, message string) {
	if err := e.db.UpdateReviewProgress(ctx, id, pct); err != nil {
		logging.ReviewDebug("Progress persist failed for %s: %v", id, err)
	}
	e.emit(ctx, id, stream.Event{Name: stream.EventProgress, Data: map[string]interface{}{
		"stage": stage, "progress": pct, "message": message,
	}})
}

// fail terminates the review and emits the error event.
func (e *Engine) fail(ctx context.Context, id, msg string) {
	if err := e.db.FailReview(ctx, id, msg); err != nil {
		logging.Get(logging.CategoryReview).Error("Failed to mark review %s failed: %v", id, err)
	}
	e.emit(ctx, id, stream.Event{Name: stream.EventError, Data: map[string]interface{}{
		"reviewId": id, "error": msg,
	}})
}

// emitResult renders the full review payload on one sink.
func (e *Engine) emitResult(ctx context.Context, sink *stream.Sink, review store.Review) {
	clauses, err := e.db.RiskClauses(ctx, review.ID)
	if err != nil {
		logging.ReviewDebug("Risk clause fetch failed for %s: %v", review.ID, err)
	}
	sink.Send(ctx, stream.Event{Name: stream.EventResult, Data: resultPayload(review, clauses)})
}

// emitResultAll renders the full payload to every attached sink.
func (e *Engine) emitResultAll(ctx context.Context, id string, review store.Review) {
	clauses, err := e.db.RiskClauses(ctx, id)
	if err != nil {
		logging.ReviewDebug("Risk clause fetch failed for %s: %v", id, err)
	}
	e.emit(ctx, id, stream.Event{Name: stream.EventResult, Data: resultPayload(review, clauses)})
}

func resultPayload(review store.Review, clauses []store.RiskClause) map[string]interface{} {
	riskClauses := make([]map[string]interface{}, 0, len(clauses))
	for _, c := range clauses {
		riskClauses = append(riskClauses, map[string]interface{}{
			"clauseText":    c.ClauseText,
			"description":   c.Description,
			"riskLevel":     c.RiskLevel,
			"riskType":      c.RiskType,
			"suggestion":    c.Suggestion,
			"legalBasis":    c.LegalBasis,
			"positionStart": c.PositionStart,
			"positionEnd":   c.PositionEnd,
		})
	}
	return map[string]interface{}{
		"reviewId":          review.ID,
		"filename":          review.Filename,
		"riskLevel":         review.RiskLevel,
		"completenessScore": review.CompletenessScore,
		"summary":           review.Summary,
		"totalRisks":        len(clauses),
		"riskClauses":       riskClauses,
	}
}

// emit fans an event out to every sink attached to the review.
func (e *Engine) emit(ctx context.Context, id string, ev stream.Event) {
	e.mu.Lock()
	sinks := append([]*stream.Sink(nil), e.sinks[id]...)
	e.mu.Unlock()
	for _, sink := range sinks {
		sink.Send(ctx, ev)
	}
}

func (e *Engine) attach(id string, sink *stream.Sink) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.sinks[id] = append(e.sinks[id], sink)
}

func (e *Engine) detach(id string, sink *stream.Sink) {
	e.mu.Lock()
	defer e.mu.Unlock()
	kept := e.sinks[id][:0]
	for _, s := range e.sinks[id] {
		if s != sink {
			kept = append(kept, s)
		}
	}
	if len(kept) == 0 {
		delete(e.sinks, id)
	} else {
		e.sinks[id] = kept
	}
}

// doneChan returns the channel closed when the review reaches a terminal
// state.
func (e *Engine) doneChan(id string) <-chan struct{} {
	e.mu.Lock()
	defer e.mu.Unlock()
	ch, ok := e.done[id]
	if !ok {
		ch = make(chan struct{})
		e.done[id] = ch
	}
	return ch
}

// finish closes the review's done channel after a terminal transition.
func (e *Engine) finish(id string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if ch, ok := e.done[id]; ok {
		close(ch)
	} else {
		ch = make(chan struct{})
		close(ch)
		e.done[id] = ch
	}
}

// resetDone replaces a consumed done channel before a reprocess run.
func (e *Engine) resetDone(id string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.done, id)
}
