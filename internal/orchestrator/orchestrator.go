// Package orchestrator produces the response for a routed message by trying
// answer strategies in a fixed priority order. The first strategy that
// produces a payload wins; later strategies never run or overwrite it.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"docsage/internal/domain"
)

const apologyText = "Sorry, I couldn't put together an answer this time. Please try again."

// compareExcerptLimit bounds the excerpt fed to the chat fallback when the
// comparison collaborator fails.
const compareExcerptLimit = 3000

// Request carries one message through the strategy chain.
type Request struct {
	// Text is the raw message text, mentions preserved, for the query
	// service. CleanText has mentions stripped, for chat prompts.
	Text      string
	CleanText string

	Intent  domain.IntentDecision
	Target  domain.DocumentTarget
	Catalog []domain.Document
	History []domain.MessageRecord

	ActorID   string
	ChannelID string
}

// Timeouts bounds each strategy's external call.
type Timeouts struct {
	Query           time.Duration // retrieval-augmented query
	QueryTools      time.Duration // query with URL fetching, longer
	Compare         time.Duration // comparison collaborator
	CompareFallback time.Duration // chat-based comparison fallback
	Chat            time.Duration // plain chat
	MemorySynthesis time.Duration // memory recall synthesis
}

func (t *Timeouts) applyDefaults() {
	def := func(d *time.Duration, v time.Duration) {
		if *d <= 0 {
			*d = v
		}
	}
	def(&t.Query, 30*time.Second)
	def(&t.QueryTools, 90*time.Second)
	def(&t.Compare, 60*time.Second)
	def(&t.CompareFallback, 20*time.Second)
	def(&t.Chat, 30*time.Second)
	def(&t.MemorySynthesis, 20*time.Second)
}

// Orchestrator runs the strategy chain.
type Orchestrator struct {
	docs       domain.DocumentStore
	query      domain.QueryService
	comparator domain.Comparator
	chat       domain.Provider
	memory     domain.MemoryStore

	recallTopK     int
	recallMinScore float64
	timeouts       Timeouts
	logger         *slog.Logger
}

type Config struct {
	Docs       domain.DocumentStore
	Query      domain.QueryService
	Comparator domain.Comparator
	Chat       domain.Provider
	Memory     domain.MemoryStore

	RecallTopK     int
	RecallMinScore float64
	Timeouts       Timeouts
	Logger         *slog.Logger
}

func New(cfg Config) *Orchestrator {
	if cfg.RecallTopK <= 0 {
		cfg.RecallTopK = 5
	}
	if cfg.RecallMinScore <= 0 {
		cfg.RecallMinScore = 0.35
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	cfg.Timeouts.applyDefaults()
	return &Orchestrator{
		docs:           cfg.Docs,
		query:          cfg.Query,
		comparator:     cfg.Comparator,
		chat:           cfg.Chat,
		memory:         cfg.Memory,
		recallTopK:     cfg.RecallTopK,
		recallMinScore: cfg.RecallMinScore,
		timeouts:       cfg.Timeouts,
		logger:         cfg.Logger,
	}
}

// Produce never returns nil. If every strategy fails the payload is a fixed
// apology. Comparison failures are terminal: an explicit comparison request
// gets a comparison error, not a silently different answer.
func (o *Orchestrator) Produce(ctx context.Context, req Request) *domain.ResponsePayload {
	type strategy struct {
		name string
		run  func(context.Context, Request) *domain.ResponsePayload
	}

	strategies := []strategy{
		{"compareTwo", o.compareTwo},
		{"compareMany", o.compareMany},
		{"listAll", o.listAll},
		{"rag", o.ragQuery},
		{"memory", o.memoryRecall},
		{"chat", o.plainChat},
	}

	for _, s := range strategies {
		payload := s.run(ctx, req)
		if payload != nil {
			payload.ProducedBy = s.name
			o.logger.Debug("response produced", "strategy", s.name)
			return payload
		}
	}

	o.logger.Warn("all strategies exhausted", "actor", req.ActorID)
	return &domain.ResponsePayload{Answer: apologyText, ProducedBy: "apology"}
}

// --- strategy: compare two named documents --------------------------------

func (o *Orchestrator) compareTwo(ctx context.Context, req Request) *domain.ResponsePayload {
	if req.Target.Mode != domain.TargetCompareTwo {
		return nil
	}

	for _, ref := range []domain.DocumentRef{req.Target.First, req.Target.Second} {
		if ref.ID == "" {
			return &domain.ResponsePayload{
				Answer: fmt.Sprintf("I couldn't find a document named %q. Ask me to list the documents to see what's stored.", ref.Filename),
			}
		}
	}

	textA, errA := o.fullText(ctx, req.Target.First.ID)
	textB, errB := o.fullText(ctx, req.Target.Second.ID)
	if errA != nil || errB != nil || textA == "" || textB == "" {
		name := req.Target.First.Filename
		if errA == nil && textA != "" {
			name = req.Target.Second.Filename
		}
		return &domain.ResponsePayload{
			Answer: fmt.Sprintf("I couldn't load the content of %q, so I can't run the comparison.", name),
		}
	}

	text, err := o.comparePair(ctx, textA, textB, req.Target.First.Filename, req.Target.Second.Filename)
	if err != nil {
		// Terminal: an explicit comparison must not degrade into chat.
		o.logger.Warn("comparison failed", "err", err)
		return &domain.ResponsePayload{
			Answer: fmt.Sprintf("Comparing %s with %s failed. Please try again.",
				req.Target.First.Filename, req.Target.Second.Filename),
		}
	}

	return &domain.ResponsePayload{
		Answer:          text,
		SourceDocuments: []string{req.Target.First.Filename, req.Target.Second.Filename},
	}
}

// comparePair tries the comparison collaborator, then a chat comparison over
// truncated excerpts.
func (o *Orchestrator) comparePair(ctx context.Context, textA, textB, nameA, nameB string) (string, error) {
	cctx, cancel := context.WithTimeout(ctx, o.timeouts.Compare)
	result, err := o.comparator.Compare(cctx, textA, textB, nameA, nameB)
	cancel()
	if err == nil {
		return result.ComparisonText, nil
	}
	o.logger.Warn("comparison collaborator failed, trying chat fallback", "err", err)

	prompt := fmt.Sprintf(
		"Compare these two document excerpts and describe what differs.\n\n%s (excerpt):\n%s\n\n%s (excerpt):\n%s",
		nameA, excerpt(textA, compareExcerptLimit), nameB, excerpt(textB, compareExcerptLimit))

	fctx, cancel := context.WithTimeout(ctx, o.timeouts.CompareFallback)
	defer cancel()
	resp, err := o.chat.Chat(fctx, domain.ChatRequest{
		Messages: []domain.Message{{Role: "user", Content: prompt}},
	})
	if err != nil {
		return "", fmt.Errorf("chat comparison fallback: %w", err)
	}
	if strings.TrimSpace(resp.Content) == "" {
		return "", fmt.Errorf("chat comparison fallback produced no text")
	}
	return resp.Content + "\n\n(Note: compared from truncated excerpts.)", nil
}

// --- strategy: compare a filtered document series -------------------------

func (o *Orchestrator) compareMany(ctx context.Context, req Request) *domain.ResponsePayload {
	if req.Target.Mode != domain.TargetCompareMany {
		return nil
	}

	docs := req.Target.Many
	if len(docs) < 2 {
		return &domain.ResponsePayload{
			Answer: fmt.Sprintf("I need at least two matching documents to compare, but found %d.", len(docs)),
		}
	}

	var sb strings.Builder
	var sources []string
	for _, d := range docs {
		sources = append(sources, d.Filename)
	}

	for i := 0; i+1 < len(docs); i++ {
		a, b := docs[i], docs[i+1]
		fmt.Fprintf(&sb, "## %s → %s\n\n", a.Filename, b.Filename)

		textA, errA := o.fullText(ctx, a.ID)
		textB, errB := o.fullText(ctx, b.ID)
		if errA != nil || errB != nil || textA == "" || textB == "" {
			sb.WriteString("(could not load both documents for this pair)\n\n")
			continue
		}

		text, err := o.comparePair(ctx, textA, textB, a.Filename, b.Filename)
		if err != nil {
			// One failed pair is recorded inline; the rest still run.
			o.logger.Warn("pairwise comparison failed", "a", a.Filename, "b", b.Filename, "err", err)
			sb.WriteString("(comparison failed for this pair)\n\n")
			continue
		}
		sb.WriteString(text)
		sb.WriteString("\n\n")
	}

	return &domain.ResponsePayload{
		Answer:          strings.TrimSpace(sb.String()),
		SourceDocuments: sources,
	}
}

// --- strategy: list the catalog -------------------------------------------

func (o *Orchestrator) listAll(_ context.Context, req Request) *domain.ResponsePayload {
	if req.Target.Mode != domain.TargetListAll {
		return nil
	}

	if len(req.Catalog) == 0 {
		return &domain.ResponsePayload{
			Answer: "There are no documents stored yet. Attach a file to a message and I'll index it.",
		}
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "I have %d document(s):\n", len(req.Catalog))
	var sources []string
	for _, d := range req.Catalog {
		fmt.Fprintf(&sb, "- %s (%d chunks, uploaded by %s on %s)\n",
			d.Filename, d.ChunkCount, d.UploadedBy, d.UploadedAt.Format("2006-01-02"))
		sources = append(sources, d.Filename)
	}

	return &domain.ResponsePayload{
		Answer:          strings.TrimSpace(sb.String()),
		SourceDocuments: sources,
	}
}

// --- strategy: retrieval-augmented query ----------------------------------

func (o *Orchestrator) ragQuery(ctx context.Context, req Request) *domain.ResponsePayload {
	routed := req.Intent.Handler == domain.HandlerRAG || req.Intent.Handler == domain.HandlerTools
	if !req.Intent.NeedsRAG && !routed {
		return nil
	}

	timeout := o.timeouts.Query
	if req.Intent.NeedsTools {
		// URL fetches dominate the latency of tool-routed queries.
		timeout = o.timeouts.QueryTools
	}

	qreq := domain.QueryRequest{
		Question:  req.Text,
		History:   req.History,
		ActorID:   req.ActorID,
		ChannelID: req.ChannelID,
	}
	if req.Target.Mode == domain.TargetSingle && req.Target.Single.ID != "" {
		qreq.DocID = req.Target.Single.ID
		qreq.DocFilename = req.Target.Single.Filename
	}

	qctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	result, err := o.query.Query(qctx, qreq)
	if err != nil {
		// Silent fallthrough: a later strategy may still answer.
		o.logger.Warn("query service failed", "err", err)
		return nil
	}

	return &domain.ResponsePayload{
		Answer:               result.Answer,
		ContextChunkCount:    result.ContextChunks,
		MemoriesUsedCount:    result.MemoriesUsed,
		SourceDocuments:      result.SourceDocuments,
		SourceMemories:       result.SourceMemories,
		IsCasualConversation: result.IsCasualConversation,
		ServiceRouting:       result.ServiceRouting,
	}
}

// --- strategy: memory recall ----------------------------------------------

func (o *Orchestrator) memoryRecall(ctx context.Context, req Request) *domain.ResponsePayload {
	targetActive := req.Target.Mode != "" && req.Target.Mode != domain.TargetNone
	if req.Intent.NeedsRAG || targetActive || req.Intent.IsCasual {
		return nil
	}
	if o.memory == nil {
		return nil
	}

	recalled, err := o.memory.RelevantMemories(ctx, req.ChannelID, req.CleanText, o.recallTopK)
	if err != nil {
		o.logger.Warn("memory recall failed", "err", err)
		return nil
	}

	var kept []domain.ScoredMemory
	for _, m := range recalled {
		if m.Score >= o.recallMinScore {
			kept = append(kept, m)
		}
	}
	if len(kept) == 0 {
		return nil
	}

	var facts strings.Builder
	for _, m := range kept {
		fmt.Fprintf(&facts, "- %s\n", m.Entry.Content)
	}
	prompt := fmt.Sprintf("Using only these remembered facts:\n%s\nAnswer: %s", facts.String(), req.CleanText)

	mctx, cancel := context.WithTimeout(ctx, o.timeouts.MemorySynthesis)
	defer cancel()
	resp, err := o.chat.Chat(mctx, domain.ChatRequest{
		Messages: []domain.Message{{Role: "user", Content: prompt}},
	})
	if err != nil || strings.TrimSpace(resp.Content) == "" {
		o.logger.Warn("memory synthesis failed", "err", err)
		return nil
	}

	payload := &domain.ResponsePayload{
		Answer:            resp.Content,
		MemoriesUsedCount: len(kept),
	}
	for _, m := range kept {
		payload.SourceMemories = append(payload.SourceMemories, domain.SourceMemory{
			Type:    m.Entry.Category,
			Excerpt: excerpt(m.Entry.Content, 120),
			Score:   m.Score,
		})
	}
	return payload
}

// --- strategy: plain chat -------------------------------------------------

func (o *Orchestrator) plainChat(ctx context.Context, req Request) *domain.ResponsePayload {
	msgs := make([]domain.Message, 0, len(req.History)+1)
	for _, h := range req.History {
		role := h.Role
		if role != "assistant" {
			role = "user"
		}
		msgs = append(msgs, domain.Message{Role: role, Content: h.Content})
	}
	msgs = append(msgs, domain.Message{Role: "user", Content: req.CleanText})

	cctx, cancel := context.WithTimeout(ctx, o.timeouts.Chat)
	defer cancel()
	resp, err := o.chat.Chat(cctx, domain.ChatRequest{Messages: msgs})
	if err != nil || strings.TrimSpace(resp.Content) == "" {
		o.logger.Warn("plain chat failed", "err", err)
		return nil
	}

	return &domain.ResponsePayload{
		Answer:               resp.Content,
		IsCasualConversation: req.Intent.IsCasual,
	}
}

// fullText loads a document's chunks and concatenates them in order.
func (o *Orchestrator) fullText(ctx context.Context, docID string) (string, error) {
	chunks, err := o.docs.GetChunks(ctx, docID)
	if err != nil {
		return "", err
	}
	var sb strings.Builder
	for i, c := range chunks {
		if i > 0 {
			sb.WriteString("\n")
		}
		sb.WriteString(c.Content)
	}
	return sb.String(), nil
}

func excerpt(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
