// Package rag answers questions by assembling retrieved document chunks,
// recalled memories and recent history into a synthesis prompt.
package rag

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"regexp"
	"strings"

	"docsage/internal/domain"
)

const answerPrompt = `You are a document-aware assistant. Answer using the provided document excerpts and remembered facts when they are relevant. Cite the source filename when you draw on an excerpt. If the material does not cover the question, say so instead of guessing.`

// maxFetchBytes bounds how much of a linked page is read.
const maxFetchBytes = 256 * 1024

var urlPattern = regexp.MustCompile(`(?i)\bhttps?://\S+`)

var tagPattern = regexp.MustCompile(`(?s)<script.*?</script>|<style.*?</style>|<[^>]*>`)

// Service implements domain.QueryService.
type Service struct {
	docs     domain.DocumentStore
	memory   domain.MemoryStore
	provider domain.Provider
	client   *http.Client

	searchTopK     int
	recallTopK     int
	recallMinScore float64
	logger         *slog.Logger
}

type ServiceConfig struct {
	Docs     domain.DocumentStore
	Memory   domain.MemoryStore
	Provider domain.Provider
	// HTTPClient fetches linked pages. nil disables URL enrichment.
	HTTPClient *http.Client

	SearchTopK     int
	RecallTopK     int
	RecallMinScore float64
	Logger         *slog.Logger
}

func NewService(cfg ServiceConfig) *Service {
	if cfg.SearchTopK <= 0 {
		cfg.SearchTopK = 5
	}
	if cfg.RecallTopK <= 0 {
		cfg.RecallTopK = 5
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Service{
		docs:           cfg.Docs,
		memory:         cfg.Memory,
		provider:       cfg.Provider,
		client:         cfg.HTTPClient,
		searchTopK:     cfg.SearchTopK,
		recallTopK:     cfg.RecallTopK,
		recallMinScore: cfg.RecallMinScore,
		logger:         cfg.Logger,
	}
}

func (s *Service) Query(ctx context.Context, req domain.QueryRequest) (*domain.QueryResult, error) {
	hits, err := s.docs.SearchChunks(ctx, req.Question, s.searchTopK, req.DocID)
	if err != nil {
		s.logger.Warn("chunk search failed", "err", err)
		hits = nil
	}

	var memories []domain.ScoredMemory
	if s.memory != nil {
		recalled, err := s.memory.RelevantMemories(ctx, req.ChannelID, req.Question, s.recallTopK)
		if err != nil {
			s.logger.Warn("memory recall failed", "err", err)
		}
		for _, m := range recalled {
			if m.Score >= s.recallMinScore {
				memories = append(memories, m)
			}
		}
	}

	pageText, pageURL := s.fetchLinkedPage(ctx, req.Question)

	routing := "chat"
	switch {
	case pageURL != "":
		routing = "web"
	case len(hits) > 0 && len(memories) > 0:
		routing = "rag+memory"
	case len(hits) > 0:
		routing = "rag"
	case len(memories) > 0:
		routing = "memory"
	}

	prompt := s.buildPrompt(req, hits, memories, pageText, pageURL)

	resp, err := s.provider.Chat(ctx, domain.ChatRequest{Messages: prompt})
	if err != nil {
		return nil, fmt.Errorf("synthesis: %w", err)
	}
	answer := strings.TrimSpace(resp.Content)
	if answer == "" {
		return nil, fmt.Errorf("synthesis produced no text")
	}

	result := &domain.QueryResult{
		Answer:               answer,
		ContextChunks:        len(hits),
		MemoriesUsed:         len(memories),
		ServiceRouting:       routing,
		IsCasualConversation: routing == "chat",
	}
	seen := make(map[string]bool)
	for _, h := range hits {
		if !seen[h.Filename] {
			seen[h.Filename] = true
			result.SourceDocuments = append(result.SourceDocuments, h.Filename)
		}
	}
	for _, m := range memories {
		result.SourceMemories = append(result.SourceMemories, domain.SourceMemory{
			Type:    m.Entry.Category,
			Excerpt: excerpt(m.Entry.Content, 120),
			Score:   m.Score,
		})
	}
	return result, nil
}

func (s *Service) buildPrompt(req domain.QueryRequest, hits []domain.ChunkSearchResult,
	memories []domain.ScoredMemory, pageText, pageURL string) []domain.Message {

	msgs := []domain.Message{{Role: "system", Content: answerPrompt}}

	var ctxParts []string
	if len(hits) > 0 {
		var sb strings.Builder
		sb.WriteString("Document excerpts:\n")
		for _, h := range hits {
			fmt.Fprintf(&sb, "[%s, chunk %d]\n%s\n\n", h.Filename, h.Chunk.ChunkIndex, h.Chunk.Content)
		}
		ctxParts = append(ctxParts, sb.String())
	}
	if len(memories) > 0 {
		var sb strings.Builder
		sb.WriteString("Remembered facts about this chat:\n")
		for _, m := range memories {
			fmt.Fprintf(&sb, "- (%s) %s\n", m.Entry.Category, m.Entry.Content)
		}
		ctxParts = append(ctxParts, sb.String())
	}
	if pageText != "" {
		ctxParts = append(ctxParts, fmt.Sprintf("Content of %s:\n%s\n", pageURL, pageText))
	}
	if len(ctxParts) > 0 {
		msgs = append(msgs, domain.Message{Role: "system", Content: strings.Join(ctxParts, "\n")})
	}

	for _, h := range req.History {
		role := h.Role
		if role != "assistant" {
			role = "user"
		}
		msgs = append(msgs, domain.Message{Role: role, Content: h.Content})
	}

	msgs = append(msgs, domain.Message{Role: "user", Content: req.Question})
	return msgs
}

// fetchLinkedPage downloads the first URL in the question, if any, and
// returns its visible text. Failures degrade to an empty result so the
// question is still answered from whatever else is available.
func (s *Service) fetchLinkedPage(ctx context.Context, question string) (text, url string) {
	if s.client == nil {
		return "", ""
	}
	url = urlPattern.FindString(question)
	if url == "" {
		return "", ""
	}
	url = strings.TrimRight(url, ".,;:!?)")

	req, err := http.NewRequestWithContext(ctx, "GET", url, nil)
	if err != nil {
		return "", ""
	}
	resp, err := s.client.Do(req)
	if err != nil {
		s.logger.Warn("page fetch failed", "url", url, "err", err)
		return "", ""
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		s.logger.Warn("page fetch non-200", "url", url, "status", resp.StatusCode)
		return "", ""
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxFetchBytes))
	if err != nil {
		return "", ""
	}
	return stripMarkup(string(body)), url
}

// stripMarkup reduces an HTML page to whitespace-normalized text. Plain
// text passes through untouched apart from the normalization.
func stripMarkup(s string) string {
	s = tagPattern.ReplaceAllString(s, " ")
	return strings.Join(strings.Fields(s), " ")
}

func excerpt(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
