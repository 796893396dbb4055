package provider

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"docsage/internal/domain"
)

const comparePrompt = `You compare two documents for a chat user. Cover: content that only appears in one document, content that changed between them, and an overall summary of how they differ. Be concrete and quote short passages where useful. Answer in plain prose.`

// compareInputBudget caps the characters fed to the model per document.
// Longer documents are summarized in stages before the final comparison.
const compareInputBudget = 24000

// ChatComparator implements domain.Comparator on top of a chat provider.
type ChatComparator struct {
	provider domain.Provider
	logger   *slog.Logger
}

func NewChatComparator(p domain.Provider, logger *slog.Logger) *ChatComparator {
	if logger == nil {
		logger = slog.Default()
	}
	return &ChatComparator{provider: p, logger: logger}
}

func (c *ChatComparator) Compare(ctx context.Context, textA, textB, nameA, nameB string) (*domain.ComparisonResult, error) {
	var ratios []float64

	condensedA, ratioA, err := c.condense(ctx, textA, nameA)
	if err != nil {
		return nil, err
	}
	condensedB, ratioB, err := c.condense(ctx, textB, nameB)
	if err != nil {
		return nil, err
	}
	if ratioA > 0 {
		ratios = append(ratios, ratioA)
	}
	if ratioB > 0 {
		ratios = append(ratios, ratioB)
	}

	prompt := fmt.Sprintf("Document A (%s):\n%s\n\nDocument B (%s):\n%s\n\nCompare document A with document B.",
		nameA, condensedA, nameB, condensedB)

	resp, err := c.provider.Chat(ctx, domain.ChatRequest{
		Messages: []domain.Message{
			{Role: "system", Content: comparePrompt},
			{Role: "user", Content: prompt},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("comparison chat: %w", err)
	}
	if strings.TrimSpace(resp.Content) == "" {
		return nil, fmt.Errorf("comparison produced no text")
	}

	return &domain.ComparisonResult{
		ComparisonText:    resp.Content,
		CompressionRatios: ratios,
	}, nil
}

// condense reduces an over-budget document to a dense summary so both sides
// fit a single comparison prompt. Within budget the text passes through and
// the ratio is zero.
func (c *ChatComparator) condense(ctx context.Context, text, name string) (string, float64, error) {
	if len(text) <= compareInputBudget {
		return text, 0, nil
	}

	c.logger.Info("condensing document for comparison", "name", name, "size", len(text))

	resp, err := c.provider.Chat(ctx, domain.ChatRequest{
		Messages: []domain.Message{
			{Role: "system", Content: "Summarize the document densely, preserving facts, figures, names and structure. The summary feeds a later document comparison."},
			{Role: "user", Content: text[:compareInputBudget]},
		},
	})
	if err != nil {
		return "", 0, fmt.Errorf("condense %s: %w", name, err)
	}
	summary := resp.Content
	if strings.TrimSpace(summary) == "" {
		return "", 0, fmt.Errorf("condensing %s produced no text", name)
	}
	return summary, float64(len(summary)) / float64(len(text)), nil
}
