package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"docsage/internal/domain"
)

const classifyPrompt = `You route chat messages for a document assistant. Reply with a single JSON object and nothing else:
{"handler":"ignore|upload|rag|tools|memory|chat","should_respond":bool,"needs_rag":bool,"needs_tools":bool,"needs_memory":bool,"is_casual":bool,"confidence":0.0-1.0}

handler=upload when the message carries a file to store. handler=rag for questions answerable from stored documents. handler=tools when the message asks about a web URL. handler=memory when it asks what you remember about the chat. handler=chat for casual conversation that deserves a reply. handler=ignore for chatter not addressed to the assistant.`

// ChatClassifier implements domain.AgenticClassifier by asking the chat
// provider for a structured routing decision.
type ChatClassifier struct {
	provider domain.Provider
	logger   *slog.Logger
}

func NewChatClassifier(p domain.Provider, logger *slog.Logger) *ChatClassifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &ChatClassifier{provider: p, logger: logger}
}

type classifyReply struct {
	Handler       string  `json:"handler"`
	ShouldRespond bool    `json:"should_respond"`
	NeedsRAG      bool    `json:"needs_rag"`
	NeedsTools    bool    `json:"needs_tools"`
	NeedsMemory   bool    `json:"needs_memory"`
	IsCasual      bool    `json:"is_casual"`
	Confidence    float64 `json:"confidence"`
}

func (c *ChatClassifier) ClassifyIntent(ctx context.Context, msg domain.InboundMessage) (*domain.IntentDecision, error) {
	userPrompt := buildClassifyContext(msg)

	resp, err := c.provider.Chat(ctx, domain.ChatRequest{
		Messages: []domain.Message{
			{Role: "system", Content: classifyPrompt},
			{Role: "user", Content: userPrompt},
		},
		MaxTokens:   200,
		Temperature: 0.1,
	})
	if err != nil {
		return nil, fmt.Errorf("classifier chat: %w", err)
	}

	reply, err := parseClassifyReply(resp.Content)
	if err != nil {
		return nil, err
	}

	handler, err := parseHandler(reply.Handler)
	if err != nil {
		return nil, err
	}

	return &domain.IntentDecision{
		Handler:       handler,
		ShouldRespond: reply.ShouldRespond,
		NeedsRAG:      reply.NeedsRAG,
		NeedsTools:    reply.NeedsTools,
		NeedsMemory:   reply.NeedsMemory,
		IsCasual:      reply.IsCasual,
		Confidence:    reply.Confidence,
	}, nil
}

// buildClassifyContext renders the message and its short context window for
// the model.
func buildClassifyContext(msg domain.InboundMessage) string {
	var sb strings.Builder
	if len(msg.Recent) > 0 {
		sb.WriteString("Recent messages:\n")
		for _, r := range msg.Recent {
			fmt.Fprintf(&sb, "- %s: %s\n", r.Author, r.Text)
		}
		sb.WriteString("\n")
	}
	if msg.BotMentioned {
		sb.WriteString("The assistant is mentioned directly.\n")
	}
	if msg.HasAttachments() {
		fmt.Fprintf(&sb, "The message carries %d attachment(s).\n", len(msg.Attachments))
	}
	fmt.Fprintf(&sb, "Message from %s: %s", msg.SenderName, msg.Content)
	return sb.String()
}

// parseClassifyReply extracts the JSON object from the model output, which
// may be wrapped in prose or a code fence.
func parseClassifyReply(content string) (*classifyReply, error) {
	start := strings.Index(content, "{")
	end := strings.LastIndex(content, "}")
	if start < 0 || end <= start {
		return nil, fmt.Errorf("no JSON object in classifier reply: %q", truncate(content, 120))
	}

	var reply classifyReply
	if err := json.Unmarshal([]byte(content[start:end+1]), &reply); err != nil {
		return nil, fmt.Errorf("parse classifier reply: %w", err)
	}
	return &reply, nil
}

func parseHandler(s string) (domain.Handler, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "ignore":
		return domain.HandlerIgnore, nil
	case "upload":
		return domain.HandlerUpload, nil
	case "rag":
		return domain.HandlerRAG, nil
	case "tools":
		return domain.HandlerTools, nil
	case "memory":
		return domain.HandlerMemory, nil
	case "chat":
		return domain.HandlerChat, nil
	case "action":
		return domain.HandlerAction, nil
	default:
		return "", fmt.Errorf("unknown handler %q", s)
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
