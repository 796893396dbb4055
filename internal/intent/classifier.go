// Package intent classifies inbound messages into a routing decision:
// which handler should respond and with which capabilities. An agentic
// (model-backed) classifier is tried first; a deterministic decision tree
// takes over on timeout or error.
package intent

import (
	"context"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"docsage/internal/domain"
)

// urlPattern matches http(s):// URLs and bare www. tokens.
var urlPattern = regexp.MustCompile(`(?i)\bhttps?://\S+|\bwww\.\S+`)

// ContainsURL reports whether text carries a URL-like token.
func ContainsURL(text string) bool {
	return urlPattern.MatchString(text)
}

// Classifier produces an IntentDecision per inbound message.
type Classifier struct {
	agentic domain.AgenticClassifier // optional; nil forces the fallback tree
	timeout time.Duration
	policy  Policy
	logger  *slog.Logger
}

// Config configures the classifier.
type Config struct {
	Agentic domain.AgenticClassifier
	Timeout time.Duration
	Policy  Policy
	Logger  *slog.Logger
}

func New(cfg Config) *Classifier {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 8 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Classifier{
		agentic: cfg.Agentic,
		timeout: cfg.Timeout,
		policy:  cfg.Policy,
		logger:  cfg.Logger,
	}
}

// Classify routes one message. Two overrides are absolute regardless of
// what the agentic classifier said: an attachment-bearing message always
// routes to upload, and a URL-bearing message (without attachments) always
// needs tools and is never casual.
func (c *Classifier) Classify(ctx context.Context, msg domain.InboundMessage) domain.IntentDecision {
	decision, ok := c.tryAgentic(ctx, msg)
	if !ok {
		decision = c.fallback(msg)
	}

	if msg.HasAttachments() {
		if decision.Handler != domain.HandlerUpload {
			c.logger.Debug("attachment override applied", "previous", decision.Handler)
		}
		decision.Handler = domain.HandlerUpload
		decision.ShouldRespond = true
		decision.NeedsTools = false
		decision.NeedsRAG = false
		decision.IsCasual = false
		return decision
	}

	if ContainsURL(msg.Content) {
		if decision.Handler != domain.HandlerTools {
			c.logger.Debug("url override applied", "previous", decision.Handler)
		}
		decision.Handler = domain.HandlerTools
		decision.ShouldRespond = true
		decision.NeedsTools = true
		decision.NeedsRAG = false
		decision.IsCasual = false
	}

	return decision
}

func (c *Classifier) tryAgentic(ctx context.Context, msg domain.InboundMessage) (domain.IntentDecision, bool) {
	if c.agentic == nil {
		return domain.IntentDecision{}, false
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	decision, err := c.agentic.ClassifyIntent(ctx, msg)
	if err != nil {
		c.logger.Warn("agentic classification failed, using fallback", "err", err)
		return domain.IntentDecision{}, false
	}
	if decision == nil || decision.Handler == "" {
		c.logger.Warn("agentic classifier returned empty decision, using fallback")
		return domain.IntentDecision{}, false
	}
	return *decision, true
}

// fallback is the deterministic decision tree used when the agentic
// classifier is unavailable.
func (c *Classifier) fallback(msg domain.InboundMessage) domain.IntentDecision {
	text := strings.TrimSpace(msg.Content)

	switch {
	case msg.HasAttachments():
		return domain.IntentDecision{
			Handler:       domain.HandlerUpload,
			ShouldRespond: true,
			Confidence:    0.9,
			UsedFallback:  true,
		}

	case ContainsURL(text):
		return domain.IntentDecision{
			Handler:       domain.HandlerTools,
			ShouldRespond: true,
			NeedsTools:    true,
			Confidence:    0.9,
			UsedFallback:  true,
		}

	case msg.BotMentioned, strings.Contains(text, "?") && len(text) >= c.policy.MinQuestionLength:
		decision := domain.IntentDecision{
			Handler:       domain.HandlerRAG,
			ShouldRespond: true,
			NeedsRAG:      true,
			Confidence:    0.6,
			UsedFallback:  true,
		}
		if c.isCasual(text) {
			decision.Handler = domain.HandlerChat
			decision.NeedsRAG = false
			decision.IsCasual = true
		}
		return decision

	default:
		return domain.IntentDecision{
			Handler:       domain.HandlerIgnore,
			ShouldRespond: false,
			Confidence:    0.5,
			UsedFallback:  true,
		}
	}
}

// isCasual applies the configurable casual-conversation predicates. Very
// short messages default to casual; so do messages opening with a greeting
// phrase when no question mark is present.
func (c *Classifier) isCasual(text string) bool {
	lower := strings.ToLower(strings.TrimSpace(text))
	if strings.Contains(lower, "?") {
		return false
	}
	if len(lower) <= c.policy.CasualMaxLength {
		return true
	}
	for _, opener := range c.policy.CasualOpeners {
		if strings.HasPrefix(lower, opener) {
			return true
		}
	}
	return false
}
