// Package dispatch sequences the message pipeline: rate limiting, intent
// classification, document target resolution, response orchestration, and
// paginated delivery. It also services pagination navigation events.
package dispatch

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"regexp"
	"strings"
	"time"

	"docsage/internal/docresolve"
	"docsage/internal/domain"
	"docsage/internal/intent"
	"docsage/internal/knowledge"
	"docsage/internal/metrics"
	"docsage/internal/orchestrator"
	"docsage/internal/paginate"
	"docsage/internal/ratelimit"
)

const genericApology = "Sorry, something went wrong while handling that message."

// maxAttachmentBytes bounds how much of an attachment is downloaded.
const maxAttachmentBytes = 8 * 1024 * 1024

var mentionPattern = regexp.MustCompile(`<@[!&]?\w+>|@\w+\b`)

// Dispatcher owns the end-to-end handling of inbound messages.
type Dispatcher struct {
	bus       domain.MessageBus
	limiter   *ratelimit.Limiter
	intents   *intent.Classifier
	resolver  *docresolve.Resolver
	orch      *orchestrator.Orchestrator
	sessions  *paginate.Manager
	ingest    *knowledge.Engine
	docs      domain.DocumentStore
	memory    domain.MemoryStore
	fetch     *http.Client
	logger    *slog.Logger

	pageSize     int
	historyLimit int
	concurrency  int
}

type Config struct {
	Bus      domain.MessageBus
	Limiter  *ratelimit.Limiter
	Intents  *intent.Classifier
	Resolver *docresolve.Resolver
	Orch     *orchestrator.Orchestrator
	Sessions *paginate.Manager
	Ingest   *knowledge.Engine
	Docs     domain.DocumentStore
	Memory   domain.MemoryStore
	// Fetcher downloads attachment content. nil uses http.DefaultClient.
	Fetcher *http.Client

	PageSize     int
	HistoryLimit int
	Concurrency  int
	Logger       *slog.Logger
}

func New(cfg Config) *Dispatcher {
	if cfg.PageSize <= 0 {
		cfg.PageSize = 4096
	}
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = 20
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	if cfg.Fetcher == nil {
		cfg.Fetcher = http.DefaultClient
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Dispatcher{
		bus:          cfg.Bus,
		limiter:      cfg.Limiter,
		intents:      cfg.Intents,
		resolver:     cfg.Resolver,
		orch:         cfg.Orch,
		sessions:     cfg.Sessions,
		ingest:       cfg.Ingest,
		docs:         cfg.Docs,
		memory:       cfg.Memory,
		fetch:        cfg.Fetcher,
		logger:       cfg.Logger,
		pageSize:     cfg.PageSize,
		historyLimit: cfg.HistoryLimit,
		concurrency:  cfg.Concurrency,
	}
}

// Run services inbound messages and navigation events until ctx is done.
// Messages are handled on bounded concurrent tasks; a failure in one message
// never affects another.
func (d *Dispatcher) Run(ctx context.Context) {
	d.logger.Info("dispatcher started", "concurrency", d.concurrency)

	sem := make(chan struct{}, d.concurrency)
	inbound := d.bus.Subscribe()
	navigation := d.bus.SubscribeNavigation()

	for {
		select {
		case <-ctx.Done():
			d.logger.Info("dispatcher stopping")
			return
		case msg, ok := <-inbound:
			if !ok {
				d.logger.Info("inbound channel closed, dispatcher stopping")
				return
			}
			sem <- struct{}{}
			go func(m domain.InboundMessage) {
				defer func() { <-sem }()
				d.safeProcess(ctx, m)
			}(msg)
		case evt, ok := <-navigation:
			if !ok {
				return
			}
			d.handleNavigation(evt)
		}
	}
}

// safeProcess converts any panic during message handling into a generic
// apology so the dispatcher stays available.
func (d *Dispatcher) safeProcess(ctx context.Context, msg domain.InboundMessage) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("panic in message processing", "panic", r, "channel", msg.Channel)
			d.bus.SendOutbound(domain.OutboundMessage{
				Channel: msg.Channel, ChatID: msg.ChatID, Content: genericApology,
			})
		}
	}()
	d.processMessage(ctx, msg)
}

func (d *Dispatcher) processMessage(ctx context.Context, msg domain.InboundMessage) {
	start := time.Now()
	metrics.MessagesTotal.Inc()

	// 1. Rate limiting. Command denials are visible, ambient message
	// denials are silent.
	category := ratelimit.CategoryMessages
	if msg.IsCommand {
		category = ratelimit.CategoryCommands
	}
	if !d.limiter.Allow(msg.SenderID, category) {
		metrics.RateLimitDenials.Inc()
		if msg.IsCommand {
			d.sendLimitNotice(msg, category)
		}
		return
	}

	// 2. Intent classification.
	decision := d.intents.Classify(ctx, msg)
	if decision.UsedFallback {
		metrics.FallbackTotal.Inc()
	}
	if !decision.ShouldRespond || decision.Handler == domain.HandlerIgnore {
		metrics.IgnoredTotal.Inc()
		return
	}

	// 3. Uploads bypass the answer pipeline.
	if decision.Handler == domain.HandlerUpload {
		d.handleUpload(ctx, msg)
		return
	}

	// Per-chat response budget. Denial is silent: the chat is already busy.
	if !d.limiter.Allow(msg.ChatID, ratelimit.CategoryChannelResponses) {
		metrics.RateLimitDenials.Inc()
		return
	}

	// 4. Document target resolution over a catalog snapshot.
	catalog, err := d.docs.ListDocuments(ctx)
	if err != nil {
		d.logger.Warn("catalog listing failed", "err", err)
	}
	cleaned := stripMentions(msg.Content)
	target := d.resolver.Resolve(ctx, cleaned, catalog)

	// 5. Response orchestration.
	convID, history := d.loadHistory(ctx, msg)
	payload := d.orch.Produce(ctx, orchestrator.Request{
		Text:      msg.Content,
		CleanText: cleaned,
		Intent:    decision,
		Target:    target,
		Catalog:   catalog,
		History:   history,
		ActorID:   msg.SenderID,
		ChannelID: msg.ChatID,
	})
	metrics.StrategyHits(payload.ProducedBy).Inc()

	// 6. Paginated delivery.
	d.deliver(msg, payload)

	d.recordExchange(msg, convID, payload.Answer)
	metrics.ResponseLatency.Observe(time.Since(start).Seconds())
}

// --- delivery -------------------------------------------------------------

// deliver renders the payload as one message, or as page 0 of a pagination
// session when the answer exceeds the page budget. Metadata is attached only
// to the first page.
func (d *Dispatcher) deliver(msg domain.InboundMessage, payload *domain.ResponsePayload) {
	footer := renderFooter(payload)

	if len([]rune(payload.Answer))+len(footer) <= d.pageSize {
		d.bus.SendOutbound(domain.OutboundMessage{
			Channel: msg.Channel,
			ChatID:  msg.ChatID,
			Content: payload.Answer + footer,
		})
		return
	}

	pages := paginate.Split(payload.Answer, d.pageSize)
	session := d.sessions.Create(msg.SenderID, msg.Channel, msg.ChatID, pages, footer)
	metrics.PaginationSessions.Set(int64(d.sessions.Active()))

	d.bus.SendOutbound(domain.OutboundMessage{
		Channel: msg.Channel,
		ChatID:  msg.ChatID,
		Content: session.Rendered(),
		Nav: &domain.NavControls{
			SessionKey: session.Key,
			Page:       0,
			TotalPages: len(pages),
		},
	})
}

func (d *Dispatcher) handleNavigation(evt domain.NavigationEvent) {
	metrics.NavigationEvents.Inc()
	d.sessions.BindMessage(evt.SessionKey, evt.MessageID)

	session, err := d.sessions.Navigate(evt.SessionKey, evt.ActorID, evt.Direction)
	metrics.PaginationSessions.Set(int64(d.sessions.Active()))
	if err != nil {
		notice := "This response has expired. Please ask again."
		if err == paginate.ErrNotOwner {
			notice = "Only the person who asked can page through this response."
		}
		d.bus.SendOutbound(domain.OutboundMessage{
			Channel:        evt.Channel,
			ChatID:         evt.ChatID,
			Content:        notice,
			Ephemeral:      true,
			EphemeralActor: evt.ActorID,
		})
		return
	}

	out := domain.OutboundMessage{
		Channel:       evt.Channel,
		ChatID:        evt.ChatID,
		Content:       session.Rendered(),
		EditMessageID: session.MessageID,
	}
	if evt.Direction != domain.NavClose {
		out.Nav = &domain.NavControls{
			SessionKey: session.Key,
			Page:       session.Page,
			TotalPages: session.TotalPages(),
		}
	}
	d.bus.SendOutbound(out)
}

// renderFooter builds the metadata footer for the first page.
func renderFooter(p *domain.ResponsePayload) string {
	var parts []string
	if len(p.SourceDocuments) > 0 {
		parts = append(parts, "Sources: "+strings.Join(p.SourceDocuments, ", "))
	}
	if p.ContextChunkCount > 0 {
		parts = append(parts, fmt.Sprintf("%d excerpt(s)", p.ContextChunkCount))
	}
	if p.MemoriesUsedCount > 0 {
		parts = append(parts, fmt.Sprintf("%d memory(ies)", p.MemoriesUsedCount))
	}
	if len(parts) == 0 {
		return ""
	}
	return "\n\n_" + strings.Join(parts, " · ") + "_"
}

// --- uploads --------------------------------------------------------------

func (d *Dispatcher) handleUpload(ctx context.Context, msg domain.InboundMessage) {
	if !d.limiter.Allow(msg.SenderID, ratelimit.CategoryUploads) {
		metrics.RateLimitDenials.Inc()
		d.sendLimitNotice(msg, ratelimit.CategoryUploads)
		return
	}

	var stored, failed []string
	for _, att := range msg.Attachments {
		content, err := d.fetchAttachment(ctx, att.URL)
		if err != nil {
			d.logger.Warn("attachment fetch failed", "name", att.Name, "err", err)
			failed = append(failed, att.Name)
			continue
		}
		doc, err := d.ingest.Ingest(ctx, att.Name, "", msg.SenderName, content)
		if err != nil {
			d.logger.Warn("ingestion failed", "name", att.Name, "err", err)
			failed = append(failed, att.Name)
			continue
		}
		metrics.DocumentsIngested.Inc()
		stored = append(stored, fmt.Sprintf("%s (%d chunks)", doc.Filename, doc.ChunkCount))
	}

	var sb strings.Builder
	if len(stored) > 0 {
		fmt.Fprintf(&sb, "Stored %s. Ask me about it any time.", strings.Join(stored, ", "))
	}
	if len(failed) > 0 {
		if sb.Len() > 0 {
			sb.WriteString(" ")
		}
		fmt.Fprintf(&sb, "I couldn't store %s.", strings.Join(failed, ", "))
	}
	if sb.Len() == 0 {
		sb.WriteString("I didn't find an attachment to store.")
	}
	d.bus.SendOutbound(domain.OutboundMessage{
		Channel: msg.Channel, ChatID: msg.ChatID, Content: sb.String(),
	})
}

func (d *Dispatcher) fetchAttachment(ctx context.Context, url string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", url, nil)
	if err != nil {
		return "", err
	}
	resp, err := d.fetch.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("attachment fetch returned %d", resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxAttachmentBytes))
	if err != nil {
		return "", err
	}
	return string(body), nil
}

// --- history and memory ---------------------------------------------------

func (d *Dispatcher) loadHistory(ctx context.Context, msg domain.InboundMessage) (string, []domain.MessageRecord) {
	if d.memory == nil {
		return "", nil
	}
	convID, err := d.memory.GetOrCreateConversation(ctx, msg.Channel, msg.ChatID)
	if err != nil {
		d.logger.Warn("conversation lookup failed", "err", err)
		return "", nil
	}
	history, err := d.memory.GetHistory(ctx, convID, d.historyLimit)
	if err != nil {
		d.logger.Warn("history load failed", "err", err)
	}
	return convID, history
}

// recordExchange persists the user message and answer, then extracts
// memorable facts in the background.
func (d *Dispatcher) recordExchange(msg domain.InboundMessage, convID, answer string) {
	if d.memory == nil || convID == "" {
		return
	}

	// Detached context: recording must survive the request's lifetime.
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := d.memory.AddMessage(ctx, convID, domain.MessageRecord{
		Role: "user", SenderName: msg.SenderName, Content: msg.Content,
	}); err != nil {
		d.logger.Warn("record user message failed", "err", err)
	}
	if err := d.memory.AddMessage(ctx, convID, domain.MessageRecord{
		Role: "assistant", Content: answer,
	}); err != nil {
		d.logger.Warn("record answer failed", "err", err)
	}

	for _, fact := range extractFacts(msg.Content) {
		err := d.memory.SaveMemory(ctx, domain.MemoryEntry{
			ChannelID:  msg.ChatID,
			Category:   fact.category,
			Content:    msg.Content,
			Source:     convID,
			Importance: fact.importance,
		})
		if err != nil {
			d.logger.Warn("save memory failed", "err", err)
		}
	}
}

type extractedFact struct {
	category   string
	importance int
}

// extractFacts flags messages worth keeping as long-term memories.
func extractFacts(text string) []extractedFact {
	lower := strings.ToLower(text)
	var facts []extractedFact

	if containsAny(lower, []string{"i like", "i prefer", "my favorite", "i love", "i hate", "i don't like"}) {
		facts = append(facts, extractedFact{category: "preference", importance: 7})
	}
	if containsAny(lower, []string{"my name is", "i work at", "i live in", "i am from", "my job is"}) {
		facts = append(facts, extractedFact{category: "fact", importance: 9})
	}
	if containsAny(lower, []string{"remember that", "don't forget", "keep in mind"}) {
		facts = append(facts, extractedFact{category: "instruction", importance: 8})
	}
	return facts
}

func containsAny(s string, subs []string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

// --- helpers --------------------------------------------------------------

func (d *Dispatcher) sendLimitNotice(msg domain.InboundMessage, cat ratelimit.Category) {
	reset := d.limiter.ResetAt(msg.SenderID, cat)
	wait := time.Until(reset).Round(time.Second)
	if wait < 0 {
		wait = 0
	}
	d.bus.SendOutbound(domain.OutboundMessage{
		Channel:        msg.Channel,
		ChatID:         msg.ChatID,
		Content:        fmt.Sprintf("You're going a bit fast. Try again in %s.", wait),
		Ephemeral:      true,
		EphemeralActor: msg.SenderID,
	})
}

// stripMentions removes user/role mention tokens from message text.
func stripMentions(text string) string {
	cleaned := mentionPattern.ReplaceAllString(text, "")
	return strings.TrimSpace(strings.Join(strings.Fields(cleaned), " "))
}

// ProcessDirect handles a message synchronously and returns the answer text
// unpaginated. Used by the one-shot ask command, where the terminal scrolls
// and the local invocation needs no rate limiting.
func (d *Dispatcher) ProcessDirect(ctx context.Context, content, channel, chatID string) (string, error) {
	msg := domain.InboundMessage{
		Channel:      channel,
		ChatID:       chatID,
		SenderID:     "local",
		SenderName:   "local",
		Content:      content,
		BotMentioned: true,
		Timestamp:    time.Now(),
	}

	decision := d.intents.Classify(ctx, msg)
	if !decision.ShouldRespond || decision.Handler == domain.HandlerIgnore {
		return "", nil
	}

	catalog, err := d.docs.ListDocuments(ctx)
	if err != nil {
		return "", fmt.Errorf("list documents: %w", err)
	}
	cleaned := stripMentions(content)
	target := d.resolver.Resolve(ctx, cleaned, catalog)
	convID, history := d.loadHistory(ctx, msg)

	payload := d.orch.Produce(ctx, orchestrator.Request{
		Text:      content,
		CleanText: cleaned,
		Intent:    decision,
		Target:    target,
		Catalog:   catalog,
		History:   history,
		ActorID:   msg.SenderID,
		ChannelID: msg.ChatID,
	})
	d.recordExchange(msg, convID, payload.Answer)
	return payload.Answer, nil
}
