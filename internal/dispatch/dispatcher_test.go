package dispatch

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"docsage/internal/bus"
	"docsage/internal/config"
	"docsage/internal/docresolve"
	"docsage/internal/domain"
	"docsage/internal/intent"
	"docsage/internal/knowledge"
	"docsage/internal/orchestrator"
	"docsage/internal/paginate"
	"docsage/internal/ratelimit"
)

// memDocs is an in-memory DocumentStore for pipeline tests.
type memDocs struct {
	mu     sync.Mutex
	docs   []domain.Document
	chunks map[string][]domain.DocumentChunk
}

func newMemDocs() *memDocs {
	return &memDocs{chunks: make(map[string][]domain.DocumentChunk)}
}

func (m *memDocs) AddDocument(_ context.Context, doc domain.Document, chunks []domain.DocumentChunk) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.docs = append(m.docs, doc)
	m.chunks[doc.ID] = chunks
	return nil
}

func (m *memDocs) ListDocuments(context.Context) ([]domain.Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.Document(nil), m.docs...), nil
}

func (m *memDocs) GetDocument(_ context.Context, id string) (*domain.Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, d := range m.docs {
		if d.ID == id {
			return &d, nil
		}
	}
	return nil, nil
}

func (m *memDocs) GetChunks(_ context.Context, docID string) ([]domain.DocumentChunk, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.chunks[docID], nil
}

func (m *memDocs) DeleteDocument(_ context.Context, id string) error { return nil }

func (m *memDocs) SearchChunks(context.Context, string, int, string) ([]domain.ChunkSearchResult, error) {
	return nil, nil
}

func (m *memDocs) FindSemanticMatches(context.Context, string, int) ([]domain.SemanticMatch, error) {
	return nil, nil
}

type fakeQuery struct {
	answer string
}

func (f *fakeQuery) Query(context.Context, domain.QueryRequest) (*domain.QueryResult, error) {
	return &domain.QueryResult{
		Answer: f.answer, ContextChunks: 2, SourceDocuments: []string{"a.pdf"},
	}, nil
}

type fakeChat struct{ reply string }

func (f *fakeChat) Chat(context.Context, domain.ChatRequest) (*domain.ChatResponse, error) {
	return &domain.ChatResponse{Content: f.reply, FinishReason: "stop"}, nil
}
func (f *fakeChat) Name() string                  { return "fake" }
func (f *fakeChat) Healthy(context.Context) error { return nil }

type fakeComparator struct{}

func (fakeComparator) Compare(context.Context, string, string, string, string) (*domain.ComparisonResult, error) {
	return &domain.ComparisonResult{ComparisonText: "diff"}, nil
}

// capture collects outbound messages from the bus.
type capture struct {
	mu   sync.Mutex
	msgs []domain.OutboundMessage
}

func (c *capture) handler(msg domain.OutboundMessage) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.msgs = append(c.msgs, msg)
}

func (c *capture) all() []domain.OutboundMessage {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]domain.OutboundMessage(nil), c.msgs...)
}

type testRig struct {
	d        *Dispatcher
	out      *capture
	docs     *memDocs
	sessions *paginate.Manager
}

func newRig(t *testing.T, queryAnswer string, limits config.LimitsConfig) *testRig {
	t.Helper()
	logger := slog.Default()

	b := bus.New(10, logger)
	out := &capture{}
	b.OnOutbound("test", out.handler)

	docs := newMemDocs()
	sessions := paginate.NewManager(5*time.Minute, logger)

	if limits.Messages.MaxCount == 0 {
		limits = config.LimitsConfig{
			Commands:         config.LimitCategory{MaxCount: 100, WindowSeconds: 60},
			Messages:         config.LimitCategory{MaxCount: 100, WindowSeconds: 60},
			Uploads:          config.LimitCategory{MaxCount: 100, WindowSeconds: 300},
			ChannelResponses: config.LimitCategory{MaxCount: 100, WindowSeconds: 60},
		}
	}

	orch := orchestrator.New(orchestrator.Config{
		Docs:       docs,
		Query:      &fakeQuery{answer: queryAnswer},
		Comparator: fakeComparator{},
		Chat:       &fakeChat{reply: "chat reply"},
		Memory:     nil,
		Timeouts:   orchestrator.Timeouts{Query: time.Second, QueryTools: time.Second, Compare: time.Second, CompareFallback: time.Second, Chat: time.Second, MemorySynthesis: time.Second},
	})

	d := New(Config{
		Bus:      b,
		Limiter:  ratelimit.New(limits, logger),
		Intents:  intent.New(intent.Config{Policy: intent.DefaultPolicy()}),
		Resolver: docresolve.New(docresolve.Config{}),
		Orch:     orch,
		Sessions: sessions,
		Ingest:   knowledge.NewEngine(knowledge.EngineConfig{Store: docs, ChunkSize: 50, Overlap: 5}),
		Docs:     docs,
		Memory:   nil,
		PageSize: 4096,
		Logger:   logger,
	})
	return &testRig{d: d, out: out, docs: docs, sessions: sessions}
}

func question(text string) domain.InboundMessage {
	return domain.InboundMessage{
		MessageID:    "m1",
		Channel:      "test",
		ChatID:       "chat1",
		SenderID:     "alice",
		SenderName:   "alice",
		Content:      text,
		BotMentioned: true,
		Timestamp:    time.Now(),
	}
}

func TestProcessMessage_LongAnswerPaginates(t *testing.T) {
	long := strings.Repeat("A sentence that fills the page nicely. ", 250) // ~9750 chars
	rig := newRig(t, long, config.LimitsConfig{})

	rig.d.processMessage(context.Background(), question("what does the report say about everything?"))

	msgs := rig.out.all()
	if len(msgs) != 1 {
		t.Fatalf("outbound count = %d, want 1 (first page only)", len(msgs))
	}
	first := msgs[0]
	if first.Nav == nil {
		t.Fatal("first page has no navigation controls")
	}
	if first.Nav.TotalPages < 3 {
		t.Errorf("TotalPages = %d, want >= 3", first.Nav.TotalPages)
	}
	if !strings.Contains(first.Content, "Sources: a.pdf") {
		t.Error("first page missing metadata footer")
	}
	if rig.sessions.Active() != 1 {
		t.Errorf("Active sessions = %d, want 1", rig.sessions.Active())
	}
}

func TestProcessMessage_ShortAnswerSinglePage(t *testing.T) {
	rig := newRig(t, "short answer", config.LimitsConfig{})

	rig.d.processMessage(context.Background(), question("what does the report say?"))

	msgs := rig.out.all()
	if len(msgs) != 1 {
		t.Fatalf("outbound count = %d", len(msgs))
	}
	if msgs[0].Nav != nil {
		t.Error("single-page answer carries navigation controls")
	}
	if rig.sessions.Active() != 0 {
		t.Error("session registered for a single-page answer")
	}
}

func TestProcessMessage_IgnoredProducesNothing(t *testing.T) {
	rig := newRig(t, "unused", config.LimitsConfig{})

	msg := question("hi there!")
	msg.BotMentioned = false
	rig.d.processMessage(context.Background(), msg)

	if n := len(rig.out.all()); n != 0 {
		t.Errorf("outbound count = %d for an ignorable message", n)
	}
}

func TestProcessMessage_SilentMessageDenialVisibleCommandDenial(t *testing.T) {
	limits := config.LimitsConfig{
		Commands:         config.LimitCategory{MaxCount: 1, WindowSeconds: 60},
		Messages:         config.LimitCategory{MaxCount: 1, WindowSeconds: 60},
		Uploads:          config.LimitCategory{MaxCount: 1, WindowSeconds: 300},
		ChannelResponses: config.LimitCategory{MaxCount: 100, WindowSeconds: 60},
	}
	rig := newRig(t, "answer", limits)
	ctx := context.Background()

	// Exhaust the ambient message budget. The denial is silent.
	rig.d.processMessage(ctx, question("what does the report say?"))
	before := len(rig.out.all())
	rig.d.processMessage(ctx, question("and what else does it say?"))
	if n := len(rig.out.all()); n != before {
		t.Errorf("silent denial produced output: %d -> %d", before, n)
	}

	// Command denials are visible and actor-scoped.
	cmd := question("docs list")
	cmd.IsCommand = true
	rig.d.processMessage(ctx, cmd)
	cmd2 := question("docs list")
	cmd2.IsCommand = true
	rig.d.processMessage(ctx, cmd2)

	msgs := rig.out.all()
	last := msgs[len(msgs)-1]
	if !last.Ephemeral || last.EphemeralActor != "alice" {
		t.Errorf("command denial not ephemeral to the actor: %+v", last)
	}
	if !strings.Contains(last.Content, "Try again") {
		t.Errorf("denial notice = %q", last.Content)
	}
}

func TestNavigation_OwnerPagesNonOwnerRejected(t *testing.T) {
	long := strings.Repeat("Sentences keep the splitter honest. ", 300)
	rig := newRig(t, long, config.LimitsConfig{})
	rig.d.processMessage(context.Background(), question("what does the report say?"))

	first := rig.out.all()[0]
	key := first.Nav.SessionKey

	// Non-owner click: rejected, session untouched.
	rig.d.handleNavigation(domain.NavigationEvent{
		SessionKey: key, Direction: domain.NavForward, ActorID: "mallory",
		Channel: "test", ChatID: "chat1", MessageID: "rendered-1",
	})
	msgs := rig.out.all()
	rejection := msgs[len(msgs)-1]
	if !rejection.Ephemeral || rejection.EphemeralActor != "mallory" {
		t.Errorf("rejection not ephemeral to clicking actor: %+v", rejection)
	}

	// Owner click: page advances, rendered as an edit.
	rig.d.handleNavigation(domain.NavigationEvent{
		SessionKey: key, Direction: domain.NavForward, ActorID: "alice",
		Channel: "test", ChatID: "chat1", MessageID: "rendered-1",
	})
	msgs = rig.out.all()
	page1 := msgs[len(msgs)-1]
	if page1.Nav == nil || page1.Nav.Page != 1 {
		t.Fatalf("owner navigation did not advance: %+v", page1.Nav)
	}
	if page1.EditMessageID != "rendered-1" {
		t.Errorf("EditMessageID = %q, want in-place edit", page1.EditMessageID)
	}
}

func TestNavigation_FooterSurvivesRoundTrip(t *testing.T) {
	long := strings.Repeat("Yet another sentence for the page splitter. ", 270)
	rig := newRig(t, long, config.LimitsConfig{})
	rig.d.processMessage(context.Background(), question("what does the report say?"))

	first := rig.out.all()[0]
	if !strings.Contains(first.Content, "Sources: a.pdf") {
		t.Fatal("first delivery missing metadata footer")
	}
	key := first.Nav.SessionKey

	forward := domain.NavigationEvent{
		SessionKey: key, Direction: domain.NavForward, ActorID: "alice",
		Channel: "test", ChatID: "chat1", MessageID: "rendered-1",
	}
	rig.d.handleNavigation(forward)
	msgs := rig.out.all()
	page1 := msgs[len(msgs)-1]
	if strings.Contains(page1.Content, "Sources: a.pdf") {
		t.Error("metadata footer leaked onto a later page")
	}

	back := forward
	back.Direction = domain.NavBackward
	rig.d.handleNavigation(back)
	msgs = rig.out.all()
	page0 := msgs[len(msgs)-1]
	if page0.Nav == nil || page0.Nav.Page != 0 {
		t.Fatalf("navigation did not return to the first page: %+v", page0.Nav)
	}
	if !strings.Contains(page0.Content, "Sources: a.pdf") {
		t.Error("metadata footer lost after returning to the first page")
	}
}

func TestNavigation_CloseDiscardsSession(t *testing.T) {
	long := strings.Repeat("More sentences for the splitter. ", 300)
	rig := newRig(t, long, config.LimitsConfig{})
	rig.d.processMessage(context.Background(), question("what does the report say?"))
	key := rig.out.all()[0].Nav.SessionKey

	rig.d.handleNavigation(domain.NavigationEvent{
		SessionKey: key, Direction: domain.NavClose, ActorID: "alice",
		Channel: "test", ChatID: "chat1",
	})
	if rig.sessions.Active() != 0 {
		t.Error("session survived close")
	}

	rig.d.handleNavigation(domain.NavigationEvent{
		SessionKey: key, Direction: domain.NavForward, ActorID: "alice",
		Channel: "test", ChatID: "chat1",
	})
	msgs := rig.out.all()
	last := msgs[len(msgs)-1]
	if !strings.Contains(last.Content, "ask again") {
		t.Errorf("post-close navigation notice = %q", last.Content)
	}
}

func TestHandleUpload_IngestsAttachment(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte("the quarterly numbers are strong across all regions"))
	}))
	defer srv.Close()

	rig := newRig(t, "unused", config.LimitsConfig{})

	msg := question("here's the report")
	msg.Attachments = []domain.Attachment{{Name: "q3.txt", Size: 52, URL: srv.URL}}
	rig.d.handleUpload(context.Background(), msg)

	docs, _ := rig.docs.ListDocuments(context.Background())
	if len(docs) != 1 || docs[0].Filename != "q3.txt" {
		t.Fatalf("catalog = %+v, want q3.txt stored", docs)
	}
	msgs := rig.out.all()
	if len(msgs) != 1 || !strings.Contains(msgs[0].Content, "Stored q3.txt") {
		t.Errorf("upload confirmation = %+v", msgs)
	}
}

func TestStripMentions(t *testing.T) {
	cases := map[string]string{
		"<@12345> what changed?":      "what changed?",
		"<@!9876> compare a and b":    "compare a and b",
		"@docsage what's new?":        "what's new?",
		"plain text stays":            "plain text stays",
		"  <@1> spaced   out  text  ": "spaced out text",
	}
	for in, want := range cases {
		if got := stripMentions(in); got != want {
			t.Errorf("stripMentions(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestProcessDirect_ReturnsAnswerWithoutBusTraffic(t *testing.T) {
	rig := newRig(t, "direct answer", config.LimitsConfig{})

	got, err := rig.d.ProcessDirect(context.Background(), "what does the report say?", "cli", "direct")
	if err != nil {
		t.Fatalf("ProcessDirect: %v", err)
	}
	if got != "direct answer" {
		t.Errorf("answer = %q, want %q", got, "direct answer")
	}
	if n := len(rig.out.all()); n != 0 {
		t.Errorf("direct processing emitted %d bus messages, want 0", n)
	}
}

func TestSafeProcess_PanicBecomesApology(t *testing.T) {
	rig := newRig(t, "unused", config.LimitsConfig{})
	// A nil orchestrator forces a panic inside processing.
	rig.d.orch = nil

	rig.d.safeProcess(context.Background(), question("what does the report say?"))

	msgs := rig.out.all()
	if len(msgs) != 1 || !strings.Contains(msgs[0].Content, "Sorry") {
		t.Errorf("panic not converted to apology: %+v", msgs)
	}
}
