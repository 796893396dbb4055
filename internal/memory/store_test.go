package memory

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"docsage/internal/domain"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := NewSQLiteStore(":memory:", slog.Default())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestGetOrCreateConversation_Idempotent(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	first, err := store.GetOrCreateConversation(ctx, "discord", "chan-1")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	second, err := store.GetOrCreateConversation(ctx, "discord", "chan-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if first != second {
		t.Errorf("same chat produced two conversations: %q vs %q", first, second)
	}

	other, err := store.GetOrCreateConversation(ctx, "discord", "chan-2")
	if err != nil {
		t.Fatalf("create other: %v", err)
	}
	if other == first {
		t.Error("different chats share a conversation")
	}
}

func TestHistory_RoundTripAndLimit(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	convID, err := store.GetOrCreateConversation(ctx, "cli", "local")
	if err != nil {
		t.Fatalf("conversation: %v", err)
	}

	base := time.Date(2026, 7, 1, 9, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		role := "user"
		if i%2 == 1 {
			role = "assistant"
		}
		err := store.AddMessage(ctx, convID, domain.MessageRecord{
			Role:      role,
			Content:   string(rune('a' + i)),
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
		})
		if err != nil {
			t.Fatalf("add message %d: %v", i, err)
		}
	}

	history, err := store.GetHistory(ctx, convID, 3)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(history) != 3 {
		t.Fatalf("len(history) = %d, want 3 (most recent)", len(history))
	}
	if history[0].Content != "c" || history[2].Content != "e" {
		t.Errorf("history window = %q..%q, want c..e in chronological order",
			history[0].Content, history[2].Content)
	}
}

func TestRelevantMemories_ScoresAndFilters(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	seed := []domain.MemoryEntry{
		{ChannelID: "chan-1", Category: "fact", Content: "Alice prefers short weekly deployment summaries", Importance: 5},
		{ChannelID: "chan-1", Category: "fact", Content: "The deployment pipeline runs on Fridays", Importance: 8},
		{ChannelID: "chan-1", Category: "preference", Content: "Bob likes long answers", Importance: 5},
		{ChannelID: "chan-2", Category: "fact", Content: "Other channel deployment notes", Importance: 9},
	}
	for _, m := range seed {
		if err := store.SaveMemory(ctx, m); err != nil {
			t.Fatalf("save: %v", err)
		}
	}

	got, err := store.RelevantMemories(ctx, "chan-1", "when does the deployment pipeline run?", 5)
	if err != nil {
		t.Fatalf("relevant: %v", err)
	}
	if len(got) == 0 {
		t.Fatal("no memories returned")
	}
	for _, sm := range got {
		if sm.Entry.ChannelID != "chan-1" {
			t.Errorf("leaked memory from channel %q", sm.Entry.ChannelID)
		}
		if sm.Score <= 0 || sm.Score > 1 {
			t.Errorf("score %f out of (0,1]", sm.Score)
		}
	}
	if got[0].Entry.Content != "The deployment pipeline runs on Fridays" {
		t.Errorf("top memory = %q, want the pipeline fact", got[0].Entry.Content)
	}
	for i := 1; i < len(got); i++ {
		if got[i].Score > got[i-1].Score {
			t.Error("results not sorted by score descending")
		}
	}
}

func TestRelevantMemories_SkipsExpired(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	past := time.Now().Add(-time.Hour)
	if err := store.SaveMemory(ctx, domain.MemoryEntry{
		ChannelID: "chan-1", Category: "fact",
		Content: "deployment window is midnight", ExpiresAt: &past, Importance: 5,
	}); err != nil {
		t.Fatalf("save: %v", err)
	}

	got, err := store.RelevantMemories(ctx, "chan-1", "deployment window", 5)
	if err != nil {
		t.Fatalf("relevant: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("expired memory surfaced: %+v", got)
	}
}

func seedDocuments(t *testing.T, store *SQLiteStore) {
	t.Helper()
	ctx := context.Background()

	docs := []struct {
		doc    domain.Document
		chunks []string
	}{
		{
			doc: domain.Document{ID: "doc-a", Filename: "runbook.md", UploadedBy: "alice"},
			chunks: []string{
				"To restart the ingestion service use the deploy script",
				"Database failover procedure requires manual approval",
			},
		},
		{
			doc: domain.Document{ID: "doc-b", Filename: "faq.md", UploadedBy: "bob"},
			chunks: []string{
				"Billing questions should go to the finance team",
				"The deploy script lives in the tools repository",
			},
		},
	}
	for _, d := range docs {
		var chunks []domain.DocumentChunk
		for i, c := range d.chunks {
			chunks = append(chunks, domain.DocumentChunk{ChunkIndex: i, Content: c, TokenCount: len(c)})
		}
		if err := store.AddDocument(ctx, d.doc, chunks); err != nil {
			t.Fatalf("add %s: %v", d.doc.ID, err)
		}
	}
}

func TestDocumentCatalog_CRUD(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	seedDocuments(t, store)

	docs, err := store.ListDocuments(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(docs) != 2 {
		t.Fatalf("len(docs) = %d, want 2", len(docs))
	}

	doc, err := store.GetDocument(ctx, "doc-a")
	if err != nil || doc == nil {
		t.Fatalf("get doc-a: doc=%v err=%v", doc, err)
	}
	if doc.ChunkCount != 2 {
		t.Errorf("ChunkCount = %d, want 2", doc.ChunkCount)
	}

	chunks, err := store.GetChunks(ctx, "doc-a")
	if err != nil {
		t.Fatalf("chunks: %v", err)
	}
	if len(chunks) != 2 || chunks[0].ChunkIndex != 0 || chunks[1].ChunkIndex != 1 {
		t.Errorf("chunks out of order: %+v", chunks)
	}

	if err := store.DeleteDocument(ctx, "doc-a"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if doc, _ := store.GetDocument(ctx, "doc-a"); doc != nil {
		t.Error("document survived deletion")
	}
	if hits, _ := store.SearchChunks(ctx, "failover procedure", 5, ""); len(hits) != 0 {
		t.Errorf("deleted document still indexed: %+v", hits)
	}
}

func TestSearchChunks_RanksAndFilters(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	seedDocuments(t, store)

	hits, err := store.SearchChunks(ctx, "deploy script", 5, "")
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(hits) == 0 {
		t.Fatal("no hits for indexed phrase")
	}
	for _, h := range hits {
		if h.Filename == "" {
			t.Error("hit missing filename")
		}
	}

	scoped, err := store.SearchChunks(ctx, "deploy script", 5, "doc-b")
	if err != nil {
		t.Fatalf("scoped search: %v", err)
	}
	for _, h := range scoped {
		if h.Chunk.DocumentID != "doc-b" {
			t.Errorf("doc filter leaked hit from %s", h.Chunk.DocumentID)
		}
	}
}

func TestFindSemanticMatches_NormalizedTopScore(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	seedDocuments(t, store)

	matches, err := store.FindSemanticMatches(ctx, "database failover approval", 3)
	if err != nil {
		t.Fatalf("semantic: %v", err)
	}
	if len(matches) == 0 {
		t.Fatal("no semantic matches")
	}
	if matches[0].DocumentID != "doc-a" {
		t.Errorf("top match = %s, want doc-a", matches[0].DocumentID)
	}
	if matches[0].Score != 1.0 {
		t.Errorf("top score = %f, want exactly 1.0 after normalization", matches[0].Score)
	}
}

func TestFindSemanticMatches_NoHits(t *testing.T) {
	store := newTestStore(t)
	matches, err := store.FindSemanticMatches(context.Background(), "quasar spectroscopy", 3)
	if err != nil {
		t.Fatalf("semantic: %v", err)
	}
	if len(matches) != 0 {
		t.Errorf("matches = %+v, want none", matches)
	}
}
