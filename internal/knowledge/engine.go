// Package knowledge manages the document catalog: ingesting uploads,
// chunking their text, and exposing catalog lookups.
package knowledge

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"docsage/internal/domain"
)

// Engine chunks incoming documents and stores them through a DocumentStore.
type Engine struct {
	store        domain.DocumentStore
	chunkSize    int
	overlap      int
	maxDocuments int
	logger       *slog.Logger
}

type EngineConfig struct {
	Store        domain.DocumentStore
	ChunkSize    int // words per chunk (default: 512)
	Overlap      int // overlap words between chunks (default: 50)
	MaxDocuments int // catalog cap, 0 means unlimited
	Logger       *slog.Logger
}

func NewEngine(cfg EngineConfig) *Engine {
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = 512
	}
	if cfg.Overlap < 0 {
		cfg.Overlap = 50
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Engine{
		store:        cfg.Store,
		chunkSize:    cfg.ChunkSize,
		overlap:      cfg.Overlap,
		maxDocuments: cfg.MaxDocuments,
		logger:       cfg.Logger,
	}
}

// Ingest chunks a document's content and stores it in the catalog.
func (e *Engine) Ingest(ctx context.Context, filename, mimeType, uploadedBy, content string) (*domain.Document, error) {
	if strings.TrimSpace(content) == "" {
		return nil, fmt.Errorf("document %s has no extractable text", filename)
	}

	if e.maxDocuments > 0 {
		docs, err := e.store.ListDocuments(ctx)
		if err != nil {
			return nil, fmt.Errorf("check catalog size: %w", err)
		}
		if len(docs) >= e.maxDocuments {
			return nil, fmt.Errorf("document catalog is full (%d documents)", e.maxDocuments)
		}
	}

	docID := uuid.New().String()
	chunks := e.chunkText(content, docID)

	doc := domain.Document{
		ID:         docID,
		Filename:   filename,
		MimeType:   mimeType,
		Size:       int64(len(content)),
		ChunkCount: len(chunks),
		UploadedBy: uploadedBy,
		UploadedAt: time.Now(),
	}

	if err := e.store.AddDocument(ctx, doc, chunks); err != nil {
		return nil, fmt.Errorf("store document: %w", err)
	}

	e.logger.Info("document ingested",
		"filename", filename, "chunks", len(chunks), "size", len(content))

	return &doc, nil
}

// Catalog returns all stored documents, oldest first.
func (e *Engine) Catalog(ctx context.Context) ([]domain.Document, error) {
	return e.store.ListDocuments(ctx)
}

// Delete removes a document and its chunks.
func (e *Engine) Delete(ctx context.Context, id string) error {
	return e.store.DeleteDocument(ctx, id)
}

// FullText concatenates a document's chunks back into continuous text.
// Overlapping words between adjacent chunks are kept; comparison prompts
// tolerate the duplication.
func (e *Engine) FullText(ctx context.Context, docID string) (string, error) {
	chunks, err := e.store.GetChunks(ctx, docID)
	if err != nil {
		return "", err
	}
	if len(chunks) == 0 {
		return "", nil
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

// chunkText splits text into overlapping chunks of approximately chunkSize words.
func (e *Engine) chunkText(text, docID string) []domain.DocumentChunk {
	words := strings.Fields(text)
	if len(words) == 0 {
		return nil
	}

	var chunks []domain.DocumentChunk
	step := e.chunkSize - e.overlap
	if step <= 0 {
		step = e.chunkSize
	}

	for i := 0; i < len(words); i += step {
		end := i + e.chunkSize
		if end > len(words) {
			end = len(words)
		}

		content := strings.Join(words[i:end], " ")
		chunks = append(chunks, domain.DocumentChunk{
			DocumentID: docID,
			Content:    content,
			ChunkIndex: len(chunks),
			TokenCount: end - i,
		})

		if end >= len(words) {
			break
		}
	}

	return chunks
}
