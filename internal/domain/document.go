package domain

import (
	"context"
	"time"
)

// Document represents a stored document in the catalog.
type Document struct {
	ID         string    `json:"id"`
	Filename   string    `json:"filename"`
	MimeType   string    `json:"mime_type"`
	Size       int64     `json:"size"`
	ChunkCount int       `json:"chunk_count"`
	UploadedBy string    `json:"uploaded_by"`
	UploadedAt time.Time `json:"uploaded_at"`
}

// DocumentChunk is a single indexed chunk of a document.
type DocumentChunk struct {
	ID         int64  `json:"id"`
	DocumentID string `json:"document_id"`
	Content    string `json:"content"`
	ChunkIndex int    `json:"chunk_index"`
	TokenCount int    `json:"token_count"`
}

// ChunkSearchResult is a search hit in the document store.
type ChunkSearchResult struct {
	Chunk    DocumentChunk `json:"chunk"`
	Filename string        `json:"filename"`
	Score    float64       `json:"score"`
}

// SemanticMatch is a per-document aggregate match for a free-text query,
// with Score normalized to [0,1].
type SemanticMatch struct {
	DocumentID string  `json:"document_id"`
	Filename   string  `json:"filename"`
	Score      float64 `json:"score"`
}

// DocumentStore is the catalog and chunk storage for uploaded documents.
type DocumentStore interface {
	AddDocument(ctx context.Context, doc Document, chunks []DocumentChunk) error
	ListDocuments(ctx context.Context) ([]Document, error)
	GetDocument(ctx context.Context, id string) (*Document, error)
	GetChunks(ctx context.Context, docID string) ([]DocumentChunk, error)
	DeleteDocument(ctx context.Context, id string) error

	// SearchChunks performs full-text search over chunk content, optionally
	// restricted to a single document.
	SearchChunks(ctx context.Context, query string, topK int, docID string) ([]ChunkSearchResult, error)

	// FindSemanticMatches aggregates chunk hits per document for a query.
	FindSemanticMatches(ctx context.Context, query string, topN int) ([]SemanticMatch, error)
}

// TargetMode identifies which document-resolution outcome is active.
// Exactly one mode is active per resolution.
type TargetMode string

const (
	TargetNone        TargetMode = "none"
	TargetSingle      TargetMode = "single"
	TargetCompareTwo  TargetMode = "compareTwo"
	TargetCompareMany TargetMode = "compareMany"
	TargetListAll     TargetMode = "listAll"
)

// DocumentRef identifies one resolved document. ID is empty when the name
// was mentioned but could not be resolved against the catalog.
type DocumentRef struct {
	ID       string
	Filename string
}

// DocumentTarget is the outcome of resolving which documents a query
// addresses. It lives for one message and is discarded after the response
// strategies consume it.
type DocumentTarget struct {
	Mode TargetMode

	// Single holds the resolved document for TargetSingle.
	Single DocumentRef

	// First and Second hold the two sides of TargetCompareTwo. An empty ID
	// with a non-empty Filename signals an unresolved side.
	First  DocumentRef
	Second DocumentRef

	// Many holds the filtered catalog entries for TargetCompareMany,
	// sorted oldest to newest by upload time.
	Many []Document

	// MatchedBy names the resolver rule that produced this target.
	MatchedBy string
}
