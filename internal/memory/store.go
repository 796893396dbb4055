// Package memory provides the SQLite-backed persistence layer: conversation
// history, long-term memories, and the document catalog with its full-text
// chunk index.
package memory

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"docsage/internal/domain"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements domain.MemoryStore and domain.DocumentStore.
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

func NewSQLiteStore(dbPath string, logger *slog.Logger) (*SQLiteStore, error) {
	dsn := dbPath
	if dbPath != ":memory:" {
		dir := filepath.Dir(dbPath)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("cannot create database directory %s: %w", dir, err)
		}
		dsn = dbPath + "?_journal_mode=WAL&_busy_timeout=5000"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("cannot open database: %w", err)
	}

	// Set connection pool (single connection for SQLite)
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	store := &SQLiteStore{db: db, logger: logger}

	if err := RunMigrations(db, logger); err != nil {
		db.Close()
		return nil, fmt.Errorf("database migration failed: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// --- conversations and messages -------------------------------------------

func (s *SQLiteStore) GetOrCreateConversation(ctx context.Context, channel, chatID string) (string, error) {
	var id string
	err := s.db.QueryRowContext(ctx,
		`SELECT id FROM conversations WHERE channel = ? AND chat_id = ?`,
		channel, chatID,
	).Scan(&id)
	if err == nil {
		return id, nil
	}
	if err != sql.ErrNoRows {
		return "", fmt.Errorf("query conversation: %w", err)
	}

	id = uuid.New().String()
	now := time.Now()
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO conversations (id, title, channel, chat_id, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		id, fmt.Sprintf("%s/%s", channel, chatID), channel, chatID, now, now,
	)
	if err != nil {
		return "", fmt.Errorf("create conversation: %w", err)
	}
	return id, nil
}

func (s *SQLiteStore) AddMessage(ctx context.Context, convID string, msg domain.MessageRecord) error {
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO messages (conversation_id, role, sender_name, content, created_at)
		 VALUES (?, ?, ?, ?, ?)`,
		convID, msg.Role, msg.SenderName, msg.Content, msg.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`UPDATE conversations SET updated_at = ? WHERE id = ?`, msg.CreatedAt, convID)
	return err
}

// GetHistory returns the most recent limit messages in chronological order.
func (s *SQLiteStore) GetHistory(ctx context.Context, convID string, limit int) ([]domain.MessageRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, conversation_id, role, sender_name, content, created_at
		 FROM (
			SELECT id, conversation_id, role, sender_name, content, created_at
			FROM messages WHERE conversation_id = ?
			ORDER BY created_at DESC, id DESC LIMIT ?
		 ) ORDER BY created_at ASC, id ASC`,
		convID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	var history []domain.MessageRecord
	for rows.Next() {
		var m domain.MessageRecord
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.Role, &m.SenderName, &m.Content, &m.CreatedAt); err != nil {
			return nil, err
		}
		history = append(history, m)
	}
	return history, rows.Err()
}

// --- long-term memories ---------------------------------------------------

func (s *SQLiteStore) SaveMemory(ctx context.Context, mem domain.MemoryEntry) error {
	if mem.CreatedAt.IsZero() {
		mem.CreatedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO memories (channel_id, category, content, source, importance, created_at, expires_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		mem.ChannelID, mem.Category, mem.Content, mem.Source, mem.Importance, mem.CreatedAt, mem.ExpiresAt,
	)
	if err != nil {
		return fmt.Errorf("save memory: %w", err)
	}
	return nil
}

// RelevantMemories scores the channel's unexpired memories by term overlap
// with the query, weighted slightly by stored importance, and returns the
// topK highest scorers.
func (s *SQLiteStore) RelevantMemories(ctx context.Context, channelID, query string, topK int) ([]domain.ScoredMemory, error) {
	if topK <= 0 {
		topK = 5
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, channel_id, category, content, source, importance, created_at, expires_at
		 FROM memories
		 WHERE channel_id = ? AND (expires_at IS NULL OR expires_at > ?)
		 ORDER BY created_at DESC LIMIT 500`,
		channelID, time.Now(),
	)
	if err != nil {
		return nil, fmt.Errorf("query memories: %w", err)
	}
	defer rows.Close()

	terms := queryTerms(query)
	var scored []domain.ScoredMemory
	for rows.Next() {
		var m domain.MemoryEntry
		if err := rows.Scan(&m.ID, &m.ChannelID, &m.Category, &m.Content, &m.Source,
			&m.Importance, &m.CreatedAt, &m.ExpiresAt); err != nil {
			return nil, err
		}
		score := scoreMemory(m, terms)
		if score > 0 {
			scored = append(scored, domain.ScoredMemory{Entry: m, Score: score})
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Insertion sort keeps this simple for the small candidate set.
	for i := 1; i < len(scored); i++ {
		for j := i; j > 0 && scored[j].Score > scored[j-1].Score; j-- {
			scored[j], scored[j-1] = scored[j-1], scored[j]
		}
	}
	if len(scored) > topK {
		scored = scored[:topK]
	}
	return scored, nil
}

// scoreMemory computes overlap between query terms and memory content,
// scaled into [0,1]. Importance nudges the score up to 20% either way.
func scoreMemory(m domain.MemoryEntry, terms []string) float64 {
	if len(terms) == 0 {
		return 0
	}
	content := strings.ToLower(m.Content)
	matched := 0
	for _, t := range terms {
		if strings.Contains(content, t) {
			matched++
		}
	}
	if matched == 0 {
		return 0
	}

	base := float64(matched) / float64(len(terms))
	weight := 0.8 + 0.04*float64(m.Importance) // importance 5 is neutral
	score := base * weight
	if score > 1 {
		score = 1
	}
	return score
}

func queryTerms(query string) []string {
	fields := strings.FieldsFunc(strings.ToLower(query), func(r rune) bool {
		return !('a' <= r && r <= 'z' || '0' <= r && r <= '9')
	})
	var terms []string
	for _, f := range fields {
		if len(f) > 2 {
			terms = append(terms, f)
		}
	}
	return terms
}

// --- document catalog -----------------------------------------------------

func (s *SQLiteStore) AddDocument(ctx context.Context, doc domain.Document, chunks []domain.DocumentChunk) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin add document: %w", err)
	}
	defer tx.Rollback()

	if doc.UploadedAt.IsZero() {
		doc.UploadedAt = time.Now()
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT OR REPLACE INTO documents (id, filename, mime_type, size, chunk_count, uploaded_by, uploaded_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		doc.ID, doc.Filename, doc.MimeType, doc.Size, len(chunks), doc.UploadedBy, doc.UploadedAt,
	); err != nil {
		return fmt.Errorf("insert document: %w", err)
	}

	// Replace any previous chunks for this document ID.
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM chunks_fts WHERE rowid IN (SELECT id FROM document_chunks WHERE document_id = ?)`,
		doc.ID,
	); err != nil {
		return fmt.Errorf("clear chunk index: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM document_chunks WHERE document_id = ?`, doc.ID,
	); err != nil {
		return fmt.Errorf("clear chunks: %w", err)
	}

	for _, c := range chunks {
		res, err := tx.ExecContext(ctx,
			`INSERT INTO document_chunks (document_id, chunk_index, content, tokens)
			 VALUES (?, ?, ?, ?)`,
			doc.ID, c.ChunkIndex, c.Content, c.TokenCount,
		)
		if err != nil {
			return fmt.Errorf("insert chunk %d: %w", c.ChunkIndex, err)
		}
		rowid, err := res.LastInsertId()
		if err != nil {
			return fmt.Errorf("chunk rowid: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO chunks_fts (rowid, content) VALUES (?, ?)`,
			rowid, c.Content,
		); err != nil {
			return fmt.Errorf("index chunk %d: %w", c.ChunkIndex, err)
		}
	}

	return tx.Commit()
}

func (s *SQLiteStore) ListDocuments(ctx context.Context) ([]domain.Document, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, filename, mime_type, size, chunk_count, uploaded_by, uploaded_at
		 FROM documents ORDER BY uploaded_at ASC, id ASC`,
	)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	defer rows.Close()

	var docs []domain.Document
	for rows.Next() {
		var d domain.Document
		if err := rows.Scan(&d.ID, &d.Filename, &d.MimeType, &d.Size, &d.ChunkCount, &d.UploadedBy, &d.UploadedAt); err != nil {
			return nil, err
		}
		docs = append(docs, d)
	}
	return docs, rows.Err()
}

func (s *SQLiteStore) GetDocument(ctx context.Context, id string) (*domain.Document, error) {
	var d domain.Document
	err := s.db.QueryRowContext(ctx,
		`SELECT id, filename, mime_type, size, chunk_count, uploaded_by, uploaded_at
		 FROM documents WHERE id = ?`, id,
	).Scan(&d.ID, &d.Filename, &d.MimeType, &d.Size, &d.ChunkCount, &d.UploadedBy, &d.UploadedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get document: %w", err)
	}
	return &d, nil
}

func (s *SQLiteStore) GetChunks(ctx context.Context, docID string) ([]domain.DocumentChunk, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, document_id, chunk_index, content, tokens
		 FROM document_chunks WHERE document_id = ? ORDER BY chunk_index ASC`,
		docID,
	)
	if err != nil {
		return nil, fmt.Errorf("get chunks: %w", err)
	}
	defer rows.Close()

	var chunks []domain.DocumentChunk
	for rows.Next() {
		var c domain.DocumentChunk
		if err := rows.Scan(&c.ID, &c.DocumentID, &c.ChunkIndex, &c.Content, &c.TokenCount); err != nil {
			return nil, err
		}
		chunks = append(chunks, c)
	}
	return chunks, rows.Err()
}

func (s *SQLiteStore) DeleteDocument(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin delete document: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM chunks_fts WHERE rowid IN (SELECT id FROM document_chunks WHERE document_id = ?)`,
		id,
	); err != nil {
		return fmt.Errorf("clear chunk index: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM document_chunks WHERE document_id = ?`, id); err != nil {
		return fmt.Errorf("delete chunks: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM documents WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete document: %w", err)
	}
	return tx.Commit()
}

// SearchChunks runs full-text search over the chunk index. bm25 ranks are
// mapped into (0,1] so callers can threshold without knowing FTS internals.
func (s *SQLiteStore) SearchChunks(ctx context.Context, query string, topK int, docID string) ([]domain.ChunkSearchResult, error) {
	if topK <= 0 {
		topK = 5
	}
	match := ftsQuery(query)
	if match == "" {
		return nil, nil
	}

	sqlQuery := `
		SELECT c.id, c.document_id, c.chunk_index, c.content, c.tokens,
		       d.filename, bm25(chunks_fts) AS rank
		FROM chunks_fts
		JOIN document_chunks c ON c.id = chunks_fts.rowid
		JOIN documents d ON d.id = c.document_id
		WHERE chunks_fts MATCH ?`
	args := []any{match}
	if docID != "" {
		sqlQuery += ` AND c.document_id = ?`
		args = append(args, docID)
	}
	sqlQuery += ` ORDER BY rank LIMIT ?`
	args = append(args, topK)

	rows, err := s.db.QueryContext(ctx, sqlQuery, args...)
	if err != nil {
		return nil, fmt.Errorf("search chunks: %w", err)
	}
	defer rows.Close()

	var results []domain.ChunkSearchResult
	for rows.Next() {
		var r domain.ChunkSearchResult
		var rank float64
		if err := rows.Scan(&r.Chunk.ID, &r.Chunk.DocumentID, &r.Chunk.ChunkIndex,
			&r.Chunk.Content, &r.Chunk.TokenCount, &r.Filename, &rank); err != nil {
			return nil, err
		}
		// bm25 returns negative values, more negative meaning more relevant.
		r.Score = 1.0 / (1.0 + rankMagnitude(rank))
		r.Score = 1 - r.Score // more relevant maps closer to 1
		results = append(results, r)
	}
	return results, rows.Err()
}

func rankMagnitude(rank float64) float64 {
	if rank < 0 {
		return -rank
	}
	return rank
}

// FindSemanticMatches aggregates chunk hits per document and normalizes the
// per-document totals against the best match, yielding scores in [0,1].
func (s *SQLiteStore) FindSemanticMatches(ctx context.Context, query string, topN int) ([]domain.SemanticMatch, error) {
	if topN <= 0 {
		topN = 3
	}

	hits, err := s.SearchChunks(ctx, query, 20, "")
	if err != nil {
		return nil, err
	}
	if len(hits) == 0 {
		return nil, nil
	}

	totals := make(map[string]float64)
	names := make(map[string]string)
	for _, h := range hits {
		totals[h.Chunk.DocumentID] += h.Score
		names[h.Chunk.DocumentID] = h.Filename
	}

	var best float64
	for _, t := range totals {
		if t > best {
			best = t
		}
	}
	if best == 0 {
		return nil, nil
	}

	var matches []domain.SemanticMatch
	for id, t := range totals {
		matches = append(matches, domain.SemanticMatch{
			DocumentID: id,
			Filename:   names[id],
			Score:      t / best,
		})
	}
	for i := 1; i < len(matches); i++ {
		for j := i; j > 0 && matches[j].Score > matches[j-1].Score; j-- {
			matches[j], matches[j-1] = matches[j-1], matches[j]
		}
	}
	if len(matches) > topN {
		matches = matches[:topN]
	}
	return matches, nil
}

// ftsQuery turns free text into a safe FTS5 query: each significant term is
// double-quoted and the terms are OR'd together.
func ftsQuery(query string) string {
	terms := queryTerms(query)
	if len(terms) == 0 {
		return ""
	}
	quoted := make([]string, len(terms))
	for i, t := range terms {
		quoted[i] = `"` + t + `"`
	}
	return strings.Join(quoted, " OR ")
}
