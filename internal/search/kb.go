package search

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"
	"unicode"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

const (
	chunkSize    = 1000
	chunkOverlap = 200

	// RelevanceThreshold is the score below which a KB hit counts as
	// relevant. Scores are distances in [0, 2]; see chunk scoring.
	RelevanceThreshold = 1.5
)

// KBIndex is the local knowledge-base index: admin-uploaded documents
// split into overlapping chunks and scored lexically at query time.
type KBIndex struct {
	db     *sql.DB
	logger *slog.Logger
}

// Document is the stored metadata for an uploaded document.
type Document struct {
	ID         string    `json:"id"`
	Filename   string    `json:"filename"`
	ChunkCount int       `json:"chunk_count"`
	UploadedAt time.Time `json:"uploaded_at"`
}

// NewKBIndex opens (or creates) the knowledge-base database.
func NewKBIndex(path string, logger *slog.Logger) (*KBIndex, error) {
	if logger == nil {
		logger = slog.Default()
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("kb index: open: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("kb index: wal: %w", err)
	}

	k := &KBIndex{db: db, logger: logger}
	if err := k.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return k, nil
}

func (k *KBIndex) migrate() error {
	_, err := k.db.Exec(`
		CREATE TABLE IF NOT EXISTS kb_documents (
			id          TEXT PRIMARY KEY,
			filename    TEXT NOT NULL,
			chunk_count INTEGER NOT NULL DEFAULT 0,
			uploaded_at TEXT NOT NULL
		);

		CREATE TABLE IF NOT EXISTS kb_chunks (
			id      TEXT PRIMARY KEY,
			doc_id  TEXT NOT NULL REFERENCES kb_documents(id),
			seq     INTEGER NOT NULL,
			content TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_chunks_doc ON kb_chunks(doc_id);
	`)
	if err != nil {
		return fmt.Errorf("kb index: migrate: %w", err)
	}
	return nil
}

// AddDocument splits content into chunks and indexes them.
func (k *KBIndex) AddDocument(filename, content string) (*Document, error) {
	chunks := splitChunks(content, chunkSize, chunkOverlap)
	doc := &Document{
		ID:         "doc_" + uuid.NewString()[:12],
		Filename:   filename,
		ChunkCount: len(chunks),
		UploadedAt: time.Now(),
	}

	tx, err := k.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("kb index: add document: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.Exec(`INSERT INTO kb_documents (id, filename, chunk_count, uploaded_at) VALUES (?, ?, ?, ?)`,
		doc.ID, doc.Filename, doc.ChunkCount, doc.UploadedAt.Format(time.RFC3339))
	if err != nil {
		return nil, fmt.Errorf("kb index: insert document: %w", err)
	}
	for i, chunk := range chunks {
		_, err = tx.Exec(`INSERT INTO kb_chunks (id, doc_id, seq, content) VALUES (?, ?, ?, ?)`,
			uuid.NewString(), doc.ID, i, chunk)
		if err != nil {
			return nil, fmt.Errorf("kb index: insert chunk: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("kb index: commit: %w", err)
	}

	k.logger.Info("document indexed", "doc", doc.ID, "filename", filename, "chunks", len(chunks))
	return doc, nil
}

// Documents lists all indexed documents.
func (k *KBIndex) Documents() ([]Document, error) {
	rows, err := k.db.Query(`SELECT id, filename, chunk_count, uploaded_at FROM kb_documents ORDER BY uploaded_at`)
	if err != nil {
		return nil, fmt.Errorf("kb index: documents: %w", err)
	}
	defer rows.Close()

	var docs []Document
	for rows.Next() {
		var d Document
		var uploadedAt string
		if err := rows.Scan(&d.ID, &d.Filename, &d.ChunkCount, &uploadedAt); err != nil {
			return nil, fmt.Errorf("kb index: scan document: %w", err)
		}
		d.UploadedAt, _ = time.Parse(time.RFC3339, uploadedAt)
		docs = append(docs, d)
	}
	return docs, rows.Err()
}

// Search scores every chunk against the query and returns the best
// maxResults hits, most relevant (lowest score) first.
func (k *KBIndex) Search(ctx context.Context, query string, maxResults int) ([]Result, error) {
	qTokens := tokenize(query)
	if len(qTokens) == 0 {
		return nil, nil
	}

	rows, err := k.db.QueryContext(ctx, `
		SELECT c.content, d.filename FROM kb_chunks c
		JOIN kb_documents d ON d.id = c.doc_id`)
	if err != nil {
		return nil, fmt.Errorf("kb index: search: %w", err)
	}
	defer rows.Close()

	var results []Result
	for rows.Next() {
		var content, filename string
		if err := rows.Scan(&content, &filename); err != nil {
			return nil, fmt.Errorf("kb index: scan chunk: %w", err)
		}
		score, matched := scoreChunk(qTokens, content)
		if !matched {
			continue
		}
		results = append(results, Result{
			Title:   filename,
			Content: content,
			Score:   score,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("kb index: search: %w", err)
	}

	sort.SliceStable(results, func(i, j int) bool { return results[i].Score < results[j].Score })
	if maxResults > 0 && len(results) > maxResults {
		results = results[:maxResults]
	}
	k.logger.Debug("kb search complete", "query", query, "results", len(results))
	return results, nil
}

// Close releases the underlying database.
func (k *KBIndex) Close() error {
	return k.db.Close()
}

// scoreChunk computes the query-to-chunk distance: 2 * (1 - fraction
// of query tokens present in the chunk). 0 is an exact vocabulary
// match, 2 shares nothing. Chunks sharing no token are skipped.
func scoreChunk(qTokens []string, chunk string) (float64, bool) {
	chunkTokens := make(map[string]struct{})
	for _, tok := range tokenize(chunk) {
		chunkTokens[tok] = struct{}{}
	}

	matched := 0
	for _, tok := range qTokens {
		if _, ok := chunkTokens[tok]; ok {
			matched++
		}
	}
	if matched == 0 {
		return 2.0, false
	}
	return 2.0 * (1.0 - float64(matched)/float64(len(qTokens))), true
}

// tokenize lowercases and splits on non-alphanumerics, dropping
// tokens too short to carry meaning.
func tokenize(s string) []string {
	fields := strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	out := fields[:0]
	for _, f := range fields {
		if len(f) > 2 {
			out = append(out, f)
		}
	}
	return out
}

// splitChunks cuts content into size-byte chunks with overlap bytes
// of carryover between consecutive chunks.
func splitChunks(content string, size, overlap int) []string {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil
	}
	if len(content) <= size {
		return []string{content}
	}

	var chunks []string
	step := size - overlap
	for start := 0; start < len(content); start += step {
		end := start + size
		if end >= len(content) {
			chunks = append(chunks, content[start:])
			break
		}
		chunks = append(chunks, content[start:end])
	}
	return chunks
}
