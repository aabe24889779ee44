package backend

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/parleybot/parley/internal/embeddings"
	"github.com/parleybot/parley/internal/proto"
	"github.com/parleybot/parley/internal/server"
)

// Embedder turns text into vectors. Satisfied by *embeddings.Client;
// tests substitute deterministic fakes.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Model() string
}

// retrievalBackend persists document chunks and their embeddings in a
// SQLite index and serves semantic search over them. It uses the pure
// Go driver so the index works without cgo wherever the daemon runs.
type retrievalBackend struct {
	db       *sql.DB
	embedder Embedder
}

// NewRetrieval creates the document retrieval backend with its index at
// path.
func NewRetrieval(name, path string, embedder Embedder, logger *slog.Logger) (*Builtin, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open retrieval index: %w", err)
	}

	schema := `
	CREATE TABLE IF NOT EXISTS documents (
		id TEXT PRIMARY KEY,
		title TEXT NOT NULL,
		content TEXT NOT NULL,
		embedding TEXT NOT NULL,
		embed_model TEXT NOT NULL,
		added_at TIMESTAMP NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_documents_added ON documents(added_at);
	`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate retrieval index: %w", err)
	}

	be := &retrievalBackend{db: db, embedder: embedder}

	tools := []Tool{
		{
			Name:        "rag_add_document",
			Description: "Add a document to the retrieval index for semantic search",
			InputSchema: objectSchema(map[string]any{
				"title":   prop("string", "Document title"),
				"content": prop("string", "Document text to index"),
			}, "title", "content"),
			Handler: be.addDocument,
		},
		{
			Name:        "rag_search",
			Description: "Search indexed documents by semantic similarity",
			InputSchema: objectSchema(map[string]any{
				"query": prop("string", "Search query"),
				"limit": prop("integer", "Maximum number of results (default 5)"),
			}, "query"),
			Handler: be.search,
		},
		{
			Name:        "rag_collection_info",
			Description: "Report the size and embedding model of the retrieval index",
			InputSchema: objectSchema(map[string]any{}),
			Handler:     be.collectionInfo,
		},
	}

	resources := []server.ResourceDescriptor{
		{Pattern: "rag://documents", Description: "Documents in the retrieval index"},
	}

	return newBuiltin(name, logger, tools, resources, db.Close), nil
}

func (be *retrievalBackend) addDocument(ctx context.Context, args map[string]any) (any, error) {
	title, err := stringArg(args, "title")
	if err != nil {
		return nil, err
	}
	content, err := stringArg(args, "content")
	if err != nil {
		return nil, err
	}

	vector, err := be.embedder.Embed(ctx, content)
	if err != nil {
		return nil, proto.WrapError(proto.KindExecution, err, "embed document")
	}

	encoded, err := json.Marshal(vector)
	if err != nil {
		return nil, proto.WrapError(proto.KindExecution, err, "encode embedding")
	}

	id := uuid.NewString()
	_, err = be.db.ExecContext(ctx,
		`INSERT INTO documents (id, title, content, embedding, embed_model, added_at) VALUES (?, ?, ?, ?, ?, ?)`,
		id, title, content, string(encoded), be.embedder.Model(), time.Now().UTC(),
	)
	if err != nil {
		return nil, proto.WrapError(proto.KindExecution, err, "store document")
	}

	return map[string]any{"success": true, "id": id}, nil
}

func (be *retrievalBackend) search(ctx context.Context, args map[string]any) (any, error) {
	query, err := stringArg(args, "query")
	if err != nil {
		return nil, err
	}
	limit, err := intArg(args, "limit", 5)
	if err != nil {
		return nil, err
	}
	if limit < 1 {
		limit = 1
	}

	queryVec, err := be.embedder.Embed(ctx, query)
	if err != nil {
		return nil, proto.WrapError(proto.KindExecution, err, "embed query")
	}

	rows, err := be.db.QueryContext(ctx, `SELECT id, title, content, embedding FROM documents`)
	if err != nil {
		return nil, proto.WrapError(proto.KindExecution, err, "load documents")
	}
	defer rows.Close()

	type doc struct {
		id, title, content string
	}
	var docs []doc
	var vectors [][]float32
	for rows.Next() {
		var d doc
		var encoded string
		if err := rows.Scan(&d.id, &d.title, &d.content, &encoded); err != nil {
			return nil, proto.WrapError(proto.KindExecution, err, "scan document")
		}
		var vec []float32
		if err := json.Unmarshal([]byte(encoded), &vec); err != nil {
			return nil, proto.WrapError(proto.KindExecution, err, "decode embedding")
		}
		docs = append(docs, d)
		vectors = append(vectors, vec)
	}
	if err := rows.Err(); err != nil {
		return nil, proto.WrapError(proto.KindExecution, err, "iterate documents")
	}

	matches := embeddings.TopK(queryVec, vectors, limit)
	results := make([]map[string]any, 0, len(matches))
	for _, m := range matches {
		d := docs[m.Index]
		results = append(results, map[string]any{
			"id":      d.id,
			"title":   d.title,
			"content": d.content,
			"score":   m.Score,
		})
	}

	return map[string]any{"results": results, "count": len(results)}, nil
}

func (be *retrievalBackend) collectionInfo(ctx context.Context, _ map[string]any) (any, error) {
	var count int
	if err := be.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM documents`).Scan(&count); err != nil {
		return nil, proto.WrapError(proto.KindExecution, err, "count documents")
	}

	return map[string]any{
		"documents":   count,
		"embed_model": be.embedder.Model(),
	}, nil
}
