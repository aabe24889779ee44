// Package ingest imports markdown documents into the retrieval index.
// Files are split into chunks along their heading structure so that
// search hits map back to a specific section rather than a whole file.
package ingest

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"

	"github.com/parleybot/parley/internal/server"
)

// slugRe collapses non-alphanumeric runs when building chunk keys.
var slugRe = regexp.MustCompile(`[^a-z0-9]+`)

// Chunk is one semantic unit of a document: the text under a heading,
// keyed by its heading path.
type Chunk struct {
	Title   string
	Content string
}

// Ingester pushes markdown chunks into a retrieval server through the
// same tool contract the model uses.
type Ingester struct {
	conn   server.Connector
	logger *slog.Logger
}

// New creates an ingester that stores chunks via conn's
// rag_add_document tool.
func New(conn server.Connector, logger *slog.Logger) *Ingester {
	if logger == nil {
		logger = slog.Default()
	}
	return &Ingester{conn: conn, logger: logger}
}

// IngestFile splits one markdown file and indexes its chunks. Returns
// the number of chunks stored.
func (ing *Ingester) IngestFile(ctx context.Context, path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("read %s: %w", path, err)
	}

	base := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	chunks := SplitMarkdown(data, base)

	count := 0
	for _, chunk := range chunks {
		result, err := ing.conn.CallTool(ctx, "rag_add_document", map[string]any{
			"title":   chunk.Title,
			"content": chunk.Content,
		})
		if err != nil {
			return count, fmt.Errorf("index chunk %q: %w", chunk.Title, err)
		}
		if !result.OK {
			return count, fmt.Errorf("index chunk %q: %s", chunk.Title, result.Err.Message)
		}
		count++
	}

	ing.logger.Info("ingested document", "path", path, "chunks", count)
	return count, nil
}

// IngestDir walks dir and ingests every .md file. Returns total chunks
// stored.
func (ing *Ingester) IngestDir(ctx context.Context, dir string) (int, error) {
	total := 0
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.EqualFold(filepath.Ext(path), ".md") {
			return nil
		}
		n, err := ing.IngestFile(ctx, path)
		total += n
		return err
	})
	return total, err
}

// SplitMarkdown parses source with goldmark and cuts it into chunks at
// heading boundaries. Text before the first heading is keyed by
// fallbackTitle. Headings nest: a chunk under "# API" and "## Errors"
// is titled "api/errors".
func SplitMarkdown(source []byte, fallbackTitle string) []Chunk {
	doc := goldmark.New().Parser().Parse(text.NewReader(source))

	var chunks []Chunk
	headings := make([]string, 0, 6) // slug per heading level seen
	var content strings.Builder

	flush := func() {
		body := strings.TrimSpace(content.String())
		content.Reset()
		if body == "" {
			return
		}
		title := strings.Join(headings, "/")
		if title == "" {
			title = slugify(fallbackTitle)
		}
		chunks = append(chunks, Chunk{Title: title, Content: body})
	}

	for node := doc.FirstChild(); node != nil; node = node.NextSibling() {
		if h, ok := node.(*ast.Heading); ok {
			flush()
			slug := slugify(string(nodeText(h, source)))
			depth := h.Level - 1
			if depth > len(headings) {
				depth = len(headings)
			}
			headings = append(headings[:depth], slug)
			continue
		}
		if txt := blockText(node, source); txt != "" {
			content.WriteString(txt)
			content.WriteString("\n")
		}
	}
	flush()

	return chunks
}

// blockText renders a block node's source lines, recursing into
// containers like lists and quotes.
func blockText(node ast.Node, source []byte) string {
	var sb strings.Builder

	lines := node.Lines()
	for i := 0; i < lines.Len(); i++ {
		seg := lines.At(i)
		sb.Write(seg.Value(source))
	}

	if node.HasChildren() {
		for child := node.FirstChild(); child != nil; child = child.NextSibling() {
			if child.Type() == ast.TypeBlock {
				sb.WriteString(blockText(child, source))
			}
		}
	}

	return sb.String()
}

// nodeText collects the inline text of a node.
func nodeText(node ast.Node, source []byte) []byte {
	var sb strings.Builder
	for child := node.FirstChild(); child != nil; child = child.NextSibling() {
		if t, ok := child.(*ast.Text); ok {
			sb.Write(t.Segment.Value(source))
		}
	}
	return []byte(sb.String())
}

// slugify converts a heading to a key-friendly form.
func slugify(s string) string {
	s = strings.ToLower(s)
	s = slugRe.ReplaceAllString(s, "-")
	return strings.Trim(s, "-")
}
