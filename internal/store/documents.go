package store

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/BenDundee/ravana/internal/embedding"
	"github.com/BenDundee/ravana/internal/logging"
)

// Document is the on-disk shape of a processed knowledge file.
type Document struct {
	Document string            `json:"document"`
	Metadata map[string]string `json:"metadata"`
}

// SearchResult is a fetched web page ready for ingestion. Content is nil when
// the fetch failed.
type SearchResult struct {
	URL     string
	Title   string
	Content *string
	Query   string
}

// LoadDocument reads one processed JSON file.
func LoadDocument(path string) (Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Document{}, err
	}
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return Document{}, fmt.Errorf("failed to parse %s: %w", filepath.Base(path), err)
	}
	return doc, nil
}

// InitializeFromFiles chunks every processed file and adds all chunks. Each
// chunk inherits its file's metadata.
func (s *KnowledgeStore) InitializeFromFiles(ctx context.Context, files []string, sp Splitter) ([]string, error) {
	timer := logging.StartTimer(logging.CategoryStore, "InitializeFromFiles")
	defer timer.Stop()

	var docs []string
	var metas []map[string]string
	for _, f := range files {
		doc, err := LoadDocument(f)
		if err != nil {
			return nil, fmt.Errorf("failed to load %s: %w", f, err)
		}
		chunks := sp.Split(doc.Document)
		if len(chunks) == 0 {
			return nil, fmt.Errorf("failed to process document with metadata %v: %w", doc.Metadata, ErrEmptyDocument)
		}
		for _, c := range chunks {
			docs = append(docs, c)
			metas = append(metas, copyMeta(doc.Metadata))
		}
		logging.StoreDebug("Chunked %s into %d pieces", filepath.Base(f), len(chunks))
	}
	if len(docs) == 0 {
		logging.StoreWarn("No documents to initialize the knowledge base with")
		return nil, nil
	}

	ids, err := s.AddDocuments(ctx, docs, metas, nil)
	if err != nil {
		return nil, err
	}
	logging.Audit().KnowledgeIngest("files", len(ids))
	logging.Store("Initialized knowledge base from %d files (%d chunks)", len(files), len(ids))
	return ids, nil
}

// AddSearchResults chunks fetched pages into the collection. Results without
// content are skipped.
func (s *KnowledgeStore) AddSearchResults(ctx context.Context, results []SearchResult, sp Splitter) ([]string, error) {
	var docs []string
	var metas []map[string]string
	for _, r := range results {
		if r.Content == nil || *r.Content == "" {
			logging.StoreDebug("Skipping search result without content: %s", r.URL)
			continue
		}
		for _, c := range sp.Split(*r.Content) {
			if c == "" {
				continue
			}
			docs = append(docs, c)
			metas = append(metas, map[string]string{
				"title": r.Title,
				"url":   r.URL,
				"query": r.Query,
			})
		}
	}
	if len(docs) == 0 {
		return nil, fmt.Errorf("no search results with content to add")
	}

	ids, err := s.AddDocuments(ctx, docs, metas, nil)
	if err != nil {
		return nil, err
	}
	logging.Audit().KnowledgeIngest("search", len(ids))
	return ids, nil
}

// AddDocuments embeds and inserts documents. Missing ids are generated and
// missing metadata defaults to empty. Returns the ids in input order.
func (s *KnowledgeStore) AddDocuments(ctx context.Context, docs []string, metas []map[string]string, ids []string) ([]string, error) {
	if len(docs) == 0 {
		return nil, nil
	}
	if metas != nil && len(metas) != len(docs) {
		return nil, fmt.Errorf("got %d metadatas for %d documents", len(metas), len(docs))
	}
	if ids != nil && len(ids) != len(docs) {
		return nil, fmt.Errorf("got %d ids for %d documents", len(ids), len(docs))
	}
	for i, d := range docs {
		if d == "" {
			return nil, fmt.Errorf("document %d: %w", i, ErrEmptyDocument)
		}
	}

	if ids == nil {
		ids = make([]string, len(docs))
		for i := range ids {
			ids[i] = uuid.NewString()
		}
	}
	if metas == nil {
		metas = make([]map[string]string, len(docs))
	}

	timer := logging.StartTimer(logging.CategoryStore, "AddDocuments")
	defer timer.Stop()

	vectors, err := s.embedBatches(ctx, docs)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	size := s.opts.BatchSize
	for start := 0; start < len(docs); start += size {
		end := min(start+size, len(docs))
		if err := s.insertBatch(ctx, docs[start:end], metas[start:end], ids[start:end], vectors[start:end]); err != nil {
			return nil, err
		}
	}
	if err := s.recordDimensions(len(vectors[0])); err != nil {
		logging.StoreWarn("Failed to record dimensions: %v", err)
	}

	logging.StoreDebug("Added %d chunks to %s", len(docs), s.collection)
	return ids, nil
}

// embedBatches embeds docs in BatchSize groups, Parallelism at a time.
func (s *KnowledgeStore) embedBatches(ctx context.Context, docs []string) ([][]float32, error) {
	task := embedding.SelectTaskType(embedding.ContentTypeDocument, false)
	vectors := make([][]float32, len(docs))
	size := s.opts.BatchSize

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.opts.Parallelism)
	for start := 0; start < len(docs); start += size {
		start, end := start, min(start+size, len(docs))
		g.Go(func() error {
			out, err := embedding.EmbedForTask(gctx, s.engine, docs[start:end], task)
			if err != nil {
				return fmt.Errorf("failed to embed batch %d-%d: %w", start, end, err)
			}
			if len(out) != end-start {
				return fmt.Errorf("engine returned %d embeddings for %d documents", len(out), end-start)
			}
			copy(vectors[start:end], out)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		logging.StoreError("Embedding failed: %v", err)
		return nil, err
	}
	return vectors, nil
}

func (s *KnowledgeStore) insertBatch(ctx context.Context, docs []string, metas []map[string]string, ids []string, vectors [][]float32) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR REPLACE INTO chunks (id, collection, content, metadata, embedding)
		VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	for i := range docs {
		meta := metas[i]
		if meta == nil {
			meta = map[string]string{}
		}
		metaJSON, err := json.Marshal(meta)
		if err != nil {
			return fmt.Errorf("failed to encode metadata: %w", err)
		}
		if _, err := stmt.ExecContext(ctx, ids[i], s.collection, docs[i], string(metaJSON), encodeFloat32(vectors[i])); err != nil {
			return fmt.Errorf("failed to insert chunk %s: %w", ids[i], err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit batch: %w", err)
	}
	return nil
}

func (s *KnowledgeStore) recordDimensions(dims int) error {
	_, err := s.db.Exec("UPDATE collections SET dimensions = ? WHERE name = ? AND dimensions = 0", dims, s.collection)
	return err
}

func copyMeta(m map[string]string) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
