package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/BenDundee/ravana/internal/embedding"
	"github.com/BenDundee/ravana/internal/logging"
)

// Query returns the n chunks nearest to text. n is clamped to [1, Count()].
// where restricts results to chunks whose metadata matches every key exactly.
func (s *KnowledgeStore) Query(ctx context.Context, text string, n int, where map[string]string) (QueryResult, error) {
	timer := logging.StartTimer(logging.CategoryStore, "Query")
	defer timer.Stop()

	if strings.TrimSpace(text) == "" {
		return QueryResult{}, fmt.Errorf("query text: %w", ErrEmptyDocument)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	count, err := s.countLocked()
	if err != nil {
		return QueryResult{}, err
	}
	if count == 0 {
		logging.StoreDebug("Query on empty collection %s", s.collection)
		return QueryResult{}, nil
	}
	n = max(1, min(n, count))

	vecs, err := embedding.EmbedForTask(ctx, s.engine, []string{text},
		embedding.SelectTaskType(embedding.ContentTypeQuery, true))
	if err != nil {
		return QueryResult{}, fmt.Errorf("failed to embed query: %w", err)
	}
	if len(vecs) != 1 {
		return QueryResult{}, fmt.Errorf("engine returned %d embeddings for the query", len(vecs))
	}

	query, args := s.buildQuery(encodeFloat32(vecs[0]), n, where)
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		logging.StoreError("Query failed: %v", err)
		return QueryResult{}, fmt.Errorf("failed to query knowledge base: %w", err)
	}
	defer rows.Close()

	var result QueryResult
	for rows.Next() {
		var c Chunk
		var metaJSON string
		if err := rows.Scan(&c.ID, &c.Text, &metaJSON, &c.Distance); err != nil {
			return QueryResult{}, fmt.Errorf("failed to scan row: %w", err)
		}
		if err := json.Unmarshal([]byte(metaJSON), &c.Metadata); err != nil {
			logging.StoreWarn("Chunk %s has invalid metadata: %v", c.ID, err)
		}
		result.Results = append(result.Results, c)
	}
	if err := rows.Err(); err != nil {
		return QueryResult{}, fmt.Errorf("failed to read rows: %w", err)
	}

	logging.Audit().KnowledgeQuery(text, len(result.Results))
	logging.StoreDebug("Query returned %d/%d chunks", len(result.Results), n)
	return result, nil
}

// buildQuery renders the nearest-neighbour SELECT. Filter keys are sorted so
// the statement text is stable.
func (s *KnowledgeStore) buildQuery(vec []byte, n int, where map[string]string) (string, []any) {
	var b strings.Builder
	fmt.Fprintf(&b, "SELECT id, content, metadata, %s(embedding, ?) AS distance FROM chunks WHERE collection = ?",
		distanceFuncs[s.metric])
	args := []any{vec, s.collection}

	keys := make([]string, 0, len(where))
	for k := range where {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		b.WriteString(" AND json_extract(metadata, ?) = ?")
		args = append(args, jsonPath(k), where[k])
	}

	b.WriteString(" ORDER BY distance ASC, id ASC LIMIT ?")
	args = append(args, n)
	return b.String(), args
}

// jsonPath quotes a metadata key for json_extract.
func jsonPath(key string) string {
	return `$."` + strings.ReplaceAll(key, `"`, `\"`) + `"`
}
