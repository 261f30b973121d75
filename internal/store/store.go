// Package store implements the vector knowledge base: chunked documents and
// web search results embedded into a SQLite collection and queried by
// nearest-neighbour distance.
package store

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/BenDundee/ravana/internal/embedding"
	"github.com/BenDundee/ravana/internal/logging"
)

// ErrEmptyDocument is returned when a document to embed is empty.
var ErrEmptyDocument = errors.New("documents must not be empty")

// DefaultBatchSize mirrors config.DefaultBatchSize.
const DefaultBatchSize = 200

// Chunk is one stored piece of text. Distance is set on query results only.
type Chunk struct {
	ID       string            `json:"id"`
	Text     string            `json:"text"`
	Metadata map[string]string `json:"metadata"`
	Distance float64           `json:"distance"`
}

// QueryResult holds the chunks closest to a query, nearest first.
type QueryResult struct {
	Results []Chunk `json:"results"`
}

// Texts returns the result contents in order.
func (q QueryResult) Texts() []string {
	out := make([]string, len(q.Results))
	for i, c := range q.Results {
		out[i] = c.Text
	}
	return out
}

// Splitter breaks a document into chunks. *chunker.Chunker satisfies it.
type Splitter interface {
	Split(text string) []string
}

// Options tunes how a KnowledgeStore is opened.
type Options struct {
	// Recreate removes the database directory before opening.
	Recreate bool
	// BatchSize is the number of chunks embedded and inserted together.
	BatchSize int
	// Parallelism bounds concurrent embedding requests. Zero means 4.
	Parallelism int
	// DBName is the file name inside the directory. Zero means "knowledge".
	DBName string
}

// KnowledgeStore is a SQLite-backed vector collection.
type KnowledgeStore struct {
	db         *sql.DB
	dir        string
	path       string
	collection string
	metric     string
	engine     embedding.Engine
	opts       Options
	mu         sync.RWMutex
}

// Open opens (or creates) the knowledge base under dir and selects the named
// collection.
func Open(dir, collection, metric string, engine embedding.Engine, opts Options) (*KnowledgeStore, error) {
	timer := logging.StartTimer(logging.CategoryStore, "Open")
	defer timer.Stop()

	if engine == nil {
		return nil, fmt.Errorf("embedding engine is required")
	}
	if collection == "" {
		return nil, fmt.Errorf("collection name is required")
	}
	if metric == "" {
		metric = MetricCosine
	}
	if _, ok := distanceFuncs[metric]; !ok {
		return nil, fmt.Errorf("unsupported distance metric %q", metric)
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultBatchSize
	}
	if opts.Parallelism <= 0 {
		opts.Parallelism = 4
	}
	if opts.DBName == "" {
		opts.DBName = "knowledge"
	}

	if opts.Recreate {
		logging.Store("Recreating knowledge base at %s", dir)
		if err := os.RemoveAll(dir); err != nil {
			return nil, fmt.Errorf("failed to remove %s: %w", dir, err)
		}
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create db directory: %w", err)
	}

	path := filepath.Join(dir, opts.DBName+".db")
	db, err := sql.Open(driverName, path)
	if err != nil {
		logging.StoreError("Failed to open database at %s: %v", path, err)
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Single writer; scalar functions are registered per connection anyway.
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA busy_timeout = 5000",
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			logging.StoreWarn("Failed to apply %q: %v", pragma, err)
		}
	}

	s := &KnowledgeStore{
		db:         db,
		dir:        dir,
		path:       path,
		collection: collection,
		metric:     metric,
		engine:     engine,
		opts:       opts,
	}
	if err := s.initialize(); err != nil {
		db.Close()
		return nil, err
	}

	logging.Store("Knowledge base opened: %s (collection=%s metric=%s engine=%s vec=%v)",
		path, collection, metric, engine.Name(), vecExtension())
	return s, nil
}

func (s *KnowledgeStore) initialize() error {
	schema := `
	CREATE TABLE IF NOT EXISTS collections (
		name TEXT PRIMARY KEY,
		metric TEXT NOT NULL,
		dimensions INTEGER NOT NULL DEFAULT 0,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS chunks (
		id TEXT NOT NULL,
		collection TEXT NOT NULL,
		content TEXT NOT NULL,
		metadata TEXT NOT NULL DEFAULT '{}',
		embedding BLOB NOT NULL,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY (collection, id)
	);
	CREATE INDEX IF NOT EXISTS idx_chunks_collection ON chunks(collection);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	var existing string
	err := s.db.QueryRow("SELECT metric FROM collections WHERE name = ?", s.collection).Scan(&existing)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		_, err = s.db.Exec("INSERT INTO collections (name, metric) VALUES (?, ?)", s.collection, s.metric)
		if err != nil {
			return fmt.Errorf("failed to create collection %s: %w", s.collection, err)
		}
	case err != nil:
		return fmt.Errorf("failed to read collection %s: %w", s.collection, err)
	case existing != s.metric:
		// Distances are only comparable under the metric the collection was built with.
		logging.StoreWarn("Collection %s was created with metric %s; using it instead of %s",
			s.collection, existing, s.metric)
		s.metric = existing
	}
	return nil
}

// Collection returns the active collection name.
func (s *KnowledgeStore) Collection() string { return s.collection }

// Metric returns the distance metric of the active collection.
func (s *KnowledgeStore) Metric() string { return s.metric }

// Path returns the database file path.
func (s *KnowledgeStore) Path() string { return s.path }

// Count returns the number of chunks in the active collection.
func (s *KnowledgeStore) Count() (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.countLocked()
}

func (s *KnowledgeStore) countLocked() (int, error) {
	var n int
	if err := s.db.QueryRow("SELECT COUNT(*) FROM chunks WHERE collection = ?", s.collection).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count chunks: %w", err)
	}
	return n, nil
}

// DeleteByIDs removes chunks from the active collection. Unknown IDs are ignored.
func (s *KnowledgeStore) DeleteByIDs(ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare("DELETE FROM chunks WHERE collection = ? AND id = ?")
	if err != nil {
		return fmt.Errorf("failed to prepare delete: %w", err)
	}
	defer stmt.Close()

	for _, id := range ids {
		if _, err := stmt.Exec(s.collection, id); err != nil {
			return fmt.Errorf("failed to delete %s: %w", id, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit delete: %w", err)
	}
	logging.StoreDebug("Deleted %d chunk ids from %s", len(ids), s.collection)
	return nil
}

// DeleteCollection drops a collection and its chunks. An empty name means the
// active collection, which is recreated empty so the store stays usable.
func (s *KnowledgeStore) DeleteCollection(name string) error {
	if name == "" {
		name = s.collection
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec("DELETE FROM chunks WHERE collection = ?", name); err != nil {
		return fmt.Errorf("failed to delete chunks of %s: %w", name, err)
	}
	if _, err := tx.Exec("DELETE FROM collections WHERE name = ?", name); err != nil {
		return fmt.Errorf("failed to delete collection %s: %w", name, err)
	}
	if name == s.collection {
		if _, err := tx.Exec("INSERT INTO collections (name, metric) VALUES (?, ?)", name, s.metric); err != nil {
			return fmt.Errorf("failed to recreate collection %s: %w", name, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit: %w", err)
	}
	logging.Store("Deleted collection %s", name)
	return nil
}

// Close closes the database.
func (s *KnowledgeStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Close()
}
