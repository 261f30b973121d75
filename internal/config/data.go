package config

import "fmt"

// DataConfig configures chunking, the knowledge base, and web search.
type DataConfig struct {
	ChunkSize               int    `yaml:"db_chunk_size"`
	ChunkOverlap            int    `yaml:"db_chunk_overlap"`
	BatchSize               int    `yaml:"db_batch_size"`
	DBDirectory             string `yaml:"db_directory"`
	DBName                  string `yaml:"db_name"`
	EmbeddingProvider       string `yaml:"embedding_provider"` // openai, genai, ollama
	EmbeddingModel          string `yaml:"embedding_model"`
	EmbeddingModelTokenizer string `yaml:"embedding_model_tokenizer"`
	DistanceMetric          string `yaml:"distance_metric"` // cosine, l2, ip
	MaxQueries              int    `yaml:"db_max_queries"`
	ResultsPerQuery         int    `yaml:"db_results_per_query"`
	SearchResultsPerQuery   int    `yaml:"search_results_per_query"`
	SearchEngineNumQueries  int    `yaml:"search_engine_num_queries"`
	SearchUseBrowser        bool   `yaml:"search_use_browser"`
}

// DefaultBatchSize is used when db_batch_size is zero.
const DefaultBatchSize = 200

// ValidMetrics lists the supported distance metrics.
var ValidMetrics = []string{"cosine", "l2", "ip"}

// Validate checks invariants and fills zero-valued optional fields.
func (d *DataConfig) Validate() error {
	if d.ChunkSize <= 0 {
		return fmt.Errorf("db_chunk_size must be positive, got %d", d.ChunkSize)
	}
	if d.ChunkOverlap < 0 {
		return fmt.Errorf("db_chunk_overlap must not be negative, got %d", d.ChunkOverlap)
	}
	if d.ChunkOverlap >= d.ChunkSize {
		return fmt.Errorf("db_chunk_overlap (%d) must be smaller than db_chunk_size (%d)", d.ChunkOverlap, d.ChunkSize)
	}
	if d.BatchSize < 0 {
		return fmt.Errorf("db_batch_size must be positive, got %d", d.BatchSize)
	}
	if d.BatchSize == 0 {
		d.BatchSize = DefaultBatchSize
	}

	if d.DistanceMetric == "" {
		d.DistanceMetric = "cosine"
	}
	valid := false
	for _, m := range ValidMetrics {
		if d.DistanceMetric == m {
			valid = true
			break
		}
	}
	if !valid {
		return fmt.Errorf("invalid distance_metric: %s (valid: %v)", d.DistanceMetric, ValidMetrics)
	}

	if d.DBName == "" {
		d.DBName = "knowledge"
	}
	if d.EmbeddingProvider == "" {
		d.EmbeddingProvider = "openai"
	}
	if d.EmbeddingModelTokenizer == "" {
		d.EmbeddingModelTokenizer = "cl100k_base"
	}
	if d.MaxQueries <= 0 {
		d.MaxQueries = 1
	}
	if d.ResultsPerQuery <= 0 {
		d.ResultsPerQuery = 5
	}
	if d.SearchResultsPerQuery <= 0 {
		d.SearchResultsPerQuery = 3
	}
	if d.SearchEngineNumQueries <= 0 {
		d.SearchEngineNumQueries = 3
	}
	return nil
}
