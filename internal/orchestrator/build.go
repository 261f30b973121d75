package orchestrator

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/BenDundee/ravana/internal/agents"
	"github.com/BenDundee/ravana/internal/chunker"
	"github.com/BenDundee/ravana/internal/config"
	"github.com/BenDundee/ravana/internal/embedding"
	"github.com/BenDundee/ravana/internal/llm"
	"github.com/BenDundee/ravana/internal/logging"
	"github.com/BenDundee/ravana/internal/store"
	"github.com/BenDundee/ravana/internal/tools"
	"github.com/BenDundee/ravana/internal/tools/research"
	"github.com/BenDundee/ravana/internal/usage"
)

// Collection is the knowledge base collection used for all documents.
const Collection = "ravana"

// Deps overrides components New would otherwise build from config.
type Deps struct {
	Client   llm.Client
	Engine   embedding.Engine
	Searcher research.Searcher
	Fetcher  research.Fetcher
	Splitter store.Splitter
}

// New builds a controller from configuration: it recreates the knowledge
// base, ingests the data files, configures the agents, and registers the
// research tools.
func New(ctx context.Context, cfg *config.Configurator, deps Deps) (*Controller, error) {
	timer := logging.StartTimer(logging.CategoryBoot, "orchestrator.New")
	defer timer.Stop()

	data := cfg.Data()
	orch := cfg.Orchestration()

	client := deps.Client
	if client == nil {
		var err error
		if client, err = llm.NewFromConfig(ctx, cfg.API()); err != nil {
			return nil, err
		}
	}

	splitter := deps.Splitter
	if splitter == nil {
		sp, err := NewSplitter(data)
		if err != nil {
			return nil, err
		}
		splitter = sp
	}

	logging.Boot("Initializing knowledge base...")
	kb, err := OpenKnowledge(ctx, cfg, deps.Engine, true)
	if err != nil {
		return nil, err
	}
	if _, err := Ingest(ctx, kb, cfg.DataFiles, splitter); err != nil {
		kb.Close()
		return nil, err
	}

	tracker, err := usage.NewTracker(filepath.Join(cfg.DBDirectory(), usage.FileName))
	if err != nil {
		kb.Close()
		return nil, err
	}
	cleanup := func() {
		tracker.Close()
		kb.Close()
	}

	logging.Boot("Initializing agents...")
	handler, err := agents.NewHandler(cfg, client, agents.HandlerOptions{
		JSONRetries: orch.ModelRetries,
		Usage:       tracker,
	})
	if err != nil {
		cleanup()
		return nil, err
	}

	opts, err := optionsFrom(orch, data)
	if err != nil {
		cleanup()
		return nil, err
	}

	registry := tools.NewRegistry()
	c := NewController(opts, handler, kb, registry)
	c.cfg = cfg
	c.usage = tracker
	c.closers = append(c.closers, kb.Close, tracker.Close)

	fetcher := deps.Fetcher
	if fetcher == nil {
		f, closeFn := NewFetcher(data)
		fetcher = f
		c.closers = append(c.closers, closeFn)
	}
	searcher := deps.Searcher
	if searcher == nil {
		searcher = research.NewDuckDuckGo()
	}

	logging.Boot("Initializing tools...")
	if err := research.RegisterAll(registry, research.Deps{
		Search:          research.NewSearchTool(searcher, fetcher, data.SearchResultsPerQuery),
		Fetcher:         fetcher,
		Knowledge:       kb,
		Splitter:        splitter,
		ResultsPerQuery: data.ResultsPerQuery,
		OnSearch:        c.RecordSearch,
	}); err != nil {
		c.Close()
		return nil, err
	}
	logging.Boot("Controller ready: %d agents, %d tools", len(handler.Names()), registry.Count())
	return c, nil
}

// optionsFrom maps orchestration.yml and data.yml onto turn limits.
func optionsFrom(orch config.OrchestrationConfig, data config.DataConfig) (Options, error) {
	timeout, err := time.ParseDuration(orch.Timeout)
	if err != nil {
		return Options{}, fmt.Errorf("orchestration.yml: invalid timeout %q: %w", orch.Timeout, err)
	}
	return Options{
		Orchestration:   orch,
		ResultsPerQuery: data.ResultsPerQuery,
		MaxQueries:      data.MaxQueries,
		SearchQueries:   data.SearchEngineNumQueries,
		Timeout:         timeout,
	}, nil
}

// OnConfigChange reloads configuration after a watched file changed, applies
// the new turn limits, and reconfigures the affected agents. JSON re-asks keep
// the model_retries value the agents were built with.
func (c *Controller) OnConfigChange(path string) {
	if c.cfg != nil {
		if err := c.cfg.Configure(true); err != nil {
			logging.ConfigError("Reload after change to %s failed: %v", path, err)
			return
		}
		if err := c.cfg.ReloadPersona(); err != nil {
			logging.ConfigWarn("Persona reload failed: %v", err)
		}
		opts, err := optionsFrom(c.cfg.Orchestration(), c.cfg.Data())
		if err != nil {
			logging.ConfigError("Keeping previous turn limits: %v", err)
		} else {
			c.SetOptions(opts)
		}
	}
	if err := c.handler.HandleChange(path); err != nil {
		logging.ConfigError("Agent reconfiguration after change to %s failed: %v", path, err)
		return
	}
	logging.Configuration("Applied change to %s", path)
}

// EmbeddingConfig maps the data and API config onto an embedding engine
// configuration.
func EmbeddingConfig(api config.APIConfig, data config.DataConfig) embedding.Config {
	ec := embedding.DefaultConfig()
	ec.Provider = data.EmbeddingProvider
	ec.OpenAIAPIKey = api.OpenAIKey
	ec.GenAIAPIKey = api.GeminiKey
	if data.EmbeddingModel != "" {
		switch data.EmbeddingProvider {
		case "genai":
			ec.GenAIModel = data.EmbeddingModel
		case "ollama":
			ec.OllamaModel = data.EmbeddingModel
		default:
			ec.OpenAIModel = data.EmbeddingModel
		}
	}
	return ec
}

// NewSplitter returns the token chunker configured by data.yml.
func NewSplitter(data config.DataConfig) (*chunker.Chunker, error) {
	tok, err := chunker.NewTiktoken(data.EmbeddingModelTokenizer)
	if err != nil {
		return nil, err
	}
	return chunker.New(tok, data.ChunkSize, data.ChunkOverlap)
}

// OpenKnowledge opens the configured knowledge base. A nil engine is built
// from config.
func OpenKnowledge(ctx context.Context, cfg *config.Configurator, engine embedding.Engine, recreate bool) (*store.KnowledgeStore, error) {
	data := cfg.Data()
	if engine == nil {
		var err error
		if engine, err = embedding.NewEngine(EmbeddingConfig(cfg.API(), data)); err != nil {
			return nil, err
		}
	}
	return store.Open(cfg.DBDirectory(), Collection, data.DistanceMetric, engine, store.Options{
		Recreate:  recreate,
		BatchSize: data.BatchSize,
		DBName:    data.DBName,
	})
}

// Ingest adds the data files to kb and returns the number of chunks added.
func Ingest(ctx context.Context, kb *store.KnowledgeStore, files []string, sp store.Splitter) (int, error) {
	if len(files) == 0 {
		logging.BootWarn("No data files to ingest")
		return 0, nil
	}
	ids, err := kb.InitializeFromFiles(ctx, files, sp)
	if err != nil {
		return 0, fmt.Errorf("failed to ingest data files: %w", err)
	}
	logging.Boot("Ingested %d chunks from %d files", len(ids), len(files))
	return len(ids), nil
}

// NewFetcher returns the page fetcher selected by search_use_browser, wrapped
// in a page cache, and a function releasing it.
func NewFetcher(data config.DataConfig) (research.Fetcher, func() error) {
	if data.SearchUseBrowser {
		b := research.NewBrowserFetcher(research.DefaultBrowserConfig())
		return research.NewCachingFetcher(b, 30*time.Minute), b.Close
	}
	return research.NewCachingFetcher(research.NewHTTPFetcher(), 30*time.Minute), func() error { return nil }
}
