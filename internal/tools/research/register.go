package research

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/BenDundee/ravana/internal/logging"
	"github.com/BenDundee/ravana/internal/store"
	"github.com/BenDundee/ravana/internal/tools"
)

// Knowledge is the part of the knowledge base the tools use.
// *store.KnowledgeStore satisfies it.
type Knowledge interface {
	Query(ctx context.Context, text string, n int, where map[string]string) (store.QueryResult, error)
	AddSearchResults(ctx context.Context, results []store.SearchResult, sp store.Splitter) ([]string, error)
}

// Deps wires the research tools to their backends. Nil members disable the
// tools that need them.
type Deps struct {
	Search    *SearchTool
	Fetcher   Fetcher
	Knowledge Knowledge
	// Splitter chunks fetched pages before ingestion.
	Splitter store.Splitter
	// ResultsPerQuery is the default number of knowledge chunks returned.
	ResultsPerQuery int
	// OnSearch observes every completed web search.
	OnSearch func(SearchOutput)
}

// snippetLen bounds the page text shown to the model per search result.
const snippetLen = 600

// RegisterAll registers the research tools with the given registry.
func RegisterAll(registry *tools.Registry, deps Deps) error {
	var all []*tools.Tool
	if deps.Search != nil {
		all = append(all, WebSearchTool(deps))
	}
	if deps.Fetcher != nil {
		all = append(all, WebFetchTool(deps.Fetcher))
	}
	if deps.Knowledge != nil {
		all = append(all, KnowledgeQueryTool(deps.Knowledge, deps.ResultsPerQuery))
	}

	for _, tool := range all {
		if err := registry.Register(tool); err != nil {
			return err
		}
	}
	return nil
}

// WebSearchTool returns a tool for searching the web.
func WebSearchTool(deps Deps) *tools.Tool {
	return &tools.Tool{
		Name:        "web_search",
		Description: "Search the web for several queries at once and read the top pages. Results are added to the knowledge base.",
		Category:    tools.CategoryResearch,
		Priority:    75,
		Execute: func(ctx context.Context, args map[string]any) (string, error) {
			return executeWebSearch(ctx, deps, args)
		},
		Schema: tools.ToolSchema{
			Required: []string{"queries"},
			Properties: map[string]tools.Property{
				"queries": {
					Type:        tools.TypeArray,
					Description: "Search engine queries",
					Items:       &tools.PropertyItems{Type: tools.TypeString},
				},
				"category": {
					Type:        tools.TypeString,
					Description: "Optional label for what is being researched",
				},
				"ingest": {
					Type:        tools.TypeBoolean,
					Description: "Add fetched pages to the knowledge base (default: true)",
					Default:     true,
				},
			},
		},
	}
}

func executeWebSearch(ctx context.Context, deps Deps, args map[string]any) (string, error) {
	in := SearchInput{
		Queries:  tools.StringSlice(args, "queries"),
		Category: tools.String(args, "category", ""),
	}
	logging.ResearchDebug("Web search: queries=%v", in.Queries)

	out, err := deps.Search.Run(ctx, in)
	if err != nil {
		return "", fmt.Errorf("search failed: %w", err)
	}
	if deps.OnSearch != nil {
		deps.OnSearch(out)
	}

	ingest, _ := args["ingest"].(bool)
	if ingest && deps.Knowledge != nil && deps.Splitter != nil && len(out.Fetched()) > 0 {
		ids, err := deps.Knowledge.AddSearchResults(ctx, out.StoreResults(), deps.Splitter)
		if err != nil {
			logging.ResearchWarn("Failed to ingest search results: %v", err)
		} else {
			logging.Research("Ingested %d chunks from web search", len(ids))
		}
	}

	return FormatSearchOutput(out), nil
}

// FormatSearchOutput renders results as markdown for the model.
func FormatSearchOutput(out SearchOutput) string {
	if len(out.Results) == 0 {
		return "No results found."
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("# Search Results (%d)\n\n", len(out.Results)))
	for i, r := range out.Results {
		sb.WriteString(fmt.Sprintf("## %d. %s\n", i+1, r.Title))
		sb.WriteString(fmt.Sprintf("**URL:** %s\n", r.URL))
		sb.WriteString(fmt.Sprintf("**Query:** %s\n", r.Query))
		if r.Content == nil {
			sb.WriteString("\n[page could not be fetched]\n")
		} else {
			sb.WriteString("\n" + truncate(*r.Content, snippetLen) + "\n")
		}
		sb.WriteString("\n---\n\n")
	}
	return strings.TrimSpace(sb.String())
}

// WebFetchTool returns a tool for fetching one web page as text.
func WebFetchTool(f Fetcher) *tools.Tool {
	return &tools.Tool{
		Name:        "web_fetch",
		Description: "Fetch a web page and return its title and readable text",
		Category:    tools.CategoryResearch,
		Priority:    70,
		Execute: func(ctx context.Context, args map[string]any) (string, error) {
			url := tools.String(args, "url", "")
			maxLength := tools.Int(args, "max_length", 20000)

			page, err := f.Fetch(ctx, url)
			if err != nil {
				return "", err
			}
			logging.Research("Web fetch completed: %s (%d chars)", url, len(page.Text))
			return fmt.Sprintf("# %s\n\n%s", page.Title, truncate(page.Text, maxLength)), nil
		},
		Schema: tools.ToolSchema{
			Required: []string{"url"},
			Properties: map[string]tools.Property{
				"url": {
					Type:        tools.TypeString,
					Description: "The URL to fetch",
				},
				"max_length": {
					Type:        tools.TypeInteger,
					Description: "Maximum content length in characters (default: 20000)",
					Default:     20000,
				},
			},
		},
	}
}

// KnowledgeQueryTool returns a tool for semantic lookups in the knowledge base.
func KnowledgeQueryTool(kb Knowledge, defaultN int) *tools.Tool {
	if defaultN <= 0 {
		defaultN = 5
	}
	return &tools.Tool{
		Name:        "knowledge_query",
		Description: "Search the coaching knowledge base for passages relevant to a query",
		Category:    tools.CategoryKnowledge,
		Priority:    80,
		Execute: func(ctx context.Context, args map[string]any) (string, error) {
			query := tools.String(args, "query", "")
			n := tools.Int(args, "n_results", defaultN)
			var where map[string]string
			if raw, ok := args["where"].(map[string]any); ok {
				where = make(map[string]string, len(raw))
				for k, v := range raw {
					where[k] = fmt.Sprint(v)
				}
			}

			res, err := kb.Query(ctx, query, n, where)
			if err != nil {
				return "", err
			}
			return FormatChunks(res), nil
		},
		Schema: tools.ToolSchema{
			Required: []string{"query"},
			Properties: map[string]tools.Property{
				"query": {
					Type:        tools.TypeString,
					Description: "What to look for",
				},
				"n_results": {
					Type:        tools.TypeInteger,
					Description: fmt.Sprintf("Number of passages (default: %d)", defaultN),
					Default:     defaultN,
				},
				"where": {
					Type:        tools.TypeObject,
					Description: "Optional exact-match metadata filter, e.g. {\"source\": \"book\"}",
				},
			},
		},
	}
}

// FormatChunks renders knowledge base results for the model.
func FormatChunks(res store.QueryResult) string {
	if len(res.Results) == 0 {
		return "No matching passages."
	}
	var sb strings.Builder
	for i, c := range res.Results {
		label := c.Metadata["title"]
		if label == "" {
			label = c.ID
		}
		sb.WriteString(fmt.Sprintf("[%d] %s (distance %.3f)\n", i+1, label, c.Distance))
		if u := c.Metadata["url"]; u != "" {
			sb.WriteString("URL: " + u + "\n")
		}
		sb.WriteString(c.Text)
		sb.WriteString("\n\n")
	}
	return strings.TrimSpace(sb.String())
}

// truncate cuts s to at most n bytes without splitting a rune.
func truncate(s string, n int) string {
	if n <= 0 || len(s) <= n {
		return s
	}
	cut := n
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "\n\n[...truncated...]"
}
