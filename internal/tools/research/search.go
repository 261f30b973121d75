package research

import (
	"context"
	"fmt"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/BenDundee/ravana/internal/logging"
	"github.com/BenDundee/ravana/internal/store"
)

// SearchInput is the argument of a multi-query search.
type SearchInput struct {
	Queries  []string `json:"queries"`
	Category string   `json:"category,omitempty"`
}

// Item is one fetched search result. Content is nil when the page could not
// be fetched.
type Item struct {
	URL     string  `json:"url"`
	Title   string  `json:"title"`
	Content *string `json:"content"`
	Query   string  `json:"query"`
}

// SearchOutput holds results in input query order.
type SearchOutput struct {
	Results  []Item `json:"results"`
	Category string `json:"category,omitempty"`
}

// Fetched returns the items that have content.
func (o SearchOutput) Fetched() []Item {
	var out []Item
	for _, it := range o.Results {
		if it.Content != nil {
			out = append(out, it)
		}
	}
	return out
}

// StoreResults converts the output for knowledge base ingestion.
func (o SearchOutput) StoreResults() []store.SearchResult {
	out := make([]store.SearchResult, len(o.Results))
	for i, it := range o.Results {
		out[i] = store.SearchResult{URL: it.URL, Title: it.Title, Content: it.Content, Query: it.Query}
	}
	return out
}

// SearchTool runs several queries at once and fetches the top pages of each.
type SearchTool struct {
	searcher   Searcher
	fetcher    Fetcher
	maxResults int
	// fetchLimit bounds concurrent fetches per query.
	fetchLimit int
}

// NewSearchTool creates a search tool fetching up to maxResults pages per query.
func NewSearchTool(searcher Searcher, fetcher Fetcher, maxResults int) *SearchTool {
	if maxResults <= 0 {
		maxResults = 3
	}
	return &SearchTool{searcher: searcher, fetcher: fetcher, maxResults: maxResults, fetchLimit: 8}
}

// MaxResults returns the per-query page limit.
func (t *SearchTool) MaxResults() int { return t.maxResults }

// Run searches every query concurrently. A query whose search fails
// contributes no items; a page that cannot be fetched yields an item with nil
// Content. Only cancellation of ctx fails the whole run.
func (t *SearchTool) Run(ctx context.Context, in SearchInput) (SearchOutput, error) {
	timer := logging.StartTimer(logging.CategoryResearch, "SearchTool.Run")
	defer timer.Stop()

	var queries []string
	for _, q := range in.Queries {
		if q = strings.TrimSpace(q); q != "" {
			queries = append(queries, q)
		}
	}
	if len(queries) == 0 {
		return SearchOutput{}, fmt.Errorf("at least one query is required")
	}

	perQuery := make([][]Item, len(queries))
	var g errgroup.Group
	for i, q := range queries {
		g.Go(func() error {
			perQuery[i] = t.runQuery(ctx, q)
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return SearchOutput{}, err
	}

	out := SearchOutput{Category: in.Category}
	for _, items := range perQuery {
		out.Results = append(out.Results, items...)
	}
	logging.Research("Search: %d queries -> %d results (%d fetched)", len(queries), len(out.Results), len(out.Fetched()))
	return out, nil
}

func (t *SearchTool) runQuery(ctx context.Context, query string) []Item {
	hits, err := t.searcher.Search(ctx, query, t.maxResults)
	if err != nil {
		logging.ResearchError("Search for %q failed: %v", query, err)
		return nil
	}
	if len(hits) > t.maxResults {
		hits = hits[:t.maxResults]
	}

	items := make([]Item, len(hits))
	var g errgroup.Group
	g.SetLimit(t.fetchLimit)
	for i, h := range hits {
		items[i] = Item{URL: h.URL, Title: h.Title, Query: query}
		g.Go(func() error {
			page, err := t.fetcher.Fetch(ctx, h.URL)
			if err != nil {
				logging.ResearchWarn("Fetch %s failed: %v", h.URL, err)
				return nil
			}
			text := page.Text
			items[i].Content = &text
			if page.Title != "" {
				items[i].Title = page.Title
			}
			return nil
		})
	}
	_ = g.Wait()
	return items
}
