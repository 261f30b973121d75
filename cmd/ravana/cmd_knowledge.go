package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/BenDundee/ravana/internal/orchestrator"
	"github.com/BenDundee/ravana/internal/tools/research"
)

// ingestCmd rebuilds the knowledge base
var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Recreate the knowledge base from data/processed",
	Args:  cobra.NoArgs,
	RunE:  runIngest,
}

// queryCmd queries the knowledge base
var queryCmd = &cobra.Command{
	Use:   "query [text]",
	Short: "Query the knowledge base",
	Long: `Embeds the text and prints the nearest chunks.

Example:
  ravana query "how do I give feedback to my manager"`,
	Args: cobra.MinimumNArgs(1),
	RunE: runQuery,
}

// searchCmd runs a web search
var searchCmd = &cobra.Command{
	Use:   "search [query]...",
	Short: "Search the web and fetch the top pages",
	Long: `Runs each query against the search engine, fetches the top results,
and prints them. With --ingest the pages are added to the knowledge base.

Example:
  ravana search "situational leadership" "delegation poker"`,
	Args: cobra.MinimumNArgs(1),
	RunE: runSearch,
}

var (
	queryResults int
	queryWhere   []string
	searchIngest bool
)

func init() {
	queryCmd.Flags().IntVarP(&queryResults, "results", "n", 0, "Number of results (default: db_results_per_query)")
	queryCmd.Flags().StringSliceVar(&queryWhere, "where", nil, "Metadata filter key=value (repeatable)")
	searchCmd.Flags().BoolVar(&searchIngest, "ingest", false, "Add fetched pages to the knowledge base")
}

func runIngest(cmd *cobra.Command, args []string) error {
	ctx, cancel := commandContext(cmd)
	defer cancel()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	splitter, err := orchestrator.NewSplitter(cfg.Data())
	if err != nil {
		return err
	}
	kb, err := orchestrator.OpenKnowledge(ctx, cfg, nil, true)
	if err != nil {
		return err
	}
	defer kb.Close()

	n, err := orchestrator.Ingest(ctx, kb, cfg.DataFiles, splitter)
	if err != nil {
		return err
	}
	logger.Info("Ingest complete", zap.Int("chunks", n), zap.String("path", kb.Path()))
	fmt.Fprintf(cmd.OutOrStdout(), "Ingested %d chunks from %d files into %s\n", n, len(cfg.DataFiles), kb.Path())
	return nil
}

func runQuery(cmd *cobra.Command, args []string) error {
	ctx, cancel := commandContext(cmd)
	defer cancel()

	where, err := parseWhere(queryWhere)
	if err != nil {
		return err
	}
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	n := queryResults
	if n <= 0 {
		n = cfg.Data().ResultsPerQuery
	}

	kb, err := orchestrator.OpenKnowledge(ctx, cfg, nil, false)
	if err != nil {
		return err
	}
	defer kb.Close()

	text := strings.Join(args, " ")
	logger.Info("Querying knowledge base", zap.String("text", text), zap.Int("n", n))
	res, err := kb.Query(ctx, text, n, where)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if len(res.Results) == 0 {
		fmt.Fprintln(out, "No results found.")
		return nil
	}
	fmt.Fprintln(out, research.FormatChunks(res))
	return nil
}

func runSearch(cmd *cobra.Command, args []string) error {
	ctx, cancel := commandContext(cmd)
	defer cancel()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	data := cfg.Data()
	fetcher, closeFetcher := orchestrator.NewFetcher(data)
	defer closeFetcher()

	tool := research.NewSearchTool(research.NewDuckDuckGo(), fetcher, data.SearchResultsPerQuery)
	out, err := tool.Run(ctx, research.SearchInput{Queries: args})
	if err != nil {
		return err
	}
	logger.Info("Search complete",
		zap.Int("results", len(out.Results)),
		zap.Int("fetched", len(out.Fetched())))
	fmt.Fprintln(cmd.OutOrStdout(), research.FormatSearchOutput(out))

	if !searchIngest {
		return nil
	}
	splitter, err := orchestrator.NewSplitter(data)
	if err != nil {
		return err
	}
	kb, err := orchestrator.OpenKnowledge(ctx, cfg, nil, false)
	if err != nil {
		return err
	}
	defer kb.Close()
	ids, err := kb.AddSearchResults(ctx, out.StoreResults(), splitter)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Added %d chunks to the knowledge base\n", len(ids))
	return nil
}

// parseWhere turns key=value pairs into a metadata filter.
func parseWhere(pairs []string) (map[string]string, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	where := make(map[string]string, len(pairs))
	for _, p := range pairs {
		k, v, ok := strings.Cut(p, "=")
		if !ok || strings.TrimSpace(k) == "" {
			return nil, fmt.Errorf("invalid filter %q: want key=value", p)
		}
		where[strings.TrimSpace(k)] = strings.TrimSpace(v)
	}
	return where, nil
}
