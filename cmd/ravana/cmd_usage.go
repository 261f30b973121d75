package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"

	"github.com/spf13/cobra"

	"github.com/BenDundee/ravana/internal/usage"
)

// usageCmd prints recorded token usage
var usageCmd = &cobra.Command{
	Use:   "usage",
	Short: "Show LLM token usage recorded by the server",
	Args:  cobra.NoArgs,
	RunE:  showUsage,
}

func init() {
	rootCmd.AddCommand(usageCmd)
}

func showUsage(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	path := filepath.Join(cfg.DBDirectory(), usage.FileName)
	data, err := usage.Load(path)
	out := cmd.OutOrStdout()
	if errors.Is(err, os.ErrNotExist) {
		fmt.Fprintln(out, "No usage recorded yet.")
		return nil
	}
	if err != nil {
		return err
	}

	s := data.Stats
	fmt.Fprintf(out, "Total: %d calls, %d tokens (%d in / %d out)\n", s.Total.Calls, s.Total.Total, s.Total.Input, s.Total.Output)
	printCounts(out, "By agent", s.ByAgent)
	printCounts(out, "By model", s.ByModel)
	return nil
}

func printCounts(w io.Writer, title string, m map[string]usage.TokenCounts) {
	if len(m) == 0 {
		return
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	fmt.Fprintf(w, "\n%s:\n", title)
	for _, k := range keys {
		c := m[k]
		fmt.Fprintf(w, "  %-28s %6d calls %10d tokens\n", k, c.Calls, c.Total)
	}
}
