package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"docsearch/internal/retrieval"
)

const snippetChars = 240

var (
	searchK       int
	searchSources []string
	searchJSON    bool
)

var searchCmd = &cobra.Command{
	Use:   "search [query]",
	Short: "Search indexed documents",
	Long: `Embeds the query and returns the closest chunks by vector distance.
Use --source to restrict results to documents whose name contains the given text.`,
	Args: cobra.ExactArgs(1),
	RunE: runSearch,
}

func init() {
	searchCmd.Flags().IntVarP(&searchK, "top-k", "k", 0, "number of results (0 uses SEARCH_DEFAULT_K)")
	searchCmd.Flags().StringSliceVarP(&searchSources, "source", "s", nil, "restrict to sources containing this text (repeatable)")
	searchCmd.Flags().BoolVar(&searchJSON, "json", false, "output results as JSON")
	rootCmd.AddCommand(searchCmd)
}

func runSearch(cmd *cobra.Command, args []string) error {
	if retriever == nil {
		return errors.New("search service not configured")
	}

	results, err := retriever.Search(cmd.Context(), args[0], searchK, searchSources)
	if err != nil {
		return fmt.Errorf("search failed: %w", err)
	}

	if searchJSON {
		data, err := json.MarshalIndent(results, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal results: %w", err)
		}
		cmd.Println(string(data))
		return nil
	}
	printResults(cmd, results)
	return nil
}

func printResults(cmd *cobra.Command, results []retrieval.SearchResult) {
	if len(results) == 0 {
		cmd.Println("No results found.")
		return
	}

	cmd.Println("Results:")
	cmd.Println()
	for i, r := range results {
		if r.Score != nil {
			cmd.Printf("  [%d] %s p.%d (%.3f)\n", i+1, r.Source, r.Page, *r.Score)
		} else {
			cmd.Printf("  [%d] %s p.%d\n", i+1, r.Source, r.Page)
		}
		cmd.Printf("      %s\n", snippet(r.Text))
		cmd.Println()
	}
}

func snippet(text string) string {
	text = strings.Join(strings.Fields(text), " ")
	runes := []rune(text)
	if len(runes) <= snippetChars {
		return text
	}
	return string(runes[:snippetChars]) + "..."
}
