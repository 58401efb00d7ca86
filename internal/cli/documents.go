package cli

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
)

var (
	listJSON  bool
	statsJSON bool
)

var listCmd = &cobra.Command{
	Use:   "list [filter]",
	Short: "List indexed documents",
	Long:  `Lists the source names in the collection, optionally only those containing filter.`,
	Args:  cobra.MaximumNArgs(1),
	RunE:  runList,
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show collection statistics",
	Args:  cobra.NoArgs,
	RunE:  runStats,
}

func init() {
	listCmd.Flags().BoolVar(&listJSON, "json", false, "output as JSON")
	statsCmd.Flags().BoolVar(&statsJSON, "json", false, "output as JSON")
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(statsCmd)
}

func runList(cmd *cobra.Command, args []string) error {
	if retriever == nil {
		return errors.New("search service not configured")
	}

	filter := ""
	if len(args) > 0 {
		filter = args[0]
	}
	docs, err := retriever.ListDocuments(cmd.Context(), filter)
	if err != nil {
		return fmt.Errorf("failed to list documents: %w", err)
	}
	if docs == nil {
		docs = []string{}
	}

	if listJSON {
		return printJSON(cmd, docs)
	}
	if len(docs) == 0 {
		cmd.Println("No documents found.")
		return nil
	}
	for _, d := range docs {
		cmd.Println(d)
	}
	return nil
}

func runStats(cmd *cobra.Command, _ []string) error {
	if retriever == nil {
		return errors.New("search service not configured")
	}

	stats, err := retriever.Stats(cmd.Context())
	if err != nil {
		return fmt.Errorf("failed to get stats: %w", err)
	}

	if statsJSON {
		return printJSON(cmd, stats)
	}
	cmd.Printf("Collection:  %s\n", stats.CollectionName)
	cmd.Printf("Model:       %s\n", stats.EmbeddingModel)
	cmd.Printf("Chunks:      %d\n", stats.TotalChunks)
	cmd.Printf("Documents:   %d\n", len(stats.Sources))
	return nil
}

func printJSON(cmd *cobra.Command, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal output: %w", err)
	}
	cmd.Println(string(data))
	return nil
}
