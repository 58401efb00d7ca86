package cli

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"docsearch/internal/indexer"
)

var (
	buildRebuild bool
	buildJSON    bool
	buildQuiet   bool
)

var buildCmd = &cobra.Command{
	Use:   "build",
	Short: "Index the document directory",
	Long: `Loads every supported document, embeds its chunks and stores them in the collection.
By default only documents not yet indexed are added. With --rebuild the collection is
cleared first and everything is re-indexed.`,
	Args: cobra.NoArgs,
	RunE: runBuild,
}

func init() {
	buildCmd.Flags().BoolVarP(&buildRebuild, "rebuild", "r", false, "clear the collection and re-index everything")
	buildCmd.Flags().BoolVar(&buildJSON, "json", false, "output the build result as JSON")
	buildCmd.Flags().BoolVarP(&buildQuiet, "quiet", "q", false, "do not render progress bars")
	rootCmd.AddCommand(buildCmd)
}

func runBuild(cmd *cobra.Command, _ []string) error {
	if buildRunner == nil {
		return errors.New("index builder not configured")
	}

	var progress indexer.Progress
	if !buildQuiet && !buildJSON && progressEnabled() {
		progress = NewBarProgress(cmd.ErrOrStderr())
	}

	b, err := buildRunner.Run(cmd.Context(), buildRebuild, indexer.TriggerCLI, progress)
	if err != nil {
		return fmt.Errorf("build failed: %w", err)
	}

	if buildJSON {
		data, err := json.MarshalIndent(b, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal build: %w", err)
		}
		cmd.Println(string(data))
	} else {
		printBuild(cmd, b)
	}

	if b.Result != nil && !b.Result.Success {
		return errors.New(b.Result.Error)
	}
	return nil
}

func printBuild(cmd *cobra.Command, b indexer.Build) {
	res := b.Result
	if res == nil {
		cmd.Printf("Build %s: %s\n", b.ID, b.State)
		return
	}
	if !res.Success {
		cmd.Printf("Build %s failed: %s\n", b.ID, res.Error)
		return
	}

	cmd.Println(res.Message)
	cmd.Printf("  Collection:  %s\n", res.CollectionName)
	cmd.Printf("  Model:       %s\n", res.EmbeddingModel)
	cmd.Printf("  Chunks:      %d (%d new)\n", res.TotalChunks, res.NewChunks())
	if len(res.FilesProcessed) > 0 {
		cmd.Println("  Files:")
		for _, f := range res.FilesProcessed {
			cmd.Printf("    %s: %d pages, %d chunks\n", f.Filename, f.Pages, f.Chunks)
		}
	}
	cmd.Printf("  Duration:    %dms\n", res.DurationMS)
}
