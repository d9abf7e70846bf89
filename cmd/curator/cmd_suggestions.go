package main

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
)

// suggestionsCmd prints persisted suggestions for one file.
var suggestionsCmd = &cobra.Command{
	Use:   "suggestions [path]",
	Short: "Show stored suggestions for a file",
	Long: `Prints every persisted suggestion for the given file, grouped by
analysis kind and ordered by rank.`,
	Args: cobra.ExactArgs(1),
	RunE: runSuggestions,
}

func runSuggestions(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	path, err := filepath.Abs(args[0])
	if err != nil {
		return err
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	st, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	file, err := st.GetFileByPath(ctx, path)
	if err != nil {
		return fmt.Errorf("%s is not indexed; run `curator analyze` or `curator watch` first", path)
	}

	suggestions, err := st.GetSuggestionsByFile(ctx, file.ID)
	if err != nil {
		return err
	}
	if len(suggestions) == 0 {
		fmt.Printf("No suggestions stored for %s.\n", path)
		return nil
	}

	fmt.Printf("%s (%d bytes)\n", file.Path, file.SizeBytes)
	var lastKind string
	for _, sg := range suggestions {
		if string(sg.Kind) != lastKind {
			lastKind = string(sg.Kind)
			fmt.Printf("\n%s:\n", sg.Kind)
		}
		marker := " "
		if sg.Recommended {
			marker = "*"
		}
		fmt.Printf("  %s %d. %s (confidence %d, quality %.2f, %s)\n",
			marker, sg.Rank, sg.Value, sg.AdjustedConfidence, sg.QualityScore, sg.Model)
		if sg.Reasoning != "" {
			fmt.Printf("       %s\n", sg.Reasoning)
		}
		if sg.Flagged() {
			fmt.Printf("       flags: %v\n", sg.Flags)
		}
	}
	return nil
}
