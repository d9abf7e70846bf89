package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"curator/internal/types"
	"curator/internal/watcher"
)

var (
	analyzeKinds      []string
	analyzeModel      string
	analyzeBackground bool
)

// analyzeCmd runs a one-shot analysis over a directory.
var analyzeCmd = &cobra.Command{
	Use:   "analyze [path]",
	Short: "Analyze files under a path and store suggestions",
	Long: `Indexes the files under the given path (default: the workspace),
generates one inference task per file and analysis kind, and prints
suggestions as they arrive.

Available kinds: rename-suggestions, classification, content-summary,
metadata-extraction.

Example:
  curator analyze ~/Downloads --kinds rename-suggestions,classification`,
	Args: cobra.MaximumNArgs(1),
	RunE: runAnalyze,
}

func init() {
	analyzeCmd.Flags().StringSliceVar(&analyzeKinds, "kinds", []string{
		string(types.KindRenameSuggestions), string(types.KindClassification),
	}, "Analysis kinds to run")
	analyzeCmd.Flags().StringVar(&analyzeModel, "model", "", "Model override for every kind")
	analyzeCmd.Flags().BoolVar(&analyzeBackground, "background", false, "Run at background priority")
}

func runAnalyze(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	root := workspace
	if len(args) > 0 {
		abs, err := filepath.Abs(args[0])
		if err != nil {
			return err
		}
		root = abs
	}

	kinds := make([]types.AnalysisKind, 0, len(analyzeKinds))
	for _, k := range analyzeKinds {
		kind := types.AnalysisKind(k)
		if !kind.Valid() {
			return fmt.Errorf("unknown analysis kind %q", k)
		}
		kinds = append(kinds, kind)
	}

	p, err := buildPipeline(ctx)
	if err != nil {
		return err
	}
	defer p.shutdown()

	// Index the tree first so the request can resolve its files.
	w, err := watcher.NewWatcher(p.store, []string{root})
	if err != nil {
		return err
	}
	indexed, err := w.Scan(ctx)
	if err != nil {
		return fmt.Errorf("failed to index %s: %w", root, err)
	}
	fmt.Printf("Indexed %d files under %s\n", indexed, root)

	done := make(chan error, 1)
	p.service.OnPreviewUpdate(func(evt types.PreviewUpdateEvent) {
		printPreview(evt)
	})
	p.service.OnAnalysisComplete(func(res types.SessionResult) {
		fmt.Printf("\nAnalysis complete: %d/%d succeeded, %d failed (avg %dms per task)\n",
			res.Successful, res.TotalTasks, res.Failed, res.AvgExecutionMs)
		for _, msg := range res.Errors {
			fmt.Printf("  error: %s\n", msg)
		}
		done <- nil
	})
	p.service.OnAnalysisError(func(evt types.AnalysisErrorEvent) {
		done <- fmt.Errorf("analysis failed (%s): %s", evt.Kind, evt.Reason)
	})
	p.service.OnAnalysisCancelled(func(string) {
		done <- fmt.Errorf("analysis cancelled")
	})
	p.service.OnEmergencyMode(func(evt types.EmergencyModeEvent) {
		if evt.Entered {
			fmt.Printf("\nEmergency mode: %s (cooling down for %dms)\n", evt.Reason, evt.CooldownMs)
		}
	})
	p.service.OnProgressUpdate(func(prog types.Progress) {
		if verbose {
			fmt.Printf("  progress: %d/%d processed, eta %s\n",
				prog.ProcessedFiles, prog.TotalFiles, prog.ETARemaining)
		}
	})
	p.manager.OnSystemHealth(func(evt types.SystemHealthEvent) {
		logger.Info("Scheduler health changed",
			zap.String("health", evt.Health),
			zap.Int("slots", evt.SlotsTotal),
			zap.Int64("budget_mb", evt.BudgetMB))
	})

	if err := p.start(ctx); err != nil {
		return err
	}

	requestID, err := p.service.StartAnalysis(ctx, types.AnalysisRequest{
		RootPath:      root,
		Kinds:         kinds,
		Interactive:   !analyzeBackground,
		ModelOverride: analyzeModel,
	})
	if err != nil {
		return err
	}
	logger.Info("Analysis started", zap.String("request_id", requestID), zap.Int("files", indexed))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	select {
	case err := <-done:
		return err
	case <-sigCh:
		fmt.Println("\nCancelling...")
		p.service.CancelAnalysis(requestID, "interrupted")
		<-done
		return nil
	case <-ctx.Done():
		p.service.CancelAnalysis(requestID, "timed out")
		return ctx.Err()
	}
}

func printPreview(evt types.PreviewUpdateEvent) {
	fmt.Printf("[%d/%d] %s (%s):\n",
		evt.Progress.ProcessedFiles, evt.Progress.TotalFiles, evt.FileID, evt.Kind)
	for _, sg := range evt.Suggestions {
		marker := " "
		if sg.Recommended {
			marker = "*"
		}
		flags := ""
		if sg.Flagged() {
			flags = fmt.Sprintf(" [flags: %v]", sg.Flags)
		}
		fmt.Printf("  %s %d. %s (confidence %d)%s\n", marker, sg.Rank, sg.Value, sg.AdjustedConfidence, flags)
	}
}
