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

	"curator/internal/watcher"
)

// watchCmd keeps the file index current until interrupted.
var watchCmd = &cobra.Command{
	Use:   "watch [path...]",
	Short: "Index paths and keep the index in sync with filesystem changes",
	Long: `Runs an initial scan over each path, then follows filesystem events
to keep the index current. Ctrl-C stops the watcher.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runWatch,
}

func runWatch(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	roots := make([]string, 0, len(args))
	for _, arg := range args {
		abs, err := filepath.Abs(arg)
		if err != nil {
			return err
		}
		roots = append(roots, abs)
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

	w, err := watcher.NewWatcher(st, roots)
	if err != nil {
		return err
	}

	indexed, err := w.Scan(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("Indexed %d files under %d roots, watching for changes...\n", indexed, len(roots))

	if err := w.Start(ctx); err != nil {
		return err
	}
	defer w.Stop()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	<-sigCh

	stats := w.GetStats()
	logger.Info("Watcher stopping",
		zap.Int("indexed", stats.FilesIndexed),
		zap.Int("removed", stats.FilesRemoved),
		zap.Int("errors", stats.Errors))
	fmt.Printf("\nStopped. Indexed %d, removed %d.\n", stats.FilesIndexed, stats.FilesRemoved)
	return nil
}
