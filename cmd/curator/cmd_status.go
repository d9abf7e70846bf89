package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"curator/internal/inference"
)

// statusCmd shows daemon health and recent analysis sessions.
var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show daemon health and recent analysis sessions",
	RunE:  runStatus,
}

func runStatus(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	client := inference.NewOllamaClient(cfg.Inference.Endpoint,
		time.Duration(cfg.Inference.RequestTimeoutMs)*time.Millisecond)
	health, err := client.HealthStatus(ctx)
	if err != nil {
		fmt.Printf("Daemon:   unavailable (%v)\n", err)
	} else {
		fmt.Printf("Daemon:   %s (%d models)\n", health.Status, health.ModelCount)
		for _, msg := range health.Messages {
			fmt.Printf("          %s\n", msg)
		}
	}
	fmt.Printf("Endpoint: %s\n", cfg.Inference.Endpoint)
	fmt.Printf("Default:  %s (fallback %s)\n", cfg.Inference.DefaultModel, cfg.Inference.FallbackModel)
	fmt.Printf("Slots:    up to %d concurrent, %.1fx safety factor, %d MiB reserved\n",
		cfg.Scheduler.MaxConcurrentSlots, cfg.Scheduler.SafetyFactor, cfg.Scheduler.OSReservedMB)

	st, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	sessions, err := st.ListRecentSessions(ctx, 10)
	if err != nil {
		return err
	}
	if len(sessions) == 0 {
		fmt.Println("\nNo analysis sessions yet.")
		return nil
	}

	fmt.Println("\nRecent sessions:")
	for _, s := range sessions {
		started := time.Unix(s.StartedAt, 0).Format("2006-01-02 15:04")
		fmt.Printf("  %s  %-9s %d/%d completed, %d failed\n",
			started, s.Status, s.Completed, s.TotalFiles, s.Failed)
	}
	return nil
}
