package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"curator/internal/inference"
)

var (
	modelsSetMain string
	modelsSetSub  string
)

// modelsCmd lists daemon models and manages routing preferences.
var modelsCmd = &cobra.Command{
	Use:   "models",
	Short: "List available models and manage routing preferences",
	Long: `Lists the models the local inference daemon can serve, together
with their estimated memory footprints.

The main model serves rename and classification tasks; the sub model
serves summaries and metadata extraction.

Example:
  curator models
  curator models --set-main qwen2.5:14b --set-sub llama3.2:3b`,
	RunE: runModels,
}

func init() {
	modelsCmd.Flags().StringVar(&modelsSetMain, "set-main", "", "Persist the main model preference")
	modelsCmd.Flags().StringVar(&modelsSetSub, "set-sub", "", "Persist the sub model preference")
}

func runModels(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	if modelsSetMain != "" || modelsSetSub != "" {
		st, err := openStore(cfg)
		if err != nil {
			return err
		}
		defer st.Close()

		prefs, err := st.GetModelPreferences(ctx)
		if err != nil {
			return err
		}
		if modelsSetMain != "" {
			prefs.Main = modelsSetMain
		}
		if modelsSetSub != "" {
			prefs.Sub = modelsSetSub
		}
		if err := st.SetModelPreferences(ctx, prefs); err != nil {
			return err
		}
		fmt.Printf("Preferences saved: main=%s sub=%s\n", prefs.Main, prefs.Sub)
		return nil
	}

	client := inference.NewOllamaClient(cfg.Inference.Endpoint,
		time.Duration(cfg.Inference.RequestTimeoutMs)*time.Millisecond)
	models, err := client.ListModels(ctx)
	if err != nil {
		return fmt.Errorf("failed to list models from %s: %w", cfg.Inference.Endpoint, err)
	}

	if len(models) == 0 {
		fmt.Println("No models installed on the daemon.")
		return nil
	}

	estimator := inference.NewEstimator(client, cfg.Scheduler.SafetyFactor)
	fmt.Printf("%-30s %-10s %-12s %s\n", "MODEL", "PARAMS", "QUANT", "EST. MEMORY")
	for _, m := range models {
		footprint := "?"
		if mb, err := estimator.FootprintMB(ctx, m.Name); err == nil {
			footprint = fmt.Sprintf("%d MiB", mb)
		}
		fmt.Printf("%-30s %-10s %-12s %s\n", m.Name, m.ParameterSize, m.Quantization, footprint)
	}
	return nil
}
