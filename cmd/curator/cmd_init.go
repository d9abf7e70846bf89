package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"curator/internal/config"
)

// initCmd writes the default configuration into the workspace.
var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize curator in the current workspace",
	Long: `Creates the .curator/ directory with a default config.yaml and an
empty database. Edit the config to point at your inference daemon and
preferred models, then run ` + "`curator analyze`" + `.`,
	RunE: runInit,
}

func runInit(cmd *cobra.Command, args []string) error {
	path := filepath.Join(workspace, ".curator", "config.yaml")
	if _, err := os.Stat(path); err == nil {
		fmt.Printf("Already initialized: %s exists.\n", path)
		return nil
	}

	cfg := config.DefaultConfig()
	if err := config.Save(workspace, cfg); err != nil {
		return err
	}

	st, err := openStore(cfg)
	if err != nil {
		return err
	}
	if err := st.Close(); err != nil {
		return err
	}

	fmt.Printf("Initialized curator workspace at %s\n", filepath.Join(workspace, ".curator"))
	fmt.Printf("  config:   %s\n", path)
	fmt.Printf("  database: %s\n", filepath.Join(workspace, cfg.Store.DatabasePath))
	fmt.Printf("  endpoint: %s\n", cfg.Inference.Endpoint)
	return nil
}
