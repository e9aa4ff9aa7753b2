package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"stillalive/internal/config"
	"stillalive/internal/storage"
	logx "stillalive/pkg/logx"
)

var (
	cfgPath    string
	jsonOutput bool
)

func defaultConfigPath() string {
	if s := os.Getenv("STILLALIVE_CONFIG"); s != "" {
		return s
	}
	return "./config.yaml"
}

var rootCmd = &cobra.Command{
	Use:           "stillalive <command>",
	Short:         "Dead man's switch: mails a character's will when its status goes quiet",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", defaultConfigPath(), "path to config file (json or yaml)")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output as JSON")

	rootCmd.AddGroup(
		&cobra.Group{ID: "run", Title: "Runtime:"},
		&cobra.Group{ID: "data", Title: "Data:"},
	)
	cobra.EnableCommandSorting = false

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(sweepCmd)
	rootCmd.AddCommand(relayCmd)
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(characterCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(outboxCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// openStore opens the configured database without starting the app.
func openStore() (*storage.Store, error) {
	cfg, err := config.NewManager(cfgPath).Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	busy, err := config.ParseDurationOrDefault("storage.busy_timeout", cfg.Storage.BusyTimeout, 5*time.Second)
	if err != nil {
		return nil, err
	}
	if cfg.Storage.Path == "" {
		return nil, fmt.Errorf("storage.path is required")
	}
	return storage.Open(storage.Config{Path: cfg.Storage.Path, BusyTimeout: busy}, logx.NewCLI(cfg.Logging.Level, jsonOutput))
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
