package cmd

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/abhisek/drillgate/internal/config"
	"github.com/abhisek/drillgate/internal/store"
)

// cfg is the effective configuration, resolved before any subcommand runs.
var cfg config.Config

var rootCmd = &cobra.Command{
	Use:   "drillgate",
	Short: "Gate hints, resets and destructive commands in hands-on practice",
	Long: "drillgate enforces productive struggle in hands-on technical training: hints unlock only after a\n" +
		"timed struggle and a written log, budgets tighten as the curriculum advances, destructive commands\n" +
		"need a confirmed safety checklist, and steps complete only when their checks pass.",
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		cfg = c
		setupLogging(cfg)
		return nil
	},
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.String("db", "", "Path to SQLite database file (overrides DRILLGATE_DB env var)")
	flags.String("config", "", "Path to TOML config file (default $XDG_CONFIG_HOME/drillgate/config.toml)")
	flags.String("learner", "", "Learner ID (overrides DRILLGATE_LEARNER)")
	flags.Int("phase", 0, "Curriculum week (overrides DRILLGATE_PHASE)")

	rootCmd.AddCommand(policyCmd)
	rootCmd.AddCommand(classifyCmd)
	rootCmd.AddCommand(checklogCmd)
	rootCmd.AddCommand(struggleCmd)
	rootCmd.AddCommand(hintCmd)
	rootCmd.AddCommand(checklistCmd)
	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(resetCmd)
	rootCmd.AddCommand(abandonCmd)
	rootCmd.AddCommand(eventsCmd)
	rootCmd.AddCommand(metricsCmd)
	rootCmd.AddCommand(versionCmd)
}

// loadConfig reads the config file and environment, then applies flag
// overrides. Flags win over everything.
func loadConfig(cmd *cobra.Command) (config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	c, err := config.Load(path)
	if err != nil {
		return c, err
	}
	if v, _ := cmd.Flags().GetString("learner"); v != "" {
		c.Learner = v
	}
	if v, _ := cmd.Flags().GetInt("phase"); v != 0 {
		c.Phase = v
	}
	if v, _ := cmd.Flags().GetString("db"); v != "" {
		c.DBPath = v
	}
	if err := c.Validate(); err != nil {
		return c, err
	}
	return c, nil
}

func setupLogging(c config.Config) {
	opts := &slog.HandlerOptions{Level: c.LogLevel()}
	var h slog.Handler
	if c.Log.Format == "json" {
		h = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		h = slog.NewTextHandler(os.Stderr, opts)
	}
	slog.SetDefault(slog.New(h))
}

// resolveDBPath returns the database path using --db flag or config
// (highest priority), then DRILLGATE_DB env var, then the default XDG path.
func resolveDBPath(c config.Config) (string, error) {
	if c.DBPath != "" {
		return c.DBPath, store.EnsureDir(c.DBPath)
	}
	return store.DefaultDBPath()
}

func openStore(c config.Config) (*store.Store, error) {
	dbPath, err := resolveDBPath(c)
	if err != nil {
		return nil, fmt.Errorf("resolve DB path: %w", err)
	}
	st, err := store.Open(dbPath)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	return st, nil
}
