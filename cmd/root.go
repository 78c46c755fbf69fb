package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/pable/go-cricket-wpa/internal/config"
	"github.com/pable/go-cricket-wpa/internal/lookup"
	"github.com/pable/go-cricket-wpa/internal/matchcache"
	"github.com/pable/go-cricket-wpa/internal/model"
	"github.com/pable/go-cricket-wpa/internal/storage"
	"github.com/pable/go-cricket-wpa/internal/telemetry"
)

var (
	dbPath     string
	configPath string
	logLevel   string

	cfg *config.Config
	log *logrus.Logger
)

var rootCmd = &cobra.Command{
	Use:   "chasewpa",
	Short: "Cricket chase win probability and WPA tool",
	Long: "Build empirical win-probability tables for limited-overs chases from ball-by-ball history,\n" +
		"look up the chasing side's chances in any state, and attribute Win Probability Added\n" +
		"to every second-innings delivery.",
	SilenceUsage:      true,
	PersistentPreRunE: setup,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "", "path to SQLite database (default from config)")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to YAML config file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "debug, info, warn or error (default from config)")

	rootCmd.AddCommand(rebuildCmd)
	rootCmd.AddCommand(lookupCmd)
	rootCmd.AddCommand(wpaCmd)
	rootCmd.AddCommand(bucketsCmd)
	rootCmd.AddCommand(parCmd)
	rootCmd.AddCommand(runsCmd)
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(sqlCmd)
	rootCmd.AddCommand(dropCmd)
}

// setup loads configuration and the logger; flags win over file and env.
func setup(cmd *cobra.Command, args []string) error {
	c, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if dbPath != "" {
		c.DBPath = dbPath
	}
	if logLevel != "" {
		c.LogLevel = logLevel
	}
	cfg = c
	log = telemetry.Init(cfg.LogLevel)
	return nil
}

func openStore() (*storage.DB, error) {
	if err := os.MkdirAll(filepath.Dir(cfg.DBPath), 0755); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}
	db, err := storage.Open(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}
	return db, nil
}

func newLookup(db *storage.DB) *lookup.Service {
	l := log.WithField("component", "lookup")
	svc := lookup.NewDefault(db, cfg.BandingRules(), cfg.Lookup.MinSamples, l)
	l.WithField("chain", svc.Sources()).Debug("lookup: chain ready")
	return svc
}

func newCache(db *storage.DB) *matchcache.Cache {
	return matchcache.New(db, cfg.Cache.TTL)
}

// parseDay parses a YYYY-MM-DD flag; empty means today.
func parseDay(s string) (time.Time, error) {
	if s == "" {
		now := time.Now()
		return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC), nil
	}
	t, err := time.Parse(model.DateLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q (want YYYY-MM-DD): %w", s, err)
	}
	return t, nil
}
