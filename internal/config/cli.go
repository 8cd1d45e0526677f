package config

import (
	"flag"
	"fmt"
	"os"
)

// CLIConfig holds the configuration parsed from command line arguments.
type CLIConfig struct {
	Command        string
	ConfigDir      string
	CacheBudget    int64
	HistoryLimit   int
	NonInteractive bool
	Verbose        bool
}

// ParseCLI parses command line arguments and environment variables.
func ParseCLI() (*CLIConfig, error) {
	if len(os.Args) < 2 {
		return nil, fmt.Errorf("usage: davsync <command> [flags]\nCommands: run, sync, status, conflicts, cache, history")
	}

	cmd := os.Args[1]
	fs := flag.NewFlagSet(cmd, flag.ExitOnError)

	cfg := &CLIConfig{Command: cmd}

	fs.StringVar(&cfg.ConfigDir, "config-dir", "", "Directory containing config.json (defaults to ~/.davsync)")
	fs.Int64Var(&cfg.CacheBudget, "cache-budget", 0, "Override the cache size budget in bytes (0 = policy-driven)")
	fs.IntVar(&cfg.HistoryLimit, "limit", 20, "Number of history entries to show")
	fs.BoolVar(&cfg.NonInteractive, "non-interactive", false, "Disable interactive conflict resolution prompts")
	fs.BoolVar(&cfg.Verbose, "verbose", false, "Enable debug logging")

	if err := fs.Parse(os.Args[2:]); err != nil {
		return nil, err
	}

	switch cmd {
	case "run", "sync", "status", "conflicts", "cache", "history":
	default:
		return nil, fmt.Errorf("unknown command %q\nCommands: run, sync, status, conflicts, cache, history", cmd)
	}

	if cfg.ConfigDir == "" {
		dir, err := DataDir()
		if err != nil {
			return nil, fmt.Errorf("failed to resolve data dir: %v", err)
		}
		cfg.ConfigDir = dir
	}

	return cfg, nil
}
