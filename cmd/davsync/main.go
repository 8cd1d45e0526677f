package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/jonboulle/clockwork"
	"github.com/spf13/afero"
	"go.uber.org/zap"

	"davsync/internal/adapter/cache"
	"davsync/internal/adapter/device"
	"davsync/internal/adapter/localfs"
	"davsync/internal/adapter/state"
	"davsync/internal/adapter/ui"
	"davsync/internal/adapter/webdav"
	"davsync/internal/config"
	"davsync/internal/domain"
	"davsync/internal/pkg/retry"
	"davsync/internal/usecase"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cli, err := config.ParseCLI()
	if err != nil {
		return err
	}

	cfg, err := config.Load(cli.ConfigDir)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	log, err := newLogger(cfg.Verbose || cli.Verbose)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer log.Sync() //nolint:errcheck

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	clock := clockwork.NewRealClock()

	store, err := state.Open(cfg.DatabasePath)
	if err != nil {
		return fmt.Errorf("failed to open state database: %w", err)
	}
	defer store.Close()

	monitor := device.NewMonitor(domain.DeviceState{
		Class:        domain.DeviceClass(cfg.DeviceClass),
		Network:      domain.NetworkEthernet,
		BatteryLevel: 100,
		Charging:     true,
		Foreground:   true,
	}, log)

	budget := usecase.ProfileFor(monitor.State()).MaxCacheSize
	if cli.CacheBudget > 0 {
		budget = cli.CacheBudget
	}

	cacheStore, err := cache.New(afero.NewOsFs(), cfg.CacheDir, budget, clock, store, log)
	if err != nil {
		return fmt.Errorf("failed to open cache: %w", err)
	}

	remote := webdav.New(cfg.ServerURL, cfg.Username,
		webdav.StaticToken(cfg.AccessToken), retry.NewPolicy(clock, log), log)

	var tracker *localfs.Tracker
	var local usecase.LocalSource
	if cfg.SyncFolder != "" {
		tracker = localfs.NewTracker(afero.NewOsFs(), cfg.SyncFolder,
			localfs.NewMatcher(cfg.IgnorePatterns), cacheStore, clock, log)
		local = tracker
	}

	var sched *usecase.Scheduler
	engine := usecase.NewEngine(remote, cacheStore, store, local,
		func() bool { return monitor.State().Network.Online() },
		func() domain.ResourceProfile { return sched.Profile() },
		clock, log)
	sched = usecase.NewScheduler(engine, monitor, cacheStore, store, clock, log)
	if cli.CacheBudget > 0 {
		cacheStore.SetBudget(cli.CacheBudget)
	}

	console := ui.NewConsoleUI(cli.NonInteractive)

	switch cli.Command {
	case "run":
		return runDaemon(ctx, cfg, sched, tracker, log)
	case "sync":
		return runOnce(ctx, engine)
	case "status":
		return printStatus(engine, cacheStore, store)
	case "conflicts":
		return resolveConflicts(ctx, cli, engine, console)
	case "cache":
		return printCache(cacheStore, store)
	case "history":
		return printHistory(store, cli.HistoryLimit)
	default:
		return fmt.Errorf("unknown command: %s", cli.Command)
	}
}

func newLogger(verbose bool) (*zap.Logger, error) {
	if verbose {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

// runDaemon keeps the scheduler (and, when configured, the filesystem
// watcher) running until the process is signalled to stop.
func runDaemon(ctx context.Context, cfg *config.Config, sched *usecase.Scheduler, tracker *localfs.Tracker, log *zap.Logger) error {
	if cfg.WatchFS && tracker != nil {
		go func() {
			if err := tracker.Watch(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.Error("filesystem watcher stopped", zap.Error(err))
			}
		}()
	}

	log.Info("scheduler started", zap.String("mode", string(sched.Profile().Mode)))
	if err := sched.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func runOnce(ctx context.Context, engine *usecase.Engine) error {
	if err := engine.RunCycle(ctx); err != nil {
		return err
	}
	status := engine.Status()
	fmt.Printf("Sync complete: %d applied, %d pushed, %d failed, %d conflicts\n",
		status.Applied, status.Pushed, status.Failed, status.Conflicts)
	return nil
}

func printStatus(engine *usecase.Engine, cacheStore *cache.Store, store *state.Store) error {
	status := engine.Status()
	fmt.Printf("State:      %s\n", status.State)

	last, err := store.LastSyncTime()
	if err != nil {
		return err
	}
	if last.IsZero() {
		fmt.Println("Last sync:  never")
	} else {
		fmt.Printf("Last sync:  %s\n", last.Format("2006-01-02 15:04:05"))
	}

	pending, err := store.PendingChanges()
	if err != nil {
		return err
	}
	fmt.Printf("Pending:    %d\n", len(pending))

	conflicts, err := store.Conflicts()
	if err != nil {
		return err
	}
	fmt.Printf("Conflicts:  %d\n", len(conflicts))

	nonPinned, pinned := cacheStore.Usage()
	fmt.Printf("Cache:      %s evictable, %s offline-pinned\n",
		formatBytes(nonPinned), formatBytes(pinned))
	if pinned > cacheStore.Budget() {
		fmt.Println("Warning:    offline files alone exceed the cache budget; some may be too large for it")
	}

	if status.LastError != "" {
		fmt.Printf("Last error: %s\n", status.LastError)
	}
	return nil
}

func resolveConflicts(ctx context.Context, cli *config.CLIConfig, engine *usecase.Engine, console *ui.ConsoleUI) error {
	conflicts, err := engine.Conflicts()
	if err != nil {
		return err
	}
	if len(conflicts) == 0 {
		fmt.Println("No unresolved conflicts.")
		return nil
	}

	if cli.NonInteractive {
		for _, c := range conflicts {
			fmt.Printf("%s  [%s]  local %s / remote %s\n",
				c.ItemPath, c.Type,
				c.LocalModified.Format("2006-01-02 15:04"),
				c.RemoteModified.Format("2006-01-02 15:04"))
		}
		return nil
	}

	for len(conflicts) > 0 {
		conflict, err := console.SelectConflict(conflicts)
		if err != nil {
			return err
		}
		resolution, err := console.SelectResolution(conflict)
		if err != nil {
			return err
		}
		if resolution != domain.SkipItem {
			ok, err := console.Confirm(fmt.Sprintf("Apply %q to %s", resolution, conflict.ItemPath))
			if err != nil {
				return err
			}
			if !ok {
				continue
			}
		}
		if err := engine.ResolveConflict(ctx, conflict.ID, resolution); err != nil {
			return fmt.Errorf("failed to resolve %s: %w", conflict.ItemPath, err)
		}
		fmt.Printf("Resolved %s (%s)\n", conflict.ItemPath, resolution)

		if conflicts, err = engine.Conflicts(); err != nil {
			return err
		}
	}
	return nil
}

func printCache(cacheStore *cache.Store, store *state.Store) error {
	items, err := store.CachedItems()
	if err != nil {
		return err
	}
	nonPinned, pinned := cacheStore.Usage()
	fmt.Printf("Cached items: %d\n", len(items))
	fmt.Printf("Usage:        %s evictable, %s offline-pinned\n",
		formatBytes(nonPinned), formatBytes(pinned))
	for _, item := range items {
		marker := " "
		if item.PinnedOffline {
			marker = "*"
		}
		fmt.Printf("  %s %-10s %s\n", marker, formatBytes(item.SizeBytes), item.ID)
	}
	return nil
}

func printHistory(store *state.Store, limit int) error {
	entries, err := store.History(limit)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		fmt.Println("No sync history.")
		return nil
	}
	for _, e := range entries {
		outcome := "ok"
		if !e.Success {
			outcome = "failed: " + e.Error
		}
		fmt.Printf("%s  %-14s %-40s %s\n",
			e.Timestamp.Format("2006-01-02 15:04:05"), e.Operation, e.ItemPath, outcome)
	}
	return nil
}

func formatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
