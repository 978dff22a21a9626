package main

import (
	"fmt"
	"os"
	"time"

	"nassync/internal/app"
	"nassync/internal/config"

	"github.com/spf13/cobra"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// newApp reads the config and creates a SyncApp. The caller must defer app.Close().
func newApp(cmd *cobra.Command) (*app.SyncApp, error) {
	defaults, err := app.GetDefaults()
	if err != nil {
		return nil, fmt.Errorf("getting defaults: %w", err)
	}

	cfg, err := config.ReadFromFile(defaults["config_path"])
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	dryRun, _ := cmd.Flags().GetBool("dry-run")

	a, err := app.NewSyncApp(cmd.Context(), cfg, dryRun)
	if err != nil {
		return nil, fmt.Errorf("initializing app: %w", err)
	}

	return a, nil
}

var rootCmd = &cobra.Command{
	Use:   "nassync",
	Short: "NAS to object storage synchronization engine",
}

// config command
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		defaults, err := app.GetDefaults()
		if err != nil {
			return fmt.Errorf("failed to get defaults: %w", err)
		}

		cfg := config.NewConfig(defaults["base_dir"])

		if err := config.Init(defaults["config_path"], cfg); err != nil {
			return fmt.Errorf("failed to initialize config: %w", err)
		}

		fmt.Printf("Configuration initialized at %s\n", defaults["config_path"])
		fmt.Printf("Base Dir: %s\n", defaults["base_dir"])
		fmt.Printf("Catalog:  %s\n", cfg.Catalog.Path)
		return nil
	},
}

var configListCmd = &cobra.Command{
	Use:   "list",
	Short: "View configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		defaults, err := app.GetDefaults()
		if err != nil {
			return fmt.Errorf("failed to get defaults: %w", err)
		}

		cfg, err := config.ReadFromFile(defaults["config_path"])
		if err != nil {
			return fmt.Errorf("failed to read config: %w", err)
		}

		fmt.Printf("Configuration from %s:\n\n", defaults["config_path"])
		fmt.Printf("Log Dir:   %s\n", cfg.LogDir)
		fmt.Printf("Adapter:   %s (%s)\n", cfg.Adapter.Type, cfg.Adapter.MountPath)
		fmt.Printf("Catalog:   %s\n", cfg.Catalog.Path)
		fmt.Printf("Storage:   %s s3://%s/%s\n", cfg.Storage.Type, cfg.Storage.Bucket, cfg.Storage.Prefix)
		fmt.Printf("Queue:     %s %s\n", cfg.Queue.Type, cfg.Queue.URL)
		if cfg.Queue.DeadLetterURL != "" {
			fmt.Printf("DLQ:       %s\n", cfg.Queue.DeadLetterURL)
		}
		return nil
	},
}

// scan command
var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Scan the filesystem and classify changes",
	RunE: func(cmd *cobra.Command, args []string) error {
		differential, _ := cmd.Flags().GetBool("differential")

		a, err := newApp(cmd)
		if err != nil {
			return err
		}
		defer a.Close()

		result, run, err := a.Scan(cmd.Context(), differential)
		if err != nil {
			return fmt.Errorf("scan failed: %w", err)
		}

		kind := "full"
		if differential {
			kind = "differential"
		}
		fmt.Printf("Scan #%d (%s) %s in %s\n", run.ID, kind, run.Status, run.Duration.Truncate(time.Millisecond))
		fmt.Printf("  Files:     %d (%d bytes)\n", result.TotalFiles, result.TotalBytes)
		fmt.Printf("  New:       %d\n", len(result.New))
		fmt.Printf("  Modified:  %d\n", len(result.Modified))
		fmt.Printf("  Deleted:   %d\n", len(result.Deleted))
		fmt.Printf("  Unchanged: %d\n", result.Unchanged)
		if run.Errors > 0 {
			fmt.Printf("  Errors:    %d\n", run.Errors)
		}
		return nil
	},
}

// sync command
var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Scan, upload changes, and publish events",
	RunE: func(cmd *cobra.Command, args []string) error {
		differential, _ := cmd.Flags().GetBool("differential")

		a, err := newApp(cmd)
		if err != nil {
			return err
		}
		defer a.Close()

		report, err := a.Sync(cmd.Context(), differential)
		if err != nil {
			return fmt.Errorf("sync failed: %w", err)
		}

		fmt.Printf("Sync complete in %s\n", report.Run.Duration.Truncate(time.Millisecond))
		fmt.Printf("  Uploaded:  %d\n", report.Uploaded)
		fmt.Printf("  Published: %d\n", report.Publisher.Published)
		if report.UploadErrors > 0 {
			fmt.Printf("  Upload errors:   %d\n", report.UploadErrors)
		}
		if report.Publisher.Failed > 0 {
			fmt.Printf("  Delivery failed: %d\n", report.Publisher.Failed)
		}
		return nil
	},
}

// stats command
var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "View catalog statistics",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd)
		if err != nil {
			return err
		}
		defer a.Close()

		stats, err := a.Statistics()
		if err != nil {
			return err
		}

		fmt.Printf("Files: %d (%d bytes)\n", stats.TotalFiles, stats.TotalBytes)
		if stats.LastCompletedScan != nil {
			fmt.Printf("Last full scan: %s\n", stats.LastCompletedScan.Format("2006-01-02 15:04:05"))
		}
		if len(stats.ByExtension) > 0 {
			fmt.Println("\nBy extension:")
			for _, ec := range stats.ByExtension {
				fmt.Printf("  %-10s %6d files  %12d bytes\n", ec.Extension, ec.Count, ec.Bytes)
			}
		}
		return nil
	},
}

// history command
var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "View scan history",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")

		a, err := newApp(cmd)
		if err != nil {
			return err
		}
		defer a.Close()

		runs, err := a.History(limit)
		if err != nil {
			return err
		}

		if len(runs) == 0 {
			fmt.Println("No scans recorded.")
			return nil
		}

		for _, run := range runs {
			kind := "full"
			if run.Differential {
				kind = "diff"
			}
			fmt.Printf("#%d  %s  %-4s  %-9s  files:%d new:%d mod:%d del:%d err:%d  %s\n",
				run.ID,
				run.StartedAt.Format("2006-01-02 15:04:05"),
				kind,
				run.Status,
				run.TotalFiles,
				run.NewFiles,
				run.Modified,
				run.Deleted,
				run.Errors,
				run.Duration.Truncate(time.Millisecond),
			)
		}
		return nil
	},
}

// errors command
var errorsCmd = &cobra.Command{
	Use:   "errors",
	Short: "View per-file error log",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")

		a, err := newApp(cmd)
		if err != nil {
			return err
		}
		defer a.Close()

		entries, err := a.ErrorLog(limit)
		if err != nil {
			return err
		}

		if len(entries) == 0 {
			fmt.Println("No errors recorded.")
			return nil
		}

		for _, e := range entries {
			recoverable := "fatal"
			if e.Recoverable {
				recoverable = "retryable"
			}
			fmt.Printf("%s  %-10s  %-9s  %s: %s\n",
				e.OccurredAt.Format("2006-01-02 15:04:05"),
				e.Kind,
				recoverable,
				e.Path,
				e.Message,
			)
		}
		return nil
	},
}

// queue command
var queueCmd = &cobra.Command{
	Use:   "queue",
	Short: "View delivery queue depth",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd)
		if err != nil {
			return err
		}
		defer a.Close()

		m, err := a.QueueMetrics(cmd.Context())
		if err != nil {
			return err
		}

		fmt.Printf("Visible:   %d\n", m.Visible)
		fmt.Printf("In flight: %d\n", m.InFlight)
		fmt.Printf("Delayed:   %d\n", m.Delayed)
		return nil
	},
}

// cleanup command
var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Purge aged error logs and tombstones",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd)
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.Cleanup(); err != nil {
			return fmt.Errorf("cleanup failed: %w", err)
		}
		fmt.Println("Catalog cleanup complete.")
		return nil
	},
}

func init() {
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configListCmd)

	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(scanCmd)
	scanCmd.Flags().Bool("differential", false, "Only detect changes since the last completed full scan")
	rootCmd.AddCommand(syncCmd)
	syncCmd.Flags().Bool("differential", false, "Only detect changes since the last completed full scan")
	syncCmd.Flags().Bool("dry-run", false, "Report what would happen without uploading or publishing")
	rootCmd.AddCommand(statsCmd)
	rootCmd.AddCommand(historyCmd)
	historyCmd.Flags().IntP("limit", "n", 50, "Maximum number of scans to show")
	rootCmd.AddCommand(errorsCmd)
	errorsCmd.Flags().IntP("limit", "n", 50, "Maximum number of errors to show")
	rootCmd.AddCommand(queueCmd)
	rootCmd.AddCommand(cleanupCmd)
}
