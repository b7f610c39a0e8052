package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"os/signal"
	"syscall"

	"drift-go/internal/app"
	"drift-go/internal/config"
	"drift-go/internal/drift"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "warning: loading .env: %v\n", err)
	}
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// loadConfig reads the config file from the default location.
func loadConfig() (*config.Config, error) {
	defaults, err := app.GetDefaults()
	if err != nil {
		return nil, fmt.Errorf("getting defaults: %w", err)
	}

	cfg, err := config.ReadFromFile(defaults.ConfigPath)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	return cfg, nil
}

// newApp reads the config and creates a DriftApp. The caller must defer app.Close().
// command identifies the CLI command being run (e.g. "ingest", "serve").
func newApp(ctx context.Context, command string) (*app.DriftApp, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}

	a, err := app.NewDriftApp(ctx, cfg, command)
	if err != nil {
		return nil, fmt.Errorf("initializing app: %w", err)
	}
	return a, nil
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

var rootCmd = &cobra.Command{
	Use:          "drift",
	Short:        "JSON snapshot ingestion and drift tracking",
	SilenceUsage: true,
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

		cfg := config.NewConfig(defaults.BaseDir)
		cfg.LogDir = defaults.LogDir
		if err := config.Init(defaults.ConfigPath, cfg); err != nil {
			return fmt.Errorf("failed to initialize config: %w", err)
		}

		fmt.Printf("Configuration initialized at %s\n", defaults.ConfigPath)
		fmt.Printf("Base Dir: %s\n", cfg.BaseDir)
		fmt.Println("Next: `drift migrate`, then `drift keys init` to enable archiving.")
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
		cfg, err := config.ReadFromFile(defaults.ConfigPath)
		if err != nil {
			return fmt.Errorf("failed to read config: %w", err)
		}

		fmt.Printf("Configuration from %s:\n\n", defaults.ConfigPath)
		fmt.Printf("Base Dir:       %s\n", cfg.BaseDir)
		fmt.Printf("Log Dir:        %s (%s)\n", cfg.LogDir, cfg.LogLevel)
		fmt.Printf("Database:       %s %s\n", cfg.Database.Type, cfg.Database.DataDir)
		fmt.Printf("Max Payload:    %d bytes\n", cfg.Ingest.MaxPayloadBytes)
		fmt.Printf("Dedup Interval: %s\n", cfg.Ingest.DedupInterval.Duration)
		fmt.Printf("Rate Limits:    %v (default %s, %s store)\n", cfg.RateLimit.Tiers, cfg.RateLimit.DefaultTier, cfg.RateLimit.Store)
		fmt.Printf("Worker:         concurrency=%d rate=%g/s attempts=%d\n", cfg.Worker.Concurrency, cfg.Worker.RatePerSecond, cfg.Worker.MaxAttempts)
		fmt.Printf("Vault:          %s (%s)\n", cfg.Vault.Type, cfg.Vault.Name)
		fmt.Printf("Encryption:     %s\n", cfg.Encryption.Type)
		fmt.Printf("HTTP:           %s\n", cfg.HTTP.Addr)
		return nil
	},
}

// keys command
var keysCmd = &cobra.Command{
	Use:   "keys",
	Short: "Manage archive encryption keys",
}

var keysInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Generate the archive key pair",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), "keys-init")
		if err != nil {
			return err
		}
		defer a.Close()

		pass, err := promptNewPassphrase()
		if err != nil {
			return err
		}
		recipient, err := a.SetupKeys(pass)
		if err != nil {
			return fmt.Errorf("setting up keys: %w", err)
		}
		if recipient != "" {
			fmt.Printf("Public key: %s\n", recipient)
		}
		fmt.Println("Archive keys created. Keep the passphrase safe; archives cannot be restored without it.")
		return nil
	},
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply database schema migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		before, after, err := app.Migrate(cfg.Database)
		if err != nil {
			return err
		}
		if before.Current == after.Current {
			fmt.Printf("Schema is up to date (version %d)\n", after.Current)
			return nil
		}
		fmt.Printf("Migrated schema from version %d to %d\n", before.Current, after.Current)
		return nil
	},
}

// db command
var dbCmd = &cobra.Command{
	Use:   "db",
	Short: "Database maintenance",
}

var dbBackupCmd = &cobra.Command{
	Use:   "backup DEST",
	Short: "Write a consistent copy of the database to DEST",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), "db-backup")
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.BackupDatabase(cmd.Context(), args[0]); err != nil {
			return err
		}
		fmt.Printf("Database copied to %s\n", args[0])
		return nil
	},
}

var dbSchemaCmd = &cobra.Command{
	Use:   "schema",
	Short: "Print the database schema",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), "db-schema")
		if err != nil {
			return err
		}
		defer a.Close()

		schema, err := a.Schema(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Print(schema)
		return nil
	},
}

// ingest command
var ingestCmd = &cobra.Command{
	Use:   "ingest ENDPOINT [FILE|-]",
	Short: "Store a snapshot of an endpoint",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		source, _ := cmd.Flags().GetString("source")
		tenant, _ := cmd.Flags().GetString("tenant")
		tier, _ := cmd.Flags().GetString("tier")
		metadata, _ := cmd.Flags().GetString("metadata")

		file := "-"
		if len(args) > 1 {
			file = args[1]
		}
		data, err := readInput(file)
		if err != nil {
			return err
		}

		a, err := newApp(cmd.Context(), "ingest")
		if err != nil {
			return err
		}
		defer a.Close()

		res, err := a.Ingest(cmd.Context(), drift.IngestRequest{
			TenantKey:  tenant,
			Tier:       tier,
			EndpointID: args[0],
			Data:       data,
			Source:     source,
			Metadata:   []byte(metadata),
		})
		if err != nil {
			return err
		}

		switch {
		case res.IsDuplicate:
			fmt.Printf("Duplicate of snapshot %s (%s)\n", res.Snapshot.ID, res.Snapshot.ContentHash[:12])
		case res.QueuedForDelta:
			fmt.Printf("Stored snapshot %s (%s), delta queued\n", res.Snapshot.ID, res.Snapshot.ContentHash[:12])
		default:
			fmt.Printf("Stored snapshot %s (%s)\n", res.Snapshot.ID, res.Snapshot.ContentHash[:12])
		}
		if d := res.RateLimit; d != nil {
			fmt.Printf("Rate limit: %d/%d remaining until %s\n", d.Remaining, d.Limit, d.ResetAt.Format("15:04:05"))
		}
		return nil
	},
}

// compare command
var compareCmd = &cobra.Command{
	Use:   "compare ENDPOINT FROM TO",
	Short: "Diff two stored snapshots",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		format, _ := cmd.Flags().GetString("format")

		a, err := newApp(cmd.Context(), "compare")
		if err != nil {
			return err
		}
		defer a.Close()

		res, err := a.Compare(cmd.Context(), args[0], args[1], args[2])
		if err != nil {
			return err
		}
		return writeFormatted(os.Stdout, format, res)
	},
}

var diffCmd = &cobra.Command{
	Use:   "diff FILE_A FILE_B",
	Short: "Diff two JSON files without storing them",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		format, _ := cmd.Flags().GetString("format")

		res, err := diffFiles(args[0], args[1])
		if err != nil {
			return err
		}
		return writeFormatted(os.Stdout, format, res)
	},
}

var snapshotsCmd = &cobra.Command{
	Use:   "snapshots ENDPOINT",
	Short: "List recent snapshots of an endpoint",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")

		a, err := newApp(cmd.Context(), "snapshots")
		if err != nil {
			return err
		}
		defer a.Close()

		snaps, err := a.Snapshots(cmd.Context(), args[0], limit)
		if err != nil {
			return err
		}
		if len(snaps) == 0 {
			fmt.Println("No snapshots recorded.")
			return nil
		}
		printSnapshots(os.Stdout, snaps)
		return nil
	},
}

var deltasCmd = &cobra.Command{
	Use:   "deltas ENDPOINT",
	Short: "List recent deltas of an endpoint",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")

		a, err := newApp(cmd.Context(), "deltas")
		if err != nil {
			return err
		}
		defer a.Close()

		deltas, err := a.Deltas(cmd.Context(), args[0], limit)
		if err != nil {
			return err
		}
		if len(deltas) == 0 {
			fmt.Println("No deltas recorded.")
			return nil
		}
		printDeltas(os.Stdout, deltas)
		return nil
	},
}

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Process queued delta jobs until interrupted",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signalContext()
		defer stop()

		a, err := newApp(ctx, "worker")
		if err != nil {
			return err
		}
		defer a.Close()
		return a.RunWorker(ctx)
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API and the delta worker",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signalContext()
		defer stop()

		a, err := newApp(ctx, "serve")
		if err != nil {
			return err
		}
		defer a.Close()
		return a.Serve(ctx)
	},
}

// deadletters command
var deadLettersCmd = &cobra.Command{
	Use:   "deadletters",
	Short: "Inspect and requeue failed delta jobs",
}

var deadLettersListCmd = &cobra.Command{
	Use:   "list",
	Short: "List dead-lettered jobs",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")

		a, err := newApp(cmd.Context(), "deadletters-list")
		if err != nil {
			return err
		}
		defer a.Close()

		letters, err := a.DeadLetters(cmd.Context(), limit)
		if err != nil {
			return err
		}
		if len(letters) == 0 {
			fmt.Println("No dead letters.")
			return nil
		}
		printDeadLetters(os.Stdout, letters)
		return nil
	},
}

var deadLettersRequeueCmd = &cobra.Command{
	Use:   "requeue ID",
	Short: "Put a dead-lettered job back on the queue",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), "deadletters-requeue")
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.RequeueDeadLetter(cmd.Context(), args[0]); err != nil {
			return err
		}
		fmt.Printf("Requeued %s\n", args[0])
		return nil
	},
}

var deadLettersPurgeCmd = &cobra.Command{
	Use:   "purge",
	Short: "Delete dead letters older than the retention period",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), "deadletters-purge")
		if err != nil {
			return err
		}
		defer a.Close()

		n, err := a.PurgeDeadLetters(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Printf("Purged %d dead letter(s)\n", n)
		return nil
	},
}

// archive command
var archiveCmd = &cobra.Command{
	Use:   "archive",
	Short: "Export snapshots to the encrypted vault",
}

var archivePushCmd = &cobra.Command{
	Use:   "push",
	Short: "Archive snapshots not yet in the vault",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")

		a, err := newApp(cmd.Context(), "archive-push")
		if err != nil {
			return err
		}
		defer a.Close()

		n, err := a.ArchivePending(cmd.Context(), limit)
		if err != nil {
			return fmt.Errorf("archive failed after %d snapshot(s): %w", n, err)
		}
		fmt.Printf("Archived %d snapshot(s)\n", n)
		return nil
	},
}

var archiveGetCmd = &cobra.Command{
	Use:   "get HASH",
	Short: "Restore an archived payload by content hash",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		format, _ := cmd.Flags().GetString("format")

		a, err := newApp(cmd.Context(), "archive-get")
		if err != nil {
			return err
		}
		defer a.Close()

		pass, err := promptPassphrase("Passphrase: ")
		if err != nil {
			return err
		}
		data, err := a.Restore(cmd.Context(), args[0], pass)
		if err != nil {
			return err
		}
		return writeFormatted(os.Stdout, format, data)
	},
}

func readInput(name string) ([]byte, error) {
	if name == "-" {
		data, err := io.ReadAll(os.Stdin)
		if err != nil {
			return nil, fmt.Errorf("reading stdin: %w", err)
		}
		return data, nil
	}
	data, err := os.ReadFile(name)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", name, err)
	}
	return data, nil
}

func init() {
	// config subcommands
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configListCmd)
	keysCmd.AddCommand(keysInitCmd)
	dbCmd.AddCommand(dbBackupCmd)
	dbCmd.AddCommand(dbSchemaCmd)

	ingestCmd.Flags().String("source", string(drift.SourceSDK), "Snapshot source: sdk, webhook or polling")
	ingestCmd.Flags().String("tenant", "cli", "Tenant key used for rate limiting")
	ingestCmd.Flags().String("tier", "", "Tenant tier (defaults to the configured default tier)")
	ingestCmd.Flags().String("metadata", "", "Metadata as a JSON object")

	compareCmd.Flags().StringP("format", "f", "json", "Output format: json or yaml")
	diffCmd.Flags().StringP("format", "f", "json", "Output format: json or yaml")
	archiveGetCmd.Flags().StringP("format", "f", "json", "Output format: json or yaml")

	snapshotsCmd.Flags().IntP("limit", "n", 20, "Maximum number of snapshots to show")
	deltasCmd.Flags().IntP("limit", "n", 20, "Maximum number of deltas to show")

	deadLettersCmd.AddCommand(deadLettersListCmd)
	deadLettersCmd.AddCommand(deadLettersRequeueCmd)
	deadLettersCmd.AddCommand(deadLettersPurgeCmd)
	deadLettersListCmd.Flags().IntP("limit", "n", 50, "Maximum number of dead letters to show")

	archiveCmd.AddCommand(archivePushCmd)
	archiveCmd.AddCommand(archiveGetCmd)
	archivePushCmd.Flags().IntP("limit", "n", 100, "Maximum number of snapshots to archive")

	// root commands
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(keysCmd)
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(dbCmd)
	rootCmd.AddCommand(ingestCmd)
	rootCmd.AddCommand(compareCmd)
	rootCmd.AddCommand(diffCmd)
	rootCmd.AddCommand(snapshotsCmd)
	rootCmd.AddCommand(deltasCmd)
	rootCmd.AddCommand(workerCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(deadLettersCmd)
	rootCmd.AddCommand(archiveCmd)
}
