package commands

import (
	"context"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"github.com/auto-fib/internal/database"
)

var (
	dryRun   bool
	rollback bool
)

// migrateCmd represents the migrate command
var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Analysis journal migrations",
	Long: `Manage the MySQL schema of the analysis journal.

Migrations are embedded in the binary and tracked in schema_migrations.

Examples:
  auto-fib migrate up                 # Apply all pending migrations
  auto-fib migrate up --dry-run       # List pending migrations
  auto-fib migrate down --rollback    # Roll back the last migration
  auto-fib migrate status             # Show migration status`,
}

// migrateUpCmd runs pending migrations
var migrateUpCmd = &cobra.Command{
	Use:   "up",
	Short: "Run pending migrations",
	RunE:  runMigrateUp,
}

// migrateDownCmd rolls back the last migration
var migrateDownCmd = &cobra.Command{
	Use:   "down",
	Short: "Rollback the last migration",
	RunE:  runMigrateDown,
}

// migrateStatusCmd shows migration status
var migrateStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show migration status",
	RunE:  runMigrateStatus,
}

func init() {
	rootCmd.AddCommand(migrateCmd)

	migrateCmd.AddCommand(migrateUpCmd)
	migrateCmd.AddCommand(migrateDownCmd)
	migrateCmd.AddCommand(migrateStatusCmd)

	migrateUpCmd.Flags().BoolVar(&dryRun, "dry-run", false, "Show what would be executed without running")
	migrateDownCmd.Flags().BoolVar(&rollback, "rollback", false, "Confirm rollback operation")
}

func connectJournal() (*database.MySQLClient, error) {
	cfg, log, err := loadConfig(nil)
	if err != nil {
		return nil, err
	}

	client, err := database.NewMySQLClient(&cfg.MySQL, log)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return client, nil
}

func runMigrateUp(cmd *cobra.Command, args []string) error {
	client, err := connectJournal()
	if err != nil {
		return err
	}
	defer client.Close()

	ctx := context.Background()
	out := cmd.OutOrStdout()

	if dryRun {
		migrations, err := database.LoadMigrations()
		if err != nil {
			return err
		}
		applied, err := client.AppliedMigrations(ctx)
		if err != nil {
			return err
		}
		for _, m := range pendingMigrations(migrations, applied) {
			fmt.Fprintf(out, "[DRY RUN] %s - %s\n%s\n", m.Version, m.Name, m.UpSQL)
		}
		return nil
	}

	count, err := client.MigrateUp(ctx)
	if err != nil {
		return err
	}
	if count == 0 {
		fmt.Fprintln(out, "No pending migrations")
		return nil
	}
	fmt.Fprintf(out, "Applied %d migration(s)\n", count)
	return nil
}

func runMigrateDown(cmd *cobra.Command, args []string) error {
	if !rollback {
		return fmt.Errorf("rollback requires the --rollback flag")
	}

	client, err := connectJournal()
	if err != nil {
		return err
	}
	defer client.Close()

	version, err := client.MigrateDown(context.Background())
	if err != nil {
		return err
	}
	if version == "" {
		fmt.Fprintln(cmd.OutOrStdout(), "No applied migrations")
		return nil
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Rolled back migration %s\n", version)
	return nil
}

func runMigrateStatus(cmd *cobra.Command, args []string) error {
	client, err := connectJournal()
	if err != nil {
		return err
	}
	defer client.Close()

	migrations, err := database.LoadMigrations()
	if err != nil {
		return err
	}
	applied, err := client.AppliedMigrations(context.Background())
	if err != nil {
		return err
	}

	printMigrationStatus(cmd.OutOrStdout(), migrations, applied)
	return nil
}

func pendingMigrations(migrations []database.Migration, applied map[string]time.Time) []database.Migration {
	var pending []database.Migration
	for _, m := range migrations {
		if _, ok := applied[m.Version]; !ok {
			pending = append(pending, m)
		}
	}
	return pending
}

func printMigrationStatus(out io.Writer, migrations []database.Migration, applied map[string]time.Time) {
	fmt.Fprintf(out, "%-10s %-30s %s\n", "VERSION", "NAME", "APPLIED")

	known := make(map[string]bool, len(migrations))
	for _, m := range migrations {
		known[m.Version] = true
		status := "pending"
		if at, ok := applied[m.Version]; ok {
			status = at.Format("2006-01-02 15:04:05")
		}
		fmt.Fprintf(out, "%-10s %-30s %s\n", m.Version, m.Name, status)
	}

	// versions recorded in the database but missing from this binary
	var orphans []string
	for v := range applied {
		if !known[v] {
			orphans = append(orphans, v)
		}
	}
	sort.Strings(orphans)
	for _, v := range orphans {
		fmt.Fprintf(out, "%-10s %-30s %s\n", v, "(unknown)", applied[v].Format("2006-01-02 15:04:05"))
	}
}
