package commands

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/teranos/ixbulk/am"
	"github.com/teranos/ixbulk/db"
	"github.com/teranos/ixbulk/errors"
	"github.com/teranos/ixbulk/ix"
	"github.com/teranos/ixbulk/logger"
	"github.com/teranos/ixbulk/repository/sqlstore"
)

// DbCmd inspects the repository database
var DbCmd = &cobra.Command{
	Use:   "db",
	Short: "Inspect the repository database",
	Long: `Inspect the SQLite repository database.

Examples:
  ixbulk db status          # Schema migrations and document counts
  ixbulk db migrate         # Apply pending migrations without importing`,
}

var dbStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show schema migrations and document counts",
	RunE:  runDbStatus,
}

var dbMigrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending schema migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := am.Load()
		if err != nil {
			return errors.Wrap(err, "failed to load config")
		}
		database, err := db.OpenWithMigrations(cfg.GetDatabasePath(), logger.ComponentLogger("db"))
		if err != nil {
			return err
		}
		defer database.Close()
		pterm.Success.Printf("Database %s is up to date\n", cfg.GetDatabasePath())
		return nil
	},
}

func init() {
	DbCmd.AddCommand(dbStatusCmd)
	DbCmd.AddCommand(dbMigrateCmd)
}

type databaseStatus struct {
	Path       string               `json:"path"`
	Migrations []db.MigrationStatus `json:"migrations"`
	Pending    int                  `json:"pending"`
	Documents  int                  `json:"documents"`
	Containers int                  `json:"containers"`
	Leaves     int                  `json:"leaves"`
}

// readStatus reports migrations and, once the schema is current, document counts
func readStatus(ctx context.Context, path string, database *sql.DB) (*databaseStatus, error) {
	migrations, err := db.Status(database)
	if err != nil {
		return nil, err
	}
	status := &databaseStatus{Path: path, Migrations: migrations}
	for _, m := range migrations {
		if !m.Applied {
			status.Pending++
		}
	}
	if status.Pending > 0 {
		return status, nil
	}

	store := sqlstore.New(database, logger.ComponentLogger("sqlstore"))
	if status.Documents, err = store.Count(ctx); err != nil {
		return nil, err
	}
	if status.Containers, err = store.CountKind(ctx, ix.KindContainer); err != nil {
		return nil, err
	}
	if status.Leaves, err = store.CountKind(ctx, ix.KindLeaf); err != nil {
		return nil, err
	}
	return status, nil
}

func runDbStatus(cmd *cobra.Command, args []string) error {
	cfg, err := am.Load()
	if err != nil {
		return errors.Wrap(err, "failed to load config")
	}
	path := cfg.GetDatabasePath()
	database, err := db.OpenWithOptions(path, db.Options{BusyTimeout: cfg.GetBusyTimeout()}, logger.ComponentLogger("db"))
	if err != nil {
		return err
	}
	defer database.Close()

	status, err := readStatus(cmd.Context(), path, database)
	if err != nil {
		return err
	}
	if useJSON(cmd) {
		return printJSON(cmd, status)
	}

	pterm.DefaultSection.Println("Database " + status.Path)
	data := pterm.TableData{{"Version", "Migration", "Applied"}}
	for _, m := range status.Migrations {
		applied := pterm.Yellow("pending")
		if m.Applied {
			applied = m.AppliedAt
		}
		data = append(data, []string{m.Version, m.Name, applied})
	}
	if err := pterm.DefaultTable.WithHasHeader().WithData(data).Render(); err != nil {
		return err
	}

	if status.Pending > 0 {
		pterm.Warning.Printf("%d migration(s) pending; run: ixbulk db migrate\n", status.Pending)
		return nil
	}
	fmt.Fprintf(cmd.OutOrStdout(), "\nDocuments: %d (%d containers, %d leaves)\n",
		status.Documents, status.Containers, status.Leaves)
	return nil
}
