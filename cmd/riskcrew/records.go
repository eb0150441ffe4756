package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ytnobody/riskcrew/internal/records"
)

func newRecordsCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "records",
		Short: "Manage branch and review records",
	}

	var dbPath string
	importCmd := &cobra.Command{
		Use:   "import",
		Short: "Load the JSON branch and review files into SQLite",
		Long: `Load the JSON files named by records.branches_path and records.reviews_path
into a SQLite database, replacing its contents. Set records.driver = "sqlite"
to analyse from the database afterwards.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if dbPath == "" {
				dbPath = a.cfg.Records.SQLitePath
			}
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			return a.runImport(ctx, dbPath)
		},
	}
	importCmd.Flags().StringVar(&dbPath, "db", "", "SQLite database path (default records.sqlite_path)")
	cmd.AddCommand(importCmd)
	return cmd
}

func (a *app) runImport(ctx context.Context, dbPath string) error {
	src := records.NewJSONStore(a.cfg.Records.BranchesPath, a.cfg.Records.ReviewsPath)
	branches, err := src.Branches(ctx)
	if err != nil {
		return err
	}
	reviews, err := src.Reviews(ctx)
	if err != nil {
		return err
	}

	db, err := records.OpenSQLite(dbPath)
	if err != nil {
		return err
	}
	defer db.Close()

	if err := db.Import(ctx, branches, reviews); err != nil {
		return err
	}
	fmt.Fprintf(a.stdout, "Imported %d branches and %d reviews into %s\n", len(branches), len(reviews), dbPath)
	return nil
}
