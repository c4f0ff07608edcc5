package main

import (
	"context"
	"fmt"
	"io"

	"github.com/go-faster/errors"
	"github.com/spf13/cobra"

	"healthcore/internal/core"
	"healthcore/internal/infra/persistence/sqlstore"
)

type migrateOptions struct {
	root  *rootOptions
	print bool
}

func newMigrateCmd(root *rootOptions) *cobra.Command {
	opts := &migrateOptions{root: root}
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Create or upgrade the SQL schema of the configured storage driver",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if opts.print {
				return printSchema(cmd.OutOrStdout())
			}
			return runMigrate(cmd.Context(), opts)
		},
	}
	cmd.Flags().BoolVar(&opts.print, "print", false, "print the schema statements instead of applying them")
	return cmd
}

func printSchema(out io.Writer) error {
	for _, stmt := range sqlstore.Schema() {
		if _, err := fmt.Fprintf(out, "%s;\n\n", stmt); err != nil {
			return err
		}
	}
	return nil
}

// runMigrate opens the configured stores; the SQL backends apply their
// schema while opening.
func runMigrate(ctx context.Context, opts *migrateOptions) error {
	cfg, log, err := loadConfig(opts.root)
	if err != nil {
		return err
	}
	if core.StorageDriver(cfg.Storage.Driver) == core.StorageMemory {
		return withCode(exitUsage, errors.New("memory storage has no schema to migrate"))
	}
	stores, err := core.OpenStores(ctx, cfg.Storage, cfg.Cache, log)
	if err != nil {
		return withCode(exitStorage, errors.Wrap(err, "migrate"))
	}
	log.WithField("driver", cfg.Storage.Driver).Info("schema up to date")
	return stores.Close()
}
