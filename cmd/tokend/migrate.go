package main

import (
	"errors"
	"os"
	"strings"

	"github.com/aussiebroadwan/tokend/pkg/cache/sqlite"
	"github.com/spf13/cobra"
)

func newMigrateCommand() *cobra.Command {
	var file string

	migrateCmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the schema of the sqlite cache backend",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}
	migrateCmd.PersistentFlags().StringVar(&file, "file", "", "sqlite cache file. Can also be set via CACHE_SQLITE_FILE.")

	open := func() (*sqlite.Backend, string, error) {
		path, err := resolveCacheFile(file)
		if err != nil {
			return nil, "", err
		}
		b, err := sqlite.Open(sqlite.FileDSN(path), nil)
		if err != nil {
			return nil, "", err
		}
		return b, path, nil
	}

	migrateCmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply all pending cache migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			b, path, err := open()
			if err != nil {
				return err
			}
			defer closeBackend(cmd, b)

			if err := b.ApplyMigrations(); err != nil {
				return err
			}
			v, _, err := b.SchemaVersion()
			if err != nil {
				return err
			}
			cmd.Printf("Cache schema in %s is at version %d\n", path, v)
			return nil
		},
	})

	migrateCmd.AddCommand(&cobra.Command{
		Use:   "down",
		Short: "Drop the cache schema",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			b, path, err := open()
			if err != nil {
				return err
			}
			defer closeBackend(cmd, b)

			if err := b.RollbackMigrations(); err != nil {
				return err
			}
			cmd.Printf("Rolled back cache schema in %s\n", path)
			return nil
		},
	})

	migrateCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the applied cache schema version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			b, _, err := open()
			if err != nil {
				return err
			}
			defer closeBackend(cmd, b)

			v, dirty, err := b.SchemaVersion()
			if err != nil {
				return err
			}
			if dirty {
				cmd.Printf("%d (dirty)\n", v)
				return nil
			}
			cmd.Printf("%d\n", v)
			return nil
		},
	})

	return migrateCmd
}

func resolveCacheFile(flagValue string) (string, error) {
	path := strings.TrimSpace(flagValue)
	if path == "" {
		path = strings.TrimSpace(os.Getenv("CACHE_SQLITE_FILE"))
	}
	if path == "" {
		return "", errors.New("missing cache file: set --file or CACHE_SQLITE_FILE")
	}
	return path, nil
}

func closeBackend(cmd *cobra.Command, b *sqlite.Backend) {
	if err := b.Close(); err != nil {
		cmd.PrintErrf("warning: failed to close cache file cleanly: %v\n", err)
	}
}
