// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatehouse Contributors

package main

import (
	"os"
	"strconv"
	"strings"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/gatehouse-auth/gatehouse/internal/config"
	"github.com/gatehouse-auth/gatehouse/internal/store"
)

// migrator wraps the methods used from store.Migrator.
type migrator interface {
	Up() error
	Down() error
	Version() (uint, bool, error)
	Force(version int) error
	Status() (store.Status, error)
	Close() error
}

// newMigrator is replaced in tests.
var newMigrator = func(dsn string) (migrator, error) {
	return store.NewMigrator(dsn)
}

// NewMigrateCmd creates the migrate command group.
func NewMigrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage PostgreSQL schema migrations",
		Long: `Apply, roll back or inspect the PostgreSQL schema. The database is
taken from --dsn, then store.dsn in the config file, then DATABASE_URL.`,
	}
	cmd.PersistentFlags().String("dsn", "", "PostgreSQL connection string")

	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply all pending migrations",
		Args:  cobra.NoArgs,
		RunE: withMigrator(func(cmd *cobra.Command, m migrator, _ []string) error {
			if err := m.Up(); err != nil {
				return err
			}
			cmd.Println("Migrations applied")
			return nil
		}),
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "down",
		Short: "Roll back all migrations (drops all auth data)",
		Args:  cobra.NoArgs,
		RunE: withMigrator(func(cmd *cobra.Command, m migrator, _ []string) error {
			if err := m.Down(); err != nil {
				return err
			}
			cmd.Println("Migrations rolled back")
			return nil
		}),
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the applied schema version",
		Args:  cobra.NoArgs,
		RunE: withMigrator(func(cmd *cobra.Command, m migrator, _ []string) error {
			st, err := m.Status()
			if err != nil {
				return err
			}
			printStatus(cmd, st)
			return nil
		}),
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "force VERSION",
		Short: "Mark VERSION as applied without running it (dirty recovery)",
		Args:  cobra.ExactArgs(1),
		RunE: withMigrator(func(cmd *cobra.Command, m migrator, args []string) error {
			v, err := parseForceVersion(args[0])
			if err != nil {
				return err
			}
			if err := m.Force(v); err != nil {
				return err
			}
			cmd.Printf("Forced schema version %d\n", v)
			return nil
		}),
	})

	return cmd
}

func printStatus(cmd *cobra.Command, st store.Status) {
	name := st.Name
	if name == "" {
		name = "none"
	}
	cmd.Printf("version: %d (%s)\n", st.Version, name)
	if st.Dirty {
		cmd.Println("dirty: true (fix the schema, then run 'gatehouse migrate force VERSION')")
	}
	if len(st.Pending) > 0 {
		pending := make([]string, len(st.Pending))
		for i, v := range st.Pending {
			pending[i] = strconv.FormatUint(uint64(v), 10)
		}
		cmd.Printf("pending: %s\n", strings.Join(pending, ", "))
	}
}

func withMigrator(run func(cmd *cobra.Command, m migrator, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		dsn, err := resolveDSN(cmd)
		if err != nil {
			return err
		}
		m, err := newMigrator(dsn)
		if err != nil {
			return err
		}
		defer func() {
			if closeErr := m.Close(); closeErr != nil {
				cmd.PrintErrln("warning: closing migrator:", closeErr)
			}
		}()
		return run(cmd, m, args)
	}
}

// resolveDSN picks --dsn, then store.dsn from the config file (explicit or
// XDG default), then DATABASE_URL.
func resolveDSN(cmd *cobra.Command) (string, error) {
	dsn, err := cmd.Flags().GetString("dsn")
	if err != nil {
		return "", oops.Code("CONFIG_INVALID").Wrap(err)
	}
	if path := config.ResolvePath(configFile); dsn == "" && path != "" {
		cfg, err := config.Load(path, nil)
		if err != nil {
			return "", err
		}
		dsn = cfg.Store.DSN
	}
	if dsn == "" {
		dsn = os.Getenv("DATABASE_URL")
	}
	if dsn == "" {
		return "", oops.Code("CONFIG_INVALID").
			Errorf("no database: set --dsn, store.dsn in the config file, or DATABASE_URL")
	}
	return dsn, nil
}

// parseForceVersion parses the force target, allowing surrounding whitespace.
func parseForceVersion(s string) (int, error) {
	v, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0, oops.Code("INVALID_VERSION").With("input", s).Wrap(err)
	}
	if v < 0 {
		return 0, oops.Code("INVALID_VERSION").With("input", s).Errorf("version must be non-negative")
	}
	return v, nil
}
