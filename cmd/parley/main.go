// Command parley runs the chat study server and its maintenance tasks.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"parley/internal/app"
	"parley/internal/auth"
	"parley/internal/config"
	"parley/internal/database"
	"parley/internal/logging"
	pkgdatabase "parley/pkg/database"
	"parley/pkg/types"
)

var version = "dev" // set via ldflags at build time

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:   "parley",
		Short: "Timed, role-aware chat rooms for conversation studies",
		Long: `parley hosts anonymous chat rooms for studies. Participants join under
per-room aliases, operators open and close rooms, and transcripts are
recorded to sqlite or badger.`,
		Version:       version,
		SilenceErrors: true,
		SilenceUsage:  true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "YAML config file; PARLEY_* variables override it")

	load := func() (*config.Config, error) {
		cfg, err := config.LoadConfigWithPrecedence(configPath)
		if err != nil {
			return nil, err
		}
		logging.Init(logging.Config{Level: cfg.Log.Level, Format: cfg.Log.Format, Caller: cfg.Log.Caller})
		return cfg, nil
	}

	root.AddCommand(newServeCmd(load), newMigrateCmd(load), newUserCmd(load))
	return root
}

type configLoader func() (*config.Config, error)

func newServeCmd(load configLoader) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP and websocket server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			application, err := app.NewApplication(cfg)
			if err != nil {
				return err
			}
			defer func() {
				if err := application.Close(); err != nil {
					logging.Error().Err(err).Msg("shutdown error")
				}
			}()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return application.Run(ctx)
		},
	}
}

func newMigrateCmd(load configLoader) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending schema migrations and exit",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			db, err := openDatabase(cfg)
			if err != nil {
				return err
			}
			defer db.Close()

			versions, err := pkgdatabase.NewMigrationManager(db.GetDB()).AppliedVersions()
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "schema at %s (applied: %s)\n", cfg.Database.Path, strings.Join(versions, ", "))
			return nil
		},
	}
}

func newUserCmd(load configLoader) *cobra.Command {
	user := &cobra.Command{
		Use:   "user",
		Short: "Manage accounts",
	}

	var username, password, role string
	add := &cobra.Command{
		Use:   "add",
		Short: "Create an account",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			r, ok := types.ParseRole(strings.ToUpper(role))
			if !ok {
				return fmt.Errorf("unknown role %q: want HUMAN, BOT, ADMIN or EVALUATOR", role)
			}
			cfg, err := load()
			if err != nil {
				return err
			}
			db, err := openDatabase(cfg)
			if err != nil {
				return err
			}
			defer db.Close()

			u, err := auth.NewService(db).WithParams(cfg.AuthParams()).
				Register(context.Background(), auth.Credentials{Username: username, Password: password}, r)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "created %s user %s (%s)\n", u.Role, u.Username, u.ID)
			return nil
		},
	}
	add.Flags().StringVar(&username, "username", "", "login name")
	add.Flags().StringVar(&password, "password", "", "password, 8 to 72 characters")
	add.Flags().StringVar(&role, "role", string(types.RoleHuman), "HUMAN, BOT, ADMIN or EVALUATOR")
	_ = add.MarkFlagRequired("username")
	_ = add.MarkFlagRequired("password")

	user.AddCommand(add)
	return user
}

func openDatabase(cfg *config.Config) (*database.Manager, error) {
	if err := os.MkdirAll(filepath.Dir(cfg.Database.Path), 0o750); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}
	return database.NewManager(cfg.DatabaseConfig())
}
