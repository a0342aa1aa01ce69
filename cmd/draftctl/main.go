// Package main is draftctl, the operator CLI for the draft store and the
// portal's access tokens. It talks to the storage backend and database
// named by the same environment as the API server.
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"dfsportal/internal/app"
	"dfsportal/internal/config"
	"dfsportal/internal/drafts"
	"dfsportal/internal/logging"
	"dfsportal/internal/scheduler"
	"dfsportal/internal/types"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	c := &cli{open: openDeps}
	err := newRootCmd(c).ExecuteContext(ctx)
	if closeErr := c.close(); closeErr != nil && err == nil {
		err = closeErr
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// ProfileCreator stores a new profile.
type ProfileCreator interface {
	Create(ctx context.Context, p *types.Profile) error
}

// env is what the commands operate on. Profiles and Migrator are nil when
// no database is configured.
type env struct {
	Store    *drafts.Store
	Cleaner  *scheduler.DraftCleanupService
	Profiles ProfileCreator
	Migrator scheduler.PermissionMigrator
	Logger   *slog.Logger
	Close    func() error
}

type cli struct {
	open func(ctx context.Context, verbose bool) (*env, error)
	env  *env
}

func openDeps(ctx context.Context, verbose bool) (*env, error) {
	cfg, err := config.LoadConfig(config.NewEnvVarProvider())
	if err != nil {
		return nil, fmt.Errorf("loading configuration: %w", err)
	}
	if !verbose {
		cfg.LogLevel = "warn"
	}
	logger := logging.NewWithWriter(os.Stderr, cfg)

	deps, err := app.Bootstrap(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	e := &env{
		Store:   deps.Store,
		Cleaner: scheduler.NewDraftCleanupService(deps.Store, nil, deps.Audit(), logger),
		Logger:  logger,
		Close:   deps.Close,
	}
	if profiles := deps.ProfileRepository(); profiles != nil {
		e.Profiles = profiles
		e.Migrator = profiles
	}
	return e, nil
}

func (c *cli) close() error {
	if c.env == nil || c.env.Close == nil {
		return nil
	}
	return c.env.Close()
}

func newRootCmd(c *cli) *cobra.Command {
	var verbose bool

	root := &cobra.Command{
		Use:           "draftctl",
		Short:         "Inspect and maintain DFS portal drafts",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if c.env != nil {
				return nil
			}
			e, err := c.open(cmd.Context(), verbose)
			if err != nil {
				return err
			}
			c.env = e
			return nil
		},
	}
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "log at the configured level instead of warn")

	root.AddCommand(
		newListCmd(c),
		newGetCmd(c),
		newDeleteCmd(c),
		newCleanupCmd(c),
		newUsageCmd(c),
		newExportCmd(c),
		newImportCmd(c),
		newMigratePermissionsCmd(c),
		newIssueTokenCmd(c),
	)
	return root
}

// operatorContext marks writes made from the CLI in the audit log.
func operatorContext(ctx context.Context) context.Context {
	return types.WithActor(ctx, types.SystemActor("draftctl"))
}

func out(cmd *cobra.Command) io.Writer { return cmd.OutOrStdout() }
