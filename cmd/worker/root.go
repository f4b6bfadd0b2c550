package main

import (
	"context"
	"database/sql"
	"fmt"
	"sync"

	"github.com/spf13/cobra"

	"github.com/unclebandit/outreach-dispatch/internal/app"
	"github.com/unclebandit/outreach-dispatch/internal/config"
	"github.com/unclebandit/outreach-dispatch/internal/db"
	"github.com/unclebandit/outreach-dispatch/internal/logger"
)

// buildFunc produces the engine a command runs against.
type buildFunc func(ctx context.Context) (*app.App, error)

type commandContext struct {
	envFile string
	build   buildFunc

	once   sync.Once
	engine *app.App
	err    error
}

func (c *commandContext) loadConfig() (config.Config, error) {
	if c.envFile != "" {
		return config.Load(c.envFile)
	}
	return config.Load()
}

// defaultBuild refuses to fall back to the in-memory store: a worker process
// holding its own empty store would never see a campaign.
func (c *commandContext) defaultBuild(ctx context.Context, command string) (*app.App, error) {
	cfg, err := c.loadConfig()
	if err != nil {
		return nil, err
	}
	if cfg.DSN() == "" {
		return nil, fmt.Errorf("%s needs a database: set DATABASE_URL or DB_NAME", command)
	}
	log := logger.New(logger.Options{AppEnv: cfg.AppEnv, Level: cfg.LogLevel, File: cfg.LogFile})
	return app.Build(ctx, cfg, log)
}

// engineFor builds the engine once per process.
func (c *commandContext) engineFor(ctx context.Context, command string) (*app.App, error) {
	c.once.Do(func() {
		if c.build == nil {
			c.engine, c.err = c.defaultBuild(ctx, command)
			return
		}
		c.engine, c.err = c.build(ctx)
	})
	return c.engine, c.err
}

func (c *commandContext) openDB(ctx context.Context) (*sql.DB, error) {
	cfg, err := c.loadConfig()
	if err != nil {
		return nil, err
	}
	dsn := cfg.DSN()
	if dsn == "" {
		return nil, fmt.Errorf("DATABASE_URL or DB_NAME must be set")
	}
	log := logger.New(logger.Options{AppEnv: cfg.AppEnv, Level: cfg.LogLevel, File: cfg.LogFile})
	return db.Open(ctx, dsn, log)
}

func newRootCommand(build buildFunc) *cobra.Command {
	ctx := &commandContext{build: build}

	rootCmd := &cobra.Command{
		Use:           "outreach-worker",
		Short:         "Campaign dispatch worker",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if ctx.engine != nil {
				ctx.engine.Close()
			}
		},
	}
	rootCmd.PersistentFlags().StringVar(&ctx.envFile, "env-file", "", "Path to a .env file")

	rootCmd.AddCommand(newRunCommand(ctx))
	rootCmd.AddCommand(newDispatchCommand(ctx))
	rootCmd.AddCommand(newResendCommand(ctx))
	rootCmd.AddCommand(newStatusCommand(ctx))
	rootCmd.AddCommand(newMigrateCommand(ctx))
	rootCmd.AddCommand(newSeedCommand(ctx))
	return rootCmd
}
