package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"loginshield.io/internal/app"
	"loginshield.io/internal/config"
	"loginshield.io/internal/obs"
)

func main() {
	_ = godotenv.Load()
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

type cli struct {
	configPath string
}

func newRootCommand() *cobra.Command {
	c := &cli{}
	cmd := &cobra.Command{
		Use:           "shieldctl",
		Short:         "Operate loginshield blocks, sessions and accounts",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			obs.SetOutput(cmd.ErrOrStderr())
		},
	}
	cmd.PersistentFlags().StringVar(&c.configPath, "config", config.DefaultPath, "Path to YAML config file")

	cmd.AddCommand(c.newBlockCommand())
	cmd.AddCommand(c.newUnblockCommand())
	cmd.AddCommand(c.newBlocksCommand())
	cmd.AddCommand(c.newRevokeCommand())
	cmd.AddCommand(c.newUsersCommand())
	cmd.AddCommand(c.newTokenCommand())
	return cmd
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

func (c *cli) loadConfig(ctx context.Context) (config.Config, error) {
	return config.Load(ctx, c.configPath)
}

// openStores refuses memory mode: state written by a short-lived CLI process
// would vanish on exit.
func (c *cli) openStores(ctx context.Context) (*app.Stores, error) {
	cfg, err := c.loadConfig(ctx)
	if err != nil {
		return nil, err
	}
	if cfg.DatabaseURL == "" {
		return nil, errors.New("DATABASE_URL is required")
	}
	stores, err := app.OpenStores(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if stores.Redis == nil {
		fmt.Fprintln(os.Stderr, "warning: REDIS_URL not set, live sessions will not be destroyed")
	}
	return stores, nil
}
