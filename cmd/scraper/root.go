package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/v-bible/scraping/internal/app"
	"github.com/v-bible/scraping/internal/config"
	"github.com/v-bible/scraping/internal/logging"
)

type envKey struct{}

// env carries what PersistentPreRunE loaded to the subcommands.
type env struct {
	cfg    config.Config
	logger *zap.Logger
}

// newRootCmd builds the command tree. appOpts are passed to app.New by the
// crawl command.
func newRootCmd(appOpts ...app.Option) *cobra.Command {
	var cfgFile string

	crawl := newCrawlCmd(appOpts)
	cmd := &cobra.Command{
		Use:   "scraper",
		Short: "Crawl a scripture catalog into a relational store",
		Long: `scraper walks the catalog of a scripture site (languages, editions and their
formats, then the books, chapters and verses of the target edition) and
upserts every record, so repeated runs converge on the same rows.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.NoArgs,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			logger, err := logging.New(cfg.Logging.Development)
			if err != nil {
				return fmt.Errorf("init logger: %w", err)
			}
			cmd.SetContext(context.WithValue(cmd.Context(), envKey{}, &env{cfg: cfg, logger: logger}))
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, _ []string) {
			if e, err := resolveEnv(cmd.Context()); err == nil {
				_ = e.logger.Sync()
			}
		},
		RunE: crawl.RunE,
	}
	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (YAML); env vars use the SCRAPER_ prefix")

	cmd.AddCommand(crawl, newMigrateCmd(), newVerifyCmd())
	return cmd
}

func resolveEnv(ctx context.Context) (*env, error) {
	if ctx == nil {
		return nil, errors.New("configuration not loaded")
	}
	e, ok := ctx.Value(envKey{}).(*env)
	if !ok || e == nil {
		return nil, errors.New("configuration not loaded")
	}
	return e, nil
}
