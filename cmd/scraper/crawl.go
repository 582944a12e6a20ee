package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/v-bible/scraping/internal/app"
)

func newCrawlCmd(appOpts []app.Option) *cobra.Command {
	return &cobra.Command{
		Use:   "crawl",
		Short: "Run one crawl of the configured catalog",
		Long: `Discovers the catalog, selects the target edition and stores its books,
chapters and verses. The run summary is printed as JSON on success.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := resolveEnv(cmd.Context())
			if err != nil {
				return err
			}
			a, err := app.New(cmd.Context(), e.cfg, e.logger, appOpts...)
			if err != nil {
				return fmt.Errorf("initialize services: %w", err)
			}
			defer func() {
				if cerr := a.Close(); cerr != nil {
					e.logger.Warn("failed to close services", zap.Error(cerr))
				}
			}()

			summary, err := a.Run(cmd.Context())
			if err != nil {
				return fmt.Errorf("crawl failed at stage %s: %w", summary.Stage, err)
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(summary)
		},
	}
}
