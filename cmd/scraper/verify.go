package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/v-bible/scraping/internal/app"
	"github.com/v-bible/scraping/internal/model"
)

type verifyReport struct {
	Stats   model.Stats        `json:"stats"`
	Orphans model.OrphanReport `json:"orphans"`
}

func newVerifyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "verify",
		Short: "Print stored row counts and fail when orphan rows exist",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := resolveEnv(cmd.Context())
			if err != nil {
				return err
			}
			store, err := app.OpenStore(cmd.Context(), e.cfg)
			if err != nil {
				return err
			}
			defer store.Close()

			var report verifyReport
			if report.Stats, err = store.Stats(cmd.Context()); err != nil {
				return fmt.Errorf("load stats: %w", err)
			}
			if report.Orphans, err = store.Orphans(cmd.Context()); err != nil {
				return fmt.Errorf("scan orphans: %w", err)
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			if err := enc.Encode(report); err != nil {
				return err
			}
			if n := report.Orphans.Total(); n > 0 {
				return fmt.Errorf("found %d orphan rows", n)
			}
			return nil
		},
	}
}
