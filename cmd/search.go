package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/remote-jobs-crawler/internal/crawler"
	"github.com/JakeFAU/remote-jobs-crawler/internal/server"
)

// newSearchCmd creates the 'search' subcommand. It runs one search through
// the same cache and workers the server uses and prints the result as JSON.
func newSearchCmd() *cobra.Command {
	var filters crawler.Filters
	cmd := &cobra.Command{
		Use:   "search TERM",
		Short: "Search job listings once and print the result",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if filters.MinSalary < 0 {
				return fmt.Errorf("--min-salary must be >= 0")
			}
			e, err := resolveEnv(cmd.Context())
			if err != nil {
				return err
			}
			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()

			app, err := server.Build(ctx, e.cfg, e.logger)
			if err != nil {
				return fmt.Errorf("build application: %w", err)
			}
			app.Start(ctx)
			defer app.Close(context.WithoutCancel(ctx))

			query := crawler.SearchQuery{Term: strings.Join(args, " "), Filters: filters}
			result, err := app.Pipeline().Search(ctx, query)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			if err := enc.Encode(result); err != nil {
				return fmt.Errorf("encode result: %w", err)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&filters.Location, "location", "", "keep listings whose location contains this text")
	cmd.Flags().StringVar(&filters.Company, "company", "", "keep listings whose company contains this text")
	cmd.Flags().StringVar(&filters.Benefits, "benefits", "", "keep listings with a tag containing this text")
	cmd.Flags().IntVar(&filters.MinSalary, "min-salary", 0, "keep listings whose top salary reaches this value")
	return cmd
}
