package cmd

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/remote-jobs-crawler/internal/crawler"
	"github.com/JakeFAU/remote-jobs-crawler/internal/server"
)

// newCacheCmd groups the cache maintenance subcommands. They open the cache
// directly, so the disk backend must not be held by a running server.
func newCacheCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Inspect and prune the listing cache",
	}
	cmd.AddCommand(newCacheListCmd())
	cmd.AddCommand(newCachePruneCmd())
	return cmd
}

func newCacheListCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "ls",
		Aliases: []string{"list"},
		Short:   "List cached search terms",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withCache(cmd, func(ctx context.Context, cache crawler.CacheStore) error {
				infos, err := cache.List(ctx)
				if err != nil {
					return fmt.Errorf("list cache: %w", err)
				}
				table := tablewriter.NewWriter(cmd.OutOrStdout())
				table.Header("TERM", "BYTES", "UPDATED")
				for _, info := range infos {
					if err := table.Append(info.Term, strconv.FormatInt(info.Bytes, 10), info.UpdatedAt.Format(time.RFC3339)); err != nil {
						return fmt.Errorf("render cache table: %w", err)
					}
				}
				if err := table.Render(); err != nil {
					return fmt.Errorf("render cache table: %w", err)
				}
				stats := cache.Stats()
				fmt.Fprintf(cmd.OutOrStdout(), "%d entries, %d of %d bytes\n", stats.Entries, stats.TotalBytes, stats.BudgetBytes)
				return nil
			})
		},
	}
}

func newCachePruneCmd() *cobra.Command {
	var all bool
	cmd := &cobra.Command{
		Use:   "prune [TERM...]",
		Short: "Delete cached terms, or trim the cache to its budget",
		Long: `With TERM arguments, prune deletes those entries. With --all it deletes
every entry. With neither, it evicts entries until the cache fits its budget.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if all && len(args) > 0 {
				return fmt.Errorf("--all cannot be combined with terms")
			}
			return withCache(cmd, func(ctx context.Context, cache crawler.CacheStore) error {
				terms := args
				if all {
					infos, err := cache.List(ctx)
					if err != nil {
						return fmt.Errorf("list cache: %w", err)
					}
					for _, info := range infos {
						terms = append(terms, info.Term)
					}
				}
				if len(terms) == 0 {
					before := cache.Stats()
					if err := cache.EvictIfOverBudget(ctx); err != nil {
						return fmt.Errorf("trim cache: %w", err)
					}
					after := cache.Stats()
					fmt.Fprintf(cmd.OutOrStdout(), "evicted %d entries\n", before.Entries-after.Entries)
					return nil
				}
				for _, term := range terms {
					if err := cache.Delete(ctx, term); err != nil {
						return fmt.Errorf("delete %q: %w", term, err)
					}
				}
				fmt.Fprintf(cmd.OutOrStdout(), "deleted %d entries\n", len(terms))
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "delete every cached entry")
	return cmd
}

func withCache(cmd *cobra.Command, fn func(context.Context, crawler.CacheStore) error) error {
	e, err := resolveEnv(cmd.Context())
	if err != nil {
		return err
	}
	cache, err := server.OpenCache(e.cfg.Cache, e.logger)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := cache.Close(); cerr != nil {
			e.logger.Warn("cache close failed", zap.Error(cerr))
		}
	}()
	return fn(cmd.Context(), cache)
}
