package main

import (
	"fmt"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/training-stats/internal/cache"
	"github.com/sells-group/training-stats/internal/model"
)

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Manage the stored aggregation cache",
}

var cacheClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Drop cached aggregations, for one dimension or all of them",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		var dim model.Dimension
		if d, _ := cmd.Flags().GetString("dimension"); d != "" {
			parsed, err := model.ParseDimension(d)
			if err != nil {
				return err
			}
			dim = parsed
		}
		expired, _ := cmd.Flags().GetBool("expired")

		st, err := initStore(ctx, cfg)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck
		if err := st.Migrate(ctx); err != nil {
			return err
		}

		if expired {
			n, err := st.DeleteExpiredStats(ctx)
			if err != nil {
				return eris.Wrap(err, "cache clear expired")
			}
			fmt.Fprintf(os.Stdout, "removed %d expired entries\n", n)
			return nil
		}

		facade := cache.New(cache.NewStoreBackend(st), cfg.Cache.TTL(), nil)
		var n int
		if dim == "" {
			n, err = facade.InvalidateAll(ctx)
		} else {
			n, err = facade.InvalidateDimension(ctx, dim)
		}
		if err != nil {
			return err
		}
		fmt.Fprintf(os.Stdout, "removed %d entries\n", n)
		return nil
	},
}

func init() {
	cacheClearCmd.Flags().String("dimension", "", "only clear this dimension")
	cacheClearCmd.Flags().Bool("expired", false, "only remove expired entries")
	cacheCmd.AddCommand(cacheClearCmd)
	rootCmd.AddCommand(cacheCmd)
}
