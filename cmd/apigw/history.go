package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/loykin/apigw/internal/store"
)

var historyLimit int

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List the most recent aggregation runs from the store",
	RunE: func(cmd *cobra.Command, args []string) error {
		doc, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		if !doc.Store.Enabled {
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), "Store is disabled - no run history available")
			return nil
		}
		st, err := store.Open(cmd.Context(), doc.ToStoreConfig())
		if err != nil {
			return err
		}
		defer func() { _ = st.Close() }()

		runs, err := st.List(cmd.Context(), historyLimit)
		if err != nil {
			return err
		}
		if len(runs) == 0 {
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), "(no runs)")
			return nil
		}
		tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		_, _ = fmt.Fprintln(tw, "RAN AT\tENTITY\tSTATE\tSTATUS\tPRIMARY\tRELATED\tSTATS\tCACHED\tMS")
		for _, r := range runs {
			_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\t%s\t%s\t%t\t%d\n",
				r.RanAt, r.EntityID, r.State, r.StatusCode, r.Primary, r.Related, r.Stats, r.Cached, r.DurationMS)
		}
		return tw.Flush()
	},
}

func init() {
	historyCmd.Flags().IntVar(&historyLimit, "limit", 20, "number of runs to show")
}
