package cli

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"pdfslim/internal/history"
)

func newHistoryCmd(opts *rootOptions) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recent compression runs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			store, err := history.Open(opts.historyPath)
			if err != nil {
				return fmt.Errorf("open history: %w", err)
			}
			defer store.Close()

			recs, err := store.Recent(cmd.Context(), limit)
			if err != nil {
				return err
			}
			if len(recs) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "no runs recorded")
				return nil
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "WHEN\tOUTPUT\tBEFORE\tAFTER\tSAVED\tSTAGES")
			for _, r := range recs {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%.1f%%\t%s\n",
					r.CreatedAt.Format(time.DateTime),
					r.OutputPath,
					humanBytes(r.OriginalSize),
					humanBytes(r.CompressedSize),
					r.SavedPercent,
					r.Stages)
			}
			return w.Flush()
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "maximum number of runs to list")

	cmd.AddCommand(&cobra.Command{
		Use:   "stats",
		Short: "Show aggregate savings across all runs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			store, err := history.Open(opts.historyPath)
			if err != nil {
				return fmt.Errorf("open history: %w", err)
			}
			defer store.Close()

			st, err := store.TotalStats(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "runs: %d\nbytes in: %s\nbytes out: %s\nsaved: %s\n",
				st.Runs, humanBytes(st.BytesIn), humanBytes(st.BytesOut), humanBytes(st.BytesSaved))
			return nil
		},
	})

	return cmd
}

// humanBytes renders a byte count for terminal output.
func humanBytes(n int64) string {
	const unit = 1024
	if n < unit && n > -unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	abs := n
	if abs < 0 {
		abs = -abs
	}
	for v := abs / unit; v >= unit; v /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
