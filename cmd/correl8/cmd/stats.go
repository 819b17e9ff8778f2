package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/correl8/correl8/internal/telemetry"
)

// queryStats is what the stats command reports.
type queryStats struct {
	From        string                            `json:"from"`
	To          string                            `json:"to"`
	Kinds       map[telemetry.QueryKind]int64     `json:"kinds"`
	Latency     map[telemetry.LatencyBucket]int64 `json:"latency"`
	TopTerms    []telemetry.TermCount             `json:"top_terms"`
	ZeroResults []string                          `json:"zero_result_queries"`
}

func (a *app) newStatsCmd() *cobra.Command {
	var (
		days       int
		top        int
		jsonOutput bool
	)

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show search statistics recorded by search and serve",
		RunE: func(cmd *cobra.Command, _ []string) error {
			path := os.Getenv(envQueryDB)
			if path == "" {
				path = telemetry.DefaultQueryDBPath()
			}
			qs, err := telemetry.OpenSQLiteQueryStore(path)
			if err != nil {
				return err
			}
			defer func() { _ = qs.Close() }()

			now := time.Now()
			stats := queryStats{
				From: now.AddDate(0, 0, -(max(days, 1) - 1)).Format("2006-01-02"),
				To:   now.Format("2006-01-02"),
			}
			if stats.Kinds, err = qs.KindCounts(stats.From, stats.To); err != nil {
				return err
			}
			if stats.Latency, err = qs.LatencyCounts(stats.From, stats.To); err != nil {
				return err
			}
			if stats.TopTerms, err = qs.TopTerms(top); err != nil {
				return err
			}
			if stats.ZeroResults, err = qs.ZeroResultQueries(top); err != nil {
				return err
			}

			out := newWriter(cmd)
			if jsonOutput {
				return out.JSON(stats)
			}

			var total int64
			for _, n := range stats.Kinds {
				total += n
			}
			out.Header(fmt.Sprintf("Searches %s to %s", stats.From, stats.To))
			out.KeyValue("total", total)
			for _, kind := range []telemetry.QueryKind{telemetry.KindText, telemetry.KindIDs, telemetry.KindMixed, telemetry.KindMatchAll} {
				if n := stats.Kinds[kind]; n > 0 {
					out.KeyValue(string(kind), n)
				}
			}
			if total == 0 {
				return nil
			}

			out.Newline()
			out.Header("Latency")
			for _, b := range []telemetry.LatencyBucket{telemetry.BucketP10, telemetry.BucketP50, telemetry.BucketP100, telemetry.BucketP500, telemetry.BucketP1000} {
				out.KeyValue(string(b), stats.Latency[b])
			}
			if len(stats.TopTerms) > 0 {
				out.Newline()
				out.Header("Top terms")
				for _, tc := range stats.TopTerms {
					out.KeyValue(tc.Term, tc.Count)
				}
			}
			if len(stats.ZeroResults) > 0 {
				out.Newline()
				out.Header("Recent searches without results")
				for _, q := range stats.ZeroResults {
					out.Status("", q)
				}
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&days, "days", 7, "Number of days to summarize")
	cmd.Flags().IntVar(&top, "top", 10, "Number of terms and queries to list")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	return cmd
}
