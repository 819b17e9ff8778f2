package cmd

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/correl8/correl8/internal/backend"
	cerrors "github.com/correl8/correl8/internal/errors"
	"github.com/correl8/correl8/internal/preflight"
	"github.com/correl8/correl8/pkg/correl8"
	"github.com/correl8/correl8/pkg/store"
)

func (a *app) newDoctorCmd() *cobra.Command {
	var (
		verbose    bool
		jsonOutput bool
		timeout    time.Duration
	)

	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Check the store connection and local environment",
		Long: `Check that the configured store is reachable, that the indexes of the
selected type exist, and that the local data directory is usable.
Exits non-zero when a required check fails.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			cfg, err := a.loadConfig()
			if err != nil {
				return err
			}

			var target preflight.Target
			if strings.EqualFold(cfg.Store.Backend, store.BackendLocal) {
				target.DataDir = cfg.Store.DataDir
			}
			if docType := strings.TrimSpace(cfg.Index.DocType); docType != "" {
				target.Index, target.ConfigIndex = correl8.IndexNames(cfg.Index.BaseName, docType)
			}

			checker := preflight.New(
				preflight.WithOutput(cmd.OutOrStdout()),
				preflight.WithVerbose(verbose),
				preflight.WithCheckTimeout(timeout),
			)
			// The data directory is checked before the local store creates it.
			var results []preflight.CheckResult
			if target.DataDir != "" {
				results = append(results,
					checker.CheckWritePermissions(target.DataDir),
					checker.CheckDiskSpace(target.DataDir))
				target.DataDir = ""
			}

			s, err := backend.Open(ctx, cfg.Connection(), a.logger)
			if err == nil {
				target.Store = s
				defer func() { _ = s.Close() }()
			}
			target.StoreErr = err
			results = append(results, checker.RunAll(ctx, target)...)

			var failure error
			if checker.HasCriticalFailures(results) {
				failure = cerrors.New(cerrors.ErrCodeStoreUnavailable, "required checks failed", nil).
					WithSuggestion("Fix the failed checks above and run correl8 doctor again")
			}

			if !jsonOutput {
				checker.PrintResults(results)
				return failure
			}
			report := map[string]any{
				"status": checker.SummaryStatus(results),
				"checks": results,
			}
			if failure != nil {
				report["error"] = cerrors.AsJSON(failure)
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			if err := enc.Encode(report); err != nil {
				return err
			}
			if failure != nil {
				return reportedError{failure}
			}
			return nil
		},
	}

	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Show details for passing checks")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	cmd.Flags().DurationVar(&timeout, "timeout", preflight.DefaultCheckTimeout, "Timeout for each store check")
	return cmd
}
