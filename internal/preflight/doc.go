// Package preflight checks that correl8 can reach its store and write its
// files before the user starts indexing.
//
// The checks cover:
//   - Store reachability (an index existence check)
//   - Initialization of the active and config indexes
//   - Write permission and free space in the local data directory
//   - The file descriptor limit (bleve keeps many segment files open)
//
//	checker := preflight.New(preflight.WithOutput(os.Stdout))
//	results := checker.RunAll(ctx, target)
//	if checker.HasCriticalFailures(results) {
//	    // report and exit non-zero
//	}
package preflight
