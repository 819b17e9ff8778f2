package cmd

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	cerrors "github.com/correl8/correl8/internal/errors"
	"github.com/correl8/correl8/internal/telemetry"
	"github.com/correl8/correl8/internal/ui"
	"github.com/correl8/correl8/internal/watcher"
	"github.com/correl8/correl8/pkg/correl8"
	"github.com/correl8/correl8/pkg/store"
)

// maxLineBytes bounds one NDJSON document.
const maxLineBytes = 16 << 20

func (a *app) newInsertCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "insert [json]",
		Short: "Insert one record",
		Long: `Insert one JSON object into the active index. Without an argument the
object is read from stdin. An "id" field is used as the document id, so
inserting again replaces the record. The "timestamp" field is normalized
to UTC; unparseable or missing values become the current time.`,
		Example: `  correl8 insert -t steps '{"id": "2024-01-01", "timestamp": 1704067200, "steps": 9120}'
  echo '{"steps": 400}' | correl8 insert -t steps`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var data []byte
			if len(args) == 1 {
				data = []byte(args[0])
			} else {
				var err error
				if data, err = io.ReadAll(cmd.InOrStdin()); err != nil {
					return fmt.Errorf("failed to read stdin: %w", err)
				}
			}
			doc, err := decodeDocument(data)
			if err != nil {
				return err
			}

			h, _, err := a.openHandle(cmd.Context())
			if err != nil {
				return err
			}
			defer closeHandle(h, a.logger)

			id, err := h.Insert(cmd.Context(), doc)
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), id)
			return nil
		},
	}
}

func decodeDocument(data []byte) (store.Document, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var doc store.Document
	if err := dec.Decode(&doc); err != nil {
		return nil, cerrors.New(cerrors.ErrCodeInvalidDocument, "record is not a JSON object", err)
	}
	if len(doc) == 0 {
		return nil, cerrors.New(cerrors.ErrCodeInvalidDocument, "record is empty", nil)
	}
	return normalizeNumbers(doc).(store.Document), nil
}

// normalizeNumbers turns json.Number into int64 where exact, float64 otherwise.
func normalizeNumbers(v any) any {
	switch t := v.(type) {
	case json.Number:
		if i, err := t.Int64(); err == nil {
			return i
		}
		f, _ := t.Float64()
		return f
	case store.Document:
		for k, e := range t {
			t[k] = normalizeNumbers(e)
		}
		return t
	case []any:
		for i, e := range t {
			t[i] = normalizeNumbers(e)
		}
		return t
	default:
		return v
	}
}

func (a *app) newBulkCmd() *cobra.Command {
	var (
		batchSize int
		timeout   time.Duration
		action    string
		follow    bool
		noTUI     bool
	)

	cmd := &cobra.Command{
		Use:   "bulk [file]",
		Short: "Index, update or delete many records from NDJSON",
		Long: `Read one JSON object per line from a file (or stdin) and send them to
the active index in bulk batches. The "id" field names the document.
With --action delete each line only needs an id. Documents are stored as
given; timestamps are not normalized.

With --follow the file is read and then followed like tail -F: appended
lines are sent as they arrive until interrupted.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := parseBulkAction(action); err != nil {
				return err
			}
			if batchSize <= 0 {
				batchSize = 500
			}
			if follow {
				if len(args) == 0 {
					return cerrors.ValidationError("--follow needs a file", nil).
						WithSuggestion("Pass the NDJSON file to follow")
				}
				return a.followBulk(cmd, args[0], store.BulkAction(action), batchSize, timeout, noTUI)
			}

			in := cmd.InOrStdin()
			if len(args) == 1 {
				f, err := os.Open(args[0])
				if err != nil {
					return cerrors.ValidationError(fmt.Sprintf("cannot open %s", args[0]), err)
				}
				defer func() { _ = f.Close() }()
				in = f
			}
			ops, err := readBulkOps(in, store.BulkAction(action))
			if err != nil {
				return err
			}

			h, _, err := a.openHandle(cmd.Context())
			if err != nil {
				return err
			}
			defer closeHandle(h, a.logger)

			progress := newProgress(cmd, noTUI, fmt.Sprintf("bulk %s into %s", action, h.Index()))
			if err := progress.Start(cmd.Context()); err != nil {
				return err
			}
			defer func() { _ = progress.Stop() }()

			started := time.Now()
			batches := (len(ops) + batchSize - 1) / batchSize
			failed := 0
			for start, batch := 0, 1; start < len(ops); start, batch = start+batchSize, batch+1 {
				end := min(start+batchSize, len(ops))
				n, err := a.sendBulk(cmd.Context(), h, ops[start:end], timeout, progress)
				if err != nil {
					return err
				}
				failed += n
				progress.UpdateProgress(ui.ProgressEvent{
					Stage:   ui.StageSending,
					Current: end,
					Total:   len(ops),
					Message: fmt.Sprintf("batch %d/%d", batch, batches),
				})
			}
			progress.Complete(ui.CompletionStats{
				Action:   action,
				Index:    h.Index(),
				Records:  len(ops),
				Batches:  batches,
				Failed:   failed,
				Duration: time.Since(started),
			})

			if failed > 0 {
				return cerrors.New(cerrors.ErrCodeStoreFailed,
					fmt.Sprintf("%d of %d bulk operations failed", failed, len(ops)), nil)
			}
			newWriter(cmd).Successf("%s %d records in %s", action, len(ops), h.Index())
			return nil
		},
	}

	cmd.Flags().IntVar(&batchSize, "batch-size", 500, "Records per bulk request")
	cmd.Flags().DurationVar(&timeout, "timeout", 0, "Server-side bulk timeout (0 uses the store default)")
	cmd.Flags().StringVar(&action, "action", string(store.BulkIndex), "Bulk action: index, update or delete")
	cmd.Flags().BoolVarP(&follow, "follow", "f", false, "Keep sending lines appended to the file")
	cmd.Flags().BoolVar(&noTUI, "no-tui", false, "Print progress as plain lines instead of the live view")
	return cmd
}

// newProgress returns the bulk progress renderer. It draws on stderr so
// stdout stays clean for the summary line.
func newProgress(cmd *cobra.Command, plain bool, title string) ui.Renderer {
	return ui.NewRenderer(ui.NewConfig(cmd.ErrOrStderr(),
		ui.WithForcePlain(plain),
		ui.WithTitle(title),
	))
}

// sendBulk sends one batch, reporting and logging its failed items. It
// returns the number of failures.
func (a *app) sendBulk(ctx context.Context, h *correl8.Handle, ops []store.BulkOp, timeout time.Duration, progress ui.Renderer) (int, error) {
	res, err := h.Bulk(ctx, ops, timeout)
	if err != nil {
		return 0, err
	}
	failed := res.Failed()
	for _, item := range failed {
		a.logger.Warn("bulk_item_failed",
			"id", item.ID, "status", item.Status, "error", item.Error)
		progress.AddError(ui.ErrorEvent{
			ID:  item.ID,
			Err: fmt.Errorf("status %d: %s", item.Status, item.Error),
		})
	}
	return len(failed), nil
}

// followBulk sends the file's lines and then those appended to it, one
// bulk request per burst of lines, until interrupted. Bad lines are logged
// and skipped.
func (a *app) followBulk(cmd *cobra.Command, path string, action store.BulkAction, batchSize int, timeout time.Duration, noTUI bool) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	h, _, err := a.openHandle(ctx)
	if err != nil {
		return err
	}
	defer closeHandle(h, a.logger)

	out := newWriter(cmd)
	progress := newProgress(cmd, noTUI, fmt.Sprintf("follow %s into %s", path, h.Index()))
	if err := progress.Start(ctx); err != nil {
		return err
	}
	defer func() { _ = progress.Stop() }()

	var (
		pending                          []store.BulkOp
		line                             int
		sent, failures, skipped, batches int
	)
	started := time.Now()
	flush := func() error {
		if len(pending) == 0 {
			return nil
		}
		n, err := a.sendBulk(ctx, h, pending, timeout, progress)
		if err != nil {
			return err
		}
		sent += len(pending)
		failures += n
		batches++
		pending = pending[:0]
		progress.UpdateProgress(ui.ProgressEvent{
			Stage:   ui.StageFollowing,
			Current: sent,
			Message: fmt.Sprintf("line %d", line),
		})
		return nil
	}

	opts := watcher.Options{FromStart: true, MaxLineBytes: maxLineBytes, Logger: a.logger, AfterRead: flush}
	out.Statusf("👀", "Following %s (Ctrl+C to stop)", path)
	err = watcher.Follow(ctx, path, opts, func(raw []byte) error {
		line++
		op, ok, err := parseBulkLine(raw, line, action)
		if err != nil {
			a.logger.Warn("bulk_line_skipped", "line", line, "error", err.Error())
			skipped++
			progress.AddError(ui.ErrorEvent{Line: line, Err: err, IsWarn: true})
			return nil
		}
		if !ok {
			return nil
		}
		pending = append(pending, op)
		if len(pending) >= batchSize {
			return flush()
		}
		return nil
	})
	if err != nil && ctx.Err() == nil {
		return err
	}
	// Lines read before the interrupt but not yet sent.
	if err := flush(); err != nil && ctx.Err() == nil {
		return err
	}

	progress.Complete(ui.CompletionStats{
		Action:   string(action),
		Index:    h.Index(),
		Records:  sent,
		Batches:  batches,
		Failed:   failures,
		Skipped:  skipped,
		Duration: time.Since(started),
	})
	out.Successf("%s %d records in %s", action, sent, h.Index())
	if failures > 0 {
		return cerrors.New(cerrors.ErrCodeStoreFailed,
			fmt.Sprintf("%d of %d bulk operations failed", failures, sent), nil)
	}
	return nil
}

func parseBulkAction(action string) (store.BulkAction, error) {
	switch a := store.BulkAction(action); a {
	case store.BulkIndex, store.BulkUpdate, store.BulkDelete:
		return a, nil
	default:
		return "", cerrors.ValidationError(fmt.Sprintf("unknown bulk action %q", action), nil).
			WithSuggestion("Use index, update or delete")
	}
}

// parseBulkLine parses one NDJSON line. Blank lines report ok=false.
func parseBulkLine(raw []byte, line int, action store.BulkAction) (store.BulkOp, bool, error) {
	text := bytes.TrimSpace(raw)
	if len(text) == 0 {
		return store.BulkOp{}, false, nil
	}
	doc, err := decodeDocument(text)
	if err != nil {
		return store.BulkOp{}, false, cerrors.New(cerrors.ErrCodeInvalidDocument,
			fmt.Sprintf("line %d: record is not a JSON object", line), err)
	}
	id := correl8.DocumentID(doc)
	if action != store.BulkIndex && id == "" {
		return store.BulkOp{}, false, cerrors.New(cerrors.ErrCodeInvalidDocument,
			fmt.Sprintf("line %d: %s needs an id", line, action), nil)
	}
	op := store.BulkOp{Action: action, ID: id}
	if action != store.BulkDelete {
		op.Doc = doc
	}
	return op, true, nil
}

// readBulkOps parses NDJSON into bulk operations without an index; the
// handle scopes them to the active index.
func readBulkOps(r io.Reader, action store.BulkAction) ([]store.BulkOp, error) {
	if _, err := parseBulkAction(string(action)); err != nil {
		return nil, err
	}

	var ops []store.BulkOp
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	line := 0
	for scanner.Scan() {
		line++
		op, ok, err := parseBulkLine(scanner.Bytes(), line, action)
		if err != nil {
			return nil, err
		}
		if ok {
			ops = append(ops, op)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read records: %w", err)
	}
	return ops, nil
}

func (a *app) newSearchCmd() *cobra.Command {
	var (
		ids    []string
		size   int
		from   int
		sortBy []string
		all    bool
		asJSON bool
	)

	cmd := &cobra.Command{
		Use:   "search [query]",
		Short: "Search the active index",
		Long: `Search the active index with a query string (field:value, quoted
phrases, boolean operators). No query matches everything. With --all the
results are paged through a scroll and printed as NDJSON sources.`,
		Example: `  correl8 search -t sleep 'quality:good' --sort -timestamp --size 5
  correl8 search -t sleep --all > sleep.ndjson`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			q := store.Query{IDs: ids, Size: size, From: from, Sort: sortBy}
			if len(args) == 1 {
				q.Text = args[0]
			}

			ctx := cmd.Context()
			h, _, err := a.openHandle(ctx)
			if err != nil {
				return err
			}
			defer closeHandle(h, a.logger)

			if all {
				return scrollAll(cmd, h, q)
			}

			queries := a.openQueryLog()
			defer func() { _ = queries.Close() }()

			start := time.Now()
			res, err := h.Search(ctx, q)
			if err != nil {
				return err
			}
			queries.Record(telemetry.EventFor(h.Index(), q, res, start))

			out := newWriter(cmd)
			if asJSON {
				return out.JSON(res)
			}
			out.Hits(res)
			return nil
		},
	}

	cmd.Flags().StringSliceVar(&ids, "ids", nil, "Restrict to these document ids")
	cmd.Flags().IntVarP(&size, "size", "n", store.DefaultSize, "Number of hits")
	cmd.Flags().IntVar(&from, "from", 0, "Offset of the first hit")
	cmd.Flags().StringSliceVar(&sortBy, "sort", nil, "Sort fields, prefix with - for descending")
	cmd.Flags().BoolVar(&all, "all", false, "Scroll through every match and print NDJSON")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the raw search result")
	return cmd
}

// scrollPageSize is the smallest page fetched per scroll request.
const scrollPageSize = 500

// scrollAll prints every matching source as one JSON line.
func scrollAll(cmd *cobra.Command, h *correl8.Handle, q store.Query) error {
	ctx := cmd.Context()
	enc := json.NewEncoder(cmd.OutOrStdout())
	q.Size = max(q.Size, scrollPageSize)

	res, err := h.StartScroll(ctx, q, 0)
	for err == nil && len(res.Hits) > 0 {
		for _, hit := range res.Hits {
			if err := enc.Encode(hit.Source); err != nil {
				return err
			}
		}
		res, err = h.Scroll(ctx, res.ScrollID, 0)
	}
	return err
}

// deleteBatchSize is the page size for collecting and deleting matches.
const deleteBatchSize = 1000

// matchingDeletes scrolls through q and returns a delete for every hit.
// Collecting first keeps deletes from shifting later pages.
func matchingDeletes(cmd *cobra.Command, h *correl8.Handle, q store.Query) ([]store.BulkOp, error) {
	ctx := cmd.Context()
	q.Size = deleteBatchSize

	var ops []store.BulkOp
	res, err := h.StartScroll(ctx, q, 0)
	for err == nil && len(res.Hits) > 0 {
		for _, hit := range res.Hits {
			ops = append(ops, store.BulkOp{Action: store.BulkDelete, Index: hit.Index, ID: hit.ID})
		}
		res, err = h.Scroll(ctx, res.ScrollID, 0)
	}
	return ops, err
}

func (a *app) newDeleteCmd() *cobra.Command {
	var query string

	cmd := &cobra.Command{
		Use:   "delete [id]",
		Short: "Delete a record by id, or every record matching --query",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if (len(args) == 1) == (query != "") {
				return cerrors.ValidationError("give either an id or --query", nil)
			}

			ctx := cmd.Context()
			h, _, err := a.openHandle(ctx)
			if err != nil {
				return err
			}
			defer closeHandle(h, a.logger)

			out := newWriter(cmd)
			if len(args) == 1 {
				if err := h.DeleteOne(ctx, args[0]); err != nil {
					return err
				}
				out.Successf("Deleted %s", args[0])
				return nil
			}

			ops, err := matchingDeletes(cmd, h, store.Query{Text: query})
			if err != nil {
				return err
			}
			for start := 0; start < len(ops); start += deleteBatchSize {
				res, err := h.Bulk(ctx, ops[start:min(start+deleteBatchSize, len(ops))], 0)
				if err != nil {
					return err
				}
				if failed := res.Failed(); len(failed) > 0 {
					return cerrors.New(cerrors.ErrCodeStoreFailed,
						fmt.Sprintf("%d deletes failed", len(failed)), nil)
				}
			}
			deleted := len(ops)
			out.Successf("Deleted %d records", deleted)
			return nil
		},
	}

	cmd.Flags().StringVarP(&query, "query", "q", "", "Delete every record matching this query")
	return cmd
}
