package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/correl8/correl8/configs"
	cerrors "github.com/correl8/correl8/internal/errors"
	"github.com/correl8/correl8/pkg/schema"
	"github.com/correl8/correl8/pkg/store"
)

// events runs a command against the events type of an isolated local store.
func events(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	return run(t, stdin, append(args, "-t", "events", "--dir", filepath.Join(os.Getenv("HOME"), "project"))...)
}

func initEvents(t *testing.T) {
	t.Helper()
	_, err := events(t, "", "init", "--field", "device=string", "--field", "note=text", "--field", "steps=long")
	require.NoError(t, err)
}

func TestInsert_RequiresInit(t *testing.T) {
	isolate(t)

	_, err := events(t, `{"steps": 1}`, "insert")

	assert.Equal(t, cerrors.ErrCodeNotInitialized, cerrors.GetCode(err))
}

func TestRecordLifecycle(t *testing.T) {
	// Given: an initialized index
	isolate(t)
	initEvents(t)

	// When: inserting, searching and deleting
	id, err := events(t, "", "insert", `{"id": "r1", "device": "watch", "note": "evening walk", "steps": 100}`)
	require.NoError(t, err)
	_, err = events(t, `{"device": "ring", "steps": 5}`, "insert")
	require.NoError(t, err)
	found, err := events(t, "", "search", "note:walk")
	require.NoError(t, err)
	status, err := events(t, "", "status")
	require.NoError(t, err)
	_, err = events(t, "", "delete", "r1")
	require.NoError(t, err)
	_, err = events(t, "", "delete", "r1")

	// Then: each step reports what happened
	assert.Equal(t, "r1\n", id)
	assert.Contains(t, found, "r1")
	assert.Contains(t, found, "1 of 1 document(s)")
	assert.Contains(t, status, "correl8-elastic-events")
	assert.Regexp(t, `documents:\s+2`, status)
	assert.Regexp(t, `fields:\s+4`, status)
	assert.ErrorIs(t, err, store.ErrDocumentNotFound)
}

func TestInit_FromMappingFile(t *testing.T) {
	// Given: a complete mapping on disk
	home := isolate(t)
	path := filepath.Join(home, "mapping.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"mappings": {"properties": {"score": {"type": "float"}}}}`), 0o600))

	// When: initializing from it
	_, err := events(t, "", "init", "--file", path)
	require.NoError(t, err)
	out, err := events(t, "", "mapping", "--json")

	// Then: the mapping is applied verbatim
	require.NoError(t, err)
	var m schema.Mapping
	require.NoError(t, json.Unmarshal([]byte(out), &m))
	assert.Equal(t, map[string]schema.FieldSpec{"score": {Type: "float"}}, m.Properties)
}

func TestBulk_NDJSON(t *testing.T) {
	// Given: three records on stdin
	isolate(t)
	initEvents(t)
	input := `{"id": "a", "device": "watch", "steps": 1}

{"id": "b", "device": "watch", "steps": 2}
{"id": "c", "device": "ring", "steps": 3}
`

	// When: bulk indexing and then deleting by query
	out, err := events(t, input, "bulk", "--batch-size", "2")
	require.NoError(t, err)
	deleted, err := events(t, "", "delete", "--query", "device:watch")
	require.NoError(t, err)
	all, err := events(t, "", "search", "--all")
	require.NoError(t, err)

	// Then: only the ring record is left
	assert.Contains(t, out, "index 3 records")
	assert.Contains(t, deleted, "Deleted 2 records")
	lines := strings.Split(strings.TrimSpace(all), "\n")
	require.Len(t, lines, 1)
	assert.Contains(t, lines[0], `"device":"ring"`)
}

func TestBulk_ReportsBatchesOnStderr(t *testing.T) {
	// Given: three records sent in batches of two
	home := isolate(t)
	initEvents(t)
	root := NewRootCmd()
	var stdout, stderr bytes.Buffer
	root.SetOut(&stdout)
	root.SetErr(&stderr)
	root.SetIn(strings.NewReader("{\"id\": \"a\"}\n{\"id\": \"b\"}\n{\"id\": \"c\"}\n"))
	root.SetArgs([]string{"bulk", "--batch-size", "2", "--no-tui", "-t", "events", "--dir", filepath.Join(home, "project")})

	// When: running the bulk load
	require.NoError(t, root.Execute())

	// Then: each batch is reported on stderr and stdout keeps the summary
	progress := stderr.String()
	assert.Contains(t, progress, "bulk index into correl8-elastic-events\n")
	assert.Contains(t, progress, "[SEND] 2/3 - batch 1/2\n")
	assert.Contains(t, progress, "[SEND] 3/3 - batch 2/2\n")
	assert.Contains(t, progress, "Complete: index 3 records into correl8-elastic-events")
	assert.NotContains(t, stdout.String(), "[SEND]")
	assert.Contains(t, stdout.String(), "index 3 records")
}

func TestDelete_NeedsIDOrQuery(t *testing.T) {
	isolate(t)

	_, err := events(t, "", "delete")
	assert.Equal(t, cerrors.ErrCodeInvalidInput, cerrors.GetCode(err))

	_, err = events(t, "", "delete", "x", "--query", "y")
	assert.Equal(t, cerrors.ErrCodeInvalidInput, cerrors.GetCode(err))
}

func TestConfigGetSet(t *testing.T) {
	// Given: an index without settings
	isolate(t)
	initEvents(t)
	_, err := events(t, "", "config", "get")
	assert.Equal(t, cerrors.ErrCodeDocumentNotFound, cerrors.GetCode(err))

	// When: storing keys in two calls
	_, err = events(t, "", "config", "set", "token=abc", "n=5")
	require.NoError(t, err)
	_, err = events(t, "", "config", "set", "token=def")
	require.NoError(t, err)

	// Then: the document is merged
	token, err := events(t, "", "config", "get", "token")
	require.NoError(t, err)
	n, err := events(t, "", "config", "get", "n")
	require.NoError(t, err)
	assert.Equal(t, "\"def\"\n", token)
	assert.Equal(t, "5\n", n)
}

func TestClearAndRemove_NeedConfirmation(t *testing.T) {
	// Given: an index with a record
	isolate(t)
	initEvents(t)
	_, err := events(t, "", "insert", `{"steps": 1}`)
	require.NoError(t, err)

	// When/Then: clear and remove refuse without --yes
	_, err = events(t, "", "clear")
	assert.Contains(t, cerrors.FormatForCLI(err, false), "Pass --yes")
	_, err = events(t, "", "remove")
	assert.Error(t, err)

	// When: confirming
	_, err = events(t, "", "clear", "--yes")
	require.NoError(t, err)
	cleared, err := events(t, "", "status")
	require.NoError(t, err)
	_, err = events(t, "", "remove", "-y")
	require.NoError(t, err)
	removed, err := events(t, "", "status")
	require.NoError(t, err)

	// Then: clear empties and remove drops the index
	assert.Regexp(t, `documents:\s+0`, cleared)
	assert.Regexp(t, `initialized:\s+false`, removed)
}

func TestStats_CountsCLISearches(t *testing.T) {
	// Given: two searches, one without results
	isolate(t)
	initEvents(t)
	_, err := events(t, "", "insert", `{"note": "morning run"}`)
	require.NoError(t, err)
	_, err = events(t, "", "search", "note:run")
	require.NoError(t, err)
	_, err = events(t, "", "search", "note:swim")
	require.NoError(t, err)

	// When: reading stats
	out, err := run(t, "", "stats", "--json")
	require.NoError(t, err)

	// Then: both searches and the miss are reported
	var stats queryStats
	require.NoError(t, json.Unmarshal([]byte(out), &stats))
	assert.Equal(t, int64(2), stats.Kinds["text"])
	assert.Equal(t, []string{"note:swim"}, stats.ZeroResults)
}

func TestConfigFileCommands(t *testing.T) {
	// Given: no user config
	isolate(t)

	// When: creating, forcing a rewrite and restoring
	path, err := run(t, "", "config", "path")
	require.NoError(t, err)
	_, err = run(t, "", "config", "init")
	require.NoError(t, err)
	again, err := run(t, "", "config", "init")
	require.NoError(t, err)
	_, err = run(t, "", "config", "init", "--force")
	require.NoError(t, err)
	backups, err := run(t, "", "config", "restore", "--list")
	require.NoError(t, err)
	_, err = run(t, "", "config", "restore")
	require.NoError(t, err)

	// Then: the file exists and one backup was taken before the rewrite
	data, err := os.ReadFile(strings.TrimSpace(path))
	require.NoError(t, err)
	assert.Contains(t, string(data), "backend:")
	assert.Contains(t, again, "already exists")
	assert.Len(t, strings.Fields(backups), 1)
}

func TestConfigShow_RedactsSecrets(t *testing.T) {
	isolate(t)
	t.Setenv("CORREL8_PASSWORD", "hunter2")

	out, err := run(t, "", "config", "show", "--dir", t.TempDir())

	require.NoError(t, err)
	assert.NotContains(t, out, "hunter2")
	assert.Contains(t, out, "********")
}

func TestSchemaSource_Fields(t *testing.T) {
	src, err := schemaSource("", []string{"geo.city=string", "geo.zip=long", "note=text"})

	require.NoError(t, err)
	assert.Equal(t, schema.Hint{
		"geo":  schema.Nested(schema.Hint{"city": schema.Token("string"), "zip": schema.Token("long")}),
		"note": schema.Token("text"),
	}, src)
}

func TestSchemaSource_Conflicts(t *testing.T) {
	for _, fields := range [][]string{
		{"geo=string", "geo.city=string"},
		{"geo.city=string", "geo=string"},
		{"a=long", "a=text"},
		{"noequals"},
		{"a="},
	} {
		_, err := schemaSource("", fields)
		assert.Equal(t, cerrors.ErrCodeInvalidHint, cerrors.GetCode(err), "%v", fields)
	}
}

func TestReadBulkOps(t *testing.T) {
	ops, err := readBulkOps(strings.NewReader("{\"id\": 7, \"x\": 1.5}\n{\"x\": 2}\n"), store.BulkIndex)
	require.NoError(t, err)
	assert.Equal(t, []store.BulkOp{
		{Action: store.BulkIndex, ID: "7", Doc: store.Document{"id": int64(7), "x": 1.5}},
		{Action: store.BulkIndex, Doc: store.Document{"x": int64(2)}},
	}, ops)

	_, err = readBulkOps(strings.NewReader(`{"x": 2}`), store.BulkDelete)
	assert.Equal(t, cerrors.ErrCodeInvalidDocument, cerrors.GetCode(err))

	_, err = readBulkOps(strings.NewReader(`[1]`), store.BulkIndex)
	assert.Equal(t, cerrors.ErrCodeInvalidDocument, cerrors.GetCode(err))

	_, err = readBulkOps(strings.NewReader(""), "upsert")
	assert.Equal(t, cerrors.ErrCodeInvalidInput, cerrors.GetCode(err))
}

func TestParseAssignments(t *testing.T) {
	doc, err := parseAssignments([]string{"a=1", "b=true", "c=hello", `d={"x":1}`, "e="})

	require.NoError(t, err)
	assert.Equal(t, store.Document{
		"a": float64(1), "b": true, "c": "hello", "d": map[string]any{"x": float64(1)}, "e": "",
	}, doc)

	_, err = parseAssignments([]string{"=1"})
	assert.Error(t, err)
}

func TestConfigInit_Project(t *testing.T) {
	// Given: an empty project directory
	isolate(t)
	dir := t.TempDir()

	// When: writing the project template twice
	_, err := run(t, "", "config", "init", "--project", "--dir", dir)
	require.NoError(t, err)
	_, again := run(t, "", "config", "init", "--project", "--dir", dir)

	// Then: the template is written once and loads as the project config
	data, err := os.ReadFile(filepath.Join(dir, ".correl8.yaml"))
	require.NoError(t, err)
	assert.Equal(t, configs.ProjectConfigTemplate, string(data))
	assert.Equal(t, cerrors.ErrCodeConfigInvalid, cerrors.GetCode(again))

	status, err := run(t, "", "status", "--dir", dir)
	require.NoError(t, err)
	assert.Contains(t, status, "correl8-elastic-events")
}

func TestDoctor_LocalStore(t *testing.T) {
	// Given: a local store without the events index
	isolate(t)

	// When: running the checks before and after init
	before, err := events(t, "", "doctor", "--json")
	require.NoError(t, err)
	initEvents(t)
	after, err := events(t, "", "doctor")
	require.NoError(t, err)

	// Then: the missing index is a warning that init clears
	var report struct {
		Status string `json:"status"`
		Checks []struct {
			Name   string `json:"name"`
			Status string `json:"status"`
		} `json:"checks"`
	}
	require.NoError(t, json.Unmarshal([]byte(before), &report))
	assert.Equal(t, "ready_with_warnings", report.Status)
	statuses := make(map[string]string)
	for _, c := range report.Checks {
		statuses[c.Name] = c.Status
	}
	assert.Equal(t, "pass", statuses["store"])
	assert.Equal(t, "pass", statuses["write_permissions"])
	assert.Equal(t, "warn", statuses["index"])
	assert.Contains(t, after, "[PASS] index: correl8-elastic-events")
}

func TestDoctor_UnreachableElastic(t *testing.T) {
	isolate(t)
	t.Setenv("CORREL8_BACKEND", "elastic")
	t.Setenv("CORREL8_HOSTS", "http://127.0.0.1:1")
	t.Setenv("CORREL8_MAX_RETRIES", "0")

	out, err := run(t, "", "doctor", "--timeout", "2s", "--dir", t.TempDir())

	assert.Equal(t, cerrors.ErrCodeStoreUnavailable, cerrors.GetCode(err))
	assert.Contains(t, out, "[FAIL] store: unreachable")
}

func TestDoctor_JSONReportCarriesFailure(t *testing.T) {
	// Given: an unreachable cluster
	isolate(t)
	t.Setenv("CORREL8_BACKEND", "elastic")
	t.Setenv("CORREL8_HOSTS", "http://127.0.0.1:1")
	t.Setenv("CORREL8_MAX_RETRIES", "0")

	// When: running doctor with --json
	out, err := run(t, "", "doctor", "--json", "--timeout", "2s", "--dir", t.TempDir())

	// Then: the single JSON report holds the failure
	require.Error(t, err)
	var report struct {
		Status string `json:"status"`
		Error  struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &report))
	assert.Equal(t, "failed", report.Status)
	assert.Equal(t, cerrors.ErrCodeStoreUnavailable, report.Error.Code)

	// And: nothing more is printed for it
	var stdout, stderr bytes.Buffer
	reportError(nil, err, &stdout, &stderr)
	assert.Empty(t, stdout.String())
	assert.Empty(t, stderr.String())
}

func TestBulk_Follow(t *testing.T) {
	// Given: an NDJSON file with two records
	home := isolate(t)
	initEvents(t)
	path := filepath.Join(home, "events.ndjson")
	require.NoError(t, os.WriteFile(path, []byte("{\"id\": \"a\"}\n{\"id\": \"b\"}\n"), 0o600))

	// When: following it while a third record and a bad line are appended
	ctx, cancel := context.WithCancel(context.Background())
	root := NewRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs([]string{"bulk", "--follow", path, "-t", "events", "--dir", filepath.Join(home, "project")})
	done := make(chan error, 1)
	go func() { done <- root.ExecuteContext(ctx) }()

	time.Sleep(300 * time.Millisecond)
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o600)
	require.NoError(t, err)
	_, err = f.WriteString("not json\n{\"id\": \"c\"}\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())
	// Longer than the poll interval, so the append is read without fsnotify.
	time.Sleep(1500 * time.Millisecond)
	cancel()

	// Then: every valid record is indexed once
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("bulk --follow did not stop")
	}
	assert.Contains(t, out.String(), "index 3 records")
	assert.Regexp(t, `WARN: line 3: .*record is not a JSON object`, out.String())
	assert.Contains(t, out.String(), "[TAIL] ")
	status, err := events(t, "", "status")
	require.NoError(t, err)
	assert.Regexp(t, `documents:\s+3`, status)
}

func TestBulk_FollowNeedsFile(t *testing.T) {
	isolate(t)

	_, err := events(t, "", "bulk", "--follow")

	assert.Equal(t, cerrors.ErrCodeInvalidInput, cerrors.GetCode(err))
}
