package local

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // pure Go driver, no cgo

	"github.com/correl8/correl8/pkg/schema"
	"github.com/correl8/correl8/pkg/store"
)

// catalogFileName is the SQLite database inside the data directory.
const catalogFileName = "catalog.db"

// catalog persists index mappings and document sources. Bleve indexes are
// derived from it and can always be rebuilt.
type catalog struct {
	db *sql.DB
}

// openCatalog opens the catalog in dir, or an in-memory one when dir is empty.
func openCatalog(dir string) (*catalog, error) {
	dsn := ":memory:"
	if dir != "" {
		dsn = filepath.Join(dir, catalogFileName)
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open catalog: %w", err)
	}
	// One connection: a second one would see a different :memory: database,
	// and SQLite allows a single writer anyway.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	pragmas := []string{
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA temp_store = MEMORY",
	}
	if dir != "" {
		pragmas = append(pragmas, "PRAGMA journal_mode = WAL")
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to set pragma: %w", err)
		}
	}

	c := &catalog{db: db}
	if err := c.initSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize catalog schema: %w", err)
	}
	return c, nil
}

func (c *catalog) initSchema() error {
	_, err := c.db.Exec(`
	CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY
	);

	CREATE TABLE IF NOT EXISTS indexes (
		name       TEXT PRIMARY KEY,
		mapping    TEXT NOT NULL,
		created_at TEXT NOT NULL
	);

	-- version counts writes per document, like _version
	CREATE TABLE IF NOT EXISTS documents (
		index_name TEXT NOT NULL,
		doc_id     TEXT NOT NULL,
		source     TEXT NOT NULL,
		version    INTEGER NOT NULL DEFAULT 1,
		PRIMARY KEY (index_name, doc_id)
	);

	INSERT OR IGNORE INTO schema_version (version) VALUES (1);
	`)
	return err
}

type indexRow struct {
	name    string
	mapping schema.Mapping
}

func (c *catalog) listIndexes(ctx context.Context) ([]indexRow, error) {
	rows, err := c.db.QueryContext(ctx, `SELECT name, mapping FROM indexes ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []indexRow
	for rows.Next() {
		var name, raw string
		if err := rows.Scan(&name, &raw); err != nil {
			return nil, err
		}
		m, err := decodeMapping(raw)
		if err != nil {
			return nil, fmt.Errorf("index %s: %w", name, err)
		}
		out = append(out, indexRow{name: name, mapping: m})
	}
	return out, rows.Err()
}

func (c *catalog) createIndex(ctx context.Context, name string) error {
	_, err := c.db.ExecContext(ctx,
		`INSERT INTO indexes (name, mapping, created_at) VALUES (?, ?, ?)`,
		name, `{"properties":{}}`, time.Now().UTC().Format(time.RFC3339Nano))
	return err
}

func (c *catalog) putMapping(ctx context.Context, name string, m schema.Mapping) error {
	raw, err := json.Marshal(m)
	if err != nil {
		return err
	}
	_, err = c.db.ExecContext(ctx, `UPDATE indexes SET mapping = ? WHERE name = ?`, string(raw), name)
	return err
}

// deleteIndex removes the index row and all of its documents.
func (c *catalog) deleteIndex(ctx context.Context, name string) error {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM documents WHERE index_name = ?`, name); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM indexes WHERE name = ?`, name); err != nil {
		return err
	}
	return tx.Commit()
}

// putDocument upserts a source and returns its new version.
func (c *catalog) putDocument(ctx context.Context, index, id string, doc store.Document) (int64, error) {
	raw, err := json.Marshal(doc)
	if err != nil {
		return 0, fmt.Errorf("failed to encode document %s: %w", id, err)
	}
	var version int64
	err = c.db.QueryRowContext(ctx, `
		INSERT INTO documents (index_name, doc_id, source, version) VALUES (?, ?, ?, 1)
		ON CONFLICT (index_name, doc_id) DO UPDATE SET
			source = excluded.source,
			version = documents.version + 1
		RETURNING version`,
		index, id, string(raw)).Scan(&version)
	return version, err
}

// getDocument returns store.ErrDocumentNotFound for a missing document.
func (c *catalog) getDocument(ctx context.Context, index, id string) (store.Document, error) {
	var raw string
	err := c.db.QueryRowContext(ctx,
		`SELECT source FROM documents WHERE index_name = ? AND doc_id = ?`, index, id).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s/%s", store.ErrDocumentNotFound, index, id)
	}
	if err != nil {
		return nil, err
	}
	return decodeDocument(raw)
}

// deleteDocument reports whether a document was removed.
func (c *catalog) deleteDocument(ctx context.Context, index, id string) (bool, error) {
	res, err := c.db.ExecContext(ctx, `DELETE FROM documents WHERE index_name = ? AND doc_id = ?`, index, id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// eachDocument calls fn for every document of index, in id order.
// Rows are read fully before fn runs so fn may use the catalog.
func (c *catalog) eachDocument(ctx context.Context, index string, fn func(id string, doc store.Document) error) error {
	rows, err := c.db.QueryContext(ctx,
		`SELECT doc_id, source FROM documents WHERE index_name = ? ORDER BY doc_id`, index)
	if err != nil {
		return err
	}
	type row struct{ id, raw string }
	var all []row
	for rows.Next() {
		var r row
		if err := rows.Scan(&r.id, &r.raw); err != nil {
			_ = rows.Close()
			return err
		}
		all = append(all, r)
	}
	if err := rows.Close(); err != nil {
		return err
	}
	if err := rows.Err(); err != nil {
		return err
	}

	for _, r := range all {
		doc, err := decodeDocument(r.raw)
		if err != nil {
			return fmt.Errorf("document %s/%s: %w", index, r.id, err)
		}
		if err := fn(r.id, doc); err != nil {
			return err
		}
	}
	return nil
}

func (c *catalog) close() error {
	return c.db.Close()
}

func decodeMapping(raw string) (schema.Mapping, error) {
	m := schema.NewMapping()
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		return schema.Mapping{}, fmt.Errorf("corrupt mapping: %w", err)
	}
	if m.Properties == nil {
		m.Properties = map[string]schema.FieldSpec{}
	}
	return m, nil
}

func decodeDocument(raw string) (store.Document, error) {
	var doc store.Document
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		return nil, fmt.Errorf("corrupt document source: %w", err)
	}
	return doc, nil
}
