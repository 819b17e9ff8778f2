package cmd

import (
	"fmt"
	"maps"
	"os"
	"slices"
	"strings"

	"github.com/spf13/cobra"

	cerrors "github.com/correl8/correl8/internal/errors"
	"github.com/correl8/correl8/internal/mcp"
	"github.com/correl8/correl8/pkg/schema"
	"github.com/correl8/correl8/pkg/store"
)

func (a *app) newInitCmd() *cobra.Command {
	var (
		file   string
		fields []string
	)

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create the index and apply its mapping",
		Long: `Create the active index for the document type and apply a mapping.

The mapping comes from a hint (field name to type token) or a complete
mapping document of the form {"mappings": {"properties": {...}}}.
A hint may be read from --file or given inline with --field; dotted names
nest. The token "text" maps to a full-text field with a keyword subfield,
"string" to a keyword, anything else is used as the type. A "timestamp"
date field is always added to hints.

Running init again adds new fields; existing fields keep their type.`,
		Example: `  # Infer from inline fields
  correl8 init -t sleep --field start=date --field note=text --field geo.city=string

  # Apply a hint or complete mapping from a file
  correl8 init -t sleep --file sleep.json`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			src, err := schemaSource(file, fields)
			if err != nil {
				return err
			}
			h, _, err := a.openHandle(cmd.Context())
			if err != nil {
				return err
			}
			defer closeHandle(h, a.logger)

			if err := h.Init(cmd.Context(), src); err != nil {
				return err
			}
			newWriter(cmd).Successf("Initialized %s", h.Index())
			return nil
		},
	}

	cmd.Flags().StringVarP(&file, "file", "f", "", "JSON hint or mapping file")
	cmd.Flags().StringArrayVar(&fields, "field", nil, "Hint field as name=token (repeatable)")
	cmd.MarkFlagsMutuallyExclusive("file", "field")

	return cmd
}

// schemaSource builds the init source from a file or --field values.
// With neither, the mapping only carries the timestamp field.
func schemaSource(file string, fields []string) (schema.Source, error) {
	if file != "" {
		data, err := os.ReadFile(file)
		if err != nil {
			return nil, cerrors.ValidationError(fmt.Sprintf("cannot read %s", file), err)
		}
		src, err := schema.ParseSource(data)
		if err != nil {
			return nil, cerrors.New(cerrors.ErrCodeInvalidHint, err.Error(), err)
		}
		return src, nil
	}

	raw := make(map[string]any)
	for _, f := range fields {
		name, token, ok := strings.Cut(f, "=")
		if !ok || strings.TrimSpace(name) == "" {
			return nil, cerrors.New(cerrors.ErrCodeInvalidHint, fmt.Sprintf("field %q is not name=token", f), nil)
		}
		if err := setPath(raw, strings.Split(strings.TrimSpace(name), "."), strings.TrimSpace(token)); err != nil {
			return nil, cerrors.New(cerrors.ErrCodeInvalidHint, err.Error(), nil)
		}
	}
	hint, err := schema.ParseHint(raw)
	if err != nil {
		return nil, cerrors.New(cerrors.ErrCodeInvalidHint, err.Error(), err)
	}
	return hint, nil
}

// setPath stores value at the dotted path inside m.
func setPath(m map[string]any, path []string, value any) error {
	for i, key := range path[:len(path)-1] {
		next, ok := m[key]
		if !ok {
			child := make(map[string]any)
			m[key] = child
			m = child
			continue
		}
		child, ok := next.(map[string]any)
		if !ok {
			return fmt.Errorf("field %q is both a leaf and an object", strings.Join(path[:i+1], "."))
		}
		m = child
	}
	leaf := path[len(path)-1]
	if _, exists := m[leaf]; exists {
		return fmt.Errorf("field %q given twice", strings.Join(path, "."))
	}
	m[leaf] = value
	return nil
}

func (a *app) newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show index names, initialization and document count",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			h, cfg, err := a.openHandle(ctx)
			if err != nil {
				return err
			}
			defer closeHandle(h, a.logger)

			out := newWriter(cmd)
			out.Header(h.Index())
			out.KeyValue("backend", cfg.Connection().Backend)
			out.KeyValue("config index", h.ConfigIndex())

			ok, err := h.IsInitialized(ctx)
			if err != nil {
				return err
			}
			out.KeyValue("initialized", ok)
			if !ok {
				return nil
			}

			m, err := h.GetMapping(ctx)
			if err != nil {
				return err
			}
			res, err := h.Search(ctx, store.Query{Size: 1})
			if err != nil {
				return err
			}
			out.KeyValue("fields", len(mcp.FlattenFields(m)))
			out.KeyValue("documents", res.Total)
			return nil
		},
	}
}

func (a *app) newMappingCmd() *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "mapping",
		Short: "Show the mapping of the active index",
		RunE: func(cmd *cobra.Command, _ []string) error {
			h, _, err := a.openHandle(cmd.Context())
			if err != nil {
				return err
			}
			defer closeHandle(h, a.logger)

			m, err := h.GetMapping(cmd.Context())
			if err != nil {
				return err
			}
			out := newWriter(cmd)
			if asJSON {
				return out.JSON(m)
			}
			fields := mcp.FlattenFields(m)
			if len(fields) == 0 {
				out.Warningf("%s has no mapped fields", h.Index())
				return nil
			}
			for _, name := range slices.Sorted(maps.Keys(fields)) {
				out.KeyValue(name, fields[name])
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the raw mapping")
	return cmd
}

func (a *app) newClearCmd() *cobra.Command {
	var yes bool

	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Delete every document but keep the mapping",
		Long: `Recreate the active index with its current mapping, dropping every
document. Full-text fields lose their fielddata and keyword subfields.
The config index is not touched.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			h, _, err := a.openHandle(cmd.Context())
			if err != nil {
				return err
			}
			defer closeHandle(h, a.logger)

			if !yes {
				return cerrors.ValidationError(fmt.Sprintf("refusing to clear %s", h.Index()), nil).
					WithSuggestion("Pass --yes to confirm")
			}
			if err := h.Clear(cmd.Context()); err != nil {
				return err
			}
			newWriter(cmd).Successf("Cleared %s", h.Index())
			return nil
		},
	}

	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "Confirm deleting all documents")
	return cmd
}

func (a *app) newRemoveCmd() *cobra.Command {
	var yes bool

	cmd := &cobra.Command{
		Use:   "remove",
		Short: "Delete the active index and its config index",
		RunE: func(cmd *cobra.Command, _ []string) error {
			h, _, err := a.openHandle(cmd.Context())
			if err != nil {
				return err
			}
			defer closeHandle(h, a.logger)

			if !yes {
				return cerrors.ValidationError(
					fmt.Sprintf("refusing to remove %s and %s", h.Index(), h.ConfigIndex()), nil).
					WithSuggestion("Pass --yes to confirm")
			}
			if err := h.Remove(cmd.Context()); err != nil {
				return err
			}
			newWriter(cmd).Successf("Removed %s and %s", h.Index(), h.ConfigIndex())
			return nil
		},
	}

	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "Confirm removing both indexes")
	return cmd
}
