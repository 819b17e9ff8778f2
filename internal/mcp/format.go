package mcp

import (
	"encoding/json"
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/correl8/correl8/pkg/schema"
	"github.com/correl8/correl8/pkg/store"
)

// FormatSearchResults formats search hits as markdown.
func FormatSearchResults(query string, res *store.SearchResult) string {
	label := query
	if strings.TrimSpace(label) == "" {
		label = "*"
	}
	if res == nil || len(res.Hits) == 0 {
		return fmt.Sprintf("No documents found for \"%s\"", label)
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "## Search Results for \"%s\"\n\n", label)
	fmt.Fprintf(&sb, "Showing %d of %d document", len(res.Hits), res.Total)
	if res.Total != 1 {
		sb.WriteString("s")
	}
	sb.WriteString("\n\n")

	for i, hit := range res.Hits {
		formatHit(&sb, i+1, hit)
	}
	return sb.String()
}

// formatHit formats a single hit with its source as a JSON block.
func formatHit(sb *strings.Builder, num int, hit store.Hit) {
	if hit.Score > 0 {
		fmt.Fprintf(sb, "### %d. %s (score: %.2f)\n", num, hit.ID, hit.Score)
	} else {
		fmt.Fprintf(sb, "### %d. %s\n", num, hit.ID)
	}
	fmt.Fprintf(sb, "```json\n%s\n```\n\n", indentJSON(hit.Source))
}

// FormatMapping formats the fields of a mapping as a markdown table.
func FormatMapping(index string, m schema.Mapping) string {
	fields := FlattenFields(m)
	if len(fields) == 0 {
		return fmt.Sprintf("Index `%s` has no mapped fields. Run 'correl8 init' first.", index)
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "## Mapping of `%s`\n\n", index)
	sb.WriteString("| field | type |\n|---|---|\n")
	for _, name := range slices.Sorted(maps.Keys(fields)) {
		fmt.Fprintf(&sb, "| %s | %s |\n", name, fields[name])
	}
	return sb.String()
}

// FlattenFields returns the leaf fields of m by dotted path.
func FlattenFields(m schema.Mapping) map[string]string {
	out := make(map[string]string)
	flatten("", m.Properties, out)
	return out
}

func flatten(prefix string, props map[string]schema.FieldSpec, out map[string]string) {
	for name, spec := range props {
		path := prefix + name
		if spec.Kind() == schema.KindObject {
			flatten(path+".", spec.Properties, out)
			continue
		}
		out[path] = spec.Type
	}
}

// FormatConfig formats the config document as markdown.
func FormatConfig(index string, src store.Document, ok bool) string {
	if !ok {
		return fmt.Sprintf("No config stored in `%s`.", index)
	}
	return fmt.Sprintf("## Config in `%s`\n\n```json\n%s\n```\n", index, indentJSON(src))
}

func indentJSON(v any) string {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(data)
}

// clampLimit ensures limit is within bounds.
func clampLimit(limit, defaultVal, min, max int) int {
	if limit <= 0 {
		return defaultVal
	}
	if limit < min {
		return min
	}
	if limit > max {
		return max
	}
	return limit
}

// toSearchOutput converts a search result to the structured tool output.
func toSearchOutput(res *store.SearchResult) SearchOutput {
	out := SearchOutput{Hits: []HitOutput{}}
	if res == nil {
		return out
	}
	out.Total = res.Total
	for _, hit := range res.Hits {
		out.Hits = append(out.Hits, HitOutput{ID: hit.ID, Score: hit.Score, Source: hit.Source})
	}
	return out
}
