package mcp

// SearchInput defines the input schema for the search tool.
type SearchInput struct {
	Query string   `json:"query,omitempty" jsonschema:"query-string expression such as device:watch AND steps:>1000; empty matches all"`
	IDs   []string `json:"ids,omitempty" jsonschema:"restrict hits to these document ids"`
	Limit int      `json:"limit,omitempty" jsonschema:"maximum number of hits, default 10"`
	From  int      `json:"from,omitempty" jsonschema:"offset of the first hit"`
	Sort  []string `json:"sort,omitempty" jsonschema:"fields to sort by; prefix with - for descending"`
}

// SearchOutput defines the output schema for the search tool.
type SearchOutput struct {
	Total int         `json:"total" jsonschema:"number of matching documents"`
	Hits  []HitOutput `json:"hits" jsonschema:"the requested page of hits"`
}

// HitOutput is a single search hit.
type HitOutput struct {
	ID     string         `json:"id"`
	Score  float64        `json:"score,omitempty"`
	Source map[string]any `json:"source"`
}

// InsertInput defines the input schema for the insert tool.
type InsertInput struct {
	Document map[string]any `json:"document" jsonschema:"the record; an id field makes the write an upsert and timestamp is normalized"`
}

// InsertOutput defines the output schema for the insert tool.
type InsertOutput struct {
	ID string `json:"id" jsonschema:"id of the stored document"`
}

// DeleteInput defines the input schema for the delete tool.
type DeleteInput struct {
	ID string `json:"id" jsonschema:"id of the document to delete"`
}

// DeleteOutput defines the output schema for the delete tool.
type DeleteOutput struct {
	Deleted string `json:"deleted"`
}

// ConfigGetInput defines the input schema for the config_get tool (no parameters).
type ConfigGetInput struct{}

// ConfigOutput is the config document of the index.
type ConfigOutput struct {
	Exists bool           `json:"exists"`
	Config map[string]any `json:"config,omitempty"`
}

// ConfigSetInput defines the input schema for the config_set tool.
type ConfigSetInput struct {
	Values map[string]any `json:"values" jsonschema:"fields to merge into the config document"`
}

// MappingInput defines the input schema for the mapping tool (no parameters).
type MappingInput struct{}

// MappingOutput is the field mapping of the active index.
type MappingOutput struct {
	Index  string            `json:"index"`
	Fields map[string]string `json:"fields" jsonschema:"field path to storage type"`
}

// IndexStatusInput defines the input schema for the index_status tool (no parameters).
type IndexStatusInput struct{}

// IndexStatusOutput defines the output schema for the index_status tool.
type IndexStatusOutput struct {
	Index       string `json:"index"`
	ConfigIndex string `json:"config_index"`
	Initialized bool   `json:"initialized"`
	Documents   int    `json:"documents"`
	Fields      int    `json:"fields"`
}
