package mcp

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	cerrors "github.com/correl8/correl8/internal/errors"
	"github.com/correl8/correl8/internal/telemetry"
	"github.com/correl8/correl8/pkg/correl8"
	"github.com/correl8/correl8/pkg/schema"
	"github.com/correl8/correl8/pkg/store"
	"github.com/correl8/correl8/pkg/version"
)

// serverName is reported to MCP clients.
const serverName = "correl8"

// Index is the part of a correl8 handle the server exposes.
type Index interface {
	Index() string
	ConfigIndex() string
	IsInitialized(ctx context.Context) (bool, error)
	GetMapping(ctx context.Context) (schema.Mapping, error)
	Search(ctx context.Context, q store.Query) (*store.SearchResult, error)
	Insert(ctx context.Context, doc store.Document) (string, error)
	DeleteOne(ctx context.Context, id string) error
	Config(ctx context.Context) (*store.SearchResult, error)
	SetConfig(ctx context.Context, obj store.Document) error
}

var _ Index = (*correl8.Handle)(nil)

// Server is the MCP server for correl8.
// It lets AI clients search and write records of one correl8 index.
type Server struct {
	mcp    *mcp.Server
	index  Index
	logger *slog.Logger

	// Operation telemetry (optional, set via SetMetrics)
	metrics *telemetry.Recorder
	// Search analytics (optional, set via SetQueryLog)
	queries *telemetry.QueryLog

	mu sync.RWMutex
}

// ToolInfo contains information about a registered tool.
type ToolInfo struct {
	Name        string
	Description string
}

var tools = []ToolInfo{
	{
		Name:        "search",
		Description: "Search records of the index with a query-string expression (field:value, AND/OR, ranges). Returns the matching documents.",
	},
	{
		Name:        "insert",
		Description: "Insert one record. The timestamp field is normalized from ISO dates, epoch seconds or epoch milliseconds; an id field replaces the record with that id.",
	},
	{
		Name:        "delete",
		Description: "Delete one record by id.",
	},
	{
		Name:        "config_get",
		Description: "Read the config document stored next to the index.",
	},
	{
		Name:        "config_set",
		Description: "Merge values into the config document, creating it on first use.",
	},
	{
		Name:        "mapping",
		Description: "List the mapped fields of the index and their storage types.",
	},
	{
		Name:        "index_status",
		Description: "Check whether the index is initialized and how many records it holds.",
	},
}

// NewServer creates a new MCP server over idx.
func NewServer(idx Index, logger *slog.Logger) (*Server, error) {
	if idx == nil {
		return nil, errors.New("index handle is required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		index:  idx,
		logger: logger,
	}

	s.mcp = mcp.NewServer(
		&mcp.Implementation{
			Name:    serverName,
			Version: version.Version,
		},
		nil, // capabilities are inferred from registered tools/resources
	)

	s.registerTools()
	s.registerResources()
	return s, nil
}

// SetMetrics sets the recorder exposed by the metrics resource.
func (s *Server) SetMetrics(m *telemetry.Recorder) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.metrics = m

	if m != nil {
		s.registerMetricsResource()
	}
}

// SetQueryLog sets the log that records every search.
func (s *Server) SetQueryLog(l *telemetry.QueryLog) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queries = l
}

// MCPServer returns the underlying MCP server instance.
func (s *Server) MCPServer() *mcp.Server {
	return s.mcp
}

// Info returns the server name and version.
func (s *Server) Info() (name, ver string) {
	return serverName, version.Version
}

// ListTools returns all registered tools.
func (s *Server) ListTools() []ToolInfo {
	return append([]ToolInfo(nil), tools...)
}

// CallTool invokes a tool by name with the given arguments.
// Search, mapping and config tools return markdown; the rest return structs.
func (s *Server) CallTool(ctx context.Context, name string, args map[string]any) (any, error) {
	switch name {
	case "search":
		return s.handleSearchTool(ctx, args)
	case "insert":
		doc, ok := args["document"].(map[string]any)
		if !ok {
			return nil, NewInvalidParamsError("document parameter is required and must be an object")
		}
		return s.insert(ctx, doc)
	case "delete":
		id, _ := args["id"].(string)
		return s.delete(ctx, id)
	case "config_get":
		res, err := s.index.Config(ctx)
		if err != nil {
			return nil, MapError(err)
		}
		src, ok := correl8.FirstSource(res)
		return FormatConfig(s.index.ConfigIndex(), src, ok), nil
	case "config_set":
		values, ok := args["values"].(map[string]any)
		if !ok {
			return nil, NewInvalidParamsError("values parameter is required and must be an object")
		}
		return s.setConfig(ctx, values)
	case "mapping":
		m, err := s.index.GetMapping(ctx)
		if err != nil {
			return nil, MapError(err)
		}
		return FormatMapping(s.index.Index(), m), nil
	case "index_status":
		return s.status(ctx)
	default:
		return nil, NewMethodNotFoundError(name)
	}
}

// handleSearchTool handles the search tool invocation.
// Returns markdown-formatted results.
func (s *Server) handleSearchTool(ctx context.Context, args map[string]any) (string, error) {
	query, _ := args["query"].(string)

	limit := clampLimit(0, 10, 1, 100)
	if l, ok := args["limit"].(float64); ok {
		limit = clampLimit(int(l), 10, 1, 100)
	}
	q := store.Query{Text: query, Size: limit}
	if from, ok := args["from"].(float64); ok && from > 0 {
		q.From = int(from)
	}
	if sortBy, ok := args["sort"].([]any); ok {
		for _, v := range sortBy {
			if field, ok := v.(string); ok {
				q.Sort = append(q.Sort, field)
			}
		}
	}

	res, err := s.search(ctx, q)
	if err != nil {
		return "", err
	}
	return FormatSearchResults(query, res), nil
}

func (s *Server) search(ctx context.Context, q store.Query) (*store.SearchResult, error) {
	start := time.Now()
	requestID := generateRequestID()

	s.logger.Info("search_started",
		slog.String("request_id", requestID),
		slog.String("query", q.Text),
		slog.Int("limit", q.PageSize()))

	res, err := s.index.Search(ctx, q)
	duration := time.Since(start)
	if err != nil {
		s.logger.Error("search_failed",
			slog.String("request_id", requestID),
			slog.Duration("duration", duration),
			cerrors.LogAttr(err))
		return nil, MapError(err)
	}

	s.logger.Info("search_completed",
		slog.String("request_id", requestID),
		slog.Duration("duration", duration),
		slog.Int("result_count", len(res.Hits)))

	s.mu.RLock()
	queries := s.queries
	s.mu.RUnlock()
	queries.Record(telemetry.EventFor(s.index.Index(), q, res, start))
	return res, nil
}

func (s *Server) insert(ctx context.Context, doc map[string]any) (*InsertOutput, error) {
	if len(doc) == 0 {
		return nil, NewInvalidParamsError("document must not be empty")
	}
	id, err := s.index.Insert(ctx, doc)
	if err != nil {
		s.logger.Error("insert_failed", cerrors.LogAttr(err))
		return nil, MapError(err)
	}
	s.logger.Info("insert_completed", slog.String("id", id))
	return &InsertOutput{ID: id}, nil
}

func (s *Server) delete(ctx context.Context, id string) (*DeleteOutput, error) {
	if strings.TrimSpace(id) == "" {
		return nil, NewInvalidParamsError("id parameter is required")
	}
	if err := s.index.DeleteOne(ctx, id); err != nil {
		return nil, MapError(err)
	}
	return &DeleteOutput{Deleted: id}, nil
}

func (s *Server) setConfig(ctx context.Context, values map[string]any) (*ConfigOutput, error) {
	if len(values) == 0 {
		return nil, NewInvalidParamsError("values must not be empty")
	}
	if err := s.index.SetConfig(ctx, values); err != nil {
		s.logger.Error("config_set_failed", cerrors.LogAttr(err))
		return nil, MapError(err)
	}
	return s.config(ctx)
}

func (s *Server) config(ctx context.Context) (*ConfigOutput, error) {
	res, err := s.index.Config(ctx)
	if err != nil {
		return nil, MapError(err)
	}
	src, ok := correl8.FirstSource(res)
	return &ConfigOutput{Exists: ok, Config: src}, nil
}

// status reports the state of the index. A missing index is not an error.
func (s *Server) status(ctx context.Context) (*IndexStatusOutput, error) {
	out := &IndexStatusOutput{
		Index:       s.index.Index(),
		ConfigIndex: s.index.ConfigIndex(),
	}

	ok, err := s.index.IsInitialized(ctx)
	if err != nil {
		return nil, MapError(err)
	}
	out.Initialized = ok
	if !ok {
		return out, nil
	}

	m, err := s.index.GetMapping(ctx)
	if err != nil {
		return nil, MapError(err)
	}
	out.Fields = len(FlattenFields(m))

	res, err := s.index.Search(ctx, store.Query{Size: 1})
	if err != nil {
		return nil, MapError(err)
	}
	out.Documents = res.Total
	return out, nil
}

// registerTools registers all tools with the MCP server.
func (s *Server) registerTools() {
	s.logger.Debug("registering_mcp_tools")

	mcp.AddTool(s.mcp, &mcp.Tool{Name: "search", Description: tools[0].Description}, s.mcpSearchHandler)
	mcp.AddTool(s.mcp, &mcp.Tool{Name: "insert", Description: tools[1].Description}, s.mcpInsertHandler)
	mcp.AddTool(s.mcp, &mcp.Tool{Name: "delete", Description: tools[2].Description}, s.mcpDeleteHandler)
	mcp.AddTool(s.mcp, &mcp.Tool{Name: "config_get", Description: tools[3].Description}, s.mcpConfigGetHandler)
	mcp.AddTool(s.mcp, &mcp.Tool{Name: "config_set", Description: tools[4].Description}, s.mcpConfigSetHandler)
	mcp.AddTool(s.mcp, &mcp.Tool{Name: "mapping", Description: tools[5].Description}, s.mcpMappingHandler)
	mcp.AddTool(s.mcp, &mcp.Tool{Name: "index_status", Description: tools[6].Description}, s.mcpIndexStatusHandler)

	s.logger.Debug("mcp_tools_registered", slog.Int("count", len(tools)))
}

// mcpSearchHandler is the MCP SDK handler for the search tool.
func (s *Server) mcpSearchHandler(ctx context.Context, _ *mcp.CallToolRequest, input SearchInput) (
	*mcp.CallToolResult,
	SearchOutput,
	error,
) {
	q := store.Query{
		Text: input.Query,
		IDs:  input.IDs,
		Size: clampLimit(input.Limit, 10, 1, 100),
		From: max(input.From, 0),
		Sort: input.Sort,
	}
	res, err := s.search(ctx, q)
	if err != nil {
		return nil, SearchOutput{}, err
	}
	return nil, toSearchOutput(res), nil
}

// mcpInsertHandler is the MCP SDK handler for the insert tool.
func (s *Server) mcpInsertHandler(ctx context.Context, _ *mcp.CallToolRequest, input InsertInput) (
	*mcp.CallToolResult,
	InsertOutput,
	error,
) {
	out, err := s.insert(ctx, input.Document)
	if err != nil {
		return nil, InsertOutput{}, err
	}
	return nil, *out, nil
}

// mcpDeleteHandler is the MCP SDK handler for the delete tool.
func (s *Server) mcpDeleteHandler(ctx context.Context, _ *mcp.CallToolRequest, input DeleteInput) (
	*mcp.CallToolResult,
	DeleteOutput,
	error,
) {
	out, err := s.delete(ctx, input.ID)
	if err != nil {
		return nil, DeleteOutput{}, err
	}
	return nil, *out, nil
}

// mcpConfigGetHandler is the MCP SDK handler for the config_get tool.
func (s *Server) mcpConfigGetHandler(ctx context.Context, _ *mcp.CallToolRequest, _ ConfigGetInput) (
	*mcp.CallToolResult,
	ConfigOutput,
	error,
) {
	out, err := s.config(ctx)
	if err != nil {
		return nil, ConfigOutput{}, err
	}
	return nil, *out, nil
}

// mcpConfigSetHandler is the MCP SDK handler for the config_set tool.
func (s *Server) mcpConfigSetHandler(ctx context.Context, _ *mcp.CallToolRequest, input ConfigSetInput) (
	*mcp.CallToolResult,
	ConfigOutput,
	error,
) {
	out, err := s.setConfig(ctx, input.Values)
	if err != nil {
		return nil, ConfigOutput{}, err
	}
	return nil, *out, nil
}

// mcpMappingHandler is the MCP SDK handler for the mapping tool.
func (s *Server) mcpMappingHandler(ctx context.Context, _ *mcp.CallToolRequest, _ MappingInput) (
	*mcp.CallToolResult,
	MappingOutput,
	error,
) {
	m, err := s.index.GetMapping(ctx)
	if err != nil {
		return nil, MappingOutput{}, MapError(err)
	}
	return nil, MappingOutput{Index: s.index.Index(), Fields: FlattenFields(m)}, nil
}

// mcpIndexStatusHandler is the MCP SDK handler for the index_status tool.
func (s *Server) mcpIndexStatusHandler(ctx context.Context, _ *mcp.CallToolRequest, _ IndexStatusInput) (
	*mcp.CallToolResult,
	*IndexStatusOutput,
	error,
) {
	out, err := s.status(ctx)
	if err != nil {
		return nil, nil, err
	}
	return nil, out, nil
}

// Serve starts the server with the specified transport.
func (s *Server) Serve(ctx context.Context, transport string) error {
	s.logger.Info("mcp_server_starting", slog.String("transport", transport))

	switch transport {
	case "stdio":
		err := s.mcp.Run(ctx, &mcp.StdioTransport{})
		if err != nil && !errors.Is(err, context.Canceled) {
			s.logger.Error("mcp_server_stopped", slog.String("error", err.Error()))
		} else {
			s.logger.Info("mcp_server_stopped")
		}
		return err
	default:
		return fmt.Errorf("unknown transport: %s (supported: stdio)", transport)
	}
}

// generateRequestID creates a short unique request ID for log correlation.
func generateRequestID() string {
	b := make([]byte, 4)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}
