package mcp

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/correl8/correl8/pkg/correl8"
)

// Resource URIs.
const (
	MappingURI = "correl8://mapping"
	ConfigURI  = "correl8://config"
	MetricsURI = "correl8://metrics"
)

// registerResources registers the mapping and config resources.
func (s *Server) registerResources() {
	s.mcp.AddResource(
		&mcp.Resource{
			Name:        "mapping",
			URI:         MappingURI,
			Description: "Field mapping of the active index",
			MIMEType:    "application/json",
		},
		func(ctx context.Context, _ *mcp.ReadResourceRequest) (*mcp.ReadResourceResult, error) {
			return s.readMapping(ctx)
		},
	)
	s.mcp.AddResource(
		&mcp.Resource{
			Name:        "config",
			URI:         ConfigURI,
			Description: "Config document stored next to the index",
			MIMEType:    "application/json",
		},
		func(ctx context.Context, _ *mcp.ReadResourceRequest) (*mcp.ReadResourceResult, error) {
			return s.readConfig(ctx)
		},
	)
}

func (s *Server) readMapping(ctx context.Context) (*mcp.ReadResourceResult, error) {
	m, err := s.index.GetMapping(ctx)
	if err != nil {
		return nil, MapError(err)
	}
	return jsonResource(MappingURI, m)
}

func (s *Server) readConfig(ctx context.Context) (*mcp.ReadResourceResult, error) {
	res, err := s.index.Config(ctx)
	if err != nil {
		return nil, MapError(err)
	}
	src, ok := correl8.FirstSource(res)
	if !ok {
		return nil, NewResourceNotFoundError(ConfigURI)
	}
	return jsonResource(ConfigURI, src)
}

func jsonResource(uri string, v any) (*mcp.ReadResourceResult, error) {
	content, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, MapError(err)
	}
	return &mcp.ReadResourceResult{
		Contents: []*mcp.ResourceContents{
			{
				URI:      uri,
				MIMEType: "application/json",
				Text:     string(content),
			},
		},
	}, nil
}

// registerMetricsResource registers the metrics resource.
func (s *Server) registerMetricsResource() {
	s.mcp.AddResource(
		&mcp.Resource{
			Name:        "metrics",
			URI:         MetricsURI,
			Description: "Store operation metrics in the Prometheus text format",
			MIMEType:    "text/plain",
		},
		func(ctx context.Context, _ *mcp.ReadResourceRequest) (*mcp.ReadResourceResult, error) {
			return s.readMetrics()
		},
	)
}

func (s *Server) readMetrics() (*mcp.ReadResourceResult, error) {
	s.mu.RLock()
	metrics := s.metrics
	s.mu.RUnlock()

	if metrics == nil {
		return nil, NewInvalidParamsError("metrics not available")
	}

	var sb strings.Builder
	if err := metrics.WriteText(&sb); err != nil {
		return nil, MapError(err)
	}
	return &mcp.ReadResourceResult{
		Contents: []*mcp.ResourceContents{
			{
				URI:      MetricsURI,
				MIMEType: "text/plain",
				Text:     sb.String(),
			},
		},
	}, nil
}
