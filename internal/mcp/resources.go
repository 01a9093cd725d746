package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"webpilot-mcp-server/internal/facts"

	"github.com/mark3labs/mcp-go/mcp"
)

const resourceMIMEJSON = "application/json"

func (s *Server) registerAllResources() {
	if s == nil || s.mcpServer == nil {
		return
	}

	s.mcpServer.AddResource(
		mcp.NewResource(
			"webpilot://about",
			"WebPilot About",
			mcp.WithMIMEType(resourceMIMEJSON),
			mcp.WithResourceDescription("High-level server info and usage notes."),
		),
		s.handleAboutResource,
	)

	s.mcpServer.AddResourceTemplate(
		mcp.NewResourceTemplate(
			"webpilot://facts/{predicate}{?limit}",
			"Telemetry Facts",
			mcp.WithTemplateMIMEType(resourceMIMEJSON),
			mcp.WithTemplateDescription("Read a slice of telemetry facts for one predicate."),
		),
		s.handleFactsResource,
	)
}

func (s *Server) handleAboutResource(_ context.Context, request mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	payload := map[string]interface{}{
		"name":    s.cfg.Server.Name,
		"version": s.cfg.Server.Version,
		"notes": []string{
			"Resources are read-only context endpoints; use the browser tool for actions.",
			"Element refs come from read_page and find and stay valid until the page changes.",
			"Coordinates are in the agent's scaled space, not raw viewport pixels.",
		},
		"timestamp_ms": time.Now().UnixMilli(),
	}

	text, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      request.Params.URI,
			MIMEType: resourceMIMEJSON,
			Text:     string(text),
		},
	}, nil
}

func (s *Server) handleFactsResource(_ context.Context, request mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	if s.store == nil {
		return nil, fmt.Errorf("fact store unavailable")
	}

	predicate := argString(request.Params.Arguments["predicate"])
	if predicate == "" {
		return nil, fmt.Errorf("missing predicate")
	}
	limit := getIntArg(request.Params.Arguments, "limit", defaultFactLimit)
	if limit <= 0 {
		limit = defaultFactLimit
	}
	if limit > 500 {
		limit = 500
	}

	source := s.store.FactsByPredicate(predicate)
	if len(source) > limit {
		source = source[len(source)-limit:]
	}
	if source == nil {
		source = []facts.Fact{}
	}

	payload := map[string]interface{}{
		"predicate": predicate,
		"limit":     limit,
		"count":     len(source),
		"facts":     source,
	}
	text, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      request.Params.URI,
			MIMEType: resourceMIMEJSON,
			Text:     string(text),
		},
	}, nil
}

func argString(v any) string {
	switch value := v.(type) {
	case nil:
		return ""
	case string:
		return value
	case []string:
		if len(value) == 0 {
			return ""
		}
		return value[0]
	default:
		return fmt.Sprintf("%v", value)
	}
}
