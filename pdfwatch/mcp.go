package pdfwatch

import (
	"context"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/hazyhaar/pdfwatch/kit"
)

// RegisterMCP registers the pdfwatch tools on an MCP server.
func (s *Service) RegisterMCP(srv *mcp.Server) {
	s.registerListDocuments(srv)
	s.registerGetDocument(srv)
	s.registerRun(srv)
	s.registerRunWayback(srv)
	s.registerListRuns(srv)
	s.registerListHashes(srv)
}

func inputSchema(properties map[string]any, required []string) map[string]any {
	sch := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		sch["required"] = required
	}
	return sch
}

func (s *Service) tool(name string, endpoint kit.Endpoint) kit.Endpoint {
	return kit.Chain(kit.Logging(s.logger, name))(endpoint)
}

func (s *Service) registerListDocuments(srv *mcp.Server) {
	type req struct {
		Skip        int  `json:"skip"`
		Limit       int  `json:"limit"`
		IncludeData bool `json:"include_data"`
	}

	tool := &mcp.Tool{
		Name:        "pdfwatch_list_documents",
		Description: "List stored documents ordered by id. File contents are omitted unless include_data is true.",
		InputSchema: inputSchema(map[string]any{
			"skip":         map[string]any{"type": "integer", "description": "Documents to skip"},
			"limit":        map[string]any{"type": "integer", "description": "Maximum documents returned (default 1000)"},
			"include_data": map[string]any{"type": "boolean", "description": "Include base64 file contents"},
		}, nil),
	}

	endpoint := func(ctx context.Context, r any) (any, error) {
		p := r.(*req)
		if p.Skip < 0 || p.Limit < 0 {
			return nil, fmt.Errorf("%w: skip and limit must be >= 0", ErrInvalidInput)
		}
		docs, err := s.ListDocuments(ctx, p.Skip, p.Limit)
		if err != nil {
			return nil, err
		}
		if !p.IncludeData {
			docs = WithoutData(docs)
		}
		return docs, nil
	}

	kit.RegisterMCPTool(srv, tool, s.tool(tool.Name, endpoint), kit.DecodeJSON[req]())
}

func (s *Service) registerGetDocument(srv *mcp.Server) {
	type req struct {
		ID          int64 `json:"id"`
		IncludeData bool  `json:"include_data"`
	}

	tool := &mcp.Tool{
		Name:        "pdfwatch_get_document",
		Description: "Get one stored document by id",
		InputSchema: inputSchema(map[string]any{
			"id":           map[string]any{"type": "integer", "description": "Document id"},
			"include_data": map[string]any{"type": "boolean", "description": "Include base64 file contents"},
		}, []string{"id"}),
	}

	endpoint := func(ctx context.Context, r any) (any, error) {
		p := r.(*req)
		doc, err := s.GetDocument(ctx, p.ID)
		if err != nil {
			return nil, err
		}
		if !p.IncludeData {
			cp := *doc
			cp.Data = nil
			doc = &cp
		}
		return doc, nil
	}

	kit.RegisterMCPTool(srv, tool, s.tool(tool.Name, endpoint), kit.DecodeJSON[req]())
}

type runReq struct {
	PageURL   string `json:"page_url"`
	Extension string `json:"extension"`
}

func runSchema() map[string]any {
	return inputSchema(map[string]any{
		"page_url":  map[string]any{"type": "string", "description": "Page to scrape (default: configured target)"},
		"extension": map[string]any{"type": "string", "description": "Link suffix without the dot (default: pdf)"},
	}, nil)
}

func (s *Service) registerRun(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "pdfwatch_run",
		Description: "Scrape the page now and store every unseen document. Returns the run report.",
		InputSchema: runSchema(),
	}

	endpoint := func(ctx context.Context, r any) (any, error) {
		p := r.(*runReq)
		return s.Run(ctx, TriggerMCP, p.PageURL, p.Extension)
	}

	kit.RegisterMCPTool(srv, tool, s.tool(tool.Name, endpoint), kit.DecodeJSON[runReq]())
}

func (s *Service) registerRunWayback(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "pdfwatch_run_wayback",
		Description: "Replay every Wayback Machine capture of the page, oldest first, and store every unseen document.",
		InputSchema: runSchema(),
	}

	endpoint := func(ctx context.Context, r any) (any, error) {
		p := r.(*runReq)
		return s.RunHistorical(ctx, TriggerMCP, p.PageURL, p.Extension)
	}

	kit.RegisterMCPTool(srv, tool, s.tool(tool.Name, endpoint), kit.DecodeJSON[runReq]())
}

func (s *Service) registerListRuns(srv *mcp.Server) {
	type req struct {
		Limit int `json:"limit"`
	}

	tool := &mcp.Tool{
		Name:        "pdfwatch_list_runs",
		Description: "List recent scrape runs, newest first",
		InputSchema: inputSchema(map[string]any{
			"limit": map[string]any{"type": "integer", "description": "Maximum runs returned (default 50)"},
		}, nil),
	}

	endpoint := func(ctx context.Context, r any) (any, error) {
		return s.ListRuns(ctx, r.(*req).Limit)
	}

	kit.RegisterMCPTool(srv, tool, s.tool(tool.Name, endpoint), kit.DecodeJSON[req]())
}

func (s *Service) registerListHashes(srv *mcp.Server) {
	type req struct{}
	tool := &mcp.Tool{
		Name:        "pdfwatch_list_hashes",
		Description: "List the SHA-512 of every stored document, ordered by id",
		InputSchema: inputSchema(map[string]any{}, nil),
	}
	endpoint := func(ctx context.Context, _ any) (any, error) {
		hashes, err := s.ListHashes(ctx)
		if err != nil {
			return nil, err
		}
		if hashes == nil {
			hashes = []string{}
		}
		return hashes, nil
	}
	kit.RegisterMCPTool(srv, tool, s.tool(tool.Name, endpoint), kit.DecodeJSON[req]())
}

// WithoutData returns shallow copies of docs with Data cleared. Cached
// documents are shared and must not be modified.
func WithoutData(docs []*Document) []*Document {
	out := make([]*Document, len(docs))
	for i, d := range docs {
		cp := *d
		cp.Data = nil
		out[i] = &cp
	}
	return out
}
