// Package service assembles the MCP server and serves it over stdio.
package service

import (
	"context"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/adscope/adscope/internal/services/adsource"
	"github.com/adscope/adscope/internal/services/fetch"
	"github.com/adscope/adscope/internal/services/mcp/domain"
	cacheservice "github.com/adscope/adscope/internal/services/mediacache/service"
)

const (
	serverName    = "adscope"
	serverVersion = "0.1.0"
)

// Deps carries the collaborators the tool handlers need.
type Deps struct {
	Cache    *cacheservice.Cache
	AdSource *adsource.Client
	Fetcher  *fetch.Fetcher
	Vision   domain.VisionClient
}

// Server hosts the MCP tool surface.
type Server struct {
	mcpServer *mcp.Server
}

// NewServer builds the MCP server and registers every tool.
func NewServer(deps Deps) (*Server, error) {
	if deps.Cache == nil {
		return nil, fmt.Errorf("media cache is required")
	}
	if deps.AdSource == nil {
		return nil, fmt.Errorf("ad source client is required")
	}
	if deps.Fetcher == nil {
		return nil, fmt.Errorf("fetcher is required")
	}
	if deps.Vision == nil {
		return nil, fmt.Errorf("vision client is required")
	}

	mcpServer := mcp.NewServer(&mcp.Implementation{Name: serverName, Version: serverVersion}, nil)
	registerTools(mcpServer, deps)
	return &Server{mcpServer: mcpServer}, nil
}

func registerTools(mcpServer *mcp.Server, deps Deps) {
	mcp.AddTool(mcpServer, domain.PlatformIDTool(), domain.PlatformIDHandler(deps.AdSource))
	mcp.AddTool(mcpServer, domain.CompanyAdsTool(), domain.CompanyAdsHandler(deps.AdSource))
	mcp.AddTool(mcpServer, domain.SearchAdsTool(), domain.SearchAdsHandler(deps.AdSource))
	mcp.AddTool(mcpServer, domain.ExternalAdsTool(), domain.ExternalAdsHandler(deps.AdSource))
	mcp.AddTool(mcpServer, domain.AnalyzeImageTool(), domain.AnalyzeImageHandler(deps.Cache, deps.Fetcher, deps.Vision))
	mcp.AddTool(mcpServer, domain.AnalyzeVideoTool(), domain.AnalyzeVideoHandler(deps.Cache, deps.Fetcher, deps.Vision))
	mcp.AddTool(mcpServer, domain.AnalyzeVideosBatchTool(), domain.AnalyzeVideosBatchHandler(deps.Cache, deps.Fetcher, deps.Vision))
	mcp.AddTool(mcpServer, domain.CacheStatsTool(), domain.CacheStatsHandler(deps.Cache))
	mcp.AddTool(mcpServer, domain.SearchCachedMediaTool(), domain.SearchCachedMediaHandler(deps.Cache))
	mcp.AddTool(mcpServer, domain.CleanupCacheTool(), domain.CleanupCacheHandler(deps.Cache))
}

// Run serves the MCP protocol over stdio until ctx is cancelled or the
// client disconnects.
func (s *Server) Run(ctx context.Context) error {
	return s.serve(ctx, &mcp.StdioTransport{})
}

func (s *Server) serve(ctx context.Context, transport mcp.Transport) error {
	if s == nil || s.mcpServer == nil {
		return fmt.Errorf("mcp server is not initialized")
	}
	return s.mcpServer.Run(ctx, transport)
}
