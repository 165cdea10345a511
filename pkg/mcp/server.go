// Package mcp exposes audits, link checks and page content as Model Context Protocol tools.
package mcp

import (
	"context"
	"fmt"
	"sync"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/sirupsen/logrus"

	"github.com/wbt-web-support/web-audit-v2-sub000/pkg/cache"
	"github.com/wbt-web-support/web-audit-v2-sub000/pkg/config"
	"github.com/wbt-web-support/web-audit-v2-sub000/pkg/dispatch"
	"github.com/wbt-web-support/web-audit-v2-sub000/pkg/linkcheck"
	"github.com/wbt-web-support/web-audit-v2-sub000/pkg/models"
	"github.com/wbt-web-support/web-audit-v2-sub000/pkg/storage"
)

const serverName = "web-audit"

// AuditRunner runs and resets crawls. *dispatch.Dispatcher satisfies it.
type AuditRunner interface {
	Run(ctx context.Context, projectID string) (*dispatch.RunResult, error)
	Reset(ctx context.Context, projectID string) (*models.AuditProject, error)
}

// LinkChecker checks every link of a project. *linkcheck.Checker satisfies it.
type LinkChecker interface {
	CheckProject(ctx context.Context, projectID string) (<-chan linkcheck.Progress, error)
}

// ServerConfig holds configuration for the MCP server
type ServerConfig struct {
	AppConfig *config.AppConfig
	Version   string
	Transport string // "stdio" or "sse"
	Port      int
	Logger    *logrus.Logger
}

// Deps are the collaborators the tools call into
type Deps struct {
	Store   storage.Persistence
	Runner  AuditRunner
	Checker LinkChecker // nil when link checks are not configured
	Cache   *cache.AnalysisCache
}

// Server wraps the MCP server with the audit tools
type Server struct {
	mcpServer  *server.MCPServer
	cfg        *ServerConfig
	deps       Deps
	refresher  *cache.Refresher
	log        *logrus.Entry
	jobManager *JobManager
	background sync.WaitGroup
}

// NewServer creates the MCP server and registers its tools
func NewServer(cfg *ServerConfig, deps Deps) (*Server, error) {
	if cfg.AppConfig == nil {
		return nil, fmt.Errorf("AppConfig is required")
	}
	if deps.Store == nil || deps.Runner == nil {
		return nil, fmt.Errorf("store and runner are required")
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.New()
	}
	if cfg.Version == "" {
		cfg.Version = "dev"
	}
	if deps.Cache == nil {
		deps.Cache = cache.New(cfg.AppConfig.CacheTTL, nil)
	}

	log := cfg.Logger.WithField("component", "mcp")
	s := &Server{
		mcpServer:  server.NewMCPServer(serverName, cfg.Version, server.WithLogging()),
		cfg:        cfg,
		deps:       deps,
		refresher:  cache.NewRefresher(deps.Cache, deps.Store, log),
		log:        log,
		jobManager: NewJobManager(),
	}
	s.registerTools()
	return s, nil
}

func (s *Server) registerTools() {
	tools := []server.ServerTool{
		{
			Tool: mcp.NewTool("submit_audit",
				mcp.WithDescription("Create an audit project for a website and start crawling it in the background. Returns a job id."),
				mcp.WithString("site_url", mcp.Required(), mcp.Description("Website to audit, e.g. https://example.com")),
				mcp.WithString("name", mcp.Description("Optional project name")),
				mcp.WithString("mode", mcp.Description("'single' or 'multipage' (defaults to the configured mode)")),
				mcp.WithNumber("max_pages", mcp.Description("Page budget for multipage crawls")),
			),
			Handler: s.handleSubmitAudit,
		},
		{
			Tool: mcp.NewTool("get_project",
				mcp.WithDescription("Get an audit project's status, summary, SEO and PageSpeed results and its pages"),
				mcp.WithString("project_id", mcp.Required(), mcp.Description("Project id returned by submit_audit")),
				mcp.WithBoolean("refresh", mcp.Description("Bypass the cache and reload from storage")),
			),
			Handler: s.handleGetProject,
		},
		{
			Tool: mcp.NewTool("reset_project",
				mcp.WithDescription("Put a failed or stalled project back to pending so it can be audited again"),
				mcp.WithString("project_id", mcp.Required(), mcp.Description("Project id")),
				mcp.WithBoolean("rerun", mcp.Description("Start a new audit job right after the reset")),
			),
			Handler: s.handleResetProject,
		},
		{
			Tool: mcp.NewTool("check_links",
				mcp.WithDescription("Check every link of a project's pages for breakage in the background. Requires the broken_links_check feature."),
				mcp.WithString("project_id", mcp.Required(), mcp.Description("Project id")),
			),
			Handler: s.handleCheckLinks,
		},
		{
			Tool: mcp.NewTool("get_job_status",
				mcp.WithDescription("Get the status of a background audit or link check job"),
				mcp.WithString("job_id", mcp.Required(), mcp.Description("Job id")),
			),
			Handler: s.handleGetJobStatus,
		},
		{
			Tool: mcp.NewTool("cancel_job",
				mcp.WithDescription("Cancel a running background job"),
				mcp.WithString("job_id", mcp.Required(), mcp.Description("Job id")),
			),
			Handler: s.handleCancelJob,
		},
		{
			Tool: mcp.NewTool("get_page_content",
				mcp.WithDescription("Return a crawled page as markdown with headings and token-bounded chunks for grammar review"),
				mcp.WithString("project_id", mcp.Required(), mcp.Description("Project id")),
				mcp.WithString("page_id", mcp.Description("Page id (defaults to the first crawled page)")),
				mcp.WithString("url", mcp.Description("Page URL, used when page_id is empty")),
			),
			Handler: s.handleGetPageContent,
		},
	}
	s.mcpServer.AddTools(tools...)
	s.log.Infof("Registered %d MCP tools", len(tools))
}

// Run serves the MCP server on the configured transport
func (s *Server) Run() error {
	switch s.cfg.Transport {
	case "", "stdio":
		s.log.Info("Starting MCP server with stdio transport")
		return server.ServeStdio(s.mcpServer)
	case "sse":
		addr := fmt.Sprintf(":%d", s.cfg.Port)
		s.log.Infof("Starting MCP server with SSE transport on %s", addr)
		return server.NewSSEServer(s.mcpServer).Start(addr)
	default:
		return fmt.Errorf("unknown transport: %s (supported: stdio, sse)", s.cfg.Transport)
	}
}

// Shutdown cancels running jobs and waits for them to stop
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info("Shutting down MCP server...")
	s.jobManager.CancelAll()

	done := make(chan struct{})
	go func() {
		s.background.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Jobs exposes the job manager
func (s *Server) Jobs() *JobManager { return s.jobManager }

// goBackground runs fn as a tracked background job
func (s *Server) goBackground(fn func()) {
	s.background.Add(1)
	go func() {
		defer s.background.Done()
		fn()
	}()
}
