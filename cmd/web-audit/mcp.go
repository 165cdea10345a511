package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/wbt-web-support/web-audit-v2-sub000/pkg/cache"
	"github.com/wbt-web-support/web-audit-v2-sub000/pkg/config"
	"github.com/wbt-web-support/web-audit-v2-sub000/pkg/mcp"
)

// runMcpServer handles the mcp-server subcommand
func runMcpServer(args []string) {
	fs := flag.NewFlagSet("mcp-server", flag.ExitOnError)
	configFile := fs.String("config", "config.yaml", "Path to config file")
	transport := fs.String("transport", "stdio", "Transport type (stdio, sse)")
	port := fs.Int("port", 8080, "HTTP port (for sse transport)")
	logLevel := fs.String("loglevel", "info", "Log level (debug, info, warn, error)")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, `Usage: web-audit mcp-server [options]

Start an MCP (Model Context Protocol) server for AI tool integration.

Options:
`)
		fs.PrintDefaults()
		fmt.Fprintf(os.Stderr, `
Available MCP Tools:
  submit_audit      Create a project and crawl it in the background
  get_project       Project status, summary and pages (cached)
  reset_project     Put a failed or stalled project back to pending
  check_links       Check a project's links in the background
  get_job_status    Status of a background job
  cancel_job        Cancel a background job
  get_page_content  Page markdown with headings and chunks
`)
	}

	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}

	os.Exit(doMcpServer(*configFile, *transport, *port, *logLevel, os.Stderr))
}

// doMcpServer is the testable implementation of the MCP server
func doMcpServer(configPath, transport string, port int, logLevel string, stderr io.Writer) int {
	// MCP protocol uses stdout, logs go to stderr
	log := setupLogger(stderr, logLevel)

	appCfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(stderr, "Error loading config: %v\n", err)
		return 1
	}
	warnings, err := appCfg.Validate()
	for _, w := range warnings {
		log.Warn(w)
	}
	if err != nil {
		fmt.Fprintf(stderr, "Config error: %v\n", err)
		return 1
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	p, err := buildPipeline(ctx, appCfg, log)
	if err != nil {
		fmt.Fprintf(stderr, "Error initializing pipeline: %v\n", err)
		return 1
	}
	defer p.Close(log)

	server, err := mcp.NewServer(&mcp.ServerConfig{
		AppConfig: appCfg,
		Version:   version,
		Transport: transport,
		Port:      port,
		Logger:    log,
	}, mcp.Deps{
		Store:   p.store,
		Runner:  p.dispatcher,
		Checker: p.checker,
		Cache:   cache.New(appCfg.CacheTTL, nil),
	})
	if err != nil {
		fmt.Fprintf(stderr, "Error creating MCP server: %v\n", err)
		return 1
	}

	log.Infof("Starting MCP server (transport: %s)", transport)
	runErr := server.Run()

	shutdownCtx, done := context.WithTimeout(context.Background(), 30*time.Second)
	defer done()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Warnf("MCP shutdown: %v", err)
	}

	if runErr != nil {
		fmt.Fprintf(stderr, "MCP server error: %v\n", runErr)
		return 1
	}
	return 0
}
